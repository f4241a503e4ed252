package scan

import (
	"fmt"
	"strings"
)

// FormatSummary returns a human-readable summary of a Result.
func FormatSummary(result Result) string {
	if result.PagesFetched == 0 && len(result.Errors) > 0 {
		return fmt.Sprintf("Error scanning forum:\n%s", strings.Join(result.Errors, "\n"))
	}

	var skipped []string
	if result.OutOfRange > 0 {
		skipped = append(skipped, fmt.Sprintf("%d before %s", result.OutOfRange, result.Start.Format("2006-01-02")))
	}
	if result.Duplicates > 0 {
		skipped = append(skipped, fmt.Sprintf("%d duplicates", result.Duplicates))
	}

	var msg string
	if len(result.Questions) == 0 {
		msg = fmt.Sprintf("Scanned %d pages, no new questions", result.PagesFetched)
	} else {
		msg = fmt.Sprintf("Scanned %d pages: %d questions (%d AI, %d rules)",
			result.PagesFetched, len(result.Questions), result.Stats.AI, result.Stats.RuleBased)
	}
	if len(skipped) > 0 {
		msg += fmt.Sprintf(", skipped %s", strings.Join(skipped, ", "))
	}
	msg += "."
	if result.Stats.BreakerOpen {
		msg += fmt.Sprintf(" AI disabled after %d gateway calls.", result.Stats.GatewayCalls)
	}
	if result.Notified > 0 {
		msg += fmt.Sprintf(" Notified %d in %d channels.", result.Notified, result.Channels)
	}
	if result.AlreadyNotified > 0 {
		msg += fmt.Sprintf(" %d already notified.", result.AlreadyNotified)
	}
	if len(result.Errors) > 0 {
		msg += fmt.Sprintf("\nWarnings:\n%s", strings.Join(result.Errors, "\n"))
	}
	return msg
}
