package scan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts a standard 5-field cron expression (minute hour
// day-of-month month day-of-week) or a descriptor such as "@daily".
// Examples: "0 9 * * *" (daily 9am), "0 9 * * 1-5" (weekdays 9am).
func ParseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty scan schedule")
	}
	sched, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid scan schedule '%s': %w", spec, err)
	}
	return sched, nil
}

// RunScheduler calls job at every activation of spec until ctx ends. Jobs
// run one at a time on the calling goroutine, so a slow run delays the
// next activation instead of overlapping it.
func RunScheduler(ctx context.Context, spec string, loc *time.Location, logger *zap.Logger, job func(context.Context)) error {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return err
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("scan scheduled", zap.String("cron", spec))

	for {
		now := time.Now().In(loc)
		next := sched.Next(now)
		wait := next.Sub(now)
		logger.Info("next scan", zap.Time("at", next), zap.Duration("in", wait.Round(time.Second)))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		job(ctx)
	}
}
