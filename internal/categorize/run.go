package categorize

import (
	"time"

	"github.com/google/uuid"

	"forumscout/internal/domain"
	"forumscout/internal/integrations/llm"
)

// Run is the per-scan state of the orchestrator. It is not safe for
// concurrent use; records within a run are categorized one at a time.
type Run struct {
	ID        string
	StartedAt time.Time

	consecutiveFailures int
	gatewayCalls        int
	breakerOpen         bool
	failuresByKind      map[llm.ErrorKind]int
	bySource            map[domain.Source]int
	byCategory          map[domain.Category]int
}

func NewRun() *Run {
	return &Run{
		ID:             uuid.NewString(),
		StartedAt:      time.Now(),
		failuresByKind: make(map[llm.ErrorKind]int),
		bySource:       make(map[domain.Source]int),
		byCategory:     make(map[domain.Category]int),
	}
}

func (r *Run) GatewayCalls() int        { return r.gatewayCalls }
func (r *Run) ConsecutiveFailures() int { return r.consecutiveFailures }
func (r *Run) BreakerOpen() bool        { return r.breakerOpen }

// Stats is a snapshot of a run's counters.
type Stats struct {
	RunID          string                  `json:"run_id"`
	GatewayCalls   int                     `json:"gateway_calls"`
	BreakerOpen    bool                    `json:"breaker_open"`
	AI             int                     `json:"ai"`
	RuleBased      int                     `json:"rule_based"`
	ByCategory     map[domain.Category]int `json:"by_category"`
	FailuresByKind map[llm.ErrorKind]int   `json:"failures_by_kind"`
}

func (r *Run) Stats() Stats {
	s := Stats{
		RunID:          r.ID,
		GatewayCalls:   r.gatewayCalls,
		BreakerOpen:    r.breakerOpen,
		AI:             r.bySource[domain.SourceAI],
		RuleBased:      r.bySource[domain.SourceRuleBased],
		ByCategory:     make(map[domain.Category]int, len(r.byCategory)),
		FailuresByKind: make(map[llm.ErrorKind]int, len(r.failuresByKind)),
	}
	for k, v := range r.byCategory {
		s.ByCategory[k] = v
	}
	for k, v := range r.failuresByKind {
		s.FailuresByKind[k] = v
	}
	return s
}

func (r *Run) recordFailure(kind llm.ErrorKind, threshold int) (tripped bool) {
	r.consecutiveFailures++
	r.failuresByKind[kind]++
	if !r.breakerOpen && r.consecutiveFailures >= threshold {
		r.breakerOpen = true
		return true
	}
	return false
}

func (r *Run) recordSuccess() {
	r.consecutiveFailures = 0
}

func (r *Run) recordResult(result domain.CategorizationResult) {
	r.bySource[result.Source]++
	r.byCategory[result.Category]++
}
