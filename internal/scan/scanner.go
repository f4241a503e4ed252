// Package scan runs one end-to-end pass over the forum: fetch, filter,
// deduplicate, categorize, persist, report and notify.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"forumscout/internal/categorize"
	"forumscout/internal/dedup"
	"forumscout/internal/domain"
	"forumscout/internal/forum"
	slackbot "forumscout/internal/integrations/slack"
	"forumscout/internal/metrics"
	"forumscout/internal/storage/sqlite"
)

// ErrRunInProgress is returned when Run is called while another run of the
// same Scanner has not finished.
var ErrRunInProgress = errors.New("a scan is already running")

const (
	StopMaxPages   = "max pages reached"
	StopEmptyPage  = "empty page"
	StopOutOfRange = "no questions in date range"
	StopFetchError = "fetch error"
)

type PageFetcher interface {
	FetchPage(ctx context.Context, page int) (forum.Page, error)
}

type Categorizer interface {
	CategorizeAndRoute(ctx context.Context, run *categorize.Run, q domain.QuestionRecord) (domain.CategorizationResult, domain.RoutingDecision)
}

type Store interface {
	SaveRun(ctx context.Context, r sqlite.RunRecord) error
	SaveQuestions(ctx context.Context, runID string, questions []domain.CategorizedQuestion) (int, error)
	NotifiedQuestionIDs(ctx context.Context, ids []string) (map[string]bool, error)
	MarkNotified(ctx context.Context, runID string, questionIDs []string) error
}

type Notifier interface {
	Dispatch(ctx context.Context, since time.Time, questions []domain.CategorizedQuestion) ([]slackbot.Delivery, error)
}

type Options struct {
	Start         time.Time
	MaxPages      int
	OutputPath    string
	Notify        bool
	NotifyNewOnly bool
}

// Result tracks what one run did.
type Result struct {
	RunID           string
	StartedAt       time.Time
	FinishedAt      time.Time
	Start           time.Time
	PagesFetched    int
	Extracted       int
	OutOfRange      int
	Duplicates      int
	Questions       []domain.CategorizedQuestion
	Stats           categorize.Stats
	Notified        int
	Channels        int
	AlreadyNotified int
	StopReason      string
	Errors          []string
}

type Scanner struct {
	fetcher     PageFetcher
	categorizer Categorizer
	store       Store
	notifier    Notifier
	logger      *zap.Logger
	metrics     *metrics.Metrics

	running sync.Mutex
}

// New wires a scanner. store and notifier may be nil.
func New(fetcher PageFetcher, categorizer Categorizer, store Store, notifier Notifier, logger *zap.Logger, m *metrics.Metrics) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		fetcher:     fetcher,
		categorizer: categorizer,
		store:       store,
		notifier:    notifier,
		logger:      logger,
		metrics:     m,
	}
}

// Run performs one scan. Pages are read newest first; the walk stops at
// MaxPages, on a fetch error, on an empty page, or on a page with nothing
// published on or after Start. A failed first page fails the run.
func (s *Scanner) Run(ctx context.Context, opts Options) (Result, error) {
	if !s.running.TryLock() {
		return Result{}, ErrRunInProgress
	}
	defer s.running.Unlock()

	if opts.MaxPages < 1 {
		opts.MaxPages = 1
	}

	run := categorize.NewRun()
	seen := dedup.NewSeenSet()
	result := Result{RunID: run.ID, StartedAt: run.StartedAt, Start: opts.Start, StopReason: StopMaxPages}
	log := s.logger.With(zap.String("run_id", run.ID))
	log.Info("scan started",
		zap.String("start_date", opts.Start.Format("2006-01-02")),
		zap.Int("max_pages", opts.MaxPages))

	s.saveRun(ctx, &result, run, sqlite.RunStatusRunning, "")

	for n := 1; n <= opts.MaxPages; n++ {
		page, err := s.fetcher.FetchPage(ctx, n)
		s.metrics.ObservePage(err == nil)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return s.fail(ctx, result, run, fmt.Errorf("scan cancelled: %w", ctxErr))
			}
			if n == 1 {
				return s.fail(ctx, result, run, err)
			}
			log.Warn("page fetch failed, stopping", zap.Int("page", n), zap.Error(err))
			result.Errors = append(result.Errors, fmt.Sprintf("page %d: %v", n, err))
			result.StopReason = StopFetchError
			break
		}
		result.PagesFetched++
		result.Extracted += len(page.Records)

		if len(page.Records) == 0 {
			result.StopReason = StopEmptyPage
			break
		}

		inRange := 0
		for _, rec := range page.Records {
			if rec.PublishedAt.IsZero() || rec.PublishedAt.Before(opts.Start) {
				result.OutOfRange++
				continue
			}
			inRange++
			if !seen.Accept(rec) {
				result.Duplicates++
				continue
			}
			category, decision := s.categorizer.CategorizeAndRoute(ctx, run, rec)
			result.Questions = append(result.Questions, domain.CategorizedQuestion{
				Question: rec,
				Result:   category,
				Routing:  decision,
			})
		}
		if inRange == 0 {
			result.StopReason = StopOutOfRange
			break
		}
	}

	s.persistQuestions(ctx, &result)
	if opts.OutputPath != "" {
		if err := WriteReport(opts.OutputPath, result.Questions); err != nil {
			log.Error("writing report failed", zap.String("path", opts.OutputPath), zap.Error(err))
			result.Errors = append(result.Errors, fmt.Sprintf("report: %v", err))
		}
	}
	if opts.Notify {
		s.notify(ctx, &result, opts.NotifyNewOnly)
	}

	result.Stats = run.Stats()
	result.FinishedAt = time.Now()
	s.saveRun(ctx, &result, run, sqlite.RunStatusCompleted, "")
	s.metrics.ObserveRun(true)
	log.Info("scan finished", zap.String("summary", FormatSummary(result)))
	return result, nil
}

func (s *Scanner) fail(ctx context.Context, result Result, run *categorize.Run, err error) (Result, error) {
	result.Stats = run.Stats()
	result.FinishedAt = time.Now()
	result.StopReason = StopFetchError
	result.Errors = append(result.Errors, err.Error())
	// The run row is written even when ctx is done.
	s.saveRun(context.WithoutCancel(ctx), &result, run, sqlite.RunStatusFailed, err.Error())
	s.metrics.ObserveRun(false)
	s.logger.Error("scan failed", zap.String("run_id", run.ID), zap.Error(err))
	return result, err
}

func (s *Scanner) persistQuestions(ctx context.Context, result *Result) {
	if s.store == nil || len(result.Questions) == 0 {
		return
	}
	if _, err := s.store.SaveQuestions(ctx, result.RunID, result.Questions); err != nil {
		s.logger.Error("saving questions failed", zap.String("run_id", result.RunID), zap.Error(err))
		result.Errors = append(result.Errors, fmt.Sprintf("store: %v", err))
	}
}

func (s *Scanner) notify(ctx context.Context, result *Result, newOnly bool) {
	if s.notifier == nil {
		return
	}
	pending := result.Questions
	if newOnly && s.store != nil && len(pending) > 0 {
		ids := make([]string, len(pending))
		for i, cq := range pending {
			ids[i] = cq.Question.ID
		}
		notified, err := s.store.NotifiedQuestionIDs(ctx, ids)
		if err != nil {
			s.logger.Warn("notified lookup failed, sending all", zap.Error(err))
		} else {
			var fresh []domain.CategorizedQuestion
			for _, cq := range pending {
				if notified[cq.Question.ID] {
					result.AlreadyNotified++
					continue
				}
				fresh = append(fresh, cq)
			}
			pending = fresh
		}
	}
	if len(pending) == 0 {
		return
	}

	deliveries, err := s.notifier.Dispatch(ctx, result.Start, pending)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("slack: %v", err))
	}
	var sent []string
	for _, d := range deliveries {
		if d.Err != nil {
			continue
		}
		result.Channels++
		sent = append(sent, d.QuestionIDs...)
	}
	result.Notified = len(sent)
	if s.store != nil && len(sent) > 0 {
		if err := s.store.MarkNotified(ctx, result.RunID, sent); err != nil {
			s.logger.Warn("marking notified failed", zap.Error(err))
		}
	}
}

func (s *Scanner) saveRun(ctx context.Context, result *Result, run *categorize.Run, status, errMsg string) {
	if s.store == nil {
		return
	}
	stats := run.Stats()
	rec := sqlite.RunRecord{
		ID:             result.RunID,
		StartedAt:      result.StartedAt,
		FinishedAt:     result.FinishedAt,
		StartDate:      result.Start,
		PagesFetched:   result.PagesFetched,
		Questions:      len(result.Questions),
		AICount:        stats.AI,
		RuleBasedCount: stats.RuleBased,
		GatewayCalls:   stats.GatewayCalls,
		BreakerOpen:    stats.BreakerOpen,
		Notified:       result.Notified,
		Status:         status,
		Error:          errMsg,
	}
	if err := s.store.SaveRun(ctx, rec); err != nil {
		s.logger.Warn("saving run failed", zap.String("run_id", result.RunID), zap.Error(err))
	}
}
