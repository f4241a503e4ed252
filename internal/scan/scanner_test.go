package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumscout/internal/categorize"
	"forumscout/internal/domain"
	"forumscout/internal/forum"
	slackbot "forumscout/internal/integrations/slack"
	"forumscout/internal/routing"
	"forumscout/internal/rules"
	"forumscout/internal/storage/sqlite"
)

var startDate = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	pages map[int][]domain.QuestionRecord
	errs  map[int]error
	calls []int
}

func (f *fakeFetcher) FetchPage(_ context.Context, n int) (forum.Page, error) {
	f.calls = append(f.calls, n)
	if err := f.errs[n]; err != nil {
		return forum.Page{}, err
	}
	recs := f.pages[n]
	return forum.Page{Number: n, Rows: len(recs), Records: recs}, nil
}

type fakeNotifier struct {
	batches [][]domain.CategorizedQuestion
	fail    map[string]bool
}

func (n *fakeNotifier) Dispatch(_ context.Context, _ time.Time, qs []domain.CategorizedQuestion) ([]slackbot.Delivery, error) {
	n.batches = append(n.batches, qs)
	var out []slackbot.Delivery
	var errs []error
	for _, g := range slackbot.GroupByChannel(qs) {
		d := slackbot.Delivery{Channel: g.Channel}
		for _, cq := range g.Questions {
			d.QuestionIDs = append(d.QuestionIDs, cq.Question.ID)
		}
		if n.fail[g.Channel] {
			d.Err = errors.New("channel_not_found")
			errs = append(errs, d.Err)
		}
		out = append(out, d)
	}
	return out, errors.Join(errs...)
}

func record(id string, day int, title string) domain.QuestionRecord {
	return domain.QuestionRecord{
		ID:          id,
		Title:       title,
		Preview:     title,
		PublishedAt: time.Date(2025, 3, day, 0, 0, 0, 0, time.UTC),
	}
}

func newOrchestrator(t *testing.T) *categorize.Orchestrator {
	t.Helper()
	fallback, err := rules.New(rules.DefaultRules())
	require.NoError(t, err)
	router, err := routing.NewRouter(map[string]routing.Route{
		"adaptive-forms-headless": {Channel: "#forms-headless"},
	}, nil, "#forms")
	require.NoError(t, err)
	return categorize.New(nil, fallback, router, categorize.Options{}, nil, nil)
}

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "scan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunStopsAtOutOfRangePage(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[int][]domain.QuestionRecord{
		1: {record("1", 20, "Headless SDK question"), record("2", 15, "Workflow approval")},
		2: {record("2", 15, "Workflow approval"), record("3", 2, "Security xss"), record("4", 1, "Published on the start date")},
		3: {record("5", 1, "Before start")},
	}}
	fetcher.pages[3][0].PublishedAt = startDate.Add(-time.Hour)

	notifier := &fakeNotifier{}
	store := newStore(t)
	s := New(fetcher, newOrchestrator(t), store, notifier, nil, nil)

	out := filepath.Join(t.TempDir(), "reports", "questions.json")
	res, err := s.Run(context.Background(), Options{Start: startDate, MaxPages: 10, OutputPath: out, Notify: true})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, fetcher.calls)
	assert.Equal(t, StopOutOfRange, res.StopReason)
	assert.Equal(t, 3, res.PagesFetched)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.OutOfRange)
	require.Len(t, res.Questions, 4)
	assert.Equal(t, "1", res.Questions[0].Question.ID)
	assert.Equal(t, domain.CategoryHeadless, res.Questions[0].Result.Category)
	assert.Equal(t, "#forms-headless", res.Questions[0].Routing.Channel)
	assert.Equal(t, domain.CategoryWorkflow, res.Questions[1].Result.Category)
	assert.Equal(t, "#forms", res.Questions[1].Routing.Channel)
	assert.Equal(t, 4, res.Stats.RuleBased)
	assert.Equal(t, 4, res.Notified)
	assert.Equal(t, 2, res.Channels)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var entries []ReportEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 4)
	assert.Equal(t, "2025-03-20", entries[0].Date)
	assert.Equal(t, "RULE_BASED", entries[0].Source)
	assert.Equal(t, []string{}, entries[0].Owners)

	latest, err := store.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.RunID, latest.ID)
	assert.Equal(t, sqlite.RunStatusCompleted, latest.Status)
	assert.Equal(t, 4, latest.Questions)
	assert.Equal(t, 4, latest.Notified)

	saved, err := store.QuestionsByRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Len(t, saved, 4)
}

func TestRunStopsOnEmptyPageAndMaxPages(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[int][]domain.QuestionRecord{
		1: {record("1", 20, "a")},
	}}
	s := New(fetcher, newOrchestrator(t), nil, nil, nil, nil)
	res, err := s.Run(context.Background(), Options{Start: startDate, MaxPages: 5})
	require.NoError(t, err)
	assert.Equal(t, StopEmptyPage, res.StopReason)
	assert.Equal(t, []int{1, 2}, fetcher.calls)

	fetcher = &fakeFetcher{pages: map[int][]domain.QuestionRecord{
		1: {record("1", 20, "a")},
		2: {record("2", 20, "b")},
		3: {record("3", 20, "c")},
	}}
	s = New(fetcher, newOrchestrator(t), nil, nil, nil, nil)
	res, err = s.Run(context.Background(), Options{Start: startDate, MaxPages: 2})
	require.NoError(t, err)
	assert.Equal(t, StopMaxPages, res.StopReason)
	assert.Equal(t, []int{1, 2}, fetcher.calls)
	assert.Len(t, res.Questions, 2)
}

func TestRunFirstPageFailureFails(t *testing.T) {
	store := newStore(t)
	fetcher := &fakeFetcher{errs: map[int]error{1: errors.New("forum returned 503")}}
	s := New(fetcher, newOrchestrator(t), store, nil, nil, nil)

	res, err := s.Run(context.Background(), Options{Start: startDate, MaxPages: 3})
	require.Error(t, err)
	assert.Equal(t, StopFetchError, res.StopReason)

	latest, err := store.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sqlite.RunStatusFailed, latest.Status)
	assert.Contains(t, latest.Error, "503")
}

func TestRunLaterPageFailureKeepsResults(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: map[int][]domain.QuestionRecord{1: {record("1", 20, "a")}},
		errs:  map[int]error{2: errors.New("timeout")},
	}
	s := New(fetcher, newOrchestrator(t), nil, nil, nil, nil)
	res, err := s.Run(context.Background(), Options{Start: startDate, MaxPages: 3})
	require.NoError(t, err)
	assert.Equal(t, StopFetchError, res.StopReason)
	assert.Len(t, res.Questions, 1)
	assert.Len(t, res.Errors, 1)
}

func TestRunNotifyNewOnly(t *testing.T) {
	store := newStore(t)
	notifier := &fakeNotifier{fail: map[string]bool{"#forms-headless": true}}
	pages := map[int][]domain.QuestionRecord{
		1: {record("1", 20, "Headless SDK"), record("2", 20, "Workflow approval"), record("3", 20, "Something else")},
	}

	s := New(&fakeFetcher{pages: pages}, newOrchestrator(t), store, notifier, nil, nil)
	first, err := s.Run(context.Background(), Options{Start: startDate, MaxPages: 1, Notify: true, NotifyNewOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Notified)
	assert.NotEmpty(t, first.Errors)

	notifier.fail = nil
	s = New(&fakeFetcher{pages: pages}, newOrchestrator(t), store, notifier, nil, nil)
	second, err := s.Run(context.Background(), Options{Start: startDate, MaxPages: 1, Notify: true, NotifyNewOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 2, second.AlreadyNotified)
	assert.Equal(t, 1, second.Notified)
	require.Len(t, notifier.batches, 2)
	require.Len(t, notifier.batches[1], 1)
	assert.Equal(t, "1", notifier.batches[1][0].Question.ID)
}

type stubPoster struct {
	posts int
}

func (p *stubPoster) PostMessageContext(context.Context, string, ...slack.MsgOption) (string, string, error) {
	p.posts++
	return "C1", fmt.Sprintf("1.%d", p.posts), nil
}

func TestRunNotifyNewOnlyKeepsTruncatedQuestions(t *testing.T) {
	store := newStore(t)
	poster := &stubPoster{}
	dispatcher := slackbot.NewDispatcher(poster, nil, 2, nil, nil)
	pages := map[int][]domain.QuestionRecord{
		1: {record("1", 20, "Workflow approval"), record("2", 19, "Workflow inbox"), record("3", 18, "Workflow review")},
	}
	opts := Options{Start: startDate, MaxPages: 1, Notify: true, NotifyNewOnly: true}

	first, err := New(&fakeFetcher{pages: pages}, newOrchestrator(t), store, dispatcher, nil, nil).Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Notified)

	second, err := New(&fakeFetcher{pages: pages}, newOrchestrator(t), store, dispatcher, nil, nil).Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 2, second.AlreadyNotified)
	assert.Equal(t, 1, second.Notified)

	notified, err := store.NotifiedQuestionIDs(context.Background(), []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"1": true, "2": true, "3": true}, notified)
}

type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingFetcher) FetchPage(ctx context.Context, n int) (forum.Page, error) {
	close(b.started)
	<-b.release
	return forum.Page{}, nil
}

func TestRunRejectsOverlap(t *testing.T) {
	bf := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	s := New(bf, newOrchestrator(t), nil, nil, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), Options{Start: startDate, MaxPages: 1})
		done <- err
	}()
	<-bf.started

	_, err := s.Run(context.Background(), Options{Start: startDate, MaxPages: 1})
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(bf.release)
	require.NoError(t, <-done)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetcher := &fakeFetcher{errs: map[int]error{1: context.Canceled, 2: context.Canceled}}
	s := New(fetcher, newOrchestrator(t), nil, nil, nil, nil)
	_, err := s.Run(ctx, Options{Start: startDate, MaxPages: 2})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFormatSummary(t *testing.T) {
	res := Result{
		Start:        startDate,
		PagesFetched: 3,
		OutOfRange:   2,
		Duplicates:   1,
		Questions:    make([]domain.CategorizedQuestion, 4),
		Stats:        categorize.Stats{AI: 3, RuleBased: 1, GatewayCalls: 6, BreakerOpen: true},
		Notified:     4,
		Channels:     2,
	}
	assert.Equal(t,
		"Scanned 3 pages: 4 questions (3 AI, 1 rules), skipped 2 before 2025-03-01, 1 duplicates. AI disabled after 6 gateway calls. Notified 4 in 2 channels.",
		FormatSummary(res))

	assert.Equal(t, "Scanned 1 pages, no new questions.", FormatSummary(Result{PagesFetched: 1}))

	failed := Result{Errors: []string{"page 1: boom"}}
	assert.Equal(t, "Error scanning forum:\npage 1: boom", FormatSummary(failed))

	warn := Result{PagesFetched: 2, Errors: []string{"slack: x"}}
	assert.Equal(t, fmt.Sprintf("Scanned 2 pages, no new questions.\nWarnings:\n%s", "slack: x"), FormatSummary(warn))
}
