package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumscout/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "forumscout.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleQuestion(id string, cat domain.Category) domain.CategorizedQuestion {
	published := time.Date(2025, 3, 18, 0, 0, 0, 0, time.UTC)
	return domain.CategorizedQuestion{
		Question: domain.QuestionRecord{
			ID: id, Title: "Title " + id, URL: "https://forum/" + id, Author: "jdoe",
			PublishedAt: published, Preview: "preview", Views: 10, Likes: 2, Replies: 1,
			Topics: []string{"Headless", "React"},
		},
		Result: domain.CategorizationResult{
			Category: cat, Confidence: 0.75, Rationale: "keyword match",
			Source: domain.SourceRuleBased, ClassifiedAt: published.Add(time.Hour),
		},
		Routing: domain.RoutingDecision{Category: cat, Channel: "#forms", Owners: []string{"@bob"}},
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forumscout.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestRunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LatestRun(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	older := RunRecord{
		ID: "run-1", StartedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		StartDate: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), Status: RunStatusCompleted,
	}
	newer := RunRecord{
		ID: "run-2", StartedAt: time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC),
		StartDate: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), Status: RunStatusRunning,
	}
	require.NoError(t, s.SaveRun(ctx, older))
	require.NoError(t, s.SaveRun(ctx, newer))

	newer.FinishedAt = newer.StartedAt.Add(time.Minute)
	newer.Status = RunStatusCompleted
	newer.PagesFetched = 3
	newer.Questions = 12
	newer.AICount = 9
	newer.RuleBasedCount = 3
	newer.GatewayCalls = 10
	newer.BreakerOpen = true
	require.NoError(t, s.SaveRun(ctx, newer))

	got, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.ID)
	assert.Equal(t, RunStatusCompleted, got.Status)
	assert.True(t, got.FinishedAt.Equal(newer.FinishedAt))
	assert.True(t, got.StartDate.Equal(newer.StartDate))
	assert.Equal(t, 3, got.PagesFetched)
	assert.Equal(t, 12, got.Questions)
	assert.Equal(t, 9, got.AICount)
	assert.Equal(t, 10, got.GatewayCalls)
	assert.True(t, got.BreakerOpen)
}

func TestQuestionsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := []domain.CategorizedQuestion{
		sampleQuestion("b", domain.CategoryHeadless),
		sampleQuestion("a", domain.CategoryCore),
	}
	in[1].Question.Topics = nil
	in[1].Routing.Owners = nil

	n, err := s.SaveQuestions(ctx, "run-1", in)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.QuestionsByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Question.ID)
	assert.Equal(t, domain.CategoryHeadless, got[0].Result.Category)
	assert.Equal(t, domain.SourceRuleBased, got[0].Result.Source)
	assert.Equal(t, []string{"Headless", "React"}, got[0].Question.Topics)
	assert.Equal(t, []string{"@bob"}, got[0].Routing.Owners)
	assert.Equal(t, domain.CategoryHeadless, got[0].Routing.Category)
	assert.True(t, got[0].Question.PublishedAt.Equal(in[0].Question.PublishedAt))
	assert.InDelta(t, 0.75, got[0].Result.Confidence, 1e-9)
	assert.Empty(t, got[1].Question.Topics)
	assert.Empty(t, got[1].Routing.Owners)

	other, err := s.QuestionsByRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestNotifiedQuestionIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveQuestions(ctx, "run-1", []domain.CategorizedQuestion{
		sampleQuestion("a", domain.CategoryCore),
		sampleQuestion("b", domain.CategoryCore),
	})
	require.NoError(t, err)
	require.NoError(t, s.MarkNotified(ctx, "run-1", []string{"a"}))
	require.NoError(t, s.MarkNotified(ctx, "run-1", nil))

	got, err := s.NotifiedQuestionIDs(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true}, got)

	empty, err := s.NotifiedQuestionIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
