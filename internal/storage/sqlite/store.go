// Package sqlite persists scan runs and their categorized questions.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"forumscout/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS scan_runs (
	id               TEXT PRIMARY KEY,
	started_at       DATETIME NOT NULL,
	finished_at      DATETIME,
	start_date       DATETIME NOT NULL,
	pages_fetched    INTEGER NOT NULL DEFAULT 0,
	questions        INTEGER NOT NULL DEFAULT 0,
	ai_count         INTEGER NOT NULL DEFAULT 0,
	rule_based_count INTEGER NOT NULL DEFAULT 0,
	gateway_calls    INTEGER NOT NULL DEFAULT 0,
	breaker_open     INTEGER NOT NULL DEFAULT 0,
	notified         INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'running',
	error            TEXT DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_scan_runs_started_at ON scan_runs(started_at);

CREATE TABLE IF NOT EXISTS categorized_questions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	question_id   TEXT NOT NULL,
	title         TEXT NOT NULL,
	url           TEXT DEFAULT '',
	author        TEXT DEFAULT '',
	published_at  DATETIME,
	preview       TEXT DEFAULT '',
	views         INTEGER DEFAULT 0,
	likes         INTEGER DEFAULT 0,
	replies       INTEGER DEFAULT 0,
	topics        TEXT DEFAULT '[]',
	category      TEXT NOT NULL,
	confidence    REAL NOT NULL,
	rationale     TEXT DEFAULT '',
	source        TEXT NOT NULL,
	classified_at DATETIME,
	channel       TEXT DEFAULT '',
	owners        TEXT DEFAULT '[]',
	notified      INTEGER NOT NULL DEFAULT 0,
	UNIQUE(run_id, question_id)
);
CREATE INDEX IF NOT EXISTS idx_cq_question ON categorized_questions(question_id);
CREATE INDEX IF NOT EXISTS idx_cq_run ON categorized_questions(run_id);
`

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunRecord is one row of scan_runs.
type RunRecord struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	StartDate      time.Time `json:"start_date"`
	PagesFetched   int       `json:"pages_fetched"`
	Questions      int       `json:"questions"`
	AICount        int       `json:"ai_count"`
	RuleBasedCount int       `json:"rule_based_count"`
	GatewayCalls   int       `json:"gateway_calls"`
	BreakerOpen    bool      `json:"breaker_open"`
	Notified       int       `json:"notified"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
}

type Store struct {
	db *sql.DB
}

// Open creates or migrates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; sqlite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts or replaces the run row.
func (s *Store) SaveRun(ctx context.Context, r RunRecord) error {
	query, args, err := sq.Insert("scan_runs").
		Options("OR REPLACE").
		Columns("id", "started_at", "finished_at", "start_date", "pages_fetched", "questions",
			"ai_count", "rule_based_count", "gateway_calls", "breaker_open", "notified", "status", "error").
		Values(r.ID, r.StartedAt, r.FinishedAt, r.StartDate, r.PagesFetched, r.Questions,
			r.AICount, r.RuleBasedCount, r.GatewayCalls, r.BreakerOpen, r.Notified, r.Status, r.Error).
		ToSql()
	if err != nil {
		return fmt.Errorf("build run insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (RunRecord, error) {
	query, args, err := sq.Select("id", "started_at", "finished_at", "start_date", "pages_fetched", "questions",
		"ai_count", "rule_based_count", "gateway_calls", "breaker_open", "notified", "status", "error").
		From("scan_runs").
		OrderBy("started_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return RunRecord{}, fmt.Errorf("build latest run query: %w", err)
	}

	var r RunRecord
	var finished sql.NullTime
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&r.ID, &r.StartedAt, &finished, &r.StartDate, &r.PagesFetched, &r.Questions,
		&r.AICount, &r.RuleBasedCount, &r.GatewayCalls, &r.BreakerOpen, &r.Notified, &r.Status, &r.Error,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("latest run: %w", err)
	}
	r.FinishedAt = finished.Time
	return r, nil
}

// SaveQuestions stores the run's categorized questions in one transaction.
func (s *Store) SaveQuestions(ctx context.Context, runID string, questions []domain.CategorizedQuestion) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	inserted := 0
	for _, cq := range questions {
		topics, err := json.Marshal(nonNil(cq.Question.Topics))
		if err != nil {
			return inserted, err
		}
		owners, err := json.Marshal(nonNil(cq.Routing.Owners))
		if err != nil {
			return inserted, err
		}
		query, args, err := sq.Insert("categorized_questions").
			Options("OR REPLACE").
			Columns("run_id", "question_id", "title", "url", "author", "published_at", "preview",
				"views", "likes", "replies", "topics", "category", "confidence", "rationale",
				"source", "classified_at", "channel", "owners").
			Values(runID, cq.Question.ID, cq.Question.Title, cq.Question.URL, cq.Question.Author,
				cq.Question.PublishedAt, cq.Question.Preview, cq.Question.Views, cq.Question.Likes,
				cq.Question.Replies, string(topics), string(cq.Result.Category), cq.Result.Confidence,
				cq.Result.Rationale, string(cq.Result.Source), cq.Result.ClassifiedAt,
				cq.Routing.Channel, string(owners)).
			ToSql()
		if err != nil {
			return inserted, fmt.Errorf("build question insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return inserted, fmt.Errorf("save question %s: %w", cq.Question.ID, err)
		}
		inserted++
	}
	return inserted, tx.Commit()
}

// MarkNotified flags the given questions of a run as sent to Slack.
func (s *Store) MarkNotified(ctx context.Context, runID string, questionIDs []string) error {
	if len(questionIDs) == 0 {
		return nil
	}
	query, args, err := sq.Update("categorized_questions").
		Set("notified", 1).
		Where(sq.Eq{"run_id": runID, "question_id": questionIDs}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build notified update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

// NotifiedQuestionIDs reports which of ids were notified by any earlier run.
func (s *Store) NotifiedQuestionIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(ids) == 0 {
		return result, nil
	}
	query, args, err := sq.Select("DISTINCT question_id").
		From("categorized_questions").
		Where(sq.Eq{"question_id": ids, "notified": 1}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build notified query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notified: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		result[id] = true
	}
	return result, rows.Err()
}

// QuestionsByRun returns a run's questions in insertion order.
func (s *Store) QuestionsByRun(ctx context.Context, runID string) ([]domain.CategorizedQuestion, error) {
	query, args, err := sq.Select("question_id", "title", "url", "author", "published_at", "preview",
		"views", "likes", "replies", "topics", "category", "confidence", "rationale", "source",
		"classified_at", "channel", "owners").
		From("categorized_questions").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build questions query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var out []domain.CategorizedQuestion
	for rows.Next() {
		var (
			cq                    domain.CategorizedQuestion
			published, classified sql.NullTime
			topics, owners        string
			category, source      string
		)
		err := rows.Scan(
			&cq.Question.ID, &cq.Question.Title, &cq.Question.URL, &cq.Question.Author, &published,
			&cq.Question.Preview, &cq.Question.Views, &cq.Question.Likes, &cq.Question.Replies, &topics,
			&category, &cq.Result.Confidence, &cq.Result.Rationale, &source, &classified,
			&cq.Routing.Channel, &owners,
		)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		cq.Question.PublishedAt = published.Time
		cq.Result.ClassifiedAt = classified.Time
		cq.Result.Category = domain.Category(category)
		cq.Result.Source = domain.Source(source)
		cq.Routing.Category = cq.Result.Category
		if err := json.Unmarshal([]byte(topics), &cq.Question.Topics); err != nil {
			return nil, fmt.Errorf("decode topics for %s: %w", cq.Question.ID, err)
		}
		if err := json.Unmarshal([]byte(owners), &cq.Routing.Owners); err != nil {
			return nil, fmt.Errorf("decode owners for %s: %w", cq.Question.ID, err)
		}
		out = append(out, cq)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
