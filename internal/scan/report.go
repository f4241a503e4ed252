package scan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"forumscout/internal/domain"
)

// ReportEntry is one element of the JSON report.
type ReportEntry struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	URL        string   `json:"url"`
	Author     string   `json:"author"`
	Date       string   `json:"date"`
	Content    string   `json:"content"`
	Views      int      `json:"views"`
	Likes      int      `json:"likes"`
	Replies    int      `json:"replies"`
	Topics     []string `json:"topics"`
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Rationale  string   `json:"rationale"`
	Source     string   `json:"source"`
	Channel    string   `json:"channel"`
	Owners     []string `json:"owners"`
}

func NewReportEntry(cq domain.CategorizedQuestion) ReportEntry {
	q := cq.Question
	date := ""
	if !q.PublishedAt.IsZero() {
		date = q.PublishedAt.Format("2006-01-02")
	}
	topics := q.Topics
	if topics == nil {
		topics = []string{}
	}
	owners := cq.Routing.Owners
	if owners == nil {
		owners = []string{}
	}
	return ReportEntry{
		ID:         q.ID,
		Title:      q.Title,
		URL:        q.URL,
		Author:     q.Author,
		Date:       date,
		Content:    q.Preview,
		Views:      q.Views,
		Likes:      q.Likes,
		Replies:    q.Replies,
		Topics:     topics,
		Category:   string(cq.Result.Category),
		Confidence: cq.Result.Confidence,
		Rationale:  cq.Result.Rationale,
		Source:     string(cq.Result.Source),
		Channel:    cq.Routing.Channel,
		Owners:     owners,
	}
}

// WriteReport writes questions as an indented JSON array. The file is
// replaced atomically.
func WriteReport(path string, questions []domain.CategorizedQuestion) error {
	entries := make([]ReportEntry, 0, len(questions))
	for _, cq := range questions {
		entries = append(entries, NewReportEntry(cq))
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if dir != "." && strings.TrimSpace(dir) != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(dir, ".questions-*.json")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace report: %w", err)
	}
	return nil
}
