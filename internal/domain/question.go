package domain

import "time"

// QuestionRecord is one unanswered forum question as extracted from a page.
type QuestionRecord struct {
	ID          string
	Title       string
	URL         string
	Author      string
	PublishedAt time.Time
	Preview     string // plain text, length-bounded
	Views       int
	Likes       int
	Replies     int
	Topics      []string
}

// Source tells where a categorization came from.
type Source string

const (
	SourceAI        Source = "AI"
	SourceRuleBased Source = "RULE_BASED"
)

// CategorizationResult is the single category assignment made for a question.
type CategorizationResult struct {
	Category     Category
	Confidence   float64 // [0,1]
	Rationale    string
	Source       Source
	ClassifiedAt time.Time
}

// RoutingDecision is derived from a CategorizationResult and never stored on its own.
type RoutingDecision struct {
	Category Category
	Channel  string
	Owners   []string
}

// CategorizedQuestion is what downstream notifiers and stores consume.
type CategorizedQuestion struct {
	Question QuestionRecord
	Result   CategorizationResult
	Routing  RoutingDecision
}
