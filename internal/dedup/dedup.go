// Package dedup drops questions already emitted earlier in the same run.
package dedup

import "forumscout/internal/domain"

// SeenSet tracks question identifiers for a single run. It is not safe for
// concurrent use; each run owns its own set.
type SeenSet struct {
	seen map[string]struct{}
}

func NewSeenSet() *SeenSet {
	return &SeenSet{seen: make(map[string]struct{})}
}

// Accept reports whether record is new to this run and, if so, marks it seen.
func (s *SeenSet) Accept(record domain.QuestionRecord) bool {
	if _, ok := s.seen[record.ID]; ok {
		return false
	}
	s.seen[record.ID] = struct{}{}
	return true
}

// Len is the number of distinct identifiers accepted so far.
func (s *SeenSet) Len() int {
	return len(s.seen)
}
