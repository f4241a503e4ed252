// Package rules is the deterministic keyword classifier used whenever the AI
// gateway is disabled, tripped, or returns something unusable.
package rules

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"forumscout/internal/domain"

	"gopkg.in/yaml.v3"
)

const (
	minRuleConfidence = 0.1
	maxRuleConfidence = 0.9
)

// Rule maps a keyword set onto a category. Keywords may be phrases.
type Rule struct {
	Category domain.Category `yaml:"category"`
	Keywords []string        `yaml:"keywords"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// RuleError is a startup-time problem with the rule list.
type RuleError struct {
	Index  int
	Reason string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %d: %s", e.Index, e.Reason)
}

type compiledRule struct {
	category domain.Category
	keywords []keyword
}

type keyword struct {
	text   string
	tokens []string
}

// Classifier walks an ordered rule list; earlier rules win.
type Classifier struct {
	rules []compiledRule
	now   func() time.Time
}

// New validates and compiles rules. Order is preserved.
func New(rules []Rule) (*Classifier, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if !r.Category.Valid() {
			return nil, &RuleError{Index: i, Reason: fmt.Sprintf("unknown category %q", r.Category)}
		}
		cr := compiledRule{category: r.Category}
		seen := make(map[string]bool)
		for _, kw := range r.Keywords {
			tokens := Tokenize(kw)
			if len(tokens) == 0 {
				continue
			}
			norm := strings.Join(tokens, " ")
			if seen[norm] {
				continue
			}
			seen[norm] = true
			cr.keywords = append(cr.keywords, keyword{text: norm, tokens: tokens})
		}
		if len(cr.keywords) == 0 {
			return nil, &RuleError{Index: i, Reason: fmt.Sprintf("category %s has no usable keywords", r.Category)}
		}
		compiled = append(compiled, cr)
	}
	return &Classifier{rules: compiled, now: time.Now}, nil
}

// Load reads an ordered rule list from a YAML file.
func Load(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s defines no rules", path)
	}
	return f.Rules, nil
}

// Classify never fails; unmatched input lands in the catch-all category.
func (c *Classifier) Classify(q domain.QuestionRecord) domain.CategorizationResult {
	tokens := Tokenize(questionText(q))

	for _, r := range c.rules {
		var matched []string
		for _, kw := range r.keywords {
			if containsSequence(tokens, kw.tokens) {
				matched = append(matched, kw.text)
			}
		}
		if len(matched) == 0 {
			continue
		}
		return domain.CategorizationResult{
			Category:     r.category,
			Confidence:   ruleConfidence(len(matched), len(r.keywords)),
			Rationale:    fmt.Sprintf("keyword match for %s: %s", r.category, strings.Join(matched, ", ")),
			Source:       domain.SourceRuleBased,
			ClassifiedAt: c.now(),
		}
	}

	return domain.CategorizationResult{
		Category:     domain.CatchAllCategory,
		Confidence:   0,
		Rationale:    "no keyword match found; assigned catch-all category",
		Source:       domain.SourceRuleBased,
		ClassifiedAt: c.now(),
	}
}

func ruleConfidence(matched, total int) float64 {
	ratio := float64(matched) / float64(total)
	if ratio < minRuleConfidence {
		return minRuleConfidence
	}
	if ratio > maxRuleConfidence {
		return maxRuleConfidence
	}
	return ratio
}

func questionText(q domain.QuestionRecord) string {
	var b strings.Builder
	b.WriteString(q.Title)
	b.WriteString(" ")
	b.WriteString(q.Preview)
	for _, t := range q.Topics {
		b.WriteString(" ")
		b.WriteString(t)
	}
	return b.String()
}

// Tokenize lowercases s and splits it into runs of letters and digits.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsSequence(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, tok := range needle {
			if haystack[i+j] != tok {
				continue outer
			}
		}
		return true
	}
	return false
}
