// Package llm wraps the external language-model providers used to
// categorize forum questions.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"forumscout/internal/domain"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	defaultTimeout        = 20 * time.Second
	maxPromptContentChars = 1500
)

// Options configures a Gateway.
type Options struct {
	Provider    string
	Model       string
	APIKey      string
	Endpoint    string
	Timeout     time.Duration
	MaxTokens   int
	Temperature *float64 // nil means the provider default of 0.3
}

// Gateway performs one classification attempt per call against a
// configured provider. It never retries.
type Gateway struct {
	provider string
	model    string
	timeout  time.Duration
	apiKey   string
	client   completer
	logger   *zap.Logger
	now      func() time.Time
}

// NewGateway builds a gateway for opts.Provider.
func NewGateway(opts Options, logger *zap.Logger) (*Gateway, error) {
	opts.Provider = strings.ToLower(strings.TrimSpace(opts.Provider))
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}

	var client completer
	switch opts.Provider {
	case ProviderAnthropic, "":
		opts.Provider = ProviderAnthropic
		if opts.Model == "" {
			opts.Model = defaultAnthropicModel
		}
		client = newAnthropicCompleter(opts)
	case ProviderOpenAI:
		if opts.Model == "" {
			opts.Model = defaultOpenAIModel
		}
		client = newOpenAICompleter(opts)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q (use anthropic or openai)", opts.Provider)
	}
	return newGateway(opts, client, logger), nil
}

func newGateway(opts Options, client completer, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Gateway{
		provider: opts.Provider,
		model:    opts.Model,
		timeout:  timeout,
		apiKey:   opts.APIKey,
		client:   client,
		logger:   logger,
		now:      time.Now,
	}
}

func (g *Gateway) Provider() string { return g.provider }
func (g *Gateway) Model() string    { return g.model }

// Classify asks the model for a category. Any failure is returned as a
// *ClassificationError; a nil error always carries a canonical category
// and a confidence within [0, 1].
func (g *Gateway) Classify(ctx context.Context, q domain.QuestionRecord) (domain.CategorizationResult, error) {
	if strings.TrimSpace(q.Preview) == "" {
		return domain.CategorizationResult{}, &ClassificationError{
			Kind: EmptyInput,
			Err:  fmt.Errorf("question %s has no content preview", q.ID),
		}
	}
	if strings.TrimSpace(g.apiKey) == "" {
		return domain.CategorizationResult{}, &ClassificationError{Kind: AuthFailure, Err: errMissingAPIKey}
	}

	systemPrompt, userPrompt := buildPrompts(q)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	text, err := g.client.complete(callCtx, systemPrompt, userPrompt)
	if err != nil {
		kind := classifyCallError(callCtx, err)
		g.logger.Debug("llm call failed",
			zap.String("provider", g.provider),
			zap.String("question_id", q.ID),
			zap.String("kind", string(kind)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return domain.CategorizationResult{}, &ClassificationError{Kind: kind, Err: err}
	}
	g.logger.Debug("llm response",
		zap.String("provider", g.provider),
		zap.String("model", g.model),
		zap.String("question_id", q.ID),
		zap.Int("bytes", len(text)),
		zap.Duration("elapsed", time.Since(start)))

	parsed, err := parseClassifiedResponse(text)
	if err != nil {
		return domain.CategorizationResult{}, &ClassificationError{Kind: InvalidCategory, Err: err}
	}
	category, ok := domain.ParseCategory(parsed.Category)
	if !ok {
		return domain.CategorizationResult{}, &ClassificationError{
			Kind: InvalidCategory,
			Err:  fmt.Errorf("model returned unknown category %q", parsed.Category),
		}
	}

	return domain.CategorizationResult{
		Category:     category,
		Confidence:   normalizeConfidence(parsed.Confidence),
		Rationale:    strings.TrimSpace(parsed.Rationale),
		Source:       domain.SourceAI,
		ClassifiedAt: g.now(),
	}, nil
}

func buildPrompts(q domain.QuestionRecord) (string, string) {
	var sb strings.Builder
	sb.WriteString("You are an expert in Adobe Experience Manager (AEM) Forms who triages community forum questions.\n")
	sb.WriteString("Choose exactly ONE category for the question from this list:\n\n")
	for _, c := range domain.AllCategories() {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", c, c.Description()))
	}
	sb.WriteString("\nRules:\n")
	sb.WriteString("- The category value must be one of the ids above, spelled exactly.\n")
	sb.WriteString(fmt.Sprintf("- Use %q only when no more specific category fits.\n", domain.CatchAllCategory))
	sb.WriteString("- confidence is a number between 0 and 1.\n")
	sb.WriteString("- Keep the rationale to one or two sentences.\n")
	sb.WriteString("\nRespond with JSON only (no markdown):\n")
	sb.WriteString(`{"category": "adaptive-forms-headless", "confidence": 0.85, "rationale": "Asks about rendering forms with the headless SDK."}`)
	systemPrompt := sb.String()

	topics := "None"
	if len(q.Topics) > 0 {
		topics = strings.Join(q.Topics, ", ")
	}
	userPrompt := fmt.Sprintf("Question Title: %s\n\nQuestion Content: %s\n\nQuestion Topics: %s",
		strings.TrimSpace(q.Title),
		truncateRunes(strings.TrimSpace(q.Preview), maxPromptContentChars),
		topics)
	return systemPrompt, userPrompt
}

type classifiedResponse struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

func parseClassifiedResponse(text string) (classifiedResponse, error) {
	text = stripCodeFences(text)
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}
	var parsed classifiedResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return classifiedResponse{}, fmt.Errorf("parsing classification response: %w", err)
	}
	if strings.TrimSpace(parsed.Category) == "" {
		return classifiedResponse{}, errors.New("classification response has no category")
	}
	return parsed, nil
}

func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		if len(lines) > 2 {
			lines = lines[1 : len(lines)-1]
		}
		text = strings.Join(lines, "\n")
	}
	return strings.TrimSpace(text)
}

// normalizeConfidence accepts 0-1 or 0-100 scales and clamps to [0, 1].
func normalizeConfidence(c float64) float64 {
	if c > 1 && c <= 100 {
		c /= 100
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
