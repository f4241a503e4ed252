// Package categorize picks a category for each question, preferring the
// language-model gateway and falling back to keyword rules.
package categorize

import (
	"context"
	"time"

	"go.uber.org/zap"

	"forumscout/internal/domain"
	"forumscout/internal/integrations/llm"
	"forumscout/internal/metrics"
)

// DefaultBreakerThreshold is the number of consecutive gateway failures
// after which a run stops calling the gateway.
const DefaultBreakerThreshold = 3

// Classifier is the AI path; *llm.Gateway satisfies it.
type Classifier interface {
	Classify(ctx context.Context, q domain.QuestionRecord) (domain.CategorizationResult, error)
}

// Fallback never fails; *rules.Classifier satisfies it.
type Fallback interface {
	Classify(q domain.QuestionRecord) domain.CategorizationResult
}

// Router maps a result to its destination; *routing.Router satisfies it.
type Router interface {
	Route(result domain.CategorizationResult) domain.RoutingDecision
}

// Options controls the AI path. A zero BreakerThreshold means the default.
type Options struct {
	AIEnabled        bool
	BreakerThreshold int
}

// Orchestrator turns each question into exactly one result and routing
// decision. Per-run state lives in the Run passed to each call.
type Orchestrator struct {
	gateway   Classifier
	fallback  Fallback
	router    Router
	aiEnabled bool
	threshold int
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// New wires an orchestrator. A nil gateway disables the AI path.
func New(gateway Classifier, fallback Fallback, router Router, opts Options, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := opts.BreakerThreshold
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	return &Orchestrator{
		gateway:   gateway,
		fallback:  fallback,
		router:    router,
		aiEnabled: opts.AIEnabled && gateway != nil,
		threshold: threshold,
		logger:    logger,
		metrics:   m,
	}
}

func (o *Orchestrator) AIEnabled() bool { return o.aiEnabled }

// CategorizeAndRoute always returns a canonical category and a routing
// decision for it. Gateway failures are absorbed here.
func (o *Orchestrator) CategorizeAndRoute(ctx context.Context, run *Run, q domain.QuestionRecord) (domain.CategorizationResult, domain.RoutingDecision) {
	result, ok := o.classifyWithAI(ctx, run, q)
	if !ok {
		result = o.fallback.Classify(q)
	}
	if !result.Category.Valid() {
		result.Category = domain.CatchAllCategory
	}

	run.recordResult(result)
	o.metrics.ObserveQuestion(string(result.Source), string(result.Category))

	decision := o.router.Route(result)
	o.logger.Debug("question categorized",
		zap.String("run_id", run.ID),
		zap.String("question_id", q.ID),
		zap.String("category", string(result.Category)),
		zap.Float64("confidence", result.Confidence),
		zap.String("source", string(result.Source)),
		zap.String("channel", decision.Channel))
	return result, decision
}

func (o *Orchestrator) classifyWithAI(ctx context.Context, run *Run, q domain.QuestionRecord) (domain.CategorizationResult, bool) {
	if !o.aiEnabled || run.consecutiveFailures >= o.threshold {
		return domain.CategorizationResult{}, false
	}

	run.gatewayCalls++
	start := time.Now()
	result, err := o.gateway.Classify(ctx, q)
	elapsed := time.Since(start)
	if err == nil {
		run.recordSuccess()
		o.metrics.ObserveGatewayCall(elapsed, "")
		return result, true
	}

	kind := llm.KindOf(err)
	o.metrics.ObserveGatewayCall(elapsed, string(kind))
	tripped := run.recordFailure(kind, o.threshold)
	o.logger.Warn("gateway failed, using keyword rules",
		zap.String("run_id", run.ID),
		zap.String("question_id", q.ID),
		zap.String("kind", string(kind)),
		zap.Int("consecutive_failures", run.consecutiveFailures),
		zap.Error(err))
	if tripped {
		o.metrics.ObserveBreakerTrip()
		o.logger.Warn("gateway disabled for the rest of the run",
			zap.String("run_id", run.ID),
			zap.Int("threshold", o.threshold))
	}
	return domain.CategorizationResult{}, false
}
