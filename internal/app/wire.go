package app

import (
	"fmt"

	"go.uber.org/zap"

	"forumscout/internal/categorize"
	"forumscout/internal/config"
	"forumscout/internal/forum"
	"forumscout/internal/httpx"
	"forumscout/internal/integrations/llm"
	slackbot "forumscout/internal/integrations/slack"
	"forumscout/internal/metrics"
	"forumscout/internal/rules"
	"forumscout/internal/scan"
	"forumscout/internal/storage/sqlite"
)

type wireOptions struct {
	noAI    bool
	noSlack bool
}

// services is everything a command may need. Close releases the store.
type services struct {
	cfg          config.Config
	logger       *zap.Logger
	metrics      *metrics.Metrics
	store        *sqlite.Store
	orchestrator *categorize.Orchestrator
	scanner      *scan.Scanner
	slackOn      bool
}

func (s *services) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("closing database failed", zap.Error(err))
		}
	}
	_ = s.logger.Sync()
}

// newOrchestrator builds the categorization path. The gateway is only
// constructed when AI is enabled and not switched off by flag.
func newOrchestrator(cfg config.Config, noAI bool, logger *zap.Logger, m *metrics.Metrics) (*categorize.Orchestrator, error) {
	ruleList := rules.DefaultRules()
	if cfg.RulesPath != "" {
		loaded, err := rules.Load(cfg.RulesPath)
		if err != nil {
			return nil, err
		}
		ruleList = loaded
	}
	fallback, err := rules.New(ruleList)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	router, err := cfg.NewRouter()
	if err != nil {
		return nil, err
	}

	var classifier categorize.Classifier
	if cfg.LLMOn() && !noAI {
		gw, err := llm.NewGateway(llm.Options{
			Provider:    cfg.LLMProvider,
			Model:       cfg.LLMModel,
			APIKey:      cfg.LLMAPIKey(),
			Endpoint:    cfg.LLMEndpoint,
			Timeout:     cfg.LLMTimeout(),
			MaxTokens:   cfg.LLMMaxTokens,
			Temperature: cfg.LLMTemperature,
		}, logger)
		if err != nil {
			return nil, err
		}
		classifier = gw
		logger.Info("AI categorization enabled",
			zap.String("provider", gw.Provider()),
			zap.String("model", gw.Model()))
	} else {
		logger.Info("AI categorization disabled, using keyword rules")
	}

	return categorize.New(classifier, fallback, router, categorize.Options{
		AIEnabled:        classifier != nil,
		BreakerThreshold: cfg.LLMBreakerThreshold,
	}, logger, m), nil
}

func wire(cfg config.Config, logger *zap.Logger, opts wireOptions) (*services, error) {
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds, logger)
	logger.Info("config loaded",
		zap.String("forum", cfg.ForumBaseURL),
		zap.String("start_date", cfg.StartDate),
		zap.Int("max_pages", cfg.MaxPages),
		zap.String("llm_provider", cfg.LLMProvider),
		zap.Bool("llm_enabled", cfg.LLMOn() && !opts.noAI),
		zap.Bool("slack_enabled", cfg.SlackOn() && !opts.noSlack),
		zap.String("timezone", cfg.Timezone),
		zap.Duration("external_http_timeout", appliedHTTPTimeout),
	)

	m := metrics.New()
	orchestrator, err := newOrchestrator(cfg, opts.noAI, logger, m)
	if err != nil {
		return nil, err
	}

	extractor, err := forum.NewExtractor(httpx.ExternalHTTPClient(), forum.Options{
		BaseURL:         cfg.ForumBaseURL,
		Selectors:       cfg.ForumSelectors,
		PageDelay:       cfg.PageDelay(),
		PreviewMaxChars: cfg.PreviewMaxChars,
		Location:        cfg.Location,
	}, logger)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Info("database initialized", zap.String("path", cfg.DBPath))

	slackOn := cfg.SlackOn() && !opts.noSlack
	var notifier scan.Notifier
	if slackOn {
		client := slackbot.NewClient(cfg.SlackBotToken, "")
		users := slackbot.NewUserDirectory(client, logger)
		notifier = slackbot.NewDispatcher(client, users, cfg.SlackMaxQuestions, logger, m)
	}

	return &services{
		cfg:          cfg,
		logger:       logger,
		metrics:      m,
		store:        store,
		orchestrator: orchestrator,
		scanner:      scan.New(extractor, orchestrator, store, notifier, logger, m),
		slackOn:      slackOn,
	}, nil
}
