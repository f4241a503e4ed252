package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"forumscout/internal/categorize"
	"forumscout/internal/config"
	"forumscout/internal/domain"
	"forumscout/internal/scan"
	"forumscout/internal/server"
)

func newScanCommand(root *rootFlags) *cobra.Command {
	var (
		startDate string
		maxPages  int
		output    string
		noSlack   bool
		noAI      bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load(root)
			if err != nil {
				return err
			}
			svc, err := wire(cfg, logger, wireOptions{noAI: noAI, noSlack: noSlack})
			if err != nil {
				return err
			}
			defer svc.Close()

			opts := svc.scanOptions(time.Now())
			if startDate != "" {
				start, err := config.ParseStartDate(startDate, cfg.Location)
				if err != nil {
					return err
				}
				opts.Start = start
			}
			if maxPages > 0 {
				opts.MaxPages = maxPages
			}
			if output != "" {
				opts.OutputPath = output
			}

			result, err := svc.scanner.Run(cmd.Context(), opts)
			fmt.Fprintln(cmd.OutOrStdout(), scan.FormatSummary(result))
			return err
		},
	}
	cmd.Flags().StringVar(&startDate, "start-date", "", "only questions published on or after this date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "maximum listing pages to read")
	cmd.Flags().StringVar(&output, "output", "", "JSON report path")
	cmd.Flags().BoolVar(&noSlack, "no-slack", false, "skip Slack notifications")
	cmd.Flags().BoolVar(&noAI, "no-ai", false, "use keyword rules only")
	return cmd
}

func (s *services) scanOptions(at time.Time) scan.Options {
	return scan.Options{
		Start:         s.cfg.ScanStart(at),
		MaxPages:      s.cfg.MaxPages,
		OutputPath:    s.cfg.OutputPath,
		Notify:        s.slackOn,
		NotifyNewOnly: s.cfg.NotifyNewOnly,
	}
}

func newScheduleCommand(root *rootFlags) *cobra.Command {
	var runNow bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run scans on the configured cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load(root)
			if err != nil {
				return err
			}
			svc, err := wire(cfg, logger, wireOptions{})
			if err != nil {
				return err
			}
			defer svc.Close()
			return svc.schedule(cmd.Context(), runNow)
		},
	}
	cmd.Flags().BoolVar(&runNow, "run-now", false, "run one scan immediately before waiting for the schedule")
	return cmd
}

func (s *services) schedule(ctx context.Context, runNow bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var serverErr error
	if s.cfg.StatusAddr != "" {
		srv := server.New(s.store, s.metrics, s.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx, s.cfg.StatusAddr); err != nil {
				serverErr = fmt.Errorf("status server: %w", err)
				cancel()
			}
		}()
	}

	job := func(ctx context.Context) {
		result, err := s.scanner.Run(ctx, s.scanOptions(time.Now()))
		if err != nil {
			s.logger.Error("scheduled scan failed", zap.Error(err))
			return
		}
		s.logger.Info("scheduled scan complete", zap.String("summary", scan.FormatSummary(result)))
	}
	if runNow {
		job(ctx)
	}

	err := scan.RunScheduler(ctx, s.cfg.ScanSchedule, s.cfg.Location, s.logger, job)
	cancel()
	wg.Wait()
	if err != nil {
		return err
	}
	return serverErr
}

// classifyOutput is what the classify command prints.
type classifyOutput struct {
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Rationale  string   `json:"rationale"`
	Source     string   `json:"source"`
	Channel    string   `json:"channel"`
	Owners     []string `json:"owners"`
}

func newClassifyCommand(root *rootFlags) *cobra.Command {
	var (
		title   string
		content string
		topics  string
		noAI    bool
	)
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Categorize a single question and print the result as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(title) == "" && strings.TrimSpace(content) == "" {
				return fmt.Errorf("--title or --content is required")
			}
			cfg, logger, err := load(root)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			orchestrator, err := newOrchestrator(cfg, noAI, logger, nil)
			if err != nil {
				return err
			}
			q := domain.QuestionRecord{
				ID:      "cli",
				Title:   title,
				Preview: content,
				Topics:  splitTopics(topics),
			}
			result, decision := orchestrator.CategorizeAndRoute(cmd.Context(), categorize.NewRun(), q)

			owners := decision.Owners
			if owners == nil {
				owners = []string{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(classifyOutput{
				Category:   string(result.Category),
				Confidence: result.Confidence,
				Rationale:  result.Rationale,
				Source:     string(result.Source),
				Channel:    decision.Channel,
				Owners:     owners,
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "question title")
	cmd.Flags().StringVar(&content, "content", "", "question body")
	cmd.Flags().StringVar(&topics, "topics", "", "comma-separated topic tags")
	cmd.Flags().BoolVar(&noAI, "no-ai", false, "use keyword rules only")
	return cmd
}

func splitTopics(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
