// Package app is the forumscout command line: one-off scans, scheduled
// scans with a status server, and single-question classification.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"forumscout/internal/config"
	"forumscout/internal/logging"
)

type rootFlags struct {
	configPath string
	debug      bool
}

// Main runs the CLI and exits non-zero on failure.
func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "forumscout",
		Short: "Scan the forum for unanswered questions and route them to owners",
		Long: `forumscout reads the newest unresolved questions from the community
forum, assigns each one a product category (AI first, keyword rules as the
fallback), and posts them to the Slack channel that owns the category.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default $CONFIG_PATH or ./config.yaml)")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "development logging")

	cmd.AddCommand(newScanCommand(flags))
	cmd.AddCommand(newScheduleCommand(flags))
	cmd.AddCommand(newClassifyCommand(flags))
	return cmd
}

// load reads configuration and builds the logger every command shares.
func load(flags *rootFlags) (config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if flags.debug {
		cfg.Debug = true
	}
	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
