package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/phrazzld/topicq/internal/config"
	"github.com/phrazzld/topicq/internal/platform/logger"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "topicq",
		Short:         "Ordered per-topic task delivery with crash recovery",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a config file (default ./config.yaml if present)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override server.log_level: debug|info|warn|error")

	root.AddCommand(
		newSweepCommand(opts),
		newRecoverCommand(opts),
		newServeCommand(opts),
		newMigrateCommand(opts),
		newTokenCommand(opts),
	)
	return root
}

// loadConfig reads configuration and sets up the process logger. Logs go to
// stderr so that command output on stdout stays machine-readable.
func (o *rootOptions) loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFile(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.logLevel != "" {
		cfg.Server.LogLevel = o.logLevel
	}

	log, err := logger.Setup(logger.LoggerConfig{Level: cfg.Server.LogLevel, Output: os.Stderr})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Debug("configuration loaded",
		"lock_backend", cfg.Lock.Backend,
		"compensation_enabled", cfg.Compensation.Enabled,
		"recovery_enabled", cfg.Recovery.Enabled,
		"admin_api_enabled", cfg.Auth.AdminJWTSecret != "",
		"webhook_configured", cfg.Executor.WebhookURL != "")
	return cfg, log, nil
}
