package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/nebula/internal/config"
	"github.com/Iron-Ham/nebula/internal/hub"
	"github.com/Iron-Ham/nebula/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub",
	Long: `Load the configuration and profile catalog, connect to the runtimes the
profiles need, and serve the hub API until interrupted. On SIGINT or SIGTERM
every session is stopped before the process exits.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newHubLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := hub.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("hub startup failed", "error", err)
		return err
	}
	defer func() { _ = h.Close() }()
	h.ConfigFile = viper.ConfigFileUsed()

	logger.Info("hub starting",
		"bind_url", cfg.Hub.BindURL,
		"base_path", cfg.Hub.BasePath,
		"profiles", h.Catalog.Len(),
		"auth_strategy", cfg.Auth.Strategy,
		"config_file", h.ConfigFile,
	)

	if err := h.Run(ctx); err != nil {
		logger.Error("hub stopped", "error", err)
		return err
	}
	logger.Info("hub stopped")
	return nil
}

// newHubLogger writes to logging.dir with rotation, or to stderr when no
// directory is configured.
func newHubLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	rotation := logging.RotationConfig{
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	logger, err := logging.NewLoggerWithRotation(cfg.Dir, cfg.Level, rotation)
	if err != nil {
		return nil, fmt.Errorf("open hub log: %w", err)
	}
	return logger, nil
}
