// Package cmd provides the CLI commands for storefind.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/storefind/storefind/internal/config"
	"github.com/storefind/storefind/internal/logging"
	"github.com/storefind/storefind/pkg/version"
)

var (
	cfgFile string
	dataDir string
)

// NewRootCmd creates the root command for the storefind CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storefind",
		Short: "Semantic product search for storefront catalogs",
		Long: `Storefind indexes storefront catalogs with text and image embeddings
and serves semantic search with lexical fallback, adaptive filter
rescue, and query analytics. All state lives in a local data directory.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("storefind version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to the YAML config file")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the data directory")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newBaselineCmd())
	cmd.AddCommand(newRetentionCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig reads configuration, applies flag overrides, and installs
// the configured logger. The returned cleanup flushes the log sink.
func loadConfig() (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	logger, cleanup, err := logging.Setup(logging.Config{
		Level:    cfg.Logging.Level,
		FilePath: cfg.Logging.FilePath,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, cleanup, nil
}
