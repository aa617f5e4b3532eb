package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storefind/storefind/internal/lifecycle"
)

func newBaselineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Search-quality baseline operations",
	}
	cmd.AddCommand(newBaselineRunCmd())
	return cmd
}

func newBaselineRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Compute baselines, mine patterns, and generate suggestions now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			app, err := lifecycle.New(cmd.Context(), cfg, logger, lifecycle.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			app.Learning.RunOnce(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "learning job completed")
			return nil
		},
	}
}
