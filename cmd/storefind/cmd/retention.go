package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storefind/storefind/internal/lifecycle"
)

func newRetentionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Data retention operations",
	}
	cmd.AddCommand(newRetentionRunCmd())
	return cmd
}

func newRetentionRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Apply the retention policies now",
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

			deleted, err := app.Retention.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d rows\n", deleted)
			return nil
		},
	}
}
