package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/storefind/storefind/internal/cache"
	"github.com/storefind/storefind/internal/catalog"
	"github.com/storefind/storefind/internal/embed"
	"github.com/storefind/storefind/internal/lifecycle"
)

type statsReport struct {
	Products      int                `json:"products"`
	Vectors       int                `json:"vectors"`
	VectorOrphans int                `json:"vector_orphans"`
	ResultCache   cache.Stats        `json:"result_cache"`
	EmbedCache    *embed.CacheStats  `json:"embed_cache,omitempty"`
	DroppedEvents uint64             `json:"dropped_events"`
	StrategyRates map[string]float64 `json:"strategy_success_rates,omitempty"`
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print catalog, index, and cache statistics",
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

			count, err := app.Products.Count(cmd.Context(), catalog.Filter{})
			if err != nil {
				return err
			}

			report := statsReport{
				Products:      count,
				Vectors:       app.Vectors.Len(),
				VectorOrphans: app.Vectors.Orphans(),
				ResultCache:   app.Results.Stats(),
				DroppedEvents: app.Recorder.Dropped(),
				StrategyRates: app.Engine.SuccessRates(),
			}
			if cached, ok := app.Embedder.(*embed.CachedEmbedder); ok {
				s := cached.Stats()
				report.EmbedCache = &s
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
