package learning

import (
	"context"
	"log/slog"
	"time"
)

// Runner executes the learning job on a fixed cadence.
type Runner struct {
	store      *Store
	interval   time.Duration
	minEvents  int
	windowDays int
	logger     *slog.Logger
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	RefreshInterval   time.Duration
	MinEventsPerGroup int
	WindowDays        int
	Logger            *slog.Logger
}

// NewRunner creates the learning job runner.
func NewRunner(store *Store, cfg RunnerConfig) *Runner {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 6 * time.Hour
	}
	if cfg.MinEventsPerGroup <= 0 {
		cfg.MinEventsPerGroup = 20
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 7
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		store:      store,
		interval:   cfg.RefreshInterval,
		minEvents:  cfg.MinEventsPerGroup,
		windowDays: cfg.WindowDays,
		logger:     cfg.Logger,
	}
}

// Start runs the job immediately, then on every tick until ctx is done.
func (r *Runner) Start(ctx context.Context) {
	go func() {
		r.RunOnce(ctx)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce computes baselines over the trailing window, mines patterns,
// and regenerates suggestions. Failures are logged per stage; a failed
// stage does not block the others.
func (r *Runner) RunOnce(ctx context.Context) {
	start := time.Now()
	windowEnd := start.Truncate(time.Hour)
	windowStart := windowEnd.AddDate(0, 0, -r.windowDays)

	baselines, err := r.store.ComputeBaselines(ctx, windowStart, windowEnd, r.minEvents)
	if err != nil {
		r.logger.Warn("baseline_refresh_failed", slog.Any("error", err))
	}

	patterns, err := r.store.MinePatterns(ctx, 0.8)
	if err != nil {
		r.logger.Warn("pattern_mining_failed", slog.Any("error", err))
	}

	suggestions, err := r.store.GenerateSuggestions(ctx)
	if err != nil {
		r.logger.Warn("suggestion_generation_failed", slog.Any("error", err))
	}

	r.logger.Info("learning_job_completed",
		slog.Int("baselines", baselines),
		slog.Int("patterns", patterns),
		slog.Int("suggestions", suggestions),
		slog.Duration("duration", time.Since(start)))
}
