package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/storefind/storefind/internal/adaptive"
	"github.com/storefind/storefind/internal/analytics"
	"github.com/storefind/storefind/internal/cache"
	"github.com/storefind/storefind/internal/config"
	"github.com/storefind/storefind/internal/embed"
	serrors "github.com/storefind/storefind/internal/errors"
	"github.com/storefind/storefind/internal/intent"
	"github.com/storefind/storefind/internal/learning"
	"github.com/storefind/storefind/internal/ratelimit"
	"github.com/storefind/storefind/internal/retention"
	"github.com/storefind/storefind/internal/search"
	"github.com/storefind/storefind/internal/store"
)

// App is the fully assembled service. Construction order matters:
// storage before indexes, indexes before the orchestrator, background
// jobs last. Close runs the reverse.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Products *store.CatalogStore
	Vectors  *store.HNSWIndex
	Lexical  store.LexicalIndex
	Results  *cache.ResultCache
	Embedder embed.Embedder

	Analytics *analytics.Store
	Recorder  *analytics.Recorder
	Learning  *learning.Runner
	Retention *retention.Job
	Engine    *adaptive.Engine

	Service  *search.Service
	Ingestor *search.Ingestor
	Popular  *search.Popular

	guard  *Guard
	cancel context.CancelFunc
}

// Options tunes assembly for different entry points.
type Options struct {
	// StartJobs enables the background learning, retention, pruning, and
	// strategy-watch loops. One-shot commands leave them off.
	StartJobs bool
}

// New assembles the service from configuration. On error, everything
// already opened is closed before returning.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, serrors.New(serrors.ErrCodeStoreUnavailable, "create data directory", err)
	}

	app.guard = NewGuard(cfg.DataDir)
	if err := app.guard.Acquire(); err != nil {
		return nil, err
	}

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app.cancel = cancel

	if err := app.build(bg, opts); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(bg context.Context, opts Options) error {
	cfg := a.Config

	products, err := store.NewCatalogStore(
		filepath.Join(cfg.DataDir, "catalog.db"), cfg.Embedding.Dim, a.Logger)
	if err != nil {
		return err
	}
	a.Products = products

	a.Vectors = store.NewHNSWIndex(store.HNSWConfig{Dim: cfg.Embedding.Dim})

	lexical, err := store.NewLexicalIndex(cfg.Search.LexicalBackend, products.DB(), cfg.DataDir)
	if err != nil {
		return err
	}
	a.Lexical = lexical

	results, err := cache.New(cache.Options{
		Path: filepath.Join(cfg.DataDir, "cache"),
		TTLs: cache.TTLs{
			SemanticSearch:    cfg.Cache.TTLSemantic,
			FuzzySearch:       cfg.Cache.TTLFuzzy,
			PopularAggregates: cfg.Cache.TTLAggregates,
			Facets:            cfg.Cache.TTLFacets,
		},
		Logger: a.Logger,
	})
	if err != nil {
		return err
	}
	a.Results = results

	provider := embed.NewProvider(embed.ProviderConfig{
		Endpoint:   cfg.Embedding.Endpoint,
		Model:      cfg.Embedding.ModelName,
		ImageModel: cfg.Embedding.ImageModelName,
		Dimensions: cfg.Embedding.Dim,
		Timeout:    cfg.Embedding.Timeout,
		MaxRetries: cfg.Embedding.MaxRetries,
		Limiter:    ratelimit.NewOutboundLimiter(cfg.Rate.OutboundRPS, cfg.Rate.OutboundBurst),
		Logger:     a.Logger,
	})
	embedder, err := embed.NewCachedEmbedder(provider, cfg.Embedding.LRUCapacity, a.Logger)
	if err != nil {
		return err
	}
	a.Embedder = embedder

	fetcher := embed.NewImageFetcher(embed.ImageFetcherConfig{
		Timeout:  cfg.Embedding.ImageTimeout,
		MaxBytes: cfg.Embedding.ImageMaxBytes,
		MaxDim:   cfg.Embedding.ImageMaxDim,
	})

	analyticsStore, err := analytics.NewStore(filepath.Join(cfg.DataDir, "analytics.db"))
	if err != nil {
		return err
	}
	a.Analytics = analyticsStore
	a.Recorder = analytics.NewRecorder(analyticsStore, analytics.RecorderConfig{
		BufferSize:    cfg.Analytics.BufferSize,
		Writers:       cfg.Analytics.Writers,
		BatchSize:     cfg.Analytics.BatchSize,
		FlushInterval: cfg.Analytics.FlushInterval,
		Logger:        a.Logger,
	})

	learningStore, err := learning.NewStore(analyticsStore.DB())
	if err != nil {
		return err
	}
	a.Learning = learning.NewRunner(learningStore, learning.RunnerConfig{
		RefreshInterval:   cfg.Baseline.RefreshInterval,
		MinEventsPerGroup: cfg.Baseline.MinEventsPerGroup,
		WindowDays:        cfg.Baseline.WindowDays,
		Logger:            a.Logger,
	})

	a.Retention = retention.NewJob(analyticsStore.DB(), retention.Config{
		AnalyticsDays:             cfg.Retention.AnalyticsDays,
		ClicksDays:                cfg.Retention.ClicksDays,
		PerformanceDays:           cfg.Retention.PerformanceDays,
		SessionHours:              cfg.Retention.SessionHours,
		LearnedPatternsStaleDays:  cfg.Retention.LearnedPatternsStaleDays,
		LearnedPatternsMinSuccess: cfg.Retention.LearnedPatternsMinSuccess,
		BaselineDays:              cfg.Retention.BaselineDays,
		Cadence:                   cfg.Retention.Cadence,
		Logger:                    a.Logger,
	})

	engineCfg := adaptive.EngineConfig{
		MinImprovementPct: cfg.Adaptive.MinImprovementPct,
		MaxPerQuery:       cfg.Adaptive.MaxStrategiesPerQuery,
		Logger:            a.Logger,
	}
	if cfg.Adaptive.StrategyFile != "" {
		strategies, err := adaptive.LoadStrategies(cfg.Adaptive.StrategyFile)
		if err != nil {
			return err
		}
		engineCfg.Strategies = strategies
	}
	a.Engine = adaptive.NewEngine(engineCfg)

	classifier, err := intent.NewClassifier(0)
	if err != nil {
		return err
	}

	inbound := ratelimit.NewSlidingWindow(cfg.Rate.InboundPerWindow, cfg.Rate.InboundWindow)

	flight := cache.NewFlightCache(results)
	a.Service = search.NewService(search.Config{
		Embedder:                   embedder,
		Fetcher:                    fetcher,
		Products:                   products,
		Vectors:                    a.Vectors,
		Lexical:                    lexical,
		Flight:                     flight,
		Inbound:                    inbound,
		Classifier:                 classifier,
		Rescue:                     a.Engine,
		Recorder:                   a.Recorder,
		Logger:                     a.Logger,
		DefaultSimilarityThreshold: cfg.Search.DefaultSimilarityThreshold,
		DefaultPageSize:            cfg.Search.DefaultPageSize,
		MaxPageSize:                cfg.Search.MaxPageSize,
		MaxQueryLength:             cfg.Search.MaxQueryLength,
		FuzzyMinScore:              cfg.Search.FuzzyMinScore,
		CandidateMargin:            cfg.Search.CandidateMargin,
		FacetPriceBuckets:          cfg.Search.FacetPriceBuckets,
	})
	a.Ingestor = search.NewIngestor(embedder, fetcher, products, a.Vectors, lexical,
		results, cfg.Embedding, a.Logger)
	a.Popular = search.NewPopular(analyticsStore, flight)

	// The in-process indexes start empty; repopulate from the catalog.
	count, err := a.Ingestor.RebuildIndexes(bg)
	if err != nil {
		return err
	}
	a.Logger.Info("service_assembled",
		slog.String("data_dir", cfg.DataDir),
		slog.Int("indexed_products", count),
		slog.String("lexical_backend", cfg.Search.LexicalBackend))

	if opts.StartJobs {
		a.Learning.Start(bg)
		a.Retention.Start(bg)
		inbound.StartPruning(bg, time.Minute)
		if cfg.Adaptive.StrategyFile != "" {
			if err := adaptive.WatchStrategies(bg, cfg.Adaptive.StrategyFile, a.Engine, a.Logger); err != nil {
				a.Logger.Warn("strategy_watch_failed", slog.Any("error", err))
			}
		}
	}
	return nil
}

// Close shuts down in reverse of construction: stop background work,
// flush analytics, then close storage, and finally release the lock.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.Recorder != nil {
		a.Recorder.Close()
	}
	if a.Lexical != nil {
		_ = a.Lexical.Close()
	}
	if a.Results != nil {
		_ = a.Results.Close()
	}
	if a.Embedder != nil {
		_ = a.Embedder.Close()
	}
	if a.Analytics != nil {
		_ = a.Analytics.Close()
	}
	if a.Products != nil {
		_ = a.Products.Close()
	}
	if a.guard != nil {
		return a.guard.Release()
	}
	return nil
}
