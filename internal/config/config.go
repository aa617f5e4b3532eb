// Package config loads and validates the storefind service configuration.
// Precedence: built-in defaults, then the YAML file, then environment
// variables (STOREFIND_*).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir" json:"data_dir"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Rate      RateConfig      `yaml:"rate" json:"rate"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Analytics AnalyticsConfig `yaml:"analytics" json:"analytics"`
	Adaptive  AdaptiveConfig  `yaml:"adaptive" json:"adaptive"`
	Retention RetentionConfig `yaml:"retention" json:"retention"`
	Baseline  BaselineConfig  `yaml:"baseline" json:"baseline"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// EmbeddingConfig configures the embedding provider client.
type EmbeddingConfig struct {
	// Endpoint is the base URL of the embedding provider API.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// ModelName identifies the text embedding model.
	ModelName string `yaml:"model_name" json:"model_name"`

	// ImageModelName identifies the image encoder model.
	ImageModelName string `yaml:"image_model_name" json:"image_model_name"`

	// Dim is the fixed embedding dimension. A provider response of any
	// other dimension is an integrity error.
	Dim int `yaml:"dim" json:"dim"`

	// LRUCapacity is the in-process embedding cache size.
	LRUCapacity int `yaml:"lru_capacity" json:"lru_capacity"`

	// Timeout bounds a single provider call.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// MaxRetries bounds transient-failure retries per call.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// TextWeightByCategory maps product category to the text weight of
	// the combined vector. Missing categories use DefaultTextWeight.
	TextWeightByCategory map[string]float64 `yaml:"text_weight_by_category" json:"text_weight_by_category"`

	// TextWeightByStore overrides the category weight per store.
	// Store-specific beats category default.
	TextWeightByStore map[string]float64 `yaml:"text_weight_by_store" json:"text_weight_by_store"`

	// DefaultTextWeight applies when neither store nor category match.
	DefaultTextWeight float64 `yaml:"default_text_weight" json:"default_text_weight"`

	// ImageMaxDim is the largest image edge accepted without downscaling.
	ImageMaxDim int `yaml:"image_max_dim" json:"image_max_dim"`

	// ImageMaxBytes bounds the image download size.
	ImageMaxBytes int64 `yaml:"image_max_bytes" json:"image_max_bytes"`

	// ImageTimeout bounds the image download.
	ImageTimeout time.Duration `yaml:"image_timeout" json:"image_timeout"`
}

// CacheConfig configures result-cache TTLs per namespace. TTLs are
// configured here and never hardcoded at call sites.
type CacheConfig struct {
	TTLSemantic   time.Duration `yaml:"ttl_semantic" json:"ttl_semantic"`
	TTLFuzzy      time.Duration `yaml:"ttl_fuzzy" json:"ttl_fuzzy"`
	TTLAggregates time.Duration `yaml:"ttl_aggregates" json:"ttl_aggregates"`
	TTLFacets     time.Duration `yaml:"ttl_facets" json:"ttl_facets"`
}

// RateConfig configures the outbound and inbound limiters.
type RateConfig struct {
	OutboundRPS      float64       `yaml:"outbound_rps" json:"outbound_rps"`
	OutboundBurst    int           `yaml:"outbound_burst" json:"outbound_burst"`
	InboundPerWindow int           `yaml:"inbound_per_window" json:"inbound_per_window"`
	InboundWindow    time.Duration `yaml:"inbound_window" json:"inbound_window"`
}

// SearchConfig configures the orchestrator.
type SearchConfig struct {
	DefaultSimilarityThreshold float64 `yaml:"default_similarity_threshold" json:"default_similarity_threshold"`
	MaxPageSize                int     `yaml:"max_page_size" json:"max_page_size"`
	DefaultPageSize            int     `yaml:"default_page_size" json:"default_page_size"`
	MaxQueryLength             int     `yaml:"max_query_length" json:"max_query_length"`
	FuzzyMinScore              float64 `yaml:"fuzzy_min_score" json:"fuzzy_min_score"`

	// CandidateMargin is the extra candidate count requested from the
	// vector index beyond the page window, to survive predicate filtering.
	CandidateMargin int `yaml:"candidate_margin" json:"candidate_margin"`

	// LexicalBackend selects the fuzzy-search backend: "fts5" (default)
	// or "bleve".
	LexicalBackend string `yaml:"lexical_backend" json:"lexical_backend"`

	// FacetPriceBuckets are the ascending price range edges for the price
	// facet. The range above the last edge is open-ended.
	FacetPriceBuckets []float64 `yaml:"facet_price_buckets" json:"facet_price_buckets"`
}

// AnalyticsConfig configures the recorder.
type AnalyticsConfig struct {
	BufferSize    int           `yaml:"buffer_size" json:"buffer_size"`
	Writers       int           `yaml:"writers" json:"writers"`
	BatchSize     int           `yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
}

// AdaptiveConfig configures the adaptive filter engine.
type AdaptiveConfig struct {
	MinImprovementPct     float64 `yaml:"min_improvement_pct" json:"min_improvement_pct"`
	MaxStrategiesPerQuery int     `yaml:"max_strategies_per_query" json:"max_strategies_per_query"`

	// StrategyFile optionally points at a YAML strategy declaration that
	// replaces the built-in set and is hot-reloaded on change.
	StrategyFile string `yaml:"strategy_file" json:"strategy_file"`
}

// RetentionConfig configures age- and usage-based deletion.
type RetentionConfig struct {
	AnalyticsDays             int           `yaml:"analytics_days" json:"analytics_days"`
	ClicksDays                int           `yaml:"clicks_days" json:"clicks_days"`
	PerformanceDays           int           `yaml:"performance_days" json:"performance_days"`
	SessionHours              int           `yaml:"session_hours" json:"session_hours"`
	LearnedPatternsMinSuccess float64       `yaml:"learned_patterns_min_success_rate" json:"learned_patterns_min_success_rate"`
	LearnedPatternsStaleDays  int           `yaml:"learned_patterns_stale_days" json:"learned_patterns_stale_days"`
	BaselineDays              int           `yaml:"baseline_days" json:"baseline_days"`
	Cadence                   time.Duration `yaml:"cadence" json:"cadence"`
}

// BaselineConfig configures the learning job.
type BaselineConfig struct {
	RefreshInterval   time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
	MinEventsPerGroup int           `yaml:"min_events_per_group" json:"min_events_per_group"`
	WindowDays        int           `yaml:"window_days" json:"window_days"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Logging: LoggingConfig{Level: "info"},
		Embedding: EmbeddingConfig{
			Endpoint:          "http://localhost:8089",
			ModelName:         "text-embedding-3-small",
			ImageModelName:    "clip-vit-base",
			Dim:               1536,
			LRUCapacity:       4096,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			DefaultTextWeight: 0.7,
			ImageMaxDim:       1024,
			ImageMaxBytes:     8 << 20,
			ImageTimeout:      10 * time.Second,
		},
		Cache: CacheConfig{
			TTLSemantic:   5 * time.Minute,
			TTLFuzzy:      5 * time.Minute,
			TTLAggregates: time.Hour,
			TTLFacets:     15 * time.Minute,
		},
		Rate: RateConfig{
			OutboundRPS:      20,
			OutboundBurst:    40,
			InboundPerWindow: 120,
			InboundWindow:    time.Minute,
		},
		Search: SearchConfig{
			DefaultSimilarityThreshold: 0.3,
			MaxPageSize:                100,
			DefaultPageSize:            25,
			MaxQueryLength:             256,
			FuzzyMinScore:              0.1,
			CandidateMargin:            25,
			LexicalBackend:             "fts5",
			FacetPriceBuckets:          []float64{25, 50, 100, 250, 500},
		},
		Analytics: AnalyticsConfig{
			BufferSize:    1024,
			Writers:       2,
			BatchSize:     64,
			FlushInterval: 2 * time.Second,
		},
		Adaptive: AdaptiveConfig{
			MinImprovementPct:     10,
			MaxStrategiesPerQuery: 3,
		},
		Retention: RetentionConfig{
			AnalyticsDays:             90,
			ClicksDays:                90,
			PerformanceDays:           365,
			SessionHours:              24,
			LearnedPatternsMinSuccess: 0.5,
			LearnedPatternsStaleDays:  30,
			BaselineDays:              180,
			Cadence:                   24 * time.Hour,
		},
		Baseline: BaselineConfig{
			RefreshInterval:   6 * time.Hour,
			MinEventsPerGroup: 20,
			WindowDays:        7,
		},
	}
}

// Load reads the config file at path (when it exists), applies environment
// overrides, and validates. A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies STOREFIND_* environment variables.
// Env vars take highest precedence.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STOREFIND_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("STOREFIND_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("STOREFIND_EMBED_ENDPOINT"); v != "" {
		cfg.Embedding.Endpoint = v
	}
	if v := os.Getenv("STOREFIND_EMBED_MODEL"); v != "" {
		cfg.Embedding.ModelName = v
	}
	if v := os.Getenv("STOREFIND_OUTBOUND_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Rate.OutboundRPS = f
		}
	}
	if v := os.Getenv("STOREFIND_MAX_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Search.MaxPageSize = n
		}
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("embedding.dim must be positive, got %d", c.Embedding.Dim)
	}
	if c.Embedding.DefaultTextWeight < 0 || c.Embedding.DefaultTextWeight > 1 {
		return fmt.Errorf("embedding.default_text_weight %v outside [0,1]", c.Embedding.DefaultTextWeight)
	}
	for cat, w := range c.Embedding.TextWeightByCategory {
		if w < 0 || w > 1 {
			return fmt.Errorf("embedding.text_weight_by_category[%s] %v outside [0,1]", cat, w)
		}
	}
	for store, w := range c.Embedding.TextWeightByStore {
		if w < 0 || w > 1 {
			return fmt.Errorf("embedding.text_weight_by_store[%s] %v outside [0,1]", store, w)
		}
	}
	if c.Rate.OutboundRPS <= 0 {
		return fmt.Errorf("rate.outbound_rps must be positive")
	}
	if c.Rate.OutboundBurst < 1 {
		return fmt.Errorf("rate.outbound_burst must be at least 1")
	}
	if c.Rate.InboundPerWindow < 1 || c.Rate.InboundWindow <= 0 {
		return fmt.Errorf("rate.inbound limits must be positive")
	}
	if c.Search.MaxPageSize < 1 || c.Search.DefaultPageSize < 1 {
		return fmt.Errorf("search page sizes must be positive")
	}
	if c.Search.DefaultPageSize > c.Search.MaxPageSize {
		return fmt.Errorf("search.default_page_size %d exceeds max_page_size %d",
			c.Search.DefaultPageSize, c.Search.MaxPageSize)
	}
	if t := c.Search.DefaultSimilarityThreshold; t < 0 || t > 1 {
		return fmt.Errorf("search.default_similarity_threshold %v outside [0,1]", t)
	}
	switch c.Search.LexicalBackend {
	case "fts5", "bleve":
	default:
		return fmt.Errorf("search.lexical_backend must be fts5 or bleve, got %q", c.Search.LexicalBackend)
	}
	for i, edge := range c.Search.FacetPriceBuckets {
		if edge <= 0 {
			return fmt.Errorf("search.facet_price_buckets must be positive, got %v", edge)
		}
		if i > 0 && edge <= c.Search.FacetPriceBuckets[i-1] {
			return fmt.Errorf("search.facet_price_buckets must be strictly ascending")
		}
	}
	if c.Adaptive.MaxStrategiesPerQuery < 0 {
		return fmt.Errorf("adaptive.max_strategies_per_query must not be negative")
	}
	if c.Analytics.BufferSize < 1 || c.Analytics.Writers < 1 {
		return fmt.Errorf("analytics buffer and writers must be positive")
	}
	return nil
}

// TextWeightFor resolves the combined-vector text weight for a product.
// Store-specific overrides beat category defaults, which beat the global
// default.
func (e EmbeddingConfig) TextWeightFor(storeID, category string) float64 {
	if storeID != "" {
		if w, ok := e.TextWeightByStore[storeID]; ok {
			return w
		}
	}
	if category != "" {
		if w, ok := e.TextWeightByCategory[category]; ok {
			return w
		}
	}
	return e.DefaultTextWeight
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".storefind"
	}
	return home + "/.storefind"
}
