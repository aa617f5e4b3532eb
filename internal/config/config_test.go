package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1536, cfg.Embedding.Dim)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTLSemantic)
	assert.Equal(t, "fts5", cfg.Search.LexicalBackend)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Search.MaxPageSize, cfg.Search.MaxPageSize)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
embedding:
  model_name: custom-embed
  default_text_weight: 0.6
  text_weight_by_category:
    apparel: 0.5
search:
  max_page_size: 50
  default_page_size: 10
cache:
  ttl_semantic: 10m
rate:
  outbound_rps: 5
  outbound_burst: 10
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom-embed", cfg.Embedding.ModelName)
	assert.Equal(t, 0.6, cfg.Embedding.DefaultTextWeight)
	assert.Equal(t, 50, cfg.Search.MaxPageSize)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTLSemantic)
	assert.Equal(t, 5.0, cfg.Rate.OutboundRPS)
	// Unset keys keep their defaults.
	assert.Equal(t, 1536, cfg.Embedding.Dim)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedding:\n  model_name: from-file\n"), 0o644))
	t.Setenv("STOREFIND_EMBED_MODEL", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Embedding.ModelName)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero dim", func(c *Config) { c.Embedding.Dim = 0 }},
		{"weight above one", func(c *Config) { c.Embedding.DefaultTextWeight = 1.5 }},
		{"category weight negative", func(c *Config) {
			c.Embedding.TextWeightByCategory = map[string]float64{"apparel": -0.1}
		}},
		{"zero outbound rps", func(c *Config) { c.Rate.OutboundRPS = 0 }},
		{"default page above max", func(c *Config) {
			c.Search.MaxPageSize = 10
			c.Search.DefaultPageSize = 20
		}},
		{"threshold above one", func(c *Config) { c.Search.DefaultSimilarityThreshold = 1.1 }},
		{"unknown lexical backend", func(c *Config) { c.Search.LexicalBackend = "elastic" }},
		{"zero analytics writers", func(c *Config) { c.Analytics.Writers = 0 }},
		{"unordered price buckets", func(c *Config) {
			c.Search.FacetPriceBuckets = []float64{50, 25}
		}},
		{"zero price bucket edge", func(c *Config) {
			c.Search.FacetPriceBuckets = []float64{0, 25}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestTextWeightPrecedence(t *testing.T) {
	e := EmbeddingConfig{
		DefaultTextWeight:    0.7,
		TextWeightByCategory: map[string]float64{"apparel": 0.5},
		TextWeightByStore:    map[string]float64{"store-1": 0.9},
	}
	assert.Equal(t, 0.9, e.TextWeightFor("store-1", "apparel"), "store override wins")
	assert.Equal(t, 0.5, e.TextWeightFor("store-2", "apparel"), "category next")
	assert.Equal(t, 0.7, e.TextWeightFor("store-2", "furniture"), "global default last")
}
