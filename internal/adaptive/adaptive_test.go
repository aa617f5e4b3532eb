package adaptive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefind/storefind/internal/catalog"
	"github.com/storefind/storefind/internal/intent"
)

func hit(vendor, productType string, price, similarity float64) catalog.Hit {
	return catalog.Hit{
		Product: &catalog.Product{
			Vendor:      vendor,
			ProductType: productType,
			Price:       price,
		},
		Similarity: similarity,
	}
}

func goodHits() []catalog.Hit {
	return []catalog.Hit{
		hit("acme", "boots", 100, 0.9),
		hit("zenith", "boots", 110, 0.85),
		hit("orbit", "shoes", 95, 0.8),
		hit("acme", "boots", 105, 0.75),
		hit("nova", "sandals", 90, 0.7),
	}
}

func TestEvaluateScoresComponents(t *testing.T) {
	m := Evaluate(goodHits())
	assert.Equal(t, 5, m.ResultCount)
	assert.InDelta(t, 0.8, m.AvgSimilarity, 1e-9)
	assert.InDelta(t, 0.9, m.TopSimilarity, 1e-9)
	assert.Greater(t, m.Diversity, 0.5)
	assert.Greater(t, m.PriceCoherence, 0.8, "tight price cluster")
	assert.Greater(t, m.Score, 0.5)
	assert.LessOrEqual(t, m.Score, 1.0)
}

func TestEvaluateEmpty(t *testing.T) {
	m := Evaluate(nil)
	assert.Zero(t, m.ResultCount)
	assert.Zero(t, m.Score)
}

func TestDetectIssues(t *testing.T) {
	assert.Equal(t, []Issue{IssueNoResults}, DetectIssues(Evaluate(nil), 3, false))

	few := Evaluate([]catalog.Hit{hit("acme", "boots", 100, 0.9)})
	assert.Contains(t, DetectIssues(few, 3, false), IssueFewResults)

	monoculture := Evaluate([]catalog.Hit{
		hit("acme", "boots", 100, 0.9),
		hit("acme", "boots", 101, 0.88),
		hit("acme", "boots", 102, 0.87),
		hit("acme", "boots", 103, 0.86),
	})
	assert.Contains(t, DetectIssues(monoculture, 3, false), IssueLowDiversity)

	assert.Empty(t, DetectIssues(Evaluate(goodHits()), 3, false))
}

func TestDetectIssuesGatesPriceScatterOnIntent(t *testing.T) {
	scattered := Evaluate([]catalog.Hit{
		hit("acme", "boots", 5, 0.9),
		hit("zenith", "shoes", 10, 0.85),
		hit("orbit", "sandals", 15, 0.8),
		hit("nova", "heels", 2000, 0.78),
	})
	require.Less(t, scattered.PriceCoherence, 0.3)

	assert.NotContains(t, DetectIssues(scattered, 3, false), IssuePriceScatter,
		"price scatter is noise on non-price queries")
	assert.Contains(t, DetectIssues(scattered, 3, true), IssuePriceScatter)
}

func TestDetectIssuesLowCategoryCoverage(t *testing.T) {
	hits := make([]catalog.Hit, 0, 10)
	for i := 0; i < 10; i++ {
		hits = append(hits, hit(fmt.Sprintf("vendor-%d", i), "boots", 100+float64(i), 0.9))
	}
	m := Evaluate(hits)
	assert.Contains(t, DetectIssues(m, 3, false), IssueLowCoverage)
	assert.NotContains(t, DetectIssues(m, 3, false), IssueLowDiversity)
}

func TestBroadenPrice(t *testing.T) {
	minP, maxP := 50.0, 100.0
	f := catalog.Filter{MinPrice: &minP, MaxPrice: &maxP}

	out, changed := TransformFilter(Strategy{
		Action: ActionBroadenPrice,
		Params: map[string]string{"widen_pct": "20"},
	}, f)
	require.True(t, changed)
	assert.InDelta(t, 40, *out.MinPrice, 1e-9)
	assert.InDelta(t, 120, *out.MaxPrice, 1e-9)
	assert.InDelta(t, 50, *f.MinPrice, 1e-9, "input filter must not mutate")

	_, changed = TransformFilter(Strategy{Action: ActionBroadenPrice}, catalog.Filter{})
	assert.False(t, changed, "no price bounds, nothing to widen")
}

func TestDropStrictestOrder(t *testing.T) {
	minP := 10.0
	f := catalog.Filter{
		MinPrice:    &minP,
		StockStatus: catalog.StockInStock,
		Status:      catalog.StatusActive,
		Attributes:  map[string]string{"color": "black"},
	}

	out, changed := TransformFilter(Strategy{Action: ActionDropStrictestFilter}, f)
	require.True(t, changed)
	assert.Empty(t, out.Attributes, "attributes drop first")
	assert.Equal(t, catalog.StockInStock, out.StockStatus)

	out, _ = TransformFilter(Strategy{Action: ActionDropStrictestFilter}, out)
	assert.Empty(t, out.StockStatus, "stock drops second")

	out, _ = TransformFilter(Strategy{Action: ActionDropStrictestFilter}, out)
	assert.Nil(t, out.MinPrice, "price drops third")

	out, _ = TransformFilter(Strategy{Action: ActionDropStrictestFilter}, out)
	assert.Empty(t, out.Status, "status drops last")

	_, changed = TransformFilter(Strategy{Action: ActionDropStrictestFilter}, out)
	assert.False(t, changed, "nothing left to drop")
}

func TestSubstituteAttribute(t *testing.T) {
	f := catalog.Filter{Attributes: map[string]string{"color": "grey"}}
	out, changed := TransformFilter(Strategy{Action: ActionSubstituteAttribute}, f)
	require.True(t, changed)
	assert.Equal(t, "gray", out.Attributes["color"])
	assert.Equal(t, "grey", f.Attributes["color"], "input filter must not mutate")

	_, changed = TransformFilter(Strategy{Action: ActionSubstituteAttribute},
		catalog.Filter{Attributes: map[string]string{"color": "chartreuse"}})
	assert.False(t, changed, "no synonym known")
}

func TestRemoveAllFiltersKeepsStoreScope(t *testing.T) {
	minP := 10.0
	f := catalog.Filter{StoreID: "store-1", MinPrice: &minP, Status: catalog.StatusActive}
	out, changed := TransformFilter(Strategy{Action: ActionRemoveAllFilters}, f)
	require.True(t, changed)
	assert.Equal(t, "store-1", out.StoreID)
	assert.True(t, out.IsZero() || out.StoreID != "")
	assert.Nil(t, out.MinPrice)
}

func TestForceDiversityInterleavesVendors(t *testing.T) {
	hits := []catalog.Hit{
		hit("acme", "boots", 1, 0.9),
		hit("acme", "boots", 2, 0.8),
		hit("acme", "boots", 3, 0.7),
		hit("zenith", "boots", 4, 0.6),
	}
	out := ForceDiversity(hits)
	require.Len(t, out, 4)
	assert.Equal(t, "acme", out[0].Product.Vendor)
	assert.Equal(t, "zenith", out[1].Product.Vendor)
}

func TestRescueBroadensUntilResultsAppear(t *testing.T) {
	minP, maxP := 500.0, 600.0
	f := catalog.Filter{MinPrice: &minP, MaxPrice: &maxP}
	engine := NewEngine(EngineConfig{})

	search := func(_ context.Context, nf catalog.Filter) ([]catalog.Hit, error) {
		// Products exist at price 400; only a widened interval finds them.
		if nf.MinPrice == nil || *nf.MinPrice <= 400 {
			return goodHits(), nil
		}
		return nil, nil
	}

	out := engine.Rescue(context.Background(), f, nil, intent.Classification{}, search)
	assert.Equal(t, []Issue{IssueNoResults}, out.Issues)
	assert.NotEmpty(t, out.Applied)
	assert.Equal(t, 5, out.Metrics.ResultCount)
}

func TestRescueEmergencyClear(t *testing.T) {
	minP := 500.0
	f := catalog.Filter{
		StoreID:     "store-1",
		MinPrice:    &minP,
		StockStatus: catalog.StockInStock,
		Status:      catalog.StatusActive,
		Attributes:  map[string]string{"color": "chartreuse"},
	}
	engine := NewEngine(EngineConfig{})

	search := func(_ context.Context, nf catalog.Filter) ([]catalog.Hit, error) {
		// Only a fully cleared filter matches anything.
		if nf.MinPrice == nil && nf.StockStatus == "" && nf.Status == "" && len(nf.Attributes) == 0 {
			return goodHits(), nil
		}
		return nil, nil
	}

	out := engine.Rescue(context.Background(), f, nil, intent.Classification{}, search)
	require.NotEmpty(t, out.Applied)
	assert.Contains(t, out.Applied, "emergency-clear")
	assert.Equal(t, "store-1", out.Filter.StoreID, "store scope survives the emergency clear")
	assert.Equal(t, 5, out.Metrics.ResultCount)
}

func TestRescueRespectsMaxPerQuery(t *testing.T) {
	minP := 500.0
	f := catalog.Filter{
		MinPrice:    &minP,
		StockStatus: catalog.StockInStock,
		Attributes:  map[string]string{"color": "grey", "material": "leather"},
	}
	engine := NewEngine(EngineConfig{MaxPerQuery: 1})

	search := func(_ context.Context, _ catalog.Filter) ([]catalog.Hit, error) {
		return []catalog.Hit{hit("acme", "boots", 100, 0.9)}, nil
	}

	out := engine.Rescue(context.Background(), f, nil, intent.Classification{}, search)
	assert.LessOrEqual(t, len(out.Applied), 1)
}

func TestRescueNoIssuesIsNoOp(t *testing.T) {
	engine := NewEngine(EngineConfig{})
	out := engine.Rescue(context.Background(), catalog.Filter{}, goodHits(), intent.Classification{},
		func(_ context.Context, _ catalog.Filter) ([]catalog.Hit, error) {
			t.Fatal("search must not run when quality is fine")
			return nil, nil
		})
	assert.Empty(t, out.Applied)
	assert.Empty(t, out.Issues)
}

func TestRescuePriceScatterNeedsPriceIntent(t *testing.T) {
	scattered := []catalog.Hit{
		hit("acme", "boots", 5, 0.9),
		hit("zenith", "shoes", 10, 0.85),
		hit("orbit", "sandals", 15, 0.8),
		hit("nova", "heels", 2000, 0.78),
	}
	engine := NewEngine(EngineConfig{})
	search := func(_ context.Context, _ catalog.Filter) ([]catalog.Hit, error) {
		return scattered, nil
	}

	out := engine.Rescue(context.Background(), catalog.Filter{}, scattered,
		intent.Classification{Primary: intent.IntentCategory}, search)
	assert.Empty(t, out.Issues, "scatter alone is not an issue off the price intent")

	out = engine.Rescue(context.Background(), catalog.Filter{}, scattered,
		intent.Classification{Primary: intent.IntentPrice}, search)
	assert.Contains(t, out.Issues, IssuePriceScatter)
}

func TestSuccessRatesMoveWithOutcomes(t *testing.T) {
	engine := NewEngine(EngineConfig{})
	engine.observe("broaden-price-25", true)
	engine.observe("broaden-price-25", true)
	engine.observe("drop-strictest", false)

	rates := engine.SuccessRates()
	assert.Greater(t, rates["broaden-price-25"], 0.9)
	assert.Zero(t, rates["drop-strictest"])
}

func TestLoadStrategiesValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strategies.yaml")

	valid := `
strategies:
  - name: wide-net
    action: broaden_price
    priority: 5
    params:
      widen_pct: "50"
  - name: clear-all
    action: remove_all_filters
    priority: 99
`
	require.NoError(t, os.WriteFile(path, []byte(valid), 0o644))
	strategies, err := LoadStrategies(path)
	require.NoError(t, err)
	require.Len(t, strategies, 2)
	assert.Equal(t, "wide-net", strategies[0].Name, "sorted by priority")

	invalid := "strategies:\n  - name: bad\n    action: teleport\n"
	require.NoError(t, os.WriteFile(path, []byte(invalid), 0o644))
	_, err = LoadStrategies(path)
	assert.Error(t, err)
}

func TestWatchStrategiesReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strategies.yaml")
	require.NoError(t, os.WriteFile(path,
		[]byte("strategies:\n  - name: first\n    action: broaden_price\n"), 0o644))

	engine := NewEngine(EngineConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, WatchStrategies(ctx, path, engine, nil))

	require.NoError(t, os.WriteFile(path,
		[]byte("strategies:\n  - name: second\n    action: remove_all_filters\n"), 0o644))

	require.Eventually(t, func() bool {
		engine.mu.RLock()
		defer engine.mu.RUnlock()
		return len(engine.strategies) == 1 && engine.strategies[0].Name == "second"
	}, 3*time.Second, 50*time.Millisecond)
}
