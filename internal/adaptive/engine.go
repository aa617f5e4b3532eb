package adaptive

import (
	"context"
	"log/slog"
	"sync"

	"github.com/storefind/storefind/internal/catalog"
	"github.com/storefind/storefind/internal/intent"
)

// SearchFunc re-runs a search with a transformed filter and returns the
// new result set.
type SearchFunc func(ctx context.Context, f catalog.Filter) ([]catalog.Hit, error)

// Outcome describes one rescue attempt over a poor result set.
type Outcome struct {
	// Applied lists the strategies that were accepted, in order.
	Applied []string `json:"applied,omitempty"`
	// Issues are the problems detected on the original result set.
	Issues []Issue `json:"issues,omitempty"`
	// Hits is the final result set, rescued or original.
	Hits []catalog.Hit `json:"-"`
	// Metrics scores the final result set.
	Metrics Metrics `json:"metrics"`
	// Filter is the filter that produced the final result set.
	Filter catalog.Filter `json:"-"`
}

// Engine applies strategies to poor result sets and tracks per-strategy
// success rates with an exponential moving average.
type Engine struct {
	mu           sync.RWMutex
	strategies   []Strategy
	successRates map[string]float64

	minImprovementPct float64
	maxPerQuery       int
	minResults        int
	logger            *slog.Logger
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Strategies overrides the built-in set. Nil means builtins.
	Strategies []Strategy
	// MinImprovementPct is the score gain required to accept a rescue.
	MinImprovementPct float64
	// MaxPerQuery bounds accepted strategies per request.
	MaxPerQuery int
	// MinResults is the result count below which few_results triggers.
	MinResults int
	Logger     *slog.Logger
}

// NewEngine creates the adaptive engine.
func NewEngine(cfg EngineConfig) *Engine {
	strategies := cfg.Strategies
	if strategies == nil {
		strategies = Builtins()
	}
	sortStrategies(strategies)
	if cfg.MinImprovementPct <= 0 {
		cfg.MinImprovementPct = 10
	}
	if cfg.MaxPerQuery <= 0 {
		cfg.MaxPerQuery = 3
	}
	if cfg.MinResults <= 0 {
		cfg.MinResults = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		strategies:        strategies,
		successRates:      make(map[string]float64),
		minImprovementPct: cfg.MinImprovementPct,
		maxPerQuery:       cfg.MaxPerQuery,
		minResults:        cfg.MinResults,
		logger:            cfg.Logger,
	}
}

// SetStrategies replaces the strategy set, for hot reload.
func (e *Engine) SetStrategies(strategies []Strategy) {
	sortStrategies(strategies)
	e.mu.Lock()
	e.strategies = strategies
	e.mu.Unlock()
	e.logger.Info("strategies_reloaded", slog.Int("count", len(strategies)))
}

// Rescue evaluates the result set and, when issues are detected, applies
// triggered strategies in priority order. A strategy's outcome is kept
// only when it improves the score by at least the configured margin;
// otherwise the previous result set stands and the next strategy runs.
// The classification gates intent-specific checks like price scatter.
func (e *Engine) Rescue(ctx context.Context, f catalog.Filter, hits []catalog.Hit,
	cls intent.Classification, search SearchFunc) Outcome {

	priceIntent := cls.Primary == intent.IntentPrice
	current := Outcome{
		Hits:    hits,
		Metrics: Evaluate(hits),
		Filter:  f,
	}
	current.Issues = DetectIssues(current.Metrics, e.minResults, priceIntent)
	if len(current.Issues) == 0 {
		return current
	}

	e.mu.RLock()
	strategies := make([]Strategy, len(e.strategies))
	copy(strategies, e.strategies)
	e.mu.RUnlock()

	issueSet := map[Issue]bool{}
	for _, issue := range current.Issues {
		issueSet[issue] = true
	}

	for _, s := range strategies {
		if ctx.Err() != nil {
			break
		}
		if len(current.Applied) >= e.maxPerQuery {
			break
		}
		if !triggered(s, issueSet) {
			continue
		}

		candidate, ok := e.attempt(ctx, s, current, search)
		if !ok {
			e.observe(s.Name, false)
			continue
		}
		if !e.accept(current.Metrics, candidate.Metrics) {
			e.observe(s.Name, false)
			continue
		}

		e.observe(s.Name, true)
		candidate.Applied = append(current.Applied, s.Name)
		candidate.Issues = current.Issues
		current = candidate

		// Re-derive issues so later strategies react to the rescued set.
		issueSet = map[Issue]bool{}
		for _, issue := range DetectIssues(current.Metrics, e.minResults, priceIntent) {
			issueSet[issue] = true
		}
		if len(issueSet) == 0 {
			break
		}
	}
	return current
}

// attempt runs one strategy against the current outcome.
func (e *Engine) attempt(ctx context.Context, s Strategy, current Outcome, search SearchFunc) (Outcome, bool) {
	if s.Action == ActionForceDiversity {
		reordered := ForceDiversity(current.Hits)
		return Outcome{
			Hits:    reordered,
			Metrics: Evaluate(reordered),
			Filter:  current.Filter,
		}, true
	}

	newFilter, changed := TransformFilter(s, current.Filter)
	if !changed {
		return Outcome{}, false
	}

	hits, err := search(ctx, newFilter)
	if err != nil {
		e.logger.Warn("rescue_search_failed",
			slog.String("strategy", s.Name),
			slog.Any("error", err))
		return Outcome{}, false
	}
	return Outcome{
		Hits:    hits,
		Metrics: Evaluate(hits),
		Filter:  newFilter,
	}, true
}

// accept requires a relative score improvement of minImprovementPct.
// Rescuing an empty result set accepts any non-empty outcome.
func (e *Engine) accept(before, after Metrics) bool {
	if before.ResultCount == 0 {
		return after.ResultCount > 0
	}
	if before.Score == 0 {
		return after.Score > 0
	}
	gain := (after.Score - before.Score) / before.Score * 100
	return gain >= e.minImprovementPct
}

func triggered(s Strategy, issues map[Issue]bool) bool {
	if len(s.Triggers) == 0 {
		return true
	}
	for _, t := range s.Triggers {
		if issues[t] {
			return true
		}
	}
	return false
}

// ewmaAlpha weights recent outcomes; one observation moves the rate by
// at most this fraction.
const ewmaAlpha = 0.2

func (e *Engine) observe(name string, success bool) {
	v := 0.0
	if success {
		v = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if rate, ok := e.successRates[name]; ok {
		e.successRates[name] = rate + ewmaAlpha*(v-rate)
	} else {
		e.successRates[name] = v
	}
}

// SuccessRates returns a snapshot of per-strategy moving-average success.
func (e *Engine) SuccessRates() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]float64, len(e.successRates))
	for k, v := range e.successRates {
		out[k] = v
	}
	return out
}
