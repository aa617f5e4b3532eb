// Package adaptive rescues poor result sets by relaxing filters through
// declarative strategies. It scores a result set, detects issues, and
// applies strategies in priority order until quality improves enough or
// the attempt budget runs out.
package adaptive

import (
	"math"

	"github.com/storefind/storefind/internal/catalog"
)

// Metrics scores one result set. All components and the final Score are
// in [0, 1].
type Metrics struct {
	ResultCount int `json:"result_count"`

	// AvgSimilarity averages the top-k retrieval similarities.
	AvgSimilarity float64 `json:"avg_similarity"`
	TopSimilarity float64 `json:"top_similarity"`

	// CategoryCoverage is the distinct product-type share of the results.
	CategoryCoverage float64 `json:"category_coverage"`

	// Diversity is the distinct vendor share of the results.
	Diversity float64 `json:"diversity"`

	// PriceCoherence is high when prices cluster, low when they scatter.
	PriceCoherence float64 `json:"price_coherence"`

	// Score is the weighted blend used to compare result sets.
	Score float64 `json:"score"`
}

const metricsTopK = 10

// Evaluate scores a result set.
func Evaluate(hits []catalog.Hit) Metrics {
	m := Metrics{ResultCount: len(hits)}
	if len(hits) == 0 {
		return m
	}

	top := hits
	if len(top) > metricsTopK {
		top = top[:metricsTopK]
	}

	var simSum float64
	types := map[string]bool{}
	vendors := map[string]bool{}
	prices := make([]float64, 0, len(top))
	for _, h := range top {
		simSum += h.Similarity
		if h.Product != nil {
			types[h.Product.ProductType] = true
			vendors[h.Product.Vendor] = true
			prices = append(prices, h.Product.Price)
		}
	}

	m.AvgSimilarity = clamp01(simSum / float64(len(top)))
	m.TopSimilarity = clamp01(hits[0].Similarity)
	m.CategoryCoverage = float64(len(types)) / float64(len(top))
	m.Diversity = float64(len(vendors)) / float64(len(top))
	m.PriceCoherence = priceCoherence(prices)

	// Relevance dominates; volume and shape refine.
	volume := math.Min(float64(len(hits))/float64(metricsTopK), 1)
	m.Score = 0.45*m.AvgSimilarity +
		0.20*volume +
		0.15*m.Diversity +
		0.10*m.CategoryCoverage +
		0.10*m.PriceCoherence
	return m
}

// priceCoherence maps the coefficient of variation onto [0, 1]: tight
// price clusters score near 1, wild scatter near 0.
func priceCoherence(prices []float64) float64 {
	if len(prices) < 2 {
		return 1
	}
	var sum float64
	for _, p := range prices {
		sum += p
	}
	mean := sum / float64(len(prices))
	if mean == 0 {
		return 1
	}
	var variance float64
	for _, p := range prices {
		variance += (p - mean) * (p - mean)
	}
	variance /= float64(len(prices))
	cv := math.Sqrt(variance) / mean
	return clamp01(1 - cv/2)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Issue names a detected result-quality problem.
type Issue string

const (
	IssueNoResults    Issue = "no_results"
	IssueFewResults   Issue = "few_results"
	IssueLowRelevance Issue = "low_relevance"
	IssueLowDiversity Issue = "low_diversity"
	IssueLowCoverage  Issue = "low_category_coverage"
	IssuePriceScatter Issue = "price_scatter"
)

// DetectIssues inspects metrics against fixed thresholds. minResults is
// the smallest acceptable result count for the request. Price scatter
// only matters on price-driven queries: a broad category query has no
// business clustering on price, so priceIntent gates that check.
func DetectIssues(m Metrics, minResults int, priceIntent bool) []Issue {
	var issues []Issue
	switch {
	case m.ResultCount == 0:
		return []Issue{IssueNoResults}
	case m.ResultCount < minResults:
		issues = append(issues, IssueFewResults)
	}
	if m.AvgSimilarity < 0.45 {
		issues = append(issues, IssueLowRelevance)
	}
	if m.ResultCount >= 3 && m.Diversity < 0.34 {
		issues = append(issues, IssueLowDiversity)
	}
	if m.ResultCount >= 3 && m.CategoryCoverage < 0.25 {
		issues = append(issues, IssueLowCoverage)
	}
	if priceIntent && m.PriceCoherence < 0.3 {
		issues = append(issues, IssuePriceScatter)
	}
	return issues
}
