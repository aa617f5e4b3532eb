// Package learning derives offline artifacts from analytics history:
// per-intent search baselines, learned query patterns, and operator
// suggestions. The job is idempotent per window, so re-running after a
// crash never duplicates rows.
package learning

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	serrors "github.com/storefind/storefind/internal/errors"
)

// Baseline is one aggregate window for a (store, category, intent) group.
type Baseline struct {
	StoreID        string        `json:"store_id"`
	Category       string        `json:"category"`
	Intent         string        `json:"intent"`
	WindowStart    time.Time     `json:"window_start"`
	WindowEnd      time.Time     `json:"window_end"`
	Searches       int           `json:"searches"`
	AvgDuration    time.Duration `json:"avg_duration"`
	AvgResults     float64       `json:"avg_results"`
	ZeroResultRate float64       `json:"zero_result_rate"`
	AvgTopScore    float64       `json:"avg_top_score"`
	SuccessRate    float64       `json:"success_rate"`
	Trend          string        `json:"trend"`
	Latest         bool          `json:"latest"`
}

// successThreshold is the top similarity above which a search counts as
// successful for the baseline success rate.
const successThreshold = 0.7

// Pattern is a mined relationship between two queries.
type Pattern struct {
	ID          string    `json:"id"`
	StoreID     string    `json:"store_id"`
	Type        string    `json:"type"`
	SourceQuery string    `json:"source_query"`
	TargetQuery string    `json:"target_query"`
	Confidence  float64   `json:"confidence"`
	SuccessRate float64   `json:"success_rate"`
	LastUsedAt  time.Time `json:"last_used_at"`
}

// Suggestion is one operator-facing recommendation, scored so the
// operator can rank what to act on first.
type Suggestion struct {
	ID      string `json:"id"`
	StoreID string `json:"store_id"`
	Type    string `json:"type"`
	Subject string `json:"subject"`
	Detail  string `json:"detail"`

	// ExpectedImprovement estimates the relative gain in search success
	// if the suggestion is adopted.
	ExpectedImprovement float64 `json:"expected_improvement"`
	// Confidence reflects how much evidence backs the suggestion.
	Confidence float64 `json:"confidence"`
	// Priority is high, medium, or low.
	Priority string `json:"priority"`
	// Effort is the rough implementation cost: low, medium, or high.
	Effort string `json:"effort"`
	// Status starts at open; operators move it along.
	Status string `json:"status"`

	CreatedAt time.Time `json:"created_at"`
}

// Suggestion types.
const (
	SuggestSynonymExpansion    = "synonym_expansion"
	SuggestCachingOptimization = "caching_optimization"
	SuggestQueryRefinement     = "query_refinement"
)

// Suggestion priorities and the initial status.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"

	StatusOpen = "open"
)

const learningSchema = `
CREATE TABLE IF NOT EXISTS search_baselines (
	store_id         TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL DEFAULT '',
	intent           TEXT NOT NULL DEFAULT 'other',
	window_start     INTEGER NOT NULL,
	window_end       INTEGER NOT NULL,
	searches         INTEGER NOT NULL,
	avg_duration_ms  INTEGER NOT NULL DEFAULT 0,
	avg_results      REAL NOT NULL DEFAULT 0,
	zero_result_rate REAL NOT NULL DEFAULT 0,
	avg_top_score    REAL NOT NULL DEFAULT 0,
	success_rate     REAL NOT NULL DEFAULT 0,
	trend            TEXT NOT NULL DEFAULT 'stable',
	latest           INTEGER NOT NULL DEFAULT 0,
	created_at       INTEGER NOT NULL,
	PRIMARY KEY (store_id, category, intent, window_start)
);

CREATE TABLE IF NOT EXISTS learned_patterns (
	id           TEXT PRIMARY KEY,
	store_id     TEXT NOT NULL DEFAULT '',
	type         TEXT NOT NULL,
	source_query TEXT NOT NULL,
	target_query TEXT NOT NULL,
	confidence   REAL NOT NULL,
	success_rate REAL NOT NULL DEFAULT 0,
	observations INTEGER NOT NULL DEFAULT 1,
	last_used_at INTEGER NOT NULL,
	created_at   INTEGER NOT NULL,
	UNIQUE (store_id, type, source_query, target_query)
);

CREATE TABLE IF NOT EXISTS suggestions (
	id                   TEXT PRIMARY KEY,
	store_id             TEXT NOT NULL DEFAULT '',
	type                 TEXT NOT NULL,
	subject              TEXT NOT NULL,
	detail               TEXT NOT NULL,
	expected_improvement REAL NOT NULL DEFAULT 0,
	confidence           REAL NOT NULL DEFAULT 0,
	priority             TEXT NOT NULL DEFAULT 'medium',
	effort               TEXT NOT NULL DEFAULT 'low',
	status               TEXT NOT NULL DEFAULT 'open',
	created_at           INTEGER NOT NULL,
	UNIQUE (store_id, type, subject)
);
`

// Store persists learning artifacts in the analytics database.
type Store struct {
	db *sql.DB
}

// NewStore creates the learning tables in the given database.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(learningSchema); err != nil {
		return nil, serrors.StoreUnavailable(fmt.Errorf("create learning schema: %w", err))
	}
	return &Store{db: db}, nil
}

// ComputeBaselines aggregates search events per (store, category, intent)
// over the window and writes one row per group with at least minEvents
// events. The category axis comes from the recorded top-result category,
// so an empty category groups uncategorized traffic. Re-running for the
// same window replaces rather than duplicates.
func (s *Store) ComputeBaselines(ctx context.Context, windowStart, windowEnd time.Time, minEvents int) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			store_id,
			COALESCE(json_extract(payload, '$.category'), '') AS category,
			COALESCE(NULLIF(json_extract(payload, '$.intent'), ''), 'other') AS intent,
			COUNT(*) AS searches,
			AVG(COALESCE(json_extract(payload, '$.duration'), 0)) AS avg_duration_ns,
			AVG(COALESCE(json_extract(payload, '$.result_count'), 0)) AS avg_results,
			AVG(CASE WHEN COALESCE(json_extract(payload, '$.result_count'), 0) = 0 THEN 1.0 ELSE 0.0 END) AS zero_rate,
			AVG(COALESCE(json_extract(payload, '$.top_score'), 0)) AS avg_top_score,
			AVG(CASE WHEN COALESCE(json_extract(payload, '$.top_score'), 0) >= ? THEN 1.0 ELSE 0.0 END) AS success_rate
		FROM analytics_events
		WHERE type = 'search' AND created_at >= ? AND created_at < ?
		GROUP BY store_id, category, intent
		HAVING COUNT(*) >= ?`,
		successThreshold, windowStart.UnixMilli(), windowEnd.UnixMilli(), minEvents)
	if err != nil {
		return 0, serrors.StoreUnavailable(fmt.Errorf("aggregate baselines: %w", err))
	}
	defer func() { _ = rows.Close() }()

	type group struct {
		storeID, category, intent string
		searches                  int
		avgDurationNs             float64
		avgResults                float64
		zeroRate                  float64
		avgTopScore               float64
		successRate               float64
	}
	var groups []group
	for rows.Next() {
		var g group
		if err := rows.Scan(&g.storeID, &g.category, &g.intent, &g.searches,
			&g.avgDurationNs, &g.avgResults, &g.zeroRate, &g.avgTopScore, &g.successRate); err != nil {
			return 0, serrors.StoreUnavailable(err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return 0, serrors.StoreUnavailable(err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, serrors.StoreUnavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, g := range groups {
		trend, err := s.trendFor(ctx, tx, g.storeID, g.category, g.intent,
			windowStart, g.zeroRate, g.successRate)
		if err != nil {
			return 0, err
		}
		// The new window becomes the group's latest baseline.
		if _, err := tx.ExecContext(ctx, `
			UPDATE search_baselines SET latest = 0
			WHERE store_id = ? AND category = ? AND intent = ?`,
			g.storeID, g.category, g.intent); err != nil {
			return 0, serrors.StoreUnavailable(fmt.Errorf("clear latest flag: %w", err))
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO search_baselines
				(store_id, category, intent, window_start, window_end, searches,
				 avg_duration_ms, avg_results, zero_result_rate, avg_top_score,
				 success_rate, trend, latest, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
			ON CONFLICT(store_id, category, intent, window_start) DO UPDATE SET
				window_end = excluded.window_end,
				searches = excluded.searches,
				avg_duration_ms = excluded.avg_duration_ms,
				avg_results = excluded.avg_results,
				zero_result_rate = excluded.zero_result_rate,
				avg_top_score = excluded.avg_top_score,
				success_rate = excluded.success_rate,
				trend = excluded.trend,
				latest = 1`,
			g.storeID, g.category, g.intent, windowStart.UnixMilli(), windowEnd.UnixMilli(),
			g.searches, int64(g.avgDurationNs/1e6), g.avgResults, g.zeroRate,
			g.avgTopScore, g.successRate, trend, now); err != nil {
			return 0, serrors.StoreUnavailable(fmt.Errorf("write baseline: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, serrors.StoreUnavailable(err)
	}
	return len(groups), nil
}

// trendFor compares the new window against the previous baseline for the
// group: fewer zero results or a higher success rate reads as improving.
func (s *Store) trendFor(ctx context.Context, tx *sql.Tx, storeID, category, intent string,
	windowStart time.Time, zeroRate, successRate float64) (string, error) {

	var prevZero, prevSuccess float64
	err := tx.QueryRowContext(ctx, `
		SELECT zero_result_rate, success_rate FROM search_baselines
		WHERE store_id = ? AND category = ? AND intent = ? AND window_start < ?
		ORDER BY window_start DESC LIMIT 1`,
		storeID, category, intent, windowStart.UnixMilli()).Scan(&prevZero, &prevSuccess)
	if err == sql.ErrNoRows {
		return "stable", nil
	}
	if err != nil {
		return "", serrors.StoreUnavailable(fmt.Errorf("load previous baseline: %w", err))
	}

	const margin = 0.05
	switch {
	case zeroRate < prevZero-margin || successRate > prevSuccess+margin:
		return "improving", nil
	case zeroRate > prevZero+margin || successRate < prevSuccess-margin:
		return "declining", nil
	default:
		return "stable", nil
	}
}

// LatestBaselines returns the current baseline per (category, intent)
// group for a store.
func (s *Store) LatestBaselines(ctx context.Context, storeID string) ([]Baseline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT store_id, category, intent, window_start, window_end, searches,
			avg_duration_ms, avg_results, zero_result_rate, avg_top_score,
			success_rate, trend
		FROM search_baselines
		WHERE store_id = ? AND latest = 1
		ORDER BY category, intent`, storeID)
	if err != nil {
		return nil, serrors.StoreUnavailable(err)
	}
	defer func() { _ = rows.Close() }()

	var out []Baseline
	for rows.Next() {
		var (
			b              Baseline
			startMs, endMs int64
			avgDurMs       int64
		)
		if err := rows.Scan(&b.StoreID, &b.Category, &b.Intent, &startMs, &endMs, &b.Searches,
			&avgDurMs, &b.AvgResults, &b.ZeroResultRate, &b.AvgTopScore,
			&b.SuccessRate, &b.Trend); err != nil {
			return nil, serrors.StoreUnavailable(err)
		}
		b.WindowStart = time.UnixMilli(startMs)
		b.WindowEnd = time.UnixMilli(endMs)
		b.AvgDuration = time.Duration(avgDurMs) * time.Millisecond
		b.Latest = true
		out = append(out, b)
	}
	return out, rows.Err()
}

// MinePatterns finds query pairs in the popular aggregate whose token
// sets overlap strongly and records them as synonym candidates.
func (s *Store) MinePatterns(ctx context.Context, minSimilarity float64) (int, error) {
	if minSimilarity <= 0 {
		minSimilarity = 0.8
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT store_id, query, count, clicks FROM popular_queries
		WHERE count >= 2 ORDER BY store_id, count DESC LIMIT 500`)
	if err != nil {
		return 0, serrors.StoreUnavailable(fmt.Errorf("load popular queries: %w", err))
	}
	defer func() { _ = rows.Close() }()

	type pq struct {
		storeID string
		query   string
		count   int
		clicks  int
	}
	var queries []pq
	for rows.Next() {
		var q pq
		if err := rows.Scan(&q.storeID, &q.query, &q.count, &q.clicks); err != nil {
			return 0, serrors.StoreUnavailable(err)
		}
		queries = append(queries, q)
	}
	if err := rows.Err(); err != nil {
		return 0, serrors.StoreUnavailable(err)
	}

	now := time.Now().UnixMilli()
	written := 0
	for i := 0; i < len(queries); i++ {
		for j := i + 1; j < len(queries); j++ {
			a, b := queries[i], queries[j]
			if a.storeID != b.storeID || a.query == b.query {
				continue
			}
			sim := tokenJaccard(a.query, b.query)
			if sim < minSimilarity {
				continue
			}
			successRate := 0.0
			if total := a.count + b.count; total > 0 {
				successRate = float64(a.clicks+b.clicks) / float64(total)
				if successRate > 1 {
					successRate = 1
				}
			}
			_, err := s.db.ExecContext(ctx, `
				INSERT INTO learned_patterns
					(id, store_id, type, source_query, target_query,
					 confidence, success_rate, observations, last_used_at, created_at)
				VALUES (?, ?, 'related_query', ?, ?, ?, ?, 1, ?, ?)
				ON CONFLICT(store_id, type, source_query, target_query) DO UPDATE SET
					confidence = excluded.confidence,
					success_rate = excluded.success_rate,
					observations = observations + 1,
					last_used_at = excluded.last_used_at`,
				uuid.NewString(), a.storeID, a.query, b.query, sim, successRate, now, now)
			if err != nil {
				return written, serrors.StoreUnavailable(fmt.Errorf("write pattern: %w", err))
			}
			written++
		}
	}
	return written, nil
}

// tokenJaccard measures token-set overlap between two queries.
func tokenJaccard(a, b string) float64 {
	as := tokenSet(a)
	bs := tokenSet(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	inter := 0
	for tok := range as {
		if bs[tok] {
			inter++
		}
	}
	union := len(as) + len(bs) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		out[tok] = true
	}
	return out
}

// GenerateSuggestions derives operator recommendations from the current
// aggregates, each scored with expected improvement, confidence, and a
// priority. Idempotent: one suggestion per (store, type, subject).
func (s *Store) GenerateSuggestions(ctx context.Context) (int, error) {
	written := 0

	// Popular queries that keep returning nothing want refinement.
	zeroRows, err := s.db.QueryContext(ctx, `
		SELECT pq.store_id, pq.query, pq.count
		FROM popular_queries pq
		WHERE pq.count >= 5 AND pq.clicks = 0
		ORDER BY pq.count DESC LIMIT 50`)
	if err != nil {
		return 0, serrors.StoreUnavailable(err)
	}
	defer func() { _ = zeroRows.Close() }()
	for zeroRows.Next() {
		var (
			storeID, query string
			count          int
		)
		if err := zeroRows.Scan(&storeID, &query, &count); err != nil {
			return written, serrors.StoreUnavailable(err)
		}
		priority := PriorityMedium
		if count >= 20 {
			priority = PriorityHigh
		}
		n, err := s.insertSuggestion(ctx, Suggestion{
			StoreID:             storeID,
			Type:                SuggestQueryRefinement,
			Subject:             query,
			Detail:              fmt.Sprintf("%q was searched %d times without a single click", query, count),
			ExpectedImprovement: 0.3,
			Confidence:          evidence(count, 20),
			Priority:            priority,
			Effort:              "medium",
		})
		if err != nil {
			return written, err
		}
		written += n
	}
	if err := zeroRows.Err(); err != nil {
		return written, serrors.StoreUnavailable(err)
	}

	// Very hot queries are caching candidates.
	hotRows, err := s.db.QueryContext(ctx, `
		SELECT store_id, query, count FROM popular_queries
		WHERE count >= 20 ORDER BY count DESC LIMIT 20`)
	if err != nil {
		return written, serrors.StoreUnavailable(err)
	}
	defer func() { _ = hotRows.Close() }()
	for hotRows.Next() {
		var (
			storeID, query string
			count          int
		)
		if err := hotRows.Scan(&storeID, &query, &count); err != nil {
			return written, serrors.StoreUnavailable(err)
		}
		n, err := s.insertSuggestion(ctx, Suggestion{
			StoreID:             storeID,
			Type:                SuggestCachingOptimization,
			Subject:             query,
			Detail:              fmt.Sprintf("%q accounts for %d searches; consider a longer cache TTL", query, count),
			ExpectedImprovement: 0.15,
			Confidence:          evidence(count, 50),
			Priority:            PriorityMedium,
			Effort:              "low",
		})
		if err != nil {
			return written, err
		}
		written += n
	}
	if err := hotRows.Err(); err != nil {
		return written, serrors.StoreUnavailable(err)
	}

	// Confident related-query patterns become synonym candidates.
	patRows, err := s.db.QueryContext(ctx, `
		SELECT store_id, source_query, target_query, confidence FROM learned_patterns
		WHERE confidence >= 0.8 ORDER BY confidence DESC LIMIT 50`)
	if err != nil {
		return written, serrors.StoreUnavailable(err)
	}
	defer func() { _ = patRows.Close() }()
	for patRows.Next() {
		var (
			storeID, source, target string
			confidence              float64
		)
		if err := patRows.Scan(&storeID, &source, &target, &confidence); err != nil {
			return written, serrors.StoreUnavailable(err)
		}
		priority := PriorityMedium
		if confidence >= 0.9 {
			priority = PriorityHigh
		}
		n, err := s.insertSuggestion(ctx, Suggestion{
			StoreID:             storeID,
			Type:                SuggestSynonymExpansion,
			Subject:             source + "|" + target,
			Detail:              fmt.Sprintf("%q and %q behave like the same query; consider a synonym rule", source, target),
			ExpectedImprovement: 0.2,
			Confidence:          confidence,
			Priority:            priority,
			Effort:              "low",
		})
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, patRows.Err()
}

// evidence scales an observation count onto [0, 1] against the volume at
// which the signal is considered conclusive.
func evidence(count, saturation int) float64 {
	c := float64(count) / float64(saturation)
	if c > 1 {
		return 1
	}
	return c
}

func (s *Store) insertSuggestion(ctx context.Context, sg Suggestion) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO suggestions
			(id, store_id, type, subject, detail, expected_improvement,
			 confidence, priority, effort, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), sg.StoreID, sg.Type, sg.Subject, sg.Detail,
		sg.ExpectedImprovement, sg.Confidence, sg.Priority, sg.Effort,
		StatusOpen, time.Now().UnixMilli())
	if err != nil {
		return 0, serrors.StoreUnavailable(fmt.Errorf("write suggestion: %w", err))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Suggestions lists recommendations for a store, highest priority first,
// then newest.
func (s *Store) Suggestions(ctx context.Context, storeID string, limit int) ([]Suggestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, type, subject, detail, expected_improvement,
			confidence, priority, effort, status, created_at
		FROM suggestions WHERE store_id = ?
		ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END,
			created_at DESC
		LIMIT ?`, storeID, limit)
	if err != nil {
		return nil, serrors.StoreUnavailable(err)
	}
	defer func() { _ = rows.Close() }()

	var out []Suggestion
	for rows.Next() {
		var (
			sg Suggestion
			ms int64
		)
		if err := rows.Scan(&sg.ID, &sg.StoreID, &sg.Type, &sg.Subject, &sg.Detail,
			&sg.ExpectedImprovement, &sg.Confidence, &sg.Priority, &sg.Effort,
			&sg.Status, &ms); err != nil {
			return nil, serrors.StoreUnavailable(err)
		}
		sg.CreatedAt = time.UnixMilli(ms)
		out = append(out, sg)
	}
	return out, rows.Err()
}
