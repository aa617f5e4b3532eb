package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	serrors "github.com/storefind/storefind/internal/errors"
)

// Store persists events and maintains derived aggregates in SQLite.
// Aggregate updates key on event_id, so replaying a batch after a crash
// leaves every count unchanged.
type Store struct {
	db *sql.DB
}

const analyticsSchema = `
CREATE TABLE IF NOT EXISTS analytics_events (
	event_id      TEXT PRIMARY KEY,
	type          TEXT NOT NULL,
	store_id      TEXT NOT NULL DEFAULT '',
	session_id    TEXT NOT NULL DEFAULT '',
	anonymized_ip TEXT NOT NULL DEFAULT '',
	payload       TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_created ON analytics_events(created_at);
CREATE INDEX IF NOT EXISTS idx_events_type ON analytics_events(type);

CREATE TABLE IF NOT EXISTS clicks (
	event_id   TEXT PRIMARY KEY,
	store_id   TEXT NOT NULL DEFAULT '',
	query      TEXT NOT NULL,
	product_id TEXT NOT NULL,
	position   INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_clicks_created ON clicks(created_at);

CREATE TABLE IF NOT EXISTS popular_queries (
	store_id  TEXT NOT NULL DEFAULT '',
	query     TEXT NOT NULL,
	count     INTEGER NOT NULL DEFAULT 0,
	clicks    INTEGER NOT NULL DEFAULT 0,
	last_seen INTEGER NOT NULL,
	PRIMARY KEY (store_id, query)
);

CREATE TABLE IF NOT EXISTS facet_usage (
	store_id  TEXT NOT NULL DEFAULT '',
	dimension TEXT NOT NULL,
	value     TEXT NOT NULL,
	count     INTEGER NOT NULL DEFAULT 0,
	last_seen INTEGER NOT NULL,
	PRIMARY KEY (store_id, dimension, value)
);

CREATE TABLE IF NOT EXISTS daily_performance (
	day             TEXT NOT NULL,
	store_id        TEXT NOT NULL DEFAULT '',
	searches        INTEGER NOT NULL DEFAULT 0,
	cache_hits      INTEGER NOT NULL DEFAULT 0,
	fallbacks       INTEGER NOT NULL DEFAULT 0,
	zero_results    INTEGER NOT NULL DEFAULT 0,
	total_duration  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (day, store_id)
);
`

// NewStore opens (or creates) the analytics database at path.
// Use ":memory:" for tests.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, serrors.StoreUnavailable(err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, serrors.StoreUnavailable(fmt.Errorf("%s: %w", pragma, err))
		}
	}
	if _, err := db.Exec(analyticsSchema); err != nil {
		_ = db.Close()
		return nil, serrors.StoreUnavailable(fmt.Errorf("create analytics schema: %w", err))
	}
	return &Store{db: db}, nil
}

// WriteBatch persists a batch of events and updates aggregates in one
// transaction. Events already present (by event_id) are skipped, which
// makes replays idempotent.
func (s *Store) WriteBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return serrors.StoreUnavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, ev := range events {
		inserted, err := s.insertEvent(ctx, tx, ev)
		if err != nil {
			return err
		}
		if !inserted {
			continue
		}
		if err := s.updateAggregates(ctx, tx, ev); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return serrors.StoreUnavailable(fmt.Errorf("commit analytics batch: %w", err))
	}
	return nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, ev Event) (bool, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return false, serrors.New(serrors.ErrCodeEncodingFailed, "marshal analytics event", err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO analytics_events
			(event_id, type, store_id, session_id, anonymized_ip, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, string(ev.Type), ev.StoreID, ev.SessionID, ev.AnonymizedIP,
		string(payload), ev.Timestamp.UnixMilli())
	if err != nil {
		return false, serrors.StoreUnavailable(fmt.Errorf("insert analytics event: %w", err))
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) updateAggregates(ctx context.Context, tx *sql.Tx, ev Event) error {
	switch ev.Type {
	case EventSearch:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO popular_queries (store_id, query, count, clicks, last_seen)
			VALUES (?, ?, 1, 0, ?)
			ON CONFLICT(store_id, query) DO UPDATE SET
				count = count + 1,
				last_seen = excluded.last_seen`,
			ev.StoreID, strings.ToLower(ev.Query), ev.Timestamp.UnixMilli()); err != nil {
			return serrors.StoreUnavailable(fmt.Errorf("update popular queries: %w", err))
		}

		zero := 0
		if ev.ResultCount == 0 {
			zero = 1
		}
		cacheHit, fallback := 0, 0
		if ev.CacheHit {
			cacheHit = 1
		}
		if ev.FallbackUsed {
			fallback = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO daily_performance
				(day, store_id, searches, cache_hits, fallbacks, zero_results, total_duration)
			VALUES (?, ?, 1, ?, ?, ?, ?)
			ON CONFLICT(day, store_id) DO UPDATE SET
				searches = searches + 1,
				cache_hits = cache_hits + excluded.cache_hits,
				fallbacks = fallbacks + excluded.fallbacks,
				zero_results = zero_results + excluded.zero_results,
				total_duration = total_duration + excluded.total_duration`,
			ev.Timestamp.UTC().Format("2006-01-02"), ev.StoreID,
			cacheHit, fallback, zero, ev.Duration.Milliseconds()); err != nil {
			return serrors.StoreUnavailable(fmt.Errorf("update daily performance: %w", err))
		}

	case EventClick:
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO clicks
				(event_id, store_id, query, product_id, position, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			ev.EventID, ev.StoreID, strings.ToLower(ev.Query), ev.ProductID,
			ev.Position, ev.Timestamp.UnixMilli()); err != nil {
			return serrors.StoreUnavailable(fmt.Errorf("insert click: %w", err))
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO popular_queries (store_id, query, count, clicks, last_seen)
			VALUES (?, ?, 0, 1, ?)
			ON CONFLICT(store_id, query) DO UPDATE SET
				clicks = clicks + 1,
				last_seen = excluded.last_seen`,
			ev.StoreID, strings.ToLower(ev.Query), ev.Timestamp.UnixMilli()); err != nil {
			return serrors.StoreUnavailable(fmt.Errorf("update query clicks: %w", err))
		}

	case EventFacet:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO facet_usage (store_id, dimension, value, count, last_seen)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT(store_id, dimension, value) DO UPDATE SET
				count = count + 1,
				last_seen = excluded.last_seen`,
			ev.StoreID, ev.FacetDimension, ev.FacetValue, ev.Timestamp.UnixMilli()); err != nil {
			return serrors.StoreUnavailable(fmt.Errorf("update facet usage: %w", err))
		}
	}
	return nil
}

// PopularQuery is one row of the popular-searches aggregate.
type PopularQuery struct {
	Query    string    `json:"query"`
	Count    int       `json:"count"`
	Clicks   int       `json:"clicks"`
	LastSeen time.Time `json:"last_seen"`
}

// PopularQueries returns the top queries for a store by search count.
func (s *Store) PopularQueries(ctx context.Context, storeID string, limit int) ([]PopularQuery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query, count, clicks, last_seen
		FROM popular_queries
		WHERE store_id = ?
		ORDER BY count DESC, query ASC
		LIMIT ?`, storeID, limit)
	if err != nil {
		return nil, serrors.StoreUnavailable(fmt.Errorf("query popular searches: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var out []PopularQuery
	for rows.Next() {
		var (
			pq PopularQuery
			ms int64
		)
		if err := rows.Scan(&pq.Query, &pq.Count, &pq.Clicks, &ms); err != nil {
			return nil, serrors.StoreUnavailable(err)
		}
		pq.LastSeen = time.UnixMilli(ms)
		out = append(out, pq)
	}
	return out, rows.Err()
}

// DailyPerformance is one day of aggregate search metrics.
type DailyPerformance struct {
	Day           string        `json:"day"`
	Searches      int           `json:"searches"`
	CacheHits     int           `json:"cache_hits"`
	Fallbacks     int           `json:"fallbacks"`
	ZeroResults   int           `json:"zero_results"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// Performance returns per-day aggregates for a store, newest first.
func (s *Store) Performance(ctx context.Context, storeID string, days int) ([]DailyPerformance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, searches, cache_hits, fallbacks, zero_results, total_duration
		FROM daily_performance
		WHERE store_id = ?
		ORDER BY day DESC
		LIMIT ?`, storeID, days)
	if err != nil {
		return nil, serrors.StoreUnavailable(fmt.Errorf("query daily performance: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var out []DailyPerformance
	for rows.Next() {
		var (
			dp      DailyPerformance
			totalMs int64
		)
		if err := rows.Scan(&dp.Day, &dp.Searches, &dp.CacheHits, &dp.Fallbacks,
			&dp.ZeroResults, &totalMs); err != nil {
			return nil, serrors.StoreUnavailable(err)
		}
		if dp.Searches > 0 {
			dp.AvgDuration = time.Duration(totalMs/int64(dp.Searches)) * time.Millisecond
		}
		out = append(out, dp)
	}
	return out, rows.Err()
}

// DB exposes the handle for the learning and retention jobs, which share
// this database.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
