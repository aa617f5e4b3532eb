// Package retention deletes aged analytics and learning data on a fixed
// cadence. Each table has a policy; learned patterns additionally require
// a low success rate before deletion, so a proven pattern survives even
// when stale. Session identifiers expire on a much shorter horizon than
// the events that carry them: the event stays for aggregation, the
// session linkage is scrubbed.
package retention

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	serrors "github.com/storefind/storefind/internal/errors"
)

// Policy describes one table's retention rule.
type Policy struct {
	// Table is the target table name.
	Table string
	// AgeColumn holds the unix-millisecond timestamp the age check uses.
	AgeColumn string
	// MaxAge is the retention horizon.
	MaxAge time.Duration
	// ExtraCondition, when set, must also hold for a row to be deleted.
	ExtraCondition string
	ExtraArgs      []any
}

// Config configures the retention job.
type Config struct {
	AnalyticsDays             int
	ClicksDays                int
	PerformanceDays           int
	SessionHours              int
	LearnedPatternsStaleDays  int
	LearnedPatternsMinSuccess float64
	BaselineDays              int
	Cadence                   time.Duration
	Logger                    *slog.Logger
}

// Job applies the retention policies against the analytics database.
type Job struct {
	db            *sql.DB
	policies      []Policy
	sessionMaxAge time.Duration
	cadence       time.Duration
	logger        *slog.Logger
}

// NewJob builds the policy table from config.
func NewJob(db *sql.DB, cfg Config) *Job {
	if cfg.AnalyticsDays <= 0 {
		cfg.AnalyticsDays = 90
	}
	if cfg.ClicksDays <= 0 {
		cfg.ClicksDays = 90
	}
	if cfg.PerformanceDays <= 0 {
		cfg.PerformanceDays = 365
	}
	if cfg.SessionHours <= 0 {
		cfg.SessionHours = 24
	}
	if cfg.LearnedPatternsStaleDays <= 0 {
		cfg.LearnedPatternsStaleDays = 30
	}
	if cfg.LearnedPatternsMinSuccess <= 0 {
		cfg.LearnedPatternsMinSuccess = 0.5
	}
	if cfg.BaselineDays <= 0 {
		cfg.BaselineDays = 180
	}
	if cfg.Cadence <= 0 {
		cfg.Cadence = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	day := 24 * time.Hour
	policies := []Policy{
		{Table: "analytics_events", AgeColumn: "created_at", MaxAge: time.Duration(cfg.AnalyticsDays) * day},
		{Table: "clicks", AgeColumn: "created_at", MaxAge: time.Duration(cfg.ClicksDays) * day},
		{Table: "popular_queries", AgeColumn: "last_seen", MaxAge: time.Duration(cfg.PerformanceDays) * day},
		{Table: "facet_usage", AgeColumn: "last_seen", MaxAge: time.Duration(cfg.PerformanceDays) * day},
		{Table: "search_baselines", AgeColumn: "created_at", MaxAge: time.Duration(cfg.BaselineDays) * day},
		{Table: "suggestions", AgeColumn: "created_at", MaxAge: time.Duration(cfg.BaselineDays) * day},
		{
			// A stale pattern survives while it keeps earning clicks.
			Table:          "learned_patterns",
			AgeColumn:      "last_used_at",
			MaxAge:         time.Duration(cfg.LearnedPatternsStaleDays) * day,
			ExtraCondition: "success_rate < ?",
			ExtraArgs:      []any{cfg.LearnedPatternsMinSuccess},
		},
	}

	return &Job{
		db:            db,
		policies:      policies,
		sessionMaxAge: time.Duration(cfg.SessionHours) * time.Hour,
		cadence:       cfg.Cadence,
		logger:        cfg.Logger,
	}
}

// Start runs the job now and then on every cadence tick until ctx is done.
func (j *Job) Start(ctx context.Context) {
	go func() {
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.Warn("retention_run_failed", slog.Any("error", err))
		}
		ticker := time.NewTicker(j.cadence)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := j.RunOnce(ctx); err != nil {
					j.logger.Warn("retention_run_failed", slog.Any("error", err))
				}
			}
		}
	}()
}

// RunOnce expires aged session linkage, applies every policy, and
// returns the total rows deleted. Expired sessions do not count toward
// the total: the rows survive, anonymized.
func (j *Job) RunOnce(ctx context.Context) (int64, error) {
	var total int64
	now := time.Now()

	expired, err := j.expireSessions(ctx, now)
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		j.logger.Info("sessions_expired", slog.Int64("rows", expired))
	}

	for _, p := range j.policies {
		deleted, err := j.apply(ctx, p, now)
		if err != nil {
			return total, err
		}
		if deleted > 0 {
			j.logger.Info("retention_deleted",
				slog.String("table", p.Table),
				slog.Int64("rows", deleted))
		}
		total += deleted
	}
	return total, nil
}

// expireSessions scrubs the session identifier, column and payload both,
// from events older than the session horizon.
func (j *Job) expireSessions(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-j.sessionMaxAge).UnixMilli()
	res, err := j.db.ExecContext(ctx, `
		UPDATE analytics_events
		SET session_id = '', payload = json_remove(payload, '$.session_id')
		WHERE session_id != '' AND created_at < ?`, cutoff)
	if err != nil {
		return 0, serrors.StoreUnavailable(fmt.Errorf("expire sessions: %w", err))
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (j *Job) apply(ctx context.Context, p Policy, now time.Time) (int64, error) {
	cutoff := now.Add(-p.MaxAge).UnixMilli()
	query := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", p.Table, p.AgeColumn)
	args := []any{cutoff}
	if p.ExtraCondition != "" {
		query += " AND " + p.ExtraCondition
		args = append(args, p.ExtraArgs...)
	}

	res, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, serrors.StoreUnavailable(fmt.Errorf("retention on %s: %w", p.Table, err))
	}
	n, _ := res.RowsAffected()
	return n, nil
}
