package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ProviderStat is the persisted form of spec.md §3's Provider Stat
// Record: per (job_key, provider_index), the rolling counters
// internal/affinity and internal/bandwidth need to survive a restart.
type ProviderStat struct {
	JobKey             string
	ProviderIndex      int
	SuccessfulSegments int64
	FailedSegments     int64
	TimeoutErrors      int64
	MissingErrors      int64
	TotalBytes         int64
	TotalTimeMs        int64
	RecentSpeedBps     float64
	LastUsed           time.Time
}

// CircuitState is the persisted form of internal/classify's per-provider
// circuit breaker state.
type CircuitState struct {
	ProviderIndex       int
	State               string // "closed", "open", "half_open"
	ConsecutiveFailures int
	OpenedAt            sql.NullTime
	UpdatedAt           time.Time
}

// UpsertProviderStat inserts or replaces the Provider Stat Record for
// (stat.JobKey, stat.ProviderIndex), matching the "latest write wins"
// merge policy this repo's Open Question resolution settled on (see
// DESIGN.md) — no read-modify-write reconciliation with a concurrently
// written snapshot is attempted.
func (r *Repository) UpsertProviderStat(ctx context.Context, stat ProviderStat) error {
	const query = `
		INSERT INTO provider_stats (
			job_key, provider_index, successful_segments, failed_segments,
			timeout_errors, missing_errors, total_bytes, total_time_ms,
			recent_speed_bps, last_used
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_key, provider_index) DO UPDATE SET
			successful_segments = excluded.successful_segments,
			failed_segments     = excluded.failed_segments,
			timeout_errors      = excluded.timeout_errors,
			missing_errors      = excluded.missing_errors,
			total_bytes         = excluded.total_bytes,
			total_time_ms       = excluded.total_time_ms,
			recent_speed_bps    = excluded.recent_speed_bps,
			last_used           = excluded.last_used
	`
	_, err := r.db.ExecContext(ctx, query,
		stat.JobKey, stat.ProviderIndex, stat.SuccessfulSegments, stat.FailedSegments,
		stat.TimeoutErrors, stat.MissingErrors, stat.TotalBytes, stat.TotalTimeMs,
		stat.RecentSpeedBps, stat.LastUsed,
	)
	if err != nil {
		return fmt.Errorf("persistence: upsert provider stat: %w", err)
	}
	return nil
}

// ListProviderStats returns every Provider Stat Record for jobKey,
// ordered by provider_index. internal/affinity has no way to load these
// rows, so its per-job score cache is not rehydrated from them.
func (r *Repository) ListProviderStats(ctx context.Context, jobKey string) ([]ProviderStat, error) {
	const query = `
		SELECT job_key, provider_index, successful_segments, failed_segments,
			timeout_errors, missing_errors, total_bytes, total_time_ms,
			recent_speed_bps, last_used
		FROM provider_stats
		WHERE job_key = ?
		ORDER BY provider_index
	`
	rows, err := r.db.QueryContext(ctx, query, jobKey)
	if err != nil {
		return nil, fmt.Errorf("persistence: list provider stats: %w", err)
	}
	defer rows.Close()

	var out []ProviderStat
	for rows.Next() {
		var s ProviderStat
		var lastUsed sql.NullTime
		if err := rows.Scan(&s.JobKey, &s.ProviderIndex, &s.SuccessfulSegments, &s.FailedSegments,
			&s.TimeoutErrors, &s.MissingErrors, &s.TotalBytes, &s.TotalTimeMs,
			&s.RecentSpeedBps, &lastUsed); err != nil {
			return nil, fmt.Errorf("persistence: scan provider stat: %w", err)
		}
		if lastUsed.Valid {
			s.LastUsed = lastUsed.Time
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveCircuitState upserts a provider's circuit breaker state.
func (r *Repository) SaveCircuitState(ctx context.Context, st CircuitState) error {
	const query = `
		INSERT INTO circuit_breaker_state (
			provider_index, state, consecutive_failures, opened_at, updated_at
		) VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(provider_index) DO UPDATE SET
			state                = excluded.state,
			consecutive_failures = excluded.consecutive_failures,
			opened_at            = excluded.opened_at,
			updated_at           = datetime('now')
	`
	_, err := r.db.ExecContext(ctx, query, st.ProviderIndex, st.State, st.ConsecutiveFailures, st.OpenedAt)
	if err != nil {
		return fmt.Errorf("persistence: save circuit state: %w", err)
	}
	return nil
}

// LoadCircuitStates returns every persisted circuit breaker state,
// keyed by provider index. internal/classify has no way to load these
// states, so breaker state is not restored from them at startup.
func (r *Repository) LoadCircuitStates(ctx context.Context) (map[int]CircuitState, error) {
	const query = `
		SELECT provider_index, state, consecutive_failures, opened_at, updated_at
		FROM circuit_breaker_state
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("persistence: load circuit states: %w", err)
	}
	defer rows.Close()

	out := make(map[int]CircuitState)
	for rows.Next() {
		var st CircuitState
		if err := rows.Scan(&st.ProviderIndex, &st.State, &st.ConsecutiveFailures, &st.OpenedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("persistence: scan circuit state: %w", err)
		}
		out[st.ProviderIndex] = st
	}
	return out, rows.Err()
}
