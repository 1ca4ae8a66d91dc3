package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pulsegate/pulsegate/internal/core"
)

// QuotaQuery selects quota observations by upstream.
type QuotaQuery struct {
	All      bool
	Upstream string
}

func (q QuotaQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Upstream) != "" {
		return nil
	}
	return errors.New("must specify --all or --upstream")
}

func (q QuotaQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	return "WHERE upstream = ?", []any{strings.ToLower(strings.TrimSpace(q.Upstream))}, nil
}

// RecordQuota persists the latest quota observation for an upstream.
func (s *Store) RecordQuota(ctx context.Context, obs core.QuotaObservation) error {
	if s == nil || s.DB == nil {
		return errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	upstream := strings.ToLower(strings.TrimSpace(obs.Upstream))
	if upstream == "" {
		return errors.New("upstream is required")
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = time.Now().UTC()
	}

	var resetAt sql.NullInt64
	if !obs.ResetAt.IsZero() {
		resetAt = sql.NullInt64{Int64: obs.ResetAt.UTC().Unix(), Valid: true}
	}
	var statusCode sql.NullInt64
	if obs.StatusCode > 0 {
		statusCode = sql.NullInt64{Int64: int64(obs.StatusCode), Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO quota_observations (upstream, remaining, reset_at, throttled, status_code, observed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(upstream) DO UPDATE SET
			remaining = excluded.remaining,
			reset_at = excluded.reset_at,
			throttled = excluded.throttled,
			status_code = excluded.status_code,
			observed_at = excluded.observed_at
	`, upstream, obs.Remaining, resetAt, boolToInt(obs.Throttled), statusCode, obs.ObservedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("store quota observation: %w", err)
	}

	return nil
}

// ListQuota returns stored observations ordered by upstream.
func (s *Store) ListQuota(ctx context.Context, q QuotaQuery) ([]core.QuotaObservation, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT upstream, remaining, reset_at, throttled, status_code, observed_at
		FROM quota_observations
		%s
		ORDER BY upstream
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list quota observations: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	observations := []core.QuotaObservation{}
	for rows.Next() {
		var (
			obs        core.QuotaObservation
			resetAt    sql.NullInt64
			throttled  int
			statusCode sql.NullInt64
			observedAt int64
		)
		if err := rows.Scan(&obs.Upstream, &obs.Remaining, &resetAt, &throttled, &statusCode, &observedAt); err != nil {
			return nil, fmt.Errorf("scan quota observations: %w", err)
		}
		if resetAt.Valid {
			obs.ResetAt = time.Unix(resetAt.Int64, 0).UTC()
		}
		if statusCode.Valid {
			obs.StatusCode = int(statusCode.Int64)
		}
		obs.Throttled = throttled != 0
		obs.ObservedAt = time.Unix(observedAt, 0).UTC()
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list quota observations: %w", err)
	}

	return observations, nil
}

// ResetQuota deletes matching observations and returns the number removed.
func (s *Store) ResetQuota(ctx context.Context, q QuotaQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM quota_observations
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset quota observations: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset quota observations: %w", err)
	}
	return affected, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
