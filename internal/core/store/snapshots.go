package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pulsegate/pulsegate/internal/core"
)

// Snapshot kinds stored in the archive.
const (
	KindInsights     = "github_insights"
	KindRepositories = "github_repositories"
	KindBoard        = "board_aggregate"
)

// SnapshotInfo describes an archived payload without decoding it.
type SnapshotInfo = core.SnapshotInfo

// SaveSnapshot archives value as JSON under (kind, key), replacing any previous payload.
func (s *Store) SaveSnapshot(ctx context.Context, kind, key string, value any, storedAt time.Time) error {
	if s == nil || s.DB == nil {
		return errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	kind, key, err := snapshotKey(kind, key)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO snapshots (kind, key, payload, stored_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, key) DO UPDATE SET
			payload = excluded.payload,
			stored_at = excluded.stored_at
	`, kind, key, string(payload), storedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}

	return nil
}

// LoadSnapshot decodes the payload under (kind, key) into out. Payloads stored
// before notBefore are ignored; a zero notBefore accepts any age. found is
// false when nothing usable is archived.
func (s *Store) LoadSnapshot(ctx context.Context, kind, key string, notBefore time.Time, out any) (time.Time, bool, error) {
	if s == nil || s.DB == nil {
		return time.Time{}, false, errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	kind, key, err := snapshotKey(kind, key)
	if err != nil {
		return time.Time{}, false, err
	}

	var (
		payload  string
		storedAt int64
	)
	row := s.DB.QueryRowContext(ctx, `
		SELECT payload, stored_at
		FROM snapshots
		WHERE kind = ? AND key = ? AND stored_at >= ?
	`, kind, key, notBeforeUnix(notBefore))

	if err := row.Scan(&payload, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("fetch snapshot: %w", err)
	}

	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return time.Time{}, false, fmt.Errorf("decode snapshot: %w", err)
	}

	return time.Unix(storedAt, 0).UTC(), true, nil
}

// ListSnapshots returns archived payload metadata, optionally filtered by kind.
func (s *Store) ListSnapshots(ctx context.Context, kind string) ([]SnapshotInfo, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	query := `SELECT kind, key, LENGTH(payload), stored_at FROM snapshots`
	var args []any
	if kind = strings.TrimSpace(kind); kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY kind, key`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	infos := []SnapshotInfo{}
	for rows.Next() {
		var (
			info     SnapshotInfo
			storedAt int64
		)
		if err := rows.Scan(&info.Kind, &info.Key, &info.Size, &storedAt); err != nil {
			return nil, fmt.Errorf("scan snapshots: %w", err)
		}
		info.StoredAt = time.Unix(storedAt, 0).UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	return infos, nil
}

// PruneSnapshots deletes payloads stored before cutoff.
func (s *Store) PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM snapshots WHERE stored_at < ?`, cutoff.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return affected, nil
}

func snapshotKey(kind, key string) (string, string, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return "", "", errors.New("snapshot kind is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", errors.New("snapshot key is required")
	}
	return kind, key, nil
}

func notBeforeUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().Unix()
}
