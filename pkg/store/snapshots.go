package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SaveSnapshot stores a snapshot of the graph.
func (s *Store) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (snapshot_id, schema_version, version, ts_snapshot, payload)
		VALUES (?, ?, ?, ?, ?)`,
		snap.SnapshotID, snap.SchemaVersion, snap.Version, snap.TsSnapshot.UTC(), string(snap.Payload),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", snap.SnapshotID, err)
	}
	return nil
}

// GetLatestSnapshot returns the snapshot with the highest version, or nil if none exists.
func (s *Store) GetLatestSnapshot(ctx context.Context) (*Snapshot, error) {
	var (
		snap    Snapshot
		payload string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot_id, schema_version, version, ts_snapshot, payload
		FROM snapshots ORDER BY version DESC, ts_snapshot DESC LIMIT 1`,
	).Scan(&snap.SnapshotID, &snap.SchemaVersion, &snap.Version, &snap.TsSnapshot, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	snap.Payload = []byte(payload)
	return &snap, nil
}

// PruneSnapshots keeps the newest keep snapshots and deletes the rest.
func (s *Store) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots WHERE snapshot_id NOT IN (
			SELECT snapshot_id FROM snapshots ORDER BY version DESC, ts_snapshot DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return res.RowsAffected()
}
