package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rmax-ai/policycanvas/pkg/graph"
	"github.com/rmax-ai/policycanvas/pkg/store"
)

// SnapshotKeep is how many snapshots the worker retains.
const SnapshotKeep = 3

// SnapshotWorker periodically persists the graph to the store.
type SnapshotWorker struct {
	store    *store.Store
	graph    *graph.Store
	recorder *Recorder
	logger   *slog.Logger
	interval time.Duration

	lastVersion uint64
}

// NewSnapshotWorker creates a new worker. If recorder is set, the worker
// flushes it first so the snapshot never runs ahead of the event log.
func NewSnapshotWorker(st *store.Store, g *graph.Store, recorder *Recorder, logger *slog.Logger, interval time.Duration) *SnapshotWorker {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	return &SnapshotWorker{
		store:    st,
		graph:    g,
		recorder: recorder,
		logger:   logger,
		interval: interval,
	}
}

// Run starts the snapshot loop
func (w *SnapshotWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("snapshot_worker_started", "interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("snapshot_worker_stopped")
			return
		case <-ticker.C:
			taken, err := w.TakeSnapshot(ctx)
			if err != nil {
				w.logger.Error("snapshot_failed", "error", err)
			} else if taken {
				w.logger.Info("snapshot_created", "version", w.lastVersion)
			}
		}
	}
}

// TakeSnapshot saves the current graph unless nothing changed since the last one.
func (w *SnapshotWorker) TakeSnapshot(ctx context.Context) (bool, error) {
	if w.recorder != nil {
		if err := w.recorder.Flush(ctx); err != nil {
			return false, fmt.Errorf("failed to flush recorder: %w", err)
		}
	}

	snap := w.graph.Snapshot()
	if snap.Version == 0 || snap.Version == w.lastVersion {
		return false, nil
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return false, fmt.Errorf("failed to marshal snapshot payload: %w", err)
	}

	record := &store.Snapshot{
		SnapshotID:    "snap_" + uuid.New().String(),
		SchemaVersion: EventSchemaVersion,
		Version:       int64(snap.Version),
		TsSnapshot:    time.Now().UTC(),
		Payload:       payload,
	}
	if err := w.store.SaveSnapshot(ctx, record); err != nil {
		return false, fmt.Errorf("store save failed: %w", err)
	}
	if _, err := w.store.PruneSnapshots(ctx, SnapshotKeep); err != nil {
		w.logger.Warn("snapshot_prune_failed", "error", err)
	}

	w.lastVersion = snap.Version
	return true, nil
}

// LoadLatestSnapshot restores the graph from the latest stored snapshot.
// It returns the restored version, or 0 when there is no snapshot.
func LoadLatestSnapshot(ctx context.Context, st *store.Store, g *graph.Store) (uint64, error) {
	record, err := st.GetLatestSnapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	if record == nil {
		return 0, nil
	}

	var snap graph.Snapshot
	if err := json.Unmarshal(record.Payload, &snap); err != nil {
		return 0, fmt.Errorf("failed to unmarshal snapshot %s: %w", record.SnapshotID, err)
	}
	snap.Version = uint64(record.Version)

	if err := g.Restore(snap); err != nil {
		return 0, fmt.Errorf("failed to restore snapshot %s: %w", record.SnapshotID, err)
	}
	return snap.Version, nil
}
