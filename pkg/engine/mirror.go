package engine

import (
	"context"
	"log/slog"

	"github.com/rmax-ai/policycanvas/pkg/graph"
)

// SnapshotSink receives full graph snapshots, e.g. the redis snapshot cache.
type SnapshotSink interface {
	Set(ctx context.Context, snap graph.Snapshot) error
}

// Mirror copies every snapshot the store publishes into a sink. Snapshots that
// arrive while a write is in flight are coalesced by the subscription.
type Mirror struct {
	graph  *graph.Store
	sink   SnapshotSink
	logger *slog.Logger
}

func NewMirror(g *graph.Store, sink SnapshotSink, logger *slog.Logger) *Mirror {
	return &Mirror{graph: g, sink: sink, logger: logger}
}

// Run mirrors until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) {
	sub := m.graph.Subscribe(ctx)
	defer sub.Close()

	m.logger.Info("mirror_started")
	for snap := range sub.C() {
		if err := m.sink.Set(ctx, snap); err != nil {
			if ctx.Err() != nil {
				break
			}
			m.logger.Error("mirror_write_failed", "version", snap.Version, "error", err)
		}
	}
	m.logger.Info("mirror_stopped")
}
