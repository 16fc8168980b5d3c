package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rmax-ai/policycanvas/pkg/graph"
	"github.com/rmax-ai/policycanvas/pkg/store"
)

// DefaultRecorderQueue is the number of committed changes buffered ahead of the writer.
const DefaultRecorderQueue = 4096

// Recorder persists committed graph changes to the event log. The store commits
// first and the recorder follows, so a crash can lose the tail of the queue but
// never leaves the log ahead of what clients were told.
type Recorder struct {
	store  *store.Store
	logger *slog.Logger
	source store.EventSource
	queue  chan graph.Change
	done   chan struct{}

	enqueued atomic.Uint64
	written  atomic.Uint64
}

// NewRecorder creates a recorder with a queue of the given size.
func NewRecorder(st *store.Store, logger *slog.Logger, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultRecorderQueue
	}
	return &Recorder{
		store:  st,
		logger: logger,
		source: store.EventSource{OriginKind: "daemon", OriginID: "graph_store", WriterID: WriterID},
		queue:  make(chan graph.Change, queueSize),
		done:   make(chan struct{}),
	}
}

// Hook is the commit hook to register on the graph store.
// It blocks when the queue is full and drops changes once Run has returned.
func (r *Recorder) Hook() graph.CommitHook {
	return func(c graph.Change, _ graph.Snapshot) {
		select {
		case <-r.done:
			r.logger.Error("recorder_stopped_change_dropped", "version", c.Version, "op", string(c.Op))
			return
		default:
		}
		select {
		case r.queue <- c:
			r.enqueued.Store(c.Version)
		case <-r.done:
			r.logger.Error("recorder_stopped_change_dropped", "version", c.Version, "op", string(c.Op))
		}
	}
}

// Run writes queued changes until ctx is cancelled, then drains what is left.
func (r *Recorder) Run(ctx context.Context) {
	r.logger.Info("recorder_started")
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			r.drain()
			r.logger.Info("recorder_stopped")
			return
		case c := <-r.queue:
			r.write(ctx, c)
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case c := <-r.queue:
			r.write(ctx, c)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, c graph.Change) {
	evt, err := EventFromChange(c, r.source)
	if err == nil {
		err = r.store.AppendEvent(ctx, evt)
	}
	if err != nil {
		RecorderErrors.Inc()
		r.logger.Error("failed_to_append_change_event", "version", c.Version, "op", string(c.Op), "error", err)
	}
	r.written.Store(c.Version)
}

// Flush waits until every change enqueued so far has been written.
func (r *Recorder) Flush(ctx context.Context) error {
	target := r.enqueued.Load()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for r.written.Load() < target {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case <-ticker.C:
		}
	}
	return nil
}
