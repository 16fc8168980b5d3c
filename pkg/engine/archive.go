package engine

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rmax-ai/policycanvas/pkg/blob"
	"github.com/rmax-ai/policycanvas/pkg/store"
)

// ArchiveConfig holds configuration for the ArchiveWorker.
type ArchiveConfig struct {
	Enabled       bool          `json:"enabled"`
	CheckInterval time.Duration `json:"check_interval"`
}

// ArchiveWorker moves events already covered by a snapshot out of the log and
// into blob storage.
type ArchiveWorker struct {
	store     *store.Store
	blobStore blob.BlobStore
	config    ArchiveConfig
	logger    *slog.Logger
}

// NewArchiveWorker creates a new ArchiveWorker.
func NewArchiveWorker(st *store.Store, blobStore blob.BlobStore, config ArchiveConfig, logger *slog.Logger) *ArchiveWorker {
	if config.CheckInterval == 0 {
		config.CheckInterval = time.Hour
	}
	return &ArchiveWorker{
		store:     st,
		blobStore: blobStore,
		config:    config,
		logger:    logger,
	}
}

// Run starts the archive worker loop.
func (w *ArchiveWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			key, n, err := w.ArchiveOnce(ctx)
			if err != nil {
				w.logger.Error("archive_failed", "error", err)
			} else if n > 0 {
				w.logger.Info("events_archived", "key", key, "count", n)
			}
		}
	}
}

// ArchiveOnce archives every event at or below the latest snapshot version.
// It returns the blob key written and the number of events moved.
func (w *ArchiveWorker) ArchiveOnce(ctx context.Context) (string, int, error) {
	snap, err := w.store.GetLatestSnapshot(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	if snap == nil {
		return "", 0, nil
	}

	events, err := w.store.ReadEventsUpToSeq(ctx, snap.Version)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read candidate events: %w", err)
	}
	if len(events) == 0 {
		return "", 0, nil
	}

	var buf bytes.Buffer
	gzWriter := gzip.NewWriter(&buf)
	encoder := json.NewEncoder(gzWriter)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			gzWriter.Close()
			return "", 0, fmt.Errorf("failed to encode event %s: %w", event.EventID, err)
		}
	}
	if err := gzWriter.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to close gzip writer: %w", err)
	}

	// archives/YYYY/MM/DD/<first seq>_<last seq>_<uuid>.jsonl.gz
	first, last := events[0], events[len(events)-1]
	year, month, day := first.TsIngest.UTC().Date()
	key := fmt.Sprintf("archives/%04d/%02d/%02d/%d_%d_%s.jsonl.gz",
		year, month, day, first.Seq, last.Seq, uuid.New().String())

	if err := w.blobStore.Put(ctx, key, &buf); err != nil {
		return "", 0, fmt.Errorf("failed to upload archive to blob store: %w", err)
	}

	if _, err := w.store.DeleteEventsUpToSeq(ctx, last.Seq); err != nil {
		return "", 0, fmt.Errorf("failed to delete archived events: %w", err)
	}

	return key, len(events), nil
}

// ReadArchive decodes the events stored under an archive key.
func ReadArchive(ctx context.Context, bs blob.BlobStore, key string) ([]*store.Event, error) {
	rc, err := bs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	gz, err := gzip.NewReader(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", key, err)
	}
	defer gz.Close()

	var events []*store.Event
	dec := json.NewDecoder(gz)
	for dec.More() {
		var evt store.Event
		if err := dec.Decode(&evt); err != nil {
			return nil, fmt.Errorf("failed to decode archive %s: %w", key, err)
		}
		events = append(events, &evt)
	}
	return events, nil
}
