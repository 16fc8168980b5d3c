package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a temporary database for testing
func setupTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "policycanvas.db")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, dbPath
}

func testEvent(seq int64) *Event {
	return &Event{
		EventID:       EventID(fmt.Sprintf("evt_%d", seq)),
		EventType:     EventTypeNodeAdded,
		SchemaVersion: 1,
		Seq:           seq,
		TsEvent:       time.Now().UTC(),
		TsIngest:      time.Now().UTC().Add(time.Duration(seq) * time.Second),
		Source:        EventSource{OriginKind: "test", OriginID: "test", WriterID: "test"},
		Payload:       json.RawMessage(fmt.Sprintf(`{"version":%d}`, seq)),
	}
}

func TestNewStore(t *testing.T) {
	store, dbPath := setupTestStore(t)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("database file was not created at %s", dbPath)
	}

	for _, table := range []string{"events", "snapshots", "webhooks", "system_state"} {
		var name string
		err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	var index string
	err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_events_seq'").Scan(&index)
	if err != nil {
		t.Errorf("idx_events_seq not found: %v", err)
	}

	// Reopening an existing database must not fail the migration.
	store.Close()
	again, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	again.Close()
}

func TestAppendAndGetEvent(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	val, err := store.GetEvent(ctx, "non_existent")
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil for non-existent event, got %v", val)
	}

	evt := testEvent(1)
	evt.CorrelationID = "req-1"
	if err := store.AppendEvent(ctx, evt); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	got, err := store.GetEvent(ctx, "evt_1")
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if got == nil {
		t.Fatalf("expected event, got nil")
	}
	if got.Seq != 1 || got.EventType != EventTypeNodeAdded || got.CorrelationID != "req-1" {
		t.Errorf("unexpected event: %+v", got)
	}
	if string(got.Payload) != `{"version":1}` {
		t.Errorf("unexpected payload %s", got.Payload)
	}
	if got.Source.WriterID != "test" {
		t.Errorf("unexpected source %+v", got.Source)
	}
}

func TestAppendEventIdempotent(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	if err := store.AppendEvent(ctx, testEvent(1)); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	if err := store.AppendEvent(ctx, testEvent(1)); err != nil {
		t.Fatalf("duplicate AppendEvent should be ignored, got %v", err)
	}

	// Same seq under a different id is a retried write too.
	dup := testEvent(1)
	dup.EventID = "evt_other"
	if err := store.AppendEvent(ctx, dup); err != nil {
		t.Fatalf("duplicate seq should be ignored, got %v", err)
	}

	n, err := store.CountEvents(ctx)
	if err != nil {
		t.Fatalf("CountEvents failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 event, got %d", n)
	}
}

func TestReadEvents(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	start := time.Now().UTC()

	for i := int64(1); i <= 5; i++ {
		if err := store.AppendEvent(ctx, testEvent(i)); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	recent, err := store.ReadRecentEvents(ctx, 3)
	if err != nil {
		t.Fatalf("ReadRecentEvents failed: %v", err)
	}
	if len(recent) != 3 || recent[0].EventID != "evt_5" || recent[2].EventID != "evt_3" {
		t.Errorf("expected evt_5..evt_3, got %d events", len(recent))
	}

	all, err := store.ReadRecentEvents(ctx, 0)
	if err != nil || len(all) != 5 {
		t.Errorf("expected all 5 events with default limit, got %d (%v)", len(all), err)
	}

	after, err := store.ReadEventsAfterSeq(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ReadEventsAfterSeq failed: %v", err)
	}
	if len(after) != 3 || after[0].Seq != 3 || after[2].Seq != 5 {
		t.Errorf("expected seq 3..5 ascending, got %d events", len(after))
	}

	limited, _ := store.ReadEventsAfterSeq(ctx, 0, 2)
	if len(limited) != 2 || limited[1].Seq != 2 {
		t.Errorf("expected first two events, got %d", len(limited))
	}

	since, err := store.ReadEventsSince(ctx, start.Add(4*time.Second), 0)
	if err != nil {
		t.Fatalf("ReadEventsSince failed: %v", err)
	}
	if len(since) == 0 || since[len(since)-1].Seq != 5 {
		t.Errorf("expected events ending at seq 5, got %d", len(since))
	}

	upTo, _ := store.ReadEventsUpToSeq(ctx, 2)
	if len(upTo) != 2 {
		t.Errorf("expected 2 events up to seq 2, got %d", len(upTo))
	}

	latest, err := store.LatestSeq(ctx)
	if err != nil || latest != 5 {
		t.Errorf("expected latest seq 5, got %d (%v)", latest, err)
	}
}

func TestDeleteEventsUpToSeq(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	latest, err := store.LatestSeq(ctx)
	if err != nil || latest != 0 {
		t.Errorf("expected 0 for empty log, got %d (%v)", latest, err)
	}

	for i := int64(1); i <= 4; i++ {
		store.AppendEvent(ctx, testEvent(i))
	}
	n, err := store.DeleteEventsUpToSeq(ctx, 3)
	if err != nil {
		t.Fatalf("DeleteEventsUpToSeq failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 deleted, got %d", n)
	}
	left, _ := store.ReadEventsAfterSeq(ctx, 0, 0)
	if len(left) != 1 || left[0].Seq != 4 {
		t.Errorf("expected only seq 4 left, got %d", len(left))
	}
}

func TestSnapshots(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	snap, err := store.GetLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("GetLatestSnapshot failed: %v", err)
	}
	if snap != nil {
		t.Errorf("expected nil snapshot, got %v", snap)
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range []int64{3, 9, 6} {
		err := store.SaveSnapshot(ctx, &Snapshot{
			SnapshotID:    fmt.Sprintf("snap_%d", v),
			SchemaVersion: 1,
			Version:       v,
			TsSnapshot:    base.Add(time.Duration(i) * time.Minute),
			Payload:       json.RawMessage(fmt.Sprintf(`{"version":%d}`, v)),
		})
		if err != nil {
			t.Fatalf("SaveSnapshot failed: %v", err)
		}
	}

	snap, err = store.GetLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("GetLatestSnapshot failed: %v", err)
	}
	if snap.SnapshotID != "snap_9" || snap.Version != 9 {
		t.Errorf("expected snap_9, got %+v", snap)
	}
	if string(snap.Payload) != `{"version":9}` {
		t.Errorf("unexpected payload %s", snap.Payload)
	}

	n, err := store.PruneSnapshots(ctx, 2)
	if err != nil {
		t.Fatalf("PruneSnapshots failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}
}

func TestSystemState(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	val, err := store.GetSystemState(ctx, "missing_key")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing key, got %v", err)
	}
	if val != "" {
		t.Errorf("expected empty string, got %s", val)
	}

	key := "dispatcher_cursor"
	for _, value := range []string{"10", "20"} {
		if err := store.SetSystemState(ctx, key, value); err != nil {
			t.Fatalf("SetSystemState failed: %v", err)
		}
		got, err := store.GetSystemState(ctx, key)
		if err != nil {
			t.Fatalf("GetSystemState failed: %v", err)
		}
		if got != value {
			t.Errorf("expected %s, got %s", value, got)
		}
	}
}

func TestWebhooks(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	wh := &WebhookConfig{
		WebhookID: "wh_1",
		URL:       "http://example.com",
		Secret:    "secret",
		Events:    []string{"nodes_deleted"},
		CreatedAt: time.Now().UTC(),
		Active:    true,
	}
	if err := store.RegisterWebhook(ctx, wh); err != nil {
		t.Fatalf("RegisterWebhook failed: %v", err)
	}

	list, err := store.ListWebhooks(ctx)
	if err != nil {
		t.Fatalf("ListWebhooks failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 webhook, got %d", len(list))
	}
	if list[0].WebhookID != "wh_1" || !list[0].Active || len(list[0].Events) != 1 {
		t.Errorf("unexpected webhook %+v", list[0])
	}
	if !list[0].Wants(EventTypeNodesDeleted) || list[0].Wants(EventTypeNodeAdded) {
		t.Errorf("event filter not applied")
	}

	if err := store.DeleteWebhook(ctx, "wh_1"); err != nil {
		t.Fatalf("DeleteWebhook failed: %v", err)
	}
	if err := store.DeleteWebhook(ctx, "wh_1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	listEmpty, err := store.ListWebhooks(ctx)
	if err != nil {
		t.Fatalf("ListWebhooks failed: %v", err)
	}
	if len(listEmpty) != 0 {
		t.Errorf("expected 0 webhooks, got %d", len(listEmpty))
	}
}

func TestWebhookWantsAll(t *testing.T) {
	if !(WebhookConfig{}).Wants(EventTypeGraphLoaded) {
		t.Error("empty filter should match everything")
	}
	if !(WebhookConfig{Events: []string{"*"}}).Wants(EventTypeEdgeUpdated) {
		t.Error("wildcard should match everything")
	}
}
