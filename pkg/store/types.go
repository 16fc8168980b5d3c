package store

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that must find a row.
var ErrNotFound = errors.New("not found")

// EventType represents the kind of graph change an event records.
type EventType string

const (
	EventTypeGraphLoaded      EventType = "graph_loaded"
	EventTypeNodeAdded        EventType = "node_added"
	EventTypeNodeUpdated      EventType = "node_updated"
	EventTypeNodesChanged     EventType = "node_changes_applied"
	EventTypeEdgesChanged     EventType = "edge_changes_applied"
	EventTypeEdgeConnected    EventType = "edge_connected"
	EventTypeEdgeUpdated      EventType = "edge_updated"
	EventTypeEdgesRemoved     EventType = "edges_removed"
	EventTypeNodesDeleted     EventType = "nodes_deleted"
	EventTypeSelectionChanged EventType = "selection_changed"
)

// EventID is a unique identifier for an event.
type EventID string

// Event is the envelope persisted for every committed graph change.
// Seq equals the store version the change produced and orders replay.
type Event struct {
	EventID       EventID         `json:"event_id"`
	EventType     EventType       `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	Seq           int64           `json:"seq"`
	TsEvent       time.Time       `json:"ts_event"`
	TsIngest      time.Time       `json:"ts_ingest"`
	Source        EventSource     `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventSource describes the origin of the event.
type EventSource struct {
	OriginKind string `json:"origin_kind"` // api, mcp, bootstrap
	OriginID   string `json:"origin_id"`
	WriterID   string `json:"writer_id"` // Always "policycanvas-d"
}

// WebhookConfig represents a registered webhook endpoint for event notifications.
type WebhookConfig struct {
	WebhookID string    `json:"webhook_id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret"` // Shared secret for HMAC signature verification
	Events    []string  `json:"events"` // Event types to deliver; empty means all
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
}

// Wants reports whether the webhook subscribes to the event type.
func (w WebhookConfig) Wants(t EventType) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == string(t) || e == "*" {
			return true
		}
	}
	return false
}

// Snapshot is a point-in-time capture of the graph. Version is the seq of the
// last event it covers.
type Snapshot struct {
	SnapshotID    string          `json:"snapshot_id"`
	SchemaVersion int             `json:"schema_version"`
	Version       int64           `json:"version"`
	TsSnapshot    time.Time       `json:"ts_snapshot"`
	Payload       json.RawMessage `json:"payload"`
}
