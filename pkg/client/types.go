package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rmax-ai/policycanvas/pkg/graph"
)

// Status represents the health check response.
type Status struct {
	// Status is the health status string (e.g. "ok").
	Status string `json:"status"`
	// Version is the graph version the daemon is at.
	Version uint64 `json:"version"`
}

// NewNode describes a node to create. An empty ID lets the daemon name it.
type NewNode struct {
	ID       string         `json:"id,omitempty"`
	Type     graph.NodeType `json:"type"`
	Position graph.Position `json:"position"`
	Data     map[string]any `json:"data,omitempty"`
}

// Selection is the daemon's current selection.
type Selection struct {
	SelectedID string `json:"selected_id"`
	Kind       string `json:"kind,omitempty"`
	State      string `json:"state"`
	Version    uint64 `json:"version"`
}

// Event represents a recorded graph change.
type Event struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	Seq           int64           `json:"seq"`
	TsEvent       time.Time       `json:"ts_event"`
	TsIngest      time.Time       `json:"ts_ingest"`
	Source        EventSource     `json:"source"`
	Payload       json.RawMessage `json:"payload"`
}

type EventSource struct {
	OriginKind string `json:"origin_kind"`
	OriginID   string `json:"origin_id"`
	WriterID   string `json:"writer_id"`
}

// Change decodes the graph change the event recorded.
func (e Event) Change() (graph.Change, error) {
	var c graph.Change
	if err := json.Unmarshal(e.Payload, &c); err != nil {
		return c, fmt.Errorf("failed to decode event %s: %w", e.EventID, err)
	}
	c.Version = uint64(e.Seq)
	return c, nil
}

// Webhook is a registered webhook as listed by the daemon.
type Webhook struct {
	WebhookID string    `json:"webhook_id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
}

// WebhookRegistration is returned once when a webhook is registered.
type WebhookRegistration struct {
	WebhookID string `json:"webhook_id"`
	Secret    string `json:"secret"`
}

// ReportOptions narrows a report.
type ReportOptions struct {
	From    time.Time
	To      time.Time
	Filters map[string]string // action, protocol, node_type, event_type
}

// APIError is a non-2xx reply from the daemon. Graph errors unwrap to the
// matching graph error type, so errors.Is(err, graph.ErrInvalidReference)
// holds across the wire.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	ID         string `json:"id,omitempty"`
	Field      string `json:"field,omitempty"`
	Details    string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Details)
	}
	return fmt.Sprintf("%s (%d)", e.Code, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case "invalid_reference":
		return &graph.ReferenceError{Kind: graph.KindElement, ID: e.ID}
	case "duplicate_id":
		return &graph.DuplicateIDError{Kind: graph.KindElement, ID: e.ID}
	case "invalid_value":
		return &graph.ValueError{Field: e.Field}
	}
	return nil
}
