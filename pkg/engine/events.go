package engine

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rmax-ai/policycanvas/pkg/graph"
	"github.com/rmax-ai/policycanvas/pkg/store"
)

// EventSchemaVersion is stamped on every event and snapshot written by the engine.
const EventSchemaVersion = 1

// WriterID identifies the daemon as the writer of persisted events.
const WriterID = "policycanvas-d"

var opEventTypes = map[graph.Op]store.EventType{
	graph.OpLoad:        store.EventTypeGraphLoaded,
	graph.OpAddNode:     store.EventTypeNodeAdded,
	graph.OpUpdateNode:  store.EventTypeNodeUpdated,
	graph.OpNodeChanges: store.EventTypeNodesChanged,
	graph.OpEdgeChanges: store.EventTypeEdgesChanged,
	graph.OpConnect:     store.EventTypeEdgeConnected,
	graph.OpUpdateEdge:  store.EventTypeEdgeUpdated,
	graph.OpRemoveEdges: store.EventTypeEdgesRemoved,
	graph.OpDeleteNodes: store.EventTypeNodesDeleted,
	graph.OpSelect:      store.EventTypeSelectionChanged,
}

// EventTypeFor maps a store op to the event type it is persisted as.
func EventTypeFor(op graph.Op) (store.EventType, error) {
	t, ok := opEventTypes[op]
	if !ok {
		return "", fmt.Errorf("no event type for op %q", op)
	}
	return t, nil
}

// EventFromChange wraps a committed change in an event envelope. The payload is
// the change itself so it can be replayed verbatim.
func EventFromChange(c graph.Change, source store.EventSource) (*store.Event, error) {
	eventType, err := EventTypeFor(c.Op)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change v%d: %w", c.Version, err)
	}
	if source.WriterID == "" {
		source.WriterID = WriterID
	}
	return &store.Event{
		EventID:       store.EventID("evt_" + uuid.New().String()),
		EventType:     eventType,
		SchemaVersion: EventSchemaVersion,
		Seq:           int64(c.Version),
		TsEvent:       c.At.UTC(),
		Source:        source,
		Payload:       payload,
	}, nil
}

// ChangeFromEvent decodes the change carried by an event. The event seq wins
// over the version in the payload.
func ChangeFromEvent(evt *store.Event) (graph.Change, error) {
	var c graph.Change
	if err := json.Unmarshal(evt.Payload, &c); err != nil {
		return graph.Change{}, fmt.Errorf("failed to decode event %s: %w", evt.EventID, err)
	}
	c.Version = uint64(evt.Seq)
	return c, nil
}
