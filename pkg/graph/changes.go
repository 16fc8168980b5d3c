package graph

import "time"

// ChangeType is the kind of change descriptor a rendering surface emits.
type ChangeType string

const (
	ChangePosition ChangeType = "position"
	ChangeRemove   ChangeType = "remove"
	ChangeSelect   ChangeType = "select"
)

// NodeChange is one entry of a node change batch.
// Position is only read for position changes, Selected only for select changes.
type NodeChange struct {
	ID       string     `json:"id"`
	Type     ChangeType `json:"type" validate:"oneof=position remove select"`
	Position *Position  `json:"position,omitempty"`
	Dragging bool       `json:"dragging,omitempty"`
	Selected bool       `json:"selected,omitempty"`
}

// EdgeChange is one entry of an edge change batch. Edges have no position.
type EdgeChange struct {
	ID       string     `json:"id"`
	Type     ChangeType `json:"type" validate:"oneof=remove select"`
	Selected bool       `json:"selected,omitempty"`
}

// Op names a committed store transition.
type Op string

const (
	OpLoad        Op = "load"
	OpAddNode     Op = "add_node"
	OpUpdateNode  Op = "update_node"
	OpNodeChanges Op = "node_changes"
	OpEdgeChanges Op = "edge_changes"
	OpConnect     Op = "connect"
	OpUpdateEdge  Op = "update_edge"
	OpRemoveEdges Op = "remove_edges"
	OpDeleteNodes Op = "delete_nodes"
	OpSelect      Op = "select"
)

// Change records one committed transition with enough data to replay it.
type Change struct {
	Version uint64    `json:"version"`
	Op      Op        `json:"op"`
	At      time.Time `json:"at"`

	Node        *Node          `json:"node,omitempty"`
	Edge        *Edge          `json:"edge,omitempty"`
	ID          string         `json:"id,omitempty"`
	IDs         []string       `json:"ids,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	EdgePatch   *EdgePatch     `json:"edge_patch,omitempty"`
	NodeChanges []NodeChange   `json:"node_changes,omitempty"`
	EdgeChanges []EdgeChange   `json:"edge_changes,omitempty"`
	Graph       *Graph         `json:"graph,omitempty"`

	// Cascade results, informational.
	RemovedNodes []string `json:"removed_nodes,omitempty"`
	RemovedEdges []string `json:"removed_edges,omitempty"`
}

// Removal lists what a delete removed, cascaded edges included.
type Removal struct {
	Nodes []string `json:"nodes"`
	Edges []string `json:"edges"`
}
