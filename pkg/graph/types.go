package graph

import (
	"fmt"
	"maps"
	"time"
)

// NodeType represents the kind of network object a node stands for.
type NodeType string

const (
	NodeHost    NodeType = "host"
	NodeNetwork NodeType = "network"
	NodeGroup   NodeType = "group"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeHost, NodeNetwork, NodeGroup:
		return true
	}
	return false
}

// Action is the verdict of a policy edge.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// Valid reports whether a is allow or deny.
func (a Action) Valid() bool {
	return a == ActionAllow || a == ActionDeny
}

// Protocol is the transport a policy edge applies to.
type Protocol string

const (
	ProtocolTCP  Protocol = "tcp"
	ProtocolUDP  Protocol = "udp"
	ProtocolICMP Protocol = "icmp"
	ProtocolAny  Protocol = "any"
)

// Valid reports whether p is a known protocol.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolTCP, ProtocolUDP, ProtocolICMP, ProtocolAny:
		return true
	}
	return false
}

// EdgeTypeDefault is the rendering type given to edges drawn by the connect gesture.
const EdgeTypeDefault = "default"

// Position is a canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node represents a host, network or group on the canvas.
type Node struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	Position Position       `json:"position"`
	Data     map[string]any `json:"data"`
	Selected bool           `json:"selected"`
}

// Label returns the display label stored in the node data, or the id.
func (n Node) Label() string {
	if l, ok := n.Data["label"].(string); ok && l != "" {
		return l
	}
	return n.ID
}

func (n Node) clone() Node {
	n.Data = maps.Clone(n.Data)
	if n.Data == nil {
		n.Data = make(map[string]any)
	}
	return n
}

// EdgeData is the policy carried by an edge.
type EdgeData struct {
	Action   Action   `json:"action"`
	Protocol Protocol `json:"protocol"`
	Ports    string   `json:"ports"`
}

// DefaultEdgeData is applied to edges created without explicit data.
func DefaultEdgeData() EdgeData {
	return EdgeData{Action: ActionAllow, Protocol: ProtocolTCP}
}

func (d EdgeData) withDefaults() EdgeData {
	if d.Action == "" {
		d.Action = ActionAllow
	}
	if d.Protocol == "" {
		d.Protocol = ProtocolTCP
	}
	return d
}

func (d EdgeData) validate() error {
	if !d.Action.Valid() {
		return &ValueError{Field: "action", Value: string(d.Action)}
	}
	if !d.Protocol.Valid() {
		return &ValueError{Field: "protocol", Value: string(d.Protocol)}
	}
	return nil
}

// EdgePatch is a partial EdgeData; nil fields are left untouched.
type EdgePatch struct {
	Action   *Action   `json:"action,omitempty"`
	Protocol *Protocol `json:"protocol,omitempty"`
	Ports    *string   `json:"ports,omitempty"`
}

func (p EdgePatch) apply(d EdgeData) (EdgeData, error) {
	if p.Action != nil {
		if !p.Action.Valid() {
			return d, &ValueError{Field: "action", Value: string(*p.Action)}
		}
		d.Action = *p.Action
	}
	if p.Protocol != nil {
		if !p.Protocol.Valid() {
			return d, &ValueError{Field: "protocol", Value: string(*p.Protocol)}
		}
		d.Protocol = *p.Protocol
	}
	if p.Ports != nil {
		d.Ports = *p.Ports
	}
	return d, nil
}

// Edge represents a directed policy relationship between two nodes.
type Edge struct {
	ID       string   `json:"id"`
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	Type     string   `json:"type,omitempty"`
	Animated bool     `json:"animated,omitempty"`
	Data     EdgeData `json:"data"`
	Selected bool     `json:"selected"`
}

// Connection is a connect gesture between two nodes. ID and Data are optional.
type Connection struct {
	ID     string    `json:"id,omitempty"`
	Source string    `json:"source"`
	Target string    `json:"target"`
	Data   *EdgeData `json:"data,omitempty"`
}

// EdgeID returns the id an edge gets when the connection does not name one.
func EdgeID(source, target string) string {
	return fmt.Sprintf("e-%s-%s", source, target)
}

// NewNodeID builds the id a dropped node receives: "<type>-<unix millis>".
func NewNodeID(t NodeType, at time.Time) string {
	return fmt.Sprintf("%s-%d", t, at.UnixMilli())
}

// Graph is a plain node and edge list, used for loading and seeding.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Snapshot is an immutable copy of the store state at one version.
type Snapshot struct {
	Version    uint64 `json:"version"`
	Nodes      []Node `json:"nodes"`
	Edges      []Edge `json:"edges"`
	SelectedID string `json:"selected_id,omitempty"`
}

// Node looks up a node in the snapshot.
func (s Snapshot) Node(id string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Edge looks up an edge in the snapshot.
func (s Snapshot) Edge(id string) (Edge, bool) {
	for _, e := range s.Edges {
		if e.ID == id {
			return e, true
		}
	}
	return Edge{}, false
}

// DeletionCandidates returns the node ids the delete key would remove:
// the selected node, if the current selection is a node.
func (s Snapshot) DeletionCandidates() []string {
	if s.SelectedID == "" {
		return nil
	}
	if _, ok := s.Node(s.SelectedID); ok {
		return []string{s.SelectedID}
	}
	return nil
}

// Graph strips version and selection from the snapshot.
func (s Snapshot) Graph() Graph {
	return Graph{Nodes: s.Nodes, Edges: s.Edges}
}
