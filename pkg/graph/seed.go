package graph

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// DemoGraph returns the three sample nodes the canvas ships with in seeded mode.
func DemoGraph() Graph {
	return Graph{
		Nodes: []Node{
			{
				ID:       "host-1",
				Type:     NodeHost,
				Position: Position{X: 50, Y: 100},
				Data:     map[string]any{"label": "Test Host", "fqdn": "192.168.1.1"},
			},
			{
				ID:       "network-1",
				Type:     NodeNetwork,
				Position: Position{X: 250, Y: 100},
				Data:     map[string]any{"label": "Test Network", "cidr": "10.0.0.0/24"},
			},
			{
				ID:       "group-1",
				Type:     NodeGroup,
				Position: Position{X: 450, Y: 100},
				Data:     map[string]any{"label": "Test Group", "members": []any{}},
			},
		},
		Edges: []Edge{},
	}
}

// DecodeGraph reads a YAML (or JSON) graph document. Field names are the
// lowercase names used on the wire: id, type, position.x, data, source, target.
func DecodeGraph(r io.Reader) (Graph, error) {
	var g Graph
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil {
		if err == io.EOF {
			return Graph{}, nil
		}
		return Graph{}, fmt.Errorf("failed to decode graph: %w", err)
	}
	return g, nil
}
