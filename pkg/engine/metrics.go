package engine

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rmax-ai/policycanvas/pkg/graph"
)

var (
	// GraphNodes tracks the number of nodes per type on the canvas.
	GraphNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "policycanvas_nodes",
			Help: "Current number of nodes on the canvas",
		},
		[]string{"type"},
	)

	// GraphEdges tracks the number of policy edges per action.
	GraphEdges = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "policycanvas_edges",
			Help: "Current number of policy edges on the canvas",
		},
		[]string{"action"},
	)

	// GraphVersion tracks the store version.
	GraphVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "policycanvas_graph_version",
			Help: "Number of committed graph changes",
		},
	)

	// MutationsTotal counts committed changes by op.
	MutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policycanvas_mutations_total",
			Help: "Total number of committed graph changes",
		},
		[]string{"op"},
	)

	// MutationErrorsTotal counts rejected mutations by op and error class.
	MutationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policycanvas_mutation_errors_total",
			Help: "Total number of rejected graph mutations",
		},
		[]string{"op", "reason"},
	)

	// RecorderErrors counts changes the recorder failed to persist.
	RecorderErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "policycanvas_recorder_errors_total",
			Help: "Total number of committed changes that failed to persist",
		},
	)

	// WebhookDeliveries counts webhook delivery attempts by outcome.
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policycanvas_webhook_deliveries_total",
			Help: "Total number of webhook deliveries",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(GraphNodes)
	prometheus.MustRegister(GraphEdges)
	prometheus.MustRegister(GraphVersion)
	prometheus.MustRegister(MutationsTotal)
	prometheus.MustRegister(MutationErrorsTotal)
	prometheus.MustRegister(RecorderErrors)
	prometheus.MustRegister(WebhookDeliveries)
}

// MetricsHook updates the graph gauges after every commit.
func MetricsHook() graph.CommitHook {
	return func(c graph.Change, snap graph.Snapshot) {
		MutationsTotal.WithLabelValues(string(c.Op)).Inc()
		ObserveSnapshot(snap)
	}
}

// ObserveSnapshot sets the gauges from a snapshot.
func ObserveSnapshot(snap graph.Snapshot) {
	nodes := map[graph.NodeType]int{graph.NodeHost: 0, graph.NodeNetwork: 0, graph.NodeGroup: 0}
	for _, n := range snap.Nodes {
		nodes[n.Type]++
	}
	for t, count := range nodes {
		GraphNodes.WithLabelValues(string(t)).Set(float64(count))
	}

	edges := map[graph.Action]int{graph.ActionAllow: 0, graph.ActionDeny: 0}
	for _, e := range snap.Edges {
		edges[e.Data.Action]++
	}
	for a, count := range edges {
		GraphEdges.WithLabelValues(string(a)).Set(float64(count))
	}

	GraphVersion.Set(float64(snap.Version))
}

// ObserveMutationError counts a rejected mutation.
func ObserveMutationError(op graph.Op, err error) {
	MutationErrorsTotal.WithLabelValues(string(op), ErrorReason(err)).Inc()
}

// ErrorReason classifies a store error for metrics and API responses.
func ErrorReason(err error) string {
	switch {
	case errors.Is(err, graph.ErrInvalidReference):
		return "invalid_reference"
	case errors.Is(err, graph.ErrDuplicateID):
		return "duplicate_id"
	case errors.Is(err, graph.ErrInvalidValue):
		return "invalid_value"
	}
	return "internal"
}
