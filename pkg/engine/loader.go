package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rmax-ai/policycanvas/pkg/graph"
	"github.com/rmax-ai/policycanvas/pkg/store"
)

// InitialMode selects the graph a fresh canvas starts with.
type InitialMode string

const (
	InitialSeeded  InitialMode = "seeded"
	InitialEmpty   InitialMode = "empty"
	InitialFetched InitialMode = "fetched"
)

// ParseInitialMode validates an initial graph mode. "" means empty.
func ParseInitialMode(s string) (InitialMode, error) {
	switch InitialMode(s) {
	case "", InitialEmpty:
		return InitialEmpty, nil
	case InitialSeeded, InitialFetched:
		return InitialMode(s), nil
	}
	return "", fmt.Errorf("invalid initial graph mode %q (want seeded, empty or fetched)", s)
}

// GraphFetcher fetches a policy graph from a remote service.
type GraphFetcher interface {
	FetchPolicyGraph(ctx context.Context, policyID string) (graph.Graph, error)
}

// BootstrapConfig controls how the graph is initialised when the log is empty.
type BootstrapConfig struct {
	Mode     InitialMode
	SeedFile string // seeded mode: YAML graph instead of the built-in demo
	PolicyID string // fetched mode
	Fetcher  GraphFetcher
}

// BootstrapResult reports where the starting state came from.
type BootstrapResult struct {
	SnapshotVersion uint64
	Replayed        int
	Initial         InitialMode // set when the initial graph was applied
}

// Bootstrap restores the graph from the latest snapshot and the events after it.
// The hooks are registered once the persisted state is back, so replay is not
// recorded twice. If nothing was persisted the configured initial graph is loaded
// through the hooks, which records it as the first event.
func Bootstrap(ctx context.Context, st *store.Store, g *graph.Store, cfg BootstrapConfig, logger *slog.Logger, hooks ...graph.CommitHook) (BootstrapResult, error) {
	var res BootstrapResult

	version, err := LoadLatestSnapshot(ctx, st, g)
	if err != nil {
		return res, err
	}
	res.SnapshotVersion = version

	events, err := st.ReadEventsAfterSeq(ctx, int64(version), 0)
	if err != nil {
		return res, fmt.Errorf("failed to read events for replay: %w", err)
	}
	for _, evt := range events {
		c, err := ChangeFromEvent(evt)
		if err != nil {
			return res, err
		}
		if err := g.Replay(c); err != nil {
			return res, fmt.Errorf("failed to replay event %s: %w", evt.EventID, err)
		}
		res.Replayed++
	}

	for _, h := range hooks {
		g.OnCommit(h)
	}

	if version > 0 || res.Replayed > 0 {
		logger.Info("graph_restored", "snapshot_version", version, "replayed", res.Replayed, "version", g.Version())
		return res, nil
	}

	initial, err := InitialGraph(ctx, cfg, logger)
	if err != nil {
		return res, err
	}
	if len(initial.Nodes) > 0 || len(initial.Edges) > 0 {
		if err := g.Load(initial); err != nil {
			if cfg.Mode != InitialFetched {
				return res, fmt.Errorf("failed to load initial graph: %w", err)
			}
			// A remote graph the store rejects is treated like a failed fetch.
			logger.Warn("policy_graph_fetch_failed", "policy_id", cfg.PolicyID, "error", err)
			initial = graph.Graph{}
		}
	}
	res.Initial = cfg.Mode
	logger.Info("graph_initialised", "mode", string(cfg.Mode), "nodes", len(initial.Nodes), "edges", len(initial.Edges))
	return res, nil
}

// InitialGraph builds the starting graph for a mode. A failed fetch falls back
// to an empty canvas.
func InitialGraph(ctx context.Context, cfg BootstrapConfig, logger *slog.Logger) (graph.Graph, error) {
	switch cfg.Mode {
	case InitialSeeded:
		if cfg.SeedFile == "" {
			return graph.DemoGraph(), nil
		}
		f, err := os.Open(cfg.SeedFile)
		if err != nil {
			return graph.Graph{}, fmt.Errorf("failed to open seed file: %w", err)
		}
		defer f.Close()
		return graph.DecodeGraph(f)

	case InitialFetched:
		if cfg.Fetcher == nil {
			return graph.Graph{}, fmt.Errorf("fetched mode requires a fetch url")
		}
		g, err := cfg.Fetcher.FetchPolicyGraph(ctx, cfg.PolicyID)
		if err != nil {
			logger.Warn("policy_graph_fetch_failed", "policy_id", cfg.PolicyID, "error", err)
			return graph.Graph{}, nil
		}
		return NormalizeFetched(g), nil
	}
	return graph.Graph{}, nil
}

// NormalizeFetched fills what a remote graph may leave out: nodes without a
// known type become hosts, edges without an id get the connect-gesture id.
func NormalizeFetched(g graph.Graph) graph.Graph {
	out := graph.Graph{
		Nodes: make([]graph.Node, len(g.Nodes)),
		Edges: make([]graph.Edge, len(g.Edges)),
	}
	for i, n := range g.Nodes {
		if !n.Type.Valid() {
			n.Type = graph.NodeHost
		}
		out.Nodes[i] = n
	}
	for i, e := range g.Edges {
		if e.ID == "" {
			e.ID = graph.EdgeID(e.Source, e.Target)
		}
		out.Edges[i] = e
	}
	return out
}
