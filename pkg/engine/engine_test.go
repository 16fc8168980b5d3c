package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rmax-ai/policycanvas/pkg/graph"
	"github.com/rmax-ai/policycanvas/pkg/logging"
	"github.com/rmax-ai/policycanvas/pkg/store"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "policycanvas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// startRecorder wires a recorder to a fresh graph store and runs it until the test ends.
func startRecorder(t *testing.T, st *store.Store) (*graph.Store, *Recorder) {
	t.Helper()
	g := graph.NewStore()
	rec := NewRecorder(st, logging.Discard(), 16)
	g.OnCommit(rec.Hook())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return g, rec
}

func flush(t *testing.T, rec *Recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rec.Flush(ctx))
}

func editDemo(t *testing.T, g *graph.Store) {
	t.Helper()
	require.NoError(t, g.Load(graph.DemoGraph()))
	_, err := g.Connect(graph.Connection{Source: "host-1", Target: "network-1"})
	require.NoError(t, err)
	require.NoError(t, g.UpdateNode("group-1", map[string]any{"label": "Web Tier"}))
	require.NoError(t, g.SetSelectedID("host-1"))
}

func TestEventFromChangeRoundTrip(t *testing.T) {
	patchPorts := "22"
	c := graph.Change{
		Version:   7,
		Op:        graph.OpUpdateEdge,
		At:        time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		ID:        "e-a-b",
		EdgePatch: &graph.EdgePatch{Ports: &patchPorts},
	}

	evt, err := EventFromChange(c, store.EventSource{OriginKind: "test"})
	require.NoError(t, err)
	require.Equal(t, store.EventTypeEdgeUpdated, evt.EventType)
	require.EqualValues(t, 7, evt.Seq)
	require.Equal(t, WriterID, evt.Source.WriterID)
	require.Contains(t, string(evt.EventID), "evt_")

	back, err := ChangeFromEvent(evt)
	require.NoError(t, err)
	require.Equal(t, c.Op, back.Op)
	require.Equal(t, c.ID, back.ID)
	require.Equal(t, "22", *back.EdgePatch.Ports)

	_, err = EventFromChange(graph.Change{Op: "resize"}, store.EventSource{})
	require.Error(t, err)
}

func TestEveryOpHasAnEventType(t *testing.T) {
	ops := []graph.Op{
		graph.OpLoad, graph.OpAddNode, graph.OpUpdateNode, graph.OpNodeChanges, graph.OpEdgeChanges,
		graph.OpConnect, graph.OpUpdateEdge, graph.OpRemoveEdges, graph.OpDeleteNodes, graph.OpSelect,
	}
	seen := map[store.EventType]bool{}
	for _, op := range ops {
		et, err := EventTypeFor(op)
		require.NoError(t, err, op)
		require.False(t, seen[et], "event type %s reused", et)
		seen[et] = true
	}
}

func TestRecorderPersistsChanges(t *testing.T) {
	st := newTestDB(t)
	g, rec := startRecorder(t, st)

	editDemo(t, g)
	flush(t, rec)

	events, err := st.ReadEventsAfterSeq(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 4)
	require.Equal(t, store.EventTypeGraphLoaded, events[0].EventType)
	require.Equal(t, store.EventTypeSelectionChanged, events[3].EventType)
	for i, evt := range events {
		require.EqualValues(t, i+1, evt.Seq)
	}
}

func TestRecorderDropsAfterStop(t *testing.T) {
	rec := NewRecorder(newTestDB(t), logging.Discard(), 8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	hook := rec.Hook()
	for v := uint64(1); v <= 50; v++ {
		hook(graph.Change{Version: v, Op: graph.OpSelect}, graph.Snapshot{})
	}
	require.Zero(t, len(rec.queue), "a stopped recorder must not queue changes")
	require.Zero(t, rec.enqueued.Load())
}

func TestBootstrapInitialModes(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		g := graph.NewStore()
		res, err := Bootstrap(ctx, newTestDB(t), g, BootstrapConfig{Mode: InitialEmpty}, logging.Discard())
		require.NoError(t, err)
		require.Equal(t, InitialEmpty, res.Initial)
		require.Empty(t, g.Snapshot().Nodes)
		require.Zero(t, g.Version())
	})

	t.Run("seeded demo", func(t *testing.T) {
		st := newTestDB(t)
		g := graph.NewStore()
		var recorded []graph.Change
		hook := func(c graph.Change, _ graph.Snapshot) { recorded = append(recorded, c) }

		res, err := Bootstrap(ctx, st, g, BootstrapConfig{Mode: InitialSeeded}, logging.Discard(), hook)
		require.NoError(t, err)
		require.Equal(t, InitialSeeded, res.Initial)
		require.Len(t, g.Snapshot().Nodes, 3)
		require.Len(t, recorded, 1, "initial load goes through the hooks")
		require.Equal(t, graph.OpLoad, recorded[0].Op)
	})

	t.Run("seeded file", func(t *testing.T) {
		seed := filepath.Join(t.TempDir(), "seed.yaml")
		writeFile(t, seed, "nodes:\n  - id: web\n    type: host\n  - id: lan\n    type: network\nedges:\n  - source: web\n    target: lan\n")

		g := graph.NewStore()
		_, err := Bootstrap(ctx, newTestDB(t), g, BootstrapConfig{Mode: InitialSeeded, SeedFile: seed}, logging.Discard())
		require.NoError(t, err)
		e, err := g.Edge("e-web-lan")
		require.NoError(t, err)
		require.Equal(t, graph.ActionAllow, e.Data.Action)
	})

	t.Run("fetched", func(t *testing.T) {
		fetcher := fakeFetcher{g: graph.Graph{Nodes: []graph.Node{{ID: "a"}, {ID: "b", Type: graph.NodeGroup}}}}
		g := graph.NewStore()
		_, err := Bootstrap(ctx, newTestDB(t), g, BootstrapConfig{Mode: InitialFetched, PolicyID: "p1", Fetcher: fetcher}, logging.Discard())
		require.NoError(t, err)
		n, err := g.Node("a")
		require.NoError(t, err)
		require.Equal(t, graph.NodeHost, n.Type)
		require.Equal(t, graph.Position{}, n.Position)
	})

	t.Run("fetched with unknown node types", func(t *testing.T) {
		fetcher := fakeFetcher{g: graph.Graph{
			Nodes: []graph.Node{{ID: "header-0", Type: "input"}, {ID: "term-0-0"}},
			Edges: []graph.Edge{{Source: "header-0", Target: "term-0-0"}},
		}}
		g := graph.NewStore()
		_, err := Bootstrap(ctx, newTestDB(t), g, BootstrapConfig{Mode: InitialFetched, PolicyID: "p1", Fetcher: fetcher}, logging.Discard())
		require.NoError(t, err)
		n, err := g.Node("header-0")
		require.NoError(t, err)
		require.Equal(t, graph.NodeHost, n.Type)
		_, err = g.Edge("e-header-0-term-0-0")
		require.NoError(t, err)
	})

	t.Run("fetched graph rejected by the store starts empty", func(t *testing.T) {
		fetcher := fakeFetcher{g: graph.Graph{
			Nodes: []graph.Node{{ID: "a"}},
			Edges: []graph.Edge{{Source: "a", Target: "gone"}},
		}}
		g := graph.NewStore()
		res, err := Bootstrap(ctx, newTestDB(t), g, BootstrapConfig{Mode: InitialFetched, PolicyID: "p1", Fetcher: fetcher}, logging.Discard())
		require.NoError(t, err)
		require.Equal(t, InitialFetched, res.Initial)
		require.Empty(t, g.Snapshot().Nodes)
		require.Zero(t, g.Version())
	})

	t.Run("fetch failure starts empty", func(t *testing.T) {
		g := graph.NewStore()
		_, err := Bootstrap(ctx, newTestDB(t), g, BootstrapConfig{Mode: InitialFetched, Fetcher: fakeFetcher{err: context.DeadlineExceeded}}, logging.Discard())
		require.NoError(t, err)
		require.Empty(t, g.Snapshot().Nodes)
	})
}

func TestBootstrapRestoresSnapshotAndReplays(t *testing.T) {
	ctx := context.Background()
	st := newTestDB(t)
	g, rec := startRecorder(t, st)

	editDemo(t, g)
	flush(t, rec)

	worker := NewSnapshotWorker(st, g, rec, logging.Discard(), time.Hour)
	taken, err := worker.TakeSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, taken)

	taken, err = worker.TakeSnapshot(ctx)
	require.NoError(t, err)
	require.False(t, taken, "unchanged graph is not snapshotted twice")

	// Changes after the snapshot only live in the event log.
	_, err = g.DeleteNodes("network-1")
	require.NoError(t, err)
	require.NoError(t, g.AddNode(graph.Node{ID: "host-2", Type: graph.NodeHost}))
	flush(t, rec)
	want := g.Snapshot()

	restored := graph.NewStore()
	res, err := Bootstrap(ctx, st, restored, BootstrapConfig{Mode: InitialSeeded}, logging.Discard())
	require.NoError(t, err)
	require.EqualValues(t, 4, res.SnapshotVersion)
	require.Equal(t, 2, res.Replayed)
	require.Empty(t, res.Initial, "persisted state wins over the initial graph")
	require.Equal(t, want, restored.Snapshot())
}

func TestParseInitialMode(t *testing.T) {
	for in, want := range map[string]InitialMode{"": InitialEmpty, "empty": InitialEmpty, "seeded": InitialSeeded, "fetched": InitialFetched} {
		got, err := ParseInitialMode(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseInitialMode("random")
	require.Error(t, err)
}

func TestNormalizeFetched(t *testing.T) {
	g := NormalizeFetched(graph.Graph{
		Nodes: []graph.Node{{ID: "a"}, {ID: "b", Type: graph.NodeNetwork}, {ID: "c", Type: "input"}},
		Edges: []graph.Edge{{Source: "a", Target: "b"}, {ID: "x", Source: "b", Target: "a"}},
	})
	require.Equal(t, graph.NodeHost, g.Nodes[0].Type)
	require.Equal(t, graph.NodeNetwork, g.Nodes[1].Type)
	require.Equal(t, graph.NodeHost, g.Nodes[2].Type)
	require.Equal(t, "e-a-b", g.Edges[0].ID)
	require.Equal(t, "x", g.Edges[1].ID)
}

func TestMetricsHook(t *testing.T) {
	g := graph.NewStore()
	g.OnCommit(MetricsHook())
	require.NoError(t, g.Load(graph.DemoGraph()))
	_, err := g.Connect(graph.Connection{Source: "host-1", Target: "network-1"})
	require.NoError(t, err)

	require.EqualValues(t, 1, gaugeValue(t, GraphNodes.WithLabelValues("host")))
	require.EqualValues(t, 1, gaugeValue(t, GraphEdges.WithLabelValues("allow")))
	require.EqualValues(t, 0, gaugeValue(t, GraphEdges.WithLabelValues("deny")))
	require.EqualValues(t, 2, gaugeValue(t, GraphVersion))

	require.Equal(t, "invalid_reference", ErrorReason(&graph.ReferenceError{Kind: graph.KindNode, ID: "x"}))
	require.Equal(t, "duplicate_id", ErrorReason(&graph.DuplicateIDError{Kind: graph.KindNode, ID: "x"}))
	require.Equal(t, "invalid_value", ErrorReason(&graph.ValueError{Field: "action", Value: "x"}))
	require.Equal(t, "internal", ErrorReason(context.Canceled))
}

type fakeFetcher struct {
	g   graph.Graph
	err error
}

func (f fakeFetcher) FetchPolicyGraph(ctx context.Context, policyID string) (graph.Graph, error) {
	return f.g, f.err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func gaugeValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	return testutil.ToFloat64(c)
}
