package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rmax-ai/policycanvas/pkg/api"
	"github.com/rmax-ai/policycanvas/pkg/graph"
	"github.com/rmax-ai/policycanvas/pkg/logging"
)

// newDaemon serves the real API over a demo graph.
func newDaemon(t *testing.T) (*Client, *graph.Store) {
	t.Helper()
	g := graph.NewStore()
	if err := g.Load(graph.DemoGraph()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	srv := httptest.NewServer(api.NewServer(g, nil, "", logging.Discard()).Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL), g
}

func TestClient_Ping(t *testing.T) {
	c, _ := newDaemon(t)
	status, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if status.Status != "ok" {
		t.Errorf("Ping() status = %s, want ok", status.Status)
	}
	if status.Version != 1 {
		t.Errorf("Ping() version = %d, want 1", status.Version)
	}
}

func TestClient_EditGraph(t *testing.T) {
	ctx := context.Background()
	c, g := newDaemon(t)

	n, err := c.AddNode(ctx, NewNode{ID: "db-1", Type: graph.NodeHost, Data: map[string]any{"label": "DB"}})
	if err != nil {
		t.Fatalf("AddNode() error = %v", err)
	}
	if n.Label() != "DB" {
		t.Errorf("Expected label DB, got %s", n.Label())
	}

	e, err := c.Connect(ctx, graph.Connection{Source: "db-1", Target: "network-1"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if e.ID != "e-db-1-network-1" {
		t.Errorf("Expected edge id e-db-1-network-1, got %s", e.ID)
	}

	proto := graph.ProtocolUDP
	e, err = c.UpdateEdge(ctx, e.ID, graph.EdgePatch{Protocol: &proto})
	if err != nil {
		t.Fatalf("UpdateEdge() error = %v", err)
	}
	if e.Data.Protocol != graph.ProtocolUDP || e.Data.Action != graph.ActionAllow {
		t.Errorf("Unexpected edge data %+v", e.Data)
	}

	if _, err := c.UpdateNode(ctx, "db-1", map[string]any{"fqdn": "db.internal"}); err != nil {
		t.Fatalf("UpdateNode() error = %v", err)
	}

	sel, err := c.Select(ctx, e.ID)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if sel.SelectedID != e.ID || sel.Kind != "edge" {
		t.Errorf("Unexpected selection %+v", sel)
	}

	removed, err := c.DeleteNodes(ctx, "db-1")
	if err != nil {
		t.Fatalf("DeleteNodes() error = %v", err)
	}
	if len(removed.Edges) != 1 || removed.Edges[0] != e.ID {
		t.Errorf("Expected cascade of %s, got %v", e.ID, removed.Edges)
	}

	snap, err := c.Graph(ctx)
	if err != nil {
		t.Fatalf("Graph() error = %v", err)
	}
	if snap.Version != g.Version() {
		t.Errorf("Expected version %d, got %d", g.Version(), snap.Version)
	}
	if snap.SelectedID != "" {
		t.Errorf("Expected selection cleared by cascade, got %q", snap.SelectedID)
	}
}

func TestClient_ChangeBatches(t *testing.T) {
	ctx := context.Background()
	c, _ := newDaemon(t)

	if _, err := c.Connect(ctx, graph.Connection{Source: "host-1", Target: "group-1"}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	ids, err := c.ApplyEdgeChanges(ctx, []graph.EdgeChange{{ID: "e-host-1-group-1", Type: graph.ChangeRemove}})
	if err != nil {
		t.Fatalf("ApplyEdgeChanges() error = %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("Expected 1 removed edge, got %v", ids)
	}

	_, err = c.ApplyNodeChanges(ctx, []graph.NodeChange{{ID: "host-1", Type: graph.ChangeSelect, Selected: true}})
	if err != nil {
		t.Fatalf("ApplyNodeChanges() error = %v", err)
	}
	sel, err := c.Selection(ctx)
	if err != nil {
		t.Fatalf("Selection() error = %v", err)
	}
	if sel.SelectedID != "host-1" {
		t.Errorf("Expected host-1 selected, got %q", sel.SelectedID)
	}
}

func TestClient_TypedErrors(t *testing.T) {
	ctx := context.Background()
	c, _ := newDaemon(t)

	tests := []struct {
		name   string
		call   func() error
		target error
		status int
	}{
		{"unknown node", func() error { _, err := c.Node(ctx, "ghost"); return err }, graph.ErrInvalidReference, http.StatusNotFound},
		{"connect to unknown", func() error {
			_, err := c.Connect(ctx, graph.Connection{Source: "host-1", Target: "ghost"})
			return err
		}, graph.ErrInvalidReference, http.StatusNotFound},
		{"duplicate node", func() error {
			_, err := c.AddNode(ctx, NewNode{ID: "host-1", Type: graph.NodeHost})
			return err
		}, graph.ErrDuplicateID, http.StatusConflict},
		{"bad node type", func() error {
			_, err := c.AddNode(ctx, NewNode{ID: "r", Type: "router"})
			return err
		}, graph.ErrInvalidValue, http.StatusBadRequest},
		{"select unknown", func() error { _, err := c.Select(ctx, "ghost"); return err }, graph.ErrInvalidReference, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, tt.target) {
				t.Fatalf("Expected %v, got %v", tt.target, err)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Expected *APIError, got %T", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, apiErr.StatusCode)
			}
		})
	}

	var refErr *graph.ReferenceError
	_, err := c.Edge(ctx, "nope")
	if !errors.As(err, &refErr) || refErr.ID != "nope" {
		t.Errorf("Expected ReferenceError for nope, got %v", err)
	}
}

func TestClient_Report(t *testing.T) {
	ctx := context.Background()
	c, _ := newDaemon(t)
	if _, err := c.Connect(ctx, graph.Connection{Source: "host-1", Target: "network-1"}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	body, err := c.Report(ctx, "rules", ReportOptions{})
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if !strings.Contains(string(body), "e-host-1-network-1,host-1,Test Host") {
		t.Errorf("Unexpected report body %q", body)
	}

	if _, err := c.Report(ctx, "bogus", ReportOptions{}); err == nil {
		t.Error("Expected error for unknown report type")
	}
}

func TestClient_Watch(t *testing.T) {
	c, g := newDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snaps, err := c.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	first := <-snaps
	if first.Version != 1 {
		t.Fatalf("Expected first snapshot at version 1, got %d", first.Version)
	}

	if _, err := g.DeleteNodes("group-1"); err != nil {
		t.Fatalf("DeleteNodes failed: %v", err)
	}
	select {
	case snap := <-snaps:
		if len(snap.Nodes) != 2 {
			t.Errorf("Expected 2 nodes after delete, got %d", len(snap.Nodes))
		}
	case <-ctx.Done():
		t.Fatal("no snapshot after delete")
	}
}

func TestClient_WithoutEventLog(t *testing.T) {
	c, _ := newDaemon(t)
	_, err := c.GetEvents(context.Background(), 10)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 APIError, got %v", err)
	}
}

func TestPolicyFetcher(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.URL.Path != "/policies/p-7/graph" {
			http.NotFound(w, r)
			return
		}
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"nodes":[{"id":"a","data":{"label":"A"}},{"id":"b","type":"network"}],"edges":[{"source":"a","target":"b"}]}`))
	}))
	defer srv.Close()

	f := NewPolicyFetcher(srv.URL).WithBackoff(&ExponentialBackoff{Base: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}, 3)

	g, err := f.FetchPolicyGraph(context.Background(), "p-7")
	if err != nil {
		t.Fatalf("FetchPolicyGraph() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls (one retry), got %d", calls.Load())
	}
	if len(g.Nodes) != 2 || len(g.Edges) != 1 {
		t.Errorf("Unexpected graph %+v", g)
	}

	calls.Store(0)
	if _, err := f.FetchPolicyGraph(context.Background(), "missing"); err == nil {
		t.Error("Expected error for missing policy")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 4xx not to be retried, got %d calls", calls.Load())
	}

	if _, err := f.FetchPolicyGraph(context.Background(), ""); err == nil {
		t.Error("Expected error for empty policy id")
	}
}
