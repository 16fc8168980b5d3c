package mcp

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rmax-ai/policycanvas/pkg/api"
	"github.com/rmax-ai/policycanvas/pkg/graph"
)

// newTestServer starts the HTTP API over a demo graph and points an MCP
// server at it.
func newTestServer(t *testing.T) (*Server, *graph.Store) {
	t.Helper()
	g := graph.NewStore()
	if err := g.Load(graph.DemoGraph()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	ts := httptest.NewServer(api.NewServer(g, nil, "", nil).Handler())
	t.Cleanup(ts.Close)
	return NewServer(ts.URL), g
}

func callTool(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatalf("Expected content in result")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Expected TextContent, got %T", result.Content[0])
	}
	return text.Text
}

func TestMCPServer_ReadGraph(t *testing.T) {
	s, _ := newTestServer(t)

	req := mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: graphURI,
		},
	}

	result, err := s.handleReadGraph(context.Background(), req)
	if err != nil {
		t.Fatalf("handleReadGraph failed: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("Expected 1 resource content, got %d", len(result))
	}

	content, ok := result[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("Expected TextResourceContents")
	}
	if content.MIMEType != "application/json" {
		t.Errorf("Expected application/json, got %s", content.MIMEType)
	}

	var snap graph.Snapshot
	if err := json.Unmarshal([]byte(content.Text), &snap); err != nil {
		t.Fatalf("Failed to parse result JSON: %v", err)
	}
	if len(snap.Nodes) != 3 {
		t.Errorf("Expected 3 nodes, got %d", len(snap.Nodes))
	}
}

func TestMCPServer_ReadRules(t *testing.T) {
	s, g := newTestServer(t)
	if _, err := g.Connect(graph.Connection{Source: "host-1", Target: "network-1"}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	result, err := s.handleReadRules(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: rulesURI},
	})
	if err != nil {
		t.Fatalf("handleReadRules failed: %v", err)
	}
	content := result[0].(mcp.TextResourceContents)
	if !strings.Contains(content.Text, "e-host-1-network-1") {
		t.Errorf("Expected rule row for the new edge, got %q", content.Text)
	}
}

func TestMCPServer_ReadLint(t *testing.T) {
	s, g := newTestServer(t)
	open := graph.EdgeData{Action: graph.ActionAllow, Protocol: graph.ProtocolAny}
	if _, err := g.Connect(graph.Connection{Source: "host-1", Target: "network-1", Data: &open}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	result, err := s.handleReadLint(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: lintURI},
	})
	if err != nil {
		t.Fatalf("handleReadLint failed: %v", err)
	}
	content := result[0].(mcp.TextResourceContents)
	for _, want := range []string{"overly_permissive,e-host-1-network-1", "no_explicit_deny"} {
		if !strings.Contains(content.Text, want) {
			t.Errorf("Expected %q in lint report, got %q", want, content.Text)
		}
	}
}

func TestMCPServer_ReadEventsWithoutLog(t *testing.T) {
	s, _ := newTestServer(t)

	_, err := s.handleReadEvents(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: eventsURI},
	})
	if err == nil {
		t.Fatal("Expected error when the daemon has no event log")
	}
}

func TestMCPServer_EditTools(t *testing.T) {
	s, g := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleAddNode(ctx, callTool("add_node", map[string]interface{}{
		"type":  "host",
		"id":    "host-2",
		"label": "Web",
		"x":     float64(10),
		"y":     float64(20),
	}))
	if err != nil {
		t.Fatalf("handleAddNode failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("Expected success, got %q", resultText(t, result))
	}
	n, err := g.Node("host-2")
	if err != nil {
		t.Fatalf("node not created: %v", err)
	}
	if n.Label() != "Web" || n.Position.X != 10 {
		t.Errorf("unexpected node %+v", n)
	}

	result, err = s.handleConnect(ctx, callTool("connect_nodes", map[string]interface{}{
		"source": "host-2",
		"target": "network-1",
		"ports":  "443",
	}))
	if err != nil {
		t.Fatalf("handleConnect failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("Expected success, got %q", resultText(t, result))
	}
	e, err := g.Edge("e-host-2-network-1")
	if err != nil {
		t.Fatalf("edge not created: %v", err)
	}
	if e.Data.Action != graph.ActionAllow || e.Data.Protocol != graph.ProtocolTCP || e.Data.Ports != "443" {
		t.Errorf("unexpected edge data %+v", e.Data)
	}

	result, err = s.handleUpdateEdge(ctx, callTool("update_edge", map[string]interface{}{
		"edge_id": "e-host-2-network-1",
		"action":  "deny",
	}))
	if err != nil {
		t.Fatalf("handleUpdateEdge failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("Expected success, got %q", resultText(t, result))
	}
	e, _ = g.Edge("e-host-2-network-1")
	if e.Data.Action != graph.ActionDeny || e.Data.Ports != "443" {
		t.Errorf("patch not applied: %+v", e.Data)
	}

	result, err = s.handleUpdateNode(ctx, callTool("update_node", map[string]interface{}{
		"node_id": "host-2",
		"key":     "fqdn",
		"value":   "web.example.com",
	}))
	if err != nil {
		t.Fatalf("handleUpdateNode failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("Expected success, got %q", resultText(t, result))
	}

	result, err = s.handleSelect(ctx, callTool("select", map[string]interface{}{"id": "host-2"}))
	if err != nil {
		t.Fatalf("handleSelect failed: %v", err)
	}
	if got := resultText(t, result); got != "Selected node host-2" {
		t.Errorf("unexpected select result %q", got)
	}

	result, err = s.handleDeleteNodes(ctx, callTool("delete_nodes", map[string]interface{}{"ids": "host-2, "}))
	if err != nil {
		t.Fatalf("handleDeleteNodes failed: %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "e-host-2-network-1") {
		t.Errorf("expected cascaded edge in %q", text)
	}
	if _, err := g.Node("host-2"); err == nil {
		t.Error("node should be deleted")
	}
	if g.SelectedID() != "" {
		t.Errorf("selection should be cleared, got %q", g.SelectedID())
	}
}

func TestMCPServer_ToolErrors(t *testing.T) {
	s, g := newTestServer(t)
	ctx := context.Background()
	version := g.Version()

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]interface{}
	}{
		{"unknown source", s.handleConnect, map[string]interface{}{"source": "ghost", "target": "host-1"}},
		{"bad action", s.handleConnect, map[string]interface{}{"source": "host-1", "target": "group-1", "action": "maybe"}},
		{"duplicate id", s.handleAddNode, map[string]interface{}{"type": "host", "id": "host-1"}},
		{"unknown edge", s.handleUpdateEdge, map[string]interface{}{"edge_id": "e-x", "action": "deny"}},
		{"no ids", s.handleRemoveEdges, map[string]interface{}{"ids": " , "}},
		{"unknown select", s.handleSelect, map[string]interface{}{"id": "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.handler(ctx, callTool("tool", tt.args))
			if err != nil {
				t.Fatalf("handler returned protocol error: %v", err)
			}
			if !result.IsError {
				t.Errorf("Expected tool error, got %q", resultText(t, result))
			}
		})
	}

	if g.Version() != version {
		t.Errorf("rejected calls changed the version: %d -> %d", version, g.Version())
	}
}

func TestMCPServer_Prompt(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleGetPrompt(context.Background(), mcp.GetPromptRequest{
		Params: mcp.GetPromptParams{Name: promptName},
	})
	if err != nil {
		t.Fatalf("handleGetPrompt failed: %v", err)
	}
	if len(result.Messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(result.Messages))
	}

	if _, err := s.handleGetPrompt(context.Background(), mcp.GetPromptRequest{
		Params: mcp.GetPromptParams{Name: "other"},
	}); err == nil {
		t.Error("Expected error for unknown prompt")
	}
}
