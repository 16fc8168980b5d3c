package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rmax-ai/policycanvas/pkg/client"
	"github.com/rmax-ai/policycanvas/pkg/graph"
)

const (
	graphURI  = "policycanvas://graph"
	eventsURI = "policycanvas://events"
	rulesURI  = "policycanvas://rules"
	lintURI   = "policycanvas://lint"

	promptName = "policycanvas-editor"
)

// Server adapts policycanvas-d to the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
}

// NewServer creates a new MCP server instance.
func NewServer(apiURL string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"policycanvas",
			"1.0.0",
		),
		apiClient: client.NewClient(apiURL),
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		graphURI,
		"Policy Graph",
		mcp.WithResourceDescription("Current nodes, edges and selection of the policy canvas"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadGraph)

	s.mcpServer.AddResource(mcp.NewResource(
		eventsURI,
		"Graph Edit Log",
		mcp.WithResourceDescription("Recent recorded graph edits, newest first"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadEvents)

	s.mcpServer.AddResource(mcp.NewResource(
		rulesURI,
		"Firewall Rules",
		mcp.WithResourceDescription("Every policy edge as a CSV rule row"),
		mcp.WithMIMEType("text/csv"),
	), s.handleReadRules)

	s.mcpServer.AddResource(mcp.NewResource(
		lintURI,
		"Policy Lint",
		mcp.WithResourceDescription("Overly permissive allow edges and a missing default deny, as CSV"),
		mcp.WithMIMEType("text/csv"),
	), s.handleReadLint)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"add_node",
		mcp.WithDescription("Add a host, network or group node to the canvas."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Node type: host, network or group")),
		mcp.WithString("id", mcp.Description("Node id; generated from the type when omitted")),
		mcp.WithString("label", mcp.Description("Display label")),
		mcp.WithNumber("x", mcp.Description("Canvas x coordinate")),
		mcp.WithNumber("y", mcp.Description("Canvas y coordinate")),
	), s.handleAddNode)

	s.mcpServer.AddTool(mcp.NewTool(
		"update_node",
		mcp.WithDescription("Set one data field of a node (label, fqdn, cidr, ...)."),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("The node to update")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Data field name")),
		mcp.WithString("value", mcp.Required(), mcp.Description("New value")),
	), s.handleUpdateNode)

	s.mcpServer.AddTool(mcp.NewTool(
		"connect_nodes",
		mcp.WithDescription("Draw a policy edge from source to target. Defaults to allow/tcp."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Source node id")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Target node id")),
		mcp.WithString("action", mcp.Description("allow or deny")),
		mcp.WithString("protocol", mcp.Description("tcp, udp, icmp or any")),
		mcp.WithString("ports", mcp.Description("Port list, e.g. '80,443'")),
	), s.handleConnect)

	s.mcpServer.AddTool(mcp.NewTool(
		"update_edge",
		mcp.WithDescription("Change the action, protocol or ports of a policy edge."),
		mcp.WithString("edge_id", mcp.Required(), mcp.Description("The edge to update")),
		mcp.WithString("action", mcp.Description("allow or deny")),
		mcp.WithString("protocol", mcp.Description("tcp, udp, icmp or any")),
		mcp.WithString("ports", mcp.Description("Port list")),
	), s.handleUpdateEdge)

	s.mcpServer.AddTool(mcp.NewTool(
		"delete_nodes",
		mcp.WithDescription("Delete nodes and every edge attached to them."),
		mcp.WithString("ids", mcp.Required(), mcp.Description("Comma separated node ids")),
	), s.handleDeleteNodes)

	s.mcpServer.AddTool(mcp.NewTool(
		"remove_edges",
		mcp.WithDescription("Remove policy edges."),
		mcp.WithString("ids", mcp.Required(), mcp.Description("Comma separated edge ids")),
	), s.handleRemoveEdges)

	s.mcpServer.AddTool(mcp.NewTool(
		"select",
		mcp.WithDescription("Select a node or edge by id. An empty id clears the selection."),
		mcp.WithString("id", mcp.Description("Element id")),
	), s.handleSelect)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		promptName,
		mcp.WithPromptDescription("Explains the policy canvas model (nodes, edges, selection)"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadGraph(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	snap, err := s.apiClient.Graph(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch graph: %w", err)
	}
	return jsonContents(request.Params.URI, snap)
}

func (s *Server) handleReadEvents(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	events, err := s.apiClient.GetEvents(ctx, 50)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	return jsonContents(request.Params.URI, events)
}

func (s *Server) handleReadRules(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return s.csvReport(ctx, request.Params.URI, "rules")
}

func (s *Server) handleReadLint(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return s.csvReport(ctx, request.Params.URI, "lint")
}

func (s *Server) csvReport(ctx context.Context, uri, reportType string) ([]mcp.ResourceContents, error) {
	body, err := s.apiClient.Report(ctx, reportType, client.ReportOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s report: %w", reportType, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/csv",
			Text:     string(body),
		},
	}, nil
}

func (s *Server) handleAddNode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n := client.NewNode{
		ID:   mcp.ParseString(request, "id", ""),
		Type: graph.NodeType(mcp.ParseString(request, "type", "")),
		Position: graph.Position{
			X: mcp.ParseFloat64(request, "x", 0),
			Y: mcp.ParseFloat64(request, "y", 0),
		},
	}
	if label := mcp.ParseString(request, "label", ""); label != "" {
		n.Data = map[string]any{"label": label}
	}

	created, err := s.apiClient.AddNode(ctx, n)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Added %s node %s (%s)", created.Type, created.ID, created.Label())), nil
}

func (s *Server) handleUpdateNode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "node_id", "")
	key := mcp.ParseString(request, "key", "")
	value := mcp.ParseString(request, "value", "")
	if key == "" {
		return mcp.NewToolResultError("key is required"), nil
	}

	n, err := s.apiClient.UpdateNode(ctx, id, map[string]any{key: value})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Node %s: %s = %v", n.ID, key, n.Data[key])), nil
}

func (s *Server) handleConnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conn := graph.Connection{
		Source: mcp.ParseString(request, "source", ""),
		Target: mcp.ParseString(request, "target", ""),
	}
	action := mcp.ParseString(request, "action", "")
	protocol := mcp.ParseString(request, "protocol", "")
	ports := mcp.ParseString(request, "ports", "")
	if action != "" || protocol != "" || ports != "" {
		conn.Data = &graph.EdgeData{Action: graph.Action(action), Protocol: graph.Protocol(protocol), Ports: ports}
	}

	e, err := s.apiClient.Connect(ctx, conn)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText(describeEdge(e)), nil
}

func (s *Server) handleUpdateEdge(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var patch graph.EdgePatch
	if v := mcp.ParseString(request, "action", ""); v != "" {
		a := graph.Action(v)
		patch.Action = &a
	}
	if v := mcp.ParseString(request, "protocol", ""); v != "" {
		p := graph.Protocol(v)
		patch.Protocol = &p
	}
	if v, ok := request.GetArguments()["ports"].(string); ok {
		patch.Ports = &v
	}

	e, err := s.apiClient.UpdateEdge(ctx, mcp.ParseString(request, "edge_id", ""), patch)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText(describeEdge(e)), nil
}

func (s *Server) handleDeleteNodes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids := splitIDs(mcp.ParseString(request, "ids", ""))
	if len(ids) == 0 {
		return mcp.NewToolResultError("ids is required"), nil
	}

	removed, err := s.apiClient.DeleteNodes(ctx, ids...)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deleted nodes: %s\nDeleted edges: %s",
		strings.Join(removed.Nodes, ", "), joinOrNone(removed.Edges))), nil
}

func (s *Server) handleRemoveEdges(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids := splitIDs(mcp.ParseString(request, "ids", ""))
	if len(ids) == 0 {
		return mcp.NewToolResultError("ids is required"), nil
	}

	removed, err := s.apiClient.RemoveEdges(ctx, ids...)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText("Removed edges: " + joinOrNone(removed)), nil
}

func (s *Server) handleSelect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sel, err := s.apiClient.Select(ctx, mcp.ParseString(request, "id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	if sel.SelectedID == "" {
		return mcp.NewToolResultText("Selection cleared"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Selected %s %s", sel.Kind, sel.SelectedID)), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != promptName {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are editing a firewall policy canvas.

Concepts:
- Node: a host (fqdn), network (cidr) or group (members) on the canvas.
- Edge: a directed policy from a source node to a target node with an action (allow/deny),
  a protocol (tcp/udp/icmp/any) and a port list.
- Selection: at most one node or edge is selected at a time.

Read the policycanvas://graph resource before editing. Deleting a node also deletes every
edge attached to it; list those edges to the user and get confirmation before calling
delete_nodes.
`

	return mcp.NewGetPromptResult(
		promptName,
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func describeEdge(e graph.Edge) string {
	ports := e.Data.Ports
	if ports == "" {
		ports = "any"
	}
	return fmt.Sprintf("Edge %s: %s -> %s %s %s ports %s", e.ID, e.Source, e.Target, e.Data.Action, e.Data.Protocol, ports)
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}
