package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rmax-ai/policycanvas/pkg/graph"
)

// Client is the policycanvas SDK client.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a new policycanvas client.
// endpoint defaults to "http://127.0.0.1:8090" if empty.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8090"
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Ping checks the health of the daemon.
func (c *Client) Ping(ctx context.Context) (Status, error) {
	var status Status
	err := c.do(ctx, http.MethodGet, "/v1/health", nil, &status)
	return status, err
}

// Graph returns the current snapshot.
func (c *Client) Graph(ctx context.Context) (graph.Snapshot, error) {
	var snap graph.Snapshot
	err := c.do(ctx, http.MethodGet, "/v1/graph", nil, &snap)
	return snap, err
}

// Node returns one node.
func (c *Client) Node(ctx context.Context, id string) (graph.Node, error) {
	var n graph.Node
	err := c.do(ctx, http.MethodGet, "/v1/graph/nodes/"+url.PathEscape(id), nil, &n)
	return n, err
}

// Edge returns one edge.
func (c *Client) Edge(ctx context.Context, id string) (graph.Edge, error) {
	var e graph.Edge
	err := c.do(ctx, http.MethodGet, "/v1/graph/edges/"+url.PathEscape(id), nil, &e)
	return e, err
}

// AddNode creates a node and returns it as stored.
func (c *Client) AddNode(ctx context.Context, n NewNode) (graph.Node, error) {
	var created graph.Node
	err := c.do(ctx, http.MethodPost, "/v1/graph/nodes", n, &created)
	return created, err
}

// UpdateNode merges data into a node's data.
func (c *Client) UpdateNode(ctx context.Context, id string, data map[string]any) (graph.Node, error) {
	var n graph.Node
	body := map[string]any{"data": data}
	err := c.do(ctx, http.MethodPatch, "/v1/graph/nodes/"+url.PathEscape(id), body, &n)
	return n, err
}

// DeleteNodes deletes nodes together with their edges.
func (c *Client) DeleteNodes(ctx context.Context, ids ...string) (graph.Removal, error) {
	var removed graph.Removal
	err := c.do(ctx, http.MethodDelete, "/v1/graph/nodes", map[string]any{"ids": ids}, &removed)
	return removed, err
}

// Connect draws an edge between two nodes.
func (c *Client) Connect(ctx context.Context, conn graph.Connection) (graph.Edge, error) {
	var e graph.Edge
	err := c.do(ctx, http.MethodPost, "/v1/graph/edges", conn, &e)
	return e, err
}

// UpdateEdge applies a partial edge data patch.
func (c *Client) UpdateEdge(ctx context.Context, id string, patch graph.EdgePatch) (graph.Edge, error) {
	var e graph.Edge
	err := c.do(ctx, http.MethodPatch, "/v1/graph/edges/"+url.PathEscape(id), patch, &e)
	return e, err
}

// RemoveEdges removes edges and returns their ids.
func (c *Client) RemoveEdges(ctx context.Context, ids ...string) ([]string, error) {
	var resp struct {
		Removed []string `json:"removed"`
	}
	err := c.do(ctx, http.MethodDelete, "/v1/graph/edges", map[string]any{"ids": ids}, &resp)
	return resp.Removed, err
}

// ApplyNodeChanges sends a node change batch.
func (c *Client) ApplyNodeChanges(ctx context.Context, changes []graph.NodeChange) (graph.Removal, error) {
	var removed graph.Removal
	err := c.do(ctx, http.MethodPost, "/v1/graph/changes/nodes", map[string]any{"changes": changes}, &removed)
	return removed, err
}

// ApplyEdgeChanges sends an edge change batch.
func (c *Client) ApplyEdgeChanges(ctx context.Context, changes []graph.EdgeChange) ([]string, error) {
	var resp struct {
		Removed []string `json:"removed"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/graph/changes/edges", map[string]any{"changes": changes}, &resp)
	return resp.Removed, err
}

// Selection returns the current selection.
func (c *Client) Selection(ctx context.Context) (Selection, error) {
	var sel Selection
	err := c.do(ctx, http.MethodGet, "/v1/graph/selection", nil, &sel)
	return sel, err
}

// Select selects a node or an edge by id. An empty id clears the selection.
func (c *Client) Select(ctx context.Context, id string) (Selection, error) {
	var sel Selection
	err := c.do(ctx, http.MethodPut, "/v1/graph/selection", map[string]string{"id": id}, &sel)
	return sel, err
}

// GetEvents fetches recent events from the daemon, newest first.
func (c *Client) GetEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []Event
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/events?limit=%d", limit), nil, &events)
	return events, err
}

// GetEventsAfter fetches the events following seq, oldest first.
func (c *Client) GetEventsAfter(ctx context.Context, seq int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []Event
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/events?after=%d&limit=%d", seq, limit), nil, &events)
	return events, err
}

// Report downloads a CSV report.
func (c *Client) Report(ctx context.Context, reportType string, opts ReportOptions) ([]byte, error) {
	q := url.Values{}
	q.Set("type", reportType)
	if !opts.From.IsZero() {
		q.Set("from", opts.From.Format(time.RFC3339))
	}
	if !opts.To.IsZero() {
		q.Set("to", opts.To.Format(time.RFC3339))
	}
	for k, v := range opts.Filters {
		q.Set(k, v)
	}

	resp, err := c.send(ctx, http.MethodGet, "/v1/reports?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// RegisterWebhook registers a webhook for the given event types (all when empty).
func (c *Client) RegisterWebhook(ctx context.Context, hookURL string, events ...string) (WebhookRegistration, error) {
	var reg WebhookRegistration
	body := map[string]any{"url": hookURL, "events": events}
	err := c.do(ctx, http.MethodPost, "/v1/webhooks", body, &reg)
	return reg, err
}

// ListWebhooks lists registered webhooks.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var hooks []Webhook
	err := c.do(ctx, http.MethodGet, "/v1/webhooks", nil, &hooks)
	return hooks, err
}

// DeleteWebhook removes a webhook.
func (c *Client) DeleteWebhook(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/webhooks/"+url.PathEscape(id), nil, nil)
}

// Watch streams snapshots until ctx is cancelled or the daemon closes the
// stream. The first snapshot is the current state.
func (c *Client) Watch(ctx context.Context) (<-chan graph.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/graph/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream has no overall deadline.
	streamClient := &http.Client{Transport: c.http.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	out := make(chan graph.Snapshot, 1)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}
			var snap graph.Snapshot
			if err := json.Unmarshal([]byte(data), &snap); err != nil {
				continue
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// do sends body as JSON and decodes a 2xx reply into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// send performs the request and turns non-2xx replies into *APIError.
func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = "unexpected_status"
		apiErr.Details = strings.TrimSpace(string(raw))
	}
	return apiErr
}
