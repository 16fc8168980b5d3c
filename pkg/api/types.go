package api

import (
	"time"

	"github.com/rmax-ai/policycanvas/pkg/graph"
)

// AddNodeRequest matches the POST /v1/graph/nodes body schema.
// An empty ID gets "<type>-<unix millis>", as a dropped node does.
type AddNodeRequest struct {
	ID       string         `json:"id,omitempty" validate:"omitempty,max=128"`
	Type     string         `json:"type" validate:"required,max=32"`
	Position graph.Position `json:"position"`
	Data     map[string]any `json:"data,omitempty" validate:"omitempty,max=100"`
}

// UpdateNodeRequest matches the PATCH /v1/graph/nodes/{id} body schema.
type UpdateNodeRequest struct {
	Data map[string]any `json:"data" validate:"required,max=100"`
}

// ConnectRequest matches the POST /v1/graph/edges body schema.
type ConnectRequest struct {
	ID     string          `json:"id,omitempty" validate:"omitempty,max=256"`
	Source string          `json:"source" validate:"required,max=128"`
	Target string          `json:"target" validate:"required,max=128"`
	Data   *graph.EdgeData `json:"data,omitempty"`
}

// IDsRequest is the body of the bulk DELETE endpoints.
type IDsRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=1000,dive,required"`
}

// NodeChangesRequest matches the POST /v1/graph/changes/nodes body schema.
type NodeChangesRequest struct {
	Changes []graph.NodeChange `json:"changes" validate:"max=1000,dive"`
}

// EdgeChangesRequest matches the POST /v1/graph/changes/edges body schema.
type EdgeChangesRequest struct {
	Changes []graph.EdgeChange `json:"changes" validate:"max=1000,dive"`
}

// SelectionRequest matches the PUT /v1/graph/selection body schema.
// An empty ID clears the selection.
type SelectionRequest struct {
	ID string `json:"id" validate:"max=256"`
}

// SelectionResponse reports the current selection.
type SelectionResponse struct {
	SelectedID string `json:"selected_id"`
	Kind       string `json:"kind,omitempty"`
	State      string `json:"state"`
	Version    uint64 `json:"version"`
}

// RemovedEdgesResponse lists the edges an edge removal took out.
type RemovedEdgesResponse struct {
	Removed []string `json:"removed"`
}

// WebhookRequest matches the POST /v1/webhooks body schema.
type WebhookRequest struct {
	URL    string   `json:"url" validate:"required,url"`
	Events []string `json:"events,omitempty" validate:"omitempty,dive,required"`
}

// WebhookResponse is returned once on registration; the secret is not shown again.
type WebhookResponse struct {
	WebhookID string `json:"webhook_id"`
	Secret    string `json:"secret,omitempty"`
}

// WebhookInfo is the listing view of a webhook.
type WebhookInfo struct {
	WebhookID string    `json:"webhook_id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	ID      string `json:"id,omitempty"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version uint64 `json:"version"`
}
