package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rmax-ai/policycanvas/pkg/logging"
	"github.com/rmax-ai/policycanvas/pkg/store"
)

// handleCreateWebhook registers a webhook and returns its signing secret.
func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w, r) {
		return
	}

	var req WebhookRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeRequestError(w, r, "", err)
		return
	}

	// Auto-generate ID and Secret
	cfg := &store.WebhookConfig{
		WebhookID: "wh_" + uuid.NewString(),
		URL:       req.URL,
		Secret:    generateToken(),
		Events:    req.Events,
		CreatedAt: time.Now().UTC(),
		Active:    true,
	}

	if err := s.store.RegisterWebhook(r.Context(), cfg); err != nil {
		logging.FromContext(r.Context()).Error("failed_to_register_webhook", "error", err)
		writeError(w, r, http.StatusInternalServerError, ErrorResponse{Error: "internal_server_error"})
		return
	}

	logging.FromContext(r.Context()).Info("webhook_registered", "webhook_id", cfg.WebhookID, "url", cfg.URL)
	writeJSON(w, r, http.StatusCreated, WebhookResponse{WebhookID: cfg.WebhookID, Secret: cfg.Secret})
}

// handleListWebhooks lists the registered webhooks without their secrets.
func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w, r) {
		return
	}

	hooks, err := s.store.ListWebhooks(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("failed_to_list_webhooks", "error", err)
		writeError(w, r, http.StatusInternalServerError, ErrorResponse{Error: "internal_server_error"})
		return
	}

	out := make([]WebhookInfo, 0, len(hooks))
	for _, h := range hooks {
		events := h.Events
		if events == nil {
			events = []string{}
		}
		out = append(out, WebhookInfo{
			WebhookID: h.WebhookID,
			URL:       h.URL,
			Events:    events,
			CreatedAt: h.CreatedAt,
			Active:    h.Active,
		})
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w, r) {
		return
	}

	id := r.PathValue("id")
	if err := s.store.DeleteWebhook(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, ErrorResponse{Error: "webhook_not_found", ID: id})
			return
		}
		logging.FromContext(r.Context()).Error("failed_to_delete_webhook", "webhook_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, ErrorResponse{Error: "internal_server_error"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireStore answers 503 when the server runs without an event log.
func (s *Server) requireStore(w http.ResponseWriter, r *http.Request) bool {
	if s.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, ErrorResponse{Error: "event_log_not_available"})
		return false
	}
	return true
}
