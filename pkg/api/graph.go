package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rmax-ai/policycanvas/pkg/engine"
	"github.com/rmax-ai/policycanvas/pkg/graph"
	"github.com/rmax-ai/policycanvas/pkg/logging"
)

// handleGraph returns the current snapshot.
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.graph.Snapshot())
}

// handleGraphStream sends a snapshot as a server-sent event on every state
// change. Changes between two writes are coalesced into the latest snapshot.
func (s *Server) handleGraphStream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The stream outlives the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		writeError(w, r, http.StatusInternalServerError, ErrorResponse{Error: "streaming_unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	logger := logging.FromContext(r.Context())
	sub := s.graph.Subscribe(r.Context())
	defer sub.Close()

	for snap := range sub.C() {
		payload, err := json.Marshal(snap)
		if err != nil {
			logger.Error("failed_to_encode_snapshot", "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Version, payload); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			logger.Warn("graph_stream_flush_failed", "error", err)
			return
		}
	}
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	n, err := s.graph.Node(r.PathValue("id"))
	if err != nil {
		s.writeGraphError(w, r, "", err)
		return
	}
	writeJSON(w, r, http.StatusOK, n)
}

func (s *Server) handleGetEdge(w http.ResponseWriter, r *http.Request) {
	e, err := s.graph.Edge(r.PathValue("id"))
	if err != nil {
		s.writeGraphError(w, r, "", err)
		return
	}
	writeJSON(w, r, http.StatusOK, e)
}

// handleAddNode creates a node. Without an id the node is named after its
// type and the current time, as the palette drop does.
func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var req AddNodeRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeRequestError(w, r, graph.OpAddNode, err)
		return
	}

	n := graph.Node{
		ID:       req.ID,
		Type:     graph.NodeType(req.Type),
		Position: req.Position,
		Data:     req.Data,
	}
	if n.ID == "" {
		n.ID = graph.NewNodeID(n.Type, time.Now())
	}

	if err := s.graph.AddNode(n); err != nil {
		s.writeGraphError(w, r, graph.OpAddNode, err)
		return
	}
	created, err := s.graph.Node(n.ID)
	if err != nil {
		// Deleted again between the two calls.
		s.writeGraphError(w, r, graph.OpAddNode, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	var req UpdateNodeRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeRequestError(w, r, graph.OpUpdateNode, err)
		return
	}

	id := r.PathValue("id")
	if err := s.graph.UpdateNode(id, req.Data); err != nil {
		s.writeGraphError(w, r, graph.OpUpdateNode, err)
		return
	}
	n, err := s.graph.Node(id)
	if err != nil {
		s.writeGraphError(w, r, graph.OpUpdateNode, err)
		return
	}
	writeJSON(w, r, http.StatusOK, n)
}

// handleDeleteNodes deletes nodes and every edge attached to them.
func (s *Server) handleDeleteNodes(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeRequestError(w, r, graph.OpDeleteNodes, err)
		return
	}

	removed, err := s.graph.DeleteNodes(req.IDs...)
	if err != nil {
		s.writeGraphError(w, r, graph.OpDeleteNodes, err)
		return
	}
	writeJSON(w, r, http.StatusOK, removed)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeRequestError(w, r, graph.OpConnect, err)
		return
	}

	e, err := s.graph.Connect(graph.Connection{
		ID:     req.ID,
		Source: req.Source,
		Target: req.Target,
		Data:   req.Data,
	})
	if err != nil {
		s.writeGraphError(w, r, graph.OpConnect, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, e)
}

func (s *Server) handleUpdateEdge(w http.ResponseWriter, r *http.Request) {
	var patch graph.EdgePatch
	if err := decodeRequest(w, r, &patch); err != nil {
		s.writeRequestError(w, r, graph.OpUpdateEdge, err)
		return
	}

	id := r.PathValue("id")
	if err := s.graph.UpdateEdge(id, patch); err != nil {
		s.writeGraphError(w, r, graph.OpUpdateEdge, err)
		return
	}
	e, err := s.graph.Edge(id)
	if err != nil {
		s.writeGraphError(w, r, graph.OpUpdateEdge, err)
		return
	}
	writeJSON(w, r, http.StatusOK, e)
}

func (s *Server) handleRemoveEdges(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeRequestError(w, r, graph.OpRemoveEdges, err)
		return
	}

	removed, err := s.graph.RemoveEdges(req.IDs...)
	if err != nil {
		s.writeGraphError(w, r, graph.OpRemoveEdges, err)
		return
	}
	writeJSON(w, r, http.StatusOK, RemovedEdgesResponse{Removed: removed})
}

// handleNodeChanges applies a change batch from the rendering surface.
func (s *Server) handleNodeChanges(w http.ResponseWriter, r *http.Request) {
	var req NodeChangesRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeRequestError(w, r, graph.OpNodeChanges, err)
		return
	}

	removed, err := s.graph.ApplyNodeChanges(req.Changes)
	if err != nil {
		s.writeGraphError(w, r, graph.OpNodeChanges, err)
		return
	}
	writeJSON(w, r, http.StatusOK, removed)
}

func (s *Server) handleEdgeChanges(w http.ResponseWriter, r *http.Request) {
	var req EdgeChangesRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeRequestError(w, r, graph.OpEdgeChanges, err)
		return
	}

	removed, err := s.graph.ApplyEdgeChanges(req.Changes)
	if err != nil {
		s.writeGraphError(w, r, graph.OpEdgeChanges, err)
		return
	}
	writeJSON(w, r, http.StatusOK, RemovedEdgesResponse{Removed: removed})
}

func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.selection())
}

func (s *Server) handleSetSelection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeRequestError(w, r, graph.OpSelect, err)
		return
	}

	if err := s.graph.SetSelectedID(req.ID); err != nil {
		s.writeGraphError(w, r, graph.OpSelect, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.selection())
}

func (s *Server) selection() SelectionResponse {
	snap := s.graph.Snapshot()
	sel := s.graph.Selection()
	return SelectionResponse{
		SelectedID: sel.ID(),
		Kind:       string(sel.Kind()),
		State:      sel.State().String(),
		Version:    snap.Version,
	}
}

// writeGraphError maps a store error to its status and error code. Rejected
// mutations are counted per op; reads pass an empty op.
func (s *Server) writeGraphError(w http.ResponseWriter, r *http.Request, op graph.Op, err error) {
	if op != "" {
		engine.ObserveMutationError(op, err)
	}

	body := ErrorResponse{Error: engine.ErrorReason(err), Details: err.Error()}

	var (
		refErr *graph.ReferenceError
		dupErr *graph.DuplicateIDError
		valErr *graph.ValueError
	)
	switch {
	case errors.As(err, &refErr):
		body.ID = refErr.ID
		writeError(w, r, http.StatusNotFound, body)
	case errors.As(err, &dupErr):
		body.ID = dupErr.ID
		writeError(w, r, http.StatusConflict, body)
	case errors.As(err, &valErr):
		body.Field = valErr.Field
		writeError(w, r, http.StatusBadRequest, body)
	default:
		logging.FromContext(r.Context()).Error("graph_operation_failed", "op", string(op), "error", err)
		writeError(w, r, http.StatusInternalServerError, ErrorResponse{Error: "internal_server_error"})
	}
}

func (s *Server) writeRequestError(w http.ResponseWriter, r *http.Request, op graph.Op, err error) {
	var reqErr *requestError
	if !errors.As(err, &reqErr) {
		s.writeGraphError(w, r, op, err)
		return
	}
	if op != "" {
		engine.MutationErrorsTotal.WithLabelValues(string(op), reqErr.code).Inc()
	}
	writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: reqErr.code, Field: reqErr.field, Details: reqErr.Error()})
}
