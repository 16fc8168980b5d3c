package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rmax-ai/policycanvas/pkg/logging"
	"github.com/rmax-ai/policycanvas/pkg/reports"
)

// handleEvents returns recorded graph events. With ?after=<seq> the events
// following that seq are returned in order, otherwise the newest first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w, r) {
		return
	}

	q := r.URL.Query()

	// Parse limit query param
	limit := 50
	if l := q.Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = val
		}
	}

	var (
		events any
		err    error
	)
	if after := q.Get("after"); after != "" {
		seq, perr := strconv.ParseInt(after, 10, 64)
		if perr != nil || seq < 0 {
			writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: "invalid_after", Details: "after must be a non-negative seq"})
			return
		}
		events, err = s.store.ReadEventsAfterSeq(r.Context(), seq, limit)
	} else {
		events, err = s.store.ReadRecentEvents(r.Context(), limit)
	}
	if err != nil {
		logging.FromContext(r.Context()).Error("failed_to_read_events", "error", err)
		writeError(w, r, http.StatusInternalServerError, ErrorResponse{Error: "internal_server_error"})
		return
	}

	writeJSON(w, r, http.StatusOK, events)
}

// handleReports generates and streams CSV reports.
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reportType := reports.ReportType(q.Get("type"))
	if reportType == "" {
		writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: "missing_type"})
		return
	}

	// Default time range: last 24h if not specified
	to := time.Now()
	if toStr := q.Get("to"); toStr != "" {
		var err error
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: "invalid_to", Details: "format: RFC3339"})
			return
		}
	}

	from := to.Add(-24 * time.Hour)
	if fromStr := q.Get("from"); fromStr != "" {
		var err error
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: "invalid_from", Details: "format: RFC3339"})
			return
		}
	}

	params := reports.ReportParams{
		Start:   from,
		End:     to,
		Filters: make(map[string]interface{}),
	}
	for _, key := range []string{"action", "protocol", "event_type", "severity"} {
		if v := q.Get(key); v != "" {
			params.Filters[key] = v
		}
	}
	if v := q.Get("node_type"); v != "" {
		params.Filters["type"] = v
	}

	var events reports.EventSource
	if s.store != nil {
		events = s.store
	}
	gen, err := reports.NewReportGenerator(reportType, s.graph, events)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ErrorResponse{Error: "invalid_report_type", Details: err.Error()})
		return
	}

	reader, err := gen.Generate(r.Context(), params)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed_to_generate_report", "type", string(reportType), "error", err)
		writeError(w, r, http.StatusInternalServerError, ErrorResponse{Error: "report_generation_failed"})
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	filename := fmt.Sprintf("report_%s_%d.csv", reportType, time.Now().Unix())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	if _, err := io.Copy(w, reader); err != nil {
		logging.FromContext(r.Context()).Error("failed_to_stream_report", "error", err)
	}
}
