package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rmax-ai/policycanvas/pkg/graph"
	"github.com/rmax-ai/policycanvas/pkg/logging"
	"github.com/rmax-ai/policycanvas/pkg/store"
)

// StoreInterface is the event log surface the API reads and the webhook
// registry it manages.
type StoreInterface interface {
	ReadRecentEvents(ctx context.Context, limit int) ([]*store.Event, error)
	ReadEventsAfterSeq(ctx context.Context, after int64, limit int) ([]*store.Event, error)
	ReadEventsSince(ctx context.Context, since time.Time, limit int) ([]*store.Event, error)

	// Webhooks
	RegisterWebhook(ctx context.Context, cfg *store.WebhookConfig) error
	ListWebhooks(ctx context.Context) ([]*store.WebhookConfig, error)
	DeleteWebhook(ctx context.Context, webhookID string) error
}

// Server encapsulates the HTTP API server
type Server struct {
	graph    *graph.Store
	store    StoreInterface
	server   *http.Server
	staticFS fs.FS
	logger   *slog.Logger

	// TLS Config
	tlsCertFile string
	tlsKeyFile  string
}

// NewServer creates a new API server instance. st may be nil, in which case
// the event and webhook endpoints answer 503.
func NewServer(g *graph.Store, st StoreInterface, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		graph:  g,
		store:  st,
		logger: logger,
	}

	mux := http.NewServeMux()

	// Register routes
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/graph", s.handleGraph)
	mux.HandleFunc("GET /v1/graph/stream", s.handleGraphStream)
	mux.HandleFunc("POST /v1/graph/nodes", s.handleAddNode)
	mux.HandleFunc("DELETE /v1/graph/nodes", s.handleDeleteNodes)
	mux.HandleFunc("GET /v1/graph/nodes/{id}", s.handleGetNode)
	mux.HandleFunc("PATCH /v1/graph/nodes/{id}", s.handleUpdateNode)
	mux.HandleFunc("POST /v1/graph/edges", s.handleConnect)
	mux.HandleFunc("DELETE /v1/graph/edges", s.handleRemoveEdges)
	mux.HandleFunc("GET /v1/graph/edges/{id}", s.handleGetEdge)
	mux.HandleFunc("PATCH /v1/graph/edges/{id}", s.handleUpdateEdge)
	mux.HandleFunc("POST /v1/graph/changes/nodes", s.handleNodeChanges)
	mux.HandleFunc("POST /v1/graph/changes/edges", s.handleEdgeChanges)
	mux.HandleFunc("GET /v1/graph/selection", s.handleGetSelection)
	mux.HandleFunc("PUT /v1/graph/selection", s.handleSetSelection)

	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/reports", s.handleReports)
	mux.HandleFunc("GET /v1/webhooks", s.handleListWebhooks)
	mux.HandleFunc("POST /v1/webhooks", s.handleCreateWebhook)
	mux.HandleFunc("DELETE /v1/webhooks/{id}", s.handleDeleteWebhook)

	// Static file handler (catch-all for SPA). GET only, so a wrong method on
	// an API path is answered with 405.
	mux.Handle("GET /", s.handleStatic())

	// Middleware: Logging, Panic Recovery, Security Headers
	handler := s.withLogging(s.withRecovery(withSecureHeaders(mux)))

	// Use default port if addr is empty
	if addr == "" {
		addr = ":8090"
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetStaticFS sets the filesystem for serving static web assets
func (s *Server) SetStaticFS(fs fs.FS) {
	s.staticFS = fs
}

// SetTLS configures the server to use TLS
func (s *Server) SetTLS(certFile, keyFile string) {
	s.tlsCertFile = certFile
	s.tlsKeyFile = keyFile
}

// Start runs the HTTP server (blocking)
func (s *Server) Start() error {
	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		s.logger.Info("server_starting_tls", "addr", s.server.Addr)
		if err := s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	} else {
		s.logger.Info("server_starting", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("server_stopping")
	return s.server.Shutdown(ctx)
}

// handleHealth returns simple status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, HealthResponse{Status: "ok", Version: s.graph.Version()})
}

// handleStatic serves static web assets with SPA fallback
func (s *Server) handleStatic() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.staticFS == nil {
			writeError(w, r, http.StatusNotFound, ErrorResponse{Error: "not_found"})
			return
		}

		path := strings.TrimPrefix(r.URL.Path, "/")

		// Skip API routes
		if strings.HasPrefix(path, "v1/") || path == "metrics" {
			writeError(w, r, http.StatusNotFound, ErrorResponse{Error: "not_found"})
			return
		}

		// Try to serve the file directly
		if path != "" {
			if file, err := s.staticFS.Open(path); err == nil {
				defer file.Close()
				if stat, err := file.Stat(); err == nil && !stat.IsDir() {
					switch {
					case strings.HasSuffix(path, ".css"):
						w.Header().Set("Content-Type", "text/css")
					case strings.HasSuffix(path, ".js"):
						w.Header().Set("Content-Type", "application/javascript")
					case strings.HasSuffix(path, ".html"):
						w.Header().Set("Content-Type", "text/html")
					}
					io.Copy(w, file)
					return
				}
			}
		}

		// Fallback to index.html for SPA routing
		if indexFile, err := s.staticFS.Open("index.html"); err == nil {
			defer indexFile.Close()
			w.Header().Set("Content-Type", "text/html")
			io.Copy(w, indexFile)
			return
		}

		http.NotFound(w, r)
	})
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("failed_to_encode_response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, body ErrorResponse) {
	writeJSON(w, r, status, body)
}

// Middleware: Panic Recovery
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logging.FromContext(r.Context()).Error("panic_recovered", "error", fmt.Sprint(err), "path", r.URL.Path)
				writeError(w, r, http.StatusInternalServerError, ErrorResponse{Error: "internal_server_error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Middleware: Request Logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 1. Extract or Generate Trace ID
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = generateTraceID()
		}

		// 2. Inject a request logger carrying the trace id
		logger := s.logger.With("trace_id", traceID)
		r = r.WithContext(logging.WithLogger(r.Context(), logger))

		// Wrap writer to capture status code
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		// 3. Set response header
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(ww, r)

		logger.Info("http_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func generateTraceID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// statusWriter captures HTTP status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func generateToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano()) // Fallback
	}
	return hex.EncodeToString(b)
}

// Middleware: Secure Headers
func withSecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:;")
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-XSS-Protection", "1; mode=block")

		next.ServeHTTP(w, r)
	})
}
