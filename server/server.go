// Package server exposes the dashboards, the chat assistant and the session
// state as a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"bizdash/analytics"
	"bizdash/assistant"
	"bizdash/db"
	"bizdash/session"
	"bizdash/utils"
)

// Server routes HTTP requests to the session manager
type Server struct {
	manager *session.Manager
	cfg     utils.ServerConfig
	logger  *utils.Logger
	metrics *Metrics
	mux     *http.ServeMux
	version string
}

// New creates a server and registers every route
func New(manager *session.Manager, cfg utils.ServerConfig, logger *utils.Logger, version string) *Server {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	s := &Server{
		manager: manager,
		cfg:     cfg,
		logger:  logger,
		metrics: NewMetrics(),
		mux:     http.NewServeMux(),
		version: version,
	}
	s.routes()
	return s
}

// Metrics returns the server's collectors
func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) routes() {
	s.handle("POST /process_message", s.handleProcessMessage)
	s.handle("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
	s.handle("GET /api/stats", s.handleStats)
	s.handle("GET /api/pages", s.handlePages)

	s.handle("GET /api/sessions", s.handleListSessions)
	s.handle("POST /api/sessions", s.handleCreateSession)
	s.handle("GET /api/sessions/{id}", s.withSession(s.handleGetSession))
	s.handle("DELETE /api/sessions/{id}", s.handleDeleteSession)

	s.handle("GET /api/sessions/{id}/controls", s.withSession(s.handleControls))
	s.handle("POST /api/sessions/{id}/view", s.withSession(s.handleView))
	s.handle("POST /api/sessions/{id}/chat", s.withSession(s.handleChat))
	s.handle("GET /api/sessions/{id}/conversation", s.withSession(s.handleConversation))

	s.handle("POST /api/sessions/{id}/code/draft", s.withSession(s.handleBeginCode))
	s.handle("DELETE /api/sessions/{id}/code/draft", s.withSession(s.handleCancelCode))
	s.handle("POST /api/sessions/{id}/code", s.withSession(s.handleSubmitCode))
	s.handle("GET /api/sessions/{id}/code", s.withSession(s.handleListCode))
	s.handle("POST /api/sessions/{id}/code/{itemID}/run", s.withSession(s.handleRunCode))
	s.handle("DELETE /api/sessions/{id}/code/{itemID}", s.withSession(s.handleRemoveCode))

	s.handle("GET /api/sessions/{id}/plots", s.withSession(s.handleListPlots))
	s.handle("DELETE /api/sessions/{id}/plots/{plotID}", s.withSession(s.handleRemovePlot))

	s.handle("POST /api/sessions/{id}/files", s.withSession(s.handleUpload))
	s.handle("GET /api/sessions/{id}/files", s.withSession(s.handleListFiles))
	s.handle("DELETE /api/sessions/{id}/files/{fileID}", s.withSession(s.handleRemoveFile))

	s.handle("POST /api/sessions/{id}/charts", s.withSession(s.handleChart))
	s.handle("GET /api/sessions/{id}/export", s.withSession(s.handleExport))
}

// handle registers fn under pattern, counting responses by route
func (s *Server) handle(pattern string, fn http.HandlerFunc) {
	s.mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		s.metrics.requests.WithLabelValues(pattern, fmt.Sprint(rec.status)).Inc()
	}))
}

// Handler returns the routes wrapped with panic recovery and request logging
func (s *Server) Handler() http.Handler {
	return s.recoverer(s.logRequests(s.mux))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSeconds) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening on %s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("%s %s %d %v", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("Panic recovered in %s %s: %v\nStack trace:\n%s", r.Method, r.URL.Path, p, string(debug.Stack()))
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// headers are gone; nothing left to report to the client
		return
	}
}

// statusOf maps the error taxonomy onto HTTP status codes
func statusOf(err error) int {
	var ee *assistant.ExecutionError
	switch {
	case errors.As(err, &ee):
		return http.StatusUnprocessableEntity
	case analytics.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// badRequest reports a malformed request body
func badRequest(reason string, err error) error {
	return &analytics.ValidationError{Field: "request", Reason: fmt.Sprintf("%s: %v", reason, err)}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body", err)
	}
	return nil
}
