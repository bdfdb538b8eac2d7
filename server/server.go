// Package server provides the HTTP transport for a nexus node. It layers
// strictly above the nexus facade: every handler translates a request into
// one facade operation and maps the core error taxonomy onto status codes.
// No core invariant lives here.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/GoCodeAlone/nexus"
)

// Server serves the nexus HTTP API.
type Server struct {
	nexus  *nexus.Nexus
	logger nexus.Logger

	mu         sync.Mutex
	httpServer *http.Server
	isStarted  bool
}

// New creates a server for the given nexus instance. The listen address
// comes from the nexus config.
func New(n *nexus.Nexus, logger nexus.Logger) *Server {
	return &Server{
		nexus:  n,
		logger: logger,
	}
}

// Router builds the chi router with all API routes mounted. Exposed
// separately from Start so tests can drive it with httptest.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/modules", func(r chi.Router) {
		r.Post("/", s.handleRegister)
		r.Get("/", s.handleListModules)
		r.Get("/discover", s.handleDiscover)
		r.Route("/{moduleID}", func(r chi.Router) {
			r.Get("/", s.handleGetModule)
			r.Delete("/", s.handleDeregister)
			r.Post("/heartbeat", s.handleHeartbeat)
			r.Get("/inbox", s.handleReceive)
		})
	})

	r.Post("/messages", s.handleSend)

	return r
}

// Start begins serving on the configured listen address.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isStarted {
		return nil
	}

	s.httpServer = &http.Server{
		Addr:              s.nexus.Config().ListenAddr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", "error", err)
		}
	}()

	s.isStarted = true
	s.logger.Info("HTTP server started", "addr", s.httpServer.Addr)
	return nil
}

// Stop shuts the server down gracefully, bounded by the given context.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isStarted {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	s.isStarted = false
	s.logger.Info("HTTP server stopped")
	return nil
}

// registerRequest is the body of POST /modules.
type registerRequest struct {
	ID           string                   `json:"id"`
	Capabilities []nexus.ModuleCapability `json:"capabilities"`
	Metadata     map[string]string        `json:"metadata,omitempty"`
}

// sendRequest is the body of POST /messages. Payload carries arbitrary JSON
// passed through to recipients untouched.
type sendRequest struct {
	Type          nexus.MessageType `json:"type"`
	From          string            `json:"from"`
	To            []string          `json:"to,omitempty"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"nodeId": s.nexus.Config().NodeID,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}

	record, err := s.nexus.Register(r.Context(), req.ID, req.Capabilities, req.Metadata)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.nexus.ListModules())
}

func (s *Server) handleGetModule(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "moduleID")
	record, ok := s.nexus.GetModule(moduleID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", nexus.ErrUnknownModule, moduleID))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	s.nexus.Deregister(r.Context(), chi.URLParam(r, "moduleID"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.nexus.Heartbeat(r.Context(), chi.URLParam(r, "moduleID")); err != nil {
		s.writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	capability := r.URL.Query().Get("capability")
	if capability == "" {
		writeError(w, http.StatusBadRequest, errors.New("capability query parameter is required"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"capability": capability,
		"modules":    s.nexus.Discover(nexus.ModuleCapability(capability)),
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}

	msg := nexus.NewMessage(req.Type, req.From, req.To, []byte(req.Payload))
	msg.CorrelationID = req.CorrelationID
	msg.Metadata = req.Metadata

	receipt, err := s.nexus.Send(r.Context(), msg)
	if err != nil {
		// Partial delivery still yields a receipt worth returning; surface
		// it in the error body's stead only when nothing was delivered.
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "moduleID")

	wait := 30 * time.Second
	if raw := r.URL.Query().Get("wait"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid wait duration: %w", err))
			return
		}
		wait = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()

	msg, err := s.nexus.Receive(ctx, moduleID)
	if err != nil {
		if errors.Is(err, nexus.ErrReceiveTimeout) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// writeCoreError maps the core error taxonomy onto HTTP status codes.
func (s *Server) writeCoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, nexus.ErrDuplicateModule):
		status = http.StatusConflict
	case errors.Is(err, nexus.ErrUnknownModule), errors.Is(err, nexus.ErrNoRecipients):
		status = http.StatusNotFound
	case errors.Is(err, nexus.ErrInvalidMessage), errors.Is(err, nexus.ErrModuleIDEmpty):
		status = http.StatusBadRequest
	case errors.Is(err, nexus.ErrQueueFull):
		status = http.StatusTooManyRequests
	case errors.Is(err, nexus.ErrNexusNotStarted), errors.Is(err, nexus.ErrBrokerNotStarted):
		status = http.StatusServiceUnavailable
	case errors.Is(err, nexus.ErrInboxClosed):
		status = http.StatusGone
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Unhandled core error", "error", err)
	}
	writeError(w, status, err)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
