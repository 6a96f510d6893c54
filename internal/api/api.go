// Package api provides the HTTP surface for TextCart.
//
// It exposes the inbound-message endpoint invoked by transport webhooks, a
// health check, and an optional provider webhook passthrough.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/TextCartHQ/TextCart/internal/flow"
	"github.com/TextCartHQ/TextCart/internal/messaging"
	"github.com/TextCartHQ/TextCart/internal/models"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

const shutdownTimeout = 10 * time.Second

// InboundRequest is the JSON body of the inbound-message endpoint.
type InboundRequest struct {
	TenantID  string `json:"tenant_id"`
	From      string `json:"from"`
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text"`
}

// Opts holds configuration options for the API server.
type Opts struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// ProviderWebhook, when set, is mounted at /webhook/provider for the
	// transport's own callback format.
	ProviderWebhook http.HandlerFunc
	// DefaultTenant is used for inbound requests that omit tenant_id.
	DefaultTenant string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithProviderWebhook mounts the transport's webhook handler.
func WithProviderWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.ProviderWebhook = h }
}

// WithDefaultTenant sets the tenant used when inbound requests omit one.
func WithDefaultTenant(tenant string) Option {
	return func(o *Opts) { o.DefaultTenant = tenant }
}

// Server is the TextCart HTTP API server.
type Server struct {
	orchestrator  *flow.Orchestrator
	msgService    messaging.Service
	defaultTenant string
	httpServer    *http.Server
}

// NewServer creates an API Server around the orchestrator and messaging
// service.
func NewServer(orchestrator *flow.Orchestrator, msgService messaging.Service, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{
		orchestrator:  orchestrator,
		msgService:    msgService,
		defaultTenant: cfg.DefaultTenant,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/inbound", s.inboundHandler)
	mux.HandleFunc("/health", s.healthHandler)
	if cfg.ProviderWebhook != nil {
		mux.HandleFunc("/webhook/provider", cfg.ProviderWebhook)
	}
	s.httpServer = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s
}

// Run starts the HTTP server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		slog.Info("Server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	}
}

// inboundHandler accepts a transport-normalized inbound message and routes it
// through the orchestrator synchronously.
func (s *Server) inboundHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.inboundHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req InboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.inboundHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.TenantID == "" {
		req.TenantID = s.defaultTenant
	}
	if req.TenantID == "" || req.From == "" || req.Text == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required fields: tenant_id, from, text"))
		return
	}

	identifier, err := s.msgService.ValidateAndCanonicalizeRecipient(req.From)
	if err != nil {
		slog.Warn("Server.inboundHandler: sender validation failed", "error", err, "from", req.From)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	result, err := s.orchestrator.HandleInboundMessage(r.Context(), req.TenantID, identifier, req.MessageID, req.Text)
	if err != nil {
		// The orchestrator has already sent a recovery reply; the error is
		// surfaced here for observability only.
		slog.Error("Server.inboundHandler: orchestration failed", "error", err, "tenantID", req.TenantID, "resultTag", result.ResultTag)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("handled with recovery", result))
		return
	}

	slog.Info("Server.inboundHandler: message handled", "tenantID", req.TenantID, "resultTag", result.ResultTag)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// healthHandler reports service liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}
