// Package api implements the OpenAI-compatible HTTP surface of the
// proxy: chat completions, model discovery, health, and the debug view
// of tracked conversations.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/switchboard/internal/buildinfo"
	"github.com/nugget/switchboard/internal/conversation"
	"github.com/nugget/switchboard/internal/llm"
	"github.com/nugget/switchboard/internal/router"
)

// routedModelID is the single model the proxy advertises. Clients send
// requests "to" this model; the engine decides what actually answers.
const routedModelID = "switchboard"

// Engine routes one chat completion request. Satisfied by
// *router.Engine; tests substitute stubs.
type Engine interface {
	Route(ctx context.Context, req *router.Request) (any, error)
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// errorBody is the OpenAI-style error envelope.
func errorBody(message, errType, code string) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
			"code":    code,
		},
	}
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	engine  Engine
	store   *conversation.Store
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, engine Engine, store *conversation.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		engine:  engine,
		store:   store,
		logger:  logger,
	}
}

// Handler builds the route mux. Split out from Start so tests can
// drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// OpenAI-compatible endpoints
	mux.HandleFunc("POST /v1/chat/completions", s.requireAuth(s.handleChatCompletions))
	mux.HandleFunc("GET /v1/models", s.requireAuth(s.handleModels))
	mux.HandleFunc("GET /models", s.requireAuth(s.handleModels))

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	// Conversation-state introspection
	mux.HandleFunc("GET /debug/conversations", s.requireAuth(s.handleDebugConversations))
	mux.HandleFunc("GET /debug/conversations/{id}", s.requireAuth(s.handleDebugConversation))

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second, // Backend models can think for a while.
	}

	s.logger.Info("starting API server", "address", s.address, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// requireAuth wraps a handler with API key validation.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := validateAPIKey(r.Header.Get("Authorization")); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, errorBody(err.Error(), "invalid_request_error", "unauthorized"), s.logger)
			return
		}
		next(w, r)
	}
}

// chatRequest is the subset of the OpenAI chat completion request the
// proxy acts on. Unknown fields (stream, tools, ...) are ignored.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature *float64      `json:"temperature"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, errorBody("invalid request body: "+err.Error(),
			"invalid_request_error", "bad_request"), s.logger)
		return
	}

	body, err := s.engine.Route(r.Context(), &router.Request{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
	})
	if err != nil {
		status := router.StatusFor(err)
		s.logger.Error("routing failed", "status", status, "error", err)
		w.WriteHeader(status)
		errType := "invalid_request_error"
		if status >= 500 {
			errType = "server_error"
		}
		writeJSON(w, errorBody(router.DetailFor(err), errType, "smart_router_fail"), s.logger)
		return
	}

	writeJSON(w, body, s.logger)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	// The proxy shows up as one model; routing happens behind it.
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{
				"id":         routedModelID,
				"object":     "model",
				"created":    time.Now().Unix(),
				"owned_by":   routedModelID,
				"permission": []any{},
				"root":       routedModelID,
				"parent":     nil,
			},
		},
	}, s.logger)
}

func (s *Server) handleDebugConversations(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	summaries := s.store.Summaries()
	total := len(summaries)
	if len(summaries) > 10 {
		summaries = summaries[:10]
	}
	writeJSON(w, map[string]any{
		"total_conversations": total,
		"showing":             len(summaries),
		"conversations":       summaries,
	}, s.logger)
}

func (s *Server) handleDebugConversation(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id := r.PathValue("id")
	for _, summary := range s.store.Summaries() {
		if summary.ConversationID == id {
			writeJSON(w, summary, s.logger)
			return
		}
	}
	writeJSON(w, map[string]string{"status": "not_found"}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Switchboard",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "ok"}, s.logger)
}
