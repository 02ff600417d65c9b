// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the chat orchestrator over HTTP: synchronous chat,
// SSE streaming, health, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/chat"
	"github.com/teradata-labs/warp/pkg/fault"
	"github.com/teradata-labs/warp/pkg/workflow"
)

// Config configures the HTTP server.
type Config struct {
	Addr   string
	Logger *zap.Logger

	// Registry serves GET /metrics; nil falls back to the default
	// prometheus registry.
	Registry *prometheus.Registry

	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

// Server is the HTTP front end.
type Server struct {
	orch   *chat.Orchestrator
	logger *zap.Logger
	http   *http.Server
}

// New creates an HTTP server around the orchestrator.
func New(orch *chat.Orchestrator, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}

	s := &Server{orch: orch, logger: cfg.Logger}

	var metricsHandler http.Handler
	if cfg.Registry != nil {
		metricsHandler = promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})
	} else {
		metricsHandler = promhttp.Handler()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat", s.handleChat)
	mux.HandleFunc("/v1/chat/stream", s.handleChatStream)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metricsHandler)

	s.http = &http.Server{
		Addr:        cfg.Addr,
		Handler:     mux,
		ReadTimeout: cfg.ReadTimeout,
		// WriteTimeout stays zero: SSE responses are open-ended.
		IdleTimeout: cfg.IdleTimeout,
	}
	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	resp, err := s.orch.Chat(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleChatStream serves the run as server-sent events; each workflow
// event is one `data:` frame. Client disconnect cancels the run through
// the request context.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		s.writeError(w, fault.New(fault.Internal, "streaming unsupported by connection"))
		return
	}

	events, err := s.orch.ChatStream(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	for ev := range events {
		if err := writeSSE(w, ev); err != nil {
			// Consumer gone; the run cancels via r.Context().
			s.logger.Debug("sse write failed, client gone", zap.Error(err))
			return
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, ev workflow.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (chat.ChatRequest, bool) {
	var req chat.ChatRequest
	if r.Method != http.MethodPost {
		s.writeError(w, fault.New(fault.Validation, "method %s not allowed", r.Method))
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fault.Wrap(fault.Validation, err, "decoding request body"))
		return req, false
	}
	return req, true
}

type errorBody struct {
	Error string     `json:"error"`
	Kind  fault.Kind `json:"kind,omitempty"`
}

// statusFor maps fault kinds onto HTTP status codes. 499 is the de facto
// client-closed-request status.
func statusFor(err error) int {
	switch fault.KindOf(err) {
	case fault.Validation:
		return http.StatusUnprocessableEntity
	case fault.Configuration:
		return http.StatusBadRequest
	case fault.NotFound:
		return http.StatusNotFound
	case fault.Authorization:
		return http.StatusForbidden
	case fault.Conflict:
		return http.StatusConflict
	case fault.RateLimit:
		return http.StatusTooManyRequests
	case fault.ProviderUnavailable:
		return http.StatusServiceUnavailable
	case fault.Timeout:
		return http.StatusGatewayTimeout
	case fault.Cancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Internal details stay in the logs.
		s.logger.Error("request failed", zap.Error(err))
		msg = "internal error"
	}
	s.writeJSON(w, status, errorBody{Error: msg, Kind: fault.KindOf(err)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encoding response failed", zap.Error(err))
	}
}
