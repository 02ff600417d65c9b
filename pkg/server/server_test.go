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
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/warp/pkg/chat"
	"github.com/teradata-labs/warp/pkg/fault"
	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/storage"
	"github.com/teradata-labs/warp/pkg/types"
	"github.com/teradata-labs/warp/pkg/workflow"
)

type echoProvider struct{ err error }

func (p *echoProvider) Name() string  { return "fake" }
func (p *echoProvider) Model() string { return "fake-model" }

func (p *echoProvider) Generate(ctx context.Context, messages []types.Message, opts llm.GenerateOptions) (*llm.Response, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Response{
		Content:    "echo: " + messages[len(messages)-1].Content,
		StopReason: "end_turn",
		Usage:      types.Usage{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10},
	}, nil
}

func (p *echoProvider) Stream(ctx context.Context, messages []types.Message, opts llm.GenerateOptions, cb llm.TokenCallback) (*llm.Response, error) {
	if p.err != nil {
		return nil, p.err
	}
	resp, _ := p.Generate(ctx, messages, opts)
	for _, word := range strings.SplitAfter(resp.Content, " ") {
		cb(word)
	}
	return resp, nil
}

func newTestServer(t *testing.T, provider llm.Provider) *Server {
	t.Helper()

	store, err := storage.Open(storage.Config{
		Driver: storage.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "warp.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := llm.NewRegistry(nil)
	registry.Register("fake", llm.Factory{
		New: func(model string) (llm.Provider, error) { return provider, nil },
	})

	orch, err := chat.New(chat.Config{
		Store:           store,
		Providers:       registry,
		DefaultProvider: "fake",
	})
	require.NoError(t, err)

	return New(orch, Config{})
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatEndpoint(t *testing.T) {
	srv := newTestServer(t, &echoProvider{})

	rec := postJSON(t, srv.Handler(), "/v1/chat", chat.ChatRequest{
		UserID:  "user-1",
		Message: "hello",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chat.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "echo: hello", resp.Content)
	assert.NotEmpty(t, resp.ConversationID)
	assert.NotEmpty(t, resp.MessageID)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
}

func TestChatEndpointErrors(t *testing.T) {
	srv := newTestServer(t, &echoProvider{})
	h := srv.Handler()

	// Validation → 422.
	rec := postJSON(t, h, "/v1/chat", chat.ChatRequest{UserID: "user-1"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(fault.Validation), body.Kind)

	// Unknown conversation → 404.
	rec = postJSON(t, h, "/v1/chat", chat.ChatRequest{
		UserID: "user-1", ConversationID: "ghost", Message: "hi",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Malformed JSON → 422.
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader("{nope"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// GET → 422 (method check precedes decoding).
	req = httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestChatEndpointProviderDown(t *testing.T) {
	srv := newTestServer(t, &echoProvider{err: fault.New(fault.ProviderUnavailable, "api down")})

	rec := postJSON(t, srv.Handler(), "/v1/chat", chat.ChatRequest{
		UserID: "user-1", Message: "hi",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		kind   fault.Kind
		status int
	}{
		{fault.Validation, 422},
		{fault.Configuration, 400},
		{fault.NotFound, 404},
		{fault.Authorization, 403},
		{fault.Conflict, 409},
		{fault.RateLimit, 429},
		{fault.ProviderUnavailable, 503},
		{fault.Timeout, 504},
		{fault.Cancelled, 499},
		{fault.Internal, 500},
		{fault.Transient, 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(fault.New(tt.kind, "x")), string(tt.kind))
	}
}

func TestInternalErrorsAreSanitised(t *testing.T) {
	srv := newTestServer(t, &echoProvider{})
	rec := httptest.NewRecorder()
	srv.writeError(rec, fault.New(fault.Internal, "dsn postgres://user:hunter2@db"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.Contains(t, rec.Body.String(), "internal error")
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &echoProvider{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &echoProvider{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChatStreamEndpoint(t *testing.T) {
	srv := newTestServer(t, &echoProvider{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	data, err := json.Marshal(chat.ChatRequest{UserID: "user-1", Message: "stream me"})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/v1/chat/stream", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var kinds []workflow.EventType
	var content string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev workflow.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		kinds = append(kinds, ev.Type)
		if ev.Type == workflow.EventToken {
			content += ev.Content
		}
	}
	require.NoError(t, scanner.Err())

	require.NotEmpty(t, kinds)
	assert.Equal(t, workflow.EventStart, kinds[0])
	assert.Equal(t, workflow.EventEnd, kinds[len(kinds)-1])
	assert.Equal(t, "echo: stream me", content)
}

func TestChatStreamValidationError(t *testing.T) {
	srv := newTestServer(t, &echoProvider{})

	rec := postJSON(t, srv.Handler(), "/v1/chat/stream", chat.ChatRequest{UserID: "user-1"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
