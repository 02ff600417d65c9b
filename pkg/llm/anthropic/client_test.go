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
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/types"
)

func TestGenerate(t *testing.T) {
	var captured messagesRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		resp := messagesResponse{
			ID:    "msg_1",
			Model: "claude-test",
			Content: []contentBlock{
				{Type: "text", Text: "Hello there."},
			},
			StopReason: "end_turn",
			Usage:      apiUsage{InputTokens: 12, OutputTokens: 5},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "test-key", Endpoint: server.URL, Model: "claude-test"})

	resp, err := c.Generate(context.Background(), []types.Message{
		{Role: types.RoleSystem, Content: "Be brief."},
		{Role: types.RoleUser, Content: "Hello"},
	}, llm.GenerateOptions{Temperature: 0.5, MaxTokens: 100})
	require.NoError(t, err)

	assert.Equal(t, "Hello there.", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 5, resp.Usage.CompletionTokens)
	assert.Equal(t, 17, resp.Usage.TotalTokens)
	assert.Greater(t, resp.Usage.Cost, 0.0)

	// System text is lifted out of the message list.
	assert.Equal(t, "Be brief.", captured.System)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
	assert.Equal(t, 100, captured.MaxTokens)
	require.NotNil(t, captured.Temperature)
	assert.InDelta(t, 0.5, *captured.Temperature, 1e-9)
}

func TestGenerateToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := messagesResponse{
			Content: []contentBlock{
				{Type: "tool_use", ID: "toolu_1", Name: "calculator",
					Input: map[string]interface{}{"expression": "2+2"}},
			},
			StopReason: "tool_use",
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", Endpoint: server.URL})
	resp, err := c.Generate(context.Background(), []types.Message{
		{Role: types.RoleUser, Content: "what is 2+2"},
	}, llm.GenerateOptions{})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "calculator", resp.ToolCalls[0].Name)
	assert.Equal(t, "2+2", resp.ToolCalls[0].Arguments["expression"])
}

func TestGenerateAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad request"}}`)
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", Endpoint: server.URL})
	_, err := c.Generate(context.Background(), []types.Message{{Role: types.RoleUser, Content: "x"}}, llm.GenerateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"type":"message_start","message":{"usage":{"input_tokens":9,"output_tokens":0}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_delta","delta":{"type":"message_delta","stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
			`{"type":"message_stop"}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "event: noise\ndata: %s\n\n", e)
		}
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", Endpoint: server.URL})

	var tokens []string
	resp, err := c.Stream(context.Background(), []types.Message{
		{Role: types.RoleUser, Content: "hi"},
	}, llm.GenerateOptions{}, func(tok string) { tokens = append(tokens, tok) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, tokens)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 9, resp.Usage.PromptTokens)
	assert.Equal(t, 2, resp.Usage.CompletionTokens)
}

func TestStreamToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		events := []string{
			`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_9","name":"clock"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"method\":"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"now\"}"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_delta","delta":{"type":"message_delta","stop_reason":"tool_use"}}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", Endpoint: server.URL})
	resp, err := c.Stream(context.Background(), []types.Message{
		{Role: types.RoleUser, Content: "time?"},
	}, llm.GenerateOptions{}, nil)
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_9", resp.ToolCalls[0].ID)
	assert.Equal(t, "clock", resp.ToolCalls[0].Name)
	assert.Equal(t, "now", resp.ToolCalls[0].Arguments["method"])
	assert.Equal(t, "tool_use", resp.StopReason)
}

func TestConvertMessagesToolRoundTrip(t *testing.T) {
	system, msgs := convertMessages([]types.Message{
		{Role: types.RoleSystem, Content: "sys"},
		{Role: types.RoleUser, Content: "calc"},
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "t1", Name: "calculator"}}},
		{Role: types.RoleTool, ToolCallID: "t1", Content: "4"},
	})

	assert.Equal(t, "sys", system)
	require.Len(t, msgs, 3)
	assert.Equal(t, "assistant", msgs[1].Role)
	require.Len(t, msgs[1].Content, 1)
	assert.Equal(t, "tool_use", msgs[1].Content[0].Type)
	// Nil arguments become an empty object, never null.
	assert.NotNil(t, msgs[1].Content[0].Input)
	assert.Equal(t, "tool_result", msgs[2].Content[0].Type)
	assert.Equal(t, "t1", msgs[2].Content[0].ToolUseID)
}
