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
package ollama

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
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		resp := chatResponse{
			Model:           "llama3.2",
			Message:         chatMessage{Role: "assistant", Content: "Hello there."},
			Done:            true,
			DoneReason:      "stop",
			PromptEvalCount: 11,
			EvalCount:       4,
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	c := NewClient(Config{Host: server.URL})
	resp, err := c.Generate(context.Background(), []types.Message{
		{Role: types.RoleUser, Content: "Hello"},
	}, llm.GenerateOptions{SystemPrompt: "Be brief.", Temperature: 0.3, MaxTokens: 64})
	require.NoError(t, err)

	assert.Equal(t, "Hello there.", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 11, resp.Usage.PromptTokens)
	assert.Equal(t, 4, resp.Usage.CompletionTokens)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	assert.False(t, captured.Stream)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.InDelta(t, 0.3, captured.Options["temperature"].(float64), 1e-9)
	assert.EqualValues(t, 64, captured.Options["num_predict"])
}

func TestStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		chunks := []string{
			`{"model":"llama3.2","message":{"role":"assistant","content":"Hel"},"done":false}`,
			`{"model":"llama3.2","message":{"role":"assistant","content":"lo"},"done":false}`,
			`{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":8,"eval_count":2}`,
		}
		for _, chunk := range chunks {
			fmt.Fprintln(w, chunk)
		}
	}))
	defer server.Close()

	c := NewClient(Config{Host: server.URL})

	var tokens []string
	resp, err := c.Stream(context.Background(), []types.Message{
		{Role: types.RoleUser, Content: "hi"},
	}, llm.GenerateOptions{}, func(tok string) { tokens = append(tokens, tok) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, tokens)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 8, resp.Usage.PromptTokens)
	assert.Equal(t, 2, resp.Usage.CompletionTokens)
}

func TestGenerateToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"message": {"role": "assistant", "tool_calls": [
				{"function": {"name": "clock", "arguments": {"method": "now"}}}
			]},
			"done": true
		}`)
	}))
	defer server.Close()

	c := NewClient(Config{Host: server.URL})
	resp, err := c.Generate(context.Background(), []types.Message{
		{Role: types.RoleUser, Content: "time?"},
	}, llm.GenerateOptions{})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "clock", resp.ToolCalls[0].Name)
	assert.Equal(t, "now", resp.ToolCalls[0].Arguments["method"])
	assert.Equal(t, "tool_use", resp.StopReason)
}

func TestGenerateServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"model not found"}`)
	}))
	defer server.Close()

	c := NewClient(Config{Host: server.URL})
	_, err := c.Generate(context.Background(), []types.Message{{Role: types.RoleUser, Content: "x"}}, llm.GenerateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestDefaultsFromEnv(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "http://ollama.local:11434/")

	c := NewClient(Config{})
	assert.Equal(t, "http://ollama.local:11434", c.host)
	assert.Equal(t, DefaultModel, c.Model())
	assert.Equal(t, "ollama", c.Name())
}

var (
	_ llm.Provider          = (*Client)(nil)
	_ llm.StreamingProvider = (*Client)(nil)
)
