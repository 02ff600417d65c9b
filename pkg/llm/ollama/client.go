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

// Package ollama implements the llm.Provider contract against a local
// Ollama server. No credential is required; the host comes from
// OLLAMA_HOST or defaults to localhost.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/tool"
	"github.com/teradata-labs/warp/pkg/types"
)

const (
	// DefaultModel is the default local model.
	DefaultModel = "llama3.2"
	// DefaultHost is the default Ollama server.
	DefaultHost = "http://localhost:11434"
	// DefaultTimeout is generous; local models can be slow to first token.
	DefaultTimeout = 300 * time.Second
)

// Config configures the client.
type Config struct {
	Host    string
	Model   string
	Timeout time.Duration
}

// Client calls the Ollama chat API.
type Client struct {
	host       string
	model      string
	httpClient *http.Client
}

// NewClient creates an Ollama client.
func NewClient(cfg Config) *Client {
	if cfg.Host == "" {
		if envHost := os.Getenv("OLLAMA_HOST"); envHost != "" {
			cfg.Host = envHost
		} else {
			cfg.Host = DefaultHost
		}
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		host:       strings.TrimSuffix(cfg.Host, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns "ollama".
func (c *Client) Name() string { return "ollama" }

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Generate sends the conversation and returns the completed response.
func (c *Client) Generate(ctx context.Context, messages []types.Message, opts llm.GenerateOptions) (*llm.Response, error) {
	req := c.buildRequest(messages, opts, false)

	httpResp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama API error (status %d): %s", httpResp.StatusCode, string(body))
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return convertResponse(&resp), nil
}

// Stream generates token-by-token over the NDJSON stream.
func (c *Client) Stream(ctx context.Context, messages []types.Message, opts llm.GenerateOptions, cb llm.TokenCallback) (*llm.Response, error) {
	req := c.buildRequest(messages, opts, true)

	httpResp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("ollama API error (status %d): %s", httpResp.StatusCode, string(body))
	}

	var content strings.Builder
	var toolCalls []types.ToolCall
	final := &chatResponse{}

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var chunk chatResponse
		if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			continue
		}
		if chunk.Message.Content != "" {
			content.WriteString(chunk.Message.Content)
			if cb != nil {
				cb(chunk.Message.Content)
			}
		}
		toolCalls = append(toolCalls, convertToolCalls(chunk.Message.ToolCalls)...)
		if chunk.Done {
			final = &chunk
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}

	resp := convertResponse(final)
	resp.Content = content.String()
	resp.ToolCalls = toolCalls
	return resp, nil
}

func (c *Client) buildRequest(messages []types.Message, opts llm.GenerateOptions, stream bool) *chatRequest {
	req := &chatRequest{
		Model:    c.model,
		Messages: convertMessages(messages, opts.SystemPrompt),
		Stream:   stream,
		Options:  map[string]interface{}{},
	}
	if opts.Temperature > 0 {
		req.Options["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.Options["num_predict"] = opts.MaxTokens
	}
	if opts.TopP > 0 {
		req.Options["top_p"] = opts.TopP
	}
	if opts.Seed > 0 {
		req.Options["seed"] = opts.Seed
	}
	if len(opts.StopSequences) > 0 {
		req.Options["stop"] = opts.StopSequences
	}
	for _, t := range opts.Tools {
		req.Tools = append(req.Tools, convertTool(t))
	}
	return req
}

func (c *Client) post(ctx context.Context, req *chatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	return httpResp, nil
}

func convertMessages(messages []types.Message, systemPrompt string) []chatMessage {
	var out []chatMessage
	if systemPrompt != "" {
		out = append(out, chatMessage{Role: "system", Content: systemPrompt})
	}
	for _, msg := range messages {
		cm := chatMessage{Role: string(msg.Role), Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, apiToolCall{
				Function: apiFunctionCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		out = append(out, cm)
	}
	return out
}

func convertTool(t tool.Tool) apiTool {
	at := apiTool{Type: "function"}
	at.Function.Name = t.Name()
	at.Function.Description = t.Description()
	if schema := t.InputSchema(); schema != nil {
		raw, err := schema.ToJSON()
		if err == nil {
			at.Function.Parameters = json.RawMessage(raw)
		}
	}
	return at
}

func convertToolCalls(calls []apiToolCall) []types.ToolCall {
	out := make([]types.ToolCall, 0, len(calls))
	for i, call := range calls {
		out = append(out, types.ToolCall{
			ID:        fmt.Sprintf("ollama-call-%d", i),
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return out
}

func convertResponse(resp *chatResponse) *llm.Response {
	out := &llm.Response{
		Content:    resp.Message.Content,
		ToolCalls:  convertToolCalls(resp.Message.ToolCalls),
		StopReason: resp.DoneReason,
		Usage: types.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}
	if len(out.ToolCalls) > 0 && out.StopReason == "" {
		out.StopReason = "tool_use"
	}
	return out
}

type chatRequest struct {
	Model    string                 `json:"model"`
	Messages []chatMessage          `json:"messages"`
	Stream   bool                   `json:"stream"`
	Tools    []apiTool              `json:"tools,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type chatMessage struct {
	Role      string        `json:"role"`
	Content   string        `json:"content"`
	ToolCalls []apiToolCall `json:"tool_calls,omitempty"`
}

type apiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type apiToolCall struct {
	Function apiFunctionCall `json:"function"`
}

type apiFunctionCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason,omitempty"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
	EvalCount       int         `json:"eval_count,omitempty"`
}
