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

// Package anthropic implements the llm.Provider contract against the
// Anthropic Messages API. The streaming path parses the SSE body directly
// with a bufio.Scanner so tokens reach the callback without buffering the
// whole response.
package anthropic

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
	"sync"
	"time"

	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/tool"
	"github.com/teradata-labs/warp/pkg/types"
)

const (
	// DefaultModel is the default Claude model.
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultEndpoint is the Anthropic Messages API endpoint.
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"
	// DefaultMaxTokens is the default completion budget.
	DefaultMaxTokens = 4096
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 120 * time.Second

	apiVersion = "2023-06-01"
)

// One rate limiter shared by every anthropic client in the process, so
// concurrent runs coordinate against the account-level limit.
var (
	globalRateLimiter     *llm.RateLimiter
	globalRateLimiterOnce sync.Once
)

// Config configures the client.
type Config struct {
	APIKey      string
	Model       string
	Endpoint    string
	Timeout     time.Duration
	MaxTokens   int
	RateLimiter llm.RateLimiterConfig
}

// Client calls the Anthropic Messages API.
type Client struct {
	apiKey      string
	model       string
	endpoint    string
	maxTokens   int
	httpClient  *http.Client
	rateLimiter *llm.RateLimiter
}

// NewClient creates an Anthropic client. The API key comes from config or
// the ANTHROPIC_API_KEY environment variable.
func NewClient(cfg Config) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Model == "" {
		if envModel := os.Getenv("ANTHROPIC_DEFAULT_MODEL"); envModel != "" {
			cfg.Model = envModel
		} else {
			cfg.Model = DefaultModel
		}
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	var limiter *llm.RateLimiter
	if cfg.RateLimiter.Enabled {
		globalRateLimiterOnce.Do(func() {
			globalRateLimiter = llm.NewRateLimiter(cfg.RateLimiter)
		})
		limiter = globalRateLimiter
	}

	return &Client{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		endpoint:    cfg.Endpoint,
		maxTokens:   cfg.MaxTokens,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: limiter,
	}
}

// Name returns "anthropic".
func (c *Client) Name() string { return "anthropic" }

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Generate sends the conversation and returns the completed response.
func (c *Client) Generate(ctx context.Context, messages []types.Message, opts llm.GenerateOptions) (*llm.Response, error) {
	req := c.buildRequest(messages, opts, false)

	resp, err := c.callAPI(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.convertResponse(resp), nil
}

// Stream generates token-by-token over SSE, invoking cb per text delta,
// and returns the accumulated response.
func (c *Client) Stream(ctx context.Context, messages []types.Message, opts llm.GenerateOptions, cb llm.TokenCallback) (*llm.Response, error) {
	req := c.buildRequest(messages, opts, true)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpResp, err := c.send(ctx, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("anthropic API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	return c.consumeStream(ctx, httpResp.Body, cb)
}

func (c *Client) buildRequest(messages []types.Message, opts llm.GenerateOptions, stream bool) *messagesRequest {
	system, apiMessages := convertMessages(messages)
	if opts.SystemPrompt != "" {
		if system != "" {
			system = opts.SystemPrompt + "\n\n" + system
		} else {
			system = opts.SystemPrompt
		}
	}

	req := &messagesRequest{
		Model:     c.model,
		Messages:  apiMessages,
		MaxTokens: c.maxTokens,
		System:    system,
		Stream:    stream,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = &opts.Temperature
	}
	if opts.TopP > 0 {
		req.TopP = &opts.TopP
	}
	if len(opts.StopSequences) > 0 {
		req.StopSequences = opts.StopSequences
	}
	if apiTools := convertTools(opts.Tools); len(apiTools) > 0 {
		req.Tools = apiTools
	}
	return req
}

// send posts body, routing through the shared rate limiter when enabled.
// A fresh request is built per attempt so the body can be re-read on a
// 429 retry.
func (c *Client) send(ctx context.Context, body []byte) (*http.Response, error) {
	build := func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("x-api-key", c.apiKey)
		r.Header.Set("anthropic-version", apiVersion)
		return r, nil
	}

	if c.rateLimiter == nil {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}
		return resp, nil
	}

	result, err := c.rateLimiter.Do(ctx, func(ctx context.Context) (interface{}, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		// Surface 429 as an error so the limiter backs off and retries.
		if resp.StatusCode == http.StatusTooManyRequests {
			respBody, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			return nil, fmt.Errorf("anthropic API error (status 429): %s", string(respBody))
		}
		return resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	return result.(*http.Response), nil
}

func (c *Client) callAPI(ctx context.Context, req *messagesRequest) (*messagesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpResp, err := c.send(ctx, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var resp messagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}

// consumeStream parses the SSE body. Cancellation is checked per event.
func (c *Client) consumeStream(ctx context.Context, body io.Reader, cb llm.TokenCallback) (*llm.Response, error) {
	var content strings.Builder
	var toolCalls []types.ToolCall
	var stopReason string
	usage := types.Usage{}

	// Tool input JSON accumulates per content block index.
	inputBuffers := make(map[int]*strings.Builder)
	callIndex := make(map[int]int)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &event); err != nil {
			// Malformed events are skipped, the stream continues.
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				usage.PromptTokens = event.Message.Usage.InputTokens
			}

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				idx := len(toolCalls)
				toolCalls = append(toolCalls, types.ToolCall{
					ID:        event.ContentBlock.ID,
					Name:      event.ContentBlock.Name,
					Arguments: make(map[string]interface{}),
				})
				inputBuffers[event.Index] = &strings.Builder{}
				callIndex[event.Index] = idx
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text != "" {
					content.WriteString(event.Delta.Text)
					if cb != nil {
						cb(event.Delta.Text)
					}
				}
			case "input_json_delta":
				if buf, ok := inputBuffers[event.Index]; ok {
					buf.WriteString(event.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if buf, ok := inputBuffers[event.Index]; ok && buf.Len() > 0 {
				var input map[string]interface{}
				if err := json.Unmarshal([]byte(buf.String()), &input); err == nil {
					if idx, tracked := callIndex[event.Index]; tracked && idx < len(toolCalls) {
						toolCalls[idx].Arguments = input
					}
				}
			}
			delete(inputBuffers, event.Index)
			delete(callIndex, event.Index)

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.CompletionTokens = event.Usage.OutputTokens
			}

		case "error":
			if event.Error != nil {
				return nil, fmt.Errorf("anthropic stream error: %s", event.Error.Message)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	usage.Cost = estimateCost(usage.PromptTokens, usage.CompletionTokens)
	return &llm.Response{
		Content:    content.String(),
		ToolCalls:  toolCalls,
		StopReason: stopReason,
		Usage:      usage,
	}, nil
}

// convertMessages splits out system text (the Messages API takes it as a
// separate field) and maps the rest to API messages. Tool-role messages
// become user-role tool_result blocks.
func convertMessages(messages []types.Message) (string, []apiMessage) {
	var systemParts []string
	var apiMessages []apiMessage

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}

		case types.RoleUser:
			apiMessages = append(apiMessages, apiMessage{
				Role:    "user",
				Content: []contentBlock{{Type: "text", Text: msg.Content}},
			})

		case types.RoleAssistant:
			var blocks []contentBlock
			if msg.Content != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Arguments
				if input == nil {
					// The API requires non-null input on tool_use blocks.
					input = map[string]interface{}{}
				}
				blocks = append(blocks, contentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			if len(blocks) > 0 {
				apiMessages = append(apiMessages, apiMessage{Role: "assistant", Content: blocks})
			}

		case types.RoleTool:
			apiMessages = append(apiMessages, apiMessage{
				Role: "user",
				Content: []contentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
		}
	}
	return strings.Join(systemParts, "\n\n"), apiMessages
}

func convertTools(tools []tool.Tool) []apiTool {
	var apiTools []apiTool
	for _, t := range tools {
		at := apiTool{
			Name:        t.Name(),
			Description: t.Description(),
		}
		if schema := t.InputSchema(); schema != nil {
			at.InputSchema = inputSchema{
				Type:       schema.Type,
				Properties: schemaProperties(schema.Properties),
				Required:   schema.Required,
			}
		} else {
			at.InputSchema = inputSchema{Type: "object"}
		}
		apiTools = append(apiTools, at)
	}
	return apiTools
}

func schemaProperties(props map[string]*tool.JSONSchema) map[string]map[string]interface{} {
	if props == nil {
		return nil
	}
	out := make(map[string]map[string]interface{}, len(props))
	for key, schema := range props {
		prop := map[string]interface{}{"type": schema.Type}
		if schema.Description != "" {
			prop["description"] = schema.Description
		}
		if schema.Enum != nil {
			prop["enum"] = schema.Enum
		}
		if schema.Default != nil {
			prop["default"] = schema.Default
		}
		if schema.Properties != nil {
			prop["properties"] = schemaProperties(schema.Properties)
		}
		if schema.Items != nil {
			prop["items"] = map[string]interface{}{"type": schema.Items.Type}
		}
		out[key] = prop
	}
	return out
}

func (c *Client) convertResponse(resp *messagesResponse) *llm.Response {
	out := &llm.Response{
		StopReason: resp.StopReason,
		Usage: types.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
			Cost:             estimateCost(resp.Usage.InputTokens, resp.Usage.OutputTokens),
		},
		Metadata: map[string]interface{}{
			"model":       resp.Model,
			"stop_reason": resp.StopReason,
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	return out
}

// estimateCost prices tokens at the published Sonnet rates
// ($3/M input, $15/M output).
func estimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*3.0/1_000_000 + float64(outputTokens)*15.0/1_000_000
}
