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

// Package openai implements the llm.Provider contract on top of the
// sashabaranov/go-openai SDK. The API key comes from OPENAI_API_KEY.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/tool"
	"github.com/teradata-labs/warp/pkg/types"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o"

// Per-token pricing for cost estimation (USD per million tokens).
const (
	inputCostPerMillion  = 2.50
	outputCostPerMillion = 10.00
)

// Config configures the client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // override for testing or proxies

	RateLimiter *llm.RateLimiter
}

// Client calls the OpenAI chat completions API.
type Client struct {
	api     *goopenai.Client
	model   string
	limiter *llm.RateLimiter
}

// NewClient creates an OpenAI client. The key falls back to the
// OPENAI_API_KEY environment variable; it is never persisted.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set (OPENAI_API_KEY)")
	}
	if cfg.Model == "" {
		if envModel := os.Getenv("OPENAI_DEFAULT_MODEL"); envModel != "" {
			cfg.Model = envModel
		} else {
			cfg.Model = DefaultModel
		}
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:     goopenai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		limiter: cfg.RateLimiter,
	}, nil
}

// Name returns "openai".
func (c *Client) Name() string { return "openai" }

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Generate sends the conversation and returns the completed response.
func (c *Client) Generate(ctx context.Context, messages []types.Message, opts llm.GenerateOptions) (*llm.Response, error) {
	req := c.buildRequest(messages, opts, false)

	var resp goopenai.ChatCompletionResponse
	var err error
	if c.limiter != nil {
		var result interface{}
		result, err = c.limiter.Do(ctx, func(ctx context.Context) (interface{}, error) {
			return c.api.CreateChatCompletion(ctx, req)
		})
		if err == nil {
			resp = result.(goopenai.ChatCompletionResponse)
		}
	} else {
		resp, err = c.api.CreateChatCompletion(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	choice := resp.Choices[0]
	out := &llm.Response{
		Content:    choice.Message.Content,
		ToolCalls:  convertToolCalls(choice.Message.ToolCalls),
		StopReason: string(choice.FinishReason),
		Usage: types.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			Cost:             estimateCost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		},
		Metadata: map[string]interface{}{"id": resp.ID, "model": resp.Model},
	}
	return out, nil
}

// Stream generates token-by-token. Tool-call fragments arrive split
// across chunks and are reassembled by index before being returned.
func (c *Client) Stream(ctx context.Context, messages []types.Message, opts llm.GenerateOptions, cb llm.TokenCallback) (*llm.Response, error) {
	req := c.buildRequest(messages, opts, true)

	var stream *goopenai.ChatCompletionStream
	var err error
	if c.limiter != nil {
		var result interface{}
		result, err = c.limiter.Do(ctx, func(ctx context.Context) (interface{}, error) {
			return c.api.CreateChatCompletionStream(ctx, req)
		})
		if err == nil {
			stream = result.(*goopenai.ChatCompletionStream)
		}
	} else {
		stream, err = c.api.CreateChatCompletionStream(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("openai chat stream: %w", err)
	}
	defer func() { _ = stream.Close() }()

	var content strings.Builder
	stopReason := ""
	usage := types.Usage{}
	// Tool-call fragments keyed by the index the API assigns them.
	pending := map[int]*toolCallBuilder{}

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading stream: %w", err)
		}
		if chunk.Usage != nil {
			usage.PromptTokens = chunk.Usage.PromptTokens
			usage.CompletionTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			if cb != nil {
				cb(choice.Delta.Content)
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			b, ok := pending[idx]
			if !ok {
				b = &toolCallBuilder{}
				pending[idx] = b
			}
			if tc.ID != "" {
				b.id = tc.ID
			}
			if tc.Function.Name != "" {
				b.name = tc.Function.Name
			}
			b.args.WriteString(tc.Function.Arguments)
		}
		if choice.FinishReason != "" {
			stopReason = string(choice.FinishReason)
		}
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	usage.Cost = estimateCost(usage.PromptTokens, usage.CompletionTokens)

	return &llm.Response{
		Content:    content.String(),
		ToolCalls:  finishToolCalls(pending),
		StopReason: stopReason,
		Usage:      usage,
	}, nil
}

func (c *Client) buildRequest(messages []types.Message, opts llm.GenerateOptions, stream bool) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    c.model,
		Messages: convertMessages(messages, opts.SystemPrompt),
		Stream:   stream,
	}
	if stream {
		req.StreamOptions = &goopenai.StreamOptions{IncludeUsage: true}
	}
	if opts.Temperature > 0 {
		req.Temperature = float32(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.TopP > 0 {
		req.TopP = float32(opts.TopP)
	}
	if opts.PresencePenalty != 0 {
		req.PresencePenalty = float32(opts.PresencePenalty)
	}
	if opts.FrequencyPenalty != 0 {
		req.FrequencyPenalty = float32(opts.FrequencyPenalty)
	}
	if len(opts.StopSequences) > 0 {
		req.Stop = opts.StopSequences
	}
	if opts.Seed > 0 {
		seed := opts.Seed
		req.Seed = &seed
	}
	for _, t := range opts.Tools {
		req.Tools = append(req.Tools, convertTool(t))
	}
	return req
}

func convertMessages(messages []types.Message, systemPrompt string) []goopenai.ChatCompletionMessage {
	var out []goopenai.ChatCompletionMessage
	if systemPrompt != "" {
		out = append(out, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, msg := range messages {
		cm := goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.Role == types.RoleTool {
			cm.Role = goopenai.ChatMessageRoleTool
			cm.ToolCallID = msg.ToolCallID
		}
		for _, tc := range msg.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			cm.ToolCalls = append(cm.ToolCalls, goopenai.ToolCall{
				ID:   tc.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func convertTool(t tool.Tool) goopenai.Tool {
	def := &goopenai.FunctionDefinition{
		Name:        t.Name(),
		Description: t.Description(),
	}
	if schema := t.InputSchema(); schema != nil {
		if raw, err := schema.ToJSON(); err == nil {
			def.Parameters = json.RawMessage(raw)
		}
	}
	return goopenai.Tool{Type: goopenai.ToolTypeFunction, Function: def}
}

func convertToolCalls(calls []goopenai.ToolCall) []types.ToolCall {
	out := make([]types.ToolCall, 0, len(calls))
	for _, call := range calls {
		out = append(out, types.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: parseArguments(call.Function.Arguments),
		})
	}
	return out
}

type toolCallBuilder struct {
	id   string
	name string
	args strings.Builder
}

func finishToolCalls(pending map[int]*toolCallBuilder) []types.ToolCall {
	if len(pending) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]types.ToolCall, 0, len(pending))
	for _, idx := range indexes {
		b := pending[idx]
		out = append(out, types.ToolCall{
			ID:        b.id,
			Name:      b.name,
			Arguments: parseArguments(b.args.String()),
		})
	}
	return out
}

func parseArguments(raw string) map[string]interface{} {
	args := map[string]interface{}{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		// Keep the malformed payload so the tool layer can report it.
		return map[string]interface{}{"_raw": raw}
	}
	return args
}

func estimateCost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1e6*inputCostPerMillion +
		float64(completionTokens)/1e6*outputCostPerMillion
}
