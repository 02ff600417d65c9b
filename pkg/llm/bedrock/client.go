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

// Package bedrock implements the llm.Provider contract for Claude models
// hosted on AWS Bedrock, via the official Anthropic SDK's Bedrock backend.
// Credentials come from the standard AWS chain (env vars, profile, IAM
// role); they are never persisted.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	awsbedrock "github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/tool"
	"github.com/teradata-labs/warp/pkg/types"
)

const (
	// DefaultModelID is the cross-region inference profile for Claude Sonnet.
	DefaultModelID = "us.anthropic.claude-sonnet-4-5-20250929-v1:0"
	// DefaultRegion is used when no region is configured.
	DefaultRegion = "us-east-1"
	// DefaultMaxTokens caps the response when the caller sets no limit.
	DefaultMaxTokens = 4096
)

// Config configures the client. Explicit credentials take precedence over
// a named profile, which takes precedence over the default AWS chain.
type Config struct {
	ModelID string
	Region  string

	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Profile         string

	MaxTokens   int
	RateLimiter *llm.RateLimiter
}

// Client calls Claude on Bedrock through the Anthropic SDK.
type Client struct {
	api       anthropic.Client
	modelID   string
	region    string
	maxTokens int64
	limiter   *llm.RateLimiter
}

// NewClient creates a Bedrock client. The SDK's Bedrock backend handles
// SigV4 signing and endpoint selection from the AWS config.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ModelID == "" {
		if envModel := os.Getenv("AWS_BEDROCK_MODEL_ID"); envModel != "" {
			cfg.ModelID = envModel
		} else {
			cfg.ModelID = DefaultModelID
		}
	}
	if cfg.Region == "" {
		if envRegion := os.Getenv("AWS_DEFAULT_REGION"); envRegion != "" {
			cfg.Region = envRegion
		} else {
			cfg.Region = DefaultRegion
		}
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	var awsCfg aws.Config
	var err error
	switch {
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)),
		)
	case cfg.Profile != "":
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
			config.WithSharedConfigProfile(cfg.Profile),
		)
	default:
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &Client{
		api:       anthropic.NewClient(awsbedrock.WithConfig(awsCfg)),
		modelID:   cfg.ModelID,
		region:    cfg.Region,
		maxTokens: int64(cfg.MaxTokens),
		limiter:   cfg.RateLimiter,
	}, nil
}

// Name returns "bedrock".
func (c *Client) Name() string { return "bedrock" }

// Model returns the configured Bedrock model identifier.
func (c *Client) Model() string { return c.modelID }

// Generate sends the conversation and returns the completed response.
func (c *Client) Generate(ctx context.Context, messages []types.Message, opts llm.GenerateOptions) (*llm.Response, error) {
	params, err := c.buildParams(messages, opts)
	if err != nil {
		return nil, err
	}

	var message *anthropic.Message
	if c.limiter != nil {
		result, err := c.limiter.Do(ctx, func(ctx context.Context) (interface{}, error) {
			return c.api.Messages.New(ctx, params)
		})
		if err != nil {
			return nil, fmt.Errorf("bedrock invocation: %w", err)
		}
		message = result.(*anthropic.Message)
	} else {
		message, err = c.api.Messages.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("bedrock invocation: %w", err)
		}
	}
	return c.convertResponse(message), nil
}

// Stream generates token-by-token over the SDK's event stream.
func (c *Client) Stream(ctx context.Context, messages []types.Message, opts llm.GenerateOptions, cb llm.TokenCallback) (*llm.Response, error) {
	params, err := c.buildParams(messages, opts)
	if err != nil {
		return nil, err
	}

	stream := c.api.Messages.NewStreaming(ctx, params)

	var content strings.Builder
	var toolCalls []types.ToolCall
	usage := types.Usage{}
	stopReason := ""
	messageID := ""

	inputBuffers := map[int64]*strings.Builder{}
	blockToCall := map[int64]int{}

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			messageID = event.Message.ID
			usage.PromptTokens = int(event.Message.Usage.InputTokens)
		case "content_block_start":
			if event.ContentBlock.Type == "tool_use" {
				blockToCall[event.Index] = len(toolCalls)
				toolCalls = append(toolCalls, types.ToolCall{
					ID:        event.ContentBlock.ID,
					Name:      event.ContentBlock.Name,
					Arguments: map[string]interface{}{},
				})
				inputBuffers[event.Index] = &strings.Builder{}
			}
		case "content_block_delta":
			if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				content.WriteString(event.Delta.Text)
				if cb != nil {
					cb(event.Delta.Text)
				}
			}
			if event.Delta.Type == "input_json_delta" {
				if buf, ok := inputBuffers[event.Index]; ok {
					buf.WriteString(event.Delta.PartialJSON)
				}
			}
		case "content_block_stop":
			if buf, ok := inputBuffers[event.Index]; ok && buf.Len() > 0 {
				var args map[string]interface{}
				if err := json.Unmarshal([]byte(buf.String()), &args); err == nil {
					if idx, ok := blockToCall[event.Index]; ok && idx < len(toolCalls) {
						toolCalls[idx].Arguments = args
					}
				}
				delete(inputBuffers, event.Index)
			}
		case "message_delta":
			if event.Delta.StopReason != "" {
				stopReason = string(event.Delta.StopReason)
			}
			if event.Usage.OutputTokens > 0 {
				usage.CompletionTokens = int(event.Usage.OutputTokens)
			}
		}
	}
	if err := stream.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("bedrock stream: %w", err)
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	usage.Cost = c.estimateCost(usage.PromptTokens, usage.CompletionTokens)

	return &llm.Response{
		Content:    content.String(),
		ToolCalls:  toolCalls,
		StopReason: stopReason,
		Usage:      usage,
		Metadata: map[string]interface{}{
			"model":      c.modelID,
			"region":     c.region,
			"message_id": messageID,
		},
	}, nil
}

func (c *Client) buildParams(messages []types.Message, opts llm.GenerateOptions) (anthropic.MessageNewParams, error) {
	systemPrompt, sdkMessages := convertMessages(messages, opts.SystemPrompt)
	if len(sdkMessages) == 0 {
		return anthropic.MessageNewParams{}, fmt.Errorf("no messages to send")
	}

	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.modelID),
		Messages:  sdkMessages,
		MaxTokens: maxTokens,
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = anthropic.Float(opts.TopP)
	}
	if len(opts.StopSequences) > 0 {
		params.StopSequences = opts.StopSequences
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if len(opts.Tools) > 0 {
		sdkTools := convertTools(opts.Tools)
		unions := make([]anthropic.ToolUnionParam, len(sdkTools))
		for i := range sdkTools {
			unions[i] = anthropic.ToolUnionParam{OfTool: &sdkTools[i]}
		}
		params.Tools = unions
	}
	return params, nil
}

// convertMessages lifts system text out of the message list and maps the
// remaining roles onto SDK message params. Tool results ride as user
// messages per the Messages API convention.
func convertMessages(messages []types.Message, systemPrompt string) (string, []anthropic.MessageParam) {
	systemParts := []string{}
	if systemPrompt != "" {
		systemParts = append(systemParts, systemPrompt)
	}
	var out []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
		case types.RoleUser:
			if msg.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		case types.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input interface{} = tc.Arguments
				if tc.Arguments == nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case types.RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		}
	}
	return strings.Join(systemParts, "\n\n"), out
}

func convertTools(tools []tool.Tool) []anthropic.ToolParam {
	var out []anthropic.ToolParam
	for _, t := range tools {
		sdkTool := anthropic.ToolParam{
			Name:        t.Name(),
			Description: anthropic.String(t.Description()),
		}
		if schema := t.InputSchema(); schema != nil {
			raw, err := schema.ToJSON()
			if err == nil {
				var inputSchema anthropic.ToolInputSchemaParam
				if err := json.Unmarshal(raw, &inputSchema); err == nil {
					sdkTool.InputSchema = inputSchema
				}
			}
		}
		out = append(out, sdkTool)
	}
	return out
}

func (c *Client) convertResponse(message *anthropic.Message) *llm.Response {
	resp := &llm.Response{
		StopReason: string(message.StopReason),
		Usage: types.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
			Cost:             c.estimateCost(int(message.Usage.InputTokens), int(message.Usage.OutputTokens)),
		},
		Metadata: map[string]interface{}{
			"model":      c.modelID,
			"region":     c.region,
			"message_id": message.ID,
		},
	}
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			args := map[string]interface{}{}
			if block.Input != nil {
				_ = json.Unmarshal(block.Input, &args)
			}
			resp.ToolCalls = append(resp.ToolCalls, types.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	return resp
}

// estimateCost uses on-demand Bedrock pricing for the Claude family.
func (c *Client) estimateCost(inputTokens, outputTokens int) float64 {
	var inPerMillion, outPerMillion float64
	switch {
	case strings.Contains(c.modelID, "claude-haiku"):
		inPerMillion, outPerMillion = 0.8, 4.0
	case strings.Contains(c.modelID, "claude-opus"):
		inPerMillion, outPerMillion = 15.0, 75.0
	default:
		inPerMillion, outPerMillion = 3.0, 15.0
	}
	return float64(inputTokens)/1e6*inPerMillion + float64(outputTokens)/1e6*outPerMillion
}

var (
	_ llm.Provider          = (*Client)(nil)
	_ llm.StreamingProvider = (*Client)(nil)
)
