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

// Package llm defines the model provider contract and the lazy provider
// registry. Providers turn a message list into a completion, synchronously
// or token-by-token; everything above this package treats them as opaque
// generators.
package llm

import (
	"context"

	"github.com/teradata-labs/warp/pkg/tool"
	"github.com/teradata-labs/warp/pkg/types"
)

// GenerateOptions carries generation hyperparameters and the tool
// declarations for one call. Zero values defer to provider defaults.
type GenerateOptions struct {
	Temperature      float64
	MaxTokens        int
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64
	StopSequences    []string
	Seed             int
	LogitBias        map[string]int

	// SystemPrompt overrides any system message handling the provider does
	// itself; most callers put system messages in the message list instead.
	SystemPrompt string

	// Tools are declared to the model so it can request tool calls.
	Tools []tool.Tool
}

// Response is a completed model generation.
type Response struct {
	// Content is the assistant text, empty when the model only requested
	// tool calls.
	Content string

	// ToolCalls contains requested tool executions.
	ToolCalls []types.ToolCall

	// StopReason indicates why generation stopped (provider vocabulary).
	StopReason string

	// Usage tracks token consumption and estimated cost.
	Usage types.Usage

	// Metadata carries provider-specific response details.
	Metadata map[string]interface{}
}

// Provider generates completions for a message list.
//
// Implementations must be safe for concurrent use and must honor ctx
// cancellation on in-flight calls.
type Provider interface {
	// Generate sends the conversation and returns the completed response.
	Generate(ctx context.Context, messages []types.Message, opts GenerateOptions) (*Response, error)

	// Name returns the provider name ("anthropic", "openai", ...).
	Name() string

	// Model returns the model identifier.
	Model() string
}

// TokenCallback is invoked for each streamed token. Implementations should
// be lightweight and non-blocking; the executor bridges callbacks into its
// bounded event channel.
type TokenCallback func(token string)

// StreamingProvider extends Provider with token streaming.
type StreamingProvider interface {
	Provider

	// Stream generates token-by-token, invoking cb for each chunk, and
	// returns the complete response once the stream finishes.
	Stream(ctx context.Context, messages []types.Message, opts GenerateOptions, cb TokenCallback) (*Response, error)
}

// SupportsStreaming reports whether p implements StreamingProvider.
func SupportsStreaming(p Provider) bool {
	_, ok := p.(StreamingProvider)
	return ok
}
