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
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/fault"
	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/prompts"
	"github.com/teradata-labs/warp/pkg/retrieval"
	"github.com/teradata-labs/warp/pkg/security"
	"github.com/teradata-labs/warp/pkg/tool"
	"github.com/teradata-labs/warp/pkg/types"
)

// Node is one step of a workflow: pure context in, context out. Nodes do
// not retain the context they receive.
type Node interface {
	Name() string
	Run(ctx context.Context, ec *ExecContext, wc Context) (Context, error)
}

// ExecContext carries the per-run collaborators nodes draw on. The
// executor builds one per run; nodes treat it as read-only.
type ExecContext struct {
	Provider llm.Provider
	Security *security.Manager
	Logger   *zap.Logger

	// WorkflowID and Mode identify the run for audit entries.
	WorkflowID string
	Mode       Mode

	// EmitToken forwards one streamed token to the consumer; nil in
	// synchronous runs. It must return false once the consumer is gone so
	// the model node can stop mid-stream.
	EmitToken func(token string) bool

	// Usage accumulates provider-reported usage across model calls.
	Usage types.Usage
}

func (ec *ExecContext) logger() *zap.Logger {
	if ec.Logger == nil {
		return zap.NewNop()
	}
	return ec.Logger
}

// --- SystemPrompt -----------------------------------------------------

// SystemPromptNode prepends a system message when the conversation does
// not already carry one. Messages containing ${...} placeholders are
// rendered against the run metadata.
type SystemPromptNode struct {
	Message string
}

// Name returns "system_prompt".
func (n *SystemPromptNode) Name() string { return "system_prompt" }

// Run prepends the system message if absent.
func (n *SystemPromptNode) Run(ctx context.Context, ec *ExecContext, wc Context) (Context, error) {
	if n.Message == "" {
		return wc, nil
	}
	for _, msg := range wc.Messages {
		if msg.Role == types.RoleSystem {
			return wc, nil
		}
	}

	content := n.Message
	if strings.Contains(content, "${") {
		rendered, err := prompts.Render(content, wc.Metadata)
		if err != nil {
			return wc, fault.Wrap(fault.Configuration, err, "rendering system prompt")
		}
		content = rendered
	}

	out := wc.Clone()
	out.Messages = append([]types.Message{{
		Role:    types.RoleSystem,
		Content: content,
	}}, out.Messages...)
	return out, nil
}

// --- Retriever --------------------------------------------------------

// RetrieverNode fetches passages for the latest user message. A nil
// retriever makes the node a no-op, so rag workflows degrade gracefully.
type RetrieverNode struct {
	Retriever retrieval.Retriever
	MaxDocs   int
	Threshold float64
}

// Name returns "retriever".
func (n *RetrieverNode) Name() string { return "retriever" }

// Run populates RetrievalContext from the latest user message.
func (n *RetrieverNode) Run(ctx context.Context, ec *ExecContext, wc Context) (Context, error) {
	if n.Retriever == nil {
		return wc, nil
	}
	query := wc.LastUserContent()
	if query == "" {
		return wc, nil
	}

	passages, err := n.Retriever.Retrieve(ctx, query, n.MaxDocs, n.Threshold)
	if err != nil {
		return wc, fault.Wrap(fault.Transient, err, "retrieval failed")
	}

	out := wc.Clone()
	out.RetrievalContext = passages
	out.Metadata["retrieval_docs"] = len(passages)
	return out, nil
}

// --- Model ------------------------------------------------------------

// ModelNode calls the provider with the current message window (plus any
// retrieval context) and appends the assistant reply. In streaming runs
// tokens go through ExecContext.EmitToken as they arrive.
type ModelNode struct {
	Options llm.GenerateOptions
}

// Name returns "model".
func (n *ModelNode) Name() string { return "model" }

// Run generates the assistant reply.
func (n *ModelNode) Run(ctx context.Context, ec *ExecContext, wc Context) (Context, error) {
	return generate(ctx, ec, wc, n.Options)
}

// generate is the shared model invocation used by ModelNode and the tool
// router's follow-up calls.
func generate(ctx context.Context, ec *ExecContext, wc Context, opts llm.GenerateOptions) (Context, error) {
	messages := promptMessages(wc)

	var resp *llm.Response
	var err error
	if ec.EmitToken != nil {
		streaming, ok := ec.Provider.(llm.StreamingProvider)
		if ok {
			streamCtx, cancel := context.WithCancel(ctx)
			resp, err = streaming.Stream(streamCtx, messages, opts, func(token string) {
				if !ec.EmitToken(token) {
					cancel()
				}
			})
			cancel()
		} else {
			resp, err = ec.Provider.Generate(ctx, messages, opts)
			if err == nil && resp.Content != "" {
				ec.EmitToken(resp.Content)
			}
		}
	} else {
		resp, err = ec.Provider.Generate(ctx, messages, opts)
	}
	if err != nil {
		if ctx.Err() != nil {
			return wc, fault.Wrap(fault.Cancelled, ctx.Err(), "model call cancelled")
		}
		// Preserve the provider's own fault classification (RateLimit,
		// Transient) so callers can apply their retry policy.
		var fe *fault.Error
		if errors.As(err, &fe) {
			return wc, fault.Wrap(fe.Kind, err, "provider %s", ec.Provider.Name())
		}
		return wc, fault.Wrap(fault.ProviderUnavailable, err, "provider %s", ec.Provider.Name())
	}

	ec.Usage.Add(resp.Usage)

	out := wc.AppendMessage(types.Message{
		Role:      types.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
		Provider:  ec.Provider.Name(),
		Model:     ec.Provider.Model(),
		CreatedAt: time.Now(),
	})
	out.Metadata["usage"] = ec.Usage
	out.Metadata["stop_reason"] = resp.StopReason
	return out, nil
}

// promptMessages folds retrieval context into the message window as an
// extra system message just before the latest user turn.
func promptMessages(wc Context) []types.Message {
	if len(wc.RetrievalContext) == 0 && wc.Summary == "" {
		return wc.Messages
	}

	var sb strings.Builder
	if wc.Summary != "" {
		sb.WriteString("Conversation summary so far:\n")
		sb.WriteString(wc.Summary)
		sb.WriteString("\n\n")
	}
	if len(wc.RetrievalContext) > 0 {
		sb.WriteString("Relevant context:\n")
		for i, p := range wc.RetrievalContext {
			fmt.Fprintf(&sb, "[%d] %s\n", i+1, p.Content)
		}
	}

	out := make([]types.Message, 0, len(wc.Messages)+1)
	inserted := false
	for i, msg := range wc.Messages {
		// Insert before the final user message.
		if !inserted && i == len(wc.Messages)-1 && msg.Role == types.RoleUser {
			out = append(out, types.Message{Role: types.RoleSystem, Content: sb.String()})
			inserted = true
		}
		out = append(out, msg)
	}
	if !inserted {
		out = append(out, types.Message{Role: types.RoleSystem, Content: sb.String()})
	}
	return out
}

// --- ToolRouter -------------------------------------------------------

// ToolRouterNode dispatches tool calls requested by the model, feeding
// results back for follow-up generations until the model stops asking or
// the call ceiling is reached. Each dispatch passes through security
// authorization and schema validation; failures become error-flagged
// tool messages and the loop continues.
type ToolRouterNode struct {
	Tools        map[string]tool.Tool
	MaxToolCalls int
	Options      llm.GenerateOptions
}

// Name returns "tool_router".
func (n *ToolRouterNode) Name() string { return "tool_router" }

// Run drives the dispatch loop.
func (n *ToolRouterNode) Run(ctx context.Context, ec *ExecContext, wc Context) (Context, error) {
	for {
		last := wc.LastMessage()
		if last == nil || last.Role != types.RoleAssistant || len(last.ToolCalls) == 0 {
			return wc, nil
		}
		if wc.ToolCallCount >= n.MaxToolCalls {
			ec.logger().Warn("tool call ceiling reached",
				zap.Int("max_tool_calls", n.MaxToolCalls),
				zap.String("conversation_id", wc.ConversationID))
			return wc, nil
		}

		calls := last.ToolCalls
		for _, call := range calls {
			if err := ctx.Err(); err != nil {
				return wc, fault.Wrap(fault.Cancelled, err, "tool dispatch cancelled")
			}
			if wc.ToolCallCount >= n.MaxToolCalls {
				break
			}
			wc = n.dispatch(ctx, ec, wc, call)
		}

		next, err := generate(ctx, ec, wc, n.Options)
		if err != nil {
			return wc, err
		}
		wc = next
	}
}

// dispatch executes one tool call and appends its tool-role message.
func (n *ToolRouterNode) dispatch(ctx context.Context, ec *ExecContext, wc Context, call types.ToolCall) Context {
	out := wc.Clone()
	out.ToolCallCount++

	appendResult := func(content string, isError bool) Context {
		msg := types.Message{
			Role:       types.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
			CreatedAt:  time.Now(),
			Metadata:   map[string]interface{}{"tool": call.Name},
		}
		if isError {
			msg.Metadata["error"] = true
		}
		out.Messages = append(out.Messages, msg)
		return out
	}

	t, ok := n.Tools[call.Name]
	if !ok {
		return appendResult(fmt.Sprintf("tool %q is not available", call.Name), true)
	}

	if ec.Security != nil {
		err := ec.Security.Authorize(ctx, security.AuthzRequest{
			UserID:     wc.UserID,
			Tool:       call.Name,
			Method:     call.Method,
			Params:     call.Arguments,
			WorkflowID: ec.WorkflowID,
			Mode:       string(ec.Mode),
		})
		if err != nil {
			ec.logger().Warn("tool call denied",
				zap.String("tool", call.Name),
				zap.String("user_id", wc.UserID),
				zap.Error(err))
			return appendResult(fmt.Sprintf("tool %q denied: %s", call.Name, err.Error()), true)
		}
	}

	if err := tool.ValidateArguments(t, call.Arguments); err != nil {
		return appendResult(fmt.Sprintf("invalid arguments for %q: %s", call.Name, err.Error()), true)
	}

	start := time.Now()
	result, err := t.Execute(ctx, call.Arguments)
	elapsed := time.Since(start)
	if err != nil {
		return appendResult(fmt.Sprintf("tool %q failed: %s", call.Name, err.Error()), true)
	}
	if result != nil && !result.Success {
		detail := "unknown error"
		if result.Error != nil {
			detail = result.Error.Message
		}
		return appendResult(fmt.Sprintf("tool %q failed: %s", call.Name, detail), true)
	}

	ec.logger().Debug("tool executed",
		zap.String("tool", call.Name),
		zap.Duration("elapsed", elapsed))
	return appendResult(formatToolResult(result), false)
}

func formatToolResult(result *tool.Result) string {
	if result == nil || result.Data == nil {
		return ""
	}
	switch v := result.Data.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// --- Memory -----------------------------------------------------------

// MemoryNode compacts conversation history once it exceeds the window:
// overflow messages are summarised into Context.Summary and dropped from
// the raw window. When a provider is available the summary is generated;
// otherwise a deterministic extract keeps the run self-contained.
type MemoryNode struct {
	Window int
}

// Name returns "memory".
func (n *MemoryNode) Name() string { return "memory" }

// summaryTokenBudget bounds the text handed to the summariser.
const summaryTokenBudget = 2000

// Run compacts history beyond the window.
func (n *MemoryNode) Run(ctx context.Context, ec *ExecContext, wc Context) (Context, error) {
	window := n.Window
	if window <= 0 {
		window = DefaultMemoryWindow
	}
	if len(wc.Messages) <= window {
		return wc, nil
	}

	// Keep a leading system message in place.
	keepFrom := len(wc.Messages) - window
	overflowStart := 0
	if wc.Messages[0].Role == types.RoleSystem {
		overflowStart = 1
	}
	if keepFrom <= overflowStart {
		return wc, nil
	}
	overflow := wc.Messages[overflowStart:keepFrom]

	summary := summarise(ctx, ec, overflow, wc.Summary)

	out := wc.Clone()
	out.Summary = summary
	kept := make([]types.Message, 0, window+1)
	kept = append(kept, wc.Messages[:overflowStart]...)
	kept = append(kept, wc.Messages[keepFrom:]...)
	out.Messages = kept
	out.Metadata["memory_compacted"] = len(overflow)
	return out, nil
}

// summarise produces a summary of overflow, folding in the previous
// summary. The provider path is budgeted with the shared token counter;
// on any failure it falls back to a deterministic extract.
func summarise(ctx context.Context, ec *ExecContext, overflow []types.Message, previous string) string {
	var sb strings.Builder
	if previous != "" {
		sb.WriteString(previous)
		sb.WriteString("\n")
	}

	counter := llm.GetTokenCounter()
	budget := summaryTokenBudget
	var transcript strings.Builder
	for _, msg := range overflow {
		line := fmt.Sprintf("%s: %s\n", msg.Role, msg.Content)
		cost := counter.CountTokens(line)
		if cost > budget {
			break
		}
		budget -= cost
		transcript.WriteString(line)
	}

	if ec != nil && ec.Provider != nil {
		resp, err := ec.Provider.Generate(ctx, []types.Message{
			{Role: types.RoleUser, Content: "Summarise this conversation excerpt in a short paragraph, keeping names, decisions and open questions:\n\n" + transcript.String()},
		}, llm.GenerateOptions{MaxTokens: 300})
		if err == nil && resp.Content != "" {
			sb.WriteString(resp.Content)
			return sb.String()
		}
	}

	// Deterministic fallback: first sentence of each overflow message.
	for _, msg := range overflow {
		content := msg.Content
		if idx := strings.IndexAny(content, ".!?"); idx > 0 && idx < len(content)-1 {
			content = content[:idx+1]
		}
		if content != "" {
			fmt.Fprintf(&sb, "%s: %s ", msg.Role, content)
		}
	}
	return strings.TrimSpace(sb.String())
}

// --- Conditional ------------------------------------------------------

// ConditionalNode evaluates a condition over the context and runs the
// selected branch's nodes in order. Unknown branch names select the
// "default" branch when present, otherwise the node is a no-op.
type ConditionalNode struct {
	Condition func(Context) string
	Branches  map[string][]Node
}

// Name returns "conditional".
func (n *ConditionalNode) Name() string { return "conditional" }

// Run selects and executes a branch.
func (n *ConditionalNode) Run(ctx context.Context, ec *ExecContext, wc Context) (Context, error) {
	if n.Condition == nil {
		return wc, nil
	}
	branch := n.Condition(wc)
	nodes, ok := n.Branches[branch]
	if !ok {
		nodes, ok = n.Branches["default"]
		if !ok {
			return wc, nil
		}
		branch = "default"
	}

	out := wc.Clone()
	out.Metadata["branch"] = branch
	for _, node := range nodes {
		next, err := node.Run(ctx, ec, out)
		if err != nil {
			return out, err
		}
		next.History = append(next.History, node.Name())
		out = next
	}
	return out, nil
}
