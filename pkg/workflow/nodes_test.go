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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/retrieval"
	"github.com/teradata-labs/warp/pkg/security"
	"github.com/teradata-labs/warp/pkg/tool"
	"github.com/teradata-labs/warp/pkg/types"
)

type fakeTool struct {
	name   string
	result *tool.Result
	err    error
	calls  int
}

func (f *fakeTool) Name() string                  { return f.name }
func (f *fakeTool) Description() string           { return "fake tool" }
func (f *fakeTool) InputSchema() *tool.JSONSchema { return nil }
func (f *fakeTool) Execute(ctx context.Context, params map[string]interface{}) (*tool.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return tool.Ok("42"), nil
}

func TestSystemPromptNode(t *testing.T) {
	n := &SystemPromptNode{Message: "Be helpful."}
	ec := &ExecContext{}

	wc, err := n.Run(context.Background(), ec, userContext("hi"))
	require.NoError(t, err)
	require.Len(t, wc.Messages, 2)
	assert.Equal(t, types.RoleSystem, wc.Messages[0].Role)
	assert.Equal(t, "Be helpful.", wc.Messages[0].Content)

	// A conversation that already has a system message is untouched.
	again, err := n.Run(context.Background(), ec, wc)
	require.NoError(t, err)
	assert.Len(t, again.Messages, 2)
}

func TestSystemPromptNodeRendersPlaceholders(t *testing.T) {
	n := &SystemPromptNode{Message: "You assist ${name}."}
	wc := userContext("hi")
	wc.Metadata["name"] = "Ada"

	out, err := n.Run(context.Background(), &ExecContext{}, wc)
	require.NoError(t, err)
	assert.Equal(t, "You assist Ada.", out.Messages[0].Content)
}

func TestRetrieverNode(t *testing.T) {
	r := retrieval.NewKeywordRetriever("docs")
	r.Add("d1", "the quick brown fox", nil)
	r.Add("d2", "unrelated content entirely", nil)

	n := &RetrieverNode{Retriever: r, MaxDocs: 2}
	wc, err := n.Run(context.Background(), &ExecContext{}, userContext("quick fox"))
	require.NoError(t, err)
	require.NotEmpty(t, wc.RetrievalContext)
	assert.Equal(t, "d1", wc.RetrievalContext[0].ID)
	assert.Equal(t, len(wc.RetrievalContext), wc.Metadata["retrieval_docs"])
}

func TestRetrieverNodeNilRetrieverNoOp(t *testing.T) {
	n := &RetrieverNode{}
	wc, err := n.Run(context.Background(), &ExecContext{}, userContext("query"))
	require.NoError(t, err)
	assert.Empty(t, wc.RetrievalContext)
}

func TestModelNodeFoldsRetrievalContext(t *testing.T) {
	p := &capturingProvider{}
	ec := &ExecContext{Provider: p}

	wc := userContext("what is warp?")
	wc.RetrievalContext = []retrieval.Passage{{ID: "d1", Content: "warp is an engine"}}

	out, err := (&ModelNode{}).Run(context.Background(), ec, wc)
	require.NoError(t, err)

	// The retrieval context rides as a system message before the user turn.
	require.Len(t, p.lastMessages, 2)
	assert.Equal(t, types.RoleSystem, p.lastMessages[0].Role)
	assert.Contains(t, p.lastMessages[0].Content, "warp is an engine")
	assert.Equal(t, types.RoleAssistant, out.LastMessage().Role)
}

type capturingProvider struct {
	lastMessages []types.Message
}

func (c *capturingProvider) Name() string  { return "capturing" }
func (c *capturingProvider) Model() string { return "m" }
func (c *capturingProvider) Generate(ctx context.Context, messages []types.Message, opts llm.GenerateOptions) (*llm.Response, error) {
	c.lastMessages = messages
	return &llm.Response{Content: "ok", StopReason: "end_turn"}, nil
}

func assistantWithToolCall(toolName string) types.Message {
	return types.Message{
		Role: types.RoleAssistant,
		ToolCalls: []types.ToolCall{
			{ID: "call-1", Name: toolName, Arguments: map[string]interface{}{"expression": "2+2"}},
		},
	}
}

func TestToolRouterDispatches(t *testing.T) {
	ft := &fakeTool{name: "calculator"}
	p := &fakeProvider{responses: []*llm.Response{
		{Content: "The answer is 42.", StopReason: "end_turn"},
	}}
	n := &ToolRouterNode{Tools: map[string]tool.Tool{"calculator": ft}, MaxToolCalls: 5}
	ec := &ExecContext{Provider: p}

	wc := userContext("calc").AppendMessage(assistantWithToolCall("calculator"))
	out, err := n.Run(context.Background(), ec, wc)
	require.NoError(t, err)

	assert.Equal(t, 1, ft.calls)
	assert.Equal(t, 1, out.ToolCallCount)

	// tool message then follow-up assistant message.
	msgs := out.Messages
	require.GreaterOrEqual(t, len(msgs), 4)
	toolMsg := msgs[len(msgs)-2]
	assert.Equal(t, types.RoleTool, toolMsg.Role)
	assert.Equal(t, "call-1", toolMsg.ToolCallID)
	assert.Equal(t, "42", toolMsg.Content)
	assert.Equal(t, "The answer is 42.", msgs[len(msgs)-1].Content)
}

func TestToolRouterDeniedCallContinues(t *testing.T) {
	ft := &fakeTool{name: "calculator"}
	sec := security.NewManager(security.Config{})
	// No grant for user-1: the call is denied but the run continues.
	p := &fakeProvider{responses: []*llm.Response{
		{Content: "I could not use the tool.", StopReason: "end_turn"},
	}}
	n := &ToolRouterNode{Tools: map[string]tool.Tool{"calculator": ft}, MaxToolCalls: 5}
	ec := &ExecContext{Provider: p, Security: sec}

	wc := userContext("calc").AppendMessage(assistantWithToolCall("calculator"))
	out, err := n.Run(context.Background(), ec, wc)
	require.NoError(t, err)

	assert.Equal(t, 0, ft.calls, "denied tool must not execute")
	toolMsg := out.Messages[len(out.Messages)-2]
	assert.Equal(t, types.RoleTool, toolMsg.Role)
	assert.Equal(t, true, toolMsg.Metadata["error"])
	assert.Contains(t, toolMsg.Content, "denied")

	// The denial was audited.
	entries := sec.Audit().Entries(10)
	require.NotEmpty(t, entries)
	assert.Equal(t, security.EventToolAccessDenied, entries[0].EventType)
}

func TestToolRouterFailureFlagsMessage(t *testing.T) {
	ft := &fakeTool{name: "calculator", result: tool.Fail("BAD_INPUT", "cannot divide by zero")}
	p := &fakeProvider{responses: []*llm.Response{{Content: "Sorry.", StopReason: "end_turn"}}}
	n := &ToolRouterNode{Tools: map[string]tool.Tool{"calculator": ft}, MaxToolCalls: 5}

	wc := userContext("calc").AppendMessage(assistantWithToolCall("calculator"))
	out, err := n.Run(context.Background(), &ExecContext{Provider: p}, wc)
	require.NoError(t, err)

	toolMsg := out.Messages[len(out.Messages)-2]
	assert.Equal(t, true, toolMsg.Metadata["error"])
	assert.Contains(t, toolMsg.Content, "cannot divide by zero")
}

func TestToolRouterRespectsCeiling(t *testing.T) {
	ft := &fakeTool{name: "calculator"}
	// The model keeps asking for the tool; the router must stop at the cap.
	loop := &llm.Response{StopReason: "tool_use", ToolCalls: []types.ToolCall{
		{ID: "again", Name: "calculator", Arguments: map[string]interface{}{}},
	}}
	p := &fakeProvider{responses: []*llm.Response{loop, loop, loop, loop, loop}}
	n := &ToolRouterNode{Tools: map[string]tool.Tool{"calculator": ft}, MaxToolCalls: 2}

	wc := userContext("calc").AppendMessage(assistantWithToolCall("calculator"))
	out, err := n.Run(context.Background(), &ExecContext{Provider: p}, wc)
	require.NoError(t, err)
	assert.Equal(t, 2, out.ToolCallCount)
	assert.Equal(t, 2, ft.calls)
}

func TestToolRouterUnknownTool(t *testing.T) {
	p := &fakeProvider{responses: []*llm.Response{{Content: "ok", StopReason: "end_turn"}}}
	n := &ToolRouterNode{Tools: map[string]tool.Tool{}, MaxToolCalls: 5}

	wc := userContext("x").AppendMessage(assistantWithToolCall("missing"))
	out, err := n.Run(context.Background(), &ExecContext{Provider: p}, wc)
	require.NoError(t, err)

	toolMsg := out.Messages[len(out.Messages)-2]
	assert.Contains(t, toolMsg.Content, "not available")
	assert.Equal(t, true, toolMsg.Metadata["error"])
}

func TestMemoryNodeCompacts(t *testing.T) {
	msgs := []types.Message{{Role: types.RoleSystem, Content: "sys"}}
	for i := 0; i < 10; i++ {
		msgs = append(msgs,
			types.Message{Role: types.RoleUser, Content: "question about topic. more detail"},
			types.Message{Role: types.RoleAssistant, Content: "an answer. elaboration"})
	}
	wc := NewContext("u", "c", msgs)

	n := &MemoryNode{Window: 6}
	out, err := n.Run(context.Background(), &ExecContext{}, wc)
	require.NoError(t, err)

	// system message kept, window preserved, overflow summarised.
	assert.Equal(t, types.RoleSystem, out.Messages[0].Role)
	assert.Len(t, out.Messages, 7) // system + window of 6
	assert.NotEmpty(t, out.Summary)
	assert.Equal(t, 14, out.Metadata["memory_compacted"])
}

func TestMemoryNodeUnderWindowNoOp(t *testing.T) {
	wc := userContext("hi")
	out, err := (&MemoryNode{Window: 10}).Run(context.Background(), &ExecContext{}, wc)
	require.NoError(t, err)
	assert.Equal(t, wc.Messages, out.Messages)
	assert.Empty(t, out.Summary)
}

func TestConditionalNode(t *testing.T) {
	n := &ConditionalNode{
		Condition: func(wc Context) string {
			if len(wc.Messages) > 2 {
				return "long"
			}
			return "short"
		},
		Branches: map[string][]Node{
			"short": {&SystemPromptNode{Message: "short branch"}},
			"long":  {&SystemPromptNode{Message: "long branch"}},
		},
	}

	out, err := n.Run(context.Background(), &ExecContext{}, userContext("hi"))
	require.NoError(t, err)
	assert.Equal(t, "short", out.Metadata["branch"])
	assert.Equal(t, "short branch", out.Messages[0].Content)
	assert.Contains(t, out.History, "system_prompt")
}

func TestContextCloneIsolation(t *testing.T) {
	wc := userContext("hi")
	wc.Metadata["k"] = "v"

	clone := wc.Clone()
	clone.Messages[0].Content = "changed"
	clone.Metadata["k"] = "other"
	clone.History = append(clone.History, "n")

	assert.Equal(t, "hi", wc.Messages[0].Content)
	assert.Equal(t, "v", wc.Metadata["k"])
	assert.Empty(t, wc.History)
}

func TestBuilderShapes(t *testing.T) {
	p := &fakeProvider{}
	tools := []tool.Tool{&fakeTool{name: "calculator"}}
	r := retrieval.NewKeywordRetriever("docs")

	tests := []struct {
		mode   Mode
		cfg    Config
		expect []string
	}{
		{ModePlain, Config{}, []string{"system_prompt", "model"}},
		{ModePlain, Config{EnableMemory: true}, []string{"system_prompt", "memory", "model"}},
		{ModeRAG, Config{}, []string{"system_prompt", "retriever", "model"}},
		{ModeTools, Config{}, []string{"system_prompt", "model", "tool_router"}},
		{ModeTools, Config{EnableMemory: true}, []string{"system_prompt", "memory", "model", "tool_router"}},
		{ModeFull, Config{}, []string{"system_prompt", "retriever", "model", "tool_router"}},
		{ModeFull, Config{EnableMemory: true}, []string{"system_prompt", "retriever", "memory", "model", "tool_router"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			b := &Builder{Provider: p, Retriever: r, Tools: tools}
			wf, err := b.Build(tt.mode, tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.expect, wf.Nodes())
			assert.Equal(t, "fake", wf.Provider)
			assert.NotEmpty(t, wf.ID)
		})
	}
}

func TestBuilderUnknownModeFallsBackToPlain(t *testing.T) {
	b := &Builder{Provider: &fakeProvider{}}
	wf, err := b.Build(Mode("mystery"), Config{})
	require.NoError(t, err)
	assert.Equal(t, ModePlain, wf.Mode)
	assert.Equal(t, []string{"system_prompt", "model"}, wf.Nodes())
}

func TestBuilderRequiresProvider(t *testing.T) {
	b := &Builder{}
	_, err := b.Build(ModePlain, Config{})
	require.Error(t, err)
}

func TestBuilderToolAllowlist(t *testing.T) {
	b := &Builder{
		Provider: &fakeProvider{},
		Tools:    []tool.Tool{&fakeTool{name: "calculator"}, &fakeTool{name: "clock"}},
	}
	wf, err := b.Build(ModeTools, Config{Tools: []string{"clock", "missing"}})
	require.NoError(t, err)

	router := wf.nodes[len(wf.nodes)-1].(*ToolRouterNode)
	assert.Len(t, router.Tools, 1)
	_, ok := router.Tools["clock"]
	assert.True(t, ok)
}
