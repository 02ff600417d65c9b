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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/warp/pkg/fault"
	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/types"
)

// fakeProvider replays scripted responses; each Generate/Stream call
// consumes the next one.
type fakeProvider struct {
	mu        sync.Mutex
	responses []*llm.Response
	tokens    [][]string
	calls     int
	streamGap time.Duration
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-model" }

func (f *fakeProvider) next() *llm.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &llm.Response{Content: "done", StopReason: "end_turn"}
	if f.calls < len(f.responses) {
		resp = f.responses[f.calls]
	}
	f.calls++
	return resp
}

func (f *fakeProvider) Generate(ctx context.Context, messages []types.Message, opts llm.GenerateOptions) (*llm.Response, error) {
	return f.next(), nil
}

func (f *fakeProvider) Stream(ctx context.Context, messages []types.Message, opts llm.GenerateOptions, cb llm.TokenCallback) (*llm.Response, error) {
	f.mu.Lock()
	idx := f.calls
	f.mu.Unlock()

	resp := f.next()
	var toks []string
	if idx < len(f.tokens) {
		toks = f.tokens[idx]
	} else {
		toks = []string{resp.Content}
	}
	for _, tok := range toks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.streamGap > 0 {
			time.Sleep(f.streamGap)
		}
		if cb != nil {
			cb(tok)
		}
	}
	return resp, nil
}

func plainWorkflow(t *testing.T, p llm.Provider) *Workflow {
	t.Helper()
	b := &Builder{Provider: p}
	wf, err := b.Build(ModePlain, Config{SystemMessage: "Be helpful."})
	require.NoError(t, err)
	return wf
}

func userContext(content string) Context {
	return NewContext("user-1", "conv-1", []types.Message{
		{Role: types.RoleUser, Content: content},
	})
}

func TestRunPlainWorkflow(t *testing.T) {
	p := &fakeProvider{responses: []*llm.Response{
		{Content: "Hello!", StopReason: "end_turn", Usage: types.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}},
	}}
	e := NewExecutor(ExecutorConfig{})

	wc, err := e.Run(context.Background(), plainWorkflow(t, p), userContext("hi"), "conv-1")
	require.NoError(t, err)

	// system prompt prepended, assistant appended.
	require.Len(t, wc.Messages, 3)
	assert.Equal(t, types.RoleSystem, wc.Messages[0].Role)
	assert.Equal(t, "Hello!", wc.Messages[2].Content)
	assert.Equal(t, []string{"system_prompt", "model"}, wc.History)
}

func TestRunNodeErrorReturnsPartialContext(t *testing.T) {
	p := &failingProvider{}
	e := NewExecutor(ExecutorConfig{})

	wc, err := e.Run(context.Background(), plainWorkflow(t, p), userContext("hi"), "conv-1")
	require.Error(t, err)
	assert.Equal(t, fault.ProviderUnavailable, fault.KindOf(err))
	// System prompt node ran before the failure.
	assert.Contains(t, wc.History, "system_prompt")
	assert.NotEmpty(t, wc.ErrorState)
}

type failingProvider struct{}

func (f *failingProvider) Name() string  { return "failing" }
func (f *failingProvider) Model() string { return "m" }
func (f *failingProvider) Generate(ctx context.Context, messages []types.Message, opts llm.GenerateOptions) (*llm.Response, error) {
	return nil, assert.AnError
}

func collectEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestStreamEventOrdering(t *testing.T) {
	p := &fakeProvider{
		responses: []*llm.Response{{Content: "abc", StopReason: "end_turn", Usage: types.Usage{TotalTokens: 3}}},
		tokens:    [][]string{{"a", "b", "c"}},
	}
	e := NewExecutor(ExecutorConfig{})

	result := make(chan StreamResult, 1)
	events, err := e.Stream(context.Background(), plainWorkflow(t, p), userContext("hi"), "conv-1", result)
	require.NoError(t, err)

	got := collectEvents(t, events)
	var typs []EventType
	for _, ev := range got {
		typs = append(typs, ev.Type)
	}
	assert.Equal(t, []EventType{
		EventStart,
		EventNodeStart, EventNodeComplete, // system_prompt
		EventNodeStart, EventToken, EventToken, EventToken, EventNodeComplete, // model
		EventUsage,
		EventEnd,
	}, typs)

	// Tokens carry the emitting node and every event the correlation id.
	correlation := got[0].CorrelationID
	require.NotEmpty(t, correlation)
	for _, ev := range got {
		assert.Equal(t, correlation, ev.CorrelationID)
	}
	assert.Equal(t, "model", got[4].Node)
	assert.Equal(t, "a", got[4].Content)

	res := <-result
	require.NoError(t, res.Err)
	assert.Equal(t, "abc", res.Context.LastMessage().Content)
}

func TestStreamCancellationAfterTokens(t *testing.T) {
	p := &fakeProvider{
		responses: []*llm.Response{{Content: "abcdef", StopReason: "end_turn"}},
		tokens:    [][]string{{"a", "b", "c", "d", "e", "f"}},
		streamGap: 5 * time.Millisecond,
	}
	e := NewExecutor(ExecutorConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := make(chan StreamResult, 1)
	events, err := e.Stream(ctx, plainWorkflow(t, p), userContext("hi"), "conv-1", result)
	require.NoError(t, err)

	tokens := 0
	var seen []Event
	for ev := range events {
		seen = append(seen, ev)
		if ev.Type == EventToken {
			tokens++
			if tokens == 3 {
				cancel()
			}
		}
	}

	last := seen[len(seen)-1]
	assert.Equal(t, EventEnd, last.Type)
	errorEv := seen[len(seen)-2]
	assert.Equal(t, EventError, errorEv.Type)
	assert.Equal(t, "cancelled", errorEv.Content)

	res := <-result
	require.Error(t, res.Err)
	assert.Equal(t, fault.Cancelled, fault.KindOf(res.Err))
}

func TestStreamTimeout(t *testing.T) {
	p := &fakeProvider{
		responses: []*llm.Response{{Content: "slow"}},
		tokens:    [][]string{{"s", "l", "o", "w"}},
		streamGap: 50 * time.Millisecond,
	}
	e := NewExecutor(ExecutorConfig{Timeout: 60 * time.Millisecond})

	result := make(chan StreamResult, 1)
	events, err := e.Stream(context.Background(), plainWorkflow(t, p), userContext("hi"), "conv-1", result)
	require.NoError(t, err)

	got := collectEvents(t, events)
	require.NotEmpty(t, got)
	assert.Equal(t, EventEnd, got[len(got)-1].Type)
	assert.Equal(t, EventError, got[len(got)-2].Type)
	assert.Equal(t, "timeout", got[len(got)-2].Content)
}

func TestRunsSerializedPerThread(t *testing.T) {
	p := &fakeProvider{streamGap: 10 * time.Millisecond}
	e := NewExecutor(ExecutorConfig{})
	wf := plainWorkflow(t, p)

	var mu sync.Mutex
	active := 0
	maxActive := 0

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock := e.threadLock("conv-1")
			lock.Lock()
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			lock.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)

	// Distinct threads use distinct locks.
	assert.NotSame(t, e.threadLock("conv-1"), e.threadLock("conv-2"))
	_ = wf
}
