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
package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/warp/pkg/types"
)

type stubStreamingProvider struct {
	stubProvider
	tokens []string
	err    error
}

func (s *stubStreamingProvider) Stream(ctx context.Context, messages []types.Message, opts GenerateOptions, cb TokenCallback) (*Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	content := ""
	for _, tok := range s.tokens {
		content += tok
		if cb != nil {
			cb(tok)
		}
	}
	return &Response{Content: content, StopReason: "end_turn"}, nil
}

func TestInstrumentedGenerate(t *testing.T) {
	p := NewInstrumented(&stubProvider{name: "stub", model: "m"}, nil)

	assert.Equal(t, "stub", p.Name())
	assert.Equal(t, "m", p.Model())

	resp, err := p.Generate(context.Background(), []types.Message{{Role: types.RoleUser, Content: "hi"}}, GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "stub", resp.Content)
}

func TestInstrumentedStreamDelegates(t *testing.T) {
	inner := &stubStreamingProvider{
		stubProvider: stubProvider{name: "stub", model: "m"},
		tokens:       []string{"a", "b", "c"},
	}
	p := NewInstrumented(inner, nil)

	var got []string
	resp, err := p.Stream(context.Background(), nil, GenerateOptions{}, func(tok string) {
		got = append(got, tok)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, "abc", resp.Content)
}

func TestInstrumentedStreamFallback(t *testing.T) {
	// A provider without streaming support delivers the whole response as
	// one callback invocation.
	p := NewInstrumented(&stubProvider{name: "stub", model: "m"}, nil)

	var got []string
	resp, err := p.Stream(context.Background(), nil, GenerateOptions{}, func(tok string) {
		got = append(got, tok)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"stub"}, got)
	assert.Equal(t, "stub", resp.Content)
}

func TestInstrumentedStreamError(t *testing.T) {
	inner := &stubStreamingProvider{
		stubProvider: stubProvider{name: "stub", model: "m"},
		err:          errors.New("boom"),
	}
	p := NewInstrumented(inner, nil)

	_, err := p.Stream(context.Background(), nil, GenerateOptions{}, nil)
	require.Error(t, err)
}

func TestInstrumentedUnwrap(t *testing.T) {
	inner := &stubProvider{name: "stub", model: "m"}
	p := NewInstrumented(inner, nil)
	assert.Same(t, inner, p.Unwrap())
}

func TestSupportsStreaming(t *testing.T) {
	assert.False(t, SupportsStreaming(&stubProvider{}))
	assert.True(t, SupportsStreaming(&stubStreamingProvider{}))
	// The instrumented wrapper always exposes Stream.
	assert.True(t, SupportsStreaming(NewInstrumented(&stubProvider{}, nil)))
}

func TestTokenCounter(t *testing.T) {
	tc := GetTokenCounter()

	assert.Equal(t, 0, tc.CountTokens(""))
	assert.Greater(t, tc.CountTokens("Hello, world! This is a test."), 0)

	msgs := []types.Message{
		{Role: types.RoleUser, Content: "Hello"},
		{Role: types.RoleAssistant, Content: "Hi there"},
	}
	perMessage := tc.EstimateMessagesTokens(msgs)
	assert.Greater(t, perMessage, tc.CountTokens("Hello")+tc.CountTokens("Hi there"))
}
