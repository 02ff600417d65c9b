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

	"github.com/teradata-labs/warp/pkg/observability"
	"github.com/teradata-labs/warp/pkg/types"
)

// InstrumentedProvider wraps any Provider with span and metric recording.
// Streaming passes through when the wrapped provider supports it.
type InstrumentedProvider struct {
	provider Provider
	tracer   observability.Tracer
}

// NewInstrumented wraps provider with tracing. A nil tracer degrades to
// no-op instrumentation.
func NewInstrumented(provider Provider, tracer observability.Tracer) *InstrumentedProvider {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &InstrumentedProvider{provider: provider, tracer: tracer}
}

// Name returns the wrapped provider's name.
func (p *InstrumentedProvider) Name() string { return p.provider.Name() }

// Model returns the wrapped provider's model.
func (p *InstrumentedProvider) Model() string { return p.provider.Model() }

// Unwrap returns the wrapped provider.
func (p *InstrumentedProvider) Unwrap() Provider { return p.provider }

// Generate delegates to the wrapped provider inside a span.
func (p *InstrumentedProvider) Generate(ctx context.Context, messages []types.Message, opts GenerateOptions) (*Response, error) {
	ctx, span := p.tracer.StartSpan(ctx, "llm.generate",
		observability.WithAttribute("llm.provider", p.provider.Name()),
		observability.WithAttribute("llm.model", p.provider.Model()),
		observability.WithAttribute("llm.messages", len(messages)))
	defer p.tracer.EndSpan(span)

	resp, err := p.provider.Generate(ctx, messages, opts)
	p.record(span, resp, err, false)
	return resp, err
}

// Stream delegates to the wrapped provider's streaming path inside a span,
// falling back to Generate with a single synthetic token when the wrapped
// provider cannot stream.
func (p *InstrumentedProvider) Stream(ctx context.Context, messages []types.Message, opts GenerateOptions, cb TokenCallback) (*Response, error) {
	ctx, span := p.tracer.StartSpan(ctx, "llm.stream",
		observability.WithAttribute("llm.provider", p.provider.Name()),
		observability.WithAttribute("llm.model", p.provider.Model()))
	defer p.tracer.EndSpan(span)

	streaming, ok := p.provider.(StreamingProvider)
	if !ok {
		resp, err := p.provider.Generate(ctx, messages, opts)
		if err == nil && cb != nil && resp.Content != "" {
			cb(resp.Content)
		}
		p.record(span, resp, err, true)
		return resp, err
	}

	tokens := 0
	resp, err := streaming.Stream(ctx, messages, opts, func(token string) {
		tokens++
		if cb != nil {
			cb(token)
		}
	})
	span.SetAttribute("llm.stream_tokens", tokens)
	p.record(span, resp, err, true)
	return resp, err
}

func (p *InstrumentedProvider) record(span *observability.Span, resp *Response, err error, streamed bool) {
	if err != nil {
		span.RecordError(err)
		return
	}
	span.SetAttribute("llm.prompt_tokens", resp.Usage.PromptTokens)
	span.SetAttribute("llm.completion_tokens", resp.Usage.CompletionTokens)
	span.SetAttribute("llm.stop_reason", resp.StopReason)

	labels := map[string]string{
		"provider": p.provider.Name(),
		"model":    p.provider.Model(),
	}
	if streamed {
		labels["mode"] = "stream"
	} else {
		labels["mode"] = "generate"
	}
	p.tracer.RecordMetric("llm.tokens.prompt", float64(resp.Usage.PromptTokens), labels)
	p.tracer.RecordMetric("llm.tokens.completion", float64(resp.Usage.CompletionTokens), labels)
	p.tracer.RecordMetric("llm.cost_usd", resp.Usage.Cost, labels)
}
