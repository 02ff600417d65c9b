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
package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNoOpTracerSpanNesting(t *testing.T) {
	tracer := NewNoOpTracer()

	ctx, parent := tracer.StartSpan(context.Background(), "chat.request",
		WithAttribute("user_id", "u-1"))
	_, child := tracer.StartSpan(ctx, "llm.generate")

	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)
	assert.Equal(t, "u-1", parent.Attributes["user_id"])

	tracer.EndSpan(child)
	tracer.EndSpan(parent)
	assert.False(t, parent.EndTime.IsZero())
	assert.GreaterOrEqual(t, parent.Duration, child.Duration)
}

func TestSpanRecordError(t *testing.T) {
	span := &Span{Name: "tool.execute"}
	span.RecordError(errors.New("denied"))

	assert.Equal(t, StatusError, span.Status.Code)
	assert.Equal(t, "denied", span.Status.Message)
	require.Len(t, span.Events, 1)
	assert.Equal(t, "error", span.Events[0].Name)

	span.RecordError(nil)
	assert.Len(t, span.Events, 1)
}

func TestSpanFromContext(t *testing.T) {
	assert.Nil(t, SpanFromContext(context.Background()))

	tracer := NewLogTracer(zap.NewNop())
	ctx, span := tracer.StartSpan(context.Background(), "node.run")
	assert.Same(t, span, SpanFromContext(ctx))
	tracer.EndSpan(span)
}
