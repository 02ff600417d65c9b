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

// Package workflow compiles and executes node graphs over conversation
// state. A workflow is a directed sequence of nodes (system prompt,
// retrieval, model call, tool routing, memory) selected by mode; compiled
// workflows are immutable and cached.
package workflow

import (
	"time"

	"github.com/teradata-labs/warp/pkg/retrieval"
	"github.com/teradata-labs/warp/pkg/types"
)

// Context is the state threaded through a workflow run. It is passed BY
// VALUE between nodes: a node receives its predecessor's output and
// returns a new value. Nodes must use the append helpers (or Clone) so
// sibling copies never share backing arrays.
type Context struct {
	Messages       []types.Message
	UserID         string
	ConversationID string

	// RetrievalContext holds the passages the retriever node selected for
	// the latest user message.
	RetrievalContext []retrieval.Passage

	// ToolCallCount counts tool dispatches so the router can stop at the
	// configured ceiling.
	ToolCallCount int

	// Summary holds compacted history produced by the memory node.
	Summary string

	// History records executed node names in order.
	History []string

	// ErrorState carries the failure that stopped the run, if any.
	ErrorState string

	Metadata map[string]interface{}
}

// NewContext creates a run context for a user/conversation pair.
func NewContext(userID, conversationID string, messages []types.Message) Context {
	return Context{
		Messages:       messages,
		UserID:         userID,
		ConversationID: conversationID,
		Metadata:       map[string]interface{}{},
	}
}

// Clone returns a deep-enough copy: slices are reallocated and the
// metadata map is copied one level deep, so appends on the copy never
// reach the original.
func (c Context) Clone() Context {
	out := c
	out.Messages = append([]types.Message(nil), c.Messages...)
	out.RetrievalContext = append([]retrieval.Passage(nil), c.RetrievalContext...)
	out.History = append([]string(nil), c.History...)
	out.Metadata = make(map[string]interface{}, len(c.Metadata))
	for k, v := range c.Metadata {
		out.Metadata[k] = v
	}
	return out
}

// AppendMessage returns a copy of the context with msg appended.
func (c Context) AppendMessage(msg types.Message) Context {
	out := c.Clone()
	out.Messages = append(out.Messages, msg)
	return out
}

// LastMessage returns the most recent message, or nil when empty.
func (c Context) LastMessage() *types.Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// LastUserContent returns the content of the most recent user message.
func (c Context) LastUserContent() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == types.RoleUser {
			return c.Messages[i].Content
		}
	}
	return ""
}

// EventType identifies a streaming event.
type EventType string

// Streaming event types, in the order a successful run emits them:
// start, then per node node_start/token*/node_complete, one usage after
// the terminal node, then end. Failures emit error then end.
const (
	EventStart        EventType = "start"
	EventNodeStart    EventType = "node_start"
	EventNodeComplete EventType = "node_complete"
	EventToken        EventType = "token"
	EventUsage        EventType = "usage"
	EventEnd          EventType = "end"
	EventError        EventType = "error"
)

// Event is one unit of streaming output.
type Event struct {
	Type          EventType              `json:"type"`
	CorrelationID string                 `json:"correlation_id"`
	Node          string                 `json:"node,omitempty"`
	Content       string                 `json:"content,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}
