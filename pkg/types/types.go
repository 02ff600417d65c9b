// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package types contains shared types used across the warp engine.
// This package breaks import cycles by providing the conversation and
// message model that pkg/storage, pkg/llm, pkg/workflow, and pkg/chat all
// depend on.
package types

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a new 26-character lexicographically sortable identifier.
// All persisted primary keys use this format so index order follows
// creation order.
func NewID() string {
	return ulid.Make().String()
}

// Role identifies the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationPaused   ConversationStatus = "paused"
	ConversationArchived ConversationStatus = "archived"
	ConversationDeleted  ConversationStatus = "deleted"
)

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationActive, ConversationPaused, ConversationArchived, ConversationDeleted:
		return true
	}
	return false
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned identifier for this call, echoed back in
	// the tool-role result message.
	ID string `json:"id"`

	// Name is the registered tool name.
	Name string `json:"name"`

	// Method selects a tool method when the tool exposes several;
	// empty means the tool's default.
	Method string `json:"method,omitempty"`

	// Arguments contains the call parameters as decoded JSON.
	Arguments map[string]interface{} `json:"arguments"`
}

// Usage tracks token consumption and cost for one model call or one
// conversation total.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// Add accumulates another usage record into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.Cost += other.Cost
}

// Message is a single entry in a conversation.
//
// (ConversationID, SequenceNumber) is unique; sequence numbers are gap-free
// per conversation starting at 1 and are assigned by the store, never by
// callers.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`
	SequenceNumber int    `json:"sequence_number"`

	// ToolCalls contains tool invocations requested by an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message to the assistant tool call it
	// answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Usage fields, populated on assistant messages only.
	Provider         string  `json:"provider,omitempty"`
	Model            string  `json:"model,omitempty"`
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	Cost             float64 `json:"cost,omitempty"`
	ResponseTimeMs   int64   `json:"response_time_ms,omitempty"`

	// Rating is a running mean over user feedback, range [0, 5].
	RatingAvg   float64 `json:"rating_avg,omitempty"`
	RatingCount int     `json:"rating_count,omitempty"`

	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Conversation is the persistent container for a message sequence.
type Conversation struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Status      ConversationStatus `json:"status"`

	// SystemPrompt overrides the workflow default when set.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// ProfileID references an agent profile applied to every run.
	ProfileID string `json:"profile_id,omitempty"`

	// Provider and Model are the conversation's preferred generation target.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`

	WorkflowConfig   map[string]interface{} `json:"workflow_config,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Tags             []string               `json:"tags,omitempty"`
	RetrievalEnabled bool                   `json:"retrieval_enabled"`

	// Counters maintained by the store.
	MessageCount int     `json:"message_count"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages is populated only when explicitly requested, sorted by
	// sequence number ascending.
	Messages []*Message `json:"messages,omitempty"`
}
