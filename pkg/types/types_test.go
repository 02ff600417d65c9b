// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	id := NewID()
	require.Len(t, id, 26)

	// IDs generated later must sort after IDs generated earlier.
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = NewID()
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, sorted, ids, "ids should already be in creation order")

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleSystem, RoleUser, RoleAssistant, RoleTool} {
		assert.True(t, r.Valid(), string(r))
	}
	assert.False(t, Role("moderator").Valid())
	assert.False(t, Role("").Valid())
}

func TestConversationStatusValid(t *testing.T) {
	for _, s := range []ConversationStatus{ConversationActive, ConversationPaused, ConversationArchived, ConversationDeleted} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, ConversationStatus("frozen").Valid())
}

func TestUsageAdd(t *testing.T) {
	u := Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30, Cost: 0.001}
	u.Add(Usage{PromptTokens: 5, CompletionTokens: 7, TotalTokens: 12, Cost: 0.0005})

	assert.Equal(t, 15, u.PromptTokens)
	assert.Equal(t, 27, u.CompletionTokens)
	assert.Equal(t, 42, u.TotalTokens)
	assert.InDelta(t, 0.0015, u.Cost, 1e-9)
}

func TestProfileSuccessRate(t *testing.T) {
	p := &AgentProfile{}
	assert.Zero(t, p.SuccessRate())

	p.Interactions = 8
	p.Successes = 6
	assert.InDelta(t, 0.75, p.SuccessRate(), 1e-9)
}
