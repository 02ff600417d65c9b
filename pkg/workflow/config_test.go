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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/warp/pkg/fault"
)

func TestParseMode(t *testing.T) {
	for _, tag := range []string{"plain", "rag", "tools", "full"} {
		m, ok := ParseMode(tag)
		assert.True(t, ok, tag)
		assert.Equal(t, Mode(tag), m)
	}

	m, ok := ParseMode("bogus")
	assert.False(t, ok)
	assert.Equal(t, ModePlain, m)
}

func TestParseConfigFull(t *testing.T) {
	cfg, err := ParseConfig(ModeFull, map[string]interface{}{
		"system_message":       "You are helpful.",
		"enable_memory":        true,
		"memory_window":        10,
		"max_tool_calls":       3,
		"max_documents":        float64(7), // JSON numbers decode as float64
		"similarity_threshold": 0.4,
		"tools":                []interface{}{"calculator", "clock"},
	})
	require.NoError(t, err)

	assert.Equal(t, "You are helpful.", cfg.SystemMessage)
	assert.True(t, cfg.EnableMemory)
	assert.Equal(t, 10, cfg.MemoryWindow)
	assert.Equal(t, 3, cfg.MaxToolCalls)
	assert.Equal(t, 7, cfg.MaxDocuments)
	assert.InDelta(t, 0.4, cfg.SimilarityThreshold, 1e-9)
	assert.Equal(t, []string{"calculator", "clock"}, cfg.Tools)
}

func TestParseConfigRejectsUnknownKey(t *testing.T) {
	_, err := ParseConfig(ModePlain, map[string]interface{}{"max_depth": 3})
	require.Error(t, err)
	assert.Equal(t, fault.Configuration, fault.KindOf(err))
	assert.Contains(t, err.Error(), "max_depth")
}

func TestParseConfigRejectsWrongModeKeys(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		raw  map[string]interface{}
	}{
		{"tools option in plain", ModePlain, map[string]interface{}{"tools": []string{"x"}}},
		{"max_tool_calls in rag", ModeRAG, map[string]interface{}{"max_tool_calls": 2}},
		{"max_documents in tools", ModeTools, map[string]interface{}{"max_documents": 2}},
		{"similarity_threshold in plain", ModePlain, map[string]interface{}{"similarity_threshold": 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(tt.mode, tt.raw)
			require.Error(t, err)
			assert.Equal(t, fault.Configuration, fault.KindOf(err))
		})
	}
}

func TestParseConfigBounds(t *testing.T) {
	_, err := ParseConfig(ModePlain, map[string]interface{}{"memory_window": 0})
	require.Error(t, err)

	_, err = ParseConfig(ModeTools, map[string]interface{}{"max_tool_calls": 0})
	require.Error(t, err)

	_, err = ParseConfig(ModeRAG, map[string]interface{}{"similarity_threshold": 1.5})
	require.Error(t, err)

	_, err = ParseConfig(ModeRAG, map[string]interface{}{"max_documents": 1.5})
	require.Error(t, err)
}

func TestParseConfigTypeErrors(t *testing.T) {
	_, err := ParseConfig(ModePlain, map[string]interface{}{"system_message": 42})
	require.Error(t, err)

	_, err = ParseConfig(ModePlain, map[string]interface{}{"enable_memory": "yes"})
	require.Error(t, err)

	_, err = ParseConfig(ModeTools, map[string]interface{}{"tools": []interface{}{"ok", 3}})
	require.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultMemoryWindow, cfg.MemoryWindow)
	assert.Equal(t, DefaultMaxToolCalls, cfg.MaxToolCalls)
	assert.Equal(t, DefaultMaxDocuments, cfg.MaxDocuments)
}
