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
	"fmt"

	"github.com/teradata-labs/warp/pkg/fault"
)

// Mode selects the graph shape a builder composes.
type Mode string

const (
	// ModePlain is system prompt + optional memory + model.
	ModePlain Mode = "plain"
	// ModeRAG adds retrieval before the model call.
	ModeRAG Mode = "rag"
	// ModeTools adds tool routing after the model call.
	ModeTools Mode = "tools"
	// ModeFull is retrieval and tool routing combined.
	ModeFull Mode = "full"
)

// ParseMode maps a tag to a Mode. Unknown tags report ok=false; callers
// fall back to plain with a warning.
func ParseMode(tag string) (Mode, bool) {
	switch Mode(tag) {
	case ModePlain, ModeRAG, ModeTools, ModeFull:
		return Mode(tag), true
	default:
		return ModePlain, false
	}
}

// UsesRetrieval reports whether the mode includes a retriever node.
func (m Mode) UsesRetrieval() bool { return m == ModeRAG || m == ModeFull }

// UsesTools reports whether the mode includes a tool router.
func (m Mode) UsesTools() bool { return m == ModeTools || m == ModeFull }

// Config holds the per-workflow options. Zero values select defaults at
// build time.
type Config struct {
	SystemMessage string `json:"system_message,omitempty" yaml:"system_message,omitempty"`

	EnableMemory bool `json:"enable_memory,omitempty" yaml:"enable_memory,omitempty"`
	MemoryWindow int  `json:"memory_window,omitempty" yaml:"memory_window,omitempty"`

	// MaxToolCalls bounds tool dispatches per run (tools/full).
	MaxToolCalls int `json:"max_tool_calls,omitempty" yaml:"max_tool_calls,omitempty"`

	// MaxDocuments and SimilarityThreshold shape retrieval (rag/full).
	MaxDocuments        int     `json:"max_documents,omitempty" yaml:"max_documents,omitempty"`
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty" yaml:"similarity_threshold,omitempty"`

	// Tools restricts the router to named tools (tools/full); empty means
	// every tool the builder was given.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// Defaults applied at build time.
const (
	DefaultMemoryWindow        = 20
	DefaultMaxToolCalls        = 5
	DefaultMaxDocuments        = 5
	DefaultSimilarityThreshold = 0.0
)

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	if c.MemoryWindow <= 0 {
		c.MemoryWindow = DefaultMemoryWindow
	}
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = DefaultMaxToolCalls
	}
	if c.MaxDocuments <= 0 {
		c.MaxDocuments = DefaultMaxDocuments
	}
	return c
}

// ParseConfig converts a raw option map (JSON/YAML shaped) into a Config
// for the given mode. Unknown keys and keys that do not apply to the mode
// are rejected with a Configuration fault; numeric values accept both
// int and float64 encodings.
func ParseConfig(mode Mode, raw map[string]interface{}) (Config, error) {
	cfg := Config{}
	for key, value := range raw {
		switch key {
		case "system_message":
			s, ok := value.(string)
			if !ok {
				return cfg, fault.New(fault.Configuration, "system_message must be a string")
			}
			cfg.SystemMessage = s
		case "enable_memory":
			b, ok := value.(bool)
			if !ok {
				return cfg, fault.New(fault.Configuration, "enable_memory must be a boolean")
			}
			cfg.EnableMemory = b
		case "memory_window":
			n, err := intOption(key, value)
			if err != nil {
				return cfg, err
			}
			if n < 1 {
				return cfg, fault.New(fault.Configuration, "memory_window must be >= 1, got %d", n)
			}
			cfg.MemoryWindow = n
		case "max_tool_calls":
			if !mode.UsesTools() {
				return cfg, fault.New(fault.Configuration, "max_tool_calls is not valid for mode %q", mode)
			}
			n, err := intOption(key, value)
			if err != nil {
				return cfg, err
			}
			if n < 1 {
				return cfg, fault.New(fault.Configuration, "max_tool_calls must be >= 1, got %d", n)
			}
			cfg.MaxToolCalls = n
		case "max_documents":
			if !mode.UsesRetrieval() {
				return cfg, fault.New(fault.Configuration, "max_documents is not valid for mode %q", mode)
			}
			n, err := intOption(key, value)
			if err != nil {
				return cfg, err
			}
			if n < 1 {
				return cfg, fault.New(fault.Configuration, "max_documents must be >= 1, got %d", n)
			}
			cfg.MaxDocuments = n
		case "similarity_threshold":
			if !mode.UsesRetrieval() {
				return cfg, fault.New(fault.Configuration, "similarity_threshold is not valid for mode %q", mode)
			}
			f, err := floatOption(key, value)
			if err != nil {
				return cfg, err
			}
			if f < 0 || f > 1 {
				return cfg, fault.New(fault.Configuration, "similarity_threshold must be in [0,1], got %v", f)
			}
			cfg.SimilarityThreshold = f
		case "tools":
			if !mode.UsesTools() {
				return cfg, fault.New(fault.Configuration, "tools is not valid for mode %q", mode)
			}
			names, err := stringSliceOption(key, value)
			if err != nil {
				return cfg, err
			}
			cfg.Tools = names
		default:
			return cfg, fault.New(fault.Configuration, "unknown workflow option %q", key)
		}
	}
	return cfg, nil
}

func intOption(key string, value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fault.New(fault.Configuration, "%s must be an integer, got %v", key, v)
		}
		return int(v), nil
	default:
		return 0, fault.New(fault.Configuration, "%s must be an integer, got %T", key, value)
	}
}

func floatOption(key string, value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fault.New(fault.Configuration, "%s must be a number, got %T", key, value)
	}
}

func stringSliceOption(key string, value interface{}) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fault.New(fault.Configuration, "%s must be a list of strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fault.New(fault.Configuration, "%s must be a list of strings, got %T", key, value)
	}
}

// canonicalMap renders the config as the map shape used for cache keys.
func (c Config) canonicalMap() map[string]interface{} {
	out := map[string]interface{}{}
	if c.SystemMessage != "" {
		out["system_message"] = c.SystemMessage
	}
	if c.EnableMemory {
		out["enable_memory"] = true
		out["memory_window"] = c.MemoryWindow
	}
	if c.MaxToolCalls > 0 {
		out["max_tool_calls"] = c.MaxToolCalls
	}
	if c.MaxDocuments > 0 {
		out["max_documents"] = c.MaxDocuments
	}
	if c.SimilarityThreshold > 0 {
		out["similarity_threshold"] = c.SimilarityThreshold
	}
	if len(c.Tools) > 0 {
		out["tools"] = fmt.Sprintf("%v", c.Tools)
	}
	return out
}
