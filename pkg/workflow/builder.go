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
	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/fault"
	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/retrieval"
	"github.com/teradata-labs/warp/pkg/security"
	"github.com/teradata-labs/warp/pkg/tool"
	"github.com/teradata-labs/warp/pkg/types"
)

// Workflow is a compiled node graph. Immutable after Build; mutation
// means evict from the cache and rebuild.
type Workflow struct {
	ID       string
	Mode     Mode
	Provider string
	Config   Config

	nodes    []Node
	provider llm.Provider
	security *security.Manager
	logger   *zap.Logger
}

// Nodes returns the graph's node names in execution order.
func (w *Workflow) Nodes() []string {
	names := make([]string, len(w.nodes))
	for i, n := range w.nodes {
		names[i] = n.Name()
	}
	return names
}

// Builder composes node graphs for the four workflow modes. One builder
// serves many Build calls; the produced workflows share references to the
// provider, tools and security manager but never own them.
type Builder struct {
	Provider  llm.Provider
	Retriever retrieval.Retriever
	Tools     []tool.Tool
	Security  *security.Manager
	Logger    *zap.Logger

	// Options seeds the model calls (temperature, max tokens, system
	// prompt merge happens in the orchestrator).
	Options llm.GenerateOptions
}

// Build compiles a workflow for mode with cfg. Shapes per mode:
//
//	plain: system_prompt → [memory] → model
//	rag:   system_prompt → retriever → model
//	tools: system_prompt → [memory] → model → tool_router
//	full:  system_prompt → retriever → [memory] → model → tool_router
//
// Degraded configurations build with a warning instead of failing: a rag
// workflow without a retriever skips retrieval, a tools workflow with no
// resolvable tools routes nothing.
func (b *Builder) Build(mode Mode, cfg Config) (*Workflow, error) {
	if b.Provider == nil {
		return nil, fault.New(fault.Configuration, "workflow builder requires a provider")
	}
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, known := ParseMode(string(mode)); !known {
		logger.Warn("unknown workflow mode, falling back to plain", zap.String("mode", string(mode)))
		mode = ModePlain
	}
	cfg = cfg.withDefaults()

	opts := b.Options
	toolSet := b.toolSet(cfg)
	if mode.UsesTools() {
		if len(toolSet) == 0 {
			logger.Warn("tools workflow built with no resolvable tools", zap.String("mode", string(mode)))
		}
		for _, t := range toolSet {
			opts.Tools = append(opts.Tools, t)
		}
	}
	if mode.UsesRetrieval() && b.Retriever == nil {
		logger.Warn("retrieval workflow built without a retriever", zap.String("mode", string(mode)))
	}

	var nodes []Node
	nodes = append(nodes, &SystemPromptNode{Message: cfg.SystemMessage})
	if mode.UsesRetrieval() {
		nodes = append(nodes, &RetrieverNode{
			Retriever: b.Retriever,
			MaxDocs:   cfg.MaxDocuments,
			Threshold: cfg.SimilarityThreshold,
		})
	}
	if cfg.EnableMemory {
		nodes = append(nodes, &MemoryNode{Window: cfg.MemoryWindow})
	}
	nodes = append(nodes, &ModelNode{Options: opts})
	if mode.UsesTools() {
		nodes = append(nodes, &ToolRouterNode{
			Tools:        toolSet,
			MaxToolCalls: cfg.MaxToolCalls,
			Options:      opts,
		})
	}

	return &Workflow{
		ID:       types.NewID(),
		Mode:     mode,
		Provider: b.Provider.Name(),
		Config:   cfg,
		nodes:    nodes,
		provider: b.Provider,
		security: b.Security,
		logger:   logger,
	}, nil
}

// toolSet resolves the builder's tools against the config's allowlist.
func (b *Builder) toolSet(cfg Config) map[string]tool.Tool {
	out := make(map[string]tool.Tool, len(b.Tools))
	if len(cfg.Tools) == 0 {
		for _, t := range b.Tools {
			out[t.Name()] = t
		}
		return out
	}
	byName := make(map[string]tool.Tool, len(b.Tools))
	for _, t := range b.Tools {
		byName[t.Name()] = t
	}
	for _, name := range cfg.Tools {
		if t, ok := byName[name]; ok {
			out[name] = t
		}
	}
	return out
}
