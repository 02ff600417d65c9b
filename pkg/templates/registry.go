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

// Package templates holds the named workflow template catalog: reusable
// mode + config + requirement bundles a chat request can reference
// instead of spelling out a dynamic workflow.
package templates

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/fault"
	"github.com/teradata-labs/warp/pkg/workflow"
)

// Template describes a reusable workflow shape.
type Template struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Mode        workflow.Mode   `yaml:"mode"`
	Defaults    workflow.Config `yaml:"defaults"`

	// RequiredTools and RequiredRetrievers must be resolvable at create
	// time; CreateFromTemplate fails with Configuration otherwise.
	RequiredTools      []string `yaml:"required_tools"`
	RequiredRetrievers []string `yaml:"required_retrievers"`

	SystemPrompt string `yaml:"system_prompt"`
}

// Validation reports which template requirements are unmet.
type Validation struct {
	Valid             bool
	MissingTools      []string
	MissingRetrievers []string
}

// Registry is a concurrency-safe template catalog.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
	logger    *zap.Logger
}

// NewRegistry creates a catalog with the built-in templates registered.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		templates: make(map[string]*Template),
		logger:    logger,
	}
	for _, tpl := range Builtins() {
		r.Register(tpl)
	}
	return r
}

// Register adds or replaces a template. Registration validates the name
// and normalises the mode (unknown tags fall back to plain).
func (r *Registry) Register(tpl *Template) error {
	if tpl == nil || strings.TrimSpace(tpl.Name) == "" {
		return fault.New(fault.Validation, "template requires a name")
	}
	if mode, ok := workflow.ParseMode(string(tpl.Mode)); !ok {
		r.logger.Warn("template declares unknown mode, using plain",
			zap.String("template", tpl.Name),
			zap.String("mode", string(tpl.Mode)))
		tpl.Mode = mode
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[tpl.Name] = tpl
	return nil
}

// Unregister removes a template by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.templates, name)
}

// Get returns the named template.
func (r *Registry) Get(name string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.templates[name]
	if !ok {
		return nil, fault.New(fault.NotFound, "template %q not found", name)
	}
	return tpl, nil
}

// List returns all templates sorted by name.
func (r *Registry) List() []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Template, 0, len(r.templates))
	for _, tpl := range r.templates {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValidateRequirements checks tpl's requirements against the available
// tool and retriever names.
func ValidateRequirements(tpl *Template, availableTools, availableRetrievers []string) Validation {
	v := Validation{Valid: true}
	toolSet := toSet(availableTools)
	retrieverSet := toSet(availableRetrievers)

	for _, name := range tpl.RequiredTools {
		if !toolSet[name] {
			v.MissingTools = append(v.MissingTools, name)
			v.Valid = false
		}
	}
	for _, name := range tpl.RequiredRetrievers {
		if !retrieverSet[name] {
			v.MissingRetrievers = append(v.MissingRetrievers, name)
			v.Valid = false
		}
	}
	return v
}

// CreateFromTemplate resolves name and builds a workflow from it:
// overrides merge over the template defaults, and the builder receives
// the template's system prompt when the overrides carry none.
func (r *Registry) CreateFromTemplate(ctx context.Context, name string, builder *workflow.Builder, overrides workflow.Config) (*workflow.Workflow, error) {
	tpl, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	availableTools := make([]string, 0, len(builder.Tools))
	for _, t := range builder.Tools {
		availableTools = append(availableTools, t.Name())
	}
	var availableRetrievers []string
	if builder.Retriever != nil {
		availableRetrievers = append(availableRetrievers, builder.Retriever.Name())
	}

	if v := ValidateRequirements(tpl, availableTools, availableRetrievers); !v.Valid {
		missing := append(append([]string(nil), v.MissingTools...), v.MissingRetrievers...)
		return nil, fault.New(fault.Configuration,
			"template %q requirements not met: missing %s", name, strings.Join(missing, ", ")).
			WithDetail("missing_tools", v.MissingTools).
			WithDetail("missing_retrievers", v.MissingRetrievers)
	}

	cfg := mergeConfig(tpl.Defaults, overrides)
	if cfg.SystemMessage == "" {
		cfg.SystemMessage = tpl.SystemPrompt
	}
	return builder.Build(tpl.Mode, cfg)
}

// mergeConfig lays overrides over defaults; zero values keep the default.
func mergeConfig(defaults, overrides workflow.Config) workflow.Config {
	out := defaults
	if overrides.SystemMessage != "" {
		out.SystemMessage = overrides.SystemMessage
	}
	if overrides.EnableMemory {
		out.EnableMemory = true
	}
	if overrides.MemoryWindow > 0 {
		out.MemoryWindow = overrides.MemoryWindow
	}
	if overrides.MaxToolCalls > 0 {
		out.MaxToolCalls = overrides.MaxToolCalls
	}
	if overrides.MaxDocuments > 0 {
		out.MaxDocuments = overrides.MaxDocuments
	}
	if overrides.SimilarityThreshold > 0 {
		out.SimilarityThreshold = overrides.SimilarityThreshold
	}
	if len(overrides.Tools) > 0 {
		out.Tools = append([]string(nil), overrides.Tools...)
	}
	return out
}

func toSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}
