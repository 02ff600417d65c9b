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

// Package chat is the orchestration layer: it turns a chat request into a
// compiled workflow run, wiring storage, providers, tools, security,
// caching and metrics together. Every dependency is injected through
// Config; the package holds no globals.
package chat

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/teradata-labs/warp/pkg/fault"
	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/observability"
	"github.com/teradata-labs/warp/pkg/retrieval"
	"github.com/teradata-labs/warp/pkg/security"
	"github.com/teradata-labs/warp/pkg/storage"
	"github.com/teradata-labs/warp/pkg/templates"
	"github.com/teradata-labs/warp/pkg/tool"
	"github.com/teradata-labs/warp/pkg/types"
	"github.com/teradata-labs/warp/pkg/workflow"
)

// Request bounds, mirrored by the storage layer.
const (
	MaxMessageLength     = storage.MaxMessageLength
	DefaultHistoryWindow = 50
)

// Transient failures are retried with capped exponential backoff.
const (
	retryAttempts       = 3
	retryInitialBackoff = 100 * time.Millisecond
	retryMultiplier     = 2.0
	retryMaxBackoff     = 5 * time.Second
)

// Config wires the orchestrator's dependencies. Store and Providers are
// required; everything else degrades gracefully when absent.
type Config struct {
	Store     *storage.Store
	Providers *llm.Registry
	Tools     *tool.Registry
	Security  *security.Manager
	Cache     *workflow.Cache
	Templates *templates.Registry
	Collector *observability.Collector
	Retriever retrieval.Retriever
	Tracer    observability.Tracer
	Prom      *observability.PromMetrics
	Logger    *zap.Logger

	// DefaultProvider and DefaultModel apply when neither the request nor
	// the conversation names a provider.
	DefaultProvider string
	DefaultModel    string

	// HistoryWindow is how many recent messages seed the run context
	// (default 50).
	HistoryWindow int

	// RunTimeout bounds each workflow run; zero leaves the caller's ctx in
	// charge.
	RunTimeout time.Duration

	// QueueSize is the streaming event channel capacity.
	QueueSize int
}

// Orchestrator coordinates one chat turn end to end.
type Orchestrator struct {
	store     *storage.Store
	providers *llm.Registry
	tools     *tool.Registry
	security  *security.Manager
	cache     *workflow.Cache
	templates *templates.Registry
	collector *observability.Collector
	retriever retrieval.Retriever
	tracer    observability.Tracer
	logger    *zap.Logger

	executor *workflow.Executor
	builds   singleflight.Group

	defaultProvider string
	defaultModel    string
	historyWindow   int

	// sleepFn is swapped in retry tests.
	sleepFn func(time.Duration)
}

// New creates an orchestrator from cfg.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fault.New(fault.Configuration, "chat orchestrator requires a store")
	}
	if cfg.Providers == nil {
		return nil, fault.New(fault.Configuration, "chat orchestrator requires a provider registry")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Cache == nil {
		cfg.Cache = workflow.NewCache(workflow.DefaultCacheCapacity)
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}

	return &Orchestrator{
		store:     cfg.Store,
		providers: cfg.Providers,
		tools:     cfg.Tools,
		security:  cfg.Security,
		cache:     cfg.Cache,
		templates: cfg.Templates,
		collector: cfg.Collector,
		retriever: cfg.Retriever,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger,
		executor: workflow.NewExecutor(workflow.ExecutorConfig{
			QueueSize: cfg.QueueSize,
			Timeout:   cfg.RunTimeout,
			Tracer:    cfg.Tracer,
			Prom:      cfg.Prom,
			Logger:    cfg.Logger,
		}),
		defaultProvider: cfg.DefaultProvider,
		defaultModel:    cfg.DefaultModel,
		historyWindow:   cfg.HistoryWindow,
		sleepFn:         time.Sleep,
	}, nil
}

// ChatRequest is one chat turn. The workflow source is, in precedence
// order: Template, Definition, or a dynamic Mode plus feature flags.
type ChatRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`

	// Template names a catalog template. Definition is an inline workflow
	// config map (mode under the "mode" key). When both are set the
	// template wins.
	Template   string                 `json:"template,omitempty"`
	Definition map[string]interface{} `json:"definition,omitempty"`

	// Mode requests a dynamic workflow (plain, rag, tools, full).
	Mode string `json:"mode,omitempty"`

	// Overrides.
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`

	// Feature flags for dynamic workflows; nil keeps conversation and
	// mode defaults.
	EnableRetrieval *bool    `json:"enable_retrieval,omitempty"`
	EnableTools     *bool    `json:"enable_tools,omitempty"`
	EnableMemory    *bool    `json:"enable_memory,omitempty"`
	AllowedTools    []string `json:"allowed_tools,omitempty"`
}

// ChatResponse is the synchronous chat result.
type ChatResponse struct {
	ConversationID string      `json:"conversation_id"`
	MessageID      string      `json:"message_id"`
	Content        string      `json:"content"`
	Usage          types.Usage `json:"usage"`
}

func validateRequest(req ChatRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return fault.New(fault.Validation, "user_id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return fault.New(fault.Validation, "message is required")
	}
	if len(req.Message) > MaxMessageLength {
		return fault.New(fault.Validation, "message exceeds %d characters", MaxMessageLength)
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > storage.MaxTemperature) {
		return fault.New(fault.Validation, "temperature %.2f outside [0, %.0f]",
			*req.Temperature, storage.MaxTemperature)
	}
	if req.MaxTokens != 0 && (req.MaxTokens < 1 || req.MaxTokens > storage.MaxTokensCeiling) {
		return fault.New(fault.Validation, "max_tokens %d outside [1, %d]",
			req.MaxTokens, storage.MaxTokensCeiling)
	}
	return nil
}
