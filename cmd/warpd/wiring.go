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
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/chat"
	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/llm/anthropic"
	"github.com/teradata-labs/warp/pkg/llm/bedrock"
	"github.com/teradata-labs/warp/pkg/llm/ollama"
	"github.com/teradata-labs/warp/pkg/llm/openai"
	"github.com/teradata-labs/warp/pkg/observability"
	"github.com/teradata-labs/warp/pkg/retrieval"
	"github.com/teradata-labs/warp/pkg/security"
	"github.com/teradata-labs/warp/pkg/storage"
	"github.com/teradata-labs/warp/pkg/templates"
	"github.com/teradata-labs/warp/pkg/tool"
	"github.com/teradata-labs/warp/pkg/workflow"
)

// services is the wired application graph behind every subcommand.
type services struct {
	store     *storage.Store
	providers *llm.Registry
	tools     *tool.Registry
	loader    *tool.Loader
	security  *security.Manager
	templates *templates.Registry
	promReg   *prometheus.Registry
	collector *observability.Collector
	orch      *chat.Orchestrator
}

// buildLogger creates the production logger from the logging config.
// Stack traces only for ERROR level.
func buildLogger(cfg LoggingConfig) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()

	logLevel := zap.InfoLevel
	if cfg.Level != "" {
		if err := logLevel.UnmarshalText([]byte(cfg.Level)); err != nil {
			log.Printf("Invalid log level %q, using INFO: %v", cfg.Level, err)
		}
	}
	zapConfig.Level = zap.NewAtomicLevelAt(logLevel)

	if cfg.File != "" {
		zapConfig.OutputPaths = []string{cfg.File}
		zapConfig.ErrorOutputPaths = []string{cfg.File}
	}

	return zapConfig.Build(zap.AddStacktrace(zap.ErrorLevel))
}

// buildProviders registers every supported provider family. Construction is
// lazy; a family whose credential is absent simply fails at resolve time
// rather than at startup.
func buildProviders(cfg ProvidersConfig, logger *zap.Logger) *llm.Registry {
	registry := llm.NewRegistry(logger)

	registry.Register("anthropic", llm.Factory{
		CredentialEnv: "ANTHROPIC_API_KEY",
		New: func(model string) (llm.Provider, error) {
			return anthropic.NewClient(anthropic.Config{Model: model}), nil
		},
	})
	registry.Register("openai", llm.Factory{
		CredentialEnv: "OPENAI_API_KEY",
		New: func(model string) (llm.Provider, error) {
			return openai.NewClient(openai.Config{Model: model})
		},
	})
	// Bedrock authenticates through the AWS credential chain.
	registry.Register("bedrock", llm.Factory{
		New: func(model string) (llm.Provider, error) {
			return bedrock.NewClient(bedrock.Config{
				ModelID: model,
				Region:  cfg.BedrockRegion,
			})
		},
	})
	registry.Register("ollama", llm.Factory{
		New: func(model string) (llm.Provider, error) {
			return ollama.NewClient(ollama.Config{
				Host:  cfg.OllamaHost,
				Model: model,
			}), nil
		},
	})

	return registry
}

// buildServices wires the full graph: storage, providers, tools, security,
// templates, metrics, and the orchestrator. The returned cleanup closes the
// store.
func buildServices(cfg *Config, logger *zap.Logger) (*services, func(), error) {
	store, err := storage.Open(storage.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Logger: logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	cleanup := func() { _ = store.Close() }

	providers := buildProviders(cfg.Providers, logger)

	toolRegistry := tool.NewRegistry()
	loader := tool.NewLoader(toolRegistry, logger)
	for _, desc := range tool.BuiltinDescriptors(cfg.Tools.FileRoot) {
		if err := loader.Add(desc); err != nil {
			logger.Warn("skipping builtin tool", zap.String("tool", desc.Name), zap.Error(err))
		}
	}
	// The orchestrator reads the registry directly, so instantiate now.
	loader.Tools()

	globals := make(map[string]security.Level, len(cfg.Security.AdminUsers))
	for _, user := range cfg.Security.AdminUsers {
		globals[user] = security.LevelAdmin
	}
	secMgr := security.NewManager(security.Config{
		AuditCapacity: cfg.Security.AuditCapacity,
		GlobalLevels:  globals,
		Sink:          store,
		Logger:        logger,
	})

	tplRegistry := templates.NewRegistry(logger)
	if _, err := os.Stat(cfg.Templates.Dir); err == nil {
		loaded, err := tplRegistry.LoadDir(cfg.Templates.Dir)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("loading templates: %w", err)
		}
		logger.Info("templates loaded",
			zap.String("dir", cfg.Templates.Dir),
			zap.Int("count", loaded))
	} else {
		logger.Info("template dir absent, using built-ins only",
			zap.String("dir", cfg.Templates.Dir))
	}

	promReg := prometheus.NewRegistry()
	promMetrics := observability.NewPromMetrics(promReg)
	collector := observability.NewCollector(observability.CollectorConfig{
		Prom:   promMetrics,
		Logger: logger,
	})

	orch, err := chat.New(chat.Config{
		Store:           store,
		Providers:       providers,
		Tools:           toolRegistry,
		Security:        secMgr,
		Cache:           workflow.NewCache(cfg.Cache.Size),
		Templates:       tplRegistry,
		Collector:       collector,
		Retriever:       retrieval.NewKeywordRetriever("keyword"),
		Prom:            promMetrics,
		Logger:          logger,
		DefaultProvider: cfg.Providers.Default,
		DefaultModel:    cfg.Providers.Model,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("building orchestrator: %w", err)
	}

	return &services{
		store:     store,
		providers: providers,
		tools:     toolRegistry,
		loader:    loader,
		security:  secMgr,
		templates: tplRegistry,
		promReg:   promReg,
		collector: collector,
		orch:      orch,
	}, cleanup, nil
}
