// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tool

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Constructor builds a tool instance from descriptor params.
type Constructor func(params map[string]interface{}) (Tool, error)

// Descriptor registers a tool by name without instantiating it. The
// constructor runs on first use.
type Descriptor struct {
	Name        string
	Description string
	Constructor Constructor
	Params      map[string]interface{}
}

// LoaderStats reports lazy-loading activity for observability.
type LoaderStats struct {
	// Registered is the number of known descriptors.
	Registered int

	// Loaded is the number of instantiated tools.
	Loaded int

	// LoadErrors counts failed constructor runs.
	LoadErrors int

	// LoadedNames lists instantiated tools in sorted order.
	LoadedNames []string

	// LoadTimes records constructor duration per tool.
	LoadTimes map[string]time.Duration
}

// Loader instantiates tools on demand from registered descriptors and
// caches the instances in a Registry.
type Loader struct {
	mu          sync.Mutex
	registry    *Registry
	descriptors map[string]Descriptor
	loadTimes   map[string]time.Duration
	loadErrors  int
	fullLoad    bool
	logger      *zap.Logger
}

// NewLoader creates a loader caching instances into registry.
func NewLoader(registry *Registry, logger *zap.Logger) *Loader {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		registry:    registry,
		descriptors: make(map[string]Descriptor),
		loadTimes:   make(map[string]time.Duration),
		logger:      logger,
	}
}

// Registry returns the registry holding loaded instances.
func (l *Loader) Registry() *Registry {
	return l.registry
}

// Add registers a descriptor. Adding a duplicate name is an error.
func (l *Loader) Add(desc Descriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("descriptor needs a name")
	}
	if desc.Constructor == nil {
		return fmt.Errorf("descriptor %q needs a constructor", desc.Name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.descriptors[desc.Name]; exists {
		return fmt.Errorf("descriptor %q already registered", desc.Name)
	}
	if l.registry.IsRegistered(desc.Name) {
		return fmt.Errorf("tool %q already registered as an instance", desc.Name)
	}
	l.descriptors[desc.Name] = desc
	return nil
}

// Tools returns tool instances.
//
// With required names given, only those are loaded (populating the cache on
// demand); names that are neither registered nor described are logged as
// warnings and skipped. Without names, every descriptor is loaded once and
// all registered tools are returned.
func (l *Loader) Tools(required ...string) []Tool {
	if len(required) == 0 {
		l.loadAll()
		return l.registry.List()
	}

	tools := make([]Tool, 0, len(required))
	for _, name := range required {
		if t, ok := l.registry.Get(name); ok {
			tools = append(tools, t)
			continue
		}
		t, err := l.load(name)
		if err != nil {
			l.logger.Warn("tool unavailable",
				zap.String("tool", name),
				zap.Error(err))
			continue
		}
		tools = append(tools, t)
	}
	return tools
}

// loadAll instantiates every descriptor exactly once.
func (l *Loader) loadAll() {
	l.mu.Lock()
	if l.fullLoad {
		l.mu.Unlock()
		return
	}
	l.fullLoad = true
	names := make([]string, 0, len(l.descriptors))
	for name := range l.descriptors {
		names = append(names, name)
	}
	l.mu.Unlock()

	for _, name := range names {
		if _, err := l.load(name); err != nil {
			l.logger.Warn("tool failed to load",
				zap.String("tool", name),
				zap.Error(err))
		}
	}
}

// load constructs one tool and registers the instance.
func (l *Loader) load(name string) (Tool, error) {
	l.mu.Lock()
	desc, ok := l.descriptors[name]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no tool or descriptor named %q", name)
	}

	// Another caller may have loaded it while we looked up the descriptor.
	if t, exists := l.registry.Get(name); exists {
		return t, nil
	}

	start := time.Now()
	t, err := desc.Constructor(desc.Params)
	elapsed := time.Since(start)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err != nil {
		l.loadErrors++
		return nil, fmt.Errorf("constructing %q: %w", name, err)
	}
	l.loadTimes[name] = elapsed

	if regErr := l.registry.Register(t); regErr != nil {
		// Lost a load race; the registered instance wins.
		if existing, ok := l.registry.Get(name); ok {
			return existing, nil
		}
		return nil, regErr
	}

	l.logger.Debug("tool loaded",
		zap.String("tool", name),
		zap.Duration("took", elapsed))
	return t, nil
}

// Stats returns loader activity counters.
func (l *Loader) Stats() LoaderStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := l.registry.Names()
	times := make(map[string]time.Duration, len(l.loadTimes))
	for name, d := range l.loadTimes {
		times[name] = d
	}
	sort.Strings(names)

	return LoaderStats{
		Registered:  len(l.descriptors),
		Loaded:      l.registry.Count(),
		LoadErrors:  l.loadErrors,
		LoadedNames: names,
		LoadTimes:   times,
	}
}
