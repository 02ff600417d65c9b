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
package llm

import (
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/fault"
)

// Constructor builds a provider for the given model. An empty model selects
// the provider default.
type Constructor func(model string) (Provider, error)

// Factory describes a registered provider family.
type Factory struct {
	// New constructs a provider instance.
	New Constructor

	// CredentialEnv names the environment variable holding the API
	// credential; empty for credential-free providers (ollama).
	// Credentials are read from the process environment only and never
	// persisted.
	CredentialEnv string
}

// Registry resolves provider names to provider handles. Construction is
// lazy and memoized per (name, model); credentials are checked at resolve
// time so a missing key fails fast with ProviderUnavailable.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]Provider // name + ":" + model
	logger    *zap.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Provider),
		logger:    logger,
	}
}

// Register adds a provider family. Re-registering a name replaces the
// factory and drops its memoized instances.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[name] = factory
	for key := range r.instances {
		if providerOf(key) == name {
			delete(r.instances, key)
		}
	}
}

// Registered returns the registered provider names, sorted.
func (r *Registry) Registered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Available returns the registered providers whose credentials are present
// in the environment, sorted. Credential-free providers are always
// available.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, factory := range r.factories {
		if factory.CredentialEnv == "" || os.Getenv(factory.CredentialEnv) != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Resolve returns a provider handle for (name, model), constructing and
// memoizing it on first use. Missing registrations and missing credentials
// fail with ProviderUnavailable.
func (r *Registry) Resolve(name, model string) (Provider, error) {
	key := name + ":" + model

	r.mu.RLock()
	if p, ok := r.instances[key]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	factory, registered := r.factories[name]
	r.mu.RUnlock()

	if !registered {
		return nil, fault.New(fault.ProviderUnavailable, "provider %q is not registered", name)
	}
	if factory.CredentialEnv != "" && os.Getenv(factory.CredentialEnv) == "" {
		return nil, fault.New(fault.ProviderUnavailable,
			"provider %q requires %s in the environment", name, factory.CredentialEnv)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Lost construction races resolve to the first instance.
	if p, ok := r.instances[key]; ok {
		return p, nil
	}
	p, err := factory.New(model)
	if err != nil {
		return nil, fault.Wrap(fault.ProviderUnavailable, err, "constructing provider %q", name)
	}
	r.instances[key] = p
	r.logger.Debug("provider constructed",
		zap.String("provider", name),
		zap.String("model", p.Model()))
	return p, nil
}

func providerOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}
