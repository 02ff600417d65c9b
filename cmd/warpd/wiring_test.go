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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildServices(t *testing.T) {
	cfg := &Config{
		Database:  DatabaseConfig{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "warp.db")},
		Providers: ProvidersConfig{Default: "ollama"},
		Templates: TemplatesConfig{Dir: filepath.Join(t.TempDir(), "absent")},
	}

	svc, cleanup, err := buildServices(cfg, zap.NewNop())
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, svc.orch)
	assert.Equal(t, []string{"calculator", "clock", "echo"}, svc.tools.Names())

	// The /metrics registry carries the engine collectors; the same
	// PromMetrics instance feeds the collector and the orchestrator.
	families, err := svc.promReg.Gather()
	require.NoError(t, err)
	names := make([]string, len(families))
	for i, mf := range families {
		names[i] = mf.GetName()
	}
	assert.Contains(t, names, "warp_active_runs")
}

func TestBuildServicesRejectsBadDriver(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Driver: "oracle", DSN: "x"}}
	_, _, err := buildServices(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestBuildProvidersRegistersFamilies(t *testing.T) {
	reg := buildProviders(ProvidersConfig{}, zap.NewNop())
	assert.ElementsMatch(t,
		[]string{"anthropic", "bedrock", "ollama", "openai"},
		reg.Registered())
}
