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
package tool

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewClock()))
	require.NoError(t, r.Register(NewCalculator()))

	// Duplicate and degenerate registrations fail.
	assert.Error(t, r.Register(NewClock()))
	assert.Error(t, r.Register(nil))

	assert.Equal(t, []string{"calculator", "clock"}, r.Names())
	assert.Equal(t, 2, r.Count())

	got, ok := r.Get("calculator")
	require.True(t, ok)
	assert.Equal(t, "calculator", got.Name())

	assert.True(t, r.Unregister("clock"))
	assert.False(t, r.Unregister("clock"))
	assert.False(t, r.IsRegistered("clock"))
}

func TestLoaderLazyConstruction(t *testing.T) {
	l := NewLoader(nil, nil)
	built := 0
	require.NoError(t, l.Add(Descriptor{
		Name: "counted",
		Constructor: func(map[string]interface{}) (Tool, error) {
			built++
			return NewEcho(), nil
		},
	}))

	assert.Equal(t, 0, built, "Add must not construct")
	assert.False(t, l.Registry().IsRegistered("counted"))

	tools := l.Tools("counted")
	require.Len(t, tools, 1)
	assert.Equal(t, 1, built)

	// Second request hits the registry cache.
	l.Tools("counted")
	assert.Equal(t, 1, built)
}

func TestLoaderUnknownAndFailing(t *testing.T) {
	l := NewLoader(nil, nil)
	require.NoError(t, l.Add(Descriptor{
		Name: "broken",
		Constructor: func(map[string]interface{}) (Tool, error) {
			return nil, fmt.Errorf("no backend")
		},
	}))

	// Unknown and failing names are skipped, not fatal.
	tools := l.Tools("broken", "ghost")
	assert.Empty(t, tools)

	stats := l.Stats()
	assert.Equal(t, 1, stats.Registered)
	assert.Equal(t, 0, stats.Loaded)
	assert.Equal(t, 1, stats.LoadErrors)
}

func TestLoaderDuplicateDescriptor(t *testing.T) {
	l := NewLoader(nil, nil)
	desc := Descriptor{
		Name:        "echo",
		Constructor: func(map[string]interface{}) (Tool, error) { return NewEcho(), nil },
	}
	require.NoError(t, l.Add(desc))
	assert.Error(t, l.Add(desc))
	assert.Error(t, l.Add(Descriptor{Name: "anon"}))
}

func TestBuiltinDescriptors(t *testing.T) {
	l := NewLoader(nil, nil)
	for _, desc := range BuiltinDescriptors("") {
		require.NoError(t, l.Add(desc))
	}

	tools := l.Tools()
	names := make([]string, len(tools))
	for i, tl := range tools {
		names[i] = tl.Name()
	}
	assert.Equal(t, []string{"calculator", "clock", "echo"}, names)

	// A file root adds the jailed file manager.
	withFiles := NewLoader(nil, nil)
	for _, desc := range BuiltinDescriptors(t.TempDir()) {
		require.NoError(t, withFiles.Add(desc))
	}
	stats := withFiles.Stats()
	assert.Equal(t, 4, stats.Registered)
}
