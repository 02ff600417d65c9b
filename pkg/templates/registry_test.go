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
package templates

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/warp/pkg/fault"
	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/retrieval"
	"github.com/teradata-labs/warp/pkg/tool"
	"github.com/teradata-labs/warp/pkg/types"
	"github.com/teradata-labs/warp/pkg/workflow"
)

type staticProvider struct{}

func (staticProvider) Name() string  { return "static" }
func (staticProvider) Model() string { return "m" }
func (staticProvider) Generate(ctx context.Context, messages []types.Message, opts llm.GenerateOptions) (*llm.Response, error) {
	return &llm.Response{Content: "ok"}, nil
}

type namedTool struct{ name string }

func (t namedTool) Name() string                { return t.name }
func (namedTool) Description() string           { return "test tool" }
func (namedTool) InputSchema() *tool.JSONSchema { return nil }
func (namedTool) Execute(ctx context.Context, params map[string]interface{}) (*tool.Result, error) {
	return tool.Ok("ok"), nil
}

func TestBuiltinsRegistered(t *testing.T) {
	r := NewRegistry(nil)

	for _, name := range []string{"assistant", "researcher", "operator", "analyst"} {
		tpl, err := r.Get(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, tpl.Name)
	}

	list := r.List()
	require.Len(t, list, 4)
	assert.Equal(t, "analyst", list[0].Name) // sorted
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry(nil)
	require.Error(t, r.Register(&Template{Name: "  "}))
	require.Error(t, r.Register(nil))

	// Unknown mode falls back to plain.
	require.NoError(t, r.Register(&Template{Name: "odd", Mode: "mystery"}))
	tpl, err := r.Get("odd")
	require.NoError(t, err)
	assert.Equal(t, workflow.ModePlain, tpl.Mode)
}

func TestGetMissing(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Get("nope")
	require.Error(t, err)
	assert.Equal(t, fault.NotFound, fault.KindOf(err))
}

func TestValidateRequirements(t *testing.T) {
	tpl := &Template{
		Name:               "x",
		RequiredTools:      []string{"calculator", "clock"},
		RequiredRetrievers: []string{"keyword"},
	}

	v := ValidateRequirements(tpl, []string{"calculator", "clock"}, []string{"keyword"})
	assert.True(t, v.Valid)

	v = ValidateRequirements(tpl, []string{"calculator"}, nil)
	assert.False(t, v.Valid)
	assert.Equal(t, []string{"clock"}, v.MissingTools)
	assert.Equal(t, []string{"keyword"}, v.MissingRetrievers)
}

func TestCreateFromTemplate(t *testing.T) {
	r := NewRegistry(nil)
	builder := &workflow.Builder{
		Provider:  staticProvider{},
		Retriever: retrieval.NewKeywordRetriever("keyword"),
		Tools:     []tool.Tool{namedTool{"calculator"}, namedTool{"clock"}},
	}

	wf, err := r.CreateFromTemplate(context.Background(), "operator", builder, workflow.Config{})
	require.NoError(t, err)
	assert.Equal(t, workflow.ModeTools, wf.Mode)
	assert.Equal(t, []string{"system_prompt", "model", "tool_router"}, wf.Nodes())
	// Template system prompt carried into the config.
	assert.Contains(t, wf.Config.SystemMessage, "operations assistant")
}

func TestCreateFromTemplateOverrides(t *testing.T) {
	r := NewRegistry(nil)
	builder := &workflow.Builder{Provider: staticProvider{}}

	wf, err := r.CreateFromTemplate(context.Background(), "assistant", builder, workflow.Config{
		SystemMessage: "Custom prompt.",
		MemoryWindow:  5,
	})
	require.NoError(t, err)
	assert.Equal(t, "Custom prompt.", wf.Config.SystemMessage)
	assert.Equal(t, 5, wf.Config.MemoryWindow)
	assert.True(t, wf.Config.EnableMemory, "default preserved")
}

func TestCreateFromTemplateMissingRequirements(t *testing.T) {
	r := NewRegistry(nil)
	builder := &workflow.Builder{Provider: staticProvider{}} // no tools, no retriever

	_, err := r.CreateFromTemplate(context.Background(), "analyst", builder, workflow.Config{})
	require.Error(t, err)
	assert.Equal(t, fault.Configuration, fault.KindOf(err))
	assert.Contains(t, err.Error(), "calculator")
	assert.Contains(t, err.Error(), "keyword")
}

func TestCreateFromTemplateNotFound(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.CreateFromTemplate(context.Background(), "ghost", &workflow.Builder{Provider: staticProvider{}}, workflow.Config{})
	require.Error(t, err)
	assert.Equal(t, fault.NotFound, fault.KindOf(err))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("support.yaml", `
name: support
description: Support assistant
mode: plain
system_prompt: You handle support tickets.
defaults:
  enable_memory: true
  memory_window: 10
`)
	write("broken.yaml", "mode: [unclosed")
	write("notes.txt", "not a template")

	r := NewRegistry(nil)
	loaded, err := r.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	tpl, err := r.Get("support")
	require.NoError(t, err)
	assert.True(t, tpl.Defaults.EnableMemory)
	assert.Equal(t, 10, tpl.Defaults.MemoryWindow)
}

func TestLoadDirNameDefaultsToStem(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "triage.yml"), []byte("mode: plain\n"), 0o644))

	r := NewRegistry(nil)
	_, err := r.LoadDir(dir)
	require.NoError(t, err)

	_, err = r.Get("triage")
	require.NoError(t, err)
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Watch(ctx, dir))

	path := filepath.Join(dir, "live.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: live\nmode: plain\n"), 0o644))

	require.Eventually(t, func() bool {
		_, err := r.Get("live")
		return err == nil
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		_, err := r.Get("live")
		return err != nil
	}, 3*time.Second, 50*time.Millisecond)
}
