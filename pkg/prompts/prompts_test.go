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
package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/warp/pkg/fault"
)

func TestPromptRenderSimple(t *testing.T) {
	p := &Prompt{
		Name:              "greeting",
		Content:           "You are ${persona}. Greet ${user}.",
		Dialect:           DialectSimple,
		RequiredVariables: []string{"persona", "user"},
	}

	got, err := p.Render(map[string]interface{}{"persona": "a librarian", "user": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "You are a librarian. Greet Ada.", got)
}

func TestPromptRenderMissingRequired(t *testing.T) {
	p := &Prompt{
		Name:              "greeting",
		Content:           "Hello ${user}",
		RequiredVariables: []string{"user"},
	}

	_, err := p.Render(map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Validation))
	assert.Contains(t, err.Error(), `"user"`)
}

func TestPromptRenderLogicDialect(t *testing.T) {
	p := &Prompt{
		Name:    "conditional",
		Content: "{{if .verbose}}Explain in detail.{{else}}Be brief.{{end}}",
		Dialect: DialectLogic,
	}

	got, err := p.Render(map[string]interface{}{"verbose": true})
	require.NoError(t, err)
	assert.Equal(t, "Explain in detail.", got)

	got, err = p.Render(map[string]interface{}{"verbose": false})
	require.NoError(t, err)
	assert.Equal(t, "Be brief.", got)
}

func TestPromptRenderMoustacheDialect(t *testing.T) {
	p := &Prompt{
		Name:    "moustache",
		Content: "Summarize for {{ audience }} in {{tone}} tone.",
		Dialect: DialectMoustache,
	}

	got, err := p.Render(map[string]interface{}{"audience": "executives", "tone": "neutral"})
	require.NoError(t, err)
	assert.Equal(t, "Summarize for executives in neutral tone.", got)
}

func TestPromptInputSchema(t *testing.T) {
	p := &Prompt{
		Name:    "typed",
		Content: "Analyze ${dataset}",
		InputSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"dataset"},
			"properties": map[string]interface{}{
				"dataset": map[string]interface{}{"type": "string", "minLength": 1},
			},
		},
	}

	_, err := p.Render(map[string]interface{}{"dataset": "sales_2026"})
	require.NoError(t, err)

	_, err = p.Render(map[string]interface{}{"dataset": 42})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Validation))
}

func TestPromptValidateOutput(t *testing.T) {
	p := &Prompt{
		Name: "structured",
		OutputSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"answer"},
			"properties": map[string]interface{}{
				"answer": map[string]interface{}{"type": "string"},
			},
		},
	}

	require.NoError(t, p.ValidateOutput(map[string]interface{}{"answer": "42"}))
	require.Error(t, p.ValidateOutput(map[string]interface{}{"verdict": "yes"}))

	unconstrained := &Prompt{Name: "free"}
	require.NoError(t, unconstrained.ValidateOutput("anything"))
}
