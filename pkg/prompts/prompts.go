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

// Package prompts provides reusable prompt definitions and safe placeholder
// substitution for every template the engine renders.
package prompts

import (
	"strings"
	"text/template"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/teradata-labs/warp/pkg/fault"
)

// Dialect selects the rendering strategy for a prompt.
type Dialect string

const (
	// DialectSimple is pure ${name} textual substitution.
	DialectSimple Dialect = "simple"

	// DialectLogic renders through text/template, allowing conditionals and
	// ranges but no function calls beyond the built-in comparison operators.
	DialectLogic Dialect = "logic"

	// DialectMoustache accepts {{name}} placeholders and rewrites them to
	// the simple dialect before rendering.
	DialectMoustache Dialect = "moustache"
)

// ChainStep is one stage of a pipeline prompt. Steps run in order; each
// step's output is bound to OutputVar for the steps after it.
type ChainStep struct {
	Name      string `json:"name" yaml:"name"`
	Prompt    string `json:"prompt" yaml:"prompt"`
	OutputVar string `json:"output_var" yaml:"output_var"`
}

// Prompt is a reusable rendering unit.
type Prompt struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Content string  `json:"content"`
	Dialect Dialect `json:"dialect"`

	// Variables declares every placeholder the content references;
	// RequiredVariables must be present at render time.
	Variables         []string `json:"variables,omitempty"`
	RequiredVariables []string `json:"required_variables,omitempty"`

	// InputSchema and OutputSchema optionally validate render inputs and
	// model outputs as JSON schemas.
	InputSchema  map[string]interface{} `json:"input_schema,omitempty"`
	OutputSchema map[string]interface{} `json:"output_schema,omitempty"`

	// ChainSteps turns the prompt into a pipeline when non-empty.
	ChainSteps []ChainStep `json:"chain_steps,omitempty"`

	Version   string    `json:"version,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Render produces the prompt text for the given variables, enforcing
// required variables and the input schema when declared.
func (p *Prompt) Render(vars map[string]interface{}) (string, error) {
	for _, name := range p.RequiredVariables {
		if _, ok := vars[name]; !ok {
			return "", fault.New(fault.Validation, "prompt %q missing required variable %q", p.Name, name)
		}
	}

	if p.InputSchema != nil {
		if err := validateSchema(p.InputSchema, vars); err != nil {
			return "", fault.Wrap(fault.Validation, err, "prompt %q input rejected", p.Name)
		}
	}

	switch p.Dialect {
	case DialectLogic:
		return renderLogic(p.Name, p.Content, vars)
	case DialectMoustache:
		return Render(moustacheToSimple(p.Content), vars)
	default:
		return Render(p.Content, vars)
	}
}

// ValidateOutput checks a model response against the prompt's output schema.
// Prompts without an output schema accept anything.
func (p *Prompt) ValidateOutput(output interface{}) error {
	if p.OutputSchema == nil {
		return nil
	}
	if err := validateSchema(p.OutputSchema, output); err != nil {
		return fault.Wrap(fault.Validation, err, "prompt %q output rejected", p.Name)
	}
	return nil
}

func validateSchema(schema map[string]interface{}, doc interface{}) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fault.Wrap(fault.Validation, err, "schema validation failed")
	}
	if !result.Valid() {
		details := make([]string, len(result.Errors()))
		for i, verr := range result.Errors() {
			details[i] = verr.String()
		}
		return fault.New(fault.Validation, "schema violations: %s", strings.Join(details, "; "))
	}
	return nil
}

// renderLogic evaluates the logic dialect through text/template. The
// template has no registered functions, so content is limited to field
// access, conditionals, and ranges.
func renderLogic(name, content string, vars map[string]interface{}) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(content)
	if err != nil {
		return "", fault.Wrap(fault.Validation, err, "prompt %q failed to parse", name)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, vars); err != nil {
		return "", fault.Wrap(fault.Validation, err, "prompt %q failed to render", name)
	}
	return out.String(), nil
}

// moustacheToSimple rewrites {{name}} placeholders into ${name} so the
// moustache dialect shares the simple renderer and its value checks.
func moustacheToSimple(content string) string {
	var out strings.Builder
	out.Grow(len(content))
	for i := 0; i < len(content); {
		if i+1 < len(content) && content[i] == '{' && content[i+1] == '{' {
			end := strings.Index(content[i+2:], "}}")
			if end >= 0 {
				name := strings.TrimSpace(content[i+2 : i+2+end])
				out.WriteString("${" + name + "}")
				i += 4 + end
				continue
			}
		}
		out.WriteByte(content[i])
		i++
	}
	return out.String()
}
