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
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/teradata-labs/warp/pkg/fault"
)

// DefaultValueBlocklist lists fragments that substituted values may never
// contain. Values are checked case-insensitively after sanitization.
var DefaultValueBlocklist = []string{
	"<script",
	"javascript:",
	"onerror=",
	"onclick=",
	"onload=",
	"eval(",
	"exec(",
}

// RenderOptions controls placeholder substitution.
type RenderOptions struct {
	// AllowMissing leaves placeholders without a matching variable intact
	// instead of failing.
	AllowMissing bool

	// Blocklist overrides DefaultValueBlocklist when non-nil.
	Blocklist []string
}

// Render substitutes ${name} placeholders in template with values from vars.
//
// Substitution is pure textual replacement. Variable names must match
// [A-Za-z_][A-Za-z0-9_]*; a malformed placeholder fails the render. Values
// are sanitized (control characters and invalid UTF-8 stripped) and rejected
// when they contain a blocklisted fragment. "$$" produces a literal "$"; a
// "$" not followed by "{" or "$" passes through unchanged.
func Render(template string, vars map[string]interface{}) (string, error) {
	return RenderWith(template, vars, RenderOptions{})
}

// RenderWith is Render with explicit options.
func RenderWith(template string, vars map[string]interface{}, opts RenderOptions) (string, error) {
	blocklist := opts.Blocklist
	if blocklist == nil {
		blocklist = DefaultValueBlocklist
	}

	var out strings.Builder
	out.Grow(len(template))

	for i := 0; i < len(template); {
		c := template[i]
		if c != '$' {
			out.WriteByte(c)
			i++
			continue
		}

		// "$$" escapes a literal dollar.
		if i+1 < len(template) && template[i+1] == '$' {
			out.WriteByte('$')
			i += 2
			continue
		}

		// A bare "$" without "{" is literal text.
		if i+1 >= len(template) || template[i+1] != '{' {
			out.WriteByte('$')
			i++
			continue
		}

		end := strings.IndexByte(template[i+2:], '}')
		if end < 0 {
			return "", fault.New(fault.Validation, "unterminated placeholder at offset %d", i)
		}
		name := template[i+2 : i+2+end]
		if !validVarName(name) {
			return "", fault.New(fault.Validation, "invalid variable name %q in placeholder", name)
		}

		value, ok := vars[name]
		if !ok {
			if opts.AllowMissing {
				out.WriteString(template[i : i+3+end])
				i += 3 + end
				continue
			}
			return "", fault.New(fault.Validation, "missing variable %q", name)
		}

		rendered, err := renderValue(name, value, blocklist)
		if err != nil {
			return "", err
		}
		out.WriteString(rendered)
		i += 3 + end
	}

	return out.String(), nil
}

// validVarName reports whether name matches [A-Za-z_][A-Za-z0-9_]*.
func validVarName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// renderValue converts a variable value to its textual form and rejects
// values carrying blocklisted fragments. The error never echoes the value so
// secrets cannot leak through validation messages.
func renderValue(name string, value interface{}, blocklist []string) (string, error) {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []string:
		s = strings.Join(v, ", ")
	case nil:
		s = ""
	default:
		s = fmt.Sprintf("%v", v)
	}

	s = sanitize(s)

	lower := strings.ToLower(s)
	for _, fragment := range blocklist {
		if strings.Contains(lower, fragment) {
			return "", fault.New(fault.Validation, "variable %q value contains blocked fragment %q", name, fragment)
		}
	}
	return s, nil
}

// sanitize strips control characters and repairs invalid UTF-8 so a value
// cannot manipulate prompt boundaries.
func sanitize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	if !strings.ContainsFunc(s, func(r rune) bool {
		return unicode.IsControl(r) && r != '\n' && r != '\t'
	}) {
		return s
	}

	var out strings.Builder
	out.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}
