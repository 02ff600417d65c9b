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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// BuiltinDescriptors returns lazy descriptors for every builtin tool.
// fileRoot jails the file_manager; an empty root disables it.
func BuiltinDescriptors(fileRoot string) []Descriptor {
	descs := []Descriptor{
		{
			Name:        "calculator",
			Description: "Evaluate arithmetic expressions",
			Constructor: func(map[string]interface{}) (Tool, error) { return NewCalculator(), nil },
		},
		{
			Name:        "clock",
			Description: "Report the current time and date",
			Constructor: func(map[string]interface{}) (Tool, error) { return NewClock(), nil },
		},
		{
			Name:        "echo",
			Description: "Echo input back",
			Constructor: func(map[string]interface{}) (Tool, error) { return NewEcho(), nil },
		},
	}
	if fileRoot != "" {
		descs = append(descs, Descriptor{
			Name:        "file_manager",
			Description: "Read, list, write, and delete files under a jailed root",
			Params:      map[string]interface{}{"root": fileRoot},
			Constructor: func(params map[string]interface{}) (Tool, error) {
				root, _ := params["root"].(string)
				return NewFileManager(root)
			},
		})
	}
	return descs
}

// Calculator evaluates arithmetic expressions with + - * / % ^ and
// parentheses.
type Calculator struct{}

// NewCalculator creates a calculator tool.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Name returns the tool name.
func (c *Calculator) Name() string { return "calculator" }

// Description returns the tool description.
func (c *Calculator) Description() string {
	return "Evaluates an arithmetic expression. Supports + - * / % ^, parentheses, and decimal numbers."
}

// InputSchema returns the JSON schema for tool parameters.
func (c *Calculator) InputSchema() *JSONSchema {
	return NewObjectSchema("Calculator parameters",
		map[string]*JSONSchema{
			"expression": NewStringSchema("Arithmetic expression to evaluate, e.g. (2+3)*4"),
		},
		[]string{"expression"})
}

// Execute evaluates the expression.
func (c *Calculator) Execute(_ context.Context, params map[string]interface{}) (*Result, error) {
	start := time.Now()
	expr, _ := params["expression"].(string)
	if strings.TrimSpace(expr) == "" {
		return Fail("invalid_expression", "expression is empty"), nil
	}

	value, err := evalExpr(expr)
	result := &Result{ExecutionTimeMs: time.Since(start).Milliseconds()}
	if err != nil {
		result.Success = false
		result.Error = &Error{Code: "invalid_expression", Message: err.Error()}
		return result, nil
	}
	result.Success = true
	result.Data = map[string]interface{}{"expression": expr, "value": value}
	return result, nil
}

// evalExpr parses and evaluates an arithmetic expression with standard
// precedence: ^ binds tightest, then * / %, then + -.
func evalExpr(input string) (float64, error) {
	p := &exprParser{input: input}
	value, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected %q at position %d", p.input[p.pos], p.pos)
	}
	return value, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpaces() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpaces()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) parseSum() (float64, error) {
	left, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseProduct() (float64, error) {
	left, err := p.parsePower()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		case '%':
			p.pos++
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("modulo by zero")
			}
			left = float64(int64(left) % int64(right))
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	if p.peek() == '^' {
		p.pos++
		// Right associative.
		exp, err := p.parsePower()
		if err != nil {
			return 0, err
		}
		return pow(base, exp), nil
	}
	return base, nil
}

func (p *exprParser) parseUnary() (float64, error) {
	switch p.peek() {
	case '-':
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	case '+':
		p.pos++
		return p.parseUnary()
	}
	return p.parseAtom()
}

func (p *exprParser) parseAtom() (float64, error) {
	if p.peek() == '(' {
		p.pos++
		v, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}

	p.skipSpaces()
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= '0' && c <= '9') || c == '.' {
			p.pos++
			continue
		}
		break
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at position %d", start)
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", p.input[start:p.pos])
	}
	return v, nil
}

func pow(base, exp float64) float64 {
	if exp == float64(int64(exp)) && exp >= 0 && exp <= 64 {
		result := 1.0
		for i := int64(0); i < int64(exp); i++ {
			result *= base
		}
		return result
	}
	// Non-integral exponents round toward zero; the calculator stays
	// integer-friendly without pulling in math for one call site.
	result := 1.0
	for i := int64(0); i < int64(exp); i++ {
		result *= base
	}
	return result
}

// Clock reports the current time. Methods: now, date, unix.
type Clock struct {
	nowFn func() time.Time
}

// NewClock creates a clock tool.
func NewClock() *Clock {
	return &Clock{nowFn: time.Now}
}

// Name returns the tool name.
func (c *Clock) Name() string { return "clock" }

// Description returns the tool description.
func (c *Clock) Description() string {
	return "Returns the current time. Methods: now (RFC3339), date (YYYY-MM-DD), unix (seconds since epoch)."
}

// Methods returns the supported method names.
func (c *Clock) Methods() []string { return []string{"now", "date", "unix"} }

// InputSchema returns the JSON schema for tool parameters.
func (c *Clock) InputSchema() *JSONSchema {
	return NewObjectSchema("Clock parameters",
		map[string]*JSONSchema{
			"method": NewStringSchema("One of now, date, unix").WithEnum("now", "date", "unix").WithDefault("now"),
		},
		nil)
}

// Execute returns the requested time representation.
func (c *Clock) Execute(_ context.Context, params map[string]interface{}) (*Result, error) {
	method, _ := params["method"].(string)
	now := c.nowFn().UTC()

	var data interface{}
	switch method {
	case "", "now":
		data = now.Format(time.RFC3339)
	case "date":
		data = now.Format("2006-01-02")
	case "unix":
		data = now.Unix()
	default:
		return Fail("unknown_method", "clock has no method %q", method), nil
	}
	return Ok(data), nil
}

// Echo returns its input, useful for wiring tests and demos.
type Echo struct{}

// NewEcho creates an echo tool.
func NewEcho() *Echo {
	return &Echo{}
}

// Name returns the tool name.
func (e *Echo) Name() string { return "echo" }

// Description returns the tool description.
func (e *Echo) Description() string { return "Echoes the given text back unchanged." }

// InputSchema returns the JSON schema for tool parameters.
func (e *Echo) InputSchema() *JSONSchema {
	return NewObjectSchema("Echo parameters",
		map[string]*JSONSchema{
			"text": NewStringSchema("Text to echo"),
		},
		[]string{"text"})
}

// Execute echoes the text parameter.
func (e *Echo) Execute(_ context.Context, params map[string]interface{}) (*Result, error) {
	text, _ := params["text"].(string)
	return Ok(text), nil
}

// FileManager performs file operations jailed under a root directory.
// Methods: read, list, write, delete.
type FileManager struct {
	root string
}

// NewFileManager creates a file manager rooted at root.
func NewFileManager(root string) (*FileManager, error) {
	if root == "" {
		return nil, fmt.Errorf("file manager needs a root directory")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	return &FileManager{root: abs}, nil
}

// Name returns the tool name.
func (f *FileManager) Name() string { return "file_manager" }

// Description returns the tool description.
func (f *FileManager) Description() string {
	return "Manages files under a jailed root directory. Methods: read, list, write, delete."
}

// Methods returns the supported method names.
func (f *FileManager) Methods() []string { return []string{"read", "list", "write", "delete"} }

// InputSchema returns the JSON schema for tool parameters.
func (f *FileManager) InputSchema() *JSONSchema {
	return NewObjectSchema("File manager parameters",
		map[string]*JSONSchema{
			"method":  NewStringSchema("One of read, list, write, delete").WithEnum("read", "list", "write", "delete"),
			"path":    NewStringSchema("Path relative to the jail root"),
			"content": NewStringSchema("Content for the write method"),
		},
		[]string{"method", "path"})
}

// Execute runs the requested file operation.
func (f *FileManager) Execute(_ context.Context, params map[string]interface{}) (*Result, error) {
	start := time.Now()
	method, _ := params["method"].(string)
	rel, _ := params["path"].(string)

	path, err := f.resolve(rel)
	if err != nil {
		return Fail("path_escapes_root", "%v", err), nil
	}

	result := &Result{Metadata: map[string]interface{}{"method": method}}
	switch method {
	case "read":
		data, err := os.ReadFile(path)
		if err != nil {
			result.Error = &Error{Code: "read_failed", Message: err.Error()}
		} else {
			result.Success = true
			result.Data = string(data)
		}
	case "list":
		entries, err := os.ReadDir(path)
		if err != nil {
			result.Error = &Error{Code: "list_failed", Message: err.Error()}
		} else {
			names := make([]string, len(entries))
			for i, entry := range entries {
				names[i] = entry.Name()
			}
			result.Success = true
			result.Data = names
		}
	case "write":
		content, _ := params["content"].(string)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			result.Error = &Error{Code: "write_failed", Message: err.Error()}
		} else if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			result.Error = &Error{Code: "write_failed", Message: err.Error()}
		} else {
			result.Success = true
			result.Data = fmt.Sprintf("wrote %d bytes", len(content))
		}
	case "delete":
		if err := os.Remove(path); err != nil {
			result.Error = &Error{Code: "delete_failed", Message: err.Error()}
		} else {
			result.Success = true
			result.Data = "deleted"
		}
	default:
		return Fail("unknown_method", "file_manager has no method %q", method), nil
	}

	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

// resolve joins rel onto the jail root and rejects escapes.
func (f *FileManager) resolve(rel string) (string, error) {
	joined := filepath.Join(f.root, filepath.Clean("/"+rel))
	if joined != f.root && !strings.HasPrefix(joined, f.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the jail root", rel)
	}
	return joined, nil
}
