// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package tool defines the callable tool contract, the tool registry, and
// the lazy loader that instantiates tools on first use.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Tool is an external callable invoked by the workflow engine under
// authorization.
type Tool interface {
	// Name returns the unique tool name used for registration, permission
	// grants, and model tool declarations.
	Name() string

	// Description explains what the tool does, surfaced to the model.
	Description() string

	// InputSchema describes the accepted parameters.
	InputSchema() *JSONSchema

	// Execute runs the tool. Implementations must honor ctx cancellation
	// for long operations and report failures in Result.Error rather than
	// the error return unless the invocation itself was impossible.
	Execute(ctx context.Context, params map[string]interface{}) (*Result, error)
}

// MethodTool is implemented by tools exposing multiple named methods.
// A call selects its method through the "method" parameter; tools without
// methods treat every call as their single default operation.
type MethodTool interface {
	Tool

	// Methods returns the method names the tool accepts.
	Methods() []string
}

// Result is the outcome of one tool execution.
type Result struct {
	// Success indicates whether the execution succeeded.
	Success bool `json:"success"`

	// Data contains the result payload on success.
	Data interface{} `json:"data,omitempty"`

	// Error describes the failure on non-success.
	Error *Error `json:"error,omitempty"`

	// Metadata carries execution context (timings, method, hints).
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// ExecutionTimeMs is the wall-clock execution time.
	ExecutionTimeMs int64 `json:"execution_time_ms"`
}

// Error describes a tool failure.
type Error struct {
	// Code is a stable, machine-readable failure code.
	Code string `json:"code"`

	// Message is the human-readable failure description.
	Message string `json:"message"`

	// Retryable hints whether the same call may succeed later.
	Retryable bool `json:"retryable,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Ok builds a successful result.
func Ok(data interface{}) *Result {
	return &Result{Success: true, Data: data}
}

// Fail builds a failed result.
func Fail(code, format string, args ...interface{}) *Result {
	return &Result{Success: false, Error: &Error{Code: code, Message: fmt.Sprintf(format, args...)}}
}

// JSONSchema describes tool parameters in JSON Schema terms.
type JSONSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []interface{}          `json:"enum,omitempty"`
	Default     interface{}            `json:"default,omitempty"`
	Minimum     *float64               `json:"minimum,omitempty"`
	Maximum     *float64               `json:"maximum,omitempty"`
}

// ToJSON converts the schema to JSON bytes.
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// NewObjectSchema creates an object schema with the given properties.
func NewObjectSchema(description string, properties map[string]*JSONSchema, required []string) *JSONSchema {
	return &JSONSchema{
		Type:        "object",
		Description: description,
		Properties:  properties,
		Required:    required,
	}
}

// NewStringSchema creates a string schema.
func NewStringSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "string", Description: description}
}

// NewNumberSchema creates a number schema.
func NewNumberSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "number", Description: description}
}

// NewBooleanSchema creates a boolean schema.
func NewBooleanSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "boolean", Description: description}
}

// WithEnum restricts the schema to the given values.
func (s *JSONSchema) WithEnum(values ...interface{}) *JSONSchema {
	s.Enum = values
	return s
}

// WithDefault records the default value.
func (s *JSONSchema) WithDefault(value interface{}) *JSONSchema {
	s.Default = value
	return s
}

// WithRange bounds a numeric schema.
func (s *JSONSchema) WithRange(min, max *float64) *JSONSchema {
	s.Minimum = min
	s.Maximum = max
	return s
}

// ValidateArguments validates call arguments against the tool's input
// schema. Tools without a schema accept anything.
func ValidateArguments(t Tool, arguments map[string]interface{}) error {
	schema := t.InputSchema()
	if schema == nil {
		return nil
	}

	raw, err := schema.ToJSON()
	if err != nil {
		return fmt.Errorf("encoding schema for %s: %w", t.Name(), err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(raw),
		gojsonschema.NewGoLoader(arguments),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		violations := make([]string, len(result.Errors()))
		for i, verr := range result.Errors() {
			violations[i] = verr.String()
		}
		return fmt.Errorf("invalid arguments for %s: %v", t.Name(), violations)
	}
	return nil
}
