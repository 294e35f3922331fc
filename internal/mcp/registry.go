// Package mcp serves the mirrored dataset to a tool-calling agent over
// stdio: line-delimited JSON-RPC 2.0 with the initialize / tools/list /
// tools/call methods. All logging goes to stderr; stdout carries frames.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Handler executes one tool call with already validated arguments.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is one registered operation: its wire description plus the compiled
// parameter schema used to validate arguments before dispatch.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage

	schema  *jsonschema.Schema
	handler Handler
}

// Registry holds the tool set. Registration happens once at startup; lookups
// afterwards are read-only.
type Registry struct {
	tools map[string]*Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register compiles the tool's parameter schema and adds it to the set.
func (r *Registry) Register(name, description, schema string, handler Handler) error {
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("tool %s registered twice", name)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schema))
	if err != nil {
		return fmt.Errorf("tool %s: parse schema: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	resource := "zenmirror:///tools/" + name + ".json"
	if err := compiler.AddResource(resource, doc); err != nil {
		return fmt.Errorf("tool %s: add schema resource: %w", name, err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", name, err)
	}

	r.tools[name] = &Tool{
		Name:        name,
		Description: description,
		InputSchema: json.RawMessage(schema),
		schema:      compiled,
		handler:     handler,
	}
	return nil
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call validates the arguments against the tool's schema and dispatches.
// Unknown tools and schema violations are reported as *CallError so the
// server can map them to the right JSON-RPC error codes.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, &CallError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown tool %q", name)}
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return nil, &CallError{Code: CodeInvalidParams, Message: fmt.Sprintf("arguments are not valid JSON: %v", err)}
	}
	if err := tool.schema.Validate(inst); err != nil {
		return nil, &CallError{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid arguments: %v", err)}
	}
	return tool.handler(ctx, args)
}

// JSON-RPC error codes used by the server.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// CallError is a protocol-level failure of a tool call, as opposed to a
// domain error which is reported inside the tool result.
type CallError struct {
	Code    int
	Message string
}

func (e *CallError) Error() string { return e.Message }
