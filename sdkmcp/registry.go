// Package sdkmcp serves in-process MCP tools to the agent CLI. The CLI
// forwards JSON-RPC messages for "sdk" type servers over the control
// protocol; Router answers them from an immutable Registry.
package sdkmcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/jsonschema-go/jsonschema"
)

// Registry errors.
var (
	ErrDuplicateTool = errors.New("duplicate tool name")
	ErrInvalidTool   = errors.New("invalid tool definition")
	ErrToolNotFound  = errors.New("tool not found")
)

// HandlerFunc implements a tool. The returned value is rendered as the
// result text: strings verbatim, everything else JSON-encoded. Return a
// *CallToolResult to control the content directly.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// ToolDefinition describes one tool.
type ToolDefinition struct {
	Handler     HandlerFunc
	Name        string
	Description string
	// InputSchema is a JSON Schema object. Empty means any object.
	InputSchema json.RawMessage
}

// ToolInfo is the tools/list entry for a tool.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type registeredTool struct {
	def ToolDefinition
	// validator is nil when the schema could not be compiled; arguments
	// are then passed through unchecked.
	validator *jsonschema.Resolved
}

// Registry is an immutable, ordered set of tools with unique names.
// Lookups are exact and case-sensitive.
type Registry struct {
	byName map[string]*registeredTool
	order  []*registeredTool
}

var emptyObjectSchema = json.RawMessage(`{"type":"object"}`)

// NewRegistry validates defs and builds a registry. Tool names must be
// non-empty and unique; every tool needs a handler and a schema that is a
// JSON object.
func NewRegistry(defs ...ToolDefinition) (*Registry, error) {
	r := &Registry{byName: make(map[string]*registeredTool, len(defs))}
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrInvalidTool)
		}
		if def.Handler == nil {
			return nil, fmt.Errorf("%w: tool %q has no handler", ErrInvalidTool, def.Name)
		}
		if _, dup := r.byName[def.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTool, def.Name)
		}
		if len(def.InputSchema) == 0 {
			def.InputSchema = emptyObjectSchema
		}
		def.InputSchema = slices.Clone(def.InputSchema)
		var schema jsonschema.Schema
		if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("%w: tool %q schema: %v", ErrInvalidTool, def.Name, err)
		}
		t := &registeredTool{def: def}
		if resolved, err := schema.Resolve(nil); err == nil {
			t.validator = resolved
		}
		r.byName[def.Name] = t
		r.order = append(r.order, t)
	}
	return r, nil
}

// Len returns the number of tools.
func (r *Registry) Len() int { return len(r.order) }

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	for i, t := range r.order {
		names[i] = t.def.Name
	}
	return names
}

// Tools returns the tools/list entries in registration order.
func (r *Registry) Tools() []ToolInfo {
	out := make([]ToolInfo, len(r.order))
	for i, t := range r.order {
		out[i] = ToolInfo{
			Name:        t.def.Name,
			Description: t.def.Description,
			InputSchema: slices.Clone(t.def.InputSchema),
		}
	}
	return out
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (ToolDefinition, bool) {
	t, ok := r.byName[name]
	if !ok {
		return ToolDefinition{}, false
	}
	def := t.def
	def.InputSchema = slices.Clone(def.InputSchema)
	return def, true
}

// Call validates args and runs the named tool. Handler failures, invalid
// arguments and panics are reported in the result with IsError set, and
// the cause is returned as a *ToolError. The only other error is
// ErrToolNotFound.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (*CallToolResult, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}

	if t.validator != nil {
		var instance any
		if err := json.Unmarshal(args, &instance); err != nil {
			return failure(name, fmt.Errorf("invalid arguments: %w", err))
		}
		if err := t.validator.Validate(instance); err != nil {
			return failure(name, fmt.Errorf("invalid arguments: %w", err))
		}
	}

	v, err := invoke(ctx, t.def.Handler, args)
	if err != nil {
		return failure(name, err)
	}
	res, err := render(v)
	if err != nil {
		return failure(name, err)
	}
	return res, nil
}

func invoke(ctx context.Context, h HandlerFunc, args json.RawMessage) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			v, err = nil, &panicError{value: p}
		}
	}()
	return h(ctx, args)
}

func failure(name string, cause error) (*CallToolResult, error) {
	te := &ToolError{Tool: name, Cause: cause}
	return ErrorResult(cause.Error()), te
}
