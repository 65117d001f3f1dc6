package sdkmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// Builder collects tool definitions before freezing them into a Registry.
type Builder struct {
	defs []ToolDefinition
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Tool adds an untyped definition.
func (b *Builder) Tool(def ToolDefinition) *Builder {
	b.defs = append(b.defs, def)
	return b
}

// Build freezes the collected tools.
func (b *Builder) Build() (*Registry, error) {
	return NewRegistry(b.defs...)
}

// Add registers a typed tool. The input schema is reflected from T, which
// should be a struct with json and jsonschema tags:
//
//	type AddArgs struct {
//	    X int `json:"x" jsonschema:"required,description=First addend"`
//	    Y int `json:"y" jsonschema:"required,description=Second addend"`
//	}
//
//	sdkmcp.Add(b, "add", "Add two integers",
//	    func(ctx context.Context, a AddArgs) (int, error) { return a.X + a.Y, nil })
func Add[T, R any](b *Builder, name, description string, fn func(context.Context, T) (R, error)) *Builder {
	return b.Tool(ToolDefinition{
		Name:        name,
		Description: description,
		InputSchema: SchemaFor[T](),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in T
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("decode arguments for %s: %w", name, err)
			}
			return fn(ctx, in)
		},
	})
}

// SchemaFor reflects a JSON Schema for T with all definitions inlined.
// T may be a named struct, a pointer to one, or an unnamed type such as
// struct{} or map[string]any.
func SchemaFor[T any]() json.RawMessage {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		// Expansion finds the root definition by type name.
		ExpandedStruct: t.Kind() == reflect.Struct && t.Name() != "",
	}
	data, err := json.Marshal(r.ReflectFromType(t))
	if err != nil {
		panic(fmt.Sprintf("sdkmcp: schema for %s: %v", t, err))
	}
	return data
}
