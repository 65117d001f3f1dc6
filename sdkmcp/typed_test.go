package sdkmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sumArgs struct {
	X int `json:"x" jsonschema:"required,description=First addend"`
	Y int `json:"y" jsonschema:"required,description=Second addend"`
}

type searchArgs struct {
	Query   string   `json:"query" jsonschema:"required,description=Search query"`
	Filters []string `json:"filters,omitempty" jsonschema:"description=Filter criteria"`
}

type searchHit struct {
	Path string `json:"path"`
	Line int    `json:"line"`
}

func TestSchemaFor(t *testing.T) {
	var schema map[string]any
	require.NoError(t, json.Unmarshal(SchemaFor[searchArgs](), &schema))

	assert.Equal(t, "object", schema["type"])
	assert.NotContains(t, schema, "$ref")
	assert.NotContains(t, schema, "$id")
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "filters")
	assert.Equal(t, []any{"query"}, schema["required"])
}

func TestAdd_TypedTools(t *testing.T) {
	b := NewBuilder()
	Add(b, "sum", "Add two integers", func(_ context.Context, a sumArgs) (int, error) {
		return a.X + a.Y, nil
	})
	Add(b, "search", "Search files", func(_ context.Context, a searchArgs) ([]searchHit, error) {
		if a.Query == "" {
			return nil, fmt.Errorf("empty query")
		}
		return []searchHit{{Path: "main.go", Line: 12}}, nil
	})
	reg, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"sum", "search"}, reg.Names())

	res, err := reg.Call(t.Context(), "sum", json.RawMessage(`{"x":5,"y":3}`))
	require.NoError(t, err)
	assert.Equal(t, TextResult("8"), res)

	res, err = reg.Call(t.Context(), "search", json.RawMessage(`{"query":"func main"}`))
	require.NoError(t, err)
	assert.Equal(t, `[{"path":"main.go","line":12}]`, res.Content[0].Text)

	// Required field enforced by the reflected schema.
	res, err = reg.Call(t.Context(), "search", json.RawMessage(`{"filters":["*.go"]}`))
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.True(t, res.IsError)

	// Handler error.
	res, err = reg.Call(t.Context(), "search", json.RawMessage(`{"query":""}`))
	require.Error(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "empty query", res.Content[0].Text)
}

func TestAdd_ExplicitResult(t *testing.T) {
	b := NewBuilder()
	Add(b, "check", "Report a soft failure", func(context.Context, struct{}) (*CallToolResult, error) {
		return ErrorResult("lint failed: 2 issues"), nil
	})
	reg, err := b.Build()
	require.NoError(t, err)

	res, err := reg.Call(t.Context(), "check", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "lint failed: 2 issues", res.Content[0].Text)
}

func TestSchemaFor_UnnamedAndPointerTypes(t *testing.T) {
	for name, raw := range map[string]json.RawMessage{
		"empty struct": SchemaFor[struct{}](),
		"map":          SchemaFor[map[string]any](),
		"inline":       SchemaFor[struct{ N int }](),
	} {
		var schema map[string]any
		require.NoError(t, json.Unmarshal(raw, &schema), name)
		assert.Equal(t, "object", schema["type"], name)
		assert.NotContains(t, schema, "$ref", name)
	}

	var schema map[string]any
	require.NoError(t, json.Unmarshal(SchemaFor[*searchArgs](), &schema))
	assert.Equal(t, []any{"query"}, schema["required"])
	assert.Contains(t, schema["properties"], "query")
}

func TestAdd_NoArguments(t *testing.T) {
	b := NewBuilder()
	Add(b, "now", "Report a fixed time", func(context.Context, struct{}) (string, error) {
		return "noon", nil
	})
	Add(b, "keys", "Count keys", func(_ context.Context, m map[string]any) (int, error) {
		return len(m), nil
	})
	reg, err := b.Build()
	require.NoError(t, err)

	res, err := reg.Call(t.Context(), "now", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "noon", res.Content[0].Text)

	res, err = reg.Call(t.Context(), "keys", json.RawMessage(`{"a":1,"b":2}`))
	require.NoError(t, err)
	assert.Equal(t, "2", res.Content[0].Text)
}
