// Package builtin provides a small set of always-available ToolAdapter
// implementations, in the spirit of the teacher's cmd/demo stub planner:
// enough to exercise the full tool-call pipeline end to end without a real
// external tool backend.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

func mustCompile(id, schemaJSON string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(id, strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("builtin: invalid schema %q: %v", id, err))
	}
	schema, err := compiler.Compile(id)
	if err != nil {
		panic(fmt.Sprintf("builtin: compile schema %q: %v", id, err))
	}
	return schema
}

// Echo returns the arguments it was called with, unchanged. Useful for
// exercising the tool-call pipeline (auth, policy, dispatch, timeout) with
// no external dependency.
type Echo struct {
	schema *jsonschema.Schema
}

// NewEcho constructs the echo adapter.
func NewEcho() *Echo {
	return &Echo{schema: mustCompile("echo.json", `{
		"type": "object",
		"properties": {"message": {"type": "string"}},
		"required": ["message"]
	}`)}
}

func (e *Echo) Name() string                 { return "echo" }
func (e *Echo) Schema() *jsonschema.Schema   { return e.schema }
func (e *Echo) Call(ctx context.Context, arguments map[string]any) (any, error) {
	return arguments, nil
}

// Clock returns the current time, formatted per the requested layout (or
// RFC3339 if omitted).
type Clock struct {
	schema *jsonschema.Schema
	now    func() time.Time
}

// NewClock constructs the clock adapter.
func NewClock() *Clock {
	return &Clock{
		schema: mustCompile("clock.json", `{
			"type": "object",
			"properties": {"layout": {"type": "string"}}
		}`),
		now: time.Now,
	}
}

func (c *Clock) Name() string               { return "clock" }
func (c *Clock) Schema() *jsonschema.Schema { return c.schema }
func (c *Clock) Call(ctx context.Context, arguments map[string]any) (any, error) {
	layout := time.RFC3339
	if v, ok := arguments["layout"].(string); ok && v != "" {
		layout = v
	}
	return map[string]any{"now": c.now().Format(layout)}, nil
}
