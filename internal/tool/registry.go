package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry holds the named tools and validates call arguments against each
// tool's declared schema before execution.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool. The tool's parameter schema must compile.
func (r *Registry) Register(t Tool) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(t.Name()+".json", bytes.NewReader(t.Parameters())); err != nil {
		return fmt.Errorf("tool %s: bad schema: %w", t.Name(), err)
	}
	schema, err := compiler.Compile(t.Name() + ".json")
	if err != nil {
		return fmt.Errorf("tool %s: bad schema: %w", t.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.schemas[t.Name()] = schema
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Subset returns a new registry holding only the named tools; unknown names
// are skipped.
func (r *Registry) Subset(names ...string) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub := NewRegistry()
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			sub.tools[name] = t
			sub.schemas[name] = r.schemas[name]
		}
	}
	return sub
}

// Execute validates input against the tool's schema and runs it. Unknown
// tools and schema violations are errors; the turn loop converts any error
// into a tool_result with isError=true.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage, tc *Context) (*Result, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}

	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return nil, fmt.Errorf("tool %s: arguments are not valid JSON: %w", name, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("tool %s: invalid arguments: %w", name, err)
	}

	return t.Execute(ctx, input, tc)
}
