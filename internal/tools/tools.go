// Package tools defines the tool interface and registry for Sanduku.
// Tools are the only surface an agent framework invokes; every failure
// mode inside a tool becomes readable text, because the consumer is a
// language model.
package tools

import (
	"context"
	"sync"
)

// Tool is the interface all Sanduku tools must implement.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "execute_code").
	Name() string

	// Description returns the usage guide sent to the calling model.
	Description() string

	// InputSchema returns a JSON Schema object describing the tool's
	// parameters, for function-calling declarations.
	InputSchema() map[string]any

	// Validate checks that params are well-formed before execution, so
	// malformed requests fail fast.
	Validate(params map[string]any) error

	// Execute runs the tool with the given parameters.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result is the outcome of a tool execution.
type Result struct {
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Success  bool           `json:"success"`
}

// Registry holds available tools keyed by name.
// Thread-safe for concurrent reads; writes should only happen at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics on duplicate names (startup config error, not runtime).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tool names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}
