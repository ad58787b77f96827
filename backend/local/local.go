// Package local provides an in-process backend built from a table of tool
// handlers. Every backend the gateway ships is a local backend.
package local

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jonwraymond/toolfoundation/model"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jonwraymond/toolgate/backend"
)

// HandlerFunc is the function signature for tool handlers.
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// ToolDef defines a local tool with its handler.
type ToolDef struct {
	Name         string
	Title        string
	Description  string
	InputSchema  map[string]any
	OutputSchema map[string]any
	Annotations  *mcp.ToolAnnotations
	Tags         []string
	Handler      HandlerFunc
}

// Option configures a Backend.
type Option func(*Backend)

// WithDescription sets the backend description reported by the registry.
func WithDescription(desc string) Option {
	return func(b *Backend) { b.description = desc }
}

// OnStart sets a hook run by Start.
func OnStart(fn func(ctx context.Context) error) Option {
	return func(b *Backend) { b.onStart = fn }
}

// OnStop sets a hook run by Stop.
func OnStop(fn func() error) Option {
	return func(b *Backend) { b.onStop = fn }
}

// Backend implements the backend.Backend interface for local tool handlers.
type Backend struct {
	name        string
	description string
	enabled     bool
	handlers    map[string]ToolDef
	onStart     func(ctx context.Context) error
	onStop      func() error
	mu          sync.RWMutex
}

// New creates a new local backend.
func New(name string, opts ...Option) *Backend {
	b := &Backend{
		name:     name,
		enabled:  true,
		handlers: make(map[string]ToolDef),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Kind returns the backend kind.
func (b *Backend) Kind() string {
	return "local"
}

// Name returns the backend instance name.
func (b *Backend) Name() string {
	return b.name
}

// Description returns the backend description.
func (b *Backend) Description() string {
	return b.description
}

// Enabled returns whether the backend is enabled.
func (b *Backend) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

// SetEnabled enables or disables the backend.
func (b *Backend) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

// RegisterHandler registers a tool handler. Tool names must be non-blank and
// unique within the backend.
func (b *Backend) RegisterHandler(name string, def ToolDef) error {
	if def.Name == "" {
		def.Name = name
	}
	if strings.TrimSpace(name) == "" || def.Name != name {
		return fmt.Errorf("local backend %s: invalid tool name %q", b.name, name)
	}
	if def.Handler == nil {
		return fmt.Errorf("local backend %s: tool %s has no handler", b.name, name)
	}
	if def.InputSchema == nil {
		def.InputSchema = map[string]any{"type": "object"}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[name]; exists {
		return fmt.Errorf("%w: %s/%s", backend.ErrToolExists, b.name, name)
	}
	b.handlers[name] = def
	return nil
}

// MustRegister is RegisterHandler for static tool tables; it panics on error.
func (b *Backend) MustRegister(defs ...ToolDef) {
	for _, def := range defs {
		if err := b.RegisterHandler(def.Name, def); err != nil {
			panic(err)
		}
	}
}

// UnregisterHandler removes a tool handler.
func (b *Backend) UnregisterHandler(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, name)
}

// ListTools returns tools available from this backend, sorted by name.
func (b *Backend) ListTools(_ context.Context) ([]model.Tool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.Tool, 0, len(b.handlers))
	for _, def := range b.handlers {
		tool := model.Tool{
			Tool: mcp.Tool{
				Name:        def.Name,
				Title:       def.Title,
				Description: def.Description,
				InputSchema: def.InputSchema,
				Annotations: def.Annotations,
			},
			Namespace: b.name,
			Tags:      model.NormalizeTags(def.Tags),
		}
		if def.OutputSchema != nil {
			tool.OutputSchema = def.OutputSchema
		}
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Handler returns the handler registered for tool.
func (b *Backend) Handler(tool string) (HandlerFunc, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	def, ok := b.handlers[tool]
	if !ok {
		return nil, false
	}
	return def.Handler, true
}

// Execute invokes a tool handler.
func (b *Backend) Execute(ctx context.Context, tool string, args map[string]any) (any, error) {
	b.mu.RLock()
	enabled := b.enabled
	def, ok := b.handlers[tool]
	b.mu.RUnlock()

	if !enabled {
		return nil, backend.ErrBackendDisabled
	}
	if !ok || def.Handler == nil {
		return nil, fmt.Errorf("%w: %s/%s", backend.ErrToolNotFound, b.name, tool)
	}
	return def.Handler(ctx, args)
}

// Start runs the start hook, if any.
func (b *Backend) Start(ctx context.Context) error {
	if b.onStart == nil {
		return nil
	}
	return b.onStart(ctx)
}

// Stop runs the stop hook, if any.
func (b *Backend) Stop() error {
	if b.onStop == nil {
		return nil
	}
	return b.onStop()
}
