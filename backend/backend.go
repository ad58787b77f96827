package backend

import (
	"context"
	"errors"

	"github.com/jonwraymond/toolfoundation/model"
)

// Common errors for backend operations.
var (
	ErrBackendNotFound    = errors.New("backend not found")
	ErrBackendDisabled    = errors.New("backend disabled")
	ErrToolNotFound       = errors.New("tool not found in backend")
	ErrToolExists         = errors.New("tool already registered")
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Backend is a named group of tools reachable through the gateway.
// The memory store, code runner, filesystem accessor and shell runner are
// each exposed as one Backend.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Execute and Start must honor cancellation/deadlines.
// - Errors: use ErrToolNotFound/ErrBackendDisabled/ErrBackendUnavailable where applicable.
//   Errors implementing PayloadError control their own result shape.
// - Ownership: args are read-only; returned values are caller-owned.
type Backend interface {
	// Kind returns the backend type (e.g., "local").
	Kind() string

	// Name returns the unique instance name callers address in a call's
	// "server" field.
	Name() string

	// Enabled returns whether this backend is currently enabled.
	Enabled() bool

	// ListTools returns all tools available from this backend.
	ListTools(ctx context.Context) ([]model.Tool, error)

	// Execute invokes a tool on this backend.
	Execute(ctx context.Context, tool string, args map[string]any) (any, error)

	// Start prepares the backend (schema creation, connectivity checks).
	Start(ctx context.Context) error

	// Stop releases backend resources.
	Stop() error
}

// Info contains metadata about a backend.
type Info struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description,omitempty"`
	Tools       int    `json:"tools"`
}
