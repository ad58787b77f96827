// Package router maps (backend, tool) pairs to handlers.
//
// The table is built once from the enabled backends of a backend.Registry
// and never changes afterwards. Resolve is a pure lookup. Call wraps a
// handler so that nothing it does can fail the caller: unknown pairs,
// handler errors and panics all come back as error-shaped results.
//
//	r, err := router.New(ctx, registry, router.WithLogger(log))
//	res := r.Call(ctx, "memory", "get_memory", map[string]any{"key": "k1"})
//
// Aliases let older clients keep their backend names; by default reina
// routes to memory, python to code and fs to files.
//
// Every routed tool is also registered in a tooldiscovery index and doc
// store, which back Tools, Search and Describe.
package router
