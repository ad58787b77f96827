// Package backend defines the Backend abstraction the gateway routes tool
// calls to, plus a Registry of named backends.
//
// A backend is a named group of tools. The gateway ships four of them
// (memory, code, files, shell), each built on the local backend in
// backend/local:
//
//	registry := backend.NewRegistry()
//	registry.MustRegister(memoryBackend, codeBackend, filesBackend, shellBackend)
//
//	for _, info := range registry.Describe(ctx) {
//	    fmt.Printf("%s: %d tools\n", info.Name, info.Tools)
//	}
//
// # Error payloads
//
// Handlers return plain errors. The router converts them into result
// payloads with ErrorPayload; errors implementing PayloadError choose their
// own shape (for example {"error":"timeout"}).
package backend
