package files

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/jonwraymond/toolgate/backend/local"
)

// NewBackend exposes a as a backend with read_file and write_file tools.
// An empty name defaults to "files".
func NewBackend(a *Accessor, name string, log zerolog.Logger) *local.Backend {
	if name == "" {
		name = "files"
	}
	log = log.With().Str("backend", name).Logger()

	desc := "Read and write files"
	if a.Root() != "" {
		desc += " under " + a.Root()
	}
	b := local.New(name, local.WithDescription(desc))
	b.MustRegister(
		local.ToolDef{
			Name:        "read_file",
			Description: "Return the full contents of a file.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []any{"path"},
			},
			Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true},
			Tags:        []string{"files", "read"},
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				path, err := stringArg(args, "path")
				if err != nil {
					return nil, err
				}
				content, err := a.Read(path)
				if err != nil {
					log.Debug().Err(err).Str("path", path).Msg("read failed")
					return nil, err
				}
				return map[string]any{"content": content}, nil
			},
		},
		local.ToolDef{
			Name:        "write_file",
			Description: "Write content to a file, creating parent directories and replacing existing content.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
				"required": []any{"path"},
			},
			Annotations: &mcp.ToolAnnotations{IdempotentHint: true},
			Tags:        []string{"files", "write"},
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				path, err := stringArg(args, "path")
				if err != nil {
					return nil, err
				}
				content, err := stringArg(args, "content")
				if err != nil {
					return nil, err
				}
				if err := a.Write(path, content); err != nil {
					log.Debug().Err(err).Str("path", path).Msg("write failed")
					return nil, err
				}
				return map[string]any{"status": "written", "path": path}, nil
			},
		},
	)
	return b
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", name, v)
	}
	return s, nil
}
