package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/jonwraymond/toolgate/backend/local"
)

// Default per-call budgets.
const (
	DefaultCodeTimeout  = 5000 * time.Millisecond
	DefaultShellTimeout = 10000 * time.Millisecond
)

// BackendOptions configures the code and shell backends.
type BackendOptions struct {
	// Name overrides the backend name ("code" or "shell").
	Name string

	// DefaultTimeout applies when a call omits timeout_ms.
	DefaultTimeout time.Duration

	Logger zerolog.Logger
}

// NewCodeBackend exposes r as a backend with a run_code tool.
func NewCodeBackend(r *Runner, opts BackendOptions) *local.Backend {
	if opts.Name == "" {
		opts.Name = "code"
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultCodeTimeout
	}
	log := opts.Logger.With().Str("backend", opts.Name).Logger()

	b := local.New(opts.Name, local.WithDescription("Run a script with "+r.cfg.Interpreter))
	b.MustRegister(local.ToolDef{
		Name:        "run_code",
		Description: fmt.Sprintf("Run a %s script and return its stdout, stderr and exit code.", r.cfg.Interpreter),
		InputSchema: runSchema("code", "Script source", opts.DefaultTimeout),
		Annotations: &mcp.ToolAnnotations{DestructiveHint: boolPtr(true)},
		Tags:        []string{"code", "exec"},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			code, timeout, err := runArgs(args, "code", opts.DefaultTimeout)
			if err != nil {
				return nil, err
			}
			out, err := r.RunScript(ctx, code, timeout)
			return report(log, "run_code", timeout, out, err)
		},
	})
	return b
}

// NewShellBackend exposes r as a backend with a run_command tool.
func NewShellBackend(r *Runner, opts BackendOptions) *local.Backend {
	if opts.Name == "" {
		opts.Name = "shell"
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultShellTimeout
	}
	log := opts.Logger.With().Str("backend", opts.Name).Logger()

	b := local.New(opts.Name, local.WithDescription("Run command lines with "+r.cfg.Shell))
	b.MustRegister(local.ToolDef{
		Name:        "run_command",
		Description: "Run a shell command line and return its stdout, stderr and exit code.",
		InputSchema: runSchema("command", "Command line passed to the shell", opts.DefaultTimeout),
		Annotations: &mcp.ToolAnnotations{DestructiveHint: boolPtr(true)},
		Tags:        []string{"shell", "exec"},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			line, timeout, err := runArgs(args, "command", opts.DefaultTimeout)
			if err != nil {
				return nil, err
			}
			out, err := r.RunCommand(ctx, line, timeout)
			return report(log, "run_command", timeout, out, err)
		},
	})
	return b
}

func report(log zerolog.Logger, tool string, timeout time.Duration, out Outcome, err error) (any, error) {
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			log.Warn().Str("tool", tool).Dur("timeout", timeout).Msg("process killed on timeout")
		} else {
			log.Error().Err(err).Str("tool", tool).Msg("process failed")
		}
		return nil, err
	}
	log.Debug().Str("tool", tool).Int("returncode", out.ExitCode).Msg("process finished")
	return map[string]any{
		"stdout":     out.Stdout,
		"stderr":     out.Stderr,
		"returncode": out.ExitCode,
	}, nil
}

func runSchema(field, desc string, def time.Duration) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			field: map[string]any{"type": "string", "description": desc},
			"timeout_ms": map[string]any{
				"type":    "integer",
				"minimum": 1,
				"default": def.Milliseconds(),
			},
		},
		"required": []any{field},
	}
}

func runArgs(args map[string]any, field string, def time.Duration) (string, time.Duration, error) {
	var text string
	if v, ok := args[field]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return "", 0, fmt.Errorf("%s must be a string, got %T", field, v)
		}
		text = s
	}

	v, ok := args["timeout_ms"]
	if !ok || v == nil {
		return text, def, nil
	}
	var ms float64
	switch x := v.(type) {
	case float64:
		ms = x
	case int:
		ms = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return "", 0, fmt.Errorf("timeout_ms must be a number: %w", err)
		}
		ms = f
	default:
		return "", 0, fmt.Errorf("timeout_ms must be a number, got %T", v)
	}
	if ms <= 0 || math.IsInf(ms, 0) || math.IsNaN(ms) {
		return "", 0, fmt.Errorf("timeout_ms must be positive, got %v", v)
	}
	if ms > maxTimeoutMS {
		return "", 0, fmt.Errorf("timeout_ms too large, got %v (max %d)", v, int64(maxTimeoutMS))
	}
	return text, time.Duration(ms * float64(time.Millisecond)), nil
}

// maxTimeoutMS is the largest timeout_ms a time.Duration can hold.
const maxTimeoutMS = float64(math.MaxInt64 / int64(time.Millisecond))

func boolPtr(b bool) *bool { return &b }
