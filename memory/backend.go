package memory

import (
	"bytes"
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

// Defaults applied by the memory backend when a call omits an address part.
const (
	DefaultSessionID = "clay_main"
	DefaultKey       = "core_identity"
	DefaultOpTimeout = 10 * time.Second

	defaultListLimit = 20
	maxListLimit     = 1000
)

// OfflineMessage is the error text of the soft failure returned when the
// store cannot be reached.
const OfflineMessage = "memory store unavailable; operating in offline mode."

// ToolError is a failed memory tool call.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string { return e.Tool + ": " + e.Err.Error() }

func (e *ToolError) Unwrap() error { return e.Err }

// Payload renders connectivity failures as {"error", "fallback": true} and
// everything else as {"error", "tool"}.
func (e *ToolError) Payload() map[string]any {
	if errors.Is(e.Err, ErrUnavailable) {
		return map[string]any{"error": OfflineMessage, "fallback": true}
	}
	return map[string]any{"error": e.Err.Error(), "tool": e.Tool}
}

// BackendOptions configures the memory backend.
type BackendOptions struct {
	// Name is the backend name callers address. Defaults to "memory".
	Name string

	// OpTimeout bounds each store operation. Defaults to DefaultOpTimeout.
	OpTimeout time.Duration

	Logger zerolog.Logger
}

type memoryTools struct {
	store   Store
	timeout time.Duration
	log     zerolog.Logger
}

// NewBackend exposes store as a backend with get_memory, set_memory and
// list_memory tools. Start initializes the schema; a failure there is logged
// and later calls report it individually.
func NewBackend(store Store, opts BackendOptions) *local.Backend {
	if opts.Name == "" {
		opts.Name = "memory"
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = DefaultOpTimeout
	}
	m := &memoryTools{
		store:   store,
		timeout: opts.OpTimeout,
		log:     opts.Logger.With().Str("backend", opts.Name).Logger(),
	}

	b := local.New(opts.Name,
		local.WithDescription("Persistent key-value memory addressed by session and key"),
		local.OnStart(m.start),
		local.OnStop(store.Close),
	)
	b.MustRegister(
		local.ToolDef{
			Name:        "get_memory",
			Description: "Read the value stored for a session and key. Returns {\"status\":\"empty\"} when nothing is stored.",
			InputSchema: addressSchema(nil),
			Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true},
			Tags:        []string{"memory", "read"},
			Handler:     m.get,
		},
		local.ToolDef{
			Name:        "set_memory",
			Description: "Store a JSON value for a session and key, replacing any previous value.",
			InputSchema: addressSchema(map[string]any{
				"value": map[string]any{"description": "Any JSON value. Defaults to {}."},
			}),
			Annotations: &mcp.ToolAnnotations{IdempotentHint: true},
			Tags:        []string{"memory", "write"},
			Handler:     m.set,
		},
		local.ToolDef{
			Name:        "list_memory",
			Description: "List the keys of a session, most recently written first.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session_id": map[string]any{"type": "string", "default": DefaultSessionID},
					"limit":      map[string]any{"type": "integer", "minimum": 1, "maximum": maxListLimit, "default": defaultListLimit},
				},
			},
			Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true},
			Tags:        []string{"memory", "read"},
			Handler:     m.list,
		},
	)
	return b
}

func addressSchema(extra map[string]any) map[string]any {
	props := map[string]any{
		"session_id": map[string]any{"type": "string", "default": DefaultSessionID},
		"key":        map[string]any{"type": "string", "default": DefaultKey},
	}
	for k, v := range extra {
		props[k] = v
	}
	return map[string]any{"type": "object", "properties": props}
}

func (m *memoryTools) start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.store.Init(ctx); err != nil {
		m.log.Warn().Err(err).Msg("memory schema init failed; calls will report store errors")
	}
	return nil
}

func (m *memoryTools) get(ctx context.Context, args map[string]any) (any, error) {
	session, key, err := addressArgs(args)
	if err != nil {
		return nil, m.fail("get_memory", err)
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	rec, err := m.store.Get(ctx, session, key)
	if errors.Is(err, ErrNotFound) {
		return map[string]any{"status": "empty"}, nil
	}
	if err != nil {
		return nil, m.fail("get_memory", err)
	}
	value, err := decodeValue(rec.Value)
	if err != nil {
		return nil, m.fail("get_memory", err)
	}
	return value, nil
}

func (m *memoryTools) set(ctx context.Context, args map[string]any) (any, error) {
	session, key, err := addressArgs(args)
	if err != nil {
		return nil, m.fail("set_memory", err)
	}
	// Only an absent value defaults to {}; an explicit null is stored as null.
	value, ok := args["value"]
	if !ok {
		value = map[string]any{}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, m.fail("set_memory", fmt.Errorf("encode value: %w", err))
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	rec, err := m.store.Set(ctx, session, key, raw)
	if err != nil {
		return nil, m.fail("set_memory", err)
	}
	return map[string]any{"status": "saved", "session_id": rec.SessionID, "key": rec.Key}, nil
}

func (m *memoryTools) list(ctx context.Context, args map[string]any) (any, error) {
	session, err := stringArg(args, "session_id", DefaultSessionID)
	if err != nil {
		return nil, m.fail("list_memory", err)
	}
	limit, err := limitArg(args)
	if err != nil {
		return nil, m.fail("list_memory", err)
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	entries, err := m.store.Recent(ctx, session, limit)
	if err != nil {
		return nil, m.fail("list_memory", err)
	}
	keys := make([]any, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, map[string]any{
			"key":        e.Key,
			"updated_at": e.UpdatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return map[string]any{"session_id": normalize(session), "keys": keys}, nil
}

func (m *memoryTools) fail(tool string, err error) error {
	ev := m.log.Error()
	if errors.Is(err, ErrUnavailable) {
		ev = m.log.Warn()
	}
	ev.Err(err).Str("tool", tool).Msg("memory call failed")
	return &ToolError{Tool: tool, Err: err}
}

func addressArgs(args map[string]any) (string, string, error) {
	session, err := stringArg(args, "session_id", DefaultSessionID)
	if err != nil {
		return "", "", err
	}
	key, err := stringArg(args, "key", DefaultKey)
	if err != nil {
		return "", "", err
	}
	return session, key, nil
}

func stringArg(args map[string]any, name, def string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", name, v)
	}
	return s, nil
}

func limitArg(args map[string]any) (int, error) {
	v, ok := args["limit"]
	if !ok || v == nil {
		return defaultListLimit, nil
	}
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case int:
		n = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("limit must be a number: %w", err)
		}
		n = f
	default:
		return 0, fmt.Errorf("limit must be a number, got %T", v)
	}
	if n != math.Trunc(n) || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer, got %v", v)
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return int(n), nil
}

// decodeValue turns a stored JSON document back into a Go value, keeping
// numbers exact.
func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode stored value: %w", err)
	}
	return v, nil
}
