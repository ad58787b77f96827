package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/jonwraymond/tooldiscovery/index"
	"github.com/jonwraymond/tooldiscovery/search"
	"github.com/jonwraymond/tooldiscovery/tooldoc"
	"github.com/jonwraymond/toolfoundation/model"
	"github.com/rs/zerolog"

	"github.com/jonwraymond/toolgate/backend"
)

// ErrUnsupported is returned by Resolve for an unknown (backend, tool) pair.
var ErrUnsupported = errors.New("unsupported tool")

// Call outcomes reported to the Observer.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeUnsupported = "unsupported"
	OutcomePanic       = "panic"
)

// UnknownLabel replaces caller-supplied names of unresolved calls in
// observations so they cannot grow label sets without bound.
const UnknownLabel = "_unknown"

// Handler invokes one tool.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Observer is notified once per Call.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: best-effort; ObserveCall must not panic.
type Observer interface {
	ObserveCall(server, tool, outcome string, elapsed time.Duration)
}

// DefaultAliases maps historical backend names to the shipped backends.
func DefaultAliases() map[string]string {
	return map[string]string{
		"reina":  "memory",
		"python": "code",
		"fs":     "files",
	}
}

// ToolInfo describes one routed tool.
type ToolInfo struct {
	ID          string   `json:"id"`
	Backend     string   `json:"backend"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type routeKey struct {
	backend string
	tool    string
}

type route struct {
	tool    model.Tool
	handler Handler
}

// Router is an immutable (backend, tool) → handler table.
type Router struct {
	routes  map[routeKey]route
	aliases map[string]string
	tools   []model.Tool
	index   index.Index
	docs    tooldoc.Store
	log     zerolog.Logger
	obs     Observer
}

type options struct {
	aliases map[string]string
	log     zerolog.Logger
	obs     Observer
}

// Option configures a Router.
type Option func(*options)

// WithAliases replaces the default alias table. Pass nil to disable aliases.
func WithAliases(aliases map[string]string) Option {
	return func(o *options) { o.aliases = aliases }
}

// WithLogger sets the router logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithObserver sets the call observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.obs = obs }
}

// New builds the routing table from the enabled backends of reg.
func New(ctx context.Context, reg *backend.Registry, opts ...Option) (*Router, error) {
	o := options{aliases: DefaultAliases(), log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	idx := index.NewInMemoryIndex(index.IndexOptions{
		Searcher: search.NewBM25Searcher(search.BM25Config{}),
	})
	r := &Router{
		routes:  make(map[routeKey]route),
		aliases: make(map[string]string),
		index:   idx,
		docs:    tooldoc.NewInMemoryStore(tooldoc.StoreOptions{Index: idx}),
		log:     o.log,
		obs:     o.obs,
	}

	enabled := make(map[string]bool)
	for _, b := range reg.ListEnabled() {
		enabled[b.Name()] = true
		if err := r.addBackend(ctx, b); err != nil {
			return nil, err
		}
	}

	for alias, target := range o.aliases {
		if _, registered := reg.Get(alias); registered {
			return nil, fmt.Errorf("alias %q shadows a registered backend", alias)
		}
		if !enabled[target] {
			r.log.Debug().Str("alias", alias).Str("backend", target).Msg("alias target not enabled; skipped")
			continue
		}
		r.aliases[alias] = target
	}

	sort.Slice(r.tools, func(i, j int) bool { return toolID(r.tools[i]) < toolID(r.tools[j]) })
	if err := r.registerDocs(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Router) addBackend(ctx context.Context, b backend.Backend) error {
	tools, err := b.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("list tools of backend %s: %w", b.Name(), err)
	}
	for _, tool := range tools {
		key := routeKey{backend: b.Name(), tool: tool.Name}
		if _, dup := r.routes[key]; dup {
			return fmt.Errorf("%w: %s/%s", backend.ErrToolExists, key.backend, key.tool)
		}
		tool.Namespace = b.Name()

		name := tool.Name
		r.routes[key] = route{
			tool: tool,
			handler: func(ctx context.Context, args map[string]any) (any, error) {
				return b.Execute(ctx, name, args)
			},
		}
		r.tools = append(r.tools, tool)
		if err := r.index.RegisterTool(tool, model.NewLocalBackend(b.Name())); err != nil {
			return fmt.Errorf("index tool %s/%s: %w", key.backend, key.tool, err)
		}
	}
	return nil
}

func (r *Router) registerDocs() error {
	store, ok := r.docs.(*tooldoc.InMemoryStore)
	if !ok {
		return nil
	}
	for _, tool := range r.tools {
		entry := tooldoc.DocEntry{Summary: tool.Description}
		if aliases := r.aliasesOf(tool.Namespace); len(aliases) > 0 {
			entry.Notes = fmt.Sprintf("Also addressable through backend aliases: %v.", aliases)
		}
		if err := store.RegisterDoc(toolID(tool), entry); err != nil {
			return fmt.Errorf("register doc %s: %w", toolID(tool), err)
		}
	}
	return nil
}

func toolID(t model.Tool) string {
	return backend.FormatToolID(t.Namespace, t.Name)
}

// Canonical returns the backend name server refers to, applying aliases.
func (r *Router) Canonical(server string) string {
	if target, ok := r.aliases[server]; ok {
		return target
	}
	return server
}

// Resolve returns the handler for (server, tool).
func (r *Router) Resolve(server, tool string) (Handler, error) {
	rt, ok := r.routes[routeKey{backend: r.Canonical(server), tool: tool}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnsupported, server, tool)
	}
	return rt.handler, nil
}

// Call invokes (server, tool) and always returns a result. Unknown pairs,
// handler errors and panics become error-shaped results.
func (r *Router) Call(ctx context.Context, server, tool string, args map[string]any) (result any) {
	start := time.Now()
	h, err := r.Resolve(server, tool)
	if err != nil {
		r.log.Warn().Str("server", server).Str("tool", tool).Msg("unsupported tool")
		r.observe(UnknownLabel, UnknownLabel, OutcomeUnsupported, start)
		return map[string]any{"error": err.Error()}
	}
	name := r.Canonical(server)
	if args == nil {
		args = map[string]any{}
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error().
				Str("server", name).
				Str("tool", tool).
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("tool panicked")
			r.observe(name, tool, OutcomePanic, start)
			result = map[string]any{"error": fmt.Sprintf("tool panicked: %v", p)}
		}
	}()

	v, err := h(ctx, args)
	if err != nil {
		r.log.Debug().Err(err).Str("server", name).Str("tool", tool).Msg("tool returned error")
		r.observe(name, tool, OutcomeError, start)
		return backend.ErrorPayload(err)
	}
	outcome := OutcomeOK
	if backend.IsErrorPayload(v) {
		outcome = OutcomeError
	}
	r.observe(name, tool, outcome, start)
	return v
}

func (r *Router) observe(server, tool, outcome string, start time.Time) {
	if r.obs != nil {
		r.obs.ObserveCall(server, tool, outcome, time.Since(start))
	}
}

func (r *Router) aliasesOf(backendName string) []string {
	var out []string
	for alias, target := range r.aliases {
		if target == backendName {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}

// Tools returns every routed tool ordered by ID.
func (r *Router) Tools() []model.Tool {
	out := make([]model.Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Catalog returns ToolInfo for every routed tool ordered by ID.
func (r *Router) Catalog() []ToolInfo {
	out := make([]ToolInfo, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, r.info(tool))
	}
	return out
}

func (r *Router) info(tool model.Tool) ToolInfo {
	return ToolInfo{
		ID:          toolID(tool),
		Backend:     tool.Namespace,
		Name:        tool.Name,
		Description: tool.Description,
		Aliases:     r.aliasesOf(tool.Namespace),
		Tags:        tool.Tags,
	}
}

// Search ranks routed tools against query.
func (r *Router) Search(query string, limit int) ([]ToolInfo, error) {
	summaries, err := r.index.Search(query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ToolInfo, 0, len(summaries))
	for _, s := range summaries {
		b, t, err := backend.ParseToolID(s.ID)
		if err != nil {
			continue
		}
		if rt, ok := r.routes[routeKey{backend: b, tool: t}]; ok {
			out = append(out, r.info(rt.tool))
		}
	}
	return out, nil
}

// Describe returns full documentation for a tool ID ("backend:tool").
// Aliased backend names are accepted.
func (r *Router) Describe(id string) (tooldoc.ToolDoc, error) {
	b, t, err := backend.ParseToolID(id)
	if err != nil {
		return tooldoc.ToolDoc{}, err
	}
	if _, ok := r.routes[routeKey{backend: r.Canonical(b), tool: t}]; !ok {
		return tooldoc.ToolDoc{}, fmt.Errorf("%w: %s/%s", ErrUnsupported, b, t)
	}
	return r.docs.DescribeTool(backend.FormatToolID(r.Canonical(b), t), tooldoc.DetailFull)
}
