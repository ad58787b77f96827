package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// ErrMalformed is returned for a body that is not a valid batch envelope.
var ErrMalformed = errors.New("malformed request")

// Call is one tool invocation in a batch.
type Call struct {
	Server    string         `json:"server"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Request is a decoded batch envelope.
type Request struct {
	MCP   bool   `json:"mcp"`
	Calls []Call `json:"calls"`
}

// Result is the outcome of one call. Server and Tool echo the call as sent.
type Result struct {
	Server string `json:"server"`
	Tool   string `json:"tool"`
	Result any    `json:"result"`
}

// Response is the answer to an accepted batch.
type Response struct {
	Status  string   `json:"status"`
	Results []Result `json:"results"`
}

// Dispatcher runs a single call. Implementations never fail; errors are
// returned as error-shaped results.
type Dispatcher interface {
	Call(ctx context.Context, server, tool string, args map[string]any) any
}

// BatchObserver is notified once per batch.
type BatchObserver interface {
	ObserveBatch(status string, calls int)
}

// Batch statuses reported to the BatchObserver.
const (
	BatchOK        = "ok"
	BatchMalformed = "malformed"
)

// Options configures a Gateway.
type Options struct {
	// MaxCalls caps the calls in one batch. Zero means unlimited.
	MaxCalls int

	Observer BatchObserver
	Logger   zerolog.Logger
}

// Gateway decodes batches and dispatches their calls in order.
type Gateway struct {
	dispatcher Dispatcher
	maxCalls   int
	obs        BatchObserver
	log        zerolog.Logger
}

// New creates a Gateway dispatching through d.
func New(d Dispatcher, opts Options) *Gateway {
	return &Gateway{
		dispatcher: d,
		maxCalls:   opts.MaxCalls,
		obs:        opts.Observer,
		log:        opts.Logger,
	}
}

// Decode reads one batch envelope from r. The body must be a single JSON
// object with "mcp": true and a "calls" array. Numbers are kept as
// json.Number.
func Decode(r io.Reader) (Request, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var req Request
	if err := dec.Decode(&req); err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if dec.More() {
		return Request{}, fmt.Errorf("%w: trailing data after envelope", ErrMalformed)
	}
	if !req.MCP {
		return Request{}, fmt.Errorf("%w: \"mcp\" must be true", ErrMalformed)
	}
	if req.Calls == nil {
		return Request{}, fmt.Errorf("%w: \"calls\" array is required", ErrMalformed)
	}
	return req, nil
}

// Dispatch runs every call of req in order and returns one result per call.
func (g *Gateway) Dispatch(ctx context.Context, req Request) (Response, error) {
	if g.maxCalls > 0 && len(req.Calls) > g.maxCalls {
		g.observe(BatchMalformed, len(req.Calls))
		return Response{}, fmt.Errorf("%w: batch has %d calls, limit is %d", ErrMalformed, len(req.Calls), g.maxCalls)
	}

	results := make([]Result, len(req.Calls))
	for i, call := range req.Calls {
		results[i] = Result{
			Server: call.Server,
			Tool:   call.Tool,
			Result: g.dispatcher.Call(ctx, call.Server, call.Tool, call.Arguments),
		}
	}
	g.observe(BatchOK, len(req.Calls))
	g.log.Debug().Int("calls", len(req.Calls)).Msg("batch dispatched")
	return Response{Status: "ok", Results: results}, nil
}

// Handle decodes a batch from body and dispatches it.
func (g *Gateway) Handle(ctx context.Context, body io.Reader) (Response, error) {
	req, err := Decode(body)
	if err != nil {
		g.observe(BatchMalformed, 0)
		return Response{}, err
	}
	return g.Dispatch(ctx, req)
}

func (g *Gateway) observe(status string, calls int) {
	if g.obs != nil {
		g.obs.ObserveBatch(status, calls)
	}
}
