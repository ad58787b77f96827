package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jonwraymond/toolgate/backend"
	"github.com/jonwraymond/toolgate/logging"
	"github.com/jonwraymond/toolgate/metrics"
	"github.com/jonwraymond/toolgate/router"
)

// Server defaults.
const (
	DefaultEndpoint        = "/mcp"
	DefaultStreamPath      = "/mcp/stream"
	DefaultMaxBodyBytes    = 10 << 20
	DefaultShutdownTimeout = 10 * time.Second

	headerRequestID = "X-Request-ID"
)

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8765".
	Addr string

	// Endpoint is the batch endpoint path. Defaults to "/mcp".
	Endpoint string

	// StreamPath mounts the MCP handler, if one is set. Defaults to "/mcp/stream".
	StreamPath string

	// MaxBodyBytes caps request bodies. Defaults to 10 MiB; negative disables the cap.
	MaxBodyBytes int64

	// CORSOrigins lists allowed origins. Empty or "*" allows any origin.
	CORSOrigins []string

	// ShutdownTimeout bounds graceful shutdown. Defaults to 10s.
	ShutdownTimeout time.Duration
}

func (c *ServerConfig) applyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.StreamPath == "" {
		c.StreamPath = DefaultStreamPath
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Catalog lists and searches routed tools.
type Catalog interface {
	Catalog() []router.ToolInfo
	Search(query string, limit int) ([]router.ToolInfo, error)
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(log zerolog.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// WithMetrics records HTTP metrics and serves them at /metrics.
func WithMetrics(c *metrics.Collector) ServerOption {
	return func(s *Server) { s.metrics = c }
}

// WithCatalog serves the tool catalog at /tools.
func WithCatalog(c Catalog) ServerOption {
	return func(s *Server) { s.catalog = c }
}

// WithRegistry reports backend state at /healthz.
func WithRegistry(reg *backend.Registry) ServerOption {
	return func(s *Server) { s.registry = reg }
}

// WithMCPHandler mounts an MCP streamable HTTP handler at the stream path.
func WithMCPHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.mcp = h }
}

// Server is the HTTP front end of a Gateway.
type Server struct {
	gw       *Gateway
	cfg      ServerConfig
	engine   *gin.Engine
	log      zerolog.Logger
	metrics  *metrics.Collector
	catalog  Catalog
	registry *backend.Registry
	mcp      http.Handler
}

// NewServer builds the gin engine for gw.
func NewServer(gw *Gateway, cfg ServerConfig, opts ...ServerOption) *Server {
	cfg.applyDefaults()
	s := &Server{gw: gw, cfg: cfg, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, rec any) {
		s.log.Error().Interface("panic", rec).Msg("http handler panicked")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}))
	r.Use(requestID())
	r.Use(logging.RequestLogger(s.log))
	if s.metrics != nil {
		r.Use(s.metrics.Middleware())
	}
	r.Use(cors.New(corsConfig(s.cfg.CORSOrigins)))

	r.POST(s.cfg.Endpoint, s.handleBatch)
	r.OPTIONS(s.cfg.Endpoint, handlePreflight)
	r.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	if s.catalog != nil {
		r.GET("/tools", s.handleTools)
	}
	if s.mcp != nil {
		r.Any(s.cfg.StreamPath, gin.WrapH(s.mcp))
	}
	r.NoRoute(func(c *gin.Context) {
		c.PureJSON(http.StatusNotFound, gin.H{"error": "Not Found"})
	})
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:              []string{http.MethodPost, http.MethodOptions},
		AllowHeaders:              []string{"Content-Type", headerRequestID},
		ExposeHeaders:             []string{headerRequestID},
		MaxAge:                    12 * time.Hour,
		OptionsResponseStatusCode: http.StatusOK,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// handlePreflight answers OPTIONS requests the cors middleware let through
// (those without an Origin header).
func handlePreflight(c *gin.Context) {
	h := c.Writer.Header()
	if h.Get("Access-Control-Allow-Origin") == "" {
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
	}
	c.Status(http.StatusOK)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(logging.RequestIDKey, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func (s *Server) handleBatch(c *gin.Context) {
	if s.cfg.MaxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)
	}
	log := s.log.With().Str("request_id", c.GetString(logging.RequestIDKey)).Logger()

	resp, err := s.gw.Handle(log.WithContext(c.Request.Context()), c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			c.PureJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes"})
		case errors.Is(err, ErrMalformed):
			log.Warn().Err(err).Msg("rejected batch")
			c.PureJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			log.Error().Err(err).Msg("batch failed")
			c.PureJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	log.Info().Int("calls", len(resp.Results)).Msg("batch served")
	c.PureJSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.registry != nil {
		body["backends"] = s.registry.Describe(c.Request.Context())
	}
	c.PureJSON(http.StatusOK, body)
}

func (s *Server) handleTools(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.PureJSON(http.StatusOK, gin.H{"tools": s.catalog.Catalog()})
		return
	}
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.PureJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	tools, err := s.catalog.Search(q, limit)
	if err != nil {
		c.PureJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.PureJSON(http.StatusOK, gin.H{"tools": tools})
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Str("endpoint", s.cfg.Endpoint).Msg("gateway listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	s.log.Info().Msg("gateway shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
