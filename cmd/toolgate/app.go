package main

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jonwraymond/toolgate/backend"
	"github.com/jonwraymond/toolgate/config"
	"github.com/jonwraymond/toolgate/files"
	"github.com/jonwraymond/toolgate/gateway"
	"github.com/jonwraymond/toolgate/mcpserver"
	"github.com/jonwraymond/toolgate/memory"
	"github.com/jonwraymond/toolgate/metrics"
	"github.com/jonwraymond/toolgate/process"
	"github.com/jonwraymond/toolgate/router"
)

// app holds the wired components of one gateway process.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	registry *backend.Registry
	router   *router.Router
	metrics  *metrics.Collector
	gateway  *gateway.Gateway
	mcp      *mcp.Server
}

func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	reg := backend.NewRegistry()
	if err := registerBackends(ctx, reg, cfg, log); err != nil {
		_ = reg.StopAll()
		return nil, err
	}
	if err := reg.StartAll(ctx); err != nil {
		_ = reg.StopAll()
		return nil, err
	}

	m := metrics.New()
	opts := []router.Option{router.WithLogger(log), router.WithObserver(m)}
	if cfg.Router.Aliases != nil {
		opts = append(opts, router.WithAliases(cfg.Router.Aliases))
	}
	r, err := router.New(ctx, reg, opts...)
	if err != nil {
		_ = reg.StopAll()
		return nil, err
	}
	log.Info().Strs("backends", reg.Names()).Int("tools", len(r.Tools())).Msg("router ready")

	return &app{
		cfg:      cfg,
		log:      log,
		registry: reg,
		router:   r,
		metrics:  m,
		gateway:  gateway.New(r, gateway.Options{MaxCalls: cfg.Server.MaxCalls, Observer: m, Logger: log}),
		mcp:      mcpserver.New(r, mcpserver.Options{Name: "toolgate", Version: version, Logger: log}),
	}, nil
}

func registerBackends(ctx context.Context, reg *backend.Registry, cfg config.Config, log zerolog.Logger) error {
	if cfg.Store.Enabled {
		store, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		if err := reg.Register(memory.NewBackend(store, memory.BackendOptions{
			OpTimeout: cfg.Store.OpTimeout.Duration,
			Logger:    log,
		})); err != nil {
			_ = store.Close()
			return err
		}
	}

	if cfg.Code.Enabled {
		runner, err := process.NewRunner(process.Config{
			Interpreter:     cfg.Code.Interpreter,
			InterpreterArgs: cfg.Code.InterpreterArgs,
			ScriptExt:       cfg.Code.ScriptExt,
			TempDir:         cfg.Code.TempDir,
			WorkDir:         cfg.Code.WorkDir,
		})
		if err != nil {
			return fmt.Errorf("code backend: %w", err)
		}
		if err := reg.Register(process.NewCodeBackend(runner, process.BackendOptions{
			DefaultTimeout: cfg.Code.DefaultTimeout.Duration,
			Logger:         log,
		})); err != nil {
			return err
		}
	}

	if cfg.Shell.Enabled {
		runner, err := process.NewRunner(process.Config{
			Shell:   cfg.Shell.Shell,
			WorkDir: cfg.Shell.WorkDir,
		})
		if err != nil {
			return fmt.Errorf("shell backend: %w", err)
		}
		if err := reg.Register(process.NewShellBackend(runner, process.BackendOptions{
			DefaultTimeout: cfg.Shell.DefaultTimeout.Duration,
			Logger:         log,
		})); err != nil {
			return err
		}
	}

	if cfg.Files.Enabled {
		acc, err := files.New(cfg.Files.Root)
		if err != nil {
			return err
		}
		if err := reg.Register(files.NewBackend(acc, "", log)); err != nil {
			return err
		}
	}
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (memory.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return memory.NewPostgresStore(ctx, memory.PostgresConfig{
			URL:      cfg.URL,
			Table:    cfg.Table,
			MaxConns: cfg.MaxConns,
		})
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		return memory.NewRedisStore(client, memory.RedisConfig{Prefix: cfg.Prefix}), nil
	case config.DriverMemory:
		return memory.NewMemStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalidConfig, cfg.Driver)
	}
}

func (a *app) server() *gateway.Server {
	return gateway.NewServer(a.gateway, gateway.ServerConfig{
		Addr:            a.cfg.Server.Addr,
		Endpoint:        a.cfg.Server.Endpoint,
		StreamPath:      a.cfg.Server.StreamPath,
		MaxBodyBytes:    a.cfg.Server.MaxBodyBytes,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout.Duration,
	},
		gateway.WithLogger(a.log),
		gateway.WithMetrics(a.metrics),
		gateway.WithCatalog(a.router),
		gateway.WithRegistry(a.registry),
		gateway.WithMCPHandler(mcpserver.StreamHandler(a.mcp)),
	)
}

func (a *app) close() {
	if err := a.registry.StopAll(); err != nil {
		a.log.Warn().Err(err).Msg("stopping backends")
	}
}
