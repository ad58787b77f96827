// Package config loads the gateway configuration from an optional TOML file
// and the environment.
//
// Precedence, lowest first: Default(), the file, environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Errors returned by Load and Validate.
var (
	ErrMissingConfig = errors.New("missing required configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Environment variables read by ApplyEnv.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvRedisAddr   = "REDIS_ADDR"
	EnvAddr        = "TOOLGATE_ADDR"
	EnvLogLevel    = "TOOLGATE_LOG_LEVEL"
	EnvPort        = "MCP_NEON_PORT"
)

// DefaultPort is the listen port when neither the file nor the environment
// names one.
const DefaultPort = 8765

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete gateway configuration.
type Config struct {
	Server ServerConfig `toml:"server"`
	Log    LogConfig    `toml:"log"`
	Store  StoreConfig  `toml:"store"`
	Code   CodeConfig   `toml:"code"`
	Shell  ShellConfig  `toml:"shell"`
	Files  FilesConfig  `toml:"files"`
	Router RouterConfig `toml:"router"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string   `toml:"addr"`
	Endpoint        string   `toml:"endpoint"`
	StreamPath      string   `toml:"stream_path"`
	MaxBodyBytes    int64    `toml:"max_body_bytes"`
	MaxCalls        int      `toml:"max_calls"`
	CORSOrigins     []string `toml:"cors_origins"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	NoColor bool   `toml:"no_color"`
}

// StoreConfig selects and configures the memory store backing the memory
// backend. A disabled store is never opened.
type StoreConfig struct {
	Enabled   bool     `toml:"enabled"`
	Driver    string   `toml:"driver"`
	URL       string   `toml:"url"`
	Table     string   `toml:"table"`
	MaxConns  int32    `toml:"max_conns"`
	RedisAddr string   `toml:"redis_addr"`
	RedisDB   int      `toml:"redis_db"`
	Prefix    string   `toml:"prefix"`
	OpTimeout Duration `toml:"op_timeout"`
}

// CodeConfig configures the code backend.
type CodeConfig struct {
	Enabled         bool     `toml:"enabled"`
	Interpreter     string   `toml:"interpreter"`
	InterpreterArgs []string `toml:"interpreter_args"`
	ScriptExt       string   `toml:"script_ext"`
	TempDir         string   `toml:"temp_dir"`
	WorkDir         string   `toml:"work_dir"`
	DefaultTimeout  Duration `toml:"default_timeout"`
}

// ShellConfig configures the shell backend.
type ShellConfig struct {
	Enabled        bool     `toml:"enabled"`
	Shell          string   `toml:"shell"`
	WorkDir        string   `toml:"work_dir"`
	DefaultTimeout Duration `toml:"default_timeout"`
}

// FilesConfig configures the files backend. An empty Root leaves paths
// unjailed.
type FilesConfig struct {
	Enabled bool   `toml:"enabled"`
	Root    string `toml:"root"`
}

// RouterConfig configures routing. A nil Aliases keeps the router's
// default alias table; an empty table disables aliases.
type RouterConfig struct {
	Aliases map[string]string `toml:"aliases"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            net.JoinHostPort("localhost", strconv.Itoa(DefaultPort)),
			Endpoint:        "/mcp",
			StreamPath:      "/mcp/stream",
			MaxBodyBytes:    10 << 20,
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Log: LogConfig{Level: "info", Format: "console"},
		Store: StoreConfig{
			Enabled:   true,
			Driver:    DriverPostgres,
			RedisAddr: "localhost:6379",
			OpTimeout: Duration{10 * time.Second},
		},
		Code: CodeConfig{
			Enabled:        true,
			Interpreter:    "python3",
			ScriptExt:      ".py",
			DefaultTimeout: Duration{5 * time.Second},
		},
		Shell: ShellConfig{
			Enabled:        true,
			Shell:          "/bin/sh",
			DefaultTimeout: Duration{10 * time.Second},
		},
		Files: FilesConfig{Enabled: true},
	}
}

// Load reads path (if non-empty) over Default, applies the environment
// and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		cfg, err = DecodeFile(path, cfg)
		if err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DecodeFile decodes the TOML file at path over base. Keys the file does
// not set keep their base value; unknown keys are an error.
func DecodeFile(path string, base Config) (Config, error) {
	cfg := base
	cfg.Router.Aliases = nil
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalidConfig, path, strings.Join(keys, ", "))
	}
	// An [router.aliases] table replaces the base table instead of merging.
	if !meta.IsDefined("router", "aliases") {
		cfg.Router.Aliases = base.Router.Aliases
	} else if cfg.Router.Aliases == nil {
		cfg.Router.Aliases = map[string]string{}
	}
	return cfg, nil
}

// ApplyEnv overrides c from the environment. TOOLGATE_ADDR wins over
// MCP_NEON_PORT, which only replaces the port of the current address.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookupNonEmpty(lookup, EnvDatabaseURL); ok {
		c.Store.URL = v
	}
	if v, ok := lookupNonEmpty(lookup, EnvRedisAddr); ok {
		c.Store.RedisAddr = v
	}
	if v, ok := lookupNonEmpty(lookup, EnvLogLevel); ok {
		c.Log.Level = v
	}
	if v, ok := lookupNonEmpty(lookup, EnvAddr); ok {
		c.Server.Addr = v
		return
	}
	if v, ok := lookupNonEmpty(lookup, EnvPort); ok {
		host, _, err := net.SplitHostPort(c.Server.Addr)
		if err != nil {
			host = ""
		}
		c.Server.Addr = net.JoinHostPort(host, v)
	}
}

func lookupNonEmpty(lookup func(string) (string, bool), name string) (string, bool) {
	v, ok := lookup(name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Validate reports missing or unusable settings. An enabled store without
// its connection setting is ErrMissingConfig; everything else is
// ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := c.Store.validate(); err != nil {
		return err
	}

	var bad []string
	if _, port, err := net.SplitHostPort(c.Server.Addr); err != nil {
		bad = append(bad, "server.addr")
	} else if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		bad = append(bad, "server.addr")
	}
	if !strings.HasPrefix(c.Server.Endpoint, "/") {
		bad = append(bad, "server.endpoint")
	}
	if !strings.HasPrefix(c.Server.StreamPath, "/") || c.Server.StreamPath == c.Server.Endpoint {
		bad = append(bad, "server.stream_path")
	}
	if c.Server.MaxCalls < 0 {
		bad = append(bad, "server.max_calls")
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		bad = append(bad, "server.shutdown_timeout")
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		bad = append(bad, "log.format")
	}
	if c.Code.Enabled && (c.Code.Interpreter == "" || c.Code.DefaultTimeout.Duration <= 0) {
		bad = append(bad, "code")
	}
	if c.Shell.Enabled && (c.Shell.Shell == "" || c.Shell.DefaultTimeout.Duration <= 0) {
		bad = append(bad, "shell")
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(bad, ", "))
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	switch s.Driver {
	case DriverPostgres:
		if strings.TrimSpace(s.URL) == "" {
			return fmt.Errorf("%w: store.url or %s is required for the postgres driver", ErrMissingConfig, EnvDatabaseURL)
		}
	case DriverRedis:
		if strings.TrimSpace(s.RedisAddr) == "" {
			return fmt.Errorf("%w: store.redis_addr or %s is required for the redis driver", ErrMissingConfig, EnvRedisAddr)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("%w: unknown store.driver %q", ErrInvalidConfig, s.Driver)
	}
	if s.OpTimeout.Duration <= 0 {
		return fmt.Errorf("%w: store.op_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}
