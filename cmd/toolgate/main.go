// Command toolgate runs the tool-call gateway.
//
// Usage:
//
//	toolgate [-config path] [serve|stdio]
//
// serve (the default) answers batch envelopes over HTTP and mounts the
// MCP streamable transport. stdio speaks MCP on stdin/stdout; logs always
// go to stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonwraymond/toolgate/config"
	"github.com/jonwraymond/toolgate/logging"
	"github.com/jonwraymond/toolgate/mcpserver"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "toolgate: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("toolgate", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to a TOML config file")
	if err := flags.Parse(args); err != nil {
		return err
	}
	mode := "serve"
	if flags.NArg() > 0 {
		mode = flags.Arg(0)
	}
	if mode != "serve" && mode != "stdio" {
		return fmt.Errorf("unknown mode %q (want serve or stdio)", mode)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		NoColor: cfg.Log.NoColor,
		App:     "toolgate",
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	switch mode {
	case "stdio":
		log.Info().Msg("serving MCP on stdio")
		return mcpserver.ServeStdio(ctx, a.mcp)
	default:
		return a.server().Run(ctx)
	}
}
