// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/wingedpig/relay/internal/app"
	"github.com/wingedpig/relay/internal/config"
	"github.com/wingedpig/relay/internal/mcptools"
	"github.com/wingedpig/relay/internal/runner/ptyrunner"
)

var version = "0.1"

const starterConfig = `{
  // relay configuration. This is HJSON: comments and trailing commas are fine.
  server: {
    host: 127.0.0.1
    port: 8088
  }
  auth: {
    // Set a token to require "Authorization: Bearer <token>" on every request.
    token: ""
    dev_mode: true
  }
  data: {
    dir: ./relay-data
  }
  default_adapter: pty
  adapters: {
    pty: {
      command: claude
    }
  }
  maintenance: {
    interval: 60s
    retention: 7d
    idle_timeout: "0"
  }
  bridges: {
    telegram: {
      enabled: false
      bot_token: ""
      chat_id: 0
    }
  }
}
`

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	if len(os.Args) > 1 && os.Args[1] == "mcp" {
		if err := runMCP(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	var (
		configPath  string
		host        string
		port        int
		dataDir     string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: ./relay.hjson if present)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "HTTP server host (overrides config)")
	flag.IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	flag.StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("relay %s\n", version)
		os.Exit(0)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Flag and environment overrides beat the config file.
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if dataDir != "" {
		cfg.Data.Dir = dataDir
	}
	if tok := os.Getenv("RELAY_TOKEN"); tok != "" {
		cfg.Auth.Token = tok
		cfg.Auth.DevMode = false
	}
	if dir := os.Getenv("RELAY_DATA_DIR"); dir != "" {
		cfg.Data.Dir = dir
	}
	if adapter := os.Getenv("RELAY_ADAPTER"); adapter != "" {
		cfg.DefaultAdapter = adapter
	}

	a, err := app.New(app.Options{Config: cfg, Version: version})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if ptyrunner.IsInteractive() {
		fmt.Printf("relay %s — http://%s:%d (ctrl-c to stop)\n", version, cfg.Server.Host, cfg.Server.Port)
	}
	log.Printf("relay %s starting", version)
	if err := a.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log.Printf("relay stopped")
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path == "" {
		if _, err := os.Stat("relay.hjson"); err == nil {
			path = "relay.hjson"
		} else {
			return loader.LoadDefaults()
		}
	}
	return loader.Load(context.Background(), path)
}

// runMCP serves relay's MCP tools on stdio, wrapping the HTTP API of an
// already-running relay server.
func runMCP(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	serverURL := fs.String("url", "http://127.0.0.1:8088", "Base URL of the relay server")
	token := fs.String("token", os.Getenv("RELAY_TOKEN"), "Bearer token (defaults to RELAY_TOKEN)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log.SetOutput(os.Stderr) // stdout belongs to the MCP transport
	log.Printf("relay mcp: serving tools for %s", *serverURL)
	return mcptools.ServeStdio(mcptools.NewClient(*serverURL, *token), version)
}

func runInit() error {
	const path = "relay.hjson"
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0644); err != nil {
		return err
	}
	fmt.Printf("Wrote %s. Edit it, then run: relay\n", path)
	return nil
}
