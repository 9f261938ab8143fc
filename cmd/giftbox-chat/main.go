// ABOUTME: Entry point for the giftbox-chat messaging server
// ABOUTME: Dispatches serve, health, token and seed subcommands

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/giftbox-chat/internal/config"
	"github.com/2389/giftbox-chat/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _  __ _   _
  __ _(_)/ _| |_| |__   _____  __
 / _' | | |_| __| '_ \ / _ \ \/ /
| (_| | |  _| |_| |_) | (_) >  <
 \__, |_|_|  \__|_.__/ \___/_/\_\  chat
 |___/
`

func usage() {
	fmt.Println("Usage: giftbox-chat <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the chat server")
	fmt.Println("  health                         Check server health")
	fmt.Println("  token --user ID [--ttl 24h]    Mint a development JWT for a user")
	fmt.Println("  seed FILE                      Load users and listings into the SQLite directory")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "token":
		err = runToken(os.Args[2:])
	case "seed":
		err = runSeed(ctx, os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.Path()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s ", cfg.Server.GRPCAddr)
		gray.Println("(health)")
	}
	green.Print("    ▶ ")
	fmt.Printf("Store:     %s", cfg.Database.Driver)
	if cfg.Database.Driver == "sqlite" {
		gray.Printf(" (%s)", cfg.Database.Path)
	}
	fmt.Println()
	if cfg.Relay.Driver != "none" {
		green.Print("    ▶ ")
		fmt.Printf("Relay:     %s ", cfg.Relay.Driver)
		yellow.Printf("[%s]", cfg.Relay.Channel)
		fmt.Println()
	}
	fmt.Println()

	logger.Info("starting giftbox-chat",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"store", cfg.Database.Driver,
		"relay", cfg.Relay.Driver,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
