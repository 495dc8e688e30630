// ABOUTME: Entry point for coven-sso, a Teams bot that signs users in with SSO
// ABOUTME: Provides serve, init, and health sub-commands

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-sso/internal/bot"
	"github.com/2389/coven-sso/internal/config"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `

  ___ _____   _____ _ __        ___ ___  ___
 / __/ _ \ \ / / _ \ '_ \ _____/ __/ __|/ _ \
| (_| (_) \ V /  __/ | | |_____\__ \__ \ (_) |
 \___\___/ \_/ \___|_| |_|     |___/___/\___/
`

func usage() {
	fmt.Println("Usage: coven-sso <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the bot")
	fmt.Println("  init     Create a new config file interactively")
	fmt.Println("  health   Check bot health and readiness")
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
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

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
	fmt.Printf("App ID:    %s\n", cfg.Bot.AppID)
	green.Print("    ▶ ")
	fmt.Printf("Storage:   %s\n", cfg.Storage.Driver)
	if !cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	} else {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.RateLimit.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Limit:     %.1f/s burst %d per conversation\n", cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	fmt.Println()

	logger.Info("starting coven-sso",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"storage", cfg.Storage.Driver,
	)

	b, err := bot.New(ctx, cfg, bot.Options{}, logger)
	if err != nil {
		return fmt.Errorf("creating bot: %w", err)
	}

	return b.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	base := "http://" + cfg.Server.HTTPAddr
	if cfg.Tailscale.Enabled {
		base = "https://" + cfg.Tailscale.Hostname
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	healthy := true
	for _, path := range []string{"/health", "/health/ready"} {
		status, body, err := get(ctx, base+path)
		switch {
		case err != nil:
			healthy = false
			red.Printf("  ✗ %s: %v\n", path, err)
		case status != http.StatusOK:
			healthy = false
			red.Printf("  ✗ %s: %d %s\n", path, status, body)
		default:
			green.Printf("  ✓ %s: %s\n", path, body)
		}
	}

	if !healthy {
		return fmt.Errorf("unhealthy")
	}
	return nil
}

func get(ctx context.Context, url string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, strings.TrimSpace(string(body)), nil
}
