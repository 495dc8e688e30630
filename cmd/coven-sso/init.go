// ABOUTME: Interactive config file generator for coven-sso
// ABOUTME: Writes a YAML config that references secrets through environment variables

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/coven-sso/internal/config"
)

// dataPath returns the coven data directory: $XDG_DATA_HOME/coven or ~/.local/share/coven.
func dataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "coven")
}

func yes(answer string) bool {
	a := strings.ToLower(answer)
	return a == "yes" || a == "y"
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	cyan.Println("coven-sso configuration setup")
	cyan.Println("=============================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", config.DefaultPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Bot Registration ---")
	appID := prompt(reader, "Microsoft App ID", "${MICROSOFT_APP_ID}")
	tenantID := prompt(reader, "Tenant ID", "${MICROSOFT_APP_TENANT_ID}")
	loginEndpoint := prompt(reader, "Initiate login endpoint", "https://example.com/auth-start.html")
	appIDURI := prompt(reader, "Application ID URI", "api://example.com/"+appID)
	scopes := prompt(reader, "Scopes (comma separated)", "User.Read")

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:3978")

	fmt.Println("\n--- Storage ---")
	driver := prompt(reader, "Driver (memory/sqlite/postgres)", config.DriverSQLite)
	var dbPath, dsn string
	switch driver {
	case config.DriverSQLite:
		dbPath = prompt(reader, "SQLite database path", filepath.Join(dataPath(), "sso.db"))
	case config.DriverPostgres:
		dsn = prompt(reader, "Postgres DSN", "${COVEN_SSO_PG_DSN}")
	}

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := yes(prompt(reader, "Enable Tailscale?", "no"))
	var tsHostname string
	var tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "coven-sso")
		tsFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "yes"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# coven-sso configuration\n")
	cfg.WriteString("# Generated by coven-sso init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", httpAddr)

	cfg.WriteString("bot:\n")
	fmt.Fprintf(&cfg, "  app_id: %q\n", appID)
	cfg.WriteString("  app_password: \"${MICROSOFT_APP_PASSWORD}\"\n")
	fmt.Fprintf(&cfg, "  tenant_id: %q\n", tenantID)
	fmt.Fprintf(&cfg, "  application_id_uri: %q\n", appIDURI)
	fmt.Fprintf(&cfg, "  initiate_login_endpoint: %q\n", loginEndpoint)
	cfg.WriteString("  scopes:\n")
	for _, s := range strings.Split(scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			fmt.Fprintf(&cfg, "    - %q\n", s)
		}
	}
	cfg.WriteString("  end_on_invalid_message: true\n")
	cfg.WriteString("  prompt_timeout: \"15m\"\n\n")

	cfg.WriteString("storage:\n")
	fmt.Fprintf(&cfg, "  driver: %q\n", driver)
	if dbPath != "" {
		fmt.Fprintf(&cfg, "  path: %q\n", dbPath)
	}
	if dsn != "" {
		fmt.Fprintf(&cfg, "  dsn: %q\n", dsn)
	}
	cfg.WriteString("  dedup_ttl: \"1h\"\n\n")

	cfg.WriteString("rate_limit:\n")
	cfg.WriteString("  enabled: true\n")
	cfg.WriteString("  requests_per_second: 5\n")
	cfg.WriteString("  burst: 10\n\n")

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", tailscaleEnabled)
	if tailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", tsHostname)
		cfg.WriteString("  auth_key: \"${TS_AUTHKEY}\"\n")
		fmt.Fprintf(&cfg, "  funnel: %t\n", tsFunnel)
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", logFormat)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file may hold a literal secret if the user typed one in.
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Println()
	green.Printf("  ✓ Config written to %s\n", outputFile)
	fmt.Println("\nSet MICROSOFT_APP_PASSWORD, then start the bot:")
	fmt.Println("  coven-sso serve")
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
