// ABOUTME: Bot server that wires storage, the SSO dialog, and the Bot Framework messaging endpoint
// ABOUTME: Manages HTTP (or Tailscale) listeners, the dedup sweeper, and shutdown

package bot

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/coven-sso/internal/activity"
	"github.com/2389/coven-sso/internal/command"
	"github.com/2389/coven-sso/internal/config"
	"github.com/2389/coven-sso/internal/connector"
	"github.com/2389/coven-sso/internal/dedupe"
	"github.com/2389/coven-sso/internal/dialog"
	"github.com/2389/coven-sso/internal/profile"
	"github.com/2389/coven-sso/internal/sso"
	"github.com/2389/coven-sso/internal/store"
)

// Options overrides collaborators that New would otherwise build from config.
type Options struct {
	Store     store.Store
	Exchanger sso.TokenExchanger
	Sender    activity.Sender
	// GraphClient is the HTTP client used for Microsoft Graph calls.
	GraphClient *http.Client
}

// Bot serves the Bot Framework messaging endpoint.
type Bot struct {
	config      *config.Config
	store       store.Store
	sender      activity.Sender
	host        *dialog.Host
	limiter     *ConversationLimiter
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// endpoint is the public messaging URL, once known
	endpoint string
}

// openStore creates the storage backend named by cfg.
func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return store.NewSQLiteStore(cfg.Path)
	case config.DriverPostgres:
		return store.NewPostgresStore(ctx, cfg.DSN)
	case config.DriverMemory, "":
		// The bot's sweeper expires entries, so the store runs no timer of its own.
		return store.NewMemoryStore(0), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// New builds a bot from configuration.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st := opts.Store
	if st == nil {
		var err error
		st, err = openStore(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
	}

	exchanger := opts.Exchanger
	if exchanger == nil {
		msal, err := sso.NewMSALExchanger(cfg.Bot.AuthorityHost, cfg.Bot.TenantID, cfg.Bot.AppID, cfg.Bot.AppPassword)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("initializing token exchange: %w", err)
		}
		exchanger = msal
	}

	sender := opts.Sender
	if sender == nil {
		sender = connector.New(context.WithoutCancel(ctx), connector.Config{
			AppID:       cfg.Bot.AppID,
			AppPassword: cfg.Bot.AppPassword,
			TenantID:    cfg.Bot.TenantID,
			LoginHost:   cfg.Bot.AuthorityHost,
		}, logger)
	}

	prompt, err := sso.NewTeamsPrompt(sso.Settings{
		ClientID:              cfg.Bot.AppID,
		TenantID:              cfg.Bot.TenantID,
		ApplicationIDURI:      cfg.Bot.ApplicationIDURI,
		InitiateLoginEndpoint: cfg.Bot.InitiateLoginEndpoint,
		Scopes:                cfg.Bot.Scopes,
		EndOnInvalidMessage:   cfg.Bot.EndOnInvalidMessage,
		Timeout:               cfg.Bot.PromptTimeout,
	}, exchanger, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("creating sso prompt: %w", err)
	}

	show := profile.NewShow(exchanger, profile.NewGraphClient(cfg.Graph.BaseURL, opts.GraphClient), cfg.Graph.Scopes, logger)
	commands, err := command.NewTable(show.Command())
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("building command table: %w", err)
	}

	gate := dedupe.NewGate(st, logger)
	sd := dialog.NewSSODialog(prompt, gate, commands, logger)

	b := &Bot{
		config: cfg,
		store:  st,
		sender: sender,
		host:   dialog.NewHost(sd, st, logger),
		logger: logger,
	}
	if cfg.RateLimit.Enabled {
		b.limiter = NewConversationLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.RateLimit.MaxTracked)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/messages", b.handleMessages)
	mux.HandleFunc("GET /health", b.handleHealth)
	mux.HandleFunc("GET /health/ready", b.handleReady)

	b.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return b, nil
}

// Handler returns the HTTP handler serving the bot's routes.
func (b *Bot) Handler() http.Handler {
	return b.httpServer.Handler
}

// setupListener creates the HTTP listener (Tailscale or TCP).
func (b *Bot) setupListener(ctx context.Context) (net.Listener, error) {
	if b.config.Tailscale.Enabled {
		if b.config.Server.HTTPAddr != "" {
			b.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", b.config.Server.HTTPAddr)
		}
		return b.setupTailscaleListener(ctx)
	}

	b.logger.Info("starting bot", "http_addr", b.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", b.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// Run starts the HTTP server and the dedup sweeper and blocks until the
// context is canceled. Returns nil on graceful shutdown.
func (b *Bot) Run(ctx context.Context) error {
	ln, err := b.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		b.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "endpoint", b.endpoint)
		if err := b.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go b.runSweeper(sweepCtx, b.config.Storage.DedupTTL)

	var serverErr error
	select {
	case <-ctx.Done():
		b.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		b.logger.Error("server error", "error", serverErr)
	}

	stopSweep()
	shutdownErr := b.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// runSweeper removes dedup entries left behind by dialogs that never ended.
func (b *Bot) runSweeper(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	interval := ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.sweep(ctx, ttl)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bot) sweep(ctx context.Context, ttl time.Duration) {
	n, err := b.store.Sweep(ctx, time.Now().Add(-ttl))
	if err != nil {
		b.logger.Warn("dedup sweep failed", "error", err)
		return
	}
	if n > 0 {
		b.logger.Info("swept stale dedup entries", "count", n)
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (b *Bot) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "coven-sso", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and listens on it. With Funnel
// the messaging endpoint is reachable from the Bot Framework service.
func (b *Bot) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := b.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	b.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	b.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := b.tsnetServer.Up(ctx)
	if err != nil {
		_ = b.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	b.recordTailscaleStatus(tsCfg.Hostname, status)

	if tsCfg.Funnel {
		b.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := b.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = b.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	}

	ln, err := b.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = b.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := b.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = b.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// recordTailscaleStatus logs the node status and derives the messaging endpoint.
func (b *Bot) recordTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		b.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	if dnsName != "" {
		b.endpoint = "https://" + dnsName + "/api/messages"
	}
	b.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the server and releases resources.
func (b *Bot) Shutdown(ctx context.Context) error {
	b.logger.Info("shutting down bot")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", b.httpServer.Shutdown(ctx))
	if b.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", b.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", b.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
