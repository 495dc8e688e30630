// ABOUTME: Bot Connector client that posts replies back to the channel's service URL
// ABOUTME: Authenticates as the bot with the OAuth2 client-credentials flow

package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/2389/coven-sso/internal/activity"
)

// DefaultScope is the Bot Framework token audience.
const DefaultScope = "https://api.botframework.com/.default"

// DefaultLoginHost is the identity endpoint used to build the token URL.
const DefaultLoginHost = "https://login.microsoftonline.com"

// ErrNoServiceURL is returned when a reply has nowhere to go.
var ErrNoServiceURL = errors.New("activity has no service url")

// Config identifies the bot to the Bot Connector service.
type Config struct {
	AppID       string
	AppPassword string
	TenantID    string
	// TokenURL overrides the token endpoint derived from LoginHost and TenantID.
	TokenURL  string
	LoginHost string
	Scopes    []string
}

func (c Config) tokenURL() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	host := c.LoginHost
	if host == "" {
		host = DefaultLoginHost
	}
	tenant := c.TenantID
	if tenant == "" {
		tenant = "botframework.com"
	}
	return strings.TrimRight(host, "/") + "/" + tenant + "/oauth2/v2.0/token"
}

// Client implements activity.Sender.
type Client struct {
	http   *http.Client
	logger *slog.Logger
}

// New creates a client whose requests carry a bot token. The token is fetched
// and refreshed on demand using ctx, which may carry an oauth2.HTTPClient.
func New(ctx context.Context, cfg Config, logger *slog.Logger) *Client {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{DefaultScope}
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.AppID,
		ClientSecret: cfg.AppPassword,
		TokenURL:     cfg.tokenURL(),
		Scopes:       scopes,
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:   cc.Client(ctx),
		logger: logger.With("component", "connector"),
	}
}

// SendActivity posts reply to its conversation.
func (c *Client) SendActivity(ctx context.Context, reply *activity.Activity) (*activity.ResourceResponse, error) {
	if reply.ServiceURL == "" {
		return nil, ErrNoServiceURL
	}

	endpoint := strings.TrimRight(reply.ServiceURL, "/") +
		"/v3/conversations/" + url.PathEscape(reply.Conversation.ID) + "/activities"
	if reply.ReplyToID != "" {
		endpoint += "/" + url.PathEscape(reply.ReplyToID)
	}

	body, err := json.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("encoding activity: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting activity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Warn("connector rejected activity",
			"status", resp.StatusCode,
			"conversation_id", reply.Conversation.ID,
		)
		return nil, fmt.Errorf("connector returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var rr activity.ResourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding connector response: %w", err)
	}
	return &rr, nil
}
