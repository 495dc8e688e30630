// ABOUTME: Tests for the bot HTTP surface
// ABOUTME: Drives full sign-in flows through /api/messages with fake Graph and token exchange

package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-sso/internal/activity"
	"github.com/2389/coven-sso/internal/config"
	"github.com/2389/coven-sso/internal/sso"
	"github.com/2389/coven-sso/internal/store"
)

type fakeExchanger struct{}

func (fakeExchanger) ExchangeOnBehalfOf(ctx context.Context, ssoToken string, scopes []string) (*sso.AccessToken, error) {
	return &sso.AccessToken{Token: "graph-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Bot: config.BotConfig{
			AppID:                 "app-id",
			AppPassword:           "secret",
			TenantID:              "tenant-id",
			ApplicationIDURI:      "api://bot.example.com/app-id",
			InitiateLoginEndpoint: "https://bot.example.com/auth-start.html",
			Scopes:                []string{"User.Read"},
		},
		Storage: config.StorageConfig{Driver: config.DriverMemory, DedupTTL: time.Hour},
		Graph:   config.GraphConfig{Scopes: []string{"User.Read"}},
	}
}

type testBot struct {
	bot      *Bot
	store    *store.MemoryStore
	recorder *activity.Recorder
	server   *httptest.Server
}

func newTestBot(t *testing.T, mutate func(*config.Config)) *testBot {
	t.Helper()

	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1.0/me":
			_, _ = w.Write([]byte(`{"displayName":"Ada Lovelace","mail":"ada@example.com"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(graph.Close)

	cfg := testConfig()
	cfg.Graph.BaseURL = graph.URL
	if mutate != nil {
		mutate(cfg)
	}

	st := store.NewMemoryStore(0)
	rec := activity.NewRecorder()
	b, err := New(context.Background(), cfg, Options{
		Store:     st,
		Exchanger: fakeExchanger{},
		Sender:    rec,
	}, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = st.Close() })
	return &testBot{bot: b, store: st, recorder: rec, server: srv}
}

func (tb *testBot) post(t *testing.T, a *activity.Activity) *http.Response {
	t.Helper()
	body, err := json.Marshal(a)
	require.NoError(t, err)
	resp, err := http.Post(tb.server.URL+"/api/messages", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func ssoToken(t *testing.T) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	return s
}

func messageActivity(text string) *activity.Activity {
	return &activity.Activity{
		Type:         activity.TypeMessage,
		ID:           "m1",
		ChannelID:    "msteams",
		ServiceURL:   "https://smba.example.com/",
		Text:         text,
		From:         activity.ChannelAccount{ID: "user"},
		Recipient:    activity.ChannelAccount{ID: "bot"},
		Conversation: activity.ConversationAccount{ID: "conv-1"},
	}
}

func exchangeActivity(t *testing.T, exchangeID, token string) *activity.Activity {
	t.Helper()
	a := messageActivity("")
	a.Type = activity.TypeInvoke
	a.Name = activity.InvokeTokenExchange
	raw, err := json.Marshal(activity.TokenExchangeInvokeRequest{ID: exchangeID, ConnectionName: "sso", Token: token})
	require.NoError(t, err)
	a.Value = raw
	return a
}

func TestMessages_SignInFlow(t *testing.T) {
	tb := newTestBot(t, nil)

	resp := tb.post(t, messageActivity("show"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	sent := tb.recorder.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, sso.OAuthCardContentType, sent[0].Attachments[0].ContentType)

	resp = tb.post(t, exchangeActivity(t, "ex-1", ssoToken(t)))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body activity.TokenExchangeInvokeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ex-1", body.ID)
	assert.Equal(t, "sso", body.ConnectionName)

	sent = tb.recorder.Sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1].Text, "Ada Lovelace")
	assert.Equal(t, 0, tb.store.Len(), "dedup entries released at dialog end")

	// A late duplicate finds no dialog and is only acknowledged.
	resp = tb.post(t, exchangeActivity(t, "ex-1", ssoToken(t)))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, tb.recorder.Sent(), 2)
}

func TestMessages_MissingTokenIsPreconditionFailed(t *testing.T) {
	tb := newTestBot(t, nil)
	tb.post(t, messageActivity("show"))

	resp := tb.post(t, exchangeActivity(t, "ex-1", ""))
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	var body activity.TokenExchangeInvokeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.FailureDetail)
}

func TestMessages_InvalidBody(t *testing.T) {
	tb := newTestBot(t, nil)
	resp, err := http.Post(tb.server.URL+"/api/messages", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMessages_IgnoresOtherActivityTypes(t *testing.T) {
	tb := newTestBot(t, nil)
	a := messageActivity("")
	a.Type = activity.TypeConversation

	resp := tb.post(t, a)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, tb.recorder.Sent())
}

func TestMessages_RateLimited(t *testing.T) {
	tb := newTestBot(t, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1, MaxTracked: 10}
	})

	assert.Equal(t, http.StatusOK, tb.post(t, messageActivity("show")).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, tb.post(t, messageActivity("show")).StatusCode)
}

func TestMessages_MethodNotAllowed(t *testing.T) {
	tb := newTestBot(t, nil)
	resp, err := http.Get(tb.server.URL + "/api/messages")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	tb := newTestBot(t, nil)

	resp, err := http.Get(tb.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(tb.server.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, tb.store.Close())
	resp, err = http.Get(tb.server.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSweep_RemovesStaleEntries(t *testing.T) {
	tb := newTestBot(t, nil)
	ctx := context.Background()
	require.NoError(t, tb.store.Write(ctx, map[string]store.Item{"msteams/conv-9/ex-9": {ETag: "ex-9"}}))

	tb.bot.sweep(ctx, time.Hour)
	assert.Equal(t, 1, tb.store.Len(), "fresh entries survive")

	tb.bot.sweep(ctx, -time.Second)
	assert.Equal(t, 0, tb.store.Len())
}

func TestOpenStore(t *testing.T) {
	st, err := openStore(context.Background(), config.StorageConfig{Driver: config.DriverSQLite, Path: t.TempDir() + "/sso.db"})
	require.NoError(t, err)
	require.NoError(t, st.Ping(context.Background()))
	require.NoError(t, st.Close())

	_, err = openStore(context.Background(), config.StorageConfig{Driver: "redis"})
	assert.Error(t, err)
}
