// ABOUTME: Dedup gate that lets exactly one token-exchange invoke per exchange id proceed
// ABOUTME: Claims keys through the store's ETag check and tracks them for per-conversation cleanup

package dedupe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/coven-sso/internal/activity"
	"github.com/2389/coven-sso/internal/store"
)

// ErrInvalidContext is returned when a dedup key is requested for an activity
// that is not a signin/tokenExchange invoke carrying an exchange id.
var ErrInvalidContext = errors.New("invalid context: dedup requires a signin/tokenExchange invoke")

// Key returns "channelId/conversationId/exchangeEventId" for a token-exchange invoke.
func Key(a *activity.Activity) (string, error) {
	key, _, err := exchangeKey(a)
	return key, err
}

// exchangeKey returns the dedup key and the exchange event id of a.
func exchangeKey(a *activity.Activity) (string, string, error) {
	if a == nil || a.Type != activity.TypeInvoke || a.Name != activity.InvokeTokenExchange {
		return "", "", ErrInvalidContext
	}
	if a.Conversation.ID == "" {
		return "", "", fmt.Errorf("%w: missing conversation id", ErrInvalidContext)
	}

	var req activity.TokenExchangeInvokeRequest
	if err := a.DecodeValue(&req); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidContext, err)
	}
	if req.ID == "" {
		return "", "", fmt.Errorf("%w: missing value.id", ErrInvalidContext)
	}

	return a.ChannelID + "/" + a.Conversation.ID + "/" + req.ID, req.ID, nil
}

// Gate claims token-exchange events in a shared store.
type Gate struct {
	storage store.Storage
	logger  *slog.Logger

	// keys written by this gate, oldest first; only used to scope cleanup
	mu   sync.Mutex
	keys []string
}

// NewGate creates a Gate backed by storage.
func NewGate(storage store.Storage, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		storage: storage,
		logger:  logger.With("component", "dedupe"),
	}
}

// ShouldDedup claims the exchange carried by a. It returns true when another
// delivery already claimed it, false when this call won. Any store failure
// other than a version conflict is returned unchanged.
func (g *Gate) ShouldDedup(ctx context.Context, a *activity.Activity) (bool, error) {
	key, exchangeID, err := exchangeKey(a)
	if err != nil {
		return false, err
	}

	err = g.storage.Write(ctx, map[string]store.Item{key: {ETag: exchangeID}})
	if errors.Is(err, store.ErrConcurrencyConflict) {
		g.logger.Debug("duplicate token exchange suppressed", "key", key)
		return true, nil
	}
	if err != nil {
		return false, err
	}

	g.mu.Lock()
	g.keys = append(g.keys, key)
	g.mu.Unlock()

	g.logger.Debug("token exchange claimed", "key", key)
	return false, nil
}

// Release gives up the claim on a's exchange so a redelivery can run again.
func (g *Gate) Release(ctx context.Context, a *activity.Activity) error {
	key, err := Key(a)
	if err != nil {
		return err
	}
	if err := g.storage.Delete(ctx, []string{key}); err != nil {
		return fmt.Errorf("releasing dedup key: %w", err)
	}

	g.mu.Lock()
	remaining := g.keys[:0]
	for _, k := range g.keys {
		if k != key {
			remaining = append(remaining, k)
		}
	}
	g.keys = remaining
	g.mu.Unlock()

	g.logger.Debug("token exchange released", "key", key)
	return nil
}

// Cleanup deletes every claimed key that belongs to conversationID from the
// store and the registry. Keys of other conversations are left alone.
func (g *Gate) Cleanup(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return nil
	}

	g.mu.Lock()
	var owned []string
	for _, key := range g.keys {
		if strings.Contains(key, conversationID) {
			owned = append(owned, key)
		}
	}
	g.mu.Unlock()

	if len(owned) == 0 {
		return nil
	}

	if err := g.storage.Delete(ctx, owned); err != nil {
		return fmt.Errorf("deleting dedup keys: %w", err)
	}

	deleted := make(map[string]struct{}, len(owned))
	for _, key := range owned {
		deleted[key] = struct{}{}
	}

	g.mu.Lock()
	remaining := g.keys[:0]
	for _, key := range g.keys {
		if _, ok := deleted[key]; !ok {
			remaining = append(remaining, key)
		}
	}
	g.keys = remaining
	g.mu.Unlock()

	g.logger.Debug("dedup keys cleaned up", "conversation_id", conversationID, "count", len(owned))
	return nil
}

// Keys returns a snapshot of the registry.
func (g *Gate) Keys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.keys))
	copy(out, g.keys)
	return out
}
