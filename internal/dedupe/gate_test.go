// ABOUTME: Tests for the token-exchange dedup gate
// ABOUTME: Validates key computation, single-winner claims, error propagation, and scoped cleanup

package dedupe

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-sso/internal/activity"
	"github.com/2389/coven-sso/internal/store"
)

func exchangeInvoke(conversationID, exchangeID string) *activity.Activity {
	value, _ := json.Marshal(activity.TokenExchangeInvokeRequest{ID: exchangeID, Token: "sso-token"})
	return &activity.Activity{
		Type:         activity.TypeInvoke,
		Name:         activity.InvokeTokenExchange,
		ChannelID:    "msteams",
		Conversation: activity.ConversationAccount{ID: conversationID},
		Value:        value,
	}
}

// failingStorage returns err from every call.
type failingStorage struct{ err error }

func (f failingStorage) Write(ctx context.Context, items map[string]store.Item) error { return f.err }
func (f failingStorage) Delete(ctx context.Context, keys []string) error             { return f.err }

func TestKey(t *testing.T) {
	key, err := Key(exchangeInvoke("conv-1", "ex-1"))
	require.NoError(t, err)
	assert.Equal(t, "msteams/conv-1/ex-1", key)
}

func TestKey_InvalidContext(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *activity.Activity)
	}{
		{"message activity", func(a *activity.Activity) { a.Type = activity.TypeMessage }},
		{"verify state invoke", func(a *activity.Activity) { a.Name = activity.InvokeVerifyState }},
		{"missing conversation", func(a *activity.Activity) { a.Conversation.ID = "" }},
		{"missing value", func(a *activity.Activity) { a.Value = nil }},
		{"missing value id", func(a *activity.Activity) { a.Value = json.RawMessage(`{"token":"t"}`) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := exchangeInvoke("conv-1", "ex-1")
			tt.mutate(a)

			_, err := Key(a)
			assert.ErrorIs(t, err, ErrInvalidContext)
		})
	}

	_, err := Key(nil)
	assert.ErrorIs(t, err, ErrInvalidContext)
}

func TestShouldDedup_FirstWinsThenDuplicate(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	gate := NewGate(st, nil)
	ctx := context.Background()

	dup, err := gate.ShouldDedup(ctx, exchangeInvoke("conv-1", "ex-1"))
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, []string{"msteams/conv-1/ex-1"}, gate.Keys())

	dup, err = gate.ShouldDedup(ctx, exchangeInvoke("conv-1", "ex-1"))
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Len(t, gate.Keys(), 1, "duplicates are not registered")

	dup, err = gate.ShouldDedup(ctx, exchangeInvoke("conv-1", "ex-2"))
	require.NoError(t, err)
	assert.False(t, dup, "a different exchange id is a new event")
}

func TestShouldDedup_InvalidContextFailsFast(t *testing.T) {
	gate := NewGate(store.NewMemoryStore(0), nil)

	a := exchangeInvoke("conv-1", "ex-1")
	a.Type = activity.TypeMessage

	_, err := gate.ShouldDedup(context.Background(), a)
	assert.ErrorIs(t, err, ErrInvalidContext)
}

func TestShouldDedup_PropagatesStoreFailure(t *testing.T) {
	boom := errors.New("disk on fire")
	gate := NewGate(failingStorage{err: boom}, nil)

	_, err := gate.ShouldDedup(context.Background(), exchangeInvoke("conv-1", "ex-1"))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, gate.Keys())
}

func TestShouldDedup_ConcurrentOneProceeds(t *testing.T) {
	backends := map[string]store.Storage{
		"memory": store.NewMemoryStore(0),
	}
	sqlite, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "dedup.db"))
	require.NoError(t, err)
	defer sqlite.Close()
	backends["sqlite"] = sqlite

	for name, st := range backends {
		t.Run(name, func(t *testing.T) {
			gate := NewGate(st, nil)
			ctx := context.Background()

			const deliveries = 25
			var proceeded, skipped int32
			var wg sync.WaitGroup
			wg.Add(deliveries)

			for i := 0; i < deliveries; i++ {
				go func() {
					defer wg.Done()
					dup, err := gate.ShouldDedup(ctx, exchangeInvoke("conv-1", "ex-1"))
					if err != nil {
						t.Errorf("ShouldDedup: %v", err)
						return
					}
					if dup {
						atomic.AddInt32(&skipped, 1)
					} else {
						atomic.AddInt32(&proceeded, 1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), proceeded, "exactly one delivery should proceed")
			assert.Equal(t, int32(deliveries-1), skipped)
		})
	}
}

func TestCleanup_ScopedToConversation(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	gate := NewGate(st, nil)
	ctx := context.Background()

	for _, a := range []*activity.Activity{
		exchangeInvoke("conv-1", "ex-1"),
		exchangeInvoke("conv-1", "ex-2"),
		exchangeInvoke("conv-2", "ex-3"),
	} {
		dup, err := gate.ShouldDedup(ctx, a)
		require.NoError(t, err)
		require.False(t, dup)
	}

	require.NoError(t, gate.Cleanup(ctx, "conv-1"))

	assert.Equal(t, []string{"msteams/conv-2/ex-3"}, gate.Keys())
	_, err := st.ETag("msteams/conv-1/ex-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.ETag("msteams/conv-1/ex-2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.ETag("msteams/conv-2/ex-3")
	assert.NoError(t, err, "other conversations keep their keys")

	// Once cleaned up, the same exchange may be claimed again
	dup, err := gate.ShouldDedup(ctx, exchangeInvoke("conv-1", "ex-1"))
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestCleanup_EmptyConversationIsNoop(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	gate := NewGate(st, nil)
	ctx := context.Background()

	_, err := gate.ShouldDedup(ctx, exchangeInvoke("conv-1", "ex-1"))
	require.NoError(t, err)

	require.NoError(t, gate.Cleanup(ctx, ""))
	assert.Len(t, gate.Keys(), 1)
}

func TestCleanup_StoreFailureKeepsRegistry(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	gate := NewGate(st, nil)
	ctx := context.Background()

	_, err := gate.ShouldDedup(ctx, exchangeInvoke("conv-1", "ex-1"))
	require.NoError(t, err)

	gate.storage = failingStorage{err: errors.New("unavailable")}
	assert.Error(t, gate.Cleanup(ctx, "conv-1"))
	assert.Len(t, gate.Keys(), 1, "keys stay registered so a later cleanup can retry")
}

func TestShouldDedup_ClaimUsesExchangeID(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	gate := NewGate(st, nil)

	_, err := gate.ShouldDedup(context.Background(), exchangeInvoke("conv-1", "ex-1"))
	require.NoError(t, err)

	// A writer that presents the exchange id as its version still loses.
	err = st.Write(context.Background(), map[string]store.Item{"msteams/conv-1/ex-1": {ETag: "ex-1"}})
	assert.ErrorIs(t, err, store.ErrConcurrencyConflict)
}

func TestRelease_AllowsReclaim(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	gate := NewGate(st, nil)
	ctx := context.Background()

	for _, a := range []*activity.Activity{exchangeInvoke("conv-1", "ex-1"), exchangeInvoke("conv-1", "ex-2")} {
		_, err := gate.ShouldDedup(ctx, a)
		require.NoError(t, err)
	}

	require.NoError(t, gate.Release(ctx, exchangeInvoke("conv-1", "ex-1")))
	assert.Equal(t, []string{"msteams/conv-1/ex-2"}, gate.Keys())
	assert.Equal(t, 1, st.Len())

	dup, err := gate.ShouldDedup(ctx, exchangeInvoke("conv-1", "ex-1"))
	require.NoError(t, err)
	assert.False(t, dup, "a released exchange can be claimed again")
}

func TestRelease_InvalidContext(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	gate := NewGate(st, nil)

	a := exchangeInvoke("conv-1", "ex-1")
	a.Type = activity.TypeMessage
	assert.ErrorIs(t, gate.Release(context.Background(), a), ErrInvalidContext)
}
