// ABOUTME: Tests for the per-conversation rate limiter
// ABOUTME: Uses a controllable clock so token refill is deterministic

package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConversationLimiter_Burst(t *testing.T) {
	l := NewConversationLimiter(1, 2, 10)
	clock := time.Unix(1000, 0)
	l.now = func() time.Time { return clock }

	assert.True(t, l.Allow("msteams/a"))
	assert.True(t, l.Allow("msteams/a"))
	assert.False(t, l.Allow("msteams/a"), "burst exhausted")
	assert.True(t, l.Allow("msteams/b"), "conversations are limited independently")

	clock = clock.Add(time.Second)
	assert.True(t, l.Allow("msteams/a"), "one token refilled")
	assert.False(t, l.Allow("msteams/a"))
}

func TestConversationLimiter_BoundsTrackedKeys(t *testing.T) {
	l := NewConversationLimiter(1, 1, 2)
	clock := time.Unix(1000, 0)
	l.now = func() time.Time { return clock }

	l.Allow("a")
	clock = clock.Add(time.Second)
	l.Allow("b")
	clock = clock.Add(time.Second)
	l.Allow("c")
	assert.Equal(t, 2, l.Len())

	// "a" was the least recently seen and was evicted, so it starts fresh.
	assert.True(t, l.Allow("a"))
	assert.Equal(t, 2, l.Len())
}

func TestConversationLimiter_PrunesIdle(t *testing.T) {
	l := NewConversationLimiter(1, 1, 2)
	clock := time.Unix(1000, 0)
	l.now = func() time.Time { return clock }

	l.Allow("a")
	l.Allow("b")
	clock = clock.Add(idleAfter)
	l.Allow("c")
	assert.Equal(t, 1, l.Len())
}
