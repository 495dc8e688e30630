// ABOUTME: Per-conversation token-bucket rate limiting for inbound activities
// ABOUTME: Bounds the number of tracked conversations so rotating ids cannot exhaust memory

package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleAfter is how long a conversation limiter may sit unused before it is pruned.
const idleAfter = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ConversationLimiter hands out one token bucket per conversation key.
// Safe for concurrent use.
type ConversationLimiter struct {
	mu         sync.Mutex
	entries    map[string]*limiterEntry
	limit      rate.Limit
	burst      int
	maxTracked int
	now        func() time.Time
}

// NewConversationLimiter allows perSecond events per conversation with the
// given burst, tracking at most maxTracked conversations.
func NewConversationLimiter(perSecond float64, burst, maxTracked int) *ConversationLimiter {
	if burst < 1 {
		burst = 1
	}
	if maxTracked < 1 {
		maxTracked = 1
	}
	return &ConversationLimiter{
		entries:    make(map[string]*limiterEntry),
		limit:      rate.Limit(perSecond),
		burst:      burst,
		maxTracked: maxTracked,
		now:        time.Now,
	}
}

// Allow reports whether one more activity for key may proceed now.
func (l *ConversationLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		l.makeRoom(now)
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Len returns the number of tracked conversations.
func (l *ConversationLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// makeRoom prunes idle entries when at the cap, then evicts the least
// recently seen entry if that was not enough.
func (l *ConversationLimiter) makeRoom(now time.Time) {
	if len(l.entries) < l.maxTracked {
		return
	}
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) >= idleAfter {
			delete(l.entries, k)
		}
	}
	for len(l.entries) >= l.maxTracked {
		var oldestKey string
		var oldest time.Time
		for k, e := range l.entries {
			if oldestKey == "" || e.lastSeen.Before(oldest) {
				oldestKey, oldest = k, e.lastSeen
			}
		}
		delete(l.entries, oldestKey)
	}
}
