// ABOUTME: Storage interfaces and error types for coven-sso persistence
// ABOUTME: Defines ETag-versioned dedup items and per-conversation dialog state records

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// ErrConcurrencyConflict is matched (via errors.Is) by every write rejected
// by the optimistic-concurrency check.
var ErrConcurrencyConflict = errors.New("etag conflict")

// ErrClosed is returned by a store that has been closed.
var ErrClosed = errors.New("store closed")

// AnyETag makes a write unconditional.
const AnyETag = "*"

// ConflictError describes a rejected versioned write.
type ConflictError struct {
	Key          string
	ExpectedETag string
	CurrentETag  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("etag conflict on %q: expected %q, current %q", e.Key, e.ExpectedETag, e.CurrentETag)
}

// Is reports ErrConcurrencyConflict so callers can use errors.Is.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// Item is a versioned storage entry. On write, ETag carries the expected
// version: absent keys are created with a fresh store-assigned ETag, "*"
// overwrites unconditionally, and anything else must equal the current ETag.
type Item struct {
	ETag string
}

// Storage is the optimistic-concurrency key/value collaborator.
type Storage interface {
	// Write stores all items or none of them. A version mismatch on any key
	// fails the whole write with a *ConflictError.
	Write(ctx context.Context, items map[string]Item) error
	// Delete removes the listed keys. Missing keys are not an error.
	Delete(ctx context.Context, keys []string) error
}

// StateStore persists serialized dialog state per conversation.
type StateStore interface {
	LoadDialog(ctx context.Context, key string) ([]byte, error)
	SaveDialog(ctx context.Context, key string, state []byte) error
	DeleteDialog(ctx context.Context, key string) error
}

// Sweeper removes dedup entries created before a cutoff. Entries normally go
// away when their dialog ends; sweeping catches dialogs that never finished.
type Sweeper interface {
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// Store is everything the bot needs from a backend.
type Store interface {
	Storage
	StateStore
	Sweeper
	// Ping reports whether the backend can serve requests.
	Ping(ctx context.Context) error
	Close() error
}
