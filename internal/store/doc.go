// Package store persists dedup markers and dialog state for coven-sso.
//
// # Architecture
//
// Two small interfaces split the concerns:
//
//   - Storage: ETag-versioned items keyed by channel/conversation/exchange id
//   - StateStore: opaque per-conversation dialog state blobs
//
// Store combines both with Sweep, Ping, and Close. MemoryStore and SQLStore
// implement it; SQLStore runs on SQLite (modernc.org/sqlite) or Postgres
// (pgx stdlib driver).
//
// # Versioned Writes
//
// Write applies a batch all-or-nothing:
//
//   - absent key: the item is created with a fresh ETag
//   - ETag "*": the item is overwritten unconditionally
//   - matching ETag: the item is overwritten with a fresh ETag
//   - anything else: *ConflictError, which matches ErrConcurrencyConflict
//
// Concurrent writers to the same absent key see exactly one winner.
//
// # SQLite Configuration
//
// The SQLite store enables WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//
// Database file locations:
//
//   - Development: ~/.local/share/coven/sso.db
//   - Testing: a file under t.TempDir()
//
// # Expiry
//
// Items carry their write time. Sweep removes items older than a cutoff; the
// bot runs it on a ticker with the configured dedup TTL.
package store
