// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cache stores step results keyed by a digest of the document
// fields each step depends on. Entries carry their own TTL and an expired
// entry is indistinguishable from a miss. Stores tolerate concurrent
// processes writing the same key: every write replaces the entry whole and
// the last writer wins.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pdiddy/iwantit/pkg/types"
)

// Entry is one persisted cache record.
type Entry struct {
	Namespace  string          `json:"namespace"`
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	StoredAt   time.Time       `json:"stored_at"`
	TTLSeconds int64           `json:"ttl_seconds"`
}

// Valid reports whether the entry is still fresh at now.
func (e Entry) Valid(now time.Time) bool {
	return now.Before(e.StoredAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// Store is a cache backend.
type Store interface {
	// Get returns the entry stored under namespace and key. Expired and
	// unreadable entries are reported as misses.
	Get(ctx context.Context, namespace, key string) (Entry, bool, error)

	// Put replaces the entry for e.Namespace and e.Key atomically.
	Put(ctx context.Context, e Entry) error

	// Prune deletes expired entries and returns how many were removed.
	Prune(ctx context.Context) (int, error)

	// Clear deletes every entry in namespace, or every entry when namespace
	// is empty.
	Clear(ctx context.Context, namespace string) (int, error)

	Close() error
}

// Key derives a cache key from v. encoding/json writes map keys in sorted
// order, so equal values always produce the same digest.
func Key(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

const (
	defaultMemoryEntries = 256
	sqliteFile           = "cache.db"
	filesDir             = "entries"
)

// Open returns the store selected by cfg, rooted at dir. It returns a nil
// Store when caching is disabled.
func Open(cfg types.CacheConfig, dir string) (Store, error) {
	size := cfg.MemoryEntries
	if size <= 0 {
		size = defaultMemoryEntries
	}
	var next Store
	switch cfg.Backend {
	case types.CacheNone:
		return nil, nil
	case types.CacheSQLite:
		s, err := NewSQLiteStore(filepath.Join(dir, sqliteFile))
		if err != nil {
			return nil, err
		}
		next = s
	case types.CacheFile, "":
		next = NewFileStore(filepath.Join(dir, filesDir))
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
	return NewLayered(size, next)
}
