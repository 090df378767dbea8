// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Layered fronts a persistent store with a bounded in-process LRU. Entries
// expire in memory on the same TTL as on disk.
type Layered struct {
	mem  *lru.Cache[string, Entry]
	next Store
	now  func() time.Time
}

// NewLayered returns a Layered store holding up to size entries in memory.
// next may be nil for a memory-only cache.
func NewLayered(size int, next Store) (*Layered, error) {
	mem, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("creating memory cache: %w", err)
	}
	return &Layered{mem: mem, next: next, now: time.Now}, nil
}

func memKey(namespace, key string) string {
	return namespace + "\x00" + key
}

// Get implements Store.
func (l *Layered) Get(ctx context.Context, namespace, key string) (Entry, bool, error) {
	mk := memKey(namespace, key)
	if e, ok := l.mem.Get(mk); ok {
		if e.Valid(l.now()) {
			return e, true, nil
		}
		l.mem.Remove(mk)
	}
	if l.next == nil {
		return Entry{}, false, nil
	}
	e, ok, err := l.next.Get(ctx, namespace, key)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	l.mem.Add(mk, e)
	return e, true, nil
}

// Put implements Store.
func (l *Layered) Put(ctx context.Context, e Entry) error {
	if l.next != nil {
		if err := l.next.Put(ctx, e); err != nil {
			return err
		}
	}
	l.mem.Add(memKey(e.Namespace, e.Key), e)
	return nil
}

// Prune implements Store.
func (l *Layered) Prune(ctx context.Context) (int, error) {
	l.mem.Purge()
	if l.next == nil {
		return 0, nil
	}
	return l.next.Prune(ctx)
}

// Clear implements Store.
func (l *Layered) Clear(ctx context.Context, namespace string) (int, error) {
	l.mem.Purge()
	if l.next == nil {
		return 0, nil
	}
	return l.next.Clear(ctx, namespace)
}

// Close implements Store.
func (l *Layered) Close() error {
	if l.next == nil {
		return nil
	}
	return l.next.Close()
}
