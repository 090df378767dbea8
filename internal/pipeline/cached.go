// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pdiddy/iwantit/internal/cache"
	"github.com/pdiddy/iwantit/internal/docpath"
	"github.com/pdiddy/iwantit/internal/textnorm"
	"github.com/pdiddy/iwantit/pkg/types"
)

// cacheKey digests the step name, its settings, and the key fields of doc.
// String values are normalized so case and punctuation variants of a query
// share an entry. Absent fields are left out of the digest.
func cacheKey(b *Bound, doc *types.Document) (string, error) {
	m, err := doc.ToMap()
	if err != nil {
		return "", err
	}
	fields := make(map[string]any, len(b.Cache.KeyFields))
	for _, f := range b.Cache.KeyFields {
		v, ok := docpath.Get(m, f)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			v = textnorm.Normalize(s)
		}
		fields[f] = v
	}
	return cache.Key(map[string]any{"step": b.Name, "settings": b.Cache.Settings, "fields": fields})
}

// cacheLookup returns doc with the cached outputs of b applied, or false on
// a miss. Cache failures degrade to a miss.
func (e *Executor) cacheLookup(ctx context.Context, b *Bound, doc *types.Document) (*types.Document, string, bool) {
	key, err := cacheKey(b, doc)
	if err != nil {
		e.logger.Warn("cache key failed", "step", b.Name, "error", err)
		return nil, "", false
	}
	entry, ok, err := e.cache.Get(ctx, b.Cache.Namespace, key)
	if err != nil {
		e.logger.Warn("cache read failed", "step", b.Name, "error", err)
		return nil, key, false
	}
	if !ok {
		return nil, key, false
	}

	var values map[string]any
	if err := json.Unmarshal(entry.Value, &values); err != nil {
		e.logger.Warn("cache entry unreadable", "step", b.Name, "error", err)
		return nil, key, false
	}
	out, err := applyValues(doc, values)
	if err != nil {
		e.logger.Warn("cache entry not applicable", "step", b.Name, "error", err)
		return nil, key, false
	}
	return out, key, true
}

// cacheStore saves the emitted paths of out under key.
func (e *Executor) cacheStore(ctx context.Context, b *Bound, key string, out *types.Document) {
	m, err := out.ToMap()
	if err != nil {
		e.logger.Warn("cache encode failed", "step", b.Name, "error", err)
		return
	}
	values := make(map[string]any, len(b.Emits))
	for _, path := range b.Emits {
		if v, ok := docpath.Get(m, path); ok {
			values[path] = v
		}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		e.logger.Warn("cache encode failed", "step", b.Name, "error", err)
		return
	}
	err = e.cache.Put(ctx, cache.Entry{
		Namespace:  b.Cache.Namespace,
		Key:        key,
		Value:      raw,
		StoredAt:   e.now(),
		TTLSeconds: b.Cache.TTLSeconds,
	})
	if err != nil {
		e.logger.Warn("cache write failed", "step", b.Name, "error", err)
	}
}

func applyValues(doc *types.Document, values map[string]any) (*types.Document, error) {
	m, err := doc.ToMap()
	if err != nil {
		return nil, err
	}
	for path, v := range values {
		if err := docpath.Set(m, path, v); err != nil {
			return nil, fmt.Errorf("applying %s: %w", path, err)
		}
	}
	return types.DocumentFromMap(m)
}
