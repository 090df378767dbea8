// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package websearch queries general web search providers and returns
// merged, deduplicated results used to identify the work behind a query.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/pdiddy/iwantit/internal/textnorm"
	"github.com/pdiddy/iwantit/pkg/types"
)

// Backend searches a single provider.
type Backend interface {
	Name() string
	Search(ctx context.Context, query string, max int) ([]types.WebResult, error)
}

// Output holds the merged results and per-provider failures.
type Output struct {
	Results       []types.WebResult `json:"results"`
	DupsRemoved   int               `json:"dups_removed,omitempty"`
	BackendErrors []string          `json:"backend_errors,omitempty"`
}

// ErrAllFailed is returned when every backend failed.
var ErrAllFailed = errors.New("all web search providers failed")

// Search fans the query out to all backends concurrently, deduplicates
// results by URL and normalized title, and returns at most max results by
// descending confidence. A failing backend is logged and skipped; if all
// fail the first error is returned wrapped in ErrAllFailed.
func Search(ctx context.Context, query string, backends []Backend, max int, logger *slog.Logger) (Output, error) {
	if strings.TrimSpace(query) == "" {
		return Output{}, fmt.Errorf("query is empty")
	}
	if len(backends) == 0 {
		return Output{}, fmt.Errorf("no web search providers configured")
	}

	type backendResult struct {
		idx     int
		results []types.WebResult
		err     error
		name    string
	}

	ch := make(chan backendResult, len(backends))
	var wg sync.WaitGroup
	for i, b := range backends {
		wg.Add(1)
		go func(i int, b Backend) {
			defer wg.Done()
			results, err := b.Search(ctx, query, max)
			ch <- backendResult{idx: i, results: results, err: err, name: b.Name()}
		}(i, b)
	}
	wg.Wait()
	close(ch)

	// Merge in configured provider order so ties are stable.
	ordered := make([]backendResult, len(backends))
	for br := range ch {
		ordered[br.idx] = br
	}

	var all []types.WebResult
	var out Output
	var firstErr error
	for _, br := range ordered {
		if br.err != nil {
			out.BackendErrors = append(out.BackendErrors, fmt.Sprintf("%s: %v", br.name, br.err))
			if logger != nil {
				logger.Warn("web search provider failed", "provider", br.name, "error", br.err)
			}
			if firstErr == nil {
				firstErr = br.err
			}
			continue
		}
		all = append(all, br.results...)
	}
	if len(out.BackendErrors) == len(backends) {
		return out, fmt.Errorf("%w: %w", ErrAllFailed, firstErr)
	}

	out.Results, out.DupsRemoved = deduplicate(all)
	sort.SliceStable(out.Results, func(i, j int) bool {
		return out.Results[i].Confidence > out.Results[j].Confidence
	})
	if max > 0 && len(out.Results) > max {
		out.Results = out.Results[:max]
	}
	return out, nil
}

// deduplicate merges results that share a URL or normalized title.
func deduplicate(results []types.WebResult) ([]types.WebResult, int) {
	seen := make(map[string]int)
	var deduped []types.WebResult
	removed := 0

	for _, r := range results {
		keys := []string{"url:" + normalizeURL(r.URL), "title:" + textnorm.Key(r.Title)}
		idx := -1
		for _, k := range keys {
			if k == "url:" || k == "title:" {
				continue
			}
			if i, ok := seen[k]; ok {
				idx = i
				break
			}
		}
		if idx >= 0 {
			mergeInto(&deduped[idx], r)
			removed++
			continue
		}
		idx = len(deduped)
		deduped = append(deduped, r)
		for _, k := range keys {
			if k != "url:" && k != "title:" {
				seen[k] = idx
			}
		}
	}
	return deduped, removed
}

// mergeInto fills empty fields of dst from src and keeps the higher
// confidence. A result confirmed by several providers gains a little.
func mergeInto(dst *types.WebResult, src types.WebResult) {
	if dst.Snippet == "" {
		dst.Snippet = src.Snippet
	}
	if src.Confidence > dst.Confidence {
		dst.Confidence = src.Confidence
	}
	dst.Confidence = min(1.0, dst.Confidence+0.1)
	if dst.Source != src.Source && !strings.Contains(dst.Source, src.Source) {
		dst.Source = dst.Source + "," + src.Source
	}
}

func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	return host + strings.TrimRight(u.Path, "/")
}

// positionScore converts a 0-based rank among total results into a
// confidence between 0.1 and 1.0.
func positionScore(i, total int) float64 {
	if total <= 1 {
		return 1.0
	}
	return 1.0 - float64(i)/float64(total-1)*0.9
}
