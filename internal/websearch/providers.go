// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package websearch

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/pdiddy/iwantit/internal/httputil"
	"github.com/pdiddy/iwantit/internal/steperr"
	"github.com/pdiddy/iwantit/pkg/types"
)

// Endpoints are vars so tests can substitute an httptest server.
var (
	kagiAPIBase  = "https://kagi.com/api/v0/search"
	braveAPIBase = "https://api.search.brave.com/res/v1/web/search"
)

const defaultMax = 10

// KagiBackend queries the Kagi search API.
type KagiBackend struct {
	Client  *httputil.Client
	BaseURL string
}

// Name returns the backend identifier.
func (b *KagiBackend) Name() string { return "kagi" }

type kagiResponse struct {
	Data []struct {
		T       int    `json:"t"`
		URL     string `json:"url"`
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
	} `json:"data"`
}

// Search implements Backend.
func (b *KagiBackend) Search(ctx context.Context, query string, max int) ([]types.WebResult, error) {
	if max <= 0 {
		max = defaultMax
	}
	base := b.BaseURL
	if base == "" {
		base = kagiAPIBase
	}
	params := url.Values{"q": {query}, "limit": {strconv.Itoa(max)}}

	var kr kagiResponse
	if err := b.Client.GetJSON(ctx, base+"?"+params.Encode(), &kr); err != nil {
		return nil, err
	}

	var hits []types.WebResult
	for _, d := range kr.Data {
		// t=1 entries are related searches, not results.
		if d.T != 0 || d.URL == "" {
			continue
		}
		hits = append(hits, types.WebResult{Title: d.Title, Snippet: d.Snippet, URL: d.URL, Source: "kagi"})
	}
	for i := range hits {
		hits[i].Confidence = positionScore(i, len(hits))
	}
	return hits, nil
}

// BraveBackend queries the Brave Search API.
type BraveBackend struct {
	Client  *httputil.Client
	BaseURL string
}

// Name returns the backend identifier.
func (b *BraveBackend) Name() string { return "brave" }

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search implements Backend.
func (b *BraveBackend) Search(ctx context.Context, query string, max int) ([]types.WebResult, error) {
	if max <= 0 {
		max = defaultMax
	}
	base := b.BaseURL
	if base == "" {
		base = braveAPIBase
	}
	params := url.Values{"q": {query}, "count": {strconv.Itoa(min(max, 20))}}

	var br braveResponse
	if err := b.Client.GetJSON(ctx, base+"?"+params.Encode(), &br); err != nil {
		return nil, err
	}

	total := len(br.Web.Results)
	hits := make([]types.WebResult, 0, total)
	for i, r := range br.Web.Results {
		hits = append(hits, types.WebResult{
			Title:      r.Title,
			Snippet:    r.Description,
			URL:        r.URL,
			Source:     "brave",
			Confidence: positionScore(i, total),
		})
	}
	return hits, nil
}

// Backends builds the configured providers in order. Unknown names and
// providers without an API key are configuration errors.
func Backends(cfg types.WebSearchConfig, hc types.HTTPConfig) ([]Backend, error) {
	var out []Backend
	for _, name := range cfg.Order {
		p := cfg.Providers[name]
		if p.APIKey == "" {
			return nil, steperr.Fatalf(steperr.ReasonConfig, "web_search.providers.%s.api_key is not configured", name)
		}
		c := httputil.NewClient(name, hc)
		switch name {
		case "kagi":
			c.Header.Set("Authorization", "Bot "+p.APIKey)
			out = append(out, &KagiBackend{Client: c, BaseURL: p.URL})
		case "brave":
			c.Header.Set("X-Subscription-Token", p.APIKey)
			out = append(out, &BraveBackend{Client: c, BaseURL: p.URL})
		default:
			return nil, steperr.Fatal(steperr.ReasonConfig, fmt.Errorf("unknown web search provider %q", name))
		}
	}
	return out, nil
}

// Known reports whether name is a supported provider.
func Known(name string) bool {
	return name == "kagi" || name == "brave"
}
