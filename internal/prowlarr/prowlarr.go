// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package prowlarr is a client for the Prowlarr indexer aggregator: release
// search and grab-to-download-client.
package prowlarr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/iwantit/internal/httputil"
	"github.com/pdiddy/iwantit/internal/release"
	"github.com/pdiddy/iwantit/internal/steperr"
	"github.com/pdiddy/iwantit/pkg/types"
)

// Source is the candidate source name for Prowlarr releases.
const Source = "prowlarr"

// Client talks to one Prowlarr instance.
type Client struct {
	base string
	http *httputil.Client
}

// New returns a client for cfg. A missing URL or API key is a fatal
// configuration error.
func New(cfg types.ProwlarrConfig, hc types.HTTPConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, steperr.Fatalf(steperr.ReasonConfig, "prowlarr.url is not configured")
	}
	if cfg.APIKey == "" {
		return nil, steperr.Fatalf(steperr.ReasonConfig, "prowlarr.api_key is not configured")
	}
	c := httputil.NewClient("prowlarr", hc)
	c.Header.Set("X-Api-Key", cfg.APIKey)
	return &Client{base: strings.TrimRight(cfg.URL, "/"), http: c}, nil
}

// Category is a Newznab category as reported by Prowlarr.
type Category struct {
	ID            int        `json:"id"`
	Name          string     `json:"name,omitempty"`
	SubCategories []Category `json:"subCategories,omitempty"`
}

// Release is one search result.
type Release struct {
	GUID        string     `json:"guid"`
	Title       string     `json:"title"`
	SortTitle   string     `json:"sortTitle,omitempty"`
	Size        int64      `json:"size"`
	IndexerID   int        `json:"indexerId"`
	Indexer     string     `json:"indexer"`
	DownloadURL string     `json:"downloadUrl,omitempty"`
	InfoURL     string     `json:"infoUrl,omitempty"`
	Seeders     int        `json:"seeders,omitempty"`
	Leechers    int        `json:"leechers,omitempty"`
	Grabs       int        `json:"grabs,omitempty"`
	Categories  []Category `json:"categories,omitempty"`
	Protocol    string     `json:"protocol,omitempty"`
	PublishDate string     `json:"publishDate,omitempty"`

	raw json.RawMessage
}

// CategoryIDs flattens the release's categories and subcategories, sorted.
func (r Release) CategoryIDs() []int {
	seen := map[int]bool{}
	var walk func([]Category)
	walk = func(cats []Category) {
		for _, c := range cats {
			seen[c.ID] = true
			walk(c.SubCategories)
		}
	}
	walk(r.Categories)
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Candidate converts r into a pipeline candidate. Descriptive fields the
// API does not return are parsed from the title.
func (r Release) Candidate() types.Candidate {
	c := types.Candidate{
		Source:      Source,
		SourceID:    r.GUID,
		Title:       r.Title,
		SortTitle:   r.SortTitle,
		Size:        r.Size,
		Seeders:     r.Seeders,
		Leechers:    r.Leechers,
		Grabs:       r.Grabs,
		IndexerID:   r.IndexerID,
		Indexer:     r.Indexer,
		DownloadURL: ScrubURL(r.DownloadURL),
		InfoURL:     r.InfoURL,
		Categories:  r.CategoryIDs(),
		Protocol:    r.Protocol,
		PublishDate: r.PublishDate,
		Raw:         r.raw,
	}
	release.Fill(&c)
	return c
}

// Search queries every configured indexer. Empty categories or indexerIDs
// leave the respective filter off.
func (c *Client) Search(ctx context.Context, query string, categories, indexerIDs []int) ([]Release, error) {
	params := url.Values{"query": {query}, "type": {"search"}}
	for _, id := range categories {
		params.Add("categories", strconv.Itoa(id))
	}
	for _, id := range indexerIDs {
		params.Add("indexerIds", strconv.Itoa(id))
	}

	var raw []json.RawMessage
	if err := c.http.GetJSON(ctx, c.base+"/api/v1/search?"+params.Encode(), &raw); err != nil {
		return nil, err
	}
	out := make([]Release, 0, len(raw))
	for _, item := range raw {
		var r Release
		if err := json.Unmarshal(item, &r); err != nil {
			return nil, steperr.Fatal(steperr.ReasonInvalidOutput, fmt.Errorf("decoding prowlarr release: %w", err))
		}
		r.raw = scrubRaw(item)
		out = append(out, r)
	}
	return out, nil
}

// GrabRequest identifies a release to send to a download client.
type GrabRequest struct {
	GUID             string `json:"guid"`
	IndexerID        int    `json:"indexerId"`
	DownloadClientID int    `json:"downloadClientId,omitempty"`
}

// Grab sends a release to a download client and returns Prowlarr's reply.
func (c *Client) Grab(ctx context.Context, req GrabRequest) (json.RawMessage, error) {
	if req.GUID == "" || req.IndexerID == 0 {
		return nil, steperr.Fatalf(steperr.ReasonInput, "grab needs a release guid and indexer id")
	}
	var out json.RawMessage
	if err := c.http.PostJSON(ctx, c.base+"/api/v1/search", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ScrubURL removes credentials from indexer URLs before they are written
// to the document or the cache.
func ScrubURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for k := range q {
		switch strings.ToLower(k) {
		case "apikey", "api_key", "passkey", "authkey", "torrent_pass":
			q.Set(k, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func scrubRaw(item json.RawMessage) json.RawMessage {
	var m map[string]any
	if err := json.Unmarshal(item, &m); err != nil {
		return item
	}
	for _, k := range []string{"downloadUrl", "magnetUrl", "link"} {
		if s, ok := m[k].(string); ok {
			m[k] = ScrubURL(s)
		}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return item
	}
	return data
}

// ClientFor resolves the download client for a selected candidate: the
// media type mapping first, then the category rules in order.
func ClientFor(cfg types.ProwlarrConfig, mediaType string, c types.Candidate) int {
	if id, ok := cfg.DownloadClients[mediaType]; ok && id > 0 {
		return id
	}
	for _, rule := range cfg.DownloadClientRules {
		if rule.ClientID == 0 {
			continue
		}
		for _, want := range rule.Categories {
			for _, have := range c.Categories {
				if want == have {
					return rule.ClientID
				}
			}
		}
		for _, prefix := range rule.CategoryPrefixes {
			for _, have := range c.Categories {
				if have/1000 == prefix {
					return rule.ClientID
				}
			}
		}
	}
	return 0
}
