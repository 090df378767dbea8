// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package arr is a client for Radarr and Sonarr: look up a title and add
// it to the library so the service acquires it.
package arr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pdiddy/iwantit/internal/httputil"
	"github.com/pdiddy/iwantit/internal/steperr"
	"github.com/pdiddy/iwantit/pkg/types"
)

// Kind selects the service flavor.
type Kind string

const (
	Radarr Kind = "radarr"
	Sonarr Kind = "sonarr"
)

// ErrConflict is returned by Add when the title is already in the library.
var ErrConflict = errors.New("already in library")

// ForMediaType returns the service that handles mediaType.
func ForMediaType(mediaType string) (Kind, bool) {
	switch mediaType {
	case "movie":
		return Radarr, true
	case "tv":
		return Sonarr, true
	}
	return "", false
}

// Client talks to one Radarr or Sonarr instance.
type Client struct {
	kind Kind
	base string
	cfg  types.ArrConfig
	http *httputil.Client
}

// New returns a client for cfg.
func New(kind Kind, cfg types.ArrConfig, hc types.HTTPConfig) (*Client, error) {
	if kind != Radarr && kind != Sonarr {
		return nil, steperr.Fatalf(steperr.ReasonConfig, "unknown arr service %q", kind)
	}
	if cfg.URL == "" || cfg.APIKey == "" {
		return nil, steperr.Fatalf(steperr.ReasonConfig, "%s.url and %s.api_key must be configured", kind, kind)
	}
	c := httputil.NewClient(string(kind), hc)
	c.Header.Set("X-Api-Key", cfg.APIKey)
	return &Client{kind: kind, base: strings.TrimRight(cfg.URL, "/"), cfg: cfg, http: c}, nil
}

// Kind returns the service flavor.
func (c *Client) Kind() Kind { return c.kind }

func (c *Client) resource() string {
	if c.kind == Radarr {
		return "movie"
	}
	return "series"
}

// Item is a lookup result.
type Item struct {
	Title     string `json:"title"`
	Year      int    `json:"year,omitempty"`
	TMDBID    int    `json:"tmdbId,omitempty"`
	TVDBID    int    `json:"tvdbId,omitempty"`
	IMDBID    string `json:"imdbId,omitempty"`
	TitleSlug string `json:"titleSlug,omitempty"`
	Overview  string `json:"overview,omitempty"`
	Network   string `json:"network,omitempty"`
	Studio    string `json:"studio,omitempty"`
}

// ID returns the service's identifier for the item as "tmdb:N" or
// "tvdb:N".
func (i Item) ID() string {
	switch {
	case i.TMDBID > 0:
		return "tmdb:" + strconv.Itoa(i.TMDBID)
	case i.TVDBID > 0:
		return "tvdb:" + strconv.Itoa(i.TVDBID)
	case i.IMDBID != "":
		return "imdb:" + i.IMDBID
	}
	return ""
}

// Candidate converts the item into a pipeline candidate.
func (i Item) Candidate(kind Kind) types.Candidate {
	attrs := map[string]any{}
	if i.TMDBID > 0 {
		attrs["tmdb_id"] = float64(i.TMDBID)
	}
	if i.TVDBID > 0 {
		attrs["tvdb_id"] = float64(i.TVDBID)
	}
	if i.IMDBID != "" {
		attrs["imdb_id"] = i.IMDBID
	}
	raw, _ := json.Marshal(i)
	return types.Candidate{
		Source:   string(kind),
		SourceID: i.ID(),
		Title:    i.Title,
		Year:     i.Year,
		Attrs:    attrs,
		Raw:      raw,
	}
}

// Lookup searches the service's metadata provider for term.
func (c *Client) Lookup(ctx context.Context, term string) ([]Item, error) {
	var items []Item
	u := fmt.Sprintf("%s/api/v3/%s/lookup?%s", c.base, c.resource(), url.Values{"term": {term}}.Encode())
	if err := c.http.GetJSON(ctx, u, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Payload builds the add request for the work described by title, year,
// and ids using the configured profile and root folder.
func (c *Client) Payload(title string, year int, ids map[string]string) (map[string]any, error) {
	p := map[string]any{
		"title":            title,
		"qualityProfileId": c.cfg.QualityProfileID,
		"rootFolderPath":   c.cfg.RootFolderPath,
		"monitored":        c.cfg.Monitored,
	}
	if year > 0 {
		p["year"] = year
	}
	switch c.kind {
	case Radarr:
		id, err := strconv.Atoi(ids["tmdb"])
		if err != nil || id <= 0 {
			return nil, steperr.Fatalf(steperr.ReasonInput, "radarr needs a tmdb id for %q", title)
		}
		p["tmdbId"] = id
		avail := c.cfg.MinimumAvailability
		if avail == "" {
			avail = "released"
		}
		p["minimumAvailability"] = avail
		p["addOptions"] = map[string]any{"searchForMovie": c.cfg.SearchOnAdd}
	case Sonarr:
		id, err := strconv.Atoi(ids["tvdb"])
		if err != nil || id <= 0 {
			return nil, steperr.Fatalf(steperr.ReasonInput, "sonarr needs a tvdb id for %q", title)
		}
		p["tvdbId"] = id
		st := c.cfg.SeriesType
		if st == "" {
			st = "standard"
		}
		p["seriesType"] = st
		p["seasonFolder"] = c.cfg.SeasonFolder
		p["addOptions"] = map[string]any{"searchForMissingEpisodes": c.cfg.SearchOnAdd}
	}
	return p, nil
}

// Add submits payload. A title that is already present yields ErrConflict.
func (c *Client) Add(ctx context.Context, payload map[string]any) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.http.PostJSON(ctx, fmt.Sprintf("%s/api/v3/%s", c.base, c.resource()), payload, &out)
	if err == nil {
		return out, nil
	}
	var se *httputil.StatusError
	if errors.As(err, &se) && isConflict(se) {
		return nil, ErrConflict
	}
	return nil, err
}

// Both services answer a duplicate add with 400 and a validation message.
func isConflict(se *httputil.StatusError) bool {
	if se.Code == http.StatusConflict {
		return true
	}
	body := strings.ToLower(se.Body)
	return se.Code == http.StatusBadRequest &&
		(strings.Contains(body, "already been added") || strings.Contains(body, "alreadyexists") || strings.Contains(body, "already exists"))
}
