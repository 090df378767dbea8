// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package redacted fetches torrent group metadata from a Gazelle-based
// music tracker to enrich candidates found through Prowlarr.
package redacted

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pdiddy/iwantit/internal/httputil"
	"github.com/pdiddy/iwantit/internal/steperr"
	"github.com/pdiddy/iwantit/pkg/types"
)

// DefaultURL is the tracker used when none is configured.
const DefaultURL = "https://redacted.sh"

const (
	defaultBurst  = 5
	defaultPeriod = 10 * time.Second
)

// releaseTypes maps Gazelle release type ids to names.
var releaseTypes = map[int]string{
	1: "Album", 3: "Soundtrack", 5: "EP", 6: "Anthology", 7: "Compilation",
	9: "Single", 11: "Live album", 13: "Remix", 14: "Bootleg", 15: "Interview",
	16: "Mixtape", 17: "Demo", 18: "Concert Recording", 19: "DJ Mix", 21: "Unknown",
}

// ReleaseTypeName returns the name of a Gazelle release type id.
func ReleaseTypeName(id int) string { return releaseTypes[id] }

// Client is a rate-limited tracker API client. It is safe for concurrent
// use; all callers share one token bucket.
type Client struct {
	base    string
	http    *httputil.Client
	limiter *rate.Limiter
}

// New returns a client for cfg. The bucket holds RateLimit tokens refilled
// over RatePeriod, five per ten seconds by default.
func New(cfg types.RedactedConfig, hc types.HTTPConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, steperr.Fatalf(steperr.ReasonConfig, "redacted.api_key is not configured")
	}
	base := cfg.URL
	if base == "" {
		base = DefaultURL
	}
	burst := cfg.RateLimit
	if burst <= 0 {
		burst = defaultBurst
	}
	period := cfg.RatePeriod
	if period <= 0 {
		period = defaultPeriod
	}
	c := httputil.NewClient("redacted", hc)
	c.Header.Set("Authorization", cfg.APIKey)
	return &Client{
		base:    strings.TrimRight(base, "/"),
		http:    c,
		limiter: rate.NewLimiter(rate.Every(period/time.Duration(burst)), burst),
	}, nil
}

// Host returns the tracker host name, used to recognize its releases.
func (c *Client) Host() string {
	u, err := url.Parse(c.base)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// GroupInfo is the release group record.
type GroupInfo struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	Year            int    `json:"year"`
	RecordLabel     string `json:"recordLabel"`
	CatalogueNumber string `json:"catalogueNumber"`
	ReleaseType     int    `json:"releaseType"`
}

// Torrent is one edition/encode of a group.
type Torrent struct {
	ID                      int    `json:"id"`
	Media                   string `json:"media"`
	Format                  string `json:"format"`
	Encoding                string `json:"encoding"`
	Remastered              bool   `json:"remastered"`
	RemasterYear            int    `json:"remasterYear"`
	RemasterTitle           string `json:"remasterTitle"`
	RemasterRecordLabel     string `json:"remasterRecordLabel"`
	RemasterCatalogueNumber string `json:"remasterCatalogueNumber"`
	Scene                   bool   `json:"scene"`
	HasLog                  bool   `json:"hasLog"`
	LogScore                int    `json:"logScore"`
	HasCue                  bool   `json:"hasCue"`
	Seeders                 int    `json:"seeders"`
	Size                    int64  `json:"size"`
}

// Group is a torrent group with its torrents.
type Group struct {
	Group    GroupInfo `json:"group"`
	Torrents []Torrent `json:"torrents"`
}

type envelope struct {
	Status   string `json:"status"`
	Error    string `json:"error"`
	Response Group  `json:"response"`
}

// GroupDetails fetches a torrent group. It waits for a rate limit token
// first and returns ctx.Err() if ctx ends while waiting. When the next
// token would arrive after ctx's deadline it fails at once with a
// retryable rate_limited error.
func (c *Client) GroupDetails(ctx context.Context, id int) (*Group, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, steperr.Retryable(steperr.ReasonRateLimited, fmt.Errorf("redacted rate limit: %w", err))
	}
	params := url.Values{"action": {"torrentgroup"}, "id": {strconv.Itoa(id)}}
	var env envelope
	if err := c.http.GetJSON(ctx, c.base+"/ajax.php?"+params.Encode(), &env); err != nil {
		return nil, err
	}
	if env.Status != "success" {
		return nil, steperr.Fatalf(steperr.ReasonHTTPStatus, "redacted torrentgroup %d: %s", id, env.Error)
	}
	return &env.Response, nil
}

// Torrent returns the torrent with id, if present.
func (g *Group) Torrent(id int) (Torrent, bool) {
	for _, t := range g.Torrents {
		if t.ID == id {
			return t, true
		}
	}
	return Torrent{}, false
}

// ParseIDs extracts the group and torrent ids from a tracker permalink
// such as torrents.php?id=10&torrentid=99. Missing ids are 0.
func ParseIDs(raw string) (groupID, torrentID int) {
	u, err := url.Parse(raw)
	if err != nil {
		return 0, 0
	}
	q := u.Query()
	groupID, _ = strconv.Atoi(q.Get("id"))
	torrentID, _ = strconv.Atoi(q.Get("torrentid"))
	return groupID, torrentID
}

// IsSource reports whether c was found on the tracker at host, either by
// its info URL or by indexer name.
func IsSource(c types.Candidate, host string) bool {
	if strings.EqualFold(c.Indexer, "redacted") {
		return true
	}
	if host == "" {
		return false
	}
	for _, raw := range []string{c.InfoURL, c.SourceID} {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			continue
		}
		h := u.Hostname()
		if h == host || strings.HasSuffix(h, "."+host) {
			return true
		}
	}
	return false
}

// Enrich overwrites c's descriptive fields with the tracker's structured
// metadata, which is more reliable than the parsed release title.
func Enrich(c *types.Candidate, g *Group, torrentID int) {
	if c.Attrs == nil {
		c.Attrs = make(map[string]any)
	}
	c.Attrs["redacted_group_id"] = float64(g.Group.ID)
	if name := ReleaseTypeName(g.Group.ReleaseType); name != "" {
		c.ReleaseType = name
	}
	if c.Year == 0 {
		c.Year = g.Group.Year
	}
	set := func(dst *string, vals ...string) {
		for _, v := range vals {
			if v = strings.TrimSpace(v); v != "" {
				*dst = v
				return
			}
		}
	}
	set(&c.RecordLabel, g.Group.RecordLabel)
	set(&c.CatalogueNumber, g.Group.CatalogueNumber)

	t, ok := g.Torrent(torrentID)
	if !ok {
		return
	}
	c.Attrs["redacted_torrent_id"] = float64(t.ID)
	set(&c.Format, t.Format)
	set(&c.Encoding, t.Encoding)
	set(&c.Media, t.Media)
	set(&c.Edition, t.RemasterTitle)
	set(&c.RecordLabel, t.RemasterRecordLabel)
	set(&c.CatalogueNumber, t.RemasterCatalogueNumber)
	if t.Remastered && t.RemasterYear > 0 {
		c.Year = t.RemasterYear
	}
	if t.HasLog {
		c.Attrs["log_score"] = float64(t.LogScore)
	}
	c.Attrs["has_cue"] = t.HasCue
	c.Attrs["scene"] = t.Scene
}

// String implements fmt.Stringer for log output.
func (g *Group) String() string {
	return fmt.Sprintf("%s (%d)", g.Group.Name, g.Group.Year)
}
