// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package webpage fetches the metadata of a URL input: page title,
// description and Open Graph fields. YouTube pages whose markup carries no
// usable title fall back to the oEmbed endpoint.
package webpage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pdiddy/iwantit/internal/httputil"
	"github.com/pdiddy/iwantit/internal/steperr"
	"github.com/pdiddy/iwantit/pkg/types"
)

// oembedBase is a var so tests can point it at an httptest server.
var oembedBase = "https://www.youtube.com/oembed"

const browserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Fetcher retrieves page metadata.
type Fetcher struct {
	client *httputil.Client
}

// New returns a Fetcher. Pages are requested with a browser user agent
// unless cfg sets one, since many sites serve bots a stripped page.
func New(cfg types.HTTPConfig) *Fetcher {
	c := httputil.NewClient("fetch_url", cfg)
	if cfg.UserAgent == "" {
		c.UserAgent = browserAgent
	}
	c.Header.Set("Accept-Language", "en-US,en;q=0.9")
	return &Fetcher{client: c}
}

// IsURL reports whether s is an absolute http(s) URL.
func IsURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Fetch returns the metadata of rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (types.PageMeta, error) {
	if !IsURL(rawURL) {
		return types.PageMeta{}, steperr.Fatalf(steperr.ReasonInput, "not an http(s) url: %q", rawURL)
	}
	body, err := f.client.Fetch(ctx, rawURL, "text/html,application/xhtml+xml")
	if err != nil {
		return types.PageMeta{}, err
	}
	meta, err := Parse(body)
	if err != nil {
		return types.PageMeta{}, steperr.Fatal(steperr.ReasonInvalidOutput, err)
	}
	meta.URL = rawURL

	if isYouTube(rawURL) && genericYouTubeTitle(meta.Title) {
		if title, author, err := f.oembed(ctx, rawURL); err == nil && title != "" {
			meta.Title = title
			if meta.Author == "" {
				meta.Author = author
			}
		}
	}
	return meta, nil
}

// Parse extracts metadata from an HTML document. Open Graph and Twitter
// card titles win over <title>; the first description found is kept.
func Parse(html []byte) (types.PageMeta, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return types.PageMeta{}, fmt.Errorf("parsing html: %w", err)
	}

	var meta types.PageMeta
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("property")
		if name == "" {
			name, _ = s.Attr("name")
		}
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" {
			return
		}
		switch strings.ToLower(name) {
		case "og:title", "twitter:title":
			setOnce(&meta.Title, content)
		case "og:description", "description", "twitter:description":
			setOnce(&meta.Description, content)
		case "og:site_name":
			setOnce(&meta.SiteName, content)
		case "og:type":
			setOnce(&meta.Type, content)
		case "author", "music:musician", "book:author":
			setOnce(&meta.Author, content)
		}
	})
	if meta.Title == "" {
		meta.Title = strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
	}
	return meta, nil
}

func setOnce(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func isYouTube(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	return host == "youtube.com" || host == "m.youtube.com" || host == "music.youtube.com" || host == "youtu.be"
}

func genericYouTubeTitle(t string) bool {
	t = strings.TrimSpace(t)
	return t == "" || t == "YouTube" || t == "- YouTube"
}

type oembedResponse struct {
	Title      string `json:"title"`
	AuthorName string `json:"author_name"`
}

func (f *Fetcher) oembed(ctx context.Context, rawURL string) (string, string, error) {
	params := url.Values{"url": {rawURL}, "format": {"json"}}
	var resp oembedResponse
	if err := f.client.GetJSON(ctx, oembedBase+"?"+params.Encode(), &resp); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(resp.Title), strings.TrimSpace(resp.AuthorName), nil
}
