// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Candidate is one acquirable release of the identified work, as returned
// by an indexer or seeded from identification. Descriptive fields are
// immutable once ranked; only the ranking fields change afterwards.
type Candidate struct {
	// Source is the collaborator that produced the candidate (e.g. an
	// indexer name).
	Source string `json:"source,omitempty"`

	// SourceID is the collaborator's stable identifier (indexer GUID).
	SourceID string `json:"source_id,omitempty"`

	Title           string `json:"title"`
	SortTitle       string `json:"sort_title,omitempty"`
	Artist          string `json:"artist,omitempty"`
	Author          string `json:"author,omitempty"`
	Format          string `json:"format,omitempty"`
	Encoding        string `json:"encoding,omitempty"`
	Media           string `json:"media,omitempty"`
	Year            int    `json:"year,omitempty"`
	Edition         string `json:"edition,omitempty"`
	CatalogueNumber string `json:"catalogue_number,omitempty"`
	RecordLabel     string `json:"label,omitempty"`
	ReleaseType     string `json:"release_type,omitempty"`

	Size     int64 `json:"size,omitempty"`
	Seeders  int   `json:"seeders,omitempty"`
	Leechers int   `json:"leechers,omitempty"`
	Grabs    int   `json:"grabs,omitempty"`

	IndexerID   int    `json:"indexer_id,omitempty"`
	Indexer     string `json:"indexer,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	InfoURL     string `json:"info_url,omitempty"`
	Categories  []int  `json:"categories,omitempty"`
	Protocol    string `json:"protocol,omitempty"`
	PublishDate string `json:"publish_date,omitempty"`

	// Score is nil until the candidate has been ranked.
	Score        *float64 `json:"score,omitempty"`
	Band         int      `json:"band,omitempty"`
	Category     string   `json:"category,omitempty"`
	Rejected     bool     `json:"rejected,omitempty"`
	RejectReason string   `json:"reject_reason,omitempty"`
	Reasons      []string `json:"reasons,omitempty"`

	// Attrs carries enrichment such as tracker metadata.
	Attrs map[string]any `json:"attrs,omitempty"`

	// Raw is the collaborator record the candidate was built from.
	Raw json.RawMessage `json:"_raw,omitempty"`
}

// Key identifies the candidate across runs.
func (c Candidate) Key() string {
	if c.SourceID != "" {
		return c.Source + ":" + c.SourceID
	}
	return c.Source + ":" + c.Title
}

// DisplayName is the label shown when the user has to choose.
func (c Candidate) DisplayName() string {
	var b strings.Builder
	b.WriteString(c.Title)
	var details []string
	for _, s := range []string{c.Format, c.Encoding, c.Media, c.Edition} {
		if s != "" {
			details = append(details, s)
		}
	}
	if c.Year > 0 {
		details = append(details, fmt.Sprint(c.Year))
	}
	if len(details) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(details, " / "))
		b.WriteString("]")
	}
	if c.Indexer != "" {
		b.WriteString(" (")
		b.WriteString(c.Indexer)
		b.WriteString(")")
	}
	return b.String()
}

// Field returns the textual value of a named descriptive field, used by
// rules that match against a configurable field list.
func (c Candidate) Field(name string) string {
	switch name {
	case "title":
		return c.Title
	case "sort_title":
		return c.SortTitle
	case "artist":
		return c.Artist
	case "author":
		return c.Author
	case "format":
		return c.Format
	case "encoding":
		return c.Encoding
	case "media":
		return c.Media
	case "edition":
		return c.Edition
	case "catalogue_number":
		return c.CatalogueNumber
	case "label":
		return c.RecordLabel
	case "release_type":
		return c.ReleaseType
	case "indexer":
		return c.Indexer
	case "year":
		if c.Year > 0 {
			return fmt.Sprint(c.Year)
		}
		return ""
	}
	if v, ok := c.Attrs[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Numeric returns the numeric value of a named field and whether it is
// known. Unknown names fall back to numeric attrs.
func (c Candidate) Numeric(name string) (float64, bool) {
	switch name {
	case "size":
		return float64(c.Size), c.Size > 0
	case "seeders":
		return float64(c.Seeders), true
	case "leechers":
		return float64(c.Leechers), true
	case "grabs":
		return float64(c.Grabs), true
	case "year":
		return float64(c.Year), c.Year > 0
	}
	switch v := c.Attrs[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
