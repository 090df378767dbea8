// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// WebResult is one hit from a web search provider, used by identification
// steps to infer the work behind a free-text query.
type WebResult struct {
	// Title is the page title as returned by the provider.
	Title string `json:"title" yaml:"title"`

	// Snippet is the provider's summary of the page.
	Snippet string `json:"snippet,omitempty" yaml:"snippet,omitempty"`

	// URL is the result URL. Results are deduplicated on it.
	URL string `json:"url" yaml:"url"`

	// Source identifies which provider found this result (e.g. "kagi", "brave").
	Source string `json:"source" yaml:"source"`

	// Confidence is a value between 0.0 and 1.0 derived from the provider's
	// rank for this result.
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// PageMeta is the metadata fetched from a URL input.
type PageMeta struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	Type        string `json:"type,omitempty"`
	Author      string `json:"author,omitempty"`
}
