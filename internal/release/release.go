// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package release derives structured attributes from indexer release
// titles, which carry format, encoding, media, and edition only as free
// text.
package release

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pdiddy/iwantit/pkg/types"
)

// Attributes are the fields recovered from a release title.
type Attributes struct {
	Format        string
	Encoding      string
	Media         string
	Edition       string
	Year          int
	BitDepth      int
	SampleRateKHz float64
	BitrateKbps   int
}

type token struct {
	value string
	re    *regexp.Regexp
}

func tokens(pairs ...string) []token {
	out := make([]token, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, token{value: pairs[i], re: regexp.MustCompile(`(?i)` + pairs[i+1])})
	}
	return out
}

// First match wins, so more specific patterns come first.
var (
	formats = tokens(
		"FLAC", `\bflac\b`,
		"ALAC", `\balac\b`,
		"WAV", `\bwav\b`,
		"AAC", `\baac\b|\bm4a\b`,
		"MP3", `\bmp3\b`,
		"Opus", `\bopus\b`,
		"x265", `\bx265\b|\bhevc\b|\bh\.?265\b`,
		"x264", `\bx264\b|\bavc\b|\bh\.?264\b`,
		"EPUB", `\bepub\b`,
		"MOBI", `\bmobi\b|\bazw3?\b`,
		"PDF", `\bpdf\b`,
		"M4B", `\bm4b\b`,
	)
	encodings = tokens(
		"24bit Lossless", `\b24\s*-?\s*bit\b|\b24/(?:44|48|88|96|176|192)`,
		"Lossless", `\blossless\b|\b16\s*-?\s*bit\b`,
		"V0", `\bv0\b`,
		"V2", `\bv2\b`,
		"320", `\b320\s*(?:k|kbps|cbr)?\b`,
		"256", `\b256\s*(?:k|kbps)\b`,
		"192", `\b192\s*(?:k|kbps)\b`,
		"2160p", `\b2160p\b|\b4k\b|\buhd\b`,
		"1080p", `\b1080p\b`,
		"720p", `\b720p\b`,
		"480p", `\b480p\b`,
	)
	media = tokens(
		"SACD", `\bsacd\b`,
		"Vinyl", `\bvinyl\b|\blp\s*rip\b|\bvinylrip\b`,
		"CD", `\bcd\b|\bcdrip\b`,
		"WEB", `\bweb(?:-?dl|-?rip)?\b`,
		"Blu-ray", `\bblu-?ray\b|\bbdrip\b|\bremux\b`,
		"DVD", `\bdvd(?:rip)?\b`,
		"Cassette", `\bcassette\b`,
	)
	editions = tokens(
		"Deluxe", `\bdeluxe\b`,
		"Anniversary", `\banniversary\b`,
		"Remaster", `\bremaster(?:ed)?\b`,
		"Expanded", `\bexpanded\b`,
		"Limited", `\blimited\b`,
		"Live", `\blive\b`,
	)

	yearRe       = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	depthRateRe  = regexp.MustCompile(`(?i)\b(\d{1,2})\s*/\s*(\d{2,3}(?:\.\d)?)\b`)
	bitDepthRe   = regexp.MustCompile(`(?i)\b(\d{2})\s*[- ]?bit\b`)
	sampleRateRe = regexp.MustCompile(`(?i)\b(\d{2,3}(?:\.\d)?)\s*k?hz\b`)
	bitrateRe    = regexp.MustCompile(`(?i)\b(\d{2,4})\s*kbps\b`)
)

func match(list []token, text string) string {
	for _, t := range list {
		if t.re.MatchString(text) {
			return t.value
		}
	}
	return ""
}

// Parse extracts attributes from title.
func Parse(title string) Attributes {
	a := Attributes{
		Format:   match(formats, title),
		Encoding: match(encodings, title),
		Media:    match(media, title),
		Edition:  match(editions, title),
		Year:     Year(title),
	}
	if m := depthRateRe.FindStringSubmatch(title); m != nil {
		a.BitDepth, _ = strconv.Atoi(m[1])
		a.SampleRateKHz, _ = strconv.ParseFloat(m[2], 64)
	}
	if m := bitDepthRe.FindStringSubmatch(title); m != nil {
		a.BitDepth, _ = strconv.Atoi(m[1])
	}
	if m := sampleRateRe.FindStringSubmatch(title); m != nil {
		a.SampleRateKHz, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := bitrateRe.FindStringSubmatch(title); m != nil {
		a.BitrateKbps, _ = strconv.Atoi(m[1])
	}
	if a.Format == "FLAC" && a.Encoding == "" {
		a.Encoding = "Lossless"
	}
	return a
}

// Year returns the first plausible release year in s, or 0.
func Year(s string) int {
	m := yearRe.FindString(s)
	if m == "" {
		return 0
	}
	y, _ := strconv.Atoi(m)
	return y
}

// Fill sets the empty descriptive fields of c from its title. Numeric audio
// properties land in attrs.
func Fill(c *types.Candidate) {
	text := strings.TrimSpace(c.Title + " " + c.SortTitle)
	a := Parse(text)
	if c.Format == "" {
		c.Format = a.Format
	}
	if c.Encoding == "" {
		c.Encoding = a.Encoding
	}
	if c.Media == "" {
		c.Media = a.Media
	}
	if c.Edition == "" {
		c.Edition = a.Edition
	}
	if c.Year == 0 {
		c.Year = a.Year
	}
	set := func(k string, v float64) {
		if v == 0 {
			return
		}
		if c.Attrs == nil {
			c.Attrs = make(map[string]any)
		}
		if _, ok := c.Attrs[k]; !ok {
			c.Attrs[k] = v
		}
	}
	set("bit_depth", float64(a.BitDepth))
	set("sample_rate_khz", a.SampleRateKHz)
	set("bitrate_kbps", float64(a.BitrateKbps))
}
