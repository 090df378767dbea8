// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package textnorm folds release titles and queries into comparable forms.
// Ranking rules, query caching, and token matching all go through the same
// functions so case, diacritics, and punctuation variants never change an
// outcome.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// punctuation maps typographic variants to their ASCII form, and separators
// that never carry meaning in a release name to a space.
var punctuation = strings.NewReplacer(
	"‘", "", "’", "", "“", " ", "”", " ",
	"‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-", "−", "-",
	"…", "...",
	"_", " ", "(", " ", ")", " ", "[", " ", "]", " ", "{", " ", "}", " ",
	"|", " ", ",", " ", ";", " ", ":", " ", "!", " ", "?", " ", `"`, " ", "'", "",
)

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize lowercases s, removes diacritics, folds punctuation variants,
// and collapses whitespace. Dots, slashes, dashes and plus signs are kept
// so "5.1", "24/96" and "MP3-V0" stay matchable.
func Normalize(s string) string {
	s = punctuation.Replace(fold(strings.ToLower(s)))
	return strings.Join(strings.Fields(s), " ")
}

// Key returns a lowercased form with every non-alphanumeric rune dropped,
// suitable for deduplication and cache keys.
func Key(s string) string {
	var b strings.Builder
	for _, r := range fold(strings.ToLower(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteRune(' ')
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokens splits s into Key tokens, dropping stop words.
func Tokens(s string, stop map[string]bool) []string {
	fields := strings.Fields(Key(s))
	out := fields[:0]
	for _, f := range fields {
		if stop[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Overlap reports how many query tokens occur in the candidate text and the
// ratio of matched to query tokens.
func Overlap(query, text []string) (int, float64) {
	if len(query) == 0 {
		return 0, 0
	}
	have := make(map[string]bool, len(text))
	for _, t := range text {
		have[t] = true
	}
	n := 0
	for _, q := range query {
		if have[q] {
			n++
		}
	}
	return n, float64(n) / float64(len(query))
}

// Slug returns a filesystem-safe name for s.
func Slug(s string) string {
	k := Key(s)
	if k == "" {
		return "untitled"
	}
	return strings.ReplaceAll(k, " ", "-")
}

var titleCaser = cases.Title(language.English)

// Title returns s in title case, used when a value inferred from search
// results has inconsistent casing.
func Title(s string) string {
	return titleCaser.String(strings.ToLower(strings.TrimSpace(s)))
}
