// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package rank orders candidate releases. Ranking is a pure function of the
// candidates, the compiled rule set, and the explicit constraint: an
// explicit constraint filters first, reject rules exclude, score rules and
// numeric fields accumulate a score, and release categories map to priority
// bands that strictly dominate score. Ties break on stable identifiers so
// the same input always yields the same order.
package rank

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/iwantit/internal/textnorm"
	"github.com/pdiddy/iwantit/pkg/types"
)

// ConstraintReason is the reject reason of candidates removed by the
// explicit constraint filter.
const ConstraintReason = "constraint"

// defaultFields are matched when a rule set names none.
var defaultFields = []string{"title", "sort_title", "edition", "format", "encoding", "media", "release_type"}

type rejectRule struct {
	re     *regexp.Regexp
	reason string
}

type scoreRule struct {
	re     *regexp.Regexp
	weight float64
	label  string
	multi  bool
}

type category struct {
	name     string
	band     int
	patterns []*regexp.Regexp
}

type overlay struct {
	reject []rejectRule
	score  []scoreRule
}

// Ruleset is a compiled rule configuration. It is immutable and safe for
// concurrent use.
type Ruleset struct {
	fields     []string
	reject     []rejectRule
	score      []scoreRule
	numeric    []types.NumericRule
	categories []category
	fallback   *category
	overlays   map[string]overlay
}

func compilePattern(p string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + p)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", p, err)
	}
	return re, nil
}

func compileReject(rules []types.PatternRule) ([]rejectRule, error) {
	out := make([]rejectRule, 0, len(rules))
	for _, r := range rules {
		re, err := compilePattern(r.Match)
		if err != nil {
			return nil, fmt.Errorf("reject rule: %w", err)
		}
		reason := r.Reason
		if reason == "" {
			reason = r.Match
		}
		out = append(out, rejectRule{re: re, reason: reason})
	}
	return out, nil
}

func compileScore(rules []types.ScoreRule) ([]scoreRule, error) {
	out := make([]scoreRule, 0, len(rules))
	for _, r := range rules {
		re, err := compilePattern(r.Match)
		if err != nil {
			return nil, fmt.Errorf("score rule: %w", err)
		}
		label := r.Label
		if label == "" {
			label = r.Match
		}
		out = append(out, scoreRule{re: re, weight: r.Weight, label: label, multi: r.Multi})
	}
	return out, nil
}

// Compile validates cfg and compiles its patterns. Invalid patterns are
// configuration errors.
func Compile(cfg types.RuleConfig) (*Ruleset, error) {
	rs := &Ruleset{fields: cfg.Fields, numeric: cfg.Numeric, overlays: make(map[string]overlay)}
	if len(rs.fields) == 0 {
		rs.fields = defaultFields
	}

	var err error
	if rs.reject, err = compileReject(cfg.Reject); err != nil {
		return nil, err
	}
	if rs.score, err = compileScore(cfg.Score); err != nil {
		return nil, err
	}
	for _, n := range cfg.Numeric {
		if n.Field == "" {
			return nil, fmt.Errorf("numeric rule: field is required")
		}
		if n.Scale < 0 {
			return nil, fmt.Errorf("numeric rule %s: scale must be positive", n.Field)
		}
	}

	order := cfg.Priority.Order
	seen := make(map[string]bool, len(order))
	for i, name := range order {
		if seen[name] {
			return nil, fmt.Errorf("priority: category %q listed twice", name)
		}
		seen[name] = true
		c := category{name: name, band: len(order) - i}
		for _, p := range cfg.Priority.Categories[name] {
			re, err := compilePattern(p)
			if err != nil {
				return nil, fmt.Errorf("priority category %s: %w", name, err)
			}
			c.patterns = append(c.patterns, re)
		}
		rs.categories = append(rs.categories, c)
	}
	for name := range cfg.Priority.Categories {
		if !seen[name] {
			return nil, fmt.Errorf("priority: category %q is not in the priority order", name)
		}
	}
	if d := cfg.Priority.Default; d != "" {
		if !seen[d] {
			return nil, fmt.Errorf("priority: default category %q is not in the priority order", d)
		}
		for i := range rs.categories {
			if rs.categories[i].name == d {
				rs.fallback = &rs.categories[i]
			}
		}
	}

	for name, o := range cfg.Overlays {
		var ov overlay
		if ov.reject, err = compileReject(o.Reject); err != nil {
			return nil, fmt.Errorf("overlay %s: %w", name, err)
		}
		if ov.score, err = compileScore(o.Score); err != nil {
			return nil, fmt.Errorf("overlay %s: %w", name, err)
		}
		rs.overlays[textnorm.Key(name)] = ov
	}
	return rs, nil
}

// Result is the outcome of ranking.
type Result struct {
	// Candidates holds every input candidate in ranked order; rejected
	// candidates come last.
	Candidates []types.Candidate

	// Eligible counts the candidates that were not rejected.
	Eligible int

	// Unmatched is set when an explicit constraint was given and no
	// candidate satisfied it.
	Unmatched bool
}

// text returns the normalized text rules match against.
func (rs *Ruleset) text(c types.Candidate) string {
	parts := make([]string, 0, len(rs.fields))
	for _, f := range rs.fields {
		if v := c.Field(f); v != "" {
			parts = append(parts, v)
		}
	}
	return textnorm.Normalize(strings.Join(parts, " "))
}

// Rank orders cands under constraint (which may be nil). The input slice is
// not modified.
func (rs *Ruleset) Rank(cands []types.Candidate, constraint *types.ReleasePreferences) Result {
	out := make([]types.Candidate, len(cands))
	copy(out, cands)

	reject := rs.reject
	score := rs.score
	if constraint != nil {
		for _, f := range constraint.Formats {
			if ov, ok := rs.overlays[textnorm.Key(f)]; ok {
				reject = append(append([]rejectRule(nil), reject...), ov.reject...)
				score = append(append([]scoreRule(nil), score...), ov.score...)
			}
		}
	}

	res := Result{}
	for i := range out {
		c := &out[i]
		c.Score = nil
		c.Band = 0
		c.Category = ""
		c.Rejected = false
		c.RejectReason = ""
		c.Reasons = nil

		if constraint != nil && !constraint.IsZero() {
			if miss := unmet(*c, constraint); miss != "" {
				c.Rejected = true
				c.RejectReason = ConstraintReason
				c.Reasons = []string{"constraint: " + miss}
				continue
			}
		}

		text := rs.text(*c)
		if r, ok := firstReject(reject, text); ok {
			c.Rejected = true
			c.RejectReason = r
			continue
		}

		s, reasons := rs.computeScore(score, *c, text)
		c.Score = &s
		c.Reasons = reasons
		if cat := rs.category(*c, text); cat != nil {
			c.Band = cat.band
			c.Category = cat.name
		}
		res.Eligible++
	}

	if constraint != nil && !constraint.IsZero() && res.Eligible == 0 && len(out) > 0 {
		res.Unmatched = true
	}

	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j]) })
	res.Candidates = out
	return res
}

// Less is the total ranking order: eligible before rejected, then band,
// score, stable identifiers, release attributes, and finally the encoded
// candidate, so no two distinct candidates compare equal.
func Less(a, b types.Candidate) bool {
	if a.Rejected != b.Rejected {
		return !a.Rejected
	}
	if a.Band != b.Band {
		return a.Band > b.Band
	}
	if sa, sb := ScoreOf(a), ScoreOf(b); sa != sb {
		return sa > sb
	}
	if a.SourceID != b.SourceID {
		return a.SourceID < b.SourceID
	}
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	if a.Title != b.Title {
		return a.Title < b.Title
	}
	if a.DownloadURL != b.DownloadURL {
		return a.DownloadURL < b.DownloadURL
	}
	for _, f := range [][2]string{
		{a.Format, b.Format},
		{a.Encoding, b.Encoding},
		{a.Media, b.Media},
		{a.Edition, b.Edition},
		{a.Indexer, b.Indexer},
	} {
		if f[0] != f[1] {
			return f[0] < f[1]
		}
	}
	if a.Size != b.Size {
		return a.Size > b.Size
	}
	if a.Seeders != b.Seeders {
		return a.Seeders > b.Seeders
	}
	return bytes.Compare(encoded(a), encoded(b)) < 0
}

// encoded is the canonical JSON of c. encoding/json sorts map keys, so
// equal candidates always encode the same.
func encoded(c types.Candidate) []byte {
	data, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	return data
}

// ScoreOf returns the candidate's score, zero when unranked.
func ScoreOf(c types.Candidate) float64 {
	if c.Score == nil {
		return 0
	}
	return *c.Score
}

func firstReject(rules []rejectRule, text string) (string, bool) {
	for _, r := range rules {
		if r.re.MatchString(text) {
			return r.reason, true
		}
	}
	return "", false
}

func (rs *Ruleset) computeScore(rules []scoreRule, c types.Candidate, text string) (float64, []string) {
	var (
		total   float64
		reasons []string
	)
	for _, r := range rules {
		hits := 0
		if r.multi {
			hits = len(r.re.FindAllStringIndex(text, -1))
		} else if r.re.MatchString(text) {
			hits = 1
		}
		if hits == 0 {
			continue
		}
		total += r.weight * float64(hits)
		reasons = append(reasons, fmt.Sprintf("%s %+g", r.label, r.weight*float64(hits)))
	}
	for _, n := range rs.numeric {
		v, ok := c.Numeric(n.Field)
		if !ok || v == 0 {
			continue
		}
		scale := n.Scale
		if scale == 0 {
			scale = 1
		}
		contrib := v / scale * n.Weight
		if n.Max > 0 && contrib > n.Max {
			contrib = n.Max
		}
		total += contrib
		reasons = append(reasons, fmt.Sprintf("%s %+.2f", n.Field, contrib))
	}
	return total, reasons
}

func (rs *Ruleset) category(c types.Candidate, text string) *category {
	for i := range rs.categories {
		cat := &rs.categories[i]
		for _, re := range cat.patterns {
			if re.MatchString(text) {
				return cat
			}
		}
	}
	return rs.fallback
}

// unmet returns a description of the first constraint field c fails, or
// the empty string when c satisfies every field.
func unmet(c types.Candidate, p *types.ReleasePreferences) string {
	all := " " + textnorm.Normalize(strings.Join([]string{
		c.Title, c.SortTitle, c.Edition, c.Format, c.Encoding, c.Media,
		c.ReleaseType, c.RecordLabel, c.CatalogueNumber,
	}, " ")) + " "

	if len(p.Editions) > 0 && !anyIn(p.Editions, all, c.Edition) {
		return "edition " + strings.Join(p.Editions, "|")
	}
	if len(p.Media) > 0 && !anyIn(p.Media, all, c.Media) {
		return "media " + strings.Join(p.Media, "|")
	}
	if len(p.Formats) > 0 && !anyIn(p.Formats, all, c.Format, c.Encoding) {
		return "format " + strings.Join(p.Formats, "|")
	}
	if len(p.Labels) > 0 && !anyIn(p.Labels, all, c.RecordLabel) {
		return "label " + strings.Join(p.Labels, "|")
	}
	if len(p.CatalogueNumbers) > 0 {
		ok := false
		for _, want := range p.CatalogueNumbers {
			w := textnorm.Key(want)
			if w != "" && (textnorm.Key(c.CatalogueNumber) == w || strings.Contains(" "+textnorm.Key(all)+" ", " "+w+" ")) {
				ok = true
				break
			}
		}
		if !ok {
			return "catalogue number " + strings.Join(p.CatalogueNumbers, "|")
		}
	}
	if p.Year > 0 {
		year := strconv.Itoa(p.Year)
		if c.Year != p.Year && (c.Year != 0 || !strings.Contains(all, " "+year+" ")) {
			return "year " + year
		}
	}
	return ""
}

// anyIn reports whether one of wants equals a field value or appears as a
// whole phrase in the padded normalized text.
func anyIn(wants []string, padded string, fields ...string) bool {
	for _, want := range wants {
		w := textnorm.Normalize(want)
		if w == "" {
			continue
		}
		for _, f := range fields {
			if textnorm.Normalize(f) == w {
				return true
			}
		}
		if strings.Contains(padded, " "+w+" ") {
			return true
		}
	}
	return false
}
