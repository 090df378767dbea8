// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pdiddy/iwantit/internal/pipeline"
	"github.com/pdiddy/iwantit/internal/release"
	"github.com/pdiddy/iwantit/internal/steperr"
	"github.com/pdiddy/iwantit/internal/textnorm"
	"github.com/pdiddy/iwantit/internal/webpage"
	"github.com/pdiddy/iwantit/internal/websearch"
	"github.com/pdiddy/iwantit/pkg/types"
)

// --- ocr ---

func (c *collaborators) newOCR(_ string, sc types.StepConfig) (pipeline.Step, error) {
	if err := decodeOptions(sc, &struct{}{}); err != nil {
		return nil, err
	}
	return pipeline.StepFunc(func(ctx context.Context, doc *types.Document) (*types.Document, error) {
		if doc.Request.ImagePath == "" {
			return doc, nil
		}
		engine, err := c.ocrFor(ctx)
		if err != nil {
			return nil, err
		}
		text, err := engine.Recognize(ctx, doc.Request.ImagePath)
		if err != nil {
			return nil, err
		}
		doc.Request.OCRText = text
		if doc.Request.Query == "" && text != "" {
			doc.Request.Query = strings.Join(strings.Fields(text), " ")
		}
		return doc, nil
	}), nil
}

// --- fetch_url ---

func (c *collaborators) newFetchURL(name string, sc types.StepConfig) (pipeline.Step, error) {
	if err := decodeOptions(sc, &struct{}{}); err != nil {
		return nil, err
	}
	return pipeline.StepFunc(func(ctx context.Context, doc *types.Document) (*types.Document, error) {
		r := &doc.Request
		if r.InputType != types.InputURL {
			return doc, nil
		}
		target := r.URL
		if target == "" {
			target = strings.TrimSpace(r.Input)
		}
		if !webpage.IsURL(target) {
			return doc, nil
		}

		meta, err := c.pages().Fetch(ctx, target)
		if err != nil {
			// Transient failures go back to the retry policy; a page that
			// cannot be read leaves the URL as the query.
			if ctx.Err() != nil || steperr.IsRetryable(err) {
				return nil, err
			}
			doc.AddWarning(name, fmt.Sprintf("fetching %s: %v", target, err))
			return doc, doc.SetSearch("fetch_url", map[string]string{"url": target, "error": err.Error()})
		}
		if err := doc.SetSearch("fetch_url", meta); err != nil {
			return nil, steperr.Fatal(steperr.ReasonInvalidOutput, err)
		}
		if r.QueryOriginal == "" {
			r.QueryOriginal = r.Query
			if r.QueryOriginal == "" {
				r.QueryOriginal = target
			}
		}
		if meta.Title != "" && (r.Query == "" || r.Query == target || r.Query == r.Input) {
			r.Query = meta.Title
		}
		return doc, nil
	}), nil
}

// --- identify ---

func (c *collaborators) newIdentify(_ string, sc types.StepConfig) (pipeline.Step, error) {
	if err := decodeOptions(sc, &struct{}{}); err != nil {
		return nil, err
	}
	return pipeline.StepFunc(func(_ context.Context, doc *types.Document) (*types.Document, error) {
		w := &doc.Work
		if w.MediaType == "" {
			w.MediaType = doc.Request.MediaType
		}
		if len(w.Candidates) == 0 && len(doc.Request.Candidates) > 0 {
			w.Candidates = append([]types.Candidate(nil), doc.Request.Candidates...)
		}
		if w.Title == "" {
			q, _ := queryFrom(doc, nil)
			w.Title = q
		}
		return doc, nil
	}), nil
}

// --- identify_web_search ---

type webSearchOptions struct {
	QueryFields       map[string][]string `mapstructure:"query_fields"`
	ResultLimit       int                 `mapstructure:"result_limit"`
	MinMatchRatio     float64             `mapstructure:"min_match_ratio"`
	MinTokenMatches   int                 `mapstructure:"min_token_matches"`
	MinConfirmations  int                 `mapstructure:"min_confirmations"`
	SingleMatchRatio  float64             `mapstructure:"single_match_ratio"`
	ConsensusOverride *bool               `mapstructure:"consensus_override"`
	UpdateQuery       *bool               `mapstructure:"update_query"`
}

func (c *collaborators) newIdentifyWebSearch(name string, sc types.StepConfig) (pipeline.Step, error) {
	opts := webSearchOptions{
		MinMatchRatio:    0.4,
		MinTokenMatches:  2,
		MinConfirmations: 2,
		SingleMatchRatio: 0.75,
	}
	if err := decodeOptions(sc, &opts); err != nil {
		return nil, err
	}
	limit := opts.ResultLimit
	if limit <= 0 {
		limit = c.env.Config.WebSearch.MaxResults
	}
	if limit <= 0 {
		limit = 10
	}

	return pipeline.StepFunc(func(ctx context.Context, doc *types.Document) (*types.Document, error) {
		r, w := &doc.Request, &doc.Work
		mediaType := doc.MediaType()
		if w.MediaType == "" {
			w.MediaType = mediaType
		}

		seedText := r.Query
		if seedText == "" {
			seedText = r.Input
		}
		fillWork(w, fieldsFromTitle(mediaType, stripSiteSuffix(seedText)), false)

		fields, _ := forMedia(opts.QueryFields, mediaType)
		query, err := queryFrom(doc, fields)
		if err != nil || query == "" {
			return doc, err
		}
		if r.QueryOriginal == "" {
			r.QueryOriginal = r.Query
			if r.QueryOriginal == "" {
				r.QueryOriginal = r.Input
			}
		}
		r.Query = query

		if len(c.env.Config.WebSearch.Order) == 0 {
			doc.AddWarning(name, "no web search providers configured")
			return doc, nil
		}
		backends, err := c.websearch()
		if err != nil {
			// Unconfigured providers leave identification to later steps.
			if steperr.Classify(err).Reason == steperr.ReasonConfig {
				doc.AddWarning(name, err.Error())
				return doc, nil
			}
			return nil, err
		}
		out, err := websearch.Search(ctx, query, backends, limit, c.env.Logger)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, websearch.ErrAllFailed) && !steperr.IsRetryable(err) {
				return nil, steperr.Fatal(steperr.ReasonHTTPStatus, err)
			}
			return nil, err
		}
		for _, e := range out.BackendErrors {
			doc.AddWarning(name, e)
		}

		section := map[string]any{
			"query":   query,
			"count":   len(out.Results),
			"results": out.Results,
		}
		cons := consensus(out.Results, mediaType, r.QueryOriginal, consensusParams{
			limit:            limit,
			minRatio:         opts.MinMatchRatio,
			minTokens:        opts.MinTokenMatches,
			minConfirmations: opts.MinConfirmations,
			singleRatio:      opts.SingleMatchRatio,
		})
		if cons.Count > 0 {
			section["analysis"] = cons
		}
		if cons.Accepted {
			fillWork(w, cons.Fields, opts.ConsensusOverride == nil || *opts.ConsensusOverride)
			if opts.UpdateQuery == nil || *opts.UpdateQuery {
				if q := refinedQuery(mediaType, w); q != "" {
					r.Query = q
				}
			}
		}
		if err := doc.SetSearch("web_search", section); err != nil {
			return nil, steperr.Fatal(steperr.ReasonInvalidOutput, err)
		}
		return doc, nil
	}), nil
}

// titleFields are the work fields a result title can carry.
type titleFields struct {
	Artist string `json:"artist,omitempty"`
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
	Year   int    `json:"year,omitempty"`
}

// fillWork copies non-empty fields into w. Without override only empty
// work fields are set.
func fillWork(w *types.Work, f titleFields, override bool) {
	set := func(dst *string, v string) {
		if v != "" && (override || *dst == "") {
			*dst = v
		}
	}
	set(&w.Artist, f.Artist)
	set(&w.Title, f.Title)
	set(&w.Author, f.Author)
	if f.Year > 0 && (override || w.Year == 0) {
		w.Year = f.Year
	}
}

// siteSuffixes are trailing title segments naming the site a result came
// from rather than the work.
var siteSuffixes = []string{
	"wikipedia", "discogs", "imdb", "tmdb", "tvdb", "goodreads", "open library",
	"spotify", "bandcamp", "youtube", "apple music", "rateyourmusic", "rym",
	"musicbrainz", "allmusic", "last.fm", "soundcloud", "amazon",
}

// domainRe matches a host name such as "last.fm" or "discogs.com".
var domainRe = regexp.MustCompile(`[a-z0-9]\.[a-z]{2,}`)

// stripSiteSuffix removes trailing " - Site" and " | Site" segments.
func stripSiteSuffix(title string) string {
	cleaned := strings.TrimSpace(title)
	for {
		i := max(strings.LastIndex(cleaned, " - "), strings.LastIndex(cleaned, " | "))
		if i <= 0 {
			return cleaned
		}
		tail := strings.ToLower(strings.TrimSpace(cleaned[i+3:]))
		if !domainRe.MatchString(tail) && !containsAny(tail, siteSuffixes) {
			return cleaned
		}
		cleaned = strings.TrimSpace(cleaned[:i])
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// fieldsFromTitle splits a title into work fields: "Artist - Title" for
// music and "Title by Author" or "Title - Author" for books.
func fieldsFromTitle(mediaType, title string) titleFields {
	title = strings.TrimSpace(title)
	if title == "" {
		return titleFields{}
	}
	out := titleFields{Year: release.Year(title), Title: title}
	switch mediaType {
	case "music":
		if a, t, ok := strings.Cut(title, " - "); ok && strings.TrimSpace(a) != "" && strings.TrimSpace(t) != "" {
			out.Artist, out.Title = strings.TrimSpace(a), strings.TrimSpace(t)
		}
	case "book":
		if i := strings.Index(strings.ToLower(title), " by "); i >= 0 {
			out.Title, out.Author = strings.TrimSpace(title[:i]), strings.TrimSpace(title[i+4:])
		} else if t, a, ok := strings.Cut(title, " - "); ok && strings.TrimSpace(t) != "" && strings.TrimSpace(a) != "" {
			out.Title, out.Author = strings.TrimSpace(t), strings.TrimSpace(a)
		}
	}
	return out
}

type consensusParams struct {
	limit            int
	minRatio         float64
	minTokens        int
	minConfirmations int
	singleRatio      float64
}

// consensusResult describes the best-supported reading of the results.
type consensusResult struct {
	Fields   titleFields `json:"fields"`
	Count    int         `json:"count"`
	AvgScore float64     `json:"avg_score"`
	Accepted bool        `json:"accepted"`
}

// consensus groups the top results by the work they name and accepts the
// best group when enough results agree, or when a single result matches
// the original query closely. Results naming another year than the query
// are ignored.
func consensus(results []types.WebResult, mediaType, original string, p consensusParams) consensusResult {
	queryTokens := matchTokens(original, nil)
	if len(queryTokens) == 0 {
		return consensusResult{}
	}
	inputYear := release.Year(original)

	type bucket struct {
		fields titleFields
		count  int
		sum    float64
		first  int
	}
	buckets := make(map[string]*bucket)
	for i, res := range results {
		if i >= max(p.limit, 1) {
			break
		}
		f := fieldsFromTitle(mediaType, stripSiteSuffix(res.Title))
		if f.Title == "" {
			continue
		}
		if inputYear > 0 && f.Year > 0 && f.Year != inputYear {
			continue
		}
		if mediaType == "music" && f.Artist == "" {
			continue
		}
		candTokens := matchTokens(f.Artist+" "+f.Title, nil)
		n, ratio := overlap(candTokens, queryTokens)
		if ratio < p.minRatio || n < p.minTokens {
			continue
		}
		key := fmt.Sprintf("%s|%s|%d", strings.ToLower(f.Artist), strings.ToLower(f.Title), f.Year)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{fields: f, first: i}
			buckets[key] = b
		}
		b.count++
		b.sum += ratio
	}
	if len(buckets) == 0 {
		return consensusResult{}
	}

	all := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		all = append(all, b)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		if all[i].sum != all[j].sum {
			return all[i].sum > all[j].sum
		}
		return all[i].first < all[j].first
	})
	best := all[0]
	avg := best.sum / float64(best.count)
	accepted := best.count >= p.minConfirmations || (best.count == 1 && avg >= p.singleRatio)
	out := consensusResult{Count: best.count, AvgScore: avg, Accepted: accepted}
	if accepted {
		out.Fields = best.fields
	}
	return out
}

// refinedQuery is the search query implied by the identified work.
func refinedQuery(mediaType string, w *types.Work) string {
	if w.Title == "" {
		return ""
	}
	suffix := ""
	if w.Year > 0 {
		suffix = fmt.Sprintf(" (%d)", w.Year)
	}
	if mediaType == "music" && w.Artist != "" {
		return w.Artist + " - " + w.Title + suffix
	}
	return w.Title + suffix
}

// matchTokens returns the distinct Key tokens of s longer than one rune.
func matchTokens(s string, stop map[string]bool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range textnorm.Tokens(s, stop) {
		if len([]rune(t)) < 2 || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// overlap counts the candidate tokens present in the query and returns the
// share of candidate tokens matched.
func overlap(candidate, query []string) (int, float64) {
	return textnorm.Overlap(candidate, query)
}

// --- extract_release_preferences ---

var catalogueRe = regexp.MustCompile(`\b[A-Z0-9]{2,}-[A-Z0-9]{2,}\b`)

func (c *collaborators) newExtractPreferences(_ string, sc types.StepConfig) (pipeline.Step, error) {
	if err := decodeOptions(sc, &struct{}{}); err != nil {
		return nil, err
	}
	cfg := c.env.Config.ReleasePreferences
	return pipeline.StepFunc(func(_ context.Context, doc *types.Document) (*types.Document, error) {
		r := &doc.Request
		text := r.QueryOriginal
		if text == "" {
			text = r.Query
		}
		if text == "" {
			text = r.Input
		}
		padded := " " + textnorm.Normalize(text) + " "

		var prefs types.ReleasePreferences
		prefs.Editions = keywordHits(cfg.Editions, padded)
		prefs.Media = keywordHits(cfg.Media, padded)
		prefs.Formats = keywordHits(cfg.Formats, padded)

		seen := make(map[string]bool)
		for _, m := range catalogueRe.FindAllString(text, -1) {
			// Digit-only matches are year ranges or bit depths.
			if strings.Trim(m, "0123456789-") == "" {
				continue
			}
			if !seen[m] {
				seen[m] = true
				prefs.CatalogueNumbers = append(prefs.CatalogueNumbers, m)
			}
		}
		sort.Strings(prefs.CatalogueNumbers)

		explicit := !prefs.IsZero()
		// A year only narrows the release when another preference makes
		// the request explicit; on its own it usually names the original.
		if explicit {
			prefs.Year = release.Year(text)
		}
		r.ExplicitVersion = explicit
		if explicit {
			r.ReleasePreferences = &prefs
		} else {
			r.ReleasePreferences = nil
		}
		return doc, nil
	}), nil
}

// keywordHits returns the sorted canonical values whose phrases occur as
// whole words in padded.
func keywordHits(keywords map[string][]string, padded string) []string {
	var out []string
	for _, canonical := range sortedKeys(keywords) {
		for _, phrase := range keywords[canonical] {
			p := textnorm.Normalize(phrase)
			if p != "" && strings.Contains(padded, " "+p+" ") {
				out = append(out, canonical)
				break
			}
		}
	}
	return out
}

// --- determine_media_type ---

type mediaTypeOptions struct {
	ResultLimit int   `mapstructure:"result_limit"`
	MinScore    int   `mapstructure:"min_score"`
	Fallback    *bool `mapstructure:"fallback"`
}

// Media type sources recorded in decision.media_type_source.
const (
	SourceRequest  = "request"
	SourceKeywords = "keywords"
	SourceQuery    = "query"
	SourceDefault  = "default"
)

var episodeRe = regexp.MustCompile(`\bs\d{1,2}\s?e\d{1,2}\b`)

func (c *collaborators) newDetermineMediaType(_ string, sc types.StepConfig) (pipeline.Step, error) {
	var opts mediaTypeOptions
	if err := decodeOptions(sc, &opts); err != nil {
		return nil, err
	}
	cfg := c.env.Config.MediaTypes
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = cfg.MinScore
	}
	if minScore <= 0 {
		minScore = 1
	}
	limit := opts.ResultLimit
	if limit <= 0 {
		limit = 5
	}

	return pipeline.StepFunc(func(_ context.Context, doc *types.Document) (*types.Document, error) {
		if doc.MediaType() != "" {
			if doc.Decision.MediaTypeSource == "" {
				doc.Decision.MediaTypeSource = SourceRequest
			}
			return doc, nil
		}
		set := func(mt, source string, confidence int) {
			doc.Request.MediaType = mt
			doc.Work.MediaType = mt
			doc.Decision.MediaTypeSource = source
			doc.Decision.MediaTypeConfidence = confidence
		}

		query, _ := queryFrom(doc, nil)
		text, err := mediaTypeText(doc, query, limit)
		if err != nil {
			return nil, err
		}
		if mt, score := scoreMediaTypes(cfg.Keywords, text); score >= minScore {
			set(mt, SourceKeywords, score)
			return doc, nil
		}
		if opts.Fallback == nil || *opts.Fallback {
			if mt := inferMediaType(query); mt != "" {
				set(mt, SourceQuery, 1)
				return doc, nil
			}
		}
		if cfg.Default != "" {
			set(cfg.Default, SourceDefault, 0)
		}
		return doc, nil
	}), nil
}

// mediaTypeText is the lowercased text keywords are counted in: the top web
// results when present, else the query, plus any fetched page metadata.
func mediaTypeText(doc *types.Document, query string, limit int) (string, error) {
	var parts []string
	if raw, ok := doc.Search["web_search"]; ok {
		var section struct {
			Results []types.WebResult `json:"results"`
		}
		if err := json.Unmarshal(raw, &section); err != nil {
			return "", steperr.Fatal(steperr.ReasonInput, fmt.Errorf("reading search.web_search: %w", err))
		}
		for i, res := range section.Results {
			if i >= limit {
				break
			}
			parts = append(parts, res.Title, res.Snippet)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, query)
	}
	if raw, ok := doc.Search["fetch_url"]; ok {
		var meta types.PageMeta
		if err := json.Unmarshal(raw, &meta); err == nil {
			parts = append(parts, meta.Title, meta.Description)
		}
	}
	return strings.ToLower(strings.Join(parts, " ")), nil
}

// mediaTypeOrder breaks keyword score ties.
var mediaTypeOrder = []string{"music", "movie", "tv", "book"}

// scoreMediaTypes counts keyword hits per media type; an episode marker
// such as s01e02 adds two to tv.
func scoreMediaTypes(keywords map[string][]string, text string) (string, int) {
	padded := " " + textnorm.Normalize(text) + " "
	scores := make(map[string]int)
	for mt, words := range keywords {
		for _, w := range words {
			if p := textnorm.Normalize(w); p != "" && strings.Contains(padded, " "+p+" ") {
				scores[mt]++
			}
		}
	}
	if episodeRe.MatchString(text) {
		scores["tv"] += 2
	}

	order := append([]string(nil), mediaTypeOrder...)
	for _, mt := range sortedKeys(scores) {
		if !containsString(order, mt) {
			order = append(order, mt)
		}
	}
	best, bestScore := "", 0
	for _, mt := range order {
		if scores[mt] > bestScore {
			best, bestScore = mt, scores[mt]
		}
	}
	return best, bestScore
}

// inferMediaType guesses from the shape of the query alone.
func inferMediaType(query string) string {
	text := strings.ToLower(query)
	padded := " " + textnorm.Key(text) + " "
	hasWord := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(padded, " "+w+" ") {
				return true
			}
		}
		return false
	}
	switch {
	case episodeRe.MatchString(text), hasWord("season", "episode"):
		return "tv"
	case strings.Contains(text, " by "):
		return "book"
	case strings.Contains(query, " - "):
		if a, b, _ := strings.Cut(query, " - "); strings.TrimSpace(a) != "" && strings.TrimSpace(b) != "" {
			return "music"
		}
	}
	switch {
	case hasWord("movie", "film", "trailer"):
		return "movie"
	case hasWord("book", "novel", "audiobook"):
		return "book"
	}
	return ""
}
