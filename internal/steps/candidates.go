// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package steps

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/iwantit/internal/arr"
	"github.com/pdiddy/iwantit/internal/decide"
	"github.com/pdiddy/iwantit/internal/pipeline"
	"github.com/pdiddy/iwantit/internal/prowlarr"
	"github.com/pdiddy/iwantit/internal/rank"
	"github.com/pdiddy/iwantit/internal/redacted"
	"github.com/pdiddy/iwantit/internal/steperr"
	"github.com/pdiddy/iwantit/internal/textnorm"
	"github.com/pdiddy/iwantit/pkg/types"
)

// --- prowlarr_search ---

type prowlarrSearchOptions struct {
	QueryFields    map[string][]string `mapstructure:"query_fields"`
	Categories     map[string][]int    `mapstructure:"categories"`
	IndexerIDs     []int               `mapstructure:"indexer_ids"`
	ResultLimit    int                 `mapstructure:"result_limit"`
	NormalizeQuery *bool               `mapstructure:"normalize_query"`
}

var bracketStripper = strings.NewReplacer("[", " ", "]", " ", "(", " ", ")", " ")

func (c *collaborators) newProwlarrSearch(_ string, sc types.StepConfig) (pipeline.Step, error) {
	opts := prowlarrSearchOptions{ResultLimit: 50}
	if err := decodeOptions(sc, &opts); err != nil {
		return nil, err
	}
	cfg := c.env.Config.Prowlarr
	if opts.Categories == nil {
		opts.Categories = cfg.Categories
	}
	if opts.IndexerIDs == nil {
		opts.IndexerIDs = cfg.IndexerIDs
	}

	return pipeline.StepFunc(func(ctx context.Context, doc *types.Document) (*types.Document, error) {
		mediaType := doc.MediaType()
		fields, _ := forMedia(opts.QueryFields, mediaType)
		query, err := queryFrom(doc, fields)
		if err != nil {
			return nil, err
		}
		if opts.NormalizeQuery == nil || *opts.NormalizeQuery {
			query = strings.Join(strings.Fields(bracketStripper.Replace(query)), " ")
		}
		if query == "" {
			return nil, steperr.Fatalf(steperr.ReasonInput, "nothing to search for")
		}
		client, err := c.prowlarr()
		if err != nil {
			return nil, err
		}
		cats, _ := forMedia(opts.Categories, mediaType)
		releases, err := client.Search(ctx, query, cats, opts.IndexerIDs)
		if err != nil {
			return nil, err
		}
		if opts.ResultLimit > 0 && len(releases) > opts.ResultLimit {
			releases = releases[:opts.ResultLimit]
		}

		doc.Request.Query = query
		if doc.Work.MediaType == "" {
			doc.Work.MediaType = mediaType
		}
		if len(releases) > 0 {
			cands := make([]types.Candidate, 0, len(releases))
			for _, r := range releases {
				cands = append(cands, r.Candidate())
			}
			doc.Work.Candidates = cands
		}
		if err := doc.SetSearch(prowlarr.Source, map[string]any{
			"query":      query,
			"count":      len(releases),
			"categories": cats,
		}); err != nil {
			return nil, steperr.Fatal(steperr.ReasonInvalidOutput, err)
		}
		return doc, nil
	}), nil
}

// --- filter_candidates ---

type filterCategoryOptions struct {
	Categories       map[string][]int `mapstructure:"categories"`
	CategoryPrefixes map[string][]int `mapstructure:"category_prefixes"`
	AllowMissing     bool             `mapstructure:"allow_missing_categories"`
}

// categoryFilterStats is recorded under filter.categories.
type categoryFilterStats struct {
	Removed  int   `json:"removed"`
	Kept     int   `json:"kept"`
	Allowed  []int `json:"allowed"`
	Prefixes []int `json:"prefixes,omitempty"`
}

func (c *collaborators) newFilterCandidates(_ string, sc types.StepConfig) (pipeline.Step, error) {
	var opts filterCategoryOptions
	if err := decodeOptions(sc, &opts); err != nil {
		return nil, err
	}
	cfg := c.env.Config.Prowlarr
	if opts.Categories == nil {
		opts.Categories = cfg.Categories
	}
	if opts.CategoryPrefixes == nil {
		opts.CategoryPrefixes = cfg.CategoryPrefixes
	}

	return pipeline.StepFunc(func(_ context.Context, doc *types.Document) (*types.Document, error) {
		cands := doc.Work.Candidates
		if len(cands) == 0 {
			return doc, nil
		}
		mediaType := doc.MediaType()
		allowed, _ := forMedia(opts.Categories, mediaType)
		if len(allowed) == 0 {
			return doc, nil
		}
		prefixes, ok := forMedia(opts.CategoryPrefixes, mediaType)
		if !ok && mediaType == "music" {
			prefixes = []int{30}
		}

		kept := make([]types.Candidate, 0, len(cands))
		for _, cand := range cands {
			if categoryAllowed(cand.Categories, allowed, prefixes, opts.AllowMissing) {
				kept = append(kept, cand)
			}
		}
		removed := len(cands) - len(kept)
		if removed == 0 {
			return doc, nil
		}
		doc.Work.Candidates = kept
		if err := setFilterStats(doc, "categories", categoryFilterStats{
			Removed: removed, Kept: len(kept), Allowed: allowed, Prefixes: prefixes,
		}); err != nil {
			return nil, steperr.Fatal(steperr.ReasonInvalidOutput, err)
		}
		return doc, nil
	}), nil
}

// categoryAllowed matches ids exactly or by hundreds prefix, so prefix 30
// admits 3000-3099.
func categoryAllowed(have, allowed, prefixes []int, allowMissing bool) bool {
	if len(have) == 0 {
		return allowMissing
	}
	for _, id := range have {
		for _, a := range allowed {
			if id == a {
				return true
			}
		}
		for _, p := range prefixes {
			if id/100 == p {
				return true
			}
		}
	}
	return false
}

// --- filter_match ---

type filterMatchOptions struct {
	MatchFields         map[string][]string `mapstructure:"match_fields"`
	MinMatchRatio       float64             `mapstructure:"min_match_ratio"`
	MinTokenMatches     int                 `mapstructure:"min_token_matches"`
	KeepOriginalOnEmpty bool                `mapstructure:"keep_original_on_empty"`
}

var defaultMatchFields = map[string][]string{
	"music":   {"work.artist", "work.title", "work.year", "request.query"},
	"movie":   {"work.title", "work.year", "request.query"},
	"tv":      {"work.title", "work.year", "request.query"},
	"book":    {"work.title", "work.author", "work.year", "request.query"},
	"default": {"request.query"},
}

// matchFilterStats is recorded under filter.match.
type matchFilterStats struct {
	Removed         int     `json:"removed"`
	Kept            int     `json:"kept"`
	MinMatchRatio   float64 `json:"min_match_ratio"`
	MinTokenMatches int     `json:"min_token_matches"`
	KeptOriginal    bool    `json:"kept_original,omitempty"`
}

func (c *collaborators) newFilterMatch(_ string, sc types.StepConfig) (pipeline.Step, error) {
	var opts filterMatchOptions
	if err := decodeOptions(sc, &opts); err != nil {
		return nil, err
	}
	mc := c.env.Config.Matching
	if opts.MinMatchRatio <= 0 {
		opts.MinMatchRatio = mc.MinRatio
	}
	if opts.MinMatchRatio <= 0 {
		opts.MinMatchRatio = 0.4
	}
	if opts.MinTokenMatches <= 0 {
		opts.MinTokenMatches = mc.MinTokenMatches
	}
	if opts.MinTokenMatches <= 0 {
		opts.MinTokenMatches = 2
	}
	if opts.MatchFields == nil {
		opts.MatchFields = defaultMatchFields
	}
	stop := make(map[string]bool, len(mc.StopWords))
	for _, w := range mc.StopWords {
		stop[textnorm.Key(w)] = true
	}

	return pipeline.StepFunc(func(_ context.Context, doc *types.Document) (*types.Document, error) {
		cands := doc.Work.Candidates
		if len(cands) == 0 {
			return doc, nil
		}
		fields, ok := forMedia(opts.MatchFields, doc.MediaType())
		if !ok || len(fields) == 0 {
			fields = []string{"request.query"}
		}
		m, err := doc.ToMap()
		if err != nil {
			return nil, steperr.Fatal(steperr.ReasonInput, err)
		}
		var bits []string
		for _, f := range fields {
			if s := docString(m, f); s != "" {
				bits = append(bits, s)
			}
		}
		queryTokens := matchTokens(strings.Join(bits, " "), stop)
		if len(queryTokens) == 0 {
			return doc, nil
		}

		kept := make([]types.Candidate, 0, len(cands))
		for _, cand := range cands {
			candTokens := matchTokens(cand.Title, stop)
			n, ratio := overlap(candTokens, queryTokens)
			if ratio >= opts.MinMatchRatio && n >= opts.MinTokenMatches {
				kept = append(kept, cand)
			}
		}
		removed := len(cands) - len(kept)
		if removed == 0 {
			return doc, nil
		}
		stats := matchFilterStats{
			Removed:         removed,
			Kept:            len(kept),
			MinMatchRatio:   opts.MinMatchRatio,
			MinTokenMatches: opts.MinTokenMatches,
		}
		if len(kept) == 0 && opts.KeepOriginalOnEmpty {
			stats.KeptOriginal = true
		} else {
			doc.Work.Candidates = kept
		}
		if err := setFilterStats(doc, "match", stats); err != nil {
			return nil, steperr.Fatal(steperr.ReasonInvalidOutput, err)
		}
		return doc, nil
	}), nil
}

// --- redacted_enrich ---

type redactedOptions struct {
	EnabledMedia []string `mapstructure:"enabled_media"`
	MaxGroups    int      `mapstructure:"max_groups"`
}

func (c *collaborators) newRedactedEnrich(name string, sc types.StepConfig) (pipeline.Step, error) {
	opts := redactedOptions{EnabledMedia: []string{"music"}, MaxGroups: 10}
	if err := decodeOptions(sc, &opts); err != nil {
		return nil, err
	}

	return pipeline.StepFunc(func(ctx context.Context, doc *types.Document) (*types.Document, error) {
		if len(doc.Work.Candidates) == 0 || !containsString(opts.EnabledMedia, doc.MediaType()) {
			return doc, nil
		}
		if c.env.Config.Redacted.APIKey == "" {
			doc.AddWarning(name, "redacted.api_key is not configured; skipping enrichment")
			return doc, nil
		}
		client, err := c.redacted()
		if err != nil {
			return nil, err
		}

		// Candidates of one torrent group share a single lookup.
		byGroup := make(map[int][]int)
		for i, cand := range doc.Work.Candidates {
			if !redacted.IsSource(cand, client.Host()) {
				continue
			}
			gid, _ := redacted.ParseIDs(cand.InfoURL)
			if gid == 0 {
				gid, _ = redacted.ParseIDs(cand.SourceID)
			}
			if gid > 0 {
				byGroup[gid] = append(byGroup[gid], i)
			}
		}
		if len(byGroup) == 0 {
			return doc, nil
		}

		ids := make([]int, 0, len(byGroup))
		for gid := range byGroup {
			ids = append(ids, gid)
		}
		sort.Ints(ids)
		if opts.MaxGroups > 0 && len(ids) > opts.MaxGroups {
			ids = ids[:opts.MaxGroups]
		}

		enriched := 0
		var groups []string
		for _, gid := range ids {
			g, err := client.GroupDetails(ctx, gid)
			if err != nil {
				if ctx.Err() != nil || steperr.IsRetryable(err) {
					return nil, err
				}
				doc.AddWarning(name, fmt.Sprintf("group %d: %v", gid, err))
				continue
			}
			groups = append(groups, g.String())
			for _, i := range byGroup[gid] {
				cand := &doc.Work.Candidates[i]
				_, tid := redacted.ParseIDs(cand.InfoURL)
				if tid == 0 {
					_, tid = redacted.ParseIDs(cand.SourceID)
				}
				redacted.Enrich(cand, g, tid)
				enriched++
			}
		}
		if err := doc.SetSearch("redacted", map[string]any{
			"groups":   groups,
			"enriched": enriched,
		}); err != nil {
			return nil, steperr.Fatal(steperr.ReasonInvalidOutput, err)
		}
		return doc, nil
	}), nil
}

// --- rank_releases ---

func (c *collaborators) newRankReleases(name string, sc types.StepConfig) (pipeline.Step, error) {
	if err := decodeOptions(sc, &struct{}{}); err != nil {
		return nil, err
	}
	engine, err := rank.NewEngine(c.env.Config.QualityRules)
	if err != nil {
		return nil, err
	}
	return pipeline.StepFunc(func(_ context.Context, doc *types.Document) (*types.Document, error) {
		if len(doc.Work.Candidates) == 0 {
			return doc, nil
		}
		res := engine.For(doc.MediaType()).Rank(doc.Work.Candidates, doc.Constraint())
		doc.Work.Candidates = res.Candidates
		if res.Unmatched {
			doc.AddWarning(name, "no candidate satisfies the explicit release constraint")
		}
		return doc, nil
	}), nil
}

// --- decide ---

type decideOptions struct {
	NoMatch          string   `mapstructure:"no_match"`
	TopN             int      `mapstructure:"top_n"`
	AutoSelect       []string `mapstructure:"auto_select"`
	AutoSelectSingle bool     `mapstructure:"auto_select_single"`
}

func (c *collaborators) newDecide(_ string, sc types.StepConfig) (pipeline.Step, error) {
	var opts decideOptions
	if err := decodeOptions(sc, &opts); err != nil {
		return nil, err
	}
	switch types.NoMatchPolicy(opts.NoMatch) {
	case "", types.NoMatchNeedsChoice, types.NoMatchError:
	default:
		return nil, fmt.Errorf("options: no_match must be %q or %q", types.NoMatchNeedsChoice, types.NoMatchError)
	}

	return pipeline.StepFunc(func(_ context.Context, doc *types.Document) (*types.Document, error) {
		p := decide.PolicyFor(c.env.Config.Decision, doc.MediaType())
		if opts.NoMatch != "" {
			p.NoMatch = types.NoMatchPolicy(opts.NoMatch)
		}
		if opts.TopN > 0 {
			p.TopN = opts.TopN
		}
		if opts.AutoSelect != nil {
			p.AutoSelect = opts.AutoSelect
		}
		p.AutoSelectSingle = p.AutoSelectSingle || opts.AutoSelectSingle

		out := decide.Decide(decide.FromDocument(doc), p)
		if out.Status == types.StatusError {
			msg := out.Message
			if msg == "" {
				msg = out.Reason
			}
			return nil, steperr.Fatal(out.Reason, errors.New(msg))
		}
		decide.Apply(doc, out)
		return doc, nil
	}), nil
}

// --- seed_work_candidate ---

func (c *collaborators) newSeedWorkCandidate(_ string, sc types.StepConfig) (pipeline.Step, error) {
	if err := decodeOptions(sc, &struct{}{}); err != nil {
		return nil, err
	}
	return pipeline.StepFunc(func(_ context.Context, doc *types.Document) (*types.Document, error) {
		w := doc.Work
		if len(w.Candidates) > 0 || w.Title == "" {
			return doc, nil
		}
		cand := types.Candidate{
			Source: "work",
			Title:  w.Title,
			Artist: w.Artist,
			Author: w.Author,
			Year:   w.Year,
		}
		if len(w.IDs) > 0 {
			cand.Attrs = make(map[string]any, len(w.IDs))
			for _, k := range sortedKeys(w.IDs) {
				cand.Attrs[k+"_id"] = w.IDs[k]
			}
		}
		cand.SourceID = textnorm.Slug(w.Title)
		doc.Work.Candidates = []types.Candidate{cand}
		return doc, nil
	}), nil
}

// --- arr_lookup ---

type arrOptions struct {
	Arr         string `mapstructure:"arr"`
	ResultLimit int    `mapstructure:"result_limit"`
}

// arrKind resolves the service from the step option or the media type.
func arrKind(opt, mediaType string) (arr.Kind, error) {
	if opt != "" {
		k := arr.Kind(opt)
		if k != arr.Radarr && k != arr.Sonarr {
			return "", steperr.Fatalf(steperr.ReasonConfig, "unknown arr service %q", opt)
		}
		return k, nil
	}
	k, ok := arr.ForMediaType(mediaType)
	if !ok {
		return "", steperr.Fatalf(steperr.ReasonInput, "no arr service handles media type %q", mediaType)
	}
	return k, nil
}

func (c *collaborators) newArrLookup(_ string, sc types.StepConfig) (pipeline.Step, error) {
	opts := arrOptions{ResultLimit: 20}
	if err := decodeOptions(sc, &opts); err != nil {
		return nil, err
	}
	return pipeline.StepFunc(func(ctx context.Context, doc *types.Document) (*types.Document, error) {
		kind, err := arrKind(opts.Arr, doc.MediaType())
		if err != nil {
			return nil, err
		}
		term := doc.Work.Title
		if term == "" {
			if term, err = queryFrom(doc, nil); err != nil {
				return nil, err
			}
		} else if doc.Work.Year > 0 {
			term += " " + strconv.Itoa(doc.Work.Year)
		}
		if term == "" {
			return nil, steperr.Fatalf(steperr.ReasonInput, "nothing to look up")
		}
		client, err := c.arr(kind)
		if err != nil {
			return nil, err
		}
		items, err := client.Lookup(ctx, term)
		if err != nil {
			return nil, err
		}
		if opts.ResultLimit > 0 && len(items) > opts.ResultLimit {
			items = items[:opts.ResultLimit]
		}
		cands := make([]types.Candidate, 0, len(items))
		for _, it := range items {
			cands = append(cands, it.Candidate(kind))
		}
		if len(cands) > 0 {
			doc.Work.Candidates = cands
		}
		if err := doc.SetSearch(string(kind), map[string]any{"term": term, "count": len(items)}); err != nil {
			return nil, steperr.Fatal(steperr.ReasonInvalidOutput, err)
		}
		return doc, nil
	}), nil
}
