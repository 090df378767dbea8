// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package config

import (
	"time"

	"github.com/pdiddy/iwantit/pkg/types"
)

// queryFields lists, per media type, the document paths joined into a
// search query.
func queryFields() map[string]any {
	return map[string]any{
		"music":   []string{"work.artist", "work.title", "work.year", "request.query"},
		"movie":   []string{"work.title", "work.year", "request.query"},
		"tv":      []string{"work.title", "work.year", "request.query"},
		"book":    []string{"work.title", "work.author", "work.year", "request.query"},
		"default": []string{"request.query"},
	}
}

func cached(ttl time.Duration) types.StepCacheConfig {
	return types.StepCacheConfig{Enabled: true, TTL: ttl}
}

// Default returns the built-in configuration. User files merge over it.
func Default() *types.Config {
	return &types.Config{
		PreSteps: []string{
			"ocr",
			"fetch_url",
			"identify",
			"identify_web_search",
			"extract_release_preferences",
			"determine_media_type",
		},
		DefaultWorkflow: "music",
		Workflows: []types.WorkflowConfig{
			{
				Name:  "music",
				Match: types.WorkflowMatch{MediaType: []string{"music"}},
				Steps: []string{
					"prowlarr_search", "filter_candidates", "filter_match", "redacted_enrich",
					"rank_releases", "decide", "prowlarr_grab", "store_tags",
				},
			},
			{
				Name:  "movie",
				Match: types.WorkflowMatch{MediaType: []string{"movie"}},
				Steps: []string{"arr_lookup", "decide_library", "dispatch_radarr", "store_tags"},
			},
			{
				Name:  "tv",
				Match: types.WorkflowMatch{MediaType: []string{"tv"}},
				Steps: []string{"arr_lookup", "decide_library", "dispatch_sonarr", "store_tags"},
			},
			{
				Name:  "book",
				Match: types.WorkflowMatch{MediaType: []string{"book"}},
				Steps: []string{
					"prowlarr_search", "filter_candidates", "filter_match",
					"rank_releases", "decide", "prowlarr_grab", "store_tags",
				},
			},
		},
		Steps: map[string]types.StepConfig{
			"ocr":       {Builtin: "ocr", Timeout: time.Minute},
			"fetch_url": {Builtin: "fetch_url", Timeout: 15 * time.Second, Cache: cached(time.Hour)},
			"identify":  {Builtin: "identify"},
			"identify_web_search": {
				Builtin:     "identify_web_search",
				Timeout:     15 * time.Second,
				MaxAttempts: 3,
				Cache:       cached(time.Hour),
				Options: map[string]any{
					"query_fields":       queryFields(),
					"min_match_ratio":    0.4,
					"min_token_matches":  2,
					"min_confirmations":  2,
					"single_match_ratio": 0.75,
				},
			},
			"extract_release_preferences": {Builtin: "extract_release_preferences"},
			"determine_media_type":        {Builtin: "determine_media_type"},
			"prowlarr_search": {
				Builtin: "prowlarr_search",
				Timeout: 30 * time.Second,
				Cache:   cached(30 * time.Minute),
				Options: map[string]any{"result_limit": 50},
			},
			"filter_candidates": {Builtin: "filter_candidates"},
			"filter_match":      {Builtin: "filter_match"},
			"redacted_enrich": {
				Builtin: "redacted_enrich",
				Timeout: 30 * time.Second,
				Cache:   cached(24 * time.Hour),
			},
			"rank_releases": {Builtin: "rank_releases"},
			"decide":        {Builtin: "decide"},
			"decide_library": {
				Builtin:     "decide",
				Description: "Select the library entry, asking only when the lookup is ambiguous",
				Options:     map[string]any{"auto_select_single": true},
			},
			"seed_work_candidate": {Builtin: "seed_work_candidate"},
			"arr_lookup": {
				Builtin: "arr_lookup",
				Timeout: 20 * time.Second,
				Cache:   cached(6 * time.Hour),
			},
			"prowlarr_grab":   {Builtin: "prowlarr_grab", Timeout: 20 * time.Second, SideEffect: true},
			"dispatch_radarr": {Builtin: "arr_dispatch", SideEffect: true, Options: map[string]any{"arr": "radarr"}},
			"dispatch_sonarr": {Builtin: "arr_dispatch", SideEffect: true, Options: map[string]any{"arr": "sonarr"}},
			"store_tags":      {Builtin: "store_tags"},
		},
		Retries: types.RetryConfig{
			MaxAttempts:       2,
			Timeout:           30 * time.Second,
			Backoff:           500 * time.Millisecond,
			MaxBackoff:        4 * time.Second,
			BackoffMultiplier: 2,
		},
		Cache: types.CacheConfig{
			Backend:       types.CacheSQLite,
			MemoryEntries: 256,
			DefaultTTL:    time.Hour,
		},
		Decision: types.DecisionConfig{
			NoMatch: types.NoMatchNeedsChoice,
			TopN:    20,
			AutoSelect: map[string][]string{
				"music": {"FLAC"},
			},
		},
		QualityRules: map[string]types.RuleConfig{
			"music": musicRules(),
			"book":  bookRules(),
		},
		MediaTypes: types.MediaTypeConfig{
			Keywords: map[string][]string{
				"music": {"album", "single", "ep", "track", "song", "artist", "lyrics", "discography"},
				"movie": {"movie", "film", "trailer", "cast", "director", "runtime"},
				"tv":    {"tv", "series", "season", "episode", "show"},
				"book":  {"book", "novel", "author", "isbn", "paperback", "kindle", "audiobook"},
			},
			MinScore: 2,
			Default:  "music",
		},
		ReleasePreferences: types.ReleasePreferenceConfig{
			Editions: map[string][]string{
				"deluxe":      {"deluxe", "special edition", "expanded edition"},
				"anniversary": {"anniversary", "anniv"},
				"live":        {"live", "concert"},
				"bootleg":     {"bootleg"},
			},
			Media: map[string][]string{
				"cd":      {"cd"},
				"vinyl":   {"vinyl", "lp"},
				"web":     {"web", "digital"},
				"sacd":    {"sacd"},
				"blu-ray": {"blu-ray", "bluray"},
			},
			Formats: map[string][]string{
				"flac":      {"flac", "lossless"},
				"v0":        {"v0"},
				"320":       {"320", "320kbps", "320k"},
				"audiobook": {"audiobook", "audio book", "audible", "m4b", "aax"},
				"ebook":     {"ebook", "e-book", "epub", "mobi", "azw", "azw3", "pdf", "kindle"},
			},
		},
		Matching: types.MatchConfig{
			MinRatio:        0.4,
			MinTokenMatches: 2,
		},
		Prowlarr: types.ProwlarrConfig{
			URL: "http://localhost:9696",
			Categories: map[string][]int{
				"music": {3000, 3010, 3040},
				"book":  {7000},
			},
			CategoryPrefixes: map[string][]int{
				"music": {30},
				"book":  {70},
			},
			DownloadClientRules: []types.DownloadClientRule{
				{ClientID: 1, Categories: []int{3010, 3040, 3050, 3060}},
				{ClientID: 2, Categories: []int{3020}, CategoryPrefixes: []int{2}},
				{ClientID: 3, CategoryPrefixes: []int{5}},
				{ClientID: 4, Categories: []int{3030}, CategoryPrefixes: []int{7}},
			},
		},
		Redacted: types.RedactedConfig{
			URL:        "https://redacted.sh",
			RateLimit:  5,
			RatePeriod: 10 * time.Second,
		},
		Radarr: types.ArrConfig{
			URL:                 "http://localhost:7878",
			QualityProfileID:    1,
			RootFolderPath:      "/media/movies",
			Monitored:           true,
			SearchOnAdd:         true,
			MinimumAvailability: "released",
		},
		Sonarr: types.ArrConfig{
			URL:              "http://localhost:8989",
			QualityProfileID: 1,
			RootFolderPath:   "/media/tv",
			Monitored:        true,
			SearchOnAdd:      true,
			SeriesType:       "standard",
			SeasonFolder:     true,
		},
		WebSearch: types.WebSearchConfig{
			Order: []string{"kagi"},
			Providers: map[string]types.WebSearchProvider{
				"kagi":  {APIKey: "${ENV:KAGI_SEARCH_API_KEY}"},
				"brave": {APIKey: "${ENV:BRAVE_SEARCH_API_KEY}"},
			},
			MaxResults: 10,
		},
		OCR:     types.OCRConfig{Command: "tesseract", Languages: "eng"},
		HTTP:    types.HTTPConfig{Timeout: 30 * time.Second},
		Logging: types.LoggingConfig{Level: "info", Format: "console"},
	}
}

func musicRules() types.RuleConfig {
	return types.RuleConfig{
		Reject: []types.PatternRule{
			{Match: `\b24[- ]?bit\b`, Reason: "hi-res"},
			{Match: `\b24/\d{2,3}\b`, Reason: "hi-res"},
			{Match: `\bhi[- ]?res\b`, Reason: "hi-res"},
			{Match: `\b5\.1\b`, Reason: "surround"},
			{Match: `\bsurround\b`, Reason: "surround"},
		},
		Score: []types.ScoreRule{
			{Match: `\bflac\b`, Weight: 120, Label: "FLAC"},
			{Match: `\balac\b`, Weight: 110, Label: "ALAC"},
			{Match: `\bwav\b`, Weight: 100, Label: "WAV"},
			{Match: `\bmp3\b`, Weight: 15, Label: "MP3"},
			{Match: `\b320\b`, Weight: 30, Label: "320"},
			{Match: `\b256\b`, Weight: 20, Label: "256"},
			{Match: `\b192\b`, Weight: 10, Label: "192"},
			{Match: `\bv0\b`, Weight: 25, Label: "V0"},
			{Match: `\bv2\b`, Weight: 10, Label: "V2"},
			{Match: `\bweb\b`, Weight: 60, Label: "WEB"},
			{Match: `\bcd\b`, Weight: 40, Label: "CD"},
			{Match: `\bsacd\b`, Weight: 5, Label: "SACD"},
			{Match: `\bvinyl\b`, Weight: -10, Label: "VINYL"},
		},
		Numeric: []types.NumericRule{
			{Field: "seeders", Weight: 0.3},
			{Field: "size", Weight: 2, Scale: 1e9},
		},
		Priority: types.PriorityConfig{
			Order:   []string{"deluxe", "studio", "anniversary", "live", "bootleg"},
			Default: "studio",
			Categories: map[string][]string{
				"deluxe":      {`\bdeluxe\b`, `\bspecial edition\b`, `\bexpanded\b`},
				"anniversary": {`\banniversary\b`, `\banniv\b`},
				"live":        {`\blive\b`, `\bconcert\b`},
				"bootleg":     {`\bbootleg\b`},
			},
		},
	}
}

func bookRules() types.RuleConfig {
	ebook := `\b(epub|mobi|azw3?|pdf)\b`
	audio := `\b(audiobook|audio|m4b|mp3)\b`
	return types.RuleConfig{
		Numeric: []types.NumericRule{{Field: "seeders", Weight: 0.3}},
		Overlays: map[string]types.RuleOverlay{
			"audiobook": {
				Score:  []types.ScoreRule{{Match: audio, Weight: 50, Label: "audio"}},
				Reject: []types.PatternRule{{Match: ebook, Reason: "ebook"}},
			},
			"ebook": {
				Score:  []types.ScoreRule{{Match: ebook, Weight: 50, Label: "ebook"}},
				Reject: []types.PatternRule{{Match: audio, Reason: "audiobook"}},
			},
		},
	}
}
