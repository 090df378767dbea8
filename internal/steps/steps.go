// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package steps provides the builtin step catalog. Each builtin declares
// the document paths it writes; collaborator clients are created on first
// use so a pipeline that never reaches a step does not need its
// credentials.
package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/pdiddy/iwantit/internal/arr"
	"github.com/pdiddy/iwantit/internal/docpath"
	"github.com/pdiddy/iwantit/internal/ocr"
	"github.com/pdiddy/iwantit/internal/pipeline"
	"github.com/pdiddy/iwantit/internal/prowlarr"
	"github.com/pdiddy/iwantit/internal/redacted"
	"github.com/pdiddy/iwantit/internal/steperr"
	"github.com/pdiddy/iwantit/internal/webpage"
	"github.com/pdiddy/iwantit/internal/websearch"
	"github.com/pdiddy/iwantit/pkg/types"
)

// Env is what builtins may depend on besides the document.
type Env struct {
	Config   *types.Config
	Logger   *slog.Logger
	StateDir string
	Now      func() time.Time
}

// collaborators lazily builds one client per remote service and shares it
// between steps, so rate limits hold across the run.
type collaborators struct {
	env Env

	prowlarr  func() (*prowlarr.Client, error)
	redacted  func() (*redacted.Client, error)
	websearch func() ([]websearch.Backend, error)
	pages     func() *webpage.Fetcher
	radarr    func() (*arr.Client, error)
	sonarr    func() (*arr.Client, error)

	ocrMu     sync.Mutex
	ocrEngine ocr.Engine
}

func newCollaborators(env Env) *collaborators {
	cfg := env.Config
	return &collaborators{
		env: env,
		prowlarr: sync.OnceValues(func() (*prowlarr.Client, error) {
			return prowlarr.New(cfg.Prowlarr, cfg.HTTP)
		}),
		redacted: sync.OnceValues(func() (*redacted.Client, error) {
			return redacted.New(cfg.Redacted, cfg.HTTP)
		}),
		websearch: sync.OnceValues(func() ([]websearch.Backend, error) {
			return websearch.Backends(cfg.WebSearch, cfg.HTTP)
		}),
		pages: sync.OnceValue(func() *webpage.Fetcher {
			return webpage.New(cfg.HTTP)
		}),
		radarr: sync.OnceValues(func() (*arr.Client, error) {
			return arr.New(arr.Radarr, cfg.Radarr, cfg.HTTP)
		}),
		sonarr: sync.OnceValues(func() (*arr.Client, error) {
			return arr.New(arr.Sonarr, cfg.Sonarr, cfg.HTTP)
		}),
	}
}

func (c *collaborators) arr(kind arr.Kind) (*arr.Client, error) {
	if kind == arr.Sonarr {
		return c.sonarr()
	}
	return c.radarr()
}

// ocrFor detects the engine once. A failed detection is retried on the
// next call since the binary may have been installed in between.
func (c *collaborators) ocrFor(ctx context.Context) (ocr.Engine, error) {
	c.ocrMu.Lock()
	defer c.ocrMu.Unlock()
	if c.ocrEngine != nil {
		return c.ocrEngine, nil
	}
	e, err := ocr.Detect(ctx, c.env.Config.OCR)
	if err != nil {
		return nil, err
	}
	c.ocrEngine = e
	return e, nil
}

// Catalog returns every builtin bound to env.
func Catalog(env Env) pipeline.Catalog {
	if env.Logger == nil {
		env.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if env.Now == nil {
		env.Now = time.Now
	}
	if env.Config == nil {
		env.Config = &types.Config{}
	}
	c := newCollaborators(env)

	return pipeline.Catalog{
		"ocr": {
			Description: "Extract text from an image input with tesseract",
			Emits:       []string{"request.ocr_text", "request.query"},
			New:         c.newOCR,
		},
		"fetch_url": {
			Description: "Fetch the title and description of a URL input",
			Emits:       []string{"request.query", "request.query_original", "search.fetch_url"},
			Cacheable:   true,
			KeyFields:   []string{"request.url", "request.input", "request.input_type"},
			New:         c.newFetchURL,
		},
		"identify": {
			Description: "Seed the work from the request",
			Emits:       []string{"work.title", "work.media_type", "work.candidates"},
			New:         c.newIdentify,
		},
		"identify_web_search": {
			Description: "Identify the work from web search consensus and refine the query",
			Emits: []string{
				"request.query", "request.query_original",
				"work.title", "work.artist", "work.author", "work.year", "work.media_type",
				"search.web_search",
			},
			Cacheable: true,
			KeyFields: []string{
				"request.query", "request.input", "request.media_type",
				"work.title", "work.artist", "work.author", "work.year", "work.media_type",
			},
			New: c.newIdentifyWebSearch,
		},
		"extract_release_preferences": {
			Description: "Extract an explicit edition, media, format or catalogue constraint from the query",
			Emits:       []string{"request.release_preferences", "request.explicit_version"},
			New:         c.newExtractPreferences,
		},
		"determine_media_type": {
			Description: "Score media type keywords over search results and the query",
			Emits: []string{
				"request.media_type", "work.media_type",
				"decision.media_type_confidence", "decision.media_type_source",
			},
			New: c.newDetermineMediaType,
		},
		"prowlarr_search": {
			Description: "Search indexers through Prowlarr",
			Emits:       []string{"request.query", "work.candidates", "work.media_type", "search.prowlarr"},
			Cacheable:   true,
			KeyFields: []string{
				"request.query", "request.media_type", "work.media_type",
				"work.title", "work.artist", "work.author", "work.year",
			},
			New: c.newProwlarrSearch,
		},
		"filter_candidates": {
			Description: "Drop candidates outside the media type's indexer categories",
			Emits:       []string{"work.candidates", "filter.categories"},
			New:         c.newFilterCandidates,
		},
		"filter_match": {
			Description: "Drop candidates whose titles do not match the identified work",
			Emits:       []string{"work.candidates", "filter.match"},
			New:         c.newFilterMatch,
		},
		"redacted_enrich": {
			Description: "Attach tracker metadata to candidates found on Redacted",
			Emits:       []string{"work.candidates", "search.redacted"},
			Cacheable:   true,
			KeyFields:   []string{"work.candidates", "work.media_type", "request.media_type"},
			New:         c.newRedactedEnrich,
		},
		"rank_releases": {
			Description: "Rank candidates with the media type's quality rules",
			Emits:       []string{"work.candidates"},
			New:         c.newRankReleases,
		},
		"decide": {
			Description: "Select a candidate or ask the user to choose",
			Emits:       []string{"decision", "work.selected"},
			New:         c.newDecide,
		},
		"seed_work_candidate": {
			Description: "Offer the identified work itself as the only candidate",
			Emits:       []string{"work.candidates"},
			New:         c.newSeedWorkCandidate,
		},
		"arr_lookup": {
			Description: "Look up movie or series candidates in Radarr or Sonarr",
			Emits:       []string{"work.candidates", "search.radarr", "search.sonarr"},
			Cacheable:   true,
			KeyFields:   []string{"request.query", "work.title", "work.year", "work.media_type", "request.media_type"},
			New:         c.newArrLookup,
		},
		"prowlarr_grab": {
			Description: "Send the selected release to a download client",
			Emits:       []string{"work.download_client_id", "dispatch.prowlarr"},
			SideEffect:  true,
			New:         c.newProwlarrGrab,
		},
		"arr_dispatch": {
			Description: "Add the selected movie or series to Radarr or Sonarr",
			Emits:       []string{"dispatch.radarr", "dispatch.sonarr"},
			SideEffect:  true,
			New:         c.newArrDispatch,
		},
		"store_tags": {
			Description: "Persist request tags to the state directory",
			Emits:       []string{"tags.stored"},
			New:         c.newStoreTags,
		},
	}
}

// decodeOptions decodes a step's builtin-specific settings into out.
// Unknown keys are an error so typos surface at build time.
func decodeOptions(sc types.StepConfig, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(sc.Options); err != nil {
		return fmt.Errorf("options: %w", err)
	}
	return nil
}

// forMedia returns m[mediaType], falling back to m["default"].
func forMedia[T any](m map[string]T, mediaType string) (T, bool) {
	if v, ok := m[mediaType]; ok {
		return v, true
	}
	v, ok := m["default"]
	return v, ok
}

// docString returns the value at a document path as text. Lists and
// objects yield the empty string.
func docString(m map[string]any, path string) string {
	v, ok := docpath.Get(m, path)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		if t.String() == "0" {
			return ""
		}
		return t.String()
	case float64:
		if t == 0 {
			return ""
		}
		return fmt.Sprint(t)
	case bool:
		return fmt.Sprint(t)
	}
	return ""
}

// queryFrom joins the values at fields, skipping empty and repeated parts.
// With no usable field it falls back to the request query, the OCR text,
// and the raw input of non-image requests.
func queryFrom(doc *types.Document, fields []string) (string, error) {
	if len(fields) > 0 {
		m, err := doc.ToMap()
		if err != nil {
			return "", steperr.Fatal(steperr.ReasonInput, err)
		}
		var parts []string
		seen := make(map[string]bool)
		for _, f := range fields {
			s := docString(m, f)
			if s == "" || seen[strings.ToLower(s)] {
				continue
			}
			seen[strings.ToLower(s)] = true
			parts = append(parts, s)
		}
		if q := strings.Join(parts, " "); q != "" {
			return q, nil
		}
	}
	r := doc.Request
	switch {
	case r.Query != "":
		return r.Query, nil
	case r.OCRText != "":
		return strings.Join(strings.Fields(r.OCRText), " "), nil
	case r.InputType != types.InputImage:
		return strings.TrimSpace(r.Input), nil
	}
	return "", nil
}

// setFilterStats records filter statistics under filter.<key>, keeping
// what earlier filters recorded.
func setFilterStats(doc *types.Document, key string, v any) error {
	section := map[string]json.RawMessage{}
	if raw, ok := doc.Extra["filter"]; ok {
		if err := json.Unmarshal(raw, &section); err != nil {
			return err
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	section[key] = data
	return doc.SetExtra("filter", section)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
