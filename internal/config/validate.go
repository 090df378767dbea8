// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package config

import (
	"fmt"
	"sort"

	"github.com/pdiddy/iwantit/internal/pipeline"
	"github.com/pdiddy/iwantit/internal/rank"
	"github.com/pdiddy/iwantit/internal/websearch"
	"github.com/pdiddy/iwantit/pkg/types"
)

// Report is the outcome of Validate. Errors prevent a run; warnings name
// steps that will degrade.
type Report struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// OK reports whether the configuration can run.
func (r Report) OK() bool { return len(r.Errors) == 0 }

func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate builds the pipeline from cfg and checks the settings the
// configured builtins depend on.
func Validate(cfg *types.Config, catalog pipeline.Catalog) Report {
	var r Report

	if _, err := pipeline.Build(cfg, catalog, ""); err != nil {
		for _, e := range unwrapAll(err) {
			r.Errors = append(r.Errors, e.Error())
		}
	}
	if !usesBuiltin(cfg, "rank_releases") {
		if _, err := rank.NewEngine(cfg.QualityRules); err != nil {
			r.errorf("quality_rules: %v", err)
		}
	}

	switch cfg.Decision.NoMatch {
	case "", types.NoMatchNeedsChoice, types.NoMatchError:
	default:
		r.errorf("decision.no_match: unknown policy %q", cfg.Decision.NoMatch)
	}
	switch cfg.Cache.Backend {
	case "", types.CacheFile, types.CacheSQLite, types.CacheNone:
	default:
		r.errorf("cache.backend: unknown backend %q", cfg.Cache.Backend)
	}
	if cfg.Retries.MaxAttempts < 0 {
		r.errorf("retries.max_attempts must not be negative")
	}

	if usesBuiltin(cfg, "prowlarr_search", "prowlarr_grab") {
		if cfg.Prowlarr.URL == "" {
			r.errorf("prowlarr.url is required by the prowlarr steps")
		}
		if cfg.Prowlarr.APIKey == "" {
			r.errorf("prowlarr.api_key is required by the prowlarr steps")
		}
	}
	if usesBuiltin(cfg, "redacted_enrich") && cfg.Redacted.APIKey == "" {
		r.warnf("redacted.api_key is not set; redacted_enrich will be skipped")
	}
	if usesBuiltin(cfg, "identify_web_search") {
		if len(cfg.WebSearch.Order) == 0 {
			r.warnf("web_search.order is empty; identify_web_search will be skipped")
		}
		for _, name := range cfg.WebSearch.Order {
			if !websearch.Known(name) {
				r.errorf("web_search.order: unknown provider %q", name)
				continue
			}
			if cfg.WebSearch.Providers[name].APIKey == "" {
				r.warnf("web_search.providers.%s.api_key is not set; identify_web_search will be skipped", name)
			}
		}
	}
	for _, kind := range arrKinds(cfg) {
		ac := cfg.Radarr
		if kind == "sonarr" {
			ac = cfg.Sonarr
		}
		if ac.URL == "" || ac.APIKey == "" {
			r.warnf("%s.url and %s.api_key are required by the %s steps", kind, kind, kind)
		}
	}

	sort.Strings(r.Warnings)
	return r
}

func unwrapAll(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func usesBuiltin(cfg *types.Config, names ...string) bool {
	for _, sc := range cfg.Steps {
		for _, n := range names {
			if sc.Builtin == n {
				return true
			}
		}
	}
	return false
}

// arrKinds returns the Radarr/Sonarr instances configured steps talk to.
// A step without an arr option may reach either.
func arrKinds(cfg *types.Config) []string {
	need := make(map[string]bool)
	for _, sc := range cfg.Steps {
		if sc.Builtin != "arr_lookup" && sc.Builtin != "arr_dispatch" {
			continue
		}
		switch kind, _ := sc.Options["arr"].(string); kind {
		case "radarr", "sonarr":
			need[kind] = true
		default:
			need["radarr"] = true
			need["sonarr"] = true
		}
	}
	var out []string
	for _, k := range []string{"radarr", "sonarr"} {
		if need[k] {
			out = append(out, k)
		}
	}
	return out
}
