// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report records what happened in a run outside the document:
// a failed-query log for tuning identification, and an optional markdown
// report per run.
package report

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/pdiddy/iwantit/internal/cache"
	"github.com/pdiddy/iwantit/pkg/types"
)

// FailedQueriesFile is the diagnostics log, relative to the state dir.
var FailedQueriesFile = filepath.Join("diagnostics", "failed_queries.jsonl")

// Reasons a run is logged as a failed query.
const (
	ReasonError          = "error"
	ReasonMissingArtist  = "missing_artist"
	ReasonMissingTitle   = "missing_title"
	ReasonNoCandidates   = "no_candidates"
	ReasonQueryUnrefined = "query_unrefined"
)

// Sanitized describes a user-supplied string without storing it.
type Sanitized struct {
	Length int    `json:"length,omitempty"`
	Hash   string `json:"hash,omitempty"`
	Domain string `json:"domain,omitempty"`
}

// FailedQuery is one diagnostics line.
type FailedQuery struct {
	TS            time.Time      `json:"ts"`
	RunID         string         `json:"run_id,omitempty"`
	Reasons       []string       `json:"reasons"`
	Input         Sanitized      `json:"input"`
	InputType     string         `json:"input_type,omitempty"`
	Query         Sanitized      `json:"query"`
	QueryOriginal Sanitized      `json:"query_original"`
	MediaType     string         `json:"media_type,omitempty"`
	Work          failedWork     `json:"work"`
	Decision      failedDecision `json:"decision"`
	SearchCounts  map[string]int `json:"search_counts,omitempty"`
}

type failedWork struct {
	Artist string `json:"artist,omitempty"`
	Title  string `json:"title,omitempty"`
	Year   int    `json:"year,omitempty"`
}

type failedDecision struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Step   string `json:"step,omitempty"`
}

// FailureReasons lists why doc counts as a failed query; empty means the
// run identified the work well enough.
func FailureReasons(doc *types.Document) []string {
	var reasons []string
	if doc.Decision.Status == types.StatusError {
		reasons = append(reasons, ReasonError)
	}
	if doc.MediaType() == "music" && doc.Work.Artist == "" {
		reasons = append(reasons, ReasonMissingArtist)
	}
	if doc.Work.Title == "" {
		reasons = append(reasons, ReasonMissingTitle)
	}
	if doc.Decision.Status == types.StatusNeedsChoice && len(doc.Work.Candidates) == 0 {
		reasons = append(reasons, ReasonNoCandidates)
	}
	q, orig := strings.TrimSpace(doc.Request.Query), strings.TrimSpace(doc.Request.QueryOriginal)
	if orig != "" && q == orig {
		reasons = append(reasons, ReasonQueryUnrefined)
	}
	return reasons
}

// Sanitize hashes s and keeps only its length and, for URLs, the host.
func Sanitize(s string) Sanitized {
	s = strings.TrimSpace(s)
	if s == "" {
		return Sanitized{}
	}
	out := Sanitized{Length: len(s)}
	if h, err := cache.Key(map[string]any{"value": s}); err == nil {
		out.Hash = h
	}
	if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.Host != "" {
		out.Domain = u.Host
	}
	return out
}

// NewFailedQuery builds the diagnostics line for doc.
func NewFailedQuery(doc *types.Document, reasons []string, now time.Time) FailedQuery {
	fq := FailedQuery{
		TS:            now.UTC(),
		RunID:         doc.Meta.RunID,
		Reasons:       reasons,
		Input:         Sanitize(doc.Request.Input),
		InputType:     string(doc.Request.InputType),
		Query:         Sanitize(doc.Request.Query),
		QueryOriginal: Sanitize(doc.Request.QueryOriginal),
		MediaType:     doc.MediaType(),
		Work:          failedWork{Artist: doc.Work.Artist, Title: doc.Work.Title, Year: doc.Work.Year},
		Decision: failedDecision{
			Status: string(doc.Decision.Status),
			Reason: doc.Decision.Reason,
			Step:   doc.Decision.Step,
		},
	}
	for key, raw := range doc.Search {
		var section struct {
			Count *int `json:"count"`
		}
		if json.Unmarshal(raw, &section) == nil && section.Count != nil {
			if fq.SearchCounts == nil {
				fq.SearchCounts = make(map[string]int)
			}
			fq.SearchCounts[key] = *section.Count
		}
	}
	return fq
}

// LogFailedQuery appends a diagnostics line for doc when it failed. The
// append holds an advisory lock so concurrent runs never interleave lines.
// It reports whether a line was written.
func LogFailedQuery(stateDir string, doc *types.Document, now time.Time) (bool, error) {
	reasons := FailureReasons(doc)
	if len(reasons) == 0 {
		return false, nil
	}
	sort.Strings(reasons)
	line, err := json.Marshal(NewFailedQuery(doc, reasons, now))
	if err != nil {
		return false, err
	}

	path := filepath.Join(stateDir, FailedQueriesFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating diagnostics dir: %w", err)
	}
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return false, fmt.Errorf("locking %s: %w", path, err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", path, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, f.Close()
}
