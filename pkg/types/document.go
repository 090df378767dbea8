// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the shared data structures of the iwantit pipeline:
// the Document every step reads and augments, the Candidate records ranked
// and decided on, web search results, and the configuration schema.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// InputKind classifies the raw user input.
type InputKind string

const (
	InputText  InputKind = "text"
	InputURL   InputKind = "url"
	InputImage InputKind = "image"
	InputJSON  InputKind = "json"
)

// DecisionStatus is the terminal state of a run. The empty value means the
// decision has not been made yet.
type DecisionStatus string

const (
	StatusPending     DecisionStatus = ""
	StatusSelected    DecisionStatus = "selected"
	StatusNeedsChoice DecisionStatus = "needs_choice"
	StatusError       DecisionStatus = "error"
)

// ErrorTypeFatal is the error type recorded in Document.Error when a step
// fails fatally or exhausts its retries.
const ErrorTypeFatal = "FatalStepError"

// knownSections lists the top-level document keys owned by typed fields.
var knownSections = map[string]bool{
	"request":  true,
	"work":     true,
	"decision": true,
	"search":   true,
	"dispatch": true,
	"tags":     true,
	"warnings": true,
	"error":    true,
	"_meta":    true,
}

// Document is the JSON object that flows through the pipeline. Each step
// receives a snapshot and returns a new one; the executor never hands a
// step a document another step can still mutate.
//
// Top-level keys the typed sections do not cover are kept in Extra and
// written back unchanged, so external steps may attach their own sections.
type Document struct {
	// Request holds what the user asked for.
	Request Request `json:"request"`

	// Work is the identified work and its candidate releases.
	Work Work `json:"work"`

	// Decision is the terminal state of the run.
	Decision Decision `json:"decision"`

	// Search holds raw collaborator responses, one key per read-only
	// collaborator. Keys are only ever added.
	Search map[string]json.RawMessage `json:"search,omitempty"`

	// Dispatch holds acknowledgements from side-effecting collaborators.
	// Keys are only ever added.
	Dispatch map[string]json.RawMessage `json:"dispatch,omitempty"`

	// Tags carries free-form annotations for downstream steps.
	Tags map[string]any `json:"tags,omitempty"`

	// Warnings lists non-fatal notes recorded by steps.
	Warnings []Warning `json:"warnings,omitempty"`

	// Error is set by the executor when a step fails fatally.
	Error *ErrorInfo `json:"error,omitempty"`

	// Meta carries run bookkeeping owned by the executor.
	Meta Meta `json:"_meta"`

	// Extra preserves unknown top-level sections.
	Extra map[string]json.RawMessage `json:"-"`
}

// Request describes the user's input and explicit preferences.
type Request struct {
	Input              string              `json:"input,omitempty" yaml:"input,omitempty"`
	InputType          InputKind           `json:"input_type,omitempty" yaml:"input_type,omitempty"`
	URL                string              `json:"url,omitempty" yaml:"url,omitempty"`
	ImagePath          string              `json:"image_path,omitempty" yaml:"image_path,omitempty"`
	OCRText            string              `json:"ocr_text,omitempty" yaml:"ocr_text,omitempty"`
	Query              string              `json:"query,omitempty" yaml:"query,omitempty"`
	QueryOriginal      string              `json:"query_original,omitempty" yaml:"query_original,omitempty"`
	MediaType          string              `json:"media_type,omitempty" yaml:"media_type,omitempty"`
	Tags               []string            `json:"tags,omitempty" yaml:"tags,omitempty"`
	Preferences        map[string]string   `json:"preferences,omitempty" yaml:"preferences,omitempty"`
	ReleasePreferences *ReleasePreferences `json:"release_preferences,omitempty" yaml:"release_preferences,omitempty"`
	ExplicitVersion    bool                `json:"explicit_version,omitempty" yaml:"explicit_version,omitempty"`

	// Choice is the user's selection token for a resumed run: a 1-based
	// index into the seeded candidates or a unique substring of one label.
	Choice string `json:"choice,omitempty" yaml:"choice,omitempty"`

	// Candidates seeds the candidate list of a resumed run.
	Candidates []Candidate `json:"candidates,omitempty" yaml:"candidates,omitempty"`
}

// ReleasePreferences is an explicit release constraint. Every non-empty
// field must be satisfied by a candidate.
type ReleasePreferences struct {
	Editions         []string `json:"editions,omitempty" yaml:"editions,omitempty"`
	Media            []string `json:"media,omitempty" yaml:"media,omitempty"`
	Formats          []string `json:"formats,omitempty" yaml:"formats,omitempty"`
	CatalogueNumbers []string `json:"catalogue_numbers,omitempty" yaml:"catalogue_numbers,omitempty"`
	Labels           []string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Year             int      `json:"year,omitempty" yaml:"year,omitempty"`
}

// IsZero reports whether the constraint has no fields set.
func (p *ReleasePreferences) IsZero() bool {
	if p == nil {
		return true
	}
	return len(p.Editions) == 0 && len(p.Media) == 0 && len(p.Formats) == 0 &&
		len(p.CatalogueNumbers) == 0 && len(p.Labels) == 0 && p.Year == 0
}

// Work is the identified work.
type Work struct {
	Title            string            `json:"title,omitempty"`
	Artist           string            `json:"artist,omitempty"`
	Author           string            `json:"author,omitempty"`
	AlbumTitle       string            `json:"album_title,omitempty"`
	Year             int               `json:"year,omitempty"`
	MediaType        string            `json:"media_type,omitempty"`
	IDs              map[string]string `json:"ids,omitempty"`
	Candidates       []Candidate       `json:"candidates,omitempty"`
	Selected         *Candidate        `json:"selected,omitempty"`
	DownloadClientID int               `json:"download_client_id,omitempty"`
}

// Decision is the outcome of the decision engine.
type Decision struct {
	Status DecisionStatus `json:"status,omitempty"`
	Reason string         `json:"reason,omitempty"`

	// Step names the failing step when Status is error.
	Step string `json:"step,omitempty"`

	// Index is the 1-based position of the selected candidate among the
	// choices it was picked from.
	Index *int `json:"index,omitempty"`

	// Choices is emitted only for needs_choice, possibly empty.
	Choices []Candidate `json:"choices,omitempty"`

	MediaTypeConfidence int    `json:"media_type_confidence,omitempty"`
	MediaTypeSource     string `json:"media_type_source,omitempty"`
}

// MarshalJSON always writes a choices array when the status is
// needs_choice, so an empty choice set is distinguishable from a missing one.
func (d Decision) MarshalJSON() ([]byte, error) {
	type plain Decision
	if d.Status != StatusNeedsChoice {
		return json.Marshal(plain(d))
	}
	choices := d.Choices
	if choices == nil {
		choices = []Candidate{}
	}
	return json.Marshal(struct {
		plain
		Choices []Candidate `json:"choices"`
	}{plain(d), choices})
}

// Warning is a non-fatal note left by a step.
type Warning struct {
	Step    string `json:"step"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// ErrorInfo describes the fatal failure that ended a run.
type ErrorInfo struct {
	Message string `json:"message"`
	Step    string `json:"step"`
	Type    string `json:"type"`
	Reason  string `json:"reason,omitempty"`
}

// Meta is executor bookkeeping.
type Meta struct {
	RunID      string       `json:"run_id,omitempty"`
	Version    int          `json:"version"`
	ConfigPath string       `json:"config_path,omitempty"`
	Workflow   string       `json:"workflow,omitempty"`
	Trace      []TraceEntry `json:"trace,omitempty"`
}

// TraceEntry records one step execution.
type TraceEntry struct {
	Step       string `json:"step"`
	Kind       string `json:"kind"`
	Attempts   int    `json:"attempts,omitempty"`
	Cached     bool   `json:"cached,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Outcome    string `json:"outcome"`
}

// MarshalJSON writes the typed sections followed by any preserved unknown
// sections.
func (d Document) MarshalJSON() ([]byte, error) {
	type plain Document
	base, err := json.Marshal(plain(d))
	if err != nil {
		return nil, err
	}
	if len(d.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range d.Extra {
		if knownSections[k] {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the typed sections and keeps every other top-level
// key in Extra.
func (d *Document) UnmarshalJSON(data []byte) error {
	type plain Document
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if knownSections[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]json.RawMessage)
		}
		p.Extra[k] = v
	}
	*d = Document(p)
	return nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() (*Document, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("cloning document: %w", err)
	}
	var out Document
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cloning document: %w", err)
	}
	return &out, nil
}

// ToMap renders the document as a generic JSON object. Numbers are kept as
// json.Number so integers survive a round trip.
func (d *Document) ToMap() (map[string]any, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// DocumentFromMap is the inverse of ToMap.
func DocumentFromMap(m map[string]any) (*Document, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// SetSearch stores a collaborator response under search.<key>.
func (d *Document) SetSearch(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding search.%s: %w", key, err)
	}
	if d.Search == nil {
		d.Search = make(map[string]json.RawMessage)
	}
	d.Search[key] = raw
	return nil
}

// SetDispatch stores a collaborator acknowledgement under dispatch.<key>.
func (d *Document) SetDispatch(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding dispatch.%s: %w", key, err)
	}
	if d.Dispatch == nil {
		d.Dispatch = make(map[string]json.RawMessage)
	}
	d.Dispatch[key] = raw
	return nil
}

// SetExtra stores an auxiliary top-level section.
func (d *Document) SetExtra(key string, v any) error {
	if knownSections[key] {
		return fmt.Errorf("section %q is not an extra section", key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if d.Extra == nil {
		d.Extra = make(map[string]json.RawMessage)
	}
	d.Extra[key] = raw
	return nil
}

// AddWarning appends a non-fatal note.
func (d *Document) AddWarning(step, message string) {
	d.Warnings = append(d.Warnings, Warning{Step: step, Message: message, Type: "warning"})
}

// MediaType returns the best known media type: the identified work's, else
// the request's.
func (d *Document) MediaType() string {
	if d.Work.MediaType != "" {
		return d.Work.MediaType
	}
	return d.Request.MediaType
}

// Constraint returns the explicit release constraint, merging extracted
// release preferences with user-supplied preference overrides.
func (d *Document) Constraint() *ReleasePreferences {
	var c ReleasePreferences
	if p := d.Request.ReleasePreferences; p != nil {
		c = *p
		c.Editions = append([]string(nil), p.Editions...)
		c.Media = append([]string(nil), p.Media...)
		c.Formats = append([]string(nil), p.Formats...)
		c.CatalogueNumbers = append([]string(nil), p.CatalogueNumbers...)
		c.Labels = append([]string(nil), p.Labels...)
	}
	for k, v := range d.Request.Preferences {
		if v == "" {
			continue
		}
		switch k {
		case "edition":
			c.Editions = appendUnique(c.Editions, v)
		case "media":
			c.Media = appendUnique(c.Media, v)
		case "format":
			c.Formats = appendUnique(c.Formats, v)
		case "catalogue_number", "catno":
			c.CatalogueNumbers = appendUnique(c.CatalogueNumbers, v)
		case "label":
			c.Labels = appendUnique(c.Labels, v)
		}
	}
	if c.IsZero() {
		return nil
	}
	return &c
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
