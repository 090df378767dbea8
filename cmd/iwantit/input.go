// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/iwantit/internal/config"
	"github.com/pdiddy/iwantit/internal/external"
	"github.com/pdiddy/iwantit/internal/webpage"
	"github.com/pdiddy/iwantit/pkg/types"
)

// imageExts are treated as image inputs when the path exists.
var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// inputFlags builds the request of run and step.
type inputFlags struct {
	text      string
	url       string
	image     string
	jsonFile  string
	stdin     bool
	mediaType string
	tags      []string
	prefs     []string
	choice    string
}

func (f *inputFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.text, "text", "", "text input")
	fl.StringVar(&f.url, "url", "", "URL input")
	fl.StringVar(&f.image, "image", "", "image path input (OCR)")
	fl.StringVar(&f.jsonFile, "json", "", "JSON request or document file")
	fl.BoolVar(&f.stdin, "stdin", false, "read a JSON document or plain text from stdin")
	fl.StringVar(&f.mediaType, "media-type", "", "media type: music, movie, tv, book")
	fl.StringArrayVar(&f.tags, "tag", nil, "tag to attach (repeatable)")
	fl.StringArrayVar(&f.prefs, "pref", nil, "preference key=value (repeatable)")
	fl.StringVar(&f.choice, "choice", "", "choice for a resumed run: 1-based index or label substring")
	cmd.MarkFlagsMutuallyExclusive("text", "url", "image", "json", "stdin")
}

func (f *inputFlags) given() int {
	n := 0
	for _, s := range []string{f.text, f.url, f.image, f.jsonFile} {
		if s != "" {
			n++
		}
	}
	if f.stdin {
		n++
	}
	return n
}

// document builds the starting document from flags, positional args, or
// stdin. Positional args are joined and classified like --text, --url, or
// --image by their shape. Stdin is read when asked or when nothing else was
// given and it is not a terminal.
func (f *inputFlags) document(args []string, stdin io.Reader, stdinTTY bool) (*types.Document, error) {
	if f.given() > 0 && len(args) > 0 {
		return nil, errors.New("pass the input either as arguments or with an input flag, not both")
	}

	var doc *types.Document
	var err error
	switch {
	case f.jsonFile != "":
		data, rerr := os.ReadFile(config.ExpandHome(f.jsonFile))
		if rerr != nil {
			return nil, fmt.Errorf("reading --json: %w", rerr)
		}
		doc, err = parseJSONInput(data)
	case f.stdin || (f.given() == 0 && len(args) == 0 && !stdinTTY):
		data, rerr := io.ReadAll(stdin)
		if rerr != nil {
			return nil, fmt.Errorf("reading stdin: %w", rerr)
		}
		doc, err = parseStdin(data)
	case f.text != "":
		doc = &types.Document{Request: textRequest(f.text)}
	case f.url != "":
		doc = &types.Document{Request: urlRequest(f.url)}
	case f.image != "":
		doc = &types.Document{Request: imageRequest(f.image)}
	case len(args) > 0:
		doc = &types.Document{Request: classify(strings.Join(args, " "))}
	default:
		return nil, errors.New("no input: pass text, --url, --image, --json or --stdin")
	}
	if err != nil {
		return nil, err
	}
	return doc, f.apply(&doc.Request)
}

// apply layers the request flags over r.
func (f *inputFlags) apply(r *types.Request) error {
	if f.mediaType != "" {
		r.MediaType = strings.ToLower(f.mediaType)
	}
	r.Tags = appendTags(r.Tags, f.tags)
	for _, kv := range f.prefs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return fmt.Errorf("--pref %q: want key=value", kv)
		}
		if r.Preferences == nil {
			r.Preferences = make(map[string]string)
		}
		r.Preferences[k] = strings.TrimSpace(v)
	}
	if f.choice != "" {
		r.Choice = f.choice
	}
	return nil
}

// appendTags adds tags, splitting comma lists and dropping duplicates.
func appendTags(have, add []string) []string {
	seen := make(map[string]bool, len(have))
	for _, t := range have {
		seen[t] = true
	}
	for _, raw := range add {
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			if t != "" && !seen[t] {
				seen[t] = true
				have = append(have, t)
			}
		}
	}
	return have
}

func textRequest(s string) types.Request {
	s = strings.TrimSpace(s)
	return types.Request{Input: s, InputType: types.InputText, Query: s}
}

func urlRequest(s string) types.Request {
	s = strings.TrimSpace(s)
	return types.Request{Input: s, InputType: types.InputURL, URL: s, Query: s}
}

func imageRequest(s string) types.Request {
	s = strings.TrimSpace(s)
	return types.Request{Input: s, InputType: types.InputImage, ImagePath: config.ExpandHome(s)}
}

// classify picks the input kind of a bare string.
func classify(s string) types.Request {
	s = strings.TrimSpace(s)
	if webpage.IsURL(s) {
		return urlRequest(s)
	}
	if imageExts[strings.ToLower(filepath.Ext(s))] {
		if st, err := os.Stat(config.ExpandHome(s)); err == nil && !st.IsDir() {
			return imageRequest(s)
		}
	}
	return textRequest(s)
}

func parseStdin(data []byte) (*types.Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("stdin is empty")
	}
	if trimmed[0] == '{' {
		return parseJSONInput(trimmed)
	}
	return &types.Document{Request: classify(string(trimmed))}, nil
}

// parseJSONInput accepts a full document (an object with a request key)
// or a bare request object.
func parseJSONInput(data []byte) (*types.Document, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("input is not a JSON object: %w", err)
	}
	if _, ok := probe["request"]; ok {
		doc, err := external.DecodeDocument(data)
		if err != nil {
			return nil, fmt.Errorf("reading document: %w", err)
		}
		fillRequest(&doc.Request)
		return doc, nil
	}
	var r types.Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("reading request: %w", err)
	}
	fillRequest(&r)
	return &types.Document{Request: r}, nil
}

// fillRequest derives the input kind and query of a JSON request that
// left them out.
func fillRequest(r *types.Request) {
	if r.InputType != "" || r.Input == "" {
		if r.InputType == "" && r.Query != "" {
			r.InputType = types.InputJSON
		}
		return
	}
	c := classify(r.Input)
	r.InputType = c.InputType
	if r.URL == "" {
		r.URL = c.URL
	}
	if r.ImagePath == "" {
		r.ImagePath = c.ImagePath
	}
	if r.Query == "" {
		r.Query = c.Query
	}
}
