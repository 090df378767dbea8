// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/pdiddy/iwantit/internal/arr"
	"github.com/pdiddy/iwantit/internal/pipeline"
	"github.com/pdiddy/iwantit/internal/prowlarr"
	"github.com/pdiddy/iwantit/internal/steperr"
	"github.com/pdiddy/iwantit/internal/textnorm"
	"github.com/pdiddy/iwantit/pkg/types"
)

// Dispatch acknowledgement statuses.
const (
	DispatchOK     = "ok"
	DispatchExists = "exists"
)

// --- prowlarr_grab ---

type grabAck struct {
	Status           string          `json:"status"`
	GUID             string          `json:"guid"`
	IndexerID        int             `json:"indexer_id"`
	DownloadClientID int             `json:"download_client_id,omitempty"`
	Response         json.RawMessage `json:"response,omitempty"`
}

func (c *collaborators) newProwlarrGrab(_ string, sc types.StepConfig) (pipeline.Step, error) {
	if err := decodeOptions(sc, &struct{}{}); err != nil {
		return nil, err
	}
	return pipeline.StepFunc(func(ctx context.Context, doc *types.Document) (*types.Document, error) {
		sel := doc.Work.Selected
		if sel == nil {
			return nil, steperr.Fatalf(steperr.ReasonInput, "no selected candidate to grab")
		}
		if sel.Source != prowlarr.Source {
			return nil, steperr.Fatalf(steperr.ReasonInput, "selected candidate came from %q, not prowlarr", sel.Source)
		}
		clientID := doc.Work.DownloadClientID
		if clientID == 0 {
			clientID = prowlarr.ClientFor(c.env.Config.Prowlarr, doc.MediaType(), *sel)
		}
		client, err := c.prowlarr()
		if err != nil {
			return nil, err
		}
		resp, err := client.Grab(ctx, prowlarr.GrabRequest{
			GUID:             sel.SourceID,
			IndexerID:        sel.IndexerID,
			DownloadClientID: clientID,
		})
		if err != nil {
			return nil, err
		}
		doc.Work.DownloadClientID = clientID
		if err := doc.SetDispatch(prowlarr.Source, grabAck{
			Status:           DispatchOK,
			GUID:             sel.SourceID,
			IndexerID:        sel.IndexerID,
			DownloadClientID: clientID,
			Response:         resp,
		}); err != nil {
			return nil, steperr.Fatal(steperr.ReasonInvalidOutput, err)
		}
		return doc, nil
	}), nil
}

// --- arr_dispatch ---

func (c *collaborators) newArrDispatch(name string, sc types.StepConfig) (pipeline.Step, error) {
	var opts struct {
		Arr string `mapstructure:"arr"`
	}
	if err := decodeOptions(sc, &opts); err != nil {
		return nil, err
	}
	return pipeline.StepFunc(func(ctx context.Context, doc *types.Document) (*types.Document, error) {
		sel := doc.Work.Selected
		if sel == nil {
			return nil, steperr.Fatalf(steperr.ReasonInput, "no selected candidate to add")
		}
		kind, err := arrKind(opts.Arr, doc.MediaType())
		if err != nil {
			return nil, err
		}
		client, err := c.arr(kind)
		if err != nil {
			return nil, err
		}
		title := sel.Title
		if title == "" {
			title = doc.Work.Title
		}
		year := sel.Year
		if year == 0 {
			year = doc.Work.Year
		}
		payload, err := client.Payload(title, year, candidateIDs(*sel, doc.Work.IDs))
		if err != nil {
			return nil, err
		}

		resp, err := client.Add(ctx, payload)
		ack := map[string]any{"status": DispatchOK, "title": title}
		switch {
		case errors.Is(err, arr.ErrConflict):
			ack["status"] = DispatchExists
			doc.AddWarning(name, fmt.Sprintf("%s is already in %s", title, kind))
		case err != nil:
			return nil, err
		default:
			ack["response"] = resp
		}
		if err := doc.SetDispatch(string(kind), ack); err != nil {
			return nil, steperr.Fatal(steperr.ReasonInvalidOutput, err)
		}
		return doc, nil
	}), nil
}

// candidateIDs merges external ids from the work with the candidate's
// attrs, the candidate winning. Keys are "tmdb", "tvdb" and "imdb".
func candidateIDs(c types.Candidate, work map[string]string) map[string]string {
	ids := make(map[string]string, len(work)+3)
	for k, v := range work {
		ids[k] = v
	}
	for _, k := range []string{"tmdb", "tvdb", "imdb"} {
		switch v := c.Attrs[k+"_id"].(type) {
		case float64:
			if v > 0 {
				ids[k] = strconv.FormatInt(int64(v), 10)
			}
		case json.Number:
			ids[k] = v.String()
		case string:
			if v != "" {
				ids[k] = v
			}
		}
	}
	if prefix, id, ok := strings.Cut(c.SourceID, ":"); ok && ids[prefix] == "" {
		switch prefix {
		case "tmdb", "tvdb", "imdb":
			ids[prefix] = id
		}
	}
	return ids
}

// --- store_tags ---

// storedTags is the file written per tagged request.
type storedTags struct {
	Title     string         `json:"title"`
	MediaType string         `json:"media_type,omitempty"`
	Tags      []string       `json:"tags"`
	Selected  string         `json:"selected,omitempty"`
	Extra     map[string]any `json:"annotations,omitempty"`
	StoredAt  time.Time      `json:"stored_at"`
}

func (c *collaborators) newStoreTags(_ string, sc types.StepConfig) (pipeline.Step, error) {
	var opts struct {
		Dir string `mapstructure:"dir"`
	}
	if err := decodeOptions(sc, &opts); err != nil {
		return nil, err
	}
	return pipeline.StepFunc(func(_ context.Context, doc *types.Document) (*types.Document, error) {
		if len(doc.Request.Tags) == 0 {
			return doc, nil
		}
		dir := opts.Dir
		if dir == "" {
			if c.env.StateDir == "" {
				return nil, steperr.Fatalf(steperr.ReasonConfig, "no state directory for tags")
			}
			dir = filepath.Join(c.env.StateDir, "tags")
		}
		title := doc.Work.Title
		if title == "" {
			title, _ = queryFrom(doc, nil)
		}
		mediaType := doc.MediaType()
		if mediaType == "" {
			mediaType = "unknown"
		}
		rec := storedTags{
			Title:     title,
			MediaType: mediaType,
			Tags:      doc.Request.Tags,
			Extra:     doc.Tags,
			StoredAt:  c.env.Now().UTC(),
		}
		if doc.Work.Selected != nil {
			rec.Selected = doc.Work.Selected.DisplayName()
		}
		path := filepath.Join(dir, textnorm.Slug(mediaType), textnorm.Slug(title)+".json")
		if err := writeJSONLocked(path, rec); err != nil {
			return nil, steperr.Fatal(steperr.ReasonError, err)
		}
		if doc.Tags == nil {
			doc.Tags = make(map[string]any)
		}
		doc.Tags["stored"] = path
		return doc, nil
	}), nil
}

// writeJSONLocked replaces path with v under an advisory lock held on a
// sibling lock file.
func writeJSONLocked(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking %s: %w", path, err)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}
