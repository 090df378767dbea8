// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package arr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/iwantit/internal/steperr"
	"github.com/pdiddy/iwantit/pkg/types"
)

func newClient(t *testing.T, kind Kind, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c, err := New(kind, types.ArrConfig{
		URL: ts.URL, APIKey: "k", QualityProfileID: 4, RootFolderPath: "/media",
		Monitored: true, SearchOnAdd: true,
	}, types.HTTPConfig{})
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	_, err := New("lidarr", types.ArrConfig{URL: "u", APIKey: "k"}, types.HTTPConfig{})
	assert.Error(t, err)
	_, err = New(Radarr, types.ArrConfig{URL: "u"}, types.HTTPConfig{})
	require.Error(t, err)
	assert.Equal(t, steperr.ReasonConfig, steperr.Classify(err).Reason)
}

func TestForMediaType(t *testing.T) {
	k, ok := ForMediaType("movie")
	assert.True(t, ok)
	assert.Equal(t, Radarr, k)
	k, ok = ForMediaType("tv")
	assert.True(t, ok)
	assert.Equal(t, Sonarr, k)
	_, ok = ForMediaType("music")
	assert.False(t, ok)
}

func TestLookup(t *testing.T) {
	c := newClient(t, Radarr, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/movie/lookup", r.URL.Path)
		assert.Equal(t, "Heat 1995", r.URL.Query().Get("term"))
		assert.Equal(t, "k", r.Header.Get("X-Api-Key"))
		w.Write([]byte(`[{"title":"Heat","year":1995,"tmdbId":949,"imdbId":"tt0113277"}]`))
	})

	items, err := c.Lookup(context.Background(), "Heat 1995")
	require.NoError(t, err)
	require.Len(t, items, 1)
	cand := items[0].Candidate(c.Kind())
	assert.Equal(t, "radarr", cand.Source)
	assert.Equal(t, "tmdb:949", cand.SourceID)
	assert.Equal(t, 1995, cand.Year)
	assert.Equal(t, 949.0, cand.Attrs["tmdb_id"])
}

func TestPayload(t *testing.T) {
	radarr := newClient(t, Radarr, func(http.ResponseWriter, *http.Request) {})
	p, err := radarr.Payload("Heat", 1995, map[string]string{"tmdb": "949"})
	require.NoError(t, err)
	assert.Equal(t, 949, p["tmdbId"])
	assert.Equal(t, "released", p["minimumAvailability"])
	assert.Equal(t, map[string]any{"searchForMovie": true}, p["addOptions"])

	_, err = radarr.Payload("Heat", 1995, nil)
	require.Error(t, err)
	assert.Equal(t, steperr.ReasonInput, steperr.Classify(err).Reason)

	sonarr := newClient(t, Sonarr, func(http.ResponseWriter, *http.Request) {})
	p, err = sonarr.Payload("The Wire", 0, map[string]string{"tvdb": "79126"})
	require.NoError(t, err)
	assert.Equal(t, 79126, p["tvdbId"])
	assert.Equal(t, "standard", p["seriesType"])
	assert.NotContains(t, p, "year")
}

func TestAdd(t *testing.T) {
	c := newClient(t, Sonarr, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/series", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "The Wire", body["title"])
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":12}`))
	})
	out, err := c.Add(context.Background(), map[string]any{"title": "The Wire"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":12}`, string(out))
}

func TestAdd_Conflict(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"409", http.StatusConflict, "", ErrConflict},
		{"validation message", http.StatusBadRequest, `[{"errorMessage":"This movie has already been added"}]`, ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, Radarr, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.Add(context.Background(), map[string]any{})
			assert.True(t, errors.Is(err, tt.want))
		})
	}

	c := newClient(t, Radarr, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`[{"errorMessage":"Root folder does not exist"}]`))
	})
	_, err := c.Add(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, steperr.ClassFatal, steperr.Classify(err).Class)
}
