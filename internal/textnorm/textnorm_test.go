// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases and collapses", "  Abbey   ROAD ", "abbey road"},
		{"folds diacritics", "Björk – Homogénic", "bjork - homogenic"},
		{"brackets become spaces", "Album [FLAC] (Deluxe)", "album flac deluxe"},
		{"keeps surround marker", "Album 5.1 Mix", "album 5.1 mix"},
		{"keeps bit depth ratio", "FLAC 24/96", "flac 24/96"},
		{"underscores are separators", "Some_Release_Name", "some release name"},
		{"drops apostrophes", "Don’t Stop", "dont stop"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "the dark side of the moon", Key("The Dark Side of the Moon!"))
	assert.Equal(t, "ok computer oknotok", Key("OK Computer: OKNOTOK"))
	assert.Equal(t, Key("Sigur Rós"), Key("sigur ros"))
}

func TestTokensAndOverlap(t *testing.T) {
	stop := map[string]bool{"the": true}
	q := Tokens("The Beatles Abbey Road", stop)
	assert.Equal(t, []string{"beatles", "abbey", "road"}, q)

	n, ratio := Overlap(q, Tokens("Beatles - Abbey Road (2019 Remaster) [FLAC]", stop))
	assert.Equal(t, 3, n)
	assert.InDelta(t, 1.0, ratio, 1e-9)

	n, ratio = Overlap(q, Tokens("Rolling Stones - Road", stop))
	assert.Equal(t, 1, n)
	assert.InDelta(t, 1.0/3.0, ratio, 1e-9)

	n, ratio = Overlap(nil, []string{"x"})
	assert.Zero(t, n)
	assert.Zero(t, ratio)
}

func TestSlugAndTitle(t *testing.T) {
	assert.Equal(t, "abbey-road", Slug("Abbey Road!"))
	assert.Equal(t, "untitled", Slug("???"))
	assert.Equal(t, "Abbey Road", Title("abbey ROAD"))
}
