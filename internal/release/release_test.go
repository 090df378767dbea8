// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package release

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pdiddy/iwantit/pkg/types"
)

func TestParse(t *testing.T) {
	tests := []struct {
		title string
		want  Attributes
	}{
		{
			title: "Radiohead - Kid A (2000) [FLAC] {CD}",
			want:  Attributes{Format: "FLAC", Encoding: "Lossless", Media: "CD", Year: 2000},
		},
		{
			title: "Radiohead - Kid A Mnesia (2021) [WEB] [FLAC 24bit 96kHz]",
			want:  Attributes{Format: "FLAC", Encoding: "24bit Lossless", Media: "WEB", Year: 2021, BitDepth: 24, SampleRateKHz: 96},
		},
		{
			title: "Artist - Album [MP3 320 kbps]",
			want:  Attributes{Format: "MP3", Encoding: "320", BitrateKbps: 320},
		},
		{
			title: "Artist - Album (Deluxe Edition) MP3 V0",
			want:  Attributes{Format: "MP3", Encoding: "V0", Edition: "Deluxe"},
		},
		{
			title: "Some.Movie.2019.1080p.BluRay.x264",
			want:  Attributes{Format: "x264", Encoding: "1080p", Media: "Blu-ray", Year: 2019},
		},
		{
			title: "Artist - Album 24/192 Vinyl",
			want:  Attributes{Encoding: "24bit Lossless", Media: "Vinyl", BitDepth: 24, SampleRateKHz: 192},
		},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.title))
		})
	}
}

func TestYear(t *testing.T) {
	assert.Equal(t, 1997, Year("OK Computer 1997"))
	assert.Equal(t, 0, Year("Track 1234"))
	assert.Equal(t, 0, Year(""))
}

func TestFill_KeepsExistingFields(t *testing.T) {
	c := types.Candidate{Title: "Album [FLAC 24bit] 2020", Format: "ALAC", Attrs: map[string]any{"bit_depth": 16.0}}
	Fill(&c)
	assert.Equal(t, "ALAC", c.Format)
	assert.Equal(t, "24bit Lossless", c.Encoding)
	assert.Equal(t, 2020, c.Year)
	assert.Equal(t, 16.0, c.Attrs["bit_depth"])
}
