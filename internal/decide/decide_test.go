// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package decide

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/iwantit/internal/rank"
	"github.com/pdiddy/iwantit/pkg/types"
)

func scored(id, format string, band int, score float64) types.Candidate {
	s := score
	return types.Candidate{SourceID: id, Title: "Album " + id, Format: format, Band: band, Score: &s}
}

var musicPolicy = Policy{TopN: 5, AutoSelect: []string{"flac", "v0", "320"}}

func TestDecide_ScenarioA_AutoSelectFLAC(t *testing.T) {
	rs, err := rank.Compile(types.RuleConfig{Score: []types.ScoreRule{
		{Match: `\bflac\b`, Weight: 120},
		{Match: `\bmp3\b`, Weight: 15},
		{Match: `\b320\b`, Weight: 30},
	}})
	require.NoError(t, err)
	ranked := rs.Rank([]types.Candidate{
		{SourceID: "a", Title: "X", Format: "MP3", Encoding: "320"},
		{SourceID: "b", Title: "X", Format: "FLAC"},
	}, nil)

	out := Decide(Input{Candidates: ranked.Candidates}, musicPolicy)
	assert.Equal(t, types.StatusSelected, out.Status)
	assert.Equal(t, ReasonAutoSelect, out.Reason)
	require.NotNil(t, out.Selected)
	assert.Equal(t, "b", out.Selected.SourceID)
	assert.Equal(t, 1, *out.Index)
}

func TestDecide_ScenarioB_ExplicitConstraintSingleSurvivor(t *testing.T) {
	rs, err := rank.Compile(types.RuleConfig{})
	require.NoError(t, err)
	ranked := rs.Rank([]types.Candidate{
		{SourceID: "1", Title: "Album", Edition: "deluxe"},
		{SourceID: "2", Title: "Album", Edition: "studio"},
	}, &types.ReleasePreferences{Editions: []string{"deluxe"}})

	out := Decide(Input{Candidates: ranked.Candidates, Constrained: true}, Policy{})
	assert.Equal(t, types.StatusSelected, out.Status)
	assert.Equal(t, ReasonExplicit, out.Reason)
	assert.Equal(t, "1", out.Selected.SourceID)
}

func TestDecide_ScenarioC_TieNeedsChoice(t *testing.T) {
	cands := []types.Candidate{scored("a", "FLAC", 2, 120), scored("b", "FLAC", 2, 120)}
	out := Decide(Input{Candidates: cands}, musicPolicy)
	assert.Equal(t, types.StatusNeedsChoice, out.Status)
	assert.Len(t, out.Choices, 2)
	assert.Nil(t, out.Selected)
}

func TestDecide_ScenarioD_EmptyCandidates(t *testing.T) {
	out := Decide(Input{}, Policy{NoMatch: types.NoMatchNeedsChoice})
	assert.Equal(t, types.StatusNeedsChoice, out.Status)
	assert.Equal(t, ReasonNoCandidates, out.Reason)
	assert.NotNil(t, out.Choices)
	assert.Empty(t, out.Choices)

	out = Decide(Input{}, Policy{NoMatch: types.NoMatchError})
	assert.Equal(t, types.StatusError, out.Status)
	assert.Equal(t, ReasonNoCandidates, out.Reason)
}

func TestDecide_Rules(t *testing.T) {
	rejected := scored("r", "FLAC", 9, 999)
	rejected.Rejected = true
	rejected.RejectReason = rank.ConstraintReason
	ruleRejected := scored("h", "FLAC", 9, 999)
	ruleRejected.Rejected = true
	ruleRejected.RejectReason = "hi-res"

	tests := []struct {
		name       string
		in         Input
		policy     Policy
		wantStatus types.DecisionStatus
		wantReason string
		wantID     string
		wantChoice int
	}{
		{
			name:       "upstream error wins",
			in:         Input{Candidates: []types.Candidate{scored("a", "FLAC", 1, 1)}, Upstream: &types.ErrorInfo{Step: "prowlarr_search", Reason: "timeout", Message: "x"}},
			policy:     musicPolicy,
			wantStatus: types.StatusError,
			wantReason: "timeout",
		},
		{
			name:       "constraint unmatched",
			in:         Input{Candidates: []types.Candidate{rejected}, Constrained: true},
			wantStatus: types.StatusNeedsChoice,
			wantReason: ReasonNoConstraintMatch,
		},
		{
			name:       "constraint given but reject rules removed everything",
			in:         Input{Candidates: []types.Candidate{ruleRejected}, Constrained: true},
			wantStatus: types.StatusNeedsChoice,
			wantReason: ReasonNoCandidates,
		},
		{
			name:       "constraint tie offers tied subset",
			in:         Input{Candidates: []types.Candidate{scored("a", "FLAC", 1, 5), scored("b", "MP3", 1, 5), scored("c", "MP3", 1, 1)}, Constrained: true},
			wantStatus: types.StatusNeedsChoice,
			wantReason: ReasonConstraintTie,
			wantChoice: 2,
		},
		{
			name:       "constraint with unique top selects",
			in:         Input{Candidates: []types.Candidate{scored("a", "MP3", 1, 9), scored("b", "MP3", 1, 5)}, Constrained: true},
			wantStatus: types.StatusSelected,
			wantReason: ReasonExplicit,
			wantID:     "a",
		},
		{
			name:       "top format not on allowlist",
			in:         Input{Candidates: []types.Candidate{scored("a", "AAC", 1, 50), scored("b", "MP3", 1, 10)}},
			policy:     musicPolicy,
			wantStatus: types.StatusNeedsChoice,
			wantReason: ReasonAmbiguous,
			wantChoice: 2,
		},
		{
			name:       "band dominance counts",
			in:         Input{Candidates: []types.Candidate{scored("a", "FLAC", 3, 1), scored("b", "FLAC", 2, 500)}},
			policy:     musicPolicy,
			wantStatus: types.StatusSelected,
			wantReason: ReasonAutoSelect,
			wantID:     "a",
		},
		{
			name:       "empty allowlist never auto-selects",
			in:         Input{Candidates: []types.Candidate{scored("a", "FLAC", 3, 1)}},
			wantStatus: types.StatusNeedsChoice,
			wantReason: ReasonAmbiguous,
			wantChoice: 1,
		},
		{
			name:       "single candidate policy",
			in:         Input{Candidates: []types.Candidate{{SourceID: "tmdb:1", Title: "Heat"}}},
			policy:     Policy{AutoSelectSingle: true},
			wantStatus: types.StatusSelected,
			wantReason: ReasonSingleCandidate,
			wantID:     "tmdb:1",
		},
		{
			name:       "encoding token matches allowlist",
			in:         Input{Candidates: []types.Candidate{{SourceID: "a", Title: "A", Format: "MP3", Encoding: "V0 (VBR)"}}},
			policy:     musicPolicy,
			wantStatus: types.StatusSelected,
			wantReason: ReasonAutoSelect,
			wantID:     "a",
		},
		{
			name:       "top-N bounds choices",
			in:         Input{Candidates: []types.Candidate{scored("a", "AAC", 0, 0), scored("b", "AAC", 0, 0), scored("c", "AAC", 0, 0)}},
			policy:     Policy{TopN: 2},
			wantStatus: types.StatusNeedsChoice,
			wantReason: ReasonAmbiguous,
			wantChoice: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Decide(tt.in, tt.policy)
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.wantReason, out.Reason)
			if tt.wantID != "" {
				require.NotNil(t, out.Selected)
				assert.Equal(t, tt.wantID, out.Selected.SourceID)
			} else {
				assert.Nil(t, out.Selected)
			}
			if tt.wantChoice > 0 {
				assert.Len(t, out.Choices, tt.wantChoice)
			}
		})
	}
}

func TestDecide_ResumeChoice(t *testing.T) {
	cands := []types.Candidate{
		{SourceID: "1", Title: "Abbey Road", Format: "FLAC"},
		{SourceID: "2", Title: "Abbey Road", Format: "MP3", Encoding: "320"},
		{SourceID: "3", Title: "Let It Be", Format: "MP3", Encoding: "V0"},
	}
	tests := []struct {
		token      string
		wantStatus types.DecisionStatus
		wantID     string
	}{
		{"2", types.StatusSelected, "2"},
		{"let it", types.StatusSelected, "3"},
		{"abbey", types.StatusError, ""},
		{"4", types.StatusError, ""},
		{"0", types.StatusError, ""},
		{"nothing", types.StatusError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			out := Decide(Input{Candidates: cands, Choice: tt.token}, musicPolicy)
			assert.Equal(t, tt.wantStatus, out.Status)
			if tt.wantID != "" {
				assert.Equal(t, ReasonUserChoice, out.Reason)
				assert.Equal(t, tt.wantID, out.Selected.SourceID)
			} else {
				assert.Equal(t, ReasonInvalidChoice, out.Reason)
			}
		})
	}
}

func TestDecide_IsDeterministic(t *testing.T) {
	cands := []types.Candidate{scored("a", "FLAC", 2, 120), scored("b", "MP3", 2, 45)}
	first := Decide(Input{Candidates: cands}, musicPolicy)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Decide(Input{Candidates: cands}, musicPolicy))
	}
}

func TestApply_KeepsSelectedConsistent(t *testing.T) {
	doc := &types.Document{}
	c := scored("a", "FLAC", 1, 1)
	idx := 1
	Apply(doc, Outcome{Status: types.StatusSelected, Reason: ReasonAutoSelect, Selected: &c, Index: &idx})
	require.NotNil(t, doc.Work.Selected)
	assert.Equal(t, "a", doc.Work.Selected.SourceID)

	Apply(doc, Outcome{Status: types.StatusNeedsChoice, Reason: ReasonNoCandidates})
	assert.Nil(t, doc.Work.Selected)

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	decision := m["decision"].(map[string]any)
	assert.Equal(t, []any{}, decision["choices"], "needs_choice always carries a choices array")
}

func TestFromDocument(t *testing.T) {
	doc := &types.Document{Request: types.Request{
		Choice:      " 2 ",
		Preferences: map[string]string{"edition": "deluxe"},
	}}
	in := FromDocument(doc)
	assert.Equal(t, "2", in.Choice)
	assert.True(t, in.Constrained)
}
