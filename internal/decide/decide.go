// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package decide turns a ranked candidate list into the terminal state of a
// run: selected, needs_choice, or error. The rules are evaluated in a fixed
// order and the same input always produces the same outcome, whether there
// are zero, one, or many candidates.
package decide

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pdiddy/iwantit/internal/rank"
	"github.com/pdiddy/iwantit/internal/textnorm"
	"github.com/pdiddy/iwantit/pkg/types"
)

// Decision reasons.
const (
	ReasonUserChoice        = "user_choice"
	ReasonUpstreamError     = "upstream_error"
	ReasonNoCandidates      = "no_candidates"
	ReasonNoConstraintMatch = "no_constraint_match"
	ReasonExplicit          = "explicit_constraint"
	ReasonConstraintTie     = "constraint_tie"
	ReasonAutoSelect        = "auto_select"
	ReasonSingleCandidate   = "single_candidate"
	ReasonAmbiguous         = "ambiguous"
	ReasonInvalidChoice     = "invalid_choice"
)

const defaultTopN = 20

// Policy configures the decision rules.
type Policy struct {
	// NoMatch decides whether an empty candidate set asks the user
	// (needs_choice with no choices) or fails the run.
	NoMatch types.NoMatchPolicy

	// TopN bounds the number of choices offered.
	TopN int

	// AutoSelect lists formats or categories a top candidate may carry to
	// be selected without asking. Empty disables auto-selection.
	AutoSelect []string

	// AutoSelectSingle selects a lone candidate regardless of AutoSelect.
	AutoSelectSingle bool
}

// PolicyFor builds the policy of mediaType from the decision
// configuration.
func PolicyFor(cfg types.DecisionConfig, mediaType string) Policy {
	return Policy{
		NoMatch:    cfg.NoMatch,
		TopN:       cfg.TopN,
		AutoSelect: cfg.AutoSelect[mediaType],
	}
}

// Input is everything a decision depends on.
type Input struct {
	// Candidates is the ranked list, rejected candidates last.
	Candidates []types.Candidate

	// Constrained is set when the user gave an explicit constraint.
	Constrained bool

	// Choice is the resume selection token, if any.
	Choice string

	// Upstream is the fatal error of an earlier step, if any.
	Upstream *types.ErrorInfo
}

// Outcome is a terminal decision.
type Outcome struct {
	Status   types.DecisionStatus
	Reason   string
	Step     string
	Selected *types.Candidate
	Index    *int
	Choices  []types.Candidate

	// Message explains an error outcome.
	Message string
}

// FromDocument builds the decision input of doc.
func FromDocument(doc *types.Document) Input {
	return Input{
		Candidates:  doc.Work.Candidates,
		Constrained: doc.Constraint() != nil,
		Choice:      strings.TrimSpace(doc.Request.Choice),
		Upstream:    doc.Error,
	}
}

// Decide evaluates the decision rules in order.
func Decide(in Input, p Policy) Outcome {
	topN := p.TopN
	if topN <= 0 {
		topN = defaultTopN
	}

	if in.Upstream != nil {
		return Outcome{
			Status:  types.StatusError,
			Reason:  in.Upstream.Reason,
			Step:    in.Upstream.Step,
			Message: in.Upstream.Message,
		}
	}

	eligible := Eligible(in.Candidates)

	if in.Choice != "" {
		return resolveChoice(eligible, in.Choice)
	}

	if len(eligible) == 0 {
		reason := ReasonNoCandidates
		if in.Constrained && constraintRejected(in.Candidates) {
			reason = ReasonNoConstraintMatch
		}
		if p.NoMatch == types.NoMatchError {
			return Outcome{Status: types.StatusError, Reason: reason, Message: "no acceptable candidates"}
		}
		return Outcome{Status: types.StatusNeedsChoice, Reason: reason, Choices: []types.Candidate{}}
	}

	if in.Constrained {
		if len(eligible) == 1 {
			return selected(eligible, 0, ReasonExplicit)
		}
		if tied := topTies(eligible); len(tied) > 1 {
			return Outcome{Status: types.StatusNeedsChoice, Reason: ReasonConstraintTie, Choices: limit(tied, topN)}
		}
		return selected(eligible, 0, ReasonExplicit)
	}

	if len(eligible) == 1 && p.AutoSelectSingle {
		return selected(eligible, 0, ReasonSingleCandidate)
	}

	if allowed(eligible[0], p.AutoSelect) && dominates(eligible) {
		return selected(eligible, 0, ReasonAutoSelect)
	}

	return Outcome{Status: types.StatusNeedsChoice, Reason: ReasonAmbiguous, Choices: limit(eligible, topN)}
}

// constraintRejected reports whether any candidate was removed by the
// explicit constraint rather than by a reject rule.
func constraintRejected(cands []types.Candidate) bool {
	for _, c := range cands {
		if c.Rejected && c.RejectReason == rank.ConstraintReason {
			return true
		}
	}
	return false
}

// Eligible returns the candidates that were not rejected, in order.
func Eligible(cands []types.Candidate) []types.Candidate {
	out := make([]types.Candidate, 0, len(cands))
	for _, c := range cands {
		if !c.Rejected {
			out = append(out, c)
		}
	}
	return out
}

func selected(cands []types.Candidate, i int, reason string) Outcome {
	c := cands[i]
	idx := i + 1
	return Outcome{Status: types.StatusSelected, Reason: reason, Selected: &c, Index: &idx}
}

func limit(cands []types.Candidate, n int) []types.Candidate {
	if len(cands) > n {
		cands = cands[:n]
	}
	return append([]types.Candidate(nil), cands...)
}

// topTies returns the leading run of candidates sharing the top band and
// score.
func topTies(cands []types.Candidate) []types.Candidate {
	top := cands[0]
	n := 1
	for n < len(cands) && cands[n].Band == top.Band && rank.ScoreOf(cands[n]) == rank.ScoreOf(top) {
		n++
	}
	return cands[:n]
}

// dominates reports whether the first candidate strictly beats the
// runner-up on band or score. A lone candidate dominates trivially.
func dominates(cands []types.Candidate) bool {
	if len(cands) < 2 {
		return true
	}
	a, b := cands[0], cands[1]
	if a.Band != b.Band {
		return a.Band > b.Band
	}
	return rank.ScoreOf(a) > rank.ScoreOf(b)
}

// allowed reports whether c's format, encoding, or category carries a token
// from the allowlist.
func allowed(c types.Candidate, allowlist []string) bool {
	if len(allowlist) == 0 {
		return false
	}
	tokens := make(map[string]bool)
	for _, f := range []string{c.Format, c.Encoding, c.Category} {
		for _, t := range strings.Fields(textnorm.Key(f)) {
			tokens[t] = true
		}
		if k := textnorm.Key(f); k != "" {
			tokens[k] = true
		}
	}
	for _, a := range allowlist {
		if tokens[textnorm.Key(a)] {
			return true
		}
	}
	return false
}

// resolveChoice selects by 1-based index or by a substring matching exactly
// one candidate label.
func resolveChoice(cands []types.Candidate, token string) Outcome {
	invalid := func(format string, args ...any) Outcome {
		return Outcome{Status: types.StatusError, Reason: ReasonInvalidChoice, Message: fmt.Sprintf(format, args...)}
	}
	if len(cands) == 0 {
		return invalid("choice %q given but there are no candidates", token)
	}
	if n, err := strconv.Atoi(token); err == nil {
		if n < 1 || n > len(cands) {
			return invalid("choice %d out of range 1-%d", n, len(cands))
		}
		return selected(cands, n-1, ReasonUserChoice)
	}

	needle := textnorm.Key(token)
	match := -1
	for i, c := range cands {
		if strings.Contains(textnorm.Key(c.DisplayName()), needle) {
			if match >= 0 {
				return invalid("choice %q matches more than one candidate", token)
			}
			match = i
		}
	}
	if match < 0 {
		return invalid("choice %q matches no candidate", token)
	}
	return selected(cands, match, ReasonUserChoice)
}

// Apply writes out to doc, keeping work.selected consistent with the
// status.
func Apply(doc *types.Document, out Outcome) {
	doc.Decision.Status = out.Status
	doc.Decision.Reason = out.Reason
	doc.Decision.Step = out.Step
	doc.Decision.Index = out.Index
	doc.Decision.Choices = nil
	doc.Work.Selected = nil

	switch out.Status {
	case types.StatusSelected:
		c := *out.Selected
		doc.Work.Selected = &c
	case types.StatusNeedsChoice:
		doc.Decision.Choices = out.Choices
		if doc.Decision.Choices == nil {
			doc.Decision.Choices = []types.Candidate{}
		}
	}
}
