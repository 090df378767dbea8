// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/iwantit/internal/report"
	"github.com/pdiddy/iwantit/pkg/types"
)

// testConfig wires builtins that need no collaborators.
const testConfig = `
default_workflow: quick
pre_steps: [identify]
workflows:
  - name: quick
    steps: [seed_work_candidate, decide_single]
  - name: ask
    steps: [decide]
steps:
  decide_single:
    builtin: decide
    auto_select_single: true
cache:
  backend: none
logging:
  level: error
paths:
  state_dir: %STATE%
`

type harness struct {
	root   string
	config string
	state  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	for _, k := range []string{"XDG_CONFIG_HOME", "XDG_STATE_HOME", "XDG_CACHE_HOME"} {
		t.Setenv(k, filepath.Join(root, strings.ToLower(k)))
	}
	t.Setenv("IWANTIT_CONFIG", "")
	t.Setenv("IWANTIT_SECRETS", "")
	t.Setenv("IWANTIT_PLUGIN_PATH", "")
	work := filepath.Join(root, "work")
	require.NoError(t, os.MkdirAll(work, 0o755))
	t.Chdir(work)

	h := &harness{root: root, config: filepath.Join(root, "iwantit.yaml"), state: filepath.Join(root, "state")}
	data := strings.ReplaceAll(testConfig, "%STATE%", h.state)
	require.NoError(t, os.WriteFile(h.config, []byte(data), 0o644))
	return h
}

// run executes the CLI and returns stdout, stderr and the exit code.
func (h *harness) run(t *testing.T, stdin string, args ...string) (string, string, int) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", h.config}, args...))
	code := exitCode(cmd.Execute(), &stderr)
	return stdout.String(), stderr.String(), code
}

func decodeDoc(t *testing.T, out string) *types.Document {
	t.Helper()
	var doc types.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc), out)
	return &doc
}

func TestRun_SelectsSingleCandidate(t *testing.T) {
	h := newHarness(t)

	out, stderr, code := h.run(t, "", "run", "Radiohead - Kid A")
	require.Equal(t, ExitOK, code, stderr)

	doc := decodeDoc(t, out)
	assert.Equal(t, types.StatusSelected, doc.Decision.Status)
	assert.Equal(t, "quick", doc.Meta.Workflow)
	require.NotNil(t, doc.Work.Selected)
	assert.Equal(t, "Radiohead - Kid A", doc.Work.Selected.Title)
	assert.NotEmpty(t, doc.Meta.RunID)

	_, err := os.Stat(filepath.Join(h.state, report.FailedQueriesFile))
	assert.True(t, os.IsNotExist(err), "a selected run is not a failed query")
}

func TestRun_NeedsChoiceThenResume(t *testing.T) {
	h := newHarness(t)
	request := `{"input": "kid a", "candidates": [
		{"source": "test", "title": "Kid A [MP3]", "_raw": {"id": 1}},
		{"source": "test", "title": "Kid A [FLAC]", "_raw": {"id": 2}}
	]}`

	out, stderr, code := h.run(t, request, "run", "--stdin", "--workflow", "ask")
	require.Equal(t, ExitNeedsChoice, code, stderr)
	doc := decodeDoc(t, out)
	assert.Equal(t, types.StatusNeedsChoice, doc.Decision.Status)
	require.Len(t, doc.Decision.Choices, 2)
	assert.Empty(t, doc.Decision.Choices[0].Raw, "raw payloads are dropped without --full")
	assert.Nil(t, doc.Work.Selected)

	prior := filepath.Join(h.root, "prior.json")
	require.NoError(t, os.WriteFile(prior, []byte(out), 0o644))

	chosen, stderr, code := h.run(t, "", "choose", "--json", prior, "--select", "flac", "--emit", "flag")
	require.Equal(t, ExitOK, code, stderr)
	assert.Equal(t, "--choice 2\n", chosen)

	out, stderr, code = h.run(t, "", "run", "--resume", prior, "--choice", "2")
	require.Equal(t, ExitOK, code, stderr)
	doc = decodeDoc(t, out)
	assert.Equal(t, types.StatusSelected, doc.Decision.Status)
	assert.Equal(t, "ask", doc.Meta.Workflow)
	require.NotNil(t, doc.Work.Selected)
	assert.Equal(t, "Kid A [FLAC]", doc.Work.Selected.Title)
	for _, e := range doc.Meta.Trace {
		assert.NotEqual(t, "identify", e.Step, "resumed runs start at the decide step")
	}
}

func TestRun_ResumeRequiresChoice(t *testing.T) {
	h := newHarness(t)
	_, stderr, code := h.run(t, "", "run", "--resume", "prior.json")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "--resume requires --choice")
}

func TestRun_InvalidChoiceFails(t *testing.T) {
	h := newHarness(t)
	request := `{"input": "kid a", "choice": "9", "candidates": [{"title": "Kid A"}, {"title": "Kid A Mnesia"}]}`

	out, _, code := h.run(t, request, "run", "--stdin", "--workflow", "ask")
	assert.Equal(t, ExitFailure, code)
	doc := decodeDoc(t, out)
	assert.Equal(t, types.StatusError, doc.Decision.Status)
	require.NotNil(t, doc.Error)
	assert.Equal(t, "invalid_choice", doc.Error.Reason)
}

func TestStep_RunsOneStep(t *testing.T) {
	h := newHarness(t)
	out, stderr, code := h.run(t, "", "step", "identify", "--text", "Boards of Canada")
	require.Equal(t, ExitOK, code, stderr)
	doc := decodeDoc(t, out)
	assert.Equal(t, "Boards of Canada", doc.Work.Title)

	_, _, code = h.run(t, "", "step", "nope", "--text", "x")
	assert.Equal(t, ExitFailure, code)
}

func TestList(t *testing.T) {
	h := newHarness(t)
	out, stderr, code := h.run(t, "", "list", "workflows")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, out, "quick (default)")
	assert.Contains(t, out, "seed_work_candidate > decide_single")
	assert.Contains(t, out, "Pre-steps: identify")

	out, _, code = h.run(t, "", "list", "steps")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "builtin:decide")

	_, _, code = h.run(t, "", "list", "bogus")
	assert.Equal(t, ExitFailure, code)
}

func TestValidate_JSON(t *testing.T) {
	h := newHarness(t)
	out, _, code := h.run(t, "", "validate", "--json")

	var rep struct {
		Errors   []string `json:"errors"`
		Warnings []string `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep), out)
	// The default steps are still configured, so prowlarr credentials are
	// missing.
	assert.Equal(t, ExitFailure, code)
	assert.NotEmpty(t, rep.Errors)
}

func TestInit_WritesConfigAndSecrets(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(h.root, "fresh", "config.yaml")

	out, stderr, code := h.run(t, "", "--config", path, "init")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, out, path)

	st, err := os.Stat(filepath.Join(h.root, "fresh", "secrets.yaml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	_, stderr, code = h.run(t, "", "--config", path, "init")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "--force")
}

func TestCache_DisabledBackend(t *testing.T) {
	h := newHarness(t)
	_, stderr, code := h.run(t, "", "cache", "prune")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "caching is disabled")
}

func TestClassify(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "cover.png")
	require.NoError(t, os.WriteFile(img, []byte("png"), 0o644))

	tests := []struct {
		name  string
		input string
		want  types.InputKind
	}{
		{name: "plain text", input: "kid a radiohead", want: types.InputText},
		{name: "url", input: "https://www.discogs.com/release/1", want: types.InputURL},
		{name: "existing image", input: img, want: types.InputImage},
		{name: "missing image is text", input: filepath.Join(dir, "gone.png"), want: types.InputText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.input).InputType)
		})
	}
}

func TestInputFlags_Apply(t *testing.T) {
	f := inputFlags{mediaType: "Music", tags: []string{"a,b", "a"}, prefs: []string{"format = FLAC"}}
	r := types.Request{Tags: []string{"b"}}
	require.NoError(t, f.apply(&r))
	assert.Equal(t, "music", r.MediaType)
	assert.Equal(t, []string{"b", "a"}, r.Tags)
	assert.Equal(t, map[string]string{"format": "FLAC"}, r.Preferences)

	bad := inputFlags{prefs: []string{"novalue"}}
	assert.Error(t, bad.apply(&r))
}

func TestParseJSONInput(t *testing.T) {
	doc, err := parseJSONInput([]byte(`{"input": "https://example.com/album"}`))
	require.NoError(t, err)
	assert.Equal(t, types.InputURL, doc.Request.InputType)
	assert.Equal(t, "https://example.com/album", doc.Request.URL)

	_, err = parseJSONInput([]byte(`[1, 2]`))
	assert.Error(t, err)
}

func TestResumeDocument(t *testing.T) {
	prior := &types.Document{
		Request: types.Request{Input: "kid a"},
		Work: types.Work{
			Title:      "Kid A",
			Candidates: []types.Candidate{{Title: "a"}, {Title: "b"}, {Title: "c"}},
		},
		Decision: types.Decision{
			Status:  types.StatusNeedsChoice,
			Choices: []types.Candidate{{Title: "b"}, {Title: "c"}},
		},
	}
	doc := resumeDocument(prior, "1")
	assert.Equal(t, "1", doc.Request.Choice)
	assert.Equal(t, "Kid A", doc.Work.Title)
	assert.Equal(t, prior.Decision.Choices, doc.Work.Candidates)
	assert.Equal(t, prior.Decision.Choices, doc.Request.Candidates)
	assert.Empty(t, doc.Decision.Status)
}

func TestExitFor(t *testing.T) {
	tests := []struct {
		status types.DecisionStatus
		want   int
	}{
		{types.StatusSelected, ExitOK},
		{types.StatusNeedsChoice, ExitNeedsChoice},
		{types.StatusError, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			err := exitFor(&types.Document{Decision: types.Decision{Status: tt.status}})
			assert.Equal(t, tt.want, exitCode(err, &bytes.Buffer{}))
		})
	}
}

func TestExitCode(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, ExitFailure, exitCode(errors.New("boom"), &stderr))
	assert.Contains(t, stderr.String(), "boom")

	stderr.Reset()
	assert.Equal(t, ExitNeedsChoice, exitCode(&exitError{code: ExitNeedsChoice}, &stderr))
	assert.Empty(t, stderr.String())
}
