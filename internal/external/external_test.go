// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package external

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/iwantit/internal/steperr"
	"github.com/pdiddy/iwantit/pkg/types"
)

// mockRunner returns a configured stdout and error and records the call.
type mockRunner struct {
	stdout  string
	stderr  string
	err     error
	gotArgv []string
	gotEnv  []string
	gotIn   []byte
}

func (m *mockRunner) LookPath(file string) (string, error) {
	if file == "missing" {
		return "", errors.New("not found: " + file)
	}
	return "/usr/bin/" + file, nil
}

func (m *mockRunner) Run(_ context.Context, argv, env []string, stdin io.Reader, stdout, stderr io.Writer) error {
	m.gotArgv = argv
	m.gotEnv = env
	m.gotIn, _ = io.ReadAll(stdin)
	io.WriteString(stdout, m.stdout)
	io.WriteString(stderr, m.stderr)
	return m.err
}

func sampleDoc() *types.Document {
	return &types.Document{Request: types.Request{Input: "abbey road", Query: "abbey road"}}
}

func TestExecute_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		runner     *mockRunner
		wantErr    bool
		wantReason string
		check      func(t *testing.T, doc *types.Document)
	}{
		{
			name:   "valid object",
			runner: &mockRunner{stdout: `{"request":{"query":"abbey road"},"work":{"title":"Abbey Road"},"plugin":{"ok":true}}`},
			check: func(t *testing.T, doc *types.Document) {
				assert.Equal(t, "Abbey Road", doc.Work.Title)
				assert.JSONEq(t, `{"ok":true}`, string(doc.Extra["plugin"]))
			},
		},
		{
			name:       "non-zero exit",
			runner:     &mockRunner{stderr: "boom", err: exitError(t)},
			wantErr:    true,
			wantReason: steperr.ReasonExitStatus,
		},
		{
			name:       "empty output",
			runner:     &mockRunner{stdout: "  \n"},
			wantErr:    true,
			wantReason: steperr.ReasonInvalidOutput,
		},
		{
			name:       "array output",
			runner:     &mockRunner{stdout: `[1,2]`},
			wantErr:    true,
			wantReason: steperr.ReasonInvalidOutput,
		},
		{
			name:       "two objects",
			runner:     &mockRunner{stdout: `{"work":{}} {"work":{}}`},
			wantErr:    true,
			wantReason: steperr.ReasonInvalidOutput,
		},
		{
			name:       "truncated json",
			runner:     &mockRunner{stdout: `{"work":`},
			wantErr:    true,
			wantReason: steperr.ReasonInvalidOutput,
		},
		{
			name:       "wrong section shape",
			runner:     &mockRunner{stdout: `{"work":"not an object"}`},
			wantErr:    true,
			wantReason: steperr.ReasonInvalidOutput,
		},
		{
			name:       "spawn failure",
			runner:     &mockRunner{err: errors.New("exec: no such file")},
			wantErr:    true,
			wantReason: steperr.ReasonExitStatus,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := newStep("plugin", []string{"my-plugin"}, nil, "/etc/iwantit.yaml", tt.runner)
			require.NoError(t, err)

			out, err := s.Execute(context.Background(), sampleDoc())
			if tt.wantErr {
				require.Error(t, err)
				se := steperr.Classify(err)
				assert.Equal(t, steperr.ClassFatal, se.Class)
				assert.Equal(t, tt.wantReason, se.Reason)
				assert.Nil(t, out)
				return
			}
			require.NoError(t, err)
			tt.check(t, out)
		})
	}
}

func TestExecute_PassesDocumentAndEnv(t *testing.T) {
	r := &mockRunner{stdout: `{}`}
	s, err := newStep("plugin", []string{"python3 -m my_plugin --flag"}, map[string]string{"EXTRA": "1"}, "/cfg.yaml", r)
	require.NoError(t, err)

	_, err = s.Execute(context.Background(), sampleDoc())
	require.NoError(t, err)

	assert.Equal(t, []string{"python3", "-m", "my_plugin", "--flag"}, r.gotArgv)
	assert.Contains(t, r.gotEnv, "IWANTIT_CONFIG=/cfg.yaml")
	assert.Contains(t, r.gotEnv, "IWANTIT_STEP=plugin")
	assert.Contains(t, r.gotEnv, "EXTRA=1")

	var sent map[string]any
	require.NoError(t, json.Unmarshal(r.gotIn, &sent))
	assert.Equal(t, "abbey road", sent["request"].(map[string]any)["query"])
}

func TestNew_EmptyCommand(t *testing.T) {
	_, err := New("x", nil, nil, "")
	assert.ErrorContains(t, err, "empty command")
}

func TestAvailable(t *testing.T) {
	s, err := newStep("x", []string{"missing"}, nil, "", &mockRunner{})
	require.NoError(t, err)
	assert.Error(t, s.Available())
}

func TestExecute_RealProcess(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	s, err := New("echo", []string{"cat"}, nil, "")
	require.NoError(t, err)

	out, err := s.Execute(context.Background(), sampleDoc())
	require.NoError(t, err)
	assert.Equal(t, "abbey road", out.Request.Query)
}

func TestExecute_TimeoutKillsChild(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	s, err := New("slow", []string{"sleep", "5"}, nil, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = s.Execute(ctx, sampleDoc())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
	se := steperr.Classify(err)
	assert.Equal(t, steperr.ReasonTimeout, se.Reason)
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{max: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	b.Write([]byte("gh"))
	assert.Equal(t, "abcd", b.String())
	assert.True(t, strings.HasPrefix("abcdef", b.String()))
}

// exitError produces a real *exec.ExitError.
func exitError(t *testing.T) error {
	t.Helper()
	err := exec.Command("sh", "-c", "exit 3").Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Skip("sh not available")
	}
	return err
}
