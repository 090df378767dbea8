// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ocr

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/iwantit/internal/steperr"
	"github.com/pdiddy/iwantit/pkg/types"
)

// mockExecutor records calls and returns configured responses.
type mockExecutor struct {
	availableBins map[string]bool
	runnableCmds  map[string]bool
	runPipedFunc  func(name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error

	lastName string
	lastArgs []string
}

func (m *mockExecutor) LookPath(file string) (string, error) {
	if m.availableBins[file] {
		return "/usr/bin/" + file, nil
	}
	return "", errors.New("not found: " + file)
}

func (m *mockExecutor) RunSilent(_ context.Context, name string, args ...string) error {
	key := name + " " + strings.Join(args, " ")
	if m.runnableCmds[key] {
		return nil
	}
	return errors.New("command failed: " + key)
}

func (m *mockExecutor) RunPiped(_ context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	m.lastName, m.lastArgs = name, args
	if m.runPipedFunc != nil {
		return m.runPipedFunc(name, args, stdin, stdout, stderr)
	}
	return nil
}

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(path, []byte("PNGDATA"), 0o644))
	return path
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		cfg      types.OCRConfig
		exec     *mockExecutor
		wantName string
		wantErr  bool
	}{
		{
			name:     "native tesseract",
			exec:     &mockExecutor{availableBins: map[string]bool{"tesseract": true}},
			wantName: "tesseract",
		},
		{
			name: "docker fallback with image",
			cfg:  types.OCRConfig{Image: "tess:latest"},
			exec: &mockExecutor{
				availableBins: map[string]bool{"docker": true},
				runnableCmds:  map[string]bool{"docker info": true, "docker image inspect tess:latest": true},
			},
			wantName: "docker",
		},
		{
			name: "podman when docker image missing",
			cfg:  types.OCRConfig{Image: "tess:latest"},
			exec: &mockExecutor{
				availableBins: map[string]bool{"docker": true, "podman": true},
				runnableCmds: map[string]bool{
					"docker info": true, "podman info": true, "podman image exists tess:latest": true,
				},
			},
			wantName: "podman",
		},
		{
			name:    "no binary and no image",
			exec:    &mockExecutor{availableBins: map[string]bool{"docker": true}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := detect(context.Background(), tt.cfg, tt.exec)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, steperr.ReasonConfig, steperr.Classify(err).Reason)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, e.Name())
		})
	}
}

func TestNativeRecognize(t *testing.T) {
	ex := &mockExecutor{
		availableBins: map[string]bool{"tesseract": true},
		runPipedFunc: func(_ string, _ []string, stdin io.Reader, stdout, _ io.Writer) error {
			assert.Nil(t, stdin)
			_, err := io.WriteString(stdout, "  Miles Davis\nKind of Blue \n")
			return err
		},
	}
	e, err := detect(context.Background(), types.OCRConfig{Languages: "eng+deu"}, ex)
	require.NoError(t, err)

	path := writeImage(t)
	text, err := e.Recognize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Miles Davis\nKind of Blue", text)
	assert.Equal(t, []string{path, "stdout", "-l", "eng+deu"}, ex.lastArgs)
}

func TestContainerRecognizePipesImage(t *testing.T) {
	ex := &mockExecutor{
		availableBins: map[string]bool{"docker": true},
		runnableCmds:  map[string]bool{"docker info": true, "docker image inspect tess": true},
		runPipedFunc: func(_ string, _ []string, stdin io.Reader, stdout, _ io.Writer) error {
			data, err := io.ReadAll(stdin)
			require.NoError(t, err)
			assert.Equal(t, "PNGDATA", string(data))
			_, err = io.WriteString(stdout, "text")
			return err
		},
	}
	e, err := detect(context.Background(), types.OCRConfig{Image: "tess"}, ex)
	require.NoError(t, err)
	text, err := e.Recognize(context.Background(), writeImage(t))
	require.NoError(t, err)
	assert.Equal(t, "text", text)
	assert.Equal(t, "docker", ex.lastName)
	assert.Equal(t, []string{"run", "--rm", "-i", "tess", "tesseract", "stdin", "stdout", "-l", "eng"}, ex.lastArgs)
}

func TestRecognizeFailures(t *testing.T) {
	ex := &mockExecutor{
		availableBins: map[string]bool{"tesseract": true},
		runPipedFunc: func(_ string, _ []string, _ io.Reader, _, stderr io.Writer) error {
			io.WriteString(stderr, "Error opening data file\n")
			return errors.New("exit status 1")
		},
	}
	e, err := detect(context.Background(), types.OCRConfig{}, ex)
	require.NoError(t, err)

	_, err = e.Recognize(context.Background(), writeImage(t))
	require.Error(t, err)
	se := steperr.Classify(err)
	assert.Equal(t, steperr.ReasonExitStatus, se.Reason)
	assert.Contains(t, se.Error(), "Error opening data file")

	_, err = e.Recognize(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
	assert.Equal(t, steperr.ReasonInput, steperr.Classify(err).Reason)
}
