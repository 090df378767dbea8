// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package external runs pipeline steps as subprocesses. The document is
// written to the child's stdin as JSON; the child must print exactly one
// JSON object on stdout and exit 0. Anything else is a fatal step failure.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pdiddy/iwantit/internal/steperr"
	"github.com/pdiddy/iwantit/pkg/types"
)

// Environment variables passed to every external step.
const (
	EnvConfig = "IWANTIT_CONFIG"
	EnvStep   = "IWANTIT_STEP"
)

// maxStderr bounds how much child stderr is kept for error messages.
const maxStderr = 4096

// Runner abstracts process execution for testing.
type Runner interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, argv, env []string, stdin io.Reader, stdout, stderr io.Writer) error
}

// OSRunner is the production Runner backed by os/exec. The child is killed
// when ctx ends.
type OSRunner struct{}

// LookPath implements Runner.
func (OSRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// Run implements Runner.
func (OSRunner) Run(ctx context.Context, argv, env []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second
	return cmd.Run()
}

// Step is an external pipeline step.
type Step struct {
	name string
	argv []string
	env  []string
	run  Runner
}

// SplitCommand normalizes a configured command. A single element holding
// whitespace is split into fields.
func SplitCommand(command []string) []string {
	if len(command) == 1 && strings.ContainsAny(command[0], " \t") {
		return strings.Fields(command[0])
	}
	return command
}

// New returns an external step named name running command. configPath is
// exported to the child as IWANTIT_CONFIG.
func New(name string, command []string, env map[string]string, configPath string) (*Step, error) {
	return newStep(name, command, env, configPath, OSRunner{})
}

func newStep(name string, command []string, env map[string]string, configPath string, run Runner) (*Step, error) {
	argv := SplitCommand(command)
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("step %s: empty command", name)
	}
	childEnv := append(os.Environ(), EnvStep+"="+name)
	if configPath != "" {
		childEnv = append(childEnv, EnvConfig+"="+configPath)
	}
	for k, v := range env {
		childEnv = append(childEnv, k+"="+v)
	}
	return &Step{name: name, argv: argv, env: childEnv, run: run}, nil
}

// Argv returns the command the step runs.
func (s *Step) Argv() []string { return s.argv }

// Available reports whether the step's program can be found.
func (s *Step) Available() error {
	if _, err := s.run.LookPath(s.argv[0]); err != nil {
		return fmt.Errorf("step %s: %w", s.name, err)
	}
	return nil
}

// Execute runs the child process with the document on stdin.
func (s *Step) Execute(ctx context.Context, doc *types.Document) (*types.Document, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, steperr.Fatal(steperr.ReasonInput, fmt.Errorf("encoding document: %w", err))
	}

	var stdout bytes.Buffer
	stderr := &limitedBuffer{max: maxStderr}
	runErr := s.run.Run(ctx, s.argv, s.env, bytes.NewReader(payload), &stdout, stderr)

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, steperr.Retryable(steperr.ReasonTimeout, fmt.Errorf("%s: %w", s.argv[0], ctxErr))
		}
		return nil, steperr.Fatal(steperr.ReasonCancelled, ctxErr)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, steperr.Fatalf(steperr.ReasonExitStatus, "%s exited with status %d: %s",
				s.argv[0], exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, steperr.Fatal(steperr.ReasonExitStatus, fmt.Errorf("running %s: %w", s.argv[0], runErr))
	}

	out, err := DecodeDocument(stdout.Bytes())
	if err != nil {
		return nil, steperr.Fatal(steperr.ReasonInvalidOutput, fmt.Errorf("%s: %w", s.argv[0], err))
	}
	return out, nil
}

// DecodeDocument parses data as exactly one JSON object.
func DecodeDocument(data []byte) (*types.Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("no output")
	}
	if trimmed[0] != '{' {
		return nil, errors.New("output is not a JSON object")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON output: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON object")
	}
	var doc types.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("output does not match the document shape: %w", err)
	}
	return &doc, nil
}

// limitedBuffer keeps the first max bytes written and discards the rest.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
