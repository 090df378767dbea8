// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ocr extracts text from screenshots with tesseract. The binary is
// run directly when it is on PATH; otherwise a configured container image is
// run through docker or podman with the image piped on stdin.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/pdiddy/iwantit/internal/steperr"
	"github.com/pdiddy/iwantit/pkg/types"
)

const (
	defaultCommand   = "tesseract"
	defaultLanguages = "eng"

	binDocker = "docker"
	binPodman = "podman"
)

// Engine recognizes text in an image file.
type Engine interface {
	// Name identifies the engine in logs ("tesseract", "docker", "podman").
	Name() string

	// Recognize returns the trimmed text found in the image at path.
	Recognize(ctx context.Context, path string) (string, error)
}

// executor abstracts command execution for testing.
type executor interface {
	LookPath(file string) (string, error)
	RunSilent(ctx context.Context, name string, args ...string) error
	RunPiped(ctx context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error
}

// osExecutor is the production executor backed by os/exec.
type osExecutor struct{}

func (osExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (osExecutor) RunSilent(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

func (osExecutor) RunPiped(ctx context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

var defaultExec executor = osExecutor{}

// native runs tesseract on the host.
type native struct {
	bin   string
	langs string
	args  []string
	exec  executor
}

func (n *native) Name() string { return n.bin }

func (n *native) Recognize(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", steperr.Fatal(steperr.ReasonInput, fmt.Errorf("reading image: %w", err))
	}
	args := append([]string{path, "stdout", "-l", n.langs}, n.args...)
	return run(ctx, n.exec, n.bin, args, nil)
}

// containerized runs tesseract inside an image. Docker and Podman share
// the same logic; they differ only in binary name and the subcommand used
// to check image existence.
type containerized struct {
	bin           string
	imageCheckCmd []string
	image         string
	langs         string
	args          []string
	exec          executor
}

func (c *containerized) Name() string { return c.bin }

func (c *containerized) available(ctx context.Context) bool {
	if _, err := c.exec.LookPath(c.bin); err != nil {
		return false
	}
	if c.exec.RunSilent(ctx, c.bin, "info") != nil {
		return false
	}
	args := append(append([]string(nil), c.imageCheckCmd...), c.image)
	return c.exec.RunSilent(ctx, c.bin, args...) == nil
}

func (c *containerized) Recognize(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", steperr.Fatal(steperr.ReasonInput, fmt.Errorf("reading image: %w", err))
	}
	defer f.Close()
	args := []string{"run", "--rm", "-i", c.image, defaultCommand, "stdin", "stdout", "-l", c.langs}
	args = append(args, c.args...)
	return run(ctx, c.exec, c.bin, args, f)
}

func run(ctx context.Context, ex executor, bin string, args []string, stdin io.Reader) (string, error) {
	var stdout, stderr bytes.Buffer
	if err := ex.RunPiped(ctx, bin, args, stdin, &stdout, &stderr); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", steperr.Fatalf(steperr.ReasonExitStatus, "%s failed: %s", bin, msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Detect picks the engine for cfg: the configured binary when it is on
// PATH, else docker and then podman when an image is configured.
func Detect(ctx context.Context, cfg types.OCRConfig) (Engine, error) {
	return detect(ctx, cfg, defaultExec)
}

func detect(ctx context.Context, cfg types.OCRConfig, ex executor) (Engine, error) {
	bin := cfg.Command
	if bin == "" {
		bin = defaultCommand
	}
	langs := cfg.Languages
	if langs == "" {
		langs = defaultLanguages
	}
	if _, err := ex.LookPath(bin); err == nil {
		return &native{bin: bin, langs: langs, args: cfg.Args, exec: ex}, nil
	}
	if cfg.Image != "" {
		for _, c := range []*containerized{
			{bin: binDocker, imageCheckCmd: []string{"image", "inspect"}},
			{bin: binPodman, imageCheckCmd: []string{"image", "exists"}},
		} {
			c.image, c.langs, c.args, c.exec = cfg.Image, langs, cfg.Args, ex
			if c.available(ctx) {
				return c, nil
			}
		}
	}
	return nil, steperr.Fatalf(steperr.ReasonConfig,
		"%s not found; install it or set ocr.image to run it in a container", bin)
}
