// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the iwantit CLI. A run turns a text,
// URL, image, or JSON request into a JSON document on stdout; logs and the
// human summary go to stderr.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// version is set at build time via ldflags.
var version = "dev"

// Exit codes. ExitNeedsChoice is reserved for runs that stopped to ask the
// user; every other failure is ExitFailure.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitNeedsChoice = 20
)

// exitError carries a specific exit code. A nil err means the output has
// already said everything.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// exitCode maps a command error to the process exit code, printing it
// when there is something to say.
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, "iwantit:", ee.err)
		}
		return ee.code
	}
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintln(stderr, "iwantit:", err)
	}
	return ExitFailure
}

func main() {
	cmd := newRootCommand()
	os.Exit(exitCode(cmd.Execute(), os.Stderr))
}
