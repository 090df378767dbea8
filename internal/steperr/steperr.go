// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package steperr classifies step failures. A failure is either retryable
// (transient: timeouts, rate limits, 5xx) or fatal (malformed output,
// contract violations, exhausted retries). Ambiguous results are not
// failures; they resolve to a needs_choice decision.
package steperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Class is the outcome class of a failed step.
type Class int

const (
	ClassRetryable Class = iota + 1
	ClassFatal
)

// String returns the error type name recorded in the document.
func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "RetryableStepError"
	case ClassFatal:
		return "FatalStepError"
	}
	return "UnknownStepError"
}

// Machine-readable failure reasons.
const (
	ReasonTimeout         = "timeout"
	ReasonCancelled       = "cancelled"
	ReasonPanic           = "panic"
	ReasonInvalidOutput   = "invalid_output"
	ReasonExitStatus      = "exit_status"
	ReasonUndeclaredWrite = "undeclared_write"
	ReasonHTTPStatus      = "http_status"
	ReasonRateLimited     = "rate_limited"
	ReasonNetwork         = "network"
	ReasonConfig          = "config"
	ReasonInput           = "invalid_input"
	ReasonNoCandidates    = "no_candidates"
	ReasonConflict        = "conflict"
	ReasonError           = "error"
)

// Error is a classified step failure.
type Error struct {
	Class    Class
	Step     string
	Reason   string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Step != "" {
		fmt.Fprintf(&b, "step %s: ", e.Step)
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(e.Reason)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " (after %d attempts)", e.Attempts)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the error text without the step prefix.
func (e *Error) Message() string {
	msg := e.Reason
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s (after %d attempts)", msg, e.Attempts)
	}
	return msg
}

// Retryable marks err as a transient failure.
func Retryable(reason string, err error) error {
	return &Error{Class: ClassRetryable, Reason: reason, Err: err}
}

// Fatal marks err as a permanent failure.
func Fatal(reason string, err error) error {
	return &Error{Class: ClassFatal, Reason: reason, Err: err}
}

// Fatalf builds a fatal failure from a format string.
func Fatalf(reason, format string, args ...any) error {
	return Fatal(reason, fmt.Errorf(format, args...))
}

// Retryablef builds a retryable failure from a format string.
func Retryablef(reason, format string, args ...any) error {
	return Retryable(reason, fmt.Errorf(format, args...))
}

// Classify returns the classified form of err. Unclassified deadline and
// network timeout errors are retryable; everything else is fatal.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		cp := *se
		return &cp
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Class: ClassRetryable, Reason: ReasonTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Class: ClassRetryable, Reason: ReasonTimeout, Err: err}
	}
	if strings.Contains(strings.ToLower(err.Error()), "connection reset") {
		return &Error{Class: ClassRetryable, Reason: ReasonNetwork, Err: err}
	}
	return &Error{Class: ClassFatal, Reason: ReasonError, Err: err}
}

// IsRetryable reports whether err is classified as retryable.
func IsRetryable(err error) bool {
	se := Classify(err)
	return se != nil && se.Class == ClassRetryable
}

// FromStatus classifies an unexpected HTTP status returned by a
// collaborator: 429 and 5xx gateway errors are retryable, the rest fatal.
func FromStatus(service string, status int, body string) error {
	err := fmt.Errorf("%s returned HTTP %d: %s", service, status, truncate(body, 200))
	switch {
	case status == 429:
		return Retryable(ReasonRateLimited, err)
	case status == 502 || status == 503 || status == 504 || status == 500:
		return Retryable(ReasonHTTPStatus, err)
	}
	return Fatal(ReasonHTTPStatus, err)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
