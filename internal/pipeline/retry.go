// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pdiddy/iwantit/internal/steperr"
	"github.com/pdiddy/iwantit/pkg/types"
)

// Policy is the retry and timeout policy of one step.
type Policy struct {
	// Timeout bounds each attempt. Zero means no per-attempt limit.
	Timeout time.Duration

	// MaxAttempts counts the first attempt; values below 1 mean 1.
	MaxAttempts int

	// Backoff is the delay before the first retry.
	Backoff time.Duration

	// Multiplier grows the delay per retry; 1 gives a fixed delay.
	Multiplier float64

	// MaxBackoff caps the delay when positive.
	MaxBackoff time.Duration
}

// PolicyFor merges a step's overrides onto the configured defaults.
func PolicyFor(defaults types.RetryConfig, sc types.StepConfig) Policy {
	p := Policy{
		Timeout:     defaults.Timeout,
		MaxAttempts: defaults.MaxAttempts,
		Backoff:     defaults.Backoff,
		Multiplier:  defaults.BackoffMultiplier,
		MaxBackoff:  defaults.MaxBackoff,
	}
	if sc.Timeout > 0 {
		p.Timeout = sc.Timeout
	}
	if sc.MaxAttempts > 0 {
		p.MaxAttempts = sc.MaxAttempts
	}
	if sc.Backoff > 0 {
		p.Backoff = sc.Backoff
	}
	if sc.BackoffMultiplier > 0 {
		p.Multiplier = sc.BackoffMultiplier
	}
	if sc.MaxBackoff > 0 {
		p.MaxBackoff = sc.MaxBackoff
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 1
	}
	return p
}

// Delay returns the wait before retry number n (1-based).
func (p Policy) Delay(n int) time.Duration {
	if p.Backoff <= 0 || n < 1 {
		return 0
	}
	d := float64(p.Backoff) * math.Pow(p.Multiplier, float64(n-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// SleepWithContext waits for d or until ctx ends.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// deadlineError converts the end of the caller's context into a fatal
// failure.
func deadlineError(ctx context.Context, cause error) *steperr.Error {
	reason := steperr.ReasonCancelled
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = steperr.ReasonTimeout
	}
	if cause == nil {
		cause = ctx.Err()
	}
	return &steperr.Error{Class: steperr.ClassFatal, Reason: reason, Err: cause}
}

type attemptResult struct {
	doc *types.Document
	err error
}

// attempt runs one execution of step under the per-attempt timeout. The
// step runs in its own goroutine so a step that ignores ctx still cannot
// hold the pipeline past its deadline; the abandoned snapshot is discarded.
func attempt(ctx context.Context, step Step, doc *types.Document, timeout time.Duration) (*types.Document, error) {
	actx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	ch := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- attemptResult{err: steperr.Fatal(steperr.ReasonPanic, fmt.Errorf("panic: %v", r))}
			}
		}()
		out, err := step.Execute(actx, doc)
		ch <- attemptResult{doc: out, err: err}
	}()

	select {
	case r := <-ch:
		if r.err == nil && r.doc == nil {
			return nil, steperr.Fatal(steperr.ReasonInvalidOutput, errors.New("step returned no document"))
		}
		if r.err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, steperr.Retryable(steperr.ReasonTimeout, fmt.Errorf("attempt exceeded %s: %w", timeout, r.err))
		}
		return r.doc, r.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, deadlineError(ctx, nil)
		}
		return nil, steperr.Retryable(steperr.ReasonTimeout, fmt.Errorf("attempt exceeded %s", timeout))
	}
}

// runWithRetry executes b under its policy. It returns the output snapshot
// and the number of attempts made. Errors are always *steperr.Error.
func (e *Executor) runWithRetry(ctx context.Context, b *Bound, doc *types.Document) (*types.Document, int, error) {
	p := b.Policy
	for n := 1; ; n++ {
		input, err := doc.Clone()
		if err != nil {
			return nil, n, &steperr.Error{Class: steperr.ClassFatal, Step: b.Name, Reason: steperr.ReasonInput, Err: err}
		}

		out, err := attempt(ctx, b.Step, input, p.Timeout)
		if err == nil {
			return out, n, nil
		}

		se := steperr.Classify(err)
		if ctx.Err() != nil {
			se = deadlineError(ctx, err)
		}
		se.Step = b.Name
		se.Attempts = n

		if se.Class == steperr.ClassFatal {
			return nil, n, se
		}
		if n >= p.MaxAttempts {
			se.Class = steperr.ClassFatal
			return nil, n, se
		}

		delay := p.Delay(n)
		e.logger.Warn("step failed, retrying",
			"step", b.Name,
			"attempt", n,
			"max_attempts", p.MaxAttempts,
			"reason", se.Reason,
			"delay", delay,
			"error", se.Message(),
		)
		if err := e.sleep(ctx, delay); err != nil {
			dl := deadlineError(ctx, err)
			dl.Step = b.Name
			dl.Attempts = n
			return nil, n, dl
		}
	}
}
