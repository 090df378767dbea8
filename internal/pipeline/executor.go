// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/iwantit/internal/cache"
	"github.com/pdiddy/iwantit/internal/decide"
	"github.com/pdiddy/iwantit/internal/steperr"
	"github.com/pdiddy/iwantit/pkg/types"
)

// SelectWorkflowStep names the pseudo-step recorded when no workflow
// matches.
const SelectWorkflowStep = "select_workflow"

// Executor runs a Plan.
type Executor struct {
	plan     *Plan
	cache    cache.Store
	logger   *slog.Logger
	decision types.DecisionConfig
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithCache enables the cache layer. A nil store disables it.
func WithCache(s cache.Store) Option { return func(e *Executor) { e.cache = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithDecision sets the decision defaults used to finalize a run.
func WithDecision(cfg types.DecisionConfig) Option { return func(e *Executor) { e.decision = cfg } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

// WithSleep overrides backoff sleeping.
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = f }
}

// NewExecutor returns an executor for plan.
func NewExecutor(plan *Plan, opts ...Option) *Executor {
	e := &Executor{
		plan:   plan,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
		sleep:  SleepWithContext,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// RunOptions controls one run.
type RunOptions struct {
	// Workflow forces a workflow instead of matching on media type.
	Workflow string

	// Confirm allows side-effecting steps to run. Without it they are
	// skipped and recorded as such.
	Confirm bool

	// From skips every step before the named one; Until stops after it.
	From  string
	Until string

	// NoCache bypasses the cache entirely; RefreshCache skips reads but
	// stores fresh results.
	NoCache      bool
	RefreshCache bool

	ConfigPath string
}

// Run executes the pre-steps, selects a workflow, runs it, and finalizes
// the decision. The returned document is always complete; the error is the
// fatal step failure, if any, already recorded in the document.
func (e *Executor) Run(ctx context.Context, doc *types.Document, opts RunOptions) (*types.Document, error) {
	cur, err := doc.Clone()
	if err != nil {
		return doc, err
	}
	if cur.Meta.RunID == "" {
		cur.Meta.RunID = uuid.NewString()
	}
	if opts.ConfigPath != "" {
		cur.Meta.ConfigPath = opts.ConfigPath
	}

	started := opts.From == ""
	var runErr error
	runSeq := func(seq []*Bound) bool {
		for _, b := range seq {
			if !started {
				if b.Name != opts.From {
					continue
				}
				started = true
			}
			if halted(cur) {
				return true
			}
			next, err := e.runStep(ctx, b, cur, opts)
			if err != nil {
				runErr = err
				e.fail(cur, b.Name, err)
				return true
			}
			cur = next
			if b.Name == opts.Until {
				return true
			}
		}
		return false
	}

	e.logger.Info("run started", "run_id", cur.Meta.RunID, "input", cur.Request.Input)
	stopped := runSeq(e.plan.PreSteps)
	if !stopped && !halted(cur) {
		wf, err := e.plan.Select(opts.Workflow, cur.MediaType())
		if err != nil {
			runErr = steperr.Fatal(steperr.ReasonConfig, err)
			e.fail(cur, SelectWorkflowStep, runErr)
		} else {
			cur.Meta.Workflow = wf.Name
			e.logger.Info("workflow selected", "workflow", wf.Name, "media_type", cur.MediaType())
			runSeq(wf.Steps)
		}
	}
	if runErr == nil && !started {
		runErr = steperr.Fatalf(steperr.ReasonConfig, "step %q is not part of the pipeline", opts.From)
		e.fail(cur, opts.From, runErr)
	}

	e.finalize(cur)
	e.logger.Info("run finished",
		"run_id", cur.Meta.RunID,
		"status", cur.Decision.Status,
		"reason", cur.Decision.Reason,
	)
	return cur, runErr
}

// RunStep executes a single named step with the full policy wrapper but
// without finalizing the decision.
func (e *Executor) RunStep(ctx context.Context, name string, doc *types.Document, opts RunOptions) (*types.Document, error) {
	b, ok := e.plan.Step(name)
	if !ok {
		return doc, fmt.Errorf("step %q is not defined", name)
	}
	cur, err := doc.Clone()
	if err != nil {
		return doc, err
	}
	if cur.Meta.RunID == "" {
		cur.Meta.RunID = uuid.NewString()
	}
	next, err := e.runStep(ctx, b, cur, opts)
	if err != nil {
		e.fail(cur, name, err)
		return cur, err
	}
	return next, nil
}

// halted reports whether the run must not start another step: a choice is
// pending or the run already failed.
func halted(doc *types.Document) bool {
	return doc.Decision.Status == types.StatusNeedsChoice || doc.Decision.Status == types.StatusError
}

func (e *Executor) runStep(ctx context.Context, b *Bound, cur *types.Document, opts RunOptions) (*types.Document, error) {
	start := e.now()
	entry := types.TraceEntry{Step: b.Name, Kind: string(b.Kind)}

	if b.SideEffect && !opts.Confirm {
		next, err := cur.Clone()
		if err != nil {
			return nil, steperr.Fatal(steperr.ReasonInput, err)
		}
		if err := next.SetDispatch(b.Name, map[string]string{
			"status": "skipped",
			"reason": "confirmation_required",
		}); err != nil {
			return nil, steperr.Fatal(steperr.ReasonInput, err)
		}
		e.logger.Info("skipping side-effecting step without confirmation", "step", b.Name)
		entry.Skipped = true
		entry.Outcome = "skipped"
		return e.commit(cur, next, entry, start), nil
	}

	useCache := b.Cache != nil && e.cache != nil && !opts.NoCache
	var key string
	if useCache && !opts.RefreshCache {
		out, k, hit := e.cacheLookup(ctx, b, cur)
		if hit {
			e.logger.Debug("cache hit", "step", b.Name)
			entry.Cached = true
			entry.Outcome = "ok"
			return e.commit(cur, out, entry, start), nil
		}
		key = k
	}

	e.logger.Info("running step", "step", b.Name, "kind", b.Kind)
	out, attempts, err := e.runWithRetry(ctx, b, cur)
	entry.Attempts = attempts
	if err != nil {
		entry.Outcome = "error"
		e.trace(cur, entry, start)
		return nil, err
	}

	if err := checkWrites(b, cur, out); err != nil {
		se := steperr.Classify(err)
		se.Step = b.Name
		entry.Outcome = "error"
		e.trace(cur, entry, start)
		return nil, se
	}

	if useCache {
		if key == "" {
			if key, err = cacheKey(b, cur); err != nil {
				e.logger.Warn("cache key failed", "step", b.Name, "error", err)
			}
		}
		if key != "" {
			e.cacheStore(ctx, b, key, out)
		}
	}

	entry.Outcome = "ok"
	return e.commit(cur, out, entry, start), nil
}

// commit adopts out as the next snapshot. The executor owns _meta, so the
// step's copy is replaced.
func (e *Executor) commit(prev, out *types.Document, entry types.TraceEntry, start time.Time) *types.Document {
	out.Meta = prev.Meta
	out.Meta.Trace = append([]types.TraceEntry(nil), prev.Meta.Trace...)
	out.Meta.Version++
	e.trace(out, entry, start)
	return out
}

func (e *Executor) trace(doc *types.Document, entry types.TraceEntry, start time.Time) {
	entry.DurationMS = e.now().Sub(start).Milliseconds()
	doc.Meta.Trace = append(doc.Meta.Trace, entry)
}

// fail records a fatal failure on cur.
func (e *Executor) fail(cur *types.Document, step string, err error) {
	se := steperr.Classify(err)
	if se.Step == "" {
		se.Step = step
	}
	e.logger.Error("step failed", "step", se.Step, "reason", se.Reason, "error", se.Message())
	cur.Error = &types.ErrorInfo{
		Message: se.Message(),
		Step:    se.Step,
		Type:    types.ErrorTypeFatal,
		Reason:  se.Reason,
	}
	decide.Apply(cur, decide.Outcome{Status: types.StatusError, Reason: se.Reason, Step: se.Step})
}

// finalize guarantees exactly one terminal state.
func (e *Executor) finalize(cur *types.Document) {
	switch cur.Decision.Status {
	case types.StatusPending:
		out := decide.Decide(decide.FromDocument(cur), decide.PolicyFor(e.decision, cur.MediaType()))
		if out.Status == types.StatusError {
			if out.Step == "" {
				out.Step = "decide"
			}
			if cur.Error == nil {
				cur.Error = &types.ErrorInfo{Message: out.Message, Step: out.Step, Type: types.ErrorTypeFatal, Reason: out.Reason}
			}
		}
		decide.Apply(cur, out)
	case types.StatusSelected:
		if cur.Work.Selected == nil || cur.Error != nil {
			e.fail(cur, "decide", steperr.Fatal(steperr.ReasonInvalidOutput, errors.New("selected decision without a selected candidate")))
		}
	case types.StatusNeedsChoice:
		cur.Work.Selected = nil
		if cur.Decision.Choices == nil {
			cur.Decision.Choices = []types.Candidate{}
		}
	case types.StatusError:
		cur.Work.Selected = nil
		if cur.Error == nil {
			cur.Error = &types.ErrorInfo{
				Message: "run ended in error",
				Step:    cur.Decision.Step,
				Type:    types.ErrorTypeFatal,
				Reason:  cur.Decision.Reason,
			}
		}
	default:
		e.fail(cur, "decide", steperr.Fatalf(steperr.ReasonInvalidOutput, "unknown decision status %q", cur.Decision.Status))
	}
}
