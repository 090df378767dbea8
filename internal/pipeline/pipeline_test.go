// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/iwantit/internal/cache"
	"github.com/pdiddy/iwantit/internal/steperr"
	"github.com/pdiddy/iwantit/pkg/types"
)

// fn returns a catalog entry that always builds f.
func fn(emits []string, f StepFunc) Builtin {
	return Builtin{
		Emits:     emits,
		Cacheable: true,
		KeyFields: []string{"request.query"},
		New:       func(string, types.StepConfig) (Step, error) { return f, nil },
	}
}

func setTitle(title string) StepFunc {
	return func(_ context.Context, doc *types.Document) (*types.Document, error) {
		doc.Work.Title = title
		return doc, nil
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

func newDoc(query string) *types.Document {
	return &types.Document{Request: types.Request{Input: query, Query: query}}
}

func mustBuild(t *testing.T, cfg *types.Config, cat Catalog) *Plan {
	t.Helper()
	p, err := Build(cfg, cat, "")
	require.NoError(t, err)
	return p
}

func singleWorkflow(steps ...string) *types.Config {
	return &types.Config{
		DefaultWorkflow: "main",
		Workflows:       []types.WorkflowConfig{{Name: "main", Steps: steps}},
		Retries:         types.RetryConfig{MaxAttempts: 1},
	}
}

func reasonOf(t *testing.T, err error) *steperr.Error {
	t.Helper()
	var se *steperr.Error
	require.True(t, errors.As(err, &se), "expected a step error, got %v", err)
	return se
}

// --- Build ---

func TestBuild_Errors(t *testing.T) {
	cat := Catalog{"title": fn([]string{"work.title"}, setTitle("x"))}
	tests := []struct {
		name string
		cfg  types.Config
		want string
	}{
		{
			name: "builtin and command",
			cfg: types.Config{Steps: map[string]types.StepConfig{
				"both": {Builtin: "title", Command: []string{"echo"}},
			}},
			want: "not both",
		},
		{
			name: "unknown builtin",
			cfg:  types.Config{Steps: map[string]types.StepConfig{"s": {Builtin: "nope"}}},
			want: `unknown builtin "nope"`,
		},
		{
			name: "neither",
			cfg:  types.Config{Steps: map[string]types.StepConfig{"s": {}}},
			want: "neither builtin nor command",
		},
		{
			name: "undefined workflow step",
			cfg:  types.Config{Workflows: []types.WorkflowConfig{{Name: "w", Steps: []string{"ghost"}}}},
			want: `step "ghost" is not defined`,
		},
		{
			name: "missing default workflow",
			cfg:  types.Config{DefaultWorkflow: "music"},
			want: `default workflow "music" is not defined`,
		},
		{
			name: "duplicate workflow",
			cfg:  types.Config{Workflows: []types.WorkflowConfig{{Name: "w"}, {Name: "w"}}},
			want: "defined twice",
		},
		{
			name: "cached side effect",
			cfg: types.Config{Steps: map[string]types.StepConfig{
				"s": {Builtin: "title", SideEffect: true, Cache: types.StepCacheConfig{Enabled: true, TTL: time.Hour}},
			}},
			want: "side-effecting steps cannot be cached",
		},
		{
			name: "cached external without emits",
			cfg: types.Config{Steps: map[string]types.StepConfig{
				"s": {Command: []string{"echo"}, Cache: types.StepCacheConfig{Enabled: true, TTL: time.Hour, KeyFields: []string{"request.query"}}},
			}},
			want: "must declare emits",
		},
		{
			name: "cache without ttl",
			cfg: types.Config{Steps: map[string]types.StepConfig{
				"s": {Builtin: "title", Cache: types.StepCacheConfig{Enabled: true}},
			}},
			want: "ttl must be positive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(&tt.cfg, cat, "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuild_ResolvesVariants(t *testing.T) {
	cat := Catalog{"title": fn([]string{"work.title"}, setTitle("x"))}
	cfg := singleWorkflow("title", "ext")
	cfg.Steps = map[string]types.StepConfig{
		"ext": {Command: []string{"my-plugin --flag"}, Emits: []string{"tags"}, Timeout: 3 * time.Second},
	}
	cfg.Retries = types.RetryConfig{MaxAttempts: 2, Timeout: time.Second}
	p := mustBuild(t, cfg, cat)

	title, ok := p.Step("title")
	require.True(t, ok, "catalog names resolve without a steps entry")
	assert.Equal(t, KindBuiltin, title.Kind)
	assert.Equal(t, []string{"work.title"}, title.Emits)
	assert.Equal(t, time.Second, title.Policy.Timeout)

	ext, ok := p.Step("ext")
	require.True(t, ok)
	assert.Equal(t, KindExternal, ext.Kind)
	assert.Equal(t, []string{"my-plugin", "--flag"}, ext.Command)
	assert.Equal(t, 3*time.Second, ext.Policy.Timeout)
	assert.Equal(t, 2, ext.Policy.MaxAttempts)

	names := []string{}
	for _, b := range p.Steps() {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"ext", "title"}, names)
}

func TestBuild_CachePolicyDefaults(t *testing.T) {
	cat := Catalog{"title": fn([]string{"work.title"}, setTitle("x"))}
	cfg := singleWorkflow("title")
	cfg.Cache.DefaultTTL = 2 * time.Hour
	cfg.Steps = map[string]types.StepConfig{"title": {Builtin: "title", Cache: types.StepCacheConfig{Enabled: true}}}
	p := mustBuild(t, cfg, cat)

	b, _ := p.Step("title")
	require.NotNil(t, b.Cache)
	assert.Equal(t, "title", b.Cache.Namespace)
	assert.Equal(t, int64(7200), b.Cache.TTLSeconds)
	assert.Equal(t, []string{"request.query"}, b.Cache.KeyFields)
}

func TestPlan_Select(t *testing.T) {
	cat := Catalog{"title": fn(nil, setTitle("x"))}
	cfg := &types.Config{
		DefaultWorkflow: "music",
		Workflows: []types.WorkflowConfig{
			{Name: "music", Match: types.WorkflowMatch{MediaType: []string{"music"}}, Steps: []string{"title"}},
			{Name: "film", Match: types.WorkflowMatch{MediaType: []string{"movie", "tv"}}, Steps: []string{"title"}},
		},
	}
	p := mustBuild(t, cfg, cat)

	wf, err := p.Select("", "tv")
	require.NoError(t, err)
	assert.Equal(t, "film", wf.Name)

	wf, err = p.Select("", "book")
	require.NoError(t, err)
	assert.Equal(t, "music", wf.Name, "falls back to the default")

	wf, err = p.Select("film", "music")
	require.NoError(t, err)
	assert.Equal(t, "film", wf.Name, "explicit name wins")

	_, err = p.Select("nope", "")
	assert.Error(t, err)

	p.Default = ""
	_, err = p.Select("", "book")
	assert.Error(t, err)
}

// --- Run ---

func TestExecutor_RunsStepsInOrder(t *testing.T) {
	var order []string
	rec := func(name string) Builtin {
		return fn(nil, func(_ context.Context, doc *types.Document) (*types.Document, error) {
			order = append(order, name)
			doc.Work.Title += name
			return doc, nil
		})
	}
	cat := Catalog{"a": rec("a"), "b": rec("b"), "c": rec("c")}
	cfg := singleWorkflow("b", "c")
	cfg.PreSteps = []string{"a"}
	ex := NewExecutor(mustBuild(t, cfg, cat))

	in := newDoc("q")
	out, err := ex.Run(context.Background(), in, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, "abc", out.Work.Title)
	assert.Equal(t, 3, out.Meta.Version)
	require.Len(t, out.Meta.Trace, 3)
	assert.Equal(t, "c", out.Meta.Trace[2].Step)
	assert.NotEmpty(t, out.Meta.RunID)
	assert.Equal(t, "main", out.Meta.Workflow)

	assert.Empty(t, in.Work.Title, "the caller's document is not mutated")
}

func TestExecutor_HaltsOnNeedsChoice(t *testing.T) {
	called := false
	cat := Catalog{
		"ask": fn(nil, func(_ context.Context, doc *types.Document) (*types.Document, error) {
			doc.Decision = types.Decision{Status: types.StatusNeedsChoice, Reason: "ambiguous", Choices: []types.Candidate{{SourceID: "1"}}}
			return doc, nil
		}),
		"after": fn(nil, func(_ context.Context, doc *types.Document) (*types.Document, error) {
			called = true
			return doc, nil
		}),
	}
	ex := NewExecutor(mustBuild(t, singleWorkflow("ask", "after"), cat))

	out, err := ex.Run(context.Background(), newDoc("q"), RunOptions{Confirm: true})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, types.StatusNeedsChoice, out.Decision.Status)
	assert.Nil(t, out.Work.Selected)
	assert.Len(t, out.Decision.Choices, 1)
}

func TestExecutor_SideEffectsRequireConfirm(t *testing.T) {
	var grabs int32
	grab := Builtin{
		Emits:      []string{"dispatch.grab"},
		SideEffect: true,
		New: func(string, types.StepConfig) (Step, error) {
			return StepFunc(func(_ context.Context, doc *types.Document) (*types.Document, error) {
				atomic.AddInt32(&grabs, 1)
				return doc, doc.SetDispatch("grab", map[string]string{"status": "sent"})
			}), nil
		},
	}
	ex := NewExecutor(mustBuild(t, singleWorkflow("grab"), Catalog{"grab": grab}))

	out, err := ex.Run(context.Background(), newDoc("q"), RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, atomic.LoadInt32(&grabs))
	assert.JSONEq(t, `{"status":"skipped","reason":"confirmation_required"}`, string(out.Dispatch["grab"]))
	assert.True(t, out.Meta.Trace[0].Skipped)

	out, err = ex.Run(context.Background(), newDoc("q"), RunOptions{Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&grabs))
	assert.JSONEq(t, `{"status":"sent"}`, string(out.Dispatch["grab"]))
}

func TestExecutor_RetriesRetryableFailures(t *testing.T) {
	var calls int
	flaky := fn(nil, func(_ context.Context, doc *types.Document) (*types.Document, error) {
		calls++
		if calls < 3 {
			return nil, steperr.Retryablef(steperr.ReasonNetwork, "flake %d", calls)
		}
		doc.Work.Title = "ok"
		return doc, nil
	})
	cfg := singleWorkflow("flaky")
	cfg.Retries = types.RetryConfig{MaxAttempts: 3, Backoff: 10 * time.Millisecond, BackoffMultiplier: 2}

	var delays []time.Duration
	ex := NewExecutor(mustBuild(t, cfg, Catalog{"flaky": flaky}), WithSleep(func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}))

	out, err := ex.Run(context.Background(), newDoc("q"), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Work.Title)
	assert.Equal(t, 3, out.Meta.Trace[0].Attempts)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestExecutor_RetryExhaustionIsFatal(t *testing.T) {
	var calls int
	down := fn(nil, func(context.Context, *types.Document) (*types.Document, error) {
		calls++
		return nil, steperr.Retryablef(steperr.ReasonHTTPStatus, "service unavailable")
	})
	cfg := singleWorkflow("down", "never")
	cfg.Retries = types.RetryConfig{MaxAttempts: 2}
	cat := Catalog{"down": down, "never": fn(nil, setTitle("unreachable"))}
	ex := NewExecutor(mustBuild(t, cfg, cat), WithSleep(noSleep))

	out, err := ex.Run(context.Background(), newDoc("q"), RunOptions{})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	se := reasonOf(t, err)
	assert.Equal(t, steperr.ClassFatal, se.Class)
	assert.Equal(t, steperr.ReasonHTTPStatus, se.Reason)

	assert.Equal(t, types.StatusError, out.Decision.Status)
	assert.Equal(t, "down", out.Decision.Step)
	require.NotNil(t, out.Error)
	assert.Equal(t, types.ErrorTypeFatal, out.Error.Type)
	assert.Equal(t, "down", out.Error.Step)
	assert.Empty(t, out.Work.Title)
	assert.Nil(t, out.Work.Selected)
}

func TestExecutor_FatalIsNotRetried(t *testing.T) {
	var calls int
	bad := fn(nil, func(context.Context, *types.Document) (*types.Document, error) {
		calls++
		return nil, steperr.Fatalf(steperr.ReasonConfig, "missing api key")
	})
	cfg := singleWorkflow("bad")
	cfg.Retries = types.RetryConfig{MaxAttempts: 5}
	ex := NewExecutor(mustBuild(t, cfg, Catalog{"bad": bad}), WithSleep(noSleep))

	_, err := ex.Run(context.Background(), newDoc("q"), RunOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, steperr.ReasonConfig, reasonOf(t, err).Reason)
}

func blocking() Builtin {
	return fn(nil, func(ctx context.Context, doc *types.Document) (*types.Document, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func TestExecutor_AttemptTimeoutIsRetryable(t *testing.T) {
	cfg := singleWorkflow("slow")
	cfg.Retries = types.RetryConfig{MaxAttempts: 2, Timeout: 20 * time.Millisecond}
	ex := NewExecutor(mustBuild(t, cfg, Catalog{"slow": blocking()}), WithSleep(noSleep))

	out, err := ex.Run(context.Background(), newDoc("q"), RunOptions{})
	require.Error(t, err)
	se := reasonOf(t, err)
	assert.Equal(t, steperr.ReasonTimeout, se.Reason)
	assert.Equal(t, steperr.ClassFatal, se.Class)
	assert.Equal(t, 2, se.Attempts)
	assert.Equal(t, "timeout", out.Decision.Reason)
}

func TestExecutor_GlobalDeadlineIsFatal(t *testing.T) {
	cfg := singleWorkflow("slow")
	cfg.Retries = types.RetryConfig{MaxAttempts: 5, Timeout: time.Minute}
	ex := NewExecutor(mustBuild(t, cfg, Catalog{"slow": blocking()}), WithSleep(noSleep))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := ex.Run(ctx, newDoc("q"), RunOptions{})
	require.Error(t, err)
	se := reasonOf(t, err)
	assert.Equal(t, steperr.ReasonTimeout, se.Reason)
	assert.Equal(t, 1, se.Attempts, "the global deadline is never retried")
}

func TestExecutor_PanicIsFatal(t *testing.T) {
	boom := fn(nil, func(context.Context, *types.Document) (*types.Document, error) {
		panic("boom")
	})
	ex := NewExecutor(mustBuild(t, singleWorkflow("boom"), Catalog{"boom": boom}))

	out, err := ex.Run(context.Background(), newDoc("q"), RunOptions{})
	require.Error(t, err)
	assert.Equal(t, steperr.ReasonPanic, reasonOf(t, err).Reason)
	assert.Contains(t, out.Error.Message, "boom")
}

func TestExecutor_RejectsUndeclaredWrites(t *testing.T) {
	sneaky := fn([]string{"work.title"}, func(_ context.Context, doc *types.Document) (*types.Document, error) {
		doc.Work.Title = "fine"
		doc.Request.Query = "rewritten"
		doc.AddWarning("sneaky", "warnings are always allowed")
		return doc, nil
	})
	ex := NewExecutor(mustBuild(t, singleWorkflow("sneaky"), Catalog{"sneaky": sneaky}))

	out, err := ex.Run(context.Background(), newDoc("q"), RunOptions{})
	require.Error(t, err)
	se := reasonOf(t, err)
	assert.Equal(t, steperr.ReasonUndeclaredWrite, se.Reason)
	assert.Contains(t, se.Error(), "request.query")
	assert.NotContains(t, se.Error(), "warnings")
	assert.Equal(t, "q", out.Request.Query)
}

func TestExecutor_SearchAndDispatchAreAdditive(t *testing.T) {
	rewrite := fn(nil, func(_ context.Context, doc *types.Document) (*types.Document, error) {
		return doc, doc.SetSearch("prowlarr", []string{"changed"})
	})
	add := fn(nil, func(_ context.Context, doc *types.Document) (*types.Document, error) {
		return doc, doc.SetSearch("web", []string{"new"})
	})
	seed := newDoc("q")
	require.NoError(t, seed.SetSearch("prowlarr", []string{"original"}))

	ex := NewExecutor(mustBuild(t, singleWorkflow("add"), Catalog{"add": add}))
	out, err := ex.Run(context.Background(), seed, RunOptions{})
	require.NoError(t, err)
	assert.Len(t, out.Search, 2)

	ex = NewExecutor(mustBuild(t, singleWorkflow("rewrite"), Catalog{"rewrite": rewrite}))
	_, err = ex.Run(context.Background(), seed, RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rewrote search.prowlarr")
}

func TestExecutor_CacheHitSkipsStep(t *testing.T) {
	var calls int32
	lookup := fn([]string{"work.title", "work.year"}, func(_ context.Context, doc *types.Document) (*types.Document, error) {
		atomic.AddInt32(&calls, 1)
		doc.Work.Title = "Kid A"
		doc.Work.Year = 2000
		return doc, nil
	})
	cfg := singleWorkflow("lookup")
	cfg.Steps = map[string]types.StepConfig{"lookup": {Builtin: "lookup", Cache: types.StepCacheConfig{Enabled: true, TTL: time.Hour}}}
	store := cache.NewFileStore(t.TempDir())
	ex := NewExecutor(mustBuild(t, cfg, Catalog{"lookup": lookup}), WithCache(store))

	first, err := ex.Run(context.Background(), newDoc("Radiohead Kid A"), RunOptions{})
	require.NoError(t, err)

	second, err := ex.Run(context.Background(), newDoc("radiohead   KID A!"), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "normalized query hits the cache")
	assert.True(t, second.Meta.Trace[0].Cached)
	assert.Equal(t, first.Work.Title, second.Work.Title)
	assert.Equal(t, first.Work.Year, second.Work.Year)

	_, err = ex.Run(context.Background(), newDoc("Radiohead Kid A"), RunOptions{NoCache: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecutor_ExpiredCacheEntryIsMiss(t *testing.T) {
	var calls int32
	lookup := fn([]string{"work.title"}, func(_ context.Context, doc *types.Document) (*types.Document, error) {
		atomic.AddInt32(&calls, 1)
		doc.Work.Title = "t"
		return doc, nil
	})
	cfg := singleWorkflow("lookup")
	cfg.Steps = map[string]types.StepConfig{"lookup": {Builtin: "lookup", Cache: types.StepCacheConfig{Enabled: true, TTL: time.Hour}}}
	store := cache.NewFileStore(t.TempDir())
	past := func() time.Time { return time.Now().Add(-2 * time.Hour) }
	ex := NewExecutor(mustBuild(t, cfg, Catalog{"lookup": lookup}), WithCache(store), WithClock(past))

	for range 2 {
		_, err := ex.Run(context.Background(), newDoc("q"), RunOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecutor_SubSecondTTLStillHits(t *testing.T) {
	var calls int32
	lookup := fn([]string{"work.title"}, func(_ context.Context, doc *types.Document) (*types.Document, error) {
		atomic.AddInt32(&calls, 1)
		doc.Work.Title = "t"
		return doc, nil
	})
	cfg := singleWorkflow("lookup")
	cfg.Steps = map[string]types.StepConfig{"lookup": {Builtin: "lookup", Cache: types.StepCacheConfig{Enabled: true, TTL: 900 * time.Millisecond}}}
	p := mustBuild(t, cfg, Catalog{"lookup": lookup})

	b, _ := p.Step("lookup")
	require.NotNil(t, b.Cache)
	assert.Equal(t, int64(1), b.Cache.TTLSeconds)

	ex := NewExecutor(p, WithCache(cache.NewFileStore(t.TempDir())))
	for range 2 {
		_, err := ex.Run(context.Background(), newDoc("q"), RunOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecutor_CacheKeyCoversStepOptions(t *testing.T) {
	var calls int32
	lookup := fn([]string{"work.title"}, func(_ context.Context, doc *types.Document) (*types.Document, error) {
		atomic.AddInt32(&calls, 1)
		doc.Work.Title = "t"
		return doc, nil
	})
	store := cache.NewFileStore(t.TempDir())
	run := func(categories ...int) {
		t.Helper()
		cfg := singleWorkflow("lookup")
		cfg.Steps = map[string]types.StepConfig{"lookup": {
			Builtin: "lookup",
			Cache:   types.StepCacheConfig{Enabled: true, TTL: time.Hour},
			Options: map[string]any{"categories": categories},
		}}
		ex := NewExecutor(mustBuild(t, cfg, Catalog{"lookup": lookup}), WithCache(store))
		_, err := ex.Run(context.Background(), newDoc("q"), RunOptions{})
		require.NoError(t, err)
	}

	run(3010)
	run(3010)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "same options hit")

	run(3040)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "changed options miss")
}

func TestExecutor_FinalizesPendingDecision(t *testing.T) {
	cands := fn([]string{"work.candidates"}, func(_ context.Context, doc *types.Document) (*types.Document, error) {
		doc.Work.Candidates = []types.Candidate{
			{SourceID: "1", Title: "A", Format: "FLAC"},
			{SourceID: "2", Title: "B", Format: "MP3"},
		}
		return doc, nil
	})
	cfg := singleWorkflow("cands")
	ex := NewExecutor(mustBuild(t, cfg, Catalog{"cands": cands}))

	out, err := ex.Run(context.Background(), newDoc("q"), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusNeedsChoice, out.Decision.Status)
	assert.Len(t, out.Decision.Choices, 2)

	doc := newDoc("q")
	doc.Request.Choice = "2"
	out, err = ex.Run(context.Background(), doc, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSelected, out.Decision.Status)
	require.NotNil(t, out.Work.Selected)
	assert.Equal(t, "2", out.Work.Selected.SourceID)
}

func TestExecutor_EmptyPipelineEndsInNeedsChoice(t *testing.T) {
	ex := NewExecutor(mustBuild(t, singleWorkflow(), Catalog{}))

	out, err := ex.Run(context.Background(), newDoc("q"), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusNeedsChoice, out.Decision.Status)

	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"choices":[]`)
}

func TestExecutor_NoWorkflowMatches(t *testing.T) {
	cfg := &types.Config{Workflows: []types.WorkflowConfig{{Name: "music", Match: types.WorkflowMatch{MediaType: []string{"music"}}}}}
	ex := NewExecutor(mustBuild(t, cfg, Catalog{}))

	doc := newDoc("q")
	doc.Request.MediaType = "book"
	out, err := ex.Run(context.Background(), doc, RunOptions{})
	require.Error(t, err)
	assert.Equal(t, SelectWorkflowStep, out.Error.Step)
	assert.Equal(t, types.StatusError, out.Decision.Status)
}

func TestExecutor_FromAndUntil(t *testing.T) {
	var order []string
	rec := func(name string) Builtin {
		return fn(nil, func(_ context.Context, doc *types.Document) (*types.Document, error) {
			order = append(order, name)
			return doc, nil
		})
	}
	cat := Catalog{"a": rec("a"), "b": rec("b"), "c": rec("c"), "d": rec("d")}
	ex := NewExecutor(mustBuild(t, singleWorkflow("a", "b", "c", "d"), cat))

	_, err := ex.Run(context.Background(), newDoc("q"), RunOptions{From: "b", Until: "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, order)

	_, err = ex.Run(context.Background(), newDoc("q"), RunOptions{From: "zzz"})
	require.Error(t, err)
}

func TestExecutor_RunStep(t *testing.T) {
	cat := Catalog{"title": fn([]string{"work.title"}, setTitle("solo"))}
	ex := NewExecutor(mustBuild(t, singleWorkflow(), cat))

	out, err := ex.RunStep(context.Background(), "title", newDoc("q"), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "solo", out.Work.Title)
	assert.Equal(t, types.StatusPending, out.Decision.Status)

	_, err = ex.RunStep(context.Background(), "missing", newDoc("q"), RunOptions{})
	assert.Error(t, err)
}
