// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/pdiddy/iwantit/internal/config"
	"github.com/pdiddy/iwantit/internal/external"
	"github.com/pdiddy/iwantit/internal/pipeline"
	"github.com/pdiddy/iwantit/internal/report"
	"github.com/pdiddy/iwantit/pkg/types"
)

type runFlags struct {
	input        inputFlags
	workflow     string
	confirm      bool
	from         string
	until        string
	noCache      bool
	refreshCache bool
	deadline     time.Duration
	full         bool
	resume       string
	report       bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	f.input.register(cmd)
	fl := cmd.Flags()
	fl.BoolVar(&f.confirm, "confirm", false, "allow side-effecting steps (grabs, library adds)")
	fl.StringVar(&f.from, "from", "", "skip every step before this one")
	fl.StringVar(&f.until, "until", "", "stop after this step")
	fl.BoolVar(&f.noCache, "no-cache", false, "bypass the step cache")
	fl.BoolVar(&f.refreshCache, "refresh-cache", false, "ignore cached results but store fresh ones")
	fl.DurationVar(&f.deadline, "deadline", 0, "abort the run after this long (e.g. 90s)")
	fl.BoolVar(&f.full, "full", false, "keep raw collaborator payloads in the output")
}

func (f *runFlags) options(configPath string) pipeline.RunOptions {
	return pipeline.RunOptions{
		Workflow:     f.workflow,
		Confirm:      f.confirm,
		From:         f.from,
		Until:        f.until,
		NoCache:      f.noCache,
		RefreshCache: f.refreshCache,
		ConfigPath:   configPath,
	}
}

func withDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run [input...]",
		Short: "Run the pipeline on a request",
		Long: `Run identifies the request, selects a workflow by media type, and runs it
to a decision. Side-effecting steps only run with --confirm; without it
they are recorded as skipped.

A run that stopped with needs_choice can be resumed from its output:

  iwantit run "radiohead kid a" > run.json
  iwantit run --resume run.json --choice 2 --confirm`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, ctx, &flags, args)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&flags.workflow, "workflow", "", "run this workflow instead of matching on media type")
	cmd.Flags().StringVar(&flags.resume, "resume", "", "resume from a needs_choice document (requires --choice)")
	cmd.Flags().BoolVar(&flags.report, "report", false, "write a markdown report even when report.enabled is off")
	return cmd
}

func runPipeline(cmd *cobra.Command, ctx *commandContext, flags *runFlags, args []string) error {
	cfg := ctx.config()
	plan, err := ctx.plan()
	if err != nil {
		return err
	}

	opts := flags.options(ctx.loaded.Path)
	var doc *types.Document
	if flags.resume != "" {
		if flags.input.choice == "" {
			return errors.New("--resume requires --choice")
		}
		if flags.input.given() > 0 || len(args) > 0 {
			return errors.New("--resume takes no other input")
		}
		prior, err := readDocument(flags.resume)
		if err != nil {
			return err
		}
		doc = resumeDocument(prior, flags.input.choice)
		if opts.Workflow == "" {
			opts.Workflow = prior.Meta.Workflow
		}
		if opts.From == "" {
			opts.From = decideStep(plan, opts.Workflow, doc.MediaType())
		}
		if opts.From == "" {
			ctx.logger.Warn("workflow has no decide step; resuming from the start")
		}
	} else {
		doc, err = flags.input.document(args, cmd.InOrStdin(), stdinIsTerminal(cmd))
		if err != nil {
			return err
		}
	}

	store, err := ctx.openCache(flags.noCache)
	if err != nil {
		ctx.logger.Warn("cache unavailable, running without it", "error", err)
		store = nil
	}
	if store != nil {
		defer store.Close()
	}

	exec := pipeline.NewExecutor(plan,
		pipeline.WithCache(store),
		pipeline.WithLogger(ctx.logger),
		pipeline.WithDecision(cfg.Decision),
		pipeline.WithClock(ctx.now),
	)
	runCtx, cancel := withDeadline(cmd.Context(), flags.deadline)
	defer cancel()
	out, _ := exec.Run(runCtx, doc, opts)

	afterRun(cmd, ctx, out, flags.report)
	if err := writeDocument(cmd.OutOrStdout(), out, flags.full); err != nil {
		return err
	}
	return exitFor(out)
}

// afterRun records diagnostics and the optional report. Failures here
// never change the run's outcome.
func afterRun(cmd *cobra.Command, ctx *commandContext, doc *types.Document, forceReport bool) {
	state := ctx.stateDir()
	now := ctx.now()
	if _, err := report.LogFailedQuery(state, doc, now); err != nil {
		ctx.logger.Warn("could not record failed query", "error", err)
	}
	if rc := ctx.config().Report; rc.Enabled || forceReport {
		dir := filepath.Join(state, report.ReportsDir)
		if rc.Dir != "" {
			dir = config.ExpandHome(rc.Dir)
		}
		path, err := report.WriteMarkdown(dir, doc, now)
		if err != nil {
			ctx.logger.Warn("could not write report", "error", err)
		} else {
			ctx.logger.Info("report written", "path", path)
		}
	}
	if stderr := cmd.ErrOrStderr(); !ctx.flags.quiet && isTerminal(stderr) {
		printSummary(stderr, doc)
	}
}

func readDocument(path string) (*types.Document, error) {
	data, err := os.ReadFile(config.ExpandHome(path))
	if err != nil {
		return nil, err
	}
	doc, err := external.DecodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// resumeDocument seeds a new run with the request, identified work, and
// offered choices of prior.
func resumeDocument(prior *types.Document, choice string) *types.Document {
	cands := prior.Decision.Choices
	if len(cands) == 0 {
		cands = prior.Work.Candidates
	}
	doc := &types.Document{
		Request: prior.Request,
		Work:    prior.Work,
		Tags:    prior.Tags,
	}
	doc.Request.Choice = choice
	doc.Request.Candidates = cands
	doc.Work.Candidates = cands
	doc.Work.Selected = nil
	return doc
}

// decideStep names the first decide step of the workflow a resumed run
// will select, or "" when there is none.
func decideStep(plan *pipeline.Plan, workflow, mediaType string) string {
	wf, err := plan.Select(workflow, mediaType)
	if err != nil {
		return ""
	}
	for _, b := range wf.Steps {
		if b.Builtin == "decide" {
			return b.Name
		}
	}
	return ""
}

func stdinIsTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newStepCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "step <name> [input...]",
		Short: "Run a single step on a request or document",
		Long: `Step runs one configured step (or any builtin by name) with its retry,
timeout and cache policy, and prints the resulting document. Pipe a prior
document in with --stdin or --json to continue from it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := ctx.plan()
			if err != nil {
				return err
			}
			doc, err := flags.input.document(args[1:], cmd.InOrStdin(), stdinIsTerminal(cmd))
			if err != nil {
				return err
			}
			store, err := ctx.openCache(flags.noCache)
			if err != nil {
				ctx.logger.Warn("cache unavailable, running without it", "error", err)
				store = nil
			}
			if store != nil {
				defer store.Close()
			}
			exec := pipeline.NewExecutor(plan,
				pipeline.WithCache(store),
				pipeline.WithLogger(ctx.logger),
				pipeline.WithDecision(ctx.config().Decision),
				pipeline.WithClock(ctx.now),
			)
			runCtx, cancel := withDeadline(cmd.Context(), flags.deadline)
			defer cancel()
			out, stepErr := exec.RunStep(runCtx, args[0], doc, flags.options(ctx.loaded.Path))
			if err := writeDocument(cmd.OutOrStdout(), out, flags.full); err != nil {
				return err
			}
			if stepErr != nil {
				return &exitError{code: ExitFailure}
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
