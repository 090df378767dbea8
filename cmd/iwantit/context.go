// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/pdiddy/iwantit/internal/cache"
	"github.com/pdiddy/iwantit/internal/config"
	"github.com/pdiddy/iwantit/internal/logging"
	"github.com/pdiddy/iwantit/internal/pipeline"
	"github.com/pdiddy/iwantit/internal/steps"
	"github.com/pdiddy/iwantit/pkg/types"
)

type globalFlags struct {
	config   string
	logLevel string
	quiet    bool
}

// commandContext holds what every subcommand shares: the loaded
// configuration and the logger built from it.
type commandContext struct {
	flags *globalFlags
	now   func() time.Time

	loaded *config.Result
	logger *slog.Logger
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags, now: time.Now}
}

// ensureConfig loads the configuration once. The logger used while
// loading is replaced by one built from the loaded logging section.
func (c *commandContext) ensureConfig(cmd *cobra.Command) (*config.Result, error) {
	if c.loaded != nil {
		return c.loaded, nil
	}
	stderr := cmd.ErrOrStderr()
	boot, err := logging.New(logging.Options{Level: c.level("warn"), Writer: stderr})
	if err != nil {
		return nil, err
	}
	res, err := config.Load(c.flags.config, boot)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(res.Config.Logging, stderr, c.level(""), isTerminal(stderr))
	if err != nil {
		return nil, err
	}
	c.loaded = res
	c.logger = logger
	return res, nil
}

// level resolves the effective log level override: --log-level, then
// warn under --quiet, then fallback.
func (c *commandContext) level(fallback string) string {
	if c.flags.logLevel != "" {
		return c.flags.logLevel
	}
	if c.flags.quiet {
		return "warn"
	}
	return fallback
}

func (c *commandContext) config() *types.Config { return c.loaded.Config }

func (c *commandContext) stateDir() string { return config.StateDir(c.config()) }

func (c *commandContext) catalog() pipeline.Catalog {
	return steps.Catalog(steps.Env{
		Config:   c.config(),
		Logger:   c.logger,
		StateDir: c.stateDir(),
		Now:      c.now,
	})
}

func (c *commandContext) plan() (*pipeline.Plan, error) {
	return pipeline.Build(c.config(), c.catalog(), c.loaded.Path)
}

// openCache returns nil when caching is disabled by flag or config.
func (c *commandContext) openCache(disabled bool) (cache.Store, error) {
	if disabled {
		return nil, nil
	}
	return cache.Open(c.config().Cache, config.CacheDir(c.config()))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
