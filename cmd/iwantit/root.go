// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var flags globalFlags
	ctx := newCommandContext(&flags)

	rootCmd := &cobra.Command{
		Use:   "iwantit",
		Short: "Find, rank, and acquire media from a loose request",
		Long: `iwantit turns a loose request (a title, a URL, a screenshot) into an
acquired release. Configured pipelines identify the work, search indexers
or library managers, rank the candidates, and either select one or stop
and ask. Output is one JSON document on stdout.

Exit status is 0 when a release was selected, 20 when a choice is needed,
and 1 for anything else.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig(cmd)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "", "config file (default: $IWANTIT_CONFIG, ./iwantit.yaml or ~/.config/iwantit/config.yaml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error (default from config)")
	pf.BoolVarP(&flags.quiet, "quiet", "q", false, "only log warnings and skip the result summary")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newStepCommand(ctx))
	rootCmd.AddCommand(newChooseCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newValidateCommand(ctx))
	rootCmd.AddCommand(newInitCommand(ctx))
	rootCmd.AddCommand(newCacheCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// skipConfig marks commands that must work without a loadable config.
var skipConfig = map[string]string{"skipConfigLoad": "true"}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
