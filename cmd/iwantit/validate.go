// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/iwantit/internal/config"
)

func newValidateCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without running anything",
		Long: `Validate loads the configuration, binds every step and workflow, and
checks the credentials the configured builtins need. Problems that stop a
run are errors; steps that will be skipped are warnings. Exit status is 1
when there are errors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res := ctx.loaded
			report := config.Validate(ctx.config(), ctx.catalog())
			for _, key := range res.Unused {
				report.Warnings = append(report.Warnings, fmt.Sprintf("unknown config key %q", key))
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				path := res.Path
				if path == "" {
					path = "(defaults)"
				}
				fmt.Fprintf(out, "Config: %s\n", path)
				for _, p := range res.Plugins {
					fmt.Fprintf(out, "Plugin: %s %s (%d steps)\n", p.Name, p.Version, len(p.Steps))
				}
				for _, e := range report.Errors {
					fmt.Fprintf(out, "%s %s\n", red("error:"), e)
				}
				for _, w := range report.Warnings {
					fmt.Fprintf(out, "%s %s\n", yellow("warning:"), w)
				}
				if report.OK() {
					fmt.Fprintln(out, green("ok"))
				}
			}
			if !report.OK() {
				return &exitError{code: ExitFailure}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}
