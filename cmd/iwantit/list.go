// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/pdiddy/iwantit/internal/pipeline"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "list <workflows|steps>",
		Short:     "List configured workflows or steps",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"workflows", "steps"},
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := ctx.plan()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if args[0] == "workflows" {
				fmt.Fprintln(out, renderTable(table.Row{"Workflow", "Media types", "Steps"}, workflowRows(plan)))
				if len(plan.PreSteps) > 0 {
					fmt.Fprintf(out, "Pre-steps: %s\n", strings.Join(stepNames(plan.PreSteps), ", "))
				}
				return nil
			}
			fmt.Fprintln(out, renderTable(table.Row{"Step", "Kind", "Flags", "Description"}, stepRows(plan)))
			return nil
		},
	}
}

func workflowRows(plan *pipeline.Plan) []table.Row {
	rows := make([]table.Row, 0, len(plan.Workflows))
	for _, wf := range plan.Workflows {
		name := wf.Name
		if name == plan.Default {
			name += " (default)"
		}
		rows = append(rows, table.Row{name, strings.Join(wf.MediaTypes, ", "), strings.Join(stepNames(wf.Steps), " > ")})
	}
	return rows
}

func stepRows(plan *pipeline.Plan) []table.Row {
	bound := plan.Steps()
	rows := make([]table.Row, 0, len(bound))
	for _, b := range bound {
		kind := string(b.Kind)
		if b.Builtin != "" && b.Builtin != b.Name {
			kind += ":" + b.Builtin
		}
		var flags []string
		if b.SideEffect {
			flags = append(flags, "side-effect")
		}
		if b.Cache != nil {
			flags = append(flags, fmt.Sprintf("cached %ds", b.Cache.TTLSeconds))
		}
		desc := b.Description
		if desc == "" && len(b.Command) > 0 {
			desc = strings.Join(b.Command, " ")
		}
		rows = append(rows, table.Row{b.Name, kind, strings.Join(flags, ", "), desc})
	}
	return rows
}

func stepNames(bound []*pipeline.Bound) []string {
	names := make([]string, len(bound))
	for i, b := range bound {
		names[i] = b.Name
	}
	return names
}
