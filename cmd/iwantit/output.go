// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/pdiddy/iwantit/internal/rank"
	"github.com/pdiddy/iwantit/pkg/types"
)

// maxSummaryWarnings bounds the warnings echoed in the summary.
const maxSummaryWarnings = 3

// writeDocument prints doc as indented JSON. Unless full is set, the raw
// collaborator payloads are dropped from every candidate.
func writeDocument(w io.Writer, doc *types.Document, full bool) error {
	if !full {
		doc = compact(doc)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(doc)
}

// compact returns a shallow copy of doc without candidate _raw payloads.
func compact(doc *types.Document) *types.Document {
	out := *doc
	out.Work.Candidates = stripRaw(doc.Work.Candidates)
	out.Request.Candidates = stripRaw(doc.Request.Candidates)
	if doc.Decision.Choices != nil {
		out.Decision.Choices = stripRaw(doc.Decision.Choices)
	}
	if doc.Work.Selected != nil {
		sel := *doc.Work.Selected
		sel.Raw = nil
		out.Work.Selected = &sel
	}
	return &out
}

func stripRaw(cands []types.Candidate) []types.Candidate {
	if cands == nil {
		return nil
	}
	out := make([]types.Candidate, len(cands))
	for i, c := range cands {
		c.Raw = nil
		out[i] = c
	}
	return out
}

// exitFor maps the terminal decision to the process exit.
func exitFor(doc *types.Document) error {
	switch doc.Decision.Status {
	case types.StatusSelected:
		return nil
	case types.StatusNeedsChoice:
		return &exitError{code: ExitNeedsChoice}
	default:
		return &exitError{code: ExitFailure}
	}
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// printSummary writes the human-readable outcome of a run.
func printSummary(w io.Writer, doc *types.Document) {
	work := doc.Work
	year := ""
	if work.Year > 0 {
		year = fmt.Sprintf(" (%d)", work.Year)
	}
	switch {
	case work.Artist != "" && work.Title != "":
		fmt.Fprintf(w, "Parsed: %s - %s%s\n", work.Artist, work.Title, year)
	case work.Title != "":
		fmt.Fprintf(w, "Parsed: %s%s\n", work.Title, year)
	}
	media := doc.MediaType()
	if media == "" {
		media = "unknown"
	}
	fmt.Fprintf(w, "Media: %s\n", media)
	if q := strings.TrimSpace(doc.Request.Query); q != "" {
		fmt.Fprintf(w, "Query: %s\n", q)
	}

	status := string(doc.Decision.Status)
	switch doc.Decision.Status {
	case types.StatusSelected:
		status = green(status)
	case types.StatusNeedsChoice:
		status = yellow(status)
	default:
		status = red(status)
	}
	if doc.Decision.Reason != "" {
		fmt.Fprintf(w, "Decision: %s (%s)\n", status, doc.Decision.Reason)
	} else {
		fmt.Fprintf(w, "Decision: %s\n", status)
	}
	if sel := doc.Work.Selected; sel != nil {
		fmt.Fprintf(w, "Selected: %s\n", bold(sel.DisplayName()))
	}

	if len(doc.Warnings) > 0 {
		fmt.Fprintln(w, "Warnings:")
		for i, warn := range doc.Warnings {
			if i == maxSummaryWarnings {
				fmt.Fprintf(w, "- (+%d more)\n", len(doc.Warnings)-maxSummaryWarnings)
				break
			}
			fmt.Fprintf(w, "- %s: %s\n", warn.Step, warn.Message)
		}
	}

	switch doc.Decision.Status {
	case types.StatusNeedsChoice:
		fmt.Fprintln(w, "Next: pick one with `iwantit choose`, then resume with `iwantit run --resume <file> --choice N`")
	case types.StatusError:
		fmt.Fprintln(w, "Next: rerun with --media-type or --workflow if detection was wrong")
	}
}

// renderTable draws rows in the shared table style. Columns listed in
// right are right-aligned.
func renderTable(header table.Row, rows []table.Row, right ...int) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	configs := make([]table.ColumnConfig, 0, len(right))
	for _, n := range right {
		configs = append(configs, table.ColumnConfig{Number: n, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func candidateRows(cands []types.Candidate) []table.Row {
	rows := make([]table.Row, 0, len(cands))
	for i, c := range cands {
		score := ""
		if c.Score != nil {
			score = fmt.Sprintf("%.1f", rank.ScoreOf(c))
		}
		rows = append(rows, table.Row{i + 1, c.DisplayName(), c.Category, score, c.Seeders})
	}
	return rows
}

var candidateHeader = table.Row{"#", "Release", "Category", "Score", "Seeders"}
