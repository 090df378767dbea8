// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/pdiddy/iwantit/internal/rank"
	"github.com/pdiddy/iwantit/pkg/types"
)

// ReportsDir is where markdown reports go, relative to the state dir.
const ReportsDir = "reports"

// maxRows bounds the candidate table.
const maxRows = 20

// Markdown renders a human-readable summary of a finished run.
func Markdown(doc *types.Document, now time.Time) string {
	var b strings.Builder
	title := doc.Work.Title
	if title == "" {
		title = doc.Request.Query
	}
	if title == "" {
		title = "(unidentified)"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	fields := [][2]string{
		{"Run", doc.Meta.RunID},
		{"Date", now.UTC().Format(time.RFC3339)},
		{"Input type", string(doc.Request.InputType)},
		{"Query", doc.Request.Query},
		{"Media type", doc.MediaType()},
		{"Workflow", doc.Meta.Workflow},
		{"Artist", doc.Work.Artist},
		{"Author", doc.Work.Author},
	}
	if doc.Work.Year > 0 {
		fields = append(fields, [2]string{"Year", fmt.Sprint(doc.Work.Year)})
	}
	for _, f := range fields {
		if f[1] != "" {
			fmt.Fprintf(&b, "- **%s:** %s\n", f[0], f[1])
		}
	}

	b.WriteString("\n## Decision\n\n")
	fmt.Fprintf(&b, "Status: `%s`", doc.Decision.Status)
	if doc.Decision.Reason != "" {
		fmt.Fprintf(&b, " (%s)", doc.Decision.Reason)
	}
	b.WriteString("\n")
	if sel := doc.Work.Selected; sel != nil {
		fmt.Fprintf(&b, "\nSelected: %s\n", sel.DisplayName())
	}
	if doc.Error != nil {
		fmt.Fprintf(&b, "\nError in `%s`: %s\n", doc.Error.Step, doc.Error.Message)
	}

	cands := doc.Decision.Choices
	heading := "Choices"
	if len(cands) == 0 {
		cands = doc.Work.Candidates
		heading = "Candidates"
	}
	if len(cands) > 0 {
		fmt.Fprintf(&b, "\n## %s\n\n", heading)
		b.WriteString(candidateTable(cands))
		b.WriteString("\n")
	}

	if len(doc.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range doc.Warnings {
			fmt.Fprintf(&b, "- `%s`: %s\n", w.Step, w.Message)
		}
	}

	if len(doc.Meta.Trace) > 0 {
		b.WriteString("\n## Steps\n\n")
		t := table.NewWriter()
		t.AppendHeader(table.Row{"Step", "Kind", "Outcome", "Attempts", "Cached", "ms"})
		for _, e := range doc.Meta.Trace {
			t.AppendRow(table.Row{e.Step, e.Kind, e.Outcome, e.Attempts, e.Cached, e.DurationMS})
		}
		b.WriteString(t.RenderMarkdown())
		b.WriteString("\n")
	}
	return b.String()
}

func candidateTable(cands []types.Candidate) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Release", "Category", "Score", "Seeders"})
	for i, c := range cands {
		if i == maxRows {
			t.AppendFooter(table.Row{"", fmt.Sprintf("%d more", len(cands)-maxRows)})
			break
		}
		score := ""
		if c.Score != nil {
			score = fmt.Sprintf("%.1f", rank.ScoreOf(c))
		}
		if c.Rejected {
			score = "rejected: " + c.RejectReason
		}
		t.AppendRow(table.Row{i + 1, c.DisplayName(), c.Category, score, c.Seeders})
	}
	return t.RenderMarkdown()
}

// WriteMarkdown saves the report of doc under dir and returns its path.
func WriteMarkdown(dir string, doc *types.Document, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report dir: %w", err)
	}
	id := doc.Meta.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	name := now.UTC().Format("20060102T150405Z")
	if id != "" {
		name += "-" + id
	}
	path := filepath.Join(dir, name+".md")
	if err := os.WriteFile(path, []byte(Markdown(doc, now)), 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}
