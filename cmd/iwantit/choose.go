// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/iwantit/internal/config"
	"github.com/pdiddy/iwantit/internal/decide"
	"github.com/pdiddy/iwantit/pkg/types"
)

// Emit formats of choose.
const (
	emitIndex = "index"
	emitFlag  = "flag"
	emitJSON  = "json"
)

type chooseFlags struct {
	jsonFile    string
	stdin       bool
	selection   string
	emit        string
	interactive bool
	full        bool
}

func newChooseCommand(ctx *commandContext) *cobra.Command {
	var flags chooseFlags
	cmd := &cobra.Command{
		Use:   "choose",
		Short: "List or pick the choices of a needs_choice document",
		Long: `Choose reads a run's output and shows the choices it offered. With
--select (or --interactive on a terminal) it resolves one and prints it
as a 1-based index, as a --choice flag for run --resume, or as the
document with the choice applied.`,
		Args:        cobra.NoArgs,
		Annotations: skipConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChoose(cmd, &flags)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&flags.jsonFile, "json", "", "document file to read")
	fl.BoolVar(&flags.stdin, "stdin", false, "read the document from stdin")
	fl.StringVar(&flags.selection, "select", "", "1-based index or label substring to select")
	fl.StringVar(&flags.emit, "emit", emitIndex, "output on selection: index, flag or json")
	fl.BoolVarP(&flags.interactive, "interactive", "i", false, "prompt for a choice on the terminal")
	fl.BoolVar(&flags.full, "full", false, "keep raw payloads with --emit json")
	cmd.MarkFlagsMutuallyExclusive("json", "stdin")
	return cmd
}

func runChoose(cmd *cobra.Command, flags *chooseFlags) error {
	switch flags.emit {
	case emitIndex, emitFlag, emitJSON:
	default:
		return fmt.Errorf("--emit %q: want index, flag or json", flags.emit)
	}

	doc, err := readChooseInput(cmd, flags)
	if err != nil {
		return err
	}
	options := chooseOptions(doc)
	out := cmd.OutOrStdout()

	token := strings.TrimSpace(flags.selection)
	if token == "" {
		if len(options) == 0 {
			return &exitError{code: ExitFailure, err: errors.New("document has no choices")}
		}
		if !flags.interactive {
			fmt.Fprintln(out, renderTable(candidateHeader, candidateRows(options), 1, 4, 5))
			return nil
		}
		if !stdinIsTerminal(cmd) || flags.stdin {
			return errors.New("--interactive needs a terminal on stdin")
		}
		fmt.Fprintln(cmd.ErrOrStderr(), renderTable(candidateHeader, candidateRows(options), 1, 4, 5))
		token, err = prompt(cmd.InOrStdin(), cmd.ErrOrStderr(), len(options))
		if err != nil {
			return err
		}
	}

	res := decide.Decide(decide.Input{Candidates: options, Choice: token}, decide.Policy{})
	if res.Status != types.StatusSelected {
		return &exitError{code: ExitFailure, err: errors.New(res.Message)}
	}

	switch flags.emit {
	case emitFlag:
		fmt.Fprintf(out, "--choice %d\n", *res.Index)
	case emitJSON:
		res.Step = "choose"
		decide.Apply(doc, res)
		return writeDocument(out, doc, flags.full)
	default:
		fmt.Fprintln(out, *res.Index)
	}
	return nil
}

func readChooseInput(cmd *cobra.Command, flags *chooseFlags) (*types.Document, error) {
	var data []byte
	var err error
	switch {
	case flags.jsonFile != "":
		data, err = os.ReadFile(config.ExpandHome(flags.jsonFile))
	case flags.stdin || !stdinIsTerminal(cmd):
		data, err = io.ReadAll(cmd.InOrStdin())
	default:
		return nil, errors.New("no document: pass --json or pipe one on stdin")
	}
	if err != nil {
		return nil, err
	}
	doc, err := parseJSONInput(data)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// chooseOptions are the choices a document offers: the decision's
// choices, else the work candidates that were not rejected. Numbering
// matches what a resumed run will resolve.
func chooseOptions(doc *types.Document) []types.Candidate {
	if len(doc.Decision.Choices) > 0 {
		return decide.Eligible(doc.Decision.Choices)
	}
	return decide.Eligible(doc.Work.Candidates)
}

// prompt asks until the answer is non-empty. The answer is resolved by the
// caller, so label substrings are accepted too.
func prompt(in io.Reader, out io.Writer, n int) (string, error) {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "Choose 1-%d (or part of a name): ", n)
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", errors.New("no choice made")
		}
		if s := strings.TrimSpace(sc.Text()); s != "" {
			return s, nil
		}
	}
}
