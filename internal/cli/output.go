package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/depot/internal/store"
)

// printJSON writes v as indented JSON followed by a newline.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// emit prints v as JSON in --json mode and calls human otherwise.
func (a *app) emit(cmd *cobra.Command, v any, human func(w io.Writer)) error {
	if a.flags.jsonMode {
		return printJSON(cmd.OutOrStdout(), v)
	}
	human(cmd.OutOrStdout())
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// progress returns a reporter that redraws one status line on stderr, or
// nil when stderr is not a terminal or output is JSON.
func (a *app) progress(cmd *cobra.Command, verb string) func(store.Progress) {
	w := cmd.ErrOrStderr()
	if a.flags.jsonMode || !isTerminal(w) {
		return nil
	}
	return func(p store.Progress) {
		fmt.Fprintf(w, "\r\033[K%s %d/%d %s", verb, p.Done, p.Total, p.Digest)
		if p.Done == p.Total {
			fmt.Fprintln(w)
		}
	}
}
