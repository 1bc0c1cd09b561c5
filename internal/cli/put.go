package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/store"
)

// PutResult is one stored input.
type PutResult struct {
	Source string `json:"source"`
	CID    ir.CID `json:"cid"`
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put [file...]",
		Short: "Store resources and print their CIDs",
		Long: `Store each file as a resource and print its CID.

JSON objects and arrays are canonicalized first, so formatting differences
do not change the CID. Anything else is stored byte for byte. With no
arguments, or "-", put reads standard input.

Examples:
  prism put spec.json test-1.json
  echo '{"namespace":"spec","title":"Login"}' | prism put`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"-"}
			}
			return runPut(rootOpts, args, cmd)
		},
	}
}

func runPut(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	return opts.withStore(cmd.Context(), func(st *store.Store) error {
		results := make([]PutResult, 0, len(paths))
		for _, path := range paths {
			data, err := readInput(cmd, path)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("read %s: %v", path, err), nil)
			}
			cid, err := st.Put(cmd.Context(), data)
			if err != nil {
				return reportFailure(f, "put "+path, err)
			}
			f.VerboseLog("stored %s as %s", path, cid)
			results = append(results, PutResult{Source: path, CID: cid})
		}
		return f.Render(results, func(w io.Writer) {
			for _, r := range results {
				fmt.Fprintln(w, r.CID)
			}
		})
	})
}
