package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/prism/internal/engine"
	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/queryir"
	"github.com/roach88/prism/internal/store"
)

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	var at int64
	cmd := &cobra.Command{
		Use:   "query <predicate>",
		Short: "List resources matching a predicate",
		Long: `List the CIDs of resources matching a predicate, in CID order.

The predicate uses the same JSON form as a definition's query.where, with
literal values only.

Examples:
  prism query '{"namespace": "spec"}'
  prism query '{"and": [{"namespace": "test"}, {"field": "status", "eq": "failing"}]}'
  prism query '{"references": "sha256:..."}' --at 12`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(rootOpts, args[0], at, cmd)
		},
	}
	cmd.Flags().Int64Var(&at, "at", -1, "query as of this snapshot")
	return cmd
}

func runQuery(opts *RootOptions, src string, at int64, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	pred, err := parsePredicate(src)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeBadInput, err.Error(), nil)
	}
	var snap *store.Snapshot
	if at >= 0 {
		snap = engine.At(store.Snapshot(at))
	}
	return opts.withStore(cmd.Context(), func(st *store.Store) error {
		cids, err := opts.newEngine(st).Select(cmd.Context(), pred, snap)
		if err != nil {
			return reportFailure(f, "query", err)
		}
		if cids == nil {
			cids = []ir.CID{}
		}
		return f.Render(cids, func(w io.Writer) {
			for _, c := range cids {
				fmt.Fprintln(w, c)
			}
		})
	})
}

func parsePredicate(src string) (queryir.Predicate, error) {
	var doc any
	if err := yaml.Unmarshal([]byte(src), &doc); err != nil {
		return nil, fmt.Errorf("parse predicate: %w", err)
	}
	v, err := ir.FromAny(normalize(doc))
	if err != nil {
		return nil, fmt.Errorf("parse predicate: %w", err)
	}
	return queryir.Parse(v)
}
