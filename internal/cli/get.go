package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/store"
)

// GetResult describes one resource.
type GetResult struct {
	CID       ir.CID   `json:"cid"`
	Kind      string   `json:"kind"`
	Namespace string   `json:"namespace,omitempty"`
	Seq       int64    `json:"seq"`
	Refs      []ir.Ref `json:"refs"`
	Content   any      `json:"content"`
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	var at int64
	cmd := &cobra.Command{
		Use:   "get <cid>",
		Short: "Print a resource",
		Long: `Print the canonical bytes of a resource after verifying them against its CID.

With --at, the resource must already have been visible at that snapshot.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, args[0], at, cmd)
		},
	}
	cmd.Flags().Int64Var(&at, "at", -1, "read as of this snapshot")
	return cmd
}

func runGet(opts *RootOptions, ref string, at int64, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cid, err := ir.ParseCID(ref)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeBadInput, err.Error(), nil)
	}
	return opts.withStore(cmd.Context(), func(st *store.Store) error {
		res, err := st.Get(cmd.Context(), cid, snapshotFlag(at))
		if err != nil {
			return reportFailure(f, "get "+cid.Short(), err)
		}
		out := GetResult{
			CID:       res.CID,
			Kind:      "raw",
			Namespace: res.Namespace,
			Seq:       res.Seq,
			Refs:      res.Refs,
			Content:   string(res.Data),
		}
		if res.Kind == ir.KindJSON {
			out.Kind = "json"
			out.Content = ir.ToAny(res.Value)
		}
		if out.Refs == nil {
			out.Refs = []ir.Ref{}
		}
		return f.Render(out, func(w io.Writer) {
			w.Write(res.Data)
			if len(res.Data) > 0 && res.Data[len(res.Data)-1] != '\n' {
				fmt.Fprintln(w)
			}
		})
	})
}
