package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/queryir"
	"github.com/roach88/prism/internal/store"
)

// RefsResult lists the edges of one resource.
type RefsResult struct {
	CID      ir.CID   `json:"cid"`
	Outbound []ir.Ref `json:"outbound"`
	Inbound  []ir.CID `json:"inbound,omitempty"`
}

// NewRefsCommand creates the refs command.
func NewRefsCommand(rootOpts *RootOptions) *cobra.Command {
	var inbound bool
	cmd := &cobra.Command{
		Use:   "refs <cid>",
		Short: "List the references of a resource",
		Long: `List the CIDs a resource references, with the field each appears at.

With --inbound, also list the resources that reference it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefs(rootOpts, args[0], inbound, cmd)
		},
	}
	cmd.Flags().BoolVar(&inbound, "inbound", false, "also list resources referencing this one")
	return cmd
}

func runRefs(opts *RootOptions, ref string, inbound bool, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cid, err := ir.ParseCID(ref)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeBadInput, err.Error(), nil)
	}
	return opts.withStore(cmd.Context(), func(st *store.Store) error {
		out := RefsResult{CID: cid}
		out.Outbound, err = st.ListReferences(cmd.Context(), cid)
		if err != nil {
			return reportFailure(f, "refs "+cid.Short(), err)
		}
		if inbound {
			pred := queryir.References{Target: queryir.Lit(ir.IRString(cid))}
			out.Inbound, err = opts.newEngine(st).Select(cmd.Context(), pred, nil)
			if err != nil {
				return reportFailure(f, "inbound "+cid.Short(), err)
			}
		}
		return f.Render(out, func(w io.Writer) {
			for _, r := range out.Outbound {
				fmt.Fprintf(w, "-> %s %s\n", r.To, r.Field)
			}
			for _, c := range out.Inbound {
				fmt.Fprintf(w, "<- %s\n", c)
			}
		})
	})
}
