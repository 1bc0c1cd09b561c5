package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/prism/internal/engine"
	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/store"
)

// EmittedOutput is one written catalog entry.
type EmittedOutput struct {
	Role       string `json:"role"`
	Type       string `json:"type"`
	ParamsHash string `json:"params_hash"`
	CID        ir.CID `json:"cid"`
}

// EmitResult describes a materialization.
type EmitResult struct {
	Seq     store.Snapshot  `json:"seq"`
	Outputs []EmittedOutput `json:"outputs"`
	Written int             `json:"written"`
	Entries int             `json:"entries"`
}

// NewEmitCommand creates the emit command.
func NewEmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "emit <definition>",
		Short: "Execute a projection and store its view",
		Long: `Execute a projection and write the result back into the store as a view,
registered under the definition name and the hash of its parameters.

Emission is atomic: either the view and its catalog entry are both
committed, or nothing is. Emitting an unchanged result is a no-op.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmit(opts, args[0], cmd)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runEmit(opts *ExecOptions, ref string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx, stop := interruptible(cmd)
	defer stop()
	cmd.SetContext(ctx)

	return opts.withStore(cmd.Context(), func(st *store.Store) error {
		eng := opts.newEngine(st)
		req, err := opts.request(cmd, eng, ref)
		if err != nil {
			return reportFailure(f, "emit "+ref, err)
		}
		_, res, err := eng.Materialize(ctx, req, engine.ViewRuntime{})
		if err != nil {
			return reportFailure(f, "emit "+ref, err)
		}
		out := EmitResult{Seq: res.Seq, Written: len(res.Written), Entries: res.Entries, Outputs: make([]EmittedOutput, len(res.Outputs))}
		for i, o := range res.Outputs {
			out.Outputs[i] = EmittedOutput{Role: o.Role, Type: o.Key.Type, ParamsHash: o.Key.ParamsHash, CID: o.CID}
		}
		return f.Render(out, func(w io.Writer) {
			for _, o := range out.Outputs {
				fmt.Fprintf(w, "%s  %s\n", o.CID, o.Type)
			}
			if out.Entries == 0 {
				fmt.Fprintln(w, "already current")
			}
		})
	})
}
