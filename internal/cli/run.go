package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/store"
)

// RunResult is an executed container.
type RunResult struct {
	CID       ir.CID `json:"cid"`
	Container any    `json:"container"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "run <definition>",
		Short: "Execute a projection and print its container",
		Long: `Execute a stored projection definition and print the resulting container
as canonical JSON. Nothing is written to the store.

definition is a registered name or a definition CID.

Examples:
  prism run spec-suite -p spec=sha256:...
  prism run spec-suite --params '{spec: "sha256:..."}' --at 12`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(opts, args[0], cmd)
		},
	}
	opts.bind(cmd)
	return cmd
}

// interruptible cancels the command context on SIGINT or SIGTERM.
func interruptible(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runExecute(opts *ExecOptions, ref string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx, stop := interruptible(cmd)
	defer stop()
	cmd.SetContext(ctx)

	return opts.withStore(cmd.Context(), func(st *store.Store) error {
		eng := opts.newEngine(st)
		req, err := opts.request(cmd, eng, ref)
		if err != nil {
			return reportFailure(f, "run "+ref, err)
		}
		c, err := eng.Execute(ctx, req)
		if err != nil {
			return reportFailure(f, "run "+ref, err)
		}
		canon, err := c.Canonical()
		if err != nil {
			return reportFailure(f, "encode container", err)
		}
		out := RunResult{CID: ir.DeriveCID(canon), Container: ir.ToAny(canon.Value)}
		opts.Logger().Debug("executed", "definition", ref, "roots", len(c.Roots), "container", out.CID)
		return f.Render(out, func(w io.Writer) {
			w.Write(canon.Bytes)
			fmt.Fprintln(w)
		})
	})
}
