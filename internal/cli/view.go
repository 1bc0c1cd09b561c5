package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/prism/internal/engine"
	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/projection"
	"github.com/roach88/prism/internal/store"
)

// ViewOutput is a materialized view as returned to the caller.
type ViewOutput struct {
	CID       ir.CID         `json:"cid"`
	Seq       int64          `json:"seq"`
	Snapshot  store.Snapshot `json:"snapshot"`
	Refreshed bool           `json:"refreshed"`
	Content   any            `json:"content"`
}

// NewViewCommand creates the view command.
func NewViewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "view <definition>",
		Short: "Print the materialized view of a projection",
		Long: `Print the stored view for a definition and parameter set. A missing view
is materialized first; a definition with refresh "on-read" is
re-materialized when the store has changed since the view was written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(opts, args[0], cmd)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runView(opts *ExecOptions, ref string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx, stop := interruptible(cmd)
	defer stop()
	cmd.SetContext(ctx)

	return opts.withStore(cmd.Context(), func(st *store.Store) error {
		eng := opts.newEngine(st)
		req, err := opts.request(cmd, eng, ref)
		if err != nil {
			return reportFailure(f, "view "+ref, err)
		}
		v, err := eng.View(ctx, req)
		if err != nil {
			return reportFailure(f, "view "+ref, err)
		}
		out := ViewOutput{
			CID:       v.Entry.CID,
			Seq:       v.Entry.Seq,
			Snapshot:  v.Entry.Snapshot,
			Refreshed: v.Refreshed,
			Content:   ir.ToAny(v.Resource.Value),
		}
		opts.Logger().Debug("view", "definition", ref, "cid", out.CID, "refreshed", out.Refreshed)
		return f.Render(out, func(w io.Writer) {
			w.Write(v.Resource.Data)
			fmt.Fprintln(w)
		})
	})
}

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	ExecOptions
	Role string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{ExecOptions: ExecOptions{RootOptions: rootOpts}}
	cmd := &cobra.Command{
		Use:   "history <definition>",
		Short: "List every emission of a projection, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Object, "params", "", "parameters as a JSON or YAML object")
	cmd.Flags().StringVar(&opts.Role, "role", engine.ViewRole, "output role")
	return cmd
}

func runHistory(opts *HistoryOptions, ref string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	return opts.withStore(cmd.Context(), func(st *store.Store) error {
		eng := opts.newEngine(st)
		def, err := eng.Resolve(cmd.Context(), ref)
		if err != nil {
			return reportFailure(f, "history "+ref, err)
		}
		given, err := parseParams(opts.Object, opts.Params)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeBadInput, err.Error(), nil)
		}
		params, err := projection.ResolveParams(def, given)
		if err != nil {
			return reportFailure(f, "history "+ref, err)
		}
		hash, err := ir.ParamsHash(params)
		if err != nil {
			return reportFailure(f, "history "+ref, err)
		}
		key := store.CatalogKey{Type: engine.CatalogType(def.Name, opts.Role), ParamsHash: hash}
		entries, err := st.History(cmd.Context(), key)
		if err != nil {
			return reportFailure(f, "history "+ref, err)
		}
		if entries == nil {
			entries = []store.CatalogEntry{}
		}
		return f.Render(entries, func(w io.Writer) {
			for _, e := range entries {
				fmt.Fprintf(w, "%d  %s  snapshot=%d\n", e.Seq, e.CID, e.Snapshot)
			}
		})
	})
}
