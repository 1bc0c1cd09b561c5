package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/prism/internal/engine"
	"github.com/roach88/prism/internal/projection"
	"github.com/roach88/prism/internal/store"
)

// DefineOptions holds flags for the define command.
type DefineOptions struct {
	*RootOptions
	Bootstrap bool
}

// NewDefineCommand creates the define command.
func NewDefineCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DefineOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "define <path>",
		Short: "Validate and store projection definitions",
		Long: `Validate projection definitions and store the valid ones as resources.

Each stored definition is registered under its name, so later commands can
refer to it by name or by CID. Invalid definitions are reported and not
stored; the others are still stored.

Examples:
  prism define ./projections
  prism define spec-suite.yaml --format json
  prism define --bootstrap ./projections`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDefine(opts, args[0], cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.Bootstrap, "bootstrap", false, "also store the definition that describes definitions")
	return cmd
}

func runDefine(opts *DefineOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	sources, err := loadSources(f, path)
	if err != nil {
		return err
	}
	return opts.withStore(cmd.Context(), func(st *store.Store) error {
		eng := opts.newEngine(st)
		ctx := cmd.Context()

		var reports []DefinitionReport
		if opts.Bootstrap {
			def, err := eng.Bootstrap(ctx)
			if err != nil {
				return reportFailure(f, "bootstrap", err)
			}
			reports = append(reports, DefinitionReport{Origin: "builtin", Name: def.Name, CID: def.CID})
		}

		for _, src := range sources {
			def, err := eng.DefineValue(ctx, src.Canonical.Value)
			if err != nil {
				report := DefinitionReport{Origin: src.Origin}
				var ie *projection.InvalidError
				switch {
				case errors.As(err, &ie):
					report.Name = ie.Name
					report.Errors = ie.Errors
				case store.IsUnavailable(err):
					return reportFailure(f, "define "+src.Origin, err)
				default:
					report.Errors = []projection.ValidationError{{Field: "$", Message: err.Error(), Code: ErrCodeGeneric}}
				}
				reports = append(reports, report)
				continue
			}
			f.VerboseLog("stored %s as %s under %s", def.Name, def.CID, engine.DefinitionCatalogType)
			reports = append(reports, DefinitionReport{Origin: src.Origin, Name: def.Name, CID: def.CID})
		}
		return outputReports(f, reports, fmt.Sprintf("stored in %s store", opts.config.Backend))
	})
}
