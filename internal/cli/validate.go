package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/projection"
)

// DefinitionReport is the outcome of checking one definition source.
type DefinitionReport struct {
	Origin string                       `json:"origin"`
	Name   string                       `json:"name,omitempty"`
	CID    ir.CID                       `json:"cid,omitempty"`
	Errors []projection.ValidationError `json:"errors,omitempty"`
}

// Valid reports whether the definition passed every check.
func (r DefinitionReport) Valid() bool { return len(r.Errors) == 0 }

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Check projection definitions without storing them",
		Long: `Check projection definitions against the meta schema and the semantic
rules (role references, parameter declarations, transforms) without
touching the store.

path may be a .json, .yaml, .yml or .cue file, or a directory of them.

Exit codes:
  0 - All definitions are valid
  1 - One or more definitions are invalid
  2 - Command error (path not found, unreadable source, etc.)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	sources, err := loadSources(f, path)
	if err != nil {
		return err
	}
	reports := make([]DefinitionReport, len(sources))
	for i, src := range sources {
		reports[i] = checkSource(src)
		f.VerboseLog("checked %s", src.Origin)
	}
	return outputReports(f, reports, "valid")
}

// loadSources reads definitions from path, reporting load failures.
func loadSources(f *OutputFormatter, path string) ([]projection.Source, error) {
	sources, err := projection.LoadPath(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("path not found: %s", path), nil)
		}
		return nil, f.Fail(ExitCommandError, ErrCodeLoadFailed, err.Error(), nil)
	}
	if len(sources) == 0 {
		return nil, f.Fail(ExitCommandError, ErrCodeNoFiles, fmt.Sprintf("no definitions found in %s", path), nil)
	}
	return sources, nil
}

func checkSource(src projection.Source) DefinitionReport {
	report := DefinitionReport{Origin: src.Origin}
	def, err := projection.Compile(src.Canonical)
	if err != nil {
		var ie *projection.InvalidError
		if errors.As(err, &ie) {
			report.Name = ie.Name
			report.Errors = ie.Errors
			return report
		}
		report.Errors = []projection.ValidationError{{Field: "$", Message: err.Error(), Code: ErrCodeGeneric}}
		return report
	}
	report.Name = def.Name
	report.CID = def.CID
	return report
}

// outputReports prints per-definition results and fails when any is invalid.
func outputReports(f *OutputFormatter, reports []DefinitionReport, verb string) error {
	invalid := 0
	for _, r := range reports {
		if !r.Valid() {
			invalid++
		}
	}

	if f.Format == "json" {
		if invalid > 0 {
			if err := f.Error(ErrCodeInvalid, fmt.Sprintf("%d of %d definition(s) invalid", invalid, len(reports)), reports); err != nil {
				return err
			}
		} else if err := f.Render(reports, nil); err != nil {
			return err
		}
	} else {
		w := f.Writer
		for _, r := range reports {
			printReport(w, r)
		}
		fmt.Fprintln(w)
		if invalid == 0 {
			fmt.Fprintf(w, "%d definition(s) %s\n", len(reports), verb)
		} else {
			fmt.Fprintf(w, "%d of %d definition(s) invalid\n", invalid, len(reports))
		}
	}

	if invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d definition(s) invalid", invalid))
	}
	return nil
}

func printReport(w io.Writer, r DefinitionReport) {
	if r.Valid() {
		fmt.Fprintf(w, "✓ %s  %s  %s\n", r.Name, r.CID, r.Origin)
		return
	}
	label := r.Name
	if label == "" {
		label = "<unnamed>"
	}
	fmt.Fprintf(w, "✗ %s  %s\n", label, r.Origin)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e.Error())
	}
}
