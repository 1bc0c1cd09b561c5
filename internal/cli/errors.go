package cli

import (
	"errors"
	"fmt"

	"github.com/roach88/prism/internal/conform"
	"github.com/roach88/prism/internal/harness"
	"github.com/roach88/prism/internal/projection"
	"github.com/roach88/prism/internal/store"
)

// reportFailure outputs a store, engine or definition error under its own
// code and returns the matching ExitError. An unavailable store is a
// command error; everything else is a failure of the request itself.
func reportFailure(f *OutputFormatter, op string, err error) error {
	code := ErrCodeGeneric
	if codes := harness.ErrorCodes(err); len(codes) > 0 {
		code = codes[0]
	}
	exit := ExitFailure
	if store.IsUnavailable(err) {
		exit = ExitCommandError
	}
	msg := fmt.Sprintf("%s: %v", op, err)
	if ferr := f.Error(code, msg, failureDetails(err)); ferr != nil {
		return ferr
	}
	return WrapExitError(exit, op, err)
}

// failureDetails lists the individual findings behind err, if any.
func failureDetails(err error) interface{} {
	var pe *conform.ProjectionError
	if errors.As(err, &pe) {
		return pe.Violations
	}
	var ie *projection.InvalidError
	if errors.As(err, &ie) {
		return ie.Errors
	}
	return nil
}
