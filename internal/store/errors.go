package store

import (
	"errors"
	"fmt"

	"github.com/roach88/prism/internal/ir"
)

// ErrorKind classifies store failures.
type ErrorKind string

const (
	// KindNotFound means no resource with the CID is visible.
	KindNotFound ErrorKind = "NOT_FOUND"

	// KindIntegrityMismatch means stored bytes no longer hash to their CID.
	KindIntegrityMismatch ErrorKind = "INTEGRITY_MISMATCH"

	// KindUnavailable means the backend could not serve the request.
	KindUnavailable ErrorKind = "UNAVAILABLE"
)

// Error is returned by Store and Backend operations.
type Error struct {
	Kind ErrorKind
	CID  ir.CID
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.CID != "" {
		msg = fmt.Sprintf("%s %s", msg, e.CID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return "store: " + msg
}

func (e *Error) Unwrap() error { return e.Err }

func notFound(cid ir.CID) error {
	return &Error{Kind: KindNotFound, CID: cid}
}

func unavailable(op string, err error) error {
	return &Error{Kind: KindUnavailable, Err: fmt.Errorf("%s: %w", op, err)}
}

func isKind(err error, kind ErrorKind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}

// IsNotFound reports whether err is a NotFound store error.
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsIntegrityMismatch reports whether err is an IntegrityMismatch store error.
func IsIntegrityMismatch(err error) bool { return isKind(err, KindIntegrityMismatch) }

// IsUnavailable reports whether err is an Unavailable store error.
func IsUnavailable(err error) bool { return isKind(err, KindUnavailable) }

// IsStoreError reports whether err is any store error.
func IsStoreError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}
