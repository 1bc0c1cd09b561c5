package engine

import (
	"slices"

	"github.com/roach88/prism/internal/ir"
)

// compositionTrace tracks the chain of definitions executing inside one
// another, outermost first, to prevent infinite nesting.
//
// A cycle occurs when a definition nests, directly or through others, a
// definition already on the chain:
//
//	suite → case → suite   ← CYCLE DETECTED
//
// Each branch of a composition owns its trace value; entering a child
// returns a new slice, so sibling branches never see each other's entries.
type compositionTrace []ir.CID

// wouldCycle reports whether entering cid would re-enter a definition
// already on the trace.
func (t compositionTrace) wouldCycle(cid ir.CID) bool {
	return slices.Contains(t, cid)
}

// enter returns the trace extended by cid, or a *CompositionError when
// that would close a cycle.
func (t compositionTrace) enter(cid ir.CID, mode string, step int) (compositionTrace, error) {
	next := append(slices.Clone(t), cid)
	if t.wouldCycle(cid) {
		return nil, &CompositionError{Trace: next, Mode: mode, Step: step, Err: ErrCompositionCycle}
	}
	return next, nil
}

// cids returns a copy of the trace for error reporting.
func (t compositionTrace) cids() []ir.CID {
	return slices.Clone(t)
}
