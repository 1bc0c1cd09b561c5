package queryir

import "github.com/roach88/prism/internal/ir"

// Predicate is a selection criterion over resources.
//
// This is a sealed interface: only types in this package implement it, so
// backend compilers and the in-memory matcher can switch exhaustively.
//
// Predicate types:
//   - Namespace: top-level "namespace" field equals a value
//   - FieldEquals, FieldPrefix, FieldExists: content tests on a dotted path
//   - CIDIn: the resource is one of a set of CIDs
//   - References, ReferencedBy: graph adjacency
//   - And, Or, Not: composition
type Predicate interface {
	predicateNode()
}

// Operand is either a literal value or a reference to a bound parameter.
// Exactly one of Lit and Param is set.
type Operand struct {
	Lit   ir.IRValue
	Param string
}

// Lit builds a literal operand.
func Lit(v ir.IRValue) Operand { return Operand{Lit: v} }

// Param builds a parameter reference operand.
func Param(name string) Operand { return Operand{Param: name} }

// IsParam reports whether the operand still refers to an unbound parameter.
func (o Operand) IsParam() bool { return o.Param != "" }

// Namespace matches resources whose top-level "namespace" equals Name.
type Namespace struct {
	Name Operand
}

func (Namespace) predicateNode() {}

// FieldEquals matches resources where the value at Field equals Value.
//
// Example:
//
//	FieldEquals{Field: "status", Value: Lit(ir.IRString("passing"))}
type FieldEquals struct {
	Field string
	Value Operand
}

func (FieldEquals) predicateNode() {}

// FieldPrefix matches resources where the string at Field starts with Prefix.
type FieldPrefix struct {
	Field  string
	Prefix Operand
}

func (FieldPrefix) predicateNode() {}

// FieldExists matches resources that have any value at Field.
type FieldExists struct {
	Field string
}

func (FieldExists) predicateNode() {}

// CIDIn matches resources whose CID is in the set. A parameter operand may
// bind to a single CID or to a list of CIDs.
type CIDIn struct {
	CIDs []Operand
}

func (CIDIn) predicateNode() {}

// References matches resources that hold a reference to Target.
type References struct {
	Target Operand
}

func (References) predicateNode() {}

// ReferencedBy matches resources that Source holds a reference to.
type ReferencedBy struct {
	Source Operand
}

func (ReferencedBy) predicateNode() {}

// And matches when every predicate matches. An empty And matches everything.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or matches when at least one predicate matches. An empty Or matches nothing.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Not inverts a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// All returns a predicate that matches every resource.
func All() Predicate { return And{} }
