// Package queryir provides the selection criteria language used by
// projections to pick root resources and classify graph nodes.
//
// ARCHITECTURE:
//
// Predicates are the abstraction boundary between projection definitions and
// store backends:
//
//	[definition JSON] → Parse → [Predicate] → Bind(params) → querysql (SQLite)
//	                                                       → Match (memory, fs, post-filter)
//
// A backend may answer a query with a superset of the matching resources;
// the engine post-filters candidates with Match, so Match is the reference
// semantics every backend must agree with.
//
// SEALED INTERFACE:
//
// Predicate uses the marker method pattern. Only types in this package
// implement it, which lets compilers switch exhaustively:
//
//	switch p := pred.(type) {
//	case FieldEquals:
//	    // field test
//	case And:
//	    // recurse
//	}
//
// PARAMETERS:
//
// Operands may be parameter references ("$name" in JSON). Bind replaces them
// with bound values before evaluation. Match and the SQL compiler reject
// unbound parameters.
//
// All literal values use ir.IRValue types, so there are no floats and no
// nulls in criteria.
package queryir
