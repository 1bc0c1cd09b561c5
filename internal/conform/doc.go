// Package conform checks a walked graph against a projection definition.
//
// Every rule is evaluated and every failure recorded; a Report with any
// violation becomes a single *ProjectionError. Conditions a definition
// tolerates, such as an empty optional role, are kept as warnings.
package conform
