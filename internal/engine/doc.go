// Package engine executes projection definitions.
//
// An execution runs a fixed pipeline against one store snapshot:
//
//  1. Parameters are resolved against the definition's declarations
//  2. The query selects the root set (bound, pushed to the store, then
//     re-checked in memory) and its cardinality is checked
//  3. The traversal expands the roots into a graph, classifying every node
//     into roles
//  4. Conformance checks the graph; all violations are reported together
//  5. Nested definitions run for each member of roles that declare one
//  6. The transform pipeline derives the container's fields
//
// The result is a Container. Executions never write; Emit is the only
// write path and commits all outputs with their catalog entries in one
// atomic batch.
//
// DETERMINISM:
//
// The same definition, parameters and snapshot produce a byte-identical
// container. Traversal levels are fetched concurrently but merged in CID
// order; every set is sorted before it is observed; execution IDs are
// used for log and span correlation only and never enter a container.
//
// COMPOSITION:
//
// Nested compositions share their parent's snapshot and node budget.
// Sequence emits each step before the next starts and passes the emitted
// CIDs forward. Parallel runs isolated executions at one pinned snapshot
// and reports the lowest-index failure.
package engine
