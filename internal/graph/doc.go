// Package graph expands a root set into the closure reachable through
// followed references, at a fixed snapshot.
//
// Walks are level-synchronous: every level is fetched with bounded
// parallelism and then processed in CID order, so a walk's result is a
// function of the roots, the policy, and the snapshot alone.
package graph
