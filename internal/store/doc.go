// Package store provides the content-addressed resource store.
//
// The store is append-only: resources are written once under their CID and
// never modified or deleted. A Store wraps a Backend:
//   - MemoryBackend: in-process maps, exact query evaluation, write counters
//   - SQLiteBackend: SQLite with WAL, queries compiled by querysql
//   - FSBackend: one file per object, published by an atomically replaced index
//
// # Invariants
//
// Identity: CID = SHA-256 over a domain prefix and the canonical bytes.
// Retrieval re-derives the CID and fails with IntegrityMismatch on any
// difference.
//
// Idempotency: writing content that already exists is a no-op. Concurrent
// writes of the same content produce one physical write.
//
// Atomicity: a Batch becomes visible all at once under one sequence number
// or not at all.
//
// Snapshots: every commit that makes something new visible increments the
// snapshot marker. Reads as of a marker ignore later commits.
//
// Determinism: every list result is ordered by CID (COLLATE BINARY in SQL).
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait on lock contention
//   - foreign_keys=ON: Enforce referential integrity
package store
