// Package store provides a SQLite-backed cache of generated k-loop kernels.
//
// The cache holds three tables:
//   - Runs: one row per CLI invocation that generated kernels
//   - Kernels: generated programs keyed by kernel ID
//   - Verdicts: interpreter results per kernel and trip count
//
// # Identity
//
// Kernel IDs are content-addressed (ir.KernelID): the strategy hash, the
// generator version and the generation options. Writing a kernel that is
// already cached is a no-op, so regenerating a strategy is idempotent.
//
// # Ordering
//
//   - All ordering uses seq INTEGER (logical clock), never timestamps
//   - All reads are compiled by querysql from queryir queries, so every
//     one carries a stable ORDER BY (seq, then id COLLATE BINARY)
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
