// Package store provides a SQLite-backed ledger of dispense engine activity.
//
// The ledger is an append-only audit log:
//   - Machines: one row per created machine with its initial configuration
//   - Transactions: every dispense (committed or rejected during validation)
//     and every restock, with the machine's stock after the transaction
//   - Notifications: low-stock notifications raised by a transaction
//
// The ledger is never read back to rebuild machine state. Machines live in
// memory for the lifetime of the process; the ledger only records what they
// did.
//
// # Ordering
//
// Transactions are keyed by (machine_id, seq), where seq comes from the
// engine's logical clock and is stamped inside the machine's critical
// section. All reads ORDER BY seq so history is returned in commit order.
//
// # Quantities
//
// Quantities are stored as decimal TEXT, never REAL, so values round-trip
// exactly.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
