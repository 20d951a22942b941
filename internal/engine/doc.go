// Package engine implements the coffee machine dispense engine.
//
// The engine serves many concurrent callers against a set of machines. Each
// machine owns exactly two concurrency resources:
//
//   - an outlet gate: a counting semaphore sized to the machine's outlet
//     capacity, bounding how many dispenses are in flight at once
//   - a mutation lock: a mutex guarding the machine's stock, shared by
//     dispense and restock
//
// ARCHITECTURE:
//
// Dispense Flow:
//  1. Resolve machine and beverage (no resources held)
//  2. Acquire one outlet slot (blocks, honours ctx cancellation, FIFO)
//  3. Acquire the mutation lock
//  4. Validate every recipe line against stock (read-only)
//  5. Debit every recipe line
//  6. Raise low-stock notifications on the post-debit values
//  7. Release the lock; journal the transaction; run the Preparer hook
//  8. Release the outlet slot
//
// Steps 4 to 6 are one critical section with no yield points, so a
// dispense either debits every ingredient or none. Failures never need
// rollback code: validation finishes before the first debit.
//
// CRITICAL PATTERNS:
//
// Lock Ordering:
// A transaction acquires at most the gate and then the lock of one machine
// and releases them in reverse order. No code path holds resources of two
// machines, so there is no cross-machine deadlock.
//
// Logical Clock:
// Every transaction that reaches the critical section is stamped with a
// monotonic seq from the engine Clock while the lock is held, so per-machine
// seq order equals commit order. NEVER use wall-clock timestamps for
// ordering.
//
// Explicit Construction:
// There are no package-level registries. A Catalog, an Engine (which owns
// its Registry) and any sinks are built by the caller and injected.
package engine
