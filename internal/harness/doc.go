// Package harness runs YAML dispense scenarios against a real engine.
//
// A scenario names a CUE fixture (or uses the built-in one), then lists
// steps: single dispenses, restocks, and concurrent groups whose requests
// race for the machine's outlets. Each step may carry an expect clause;
// assertions at the end check final stock, notification counts and the
// journal.
//
// Sequential steps are deterministic, so their trace can be compared to a
// golden file with RunWithGolden. Concurrent groups contribute only their
// outcome counts to the trace, which are deterministic whenever the scenario
// is well posed (for example two requests racing for stock that covers one).
//
// Each run gets a fresh engine and an in-memory SQLite journal.
package harness
