package engine

import "sync/atomic"

// Clock hands out transaction sequence numbers. One Clock is shared by an
// engine and its registry, so machine creations and transactions on every
// machine draw from the same counter and never collide in the ledger.
type Clock struct {
	last atomic.Int64
}

// NewClock returns a clock whose first value is 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns a fresh sequence number, greater than any returned before.
func (c *Clock) Next() int64 {
	return c.last.Add(1)
}

// stamp assigns m its next transaction seq. The caller holds m.mu, which
// makes seq order on one machine the order its transactions committed.
func (c *Clock) stamp(m *Machine) int64 {
	m.seq = c.Next()
	return m.seq
}
