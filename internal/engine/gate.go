package engine

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// outletGate bounds the number of in-flight dispenses on one machine.
//
// It wraps a weighted semaphore, which serves waiters in FIFO order and
// aborts a wait cleanly when ctx is done: a cancelled Acquire holds nothing.
// inUse and peak are bookkeeping for snapshots, metrics and tests; the
// semaphore alone enforces the bound.
type outletGate struct {
	capacity int
	sem      *semaphore.Weighted
	inUse    atomic.Int64
	peak     atomic.Int64
}

func newOutletGate(capacity int) *outletGate {
	return &outletGate{
		capacity: capacity,
		sem:      semaphore.NewWeighted(int64(capacity)),
	}
}

// acquire takes one outlet, blocking until one is free or ctx is done.
func (g *outletGate) acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	n := g.inUse.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return nil
		}
	}
}

// release returns one outlet. Must pair with a successful acquire.
func (g *outletGate) release() {
	g.inUse.Add(-1)
	g.sem.Release(1)
}

// InUse returns the number of outlets currently held.
func (g *outletGate) InUse() int {
	return int(g.inUse.Load())
}

// Peak returns the highest occupancy observed since creation.
func (g *outletGate) Peak() int {
	return int(g.peak.Load())
}
