package engine

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// MachineConfig is the initial configuration of a machine.
type MachineConfig struct {
	// Outlets is the maximum number of simultaneous dispenses. Must be > 0.
	Outlets int

	// Beverages lists the beverage names the machine may serve.
	Beverages []string

	// Stock is the initial quantity per ingredient. Values must be >= 0.
	Stock map[string]decimal.Decimal

	// Thresholds is the low-stock level per ingredient. Values must be >= 0.
	// Ingredients without an entry use a threshold of zero.
	Thresholds map[string]decimal.Decimal
}

// Machine is one coffee machine: its configuration, its stock and the two
// concurrency resources that guard them.
//
// INVARIANTS:
//   - stock values are never negative
//   - at most capacity dispenses hold the gate
//   - seq, stock and thresholds are only touched with mu held
//   - id, capacity and allowed never change after creation
type Machine struct {
	id       string
	created  int64
	capacity int
	allowed  map[string]struct{}
	gate     *outletGate

	mu         sync.Mutex
	seq        int64
	stock      map[string]decimal.Decimal
	thresholds map[string]decimal.Decimal
}

// ID returns the machine id.
func (m *Machine) ID() string { return m.id }

// Capacity returns the number of outlets.
func (m *Machine) Capacity() int { return m.capacity }

// Serves reports whether beverage (already normalized) is allowed on this machine.
func (m *Machine) Serves(beverage string) bool {
	_, ok := m.allowed[beverage]
	return ok
}

// OutletsInUse returns the number of in-flight dispenses.
func (m *Machine) OutletsInUse() int { return m.gate.InUse() }

// PeakOutletsInUse returns the highest number of simultaneous dispenses seen.
func (m *Machine) PeakOutletsInUse() int { return m.gate.Peak() }

// Snapshot returns a consistent copy of the machine's state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// snapshotLocked copies the machine state. Caller must hold mu.
func (m *Machine) snapshotLocked() Snapshot {
	beverages := make([]string, 0, len(m.allowed))
	for b := range m.allowed {
		beverages = append(beverages, b)
	}
	sort.Strings(beverages)

	return Snapshot{
		ID:           m.id,
		Seq:          m.seq,
		Outlets:      m.capacity,
		OutletsInUse: m.gate.InUse(),
		Beverages:    beverages,
		Stock:        copyQuantities(m.stock),
		Thresholds:   copyQuantities(m.thresholds),
	}
}

// threshold returns the low-stock level for ingredient. Caller must hold mu.
func (m *Machine) threshold(ingredient string) decimal.Decimal {
	if t, ok := m.thresholds[ingredient]; ok {
		return t
	}
	return decimal.Zero
}

// Snapshot is a point-in-time copy of a machine. Safe to read and modify.
type Snapshot struct {
	ID           string
	Seq          int64
	Outlets      int
	OutletsInUse int
	Beverages    []string
	Stock        map[string]decimal.Decimal
	Thresholds   map[string]decimal.Decimal
}

// Quantity returns the stocked amount of ingredient, zero if absent.
func (s Snapshot) Quantity(ingredient string) decimal.Decimal {
	return s.Stock[ingredient]
}

// Has reports whether the stock has an entry for ingredient.
func (s Snapshot) Has(ingredient string) bool {
	_, ok := s.Stock[ingredient]
	return ok
}

// StockStrings renders the stock as ingredient -> decimal string, for
// logs, traces and comparisons in tests.
func (s Snapshot) StockStrings() map[string]string {
	out := make(map[string]string, len(s.Stock))
	for k, v := range s.Stock {
		out[k] = v.String()
	}
	return out
}

func copyQuantities(m map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
