package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/roach88/brew/internal/catalog"
)

// Catalog is what the engine needs from the beverage/ingredient catalog.
// *catalog.Catalog implements it.
type Catalog interface {
	ResolveBeverage(name string) (catalog.Beverage, error)
	IngredientExists(name string) bool
}

// Registry owns the mapping from machine id to Machine.
//
// Thread-safety: all methods are safe for concurrent use. The registry lock
// only guards the map; it is never held while a machine's gate or lock is.
type Registry struct {
	mu       sync.RWMutex
	machines map[string]*Machine
	catalog  Catalog
	ids      IDGenerator
	clock    *Clock
}

// NewRegistry creates an empty registry validating against cat.
func NewRegistry(cat Catalog, ids IDGenerator, clock *Clock) *Registry {
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	if clock == nil {
		clock = NewClock()
	}
	return &Registry{
		machines: make(map[string]*Machine),
		catalog:  cat,
		ids:      ids,
		clock:    clock,
	}
}

// Create validates cfg and registers a new machine.
//
// Validation order: outlet capacity, then ingredient names, then quantities.
// Ingredient names are checked in sorted order so the reported ingredient
// is deterministic.
func (r *Registry) Create(cfg MachineConfig) (*Machine, error) {
	if cfg.Outlets <= 0 {
		return nil, &Error{
			Code:    ErrCodeInvalidCapacity,
			Message: fmt.Sprintf("outlet capacity must be positive, got %d", cfg.Outlets),
		}
	}

	stock, err := r.normalizeQuantities(cfg.Stock, "stock")
	if err != nil {
		return nil, err
	}
	thresholds, err := r.normalizeQuantities(cfg.Thresholds, "threshold")
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]struct{}, len(cfg.Beverages))
	for _, b := range cfg.Beverages {
		allowed[catalog.Normalize(b)] = struct{}{}
	}

	id := r.ids.Generate()
	seq := r.clock.Next()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.machines[id]; exists {
		return nil, fmt.Errorf("create machine: generated id %q already in use", id)
	}

	m := &Machine{
		id:         id,
		created:    seq,
		seq:        seq,
		capacity:   cfg.Outlets,
		allowed:    allowed,
		gate:       newOutletGate(cfg.Outlets),
		stock:      stock,
		thresholds: thresholds,
	}
	r.machines[id] = m
	return m, nil
}

// normalizeQuantities checks names against the catalog and values for
// non-negativity, returning a copy keyed by normalized name. Two names that
// normalize to the same ingredient are rejected.
func (r *Registry) normalizeQuantities(in map[string]decimal.Decimal, what string) (map[string]decimal.Decimal, error) {
	names := make([]string, 0, len(in))
	for name := range in {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !r.catalog.IngredientExists(name) {
			return nil, unknownIngredientError("", catalog.Normalize(name))
		}
	}

	out := make(map[string]decimal.Decimal, len(in))
	for _, name := range names {
		q := in[name]
		key := catalog.Normalize(name)
		if q.IsNegative() {
			return nil, invalidQuantityError("", key, q, "non-negative in "+what)
		}
		if _, dup := out[key]; dup {
			return nil, invalidQuantityError("", key, q, "listed once in "+what)
		}
		out[key] = q
	}
	return out, nil
}

// Get returns the machine with the given id.
func (r *Registry) Get(id string) (*Machine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.machines[id]
	if !ok {
		return nil, unknownMachineError(id)
	}
	return m, nil
}

// List returns every machine ordered by creation.
func (r *Registry) List() []*Machine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Machine, 0, len(r.machines))
	for _, m := range r.machines {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].created < out[j].created })
	return out
}

// Len returns the number of machines.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.machines)
}
