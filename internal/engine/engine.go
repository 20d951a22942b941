package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/brew/internal/catalog"
	"github.com/roach88/brew/internal/metrics"
	"github.com/roach88/brew/internal/notify"
	"github.com/roach88/brew/internal/store"
)

// Journal receives the audit trail of every machine and transaction.
// *store.Store implements it.
type Journal interface {
	WriteMachine(ctx context.Context, m store.MachineRecord) error
	WriteTransaction(ctx context.Context, t store.Transaction) (bool, error)
}

// NotifyMode selects when low-stock notifications fire.
type NotifyMode int

const (
	// NotifyLevel fires on every dispense that leaves an ingredient at or
	// below its threshold.
	NotifyLevel NotifyMode = iota

	// NotifyEdge fires only when a dispense moves an ingredient from above
	// its threshold to at or below it.
	NotifyEdge
)

// String returns "level" or "edge".
func (m NotifyMode) String() string {
	if m == NotifyEdge {
		return "edge"
	}
	return "level"
}

// Preparer runs after a dispense commits, with the machine lock released and
// the outlet still held. It models the physical pour.
type Preparer func(ctx context.Context, machineID, beverage string)

// Engine is the dispense engine.
//
// Thread-safety model:
//   - every method is safe from any goroutine
//   - machines are independent: operations on different machines never
//     share a lock or a gate
//   - per machine, the gate is always acquired before the lock and the lock
//     is never held while waiting on anything else
//
// Engine holds no global state; construct as many as needed.
type Engine struct {
	catalog  Catalog
	registry *Registry
	clock    *Clock
	ids      IDGenerator
	sink     notify.Sink
	journal  Journal
	metrics  *metrics.Metrics
	logger   *slog.Logger
	mode     NotifyMode
	prepare  Preparer
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithSink sets where low-stock notifications go.
//
// Default: a notify.LogSink on the engine logger.
// The sink is called with the machine lock held and must not block.
func WithSink(s notify.Sink) EngineOption {
	return func(e *Engine) { e.sink = s }
}

// WithJournal records machines and transactions to j.
func WithJournal(j Journal) EngineOption {
	return func(e *Engine) { e.journal = j }
}

// WithMetrics records engine activity on m.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithNotifyMode selects level (default) or edge triggered notifications.
func WithNotifyMode(m NotifyMode) EngineOption {
	return func(e *Engine) { e.mode = m }
}

// WithIDGenerator sets the machine id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithPreparer installs a hook run while the outlet is held.
func WithPreparer(p Preparer) EngineOption {
	return func(e *Engine) { e.prepare = p }
}

// New creates an Engine resolving beverages and ingredients against cat.
func New(cat Catalog, opts ...EngineOption) *Engine {
	e := &Engine{
		catalog: cat,
		clock:   NewClock(),
		ids:     UUIDv7Generator{},
		mode:    NotifyLevel,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.sink == nil {
		e.sink = notify.NewLogSink(e.logger)
	}
	e.registry = NewRegistry(cat, e.ids, e.clock)
	return e
}

// Registry returns the engine's machine registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// CreateMachine validates cfg, registers the machine and returns its id.
func (e *Engine) CreateMachine(ctx context.Context, cfg MachineConfig) (string, error) {
	m, err := e.registry.Create(cfg)
	if err != nil {
		return "", err
	}

	snap := m.Snapshot()
	e.logger.Info("machine created",
		"machine", snap.ID,
		"outlets", snap.Outlets,
		"beverages", snap.Beverages,
	)

	if e.journal != nil {
		rec := store.MachineRecord{
			ID:         snap.ID,
			Seq:        snap.Seq,
			Outlets:    snap.Outlets,
			Beverages:  snap.Beverages,
			Stock:      snap.Stock,
			Thresholds: snap.Thresholds,
		}
		if err := e.journal.WriteMachine(context.WithoutCancel(ctx), rec); err != nil {
			e.logger.Error("journal write failed",
				"machine", snap.ID,
				"error", err,
			)
		}
	}
	e.metrics.SetOutletsInUse(snap.ID, 0)
	return snap.ID, nil
}

// Machine returns a snapshot of the machine with the given id.
func (e *Engine) Machine(id string) (Snapshot, error) {
	m, err := e.registry.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return m.Snapshot(), nil
}

// Machines returns snapshots of every machine in creation order.
func (e *Engine) Machines() []Snapshot {
	machines := e.registry.List()
	out := make([]Snapshot, 0, len(machines))
	for _, m := range machines {
		out = append(out, m.Snapshot())
	}
	return out
}

// Dispense prepares one beverage on a machine.
//
// The call blocks until an outlet is free or ctx is done. Validation of every
// recipe line and the debit happen under the machine lock, so either the
// whole recipe is debited or nothing is. On success it returns the low-stock
// notifications the dispense raised (possibly none).
//
// If ctx is done while waiting for an outlet the error wraps ctx.Err() and
// the machine is untouched.
func (e *Engine) Dispense(ctx context.Context, machineID, beverage string) ([]notify.Notification, error) {
	m, err := e.registry.Get(machineID)
	if err != nil {
		return nil, err
	}

	bev, err := e.catalog.ResolveBeverage(beverage)
	if err != nil {
		if catalog.IsUnknownBeverage(err) {
			e.metrics.ObserveDispense(m.id, string(ErrCodeUnknownBeverage))
			return nil, unknownBeverageError(m.id, catalog.Normalize(beverage))
		}
		return nil, fmt.Errorf("dispense %q on machine %s: %w", beverage, m.id, err)
	}
	if !m.Serves(bev.Name) {
		e.metrics.ObserveDispense(m.id, string(ErrCodeBeverageNotOnMachine))
		return nil, beverageNotOnMachineError(m.id, bev.Name)
	}

	start := time.Now()
	if err := m.gate.acquire(ctx); err != nil {
		e.metrics.ObserveDispense(m.id, "canceled")
		return nil, fmt.Errorf("dispense %q on machine %s: waiting for outlet: %w", bev.Name, m.id, err)
	}
	e.metrics.IncOutletsInUse(m.id)
	defer func() {
		m.gate.release()
		e.metrics.DecOutletsInUse(m.id)
	}()
	e.metrics.ObserveOutletWait(m.id, time.Since(start))

	tx, notes, derr := e.commitDispense(m, bev)

	e.record(ctx, tx)
	if derr != nil {
		e.metrics.ObserveDispense(m.id, string(derr.Code))
		e.logger.Debug("dispense rejected",
			"machine", m.id,
			"beverage", bev.Name,
			"code", derr.Code,
			"seq", tx.Seq,
		)
		return nil, derr
	}

	e.metrics.ObserveDispense(m.id, store.OutcomeOK)
	e.logger.Info("beverage prepared",
		"machine", m.id,
		"beverage", bev.Name,
		"seq", tx.Seq,
		"notifications", len(notes),
	)

	if e.prepare != nil {
		e.prepare(ctx, m.id, bev.Name)
	}
	return notes, nil
}

// commitDispense runs the validate, debit and notify phases under the
// machine lock. The caller must hold an outlet.
func (e *Engine) commitDispense(m *Machine, bev catalog.Beverage) (store.Transaction, []notify.Notification, *Error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var shortages []Shortage
	for _, item := range bev.Recipe {
		have, ok := m.stock[item.Ingredient]
		switch {
		case !ok:
			shortages = append(shortages, Shortage{
				Ingredient: item.Ingredient,
				Required:   item.Quantity,
				Available:  decimal.Zero,
				Missing:    true,
			})
		case have.LessThan(item.Quantity):
			shortages = append(shortages, Shortage{
				Ingredient: item.Ingredient,
				Required:   item.Quantity,
				Available:  have,
			})
		}
	}

	seq := e.clock.stamp(m)
	tx := store.Transaction{
		MachineID: m.id,
		Seq:       seq,
		Kind:      store.KindDispense,
		Subject:   bev.Name,
	}

	if len(shortages) > 0 {
		derr := shortageError(m.id, bev.Name, shortages)
		tx.Outcome = string(derr.Code)
		tx.Stock = copyQuantities(m.stock)
		return tx, nil, derr
	}

	var notes []notify.Notification
	for _, item := range bev.Recipe {
		before := m.stock[item.Ingredient]
		after := before.Sub(item.Quantity)
		m.stock[item.Ingredient] = after

		threshold := m.threshold(item.Ingredient)
		if after.GreaterThan(threshold) {
			continue
		}
		if e.mode == NotifyEdge && !before.GreaterThan(threshold) {
			continue
		}
		notes = append(notes, notify.Notification{
			MachineID:  m.id,
			Ingredient: item.Ingredient,
			Remaining:  after,
			Threshold:  threshold,
			Seq:        seq,
		})
	}

	for _, n := range notes {
		e.sink.OnLowStock(n)
		e.metrics.ObserveLowStock(m.id, n.Ingredient)
	}

	tx.Outcome = store.OutcomeOK
	tx.Stock = copyQuantities(m.stock)
	tx.Notifications = notes
	return tx, notes, nil
}

// AddIngredient increases the stock of one ingredient on a machine and
// returns the resulting snapshot. quantity must be positive.
//
// Restocks take only the machine lock, never an outlet, so they are not
// delayed by a full gate.
func (e *Engine) AddIngredient(ctx context.Context, machineID, ingredient string, quantity decimal.Decimal) (Snapshot, error) {
	name := catalog.Normalize(ingredient)
	if !quantity.IsPositive() {
		return Snapshot{}, invalidQuantityError(machineID, name, quantity, "positive")
	}

	m, err := e.registry.Get(machineID)
	if err != nil {
		return Snapshot{}, err
	}
	if !e.catalog.IngredientExists(name) {
		return Snapshot{}, unknownIngredientError(m.id, name)
	}

	m.mu.Lock()
	m.stock[name] = m.stock[name].Add(quantity)
	e.clock.stamp(m)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	e.record(ctx, store.Transaction{
		MachineID: m.id,
		Seq:       snap.Seq,
		Kind:      store.KindRestock,
		Subject:   name,
		Quantity:  quantity,
		Outcome:   store.OutcomeOK,
		Stock:     snap.Stock,
	})
	e.metrics.ObserveRestock(m.id, name)
	e.logger.Info("ingredient added",
		"machine", m.id,
		"ingredient", name,
		"quantity", quantity.String(),
		"stock", snap.Quantity(name).String(),
		"seq", snap.Seq,
	)
	return snap, nil
}

// record hands tx to the journal. Failures are logged and swallowed: the
// stock change has already committed.
func (e *Engine) record(ctx context.Context, tx store.Transaction) {
	if e.journal == nil {
		return
	}
	if _, err := e.journal.WriteTransaction(context.WithoutCancel(ctx), tx); err != nil {
		e.logger.Error("journal write failed",
			"machine", tx.MachineID,
			"seq", tx.Seq,
			"kind", tx.Kind,
			"error", err,
		)
	}
}
