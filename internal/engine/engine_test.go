package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/brew/internal/catalog"
	"github.com/roach88/brew/internal/metrics"
	"github.com/roach88/brew/internal/notify"
	"github.com/roach88/brew/internal/store"
	"github.com/roach88/brew/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEngine builds an engine on the standard catalog with a recorder sink
// and machine ids machine-1, machine-2, ...
func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *notify.Recorder) {
	t.Helper()
	rec := notify.NewRecorder()
	base := []EngineOption{
		WithSink(rec),
		WithLogger(quietLogger()),
		WithIDGenerator(NewSequenceGenerator("machine")),
	}
	return New(testutil.NewCatalog(t), append(base, opts...)...), rec
}

func createMachine(t *testing.T, e *Engine, cfg MachineConfig) string {
	t.Helper()
	id, err := e.CreateMachine(context.Background(), cfg)
	require.NoError(t, err)
	return id
}

func gingerTeaMachine() MachineConfig {
	return MachineConfig{
		Outlets:    3,
		Beverages:  []string{"ginger tea"},
		Stock:      testutil.Quantities(map[string]int64{"water": 200, "milk": 90, "tea": 30, "ginger": 30}),
		Thresholds: testutil.Quantities(map[string]int64{"water": 20, "milk": 20, "ginger": 10, "tea": 10}),
	}
}

func TestEngine_GingerTeaScenario(t *testing.T) {
	ctx := context.Background()
	e, rec := newTestEngine(t)
	id := createMachine(t, e, gingerTeaMachine())

	_, err := e.Dispense(ctx, id, "ginger tea")
	require.Error(t, err)
	assert.Equal(t, ErrCodeIngredientUnavailable, CodeOf(err))
	var ee *Error
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "sugar", ee.Ingredient)
	assert.Contains(t, err.Error(), "ginger tea cannot be prepared because sugar is not available")

	snap, err := e.Machine(id)
	require.NoError(t, err)
	assert.False(t, snap.Has("sugar"))
	assert.Equal(t, "200", snap.Quantity("water").String(), "failed dispense must not debit")

	_, err = e.AddIngredient(ctx, id, "sugar", testutil.Qty(50))
	require.NoError(t, err)

	notes, err := e.Dispense(ctx, id, "ginger tea")
	require.NoError(t, err)
	assert.Empty(t, notes)

	snap, err = e.Machine(id)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"water": "150", "milk": "80", "tea": "20", "ginger": "25", "sugar": "40",
	}, snap.StockStrings())

	notes, err = e.Dispense(ctx, id, "ginger tea")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "tea", notes[0].Ingredient)
	assert.Equal(t, "10", notes[0].Remaining.String())
	assert.Equal(t, "10", notes[0].Threshold.String())
	assert.Equal(t, id, notes[0].MachineID)

	snap, err = e.Machine(id)
	require.NoError(t, err)
	assert.Equal(t, "20", snap.Quantity("ginger").String())
	assert.Equal(t, []string{"tea"}, rec.Ingredients())
}

func TestEngine_Atomicity(t *testing.T) {
	cat := catalog.New()
	for _, name := range []string{"A", "B"} {
		_, err := cat.RegisterIngredient(name)
		require.NoError(t, err)
	}
	testutil.RegisterBeverage(t, cat, "x", testutil.Item("A", 5), testutil.Item("B", 3))

	e := New(cat, WithLogger(quietLogger()), WithSink(notify.Discard))
	id := createMachine(t, e, MachineConfig{
		Outlets:   1,
		Beverages: []string{"x"},
		Stock:     testutil.Quantities(map[string]int64{"A": 10, "B": 2}),
	})

	_, err := e.Dispense(context.Background(), id, "x")
	require.Error(t, err)

	var ee *Error
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, ErrCodeInsufficientQuantity, ee.Code)
	assert.Equal(t, "B", ee.Ingredient)
	assert.Equal(t, "3", ee.Required.String())
	assert.Equal(t, "2", ee.Available.String())

	snap, err := e.Machine(id)
	require.NoError(t, err)
	assert.Equal(t, "10", snap.Quantity("A").String())
	assert.Equal(t, "2", snap.Quantity("B").String())
	assert.Equal(t, 0, snap.OutletsInUse)
}

func TestEngine_ReportsEveryShortage(t *testing.T) {
	e, _ := newTestEngine(t)
	id := createMachine(t, e, MachineConfig{
		Outlets:   1,
		Beverages: []string{"coffee"},
		Stock:     testutil.Quantities(map[string]int64{"water": 100, "milk": 5}),
	})

	_, err := e.Dispense(context.Background(), id, "coffee")
	var ee *Error
	require.True(t, errors.As(err, &ee))

	// Recipe order: water, milk, coffee, sugar.
	assert.Equal(t, ErrCodeInsufficientQuantity, ee.Code)
	assert.Equal(t, "milk", ee.Ingredient)
	require.Len(t, ee.Shortages, 3)
	assert.Equal(t, "milk", ee.Shortages[0].Ingredient)
	assert.False(t, ee.Shortages[0].Missing)
	assert.Equal(t, "coffee", ee.Shortages[1].Ingredient)
	assert.True(t, ee.Shortages[1].Missing)
	assert.Equal(t, "sugar", ee.Shortages[2].Ingredient)
	assert.Contains(t, err.Error(), "also short: coffee, sugar")
	assert.True(t, IsShortage(err))
}

func TestEngine_BoundedConcurrency(t *testing.T) {
	const capacity = 2
	const requests = 10

	release := make(chan struct{})
	var holding, peak atomic.Int64
	prepare := func(ctx context.Context, machineID, beverage string) {
		n := holding.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		holding.Add(-1)
	}

	e, _ := newTestEngine(t, WithPreparer(prepare))
	id := createMachine(t, e, MachineConfig{
		Outlets:   capacity,
		Beverages: []string{"coffee"},
		Stock: testutil.Quantities(map[string]int64{
			"water": 1000, "milk": 1000, "coffee": 1000, "sugar": 1000,
		}),
	})

	var wg sync.WaitGroup
	errs := make(chan error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Dispense(context.Background(), id, "coffee")
			errs <- err
		}()
	}

	assert.Eventually(t, func() bool { return holding.Load() == capacity }, time.Second, time.Millisecond)
	snap, err := e.Machine(id)
	require.NoError(t, err)
	assert.Equal(t, capacity, snap.OutletsInUse)

	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.LessOrEqual(t, peak.Load(), int64(capacity))
	m, err := e.Registry().Get(id)
	require.NoError(t, err)
	assert.Equal(t, capacity, m.PeakOutletsInUse())
	assert.Equal(t, 0, m.OutletsInUse())

	snap, err = e.Machine(id)
	require.NoError(t, err)
	assert.Equal(t, "500", snap.Quantity("water").String())
}

func TestEngine_SingleOutletNoDoubleBooking(t *testing.T) {
	cat := catalog.New()
	_, err := cat.RegisterIngredient("A")
	require.NoError(t, err)
	testutil.RegisterBeverage(t, cat, "big", testutil.Item("A", 8))

	e := New(cat, WithLogger(quietLogger()), WithSink(notify.Discard))
	id := createMachine(t, e, MachineConfig{
		Outlets:   1,
		Beverages: []string{"big"},
		Stock:     testutil.Quantities(map[string]int64{"A": 10}),
	})

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = e.Dispense(context.Background(), id, "big")
		}(i)
	}
	wg.Wait()

	var ok, short int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case CodeOf(err) == ErrCodeInsufficientQuantity:
			short++
			var ee *Error
			require.True(t, errors.As(err, &ee))
			assert.Equal(t, "2", ee.Available.String())
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)

	snap, err := e.Machine(id)
	require.NoError(t, err)
	assert.Equal(t, "2", snap.Quantity("A").String())
}

func thresholdMachine(t *testing.T, e *Engine) string {
	t.Helper()
	return createMachine(t, e, MachineConfig{
		Outlets:    1,
		Beverages:  []string{"hot water"},
		Stock:      testutil.Quantities(map[string]int64{"water": 25}),
		Thresholds: testutil.Quantities(map[string]int64{"water": 20}),
	})
}

func hotWaterEngine(t *testing.T, opts ...EngineOption) (*Engine, *notify.Recorder) {
	t.Helper()
	e, rec := newTestEngine(t, opts...)
	testutil.RegisterBeverage(t, e.catalog.(*catalog.Catalog), "hot water", testutil.Item("water", 10))
	return e, rec
}

func TestEngine_ThresholdNotification(t *testing.T) {
	ctx := context.Background()
	e, rec := hotWaterEngine(t)
	id := thresholdMachine(t, e)

	notes, err := e.Dispense(ctx, id, "hot water")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "15", notes[0].Remaining.String())

	snap, err := e.AddIngredient(ctx, id, "water", testutil.Qty(50))
	require.NoError(t, err)
	assert.Equal(t, "65", snap.Quantity("water").String())

	notes, err = e.Dispense(ctx, id, "hot water")
	require.NoError(t, err)
	assert.Empty(t, notes)
	assert.Equal(t, 1, rec.Len())
}

// Level triggering: every dispense that leaves stock at or below the
// threshold notifies, not just the crossing one.
func TestEngine_LevelTriggeredRepeats(t *testing.T) {
	ctx := context.Background()
	e, rec := hotWaterEngine(t)
	id := thresholdMachine(t, e)

	_, err := e.Dispense(ctx, id, "hot water") // 15
	require.NoError(t, err)
	notes, err := e.Dispense(ctx, id, "hot water") // 5
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "5", notes[0].Remaining.String())
	assert.Equal(t, 2, rec.Len())
}

func TestEngine_EdgeTriggered(t *testing.T) {
	ctx := context.Background()
	e, rec := hotWaterEngine(t, WithNotifyMode(NotifyEdge))
	id := thresholdMachine(t, e)

	notes, err := e.Dispense(ctx, id, "hot water") // 25 -> 15 crosses
	require.NoError(t, err)
	assert.Len(t, notes, 1)

	notes, err = e.Dispense(ctx, id, "hot water") // 15 -> 5 stays below
	require.NoError(t, err)
	assert.Empty(t, notes)
	assert.Equal(t, 1, rec.Len())
	assert.Equal(t, "edge", NotifyEdge.String())
}

func TestEngine_UnknownBeverage(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	id := createMachine(t, e, gingerTeaMachine())

	_, err := e.Dispense(ctx, id, "nonexistent")
	assert.True(t, IsUnknownBeverage(err))

	_, err = e.Dispense(ctx, id, "coffee")
	assert.True(t, IsBeverageNotOnMachine(err))

	_, err = e.Dispense(ctx, "no-such-machine", "coffee")
	assert.True(t, IsUnknownMachine(err))

	snap, err := e.Machine(id)
	require.NoError(t, err)
	assert.Equal(t, testutil.Strings(gingerTeaMachine().Stock), snap.StockStrings())
	assert.Equal(t, 0, snap.OutletsInUse)
}

func TestEngine_NormalizesNames(t *testing.T) {
	e, _ := newTestEngine(t)
	id := createMachine(t, e, gingerTeaMachine())

	_, err := e.AddIngredient(context.Background(), id, "  sugar ", testutil.Qty(50))
	require.NoError(t, err)
	_, err = e.Dispense(context.Background(), id, " ginger tea")
	require.NoError(t, err)
}

func TestEngine_AddIngredientErrors(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	id := createMachine(t, e, gingerTeaMachine())

	tests := []struct {
		name       string
		machineID  string
		ingredient string
		quantity   int64
		code       ErrorCode
	}{
		{"zero quantity", id, "sugar", 0, ErrCodeInvalidQuantity},
		{"negative quantity", id, "sugar", -5, ErrCodeInvalidQuantity},
		{"unknown machine", "nope", "sugar", 5, ErrCodeUnknownMachine},
		{"unknown ingredient", id, "saffron", 5, ErrCodeUnknownIngredient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.AddIngredient(ctx, tt.machineID, tt.ingredient, testutil.Qty(tt.quantity))
			assert.Equal(t, tt.code, CodeOf(err))
		})
	}

	snap, err := e.Machine(id)
	require.NoError(t, err)
	assert.False(t, snap.Has("sugar"))
	assert.False(t, snap.Has("saffron"))
}

func TestEngine_RestockInterleaving(t *testing.T) {
	for i := 0; i < 50; i++ {
		cat := catalog.New()
		_, err := cat.RegisterIngredient("A")
		require.NoError(t, err)
		testutil.RegisterBeverage(t, cat, "five", testutil.Item("A", 5))

		e := New(cat, WithLogger(quietLogger()), WithSink(notify.Discard))
		id := createMachine(t, e, MachineConfig{
			Outlets:   1,
			Beverages: []string{"five"},
			Stock:     testutil.Quantities(map[string]int64{"A": 3}),
		})

		var wg sync.WaitGroup
		var dispenseErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, dispenseErr = e.Dispense(context.Background(), id, "five")
		}()
		go func() {
			defer wg.Done()
			_, err := e.AddIngredient(context.Background(), id, "A", testutil.Qty(5))
			assert.NoError(t, err)
		}()
		wg.Wait()

		snap, err := e.Machine(id)
		require.NoError(t, err)
		if dispenseErr == nil {
			assert.Equal(t, "3", snap.Quantity("A").String())
		} else {
			assert.Equal(t, ErrCodeInsufficientQuantity, CodeOf(dispenseErr))
			assert.Equal(t, "8", snap.Quantity("A").String())
		}
	}
}

func TestEngine_CancelWhileWaitingForOutlet(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	prepare := func(ctx context.Context, machineID, beverage string) {
		started <- struct{}{}
		<-release
	}

	e, _ := newTestEngine(t, WithPreparer(prepare))
	cfg := gingerTeaMachine()
	cfg.Outlets = 1
	cfg.Stock = testutil.Quantities(map[string]int64{"water": 200, "milk": 90, "tea": 30, "ginger": 30, "sugar": 50})
	id := createMachine(t, e, cfg)

	done := make(chan error, 1)
	go func() {
		_, err := e.Dispense(context.Background(), id, "ginger tea")
		done <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Dispense(ctx, id, "ginger tea")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ErrorCode(""), CodeOf(err))

	snap, err := e.Machine(id)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.OutletsInUse, "abandoned waiter must not hold an outlet")
	assert.Equal(t, "150", snap.Quantity("water").String())

	close(release)
	require.NoError(t, <-done)

	_, err = e.Dispense(context.Background(), id, "ginger tea")
	require.NoError(t, err)
}

func TestEngine_RestockDoesNotWaitForOutlet(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	e, _ := newTestEngine(t, WithPreparer(func(ctx context.Context, machineID, beverage string) {
		started <- struct{}{}
		<-release
	}))
	cfg := gingerTeaMachine()
	cfg.Outlets = 1
	cfg.Stock["sugar"] = testutil.Qty(10)
	id := createMachine(t, e, cfg)

	go func() { _, _ = e.Dispense(context.Background(), id, "ginger tea") }()
	<-started

	snap, err := e.AddIngredient(context.Background(), id, "sugar", testutil.Qty(5))
	require.NoError(t, err)
	assert.Equal(t, "5", snap.Quantity("sugar").String())
	close(release)
}

func TestEngine_Machines(t *testing.T) {
	e, _ := newTestEngine(t)
	first := createMachine(t, e, gingerTeaMachine())
	second := createMachine(t, e, MachineConfig{Outlets: 2, Beverages: []string{"coffee", "elaichi tea"}})

	assert.Equal(t, "machine-1", first)
	assert.Equal(t, "machine-2", second)

	snaps := e.Machines()
	require.Len(t, snaps, 2)
	assert.Equal(t, first, snaps[0].ID)
	assert.Equal(t, second, snaps[1].ID)
	assert.Equal(t, []string{"coffee", "elaichi tea"}, snaps[1].Beverages)
	assert.Empty(t, snaps[1].Stock)

	_, err := e.Machine("missing")
	assert.True(t, IsUnknownMachine(err))
}

func TestEngine_DefaultIDsAreUUIDv7(t *testing.T) {
	e := New(testutil.NewCatalog(t), WithLogger(quietLogger()))
	id, err := e.CreateMachine(context.Background(), MachineConfig{Outlets: 1})
	require.NoError(t, err)
	assert.Len(t, id, 36)
}

func TestEngine_Journal(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(filepath.Join(t.TempDir(), "brew.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	e, _ := newTestEngine(t, WithJournal(s))
	id := createMachine(t, e, gingerTeaMachine())

	_, err = e.Dispense(ctx, id, "ginger tea")
	require.Error(t, err)
	_, err = e.AddIngredient(ctx, id, "sugar", testutil.Qty(50))
	require.NoError(t, err)
	_, err = e.Dispense(ctx, id, "ginger tea")
	require.NoError(t, err)
	_, err = e.Dispense(ctx, id, "ginger tea")
	require.NoError(t, err)

	rec, err := s.ReadMachine(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Outlets)
	assert.Equal(t, []string{"ginger tea"}, rec.Beverages)

	history, err := s.ReadHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 4)

	assert.Equal(t, store.KindDispense, history[0].Kind)
	assert.Equal(t, string(ErrCodeIngredientUnavailable), history[0].Outcome)
	assert.False(t, history[0].Committed())

	assert.Equal(t, store.KindRestock, history[1].Kind)
	assert.Equal(t, "sugar", history[1].Subject)
	assert.Equal(t, "50", history[1].Quantity.String())

	assert.True(t, history[2].Committed())
	assert.Equal(t, "40", history[2].Stock["sugar"].String())

	require.Len(t, history[3].Notifications, 1)
	assert.Equal(t, "tea", history[3].Notifications[0].Ingredient)

	for i := 1; i < len(history); i++ {
		assert.Greater(t, history[i].Seq, history[i-1].Seq)
	}

	notes, err := s.ReadNotifications(ctx, id)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, history[3].Seq, notes[0].Seq)
}

type failingJournal struct{}

func (failingJournal) WriteMachine(ctx context.Context, m store.MachineRecord) error {
	return errors.New("disk full")
}

func (failingJournal) WriteTransaction(ctx context.Context, t store.Transaction) (bool, error) {
	return false, errors.New("disk full")
}

func TestEngine_JournalFailureDoesNotFailDispense(t *testing.T) {
	e, _ := newTestEngine(t, WithJournal(failingJournal{}))
	cfg := gingerTeaMachine()
	cfg.Stock["sugar"] = testutil.Qty(50)
	id := createMachine(t, e, cfg)

	_, err := e.Dispense(context.Background(), id, "ginger tea")
	require.NoError(t, err)
}

func TestEngine_Metrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	e, _ := newTestEngine(t, WithMetrics(metrics.MustNew(reg)))
	id := createMachine(t, e, gingerTeaMachine())

	_, _ = e.Dispense(ctx, id, "ginger tea")
	_, _ = e.AddIngredient(ctx, id, "sugar", testutil.Qty(50))
	_, _ = e.Dispense(ctx, id, "ginger tea")
	_, _ = e.Dispense(ctx, id, "ginger tea")

	samples, err := metrics.Summarize(reg)
	require.NoError(t, err)
	values := make(map[string]float64, len(samples))
	for _, s := range samples {
		values[s.Name+"{"+s.Labels+"}"] = s.Value
	}

	assert.Equal(t, 2.0, values[`brew_dispense_total{machine="machine-1",outcome="ok"}`])
	assert.Equal(t, 1.0, values[`brew_dispense_total{machine="machine-1",outcome="INGREDIENT_UNAVAILABLE"}`])
	assert.Equal(t, 1.0, values[`brew_restock_total{ingredient="sugar",machine="machine-1"}`])
	assert.Equal(t, 1.0, values[`brew_low_stock_notifications_total{ingredient="tea",machine="machine-1"}`])
	assert.Equal(t, 0.0, values[`brew_outlets_in_use{machine="machine-1"}`])
	assert.Equal(t, 3.0, values[`brew_outlet_wait_seconds_count{machine="machine-1"}`])
}

func TestEngine_OutletsGaugeSettlesAfterConcurrentDispenses(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	var peak atomic.Int64
	var active atomic.Int64
	e, _ := hotWaterEngine(t,
		WithMetrics(metrics.MustNew(reg)),
		WithPreparer(func(context.Context, string, string) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}),
	)
	id := createMachine(t, e, MachineConfig{
		Outlets:   3,
		Beverages: []string{"hot water"},
		Stock:     testutil.Quantities(map[string]int64{"water": 1000}),
	})

	const requests = 40
	var wg sync.WaitGroup
	for range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Dispense(ctx, id, "hot water")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	samples, err := metrics.Summarize(reg)
	require.NoError(t, err)
	values := make(map[string]float64, len(samples))
	for _, s := range samples {
		values[s.Name+"{"+s.Labels+"}"] = s.Value
	}
	assert.Equal(t, 0.0, values[`brew_outlets_in_use{machine="machine-1"}`], "idle machine must report no outlets in use")
	assert.Equal(t, float64(requests), values[`brew_dispense_total{machine="machine-1",outcome="ok"}`])
	assert.LessOrEqual(t, peak.Load(), int64(3))
}
