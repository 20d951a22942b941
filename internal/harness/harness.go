package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/brew/internal/engine"
	"github.com/roach88/brew/internal/fixture"
	"github.com/roach88/brew/internal/notify"
	"github.com/roach88/brew/internal/store"
)

// OutcomeOK is the outcome of a successful step.
const OutcomeOK = store.OutcomeOK

// Harness executes one scenario.
type Harness struct {
	store    *store.Store
	built    *fixture.Built
	recorder *notify.Recorder
	machine  string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs on a fresh engine with an in-memory journal.
//
// Execution flow:
//  1. Load the fixture (or the built-in default) and build it
//  2. Execute steps in order, checking expect clauses
//  3. Evaluate assertions
//
// Expectation failures are reported in the Result. The error return is for
// scenarios that cannot run at all.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	f, err := loadFixture(s.Fixture)
	if err != nil {
		return nil, fmt.Errorf("failed to load fixture: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	mode := engine.NotifyLevel
	if s.NotifyMode == "edge" {
		mode = engine.NotifyEdge
	}

	rec := notify.NewRecorder()
	built, err := f.Build(ctx,
		engine.WithJournal(st),
		engine.WithSink(rec),
		engine.WithNotifyMode(mode),
		engine.WithIDGenerator(engine.NewSequenceGenerator("machine")),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build fixture: %w", err)
	}
	if _, ok := built.MachineID(s.Machine); !ok {
		return nil, fmt.Errorf("machine %q is not declared in the fixture", s.Machine)
	}

	h := &Harness{
		store:    st,
		built:    built,
		recorder: rec,
		machine:  s.Machine,
	}

	result := NewResult()
	for i, step := range s.Steps {
		if err := h.runStep(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	for _, msg := range h.evaluateAssertions(ctx, s.Assertions, result) {
		result.AddError(msg)
	}
	return result, nil
}

func loadFixture(dir string) (*fixture.Fixture, error) {
	if dir == "" {
		return fixture.Default()
	}
	return fixture.Load(dir)
}

// resolve maps a fixture machine name (or "" for the default) to its id.
func (h *Harness) resolve(name string) (string, string, error) {
	if name == "" {
		name = h.machine
	}
	id, ok := h.built.MachineID(name)
	if !ok {
		return "", "", fmt.Errorf("machine %q is not declared in the fixture", name)
	}
	return name, id, nil
}

// outcome is what one dispense or restock produced.
type outcome struct {
	code          string
	ingredient    string
	notifications []string
}

// exec runs a single dispense or restock. Engine validation errors become
// outcomes; anything else is returned.
func (h *Harness) exec(ctx context.Context, step Step) (outcome, error) {
	_, id, err := h.resolve(step.Machine)
	if err != nil {
		return outcome{}, err
	}

	var notes []notify.Notification
	if step.Kind() == StepAddIngredient {
		_, err = h.built.Engine.AddIngredient(ctx, id, step.AddIngredient, step.Quantity.Decimal)
	} else {
		notes, err = h.built.Engine.Dispense(ctx, id, step.Dispense)
	}

	out := outcome{code: OutcomeOK}
	for _, n := range notes {
		out.notifications = append(out.notifications, n.Ingredient)
	}
	if err != nil {
		var ee *engine.Error
		if !errors.As(err, &ee) {
			return outcome{}, err
		}
		out.code = string(ee.Code)
		out.ingredient = ee.Ingredient
	}
	return out, nil
}

func (h *Harness) runStep(ctx context.Context, n int, step Step, result *Result) error {
	name, id, err := h.resolve(step.Machine)
	if err != nil {
		return err
	}

	ev := TraceEvent{Step: n, Type: step.Kind(), Machine: name}
	var out outcome

	switch step.Kind() {
	case StepConcurrent:
		ev.Outcomes, err = h.runConcurrent(ctx, step.Concurrent)
		if err != nil {
			return err
		}
	case StepAddIngredient:
		ev.Subject = step.AddIngredient
		ev.Quantity = step.Quantity.String()
		if out, err = h.exec(ctx, step); err != nil {
			return err
		}
	default:
		ev.Subject = step.Dispense
		if out, err = h.exec(ctx, step); err != nil {
			return err
		}
	}
	ev.Outcome = out.code
	ev.Notifications = out.notifications

	snap, err := h.built.Engine.Machine(id)
	if err != nil {
		return err
	}
	ev.Stock = snap.StockStrings()
	result.Trace = append(result.Trace, ev)

	if step.Expect != nil {
		for _, msg := range checkExpect(step.Expect, ev, out) {
			result.AddError(fmt.Sprintf("step %d (%s %s): %s", n, ev.Type, ev.Subject, msg))
		}
	}
	return nil
}

// runConcurrent fires every step of a group at once and counts outcomes.
func (h *Harness) runConcurrent(ctx context.Context, steps []Step) (map[string]int, error) {
	var mu sync.Mutex
	counts := make(map[string]int)

	g, gctx := errgroup.WithContext(ctx)
	for _, step := range steps {
		g.Go(func() error {
			out, err := h.exec(gctx, step)
			if err != nil {
				return err
			}
			mu.Lock()
			counts[out.code]++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return counts, nil
}

// checkExpect compares a step's trace event with its expect clause.
func checkExpect(exp *Expect, ev TraceEvent, out outcome) []string {
	var msgs []string

	if ev.Type == StepConcurrent {
		if len(exp.Outcomes) > 0 && !equalCounts(exp.Outcomes, ev.Outcomes) {
			msgs = append(msgs, fmt.Sprintf("outcomes: expected %s, got %s",
				formatCounts(exp.Outcomes), formatCounts(ev.Outcomes)))
		}
	} else {
		want := exp.Error
		if want == "" {
			want = OutcomeOK
		}
		if ev.Outcome != want {
			msgs = append(msgs, fmt.Sprintf("outcome: expected %s, got %s", want, ev.Outcome))
		}
		if exp.Ingredient != "" && exp.Ingredient != out.ingredient {
			msgs = append(msgs, fmt.Sprintf("ingredient: expected %q, got %q", exp.Ingredient, out.ingredient))
		}
		if exp.Notifications != nil && !equalStrings(*exp.Notifications, ev.Notifications) {
			msgs = append(msgs, fmt.Sprintf("notifications: expected %v, got %v", *exp.Notifications, ev.Notifications))
		}
	}

	msgs = append(msgs, compareStock(exp.Stock, ev.Stock, false)...)
	return msgs
}

// compareStock checks want against got. With exact, got may not carry
// entries missing from want.
func compareStock(want map[string]Quantity, got map[string]string, exact bool) []string {
	var msgs []string
	names := make([]string, 0, len(want))
	for name := range want {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		have, ok := got[name]
		if !ok {
			msgs = append(msgs, fmt.Sprintf("stock[%s]: expected %s, not stocked", name, want[name].String()))
			continue
		}
		if have != want[name].String() {
			msgs = append(msgs, fmt.Sprintf("stock[%s]: expected %s, got %s", name, want[name].String(), have))
		}
	}

	if exact {
		extra := make([]string, 0)
		for name := range got {
			if _, ok := want[name]; !ok {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		for _, name := range extra {
			msgs = append(msgs, fmt.Sprintf("stock[%s]: unexpected entry %s", name, got[name]))
		}
	}
	return msgs
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalCounts(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := "{"
	for i, k := range keys {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s: %d", k, m[k])
	}
	return s + "}"
}
