package harness

import (
	"context"
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nTrace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s\n", ev.Step, ev.Type, ev.Subject, ev.Outcome)
		}
	}
	return buf.String()
}

// evaluateAssertions runs every assertion and returns failure messages.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion, result *Result) []string {
	var msgs []string
	for i, a := range assertions {
		if err := h.evaluate(ctx, a, result); err != nil {
			msgs = append(msgs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return msgs
}

func (h *Harness) evaluate(ctx context.Context, a Assertion, result *Result) error {
	_, id, err := h.resolve(a.Machine)
	if err != nil {
		return err
	}

	switch a.Type {
	case AssertStock:
		snap, err := h.built.Engine.Machine(id)
		if err != nil {
			return err
		}
		got := snap.StockStrings()
		if diffs := compareStock(a.Stock, got, true); len(diffs) > 0 {
			return &AssertionError{
				Type:     AssertStock,
				Expected: formatQuantities(a.Stock),
				Actual:   strings.Join(diffs, "; "),
				Trace:    result.Trace,
			}
		}

	case AssertNotifications:
		count := 0
		for _, n := range h.recorder.Notifications() {
			if n.MachineID == id && (a.Ingredient == "" || n.Ingredient == a.Ingredient) {
				count++
			}
		}
		if count != a.Count {
			what := "notifications"
			if a.Ingredient != "" {
				what = a.Ingredient + " notifications"
			}
			return &AssertionError{
				Type:     AssertNotifications,
				Expected: fmt.Sprintf("%d %s", a.Count, what),
				Actual:   fmt.Sprintf("%d", count),
				Trace:    result.Trace,
			}
		}

	case AssertOutcomes:
		if got := result.outcomes()[a.Outcome]; got != a.Count {
			return &AssertionError{
				Type:     AssertOutcomes,
				Expected: fmt.Sprintf("%d outcomes %s", a.Count, a.Outcome),
				Actual:   fmt.Sprintf("%d", got),
				Trace:    result.Trace,
			}
		}

	case AssertJournal:
		history, err := h.store.ReadHistory(ctx, id)
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
		if len(history) != a.Count {
			return &AssertionError{
				Type:     AssertJournal,
				Expected: fmt.Sprintf("%d journaled transactions", a.Count),
				Actual:   fmt.Sprintf("%d", len(history)),
			}
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func formatQuantities(m map[string]Quantity) string {
	counts := make(map[string]string, len(m))
	for k, v := range m {
		counts[k] = v.String()
	}
	return fmt.Sprint(counts)
}
