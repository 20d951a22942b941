package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
)

// Notification reports that an ingredient on a machine is at or below its
// refill threshold after a dispense.
type Notification struct {
	MachineID  string          `json:"machine_id"`
	Ingredient string          `json:"ingredient"`
	Remaining  decimal.Decimal `json:"remaining"`
	Threshold  decimal.Decimal `json:"threshold"`

	// Seq is the engine sequence number of the dispense that raised it.
	Seq int64 `json:"seq"`
}

// Sink receives low-stock notifications. OnLowStock must not block.
type Sink interface {
	OnLowStock(n Notification)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(n Notification)

// OnLowStock calls f(n).
func (f SinkFunc) OnLowStock(n Notification) { f(n) }

// Discard drops every notification.
var Discard Sink = SinkFunc(func(Notification) {})

// LogSink writes each notification as a structured warning.
type LogSink struct {
	Logger *slog.Logger
}

// NewLogSink returns a LogSink writing to logger, or slog.Default() if nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{Logger: logger}
}

// OnLowStock implements Sink.
func (s *LogSink) OnLowStock(n Notification) {
	s.Logger.LogAttrs(context.Background(), slog.LevelWarn, "low on "+n.Ingredient+", please refill",
		slog.String("machine", n.MachineID),
		slog.String("ingredient", n.Ingredient),
		slog.String("remaining", n.Remaining.String()),
		slog.String("threshold", n.Threshold.String()),
		slog.Int64("seq", n.Seq),
	)
}

// Recorder keeps every notification it receives in arrival order.
//
// Thread-safety: Recorder is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// OnLowStock implements Sink.
func (r *Recorder) OnLowStock(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// Notifications returns a copy of everything recorded so far.
func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Ingredients returns the ingredient of every recorded notification, in order.
func (r *Recorder) Ingredients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.items))
	for i, n := range r.items {
		out[i] = n.Ingredient
	}
	return out
}

// Len returns the number of recorded notifications.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Reset discards everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}

// Multi fans each notification out to every sink in order.
type Multi []Sink

// OnLowStock implements Sink.
func (m Multi) OnLowStock(n Notification) {
	for _, s := range m {
		if s != nil {
			s.OnLowStock(n)
		}
	}
}
