// Package metrics exposes Prometheus collectors for the dispense engine.
//
// Collectors are registered on a caller-supplied registry so tests and
// multiple engines in one process do not collide on the global registry.
// Every method is safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "brew"

var (
	// OutletWaitBuckets cover an immediate grant up to a minute-long queue.
	OutletWaitBuckets = []float64{
		0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
	}
)

// Metrics holds the engine's collectors.
type Metrics struct {
	dispenses    *prometheus.CounterVec
	restocks     *prometheus.CounterVec
	lowStock     *prometheus.CounterVec
	outletsInUse *prometheus.GaugeVec
	outletWait   *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		dispenses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispense_total",
				Help:      "Dispense requests broken out by machine and outcome (ok or error code).",
			},
			[]string{"machine", "outcome"},
		),
		restocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "restock_total",
				Help:      "Ingredient restocks broken out by machine and ingredient.",
			},
			[]string{"machine", "ingredient"},
		),
		lowStock: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "low_stock_notifications_total",
				Help:      "Low-stock notifications raised, by machine and ingredient.",
			},
			[]string{"machine", "ingredient"},
		),
		outletsInUse: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "outlets_in_use",
				Help:      "Outlets currently held by in-flight dispenses.",
			},
			[]string{"machine"},
		),
		outletWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "outlet_wait_seconds",
				Help:      "Time a dispense waited for a free outlet.",
				Buckets:   OutletWaitBuckets,
			},
			[]string{"machine"},
		),
	}

	for _, c := range []prometheus.Collector{m.dispenses, m.restocks, m.lowStock, m.outletsInUse, m.outletWait} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// MustNew is like New but panics on registration failure.
func MustNew(reg prometheus.Registerer) *Metrics {
	m, err := New(reg)
	if err != nil {
		panic(err)
	}
	return m
}

// ObserveDispense counts one dispense with the given outcome.
func (m *Metrics) ObserveDispense(machine, outcome string) {
	if m == nil {
		return
	}
	m.dispenses.WithLabelValues(machine, outcome).Inc()
}

// ObserveRestock counts one restock.
func (m *Metrics) ObserveRestock(machine, ingredient string) {
	if m == nil {
		return
	}
	m.restocks.WithLabelValues(machine, ingredient).Inc()
}

// ObserveLowStock counts one low-stock notification.
func (m *Metrics) ObserveLowStock(machine, ingredient string) {
	if m == nil {
		return
	}
	m.lowStock.WithLabelValues(machine, ingredient).Inc()
}

// SetOutletsInUse records the current outlet occupancy of a machine.
func (m *Metrics) SetOutletsInUse(machine string, n int) {
	if m == nil {
		return
	}
	m.outletsInUse.WithLabelValues(machine).Set(float64(n))
}

// IncOutletsInUse counts one outlet taken on a machine.
func (m *Metrics) IncOutletsInUse(machine string) {
	if m == nil {
		return
	}
	m.outletsInUse.WithLabelValues(machine).Inc()
}

// DecOutletsInUse counts one outlet released on a machine.
func (m *Metrics) DecOutletsInUse(machine string) {
	if m == nil {
		return
	}
	m.outletsInUse.WithLabelValues(machine).Dec()
}

// ObserveOutletWait records how long a dispense waited for an outlet.
func (m *Metrics) ObserveOutletWait(machine string, d time.Duration) {
	if m == nil {
		return
	}
	m.outletWait.WithLabelValues(machine).Observe(d.Seconds())
}

// Sample is one flattened metric value, for printing.
type Sample struct {
	Name   string
	Labels string
	Value  float64
}

// String renders the sample in exposition-like form.
func (s Sample) String() string {
	if s.Labels == "" {
		return fmt.Sprintf("%s %g", s.Name, s.Value)
	}
	return fmt.Sprintf("%s{%s} %g", s.Name, s.Labels, s.Value)
}

// Summarize gathers g and flattens counters and gauges into samples.
// Histograms contribute their _count and _sum. Output is sorted.
func Summarize(g prometheus.Gatherer) ([]Sample, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	var out []Sample
	for _, mf := range families {
		name := mf.GetName()
		for _, metric := range mf.GetMetric() {
			labels := formatLabels(metric.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out = append(out, Sample{Name: name, Labels: labels, Value: metric.GetCounter().GetValue()})
			case dto.MetricType_GAUGE:
				out = append(out, Sample{Name: name, Labels: labels, Value: metric.GetGauge().GetValue()})
			case dto.MetricType_HISTOGRAM:
				h := metric.GetHistogram()
				out = append(out,
					Sample{Name: name + "_count", Labels: labels, Value: float64(h.GetSampleCount())},
					Sample{Name: name + "_sum", Labels: labels, Value: h.GetSampleSum()},
				)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Labels < out[j].Labels
	})
	return out, nil
}

func formatLabels(pairs []*dto.LabelPair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, fmt.Sprintf("%s=%q", p.GetName(), p.GetValue()))
	}
	return strings.Join(parts, ",")
}
