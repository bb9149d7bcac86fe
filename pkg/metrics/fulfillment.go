package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Scan outcomes used as label values.
const (
	ScanMatched     = "matched"
	ScanUnmatched   = "unmatched"
	ScanDuplicate   = "duplicate"
	ScanFormatError = "format_error"
)

// FulfillmentMetrics records scan and composition activity of the packing station.
type FulfillmentMetrics struct {
	scans         *prometheus.CounterVec
	compositions  *prometheus.CounterVec
	duration      prometheus.Histogram
	mergeWarnings prometheus.Counter
}

// NewFulfillmentMetrics registers the collectors on the provided registerer.
func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	if reg == nil {
		return &FulfillmentMetrics{}
	}
	scans := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "packer_scans_total",
		Help: "Barcode scans processed, by outcome.",
	}, []string{"outcome"})
	compositions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "packer_compositions_total",
		Help: "Order documents composed, by result.",
	}, []string{"result"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "packer_composition_duration_seconds",
		Help:    "Time spent slicing and writing one order document.",
		Buckets: prometheus.DefBuckets,
	})
	mergeWarnings := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "packer_merge_warnings_total",
		Help: "Input documents skipped while merging bulk output.",
	})
	reg.MustRegister(scans, compositions, duration, mergeWarnings)
	return &FulfillmentMetrics{
		scans:         scans,
		compositions:  compositions,
		duration:      duration,
		mergeWarnings: mergeWarnings,
	}
}

func (m *FulfillmentMetrics) IncScan(outcome string) {
	if m == nil || m.scans == nil {
		return
	}
	m.scans.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveComposition records one composition attempt and its duration.
func (m *FulfillmentMetrics) ObserveComposition(duration time.Duration, err error) {
	if m == nil || m.compositions == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.compositions.WithLabelValues(result).Inc()
	m.duration.Observe(duration.Seconds())
}

func (m *FulfillmentMetrics) AddMergeWarnings(n int) {
	if m == nil || m.mergeWarnings == nil || n <= 0 {
		return
	}
	m.mergeWarnings.Add(float64(n))
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}
