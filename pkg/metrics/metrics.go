// Package metrics exposes scan statistics as prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all prometheus metrics of a scanner. Every Metrics has its
// own registry, two scanners never share counters. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ScansTotal             *prometheus.CounterVec
	ScanDuration           *prometheus.HistogramVec
	BytesReadTotal         prometheus.Counter
	ReadRetriesTotal       prometheus.Counter
	SkippedRegionsTotal    prometheus.Counter
	DroppedCandidatesTotal *prometheus.CounterVec
	Candidates             prometheus.Gauge
	Pointers               prometheus.Gauge
}

// ScanStats is the summary of a single scan or pointer map build.
type ScanStats struct {
	Kind     string // "full", "refine" or "pointermap"
	Status   string // "ok", "cancelled" or "error"
	Duration time.Duration

	BytesRead      uint64
	Retries        int
	SkippedRegions int
	Unreadable     int
	Unmapped       int
	Rejected       int
	// Candidates is the number of pointers for a pointer map.
	Candidates int
}

// NewMetrics creates and registers all metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ScansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memscan_scans_total",
				Help: "Total number of scans",
			},
			[]string{"kind", "status"},
		),
		ScanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memscan_scan_duration_seconds",
				Help:    "Duration of scans in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"kind"},
		),
		BytesReadTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memscan_bytes_read_total",
				Help: "Total number of bytes read from the target",
			},
		),
		ReadRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memscan_read_retries_total",
				Help: "Total number of retried reads",
			},
		),
		SkippedRegionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memscan_skipped_regions_total",
				Help: "Total number of regions skipped by full scans",
			},
		),
		DroppedCandidatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memscan_dropped_candidates_total",
				Help: "Total number of candidates dropped by refine scans",
			},
			[]string{"reason"},
		),
		Candidates: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memscan_candidates",
				Help: "Number of candidates in the current session",
			},
		),
		Pointers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memscan_pointers",
				Help: "Number of pointers in the last pointer map",
			},
		),
	}

	registry.MustRegister(
		m.ScansTotal,
		m.ScanDuration,
		m.BytesReadTotal,
		m.ReadRetriesTotal,
		m.SkippedRegionsTotal,
		m.DroppedCandidatesTotal,
		m.Candidates,
		m.Pointers,
	)

	return m
}

// ObserveScan records the outcome of a scan.
func (m *Metrics) ObserveScan(s ScanStats) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(s.Kind, s.Status).Inc()
	m.ScanDuration.WithLabelValues(s.Kind).Observe(s.Duration.Seconds())
	m.BytesReadTotal.Add(float64(s.BytesRead))
	m.ReadRetriesTotal.Add(float64(s.Retries))
	m.SkippedRegionsTotal.Add(float64(s.SkippedRegions))
	m.DroppedCandidatesTotal.WithLabelValues("unreadable").Add(float64(s.Unreadable))
	m.DroppedCandidatesTotal.WithLabelValues("unmapped").Add(float64(s.Unmapped))
	m.DroppedCandidatesTotal.WithLabelValues("rejected").Add(float64(s.Rejected))
	if s.Kind == "pointermap" {
		// cancelled builds are discarded
		if s.Status == "ok" {
			m.Pointers.Set(float64(s.Candidates))
		}
		return
	}
	if s.Status != "error" {
		m.Candidates.Set(float64(s.Candidates))
	}
}

// SetCandidates sets the candidates gauge, used when a session is reset.
func (m *Metrics) SetCandidates(n int) {
	if m == nil {
		return
	}
	m.Candidates.Set(float64(n))
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
