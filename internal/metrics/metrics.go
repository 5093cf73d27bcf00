// Package metrics bundles the Prometheus collectors for the scan
// pipeline. All methods are nil-safe so components can run without a
// registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors, registered on a dedicated registry.
type Metrics struct {
	Registry *prometheus.Registry

	CycleDuration   prometheus.Histogram
	CyclesSkipped   prometheus.Counter
	ListingsSeen    prometheus.Counter
	DedupSkipped    prometheus.Counter
	ClassifiedTotal *prometheus.CounterVec
	FindingsTotal   prometheus.Counter
	AlertsTotal     *prometheus.CounterVec
	SweptTotal      prometheus.Counter
	FetchErrors     *prometheus.CounterVec
}

// New constructs and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	cycleDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scan_cycle_duration_seconds",
		Help:    "Wall time of a full scheduler cycle.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})
	cyclesSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scan_cycles_skipped_total",
		Help: "Ticks skipped because a cycle was already in progress.",
	})
	listingsSeen := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scan_listings_seen_total",
		Help: "Listings returned by marketplace search fetches.",
	})
	dedupSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scan_listings_dedup_skipped_total",
		Help: "Listings skipped because a dedup marker already existed.",
	})
	classified := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_listings_classified_total",
		Help: "Classifier verdicts by outcome.",
	}, []string{"valuable"})
	findings := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scan_findings_created_total",
		Help: "Findings materialized by the pipeline.",
	})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_alerts_total",
		Help: "Alert delivery attempts by result.",
	}, []string{"result"})
	swept := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scan_findings_swept_total",
		Help: "Expired findings removed by the sweep.",
	})
	fetchErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_fetch_errors_total",
		Help: "Marketplace fetch failures by kind.",
	}, []string{"kind"})

	registry.MustRegister(cycleDuration, cyclesSkipped, listingsSeen,
		dedupSkipped, classified, findings, alerts, swept, fetchErrors)

	return &Metrics{
		Registry:        registry,
		CycleDuration:   cycleDuration,
		CyclesSkipped:   cyclesSkipped,
		ListingsSeen:    listingsSeen,
		DedupSkipped:    dedupSkipped,
		ClassifiedTotal: classified,
		FindingsTotal:   findings,
		AlertsTotal:     alerts,
		SweptTotal:      swept,
		FetchErrors:     fetchErrors,
	}
}

// ObserveCycle records a completed cycle's duration.
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(d.Seconds())
}

// IncCycleSkipped counts a tick that found a cycle already running.
func (m *Metrics) IncCycleSkipped() {
	if m == nil {
		return
	}
	m.CyclesSkipped.Inc()
}

// AddListingsSeen counts listings produced by a search fetch.
func (m *Metrics) AddListingsSeen(n int) {
	if m == nil {
		return
	}
	m.ListingsSeen.Add(float64(n))
}

// IncDedupSkipped counts a listing skipped by the dedup gate.
func (m *Metrics) IncDedupSkipped() {
	if m == nil {
		return
	}
	m.DedupSkipped.Inc()
}

// IncClassified counts a classifier verdict.
func (m *Metrics) IncClassified(valuable bool) {
	if m == nil {
		return
	}
	label := "false"
	if valuable {
		label = "true"
	}
	m.ClassifiedTotal.WithLabelValues(label).Inc()
}

// IncFindings counts a materialized finding.
func (m *Metrics) IncFindings() {
	if m == nil {
		return
	}
	m.FindingsTotal.Inc()
}

// IncAlert counts an alert attempt by delivery result.
func (m *Metrics) IncAlert(sent bool) {
	if m == nil {
		return
	}
	result := "failed"
	if sent {
		result = "sent"
	}
	m.AlertsTotal.WithLabelValues(result).Inc()
}

// AddSwept counts findings removed by the expiry sweep.
func (m *Metrics) AddSwept(n int64) {
	if m == nil {
		return
	}
	m.SweptTotal.Add(float64(n))
}

// IncFetchError counts a marketplace fetch failure by kind.
func (m *Metrics) IncFetchError(kind string) {
	if m == nil {
		return
	}
	m.FetchErrors.WithLabelValues(kind).Inc()
}
