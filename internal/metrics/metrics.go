// Package metrics provides Prometheus metrics for the scanner and lookup pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels are bounded: no barcodes or product ids.

var (
	// DecodeTotal counts decoder outcomes per frame, by result (hit/error).
	DecodeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tillscan_decode_total",
		Help: "Total number of frame decode attempts that produced a result or a non-trivial error.",
	}, []string{"result"})

	// DetectionsTotal counts detections emitted to the scanner, by symbology.
	DetectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tillscan_detections_total",
		Help: "Total number of barcode detections emitted, by format.",
	}, []string{"format"})

	// GateDecisionsTotal counts dedup gate decisions (accepted/suppressed).
	GateDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tillscan_gate_decisions_total",
		Help: "Total number of dedup gate decisions, by outcome.",
	}, []string{"outcome"})

	// ResolutionsTotal counts lookup pipeline outcomes by source and error kind.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tillscan_resolutions_total",
		Help: "Total number of barcode resolutions, by source and outcome.",
	}, []string{"source", "outcome"})

	// ResolutionDuration tracks end-to-end lookup latency.
	ResolutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tillscan_resolution_duration_seconds",
		Help:    "Duration of barcode resolution from detection to product.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// LookupCacheTotal counts generative cache lookups (hit/miss/error).
	LookupCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tillscan_lookup_cache_total",
		Help: "Total number of generative lookup cache reads, by result.",
	}, []string{"result"})

	// ScannerTransitionsTotal counts lifecycle transitions by destination phase.
	ScannerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tillscan_scanner_transitions_total",
		Help: "Total number of scanner lifecycle transitions, by destination phase.",
	}, []string{"phase"})

	// CameraLive is 1 while a camera stream is held.
	CameraLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tillscan_camera_live",
		Help: "Whether a camera stream is currently held (1) or released (0).",
	})

	// SaleLines tracks the number of lines in the active sale.
	SaleLines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tillscan_sale_lines",
		Help: "Current number of lines in the active sale.",
	})

	// CheckoutsTotal counts completed checkouts.
	CheckoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tillscan_checkouts_total",
		Help: "Total number of completed sale checkouts.",
	})
)

// RecordResolution records one pipeline outcome and its latency.
func RecordResolution(source, outcome string, seconds float64) {
	if source == "" {
		source = "none"
	}
	ResolutionsTotal.WithLabelValues(source, outcome).Inc()
	ResolutionDuration.Observe(seconds)
}

// SetCameraLive flips the camera gauge.
func SetCameraLive(live bool) {
	if live {
		CameraLive.Set(1)
		return
	}
	CameraLive.Set(0)
}
