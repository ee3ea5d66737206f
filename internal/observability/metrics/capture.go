// Package metrics provides Prometheus metrics for the capture pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/camerahal/internal/logger"
)

// CaptureMetrics contains Prometheus metrics for capture request processing
type CaptureMetrics struct {
	registry *prometheus.Registry

	// Pipeline state
	inFlight       prometheus.Gauge
	ledgerSize     prometheus.Gauge
	pendingBuffers prometheus.Gauge

	// Admission
	submissions    *prometheus.CounterVec
	admissionWait  *prometheus.HistogramVec
	admissionWakes *prometheus.CounterVec

	// Reconciliation
	results            *prometheus.CounterVec
	buffers            *prometheus.CounterVec
	frameDrops         *prometheus.CounterVec
	deferredReprocess  prometheus.Counter
	protocolViolations *prometheus.CounterVec

	// Flush and device state
	flushes       prometheus.Counter
	flushedFrames prometheus.Counter
	flushDuration prometheus.Histogram
	deviceErrors  prometheus.Counter

	// Generic Recorder metrics
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewCaptureMetrics creates and registers new capture metrics
func NewCaptureMetrics(registry *prometheus.Registry) (*CaptureMetrics, error) {
	m := &CaptureMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	log.Debug("capture metrics registered", logger.Int("collectors", len(m.collectors)))
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *CaptureMetrics) initMetrics() {
	m.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "camhal_capture_in_flight_requests",
		Help: "Number of admitted capture requests not yet closed",
	})
	m.ledgerSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "camhal_capture_pending_requests",
		Help: "Number of entries in the pending request ledger",
	})
	m.pendingBuffers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "camhal_capture_pending_buffers",
		Help: "Number of output buffers owned by the backend",
	})

	m.submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_capture_submissions_total",
			Help: "Total number of capture request submissions by outcome",
		},
		[]string{"status"},
	)
	m.admissionWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camhal_capture_admission_wait_seconds",
			Help:    "Time submitters spent blocked on the in-flight window",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		},
		[]string{"reason"},
	)
	m.admissionWakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_capture_admission_wakes_total",
			Help: "Total number of admission wakeups by reason",
		},
		[]string{"reason"},
	)

	m.results = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_capture_results_total",
			Help: "Total number of capture results delivered by kind",
		},
		[]string{"kind"},
	)
	m.buffers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_capture_buffers_total",
			Help: "Total number of output buffers returned by status",
		},
		[]string{"status"},
	)
	m.frameDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_capture_frame_drops_total",
			Help: "Total number of dropped stream buffers reported by the backend",
		},
		[]string{"stream"},
	)
	m.deferredReprocess = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camhal_capture_reprocess_deferred_total",
		Help: "Total number of reprocess completions deferred behind an older open frame",
	})
	m.protocolViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_capture_protocol_violations_total",
			Help: "Total number of backend protocol anomalies",
		},
		[]string{"kind"},
	)

	m.flushes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camhal_capture_flushes_total",
		Help: "Total number of pipeline flushes",
	})
	m.flushedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camhal_capture_flushed_frames_total",
		Help: "Total number of frames cancelled by flush",
	})
	m.flushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "camhal_capture_flush_duration_seconds",
		Help:    "Time taken to drain and restart the pipeline",
		Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount15),
	})
	m.deviceErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camhal_capture_device_errors_total",
		Help: "Total number of fatal device errors",
	})

	m.operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_operations_total",
			Help: "Total number of operations by status",
		},
		[]string{"operation", "status"},
	)
	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camhal_operation_duration_seconds",
			Help:    "Duration of operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount15),
		},
		[]string{"operation"},
	)
	m.operationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_operation_errors_total",
			Help: "Total number of operation errors by type",
		},
		[]string{"operation", "error_type"},
	)

	m.collectors = []prometheus.Collector{
		m.inFlight, m.ledgerSize, m.pendingBuffers,
		m.submissions, m.admissionWait, m.admissionWakes,
		m.results, m.buffers, m.frameDrops, m.deferredReprocess, m.protocolViolations,
		m.flushes, m.flushedFrames, m.flushDuration, m.deviceErrors,
		m.operations, m.operationDuration, m.operationErrors,
	}
}

// Describe implements prometheus.Collector
func (m *CaptureMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *CaptureMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// SetPipelineState updates the in-flight, ledger and pending buffer gauges
func (m *CaptureMetrics) SetPipelineState(inFlight, ledger, pendingBuffers int) {
	m.inFlight.Set(float64(inFlight))
	m.ledgerSize.Set(float64(ledger))
	m.pendingBuffers.Set(float64(pendingBuffers))
}

// RecordSubmission counts a submission outcome
func (m *CaptureMetrics) RecordSubmission(status string) {
	m.submissions.WithLabelValues(status).Inc()
}

// RecordAdmissionWait records a blocked submission and the reason it woke
func (m *CaptureMetrics) RecordAdmissionWait(reason string, seconds float64) {
	m.admissionWakes.WithLabelValues(reason).Inc()
	m.admissionWait.WithLabelValues(reason).Observe(seconds)
}

// RecordResult counts a delivered capture result
func (m *CaptureMetrics) RecordResult(kind string) {
	m.results.WithLabelValues(kind).Inc()
}

// RecordBuffer counts a returned output buffer
func (m *CaptureMetrics) RecordBuffer(status string) {
	m.buffers.WithLabelValues(status).Inc()
}

// RecordFrameDrop counts a dropped stream buffer
func (m *CaptureMetrics) RecordFrameDrop(stream string) {
	m.frameDrops.WithLabelValues(stream).Inc()
}

// RecordDeferredReprocess counts a reprocess completion parked in the cache
func (m *CaptureMetrics) RecordDeferredReprocess() {
	m.deferredReprocess.Inc()
}

// RecordProtocolViolation counts a backend protocol anomaly
func (m *CaptureMetrics) RecordProtocolViolation(kind string) {
	m.protocolViolations.WithLabelValues(kind).Inc()
}

// RecordFlush records a completed flush
func (m *CaptureMetrics) RecordFlush(seconds float64, frames int) {
	m.flushes.Inc()
	m.flushedFrames.Add(float64(frames))
	m.flushDuration.Observe(seconds)
}

// RecordDeviceError counts a fatal device error
func (m *CaptureMetrics) RecordDeviceError() {
	m.deviceErrors.Inc()
}

// RecordOperation implements Recorder
func (m *CaptureMetrics) RecordOperation(operation, status string) {
	m.operations.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder
func (m *CaptureMetrics) RecordDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder
func (m *CaptureMetrics) RecordError(operation, errorType string) {
	m.operationErrors.WithLabelValues(operation, errorType).Inc()
}

var _ Recorder = (*CaptureMetrics)(nil)
