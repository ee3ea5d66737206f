package capture

// MetricsRecorder receives pipeline measurements.
// *metrics.CaptureMetrics from the observability package implements it.
type MetricsRecorder interface {
	SetPipelineState(inFlight, ledger, pendingBuffers int)
	RecordSubmission(status string)
	RecordAdmissionWait(reason string, seconds float64)
	RecordResult(kind string)
	RecordBuffer(status string)
	RecordFrameDrop(stream string)
	RecordDeferredReprocess()
	RecordProtocolViolation(kind string)
	RecordFlush(seconds float64, frames int)
	RecordDeviceError()
}

type nopMetrics struct{}

func (nopMetrics) SetPipelineState(int, int, int) {}
func (nopMetrics) RecordSubmission(string) {}
func (nopMetrics) RecordAdmissionWait(string, float64) {}
func (nopMetrics) RecordResult(string) {}
func (nopMetrics) RecordBuffer(string) {}
func (nopMetrics) RecordFrameDrop(string) {}
func (nopMetrics) RecordDeferredReprocess() {}
func (nopMetrics) RecordProtocolViolation(string) {}
func (nopMetrics) RecordFlush(float64, int) {}
func (nopMetrics) RecordDeviceError() {}
