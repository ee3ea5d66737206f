package metrics

// Recorder defines a minimal interface for recording metrics.
// Components that only need generic operation accounting depend on this
// instead of a concrete metrics type.
type Recorder interface {
	// RecordOperation records an operation with its status
	// (e.g., "simulate"/"success", "replay"/"error").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its type.
	RecordError(operation, errorType string)
}

// NopRecorder discards every recording
type NopRecorder struct{}

func (NopRecorder) RecordOperation(string, string) {}
func (NopRecorder) RecordDuration(string, float64) {}
func (NopRecorder) RecordError(string, string)     {}
