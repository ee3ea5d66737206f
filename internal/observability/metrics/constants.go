package metrics

import "time"

// Operation names recorded through Recorder
const (
	OpSimulate = "simulate"
	OpReplay   = "replay"
)

// Status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Histogram bucket configuration
const (
	// BucketStart1ms is the starting bucket for 1ms histograms
	BucketStart1ms = 0.001
	// BucketStart100us is the starting bucket for 0.1ms histograms
	BucketStart100us = 0.0001

	BucketFactor2 = 2
	BucketCount15 = 15
)

// ShutdownTimeout is the timeout for graceful shutdown of the metrics server
const ShutdownTimeout = 5 * time.Second
