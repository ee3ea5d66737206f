package capture

import "time"

// Default device limits. MaxInflight and MinInflight form the admission
// hysteresis window.
const (
	DefaultMaxInflight        = 6
	DefaultMinInflight        = 3
	DefaultPartialResultCount = 2
)

// Default timing values
const (
	// DefaultSubmitTimeout is the absolute deadline for a blocked submission
	DefaultSubmitTimeout = 5 * time.Second

	// DefaultFenceTimeout bounds the wait on a reprocess input release fence
	DefaultFenceTimeout = 2 * time.Second

	// DefaultFrameInterval is used to interpolate timestamps of frames whose
	// metadata never arrived (30 fps)
	DefaultFrameInterval = 33333333 * time.Nanosecond

	// DefaultDropRecordTTL expires drop marks whose buffer never surfaces
	DefaultDropRecordTTL = 10 * time.Second
)

// Result kinds used for logging and metrics
const (
	resultPartial    = "partial"
	resultFinal      = "final"
	resultBufferOnly = "buffer_only"
	resultReprocess  = "reprocess"
	resultFlush      = "flush"
	resultRejected   = "rejected"
)

// Submission outcomes
const (
	submitAdmitted      = "admitted"
	submitRejected      = "rejected"
	submitTimeout       = "timeout"
	submitCancelled     = "cancelled"
	submitFlushed       = "flushed"
	submitDispatchError = "dispatch_error"
)

// Protocol violation kinds
const (
	violationMissingMetadata = "missing_metadata"
	violationUnknownFrame    = "unknown_frame"
	violationStaleBuffer     = "stale_buffer"
	violationExtraPartial    = "extra_partial"
	violationUnknownDrop     = "unknown_drop_stream"
	violationTranslate       = "translate_failed"
)
