package capture

import "github.com/tphakala/camerahal/internal/errors"

const componentCapture = "capture"

// Validation errors. Requests rejected with these leave the pipeline unchanged.
var (
	ErrNilRequest          = errors.Sentinel(componentCapture, errors.CategoryValidation, "nil capture request")
	ErrNoOutputBuffers     = errors.Sentinel(componentCapture, errors.CategoryValidation, "capture request has no output buffers")
	ErrMissingSettings     = errors.Sentinel(componentCapture, errors.CategoryValidation, "first request of a session carries no settings")
	ErrUnconfiguredStream  = errors.Sentinel(componentCapture, errors.CategoryValidation, "buffer references an unconfigured stream")
	ErrDuplicateStream     = errors.Sentinel(componentCapture, errors.CategoryValidation, "request targets the same stream twice")
	ErrOutputReleaseFence  = errors.Sentinel(componentCapture, errors.CategoryValidation, "output buffer carries a release fence")
	ErrInvalidInputFence   = errors.Sentinel(componentCapture, errors.CategoryValidation, "input buffer release fence already failed")
	ErrFrameOutOfOrder     = errors.Sentinel(componentCapture, errors.CategoryValidation, "frame number below a pending frame")
	ErrDuplicateFrame      = errors.Sentinel(componentCapture, errors.CategoryConflict, "frame number already submitted")
	ErrInvalidDeviceConfig = errors.Sentinel(componentCapture, errors.CategoryConfiguration, "invalid device configuration")
)

// Admission errors
var (
	ErrSubmitTimeout   = errors.Sentinel(componentCapture, errors.CategoryTimeout, "timed out waiting for in-flight capacity")
	ErrSubmitCancelled = errors.Sentinel(componentCapture, errors.CategoryCancellation, "submission cancelled while waiting for capacity")
)

// State errors
var (
	ErrDeviceError         = errors.Sentinel(componentCapture, errors.CategoryState, "device is in error state")
	ErrClosed              = errors.Sentinel(componentCapture, errors.CategoryState, "pipeline closed")
	ErrRequestsOutstanding = errors.Sentinel(componentCapture, errors.CategoryState, "requests still outstanding")
)

// Backend errors
var (
	ErrDispatchFailed = errors.Sentinel(componentCapture, errors.CategoryBackend, "backend dispatch failed")
	ErrRestartFailed  = errors.Sentinel(componentCapture, errors.CategoryFlush, "backend restart failed")
	ErrFenceTimeout   = errors.Sentinel(componentCapture, errors.CategoryReprocess, "timed out waiting on input release fence")
)
