package channel

import "github.com/tphakala/camerahal/internal/errors"

const componentChannel = "channel"

// Sentinel errors for channel operations
var (
	// ErrUnknownKind is returned when a stream kind string does not name a declared kind
	ErrUnknownKind = errors.Sentinel(componentChannel, errors.CategoryValidation, "unknown stream kind")

	// ErrChannelStopped is returned by Request and Next while the channel is stopped
	ErrChannelStopped = errors.Sentinel(componentChannel, errors.CategoryChannel, "channel stopped")

	// ErrQueueFull is returned when a channel has no room for another job
	ErrQueueFull = errors.Sentinel(componentChannel, errors.CategoryLimit, "channel queue full")

	// ErrDuplicateKind is returned when a Set receives two channels of the same kind
	ErrDuplicateKind = errors.Sentinel(componentChannel, errors.CategoryConflict, "duplicate channel kind")

	// ErrNoChannel is returned when no channel serves the requested kind
	ErrNoChannel = errors.Sentinel(componentChannel, errors.CategoryNotFound, "no channel for kind")
)
