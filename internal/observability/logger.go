package observability

import "github.com/tphakala/camerahal/internal/logger"

// Package-level cached logger instance.
var log = logger.Global().Module("observability")
