// Package conf provides configuration management for camhal.
package conf

import "github.com/tphakala/camerahal/internal/logger"

// GetLogger returns the config package logger scoped to the config module.
// It is resolved on each call so it follows the logger installed at startup.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
