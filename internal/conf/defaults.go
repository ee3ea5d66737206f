// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"

	"github.com/tphakala/camerahal/internal/capture"
	"github.com/tphakala/camerahal/internal/logger"
)

// setDefaultConfig registers default values for every configuration key.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("pipeline.camera_id", "0")
	v.SetDefault("pipeline.max_inflight", capture.DefaultMaxInflight)
	v.SetDefault("pipeline.min_inflight", capture.DefaultMinInflight)
	v.SetDefault("pipeline.partial_result_count", capture.DefaultPartialResultCount)
	v.SetDefault("pipeline.submit_timeout", capture.DefaultSubmitTimeout)
	v.SetDefault("pipeline.fence_timeout", capture.DefaultFenceTimeout)
	v.SetDefault("pipeline.frame_interval", capture.DefaultFrameInterval)
	v.SetDefault("pipeline.drop_record_ttl", capture.DefaultDropRecordTTL)
	v.SetDefault("pipeline.streams", []map[string]any{
		{"id": "preview", "kind": "regular", "width": 1920, "height": 1080, "format": "nv21"},
		{"id": "still", "kind": "picture", "width": 4032, "height": 3024, "format": "blob"},
	})

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9464")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")
	v.SetDefault("telemetry.environment", "production")
	v.SetDefault("telemetry.min_priority", "high")

	v.SetDefault("simulator.frames", 120)
	v.SetDefault("simulator.producers", 2)
	v.SetDefault("simulator.latency", "20ms")
	v.SetDefault("simulator.jitter", "10ms")
	v.SetDefault("simulator.reorder_rate", 0.1)
	v.SetDefault("simulator.drop_rate", 0.02)
	v.SetDefault("simulator.partial_metadata", true)
	v.SetDefault("simulator.pull_interval", "0s")
	v.SetDefault("simulator.queue_depth", 16)
	v.SetDefault("simulator.seed", 1)
	v.SetDefault("simulator.frame_rate", 0.0)
}
