package conf

import (
	"time"

	"github.com/tphakala/camerahal/internal/logger"
)

// Settings is the root of the camhal configuration
type Settings struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`

	Pipeline  PipelineSettings     `mapstructure:"pipeline" yaml:"pipeline"`
	Logging   logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsSettings      `mapstructure:"metrics" yaml:"metrics"`
	Telemetry TelemetrySettings    `mapstructure:"telemetry" yaml:"telemetry"`
	Simulator SimulatorSettings    `mapstructure:"simulator" yaml:"simulator"`
}

// PipelineSettings contains the per-device capture limits
type PipelineSettings struct {
	CameraID           string           `mapstructure:"camera_id" yaml:"camera_id"`
	MaxInflight        int              `mapstructure:"max_inflight" yaml:"max_inflight"`                 // admission ceiling
	MinInflight        int              `mapstructure:"min_inflight" yaml:"min_inflight"`                 // completion wakes admit below this
	PartialResultCount int              `mapstructure:"partial_result_count" yaml:"partial_result_count"` // results per frame, final included
	SubmitTimeout      time.Duration    `mapstructure:"submit_timeout" yaml:"submit_timeout"`
	FenceTimeout       time.Duration    `mapstructure:"fence_timeout" yaml:"fence_timeout"`
	FrameInterval      time.Duration    `mapstructure:"frame_interval" yaml:"frame_interval"`
	DropRecordTTL      time.Duration    `mapstructure:"drop_record_ttl" yaml:"drop_record_ttl"`
	Streams            []StreamSettings `mapstructure:"streams" yaml:"streams"`
}

// StreamSettings describes one configured stream
type StreamSettings struct {
	ID     string `mapstructure:"id" yaml:"id"`
	Kind   string `mapstructure:"kind" yaml:"kind"` // regular, raw, picture, metadata, support, raw_dump
	Width  int    `mapstructure:"width" yaml:"width"`
	Height int    `mapstructure:"height" yaml:"height"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsSettings controls the Prometheus scrape endpoint
type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// TelemetrySettings controls Sentry error reporting
type TelemetrySettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	Environment string `mapstructure:"environment" yaml:"environment"`
	MinPriority string `mapstructure:"min_priority" yaml:"min_priority"` // low, medium, high, critical
}

// SimulatorSettings drives the simulated backend used by the simulate command
type SimulatorSettings struct {
	Frames          int           `mapstructure:"frames" yaml:"frames"`       // total frames across producers
	Producers       int           `mapstructure:"producers" yaml:"producers"` // concurrent submitters
	Latency         time.Duration `mapstructure:"latency" yaml:"latency"`     // base metadata latency
	Jitter          time.Duration `mapstructure:"jitter" yaml:"jitter"`
	ReorderRate     float64       `mapstructure:"reorder_rate" yaml:"reorder_rate"` // probability a final metadata event is withheld
	DropRate        float64       `mapstructure:"drop_rate" yaml:"drop_rate"`
	PartialMetadata bool          `mapstructure:"partial_metadata" yaml:"partial_metadata"` // emit urgent metadata before final
	PullInterval    time.Duration `mapstructure:"pull_interval" yaml:"pull_interval"`       // 0 disables backpressure pulls
	QueueDepth      int           `mapstructure:"queue_depth" yaml:"queue_depth"`
	Seed            int64         `mapstructure:"seed" yaml:"seed"`
	FrameRate       float64       `mapstructure:"frame_rate" yaml:"frame_rate"` // submissions per second, 0 is unthrottled
}
