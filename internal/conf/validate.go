// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"

	"github.com/tphakala/camerahal/internal/channel"
	"github.com/tphakala/camerahal/internal/errors"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func() []string{
		func() []string { return validatePipelineSettings(&settings.Pipeline) },
		func() []string { return validateLoggingSettings(settings) },
		func() []string { return validateMetricsSettings(&settings.Metrics) },
		func() []string { return validateTelemetrySettings(&settings.Telemetry) },
		func() []string { return validateSimulatorSettings(&settings.Simulator) },
	}
	for _, validate := range validators {
		ve.Errors = append(ve.Errors, validate()...)
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Category(errors.CategoryValidation).
			Context("error_count", len(ve.Errors)).
			Build()
	}
	return nil
}

// validatePipelineSettings validates the capture pipeline limits and streams
func validatePipelineSettings(p *PipelineSettings) []string {
	var errs []string

	if p.MaxInflight < 1 {
		errs = append(errs, "pipeline.max_inflight must be at least 1")
	}
	if p.MinInflight < 1 || p.MinInflight > p.MaxInflight {
		errs = append(errs, fmt.Sprintf("pipeline.min_inflight must be between 1 and max_inflight (%d)", p.MaxInflight))
	}
	if p.PartialResultCount < 1 {
		errs = append(errs, "pipeline.partial_result_count must be at least 1")
	}
	if p.SubmitTimeout <= 0 {
		errs = append(errs, "pipeline.submit_timeout must be positive")
	}
	if p.FenceTimeout <= 0 {
		errs = append(errs, "pipeline.fence_timeout must be positive")
	}
	if p.FrameInterval <= 0 {
		errs = append(errs, "pipeline.frame_interval must be positive")
	}
	if p.DropRecordTTL < 0 {
		errs = append(errs, "pipeline.drop_record_ttl must not be negative")
	}

	if len(p.Streams) == 0 {
		errs = append(errs, "pipeline.streams must configure at least one stream")
	}
	seen := make(map[string]bool, len(p.Streams))
	for i, s := range p.Streams {
		if s.ID == "" {
			errs = append(errs, fmt.Sprintf("pipeline.streams[%d].id must not be empty", i))
		} else if seen[s.ID] {
			errs = append(errs, fmt.Sprintf("pipeline.streams[%d].id %q is duplicated", i, s.ID))
		}
		seen[s.ID] = true

		if _, err := channel.ParseStreamKind(s.Kind); err != nil {
			errs = append(errs, fmt.Sprintf("pipeline.streams[%d].kind %q is not a stream kind", i, s.Kind))
		}
		if s.Width < 0 || s.Height < 0 {
			errs = append(errs, fmt.Sprintf("pipeline.streams[%d] has negative dimensions", i))
		}
	}

	return errs
}

var validLogLevels = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}

// validateLoggingSettings checks log levels
func validateLoggingSettings(settings *Settings) []string {
	var errs []string
	l := &settings.Logging

	check := func(key, level string) {
		if level != "" && !validLogLevels[strings.ToLower(level)] {
			errs = append(errs, fmt.Sprintf("%s %q is not a valid log level", key, level))
		}
	}

	check("logging.default_level", l.DefaultLevel)
	if l.Console != nil {
		check("logging.console.level", l.Console.Level)
	}
	if l.FileOutput != nil {
		check("logging.file_output.level", l.FileOutput.Level)
		if l.FileOutput.Enabled && l.FileOutput.Path == "" {
			errs = append(errs, "logging.file_output.path is required when file output is enabled")
		}
	}
	for module, level := range l.ModuleLevels {
		check("logging.module_levels."+module, level)
	}

	return errs
}

// validateMetricsSettings checks the listen address when metrics are enabled
func validateMetricsSettings(m *MetricsSettings) []string {
	if !m.Enabled {
		return nil
	}

	var errs []string
	if _, _, err := net.SplitHostPort(m.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("metrics.listen %q is not a host:port address", m.Listen))
	}
	if m.Path != "" && !strings.HasPrefix(m.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}
	return errs
}

var validPriorities = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}

// validateTelemetrySettings checks Sentry settings when telemetry is enabled
func validateTelemetrySettings(t *TelemetrySettings) []string {
	if !t.Enabled {
		return nil
	}

	var errs []string
	if t.DSN == "" {
		errs = append(errs, "telemetry.dsn is required when telemetry is enabled")
	}
	if t.MinPriority != "" && !validPriorities[t.MinPriority] {
		errs = append(errs, fmt.Sprintf("telemetry.min_priority %q must be one of low, medium, high, critical", t.MinPriority))
	}
	return errs
}

// validateSimulatorSettings checks simulator rates and counts
func validateSimulatorSettings(s *SimulatorSettings) []string {
	var errs []string

	if s.Frames < 0 {
		errs = append(errs, "simulator.frames must not be negative")
	}
	if s.Producers < 1 {
		errs = append(errs, "simulator.producers must be at least 1")
	}
	if s.Latency < 0 || s.Jitter < 0 || s.PullInterval < 0 {
		errs = append(errs, "simulator durations must not be negative")
	}
	if s.ReorderRate < 0 || s.ReorderRate > 1 {
		errs = append(errs, "simulator.reorder_rate must be between 0 and 1")
	}
	if s.DropRate < 0 || s.DropRate > 1 {
		errs = append(errs, "simulator.drop_rate must be between 0 and 1")
	}
	if s.QueueDepth < 0 {
		errs = append(errs, "simulator.queue_depth must not be negative")
	}
	if s.FrameRate < 0 {
		errs = append(errs, "simulator.frame_rate must not be negative")
	}
	return errs
}
