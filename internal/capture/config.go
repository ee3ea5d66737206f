package capture

import (
	"fmt"
	"strings"
	"time"

	"github.com/tphakala/camerahal/internal/channel"
	"github.com/tphakala/camerahal/internal/errors"
)

// StreamConfig describes one configured output or input stream
type StreamConfig struct {
	ID     string
	Kind   channel.StreamKind
	Width  int
	Height int
	Format string
}

// DeviceConfig holds the per-device limits passed to a Pipeline at construction
type DeviceConfig struct {
	CameraID           string
	MaxInflight        int
	MinInflight        int
	PartialResultCount int
	SubmitTimeout      time.Duration
	FenceTimeout       time.Duration
	FrameInterval      time.Duration
	DropRecordTTL      time.Duration
	Streams            []StreamConfig
}

// DefaultDeviceConfig returns the default limits with no streams configured
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		CameraID:           "0",
		MaxInflight:        DefaultMaxInflight,
		MinInflight:        DefaultMinInflight,
		PartialResultCount: DefaultPartialResultCount,
		SubmitTimeout:      DefaultSubmitTimeout,
		FenceTimeout:       DefaultFenceTimeout,
		FrameInterval:      DefaultFrameInterval,
		DropRecordTTL:      DefaultDropRecordTTL,
	}
}

// Validate checks the limits and the stream set
func (c *DeviceConfig) Validate() error {
	var problems []string

	if c.MaxInflight < 1 {
		problems = append(problems, fmt.Sprintf("max in-flight must be at least 1, got %d", c.MaxInflight))
	}
	if c.MinInflight < 1 || c.MinInflight > c.MaxInflight {
		problems = append(problems, fmt.Sprintf("min in-flight must be between 1 and %d, got %d", c.MaxInflight, c.MinInflight))
	}
	if c.PartialResultCount < 1 {
		problems = append(problems, fmt.Sprintf("partial result count must be at least 1, got %d", c.PartialResultCount))
	}
	if c.SubmitTimeout <= 0 {
		problems = append(problems, "submit timeout must be positive")
	}
	if c.FenceTimeout <= 0 {
		problems = append(problems, "fence timeout must be positive")
	}
	if c.FrameInterval <= 0 {
		problems = append(problems, "frame interval must be positive")
	}
	if c.DropRecordTTL < 0 {
		problems = append(problems, "drop record TTL must not be negative")
	}
	if err := validateStreams(c.Streams); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return errors.New(fmt.Errorf("%w: %s", ErrInvalidDeviceConfig, strings.Join(problems, "; "))).
			Context("camera_id", c.CameraID).
			Build()
	}
	return nil
}

func validateStreams(streams []StreamConfig) error {
	if len(streams) == 0 {
		return errors.NewStd("no streams configured")
	}
	seen := make(map[string]struct{}, len(streams))
	for _, s := range streams {
		if s.ID == "" {
			return errors.NewStd("stream with empty id")
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("stream %q configured twice", s.ID)
		}
		if !s.Kind.Valid() {
			return fmt.Errorf("stream %q has invalid kind %d", s.ID, int(s.Kind))
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

func streamIndex(streams []StreamConfig) map[string]StreamConfig {
	idx := make(map[string]StreamConfig, len(streams))
	for _, s := range streams {
		idx[s.ID] = s
	}
	return idx
}
