// Package scenario replays scripted backend event sequences against a
// capture pipeline and compares the sink transcript with expectations.
package scenario

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/camerahal/internal/capture"
	"github.com/tphakala/camerahal/internal/channel"
	"github.com/tphakala/camerahal/internal/errors"
)

const componentScenario = "scenario"

var (
	ErrInvalidScenario = errors.Sentinel(componentScenario, errors.CategoryFileParsing, "invalid scenario")
	ErrStepFailed      = errors.Sentinel(componentScenario, errors.CategoryProcessing, "scenario step failed")
)

// Op names a scenario step
type Op string

const (
	OpSubmit      Op = "submit"
	OpMetadata    Op = "metadata"
	OpPartial     Op = "partial"
	OpBuffer      Op = "buffer"
	OpPull        Op = "pull"
	OpFlush       Op = "flush"
	OpDeviceError Op = "device_error"
	OpSignal      Op = "signal"
	OpWait        Op = "wait"
	OpConfigure   Op = "configure"
)

// Stream is a configured stream in a scenario file
type Stream struct {
	ID     string             `yaml:"id"`
	Kind   channel.StreamKind `yaml:"kind"`
	Width  int                `yaml:"width"`
	Height int                `yaml:"height"`
	Format string             `yaml:"format"`
}

// Device overrides the default device limits
type Device struct {
	MaxInflight        int           `yaml:"max_inflight"`
	MinInflight        int           `yaml:"min_inflight"`
	PartialResultCount int           `yaml:"partial_result_count"`
	SubmitTimeout      time.Duration `yaml:"submit_timeout"`
	FenceTimeout       time.Duration `yaml:"fence_timeout"`
	FrameInterval      time.Duration `yaml:"frame_interval"`
	Streams            []Stream      `yaml:"streams"`
}

// Step is one scripted action. Fields not used by Op are ignored.
type Step struct {
	Op        Op       `yaml:"op"`
	Frame     uint64   `yaml:"frame"`
	Outputs   []string `yaml:"outputs"`
	Input     string   `yaml:"input"`
	Fence     bool     `yaml:"fence"` // input carries an unsignalled fence
	Settings  string   `yaml:"settings"`
	Stream    string   `yaml:"stream"`
	Status    string   `yaml:"status"`
	Timestamp int64    `yaml:"timestamp"`
	Dropped   []string `yaml:"dropped"`
	Metadata  string   `yaml:"metadata"`
	Async     bool     `yaml:"async"`
	Error     string   `yaml:"error"` // expected submit error code
	Message   string   `yaml:"message"`
	Streams   []Stream `yaml:"streams"`
}

// Scenario is a parsed scenario file
type Scenario struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Device      Device   `yaml:"device"`
	Steps       []Step   `yaml:"steps"`
	Expect      []string `yaml:"expect"`
}

// Load reads a scenario file
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component(componentScenario).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	s, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if s.Name == "" {
		s.Name = path
	}
	return s, nil
}

// Parse decodes and validates a scenario
func Parse(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, errors.New(fmt.Errorf("%w: %w", ErrInvalidScenario, err)).Build()
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Scenario) validate() error {
	if len(s.Steps) == 0 {
		return errors.New(fmt.Errorf("%w: no steps", ErrInvalidScenario)).Build()
	}
	for i, st := range s.Steps {
		switch st.Op {
		case OpSubmit:
			if len(st.Outputs) == 0 {
				return stepError(i, st, "submit without outputs")
			}
		case OpBuffer:
			if st.Stream == "" {
				return stepError(i, st, "buffer without stream")
			}
			if st.Status != "" && st.Status != "ok" && st.Status != "error" {
				return stepError(i, st, "buffer status must be ok or error")
			}
		case OpConfigure:
			if len(st.Streams) == 0 {
				return stepError(i, st, "configure without streams")
			}
		case OpMetadata, OpPartial, OpPull, OpFlush, OpDeviceError, OpSignal, OpWait:
		default:
			return stepError(i, st, "unknown op")
		}
	}
	return nil
}

func stepError(i int, st Step, msg string) error {
	return errors.New(fmt.Errorf("%w: step %d (%s): %s", ErrInvalidScenario, i+1, st.Op, msg)).
		Context("step", i+1).
		Build()
}

// DeviceConfig merges the overrides onto the capture defaults
func (d Device) DeviceConfig() capture.DeviceConfig {
	cfg := capture.DefaultDeviceConfig()
	cfg.CameraID = componentScenario
	if d.MaxInflight > 0 {
		cfg.MaxInflight = d.MaxInflight
	}
	if d.MinInflight > 0 {
		cfg.MinInflight = d.MinInflight
	}
	if d.PartialResultCount > 0 {
		cfg.PartialResultCount = d.PartialResultCount
	}
	if d.SubmitTimeout > 0 {
		cfg.SubmitTimeout = d.SubmitTimeout
	}
	if d.FenceTimeout > 0 {
		cfg.FenceTimeout = d.FenceTimeout
	}
	if d.FrameInterval > 0 {
		cfg.FrameInterval = d.FrameInterval
	}
	cfg.Streams = streamConfigs(d.Streams)
	return cfg
}

func streamConfigs(streams []Stream) []capture.StreamConfig {
	out := make([]capture.StreamConfig, len(streams))
	for i, s := range streams {
		out[i] = capture.StreamConfig{ID: s.ID, Kind: s.Kind, Width: s.Width, Height: s.Height, Format: s.Format}
	}
	return out
}
