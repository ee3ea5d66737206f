package sim

import (
	"fmt"
	"strings"
	"time"

	"github.com/tphakala/camerahal/internal/errors"
)

// Config tunes the simulated sensor
type Config struct {
	// Latency is the mean time from dispatch to each completion
	Latency time.Duration
	// Jitter is the maximum deviation added to or subtracted from Latency
	Jitter time.Duration
	// ReorderRate is the probability that a frame's final metadata is
	// withheld, leaving the next final event to complete it
	ReorderRate float64
	// DropRate is the per-buffer probability of a reported frame drop
	DropRate float64
	// PartialMetadata emits one urgent partial event ahead of each final
	PartialMetadata bool
	// PullInterval is the period of Pull calls; zero disables them
	PullInterval time.Duration
	// QueueDepth bounds each channel queue
	QueueDepth int
	// Seed makes a run reproducible
	Seed uint64
}

// DefaultConfig returns a 30 fps sensor with light jitter
func DefaultConfig() Config {
	return Config{
		Latency:      33 * time.Millisecond,
		Jitter:       5 * time.Millisecond,
		PullInterval: 100 * time.Millisecond,
		QueueDepth:   16,
		Seed:         1,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	var problems []string
	if c.Latency < 0 || c.Jitter < 0 || c.PullInterval < 0 {
		problems = append(problems, "durations must not be negative")
	}
	if c.Jitter > c.Latency {
		problems = append(problems, "jitter must not exceed latency")
	}
	if c.ReorderRate < 0 || c.ReorderRate > 1 {
		problems = append(problems, fmt.Sprintf("reorder rate %.2f out of [0,1]", c.ReorderRate))
	}
	if c.DropRate < 0 || c.DropRate > 1 {
		problems = append(problems, fmt.Sprintf("drop rate %.2f out of [0,1]", c.DropRate))
	}
	if len(problems) > 0 {
		return errors.Newf("invalid simulator config: %s", strings.Join(problems, "; ")).
			Component(componentSim).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}
