package errors

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingReporter captures reported errors
type recordingReporter struct {
	mu       sync.Mutex
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(err *EnhancedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reported = append(r.reported, err)
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
}

func TestSentinelMatching(t *testing.T) {
	t.Parallel()

	errTimeout := Sentinel("capture", CategoryAdmission, "submit timeout")
	errFull := Sentinel("capture", CategoryAdmission, "window full")

	wrapped := New(errTimeout).
		Context("frame_number", uint64(7)).
		Build()

	assert.ErrorIs(t, wrapped, errTimeout)
	assert.NotErrorIs(t, wrapped, errFull, "sentinels sharing a category must stay distinct")
	assert.Equal(t, CategoryAdmission, wrapped.Category)
	assert.Equal(t, "capture", wrapped.GetComponent())
	assert.Equal(t, uint64(7), wrapped.GetContext()["frame_number"])

	// The sentinel's own context is not mutated by the builder
	_, leaked := errTimeout.GetContext()["frame_number"]
	assert.False(t, leaked)
}

func TestIsCategory(t *testing.T) {
	t.Parallel()

	err := New(NewStd("boom")).Category(CategoryBackend).Build()
	wrapped := fmt.Errorf("dispatch: %w", err)

	assert.True(t, IsCategory(wrapped, CategoryBackend))
	assert.False(t, IsCategory(wrapped, CategoryFlush))
	assert.False(t, IsCategory(wrapped, CategoryNotFound))
}

func TestPriorityFallback(t *testing.T) {
	t.Parallel()

	ee := New(NewStd("x")).Priority("urgent").Build()
	assert.Equal(t, PriorityMedium, ee.GetPriority())

	ee = New(NewStd("x")).Priority(PriorityCritical).Build()
	assert.Equal(t, PriorityCritical, ee.GetPriority())
}

func TestReporterReceivesErrors(t *testing.T) {
	reporter := &recordingReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(NewStd("device died")).
		Component("capture").
		Category(CategoryBackend).
		Priority(PriorityCritical).
		Build()

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	require.Len(t, reporter.reported, 1)
	assert.Same(t, ee, reporter.reported[0])
}

func TestPriorityThreshold(t *testing.T) {
	t.Parallel()

	assert.True(t, priorityAtLeast(PriorityCritical, PriorityHigh))
	assert.False(t, priorityAtLeast(PriorityLow, PriorityHigh))
	assert.True(t, priorityAtLeast("", ""))
}

func TestScrubMessageForPrivacy(t *testing.T) {
	t.Parallel()

	scrubbed := scrubMessageForPrivacy("upload to https://example.com/path?token=abc failed")
	assert.Equal(t, "upload to https://example.com/path?[REDACTED] failed", scrubbed)

	scrubbed = scrubMessageForPrivacy("sensor device_id=CAM-0042 stalled")
	assert.False(t, strings.Contains(scrubbed, "CAM-0042"))
}

func TestGenerateErrorTitle(t *testing.T) {
	t.Parallel()

	ee := New(NewStd("x")).
		Component("capture").
		Category(CategoryFlush).
		Context("operation", "restart_channels").
		Build()

	assert.Equal(t, "Capture Flush Error Restart Channels", generateErrorTitle(ee))
}
