package capture

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/camerahal/internal/errors"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MinInflight = cfg.MaxInflight + 1
	_, err := New(cfg, &fakeBackend{}, &recordingSink{})
	require.ErrorIs(t, err, ErrInvalidDeviceConfig)

	_, err = New(testConfig(), nil, &recordingSink{})
	require.ErrorIs(t, err, ErrInvalidDeviceConfig)
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	failed := NewSignalFence()
	failed.Fail(errors.NewStd("producer failed"))

	tests := []struct {
		name  string
		setup func(t *testing.T, p *Pipeline)
		req   *CaptureRequest
		want  error
	}{
		{name: "nil request", want: ErrNilRequest},
		{name: "no output buffers", req: &CaptureRequest{FrameNumber: 1, Settings: []byte("s")}, want: ErrNoOutputBuffers},
		{
			name: "first request without settings",
			req:  &CaptureRequest{FrameNumber: 1, OutputBuffers: []StreamBuffer{{StreamID: streamPreview}}},
			want: ErrMissingSettings,
		},
		{name: "unconfigured stream", req: request(1, "depth"), want: ErrUnconfiguredStream},
		{name: "duplicate stream", req: request(1, streamPreview, streamPreview), want: ErrDuplicateStream},
		{
			name: "output release fence",
			req: &CaptureRequest{FrameNumber: 1, Settings: []byte("s"), OutputBuffers: []StreamBuffer{
				{StreamID: streamPreview, ReleaseFence: NewSignalFence()},
			}},
			want: ErrOutputReleaseFence,
		},
		{name: "failed input fence", req: reprocessRequest(1, failed), want: ErrInvalidInputFence},
		{
			name:  "frame below last",
			setup: func(t *testing.T, p *Pipeline) { mustSubmit(t, p, request(5, streamPreview)) },
			req:   request(3, streamPreview),
			want:  ErrFrameOutOfOrder,
		},
		{
			name:  "repeated frame",
			setup: func(t *testing.T, p *Pipeline) { mustSubmit(t, p, request(5, streamPreview)) },
			req:   request(5, streamPreview),
			want:  ErrDuplicateFrame,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, backend, sink := newTestPipeline(t, nil)
			if tt.setup != nil {
				tt.setup(t, p)
			}
			before := p.Stats()
			dispatched := backend.dispatchCount()

			err := p.Submit(t.Context(), tt.req)
			require.ErrorIs(t, err, tt.want)

			after := p.Stats()
			assert.Equal(t, before.InFlight, after.InFlight)
			assert.Equal(t, before.PendingRequests, after.PendingRequests)
			assert.Equal(t, before.PendingBuffers, after.PendingBuffers)
			assert.Equal(t, dispatched, backend.dispatchCount())
			assert.Empty(t, sink.errorsWith(ErrorRequest))
		})
	}
}

func TestSubmitSettingsOnlyRequiredOnce(t *testing.T) {
	t.Parallel()
	p, _, _ := newTestPipeline(t, nil)

	mustSubmit(t, p, request(1, streamPreview))
	req := request(2, streamPreview)
	req.Settings = nil
	require.NoError(t, p.Submit(t.Context(), req))
}

func TestSubmitAdmitsAndTracks(t *testing.T) {
	t.Parallel()
	p, backend, _ := newTestPipeline(t, nil)

	mustSubmit(t, p, request(1, streamPreview, streamStill))
	mustSubmit(t, p, request(2, streamPreview))

	stats := p.Stats()
	assert.Equal(t, 2, stats.InFlight)
	assert.Equal(t, 2, stats.PendingRequests)
	assert.Equal(t, 3, stats.PendingBuffers)
	assert.Equal(t, 2, backend.dispatchCount())
	assert.NotEmpty(t, stats.SessionID)
}

func TestSubmitDispatchFailureRollsBack(t *testing.T) {
	t.Parallel()
	p, backend, _ := newTestPipeline(t, nil)

	backend.dispatchErr = errors.NewStd("queue closed")
	err := p.Submit(t.Context(), request(1, streamPreview))
	require.ErrorIs(t, err, ErrDispatchFailed)
	requireCategory(t, err, errors.CategoryBackend)

	stats := p.Stats()
	assert.Zero(t, stats.InFlight)
	assert.Zero(t, stats.PendingRequests)
	assert.Zero(t, stats.PendingBuffers)

	// the failed frame was never accepted, so it may be retried
	backend.mu.Lock()
	backend.dispatchErr = nil
	backend.mu.Unlock()
	mustSubmit(t, p, request(1, streamPreview))
}

func TestAdmissionBlocksUntilBelowMinimum(t *testing.T) {
	t.Parallel()
	p, backend, sink := newTestPipeline(t, func(c *DeviceConfig) {
		c.MaxInflight = 2
		c.MinInflight = 2
	})

	mustSubmit(t, p, request(1, streamPreview))
	mustSubmit(t, p, request(2, streamPreview))

	var wg conc.WaitGroup
	var submitErr error
	wg.Go(func() { submitErr = p.Submit(context.Background(), request(3, streamPreview)) })

	require.Never(t, func() bool { return backend.dispatchCount() == 3 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 2, p.Stats().InFlight)

	p.OnBuffer(filled(1, streamPreview))
	p.OnMetadata(final(1, 1000))

	wg.Wait()
	require.NoError(t, submitErr)
	assert.Equal(t, 3, backend.dispatchCount())
	assert.Equal(t, 2, p.Stats().InFlight)
	assert.Len(t, sink.resultsFor(1), 1)
	assert.Equal(t, uint64(1), p.Stats().Wakes["completion"])
}

func TestAdmissionHysteresis(t *testing.T) {
	t.Parallel()
	p, backend, _ := newTestPipeline(t, func(c *DeviceConfig) {
		c.MaxInflight = 3
		c.MinInflight = 2
	})

	for f := uint64(1); f <= 3; f++ {
		mustSubmit(t, p, request(f, streamPreview))
	}

	var wg conc.WaitGroup
	var submitErr error
	wg.Go(func() { submitErr = p.Submit(context.Background(), request(4, streamPreview)) })
	require.Never(t, func() bool { return backend.dispatchCount() == 4 }, 30*time.Millisecond, 5*time.Millisecond)

	// in-flight drops to 2, which is not below the minimum
	p.OnMetadata(final(1, 1000))
	require.Never(t, func() bool { return backend.dispatchCount() == 4 }, 30*time.Millisecond, 5*time.Millisecond)

	// a pull admits as soon as in-flight is below the maximum
	p.Pull()
	wg.Wait()
	require.NoError(t, submitErr)
	assert.Equal(t, 4, backend.dispatchCount())
	assert.Equal(t, 3, p.Stats().InFlight)
}

func TestAdmissionTimeout(t *testing.T) {
	t.Parallel()
	p, backend, _ := newTestPipeline(t, func(c *DeviceConfig) {
		c.MaxInflight = 1
		c.MinInflight = 1
		c.SubmitTimeout = 30 * time.Millisecond
	})

	mustSubmit(t, p, request(1, streamPreview))
	err := p.Submit(t.Context(), request(2, streamPreview))
	require.ErrorIs(t, err, ErrSubmitTimeout)
	requireCategory(t, err, errors.CategoryTimeout)

	stats := p.Stats()
	assert.Equal(t, 1, stats.InFlight)
	assert.Equal(t, 1, stats.PendingRequests)
	assert.Equal(t, 1, backend.dispatchCount())

	// a timed-out frame was never accepted
	p.OnMetadata(final(1, 1000))
	mustSubmit(t, p, request(2, streamPreview))
}

func TestAdmissionCancelled(t *testing.T) {
	t.Parallel()
	p, _, _ := newTestPipeline(t, func(c *DeviceConfig) {
		c.MaxInflight = 1
		c.MinInflight = 1
	})
	mustSubmit(t, p, request(1, streamPreview))

	ctx, cancel := context.WithCancel(t.Context())
	var wg conc.WaitGroup
	var submitErr error
	wg.Go(func() { submitErr = p.Submit(ctx, request(2, streamPreview)) })

	time.Sleep(10 * time.Millisecond)
	cancel()
	wg.Wait()

	require.ErrorIs(t, submitErr, ErrSubmitCancelled)
	assert.Equal(t, 1, p.Stats().InFlight)
}

func TestDeviceErrorReleasesWaiters(t *testing.T) {
	t.Parallel()
	p, _, sink := newTestPipeline(t, func(c *DeviceConfig) {
		c.MaxInflight = 1
		c.MinInflight = 1
	})
	mustSubmit(t, p, request(1, streamPreview))

	var wg conc.WaitGroup
	var submitErr error
	wg.Go(func() { submitErr = p.Submit(context.Background(), request(2, streamPreview)) })
	time.Sleep(10 * time.Millisecond)

	p.OnDeviceError(errors.NewStd("sensor lost"))
	p.OnDeviceError(errors.NewStd("again"))
	wg.Wait()

	require.ErrorIs(t, submitErr, ErrDeviceError)
	assert.Len(t, sink.errorsWith(ErrorDevice), 1)
	assert.True(t, p.Stats().DeviceError)

	err := p.Submit(t.Context(), request(3, streamPreview))
	require.ErrorIs(t, err, ErrDeviceError)
}

func TestConfigure(t *testing.T) {
	t.Parallel()
	p, _, _ := newTestPipeline(t, nil)
	session := p.Stats().SessionID

	mustSubmit(t, p, request(7, streamPreview))
	err := p.Configure(testStreams())
	require.ErrorIs(t, err, ErrRequestsOutstanding)

	require.NoError(t, p.Flush(t.Context()))
	require.NoError(t, p.Configure(testStreams()[:1]))
	assert.NotEqual(t, session, p.Stats().SessionID)

	// numbering and settings tracking restart with the session
	req := request(1, streamPreview)
	req.Settings = nil
	require.ErrorIs(t, p.Submit(t.Context(), req), ErrMissingSettings)
	mustSubmit(t, p, request(1, streamPreview))
	require.ErrorIs(t, p.Submit(t.Context(), request(2, streamStill)), ErrUnconfiguredStream)

	require.ErrorIs(t, p.Configure(nil), ErrRequestsOutstanding)
}

func TestConfigureRejectsInvalidStreams(t *testing.T) {
	t.Parallel()
	p, _, _ := newTestPipeline(t, nil)
	err := p.Configure([]StreamConfig{{ID: ""}})
	require.ErrorIs(t, err, ErrInvalidDeviceConfig)
}

func TestClose(t *testing.T) {
	t.Parallel()
	p, backend, sink := newTestPipeline(t, nil)
	mustSubmit(t, p, request(1, streamPreview))

	require.NoError(t, p.Close(t.Context()))
	assert.Equal(t, 1, backend.stops)
	assert.Len(t, sink.errorsWith(ErrorRequest), 1)
	assert.True(t, p.Stats().Closed)

	require.ErrorIs(t, p.Close(t.Context()), ErrClosed)
	require.ErrorIs(t, p.Submit(t.Context(), request(2, streamPreview)), ErrClosed)
	require.ErrorIs(t, p.Flush(t.Context()), ErrClosed)
}

// TestConcurrentCompletion drives a submitter and an asynchronous completer
// and checks every frame completes exactly once in order.
func TestConcurrentCompletion(t *testing.T) {
	t.Parallel()
	const frames = 200

	p, backend, sink := newTestPipeline(t, func(c *DeviceConfig) {
		c.MaxInflight = 4
		c.MinInflight = 2
	})
	dispatched := make(chan uint64, frames)
	backend.onDispatch = func(req *CaptureRequest) { dispatched <- req.FrameNumber }

	var wg conc.WaitGroup
	wg.Go(func() {
		for f := uint64(1); f <= frames; f++ {
			if err := p.Submit(context.Background(), request(f, streamPreview)); err != nil {
				t.Errorf("submit %d: %v", f, err)
				return
			}
		}
	})
	wg.Go(func() {
		for range frames {
			f := <-dispatched
			p.OnBuffer(filled(f, streamPreview))
			// skip every third metadata event; the next final closes it
			if f%3 != 0 || f == frames {
				p.OnMetadata(final(f, int64(f)*1_000_000))
			}
		}
	})
	wg.Wait()

	shutters := sink.shutters()
	require.Len(t, shutters, frames)
	for i, s := range shutters {
		assert.Equal(t, uint64(i+1), s.FrameNumber)
	}
	finals := 0
	for _, r := range sink.results() {
		if r.PartialResult == p.cfg.PartialResultCount {
			finals++
		}
	}
	assert.Equal(t, frames, finals)

	stats := p.Stats()
	assert.Zero(t, stats.InFlight)
	assert.Zero(t, stats.PendingRequests)
	assert.Zero(t, stats.PendingBuffers)
}

// inspectingSink reads pipeline state from inside its callbacks
type inspectingSink struct {
	recordingSink
	p        *Pipeline
	inspects atomic.Int64
}

func (s *inspectingSink) ProcessResult(r *CaptureResult) {
	_ = s.p.Stats()
	_ = s.p.Config()
	s.p.Pull()
	s.inspects.Add(1)
	s.recordingSink.ProcessResult(r)
}

func TestSinkCallbacksRunWithoutStateLock(t *testing.T) {
	t.Parallel()
	const rounds = 25

	sink := &inspectingSink{}
	p, err := New(testConfig(), &fakeBackend{}, sink, WithLogger(quietLogger()))
	require.NoError(t, err)
	sink.p = p

	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range uint64(rounds) {
			a, b := 2*r+1, 2*r+2
			for _, f := range []uint64{a, b} {
				if err := p.Submit(context.Background(), request(f, streamPreview)); err != nil {
					t.Errorf("submit %d: %v", f, err)
					return
				}
			}

			var wg conc.WaitGroup
			wg.Go(func() { p.OnMetadata(final(a, int64(a)*1000)) })
			wg.Go(func() { p.OnMetadata(final(b, int64(b)*1000)) })
			wg.Wait()
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("metadata handlers did not return while the sink inspected the pipeline")
	}

	shutters := sink.shutters()
	require.Len(t, shutters, 2*rounds)
	for i, s := range shutters {
		assert.Equal(t, uint64(i+1), s.FrameNumber)
	}
	assert.Equal(t, int64(2*rounds), sink.inspects.Load())
	assert.Zero(t, p.Stats().PendingRequests)
}

// resubmittingSink submits a new frame from inside a flush notification
type resubmittingSink struct {
	recordingSink
	p         *Pipeline
	submitErr error
}

func (s *resubmittingSink) Notify(msg NotifyMessage) {
	s.recordingSink.Notify(msg)
	if msg.Type == NotifyError && msg.ErrorCode == ErrorRequest && msg.FrameNumber == 1 {
		s.submitErr = s.p.Submit(context.Background(), request(100, streamPreview))
	}
}

func TestSinkSubmitDuringFlush(t *testing.T) {
	t.Parallel()

	sink := &resubmittingSink{}
	backend := &fakeBackend{}
	p, err := New(testConfig(), backend, sink, WithLogger(quietLogger()))
	require.NoError(t, err)
	sink.p = p
	mustSubmit(t, p, request(1, streamPreview))

	done := make(chan error, 1)
	go func() { done <- p.Flush(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("flush did not return while the sink submitted")
	}

	require.NoError(t, sink.submitErr)
	rejected := sink.errorsWith(ErrorRequest)
	require.Len(t, rejected, 2)
	assert.Equal(t, uint64(1), rejected[0].FrameNumber)
	assert.Equal(t, uint64(100), rejected[1].FrameNumber)
	require.Len(t, sink.resultsFor(100), 1)
	assert.Equal(t, BufferStatusError, sink.resultsFor(100)[0].OutputBuffers[0].Status)
	assert.Equal(t, 1, backend.dispatchCount())
	assert.Equal(t, 1, backend.restartCount())
}
