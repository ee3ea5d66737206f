package capture

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/camerahal/internal/channel"
	"github.com/tphakala/camerahal/internal/errors"
	"github.com/tphakala/camerahal/internal/logger"
)

const (
	streamPreview = "preview"
	streamStill   = "still"
	streamInput   = "zsl_in"
)

// sinkEvent is one recorded sink call
type sinkEvent struct {
	notify *NotifyMessage
	result *CaptureResult
}

// recordingSink records every sink call in order
type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (s *recordingSink) Notify(msg NotifyMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{notify: &msg})
}

func (s *recordingSink) ProcessResult(r *CaptureResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{result: r})
}

func (s *recordingSink) all() []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkEvent(nil), s.events...)
}

func (s *recordingSink) notifies() []NotifyMessage {
	var out []NotifyMessage
	for _, e := range s.all() {
		if e.notify != nil {
			out = append(out, *e.notify)
		}
	}
	return out
}

func (s *recordingSink) shutters() []NotifyMessage {
	var out []NotifyMessage
	for _, n := range s.notifies() {
		if n.Type == NotifyShutter {
			out = append(out, n)
		}
	}
	return out
}

func (s *recordingSink) errorsWith(code ErrorCode) []NotifyMessage {
	var out []NotifyMessage
	for _, n := range s.notifies() {
		if n.Type == NotifyError && n.ErrorCode == code {
			out = append(out, n)
		}
	}
	return out
}

func (s *recordingSink) results() []*CaptureResult {
	var out []*CaptureResult
	for _, e := range s.all() {
		if e.result != nil {
			out = append(out, e.result)
		}
	}
	return out
}

func (s *recordingSink) resultsFor(frame uint64) []*CaptureResult {
	var out []*CaptureResult
	for _, r := range s.results() {
		if r.FrameNumber == frame {
			out = append(out, r)
		}
	}
	return out
}

// fakeBackend records dispatched requests
type fakeBackend struct {
	mu          sync.Mutex
	dispatched  []*CaptureRequest
	dispatchErr error
	restartErr  error
	restarts    int
	stops       int
	onDispatch  func(req *CaptureRequest)
	onRestart   func()
}

func (b *fakeBackend) Dispatch(_ context.Context, req *CaptureRequest) error {
	b.mu.Lock()
	err := b.dispatchErr
	hook := b.onDispatch
	if err == nil {
		b.dispatched = append(b.dispatched, req)
	}
	b.mu.Unlock()
	if err == nil && hook != nil {
		hook(req)
	}
	return err
}

func (b *fakeBackend) Restart(context.Context) error {
	b.mu.Lock()
	b.restarts++
	hook := b.onRestart
	err := b.restartErr
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (b *fakeBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops++
	return nil
}

func (b *fakeBackend) dispatchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.dispatched)
}

func (b *fakeBackend) restartCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.restarts
}

func testStreams() []StreamConfig {
	return []StreamConfig{
		{ID: streamPreview, Kind: channel.KindRegular, Width: 1280, Height: 720, Format: "yuv420"},
		{ID: streamStill, Kind: channel.KindPicture, Width: 4032, Height: 3024, Format: "jpeg"},
		{ID: streamInput, Kind: channel.KindRaw, Width: 4032, Height: 3024, Format: "raw10"},
	}
}

func testConfig() DeviceConfig {
	cfg := DefaultDeviceConfig()
	cfg.CameraID = "test"
	cfg.SubmitTimeout = 2 * time.Second
	cfg.FenceTimeout = 200 * time.Millisecond
	cfg.FrameInterval = 10 * time.Millisecond
	cfg.Streams = testStreams()
	return cfg
}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func newTestPipeline(t *testing.T, mutate func(*DeviceConfig)) (*Pipeline, *fakeBackend, *recordingSink) {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	backend := &fakeBackend{}
	sink := &recordingSink{}
	p, err := New(cfg, backend, sink, WithLogger(quietLogger()))
	require.NoError(t, err)
	return p, backend, sink
}

// request builds a capture request with settings and one buffer per stream
func request(frame uint64, streams ...string) *CaptureRequest {
	req := &CaptureRequest{FrameNumber: frame, Settings: []byte("settings")}
	for i, s := range streams {
		req.OutputBuffers = append(req.OutputBuffers, StreamBuffer{StreamID: s, BufferID: frame*10 + uint64(i)})
	}
	return req
}

// reprocessRequest builds a reprocess request reading from the input stream
func reprocessRequest(frame uint64, fence Fence) *CaptureRequest {
	req := request(frame, streamStill)
	req.InputBuffer = &StreamBuffer{StreamID: streamInput, BufferID: 900 + frame, ReleaseFence: fence}
	return req
}

func filled(frame uint64, stream string) BufferEvent {
	return BufferEvent{FrameNumber: frame, Buffer: StreamBuffer{StreamID: stream, BufferID: frame * 10}, Timestamp: int64(frame) * 1000}
}

func final(frame uint64, ts int64) MetadataEvent {
	return MetadataEvent{CompletedFrame: frame, Timestamp: ts, Metadata: []byte{byte(frame)}}
}

func mustSubmit(t *testing.T, p *Pipeline, req *CaptureRequest) {
	t.Helper()
	require.NoError(t, p.Submit(t.Context(), req))
}

func requireCategory(t *testing.T, err error, category errors.ErrorCategory) {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.IsCategory(err, category), "want category %s, got %v", category, err)
}
