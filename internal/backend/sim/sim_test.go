package sim

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/camerahal/internal/capture"
	"github.com/tphakala/camerahal/internal/channel"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("testing.(*T).Run"),
	)
}

type recordingHandler struct {
	mu       sync.Mutex
	metadata []capture.MetadataEvent
	buffers  []capture.BufferEvent
	pulls    int
}

func (h *recordingHandler) OnMetadata(ev capture.MetadataEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metadata = append(h.metadata, ev)
}

func (h *recordingHandler) OnBuffer(ev capture.BufferEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buffers = append(h.buffers, ev)
}

func (h *recordingHandler) Pull() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pulls++
}

func (h *recordingHandler) OnDeviceError(error) {}

func (h *recordingHandler) counts() (meta, bufs, pulls int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.metadata), len(h.buffers), h.pulls
}

func testStreams() []capture.StreamConfig {
	return []capture.StreamConfig{
		{ID: "preview", Kind: channel.KindRegular},
		{ID: "still", Kind: channel.KindPicture},
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Latency = 2 * time.Millisecond
	cfg.Jitter = time.Millisecond
	cfg.PullInterval = 5 * time.Millisecond
	return cfg
}

func startSim(t *testing.T, cfg Config) (*Backend, *recordingHandler) {
	t.Helper()
	b, err := New(cfg, testStreams())
	require.NoError(t, err)
	h := &recordingHandler{}
	b.Bind(h)
	require.NoError(t, b.Start(t.Context()))
	t.Cleanup(func() { assert.NoError(t, b.Stop()) })
	return b, h
}

func req(frame uint64, streams ...string) *capture.CaptureRequest {
	r := &capture.CaptureRequest{FrameNumber: frame}
	for _, s := range streams {
		r.OutputBuffers = append(r.OutputBuffers, capture.StreamBuffer{StreamID: s, BufferID: frame})
	}
	return r
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.DropRate = 1.5
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Jitter = cfg.Latency + time.Millisecond
	require.Error(t, cfg.Validate())
}

func TestStartRequiresHandler(t *testing.T) {
	t.Parallel()
	b, err := New(fastConfig(), testStreams())
	require.NoError(t, err)
	require.ErrorIs(t, b.Start(t.Context()), ErrNotBound)
	require.ErrorIs(t, b.Dispatch(t.Context(), req(1, "preview")), ErrNotRunning)
}

func TestDispatchProducesEvents(t *testing.T) {
	t.Parallel()
	b, h := startSim(t, fastConfig())

	require.NoError(t, b.Dispatch(t.Context(), req(1, "preview", "still")))
	require.NoError(t, b.Dispatch(t.Context(), req(2, "preview")))

	require.Eventually(t, func() bool {
		meta, bufs, _ := h.counts()
		return meta == 2 && bufs == 3
	}, time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool { return b.Pending() == 0 }, time.Second, 2*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ev := range h.metadata {
		assert.False(t, ev.Partial)
		assert.NotZero(t, ev.Timestamp)
	}
}

func TestDispatchUnknownStream(t *testing.T) {
	t.Parallel()
	b, _ := startSim(t, fastConfig())
	require.ErrorIs(t, b.Dispatch(t.Context(), req(1, "depth")), ErrUnknownStream)
	assert.Zero(t, b.Pending())
}

func TestReprocessHasNoMetadata(t *testing.T) {
	t.Parallel()
	b, h := startSim(t, fastConfig())

	r := req(1, "still")
	r.InputBuffer = &capture.StreamBuffer{StreamID: "preview"}
	require.NoError(t, b.Dispatch(t.Context(), r))

	require.Eventually(t, func() bool { return b.Pending() == 0 }, time.Second, 2*time.Millisecond)
	meta, bufs, _ := h.counts()
	assert.Zero(t, meta)
	assert.Equal(t, 1, bufs)
}

func TestPartialAndDrops(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.PartialMetadata = true
	cfg.DropRate = 1
	b, h := startSim(t, cfg)

	require.NoError(t, b.Dispatch(t.Context(), req(1, "preview")))
	require.Eventually(t, func() bool { return b.Pending() == 0 }, time.Second, 2*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.metadata, 2)
	assert.True(t, h.metadata[0].Partial)
	assert.Equal(t, []string{"preview"}, h.metadata[1].DroppedStreams)
}

func TestWithheldMetadata(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.ReorderRate = 1
	b, h := startSim(t, cfg)

	require.NoError(t, b.Dispatch(t.Context(), req(1, "preview")))
	require.Eventually(t, func() bool { return b.Pending() == 0 }, time.Second, 2*time.Millisecond)
	meta, bufs, _ := h.counts()
	assert.Zero(t, meta)
	assert.Equal(t, 1, bufs)
}

func TestRestartDiscardsQueuedJobs(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.Latency = time.Hour
	cfg.Jitter = 0
	cfg.PullInterval = 0
	b, h := startSim(t, cfg)

	require.NoError(t, b.Dispatch(t.Context(), req(1, "preview", "still")))
	assert.Equal(t, 1, b.Pending())

	require.NoError(t, b.Restart(t.Context()))
	assert.Zero(t, b.Pending())
	assert.Equal(t, 1, b.Restarts())

	meta, bufs, _ := h.counts()
	assert.Zero(t, meta)
	assert.Zero(t, bufs)

	// channels accept work again
	require.NoError(t, b.Dispatch(t.Context(), req(2, "preview")))
}

func TestPullLoop(t *testing.T) {
	t.Parallel()
	_, h := startSim(t, fastConfig())
	require.Eventually(t, func() bool {
		_, _, pulls := h.counts()
		return pulls >= 2
	}, time.Second, 2*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	b, err := New(fastConfig(), testStreams())
	require.NoError(t, err)
	b.Bind(&recordingHandler{})
	require.NoError(t, b.Start(t.Context()))
	require.NoError(t, b.Stop())
	require.NoError(t, b.Stop())
	require.ErrorIs(t, b.Restart(t.Context()), ErrNotRunning)
}
