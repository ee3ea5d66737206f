package simulate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/camerahal/internal/capture"
	"github.com/tphakala/camerahal/internal/channel"
	"github.com/tphakala/camerahal/internal/errors"
)

func TestNewFrameSource(t *testing.T) {
	t.Parallel()

	unthrottled := newFrameSource(10, 0)
	assert.Nil(t, unthrottled.limiter)
	assert.Equal(t, uint64(1), unthrottled.next)

	paced := newFrameSource(10, 30)
	require.NotNil(t, paced.limiter)
	assert.InDelta(t, 30.0, float64(paced.limiter.Limit()), 0.001)
	assert.Equal(t, 1, paced.limiter.Burst())
}

func TestFrameSourceRateWaitCancelled(t *testing.T) {
	t.Parallel()

	src := newFrameSource(10, 1)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	ok, err := src.submit(ctx, nil, func(uint64) *capture.CaptureRequest {
		t.Fatal("request built after cancelled rate wait")
		return nil
	})
	assert.True(t, ok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
	assert.Equal(t, uint64(1), src.next, "frame number consumed by a cancelled wait")
}

func TestFrameSourceExhausted(t *testing.T) {
	t.Parallel()

	src := newFrameSource(0, 0)
	ok, err := src.submit(t.Context(), nil, nil)
	assert.False(t, ok)
	require.NoError(t, err)
}

func TestRequestShape(t *testing.T) {
	t.Parallel()

	streams := []capture.StreamConfig{
		{ID: "preview", Kind: channel.KindRegular},
		{ID: "still", Kind: channel.KindPicture},
		{ID: "raw", Kind: channel.KindRaw},
	}
	assert.Equal(t, []string{"preview"}, requestShape(0, streams))
	assert.Equal(t, []string{"preview", "still"}, requestShape(1, streams))
	assert.Equal(t, []string{"raw"}, requestShape(0, streams[2:]))
}
