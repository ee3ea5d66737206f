package capture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLedgerOrdering(t *testing.T) {
	t.Parallel()
	l := newRequestLedger()

	for _, f := range []uint64{3, 5, 9} {
		require.NoError(t, l.insert(newPendingRequest(request(f, streamPreview))))
	}
	require.ErrorIs(t, l.insert(newPendingRequest(request(4, streamPreview))), ErrFrameOutOfOrder)
	require.ErrorIs(t, l.insert(newPendingRequest(request(5, streamPreview))), ErrDuplicateFrame)

	assert.Equal(t, []uint64{3, 5, 9}, l.frames())
	upTo := l.ascendUpTo(6)
	require.Len(t, upTo, 2)
	assert.Equal(t, uint64(3), upTo[0].frameNumber)
	assert.Equal(t, uint64(5), upTo[1].frameNumber)

	assert.True(t, l.hasOlderThan(5))
	assert.False(t, l.hasOlderThan(3))
	high, ok := l.highest()
	require.True(t, ok)
	assert.Equal(t, uint64(9), high)

	l.remove(3)
	assert.False(t, l.hasOlderThan(5))
	l.clear()
	assert.Zero(t, l.len())
	_, ok = l.highest()
	assert.False(t, ok)
}

func TestPendingRequestSlots(t *testing.T) {
	t.Parallel()
	e := newPendingRequest(request(1, streamPreview, streamStill))

	assert.Nil(t, e.requested("depth"))
	assert.False(t, e.allFilled())
	e.requested(streamPreview).buffer = &StreamBuffer{StreamID: streamPreview}
	e.requested(streamStill).buffer = &StreamBuffer{StreamID: streamStill}
	assert.True(t, e.allFilled())
}

func TestPendingBufferMap(t *testing.T) {
	t.Parallel()
	m := newPendingBufferMap()
	m.add(2, StreamBuffer{StreamID: streamStill})
	m.add(2, StreamBuffer{StreamID: streamPreview})
	m.add(1, StreamBuffer{StreamID: streamPreview})

	assert.Equal(t, []uint64{1, 2}, m.frames())
	assert.True(t, m.has(2, streamStill))

	bufs := m.takeFrame(2)
	require.Len(t, bufs, 2)
	assert.Equal(t, streamPreview, bufs[0].StreamID)
	assert.Equal(t, 1, m.len())

	_, ok := m.take(1, streamPreview)
	assert.True(t, ok)
	_, ok = m.take(1, streamPreview)
	assert.False(t, ok)
}

func TestFrameDropRegistryConsumesOnce(t *testing.T) {
	t.Parallel()
	r := newFrameDropRegistry(0)
	r.mark(7, streamPreview)

	assert.False(t, r.consume(7, streamStill))
	assert.True(t, r.consume(7, streamPreview))
	assert.False(t, r.consume(7, streamPreview))
	assert.Zero(t, r.len())
}

func TestReprocessCacheOldest(t *testing.T) {
	t.Parallel()
	c := newReprocessCache()
	c.put(reprocessResult{frameNumber: 12})
	c.put(reprocessResult{frameNumber: 4})
	c.put(reprocessResult{frameNumber: 100})

	assert.Equal(t, []uint64{4, 12, 100}, c.frames())
	assert.Equal(t, 3, c.len())
	oldest, ok := c.oldest()
	require.True(t, ok)
	assert.Equal(t, uint64(4), oldest.frameNumber)

	c.remove(4)
	oldest, _ = c.oldest()
	assert.Equal(t, uint64(12), oldest.frameNumber)
	c.clear()
	_, ok = c.oldest()
	assert.False(t, ok)
}

func TestAdmissionGateBroadcast(t *testing.T) {
	t.Parallel()
	g := newAdmissionGate()
	gen := g.current()

	g.broadcast(WakePull)
	<-gen.ch
	assert.Equal(t, WakePull, gen.reason)
	assert.NotSame(t, gen, g.current())

	g.record(WakePull)
	g.record(WakePull)
	g.record(WakeNone)
	assert.Equal(t, map[string]uint64{"pull": 2}, g.snapshot())
}

func TestSignalFence(t *testing.T) {
	t.Parallel()

	f := NewSignalFence()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, f.Wait(ctx), context.Canceled)

	f.Fail(assert.AnError)
	f.Signal()
	require.ErrorIs(t, f.Wait(t.Context()), assert.AnError)
	require.NoError(t, SignalledFence().Wait(t.Context()))
}
