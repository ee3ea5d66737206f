package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/camerahal/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("testing.(*T).Run"),
	)
}

func TestParseStreamKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    StreamKind
		wantErr bool
	}{
		{"regular", KindRegular, false},
		{"RAW", KindRaw, false},
		{" picture ", KindPicture, false},
		{"metadata", KindMetadata, false},
		{"support", KindSupport, false},
		{"raw-dump", KindRawDump, false},
		{"raw_dump", KindRawDump, false},
		{"video", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseStreamKind(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnknownKind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStreamKind_TextRoundTrip(t *testing.T) {
	t.Parallel()

	for _, k := range Kinds() {
		text, err := k.MarshalText()
		require.NoError(t, err)

		var back StreamKind
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, k, back)
	}

	assert.Equal(t, "unknown", StreamKind(42).String())
	_, err := StreamKind(42).MarshalText()
	require.Error(t, err)
}

func TestQueueChannel_RejectsWhileStopped(t *testing.T) {
	t.Parallel()

	ch := NewQueueChannel(KindRegular, 4)
	err := ch.Request(Job{FrameNumber: 1, StreamID: "preview"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChannelStopped)
	assert.True(t, errors.IsCategory(err, errors.CategoryChannel))

	_, err = ch.Next(context.Background())
	assert.ErrorIs(t, err, ErrChannelStopped)
}

func TestQueueChannel_FIFOAndOutstanding(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ch := NewQueueChannel(KindPicture, 4)
	require.NoError(t, ch.Start(ctx))

	for frame := uint64(1); frame <= 3; frame++ {
		require.NoError(t, ch.Request(Job{FrameNumber: frame, StreamID: "still", BufferID: frame}))
	}
	assert.Equal(t, 3, ch.Outstanding())

	for want := uint64(1); want <= 3; want++ {
		job, err := ch.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, job.FrameNumber)
		ch.BufferDone(job)
	}
	assert.Equal(t, 0, ch.Outstanding())
}

func TestQueueChannel_QueueFull(t *testing.T) {
	t.Parallel()

	ch := NewQueueChannel(KindRaw, 1)
	require.NoError(t, ch.Start(context.Background()))
	require.NoError(t, ch.Request(Job{FrameNumber: 1}))

	err := ch.Request(Job{FrameNumber: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestQueueChannel_StopWakesNext(t *testing.T) {
	t.Parallel()

	ch := NewQueueChannel(KindRegular, 4)
	require.NoError(t, ch.Start(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := ch.Next(context.Background())
		done <- err
	}()

	// Give Next a chance to block before stopping
	time.Sleep(10 * time.Millisecond)
	ch.Stop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrChannelStopped)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Stop")
	}
}

func TestQueueChannel_NextHonoursContext(t *testing.T) {
	t.Parallel()

	ch := NewQueueChannel(KindSupport, 4)
	require.NoError(t, ch.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ch.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueChannel_StartWithCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := NewQueueChannel(KindRegular, 1)
	err := ch.Start(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
	assert.False(t, ch.Running())
}

func TestSet_RestartDiscardsQueuedJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	regular := NewQueueChannel(KindRegular, 4)
	picture := NewQueueChannel(KindPicture, 4)

	set, err := NewSet(regular, picture)
	require.NoError(t, err)
	assert.Equal(t, []StreamKind{KindRegular, KindPicture}, set.Kinds())

	require.NoError(t, set.StartAll(ctx))
	require.NoError(t, regular.Request(Job{FrameNumber: 1, StreamID: "preview"}))
	require.NoError(t, picture.Request(Job{FrameNumber: 1, StreamID: "still"}))

	discarded, err := set.Restart(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, discarded)
	assert.True(t, regular.Running())
	assert.True(t, picture.Running())
	assert.Equal(t, 0, regular.Outstanding())
}

func TestSet_DuplicateAndMissingKind(t *testing.T) {
	t.Parallel()

	_, err := NewSet(NewQueueChannel(KindRaw, 1), NewQueueChannel(KindRaw, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateKind)

	set, err := NewSet(NewQueueChannel(KindRegular, 1))
	require.NoError(t, err)

	_, err = set.Get(KindRawDump)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}
