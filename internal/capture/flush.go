package capture

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/tphakala/camerahal/internal/errors"
	"github.com/tphakala/camerahal/internal/logger"
)

// Flush aborts every outstanding request, returns all pending buffers with
// ERROR status and restarts the backend. Blocked submitters are released and
// their requests returned the same way.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	return p.flush(ctx)
}

// flush runs with flushMu held
func (p *Pipeline) flush(ctx context.Context) error {
	start := time.Now()

	p.mu.Lock()
	p.flushing.Store(true)
	p.inflight = 0
	p.gate.broadcast(WakeFlush)
	p.updateGaugesLocked()
	p.mu.Unlock()

	// Waiting submitters hold submitMu; they observe the flush and return
	// before the drain starts.
	p.submitMu.Lock()
	p.mu.Lock()
	out := &outbox{}
	frames := p.drainLocked(out)
	p.enqueueLocked(out)
	p.mu.Unlock()
	p.submitMu.Unlock()

	// every terminal notification reaches the sink before the restart
	p.deliverQueued()
	p.mu.Lock()
	p.waitDeliveredLocked()
	p.mu.Unlock()

	restartErr := p.backend.Restart(ctx)

	p.mu.Lock()
	p.flushing.Store(false)
	p.mu.Unlock()

	elapsed := time.Since(start)
	p.metrics.RecordFlush(elapsed.Seconds(), frames)

	if restartErr != nil {
		p.log.Error("backend restart after flush failed", logger.Error(restartErr))
		return errors.New(fmt.Errorf("%w: %w", ErrRestartFailed, restartErr)).
			Timing("flush", elapsed).
			Context("frames", frames).
			Build()
	}
	p.log.Info("flush completed",
		logger.Int("frames", frames),
		logger.Duration("duration", elapsed))
	return nil
}

// drainLocked queues error deliveries for every pending frame in ascending
// order and clears all collections. It returns the number of frames drained.
func (p *Pipeline) drainLocked(out *outbox) int {
	frames := p.ledger.frames()
	for _, f := range p.buffers.frames() {
		if _, ok := p.ledger.get(f); !ok {
			frames = append(frames, f)
		}
	}
	slices.Sort(frames)

	for _, frame := range frames {
		pending := p.buffers.takeFrame(frame)
		bufs := make([]StreamBuffer, 0, len(pending))
		for _, b := range pending {
			bufs = append(bufs, b.withStatus(BufferStatusError))
			p.metrics.RecordBuffer(BufferStatusError.String())
		}

		if entry, ok := p.ledger.get(frame); ok {
			out.notify(NotifyMessage{Type: NotifyError, FrameNumber: frame, ErrorCode: ErrorRequest})
			var input *StreamBuffer
			if entry.input != nil {
				in := entry.input.withStatus(BufferStatusError)
				input = &in
			}
			if len(bufs) > 0 || input != nil {
				out.result(&CaptureResult{FrameNumber: frame, OutputBuffers: bufs, InputBuffer: input})
				p.metrics.RecordResult(resultFlush)
			}
			continue
		}

		// metadata already delivered; only buffers remain
		for _, b := range bufs {
			out.notify(NotifyMessage{
				Type:        NotifyError,
				FrameNumber: frame,
				ErrorCode:   ErrorBuffer,
				StreamID:    b.StreamID,
			})
		}
		out.result(&CaptureResult{FrameNumber: frame, OutputBuffers: bufs})
		p.metrics.RecordResult(resultFlush)
	}

	p.ledger.clear()
	p.buffers.clear()
	p.drops.clear()
	p.reprocess.clear()

	if len(frames) > 0 {
		p.log.Debug("pending frames drained",
			logger.Int("frames", len(frames)),
			logger.Uint64("first_frame", frames[0]),
			logger.Uint64("last_frame", frames[len(frames)-1]))
	}
	return len(frames)
}
