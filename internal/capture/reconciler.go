package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/camerahal/internal/errors"
	"github.com/tphakala/camerahal/internal/logger"
)

// delivery is one queued sink call
type delivery struct {
	notify *NotifyMessage
	result *CaptureResult
}

// outbox collects sink calls built under p.mu so they can be delivered in
// order after the lock is released
type outbox struct {
	items []delivery
}

func (o *outbox) notify(msg NotifyMessage) {
	o.items = append(o.items, delivery{notify: &msg})
}

func (o *outbox) result(r *CaptureResult) {
	o.items = append(o.items, delivery{result: r})
}

// commitLocked queues out behind earlier deliveries and releases p.mu. The
// first committer to find the queue idle drains it with p.mu released, so
// sink calls keep state-change order without holding the state lock.
func (p *Pipeline) commitLocked(out *outbox) {
	p.enqueueLocked(out)
	if p.delivering || len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}

	p.delivering = true
	for len(p.queue) > 0 {
		batch := p.queue
		p.queue = nil
		p.mu.Unlock()
		p.deliver(batch)
		p.mu.Lock()
	}
	p.delivering = false
	p.idle.Broadcast()
	p.mu.Unlock()
}

// enqueueLocked queues out without delivering it. Callers holding submitMu
// use it so a sink callback can still reach Submit; deliverQueued runs the
// queue once submitMu is released.
func (p *Pipeline) enqueueLocked(out *outbox) {
	p.updateGaugesLocked()
	p.queue = append(p.queue, out.items...)
}

func (p *Pipeline) deliverQueued() {
	p.mu.Lock()
	p.commitLocked(&outbox{})
}

func (p *Pipeline) deliver(batch []delivery) {
	for _, d := range batch {
		if d.notify != nil {
			p.sink.Notify(*d.notify)
			continue
		}
		p.sink.ProcessResult(d.result)
	}
}

// waitDeliveredLocked blocks until every queued delivery reached the sink
func (p *Pipeline) waitDeliveredLocked() {
	for p.delivering {
		p.idle.Wait()
	}
}

// OnMetadata handles a partial or final metadata event from the backend
func (p *Pipeline) OnMetadata(ev MetadataEvent) {
	p.mu.Lock()
	if p.flushing.Load() || p.closed {
		p.mu.Unlock()
		p.log.Debug("metadata event ignored",
			logger.Uint64("frame_number", ev.CompletedFrame),
			logger.Bool("flushing", p.flushing.Load()))
		return
	}

	out := &outbox{}
	if ev.Partial {
		p.handlePartialLocked(ev, out)
	} else {
		p.handleFinalLocked(ev, out)
	}
	p.commitLocked(out)
}

func (p *Pipeline) handlePartialLocked(ev MetadataEvent, out *outbox) {
	entry, ok := p.ledger.get(ev.CompletedFrame)
	if !ok {
		p.violationLocked(violationUnknownFrame, ev.CompletedFrame, "partial metadata for unknown frame")
		return
	}
	if entry.reprocess {
		p.log.Debug("partial metadata for reprocess frame ignored", logger.Uint64("frame_number", ev.CompletedFrame))
		return
	}
	if entry.partialResultCount >= p.cfg.PartialResultCount-1 {
		p.violationLocked(violationExtraPartial, ev.CompletedFrame, "partial metadata beyond partial result count")
		return
	}

	p.applyDropsLocked(entry, ev.DroppedStreams)
	if p.ledger.hasOlderThan(entry.frameNumber) {
		// the shutter of an older open frame must go out first
		p.log.Debug("partial metadata held behind older open frame",
			logger.Uint64("frame_number", entry.frameNumber))
		return
	}
	p.shutterLocked(entry, ev.Timestamp, out)

	md := p.translateLocked(entry, ev, true)
	entry.partialResultCount++
	out.result(&CaptureResult{
		FrameNumber:   entry.frameNumber,
		PartialResult: entry.partialResultCount,
		Metadata:      md,
		OutputBuffers: p.collectFilledLocked(entry, out),
	})
	p.metrics.RecordResult(resultPartial)
}

// handleFinalLocked completes CompletedFrame and every older open frame
func (p *Pipeline) handleFinalLocked(ev MetadataEvent, out *outbox) {
	completed := ev.CompletedFrame
	entries := p.ledger.ascendUpTo(completed)

	if exact, ok := p.ledger.get(completed); !ok {
		p.violationLocked(violationUnknownFrame, completed, "final metadata for unknown frame")
	} else if exact.reprocess {
		p.log.Debug("final metadata for reprocess frame ignored", logger.Uint64("frame_number", completed))
	} else {
		p.applyDropsLocked(exact, ev.DroppedStreams)
	}

	interval := p.cfg.FrameInterval.Nanoseconds()
	closed := 0
	for _, entry := range entries {
		if entry.reprocess {
			continue
		}

		var md *Metadata
		if entry.frameNumber < completed {
			ts := ev.Timestamp - int64(completed-entry.frameNumber)*interval
			p.violationLocked(violationMissingMetadata, entry.frameNumber, "frame completed without its own metadata")
			p.shutterLocked(entry, ts, out)
			md = &Metadata{
				FrameNumber:     entry.frameNumber,
				SensorTimestamp: ts,
				PipelineDepth:   entry.pipelineDepth,
				Synthesized:     true,
			}
		} else {
			p.shutterLocked(entry, ev.Timestamp, out)
			md = p.translateLocked(entry, ev, false)
		}

		entry.partialResultCount = p.cfg.PartialResultCount
		out.result(&CaptureResult{
			FrameNumber:   entry.frameNumber,
			PartialResult: p.cfg.PartialResultCount,
			Metadata:      md,
			OutputBuffers: p.collectFilledLocked(entry, out),
		})
		p.metrics.RecordResult(resultFinal)
		p.closeEntryLocked(entry)
		closed++
	}

	for _, entry := range p.ledger.entries() {
		entry.pipelineDepth++
	}

	if closed > 0 {
		p.resolveDeferredLocked(out)
		p.gate.broadcast(WakeCompletion)
	}
}

// translateLocked builds the metadata of the exact frame an event reports.
// A translation failure yields synthesized metadata with the event timestamp.
func (p *Pipeline) translateLocked(entry *pendingRequest, ev MetadataEvent, partial bool) *Metadata {
	md := &Metadata{
		FrameNumber:     entry.frameNumber,
		SensorTimestamp: ev.Timestamp,
		PipelineDepth:   entry.pipelineDepth,
	}
	payload, err := p.translator.Translate(entry.frameNumber, ev.Metadata, partial)
	if err != nil {
		p.violationLocked(violationTranslate, entry.frameNumber, "metadata translation failed", logger.Error(err))
		md.Synthesized = true
		return md
	}
	md.Payload = payload
	return md
}

// applyDropsLocked marks the dropped streams the entry actually requested
func (p *Pipeline) applyDropsLocked(entry *pendingRequest, dropped []string) {
	for _, stream := range dropped {
		if entry.requested(stream) == nil {
			p.violationLocked(violationUnknownDrop, entry.frameNumber, "drop reported for stream not in request",
				logger.String("stream", stream))
			continue
		}
		p.drops.mark(entry.frameNumber, stream)
		p.metrics.RecordFrameDrop(stream)
		p.log.Debug("frame drop recorded",
			logger.Uint64("frame_number", entry.frameNumber),
			logger.String("stream", stream))
	}
}

// shutterLocked queues the shutter notification once per entry
func (p *Pipeline) shutterLocked(entry *pendingRequest, ts int64, out *outbox) {
	if entry.shutterSent {
		return
	}
	entry.shutterSent = true
	out.notify(NotifyMessage{Type: NotifyShutter, FrameNumber: entry.frameNumber, Timestamp: ts})
}

// collectFilledLocked returns the entry's filled buffers not yet delivered
func (p *Pipeline) collectFilledLocked(entry *pendingRequest, out *outbox) []StreamBuffer {
	var bufs []StreamBuffer
	for i := range entry.buffers {
		rb := &entry.buffers[i]
		if rb.buffer == nil || rb.delivered {
			continue
		}
		bufs = append(bufs, p.returnBufferLocked(entry.frameNumber, *rb.buffer, out))
		rb.delivered = true
	}
	return bufs
}

// returnBufferLocked removes the buffer record and applies a pending drop
// mark. An errored buffer is announced with ERROR_BUFFER ahead of its result.
func (p *Pipeline) returnBufferLocked(frame uint64, buf StreamBuffer, out *outbox) StreamBuffer {
	p.buffers.take(frame, buf.StreamID)
	status := buf.Status
	if p.drops.consume(frame, buf.StreamID) {
		status = BufferStatusError
	}
	buf = buf.withStatus(status)
	if status == BufferStatusError {
		out.notify(NotifyMessage{
			Type:        NotifyError,
			FrameNumber: frame,
			ErrorCode:   ErrorBuffer,
			StreamID:    buf.StreamID,
		})
	}
	p.metrics.RecordBuffer(status.String())
	return buf
}

func (p *Pipeline) closeEntryLocked(entry *pendingRequest) {
	p.ledger.remove(entry.frameNumber)
	if p.inflight > 0 {
		p.inflight--
	}
	p.log.Trace("capture request completed",
		logger.Uint64("frame_number", entry.frameNumber),
		logger.Int("pipeline_depth", entry.pipelineDepth))
}

// OnBuffer handles a returned output buffer
func (p *Pipeline) OnBuffer(ev BufferEvent) {
	frame, stream := ev.FrameNumber, ev.Buffer.StreamID

	p.mu.Lock()
	if p.flushing.Load() || p.closed {
		p.mu.Unlock()
		p.log.Debug("buffer event ignored",
			logger.Uint64("frame_number", frame),
			logger.String("stream", stream))
		return
	}
	if !p.buffers.has(frame, stream) {
		p.violationLocked(violationStaleBuffer, frame, "buffer event without pending record",
			logger.String("stream", stream))
		p.mu.Unlock()
		return
	}

	entry, ok := p.ledger.get(frame)
	if ok && entry.reprocess && entry.input != nil && entry.input.ReleaseFence != nil {
		fence := entry.input.ReleaseFence
		p.mu.Unlock()

		if err := p.waitFence(fence, frame); err != nil {
			ev.Buffer.Status = BufferStatusError
		}

		p.mu.Lock()
		if p.flushing.Load() || p.closed {
			p.mu.Unlock()
			return
		}
		entry, ok = p.ledger.get(frame)
		if !ok || !p.buffers.has(frame, stream) {
			p.violationLocked(violationStaleBuffer, frame, "buffer record vanished during fence wait",
				logger.String("stream", stream))
			p.mu.Unlock()
			return
		}
	}

	out := &outbox{}
	switch {
	case !ok:
		buf := p.returnBufferLocked(frame, ev.Buffer, out)
		out.result(&CaptureResult{FrameNumber: frame, OutputBuffers: []StreamBuffer{buf}})
		p.metrics.RecordResult(resultBufferOnly)
	default:
		rb := entry.requested(stream)
		if rb == nil || rb.buffer != nil {
			p.violationLocked(violationStaleBuffer, frame, "duplicate buffer event",
				logger.String("stream", stream))
			break
		}
		buf := ev.Buffer
		rb.buffer = &buf
		if entry.reprocess && entry.allFilled() {
			p.completeReprocessLocked(entry, ev.Timestamp, out)
		}
	}
	p.commitLocked(out)
}

func (p *Pipeline) waitFence(fence Fence, frame uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.FenceTimeout)
	defer cancel()

	start := time.Now()
	if err := fence.Wait(ctx); err != nil {
		enh := errors.New(fmt.Errorf("%w: %w", ErrFenceTimeout, err)).
			FrameContext(frame, "").
			Timing("fence_wait", time.Since(start)).
			Build()
		p.log.Warn("input release fence failed", logger.Error(enh))
		return enh
	}
	return nil
}

// completeReprocessLocked delivers a finished reprocess request, or caches it
// when an older frame is still open
func (p *Pipeline) completeReprocessLocked(entry *pendingRequest, ts int64, out *outbox) {
	shutter := NotifyMessage{Type: NotifyShutter, FrameNumber: entry.frameNumber, Timestamp: ts}
	if p.ledger.hasOlderThan(entry.frameNumber) {
		p.reprocess.put(reprocessResult{frameNumber: entry.frameNumber, shutter: shutter})
		p.metrics.RecordDeferredReprocess()
		p.log.Debug("reprocess result deferred", logger.Uint64("frame_number", entry.frameNumber))
		return
	}
	p.finishReprocessLocked(entry, shutter, out)
	p.resolveDeferredLocked(out)
	p.gate.broadcast(WakeCompletion)
}

func (p *Pipeline) finishReprocessLocked(entry *pendingRequest, shutter NotifyMessage, out *outbox) {
	if !entry.shutterSent {
		entry.shutterSent = true
		out.notify(shutter)
	}
	result := &CaptureResult{
		FrameNumber:   entry.frameNumber,
		PartialResult: p.cfg.PartialResultCount,
		Metadata: &Metadata{
			FrameNumber:     entry.frameNumber,
			SensorTimestamp: shutter.Timestamp,
			PipelineDepth:   entry.pipelineDepth,
			Payload:         entry.settings,
		},
		OutputBuffers: p.collectFilledLocked(entry, out),
	}
	if entry.input != nil {
		in := entry.input.withStatus(BufferStatusOK)
		result.InputBuffer = &in
	}
	out.result(result)
	p.metrics.RecordResult(resultReprocess)
	p.closeEntryLocked(entry)
}

// resolveDeferredLocked delivers cached reprocess results whose older frames
// have all closed, lowest frame first
func (p *Pipeline) resolveDeferredLocked(out *outbox) {
	for {
		res, ok := p.reprocess.oldest()
		if !ok {
			return
		}
		entry, found := p.ledger.get(res.frameNumber)
		if !found {
			p.reprocess.remove(res.frameNumber)
			p.log.Warn("deferred reprocess result without ledger entry",
				logger.Uint64("frame_number", res.frameNumber))
			continue
		}
		if p.ledger.hasOlderThan(res.frameNumber) {
			return
		}
		p.reprocess.remove(res.frameNumber)
		p.finishReprocessLocked(entry, res.shutter, out)
	}
}

func (p *Pipeline) violationLocked(kind string, frame uint64, msg string, fields ...logger.Field) {
	p.metrics.RecordProtocolViolation(kind)
	fields = append(fields,
		logger.String("violation", kind),
		logger.Uint64("frame_number", frame))
	p.log.Warn(msg, fields...)
}
