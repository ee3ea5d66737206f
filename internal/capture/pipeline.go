package capture

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/camerahal/internal/errors"
	"github.com/tphakala/camerahal/internal/logger"
)

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger; the default is the global "capture" module logger
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.baseLog = l
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m MetricsRecorder) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithTranslator sets the metadata translator; the default copies blobs unchanged
func WithTranslator(t Translator) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.translator = t
		}
	}
}

// Pipeline is the capture request control path of one camera device.
//
// Lock order is submitMu, then mu. Sink callbacks run with no pipeline lock
// held, one at a time and in the order the state changes happened. A sink may
// call any method except Flush and Close, which wait for queued deliveries.
type Pipeline struct {
	cfg        DeviceConfig
	streams    map[string]StreamConfig
	backend    Backend
	sink       ResultSink
	translator Translator
	metrics    MetricsRecorder
	baseLog    logger.Logger
	log        logger.Logger

	submitMu sync.Mutex // serializes Submit, Configure and the flush drain
	flushMu  sync.Mutex // serializes Flush and Close

	mu        sync.Mutex
	sessionID string
	ledger    *requestLedger
	buffers   *pendingBufferMap
	drops     *frameDropRegistry
	reprocess *reprocessCache
	gate      *admissionGate
	inflight  int
	waiting   int

	queue      []delivery // sink calls not yet delivered
	delivering bool
	idle       *sync.Cond // signalled when the queue drains

	settingsSeen bool
	hasLastFrame bool
	lastFrame    uint64
	deviceErr    error
	closed       bool

	flushing atomic.Bool
}

var _ EventHandler = (*Pipeline)(nil)

// New creates a pipeline for the device described by cfg
func New(cfg DeviceConfig, backend Backend, sink ResultSink, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil || sink == nil {
		return nil, errors.New(fmt.Errorf("%w: backend and result sink are required", ErrInvalidDeviceConfig)).
			Context("camera_id", cfg.CameraID).
			Build()
	}

	cfg.Streams = slices.Clone(cfg.Streams)
	p := &Pipeline{
		cfg:        cfg,
		streams:    streamIndex(cfg.Streams),
		backend:    backend,
		sink:       sink,
		translator: passthroughTranslator,
		metrics:    nopMetrics{},
		baseLog:    logger.Global().Module("capture"),
		ledger:     newRequestLedger(),
		buffers:    newPendingBufferMap(),
		drops:      newFrameDropRegistry(cfg.DropRecordTTL),
		reprocess:  newReprocessCache(),
		gate:       newAdmissionGate(),
	}
	p.idle = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	p.newSessionLocked()

	p.log.Info("capture pipeline created",
		logger.Int("max_inflight", cfg.MaxInflight),
		logger.Int("min_inflight", cfg.MinInflight),
		logger.Int("partial_result_count", cfg.PartialResultCount),
		logger.Int("streams", len(cfg.Streams)))
	return p, nil
}

func (p *Pipeline) newSessionLocked() {
	p.sessionID = uuid.NewString()
	p.log = p.baseLog.With(
		logger.String("camera_id", p.cfg.CameraID),
		logger.String("session_id", p.sessionID))
}

// Config returns a copy of the device configuration
func (p *Pipeline) Config() DeviceConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg := p.cfg
	cfg.Streams = slices.Clone(p.cfg.Streams)
	return cfg
}

// Submit validates req, waits for in-flight capacity and dispatches it to
// the backend. A request rejected because of a concurrent flush returns nil;
// its buffers come back through the sink with ERROR status.
func (p *Pipeline) Submit(ctx context.Context, req *CaptureRequest) error {
	err := p.submit(ctx, req)
	p.deliverQueued()
	return err
}

func (p *Pipeline) submit(ctx context.Context, req *CaptureRequest) error {
	p.submitMu.Lock()
	defer p.submitMu.Unlock()

	p.mu.Lock()
	if err := p.checkStateLocked(); err != nil {
		p.mu.Unlock()
		p.metrics.RecordSubmission(submitRejected)
		return err
	}
	if err := p.validateLocked(req); err != nil {
		p.mu.Unlock()
		p.metrics.RecordSubmission(submitRejected)
		p.log.WithContext(ctx).Debug("capture request rejected", logger.Error(err))
		return err
	}
	if p.flushing.Load() {
		p.rejectFlushedLocked(req)
		p.mu.Unlock()
		return nil
	}

	waitStart := time.Now()
	reason, err := p.awaitCapacityLocked(ctx)
	if reason != WakeNone {
		p.metrics.RecordAdmissionWait(reason.String(), time.Since(waitStart).Seconds())
	}
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if reason == WakeFlush {
		p.rejectFlushedLocked(req)
		p.mu.Unlock()
		return nil
	}

	entry := newPendingRequest(req)
	if err := p.ledger.insert(entry); err != nil {
		p.mu.Unlock()
		p.metrics.RecordSubmission(submitRejected)
		return err
	}
	for _, b := range req.OutputBuffers {
		p.buffers.add(req.FrameNumber, b)
	}
	prevSettings, prevHasLast, prevLast := p.settingsSeen, p.hasLastFrame, p.lastFrame
	p.settingsSeen = true
	p.hasLastFrame = true
	p.lastFrame = req.FrameNumber
	p.inflight++
	p.updateGaugesLocked()
	p.mu.Unlock()

	if p.flushing.Load() {
		// the drain returns the request with ERROR status
		p.log.Debug("skipping dispatch during flush", logger.Uint64("frame_number", req.FrameNumber))
		p.metrics.RecordSubmission(submitFlushed)
		return nil
	}

	if err := p.backend.Dispatch(ctx, req); err != nil {
		p.mu.Lock()
		if _, ok := p.ledger.get(req.FrameNumber); ok {
			p.ledger.remove(req.FrameNumber)
			for _, b := range req.OutputBuffers {
				p.buffers.take(req.FrameNumber, b.StreamID)
			}
			if p.inflight > 0 {
				p.inflight--
			}
			p.settingsSeen, p.hasLastFrame, p.lastFrame = prevSettings, prevHasLast, prevLast
			p.gate.broadcast(WakeCompletion)
			p.updateGaugesLocked()
		}
		p.mu.Unlock()

		p.metrics.RecordSubmission(submitDispatchError)
		p.log.WithContext(ctx).Warn("backend dispatch failed",
			logger.Uint64("frame_number", req.FrameNumber),
			logger.Error(err))
		return errors.New(fmt.Errorf("%w: %w", ErrDispatchFailed, err)).
			FrameContext(req.FrameNumber, "").
			Build()
	}

	p.metrics.RecordSubmission(submitAdmitted)
	p.log.WithContext(ctx).Trace("capture request dispatched",
		logger.Uint64("frame_number", req.FrameNumber),
		logger.Int("output_buffers", len(req.OutputBuffers)),
		logger.Bool("reprocess", req.IsReprocess()))
	return nil
}

func (p *Pipeline) checkStateLocked() error {
	if p.closed {
		return ErrClosed
	}
	if p.deviceErr != nil {
		return errors.New(fmt.Errorf("%w: %w", ErrDeviceError, p.deviceErr)).Build()
	}
	return nil
}

func (p *Pipeline) validateLocked(req *CaptureRequest) error {
	if req == nil {
		return ErrNilRequest
	}
	if len(req.OutputBuffers) == 0 {
		return errors.New(ErrNoOutputBuffers).FrameContext(req.FrameNumber, "").Build()
	}
	if !p.settingsSeen && len(req.Settings) == 0 {
		return errors.New(ErrMissingSettings).FrameContext(req.FrameNumber, "").Build()
	}

	seen := make(map[string]struct{}, len(req.OutputBuffers))
	for _, b := range req.OutputBuffers {
		if _, ok := p.streams[b.StreamID]; !ok {
			return errors.New(ErrUnconfiguredStream).FrameContext(req.FrameNumber, b.StreamID).Build()
		}
		if _, dup := seen[b.StreamID]; dup {
			return errors.New(ErrDuplicateStream).FrameContext(req.FrameNumber, b.StreamID).Build()
		}
		seen[b.StreamID] = struct{}{}
		if b.ReleaseFence != nil {
			return errors.New(ErrOutputReleaseFence).FrameContext(req.FrameNumber, b.StreamID).Build()
		}
	}

	if in := req.InputBuffer; in != nil {
		if _, ok := p.streams[in.StreamID]; !ok {
			return errors.New(ErrUnconfiguredStream).
				FrameContext(req.FrameNumber, in.StreamID).
				Context("input", true).
				Build()
		}
		if in.ReleaseFence != nil {
			if err := in.ReleaseFence.Err(); err != nil {
				return errors.New(fmt.Errorf("%w: %w", ErrInvalidInputFence, err)).
					FrameContext(req.FrameNumber, in.StreamID).
					Build()
			}
		}
	}

	if p.hasLastFrame && req.FrameNumber <= p.lastFrame {
		target := ErrFrameOutOfOrder
		if req.FrameNumber == p.lastFrame {
			target = ErrDuplicateFrame
		}
		return errors.New(target).
			FrameContext(req.FrameNumber, "").
			Context("last_frame", p.lastFrame).
			Build()
	}
	return nil
}

// awaitCapacityLocked blocks until the request may be admitted. It returns
// WakeNone when no wait was needed and WakeFlush when a flush ended the wait.
// p.mu is held on entry and on return.
func (p *Pipeline) awaitCapacityLocked(ctx context.Context) (WakeReason, error) {
	if p.inflight < p.cfg.MaxInflight {
		return WakeNone, nil
	}

	timer := time.NewTimer(p.cfg.SubmitTimeout)
	defer timer.Stop()
	p.waiting++
	defer func() { p.waiting-- }()

	for {
		gen := p.gate.current()
		p.mu.Unlock()

		var reason WakeReason
		select {
		case <-gen.ch:
			reason = gen.reason
		case <-timer.C:
			reason = WakeTimeout
		case <-ctx.Done():
			reason = WakeCancelled
		}

		p.mu.Lock()
		p.gate.record(reason)

		if p.flushing.Load() || reason == WakeFlush {
			return WakeFlush, nil
		}
		if err := p.checkStateLocked(); err != nil {
			p.metrics.RecordSubmission(submitRejected)
			return reason, err
		}

		switch reason {
		case WakeTimeout:
			p.metrics.RecordSubmission(submitTimeout)
			return reason, errors.New(ErrSubmitTimeout).
				Timing("admission", p.cfg.SubmitTimeout).
				Context("inflight", p.inflight).
				Build()
		case WakeCancelled:
			p.metrics.RecordSubmission(submitCancelled)
			return reason, errors.New(fmt.Errorf("%w: %w", ErrSubmitCancelled, ctx.Err())).Build()
		case WakeCompletion:
			if p.inflight < p.cfg.MinInflight {
				return reason, nil
			}
		case WakePull:
			if p.inflight < p.cfg.MaxInflight {
				return reason, nil
			}
		}
	}
}

// rejectFlushedLocked queues the return of every buffer of a request that
// lost the race with a flush.
func (p *Pipeline) rejectFlushedLocked(req *CaptureRequest) {
	out := &outbox{}
	out.notify(NotifyMessage{Type: NotifyError, FrameNumber: req.FrameNumber, ErrorCode: ErrorRequest})

	result := &CaptureResult{FrameNumber: req.FrameNumber}
	for _, b := range req.OutputBuffers {
		result.OutputBuffers = append(result.OutputBuffers, b.withStatus(BufferStatusError))
		p.metrics.RecordBuffer(BufferStatusError.String())
	}
	if req.InputBuffer != nil {
		in := req.InputBuffer.withStatus(BufferStatusError)
		result.InputBuffer = &in
	}
	out.result(result)

	p.metrics.RecordSubmission(submitFlushed)
	p.metrics.RecordResult(resultRejected)
	p.log.Debug("capture request returned by flush", logger.Uint64("frame_number", req.FrameNumber))
	p.enqueueLocked(out)
}

// Configure replaces the stream set and starts a new session. It is refused
// while any request or buffer is outstanding.
func (p *Pipeline) Configure(streams []StreamConfig) error {
	p.submitMu.Lock()
	defer p.submitMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkStateLocked(); err != nil {
		return err
	}
	if p.ledger.len() > 0 || p.buffers.len() > 0 || p.flushing.Load() {
		return errors.New(ErrRequestsOutstanding).
			Context("pending_requests", p.ledger.len()).
			Context("pending_buffers", p.buffers.len()).
			Build()
	}
	if err := validateStreams(streams); err != nil {
		return errors.New(fmt.Errorf("%w: %w", ErrInvalidDeviceConfig, err)).
			Context("camera_id", p.cfg.CameraID).
			Build()
	}

	p.cfg.Streams = slices.Clone(streams)
	p.streams = streamIndex(p.cfg.Streams)
	p.settingsSeen = false
	p.hasLastFrame = false
	p.lastFrame = 0
	p.drops.clear()
	p.reprocess.clear()
	p.newSessionLocked()

	p.log.Info("streams configured", logger.Int("streams", len(streams)))
	return nil
}

// Close flushes the pipeline and stops the backend when it supports it.
func (p *Pipeline) Close(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	err := p.flush(ctx)

	p.mu.Lock()
	p.closed = true
	p.gate.broadcast(WakeCancelled)
	p.mu.Unlock()

	if s, ok := p.backend.(backendStopper); ok {
		if stopErr := s.Stop(); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
	}
	p.log.Info("capture pipeline closed")
	return err
}

// Stats is a point-in-time view of the pipeline
type Stats struct {
	SessionID         string
	InFlight          int
	Waiting           int
	PendingRequests   int
	PendingBuffers    int
	DropMarks         int
	DeferredReprocess int
	Flushing          bool
	DeviceError       bool
	Closed            bool
	Wakes             map[string]uint64
}

// Stats returns a snapshot of the pipeline state
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		SessionID:         p.sessionID,
		InFlight:          p.inflight,
		Waiting:           p.waiting,
		PendingRequests:   p.ledger.len(),
		PendingBuffers:    p.buffers.len(),
		DropMarks:         p.drops.len(),
		DeferredReprocess: p.reprocess.len(),
		Flushing:          p.flushing.Load(),
		DeviceError:       p.deviceErr != nil,
		Closed:            p.closed,
		Wakes:             p.gate.snapshot(),
	}
}

// Pull wakes blocked submitters when the backend is ready for more work
func (p *Pipeline) Pull() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.gate.broadcast(WakePull)
}

// OnDeviceError moves the pipeline into the error state. Only the first call
// notifies the sink.
func (p *Pipeline) OnDeviceError(cause error) {
	if cause == nil {
		cause = errors.NewStd("unspecified device error")
	}

	p.mu.Lock()
	if p.deviceErr != nil || p.closed {
		p.mu.Unlock()
		return
	}
	enh := errors.New(cause).
		Component(componentCapture).
		Category(errors.CategoryBackend).
		Priority(errors.PriorityCritical).
		Context("camera_id", p.cfg.CameraID).
		Context("session_id", p.sessionID).
		Context("inflight", p.inflight).
		Build()
	p.deviceErr = enh
	p.gate.broadcast(WakeDeviceError)

	out := &outbox{}
	out.notify(NotifyMessage{Type: NotifyError, ErrorCode: ErrorDevice})
	p.metrics.RecordDeviceError()
	p.log.Error("device error",
		logger.String("category", enh.GetCategory()),
		logger.String("priority", enh.GetPriority()),
		logger.Error(cause))
	p.commitLocked(out)
}

func (p *Pipeline) updateGaugesLocked() {
	p.metrics.SetPipelineState(p.inflight, p.ledger.len(), p.buffers.len())
}
