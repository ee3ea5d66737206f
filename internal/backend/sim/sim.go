// Package sim provides a simulated capture backend. Every stream kind gets a
// queue channel served by its own worker; a metadata channel produces the
// sensor's metadata events.
package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/camerahal/internal/capture"
	"github.com/tphakala/camerahal/internal/channel"
	"github.com/tphakala/camerahal/internal/errors"
	"github.com/tphakala/camerahal/internal/logger"
)

const componentSim = "sim"

var (
	ErrNotBound       = errors.Sentinel(componentSim, errors.CategoryState, "simulator has no event handler")
	ErrNotRunning     = errors.Sentinel(componentSim, errors.CategoryState, "simulator not running")
	ErrUnknownStream  = errors.Sentinel(componentSim, errors.CategoryValidation, "stream not known to simulator")
	ErrAlreadyRunning = errors.Sentinel(componentSim, errors.CategoryState, "simulator already running")
)

// frameState tracks one dispatched frame until all its jobs are done
type frameState struct {
	timestamp    int64
	dropped      []string
	withholdMeta bool
	remaining    int
}

// Backend is a simulated capture.Backend
type Backend struct {
	cfg     Config
	streams map[string]channel.StreamKind
	set     *channel.Set
	log     logger.Logger

	mu       sync.Mutex
	handler  capture.EventHandler
	rng      *rand.Rand
	frames   map[uint64]*frameState
	baseCtx  context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	running  bool
	restarts int
}

var _ capture.Backend = (*Backend)(nil)

// New creates a simulator serving the given streams
func New(cfg Config, streams []capture.StreamConfig) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Backend{
		cfg:     cfg,
		streams: make(map[string]channel.StreamKind, len(streams)),
		log:     logger.Global().Module("sim"),
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		frames:  make(map[uint64]*frameState),
	}

	var chans []channel.Channel
	seen := map[channel.StreamKind]bool{channel.KindMetadata: true}
	chans = append(chans, channel.NewQueueChannel(channel.KindMetadata, cfg.QueueDepth))
	for _, s := range streams {
		b.streams[s.ID] = s.Kind
		if !seen[s.Kind] {
			seen[s.Kind] = true
			chans = append(chans, channel.NewQueueChannel(s.Kind, cfg.QueueDepth))
		}
	}
	set, err := channel.NewSet(chans...)
	if err != nil {
		return nil, err
	}
	b.set = set
	return b, nil
}

// Bind sets the handler receiving completions. It must be called before Start.
func (b *Backend) Bind(h capture.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Start starts every channel and its worker
func (b *Backend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handler == nil {
		return ErrNotBound
	}
	if b.running {
		return ErrAlreadyRunning
	}
	if err := b.set.StartAll(ctx); err != nil {
		return err
	}
	b.baseCtx = ctx
	b.startWorkersLocked()
	b.running = true
	b.log.Info("simulator started",
		logger.Int("channels", len(b.set.Kinds())),
		logger.Duration("latency", b.cfg.Latency))
	return nil
}

func (b *Backend) startWorkersLocked() {
	ctx, cancel := context.WithCancel(b.baseCtx)
	g, gctx := errgroup.WithContext(ctx)
	b.cancel = cancel
	b.group = g

	b.set.Each(func(ch channel.Channel) {
		if ch.Kind() == channel.KindMetadata {
			g.Go(func() error { return b.metadataWorker(gctx, ch) })
			return
		}
		g.Go(func() error { return b.bufferWorker(gctx, ch) })
	})
	if b.cfg.PullInterval > 0 {
		g.Go(func() error { return b.pullLoop(gctx) })
	}
}

// stopWorkersLocked cancels the workers and waits for them. b.mu is released
// while waiting so workers finishing a job can update frame state.
func (b *Backend) stopWorkersLocked() error {
	b.cancel()
	g := b.group
	b.mu.Unlock()
	err := g.Wait()
	b.mu.Lock()
	return err
}

// Stop stops the workers and every channel
func (b *Backend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return nil
	}
	b.running = false
	err := b.stopWorkersLocked()
	discarded := b.set.StopAll()
	clear(b.frames)
	b.log.Info("simulator stopped", logger.Int("discarded", discarded))
	return err
}

// Restart discards every queued job and restarts the channels
func (b *Backend) Restart(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return ErrNotRunning
	}
	if err := b.stopWorkersLocked(); err != nil {
		b.log.Warn("worker exited with error before restart", logger.Error(err))
	}
	discarded, err := b.set.Restart(ctx)
	clear(b.frames)
	b.restarts++
	if err != nil {
		b.running = false
		return errors.New(err).
			Component(componentSim).
			Category(errors.CategoryBackend).
			Context("discarded", discarded).
			Build()
	}
	b.startWorkersLocked()
	b.log.Debug("simulator restarted", logger.Int("discarded", discarded))
	return nil
}

// Restarts returns how many times the simulator restarted
func (b *Backend) Restarts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.restarts
}

// Dispatch queues one job per output buffer plus a metadata job
func (b *Backend) Dispatch(_ context.Context, req *capture.CaptureRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return ErrNotRunning
	}

	st := &frameState{timestamp: time.Now().UnixNano()}
	var jobs []func() error
	for _, buf := range req.OutputBuffers {
		kind, ok := b.streams[buf.StreamID]
		if !ok {
			return errors.New(fmt.Errorf("%w: %s", ErrUnknownStream, buf.StreamID)).
				FrameContext(req.FrameNumber, buf.StreamID).
				Build()
		}
		ch, err := b.set.Get(kind)
		if err != nil {
			return err
		}
		job := channel.Job{FrameNumber: req.FrameNumber, StreamID: buf.StreamID, BufferID: buf.BufferID}
		jobs = append(jobs, func() error { return ch.Request(job) })
		if !req.IsReprocess() && b.cfg.DropRate > 0 && b.rng.Float64() < b.cfg.DropRate {
			st.dropped = append(st.dropped, buf.StreamID)
		}
	}
	if !req.IsReprocess() {
		meta, err := b.set.Get(channel.KindMetadata)
		if err != nil {
			return err
		}
		jobs = append(jobs, func() error { return meta.Request(channel.Job{FrameNumber: req.FrameNumber}) })
		st.withholdMeta = b.cfg.ReorderRate > 0 && b.rng.Float64() < b.cfg.ReorderRate
	}

	st.remaining = len(jobs)
	b.frames[req.FrameNumber] = st
	for i, enqueue := range jobs {
		if err := enqueue(); err != nil {
			// jobs already queued still complete against this state
			st.remaining = i
			if i == 0 {
				delete(b.frames, req.FrameNumber)
			}
			return err
		}
	}
	return nil
}

func (b *Backend) bufferWorker(ctx context.Context, ch channel.Channel) error {
	for {
		job, err := ch.Next(ctx)
		if err != nil {
			return ignoreShutdown(ctx, err)
		}
		if !b.sleep(ctx) {
			return nil
		}

		st, handler := b.frame(job.FrameNumber)
		if st == nil {
			ch.BufferDone(job)
			continue
		}
		handler.OnBuffer(capture.BufferEvent{
			FrameNumber: job.FrameNumber,
			Buffer:      capture.StreamBuffer{StreamID: job.StreamID, BufferID: job.BufferID},
			Timestamp:   st.timestamp,
		})
		ch.BufferDone(job)
		b.jobDone(job.FrameNumber)
	}
}

func (b *Backend) metadataWorker(ctx context.Context, ch channel.Channel) error {
	for {
		job, err := ch.Next(ctx)
		if err != nil {
			return ignoreShutdown(ctx, err)
		}
		if !b.sleep(ctx) {
			return nil
		}

		st, handler := b.frame(job.FrameNumber)
		if st == nil {
			ch.BufferDone(job)
			continue
		}
		if b.cfg.PartialMetadata {
			handler.OnMetadata(capture.MetadataEvent{
				CompletedFrame: job.FrameNumber,
				Timestamp:      st.timestamp,
				Partial:        true,
				Metadata:       fmt.Appendf(nil, "frame=%d af_state=locked", job.FrameNumber),
			})
		}
		if !st.withholdMeta {
			handler.OnMetadata(capture.MetadataEvent{
				CompletedFrame: job.FrameNumber,
				Timestamp:      st.timestamp,
				DroppedStreams: st.dropped,
				Metadata:       fmt.Appendf(nil, "frame=%d exposure_ns=%d", job.FrameNumber, b.cfg.Latency.Nanoseconds()),
			})
		} else {
			b.log.Debug("metadata withheld", logger.Uint64("frame_number", job.FrameNumber))
		}
		ch.BufferDone(job)
		b.jobDone(job.FrameNumber)
	}
}

func (b *Backend) pullLoop(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.PullInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.mu.Lock()
			h := b.handler
			b.mu.Unlock()
			h.Pull()
		}
	}
}

func (b *Backend) frame(n uint64) (*frameState, capture.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.frames[n]
	if !ok {
		return nil, nil
	}
	copied := *st
	return &copied, b.handler
}

func (b *Backend) jobDone(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.frames[n]; ok {
		st.remaining--
		if st.remaining <= 0 {
			delete(b.frames, n)
		}
	}
}

// Pending returns the number of frames with unfinished jobs
func (b *Backend) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// sleep waits one jittered latency period; false means ctx ended
func (b *Backend) sleep(ctx context.Context) bool {
	d := b.cfg.Latency
	if b.cfg.Jitter > 0 {
		b.mu.Lock()
		d += time.Duration(b.rng.Int64N(int64(2*b.cfg.Jitter)+1)) - b.cfg.Jitter
		b.mu.Unlock()
	}
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func ignoreShutdown(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, channel.ErrChannelStopped) {
		return nil
	}
	return err
}
