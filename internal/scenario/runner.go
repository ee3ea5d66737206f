package scenario

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/tphakala/camerahal/internal/capture"
	"github.com/tphakala/camerahal/internal/errors"
	"github.com/tphakala/camerahal/internal/logger"
	"github.com/tphakala/camerahal/internal/observability/metrics"
)

// errorCodes maps the short names used in scenario files to capture errors
var errorCodes = []struct {
	code string
	err  error
}{
	{"timeout", capture.ErrSubmitTimeout},
	{"cancelled", capture.ErrSubmitCancelled},
	{"out_of_order", capture.ErrFrameOutOfOrder},
	{"duplicate_frame", capture.ErrDuplicateFrame},
	{"device_error", capture.ErrDeviceError},
	{"closed", capture.ErrClosed},
	{"missing_settings", capture.ErrMissingSettings},
	{"unconfigured_stream", capture.ErrUnconfiguredStream},
	{"duplicate_stream", capture.ErrDuplicateStream},
	{"no_outputs", capture.ErrNoOutputBuffers},
	{"output_fence", capture.ErrOutputReleaseFence},
	{"input_fence", capture.ErrInvalidInputFence},
	{"dispatch", capture.ErrDispatchFailed},
	{"outstanding", capture.ErrRequestsOutstanding},
	{"invalid_config", capture.ErrInvalidDeviceConfig},
}

// ErrorCode returns the scenario name of a capture error, "" for nil
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "unknown"
}

// Result is the outcome of one scenario run
type Result struct {
	Name       string
	Transcript []string
	Expected   []string
	Diff       []string
	Failures   []string
	Dispatched []uint64
	Restarts   int
	Stats      capture.Stats
	Duration   time.Duration
}

// Passed reports whether every step behaved and the transcript matched
func (r *Result) Passed() bool {
	return len(r.Failures) == 0 && len(r.Diff) == 0
}

// replayBackend records dispatches; completions come from scenario steps
type replayBackend struct {
	mu         sync.Mutex
	dispatched []uint64
	restarts   int
}

func (b *replayBackend) Dispatch(_ context.Context, req *capture.CaptureRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dispatched = append(b.dispatched, req.FrameNumber)
	return nil
}

func (b *replayBackend) Restart(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.restarts++
	return nil
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithRunnerLogger sets the logger passed to the pipeline
func WithRunnerLogger(l logger.Logger) RunnerOption {
	return func(r *Runner) { r.log = l }
}

// WithRunnerMetrics sets the metrics recorder passed to the pipeline
func WithRunnerMetrics(m capture.MetricsRecorder) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithRunnerRecorder sets the recorder that counts scenario outcomes
func WithRunnerRecorder(rec metrics.Recorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// Runner executes scenarios
type Runner struct {
	log      logger.Logger
	metrics  capture.MetricsRecorder
	recorder metrics.Recorder
}

// NewRunner creates a runner
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		log:      logger.Global().Module("scenario"),
		recorder: metrics.NopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run holds the state of one scenario execution
type run struct {
	ctx    context.Context
	p      *capture.Pipeline
	fences map[uint64]*capture.SignalFence
	async  conc.WaitGroup

	mu       sync.Mutex
	failures []string
}

func (r *run) fail(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

// Run executes s and compares the transcript with its expectations
func (rn *Runner) Run(ctx context.Context, s *Scenario) (*Result, error) {
	start := time.Now()
	ctx = logger.WithTraceID(ctx, s.Name)
	log := rn.log.WithContext(ctx)
	sink := &transcript{}
	backend := &replayBackend{}

	opts := []capture.Option{capture.WithLogger(log)}
	if rn.metrics != nil {
		opts = append(opts, capture.WithMetrics(rn.metrics))
	}
	p, err := capture.New(s.Device.DeviceConfig(), backend, sink, opts...)
	if err != nil {
		return nil, err
	}

	r := &run{ctx: ctx, p: p, fences: make(map[uint64]*capture.SignalFence)}
	for i, st := range s.Steps {
		if err := ctx.Err(); err != nil {
			r.async.Wait()
			_ = p.Close(context.WithoutCancel(ctx))
			return nil, errors.New(err).Component(componentScenario).Category(errors.CategoryCancellation).Build()
		}
		r.step(i, st)
	}
	r.async.Wait()

	res := &Result{
		Name:       s.Name,
		Transcript: sink.snapshot(),
		Expected:   s.Expect,
		Failures:   r.failures,
		Stats:      p.Stats(),
	}
	if s.Expect != nil {
		res.Diff = diffLines(s.Expect, res.Transcript)
	}

	if err := p.Close(ctx); err != nil && !errors.Is(err, capture.ErrClosed) {
		log.Warn("closing scenario pipeline failed", logger.Error(err))
	}
	backend.mu.Lock()
	res.Dispatched = slices.Clone(backend.dispatched)
	res.Restarts = backend.restarts
	backend.mu.Unlock()
	res.Duration = time.Since(start)

	status := metrics.StatusSuccess
	if !res.Passed() {
		status = metrics.StatusError
		if len(res.Diff) > 0 {
			rn.recorder.RecordError(metrics.OpReplay, "transcript_mismatch")
		}
		if len(res.Failures) > 0 {
			rn.recorder.RecordError(metrics.OpReplay, "step_failed")
		}
	}
	rn.recorder.RecordOperation(metrics.OpReplay, status)
	rn.recorder.RecordDuration(metrics.OpReplay, res.Duration.Seconds())

	log.Info("scenario finished",
		logger.String("scenario", s.Name),
		logger.Bool("passed", res.Passed()),
		logger.Int("lines", len(res.Transcript)),
		logger.Duration("duration", res.Duration))
	return res, nil
}

func (r *run) step(i int, st Step) {
	p := r.p
	switch st.Op {
	case OpSubmit:
		req := r.buildRequest(st)
		if !st.Async {
			r.checkError(i, st, p.Submit(r.ctx, req))
			return
		}
		waiting := p.Stats().Waiting
		done := make(chan struct{})
		r.async.Go(func() {
			defer close(done)
			r.checkError(i, st, p.Submit(r.ctx, req))
		})
		r.awaitBlocked(done, waiting)
	case OpWait:
		r.async.Wait()
	case OpMetadata, OpPartial:
		p.OnMetadata(capture.MetadataEvent{
			CompletedFrame: st.Frame,
			Timestamp:      st.Timestamp,
			Partial:        st.Op == OpPartial,
			DroppedStreams: st.Dropped,
			Metadata:       []byte(st.Metadata),
		})
	case OpBuffer:
		status := capture.BufferStatusOK
		if st.Status == "error" {
			status = capture.BufferStatusError
		}
		p.OnBuffer(capture.BufferEvent{
			FrameNumber: st.Frame,
			Buffer:      capture.StreamBuffer{StreamID: st.Stream, BufferID: st.Frame, Status: status},
			Timestamp:   st.Timestamp,
		})
	case OpSignal:
		if f, ok := r.fences[st.Frame]; ok {
			f.Signal()
		} else {
			r.fail("step %d: no fence for frame %d", i+1, st.Frame)
		}
	case OpPull:
		p.Pull()
	case OpFlush:
		if err := p.Flush(r.ctx); err != nil {
			r.fail("step %d: flush: %v", i+1, err)
		}
	case OpDeviceError:
		msg := st.Message
		if msg == "" {
			msg = "scripted device error"
		}
		p.OnDeviceError(errors.NewStd(msg))
	case OpConfigure:
		r.checkError(i, st, p.Configure(streamConfigs(st.Streams)))
	}
}

// awaitBlocked returns once the async submit finished or joined the waiters
func (r *run) awaitBlocked(done <-chan struct{}, waitingBefore int) {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-done:
			return
		default:
		}
		if r.p.Stats().Waiting > waitingBefore {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (r *run) checkError(i int, st Step, err error) {
	if got := ErrorCode(err); got != st.Error {
		r.fail("step %d (%s frame %d): want error %q, got %q (%v)", i+1, st.Op, st.Frame, st.Error, got, err)
	}
}

func (r *run) buildRequest(st Step) *capture.CaptureRequest {
	req := &capture.CaptureRequest{FrameNumber: st.Frame}
	if st.Settings != "" {
		req.Settings = []byte(st.Settings)
	}
	for i, stream := range st.Outputs {
		req.OutputBuffers = append(req.OutputBuffers, capture.StreamBuffer{
			StreamID: stream,
			BufferID: st.Frame*100 + uint64(i),
		})
	}
	if st.Input != "" {
		in := &capture.StreamBuffer{StreamID: st.Input, BufferID: st.Frame}
		if st.Fence {
			f := capture.NewSignalFence()
			r.fences[st.Frame] = f
			in.ReleaseFence = f
		}
		req.InputBuffer = in
	}
	return req
}

// diffLines reports positional differences between want and got
func diffLines(want, got []string) []string {
	var diff []string
	for i := range max(len(want), len(got)) {
		switch {
		case i >= len(want):
			diff = append(diff, fmt.Sprintf("%3d + %s", i+1, got[i]))
		case i >= len(got):
			diff = append(diff, fmt.Sprintf("%3d - %s", i+1, want[i]))
		case want[i] != got[i]:
			diff = append(diff,
				fmt.Sprintf("%3d - %s", i+1, want[i]),
				fmt.Sprintf("%3d + %s", i+1, got[i]))
		}
	}
	return diff
}
