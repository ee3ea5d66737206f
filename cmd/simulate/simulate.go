package simulate

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/tphakala/camerahal/internal/backend/sim"
	"github.com/tphakala/camerahal/internal/capture"
	"github.com/tphakala/camerahal/internal/channel"
	"github.com/tphakala/camerahal/internal/conf"
	"github.com/tphakala/camerahal/internal/errors"
	"github.com/tphakala/camerahal/internal/logger"
	"github.com/tphakala/camerahal/internal/observability"
	"github.com/tphakala/camerahal/internal/observability/metrics"
)

// drainTimeout bounds the wait for in-flight frames after the last submission
const drainTimeout = 5 * time.Second

// Command creates the simulate command, which drives a capture pipeline
// against the simulated backend.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the capture pipeline against a simulated sensor",
		Long: "Submits frames from concurrent producers to a capture pipeline backed by a " +
			"simulated sensor with configurable latency, drops and withheld metadata.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the simulate command.
func setupFlags(cmd *cobra.Command) error {
	f := cmd.Flags()
	f.Int("frames", 120, "Total frames to submit")
	f.Int("producers", 2, "Number of concurrent producers")
	f.Duration("latency", 20*time.Millisecond, "Mean completion latency")
	f.Duration("jitter", 10*time.Millisecond, "Maximum latency jitter")
	f.Float64("reorder-rate", 0.1, "Probability a frame's final metadata is withheld")
	f.Float64("drop-rate", 0.02, "Per-buffer probability of a reported drop")
	f.Bool("partial", true, "Emit urgent partial metadata before each final")
	f.Duration("pull-interval", 0, "Backend pull period, 0 disables")
	f.Int64("seed", 1, "Random seed")
	f.Float64("fps", 0, "Submission rate across all producers, 0 submits as fast as admission allows")
	f.Int("max-inflight", capture.DefaultMaxInflight, "Admission ceiling")
	f.Int("min-inflight", capture.DefaultMinInflight, "Admission resume threshold")
	f.Bool("metrics", false, "Serve Prometheus metrics while running")
	f.String("listen", "127.0.0.1:9464", "Metrics listen address")

	bindings := map[string]string{
		"simulator.frames":           "frames",
		"simulator.producers":        "producers",
		"simulator.latency":          "latency",
		"simulator.jitter":           "jitter",
		"simulator.reorder_rate":     "reorder-rate",
		"simulator.drop_rate":        "drop-rate",
		"simulator.partial_metadata": "partial",
		"simulator.pull_interval":    "pull-interval",
		"simulator.seed":             "seed",
		"simulator.frame_rate":       "fps",
		"pipeline.max_inflight":      "max-inflight",
		"pipeline.min_inflight":      "min-inflight",
		"metrics.enabled":            "metrics",
		"metrics.listen":             "listen",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, f.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}

func simConfig(s *conf.SimulatorSettings) sim.Config {
	return sim.Config{
		Latency:         s.Latency,
		Jitter:          s.Jitter,
		ReorderRate:     s.ReorderRate,
		DropRate:        s.DropRate,
		PartialMetadata: s.PartialMetadata,
		PullInterval:    s.PullInterval,
		QueueDepth:      s.QueueDepth,
		Seed:            uint64(s.Seed),
	}
}

func run(parent context.Context, settings *conf.Settings) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = logger.WithTraceID(ctx, uuid.NewString())
	log := logger.Global().Module("simulate").WithContext(ctx)
	start := time.Now()

	devCfg, err := settings.Pipeline.DeviceConfig()
	if err != nil {
		return err
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	serveCtx, stopServe := context.WithCancel(ctx)
	var serveWg sync.WaitGroup
	defer func() {
		stopServe()
		serveWg.Wait()
	}()
	if settings.Metrics.Enabled {
		ep, err := observability.NewEndpoint(&settings.Metrics, m)
		if err != nil {
			return err
		}
		if err := ep.Start(serveCtx, &serveWg); err != nil {
			return err
		}
		fmt.Printf("metrics available at http://%s%s\n", ep.Addr(), settings.Metrics.Path)
	}

	backend, err := sim.New(simConfig(&settings.Simulator), devCfg.Streams)
	if err != nil {
		return err
	}
	sink := &summarySink{finalCount: devCfg.PartialResultCount}
	p, err := capture.New(devCfg, backend, sink,
		capture.WithMetrics(m.Capture),
		capture.WithLogger(logger.Global().Module("capture").WithContext(ctx)))
	if err != nil {
		return err
	}
	backend.Bind(p)
	if err := backend.Start(ctx); err != nil {
		return err
	}

	src := newFrameSource(uint64(settings.Simulator.Frames), settings.Simulator.FrameRate)
	producers := pool.New().WithContext(ctx).WithCancelOnError()
	for i := range max(settings.Simulator.Producers, 1) {
		shape := requestShape(i, devCfg.Streams)
		producers.Go(func(ctx context.Context) error {
			return produce(ctx, p, src, shape, log.With(logger.Int("producer", i)))
		})
	}
	prodErr := producers.Wait()

	drained := waitDrained(ctx, p, drainTimeout)
	if !drained {
		log.Warn("frames still in flight at shutdown", logger.Int("pending", p.Stats().PendingRequests))
	}
	closeErr := p.Close(context.WithoutCancel(ctx))

	elapsed := time.Since(start)
	sink.print(os.Stdout, elapsed, backend.Restarts())

	status := metrics.StatusSuccess
	if prodErr != nil || closeErr != nil || !drained {
		status = metrics.StatusError
	}
	m.Capture.RecordOperation(metrics.OpSimulate, status)
	m.Capture.RecordDuration(metrics.OpSimulate, elapsed.Seconds())
	if prodErr != nil && !errors.Is(prodErr, context.Canceled) {
		return prodErr
	}
	if closeErr != nil {
		return closeErr
	}
	return nil
}

// frameSource hands out frame numbers and submits under one lock so frame
// numbers reach the pipeline in order. A non-nil limiter paces submissions
// across all producers.
type frameSource struct {
	mu      sync.Mutex
	next    uint64
	limit   uint64
	limiter *rate.Limiter
}

func newFrameSource(limit uint64, fps float64) *frameSource {
	s := &frameSource{next: 1, limit: limit}
	if fps > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(fps), 1)
	}
	return s
}

func (s *frameSource) submit(ctx context.Context, p *capture.Pipeline, build func(uint64) *capture.CaptureRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next > s.limit {
		return false, nil
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return true, errors.New(err).
				Component("simulate").
				Category(errors.CategoryCancellation).
				Context("operation", "frame_rate_wait").
				Build()
		}
	}
	frame := s.next
	s.next++
	return true, p.Submit(ctx, build(frame))
}

// requestShape picks the streams a producer requests. Even producers drive
// preview-like streams, odd ones every non-raw stream.
func requestShape(i int, streams []capture.StreamConfig) []string {
	var out []string
	for _, s := range streams {
		switch {
		case s.Kind == channel.KindRaw || s.Kind == channel.KindRawDump:
			continue
		case i%2 == 0 && s.Kind != channel.KindRegular:
			continue
		}
		out = append(out, s.ID)
	}
	if len(out) == 0 && len(streams) > 0 {
		out = append(out, streams[0].ID)
	}
	return out
}

var settingsBlob = []byte("ae_mode=auto;awb_mode=auto;af_mode=continuous")

func produce(ctx context.Context, p *capture.Pipeline, src *frameSource, shape []string, log logger.Logger) error {
	build := func(frame uint64) *capture.CaptureRequest {
		req := &capture.CaptureRequest{FrameNumber: frame, Settings: settingsBlob}
		for j, stream := range shape {
			req.OutputBuffers = append(req.OutputBuffers, capture.StreamBuffer{
				StreamID: stream,
				BufferID: frame<<8 | uint64(j),
			})
		}
		return req
	}

	for {
		ok, err := src.submit(ctx, p, build)
		switch {
		case !ok:
			return nil
		case errors.Is(err, capture.ErrSubmitTimeout):
			log.Warn("submission timed out", logger.Error(err))
		case errors.Is(err, capture.ErrSubmitCancelled), errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			return err
		}
	}
}

func waitDrained(ctx context.Context, p *capture.Pipeline, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p.Stats().PendingRequests == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}
}

// summarySink counts sink traffic for the end-of-run report
type summarySink struct {
	finalCount int

	shutters      atomic.Int64
	finals        atomic.Int64
	partials      atomic.Int64
	bufferOnly    atomic.Int64
	buffersOK     atomic.Int64
	buffersError  atomic.Int64
	requestErrors atomic.Int64
	bufferErrors  atomic.Int64
	deviceErrors  atomic.Int64
	synthesized   atomic.Int64
}

func (s *summarySink) Notify(msg capture.NotifyMessage) {
	if msg.Type == capture.NotifyShutter {
		s.shutters.Add(1)
		return
	}
	switch msg.ErrorCode {
	case capture.ErrorRequest:
		s.requestErrors.Add(1)
	case capture.ErrorBuffer:
		s.bufferErrors.Add(1)
	case capture.ErrorDevice:
		s.deviceErrors.Add(1)
	}
}

func (s *summarySink) ProcessResult(r *capture.CaptureResult) {
	switch {
	case r.PartialResult == 0:
		s.bufferOnly.Add(1)
	case r.PartialResult == s.finalCount:
		s.finals.Add(1)
	default:
		s.partials.Add(1)
	}
	if r.Metadata != nil && r.Metadata.Synthesized {
		s.synthesized.Add(1)
	}
	for _, b := range r.OutputBuffers {
		if b.Status == capture.BufferStatusError {
			s.buffersError.Add(1)
		} else {
			s.buffersOK.Add(1)
		}
	}
}

func (s *summarySink) print(w io.Writer, elapsed time.Duration, restarts int) {
	fmt.Fprintf(w, "simulation finished in %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  shutters:          %d\n", s.shutters.Load())
	fmt.Fprintf(w, "  final results:     %d (%d synthesized)\n", s.finals.Load(), s.synthesized.Load())
	fmt.Fprintf(w, "  partial results:   %d\n", s.partials.Load())
	fmt.Fprintf(w, "  buffer-only:       %d\n", s.bufferOnly.Load())
	fmt.Fprintf(w, "  buffers ok/error:  %d/%d\n", s.buffersOK.Load(), s.buffersError.Load())
	fmt.Fprintf(w, "  request errors:    %d\n", s.requestErrors.Load())
	fmt.Fprintf(w, "  buffer errors:     %d\n", s.bufferErrors.Load())
	fmt.Fprintf(w, "  device errors:     %d\n", s.deviceErrors.Load())
	fmt.Fprintf(w, "  backend restarts:  %d\n", restarts)
}
