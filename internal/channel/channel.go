package channel

import (
	"context"
	"sync"

	"github.com/tphakala/camerahal/internal/errors"
	"github.com/tphakala/camerahal/internal/logger"
)

// Job is one buffer a channel has been asked to fill for a frame
type Job struct {
	FrameNumber uint64
	StreamID    string
	BufferID    uint64
}

// Channel is a backend stream channel
type Channel interface {
	// Kind returns the stream kind served by this channel
	Kind() StreamKind

	// Start makes the channel accept and hand out jobs
	Start(ctx context.Context) error

	// Stop discards queued jobs and rejects further work until Start.
	// It returns the number of jobs discarded.
	Stop() int

	// Request queues a buffer to be filled
	Request(job Job) error

	// Next blocks until a job is available, the channel stops or ctx ends
	Next(ctx context.Context) (Job, error)

	// BufferDone marks a job as returned to the pipeline
	BufferDone(job Job)
}

// DefaultQueueDepth bounds the number of queued jobs per channel
const DefaultQueueDepth = 32

// QueueChannel is an in-memory Channel backed by a FIFO of jobs
type QueueChannel struct {
	kind  StreamKind
	depth int
	log   logger.Logger

	mu          sync.Mutex
	running     bool
	queue       []Job
	outstanding map[Job]struct{}
	wake        chan struct{}
}

// NewQueueChannel creates a stopped channel of the given kind. A depth of
// zero or less uses DefaultQueueDepth.
func NewQueueChannel(kind StreamKind, depth int) *QueueChannel {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &QueueChannel{
		kind:        kind,
		depth:       depth,
		log:         logger.Global().Module("channel").With(logger.String("kind", kind.String())),
		outstanding: make(map[Job]struct{}),
		wake:        make(chan struct{}),
	}
}

// Kind returns the stream kind served by this channel
func (c *QueueChannel) Kind() StreamKind {
	return c.kind
}

// Start makes the channel accept and hand out jobs
func (c *QueueChannel) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.New(err).
			Category(errors.CategoryCancellation).
			Context("kind", c.kind.String()).
			Build()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	c.running = true
	c.broadcastLocked()
	c.log.Debug("channel started")
	return nil
}

// Stop discards queued jobs and wakes every blocked Next
func (c *QueueChannel) Stop() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	discarded := len(c.queue)
	c.queue = nil
	clear(c.outstanding)
	if c.running {
		c.running = false
		c.broadcastLocked()
		c.log.Debug("channel stopped", logger.Int("discarded", discarded))
	}
	return discarded
}

// Request queues a buffer to be filled
func (c *QueueChannel) Request(job Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return errors.New(ErrChannelStopped).
			FrameContext(job.FrameNumber, job.StreamID).
			Build()
	}
	if len(c.queue) >= c.depth {
		return errors.New(ErrQueueFull).
			FrameContext(job.FrameNumber, job.StreamID).
			Context("depth", c.depth).
			Build()
	}

	c.queue = append(c.queue, job)
	c.outstanding[job] = struct{}{}
	c.broadcastLocked()
	return nil
}

// Next blocks until a job is available, the channel stops or ctx ends
func (c *QueueChannel) Next(ctx context.Context) (Job, error) {
	for {
		c.mu.Lock()
		if !c.running {
			c.mu.Unlock()
			return Job{}, ErrChannelStopped
		}
		if len(c.queue) > 0 {
			job := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return job, nil
		}
		wake := c.wake
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-wake:
		}
	}
}

// BufferDone marks a job as returned to the pipeline
func (c *QueueChannel) BufferDone(job Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.outstanding, job)
}

// Outstanding returns the number of jobs requested but not yet returned
func (c *QueueChannel) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outstanding)
}

// Running reports whether the channel is started
func (c *QueueChannel) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// broadcastLocked wakes every goroutine blocked in Next
func (c *QueueChannel) broadcastLocked() {
	close(c.wake)
	c.wake = make(chan struct{})
}

var _ Channel = (*QueueChannel)(nil)
