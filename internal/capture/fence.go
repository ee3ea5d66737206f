package capture

import (
	"context"
	"sync"
)

// Fence is a one-shot synchronization point attached to a buffer
type Fence interface {
	// Wait blocks until the fence signals, fails or ctx ends
	Wait(ctx context.Context) error
	// Err returns the failure of an already failed fence, nil otherwise
	Err() error
}

// SignalFence is a Fence signalled from Go code
type SignalFence struct {
	once sync.Once
	done chan struct{}

	mu  sync.Mutex
	err error
}

// NewSignalFence returns an unsignalled fence
func NewSignalFence() *SignalFence {
	return &SignalFence{done: make(chan struct{})}
}

// Signal releases every waiter successfully
func (f *SignalFence) Signal() {
	f.once.Do(func() { close(f.done) })
}

// Fail releases every waiter with err
func (f *SignalFence) Fail(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.done)
	})
}

// Wait blocks until the fence signals, fails or ctx ends
func (f *SignalFence) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the failure of an already failed fence
func (f *SignalFence) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// SignalledFence returns a fence that is already signalled
func SignalledFence() *SignalFence {
	f := NewSignalFence()
	f.Signal()
	return f
}
