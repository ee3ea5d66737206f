package capture

import "context"

// Backend is the asynchronous capture backend a Pipeline dispatches to.
// Completions come back through the pipeline's EventHandler methods.
type Backend interface {
	// Dispatch hands an admitted request to the backend
	Dispatch(ctx context.Context, req *CaptureRequest) error
	// Restart stops and restarts every channel after a flush
	Restart(ctx context.Context) error
}

// EventHandler receives backend completions. *Pipeline implements it.
type EventHandler interface {
	OnMetadata(ev MetadataEvent)
	OnBuffer(ev BufferEvent)
	Pull()
	OnDeviceError(err error)
}

// backendStopper is implemented by backends that own goroutines
type backendStopper interface {
	Stop() error
}
