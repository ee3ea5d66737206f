package capture

import "fmt"

// BufferStatus is the status of a returned buffer
type BufferStatus int

const (
	BufferStatusOK BufferStatus = iota
	BufferStatusError
)

func (s BufferStatus) String() string {
	if s == BufferStatusError {
		return "error"
	}
	return "ok"
}

// StreamBuffer is a buffer handle bound to a stream
type StreamBuffer struct {
	StreamID string
	BufferID uint64
	Status   BufferStatus

	// ReleaseFence is signalled by the producer when the buffer contents may
	// be read. Only input buffers may carry one on submission.
	ReleaseFence Fence
}

func (b StreamBuffer) String() string {
	return fmt.Sprintf("%s#%d(%s)", b.StreamID, b.BufferID, b.Status)
}

// withStatus returns a copy of b with status set and the fence stripped
func (b StreamBuffer) withStatus(status BufferStatus) StreamBuffer {
	b.Status = status
	b.ReleaseFence = nil
	return b
}

// CaptureRequest is one submitted capture. It must not be modified after Submit.
type CaptureRequest struct {
	FrameNumber   uint64
	OutputBuffers []StreamBuffer
	InputBuffer   *StreamBuffer // set for reprocess requests
	Settings      []byte        // required on the first request of a session
}

// IsReprocess reports whether the request carries an input buffer
func (r *CaptureRequest) IsReprocess() bool {
	return r.InputBuffer != nil
}

// MetadataEvent reports metadata for CompletedFrame. A partial event carries
// urgent metadata for exactly that frame; a final event also completes every
// older frame still open.
type MetadataEvent struct {
	CompletedFrame uint64
	Timestamp      int64 // sensor timestamp in nanoseconds
	Partial        bool
	DroppedStreams []string
	Metadata       []byte // vendor metadata blob
}

// BufferEvent reports a filled (or failed) output buffer
type BufferEvent struct {
	FrameNumber uint64
	Buffer      StreamBuffer
	Timestamp   int64
}

// NotifyType distinguishes shutter from error notifications
type NotifyType int

const (
	NotifyShutter NotifyType = iota
	NotifyError
)

func (t NotifyType) String() string {
	if t == NotifyError {
		return "error"
	}
	return "shutter"
}

// ErrorCode classifies error notifications
type ErrorCode int

const (
	ErrorNone ErrorCode = iota
	ErrorDevice
	ErrorRequest
	ErrorBuffer
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorDevice:
		return "ERROR_DEVICE"
	case ErrorRequest:
		return "ERROR_REQUEST"
	case ErrorBuffer:
		return "ERROR_BUFFER"
	default:
		return "NONE"
	}
}

// NotifyMessage is a shutter or error notification
type NotifyMessage struct {
	Type        NotifyType
	FrameNumber uint64
	Timestamp   int64     // shutter only
	ErrorCode   ErrorCode // error only
	StreamID    string    // ERROR_BUFFER only
}

// Metadata is the result metadata attached to partial and final results
type Metadata struct {
	FrameNumber     uint64
	SensorTimestamp int64
	PipelineDepth   int
	// Synthesized is set when the backend never delivered metadata for the
	// frame and the result was built from interpolated values
	Synthesized bool
	Payload     []byte
}

// CaptureResult is one result delivery for a frame. PartialResult is zero
// for buffer-only results, otherwise 1..PartialResultCount.
type CaptureResult struct {
	FrameNumber   uint64
	PartialResult int
	Metadata      *Metadata
	OutputBuffers []StreamBuffer
	InputBuffer   *StreamBuffer
}

// ResultSink receives notifications and results. Calls are serialized.
type ResultSink interface {
	Notify(msg NotifyMessage)
	ProcessResult(result *CaptureResult)
}

// Translator converts vendor metadata into the caller's representation
type Translator interface {
	Translate(frameNumber uint64, raw []byte, partial bool) ([]byte, error)
}

// TranslatorFunc adapts a function to Translator
type TranslatorFunc func(frameNumber uint64, raw []byte, partial bool) ([]byte, error)

// Translate calls f
func (f TranslatorFunc) Translate(frameNumber uint64, raw []byte, partial bool) ([]byte, error) {
	return f(frameNumber, raw, partial)
}

// passthroughTranslator copies the blob unchanged
var passthroughTranslator = TranslatorFunc(func(_ uint64, raw []byte, _ bool) ([]byte, error) {
	return append([]byte(nil), raw...), nil
})
