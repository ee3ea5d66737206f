package capture

import (
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"

	"github.com/tphakala/camerahal/internal/errors"
)

// requestedBuffer is one output target of a pending request
type requestedBuffer struct {
	streamID  string
	buffer    *StreamBuffer // nil until the backend returns it
	delivered bool
}

// pendingRequest is the ledger entry for an admitted request
type pendingRequest struct {
	frameNumber        uint64
	buffers            []requestedBuffer
	partialResultCount int
	pipelineDepth      int
	reprocess          bool
	input              *StreamBuffer
	settings           []byte
	shutterSent        bool
}

func newPendingRequest(req *CaptureRequest) *pendingRequest {
	e := &pendingRequest{
		frameNumber: req.FrameNumber,
		buffers:     make([]requestedBuffer, len(req.OutputBuffers)),
		reprocess:   req.IsReprocess(),
		settings:    append([]byte(nil), req.Settings...),
	}
	for i, b := range req.OutputBuffers {
		e.buffers[i] = requestedBuffer{streamID: b.StreamID}
	}
	if req.InputBuffer != nil {
		in := *req.InputBuffer
		e.input = &in
	}
	return e
}

// requested returns the slot for stream, nil when the request does not target it
func (e *pendingRequest) requested(streamID string) *requestedBuffer {
	for i := range e.buffers {
		if e.buffers[i].streamID == streamID {
			return &e.buffers[i]
		}
	}
	return nil
}

// allFilled reports whether every requested buffer has come back
func (e *pendingRequest) allFilled() bool {
	for i := range e.buffers {
		if e.buffers[i].buffer == nil {
			return false
		}
	}
	return true
}

// requestLedger orders pending requests by frame number
type requestLedger struct {
	tree *treemap.Map
}

func newRequestLedger() *requestLedger {
	return &requestLedger{tree: treemap.NewWith(utils.UInt64Comparator)}
}

// insert appends e; its frame must not be below or equal to any pending frame
func (l *requestLedger) insert(e *pendingRequest) error {
	if _, exists := l.tree.Get(e.frameNumber); exists {
		return errors.New(ErrDuplicateFrame).
			FrameContext(e.frameNumber, "").
			Build()
	}
	if highest, ok := l.highest(); ok && highest > e.frameNumber {
		return errors.New(ErrFrameOutOfOrder).
			FrameContext(e.frameNumber, "").
			Context("highest_pending", highest).
			Build()
	}
	l.tree.Put(e.frameNumber, e)
	return nil
}

func (l *requestLedger) get(frame uint64) (*pendingRequest, bool) {
	v, ok := l.tree.Get(frame)
	if !ok {
		return nil, false
	}
	return v.(*pendingRequest), true
}

func (l *requestLedger) remove(frame uint64) {
	l.tree.Remove(frame)
}

func (l *requestLedger) len() int {
	return l.tree.Size()
}

func (l *requestLedger) highest() (uint64, bool) {
	k, _ := l.tree.Max()
	if k == nil {
		return 0, false
	}
	return k.(uint64), true
}

// hasOlderThan reports whether any pending frame is below frame
func (l *requestLedger) hasOlderThan(frame uint64) bool {
	k, _ := l.tree.Min()
	return k != nil && k.(uint64) < frame
}

// ascendUpTo returns the entries with frame <= limit in ascending order
func (l *requestLedger) ascendUpTo(limit uint64) []*pendingRequest {
	var out []*pendingRequest
	it := l.tree.Iterator()
	for it.Next() {
		if it.Key().(uint64) > limit {
			break
		}
		out = append(out, it.Value().(*pendingRequest))
	}
	return out
}

// entries returns every pending request in ascending frame order
func (l *requestLedger) entries() []*pendingRequest {
	values := l.tree.Values()
	out := make([]*pendingRequest, len(values))
	for i, v := range values {
		out[i] = v.(*pendingRequest)
	}
	return out
}

func (l *requestLedger) frames() []uint64 {
	keys := l.tree.Keys()
	out := make([]uint64, len(keys))
	for i, k := range keys {
		out[i] = k.(uint64)
	}
	return out
}

func (l *requestLedger) clear() {
	l.tree.Clear()
}
