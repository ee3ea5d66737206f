package scenario

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tphakala/camerahal/internal/capture"
)

// transcript is a capture.ResultSink rendering every call as one line
type transcript struct {
	mu    sync.Mutex
	lines []string
}

func (t *transcript) Notify(msg capture.NotifyMessage) {
	var line string
	switch {
	case msg.Type == capture.NotifyShutter:
		line = fmt.Sprintf("shutter %d ts=%d", msg.FrameNumber, msg.Timestamp)
	case msg.ErrorCode == capture.ErrorBuffer:
		line = fmt.Sprintf("error %s %d %s", msg.ErrorCode, msg.FrameNumber, msg.StreamID)
	case msg.ErrorCode == capture.ErrorDevice:
		line = fmt.Sprintf("error %s", msg.ErrorCode)
	default:
		line = fmt.Sprintf("error %s %d", msg.ErrorCode, msg.FrameNumber)
	}
	t.append(line)
}

func (t *transcript) ProcessResult(r *capture.CaptureResult) {
	var b strings.Builder
	fmt.Fprintf(&b, "result %d partial=%d", r.FrameNumber, r.PartialResult)
	if md := r.Metadata; md != nil {
		fmt.Fprintf(&b, " ts=%d depth=%d", md.SensorTimestamp, md.PipelineDepth)
		if md.Synthesized {
			b.WriteString(" synthesized")
		}
	}
	if len(r.OutputBuffers) > 0 {
		parts := make([]string, len(r.OutputBuffers))
		for i, buf := range r.OutputBuffers {
			parts[i] = buf.StreamID + ":" + buf.Status.String()
		}
		fmt.Fprintf(&b, " buffers=[%s]", strings.Join(parts, ","))
	}
	if in := r.InputBuffer; in != nil {
		fmt.Fprintf(&b, " input=%s:%s", in.StreamID, in.Status)
	}
	t.append(b.String())
}

func (t *transcript) append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
}

func (t *transcript) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}
