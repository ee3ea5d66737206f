package capture

// WakeReason tells a blocked submitter why it was woken
type WakeReason int

const (
	WakeNone WakeReason = iota
	WakeCompletion
	WakePull
	WakeFlush
	WakeTimeout
	WakeCancelled
	WakeDeviceError
	wakeReasonCount
)

func (r WakeReason) String() string {
	switch r {
	case WakeCompletion:
		return "completion"
	case WakePull:
		return "pull"
	case WakeFlush:
		return "flush"
	case WakeTimeout:
		return "timeout"
	case WakeCancelled:
		return "cancelled"
	case WakeDeviceError:
		return "device_error"
	default:
		return "none"
	}
}

// waitGeneration is closed once with the reason of the broadcast that ended it
type waitGeneration struct {
	ch     chan struct{}
	reason WakeReason
}

// admissionGate is the condition a blocked submitter waits on. Every method
// must be called with the pipeline mutex held.
type admissionGate struct {
	gen   *waitGeneration
	wakes [wakeReasonCount]uint64
}

func newAdmissionGate() *admissionGate {
	return &admissionGate{gen: &waitGeneration{ch: make(chan struct{})}}
}

// current returns the generation a new waiter should block on
func (g *admissionGate) current() *waitGeneration {
	return g.gen
}

// broadcast wakes every waiter of the current generation with reason
func (g *admissionGate) broadcast(reason WakeReason) {
	g.gen.reason = reason
	close(g.gen.ch)
	g.gen = &waitGeneration{ch: make(chan struct{})}
}

// record counts a wake observed by a waiter
func (g *admissionGate) record(reason WakeReason) {
	if reason > WakeNone && reason < wakeReasonCount {
		g.wakes[reason]++
	}
}

func (g *admissionGate) snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	for r := WakeCompletion; r < wakeReasonCount; r++ {
		if n := g.wakes[r]; n > 0 {
			out[r.String()] = n
		}
	}
	return out
}
