package capture

import (
	"slices"
	"strings"
)

type bufferKey struct {
	frame  uint64
	stream string
}

// pendingBufferMap holds every output buffer dispatched but not yet returned
type pendingBufferMap struct {
	records map[bufferKey]StreamBuffer
}

func newPendingBufferMap() *pendingBufferMap {
	return &pendingBufferMap{records: make(map[bufferKey]StreamBuffer)}
}

func (m *pendingBufferMap) add(frame uint64, buf StreamBuffer) {
	m.records[bufferKey{frame, buf.StreamID}] = buf
}

func (m *pendingBufferMap) has(frame uint64, stream string) bool {
	_, ok := m.records[bufferKey{frame, stream}]
	return ok
}

// take removes and returns the record for (frame, stream)
func (m *pendingBufferMap) take(frame uint64, stream string) (StreamBuffer, bool) {
	key := bufferKey{frame, stream}
	buf, ok := m.records[key]
	if ok {
		delete(m.records, key)
	}
	return buf, ok
}

// takeFrame removes every record of frame, ordered by stream id
func (m *pendingBufferMap) takeFrame(frame uint64) []StreamBuffer {
	var out []StreamBuffer
	for key, buf := range m.records {
		if key.frame == frame {
			out = append(out, buf)
			delete(m.records, key)
		}
	}
	slices.SortFunc(out, func(a, b StreamBuffer) int {
		return strings.Compare(a.StreamID, b.StreamID)
	})
	return out
}

// frames returns the distinct frame numbers with outstanding buffers, ascending
func (m *pendingBufferMap) frames() []uint64 {
	seen := make(map[uint64]struct{})
	for key := range m.records {
		seen[key.frame] = struct{}{}
	}
	out := make([]uint64, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

func (m *pendingBufferMap) len() int {
	return len(m.records)
}

func (m *pendingBufferMap) clear() {
	clear(m.records)
}
