package channel

import (
	"context"

	"github.com/tphakala/camerahal/internal/errors"
)

// Set holds at most one channel per stream kind
type Set struct {
	channels map[StreamKind]Channel
	order    []StreamKind
}

// NewSet builds a Set from the given channels
func NewSet(channels ...Channel) (*Set, error) {
	s := &Set{channels: make(map[StreamKind]Channel, len(channels))}
	for _, ch := range channels {
		kind := ch.Kind()
		if _, dup := s.channels[kind]; dup {
			return nil, errors.New(ErrDuplicateKind).
				Context("kind", kind.String()).
				Build()
		}
		s.channels[kind] = ch
		s.order = append(s.order, kind)
	}
	return s, nil
}

// Get returns the channel serving kind
func (s *Set) Get(kind StreamKind) (Channel, error) {
	ch, ok := s.channels[kind]
	if !ok {
		return nil, errors.New(ErrNoChannel).
			Context("kind", kind.String()).
			Build()
	}
	return ch, nil
}

// Kinds returns the kinds in the order channels were added
func (s *Set) Kinds() []StreamKind {
	return append([]StreamKind(nil), s.order...)
}

// Each calls fn for every channel in insertion order
func (s *Set) Each(fn func(Channel)) {
	for _, kind := range s.order {
		fn(s.channels[kind])
	}
}

// StartAll starts every channel, returning the joined errors
func (s *Set) StartAll(ctx context.Context) error {
	var errs []error
	for _, kind := range s.order {
		if err := s.channels[kind].Start(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every channel and returns the total number of discarded jobs
func (s *Set) StopAll() int {
	discarded := 0
	for _, kind := range s.order {
		discarded += s.channels[kind].Stop()
	}
	return discarded
}

// Restart stops and then starts every channel
func (s *Set) Restart(ctx context.Context) (int, error) {
	discarded := s.StopAll()
	return discarded, s.StartAll(ctx)
}
