package capture

import (
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
)

// frameDropRegistry remembers (frame, stream) pairs the backend reported as
// dropped. A mark is consumed by the first return of that buffer; marks whose
// buffer never surfaces expire after the TTL.
type frameDropRegistry struct {
	marks *cache.Cache
}

// newFrameDropRegistry creates a registry without a janitor goroutine;
// expired marks are swept on count.
func newFrameDropRegistry(ttl time.Duration) *frameDropRegistry {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &frameDropRegistry{marks: cache.New(ttl, 0)}
}

func dropKey(frame uint64, stream string) string {
	return strconv.FormatUint(frame, 10) + "/" + stream
}

func (r *frameDropRegistry) mark(frame uint64, stream string) {
	r.marks.Set(dropKey(frame, stream), struct{}{}, cache.DefaultExpiration)
}

// consume reports whether (frame, stream) was marked and clears the mark
func (r *frameDropRegistry) consume(frame uint64, stream string) bool {
	key := dropKey(frame, stream)
	if _, ok := r.marks.Get(key); !ok {
		return false
	}
	r.marks.Delete(key)
	return true
}

func (r *frameDropRegistry) len() int {
	r.marks.DeleteExpired()
	return r.marks.ItemCount()
}

func (r *frameDropRegistry) clear() {
	r.marks.Flush()
}
