package capture

import (
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
)

// reprocessResult is a reprocess completion waiting for older frames to close.
// The output buffers stay in the ledger entry until delivery.
type reprocessResult struct {
	frameNumber uint64
	shutter     NotifyMessage
}

// reprocessCache holds deferred reprocess completions ordered by frame
type reprocessCache struct {
	tree *treemap.Map
}

func newReprocessCache() *reprocessCache {
	return &reprocessCache{tree: treemap.NewWith(utils.UInt64Comparator)}
}

func (c *reprocessCache) put(r reprocessResult) {
	c.tree.Put(r.frameNumber, r)
}

func (c *reprocessCache) remove(frame uint64) {
	c.tree.Remove(frame)
}

// oldest returns the deferred result with the lowest frame number
func (c *reprocessCache) oldest() (reprocessResult, bool) {
	_, v := c.tree.Min()
	if v == nil {
		return reprocessResult{}, false
	}
	return v.(reprocessResult), true
}

// frames returns the deferred frame numbers, ascending
func (c *reprocessCache) frames() []uint64 {
	out := make([]uint64, 0, c.tree.Size())
	for _, k := range c.tree.Keys() {
		out = append(out, k.(uint64))
	}
	return out
}

func (c *reprocessCache) len() int {
	return c.tree.Size()
}

func (c *reprocessCache) clear() {
	c.tree.Clear()
}
