package feed

import (
	"sync/atomic"

	"github.com/nbd-wtf/go-nostr"
)

// Cursor tracks the high-water mark of a feed: the newest created_at seen.
// Zero means nothing has been loaded.
type Cursor struct {
	since atomic.Int64
}

// Since returns the high-water mark
func (c *Cursor) Since() int64 {
	return c.since.Load()
}

// Advance moves the mark to the newest created_at in events. It never moves
// backward and reports whether it moved.
func (c *Cursor) Advance(events []*nostr.Event) bool {
	var newest int64
	for _, event := range events {
		if event != nil && int64(event.CreatedAt) > newest {
			newest = int64(event.CreatedAt)
		}
	}
	return c.AdvanceTo(newest)
}

// AdvanceTo moves the mark to ts if it is newer
func (c *Cursor) AdvanceTo(ts int64) bool {
	for {
		current := c.since.Load()
		if ts <= current {
			return false
		}
		if c.since.CompareAndSwap(current, ts) {
			return true
		}
	}
}

// Reset clears the mark
func (c *Cursor) Reset() {
	c.since.Store(0)
}
