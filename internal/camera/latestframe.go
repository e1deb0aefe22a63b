// SPDX-License-Identifier: MIT

package camera

import (
	"sync"
	"time"

	"github.com/clipper-app/clipper/internal/bus"
)

// latestFrameCell is the single-slot mutex-protected cell shared between the
// capture sub-loop (writer) and the pacing sub-loop (reader). Last write
// wins; the pacing loop snapshots a reference under lock and releases
// immediately, so hold time is bounded by a pointer copy, never by I/O.
type latestFrameCell struct {
	mu          sync.Mutex
	buf         *bus.RefCountedBuffer
	captureTime time.Time
}

// store overwrites the cell's contents, discarding whatever was there.
func (c *latestFrameCell) store(buf *bus.RefCountedBuffer, at time.Time) {
	c.mu.Lock()
	c.buf, c.captureTime = buf, at
	c.mu.Unlock()
}

// snapshot returns the current contents without clearing the cell; the
// pacing loop re-reads the same buffer on consecutive ticks if the capture
// sub-loop has not produced a new one.
func (c *latestFrameCell) snapshot() (*bus.RefCountedBuffer, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf, c.captureTime
}
