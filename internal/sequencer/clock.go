// Package sequencer drives playback: a periodic tick reads the clock,
// resolves the current timeline position, and commands the slot manager
// when an item's time is up.
package sequencer

import "time"

// Clock abstracts wall time so tests can drive the sequencer without
// sleeping.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time { return time.Now() }

// offsetClock tracks elapsed playback offset within the current item.
// While running, offset = startOffset + (now - startTime). Pausing freezes
// the offset; resuming shifts startTime forward by exactly the paused
// duration, so offsets stay continuous to the millisecond across any
// number of pause/resume cycles.
type offsetClock struct {
	clock Clock

	running bool
	paused  bool

	startTime   time.Time
	startOffset time.Duration
	pausedAt    time.Time
}

func newOffsetClock(clock Clock) *offsetClock {
	return &offsetClock{clock: clock}
}

// Start begins (or restarts) the clock at the given offset, clearing any
// pause state.
func (c *offsetClock) Start(offset time.Duration) {
	c.running = true
	c.paused = false
	c.startTime = c.clock.Now()
	c.startOffset = offset
}

// Offset returns the current playback offset: the frozen value while
// paused, zero while stopped.
func (c *offsetClock) Offset() time.Duration {
	if !c.running {
		return 0
	}
	if c.paused {
		return c.startOffset + c.pausedAt.Sub(c.startTime)
	}
	return c.startOffset + c.clock.Now().Sub(c.startTime)
}

// Pause freezes the offset at its current value.
func (c *offsetClock) Pause() {
	if !c.running || c.paused {
		return
	}
	c.paused = true
	c.pausedAt = c.clock.Now()
}

// Resume continues from the frozen offset. The start time shifts forward
// by the exact paused duration rather than recomputing from the offset,
// so no rounding drift accumulates.
func (c *offsetClock) Resume() {
	if !c.running || !c.paused {
		return
	}
	c.startTime = c.startTime.Add(c.clock.Now().Sub(c.pausedAt))
	c.paused = false
}

// Stop halts the clock and discards its offset.
func (c *offsetClock) Stop() {
	c.running = false
	c.paused = false
	c.startOffset = 0
}
