// Package clockx implements the CLOCK (second-chance) victim policy used by
// the buffer pool manager's pluggable replacer. Adapted from the teacher's
// ref/evictable/present triple-slice design, rewritten around the exact
// three-state machine (Empty / Untouched / Accessed) and Pin/Unpin/Victim
// vocabulary spec.md §4.3 names.
package clockx

import (
	"errors"
	"fmt"
	"sync"
)

// ErrFrameOutOfRange is returned by Pin/Unpin when the frame id is not in
// [0, poolSize), the frame count the Clock was created with.
var ErrFrameOutOfRange = errors.New("clockx: frame out of range")

// state is a frame's position in the clock state machine.
type state uint8

const (
	// stateEmpty means the frame holds no evictable page (pinned, or never
	// touched) and is skipped by Victim.
	stateEmpty state = iota
	// stateUntouched is eligible for eviction and has not been accessed
	// since the clock hand last passed it.
	stateUntouched
	// stateAccessed is eligible for eviction but was accessed since the
	// hand last passed it, earning one more pass before eviction.
	stateAccessed
)

// Replacer is the victim-policy abstraction internal/bufpool depends on, so
// the pool is not coupled to CLOCK specifically (spec.md §2: "a pluggable
// victim policy"). *Clock is the only implementation this module ships.
type Replacer interface {
	Pin(frame int) error
	Unpin(frame int) error
	Victim() (frame int, ok bool)
	Size() int
}

// Clock implements Replacer using the second-chance / CLOCK algorithm over a
// fixed number of frames. It is safe for concurrent use: it carries its own
// internal mutex rather than relying on a caller-held latch, so it can sit
// at its own independent level in the buffer pool's latch order (spec.md
// §5: "replacer (exclusive latch)").
type Clock struct {
	mu     sync.Mutex
	states []state
	hand   int
}

// New returns a Clock sized for poolSize frames, all initially Empty.
func New(poolSize int) *Clock {
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Clock{states: make([]state, poolSize)}
}

// poolSize returns the number of frames this clock was sized for.
func (c *Clock) poolSize() int { return len(c.states) }

func (c *Clock) checkFrame(f int) error {
	if f < 0 || f >= c.poolSize() {
		return fmt.Errorf("%w: frame %d, pool size %d", ErrFrameOutOfRange, f, c.poolSize())
	}
	return nil
}

// Pin removes frame from the eligible set (sets it to Empty), used when a
// page in that frame becomes pinned.
func (c *Clock) Pin(frame int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkFrame(frame); err != nil {
		return err
	}
	c.states[frame] = stateEmpty
	return nil
}

// Unpin adds frame to the eligible set (sets it to Accessed), used when a
// page in that frame becomes unpinned and is therefore a candidate victim.
func (c *Clock) Unpin(frame int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkFrame(frame); err != nil {
		return err
	}
	c.states[frame] = stateAccessed
	return nil
}

// Victim scans forward from the clock hand for the first eligible frame,
// giving Accessed frames one extra pass before eviction. Returns (0, false)
// if Size() == 0.
func (c *Clock) Victim() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sizeLocked() == 0 {
		return 0, false
	}

	n := c.poolSize()
	for {
		idx := c.hand
		switch c.states[idx] {
		case stateEmpty:
			c.hand = (c.hand + 1) % n
		case stateAccessed:
			c.states[idx] = stateUntouched
			c.hand = (c.hand + 1) % n
		case stateUntouched:
			c.hand = (c.hand + 1) % n
			c.states[idx] = stateEmpty
			return idx, true
		}
	}
}

// Size reports the number of frames currently eligible for eviction
// (Untouched or Accessed).
func (c *Clock) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sizeLocked()
}

func (c *Clock) sizeLocked() int {
	n := 0
	for _, s := range c.states {
		if s != stateEmpty {
			n++
		}
	}
	return n
}
