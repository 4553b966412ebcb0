package muppets

import (
	"slices"

	"github.com/y3i12/master-of-muppets/sched"
)

// SetChannel delivers one scaled value from the ingress task. Channels
// outside the configured space are dropped silently; a USB host may send
// on all sixteen MIDI channels while the board has fewer outputs.
//
// The write happens under the owning DAC's channel lock: the dispatcher
// holds the same lock while copying, so a slice copy never observes a
// torn 16-bit store.
func (c *Core) SetChannel(i int, v uint16) {
	u := c.owner(i)
	if u == nil {
		return
	}
	u.lock.Lock()
	c.input[i] = v
	u.lock.Unlock()
}

// SetAll delivers the same value to every channel. Used by the LFO
// self-test source.
func (c *Core) SetAll(v uint16) {
	for _, u := range c.dacs {
		u.lock.Lock()
		for i := u.start; i < u.start+u.width; i++ {
			c.input[i] = v
		}
		u.lock.Unlock()
	}
}

// Dispatch runs one dispatcher pass: for every DAC whose channel lock is
// free, copy its input slice to its output slice and, if anything
// changed, publish a new update sequence. A DAC whose lock is contended
// is skipped; the next pass or the refresh watchdog covers it. Dispatch
// never blocks and never touches a driver.
func (c *Core) Dispatch() {
	for _, u := range c.dacs {
		if !u.lock.TryLock() {
			continue
		}
		in := c.input[u.start : u.start+u.width]
		out := c.output[u.start : u.start+u.width]
		changed := !slices.Equal(out, in)
		if changed {
			copy(out, in)
		}
		u.lock.Unlock()
		if changed {
			u.bump()
		}
	}
}

// RequestUpdate asks the worker for DAC d to retransmit its output
// slice, data change or not.
func (c *Core) RequestUpdate(d int) {
	if d < 0 || d >= len(c.dacs) {
		return
	}
	c.dacs[d].bump()
}

// RefreshAll requests an update on every DAC.
func (c *Core) RefreshAll() {
	for _, u := range c.dacs {
		u.bump()
	}
}

func (u *dacUnit) bump() {
	u.state.Lock()
	u.updateSequence++
	u.state.Unlock()
}

// dispatchLoop is the dispatcher task.
func (c *Core) dispatchLoop() {
	for {
		c.Dispatch()
		sched.Sleep(c.cfg.ThreadSlice)
	}
}

// refreshLoop is the refresh watchdog task: it bounds output staleness
// regardless of ingress quiescence and recovers workers from any lost
// update, since a bump is all a worker needs to run again.
func (c *Core) refreshLoop() {
	for {
		sched.Sleep(c.cfg.ForceRefreshEvery)
		c.RefreshAll()
	}
}
