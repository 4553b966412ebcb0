package muppets

import (
	"github.com/y3i12/master-of-muppets/i2cx"
	"github.com/y3i12/master-of-muppets/recovery"
	"github.com/y3i12/master-of-muppets/sched"
)

// worker is the lifetime task of one DAC. Each iteration observes the
// update sequence under the state mutex, snapshots the output slice under
// the channel lock, transfers, and commits the observed sequence only on
// success. A failed transfer leaves the sequence uncommitted, so the next
// iteration sees the same (or a newer) pending update and retries without
// the dispatcher having to republish.
func (c *Core) worker(u *dacUnit) {
	for {
		if c.workerStep(u) {
			sched.Yield()
		} else {
			sched.Sleep(c.cfg.ThreadSlice)
		}
	}
}

// workerStep runs one worker iteration and reports whether there was
// work. Committing only on success is the retry mechanism: the sequence
// stays pending until a transfer goes through.
func (c *Core) workerStep(u *dacUnit) bool {
	u.state.Lock()
	seq := u.updateSequence
	should := seq != u.lastProcessed && !u.updateInProgress
	if should {
		u.updateInProgress = true
	}
	u.state.Unlock()

	if !should {
		return false
	}

	u.lock.Lock()
	copy(u.snapshot, c.output[u.start:u.start+u.width])
	u.lock.Unlock()

	ok := c.transfer(u)

	u.state.Lock()
	if ok {
		u.lastProcessed = seq
	}
	u.updateInProgress = false
	u.state.Unlock()
	return true
}

// transfer pushes the worker's snapshot to the chip, applying the
// recovery policy on failure. It reports whether the update may be
// committed.
func (c *Core) transfer(u *dacUnit) bool {
	retry := 0
	for {
		c.policy.CountOperation()
		kind := c.attempt(u)
		if kind == i2cx.Success {
			c.policy.NotifySuccess(u.index)
			return true
		}
		sev, action := c.policy.HandleError(kind, u.index, retry)
		c.log.Warn("dac transfer failed",
			"dac", u.index, "kind", kind.String(),
			"severity", sev.String(), "action", action.String(),
			"retry", retry)

		if action != recovery.ResetPeripheral && action != recovery.Escalate &&
			c.policy.ShouldReset(u.index) {
			action = recovery.ResetPeripheral
		}
		switch action {
		case recovery.RetryNow:
			retry++
		case recovery.RetryWithBackoff:
			sched.Sleep(c.policy.RetryDelay(u.index, retry))
			retry++
		case recovery.FallbackSync:
			c.policy.EnterFallback(u.index)
			c.log.Warn("dac in synchronous fallback", "dac", u.index)
			return false
		case recovery.ResetPeripheral:
			c.resetPeripheral(u)
			return false
		case recovery.Escalate:
			c.log.Error("unrecoverable dac error", "dac", u.index, "kind", kind.String())
			return false
		default:
			return false
		}
		// Retry budget holds even for always-retry kinds such as
		// arbitration loss; the uncommitted sequence retries the
		// update on the next pass.
		if retry > c.cfg.Recovery.MaxRetryAttempts {
			return false
		}
	}
}

// attempt performs one transfer: LDAC bracket around the synchronous or
// asynchronous update path. Fallback mode pins the synchronous path.
func (c *Core) attempt(u *dacUnit) i2cx.ErrorKind {
	if err := u.drv.Enable(); err != nil {
		return i2cx.Classify(err)
	}
	var kind i2cx.ErrorKind
	if u.async != nil && !c.policy.FallbackActive(u.index) {
		kind = u.async.SetValuesAsync(u.snapshot, func(k i2cx.ErrorKind) {
			u.done <- k
		})
		if kind == i2cx.Success {
			kind = <-u.done
		}
	} else {
		kind = i2cx.Classify(u.drv.SetValues(u.snapshot))
	}
	if err := u.drv.Disable(); err != nil && kind == i2cx.Success {
		kind = i2cx.Classify(err)
	}
	return kind
}

// resetPeripheral tears the DAC's bus path down and up again. The policy
// keeps the DAC in fallback until a full recovery streak; the still
// uncommitted sequence (or the next refresh) retransmits the output
// slice once the chip answers again.
func (c *Core) resetPeripheral(u *dacUnit) {
	c.log.Warn("resetting dac peripheral", "dac", u.index)
	if r, ok := u.async.(interface{ Reset() }); ok {
		r.Reset()
	}
	if r, ok := u.drv.(Reiniter); ok {
		if err := r.Reinit(); err != nil {
			c.log.Error("dac reinit failed", "dac", u.index, "err", err)
		}
	}
	c.policy.NotifyReset(u.index)
}
