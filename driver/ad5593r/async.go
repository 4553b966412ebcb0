package ad5593r

import (
	"github.com/y3i12/master-of-muppets/i2cx"
)

// Async adds an asynchronous update path on top of a Device by chaining
// per-channel register writes through an i2cx engine: each completion
// callback submits the next channel, so the submitting task never blocks
// on the bus.
type Async struct {
	dev    *Device
	eng    *i2cx.Engine
	frames [Channels][2]byte
	next   int
	done   func(i2cx.ErrorKind)
}

// NewAsync composes an async update path from a probed device and an
// engine bound to the same bus.
func NewAsync(dev *Device, eng *i2cx.Engine) *Async {
	return &Async{dev: dev, eng: eng}
}

// SetValuesAsync encodes all channels and submits the first register
// write. done fires exactly once, from the engine's context, after the
// last channel completes or the first failure. Only one update may be in
// flight; a second submission fails with Busy.
func (a *Async) SetValuesAsync(values []uint16, done func(i2cx.ErrorKind)) i2cx.ErrorKind {
	if !a.dev.initialized {
		return i2cx.Uninitialized
	}
	if len(values) != Channels || done == nil {
		return i2cx.InvalidArg
	}
	if a.done != nil {
		return i2cx.Busy
	}
	for ch, v := range values {
		raw := Rescale(v)
		a.frames[ch][0] = byte(raw >> 8)
		a.frames[ch][1] = byte(raw)
	}
	a.next = 0
	a.done = done
	if k := a.submit(); k != i2cx.Success {
		a.done = nil
		return k
	}
	return i2cx.Success
}

// Reset aborts any in-flight transfer and returns the engine to idle.
func (a *Async) Reset() {
	a.eng.Abort()
	a.eng.Reset()
}

func (a *Async) submit() i2cx.ErrorKind {
	t := i2cx.Transfer{
		Addr: a.dev.addr,
		Reg:  ptrDACWrite | uint8(a.next),
		W:    a.frames[a.next][:],
	}
	return a.eng.TransferAsync(t, a.complete, nil)
}

func (a *Async) complete(_ i2cx.State, kind i2cx.ErrorKind, _ any) {
	if kind != i2cx.Success {
		a.finish(kind)
		return
	}
	a.next++
	if a.next >= Channels {
		a.finish(i2cx.Success)
		return
	}
	if k := a.submit(); k != i2cx.Success {
		a.finish(k)
	}
}

func (a *Async) finish(kind i2cx.ErrorKind) {
	done := a.done
	a.done = nil
	if done != nil {
		done(kind)
	}
}
