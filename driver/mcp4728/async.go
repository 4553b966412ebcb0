package mcp4728

import (
	"github.com/y3i12/master-of-muppets/i2cx"
)

// Async adds an asynchronous update path on top of a Device. The fast
// write is a single frame, so one engine submission covers all channels.
type Async struct {
	dev   *Device
	eng   *i2cx.Engine
	frame [Channels * 2]byte
	done  func(i2cx.ErrorKind)
}

// NewAsync composes an async update path from a probed device and an
// engine bound to the same bus.
func NewAsync(dev *Device, eng *i2cx.Engine) *Async {
	return &Async{dev: dev, eng: eng}
}

// SetValuesAsync encodes the fast-write frame and submits it. done fires
// exactly once, from the engine's context.
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
		a.frame[ch*2] = fastWriteBits | byte(raw>>8)&0x0F
		a.frame[ch*2+1] = byte(raw)
	}
	a.done = done
	if k := a.eng.TransferAsync(i2cx.Transfer{Addr: a.dev.addr, W: a.frame[:]}, a.complete, nil); k != i2cx.Success {
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

func (a *Async) complete(_ i2cx.State, kind i2cx.ErrorKind, _ any) {
	done := a.done
	a.done = nil
	if done != nil {
		done(kind)
	}
}
