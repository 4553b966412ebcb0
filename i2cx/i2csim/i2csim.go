// Package i2csim implements an in-process I²C bus for tests: it captures
// every frame, serves register reads, and injects scripted faults — NAKs,
// arbitration losses, bus failures and stalls that outlive the transfer
// timeout.
package i2csim

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/y3i12/master-of-muppets/i2cx"
)

// Write is one captured write frame.
type Write struct {
	Addr uint16
	Data []byte
}

// Bus is a scriptable i2c.Bus. The zero value is ready to use.
type Bus struct {
	mu     sync.Mutex
	writes []Write
	regs   map[uint16]map[uint8][]byte
	faults []error
	stall  chan struct{}
	absent map[uint16]bool
	speed  physic.Frequency
	txs    int
}

var _ i2c.Bus = (*Bus)(nil)

func (b *Bus) String() string { return "i2csim" }

func (b *Bus) SetSpeed(f physic.Frequency) error {
	b.mu.Lock()
	b.speed = f
	b.mu.Unlock()
	return nil
}

// Speed reports the last clock applied with SetSpeed.
func (b *Bus) Speed() physic.Frequency {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speed
}

// FailNext queues faults; each subsequent Tx consumes one and returns it.
func (b *Bus) FailNext(errs ...error) {
	b.mu.Lock()
	b.faults = append(b.faults, errs...)
	b.mu.Unlock()
}

// Stall blocks every Tx until Release is called. Models a wedged bus.
func (b *Bus) Stall() {
	b.mu.Lock()
	if b.stall == nil {
		b.stall = make(chan struct{})
	}
	b.mu.Unlock()
}

// Release unblocks stalled transfers.
func (b *Bus) Release() {
	b.mu.Lock()
	if b.stall != nil {
		close(b.stall)
		b.stall = nil
	}
	b.mu.Unlock()
}

// SetAbsent makes the slave at addr NAK every transfer, as an unpopulated
// board position would.
func (b *Bus) SetAbsent(addr uint16, absent bool) {
	b.mu.Lock()
	if b.absent == nil {
		b.absent = make(map[uint16]bool)
	}
	b.absent[addr] = absent
	b.mu.Unlock()
}

func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	stall := b.stall
	b.mu.Unlock()
	if stall != nil {
		<-stall
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.txs++
	if len(b.faults) > 0 {
		err := b.faults[0]
		b.faults = b.faults[1:]
		return err
	}
	if b.absent[addr] {
		return fmt.Errorf("i2csim: slave %#x: %w", addr, i2cx.ErrNak)
	}
	if len(w) > 0 {
		frame := make([]byte, len(w))
		copy(frame, w)
		b.writes = append(b.writes, Write{Addr: addr, Data: frame})
		if b.regs == nil {
			b.regs = make(map[uint16]map[uint8][]byte)
		}
		dev := b.regs[addr]
		if dev == nil {
			dev = make(map[uint8][]byte)
			b.regs[addr] = dev
		}
		if len(w) > 1 {
			val := make([]byte, len(w)-1)
			copy(val, w[1:])
			dev[w[0]] = val
		}
	}
	if len(r) > 0 {
		for i := range r {
			r[i] = 0
		}
		if len(w) > 0 {
			copy(r, b.regs[addr][w[0]])
		}
	}
	return nil
}

// Writes returns the captured frames so far.
func (b *Bus) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Write, len(b.writes))
	copy(out, b.writes)
	return out
}

// WritesTo returns the captured frames addressed to addr.
func (b *Bus) WritesTo(addr uint16) []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Write
	for _, w := range b.writes {
		if w.Addr == addr {
			out = append(out, w)
		}
	}
	return out
}

// Register returns the last value written to a register of a slave, nil if
// never written.
func (b *Bus) Register(addr uint16, reg uint8) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	val := b.regs[addr][reg]
	if val == nil {
		return nil
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out
}

// Transfers reports how many Tx calls reached the bus.
func (b *Bus) Transfers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.txs
}

// ResetLog drops captured frames but keeps register state.
func (b *Bus) ResetLog() {
	b.mu.Lock()
	b.writes = nil
	b.txs = 0
	b.mu.Unlock()
}
