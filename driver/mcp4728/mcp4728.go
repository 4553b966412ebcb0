// package mcp4728 implements a driver for the Microchip MCP4728 4-channel
// 12-bit DAC. Updates use the fast-write command, which refreshes all four
// channel input registers in a single frame; the LDAC line transfers them
// to the outputs.
//
// Datasheet: https://ww1.microchip.com/downloads/en/DeviceDoc/22187E.pdf
package mcp4728

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"

	"github.com/y3i12/master-of-muppets/i2cx"
	"github.com/y3i12/master-of-muppets/sched"
)

const (
	// DefaultAddr is the factory-programmed 7-bit address.
	DefaultAddr = 0x60

	// Channels per physical chip.
	Channels = 4

	// maxVal is the full-scale 12-bit code.
	maxVal = 4095
)

// Fast write: C2 C1 = 00, PD1 PD0 = 00, then the 12-bit code. Four
// channel pairs back to back, no command byte.
const fastWriteBits = 0x00

const (
	probeAttempts = 100
	probeSpacing  = 10 * time.Millisecond
)

// Device drives one MCP4728.
type Device struct {
	bus         i2c.Bus
	addr        uint16
	ldac        gpio.PinOut
	frame       [Channels * 2]byte
	initialized bool
}

// New returns an unprobed device. Call Init before use.
func New(bus i2c.Bus, addr uint16, ldac gpio.PinOut) *Device {
	if addr == 0 {
		addr = DefaultAddr
	}
	return &Device{bus: bus, addr: addr, ldac: ldac}
}

// Addr returns the device's 7-bit address.
func (d *Device) Addr() uint16 { return d.addr }

// Channels reports the channel count of the chip.
func (d *Device) Channels() int { return Channels }

// Init probes the chip and zeroes all channels.
func (d *Device) Init() error {
	if err := d.ldac.Out(gpio.Low); err != nil {
		return fmt.Errorf("mcp4728: ldac: %w", err)
	}
	var status [1]byte
	var err error
	for i := 0; i < probeAttempts; i++ {
		err = d.bus.Tx(d.addr, nil, status[:])
		if err == nil {
			break
		}
		sched.Sleep(probeSpacing)
	}
	if err != nil {
		return fmt.Errorf("mcp4728: no response at %#x: %w", d.addr, i2cx.ErrUninitialized)
	}
	d.initialized = true
	return d.SetValues(make([]uint16, Channels))
}

// Reinit runs the full initialization again after a peripheral reset.
func (d *Device) Reinit() error {
	d.initialized = false
	return d.Init()
}

// Enable drives LDAC high, holding analog outputs while the input
// registers are written.
func (d *Device) Enable() error {
	return d.ldac.Out(gpio.High)
}

// Disable drives LDAC low, transferring all input registers to the
// analog outputs simultaneously.
func (d *Device) Disable() error {
	return d.ldac.Out(gpio.Low)
}

// SetValues fast-writes all four channels from 16-bit framework values.
func (d *Device) SetValues(values []uint16) error {
	if !d.initialized {
		return fmt.Errorf("mcp4728: %w", i2cx.ErrUninitialized)
	}
	if len(values) != Channels {
		return fmt.Errorf("mcp4728: %d values for %d channels: %w", len(values), Channels, i2cx.ErrInvalidArg)
	}
	d.encode(values)
	if err := d.bus.Tx(d.addr, d.frame[:], nil); err != nil {
		return fmt.Errorf("mcp4728: fast write: %w", err)
	}
	return nil
}

// Rescale maps a 16-bit framework value onto the chip's 12-bit range,
// rounding to the nearest code.
func Rescale(v uint16) uint16 {
	return uint16((uint32(v)*maxVal + 0xFFFF/2) / 0xFFFF)
}

func (d *Device) encode(values []uint16) {
	for ch, v := range values {
		raw := Rescale(v)
		d.frame[ch*2] = fastWriteBits | byte(raw>>8)&0x0F
		d.frame[ch*2+1] = byte(raw)
	}
}
