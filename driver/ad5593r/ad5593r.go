// package ad5593r implements a driver for the Analog Devices AD5593R
// 8-channel configurable ADC/DAC, used here as an 8-channel 12-bit DAC
// with synchronous output updates gated by the LDAC line.
//
// Datasheet: https://www.analog.com/media/en/technical-documentation/data-sheets/AD5593R.pdf
package ad5593r

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"

	"github.com/y3i12/master-of-muppets/i2cx"
	"github.com/y3i12/master-of-muppets/sched"
)

const (
	// DefaultAddr is the 7-bit address with A0 tied low.
	DefaultAddr = 0x10

	// Channels per physical chip.
	Channels = 8

	// maxVal is the full-scale 12-bit code.
	maxVal = 4095
)

// Pointer byte modes (datasheet table 8). Configuration registers use the
// register number directly; DAC writes use 0x10 | channel.
const (
	ptrDACWrite = 0x10

	regDACConfig    = 0x05
	regPowerDownRef = 0x0B
	regSoftReset    = 0x0F

	enableRef    = 0x0200
	softResetKey = 0x05AC
)

const (
	probeAttempts = 100
	probeSpacing  = 10 * time.Millisecond
)

// Device drives one AD5593R.
type Device struct {
	bus         i2c.Bus
	addr        uint16
	ldac        gpio.PinOut
	scratch     [3]byte
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

// Init probes the chip, enables the internal reference, configures all
// eight pins as DAC outputs and zeroes them. The probe is retried for up
// to a second to ride out slow power-up.
func (d *Device) Init() error {
	if err := d.ldac.Out(gpio.Low); err != nil {
		return fmt.Errorf("ad5593r: ldac: %w", err)
	}
	var err error
	for i := 0; i < probeAttempts; i++ {
		err = d.writeReg(regPowerDownRef, enableRef)
		if err == nil {
			break
		}
		sched.Sleep(probeSpacing)
	}
	if err != nil {
		return fmt.Errorf("ad5593r: no response at %#x: %w", d.addr, i2cx.ErrUninitialized)
	}
	if err := d.writeReg(regDACConfig, 0x00FF); err != nil {
		return fmt.Errorf("ad5593r: dac config: %w", err)
	}
	for ch := 0; ch < Channels; ch++ {
		if err := d.writeDAC(ch, 0); err != nil {
			return fmt.Errorf("ad5593r: zero channel %d: %w", ch, err)
		}
	}
	d.initialized = true
	return nil
}

// Reinit resets the chip and runs the full initialization again. Used by
// the recovery path after a peripheral reset.
func (d *Device) Reinit() error {
	d.initialized = false
	// Best effort; an unresponsive chip fails the probe below anyway.
	_ = d.writeReg(regSoftReset, softResetKey)
	return d.Init()
}

// Enable drives LDAC high, holding analog outputs while channel registers
// are written.
func (d *Device) Enable() error {
	return d.ldac.Out(gpio.High)
}

// Disable drives LDAC low, transferring all channel registers to the
// analog outputs simultaneously.
func (d *Device) Disable() error {
	return d.ldac.Out(gpio.Low)
}

// SetValues writes all channels from 16-bit framework values, rescaled to
// the chip's 12 bits.
func (d *Device) SetValues(values []uint16) error {
	if !d.initialized {
		return fmt.Errorf("ad5593r: %w", i2cx.ErrUninitialized)
	}
	if len(values) != Channels {
		return fmt.Errorf("ad5593r: %d values for %d channels: %w", len(values), Channels, i2cx.ErrInvalidArg)
	}
	for ch, v := range values {
		if err := d.writeDAC(ch, Rescale(v)); err != nil {
			return fmt.Errorf("ad5593r: channel %d: %w", ch, err)
		}
	}
	return nil
}

// SetChannel writes a single channel from a 16-bit framework value.
func (d *Device) SetChannel(ch int, value uint16) error {
	if !d.initialized {
		return fmt.Errorf("ad5593r: %w", i2cx.ErrUninitialized)
	}
	if ch < 0 || ch >= Channels {
		return fmt.Errorf("ad5593r: channel %d: %w", ch, i2cx.ErrInvalidArg)
	}
	if err := d.writeDAC(ch, Rescale(value)); err != nil {
		return fmt.Errorf("ad5593r: channel %d: %w", ch, err)
	}
	return nil
}

// Rescale maps a 16-bit framework value onto the chip's 12-bit range,
// rounding to the nearest code.
func Rescale(v uint16) uint16 {
	return uint16((uint32(v)*maxVal + 0xFFFF/2) / 0xFFFF)
}

func (d *Device) writeDAC(ch int, raw uint16) error {
	w := d.scratch[:3]
	w[0] = ptrDACWrite | uint8(ch)
	w[1] = byte(raw >> 8)
	w[2] = byte(raw)
	return d.bus.Tx(d.addr, w, nil)
}

func (d *Device) writeReg(reg uint8, val uint16) error {
	w := d.scratch[:3]
	w[0] = reg
	w[1] = byte(val >> 8)
	w[2] = byte(val)
	return d.bus.Tx(d.addr, w, nil)
}
