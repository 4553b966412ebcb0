package muppets

import (
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/y3i12/master-of-muppets/driver/ad5593r"
	"github.com/y3i12/master-of-muppets/i2cx"
	"github.com/y3i12/master-of-muppets/i2cx/i2csim"
	"github.com/y3i12/master-of-muppets/midi"
)

// End-to-end scenarios against the real AD5593R adapter and the bus
// simulator.

func newHardwareCore(t *testing.T, withAsync bool) (*Core, *i2csim.Bus, *ad5593r.Device) {
	t.Helper()
	bus := &i2csim.Bus{}
	dev := ad5593r.New(bus, 0, &gpiotest.Pin{N: "LDAC0"})
	if err := dev.Init(); err != nil {
		t.Fatal(err)
	}
	bus.ResetLog()

	dac := Dac{Driver: dev}
	if withAsync {
		eng := &i2cx.Engine{}
		if kind := eng.Init(i2cx.Config{Bus: bus, Addr: dev.Addr(), Timeout: 50 * time.Millisecond}); kind != i2cx.Success {
			t.Fatalf("engine Init = %v", kind)
		}
		t.Cleanup(func() { eng.Deinit() })
		dac.Async = ad5593r.NewAsync(dev, eng)
	}
	cfg := DefaultConfig()
	cfg.Recovery.RetryBase = 100 * time.Microsecond
	cfg.Recovery.RetryMax = time.Millisecond
	c, err := New(cfg, []Dac{dac}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	return c, bus, dev
}

func waitForRegister(t *testing.T, bus *i2csim.Bus, addr uint16, reg uint8, want uint16) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got := bus.Register(addr, reg); len(got) == 2 &&
			uint16(got[0])<<8|uint16(got[1]) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("register %#x never reached %#x (got %#v)", reg, want, bus.Register(addr, reg))
}

func TestCenterHold(t *testing.T) {
	c, bus, _ := newHardwareCore(t, false)
	c.Start()
	// Pitch-bend center on MIDI channel 1.
	midi.Deliver(c, midi.Bend{Channel: 0, Value: 0})
	waitForRegister(t, bus, ad5593r.DefaultAddr, 0x10, 0x800)
}

func TestMaximumSwing(t *testing.T) {
	c, bus, _ := newHardwareCore(t, false)
	c.Start()
	// Maximum positive bend on MIDI channel 8.
	midi.Deliver(c, midi.Bend{Channel: 7, Value: 0x1FFF})
	waitForRegister(t, bus, ad5593r.DefaultAddr, 0x17, 0xFFF)
}

func TestAsyncPathDelivers(t *testing.T) {
	c, bus, _ := newHardwareCore(t, true)
	c.Start()
	c.SetChannel(0, 0x8000)
	waitForRegister(t, bus, ad5593r.DefaultAddr, 0x10, 0x800)
	if c.Policy().FallbackActive(0) {
		t.Fatal("healthy async path landed in fallback")
	}
}

func TestStallRecoversByReset(t *testing.T) {
	c, bus, _ := newHardwareCore(t, true)
	// A wedged peripheral: every transfer times out at the bus level
	// until the fault script runs dry.
	faults := make([]error, 10)
	for i := range faults {
		faults[i] = i2cx.ErrTimeout
	}
	bus.FailNext(faults...)

	c.SetChannel(0, 0x4000)
	c.Dispatch()
	u := c.dacs[0]
	for i := 0; i < 6 && c.Policy().Statistics().PeripheralResets == 0; i++ {
		c.workerStep(u)
	}
	if got := c.Policy().Statistics().PeripheralResets; got != 1 {
		t.Fatalf("peripheral resets = %d, want 1", got)
	}
	if !c.Policy().FallbackActive(0) {
		t.Fatal("dac not held in fallback after reset")
	}
	if got := c.Policy().ConsecutiveErrors(0); got != 0 {
		t.Fatalf("consecutive errors after reset = %d", got)
	}

	// The chip answers again after the reset; the still-pending update
	// reaches it on the next pass.
	// 0x4000 rescales to 0x400.
	c.workerStep(u)
	if got := bus.Register(ad5593r.DefaultAddr, 0x10); len(got) != 2 ||
		uint16(got[0])<<8|uint16(got[1]) != 0x400 {
		t.Fatalf("post-reset register = %#v, want 0x400", got)
	}
}

func TestQuiescentRefreshReachesBus(t *testing.T) {
	c, bus, _ := newHardwareCore(t, false)
	cfgRefresh := c.cfg.ForceRefreshEvery
	if cfgRefresh != 100*time.Millisecond {
		t.Fatalf("default refresh period = %v", cfgRefresh)
	}
	c.Start()
	// Drain the initial update.
	time.Sleep(50 * time.Millisecond)
	before := bus.Transfers()
	time.Sleep(620 * time.Millisecond)
	// 8 register writes per refresh-driven transfer.
	refreshes := (bus.Transfers() - before) / 8
	if refreshes < 4 || refreshes > 6 {
		t.Fatalf("refresh transfers in window = %d, want 4..6", refreshes)
	}
}
