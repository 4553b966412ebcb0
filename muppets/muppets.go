// Package muppets implements the real-time core of the MIDI-to-CV bridge:
// fixed channel buffers shared between an ingress task, a dispatcher and
// one worker task per DAC, a refresh watchdog, and the recovery glue that
// keeps the DACs fed through transient bus faults.
//
// Data flows one way. Ingress writes scaled values into the input buffer;
// the dispatcher copies per-DAC slices into the output buffer under the
// DAC's channel lock and publishes a new update sequence; the worker
// snapshots its slice and pushes it to the chip, synchronously or through
// the asynchronous engine. Sequence numbers are the only wakeup
// mechanism: a worker that fails a transfer simply does not commit, and
// re-observes the still-newer sequence on its next pass.
package muppets

import (
	"errors"
	"log/slog"
	"time"

	"github.com/y3i12/master-of-muppets/i2cx"
	"github.com/y3i12/master-of-muppets/recovery"
	"github.com/y3i12/master-of-muppets/sched"
)

// Driver is the synchronous entry point of a DAC adapter. SetValues must
// update all channels of the physical chip; Enable and Disable bracket it
// by holding and releasing the LDAC line.
type Driver interface {
	Channels() int
	Enable() error
	Disable() error
	SetValues(values []uint16) error
}

// AsyncHandle is the optional asynchronous update path of a DAC adapter.
// done fires exactly once per accepted submission, off the caller's
// stack.
type AsyncHandle interface {
	SetValuesAsync(values []uint16, done func(i2cx.ErrorKind)) i2cx.ErrorKind
}

// Reiniter is implemented by adapters that can reinitialize their chip
// after a peripheral reset.
type Reiniter interface {
	Reinit() error
}

// Dac binds one DAC's adapter and, when the bus supports it, its async
// path.
type Dac struct {
	Driver Driver
	Async  AsyncHandle
}

// Config tunes the core. Zero fields take the firmware defaults.
type Config struct {
	// ForceRefreshEvery is the refresh watchdog period: every DAC gets
	// an update request at least this often, traffic or not.
	ForceRefreshEvery time.Duration `yaml:"force_refresh_every"`
	// ThreadSlice paces the dispatcher and idle workers; no task runs
	// longer than roughly one slice without yielding.
	ThreadSlice time.Duration   `yaml:"thread_slice"`
	Recovery    recovery.Config `yaml:"recovery"`
}

// DefaultConfig returns the firmware defaults.
func DefaultConfig() Config {
	return Config{
		ForceRefreshEvery: 100 * time.Millisecond,
		ThreadSlice:       10 * time.Microsecond,
		Recovery:          recovery.DefaultConfig(),
	}
}

type dacUnit struct {
	index int
	drv   Driver
	async AsyncHandle

	// start/width locate this DAC's slice of the channel buffers.
	start, width int

	// lock guards this DAC's slices of input and output.
	lock sched.Mutex
	// state guards the sequence handshake fields below.
	state            sched.Mutex
	updateSequence   uint32
	updateInProgress bool

	// Worker-private.
	lastProcessed uint32
	snapshot      []uint16
	done          chan i2cx.ErrorKind
}

// Core owns the buffers, the per-DAC state and the recovery policy. Build
// one at boot with New, then Start it.
type Core struct {
	cfg    Config
	log    *slog.Logger
	policy *recovery.Policy
	dacs   []*dacUnit
	input  []uint16
	output []uint16
}

// New builds a core for the given DACs. The channel space is the
// concatenation of every DAC's channels, in order.
func New(cfg Config, dacs []Dac, log *slog.Logger) (*Core, error) {
	if len(dacs) == 0 {
		return nil, errors.New("muppets: no DACs")
	}
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.ForceRefreshEvery <= 0 {
		cfg.ForceRefreshEvery = def.ForceRefreshEvery
	}
	if cfg.ThreadSlice <= 0 {
		cfg.ThreadSlice = def.ThreadSlice
	}
	c := &Core{
		cfg:    cfg,
		log:    log,
		policy: recovery.New(len(dacs), cfg.Recovery),
	}
	total := 0
	for i, d := range dacs {
		if d.Driver == nil {
			return nil, errors.New("muppets: nil driver")
		}
		width := d.Driver.Channels()
		if width <= 0 {
			return nil, errors.New("muppets: driver reports no channels")
		}
		c.dacs = append(c.dacs, &dacUnit{
			index:    i,
			drv:      d.Driver,
			async:    d.Async,
			start:    total,
			width:    width,
			snapshot: make([]uint16, width),
			done:     make(chan i2cx.ErrorKind, 1),
		})
		total += width
	}
	c.input = make([]uint16, total)
	c.output = make([]uint16, total)
	return c, nil
}

// TotalChannels reports the size of the channel space.
func (c *Core) TotalChannels() int {
	return len(c.input)
}

// DacCount reports the number of DACs.
func (c *Core) DacCount() int {
	return len(c.dacs)
}

// Policy exposes the recovery bookkeeping for telemetry.
func (c *Core) Policy() *recovery.Policy {
	return c.policy
}

// Start spawns the worker tasks, the dispatcher and the refresh watchdog.
// Each DAC starts with one pending update so the outputs reach a defined
// level immediately.
func (c *Core) Start() {
	for _, u := range c.dacs {
		u.updateSequence = 1
		u := u
		sched.Spawn(func() { c.worker(u) })
	}
	sched.Spawn(c.dispatchLoop)
	sched.Spawn(c.refreshLoop)
}

// owner returns the DAC owning global channel i, nil if out of range.
func (c *Core) owner(i int) *dacUnit {
	if i < 0 || i >= len(c.input) {
		return nil
	}
	for _, u := range c.dacs {
		if i < u.start+u.width {
			return u
		}
	}
	return nil
}
