package i2cx

import (
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/y3i12/master-of-muppets/sched"
)

// DefaultTimeout bounds a transfer when the config does not.
const DefaultTimeout = 100 * time.Millisecond

// Config describes the bus an engine drives.
type Config struct {
	Bus  i2c.Bus
	Name string
	// Addr is the default 7-bit slave address, used when a transfer
	// does not carry its own.
	Addr uint16
	// Clock is applied to the bus at Init when nonzero.
	Clock physic.Frequency
	// Timeout bounds each transfer. DefaultTimeout when zero.
	Timeout time.Duration
}

// Transfer describes one bus operation. When Reg is nonzero a single
// register-address byte is prepended to the write frame; reads write the
// register address and then read into R under a repeated start.
type Transfer struct {
	Addr uint16 // 0 = engine default
	Reg  uint8
	W    []byte
	Read bool
	R    []byte
}

// Callback delivers the outcome of an accepted transfer, exactly once per
// accepted transfer. It never runs inside TransferAsync. Completions and
// timeouts deliver it in the engine's context; Abort (and Deinit, which
// aborts) delivers it on the stack of the goroutine that called Abort.
// Submitting a new transfer from inside the callback is allowed.
type Callback func(state State, kind ErrorKind, user any)

type request struct {
	token uint32
	xfer  Transfer
}

// Engine is an asynchronous I²C master with a single transfer slot.
type Engine struct {
	mu          sync.Mutex
	cfg         Config
	initialized bool
	state       State
	lastErr     ErrorKind
	token       uint32
	delivered   bool
	start       time.Time
	cb          Callback
	user        any
	frame       []byte
	reqs        chan request
	quit        chan struct{}
}

// Init binds the engine to its bus, applies the clock and starts the
// transfer and watchdog tasks.
func (e *Engine) Init(cfg Config) ErrorKind {
	if cfg.Bus == nil {
		return InvalidArg
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	e.mu.Lock()
	if e.initialized {
		e.mu.Unlock()
		return Busy
	}
	e.cfg = cfg
	e.state = Idle
	e.lastErr = Success
	e.frame = make([]byte, 0, 64)
	e.reqs = make(chan request, 1)
	e.quit = make(chan struct{})
	e.initialized = true
	e.mu.Unlock()

	if cfg.Clock != 0 {
		// Some buses cannot change speed after open; not fatal.
		_ = cfg.Bus.SetSpeed(cfg.Clock)
	}
	sched.Spawn(e.run)
	sched.Spawn(e.watchdog)
	return Success
}

// Deinit stops the engine's tasks. An in-flight transfer is aborted.
func (e *Engine) Deinit() ErrorKind {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return Uninitialized
	}
	e.initialized = false
	quit := e.quit
	e.mu.Unlock()
	e.Abort()
	close(quit)
	return Success
}

// TransferAsync submits one transfer. It fails with Busy while another is
// in flight. On Success the callback fires exactly once later.
func (e *Engine) TransferAsync(t Transfer, cb Callback, user any) ErrorKind {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return Uninitialized
	}
	if t.Read && len(t.R) == 0 || !t.Read && len(t.W) == 0 && t.Reg == 0 {
		e.mu.Unlock()
		return InvalidArg
	}
	if e.state == InProgress {
		e.mu.Unlock()
		return Busy
	}
	e.token++
	e.state = InProgress
	e.delivered = false
	e.start = time.Now()
	e.cb = cb
	e.user = user
	req := request{token: e.token, xfer: t}
	e.mu.Unlock()
	select {
	case e.reqs <- req:
	default:
		// A request whose transfer already timed out can still occupy
		// the queue while the bus is wedged. Displace it; run skips
		// stale tokens anyway.
		select {
		case <-e.reqs:
		default:
		}
		e.reqs <- req
	}
	return Success
}

// WaitForCompletion polls until the current transfer finishes, yielding
// between polls. A zero timeout means the configured transfer timeout.
func (e *Engine) WaitForCompletion(timeout time.Duration) ErrorKind {
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	deadline := time.Now().Add(timeout)
	for {
		e.mu.Lock()
		s, kind := e.state, e.lastErr
		e.mu.Unlock()
		if s != InProgress {
			if s == Idle {
				return Success
			}
			return kind
		}
		if time.Now().After(deadline) {
			return Timeout
		}
		sched.Yield()
		sched.Sleep(50 * time.Microsecond)
	}
}

// Abort forces an in-flight transfer to BusFailure and delivers its
// callback synchronously, on the caller's stack. A late completion from
// the bus is dropped.
func (e *Engine) Abort() ErrorKind {
	e.mu.Lock()
	if e.state != InProgress {
		e.mu.Unlock()
		return Success
	}
	token := e.token
	e.mu.Unlock()
	e.finish(token, BusFailure, BusError)
	return Success
}

// TransferState reports the current state.
func (e *Engine) TransferState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastError reports the outcome of the most recent transfer.
func (e *Engine) LastError() ErrorKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// IsComplete reports whether a transfer has finished, in success or error.
func (e *Engine) IsComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state != Idle && e.state != InProgress
}

// Reset returns a finished engine to Idle. No-op while a transfer runs.
func (e *Engine) Reset() {
	e.mu.Lock()
	if e.state != InProgress {
		e.state = Idle
		e.lastErr = Success
	}
	e.mu.Unlock()
}

// Elapsed reports how long the current transfer has been in flight.
func (e *Engine) Elapsed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != InProgress {
		return 0
	}
	return time.Since(e.start)
}

// run performs submitted transfers serially on the engine's task.
func (e *Engine) run() {
	for {
		select {
		case req := <-e.reqs:
			e.mu.Lock()
			stale := req.token != e.token || e.delivered
			e.mu.Unlock()
			if stale {
				continue
			}
			err := e.perform(req.xfer)
			kind := Classify(err)
			e.finish(req.token, stateFor(kind), kind)
		case <-e.quit:
			return
		}
	}
}

func (e *Engine) perform(t Transfer) error {
	addr := t.Addr
	if addr == 0 {
		addr = e.cfg.Addr
	}
	w := e.frame[:0]
	if t.Reg != 0 {
		w = append(w, t.Reg)
	}
	if !t.Read {
		w = append(w, t.W...)
		return e.cfg.Bus.Tx(addr, w, nil)
	}
	return e.cfg.Bus.Tx(addr, w, t.R)
}

// watchdog bounds in-flight transfers, checking at timeout/5.
func (e *Engine) watchdog() {
	tick := time.NewTicker(e.cfg.Timeout / 5)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			e.mu.Lock()
			expired := e.state == InProgress && time.Since(e.start) > e.cfg.Timeout
			token := e.token
			e.mu.Unlock()
			if expired {
				e.finish(token, TimedOut, Timeout)
			}
		case <-e.quit:
			return
		}
	}
}

// finish records the outcome of the transfer identified by token and
// delivers its callback. Stale or duplicate completions are dropped, so
// the callback fires exactly once even when the watchdog or Abort races
// the bus.
func (e *Engine) finish(token uint32, s State, kind ErrorKind) {
	e.mu.Lock()
	if e.token != token || e.delivered || e.state != InProgress {
		e.mu.Unlock()
		return
	}
	e.delivered = true
	e.state = s
	e.lastErr = kind
	cb, user := e.cb, e.user
	e.cb = nil
	e.user = nil
	e.mu.Unlock()
	if cb != nil {
		cb(s, kind, user)
	}
}
