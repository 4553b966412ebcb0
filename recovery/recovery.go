// Package recovery maps transfer errors to recovery actions: immediate or
// backed-off retries, synchronous fallback, peripheral reset, escalation.
//
// The policy is accounting only. It decides what should happen and keeps
// the books (per-DAC error counters, fallback flags, a bounded event log);
// executing a retry, a fallback transfer or a bus reset is the worker's
// job.
package recovery

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/y3i12/master-of-muppets/i2cx"
)

// Severity routes an error event to the right telemetry channel. It has no
// effect on recovery.
type Severity uint8

const (
	Info Severity = iota
	Warning
	Error
	Critical
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Critical:
		return "critical"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

// Action is what the worker should do about a failed transfer.
type Action uint8

const (
	None Action = iota
	RetryNow
	RetryWithBackoff
	FallbackSync
	ResetPeripheral
	Escalate
)

func (a Action) String() string {
	switch a {
	case None:
		return "none"
	case RetryNow:
		return "retry-now"
	case RetryWithBackoff:
		return "retry-with-backoff"
	case FallbackSync:
		return "fallback-sync"
	case ResetPeripheral:
		return "reset-peripheral"
	case Escalate:
		return "escalate"
	}
	return "unknown"
}

// Event is one entry of the bounded error log.
type Event struct {
	Time     time.Time
	Kind     i2cx.ErrorKind
	Severity Severity
	Action   Action
	Dac      int
	Retry    int
}

// LogSize bounds the retained error history.
const LogSize = 32

// Config tunes the policy. Zero fields take the firmware defaults.
type Config struct {
	MaxRetryAttempts int           `yaml:"max_retry_attempts"`
	RetryBase        time.Duration `yaml:"retry_base"`
	RetryMax         time.Duration `yaml:"retry_max"`
	// ErrorRatePercent is the rate above which Healthy reports false.
	ErrorRatePercent float64 `yaml:"error_rate_threshold_percent"`
	// RecoverySuccesses is how many consecutive successful transfers
	// clear a DAC's fallback mode.
	RecoverySuccesses int `yaml:"fallback_recovery_successes"`
	// ResetThreshold is the consecutive-error count that arms a
	// peripheral reset.
	ResetThreshold int `yaml:"peripheral_reset_threshold"`
}

// DefaultConfig returns the firmware defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetryAttempts:  3,
		RetryBase:         time.Millisecond,
		RetryMax:          100 * time.Millisecond,
		ErrorRatePercent:  5.0,
		RecoverySuccesses: 10,
		ResetThreshold:    10,
	}
}

// Stats aggregates error accounting for telemetry.
type Stats struct {
	TotalOperations   uint32
	TotalErrors       uint32
	TimeoutErrors     uint32
	NakErrors         uint32
	BusErrors         uint32
	ArbitrationErrors uint32
	Fallbacks         uint32
	PeripheralResets  uint32
	ErrorRatePercent  float64
}

type dacState struct {
	consecutiveErrors int
	lastErrorTime     time.Time
	fallbackMode      bool
	successStreak     int
	delay             *backoff.ExponentialBackOff
}

// Policy is the per-device error/recovery bookkeeping. Safe for use from
// all worker tasks.
type Policy struct {
	mu    sync.Mutex
	cfg   Config
	dacs  []dacState
	log   [LogSize]Event
	logW  int
	logN  int
	stats Stats
}

// New builds a policy for dacCount DACs.
func New(dacCount int, cfg Config) *Policy {
	def := DefaultConfig()
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = def.MaxRetryAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = def.RetryMax
	}
	if cfg.ErrorRatePercent <= 0 {
		cfg.ErrorRatePercent = def.ErrorRatePercent
	}
	if cfg.RecoverySuccesses <= 0 {
		cfg.RecoverySuccesses = def.RecoverySuccesses
	}
	if cfg.ResetThreshold <= 0 {
		cfg.ResetThreshold = def.ResetThreshold
	}
	p := &Policy{
		cfg:  cfg,
		dacs: make([]dacState, dacCount),
	}
	for i := range p.dacs {
		bo := &backoff.ExponentialBackOff{
			InitialInterval:     cfg.RetryBase,
			RandomizationFactor: 0.1,
			Multiplier:          2,
			MaxInterval:         cfg.RetryMax,
			MaxElapsedTime:      0,
			Clock:               backoff.SystemClock,
		}
		bo.Reset()
		p.dacs[i].delay = bo
	}
	return p
}

// HandleError classifies a failed transfer and decides its recovery.
// consecutiveErrors is counted here, exactly once per failed transfer.
func (p *Policy) HandleError(kind i2cx.ErrorKind, dac, retry int) (Severity, Action) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dac < 0 || dac >= len(p.dacs) {
		dac = 0
	}
	d := &p.dacs[dac]
	d.consecutiveErrors++
	d.lastErrorTime = time.Now()
	d.successStreak = 0

	sev := p.severity(kind, retry)
	act := p.action(kind, retry, d.consecutiveErrors)
	ev := Event{
		Time:     d.lastErrorTime,
		Kind:     kind,
		Severity: sev,
		Action:   act,
		Dac:      dac,
		Retry:    retry,
	}
	p.logEvent(ev)
	p.account(ev)
	return sev, act
}

func (p *Policy) severity(kind i2cx.ErrorKind, retry int) Severity {
	switch kind {
	case i2cx.Uninitialized, i2cx.InvalidArg:
		return Fatal
	case i2cx.BusError:
		if retry >= 2 {
			return Critical
		}
		return Error
	case i2cx.Timeout, i2cx.Nak:
		if retry >= 3 {
			return Error
		}
		return Warning
	case i2cx.Arbitration, i2cx.Busy:
		return Warning
	}
	return Info
}

func (p *Policy) action(kind i2cx.ErrorKind, retry, consecutive int) Action {
	switch kind {
	case i2cx.Busy:
		if retry < 2 {
			return RetryWithBackoff
		}
		return FallbackSync
	case i2cx.Timeout:
		if retry < p.cfg.MaxRetryAttempts {
			return RetryWithBackoff
		}
		return FallbackSync
	case i2cx.Nak:
		if retry < 3 {
			return RetryNow
		}
		return FallbackSync
	case i2cx.Arbitration:
		return RetryWithBackoff
	case i2cx.BusError:
		if retry == 0 {
			return RetryNow
		}
		if consecutive > 5 {
			return ResetPeripheral
		}
		return FallbackSync
	case i2cx.Uninitialized, i2cx.InvalidArg:
		return Escalate
	}
	return None
}

// NotifySuccess records a successful transfer for a DAC. Fallback mode
// clears after RecoverySuccesses consecutive successes.
func (p *Policy) NotifySuccess(dac int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dac < 0 || dac >= len(p.dacs) {
		return
	}
	d := &p.dacs[dac]
	d.consecutiveErrors = 0
	d.successStreak++
	d.delay.Reset()
	if d.fallbackMode && d.successStreak >= p.cfg.RecoverySuccesses {
		d.fallbackMode = false
		d.successStreak = 0
	}
}

// CountOperation bumps the operation total the error rate is computed
// against.
func (p *Policy) CountOperation() {
	p.mu.Lock()
	p.stats.TotalOperations++
	p.updateRate()
	p.mu.Unlock()
}

// RetryDelay returns the backoff before the given retry attempt:
// min(base×2^retry, max) with up to 10% jitter.
func (p *Policy) RetryDelay(dac, retry int) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dac < 0 || dac >= len(p.dacs) {
		return p.cfg.RetryBase
	}
	bo := p.dacs[dac].delay
	bo.Reset()
	var d time.Duration
	for i := 0; i <= retry; i++ {
		d = bo.NextBackOff()
	}
	if d == backoff.Stop || d > p.cfg.RetryMax+p.cfg.RetryMax/10 {
		d = p.cfg.RetryMax
	}
	return d
}

// EnterFallback forces a DAC into synchronous fallback.
func (p *Policy) EnterFallback(dac int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dac < 0 || dac >= len(p.dacs) {
		return
	}
	d := &p.dacs[dac]
	if !d.fallbackMode {
		d.fallbackMode = true
		d.successStreak = 0
		p.stats.Fallbacks++
	}
}

// FallbackActive reports whether a DAC is in synchronous fallback.
func (p *Policy) FallbackActive(dac int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dac < 0 || dac >= len(p.dacs) {
		return false
	}
	return p.dacs[dac].fallbackMode
}

// NotifyReset records a completed peripheral reset: the error counter is
// cleared but the DAC stays in fallback until the next recovery streak.
func (p *Policy) NotifyReset(dac int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dac < 0 || dac >= len(p.dacs) {
		return
	}
	d := &p.dacs[dac]
	d.consecutiveErrors = 0
	d.successStreak = 0
	d.fallbackMode = true
	d.delay.Reset()
	p.stats.PeripheralResets++
}

// ShouldReset reports whether a DAC's consecutive errors crossed the reset
// threshold.
func (p *Policy) ShouldReset(dac int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dac < 0 || dac >= len(p.dacs) {
		return false
	}
	return p.dacs[dac].consecutiveErrors >= p.cfg.ResetThreshold
}

// ConsecutiveErrors reports the current error run for a DAC.
func (p *Policy) ConsecutiveErrors(dac int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dac < 0 || dac >= len(p.dacs) {
		return 0
	}
	return p.dacs[dac].consecutiveErrors
}

// LastErrorTime reports when a DAC last failed, zero if never.
func (p *Policy) LastErrorTime(dac int) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dac < 0 || dac >= len(p.dacs) {
		return time.Time{}
	}
	return p.dacs[dac].lastErrorTime
}

// Events returns the retained error log, oldest first.
func (p *Policy) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, 0, p.logN)
	start := p.logW - p.logN
	if start < 0 {
		start += LogSize
	}
	for i := 0; i < p.logN; i++ {
		out = append(out, p.log[(start+i)%LogSize])
	}
	return out
}

// Statistics returns a snapshot of the error accounting.
func (p *Policy) Statistics() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Healthy reports whether the error rate is below the configured
// threshold.
func (p *Policy) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.ErrorRatePercent < p.cfg.ErrorRatePercent
}

func (p *Policy) logEvent(ev Event) {
	p.log[p.logW] = ev
	p.logW = (p.logW + 1) % LogSize
	if p.logN < LogSize {
		p.logN++
	}
}

func (p *Policy) account(ev Event) {
	p.stats.TotalErrors++
	switch ev.Kind {
	case i2cx.Timeout:
		p.stats.TimeoutErrors++
	case i2cx.Nak:
		p.stats.NakErrors++
	case i2cx.BusError:
		p.stats.BusErrors++
	case i2cx.Arbitration:
		p.stats.ArbitrationErrors++
	}
	p.updateRate()
}

func (p *Policy) updateRate() {
	if p.stats.TotalOperations == 0 {
		p.stats.ErrorRatePercent = 0
		return
	}
	p.stats.ErrorRatePercent = float64(p.stats.TotalErrors) / float64(p.stats.TotalOperations) * 100
}
