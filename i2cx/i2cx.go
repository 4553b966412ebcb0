// Package i2cx implements an asynchronous transfer engine on top of a
// periph.io I²C bus.
//
// The engine owns its bus exclusively and accepts at most one transfer at
// a time. A submitted transfer runs on the engine's own task; completion is
// reported through exactly one callback invocation, in the engine's
// context (an Abort delivers it on the aborting caller's stack instead). A
// subordinate watchdog task bounds every transfer with the configured
// timeout.
//
// The engine classifies failures but does not retry them; retry, backoff
// and fallback are policy and live in package recovery.
package i2cx

import (
	"context"
	"errors"
)

// State is the lifecycle state of the engine's current (or last) transfer.
type State uint8

const (
	Idle State = iota
	InProgress
	Completed
	TimedOut
	NakReceived
	ArbitrationLost
	BusFailure
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InProgress:
		return "in-progress"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed-out"
	case NakReceived:
		return "nak-received"
	case ArbitrationLost:
		return "arbitration-lost"
	case BusFailure:
		return "bus-failure"
	}
	return "unknown"
}

// ErrorKind is the error taxonomy shared by the engine, the DAC adapters
// and the recovery policy.
type ErrorKind uint8

const (
	Success ErrorKind = iota
	Busy
	Timeout
	Nak
	Arbitration
	BusError
	InvalidArg
	Uninitialized
)

func (k ErrorKind) String() string {
	switch k {
	case Success:
		return "success"
	case Busy:
		return "busy"
	case Timeout:
		return "timeout"
	case Nak:
		return "nak"
	case Arbitration:
		return "arbitration"
	case BusError:
		return "bus-error"
	case InvalidArg:
		return "invalid-arg"
	case Uninitialized:
		return "uninitialized"
	}
	return "unknown"
}

// Err converts the kind into an error value, nil for Success.
func (k ErrorKind) Err() error {
	switch k {
	case Success:
		return nil
	case Busy:
		return errors.New("i2c: transfer already in flight")
	case Timeout:
		return ErrTimeout
	case Nak:
		return ErrNak
	case Arbitration:
		return ErrArbitrationLost
	case BusError:
		return ErrBusFailure
	case InvalidArg:
		return ErrInvalidArg
	case Uninitialized:
		return ErrUninitialized
	}
	return errors.New("i2c: unknown error")
}

// Sentinel faults a bus or adapter may return. Classify recognizes them
// with errors.Is; anything else is a bus failure.
var (
	ErrNak             = errors.New("i2c: address or data not acknowledged")
	ErrArbitrationLost = errors.New("i2c: arbitration lost")
	ErrTimeout         = errors.New("i2c: transfer timed out")
	ErrBusFailure      = errors.New("i2c: bus failure")
	ErrInvalidArg      = errors.New("i2c: invalid argument")
	ErrUninitialized   = errors.New("i2c: not initialized")
)

// Classify maps a bus error to the engine's taxonomy.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrNak):
		return Nak
	case errors.Is(err, ErrArbitrationLost):
		return Arbitration
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, ErrInvalidArg):
		return InvalidArg
	case errors.Is(err, ErrUninitialized):
		return Uninitialized
	default:
		return BusError
	}
}

// stateFor maps a classified failure onto the transfer state it leaves the
// engine in.
func stateFor(kind ErrorKind) State {
	switch kind {
	case Success:
		return Completed
	case Timeout:
		return TimedOut
	case Nak:
		return NakReceived
	case Arbitration:
		return ArbitrationLost
	default:
		return BusFailure
	}
}
