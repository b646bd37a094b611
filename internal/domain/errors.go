package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent error conditions in the suntrack domain.
// They are wrapped with context and can be checked with errors.Is.
var (
	// ErrUnknownActuator is returned for an id outside the configured set.
	ErrUnknownActuator = errors.New("suntrack: unknown actuator")

	// ErrOutOfRange is returned when a delta is outside the actuator's range.
	ErrOutOfRange = errors.New("suntrack: delta out of range")

	// ErrInvalidChannel is returned for a mux channel outside 0..7.
	ErrInvalidChannel = errors.New("suntrack: invalid mux channel")

	// ErrMuxFailure is returned when the channel select write fails.
	ErrMuxFailure = errors.New("suntrack: mux select failed")

	// ErrBusWrite is returned when the command frame could not be written.
	ErrBusWrite = errors.New("suntrack: command write failed")

	// ErrBusNotHeld is returned when a transaction is attempted without owning the bus.
	ErrBusNotHeld = errors.New("suntrack: bus not held")

	// ErrMalformedFrame is returned by the codec for a bad length or content.
	ErrMalformedFrame = errors.New("suntrack: malformed frame")

	// ErrAckTimeout is returned when no acknowledgment arrived before the deadline.
	ErrAckTimeout = errors.New("suntrack: acknowledgment timeout")

	// ErrLedgerIO is returned when the position ledger could not be persisted.
	ErrLedgerIO = errors.New("suntrack: ledger persistence failed")

	// ErrMalformedLedger is returned when the durable ledger record cannot be parsed.
	ErrMalformedLedger = errors.New("suntrack: malformed ledger record")

	// ErrAlreadyRunning is returned when Start() is called on a running dispatcher.
	ErrAlreadyRunning = errors.New("suntrack: already running")

	// ErrNotRunning is returned when work is submitted to a stopped dispatcher.
	ErrNotRunning = errors.New("suntrack: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("suntrack: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("suntrack: invalid configuration")
)

// IsValidation reports whether err is a local input error that never
// reached the hardware.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnknownActuator) ||
		errors.Is(err, ErrOutOfRange) ||
		errors.Is(err, ErrInvalidChannel)
}

// MoveError describes a failed Move and the state it ended in.
type MoveError struct {
	Actuator ActuatorID
	DeltaMM  float64
	State    LinkState
	Err      error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("move actuator %d by %g mm (%s): %v", e.Actuator, e.DeltaMM, e.State, e.Err)
}

func (e *MoveError) Unwrap() error { return e.Err }
