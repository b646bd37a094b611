// Package link implements the actuator command/acknowledgment exchange with
// the controller behind the channel multiplexer.
//
// A Move holds the bus for the whole select, send and ack-wait sequence, so
// another caller can never re-route the mux in the middle of it. Once a
// command frame is on the wire it cannot be recalled, so the only way a
// Move ends without a confirmed ack is the ack deadline.
package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MikeHennessy/suntrack/internal/adapters/clock"
	"github.com/MikeHennessy/suntrack/internal/bus"
	"github.com/MikeHennessy/suntrack/internal/chanmux"
	"github.com/MikeHennessy/suntrack/internal/domain"
	"github.com/MikeHennessy/suntrack/internal/ports"
	"github.com/MikeHennessy/suntrack/internal/wire"
	"github.com/MikeHennessy/suntrack/pkg/log"
)

const (
	// DefaultControllerAddress is the Arduino's I2C address.
	DefaultControllerAddress uint16 = 0x08
	// DefaultAckTimeout is the wall-clock deadline for an acknowledgment.
	DefaultAckTimeout = time.Second
	// DefaultPollInterval separates ack read attempts.
	DefaultPollInterval = 20 * time.Millisecond
)

// Timing holds the tunable delays of a Move.
type Timing struct {
	AckTimeout   time.Duration
	PollInterval time.Duration
	SettleDelay  time.Duration
}

// DefaultTiming returns the default delays.
func DefaultTiming() Timing {
	return Timing{
		AckTimeout:   DefaultAckTimeout,
		PollInterval: DefaultPollInterval,
		SettleDelay:  chanmux.MinSettleDelay,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.AckTimeout <= 0 {
		t.AckTimeout = d.AckTimeout
	}
	if t.PollInterval <= 0 {
		t.PollInterval = d.PollInterval
	}
	if t.SettleDelay < chanmux.MinSettleDelay {
		t.SettleDelay = d.SettleDelay
	}
	return t
}

// Applier records confirmed motion. *ledger.Ledger satisfies it.
type Applier interface {
	Apply(ctx context.Context, id domain.ActuatorID, deltaMM float64) (float64, error)
}

// StateObserver is called on every state transition of a Move.
type StateObserver interface {
	OnLinkState(id domain.ActuatorID, previous, current domain.LinkState)
}

// Link sends move commands to the controller and waits for acknowledgment.
type Link struct {
	bus       *bus.Handle
	mux       *chanmux.Mux
	codec     *wire.Codec
	ledger    Applier
	actuators domain.ActuatorSet
	addr      uint16
	clock     ports.Clock
	logger    log.Logger
	observer  StateObserver

	mu     sync.Mutex
	timing Timing
	state  domain.LinkState
}

// Option configures a Link.
type Option func(*Link)

// WithControllerAddress sets the controller's bus address.
func WithControllerAddress(addr uint16) Option {
	return func(l *Link) { l.addr = addr }
}

// WithTiming sets ack timeout, poll interval and mux settle delay.
func WithTiming(t Timing) Option {
	return func(l *Link) { l.timing = t.withDefaults() }
}

// WithClock sets the clock driving the ack-wait loop.
func WithClock(c ports.Clock) Option {
	return func(l *Link) { l.clock = c }
}

// WithLogger sets the logger.
func WithLogger(lg log.Logger) Option {
	return func(l *Link) { l.logger = log.OrNoop(lg) }
}

// WithStateObserver registers an observer for state transitions.
func WithStateObserver(o StateObserver) Option {
	return func(l *Link) { l.observer = o }
}

// New creates a link. h must be the same handle the mux was built on.
func New(h *bus.Handle, m *chanmux.Mux, codec *wire.Codec, ledger Applier, actuators []domain.Actuator, opts ...Option) *Link {
	l := &Link{
		bus:       h,
		mux:       m,
		codec:     codec,
		ledger:    ledger,
		actuators: domain.NewActuatorSet(actuators),
		addr:      DefaultControllerAddress,
		clock:     clock.System{},
		logger:    log.NoopLogger{},
		timing:    DefaultTiming(),
		state:     domain.LinkIdle,
	}
	for _, opt := range opts {
		opt(l)
	}
	m.SetSettleDelay(l.timing.SettleDelay)
	return l
}

// Timing returns the current delays.
func (l *Link) Timing() Timing {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timing
}

// SetTiming replaces the delays. A Move in progress keeps the values it
// started with.
func (l *Link) SetTiming(t Timing) {
	t = t.withDefaults()
	l.mu.Lock()
	l.timing = t
	l.mu.Unlock()
	l.mux.SetSettleDelay(t.SettleDelay)
	l.logger.Info("link timing updated",
		log.Duration("ack_timeout", t.AckTimeout),
		log.Duration("poll_interval", t.PollInterval),
		log.Duration("settle_delay", t.SettleDelay),
	)
}

// State returns the state of the current or last Move.
func (l *Link) State() domain.LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) transition(id domain.ActuatorID, next domain.LinkState) {
	l.mu.Lock()
	prev := l.state
	l.state = next
	l.mu.Unlock()

	if l.observer != nil {
		l.observer.OnLinkState(id, prev, next)
	}
	l.logger.Debug("link state",
		log.Uint8("actuator", uint8(id)),
		log.String("from", prev.String()),
		log.String("to", next.String()),
	)
}

func (l *Link) fail(cmd domain.MoveCommand, state domain.LinkState, err error) error {
	return &domain.MoveError{Actuator: cmd.Actuator, DeltaMM: cmd.DeltaMM, State: state, Err: err}
}

// Move commands actuator id to move by deltaMM.
//
// Validation errors are returned before the bus is touched. ctx bounds only
// the wait for bus ownership; after that the Move runs to acknowledgment or
// to the ack deadline. On success the delta is applied to the ledger. If the
// ledger cannot be persisted the controller has still moved: the returned
// error wraps domain.ErrLedgerIO and the result carries the last durable
// position.
func (l *Link) Move(ctx context.Context, id domain.ActuatorID, deltaMM float64) (domain.MoveResult, error) {
	cmd := domain.MoveCommand{Actuator: id, DeltaMM: deltaMM, IssuedAt: l.clock.Now()}
	result := domain.MoveResult{Command: cmd}

	a, ok := l.actuators[id]
	if !ok {
		return result, l.fail(cmd, domain.LinkIdle, fmt.Errorf("actuator %d: %w", id, domain.ErrUnknownActuator))
	}
	if !a.Range.Contains(deltaMM) {
		return result, l.fail(cmd, domain.LinkIdle, fmt.Errorf("delta %g outside %s: %w", deltaMM, a.Range, domain.ErrOutOfRange))
	}
	frame, err := l.codec.EncodeCommand(id, float32(deltaMM))
	if err != nil {
		return result, l.fail(cmd, domain.LinkIdle, err)
	}

	if err := l.bus.Acquire(ctx); err != nil {
		return result, l.fail(cmd, domain.LinkIdle, err)
	}
	defer l.bus.Release()

	timing := l.Timing()
	start := l.clock.Now()

	l.transition(id, domain.LinkChannelSelecting)
	if err := l.mux.Select(a.Channel); err != nil {
		l.transition(id, domain.LinkFailed)
		l.logger.Error("channel select failed, command not sent",
			log.Uint8("actuator", uint8(id)),
			log.Int("channel", a.Channel),
			log.Err(err),
		)
		return result, l.fail(cmd, domain.LinkFailed, err)
	}

	l.transition(id, domain.LinkSending)
	if err := l.bus.Tx(l.addr, frame, nil); err != nil {
		l.transition(id, domain.LinkFailed)
		l.logger.Error("command write failed",
			log.Uint8("actuator", uint8(id)),
			log.Hex("addr", l.addr),
			log.Err(err),
		)
		return result, l.fail(cmd, domain.LinkFailed, fmt.Errorf("%w: %w", domain.ErrBusWrite, err))
	}

	l.transition(id, domain.LinkAwaitingAck)
	polls, err := l.awaitAck(timing)
	result.Polls = polls
	result.Elapsed = l.clock.Now().Sub(start)
	if err != nil {
		l.transition(id, domain.LinkTimedOut)
		l.logger.Warn("no acknowledgment from controller, ledger left unchanged",
			log.Uint8("actuator", uint8(id)),
			log.Float64("delta_mm", deltaMM),
			log.Int("polls", polls),
			log.Duration("elapsed", result.Elapsed),
		)
		return result, l.fail(cmd, domain.LinkTimedOut, err)
	}
	l.transition(id, domain.LinkConfirmed)

	// The motion already happened; a caller cancelling now must not keep it
	// out of the ledger. The ledger books the requested float64 delta, not
	// the float32 the controller received.
	pos, err := l.ledger.Apply(context.WithoutCancel(ctx), id, deltaMM)
	result.PositionMM = pos
	if err != nil {
		l.logger.Error("actuator moved but the position ledger was NOT updated",
			log.Uint8("actuator", uint8(id)),
			log.Float64("delta_mm", deltaMM),
			log.Float64("recorded_position_mm", pos),
			log.Err(err),
		)
		return result, l.fail(cmd, domain.LinkConfirmed, err)
	}

	l.logger.Info("actuator moved",
		log.Uint8("actuator", uint8(id)),
		log.Float64("delta_mm", deltaMM),
		log.Float64("position_mm", pos),
		log.Int("polls", polls),
		log.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

// awaitAck reads the controller until an "OK" frame decodes or the deadline
// passes. Read errors and malformed frames mean "not yet". Each sleep is
// clamped to the time left, so the loop returns within the deadline plus
// one bus transaction.
func (l *Link) awaitAck(t Timing) (int, error) {
	deadline := l.clock.Now().Add(t.AckTimeout)
	buf := make([]byte, wire.AckSize)
	var lastErr error
	for polls := 1; ; polls++ {
		for i := range buf {
			buf[i] = 0
		}
		err := l.bus.Tx(l.addr, nil, buf)
		if err == nil {
			if _, err = wire.DecodeAck(buf); err == nil {
				return polls, nil
			}
		}
		lastErr = err

		remaining := deadline.Sub(l.clock.Now())
		if remaining <= 0 {
			return polls, fmt.Errorf("%w after %s (%d polls, last: %v)", domain.ErrAckTimeout, t.AckTimeout, polls, lastErr)
		}
		wait := t.PollInterval
		if wait > remaining {
			wait = remaining
		}
		l.clock.Sleep(wait)
	}
}
