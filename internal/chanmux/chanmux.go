// Package chanmux drives the TCA9548A-style channel multiplexer that routes
// the shared I2C bus to one of eight downstream lines.
package chanmux

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MikeHennessy/suntrack/internal/adapters/clock"
	"github.com/MikeHennessy/suntrack/internal/bus"
	"github.com/MikeHennessy/suntrack/internal/domain"
	"github.com/MikeHennessy/suntrack/internal/ports"
	"github.com/MikeHennessy/suntrack/pkg/log"
)

const (
	// DefaultAddress is the mux control register address with A0..A2 low.
	DefaultAddress uint16 = 0x70
	// Channels is the number of downstream lines.
	Channels = 8
	// MinSettleDelay is the lower bound on the post-select settle delay.
	MinSettleDelay = time.Millisecond

	// Scan range for 7-bit addresses, excluding reserved ones.
	firstScanAddr uint16 = 0x03
	lastScanAddr  uint16 = 0x77
)

// Mux selects channels on a shared bus handle. Select and Disable require
// the caller to hold the handle; Scan acquires it itself.
type Mux struct {
	bus    *bus.Handle
	addr   uint16
	clock  ports.Clock
	logger log.Logger

	mu      sync.Mutex
	settle  time.Duration
	current int
}

// Option configures a Mux.
type Option func(*Mux)

// WithAddress sets the mux address.
func WithAddress(addr uint16) Option {
	return func(m *Mux) { m.addr = addr }
}

// WithSettleDelay sets the delay after a select. Values below
// MinSettleDelay are raised to it.
func WithSettleDelay(d time.Duration) Option {
	return func(m *Mux) { m.settle = clampSettle(d) }
}

// WithClock sets the clock used for the settle delay.
func WithClock(c ports.Clock) Option {
	return func(m *Mux) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(m *Mux) { m.logger = log.OrNoop(l) }
}

// New returns a Mux on h with no channel known to be selected.
func New(h *bus.Handle, opts ...Option) *Mux {
	m := &Mux{
		bus:     h,
		addr:    DefaultAddress,
		clock:   clock.System{},
		logger:  log.NoopLogger{},
		settle:  MinSettleDelay,
		current: -1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func clampSettle(d time.Duration) time.Duration {
	if d < MinSettleDelay {
		return MinSettleDelay
	}
	return d
}

// Address returns the mux address.
func (m *Mux) Address() uint16 { return m.addr }

// SetSettleDelay changes the settle delay, clamped to MinSettleDelay.
func (m *Mux) SetSettleDelay(d time.Duration) {
	m.mu.Lock()
	m.settle = clampSettle(d)
	m.mu.Unlock()
}

// SettleDelay returns the current settle delay.
func (m *Mux) SettleDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settle
}

// Select routes the bus to channel and waits for the settle delay. The
// write is issued on every call, even if channel is already selected.
func (m *Mux) Select(channel int) error {
	if channel < 0 || channel >= Channels {
		return fmt.Errorf("select channel %d: %w", channel, domain.ErrInvalidChannel)
	}
	return m.write(byte(1)<<uint(channel), channel)
}

// Disable deselects every channel.
func (m *Mux) Disable() error {
	return m.write(0, -1)
}

func (m *Mux) write(mask byte, channel int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.bus.Tx(m.addr, []byte{mask}, nil); err != nil {
		m.current = -1
		m.logger.Warn("mux write failed",
			log.Hex("addr", m.addr),
			log.Int("channel", channel),
			log.Err(err),
		)
		return fmt.Errorf("%w: channel %d at 0x%02x: %w", domain.ErrMuxFailure, channel, m.addr, err)
	}
	m.current = channel
	m.clock.Sleep(m.settle)
	return nil
}

// Current returns the channel last selected successfully. ok is false when
// no channel is selected or the state is unknown after a failed write.
func (m *Mux) Current() (channel int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current >= 0
}

// Scan selects channel and returns the addresses that answer a one-byte
// read. The mux itself is excluded.
func (m *Mux) Scan(ctx context.Context, channel int) ([]uint16, error) {
	if err := m.bus.Acquire(ctx); err != nil {
		return nil, err
	}
	defer m.bus.Release()

	if err := m.Select(channel); err != nil {
		return nil, err
	}
	var found []uint16
	probe := make([]byte, 1)
	for addr := firstScanAddr; addr <= lastScanAddr; addr++ {
		if addr == m.addr {
			continue
		}
		if err := m.bus.Tx(addr, nil, probe); err == nil {
			found = append(found, addr)
		}
	}
	m.logger.Info("scan complete", log.Int("channel", channel), log.Int("found", len(found)))
	return found, nil
}
