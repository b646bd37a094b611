// Package bus provides an explicitly owned handle to the shared I2C bus.
//
// Every device on the rig sits behind the same channel multiplexer, so a
// transaction sequence that selects a channel and then talks to a device
// must not interleave with another caller's sequence. A Handle is created
// once per physical bus and passed to the mux and the actuator link; a
// caller must Acquire it before issuing transactions and Release it when
// the sequence is complete.
package bus

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/MikeHennessy/suntrack/internal/domain"
)

// Conn performs one bus transaction: write w then read len(r) bytes from the
// device at addr. periph.io i2c.Bus implementations satisfy it.
type Conn interface {
	Tx(addr uint16, w, r []byte) error
}

// Handle serializes access to a Conn.
type Handle struct {
	conn  Conn
	token chan struct{}
	held  atomic.Bool
}

// New wraps conn. The handle starts released.
func New(conn Conn) *Handle {
	h := &Handle{conn: conn, token: make(chan struct{}, 1)}
	h.token <- struct{}{}
	return h
}

// Acquire blocks until the caller owns the bus or ctx is done. A context
// that is already done never acquires, even when the bus is free.
func (h *Handle) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("acquire bus: %w", err)
	}
	select {
	case <-h.token:
		h.held.Store(true)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquire bus: %w", ctx.Err())
	}
}

// Release returns ownership. It panics when the bus is not held, since
// that indicates a broken Acquire/Release pairing.
func (h *Handle) Release() {
	if !h.held.CompareAndSwap(true, false) {
		panic("bus: release of unheld handle")
	}
	h.token <- struct{}{}
}

// Held reports whether some caller currently owns the bus.
func (h *Handle) Held() bool {
	return h.held.Load()
}

// Tx performs a transaction on the underlying bus. It fails with
// domain.ErrBusNotHeld unless the handle is acquired.
func (h *Handle) Tx(addr uint16, w, r []byte) error {
	if !h.held.Load() {
		return domain.ErrBusNotHeld
	}
	return h.conn.Tx(addr, w, r)
}
