// Package sim provides an in-process stand-in for the rig hardware: a
// TCA9548A-style multiplexer with the Arduino actuator controller behind
// one of its channels. It satisfies bus.Conn and speaks the same frames as
// the real controller, so it backs both the --simulate mode and the tests.
package sim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/MikeHennessy/suntrack/internal/domain"
	"github.com/MikeHennessy/suntrack/internal/wire"
	"github.com/MikeHennessy/suntrack/pkg/log"
)

var (
	// ErrNoDevice mimics a NACK: nothing answered at the address.
	ErrNoDevice = errors.New("sim: no device at address")
	// ErrNotReady is returned for ack reads before the controller finished a move.
	ErrNotReady = errors.New("sim: controller not ready")
)

// Command is a frame the controller received.
type Command struct {
	Actuator domain.ActuatorID
	DeltaMM  float32
}

// Config describes the simulated topology.
type Config struct {
	MuxAddress        uint16
	ControllerAddress uint16
	// ControllerChannel is the mux channel the controller sits behind.
	ControllerChannel int
	Order             binary.ByteOrder
	// AckAfterPolls is the number of ack reads answered with ErrNotReady
	// before "OK" is returned.
	AckAfterPolls int
	// Peripherals lists additional devices per channel, answered only by scans.
	Peripherals map[int][]uint16
}

// Controller is the simulated bus. It is safe for concurrent use, although
// callers are expected to serialize access through a bus.Handle.
type Controller struct {
	cfg    Config
	logger log.Logger

	mu       sync.Mutex
	selected byte
	pending  int
	ackReady bool
	silent   bool
	garbled  bool
	muxFault error
	txFault  error
	received []Command
	physical domain.Positions
	txCount  int
}

// New returns a simulated rig. Zero addresses take the conventional
// defaults (mux 0x70, controller 0x08).
func New(cfg Config, logger log.Logger) *Controller {
	if cfg.MuxAddress == 0 {
		cfg.MuxAddress = 0x70
	}
	if cfg.ControllerAddress == 0 {
		cfg.ControllerAddress = 0x08
	}
	if cfg.Order == nil {
		cfg.Order = binary.BigEndian
	}
	return &Controller{cfg: cfg, logger: log.OrNoop(logger), physical: domain.Positions{}}
}

// SetSilent makes the controller accept commands but never acknowledge them.
func (c *Controller) SetSilent(silent bool) {
	c.mu.Lock()
	c.silent = silent
	c.mu.Unlock()
}

// SetGarbled makes ack reads return bytes that are not a valid ack.
func (c *Controller) SetGarbled(garbled bool) {
	c.mu.Lock()
	c.garbled = garbled
	c.mu.Unlock()
}

// SetAckAfterPolls changes how many ack reads are answered not-ready.
func (c *Controller) SetAckAfterPolls(n int) {
	c.mu.Lock()
	c.cfg.AckAfterPolls = n
	c.mu.Unlock()
}

// FailMux makes writes to the mux return err until cleared with nil.
func (c *Controller) FailMux(err error) {
	c.mu.Lock()
	c.muxFault = err
	c.mu.Unlock()
}

// FailCommandWrite makes command writes to the controller return err.
func (c *Controller) FailCommandWrite(err error) {
	c.mu.Lock()
	c.txFault = err
	c.mu.Unlock()
}

// Received returns the command frames delivered to the controller.
func (c *Controller) Received() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Command(nil), c.received...)
}

// Physical returns the positions the simulated hardware actually moved to.
func (c *Controller) Physical() domain.Positions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.physical.Clone()
}

// Transactions returns the number of Tx calls seen.
func (c *Controller) Transactions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txCount
}

// Selected returns the last mux control byte written.
func (c *Controller) Selected() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Tx implements bus.Conn.
func (c *Controller) Tx(addr uint16, w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txCount++

	if addr == c.cfg.MuxAddress {
		return c.muxTx(w, r)
	}
	if addr == c.cfg.ControllerAddress && c.routed(c.cfg.ControllerChannel) {
		return c.controllerTx(w, r)
	}
	for ch, addrs := range c.cfg.Peripherals {
		if !c.routed(ch) {
			continue
		}
		for _, a := range addrs {
			if a == addr {
				for i := range r {
					r[i] = 0
				}
				return nil
			}
		}
	}
	return fmt.Errorf("%w 0x%02x", ErrNoDevice, addr)
}

func (c *Controller) routed(channel int) bool {
	return channel >= 0 && channel < 8 && c.selected&(1<<uint(channel)) != 0
}

func (c *Controller) muxTx(w, r []byte) error {
	if c.muxFault != nil {
		return c.muxFault
	}
	if len(w) > 1 {
		return fmt.Errorf("sim: mux expects a single control byte, got %d", len(w))
	}
	if len(w) == 1 {
		c.selected = w[0]
	}
	if len(r) > 0 {
		r[0] = c.selected
	}
	return nil
}

func (c *Controller) controllerTx(w, r []byte) error {
	if len(w) > 0 {
		if c.txFault != nil {
			return c.txFault
		}
		id, delta, err := wire.DecodeCommand(c.cfg.Order, w)
		if err != nil {
			return err
		}
		c.received = append(c.received, Command{Actuator: id, DeltaMM: delta})
		c.physical[id] += float64(delta)
		c.pending = c.cfg.AckAfterPolls
		c.ackReady = !c.silent
		c.logger.Debug("sim: command received",
			log.Uint8("actuator", uint8(id)),
			log.Float64("delta_mm", float64(delta)),
		)
	}
	switch len(r) {
	case 0:
		return nil
	case 1:
		// Presence probe from a scan.
		r[0] = 0
		return nil
	}
	if !c.ackReady {
		return ErrNotReady
	}
	if c.pending > 0 {
		c.pending--
		return ErrNotReady
	}
	if c.garbled {
		for i := range r {
			r[i] = 0xff
		}
		return nil
	}
	c.ackReady = false
	copy(r, wire.EncodeAck())
	return nil
}
