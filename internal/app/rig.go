package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/MikeHennessy/suntrack/internal/adapters/periph"
	"github.com/MikeHennessy/suntrack/internal/adapters/sim"
	"github.com/MikeHennessy/suntrack/internal/bus"
	"github.com/MikeHennessy/suntrack/internal/chanmux"
	"github.com/MikeHennessy/suntrack/internal/cliconfig"
	"github.com/MikeHennessy/suntrack/internal/domain"
	"github.com/MikeHennessy/suntrack/internal/ledger"
	"github.com/MikeHennessy/suntrack/internal/link"
	"github.com/MikeHennessy/suntrack/internal/wire"
	"github.com/MikeHennessy/suntrack/pkg/log"
)

// disableTimeout bounds the wait for the bus when deselecting the mux on Close.
const disableTimeout = 2 * time.Second

// Rig is the assembled component graph for one physical (or simulated) bus.
type Rig struct {
	Actuators []domain.Actuator
	Bus       *bus.Handle
	Mux       *chanmux.Mux
	Link      *link.Link
	Ledger    *ledger.Ledger
	// Sim is the simulated hardware, nil when running on a real bus.
	Sim *sim.Controller

	closer io.Closer
	logger log.Logger
}

// BuildRig opens the bus described by cfg and wires the mux, codec, ledger
// and link on top of it. cfg must be validated. The ledger is loaded before
// BuildRig returns.
func BuildRig(ctx context.Context, cfg cliconfig.Config, logger log.Logger) (*Rig, error) {
	logger = log.OrNoop(logger)
	actuators := cfg.DomainActuators()

	order, err := wire.ParseByteOrder(cfg.ByteOrder)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}

	r := &Rig{Actuators: actuators, logger: logger}
	var conn bus.Conn
	if cfg.Simulate {
		r.Sim = sim.New(sim.Config{
			MuxAddress:        cfg.MuxAddress,
			ControllerAddress: cfg.ControllerAddress,
			ControllerChannel: actuators[0].Channel,
			Order:             order,
		}, logger)
		conn = r.Sim
		logger.Info("using simulated rig", log.Int("controller_channel", actuators[0].Channel))
	} else {
		b, err := periph.Open(cfg.Bus, cfg.BusSpeedKHz, logger)
		if err != nil {
			return nil, err
		}
		conn = b
		r.closer = b
	}

	r.Bus = bus.New(conn)
	r.Mux = chanmux.New(r.Bus,
		chanmux.WithAddress(cfg.MuxAddress),
		chanmux.WithSettleDelay(cfg.SettleDelay),
		chanmux.WithLogger(logger),
	)
	r.Ledger = ledger.New(ledger.NewFileRepository(cfg.LedgerPath), actuators, logger)
	if _, err := r.Ledger.Load(ctx); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	r.Link = link.New(r.Bus, r.Mux, wire.NewCodec(order, actuators), r.Ledger, actuators,
		link.WithControllerAddress(cfg.ControllerAddress),
		link.WithTiming(cfg.Timing()),
		link.WithLogger(logger),
	)
	return r, nil
}

// Close deselects every mux channel and releases the bus. Closing a rig
// whose link never ran is fine.
func (r *Rig) Close() error {
	var disableErr error
	if r.Mux != nil {
		ctx, cancel := context.WithTimeout(context.Background(), disableTimeout)
		if err := r.Bus.Acquire(ctx); err != nil {
			disableErr = err
		} else {
			disableErr = r.Mux.Disable()
			r.Bus.Release()
		}
		cancel()
		if disableErr != nil {
			r.logger.Warn("could not deselect mux channels", log.Err(disableErr))
		}
	}
	if r.closer != nil {
		if err := r.closer.Close(); err != nil {
			return fmt.Errorf("close bus: %w", err)
		}
	}
	return disableErr
}
