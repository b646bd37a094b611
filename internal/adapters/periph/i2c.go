// Package periph opens the host I2C bus through periph.io.
package periph

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/MikeHennessy/suntrack/pkg/log"
)

// DefaultBus is the Raspberry Pi's user-facing I2C bus (/dev/i2c-1).
const DefaultBus = "1"

// Open initializes the host drivers and opens the named bus. name may be
// empty to take the first registered bus. speedKHz <= 0 keeps the driver's
// default clock.
func Open(name string, speedKHz int, logger log.Logger) (i2c.BusCloser, error) {
	logger = log.OrNoop(logger)

	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("init host drivers: %w", err)
	}
	for _, f := range state.Failed {
		logger.Debug("host driver failed to load", log.String("driver", f.D.String()), log.Err(f.Err))
	}

	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}
	if speedKHz > 0 {
		if err := b.SetSpeed(physic.Frequency(speedKHz) * physic.KiloHertz); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("set i2c bus %q speed to %d kHz: %w", name, speedKHz, err)
		}
	}
	logger.Info("i2c bus opened", log.String("bus", b.String()), log.Int("speed_khz", speedKHz))
	return b, nil
}
