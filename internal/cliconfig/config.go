package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/MikeHennessy/suntrack/internal/chanmux"
	"github.com/MikeHennessy/suntrack/internal/domain"
	"github.com/MikeHennessy/suntrack/internal/ledger"
	"github.com/MikeHennessy/suntrack/internal/link"
	"github.com/MikeHennessy/suntrack/internal/wire"
)

// DefaultListen is the control API address used by serve.
const DefaultListen = "127.0.0.1:8510"

// ActuatorConfig describes one actuator of the rig.
type ActuatorConfig struct {
	ID      int     `toml:"id"`
	Channel int     `toml:"channel"`
	MinMM   float64 `toml:"min_mm"`
	MaxMM   float64 `toml:"max_mm"`
}

// Config holds CLI configuration for suntrack.
type Config struct {
	Bus         string
	BusSpeedKHz int
	Simulate    bool

	MuxAddress        uint16
	ControllerAddress uint16
	ByteOrder         string

	SettleDelay  time.Duration
	AckTimeout   time.Duration
	PollInterval time.Duration

	LedgerPath string
	Actuators  []ActuatorConfig

	Listen   string
	LogLevel string
}

// DefaultActuators returns the rig's two linear actuators behind channel 7.
func DefaultActuators() []ActuatorConfig {
	return []ActuatorConfig{
		{ID: 1, Channel: 7, MinMM: -20, MaxMM: 20},
		{ID: 2, Channel: 7, MinMM: -20, MaxMM: 20},
	}
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Bus:               "1",
		MuxAddress:        chanmux.DefaultAddress,
		ControllerAddress: link.DefaultControllerAddress,
		ByteOrder:         "big",
		SettleDelay:       chanmux.MinSettleDelay,
		AckTimeout:        link.DefaultAckTimeout,
		PollInterval:      link.DefaultPollInterval,
		LedgerPath:        "", // Derived from $HOME during Validate
		Actuators:         DefaultActuators(),
		Listen:            DefaultListen,
		LogLevel:          "info",
	}
}

// DefaultLedgerPath returns ~/.suntrack/positions.json, or a path in the
// working directory when the home directory is unknown. Simulated runs get
// ~/.suntrack/positions.sim.json instead.
func DefaultLedgerPath(simulate bool) string {
	name := ledger.DefaultFileName
	if simulate {
		name = ledger.SimFileName
	}
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".suntrack", name)
	}
	return name
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.LedgerPath == "" {
		c.LedgerPath = DefaultLedgerPath(c.Simulate)
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.Actuators) == 0 {
		c.Actuators = DefaultActuators()
	}

	if _, err := wire.ParseByteOrder(c.ByteOrder); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}
	if c.SettleDelay < chanmux.MinSettleDelay {
		return fmt.Errorf("%w: settle delay %s below %s", domain.ErrInvalidConfig, c.SettleDelay, chanmux.MinSettleDelay)
	}
	if c.AckTimeout <= 0 {
		return fmt.Errorf("%w: ack timeout must be positive", domain.ErrInvalidConfig)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", domain.ErrInvalidConfig)
	}
	if c.MuxAddress == c.ControllerAddress {
		return fmt.Errorf("%w: mux and controller share address 0x%02x", domain.ErrInvalidConfig, c.MuxAddress)
	}
	if c.MuxAddress > 0x7f || c.ControllerAddress > 0x7f {
		return fmt.Errorf("%w: i2c addresses are 7-bit", domain.ErrInvalidConfig)
	}

	seen := make(map[int]bool, len(c.Actuators))
	for _, a := range c.Actuators {
		if a.ID < 0 || a.ID > 255 {
			return fmt.Errorf("%w: actuator id %d does not fit a byte", domain.ErrInvalidConfig, a.ID)
		}
		if seen[a.ID] {
			return fmt.Errorf("%w: duplicate actuator id %d", domain.ErrInvalidConfig, a.ID)
		}
		seen[a.ID] = true
		if a.Channel < 0 || a.Channel >= chanmux.Channels {
			return fmt.Errorf("%w: actuator %d channel %d: %w", domain.ErrInvalidConfig, a.ID, a.Channel, domain.ErrInvalidChannel)
		}
		if !(domain.Range{Min: a.MinMM, Max: a.MaxMM}).Valid() {
			return fmt.Errorf("%w: actuator %d range [%g, %g]", domain.ErrInvalidConfig, a.ID, a.MinMM, a.MaxMM)
		}
	}
	return nil
}

// DomainActuators converts the actuator table. Call after Validate.
func (c *Config) DomainActuators() []domain.Actuator {
	out := make([]domain.Actuator, 0, len(c.Actuators))
	for _, a := range c.Actuators {
		out = append(out, domain.Actuator{
			ID:      domain.ActuatorID(a.ID),
			Channel: a.Channel,
			Range:   domain.Range{Min: a.MinMM, Max: a.MaxMM},
		})
	}
	return out
}

// Timing returns the link delays.
func (c *Config) Timing() link.Timing {
	return link.Timing{
		AckTimeout:   c.AckTimeout,
		PollInterval: c.PollInterval,
		SettleDelay:  c.SettleDelay,
	}
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setAddr sets a bus address if non-zero and flag not changed.
func (s *configSetter) setAddr(flag string, value uint16, dst *uint16) {
	if value == 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setAddrFromString parses a decimal or 0x-prefixed address.
func (s *configSetter) setAddrFromString(flag, value string, dst *uint16) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	a, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if a == 0 {
		return nil
	}
	*dst = uint16(a)
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
