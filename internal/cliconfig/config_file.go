package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
//
//	bus = "1"
//	mux_address = 0x70
//	ack_timeout = "1s"
//
//	[[actuator]]
//	id = 1
//	channel = 7
//	min_mm = -20.0
//	max_mm = 20.0
type FileConfig struct {
	Bus               string           `toml:"bus"`
	BusSpeedKHz       int              `toml:"bus_speed_khz"`
	Simulate          *bool            `toml:"simulate"`
	MuxAddress        uint16           `toml:"mux_address"`
	ControllerAddress uint16           `toml:"controller_address"`
	ByteOrder         string           `toml:"byte_order"`
	SettleDelay       string           `toml:"settle_delay"`
	AckTimeout        string           `toml:"ack_timeout"`
	PollInterval      string           `toml:"poll_interval"`
	LedgerPath        string           `toml:"ledger_path"`
	Listen            string           `toml:"listen"`
	LogLevel          string           `toml:"log_level"`
	Actuators         []ActuatorConfig `toml:"actuator"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.suntrack/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".suntrack", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map). A non-empty
// actuator table replaces the configured one as a whole.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("bus", fc.Bus, &cfg.Bus)
	s.setString("byte-order", fc.ByteOrder, &cfg.ByteOrder)
	s.setString("ledger", fc.LedgerPath, &cfg.LedgerPath)
	s.setString("listen", fc.Listen, &cfg.Listen)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)

	s.setInt("bus-speed", fc.BusSpeedKHz, &cfg.BusSpeedKHz)
	s.setAddr("mux-addr", fc.MuxAddress, &cfg.MuxAddress)
	s.setAddr("controller-addr", fc.ControllerAddress, &cfg.ControllerAddress)

	if err := s.setDuration("settle", fc.SettleDelay, &cfg.SettleDelay); err != nil {
		return err
	}
	if err := s.setDuration("ack-timeout", fc.AckTimeout, &cfg.AckTimeout); err != nil {
		return err
	}
	if err := s.setDuration("poll", fc.PollInterval, &cfg.PollInterval); err != nil {
		return err
	}

	s.setBool("simulate", fc.Simulate, &cfg.Simulate)

	if len(fc.Actuators) > 0 {
		cfg.Actuators = append([]ActuatorConfig(nil), fc.Actuators...)
	}
	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
