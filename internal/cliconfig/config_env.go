package cliconfig

import "os"

// EnvPrefix prefixes every environment variable read by ApplyEnvConfig.
const EnvPrefix = "SUNTRACK_"

// ApplyEnvConfig applies SUNTRACK_* environment variables. Like the file
// layer it never overrides an explicitly set flag.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)
	env := func(name string) string { return os.Getenv(EnvPrefix + name) }

	s.setString("bus", env("BUS"), &cfg.Bus)
	s.setString("byte-order", env("BYTE_ORDER"), &cfg.ByteOrder)
	s.setString("ledger", env("LEDGER_PATH"), &cfg.LedgerPath)
	s.setString("listen", env("LISTEN"), &cfg.Listen)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)
	s.setBoolFromString("simulate", env("SIMULATE"), &cfg.Simulate)

	if err := s.setIntFromString("bus-speed", env("BUS_SPEED_KHZ"), &cfg.BusSpeedKHz); err != nil {
		return err
	}
	if err := s.setAddrFromString("mux-addr", env("MUX_ADDRESS"), &cfg.MuxAddress); err != nil {
		return err
	}
	if err := s.setAddrFromString("controller-addr", env("CONTROLLER_ADDRESS"), &cfg.ControllerAddress); err != nil {
		return err
	}
	if err := s.setDuration("settle", env("SETTLE_DELAY"), &cfg.SettleDelay); err != nil {
		return err
	}
	if err := s.setDuration("ack-timeout", env("ACK_TIMEOUT"), &cfg.AckTimeout); err != nil {
		return err
	}
	if err := s.setDuration("poll", env("POLL_INTERVAL"), &cfg.PollInterval); err != nil {
		return err
	}
	return nil
}
