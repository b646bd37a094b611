package cliconfig

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MikeHennessy/suntrack/internal/domain"
	"github.com/MikeHennessy/suntrack/internal/link"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MuxAddress != 0x70 {
		t.Errorf("MuxAddress = %#x, want 0x70", cfg.MuxAddress)
	}
	if cfg.ControllerAddress != 0x08 {
		t.Errorf("ControllerAddress = %#x, want 0x08", cfg.ControllerAddress)
	}
	if cfg.AckTimeout != time.Second {
		t.Errorf("AckTimeout = %v, want 1s", cfg.AckTimeout)
	}
	if cfg.PollInterval != 20*time.Millisecond {
		t.Errorf("PollInterval = %v, want 20ms", cfg.PollInterval)
	}
	if cfg.SettleDelay != time.Millisecond {
		t.Errorf("SettleDelay = %v, want 1ms", cfg.SettleDelay)
	}
	if cfg.Listen != DefaultListen {
		t.Errorf("Listen = %v, want %v", cfg.Listen, DefaultListen)
	}
	if len(cfg.Actuators) != 2 {
		t.Errorf("Actuators = %v, want 2 entries", cfg.Actuators)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "little endian", mutate: func(c *Config) { c.ByteOrder = "little" }},
		{name: "bad byte order", mutate: func(c *Config) { c.ByteOrder = "middle" }, wantErr: true},
		{name: "settle below minimum", mutate: func(c *Config) { c.SettleDelay = 500 * time.Microsecond }, wantErr: true},
		{name: "zero ack timeout", mutate: func(c *Config) { c.AckTimeout = 0 }, wantErr: true},
		{name: "negative poll", mutate: func(c *Config) { c.PollInterval = -time.Millisecond }, wantErr: true},
		{name: "shared address", mutate: func(c *Config) { c.ControllerAddress = c.MuxAddress }, wantErr: true},
		{name: "10-bit address", mutate: func(c *Config) { c.ControllerAddress = 0x208 }, wantErr: true},
		{
			name:    "duplicate id",
			mutate:  func(c *Config) { c.Actuators[1].ID = c.Actuators[0].ID },
			wantErr: true,
		},
		{
			name:    "channel out of range",
			mutate:  func(c *Config) { c.Actuators[0].Channel = 8 },
			wantErr: true,
		},
		{
			name:    "empty range",
			mutate:  func(c *Config) { c.Actuators[0].MinMM, c.Actuators[0].MaxMM = 5, 5 },
			wantErr: true,
		},
		{
			name:    "id above byte",
			mutate:  func(c *Config) { c.Actuators[0].ID = 300 },
			wantErr: true,
		},
		{
			name: "three actuators on two channels",
			mutate: func(c *Config) {
				c.Actuators = append(c.Actuators, ActuatorConfig{ID: 3, Channel: 2, MinMM: -5, MaxMM: 5})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidConfig) {
					t.Fatalf("Validate() = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestConfig_Validate_Derivations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = ""
	cfg.LogLevel = ""
	cfg.Actuators = nil
	cfg.LedgerPath = ""

	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != DefaultListen {
		t.Errorf("Listen = %q, want %q", cfg.Listen, DefaultListen)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if diff := cmp.Diff(DefaultActuators(), cfg.Actuators); diff != "" {
		t.Errorf("Actuators (-want +got):\n%s", diff)
	}
	if !strings.HasSuffix(cfg.LedgerPath, "positions.json") {
		t.Errorf("LedgerPath = %q, want default ledger file", cfg.LedgerPath)
	}
}

func TestConfig_Validate_AddressFormatting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MuxAddress = 0x08
	err := cfg.Validate()
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	if !strings.Contains(err.Error(), "share address 0x08") {
		t.Errorf("err = %q, want the address printed as 0x08", err)
	}
}

func TestConfig_Validate_SimulatedLedgerPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		name     string
		simulate bool
		path     string
		want     string
	}{
		{"hardware default", false, "", filepath.Join(home, ".suntrack", "positions.json")},
		{"simulated default", true, "", filepath.Join(home, ".suntrack", "positions.sim.json")},
		{"simulated explicit", true, "/tmp/mine.json", "/tmp/mine.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Simulate = tt.simulate
			cfg.LedgerPath = tt.path
			if err := cfg.Validate(); err != nil {
				t.Fatal(err)
			}
			if cfg.LedgerPath != tt.want {
				t.Errorf("LedgerPath = %q, want %q", cfg.LedgerPath, tt.want)
			}
		})
	}
}

func TestConfig_Conversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AckTimeout = 2 * time.Second
	cfg.PollInterval = 10 * time.Millisecond
	cfg.SettleDelay = 3 * time.Millisecond

	want := link.Timing{AckTimeout: 2 * time.Second, PollInterval: 10 * time.Millisecond, SettleDelay: 3 * time.Millisecond}
	if diff := cmp.Diff(want, cfg.Timing()); diff != "" {
		t.Errorf("Timing() (-want +got):\n%s", diff)
	}

	wantActuators := []domain.Actuator{
		{ID: 1, Channel: 7, Range: domain.Range{Min: -20, Max: 20}},
		{ID: 2, Channel: 7, Range: domain.Range{Min: -20, Max: 20}},
	}
	if diff := cmp.Diff(wantActuators, cfg.DomainActuators()); diff != "" {
		t.Errorf("DomainActuators() (-want +got):\n%s", diff)
	}
}

func TestLogger(t *testing.T) {
	if _, err := Logger("debug"); err != nil {
		t.Errorf("Logger(debug): %v", err)
	}
	if _, err := Logger(" WARN "); err != nil {
		t.Errorf("Logger(WARN): %v", err)
	}
	l, err := Logger("chatty")
	if err == nil {
		t.Error("Logger(chatty) expected error")
	}
	if l.GetLevel().String() != "info" {
		t.Errorf("fallback level = %v, want info", l.GetLevel())
	}
}
