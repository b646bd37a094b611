package cliconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestApplyFileConfig(t *testing.T) {
	trueVal := true

	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		initial    Config
		expected   Config
		wantErr    bool
	}{
		{
			name: "applies all valid config values",
			fileConfig: FileConfig{
				Bus:               "0",
				BusSpeedKHz:       100,
				Simulate:          &trueVal,
				MuxAddress:        0x71,
				ControllerAddress: 0x09,
				ByteOrder:         "little",
				SettleDelay:       "2ms",
				AckTimeout:        "3s",
				PollInterval:      "50ms",
				LedgerPath:        "/var/lib/suntrack/positions.json",
				Listen:            "127.0.0.1:9000",
				LogLevel:          "debug",
				Actuators:         []ActuatorConfig{{ID: 4, Channel: 1, MinMM: -5, MaxMM: 5}},
			},
			changed: map[string]bool{},
			initial: DefaultConfig(),
			expected: Config{
				Bus:               "0",
				BusSpeedKHz:       100,
				Simulate:          true,
				MuxAddress:        0x71,
				ControllerAddress: 0x09,
				ByteOrder:         "little",
				SettleDelay:       2 * time.Millisecond,
				AckTimeout:        3 * time.Second,
				PollInterval:      50 * time.Millisecond,
				LedgerPath:        "/var/lib/suntrack/positions.json",
				Listen:            "127.0.0.1:9000",
				LogLevel:          "debug",
				Actuators:         []ActuatorConfig{{ID: 4, Channel: 1, MinMM: -5, MaxMM: 5}},
			},
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				AckTimeout: "5s",
				MuxAddress: 0x72,
				Listen:     "0.0.0.0:1",
			},
			changed: map[string]bool{"ack-timeout": true, "mux-addr": true},
			initial: Config{AckTimeout: time.Second, MuxAddress: 0x70},
			expected: Config{
				AckTimeout: time.Second, // unchanged because flag was set
				MuxAddress: 0x70,
				Listen:     "0.0.0.0:1",
			},
		},
		{
			name:       "empty file keeps defaults",
			fileConfig: FileConfig{},
			changed:    map[string]bool{},
			initial:    DefaultConfig(),
			expected:   DefaultConfig(),
		},
		{
			name:       "invalid duration",
			fileConfig: FileConfig{PollInterval: "soon"},
			changed:    map[string]bool{},
			initial:    Config{},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)
			if tt.wantErr {
				if err == nil {
					t.Fatal("ApplyFileConfig() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyFileConfig() unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.expected, cfg); diff != "" {
				t.Errorf("config (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	tomlContent := `
bus = "1"
mux_address = 0x70
controller_address = 8
ack_timeout = "1500ms"
simulate = true

[[actuator]]
id = 1
channel = 7
min_mm = -20.0
max_mm = 20.0

[[actuator]]
id = 2
channel = 6
min_mm = -10.0
max_mm = 15.0
`
	if err := os.WriteFile(configPath, []byte(tomlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	fc, err := LoadFileConfig(configPath)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}

	if fc.MuxAddress != 0x70 {
		t.Errorf("MuxAddress = %#x, want 0x70", fc.MuxAddress)
	}
	if fc.ControllerAddress != 0x08 {
		t.Errorf("ControllerAddress = %#x, want 0x08", fc.ControllerAddress)
	}
	if fc.AckTimeout != "1500ms" {
		t.Errorf("AckTimeout = %v, want 1500ms", fc.AckTimeout)
	}
	if fc.Simulate == nil || !*fc.Simulate {
		t.Errorf("Simulate = %v, want true", fc.Simulate)
	}
	want := []ActuatorConfig{
		{ID: 1, Channel: 7, MinMM: -20, MaxMM: 20},
		{ID: 2, Channel: 6, MinMM: -10, MaxMM: 15},
	}
	if diff := cmp.Diff(want, fc.Actuators); diff != "" {
		t.Errorf("Actuators (-want +got):\n%s", diff)
	}
}

func TestLoadFileConfig_InvalidFile(t *testing.T) {
	_, err := LoadFileConfig("/nonexistent/path/config.toml")
	if err == nil {
		t.Error("LoadFileConfig() expected error for nonexistent file")
	}
}

func TestLoadFileConfig_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.toml")

	invalidContent := `
bus = "1"
this is not valid toml
`
	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	if _, err := LoadFileConfig(configPath); err == nil {
		t.Error("LoadFileConfig() expected error for invalid TOML")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()

	if path != "" && !strings.Contains(path, ".suntrack") {
		t.Errorf("DefaultConfigPath() = %v, should contain .suntrack", path)
	}
}

func TestFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	existing := filepath.Join(tmpDir, "exists.toml")
	if err := os.WriteFile(existing, nil, 0644); err != nil {
		t.Fatal(err)
	}

	if !FileExists(existing) {
		t.Errorf("FileExists(%q) = false, want true", existing)
	}
	if FileExists(filepath.Join(tmpDir, "missing.toml")) {
		t.Error("FileExists() = true for missing file")
	}
}
