package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	blecrypto "github.com/grozycki/esphome-ble-mouse-jiggler/internal/ble/crypto"
)

// Config holds all application configuration.
type Config struct {
	Mice     []MouseConfig `yaml:"mice"`
	Jiggle   JiggleConfig  `yaml:"jiggle"`
	Output   OutputConfig  `yaml:"output"`
	BLE      BLEConfig     `yaml:"ble"`
	Hotkey   HotkeyConfig  `yaml:"hotkey"`
	LogLevel string        `yaml:"log_level"`
}

// MouseConfig describes one emulated mouse.
type MouseConfig struct {
	ID           uint8  `yaml:"id"`
	Name         string `yaml:"name"`
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	BatteryLevel int    `yaml:"battery_level"`
	PinCode      string `yaml:"pin_code"` // six digits; empty derives one from ble.pin_secret
}

// JiggleConfig holds the jiggle schedule.
type JiggleConfig struct {
	Interval time.Duration `yaml:"interval"`
	Distance int           `yaml:"distance"`
	Enabled  bool          `yaml:"enabled"`
}

// OutputConfig selects where pointer activity goes.
type OutputConfig struct {
	Method string `yaml:"method"` // "ble" or "local"
}

// BLEConfig holds peripheral settings.
type BLEConfig struct {
	Adapter           string            `yaml:"adapter"`     // BlueZ adapter name, e.g. "hci0"; empty picks the first
	BlueZSetup        bool              `yaml:"bluez_setup"` // power the adapter and make it pairable over D-Bus
	ReportDescriptors bool              `yaml:"report_descriptors"`
	PinSecret         string            `yaml:"pin_secret"` // hex, 32 bytes
	Advertising       AdvertisingConfig `yaml:"advertising"`
	Retry             RetryConfig       `yaml:"retry"`
}

// AdvertisingConfig controls how several mice share the radio.
type AdvertisingConfig struct {
	Policy         string        `yaml:"policy"` // "single" or "rotate"
	RotateInterval time.Duration `yaml:"rotate_interval"`
}

// RetryConfig bounds automatic re-provisioning.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

// HotkeyConfig holds the global key combos. An empty combo is disabled.
type HotkeyConfig struct {
	Toggle     []string `yaml:"toggle"`
	JiggleOnce []string `yaml:"jiggle_once"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ble-mouse-jiggler")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultMouse returns the settings of a mouse with nothing configured.
func DefaultMouse() MouseConfig {
	return MouseConfig{
		Name:         "ESP32 Mouse Jiggler",
		Manufacturer: "ESPHome",
		Model:        "Mouse Jiggler",
		BatteryLevel: 100,
	}
}

// UnmarshalYAML fills fields missing from a mice[] entry with defaults.
func (m *MouseConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain MouseConfig
	p := plain(DefaultMouse())
	if err := value.Decode(&p); err != nil {
		return err
	}
	*m = MouseConfig(p)
	return nil
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Mice: []MouseConfig{DefaultMouse()},
		Jiggle: JiggleConfig{
			Interval: 60 * time.Second,
			Distance: 1,
			Enabled:  true,
		},
		Output: OutputConfig{
			Method: "ble",
		},
		BLE: BLEConfig{
			BlueZSetup:        true,
			ReportDescriptors: true,
			Advertising: AdvertisingConfig{
				Policy:         "single",
				RotateInterval: 30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BackoffMax:  30 * time.Second,
			},
		},
		Hotkey: HotkeyConfig{
			Toggle:     []string{"ctrl", "shift", "j"},
			JiggleOnce: []string{"ctrl", "shift", "k"},
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if len(c.Mice) == 0 {
		return fmt.Errorf("mice must not be empty")
	}
	seen := make(map[uint8]bool)
	for i, m := range c.Mice {
		if seen[m.ID] {
			return fmt.Errorf("mice[%d]: duplicate id %d", i, m.ID)
		}
		seen[m.ID] = true
		if m.Name == "" {
			return fmt.Errorf("mice[%d].name must not be empty", i)
		}
		if m.BatteryLevel < 0 || m.BatteryLevel > 100 {
			return fmt.Errorf("mice[%d].battery_level must be 0-100, got %d", i, m.BatteryLevel)
		}
		if m.PinCode != "" {
			if err := validatePin(m.PinCode); err != nil {
				return fmt.Errorf("mice[%d].pin_code: %w", i, err)
			}
		}
	}

	if c.Jiggle.Interval < time.Second {
		return fmt.Errorf("jiggle.interval must be at least 1s, got %s", c.Jiggle.Interval)
	}
	if c.Jiggle.Distance < 1 || c.Jiggle.Distance > 10 {
		return fmt.Errorf("jiggle.distance must be 1-10, got %d", c.Jiggle.Distance)
	}

	switch c.Output.Method {
	case "ble", "local":
	default:
		return fmt.Errorf("output.method must be \"ble\" or \"local\", got %q", c.Output.Method)
	}

	if c.BLE.PinSecret != "" {
		if _, err := blecrypto.ParseSecret(c.BLE.PinSecret); err != nil {
			return fmt.Errorf("ble.pin_secret: %w", err)
		}
	}

	switch c.BLE.Advertising.Policy {
	case "single", "rotate":
	default:
		return fmt.Errorf("ble.advertising.policy must be \"single\" or \"rotate\", got %q", c.BLE.Advertising.Policy)
	}

	if c.BLE.Advertising.RotateInterval < 0 {
		return fmt.Errorf("ble.advertising.rotate_interval must not be negative")
	}

	if c.BLE.Retry.MaxAttempts < 0 {
		return fmt.Errorf("ble.retry.max_attempts must be >= 0")
	}

	if c.BLE.Retry.BackoffMax <= 0 {
		return fmt.Errorf("ble.retry.backoff_max must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

func validatePin(pin string) error {
	if len(pin) != 6 {
		return fmt.Errorf("must be six digits, got %q", pin)
	}
	if _, err := strconv.ParseUint(pin, 10, 32); err != nil {
		return fmt.Errorf("must be six digits, got %q", pin)
	}
	return nil
}

// PinCode returns the pairing PIN of m: its own pin_code, or one derived
// from ble.pin_secret, or "" when neither is set.
func (c *Config) PinCode(m MouseConfig) (string, error) {
	if m.PinCode != "" {
		return m.PinCode, nil
	}
	if c.BLE.PinSecret == "" {
		return "", nil
	}
	secret, err := blecrypto.ParseSecret(c.BLE.PinSecret)
	if err != nil {
		return "", fmt.Errorf("ble.pin_secret: %w", err)
	}
	passkey, err := blecrypto.DerivePasskey(secret, m.ID)
	if err != nil {
		return "", err
	}
	return blecrypto.FormatPasskey(passkey), nil
}

// ParseLogLevel converts a log_level string to a slog.Level.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultConfigYAML = `# ble-mouse-jiggler configuration
# Durations use Go syntax: 30s, 5m, 1h.

mice:
  - id: 0
    name: ESP32 Mouse Jiggler
    manufacturer: ESPHome
    model: Mouse Jiggler
    battery_level: 100
    # pin_code: "123456"

jiggle:
  interval: 60s
  distance: 1 # 1-10
  enabled: true

output:
  method: ble # ble or local

ble:
  adapter: "" # e.g. hci0; empty picks the first adapter
  bluez_setup: true
  report_descriptors: true
  pin_secret: "" # hex, 32 bytes; derives a PIN for mice without pin_code
  advertising:
    policy: single # single or rotate
    rotate_interval: 30s
  retry:
    max_attempts: 3
    backoff_max: 30s

hotkey:
  toggle: ["ctrl", "shift", "j"]
  jiggle_once: ["ctrl", "shift", "k"]

log_level: info # debug, info, warn, error
`

// WriteDefault writes a commented default config to DefaultConfigPath and
// returns its path. It returns "" and no error when a config already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}
