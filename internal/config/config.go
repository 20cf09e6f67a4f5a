// Package config loads and validates rov-remote settings from YAML.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings for a rov-remote instance.
type Config struct {
	// ListenAddr is the HTTP listen address for the control panel.
	ListenAddr string `yaml:"listen_addr"`
	// Serial configures the link to the vehicle's microcontroller.
	Serial Serial `yaml:"serial"`
	// Drive configures thrust and failsafe behaviour.
	Drive Drive `yaml:"drive"`
	// Camera configures the optional video feed.
	Camera Camera `yaml:"camera"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Serial settings. Device may be empty, in which case the operator picks
// one from the panel.
type Serial struct {
	Device      string        `yaml:"device"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// AutoConnect opens Device when the server starts.
	AutoConnect bool `yaml:"auto_connect"`
}

// Drive settings.
type Drive struct {
	// Power is the thrust percentage used by the direction buttons.
	Power int `yaml:"power"`
	// DeadmanTimeout stops the vehicle when no command arrives for this
	// long while running. A negative value disables it.
	DeadmanTimeout time.Duration `yaml:"deadman_timeout"`
	// CommandRate caps thrust updates per second on the serial line.
	CommandRate float64 `yaml:"command_rate"`
}

// Camera settings.
type Camera struct {
	RTSPURL    string   `yaml:"rtsp_url"`
	ICEServers []string `yaml:"ice_servers,omitempty"`
}

const (
	// DefaultConfigFilename is looked up when no path is given.
	DefaultConfigFilename = "rov-remote.yaml"
	// DefaultListenAddr serves the panel on all interfaces.
	DefaultListenAddr = ":8080"
	// DefaultBaudRate matches the Arduino sketch.
	DefaultBaudRate = 9600
	// DefaultReadTimeout bounds a single serial read.
	DefaultReadTimeout = time.Second
	// DefaultPower is the thrust percentage for direction buttons.
	DefaultPower = 60
	// DefaultDeadmanTimeout stops a running vehicle left without input.
	DefaultDeadmanTimeout = 3 * time.Second
	// DefaultCommandRate is 20 thrust updates per second.
	DefaultCommandRate = 20

	filePermissions = 0o600
)

var (
	errConfigIsNotSet  = errors.New("configuration is not set")
	errPowerOutOfRange = errors.New("drive power must be between 1 and 100")
	errBadBaudRate     = errors.New("baud rate must be positive")
	errBadCommandRate  = errors.New("command rate must be positive")
	errAutoConnect     = errors.New("auto_connect requires a serial device")
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := new(Config)
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from path and validates it. A missing file at
// the default path yields the defaults.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Read is Load without validation, for callers that apply their own
// overrides first and validate the result once.
func Read(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	return &cfg, nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, filePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults and checks the remaining fields.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}

	if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	if cfg.Serial.BaudRate == 0 {
		cfg.Serial.BaudRate = DefaultBaudRate
	}

	if cfg.Serial.BaudRate < 0 {
		return errBadBaudRate
	}

	if cfg.Serial.ReadTimeout <= 0 {
		cfg.Serial.ReadTimeout = DefaultReadTimeout
	}

	if cfg.Serial.AutoConnect && cfg.Serial.Device == "" {
		return errAutoConnect
	}

	if cfg.Drive.Power == 0 {
		cfg.Drive.Power = DefaultPower
	}

	if cfg.Drive.Power < 1 || cfg.Drive.Power > 100 {
		return errPowerOutOfRange
	}

	if cfg.Drive.DeadmanTimeout == 0 {
		cfg.Drive.DeadmanTimeout = DefaultDeadmanTimeout
	}

	if cfg.Drive.CommandRate == 0 {
		cfg.Drive.CommandRate = DefaultCommandRate
	}

	if cfg.Drive.CommandRate < 0 {
		return errBadCommandRate
	}

	if cfg.Camera.RTSPURL != "" {
		u, err := url.Parse(cfg.Camera.RTSPURL)
		if err != nil {
			return fmt.Errorf("invalid rtsp url: %w", err)
		}

		if u.Scheme != "rtsp" && u.Scheme != "rtsps" {
			return fmt.Errorf("invalid rtsp url scheme %q", u.Scheme)
		}
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return nil
}
