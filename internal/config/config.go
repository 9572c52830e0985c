// Package config manages runtime configuration for the camera appliance.
//
// Configuration is loaded from a YAML file with defaults for every
// setting, so the appliance boots with no file present at all.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Configuration structs
// =============================================================================

// Config holds all runtime configuration values.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Bus     BusConfig     `yaml:"bus"`
	Sensor  SensorConfig  `yaml:"sensor"`
	Display DisplayConfig `yaml:"display"`
	Input   InputConfig   `yaml:"input"`
	Capture CaptureConfig `yaml:"capture"`
	Storage StorageConfig `yaml:"storage"`
	Control ControlConfig `yaml:"control"`
}

// LoggingConfig controls the rotating file handler and stdout mirror.
type LoggingConfig struct {
	File        string `yaml:"file"`
	MaxBytes    int    `yaml:"max_bytes"`
	BackupCount int    `yaml:"backup_count"`
	Stdout      bool   `yaml:"stdout"`
}

// BusConfig names the SPI ports and chip-select pins of the shared bus.
type BusConfig struct {
	SensorPort  string `yaml:"sensor_port"`
	DisplayPort string `yaml:"display_port"`
	SensorCS    string `yaml:"sensor_cs"`
	DisplayCS   string `yaml:"display_cs"`
}

// SensorConfig holds camera module parameters.
type SensorConfig struct {
	ConfigClockHz  int64 `yaml:"config_clock_hz"`
	BurstClockHz   int64 `yaml:"burst_clock_hz"`
	MaxFrameBytes  int   `yaml:"max_frame_bytes"`
	CaptureTimeout int   `yaml:"capture_timeout_ms"`
	PollIntervalUS int   `yaml:"poll_interval_us"`
}

// DisplayConfig holds panel geometry and streaming parameters.
type DisplayConfig struct {
	SourceWidth  int    `yaml:"source_width"`
	SourceHeight int    `yaml:"source_height"`
	Rotation     string `yaml:"rotation"` // "cw" or "ccw"
	ChunkSize    int    `yaml:"chunk_size"`
	ClockHz      int64  `yaml:"clock_hz"`
	ResetPin     string `yaml:"reset_pin"`
	DCPin        string `yaml:"dc_pin"`
	BacklightPin string `yaml:"backlight_pin"`
}

// InputConfig names the button and LED pins.
type InputConfig struct {
	CaptureButton string `yaml:"capture_button"`
	ModeButton    string `yaml:"mode_button"`
	LEDRed        string `yaml:"led_red"`
	LEDGreen      string `yaml:"led_green"`
	LEDBlue       string `yaml:"led_blue"`
}

// CaptureConfig holds coordinator timing.
type CaptureConfig struct {
	DebounceMS     int `yaml:"debounce_ms"`
	CountdownSteps int `yaml:"countdown_steps"`
	StepIntervalMS int `yaml:"step_interval_ms"`
}

// StorageConfig locates the photo directory on the removable medium.
type StorageConfig struct {
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
}

// ControlConfig holds the HTTP control surface settings.
type ControlConfig struct {
	Addr             string `yaml:"addr"`
	StreamIntervalMS int    `yaml:"stream_interval_ms"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a Config populated with the values the target
// hardware ships with.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			File:        "./logs/camera.log",
			MaxBytes:    5 * 1024 * 1024, // 5 MB
			BackupCount: 3,
			Stdout:      true,
		},
		Bus: BusConfig{
			SensorPort:  "SPI0.0",
			DisplayPort: "SPI0.1",
			SensorCS:    "GPIO8",
			DisplayCS:   "GPIO7",
		},
		Sensor: SensorConfig{
			ConfigClockHz:  1_000_000,
			BurstClockHz:   8_000_000,
			MaxFrameBytes:  128 * 1024,
			CaptureTimeout: 1500,
			PollIntervalUS: 1000,
		},
		Display: DisplayConfig{
			SourceWidth:  320,
			SourceHeight: 240,
			Rotation:     "ccw",
			ChunkSize:    8192,
			ClockHz:      32_000_000,
			ResetPin:     "GPIO27",
			DCPin:        "GPIO25",
			BacklightPin: "GPIO18",
		},
		Input: InputConfig{
			CaptureButton: "GPIO5",
			ModeButton:    "GPIO6",
			LEDRed:        "GPIO16",
			LEDGreen:      "GPIO20",
			LEDBlue:       "GPIO21",
		},
		Capture: CaptureConfig{
			DebounceMS:     200,
			CountdownSteps: 3,
			StepIntervalMS: 1000,
		},
		Storage: StorageConfig{
			Dir:    "/media/sd/photos",
			Prefix: "photo_",
		},
		Control: ControlConfig{
			Addr:             ":8080",
			StreamIntervalMS: 100,
		},
	}
}

// =============================================================================
// Load
// =============================================================================

// ConfigPath returns the YAML file path to use, respecting env vars.
func ConfigPath() string {
	if p := os.Getenv("ECE4180_CAMERA_CONFIG"); p != "" {
		return p
	}
	return "./config.yaml"
}

// Load reads the YAML file at the given path (or the default/env path)
// and returns a fully populated Config. A missing file yields defaults;
// a malformed file is an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// =============================================================================
// Derived values
// =============================================================================

// DebounceWindow returns the capture debounce as a duration.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Capture.DebounceMS) * time.Millisecond
}

// StepInterval returns the countdown step spacing as a duration.
func (c *Config) StepInterval() time.Duration {
	return time.Duration(c.Capture.StepIntervalMS) * time.Millisecond
}

// CaptureTimeout returns the sensor completion deadline as a duration.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Sensor.CaptureTimeout) * time.Millisecond
}

// PollInterval returns the completion poll spacing as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Sensor.PollIntervalUS) * time.Microsecond
}

// StreamInterval returns the WebSocket push pacing as a duration.
func (c *Config) StreamInterval() time.Duration {
	return time.Duration(c.Control.StreamIntervalMS) * time.Millisecond
}

// =============================================================================
// Validate
// =============================================================================

// Validate checks whether the Config values are reasonable and returns
// warnings. Returns ok=false if any setting is critically problematic.
func (c *Config) Validate() (ok bool, warnings []string) {
	ok = true

	if c.Display.Rotation != "cw" && c.Display.Rotation != "ccw" {
		ok = false
		warnings = append(warnings, fmt.Sprintf("rotation %q is not cw or ccw", c.Display.Rotation))
	}
	if c.Display.ChunkSize <= 0 || c.Display.ChunkSize%2 != 0 {
		ok = false
		warnings = append(warnings, fmt.Sprintf("chunk_size %d must be positive and even", c.Display.ChunkSize))
	}
	if c.Display.SourceWidth <= 0 || c.Display.SourceHeight <= 0 {
		ok = false
		warnings = append(warnings, "source dimensions must be positive")
	}

	if c.Sensor.MaxFrameBytes < 2 {
		ok = false
		warnings = append(warnings, "max_frame_bytes too small to hold a frame header")
	}
	if c.Sensor.BurstClockHz < c.Sensor.ConfigClockHz {
		warnings = append(warnings, "burst clock below config clock defeats the dual-speed scheme")
	}
	if c.Sensor.CaptureTimeout < 100 {
		warnings = append(warnings, fmt.Sprintf("capture timeout %d ms is aggressive for full-resolution frames", c.Sensor.CaptureTimeout))
	}

	if c.Capture.DebounceMS < 50 {
		warnings = append(warnings, fmt.Sprintf("debounce %d ms may pass switch bounce through", c.Capture.DebounceMS))
	}
	if c.Capture.CountdownSteps < 1 {
		ok = false
		warnings = append(warnings, "countdown_steps must be at least 1")
	}

	if c.Storage.Prefix == "" {
		warnings = append(warnings, "empty photo prefix makes counter recovery match any numbered file")
	}

	return ok, warnings
}
