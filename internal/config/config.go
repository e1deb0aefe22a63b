// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/clipper-app/clipper/internal/bus"
)

// ConfigFilePath is the default location for the configuration file.
const ConfigFilePath = "/etc/clipper/config.yaml"

// Config represents the complete clipperd configuration.
type Config struct {
	// Devices contains device-specific configuration keyed by sanitized
	// camera/microphone name, overriding Default for that device only.
	Devices map[string]DeviceConfig `yaml:"devices" koanf:"devices"`

	// Default device preferences used when no device-specific config matches.
	Default DeviceConfig `yaml:"default" koanf:"default"`

	// Recorder settings: binaries, working directories, lock path.
	Recorder RecorderConfig `yaml:"recorder" koanf:"recorder"`

	// Audio capture settings.
	Audio AudioConfig `yaml:"audio" koanf:"audio"`

	// Health/metrics endpoint settings.
	Health HealthConfig `yaml:"health" koanf:"health"`
}

// DeviceConfig holds the preferred capture format and encoding profile for
// one camera/microphone, or the fleet-wide default when unkeyed.
type DeviceConfig struct {
	Width       int    `yaml:"width" koanf:"width"`
	Height      int    `yaml:"height" koanf:"height"`
	FPS         int    `yaml:"fps" koanf:"fps"`
	PixelFormat string `yaml:"pixel_format" koanf:"pixel_format"` // MJPEG, YUYV, NV12, GRAY, RGB24

	Encoder string `yaml:"encoder" koanf:"encoder"` // CPU, NVIDIA, AMD, INTEL
	Quality string `yaml:"quality" koanf:"quality"` // High, Med, Low
	Speed   string `yaml:"speed" koanf:"speed"`     // Fastest, Balanced, Compact
}

// RecorderConfig contains the Recorder worker's subprocess and filesystem
// settings.
type RecorderConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path" koanf:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path" koanf:"ffprobe_path"`
	WorkDir     string `yaml:"work_dir" koanf:"work_dir"`   // holds tmp_vid.mp4/tmp_aud.mp4 and segment outputs
	ClipsDir    string `yaml:"clips_dir" koanf:"clips_dir"` // holds clip_NNN.mp4/thumb_NNN.jpg/preview_NNN.gif
	LockPath    string `yaml:"lock_path" koanf:"lock_path"`
}

// AudioConfig contains the Audio worker's subprocess settings.
type AudioConfig struct {
	FFmpegPath  string        `yaml:"ffmpeg_path" koanf:"ffmpeg_path"`
	AsoundPath  string        `yaml:"asound_path" koanf:"asound_path"`
	StopTimeout time.Duration `yaml:"stop_timeout" koanf:"stop_timeout"`
}

// HealthConfig contains health/metrics endpoint settings.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" koanf:"enabled"`
	Addr    string `yaml:"addr" koanf:"addr"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - Config path is from administrator-controlled configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// atomicFile abstracts file operations used by Save for testability.
type atomicFile interface {
	Write([]byte) (int, error)
	Sync() error
	Chmod(os.FileMode) error
	Close() error
	Name() string
}

// atomicCreateTemp is the injectable temp-file creator used by Save.
// Tests can replace this with a function returning a mock atomicFile.
type atomicCreateTemp func(dir, pattern string) (atomicFile, error)

func defaultCreateTemp(dir, pattern string) (atomicFile, error) {
	return os.CreateTemp(dir, pattern) // #nosec G304
}

// Save writes the configuration to a YAML file, atomically.
func (c *Config) Save(path string) error {
	return c.saveWith(path, defaultCreateTemp)
}

func (c *Config) saveWith(path string, createTemp atomicCreateTemp) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Atomic write: write to a temp file in the same directory, sync to disk,
	// then rename to the target path. os.Rename is atomic on most filesystems,
	// so a crash mid-write leaves either the old file or the new file, never
	// a partially-written file.
	dir := filepath.Dir(path)

	tmpFile, err := createTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}

	// Config files may name internal paths; keep them owner+group readable
	// only, not world-readable.
	// #nosec G302 - Config file restricted to owner+group for security
	if err := tmpFile.Chmod(0640); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil { // #nosec G703 -- path is from CLI flag/config, not web request input
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	success = true
	return nil
}

// GetDeviceConfig returns configuration for a device, falling back to
// Default for any field the device-specific entry leaves at its zero value.
func (c *Config) GetDeviceConfig(deviceName string) DeviceConfig {
	result := c.Default

	if devCfg, ok := c.Devices[deviceName]; ok {
		if devCfg.Width != 0 {
			result.Width = devCfg.Width
		}
		if devCfg.Height != 0 {
			result.Height = devCfg.Height
		}
		if devCfg.FPS != 0 {
			result.FPS = devCfg.FPS
		}
		if devCfg.PixelFormat != "" {
			result.PixelFormat = devCfg.PixelFormat
		}
		if devCfg.Encoder != "" {
			result.Encoder = devCfg.Encoder
		}
		if devCfg.Quality != "" {
			result.Quality = devCfg.Quality
		}
		if devCfg.Speed != "" {
			result.Speed = devCfg.Speed
		}
	}

	return result
}

// VideoConfig converts a DeviceConfig's capture fields into the bus type the
// Controller sends in StartStream/UpdateConfig.
func (d DeviceConfig) VideoConfig() bus.VideoConfig {
	return bus.VideoConfig{
		Width:       d.Width,
		Height:      d.Height,
		FPS:         d.FPS,
		PixelFormat: bus.PixelFormat(d.PixelFormat),
	}
}

// EncodingProfile converts a DeviceConfig's encoder fields into the bus type
// UpdateConfig carries.
func (d DeviceConfig) EncodingProfile() bus.EncodingProfile {
	return bus.EncodingProfile{
		Encoder: bus.Encoder(d.Encoder),
		Quality: bus.Quality(d.Quality),
		Speed:   bus.Speed(d.Speed),
	}
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	if err := c.Default.Validate(); err != nil {
		return fmt.Errorf("default config: %w", err)
	}
	for name, devCfg := range c.Devices {
		if err := devCfg.ValidatePartial(); err != nil {
			return fmt.Errorf("device %q: %w", name, err)
		}
	}
	if c.Audio.StopTimeout < 0 {
		return fmt.Errorf("audio stop_timeout must not be negative")
	}
	return nil
}

var validPixelFormats = map[string]bool{
	"MJPEG": true, "YUYV": true, "NV12": true, "GRAY": true, "RGB24": true,
}

var validEncoders = map[string]bool{"CPU": true, "NVIDIA": true, "AMD": true, "INTEL": true}
var validQualities = map[string]bool{"High": true, "Med": true, "Low": true}
var validSpeeds = map[string]bool{"Fastest": true, "Balanced": true, "Compact": true}

// Validate checks the default device configuration, which must be complete.
func (d *DeviceConfig) Validate() error {
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("width and height must be positive")
	}
	if d.FPS <= 0 {
		return fmt.Errorf("fps must be positive")
	}
	if !validPixelFormats[d.PixelFormat] {
		return fmt.Errorf("pixel_format must be one of MJPEG, YUYV, NV12, GRAY, RGB24")
	}
	if !validEncoders[d.Encoder] {
		return fmt.Errorf("encoder must be one of CPU, NVIDIA, AMD, INTEL")
	}
	if !validQualities[d.Quality] {
		return fmt.Errorf("quality must be one of High, Med, Low")
	}
	if !validSpeeds[d.Speed] {
		return fmt.Errorf("speed must be one of Fastest, Balanced, Compact")
	}
	return nil
}

// ValidatePartial checks a device-specific override, which may omit fields
// (they inherit from Default).
func (d *DeviceConfig) ValidatePartial() error {
	if d.Width < 0 || d.Height < 0 {
		return fmt.Errorf("width and height must not be negative")
	}
	if d.FPS < 0 {
		return fmt.Errorf("fps must not be negative")
	}
	if d.PixelFormat != "" && !validPixelFormats[d.PixelFormat] {
		return fmt.Errorf("pixel_format must be one of MJPEG, YUYV, NV12, GRAY, RGB24")
	}
	if d.Encoder != "" && !validEncoders[d.Encoder] {
		return fmt.Errorf("encoder must be one of CPU, NVIDIA, AMD, INTEL")
	}
	if d.Quality != "" && !validQualities[d.Quality] {
		return fmt.Errorf("quality must be one of High, Med, Low")
	}
	if d.Speed != "" && !validSpeeds[d.Speed] {
		return fmt.Errorf("speed must be one of Fastest, Balanced, Compact")
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults, used when no
// config file exists or for testing.
func DefaultConfig() *Config {
	return &Config{
		Devices: make(map[string]DeviceConfig),
		Default: DeviceConfig{
			Width: 1280, Height: 720, FPS: 30, PixelFormat: "MJPEG",
			Encoder: "CPU", Quality: "Med", Speed: "Balanced",
		},
		Recorder: RecorderConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
			WorkDir:     "/var/lib/clipper/work",
			ClipsDir:    "/var/lib/clipper/clips",
			LockPath:    "/var/lib/clipper/recorder.lock",
		},
		Audio: AudioConfig{
			FFmpegPath:  "ffmpeg",
			AsoundPath:  "/proc/asound",
			StopTimeout: 5 * time.Second,
		},
		Health: HealthConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9998",
		},
	}
}
