package core

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultFramesInFlight uint32 = 2
	// 256 MB expressed the way the batch ceiling is compared: in bytes, base 10.
	DefaultBatchLimitMB uint64 = 256
	DefaultLogLevel            = "info"
)

// Devices the renderer can run on.
const (
	DeviceHeadless = "headless"
	DeviceVulkan   = "vulkan"
)

// RendererConfig holds the options recognized by the ray tracing core.
type RendererConfig struct {
	// Device backend: "headless" or "vulkan".
	Device string `toml:"device"`
	// Number of frames whose GPU work may be in flight at the same time.
	FramesInFlight uint32 `toml:"frames_in_flight"`
	// Ceiling, in megabytes, of the sum of acceleration structure sizes built
	// in a single batch.
	BatchLimitMB uint64 `toml:"batch_limit_mb"`
	// Shrink every BLAS to its compacted size after the build.
	Compaction bool `toml:"compaction"`
	// Build the TLAS so it can later be refit in place.
	AllowUpdate bool `toml:"allow_update"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type Config struct {
	Renderer RendererConfig `toml:"renderer"`
	Log      LogConfig      `toml:"log"`
}

func DefaultConfig() *Config {
	return &Config{
		Renderer: RendererConfig{
			Device:         DeviceHeadless,
			FramesInFlight: DefaultFramesInFlight,
			BatchLimitMB:   DefaultBatchLimitMB,
			Compaction:     true,
			AllowUpdate:    true,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// BatchLimitBytes returns the batch ceiling in bytes.
func (rc RendererConfig) BatchLimitBytes() uint64 {
	return rc.BatchLimitMB * 1_000_000
}

func (c *Config) Validate() error {
	switch c.Renderer.Device {
	case "":
		c.Renderer.Device = DeviceHeadless
	case DeviceHeadless, DeviceVulkan:
	default:
		return fmt.Errorf("%w: unknown device %q", ErrInvalidConfig, c.Renderer.Device)
	}
	if c.Renderer.FramesInFlight == 0 {
		return fmt.Errorf("%w: frames_in_flight must be at least 1", ErrInvalidConfig)
	}
	if c.Renderer.BatchLimitMB == 0 {
		return fmt.Errorf("%w: batch_limit_mb must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// ParseConfig decodes a TOML document on top of the defaults, so keys that
// are missing keep their default value.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("failed to read config %s: %w", path, err)
		LogError(err.Error())
		return nil, err
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		LogError("failed to parse config %s: %s", path, err)
		return nil, err
	}
	return cfg, nil
}
