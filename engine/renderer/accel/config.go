package accel

import (
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

// DefaultBatchLimit bounds the sum of uncompacted structure sizes built by
// one submission.
const DefaultBatchLimit device.DeviceSize = 256_000_000

type Config struct {
	// BatchLimit is the ceiling on the summed acceleration structure sizes of
	// one bottom-level batch.
	BatchLimit device.DeviceSize
	// Compaction shrinks every bottom-level structure to its compacted size
	// after it is built.
	Compaction bool
	// AllowUpdate builds the top-level structure so that UpdateTlas can refit
	// it.
	AllowUpdate bool
}

func DefaultConfig() Config {
	return Config{
		BatchLimit:  DefaultBatchLimit,
		Compaction:  true,
		AllowUpdate: true,
	}
}

// Option overrides the builder configuration for a single call.
type Option func(*Config)

func WithCompaction(enabled bool) Option {
	return func(c *Config) { c.Compaction = enabled }
}

func WithBatchLimit(limit device.DeviceSize) Option {
	return func(c *Config) { c.BatchLimit = limit }
}

func WithAllowUpdate(enabled bool) Option {
	return func(c *Config) { c.AllowUpdate = enabled }
}

func (c Config) with(opts ...Option) Config {
	for _, opt := range opts {
		opt(&c)
	}
	if c.BatchLimit == 0 {
		c.BatchLimit = DefaultBatchLimit
	}
	return c
}
