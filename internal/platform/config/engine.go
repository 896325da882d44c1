package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Engine is the tunable placement policy. It is read from an optional TOML
// file; any field left out keeps its default.
//
//	universal_delay_ms = 400
//	burst_limit = 15
//	burst_window_ms = 10000
//	burst_safety_buffer_ms = 2000
//	checkpoint_every = 10
//	check_existing_min_pixels = 10
//
//	[keywords]
//	burst = ["burst limit"]
//	rate = ["rate", "limit"]
//	credit = ["credit"]
type Engine struct {
	UniversalDelayMs       int      `toml:"universal_delay_ms"`
	BurstLimit             int      `toml:"burst_limit"`
	BurstWindowMs          int      `toml:"burst_window_ms"`
	BurstSafetyBufferMs    int      `toml:"burst_safety_buffer_ms"`
	CheckpointEvery        int      `toml:"checkpoint_every"`
	CheckExistingMinPixels int      `toml:"check_existing_min_pixels"`
	MaxDimension           int      `toml:"max_dimension"`
	Keywords               Keywords `toml:"keywords"`
}

// Keywords maps raw failure text fragments to error kinds. Matching is
// case-insensitive and evaluated burst, rate, credit in that order.
type Keywords struct {
	Burst  []string `toml:"burst"`
	Rate   []string `toml:"rate"`
	Credit []string `toml:"credit"`
}

// DefaultEngine returns the conservative policy the engine ships with.
func DefaultEngine() Engine {
	return Engine{
		UniversalDelayMs:       400,
		BurstLimit:             15,
		BurstWindowMs:          10000,
		BurstSafetyBufferMs:    2000,
		CheckpointEvery:        10,
		CheckExistingMinPixels: 10,
		MaxDimension:           100,
		Keywords: Keywords{
			Burst:  []string{"burst limit"},
			Rate:   []string{"rate", "limit"},
			Credit: []string{"credit"},
		},
	}
}

// LoadEngine reads the TOML file at path over DefaultEngine. An empty path
// returns the defaults.
func LoadEngine(path string) (Engine, error) {
	cfg := DefaultEngine()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read engine config %s: %w", path, err)
	}
	return ParseEngine(data)
}

// ParseEngine decodes TOML data over DefaultEngine and rejects values that
// would disable throttling.
func ParseEngine(data []byte) (Engine, error) {
	cfg := DefaultEngine()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode engine config: %w", err)
	}
	if cfg.UniversalDelayMs <= 0 {
		return cfg, fmt.Errorf("universal_delay_ms must be positive, got %d", cfg.UniversalDelayMs)
	}
	if cfg.BurstLimit <= 0 {
		return cfg, fmt.Errorf("burst_limit must be positive, got %d", cfg.BurstLimit)
	}
	if cfg.BurstWindowMs <= 0 {
		return cfg, fmt.Errorf("burst_window_ms must be positive, got %d", cfg.BurstWindowMs)
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = DefaultEngine().CheckpointEvery
	}
	return cfg, nil
}

// UniversalDelay returns the minimum spacing between submissions.
func (e Engine) UniversalDelay() time.Duration {
	return time.Duration(e.UniversalDelayMs) * time.Millisecond
}

// BurstWindow returns the sliding window of the burst cap.
func (e Engine) BurstWindow() time.Duration {
	return time.Duration(e.BurstWindowMs) * time.Millisecond
}

// BurstSafetyBuffer returns the extra wait added after a burst cap is hit.
func (e Engine) BurstSafetyBuffer() time.Duration {
	return time.Duration(e.BurstSafetyBufferMs) * time.Millisecond
}
