package infra

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// VenueConfig holds one exchange's connection and fee settings.
type VenueConfig struct {
	WSURL       string          `yaml:"ws_url"`
	RestURL     string          `yaml:"rest_url"`
	Enabled     bool            `yaml:"enabled"`
	Required    bool            `yaml:"required"`
	TakerFeeBps decimal.Decimal `yaml:"taker_fee_bps"`
}

// Config holds the full application configuration. Loaded from YAML, then
// selectively overridden through environment variables.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	Core struct {
		Symbol            string `yaml:"symbol"`
		TickHz            int    `yaml:"tick_hz"`
		TopLevels         int    `yaml:"top_levels"`
		RingSize          int    `yaml:"ring_size"`
		DepthWindowBps    int    `yaml:"depth_window_bps"`
		StaleThresholdMS  int    `yaml:"stale_threshold_ms"`
		WarmupTicks       int    `yaml:"warmup_ticks"`
		MinRequiredVenues int    `yaml:"min_required_venues"`
		DegradedResetMS   int    `yaml:"degraded_reset_ms"`
	} `yaml:"core"`

	Venues map[string]VenueConfig `yaml:"venues"`

	Hub struct {
		HeartbeatIntervalMS int `yaml:"heartbeat_interval_ms"`
		SendBuffer          int `yaml:"send_buffer"`
	} `yaml:"hub"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Core.TickHz == 0 {
		c.Core.TickHz = 2
	}
	if c.Core.TopLevels == 0 {
		c.Core.TopLevels = 50
	}
	if c.Core.RingSize == 0 {
		c.Core.RingSize = 1000
	}
	if c.Core.DepthWindowBps == 0 {
		c.Core.DepthWindowBps = 50
	}
	if c.Core.StaleThresholdMS == 0 {
		c.Core.StaleThresholdMS = 3000
	}
	if c.Core.WarmupTicks == 0 {
		c.Core.WarmupTicks = 5
	}
	if c.Core.MinRequiredVenues == 0 {
		c.Core.MinRequiredVenues = 2
	}
	if c.Core.DegradedResetMS == 0 {
		c.Core.DegradedResetMS = 30_000
	}
	if c.Hub.HeartbeatIntervalMS == 0 {
		c.Hub.HeartbeatIntervalMS = 5000
	}
	if c.Hub.SendBuffer == 0 {
		c.Hub.SendBuffer = 64
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Core.Symbol == "" {
		return fmt.Errorf("core symbol is required")
	}
	if c.Core.TickHz != 2 && c.Core.TickHz != 4 {
		return fmt.Errorf("tick_hz must be 2 or 4, got %d", c.Core.TickHz)
	}
	if c.Core.TopLevels <= 0 {
		return fmt.Errorf("top_levels must be positive")
	}
	if c.Core.DepthWindowBps <= 0 {
		return fmt.Errorf("depth_window_bps must be positive")
	}
	if c.Core.MinRequiredVenues < 1 {
		return fmt.Errorf("min_required_venues must be at least 1")
	}

	enabled := 0
	required := 0
	for id, v := range c.Venues {
		if !v.Enabled {
			continue
		}
		enabled++
		if v.Required {
			required++
		}
		if !hasPrefix(v.WSURL, "ws://") && !hasPrefix(v.WSURL, "wss://") {
			return fmt.Errorf("invalid %s WS URL: %s", id, v.WSURL)
		}
		if v.TakerFeeBps.IsNegative() {
			return fmt.Errorf("%s taker fee must not be negative", id)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one enabled venue is required")
	}
	if required < c.Core.MinRequiredVenues {
		return fmt.Errorf("min_required_venues %d exceeds required venue count %d",
			c.Core.MinRequiredVenues, required)
	}

	return nil
}

// TickPeriod returns the metrics computation interval.
func (c *Config) TickPeriod() time.Duration {
	return time.Second / time.Duration(c.Core.TickHz)
}

// StaleThreshold returns the venue staleness cutoff.
func (c *Config) StaleThreshold() time.Duration {
	return time.Duration(c.Core.StaleThresholdMS) * time.Millisecond
}

// DegradedReset returns the extended threshold after which a degraded
// system falls back to warming.
func (c *Config) DegradedReset() time.Duration {
	return time.Duration(c.Core.DegradedResetMS) * time.Millisecond
}

// HeartbeatInterval returns the stream heartbeat cadence.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Hub.HeartbeatIntervalMS) * time.Millisecond
}

// RequiredVenues returns the ids of enabled venues that count toward
// system readiness, in stable order.
func (c *Config) RequiredVenues() []string {
	var out []string
	for _, id := range sortedKeys(c.Venues) {
		v := c.Venues[id]
		if v.Enabled && v.Required {
			out = append(out, id)
		}
	}
	return out
}

// EnabledVenues returns the ids of all enabled venues in stable order.
func (c *Config) EnabledVenues() []string {
	var out []string
	for _, id := range sortedKeys(c.Venues) {
		if c.Venues[id].Enabled {
			out = append(out, id)
		}
	}
	return out
}

func sortedKeys(m map[string]VenueConfig) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv applies environment overrides where present.
func overrideWithEnv(cfg *Config) {
	if port := os.Getenv("LIQCORE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if level := os.Getenv("LIQCORE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if symbol := os.Getenv("LIQCORE_SYMBOL"); symbol != "" {
		cfg.Core.Symbol = symbol
	}
}
