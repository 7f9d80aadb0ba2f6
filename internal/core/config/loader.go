package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/nicguard/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, expanding environment variables first.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given: two
// simulated devices and the built-in tuning.
func Default() *AppConfig {
	cfg := &AppConfig{
		Devices: []DeviceConfig{{ID: "eth0"}, {ID: "eth1"}},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Engine.PollInterval == 0 {
		c.Engine.PollInterval = 100 * time.Millisecond
	}
	if c.Engine.PublishInterval == 0 {
		c.Engine.PublishInterval = 5 * time.Second
	}
	for i := range c.Devices {
		if c.Devices[i].Fault.Every > 0 && c.Devices[i].Fault.Burst == 0 {
			c.Devices[i].Fault.Burst = 1
		}
	}
}

// Validate checks everything that would otherwise fail at startup.
func (c *AppConfig) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Engine.MaxRate > 100 {
		return fmt.Errorf("engine.max_rate %d exceeds 100", c.Engine.MaxRate)
	}
	if c.Engine.DegradeThreshold > 100 || c.Engine.MinBackupHealth > 100 {
		return fmt.Errorf("engine health thresholds must be within 0..100")
	}
	if c.Engine.PollInterval < 0 {
		return fmt.Errorf("engine.poll_interval %v must not be negative", c.Engine.PollInterval)
	}
	if c.Engine.PublishInterval < 0 {
		return fmt.Errorf("engine.publish_interval %v must not be negative", c.Engine.PublishInterval)
	}
	if _, err := c.RecoveryConfig(); err != nil {
		return err
	}
	if _, err := c.Table(); err != nil {
		return err
	}
	if _, err := c.InstantCritical(); err != nil {
		return fmt.Errorf("engine.instant_critical: %w", err)
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.ID == "" {
			return fmt.Errorf("devices[%d]: %w", i, domain.ErrInvalidDevice)
		}
		if seen[d.ID] {
			return fmt.Errorf("devices[%d] %s: %w", i, d.ID, domain.ErrDeviceExists)
		}
		seen[d.ID] = true
		if _, err := ParseCategories(d.Fault.Categories); err != nil {
			return fmt.Errorf("devices[%d].fault: %w", i, err)
		}
	}
	return nil
}
