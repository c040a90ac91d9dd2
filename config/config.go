// Package config loads the YAML configuration of an adapter: its topology,
// queue tunables, interrupt policy and filter table, plus logging and
// metrics settings for the tools that host it.
package config

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"

	A "github.com/t4nic/t4api"
	"github.com/t4nic/t4api/driver"
)

// Config is the root configuration document.
type Config struct {
	Adapter    AdapterConfig   `yaml:"adapter"`
	Queues     QueueConfig     `yaml:"queues"`
	Interrupts InterruptConfig `yaml:"interrupts"`
	Filters    FilterConfig    `yaml:"filters"`
	Logging    LoggingConfig   `yaml:"logging"`
	Metrics    MetricsConfig   `yaml:"metrics"`
}

// AdapterConfig describes the ports of the adapter.
type AdapterConfig struct {
	Name           string `yaml:"name"`
	HighSpeedPorts int    `yaml:"high_speed_ports"`
	LowSpeedPorts  int    `yaml:"low_speed_ports"`
	SubInterfaces  int    `yaml:"sub_interfaces"`
	CPUs           int    `yaml:"cpus"`
	Offload        bool   `yaml:"offload"`
}

// QueueConfig holds the per-class queue tunables. 0 picks the compiled-in
// default, -N picks N; both are capped at the CPU count.
type QueueConfig struct {
	HighSpeed    driver.QueueCounts `yaml:"high_speed"`
	LowSpeed     driver.QueueCounts `yaml:"low_speed"`
	SubInterface driver.QueueCounts `yaml:"sub_interface"`
}

// InterruptConfig selects the vector kinds the adapter may use.
type InterruptConfig struct {
	Allowed     []string `yaml:"allowed"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// FilterConfig sizes the filter and rewrite tables and picks the filter
// mode.
type FilterConfig struct {
	NumFilters  int      `yaml:"num_filters"`
	L2TSize     int      `yaml:"l2t_size"`
	Mode        []string `yaml:"mode"`
	VNICIngress bool     `yaml:"vnic_ingress"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// MetricsConfig configures the prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Listen    string `yaml:"listen"`
}

// Default returns the configuration of a two port high-speed adapter.
func Default() *Config {
	return &Config{
		Adapter: AdapterConfig{
			Name:           "t4nex0",
			HighSpeedPorts: 2,
			SubInterfaces:  1,
		},
		Interrupts: InterruptConfig{
			Allowed:     []string{"exclusive", "shared", "legacy"},
			MaxAttempts: 8,
		},
		Filters: FilterConfig{
			NumFilters: 496,
			L2TSize:    driver.DefaultL2TSize,
			Mode:       []string{"ip_proto", "port", "vlan", "fragment"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Namespace: "t4",
			Listen:    ":9464",
		},
	}
}

// Load reads path on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes data on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks the configuration for values the driver would reject.
func (c *Config) Validate() error {
	if c.Adapter.Name == "" {
		return fmt.Errorf("adapter.name must be set")
	}
	if err := c.Topology().Validate(); err != nil {
		return fmt.Errorf("adapter: %w", err)
	}
	if c.Adapter.SubInterfaces < 0 {
		return fmt.Errorf("adapter.sub_interfaces must not be negative")
	}
	if c.Adapter.CPUs < 0 {
		return fmt.Errorf("adapter.cpus must not be negative")
	}
	if _, err := c.AllowedKinds(); err != nil {
		return err
	}
	if c.Interrupts.MaxAttempts < 0 {
		return fmt.Errorf("interrupts.max_attempts must not be negative")
	}
	if c.Filters.NumFilters < 0 {
		return fmt.Errorf("filters.num_filters must not be negative")
	}
	if c.Filters.L2TSize < 0 || c.Filters.L2TSize > 1<<16 {
		return fmt.Errorf("filters.l2t_size must be in [0, 65536]")
	}
	mode, err := c.FilterMode()
	if err != nil {
		return err
	}
	if w := mode.TupleWidth(); w > driver.MaxTupleWidth {
		return fmt.Errorf("filters.mode %s needs %d bits, at most %d are available", mode.Optional(), w, driver.MaxTupleWidth)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// Topology returns the planner input described by the configuration.
func (c *Config) Topology() driver.Topology {
	return driver.Topology{
		HighSpeedPorts: c.Adapter.HighSpeedPorts,
		LowSpeedPorts:  c.Adapter.LowSpeedPorts,
		SubInterfaces:  c.Adapter.SubInterfaces,
		CPUs:           c.Adapter.CPUs,
		Offload:        c.Adapter.Offload,
		HighSpeed:      c.Queues.HighSpeed,
		LowSpeed:       c.Queues.LowSpeed,
		SubInterface:   c.Queues.SubInterface,
	}
}

// AllowedKinds returns the vector kinds to try, most preferred first. An
// empty list allows every kind.
func (c *Config) AllowedKinds() ([]A.VectorKind, error) {
	if len(c.Interrupts.Allowed) == 0 {
		return A.PreferenceOrder, nil
	}
	allowed := make(map[A.VectorKind]bool)
	for _, s := range c.Interrupts.Allowed {
		k, err := A.ParseVectorKind(s)
		if err != nil {
			return nil, fmt.Errorf("interrupts.allowed: %w", err)
		}
		allowed[k] = true
	}
	var kinds []A.VectorKind
	for _, k := range A.PreferenceOrder {
		if allowed[k] {
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

// FilterMode returns the configured filter mode.
func (c *Config) FilterMode() (driver.FilterMode, error) {
	mode, err := driver.ParseFilterMode(c.Filters.Mode)
	if err != nil {
		return 0, fmt.Errorf("filters.mode: %w", err)
	}
	if c.Filters.VNICIngress {
		mode |= driver.ModeVNICIngress | driver.ModeVNIC
	}
	return mode, nil
}

// AttachConfig returns the driver attach parameters.
func (c *Config) AttachConfig() (driver.AttachConfig, error) {
	kinds, err := c.AllowedKinds()
	if err != nil {
		return driver.AttachConfig{}, err
	}
	mode, err := c.FilterMode()
	if err != nil {
		return driver.AttachConfig{}, err
	}
	return driver.AttachConfig{
		Name:        c.Adapter.Name,
		Topology:    c.Topology(),
		Kinds:       kinds,
		MaxAttempts: c.Interrupts.MaxAttempts,
		NumFilters:  c.Filters.NumFilters,
		L2TSize:     c.Filters.L2TSize,
		FilterMode:  mode,
	}, nil
}

// LogLevel parses logging.level.
func (c *Config) LogLevel() (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(c.Logging.Level))); err != nil {
		return lvl, fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}
	return lvl, nil
}

// NewLogger builds the zap logger described by the logging section.
func (c *Config) NewLogger() (*zap.Logger, error) {
	lvl, err := c.LogLevel()
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Logging.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
