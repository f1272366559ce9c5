// Package config loads syncpool process configuration.
//
// A Config names the pools a process builds and carries the logging, metrics and tracing
// settings. Files are YAML or TOML, chosen by extension. ${VAR} references are replaced
// with environment values before parsing, and SYNCPOOL_* variables override individual
// keys (SYNCPOOL_LOGGING_LEVEL overrides logging.level).
package config

import (
	"time"

	"github.com/fishy/errbatch"

	"github.com/ajitpratap0/syncpool/pkg/errors"
	"github.com/ajitpratap0/syncpool/pkg/logger"
	"github.com/ajitpratap0/syncpool/pkg/observability"
	"github.com/ajitpratap0/syncpool/pkg/pool"
)

// Config is the root configuration
type Config struct {
	Logging logger.Config        `yaml:"logging" json:"logging" mapstructure:"logging" toml:"logging"`
	Metrics MetricsConfig        `yaml:"metrics" json:"metrics" mapstructure:"metrics" toml:"metrics"`
	Tracing observability.Config `yaml:"tracing" json:"tracing" mapstructure:"tracing" toml:"tracing"`
	Pools   []PoolConfig         `yaml:"pools" json:"pools" mapstructure:"pools" toml:"pools"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" json:"addr" mapstructure:"addr" toml:"addr"`
	Path    string `yaml:"path" json:"path" mapstructure:"path" toml:"path"`
}

// PoolConfig sizes one named pool
type PoolConfig struct {
	Name string `yaml:"name" json:"name" mapstructure:"name" toml:"name"`
	// Limit of zero means unbounded
	Limit      int `yaml:"limit" json:"limit" mapstructure:"limit" toml:"limit"`
	AllocBlock int `yaml:"alloc_block" json:"alloc_block" mapstructure:"alloc_block" toml:"alloc_block"`
	// AcquireTimeout is the default wait used by callers that do not pass their own
	AcquireTimeout time.Duration `yaml:"acquire_timeout" json:"acquire_timeout" mapstructure:"acquire_timeout" toml:"acquire_timeout"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Logging: logger.DefaultConfig(),
		Metrics: MetricsConfig{
			Addr: ":9090",
			Path: "/metrics",
		},
		Tracing: observability.DefaultConfig(),
	}
}

// ToPool converts to the pool package's sizing, applying the default block size
func (p PoolConfig) ToPool() pool.Config {
	cfg := pool.Config{Name: p.Name, Limit: p.Limit, AllocBlock: p.AllocBlock}
	if cfg.AllocBlock == 0 {
		cfg.AllocBlock = pool.DefaultAllocBlock
	}
	if cfg.Limit == 0 {
		cfg.Limit = pool.Unbounded
	}
	return cfg
}

// Pool returns the pool configuration named name
func (c *Config) Pool(name string) (PoolConfig, bool) {
	for _, p := range c.Pools {
		if p.Name == name {
			return p, true
		}
	}
	return PoolConfig{}, false
}

// Validate applies the pool sizing rules to every configured pool. All errors are
// reported together; warnings are prefixed with the pool name.
func (c *Config) Validate() ([]string, error) {
	batch := errbatch.NewErrBatch()
	var warnings []string
	seen := make(map[string]bool, len(c.Pools))

	for i, p := range c.Pools {
		if p.Name == "" {
			batch.Add(errors.Newf(errors.ErrorTypeConfig, "pool %d has no name", i))
			continue
		}
		if seen[p.Name] {
			batch.Add(errors.New(errors.ErrorTypeConfig, "duplicate pool name").WithComponent(p.Name))
			continue
		}
		seen[p.Name] = true

		if p.AcquireTimeout < 0 {
			batch.Add(errors.New(errors.ErrorTypeConfig, "acquire timeout is negative").WithComponent(p.Name))
		}
		w, err := p.ToPool().Validate()
		if err != nil {
			batch.Add(err)
			continue
		}
		for _, msg := range w {
			warnings = append(warnings, p.Name+": "+msg)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		batch.Add(errors.New(errors.ErrorTypeConfig, "metrics enabled without an address"))
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		batch.Add(errors.Newf(errors.ErrorTypeConfig, "tracing sampling rate %v outside [0, 1]", c.Tracing.SamplingRate))
	}
	return warnings, batch.Compile()
}
