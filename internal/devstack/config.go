package devstack

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/averix/toolgate/internal/healthcheck"
)

// Config describes a full local stack: which services to run, how to
// health check them and whether to put the dev router in front
type Config struct {
	Services []ServiceSpec `mapstructure:"services"`
	Router   RouterConfig  `mapstructure:"router"`
	Health   HealthConfig  `mapstructure:"health"`
}

type RouterConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Port     int    `mapstructure:"port"`     // 0 allocates a free port
	Strategy string `mapstructure:"strategy"` // round_robin, random, least_connections
}

type HealthConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxFailures int           `mapstructure:"max_failures"`
	Parallel    bool          `mapstructure:"parallel"`
}

// LoadConfig reads a devstack TOML file
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading devstack config: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing devstack config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Services) == 0 {
		return fmt.Errorf("devstack config declares no services")
	}

	seen := make(map[string]bool)
	for _, spec := range c.Services {
		if err := spec.validate(); err != nil {
			return err
		}
		if seen[spec.Name] {
			return fmt.Errorf("duplicate service name %q", spec.Name)
		}
		seen[spec.Name] = true
	}

	return nil
}

// StaticTargets returns probe targets for every replica with a declared
// port. Services on dynamic ports can only be probed by the manager that
// spawned them.
func (c *Config) StaticTargets() []healthcheck.Target {
	var targets []healthcheck.Target
	for _, spec := range c.Services {
		s := spec.withDefaults()
		if s.Port == 0 {
			continue
		}
		for i := 0; i < s.Instances; i++ {
			targets = append(targets, healthcheck.Target{
				Name: s.instanceName(i),
				Addr: fmt.Sprintf("127.0.0.1:%d", s.Port+i),
				Path: s.HealthPath,
				Kind: s.Probe,
			})
		}
	}
	return targets
}

func (c *Config) applyDefaults() {
	for i, spec := range c.Services {
		c.Services[i] = spec.withDefaults()
	}
	if c.Health.Interval <= 0 {
		c.Health.Interval = 2 * time.Second
	}
	if c.Health.Timeout <= 0 {
		c.Health.Timeout = 2 * time.Second
	}
	if c.Health.MaxFailures <= 0 {
		c.Health.MaxFailures = 3
	}
	if c.Router.Strategy == "" {
		c.Router.Strategy = "round_robin"
	}
}
