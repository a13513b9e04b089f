package devstack

import (
	"errors"
	"fmt"
	"time"

	"github.com/averix/toolgate/internal/healthcheck"
)

// ServiceSpec describes one service the manager runs locally
type ServiceSpec struct {
	Name           string                `mapstructure:"name"`
	Command        string                `mapstructure:"command"`
	Args           []string              `mapstructure:"args"`
	Dir            string                `mapstructure:"dir"`
	Env            []string              `mapstructure:"env"`             // KEY=VALUE pairs on top of the parent env
	Port           int                   `mapstructure:"port"`            // 0 allocates a free port per instance
	Instances      int                   `mapstructure:"instances"`       // replica count (default: 1)
	HealthPath     string                `mapstructure:"health_path"`     // probe path for http and ws
	Probe          healthcheck.ProbeKind `mapstructure:"probe"`           // http, ws, tcp (default: http)
	StartupTimeout time.Duration         `mapstructure:"startup_timeout"` // how long WaitHealthy gives this service
	RoutePrefix    string                `mapstructure:"route_prefix"`    // dev router mount point, empty keeps the service unrouted
}

func (s ServiceSpec) withDefaults() ServiceSpec {
	if s.Instances <= 0 {
		s.Instances = 1
	}
	if s.Probe == "" {
		s.Probe = healthcheck.ProbeHTTP
	}
	if s.HealthPath == "" && s.Probe != healthcheck.ProbeTCP {
		s.HealthPath = "/health"
	}
	if s.StartupTimeout <= 0 {
		s.StartupTimeout = 30 * time.Second
	}
	return s
}

func (s ServiceSpec) validate() error {
	if s.Name == "" {
		return errors.New("service name is required")
	}
	if s.Command == "" {
		return fmt.Errorf("service %s: command is required", s.Name)
	}
	switch s.Probe {
	case "", healthcheck.ProbeHTTP, healthcheck.ProbeWS, healthcheck.ProbeTCP:
	default:
		return fmt.Errorf("service %s: unknown probe kind %q", s.Name, s.Probe)
	}
	return nil
}

// instanceName returns the unique name of the i-th replica
func (s ServiceSpec) instanceName(i int) string {
	return fmt.Sprintf("%s-%d", s.Name, i)
}
