package devstack

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/smartcontractkit/freeport"
	"go.uber.org/zap"

	"github.com/averix/toolgate/internal/healthcheck"
)

const stopGrace = 5 * time.Second

// Manager runs a set of local service processes: spawn, health gate,
// restart, tear down. One manager owns one stack.
type Manager struct {
	mu         sync.Mutex
	cfg        *Config
	specs      map[string]ServiceSpec
	instances  map[string]*Instance
	order      []string // instance names in start order
	checker    *healthcheck.Checker
	logger     *zap.Logger
	takenPorts []int
	started    bool
	stopped    bool
}

func NewManager(cfg *Config, logger *zap.Logger) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	specs := make(map[string]ServiceSpec, len(cfg.Services))
	for _, spec := range cfg.Services {
		specs[spec.Name] = spec
	}

	return &Manager{
		cfg:       cfg,
		specs:     specs,
		instances: make(map[string]*Instance),
		logger:    logger,
	}, nil
}

// Start spawns every instance and begins health checking. It does not
// wait for readiness, that is WaitHealthy's job.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.New("devstack already started")
	}
	m.started = true

	var targets []healthcheck.Target
	for _, spec := range m.cfg.Services {
		for i := 0; i < spec.Instances; i++ {
			if err := ctx.Err(); err != nil {
				m.stopLocked()
				return err
			}

			port, err := m.allocatePort(spec, i)
			if err != nil {
				m.stopLocked()
				return err
			}

			name := spec.instanceName(i)
			inst, err := startInstance(spec, name, port, m.logger)
			if err != nil {
				m.stopLocked()
				return err
			}

			m.instances[name] = inst
			m.order = append(m.order, name)
			targets = append(targets, healthcheck.Target{
				Name: name,
				Addr: inst.Addr(),
				Path: spec.HealthPath,
				Kind: spec.Probe,
			})
		}
	}

	m.checker = healthcheck.NewChecker(&healthcheck.Config{
		Targets:     targets,
		Interval:    m.cfg.Health.Interval,
		Timeout:     m.cfg.Health.Timeout,
		MaxFailures: m.cfg.Health.MaxFailures,
		Parallel:    m.cfg.Health.Parallel,
	}, m.logger)
	m.checker.Start()

	m.logger.Info("devstack started",
		zap.Int("services", len(m.cfg.Services)),
		zap.Int("instances", len(m.order)))

	return nil
}

// allocatePort picks the listen port for the i-th replica. Port 0 takes a
// free one, a fixed base port stacks replicas upward from it.
func (m *Manager) allocatePort(spec ServiceSpec, i int) (int, error) {
	if spec.Port == 0 {
		ports, err := freeport.Take(1)
		if err != nil {
			return 0, fmt.Errorf("allocate port for %s: %w", spec.instanceName(i), err)
		}
		m.takenPorts = append(m.takenPorts, ports[0])
		return ports[0], nil
	}
	return spec.Port + i, nil
}

// WaitHealthy blocks until every instance passes its health probe, the
// slowest declared startup timeout elapses, or a process dies.
func (m *Manager) WaitHealthy(ctx context.Context) error {
	m.mu.Lock()
	if !m.started || m.checker == nil {
		m.mu.Unlock()
		return errors.New("devstack not started")
	}
	checker := m.checker
	timeout := m.maxStartupTimeoutLocked()
	m.mu.Unlock()

	delay := 250 * time.Millisecond
	attempts := uint(timeout/delay) + 1

	err := retry.Do(func() error {
		// A dead process will never come healthy, bail out with its output
		if exitErr := m.deadInstanceError(); exitErr != nil {
			return retry.Unrecoverable(exitErr)
		}

		checker.CheckNow(ctx)

		if waiting := m.waitingOn(checker); len(waiting) > 0 {
			return fmt.Errorf("waiting for %s", strings.Join(waiting, ", "))
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			m.logger.Debug("stack not ready yet",
				zap.Uint("attempt", attempt+1),
				zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("devstack failed to become healthy: %w", err)
	}

	m.logger.Info("all services healthy")
	return nil
}

// deadInstanceError reports the first instance whose process has exited,
// including its captured output tail
func (m *Manager) deadInstanceError() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.order {
		inst := m.instances[name]
		if inst.Running() {
			continue
		}

		msg := fmt.Sprintf("instance %s exited early", name)
		if exitErr := inst.ExitErr(); exitErr != nil {
			msg = fmt.Sprintf("%s (%v)", msg, exitErr)
		}
		if tail := inst.LastOutput(); len(tail) > 0 {
			msg = fmt.Sprintf("%s, last output:\n  %s", msg, strings.Join(tail, "\n  "))
		}
		return errors.New(msg)
	}
	return nil
}

func (m *Manager) waitingOn(checker *healthcheck.Checker) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var waiting []string
	for _, name := range m.order {
		if !checker.IsHealthy(name) {
			waiting = append(waiting, name)
		}
	}
	sort.Strings(waiting)
	return waiting
}

func (m *Manager) maxStartupTimeoutLocked() time.Duration {
	longest := 30 * time.Second
	for _, spec := range m.specs {
		if spec.StartupTimeout > longest {
			longest = spec.StartupTimeout
		}
	}
	return longest
}

// Stop tears the stack down in reverse start order. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	if m.stopped {
		return
	}
	m.stopped = true

	if m.checker != nil {
		m.checker.Stop()
	}

	for idx := len(m.order) - 1; idx >= 0; idx-- {
		m.instances[m.order[idx]].Stop(stopGrace)
	}

	if len(m.takenPorts) > 0 {
		freeport.Return(m.takenPorts)
		m.takenPorts = nil
	}

	m.logger.Info("devstack stopped")
}

// Restart replaces one instance's process, keeping its name and port so
// routed addresses stay stable
func (m *Manager) Restart(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started || m.stopped {
		return errors.New("devstack not running")
	}

	inst, exists := m.instances[name]
	if !exists {
		return fmt.Errorf("unknown instance %q", name)
	}
	spec := m.specs[inst.Service]

	inst.Stop(stopGrace)

	fresh, err := startInstance(spec, name, inst.Port, m.logger)
	if err != nil {
		return fmt.Errorf("restart %s: %w", name, err)
	}
	m.instances[name] = fresh

	// Closed breaker means the next round probes it right away
	m.checker.ResetBreaker(name)

	m.logger.Info("instance restarted",
		zap.String("instance", name),
		zap.Int("pid", fresh.PID()))

	return nil
}

// InstanceStatus is one row of the Status snapshot
type InstanceStatus struct {
	Name    string `json:"name"`
	Service string `json:"service"`
	Addr    string `json:"addr"`
	PID     int    `json:"pid"`
	Running bool   `json:"running"`
	Healthy bool   `json:"healthy"`
}

// Status returns a snapshot of every instance in start order
func (m *Manager) Status() []InstanceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]InstanceStatus, 0, len(m.order))
	for _, name := range m.order {
		inst := m.instances[name]
		healthy := false
		if m.checker != nil {
			healthy = m.checker.IsHealthy(name)
		}
		out = append(out, InstanceStatus{
			Name:    name,
			Service: inst.Service,
			Addr:    inst.Addr(),
			PID:     inst.PID(),
			Running: inst.Running(),
			Healthy: healthy,
		})
	}
	return out
}

// Addresses returns every instance address grouped by service
func (m *Manager) Addresses() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]string)
	for _, name := range m.order {
		inst := m.instances[name]
		out[inst.Service] = append(out[inst.Service], inst.Addr())
	}
	return out
}

// instanceNames returns the replica names of a service in start order
func (m *Manager) instanceNames(service string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for _, name := range m.order {
		if m.instances[name].Service == service {
			names = append(names, name)
		}
	}
	return names
}

// healthyAddrs returns the addresses of a service's replicas that are
// currently passing health checks, in replica order
func (m *Manager) healthyAddrs(service string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.checker == nil {
		return nil
	}

	var addrs []string
	for _, name := range m.order {
		inst := m.instances[name]
		if inst.Service == service && m.checker.IsHealthy(name) {
			addrs = append(addrs, inst.Addr())
		}
	}
	return addrs
}

// Checker exposes the health checker for status commands and the router
func (m *Manager) Checker() *healthcheck.Checker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checker
}
