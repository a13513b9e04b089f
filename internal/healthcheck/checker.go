package healthcheck

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/averix/toolgate/internal/circuitbreaker"
)

// Holds health checker configuration
type Config struct {
	Targets     []Target
	Interval    time.Duration // How often to check (default: 10s)
	Timeout     time.Duration // Probe timeout (default: 5s)
	MaxFailures int           // Failures before marking unhealthy (default: 3)
	Cooldown    time.Duration // How long an open breaker skips a target (default: 3x interval)
	Parallel    bool          // Probe targets concurrently
}

// Performs health checks on service targets. Each target gets its own
// circuit breaker so a dead backend stops eating probe timeouts.
type Checker struct {
	mu       sync.RWMutex
	targets  []Target
	status   map[string]*Status
	breakers map[string]*circuitbreaker.CircuitBreaker

	prober      *Prober
	interval    time.Duration
	parallel    bool
	maxFailures int
	logger      *zap.Logger

	stopChan chan struct{}
	running  bool
}

func NewChecker(cfg *Config, logger *zap.Logger) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 3 * cfg.Interval
	}

	checker := &Checker{
		targets:     cfg.Targets,
		status:      make(map[string]*Status),
		breakers:    make(map[string]*circuitbreaker.CircuitBreaker),
		prober:      NewProber(cfg.Timeout),
		interval:    cfg.Interval,
		parallel:    cfg.Parallel,
		maxFailures: cfg.MaxFailures,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}

	for _, target := range cfg.Targets {
		// Targets have to prove themselves before traffic goes near them
		checker.status[target.Name] = &Status{
			Target:       target.Name,
			Addr:         target.Addr,
			Healthy:      false,
			BreakerState: "closed",
		}
		checker.breakers[target.Name] = circuitbreaker.New(circuitbreaker.Config{
			MaxFailures:     cfg.MaxFailures,
			Timeout:         cfg.Cooldown,
			HalfOpenSuccess: 1,
		})
	}

	return checker
}

// Begins periodic health checks
func (c *Checker) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.logger.Info("starting health checks",
		zap.Int("targets", len(c.targets)),
		zap.Duration("interval", c.interval))

	// Run initial check immediately
	c.CheckNow(context.Background())

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.CheckNow(context.Background())
			case <-c.stopChan:
				return
			}
		}
	}()
}

// Stops the health checker
func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		c.running = false
		c.logger.Info("health checker stopped")
	}
}

// Probes every target once and waits for the round to finish
func (c *Checker) CheckNow(ctx context.Context) {
	if !c.parallel {
		for _, target := range c.targets {
			c.checkTarget(ctx, target)
		}
		return
	}

	var wg sync.WaitGroup
	for _, target := range c.targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			c.checkTarget(ctx, t)
		}(target)
	}
	wg.Wait()
}

// Performs a health check on a single target through its breaker
func (c *Checker) checkTarget(ctx context.Context, target Target) {
	breaker := c.breakers[target.Name]

	err := breaker.Call(func() error {
		return c.prober.Probe(ctx, target)
	})

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		c.recordSkip(target)
		return
	}
	if err != nil {
		c.recordFailure(target, err)
		return
	}
	c.recordSuccess(target)
}

// Records a successful health check
func (c *Checker) recordSuccess(target Target) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.status[target.Name]
	now := time.Now()
	status.LastCheck = now
	status.LastSuccess = now
	status.FailureCount = 0
	status.LastError = ""
	status.BreakerState = c.breakers[target.Name].State().String()

	if !status.Healthy {
		status.Healthy = true
		c.logger.Info("target is now healthy",
			zap.String("target", target.Name),
			zap.String("addr", target.Addr))
	}
}

// Records a failed health check
func (c *Checker) recordFailure(target Target, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.status[target.Name]
	now := time.Now()
	status.LastCheck = now
	status.LastFailure = now
	status.FailureCount++
	status.LastError = err.Error()
	status.BreakerState = c.breakers[target.Name].State().String()

	if status.Healthy && status.FailureCount >= c.maxFailures {
		status.Healthy = false
		c.logger.Warn("target is now unhealthy",
			zap.String("target", target.Name),
			zap.String("addr", target.Addr),
			zap.Int("failures", status.FailureCount),
			zap.Error(err))
		return
	}

	c.logger.Debug("probe failed",
		zap.String("target", target.Name),
		zap.Int("failures", status.FailureCount),
		zap.Error(err))
}

// Records a round where the breaker refused to probe. No I/O happened,
// so the failure counter stays put.
func (c *Checker) recordSkip(target Target) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.status[target.Name]
	status.LastCheck = time.Now()
	status.Healthy = false
	status.BreakerState = c.breakers[target.Name].State().String()
}

// Returns a snapshot of every target's state
func (c *Checker) Statuses() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Status, len(c.status))
	for name, status := range c.status {
		out[name] = *status
	}
	return out
}

// Returns the health status of a specific target
func (c *Checker) GetStatus(name string) (Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status, exists := c.status[name]
	if !exists {
		return Status{}, false
	}
	return *status, true
}

// Returns the names of targets currently passing checks
func (c *Checker) Healthy() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	healthy := make([]string, 0)
	for name, status := range c.status {
		if status.Healthy {
			healthy = append(healthy, name)
		}
	}
	return healthy
}

func (c *Checker) IsHealthy(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status, exists := c.status[name]
	return exists && status.Healthy
}

// Returns the overall health status
func (c *Checker) Overall() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.status) == 0 {
		return Healthy
	}

	healthyCount := 0
	for _, status := range c.status {
		if status.Healthy {
			healthyCount++
		}
	}

	if healthyCount == 0 {
		return Unhealthy
	}
	if healthyCount < len(c.status) {
		return Degraded
	}
	return Healthy
}

// Closes a target's breaker so the next round probes it again
func (c *Checker) ResetBreaker(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	breaker, exists := c.breakers[name]
	if !exists {
		return false
	}
	breaker.Reset()
	if status, ok := c.status[name]; ok {
		status.BreakerState = breaker.State().String()
	}
	return true
}
