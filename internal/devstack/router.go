package devstack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/averix/toolgate/internal/circuitbreaker"
	"github.com/averix/toolgate/internal/loadbalancer"
)

// Router is the optional single-origin proxy in front of the stack.
// Each routed service gets its own balancer and circuit breaker,
// unhealthy replicas are skipped via the manager's checker.
type Router struct {
	manager *Manager
	engine  *gin.Engine
	logger  *zap.Logger

	mu        sync.Mutex
	proxies   map[string]*httputil.ReverseProxy         // by backend addr
	balancers map[string]loadbalancer.Strategy          // by service
	breakers  map[string]*circuitbreaker.CircuitBreaker // by service

	httpServer *http.Server
}

func NewRouter(manager *Manager, cfg RouterConfig, logger *zap.Logger) (*Router, error) {
	rt := &Router{
		manager:   manager,
		engine:    gin.New(),
		logger:    logger,
		proxies:   make(map[string]*httputil.ReverseProxy),
		balancers: make(map[string]loadbalancer.Strategy),
		breakers:  make(map[string]*circuitbreaker.CircuitBreaker),
	}

	routed := 0
	for _, spec := range manager.cfg.Services {
		if spec.RoutePrefix == "" {
			continue
		}

		balancer, err := loadbalancer.NewStrategy(cfg.Strategy)
		if err != nil {
			return nil, err
		}
		rt.balancers[spec.Name] = balancer
		rt.breakers[spec.Name] = circuitbreaker.New(circuitbreaker.Config{
			MaxFailures:     5,
			Timeout:         30 * time.Second,
			HalfOpenSuccess: 1,
		})

		prefix := strings.TrimSuffix(spec.RoutePrefix, "/")
		rt.engine.Any(prefix+"/*path", rt.proxyHandler(spec.Name))
		routed++
	}

	if routed == 0 {
		return nil, errors.New("router enabled but no service declares a route_prefix")
	}

	rt.engine.GET("/__devstack/status", rt.statusHandler)
	rt.engine.POST("/__devstack/breakers/:service/reset", rt.resetHandler)

	rt.logger.Info("dev router configured",
		zap.Int("services", routed),
		zap.String("strategy", cfg.Strategy))

	return rt, nil
}

// proxyHandler forwards a request to one healthy replica of the service
func (rt *Router) proxyHandler(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		targets := rt.manager.healthyAddrs(service)
		if len(targets) == 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "No healthy backend servers available",
			})
			return
		}

		balancer := rt.balancers[service]
		backend := balancer.Next(targets)
		if backend == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Failed to select backend server",
			})
			return
		}

		// Track connections for least-connections strategy
		if lc, ok := balancer.(*loadbalancer.LeastConnections); ok {
			lc.Increment(backend)
			defer lc.Decrement(backend)
		}

		proxy := rt.proxyFor(backend)

		err := rt.breakers[service].Call(func() error {
			// Capture the status so backend 5xx feeds the breaker
			recorder := &responseRecorder{
				ResponseWriter: c.Writer,
				statusCode:     http.StatusOK,
			}

			// Add backend target header for debugging
			c.Header("X-Backend-Server", backend)

			proxy.ServeHTTP(recorder, c.Request)

			if recorder.statusCode >= 500 {
				return fmt.Errorf("backend %s returned %d", backend, recorder.statusCode)
			}
			return nil
		})

		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			rt.logger.Warn("circuit breaker open",
				zap.String("service", service))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Service temporarily unavailable",
			})
			return
		}
		// Other errors already went to the client through the proxy
	}
}

// proxyFor returns the reverse proxy for a backend, building it on first use
func (rt *Router) proxyFor(addr string) *httputil.ReverseProxy {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if proxy, exists := rt.proxies[addr]; exists {
		return proxy
	}

	proxy := httputil.NewSingleHostReverseProxy(&url.URL{Scheme: "http", Host: addr})
	proxy.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
		rt.logger.Warn("proxy error",
			zap.String("backend", addr),
			zap.String("path", req.URL.Path),
			zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
	}

	rt.proxies[addr] = proxy
	return proxy
}

func (rt *Router) statusHandler(c *gin.Context) {
	checker := rt.manager.Checker()

	breakers := make(map[string]gin.H, len(rt.breakers))
	for service, breaker := range rt.breakers {
		m := breaker.Metrics()
		breakers[service] = gin.H{
			"state":    m.State.String(),
			"failures": m.FailureCount,
		}
	}

	resp := gin.H{
		"instances": rt.manager.Status(),
		"breakers":  breakers,
	}
	if checker != nil {
		resp["overall"] = checker.Overall().String()
		resp["targets"] = checker.Statuses()
	}

	c.JSON(http.StatusOK, resp)
}

// resetHandler closes a service's breakers, router and checker both
func (rt *Router) resetHandler(c *gin.Context) {
	service := c.Param("service")

	breaker, exists := rt.breakers[service]
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown service"})
		return
	}
	breaker.Reset()

	if checker := rt.manager.Checker(); checker != nil {
		for _, name := range rt.manager.instanceNames(service) {
			checker.ResetBreaker(name)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset",
		"service": service,
	})
}

// Engine exposes the gin engine for tests
func (rt *Router) Engine() *gin.Engine {
	return rt.engine
}

// Run serves the router until Shutdown
func (rt *Router) Run(port int) error {
	rt.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      rt.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	rt.logger.Info("dev router listening", zap.Int("port", port))

	if err := rt.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (rt *Router) Shutdown(ctx context.Context) error {
	if rt.httpServer == nil {
		return nil
	}
	return rt.httpServer.Shutdown(ctx)
}

// Captures the response status code
type responseRecorder struct {
	gin.ResponseWriter
	statusCode int
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	return r.ResponseWriter.Write(data)
}
