package healthcheck

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/averix/toolgate/internal/testutil"
)

// flipServer is an httptest backend whose health can be toggled mid-test.
type flipServer struct {
	ts   *httptest.Server
	fail atomic.Bool
	hits atomic.Int64
}

func newFlipServer(t *testing.T) *flipServer {
	t.Helper()

	fs := &flipServer{}
	fs.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		if fs.fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(fs.ts.Close)

	return fs
}

func (fs *flipServer) addr() string {
	return fs.ts.Listener.Addr().String()
}

func TestCheckerStartsUnhealthy(t *testing.T) {
	fs := newFlipServer(t)

	checker := NewChecker(&Config{
		Targets: []Target{{Name: "api", Addr: fs.addr(), Path: "/health"}},
	}, zap.NewNop())

	assert.False(t, checker.IsHealthy("api"))
	assert.Empty(t, checker.Healthy())
	assert.Equal(t, Unhealthy, checker.Overall())

	status, ok := checker.GetStatus("api")
	require.True(t, ok)
	assert.False(t, status.Healthy)
	assert.Equal(t, "closed", status.BreakerState)

	_, ok = checker.GetStatus("ghost")
	assert.False(t, ok)
}

func TestCheckerFlipsHealthyOnSuccess(t *testing.T) {
	fs := newFlipServer(t)

	checker := NewChecker(&Config{
		Targets: []Target{{Name: "api", Addr: fs.addr(), Path: "/health"}},
	}, zap.NewNop())

	checker.CheckNow(context.Background())

	assert.True(t, checker.IsHealthy("api"))
	assert.Equal(t, []string{"api"}, checker.Healthy())
	assert.Equal(t, Healthy, checker.Overall())

	status, ok := checker.GetStatus("api")
	require.True(t, ok)
	assert.True(t, status.Healthy)
	assert.False(t, status.LastSuccess.IsZero())
	assert.Zero(t, status.FailureCount)
	assert.Empty(t, status.LastError)
}

func TestCheckerMarksUnhealthyAfterMaxFailures(t *testing.T) {
	fs := newFlipServer(t)

	checker := NewChecker(&Config{
		Targets:     []Target{{Name: "api", Addr: fs.addr(), Path: "/health"}},
		MaxFailures: 2,
		Cooldown:    time.Minute,
	}, zap.NewNop())

	checker.CheckNow(context.Background())
	require.True(t, checker.IsHealthy("api"))

	fs.fail.Store(true)

	// One failure is tolerated
	checker.CheckNow(context.Background())
	assert.True(t, checker.IsHealthy("api"))
	status, _ := checker.GetStatus("api")
	assert.Equal(t, 1, status.FailureCount)

	// Second consecutive failure flips the target and opens its breaker
	checker.CheckNow(context.Background())
	assert.False(t, checker.IsHealthy("api"))
	status, _ = checker.GetStatus("api")
	assert.Equal(t, 2, status.FailureCount)
	assert.Contains(t, status.LastError, "unhealthy status")
	assert.Equal(t, "open", status.BreakerState)
	assert.Equal(t, Unhealthy, checker.Overall())

	// Open breaker skips the probe entirely, no request reaches the backend
	before := fs.hits.Load()
	checker.CheckNow(context.Background())
	assert.Equal(t, before, fs.hits.Load())
	status, _ = checker.GetStatus("api")
	assert.Equal(t, 2, status.FailureCount)
}

func TestCheckerBreakerRecovery(t *testing.T) {
	fs := newFlipServer(t)
	fs.fail.Store(true)

	checker := NewChecker(&Config{
		Targets:     []Target{{Name: "api", Addr: fs.addr(), Path: "/health"}},
		MaxFailures: 1,
		Cooldown:    200 * time.Millisecond,
	}, zap.NewNop())

	checker.CheckNow(context.Background())
	status, _ := checker.GetStatus("api")
	assert.Equal(t, "open", status.BreakerState)

	// Still inside the cooldown, probe is skipped
	before := fs.hits.Load()
	checker.CheckNow(context.Background())
	assert.Equal(t, before, fs.hits.Load())

	// Backend recovers, cooldown elapses, half-open probe succeeds
	fs.fail.Store(false)
	time.Sleep(250 * time.Millisecond)

	checker.CheckNow(context.Background())
	assert.True(t, checker.IsHealthy("api"))
	status, _ = checker.GetStatus("api")
	assert.Equal(t, "closed", status.BreakerState)
	assert.Zero(t, status.FailureCount)
}

func TestCheckerResetBreaker(t *testing.T) {
	fs := newFlipServer(t)
	fs.fail.Store(true)

	checker := NewChecker(&Config{
		Targets:     []Target{{Name: "api", Addr: fs.addr(), Path: "/health"}},
		MaxFailures: 1,
		Cooldown:    time.Minute,
	}, zap.NewNop())

	checker.CheckNow(context.Background())
	before := fs.hits.Load()
	checker.CheckNow(context.Background())
	assert.Equal(t, before, fs.hits.Load(), "open breaker should skip the probe")

	fs.fail.Store(false)
	assert.False(t, checker.ResetBreaker("ghost"))
	assert.True(t, checker.ResetBreaker("api"))

	checker.CheckNow(context.Background())
	assert.True(t, checker.IsHealthy("api"))
}

func TestCheckerParallel(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	addr := slow.Listener.Addr().String()
	checker := NewChecker(&Config{
		Targets: []Target{
			{Name: "a", Addr: addr},
			{Name: "b", Addr: addr},
			{Name: "c", Addr: addr},
		},
		Parallel: true,
	}, zap.NewNop())

	start := time.Now()
	checker.CheckNow(context.Background())
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 400*time.Millisecond, "parallel round should not serialize probes")
	assert.Len(t, checker.Healthy(), 3)
	assert.Equal(t, Healthy, checker.Overall())
}

func TestCheckerDegraded(t *testing.T) {
	good := newFlipServer(t)
	bad := newFlipServer(t)
	bad.fail.Store(true)

	checker := NewChecker(&Config{
		Targets: []Target{
			{Name: "good", Addr: good.addr()},
			{Name: "bad", Addr: bad.addr()},
		},
		MaxFailures: 1,
	}, zap.NewNop())

	checker.CheckNow(context.Background())

	assert.True(t, checker.IsHealthy("good"))
	assert.False(t, checker.IsHealthy("bad"))
	assert.Equal(t, Degraded, checker.Overall())
	assert.Equal(t, []string{"good"}, checker.Healthy())
}

func TestCheckerStartStop(t *testing.T) {
	fs := newFlipServer(t)

	checker := NewChecker(&Config{
		Targets:  []Target{{Name: "api", Addr: fs.addr(), Path: "/health"}},
		Interval: 20 * time.Millisecond,
	}, zap.NewNop())

	checker.Start()
	checker.Start() // second start is a no-op

	testutil.RequireEventually(t, func() bool {
		return checker.IsHealthy("api")
	}, 2*time.Second, 10*time.Millisecond, "background loop should mark target healthy")

	checker.Stop()
	checker.Stop() // second stop must not panic

	statuses := checker.Statuses()
	require.Contains(t, statuses, "api")
	assert.True(t, statuses["api"].Healthy)
}

func TestProberHTTP(t *testing.T) {
	prober := NewProber(time.Second)

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ok.Close()

	err := prober.Probe(context.Background(), Target{Name: "ok", Addr: ok.Listener.Addr().String()})
	assert.NoError(t, err)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	err = prober.Probe(context.Background(), Target{Name: "broken", Addr: broken.Listener.Addr().String()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unhealthy status 503")
}

func TestProberWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer ts.Close()

	prober := NewProber(time.Second)
	addr := ts.Listener.Addr().String()

	err := prober.Probe(context.Background(), Target{Name: "ws", Addr: addr, Path: "/ws", Kind: ProbeWS})
	assert.NoError(t, err)

	// Plain HTTP endpoint refuses the upgrade
	err = prober.Probe(context.Background(), Target{Name: "ws", Addr: addr, Path: "/nope", Kind: ProbeWS})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "websocket dial")
}

func TestProberTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	prober := NewProber(time.Second)
	addr := ln.Addr().String()

	err = prober.Probe(context.Background(), Target{Name: "raw", Addr: addr, Kind: ProbeTCP})
	assert.NoError(t, err)

	ln.Close()
	err = prober.Probe(context.Background(), Target{Name: "raw", Addr: addr, Kind: ProbeTCP})
	assert.Error(t, err)
}
