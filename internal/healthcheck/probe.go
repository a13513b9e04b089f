package healthcheck

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// ProbeKind selects how a target is checked
type ProbeKind string

const (
	ProbeHTTP ProbeKind = "http"
	ProbeWS   ProbeKind = "ws"
	ProbeTCP  ProbeKind = "tcp"
)

// Target is one endpoint under watch
type Target struct {
	Name string // instance name, unique within a checker
	Addr string // host:port
	Path string // request path for http and ws probes
	Kind ProbeKind
}

// Prober dials targets, one probe per call
type Prober struct {
	timeout time.Duration
	client  *http.Client
	dialer  *websocket.Dialer
}

func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Prober{
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
	}
}

// Probe dials the target once. A nil error means healthy.
func (p *Prober) Probe(ctx context.Context, target Target) error {
	switch target.Kind {
	case ProbeWS:
		return p.probeWS(ctx, target)
	case ProbeTCP:
		return p.probeTCP(target)
	default:
		return p.probeHTTP(ctx, target)
	}
}

func (p *Prober) probeHTTP(ctx context.Context, target Target) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", target.Addr, target.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Consider 2xx and 3xx as healthy
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}

	return fmt.Errorf("unhealthy status %d from %s", resp.StatusCode, url)
}

func (p *Prober) probeWS(ctx context.Context, target Target) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	url := fmt.Sprintf("ws://%s%s", target.Addr, target.Path)
	conn, resp, err := p.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	return conn.Close()
}

func (p *Prober) probeTCP(target Target) error {
	conn, err := net.DialTimeout("tcp", target.Addr, p.timeout)
	if err != nil {
		return err
	}

	return conn.Close()
}
