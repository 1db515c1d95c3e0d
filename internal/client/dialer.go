// Package client implements the tunnel client described in spec.md §4.5: it
// registers a subdomain with a revtun server, then maintains a bounded pool
// of concurrent tunnel workers, each dialing the assigned ingress port and
// splicing it to a local service. Worker relay logic is grounded in the
// teacher's Handler.Relay (internal/tunnel/handler.go); the bounded-worker
// supervisor borrows golang.org/x/sync/semaphore, which gravitational-teleport
// already carries as an indirect dependency for exactly this shape of
// bounded concurrent work.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	neturl "net/url"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/revtun/revtun/internal/keepalive"
	"github.com/revtun/revtun/internal/wire"
)

// redialBackoff is how long a worker sleeps after a failed dial to the
// tunnel ingress port, before releasing its semaphore permit and retrying.
const redialBackoff = 10 * time.Second

// registerTimeout bounds the registration HTTP round-trip.
const registerTimeout = 10 * time.Second

// Config holds everything a Dialer needs to register and run tunnel
// workers for one local service.
type Config struct {
	Host       string // revtun server's registration API host:port
	Secure     bool   // use https for the registration API call
	Subdomain  string // requested subdomain; empty lets the server assign one
	LocalHost  string // local service to forward traffic to
	LocalPort  int
	MaxConn    int // caller's own ceiling on concurrent tunnel workers
	Credential string
}

// Dialer registers a subdomain and supervises the pool of tunnel workers
// that keep it served.
type Dialer struct {
	cfg Config
}

// New constructs a Dialer for cfg.
func New(cfg Config) *Dialer {
	return &Dialer{cfg: cfg}
}

// Open registers the tunnel and then blocks, running tunnel workers, until
// ctx is cancelled. The public URL the tunnel was registered under is
// logged as soon as registration succeeds, but Open itself returns it only
// after ctx is cancelled and the workers have stopped; it does not hand the
// URL back to the caller while the tunnel is running.
func (d *Dialer) Open(ctx context.Context) (string, error) {
	reg, err := d.register(ctx)
	if err != nil {
		return "", fmt.Errorf("client: registration failed: %w", err)
	}
	log.Printf("client: registered %s, ingress port %d, max_conn %d", reg.URL, reg.Port, reg.MaxConnCount)

	maxConn := int(reg.MaxConnCount)
	if d.cfg.MaxConn > 0 && d.cfg.MaxConn < maxConn {
		maxConn = d.cfg.MaxConn
	}
	if maxConn <= 0 {
		maxConn = 1
	}

	d.run(ctx, reg.Port, maxConn)
	return reg.URL, nil
}

// register calls the server's registration API for the configured
// subdomain and decodes the resulting RegistrationResponse.
func (d *Dialer) register(ctx context.Context) (*wire.RegistrationResponse, error) {
	scheme := "http"
	if d.cfg.Secure {
		scheme = "https"
	}

	// An empty subdomain means the caller has no preference: request
	// GET /?new and accept whatever subdomain the server assigns
	// (spec.md §4.5).
	var url string
	if d.cfg.Subdomain == "" {
		url = fmt.Sprintf("%s://%s/?new", scheme, d.cfg.Host)
	} else {
		url = fmt.Sprintf("%s://%s/%s", scheme, d.cfg.Host, d.cfg.Subdomain)
	}
	if d.cfg.Credential != "" {
		sep := "&"
		if d.cfg.Subdomain != "" {
			sep = "?"
		}
		url += sep + "credential=" + neturl.QueryEscape(d.cfg.Credential)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: registerTimeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("client: server returned status %d", resp.StatusCode)
	}

	var reg wire.RegistrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		return nil, fmt.Errorf("client: invalid registration response: %w", err)
	}
	return &reg, nil
}

// run supervises up to maxConn concurrent tunnel workers, each dialing the
// server's ingress port and relaying to the local service, until ctx is
// cancelled.
func (d *Dialer) run(ctx context.Context, ingressPort uint16, maxConn int) {
	sem := semaphore.NewWeighted(int64(maxConn))
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		default:
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			d.serveOne(ctx, ingressPort)
		}()
	}
}

// serveOne dials the server's tunnel ingress port once, then relays bytes
// between it and a freshly dialed connection to the local service. On any
// dial failure it sleeps redialBackoff before returning, so the caller's
// semaphore-gated loop does not spin.
func (d *Dialer) serveOne(ctx context.Context, ingressPort uint16) {
	ingressAddr := net.JoinHostPort(hostOnly(d.cfg.Host), fmt.Sprintf("%d", ingressPort))

	var dialer net.Dialer
	tunnelConn, err := dialer.DialContext(ctx, "tcp", ingressAddr)
	if err != nil {
		log.Printf("client: dial tunnel ingress %s failed: %v", ingressAddr, err)
		sleepOrDone(ctx, redialBackoff)
		return
	}
	defer tunnelConn.Close()

	if err := keepalive.Configure(tunnelConn); err != nil {
		log.Printf("client: keepalive configure failed: %v", err)
	}

	localAddr := net.JoinHostPort(d.cfg.LocalHost, fmt.Sprintf("%d", d.cfg.LocalPort))
	localConn, err := dialer.DialContext(ctx, "tcp", localAddr)
	if err != nil {
		log.Printf("client: dial local service %s failed: %v", localAddr, err)
		sleepOrDone(ctx, redialBackoff)
		return
	}
	defer localConn.Close()

	relay(tunnelConn, localConn)
}

// relay bidirectionally copies bytes between the tunnel socket and the
// local service connection, closing both ends once either direction
// finishes — the same two-goroutine WaitGroup pattern the teacher's own
// Handler.Relay uses.
func relay(tunnelConn, localConn net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		io.Copy(localConn, tunnelConn)
		localConn.Close()
	}()

	go func() {
		defer wg.Done()
		io.Copy(tunnelConn, localConn)
		tunnelConn.Close()
	}()

	wg.Wait()
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func hostOnly(hostPort string) string {
	host, _, err := net.SplitHostPort(hostPort)
	if err != nil {
		return hostPort
	}
	return host
}
