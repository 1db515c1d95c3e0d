// Package server implements the server-side tenant state, the tenant
// registry, and the reverse proxy handler described in spec.md §4.1–§4.3.
package server

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"github.com/revtun/revtun/internal/keepalive"
)

// CleanupTimeout is the idle duration (empty pool, no recent take()) after
// which a Tenant becomes eligible for eviction by the registry's sweep.
const CleanupTimeout = time.Hour

// acceptTimeout is how long the acceptor blocks per Accept call before it
// runs a pool liveness sweep; it doubles as the sweep's own timer, per
// spec.md §4.1's rationale.
const acceptTimeout = 20 * time.Second

// Tenant owns one subdomain's ephemeral tunnel-ingress listener and its
// pool of idle, client-originated sockets.
//
// Tenant's own mutex protects only the pool slice and last-take timestamp;
// it is never held across socket I/O except the brief readiness probe in
// take() and the acceptor's GC pass (spec.md §5).
type Tenant struct {
	maxSockets int

	mu           sync.Mutex
	idleSockets  []net.Conn
	lastTakeTime time.Time

	ln     net.Listener
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTenant constructs a Tenant bounded to maxSockets idle connections.
func NewTenant(maxSockets int) *Tenant {
	return &Tenant{
		maxSockets:   maxSockets,
		lastTakeTime: time.Now(),
	}
}

// Listen binds a fresh ephemeral TCP port on all interfaces and starts the
// background acceptor. It returns the bound port, or an error if the bind
// fails; bind failure is fatal to tenant creation (spec.md §4.1).
func (t *Tenant) Listen() (uint16, error) {
	ln, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		return 0, err
	}
	t.ln = ln

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.accept(ctx, ln)

	return uint16(ln.Addr().(*net.TCPAddr).Port), nil
}

// accept runs the acceptor loop: accept with a bounded deadline, configure
// and pool each accepted socket, and run a liveness sweep of the pool every
// time the accept call times out.
func (t *Tenant) accept(ctx context.Context, ln net.Listener) {
	defer close(t.done)
	defer ln.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if tcpLn, ok := ln.(*net.TCPListener); ok {
			tcpLn.SetDeadline(time.Now().Add(acceptTimeout))
		}

		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				t.sweep()
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Printf("tenant: accept error: %v", err)
			continue
		}

		t.admit(conn)
	}
}

// admit applies keepalive and the max_sockets bound to a freshly accepted
// socket, pushing it onto the pool or discarding it if the pool is full.
func (t *Tenant) admit(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.idleSockets) >= t.maxSockets {
		conn.Close()
		return
	}
	if err := keepalive.Configure(conn); err != nil {
		log.Printf("tenant: keepalive configure failed: %v", err)
	}
	t.idleSockets = append(t.idleSockets, conn)
}

// sweep pops every pooled socket, discards those that fail the readiness
// probe, and pushes the survivors back. It runs once per accept timeout,
// so it doubles as the pool's only liveness check outside of take().
func (t *Tenant) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	survivors := t.idleSockets[:0]
	for _, conn := range t.idleSockets {
		if alive(conn) {
			survivors = append(survivors, conn)
		} else {
			conn.Close()
		}
	}
	t.idleSockets = survivors
}

// Take pops the most-recently-added live socket from the pool (LIFO), so
// the hottest proven-alive socket is handed out first. Earlier-popped dead
// sockets are discarded along the way. It returns nil if the pool is empty
// or every pooled socket fails the readiness probe.
func (t *Tenant) Take() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()

	for len(t.idleSockets) > 0 {
		n := len(t.idleSockets) - 1
		conn := t.idleSockets[n]
		t.idleSockets = t.idleSockets[:n]

		if alive(conn) {
			t.lastTakeTime = time.Now()
			return conn
		}
		conn.Close()
	}
	return nil
}

// ShouldCleanup reports whether the tenant's pool is empty and no take()
// has occurred within CleanupTimeout — the registry's eviction test.
func (t *Tenant) ShouldCleanup() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.idleSockets) == 0 && time.Since(t.lastTakeTime) > CleanupTimeout
}

// Close cancels the acceptor and closes the listener and every pooled
// socket, releasing all resources owned by the tenant.
func (t *Tenant) Close() {
	if t.cancel != nil {
		t.cancel()
	}
	if t.ln != nil {
		t.ln.Close()
	}
	if t.done != nil {
		<-t.done
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, conn := range t.idleSockets {
		conn.Close()
	}
	t.idleSockets = nil
}

// PoolLen reports the current idle-socket count, for tests and metrics.
func (t *Tenant) PoolLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.idleSockets)
}
