package server

import (
	"log"
	"sync"
	"time"
)

// Registry maps subdomain to Tenant. Map mutation is serialized under a
// single exclusive lock; it is never held across a tenant's own listen()
// or take() I/O (spec.md §5) — Put releases the registry lock before
// calling Listen.
type Registry struct {
	defaultMaxSockets int

	mu      sync.Mutex
	tenants map[string]*Tenant
}

// NewRegistry constructs a Registry; every tenant it creates gets
// defaultMaxSockets idle-socket capacity.
func NewRegistry(defaultMaxSockets int) *Registry {
	return &Registry{
		defaultMaxSockets: defaultMaxSockets,
		tenants:           make(map[string]*Tenant),
	}
}

// Put creates a new Tenant for subdomain and starts its listener, returning
// the bound ingress port.
//
// Put always creates a fresh Tenant, even if subdomain already has a
// binding — this overwrites, rather than reuses, any previous tenant,
// closing (asynchronously) its listener and its idle sockets. This is a
// deliberate, pinned policy choice (spec.md §9's first Open Question):
// the alternative of short-circuiting on "already present" was considered
// and rejected, since a client that crashed and reconnected with the same
// requested subdomain should get a clean tenant, not resume into a pool of
// sockets from its previous, possibly-stale process.
func (r *Registry) Put(subdomain string) (uint16, error) {
	tenant := NewTenant(r.defaultMaxSockets)

	r.mu.Lock()
	old := r.tenants[subdomain]
	r.tenants[subdomain] = tenant
	r.mu.Unlock()

	if old != nil {
		go old.Close()
	}

	port, err := tenant.Listen()
	if err != nil {
		r.mu.Lock()
		if r.tenants[subdomain] == tenant {
			delete(r.tenants, subdomain)
		}
		r.mu.Unlock()
		return 0, err
	}
	return port, nil
}

// Get looks up the tenant bound to subdomain, or nil if none exists.
func (r *Registry) Get(subdomain string) *Tenant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tenants[subdomain]
}

// Subdomains returns the currently registered subdomains, for the
// registration API's status endpoint.
func (r *Registry) Subdomains() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.tenants))
	for s := range r.tenants {
		out = append(out, s)
	}
	return out
}

// Cleanup scans all tenants and removes (and closes) those whose
// ShouldCleanup reports true.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	var stale []string
	for subdomain, tenant := range r.tenants {
		if tenant.ShouldCleanup() {
			stale = append(stale, subdomain)
		}
	}
	closing := make([]*Tenant, 0, len(stale))
	for _, subdomain := range stale {
		closing = append(closing, r.tenants[subdomain])
		delete(r.tenants, subdomain)
	}
	r.mu.Unlock()

	for i, tenant := range closing {
		log.Printf("registry: evicting idle tenant %q", stale[i])
		tenant.Close()
	}
}

// RunCleanupSweep runs Cleanup every interval until stop is closed. It is
// intended to run as a single background goroutine for the lifetime of the
// server process.
func (r *Registry) RunCleanupSweep(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.Cleanup()
		}
	}
}
