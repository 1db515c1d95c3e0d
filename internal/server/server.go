package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

// Config holds the settings Server needs to bind its listeners and gate
// registrations, independent of how they were resolved (flags, env,
// config file — see internal/config).
type Config struct {
	Domain        string
	APIPort       int
	ProxyPort     int
	Secure        bool
	MaxSockets    int
	RequireAuth   bool
	CleanupPeriod time.Duration
}

// APIMounter mounts the registration API's routes onto a gin router. It is
// an interface here, rather than importing internal/server/api directly, to
// avoid a server <-> api import cycle: api.Handler already depends on
// *Registry.
type APIMounter interface {
	Mount(r gin.IRouter)
}

// Server wires together the tenant Registry, the reverse-proxy listener,
// the registration API, and the background cleanup sweep into one
// runnable process, mirroring the teacher's own Server/StartServer split
// (internal/tunnel/server.go's Server plus its signal-driven StartServer):
// construction is separated from ListenAndServe so tests can exercise each
// piece independently.
type Server struct {
	cfg      Config
	Registry *Registry
	proxy    *Proxy
	mounter  func(*Registry) APIMounter

	stopCleanup chan struct{}
}

// New constructs a Server. mounter builds the registration API handler
// given the server's Registry; callers normally pass a thin closure around
// api.NewHandler.
func New(cfg Config, mounter func(*Registry) APIMounter) *Server {
	registry := NewRegistry(cfg.MaxSockets)
	return &Server{
		cfg:         cfg,
		Registry:    registry,
		proxy:       NewProxy(registry),
		mounter:     mounter,
		stopCleanup: make(chan struct{}),
	}
}

// ListenAndServe binds the proxy and API listeners, starts the background
// cleanup sweep, and blocks until ctx is cancelled. On return, both
// listeners have been closed.
func (s *Server) ListenAndServe(ctx context.Context) error {
	proxyLn, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.ProxyPort))
	if err != nil {
		return fmt.Errorf("server: failed to bind proxy listener: %w", err)
	}
	defer proxyLn.Close()

	apiLn, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.APIPort))
	if err != nil {
		return fmt.Errorf("server: failed to bind api listener: %w", err)
	}
	defer apiLn.Close()

	cleanupPeriod := s.cfg.CleanupPeriod
	if cleanupPeriod <= 0 {
		cleanupPeriod = time.Hour
	}
	go s.Registry.RunCleanupSweep(cleanupPeriod, s.stopCleanup)
	defer close(s.stopCleanup)

	go func() {
		if err := s.proxy.ServeListener(proxyLn); err != nil {
			log.Printf("server: proxy listener stopped: %v", err)
		}
	}()

	engine := gin.New()
	engine.Use(gin.Recovery())
	s.mounter(s.Registry).Mount(engine)

	apiServer := &http.Server{Handler: engine}
	go func() {
		if err := apiServer.Serve(apiLn); err != nil && err != http.ErrServerClosed {
			log.Printf("server: api listener stopped: %v", err)
		}
	}()
	defer apiServer.Close()

	log.Printf("server: proxy listening on %s, api listening on %s", proxyLn.Addr(), apiLn.Addr())

	<-ctx.Done()
	log.Println("server: shutting down")
	return nil
}

// Run is a convenience entry point for cmd/revtun: it builds a Server,
// installs SIGINT/SIGTERM handling in the teacher's StartServer style, and
// blocks until one of those signals arrives (or returns early if a listener
// fails to bind).
func Run(cfg Config, mounter func(*Registry) APIMounter) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("server: received shutdown signal")
		cancel()
	}()

	s := New(cfg, mounter)
	return s.ListenAndServe(ctx)
}
