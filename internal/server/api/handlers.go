// Package api implements the registration API spec.md §4.4/§6 describes:
// a client calls GET /:subdomain to claim a subdomain and receive its
// assigned ingress port, and GET /api/status to list currently registered
// subdomains. Handler mirrors the teacher-pack's gin Handler-struct idiom
// (jroosing-HydraDNS's internal/api/handlers package groups routes as
// methods on a struct holding the dependencies they need, rather than
// closures over package-level state).
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/revtun/revtun/internal/auth"
	"github.com/revtun/revtun/internal/server"
	"github.com/revtun/revtun/internal/wire"
)

// Handler holds the dependencies the registration API routes need.
type Handler struct {
	Registry    *server.Registry
	Validator   auth.Validator
	Domain      string
	Secure      bool
	RequireAuth bool
	MaxSockets  int
}

// NewHandler constructs a Handler. validator may be auth.AlwaysValid{} when
// requireAuth is false. maxSockets is the server's configured per-tenant
// pool capacity, echoed back verbatim as max_conn_count (spec.md §4.4) so
// the client never opens more workers than the tenant pool can hold.
func NewHandler(registry *server.Registry, validator auth.Validator, domain string, secure, requireAuth bool, maxSockets int) *Handler {
	return &Handler{
		Registry:    registry,
		Validator:   validator,
		Domain:      domain,
		Secure:      secure,
		RequireAuth: requireAuth,
		MaxSockets:  maxSockets,
	}
}

// Mount registers the registration API routes on r.
func (h *Handler) Mount(r gin.IRouter) {
	r.GET("/api/status", h.Status)
	r.GET("/", h.RegisterNew)
	r.GET("/:subdomain", h.Register)
}

// RegisterNew handles GET /?new: the client has no subdomain preference, so
// the server mints one and registers it exactly as Register would.
func (h *Handler) RegisterNew(c *gin.Context) {
	if _, ok := c.GetQuery("new"); !ok {
		c.String(http.StatusBadRequest, "missing ?new")
		return
	}
	h.register(c, wire.RandomSubdomain())
}

// Register claims the subdomain named by the URL path for the calling
// client, creating (or replacing) its Tenant, and returns the assigned
// ingress port and public URL.
func (h *Handler) Register(c *gin.Context) {
	h.register(c, c.Param("subdomain"))
}

// register is the shared body of Register and RegisterNew: validate the
// subdomain, gate on auth, claim it in the registry, and reply with the
// RegistrationResponse. Errors are reported as a plain-text body per
// spec.md §6, not as JSON, so a developer reading them on the command line
// gets a human-readable reason.
func (h *Handler) register(c *gin.Context, subdomain string) {
	if !wire.ValidSubdomain(subdomain) {
		c.String(http.StatusBadRequest, "invalid subdomain")
		return
	}

	if h.RequireAuth {
		credential := c.Query("credential")
		if credential == "" {
			c.String(http.StatusBadRequest, "credential param is empty")
			return
		}
		ok, err := h.Validator.Valid(c.Request.Context(), credential, subdomain)
		if err != nil {
			c.String(http.StatusInternalServerError, "credential validation failed")
			return
		}
		if !ok {
			c.String(http.StatusBadRequest, "invalid credential")
			return
		}
	}

	port, err := h.Registry.Put(subdomain)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to bind tunnel listener")
		return
	}

	scheme := "http"
	if h.Secure {
		scheme = "https"
	}

	c.JSON(http.StatusOK, wire.RegistrationResponse{
		ID:           subdomain,
		Port:         port,
		MaxConnCount: uint8(h.MaxSockets),
		URL:          scheme + "://" + subdomain + "." + h.Domain,
	})
}

// Status reports the subdomains currently registered.
func (h *Handler) Status(c *gin.Context) {
	subdomains := h.Registry.Subdomains()
	c.JSON(http.StatusOK, wire.StatusResponse{
		TunnelsCount: len(subdomains),
		Tunnels:      subdomains,
	})
}
