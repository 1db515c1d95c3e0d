package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revtun/revtun/internal/auth"
	"github.com/revtun/revtun/internal/server"
	"github.com/revtun/revtun/internal/server/api"
	"github.com/revtun/revtun/internal/wire"
)

func setupRouter(h *api.Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.Mount(r)
	return r
}

func TestRegister_Success(t *testing.T) {
	registry := server.NewRegistry(2)
	h := api.NewHandler(registry, auth.AlwaysValid{}, "example.com", false, false, 2)
	r := setupRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/demo", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp wire.RegistrationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "demo", resp.ID)
	assert.NotZero(t, resp.Port)
	assert.EqualValues(t, 2, resp.MaxConnCount, "max_conn_count must echo the server's configured max_sockets")
	assert.Equal(t, "http://demo.example.com", resp.URL)

	registry.Get("demo").Close()
}

func TestRegister_InvalidSubdomain(t *testing.T) {
	registry := server.NewRegistry(5)
	h := api.NewHandler(registry, auth.AlwaysValid{}, "example.com", false, false, 5)
	r := setupRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/Not_Valid!", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegister_MissingCredential(t *testing.T) {
	registry := server.NewRegistry(5)
	h := api.NewHandler(registry, rejectingValidator{}, "example.com", false, true, 5)
	r := setupRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/demo", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "credential param is empty")
}

func TestRegister_InvalidCredential(t *testing.T) {
	registry := server.NewRegistry(5)
	h := api.NewHandler(registry, rejectingValidator{}, "example.com", false, true, 5)
	r := setupRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/demo?credential=bad", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegister_AuthBackendError(t *testing.T) {
	registry := server.NewRegistry(5)
	h := api.NewHandler(registry, erroringValidator{}, "example.com", false, true, 5)
	r := setupRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/demo?credential=whatever", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRegister_SecureURLScheme(t *testing.T) {
	registry := server.NewRegistry(5)
	h := api.NewHandler(registry, auth.AlwaysValid{}, "example.com", true, false, 5)
	r := setupRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/demo", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp wire.RegistrationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://demo.example.com", resp.URL)

	registry.Get("demo").Close()
}

func TestStatus(t *testing.T) {
	registry := server.NewRegistry(5)
	_, err := registry.Put("demo")
	require.NoError(t, err)
	defer registry.Get("demo").Close()

	h := api.NewHandler(registry, auth.AlwaysValid{}, "example.com", false, false, 5)
	r := setupRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp wire.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TunnelsCount)
	assert.Contains(t, resp.Tunnels, "demo")
}

type rejectingValidator struct{}

func (rejectingValidator) Valid(_ context.Context, _, _ string) (bool, error) {
	return false, nil
}

type erroringValidator struct{}

func (erroringValidator) Valid(_ context.Context, _, _ string) (bool, error) {
	return false, errors.New("backend unreachable")
}
