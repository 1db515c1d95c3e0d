package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_PutAlwaysOverwrites(t *testing.T) {
	r := NewRegistry(5)

	firstPort, err := r.Put("demo")
	require.NoError(t, err)
	firstTenant := r.Get("demo")
	require.NotNil(t, firstTenant)

	secondPort, err := r.Put("demo")
	require.NoError(t, err)
	secondTenant := r.Get("demo")
	require.NotNil(t, secondTenant)

	assert.NotSame(t, firstTenant, secondTenant, "Put must replace, not reuse, an existing tenant")
	assert.NotEqual(t, firstPort, secondPort, "a fresh tenant binds a fresh ephemeral port")

	secondTenant.Close()
}

func TestRegistry_GetUnknownSubdomain(t *testing.T) {
	r := NewRegistry(5)
	assert.Nil(t, r.Get("nonexistent"))
}

func TestRegistry_Subdomains(t *testing.T) {
	r := NewRegistry(5)
	_, err := r.Put("alpha")
	require.NoError(t, err)
	_, err = r.Put("beta")
	require.NoError(t, err)

	subs := r.Subdomains()
	assert.ElementsMatch(t, []string{"alpha", "beta"}, subs)

	r.Get("alpha").Close()
	r.Get("beta").Close()
}

func TestRegistry_CleanupEvictsIdleTenants(t *testing.T) {
	r := NewRegistry(5)
	_, err := r.Put("stale")
	require.NoError(t, err)

	tenant := r.Get("stale")
	tenant.mu.Lock()
	tenant.lastTakeTime = time.Now().Add(-2 * CleanupTimeout)
	tenant.mu.Unlock()

	r.Cleanup()

	assert.Nil(t, r.Get("stale"))
}

func TestRegistry_CleanupKeepsActiveTenants(t *testing.T) {
	r := NewRegistry(5)
	_, err := r.Put("active")
	require.NoError(t, err)

	r.Cleanup()

	assert.NotNil(t, r.Get("active"))
	r.Get("active").Close()
}
