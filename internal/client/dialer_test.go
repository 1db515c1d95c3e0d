package client

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revtun/revtun/internal/wire"
)

func TestDialer_Register(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo", r.URL.Path)
		json.NewEncoder(w).Encode(wire.RegistrationResponse{
			ID:           "demo",
			Port:         4242,
			MaxConnCount: 3,
			URL:          "http://demo.example.com",
		})
	}))
	defer ts.Close()

	host := ts.Listener.Addr().String()
	d := New(Config{Host: host, Subdomain: "demo"})

	reg, err := d.register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "demo", reg.ID)
	assert.EqualValues(t, 4242, reg.Port)
}

func TestDialer_RegisterMissingSubdomainRequestsNew(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/", r.URL.Path)
		assert.True(t, r.URL.Query().Has("new"))
		json.NewEncoder(w).Encode(wire.RegistrationResponse{ID: "abc12345", Port: 1, MaxConnCount: 1, URL: "x"})
	}))
	defer ts.Close()

	d := New(Config{Host: ts.Listener.Addr().String()})
	reg, err := d.register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc12345", reg.ID)
}

func TestDialer_RegisterSendsCredential(t *testing.T) {
	var gotCredential string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCredential = r.URL.Query().Get("credential")
		json.NewEncoder(w).Encode(wire.RegistrationResponse{ID: "demo", Port: 1, MaxConnCount: 1, URL: "x"})
	}))
	defer ts.Close()

	d := New(Config{Host: ts.Listener.Addr().String(), Subdomain: "demo", Credential: "s3cret"})
	_, err := d.register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s3cret", gotCredential)
}

func TestDialer_ServeOneRelaysBytes(t *testing.T) {
	local, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer local.Close()
	go func() {
		conn, err := local.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		conn.Read(buf)
		conn.Write([]byte("world"))
	}()

	ingress, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ingress.Close()

	localHost, localPortStr, _ := net.SplitHostPort(local.Addr().String())
	localPort, _ := strconv.Atoi(localPortStr)
	_, ingressPortStr, _ := net.SplitHostPort(ingress.Addr().String())
	ingressPort, _ := strconv.Atoi(ingressPortStr)

	d := New(Config{Host: net.JoinHostPort("127.0.0.1", "0"), LocalHost: localHost, LocalPort: localPort})

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.serveOne(context.Background(), uint16(ingressPort))
	}()

	tunnelSide, err := ingress.Accept()
	require.NoError(t, err)
	defer tunnelSide.Close()

	tunnelSide.Write([]byte("hello"))
	buf := make([]byte, 5)
	tunnelSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := tunnelSide.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))
}
