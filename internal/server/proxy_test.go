package server

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSwitchingProtocols(t *testing.T) {
	assert.True(t, isSwitchingProtocols("HTTP/1.1 101 Switching Protocols"))
	assert.False(t, isSwitchingProtocols("HTTP/1.1 200 OK"))
}

func TestUpgradeMatches(t *testing.T) {
	req := http.Header{"Upgrade": []string{"websocket"}}
	resp := http.Header{"Upgrade": []string{"WebSocket"}}
	assert.True(t, upgradeMatches(req, resp))

	resp2 := http.Header{"Upgrade": []string{"h2c"}}
	assert.False(t, upgradeMatches(req, resp2))

	empty := http.Header{}
	assert.False(t, upgradeMatches(req, empty))
}

func TestReadHTTPHead(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: demo.example.com\r\nContent-Length: 5\r\n\r\nhello"
	client, server := net.Pipe()
	go func() {
		client.Write([]byte(raw))
	}()

	reader := bufio.NewReader(server)
	startLine, headers, rawHeader, err := readHTTPHead(reader)
	require.NoError(t, err)
	assert.Equal(t, "GET / HTTP/1.1", startLine)
	assert.Equal(t, "demo.example.com", headers.Get("Host"))
	assert.Contains(t, rawHeader, "Content-Length: 5")
}

// TestProxy_EndToEnd exercises the full request path: a public connection
// demuxed by Host header, a tenant's pooled tunnel socket standing in for
// a client's backend, and a non-upgrade response streamed straight through.
func TestProxy_EndToEnd(t *testing.T) {
	registry := NewRegistry(5)
	defer func() {
		for _, s := range registry.Subdomains() {
			registry.Get(s).Close()
		}
	}()

	port, err := registry.Put("demo")
	require.NoError(t, err)
	tenant := registry.Get("demo")

	// Simulate the tunnel client dialing in and sitting idle in the pool.
	backendConn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	require.NoError(t, err)
	defer backendConn.Close()

	require.Eventually(t, func() bool {
		return tenant.PoolLen() == 1
	}, time.Second, 10*time.Millisecond)

	proxy := NewProxy(registry)
	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer proxyLn.Close()
	go proxy.ServeListener(proxyLn)

	// Serve one fake backend response on the pooled socket.
	go func() {
		buf := make([]byte, 4096)
		backendConn.Read(buf) // drain the forwarded request head
		backendConn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	}()

	publicConn, err := net.Dial("tcp", proxyLn.Addr().String())
	require.NoError(t, err)
	defer publicConn.Close()

	publicConn.Write([]byte("GET / HTTP/1.1\r\nHost: demo.example.com\r\n\r\n"))

	publicConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(publicConn), nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

// TestProxy_UpgradeForwardsPipelinedBytes guards against a regression where
// bytes the public client pipelines immediately after its upgrade request
// (before the 101 response arrives) get stranded in Handle's request-head
// bufio.Reader instead of reaching the tunnel socket.
func TestProxy_UpgradeForwardsPipelinedBytes(t *testing.T) {
	registry := NewRegistry(5)
	defer func() {
		for _, s := range registry.Subdomains() {
			registry.Get(s).Close()
		}
	}()

	port, err := registry.Put("demo")
	require.NoError(t, err)
	tenant := registry.Get("demo")

	backendConn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	require.NoError(t, err)
	defer backendConn.Close()

	require.Eventually(t, func() bool {
		return tenant.PoolLen() == 1
	}, time.Second, 10*time.Millisecond)

	proxy := NewProxy(registry)
	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer proxyLn.Close()
	go proxy.ServeListener(proxyLn)

	pipelined := make(chan string, 1)
	go func() {
		backendReader := bufio.NewReader(backendConn)
		req, err := http.ReadRequest(backendReader)
		if err != nil {
			pipelined <- ""
			return
		}
		req.Body.Close()
		backendConn.Write([]byte("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n"))

		buf := make([]byte, len("PIPELINED"))
		backendConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _ := io.ReadFull(backendReader, buf)
		pipelined <- string(buf[:n])
	}()

	publicConn, err := net.Dial("tcp", proxyLn.Addr().String())
	require.NoError(t, err)
	defer publicConn.Close()

	// The request and the post-upgrade payload are written as one chunk, so
	// Handle's bufio.Reader is likely to buffer both the head and the
	// leftover "PIPELINED" bytes in the same underlying Read.
	publicConn.Write([]byte("GET / HTTP/1.1\r\nHost: demo.example.com\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\nPIPELINED"))

	publicConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(publicConn), nil)
	require.NoError(t, err)
	assert.Equal(t, 101, resp.StatusCode)

	select {
	case got := <-pipelined:
		assert.Equal(t, "PIPELINED", got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pipelined bytes on the tunnel socket")
	}
}

func TestProxy_UnknownHostReturns502(t *testing.T) {
	registry := NewRegistry(5)
	proxy := NewProxy(registry)

	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer proxyLn.Close()
	go proxy.ServeListener(proxyLn)

	publicConn, err := net.Dial("tcp", proxyLn.Addr().String())
	require.NoError(t, err)
	defer publicConn.Close()

	publicConn.Write([]byte("GET / HTTP/1.1\r\nHost: nosuchtenant.example.com\r\n\r\n"))
	publicConn.SetReadDeadline(time.Now().Add(2 * time.Second))

	resp, err := http.ReadResponse(bufio.NewReader(publicConn), nil)
	require.NoError(t, err)
	assert.Equal(t, 502, resp.StatusCode)
}
