package server

import (
	"bufio"
	"io"
	"log"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/revtun/revtun/internal/proxyerr"
	"github.com/revtun/revtun/internal/wire"
)

// headerReadTimeout bounds how long the proxy waits for a public client to
// finish sending request headers, matching the teacher's ClientReadTimeout
// idiom in spirit (there: 60s on the tunnel's client socket; here: on the
// public-facing one, before we know which tenant it belongs to).
const headerReadTimeout = 30 * time.Second

// maxHeaderBytes caps the request-line-plus-headers buffer so a slow-loris
// style client cannot hold a goroutine and a growing buffer open forever.
const maxHeaderBytes = 1 << 20

// Proxy demultiplexes inbound public HTTP/1.1 connections by Host header,
// borrows an idle tunnel socket from the matching Tenant, and either
// forwards the response verbatim or promotes the connection to a raw
// bidirectional byte pipe on a successful protocol upgrade.
type Proxy struct {
	Registry *Registry
}

// NewProxy constructs a Proxy backed by registry.
func NewProxy(registry *Registry) *Proxy {
	return &Proxy{Registry: registry}
}

// ServeListener accepts connections on ln and hands each one to Handle in
// its own goroutine, until ln is closed.
func (p *Proxy) ServeListener(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go p.Handle(conn)
	}
}

// Handle processes one inbound public connection end to end: it reads the
// HTTP/1.1 request line and headers, resolves the tenant by Host header,
// borrows a tunnel socket, forwards the request, and relays the response —
// promoting to a raw bidirectional copy if the response is a matching
// protocol upgrade. Handle always closes conn before returning.
func (p *Proxy) Handle(conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(headerReadTimeout))
	reader := bufio.NewReader(io.LimitReader(conn, maxHeaderBytes))

	startLine, headers, rawHeader, err := readHTTPHead(reader)
	if err != nil {
		log.Printf("proxy: error reading request head: %v", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	host := headers.Get("Host")
	if host == "" {
		writeStatus(conn, proxyerr.New(proxyerr.NoHostHeader, "Host header is required"))
		return
	}

	subdomain := wire.ExtractSubdomain(host)
	if !wire.ValidSubdomain(subdomain) {
		writeStatus(conn, proxyerr.New(proxyerr.InvalidHostName, "invalid host name"))
		return
	}

	tenant := p.Registry.Get(subdomain)
	if tenant == nil {
		writeStatus(conn, proxyerr.New(proxyerr.ProxyNotReady, "no tunnel registered for this host"))
		return
	}

	target := tenant.Take()
	if target == nil {
		writeStatus(conn, proxyerr.New(proxyerr.EmptyConnection, "no idle tunnel connection available"))
		return
	}
	defer target.Close()

	if _, err := target.Write([]byte(startLine + "\r\n" + rawHeader + "\r\n")); err != nil {
		log.Printf("proxy: error forwarding request head to tunnel: %v", err)
		return
	}
	if err := forwardBody(target, reader, headers); err != nil {
		log.Printf("proxy: error forwarding request body to tunnel: %v", err)
		return
	}

	p.relayResponse(conn, reader, target, headers)
}

// readHTTPHead reads the request line and headers from r, returning the
// request line, the parsed headers, and a header block (without the
// terminating blank line) re-serialized from the parsed headers for
// forwarding: header names come out in canonical form and in map order, not
// as the original bytes.
func readHTTPHead(r *bufio.Reader) (startLine string, headers http.Header, raw string, err error) {
	tp := textproto.NewReader(r)

	startLine, err = tp.ReadLine()
	if err != nil {
		return "", nil, "", err
	}

	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return "", nil, "", err
	}
	headers = http.Header(mimeHeader)

	var b strings.Builder
	for name, values := range headers {
		for _, v := range values {
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\r\n")
		}
	}
	return startLine, headers, b.String(), nil
}

// forwardBody copies a request body of known Content-Length from r to
// target, if one was declared. Chunked transfer-encoded bodies and bodies
// without a declared length are not forwarded here: spec.md's scope is
// GET/upgrade requests, which carry no body.
func forwardBody(target net.Conn, r *bufio.Reader, headers http.Header) error {
	cl := headers.Get("Content-Length")
	if cl == "" {
		return nil
	}
	n, err := strconv.ParseInt(cl, 10, 64)
	if err != nil || n <= 0 {
		return nil
	}
	_, err = io.CopyN(target, r, n)
	return err
}

// relayResponse reads the response status line and headers back from
// target, forwards them to client, and then either runs a bidirectional
// byte-pipe splice (on a matching 101 Switching Protocols upgrade) or
// streams the remainder of the response body through once (the common
// case). Either way the tunnel socket is single-use: it is never returned
// to the tenant's idle pool. clientReader is the bufio.Reader Handle used
// to parse the request head off client — any bytes the public client
// pipelined right after its request must be drained from it before the
// splice begins, or they are stranded in that buffer forever.
func (p *Proxy) relayResponse(client net.Conn, clientReader *bufio.Reader, target net.Conn, reqHeaders http.Header) {
	reader := bufio.NewReader(target)

	statusLine, respHeaders, rawHeader, err := readHTTPHead(reader)
	if err != nil {
		log.Printf("proxy: error reading response head from tunnel: %v", err)
		return
	}

	if _, err := client.Write([]byte(statusLine + "\r\n" + rawHeader + "\r\n")); err != nil {
		log.Printf("proxy: error forwarding response head to client: %v", err)
		return
	}

	if isSwitchingProtocols(statusLine) && upgradeMatches(reqHeaders, respHeaders) {
		log.Printf("proxy: upgrade established for host, splicing raw byte pipe")
		if err := drainBuffered(clientReader, target); err != nil {
			log.Printf("proxy: error draining buffered client bytes to tunnel: %v", err)
			return
		}
		splice(client, reader, target)
		return
	}

	// Non-upgrade (or mismatched-upgrade) response: stream the body
	// through once, verbatim, then the connection ends.
	if _, err := io.Copy(client, reader); err != nil && !isIgnorable(err) {
		log.Printf("proxy: error streaming response body: %v", err)
	}
}

// drainBuffered forwards any bytes r has already buffered to target. r wraps
// an io.LimitReader capped at maxHeaderBytes (Handle's request-head reader),
// so it must not be reused for the splice itself — only the leftover bytes
// it already pulled off conn need forwarding here; everything after is read
// straight off the raw connection, uncapped, by splice.
func drainBuffered(r *bufio.Reader, target net.Conn) error {
	n := r.Buffered()
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	_, err := target.Write(buf)
	return err
}

func isSwitchingProtocols(statusLine string) bool {
	return strings.Contains(statusLine, "101")
}

func upgradeMatches(reqHeaders, respHeaders http.Header) bool {
	reqUpgrade := strings.TrimSpace(reqHeaders.Get("Upgrade"))
	respUpgrade := strings.TrimSpace(respHeaders.Get("Upgrade"))
	if reqUpgrade == "" || respUpgrade == "" {
		return false
	}
	return strings.EqualFold(reqUpgrade, respUpgrade)
}

// splice relays bytes bidirectionally between client and target (whose
// buffered bytes not yet consumed from targetReader must be drained first)
// until either side closes, exactly the teacher's Relay pattern.
func splice(client net.Conn, targetReader *bufio.Reader, target net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		_, err := io.Copy(target, client)
		if err != nil && !isIgnorable(err) {
			log.Printf("proxy: error copying client to tunnel: %v", err)
		}
		target.Close()
	}()

	go func() {
		defer wg.Done()
		_, err := io.Copy(client, targetReader)
		if err != nil && !isIgnorable(err) {
			log.Printf("proxy: error copying tunnel to client: %v", err)
		}
		client.Close()
	}()

	wg.Wait()
}

func isIgnorable(err error) bool {
	if err == io.EOF {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}

// writeStatus writes a minimal HTTP response carrying the status code and
// message proxyerr.Error maps to.
func writeStatus(conn net.Conn, err *proxyerr.Error) {
	body := err.Error()
	status := err.StatusCode()
	line := "HTTP/1.1 " + strconv.Itoa(status) + " " + http.StatusText(status) + "\r\n"
	headers := "Content-Type: text/plain\r\nContent-Length: " + strconv.Itoa(len(body)) + "\r\nConnection: close\r\n\r\n"
	conn.Write([]byte(line + headers + body))
}
