// Package wire defines the JSON request/response shapes exchanged between
// the client dialer and the server's registration API, and the subdomain
// validation and extraction rules both sides must agree on.
package wire

import (
	"crypto/rand"
	"regexp"
)

// SubdomainPattern is the anchored pattern every subdomain must match.
// Uppercase is rejected deliberately: browsers normalize Host headers to
// lowercase, so an uppercase registration could never be reached.
var SubdomainPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidSubdomain reports whether s is a legal subdomain label.
func ValidSubdomain(s string) bool {
	return SubdomainPattern.MatchString(s)
}

// schemePrefix strips a leading http(s):// or ws(s):// scheme. It is
// anchored at the start of the string on purpose: earlier revisions of this
// protocol stripped "ws"/"wss" as a bare substring anywhere in the host,
// which silently mangled hostnames containing those letters (e.g.
// "wsdemo.example.com" or "answs.example.com"). Anchoring fixes that.
var schemePrefix = regexp.MustCompile(`^(https?|wss?)://`)

// ExtractSubdomain returns the first '.'-delimited label of host, after
// stripping a leading scheme and tolerating a trailing ":port".
func ExtractSubdomain(host string) string {
	host = schemePrefix.ReplaceAllString(host, "")
	for i := 0; i < len(host); i++ {
		if host[i] == '.' {
			return host[:i]
		}
	}
	return host
}

// randomSubdomainAlphabet excludes characters SubdomainPattern's first/last
// position can't take (hyphen), so every generated label is trivially valid.
const randomSubdomainAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomSubdomain mints an 8-character label for a client that registered
// with GET /?new, i.e. expressed no subdomain preference (spec.md §4.5).
func RandomSubdomain() string {
	const length = 8
	buf := make([]byte, length)
	rand.Read(buf)
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = randomSubdomainAlphabet[int(b)%len(randomSubdomainAlphabet)]
	}
	return string(out)
}

// RegistrationResponse is returned by the server when a client registers a
// subdomain. It is the exact shape spec.md §3/§6 specifies.
type RegistrationResponse struct {
	ID           string `json:"id"`
	Port         uint16 `json:"port"`
	MaxConnCount uint8  `json:"max_conn_count"`
	URL          string `json:"url"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	TunnelsCount int      `json:"tunnels_count"`
	Tunnels      []string `json:"tunnels"`
}
