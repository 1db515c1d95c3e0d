// Package proxyerr defines the typed error kinds the reverse proxy surfaces
// to public clients, and the HTTP status each maps to. The registration API
// does not use this package; it writes its own plain-text error bodies.
package proxyerr

import "net/http"

// Kind identifies one of the proxy's known failure modes.
type Kind string

const (
	NoHostHeader       Kind = "no_host_header"
	InvalidHostName    Kind = "invalid_host_name"
	ProxyNotReady      Kind = "proxy_not_ready"
	EmptyConnection    Kind = "empty_connection"
	NoUpgradeHeader    Kind = "no_upgrade_header"
	NoUpgradeExtension Kind = "no_upgrade_extension"
	InvalidConfig      Kind = "invalid_config"
)

// Error is a typed proxy error carrying the HTTP status it should surface as.
type Error struct {
	Kind   Kind
	Status int
	Msg    string
}

func (e *Error) Error() string { return e.Msg }

// StatusCode reports the HTTP status the error should be surfaced as.
func (e *Error) StatusCode() int { return e.Status }

// New constructs an Error for kind with msg, picking the status from the
// kind-to-status table below.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Status: statusFor(kind), Msg: msg}
}

func statusFor(kind Kind) int {
	switch kind {
	case NoHostHeader, InvalidHostName:
		return http.StatusBadRequest
	case ProxyNotReady, EmptyConnection, NoUpgradeHeader, NoUpgradeExtension:
		return http.StatusBadGateway
	case InvalidConfig:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// StatusCoder is implemented by errors that know their own HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// StatusOf extracts an HTTP status from err, defaulting to 500 if err does
// not implement StatusCoder.
func StatusOf(err error) int {
	if sc, ok := err.(StatusCoder); ok {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}
