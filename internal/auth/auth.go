// Package auth provides the pluggable credential-validation capability the
// registration API gates on when require_auth is set (spec.md §4.4/§6).
// It is deliberately a single-method interface, constructed explicitly with
// its own configuration rather than reading a package-wide singleton
// (spec.md §9 Redesign Flags, "Global state").
package auth

import "context"

// Validator validates an opaque credential presented for subdomain.
type Validator interface {
	// Valid reports whether credential authorizes registering subdomain.
	// A non-nil error indicates the backend itself failed (surfaced by
	// callers as a 500), distinct from a definite "no" (a 400).
	Valid(ctx context.Context, credential, subdomain string) (bool, error)
}

// AlwaysValid is a Validator that accepts every credential. It exists for
// tests and for servers run with require_auth disabled, mirroring
// original_source's `impl Auth for ()` unit-type stub.
type AlwaysValid struct{}

// Valid always returns true, nil.
func (AlwaysValid) Valid(ctx context.Context, credential, subdomain string) (bool, error) {
	return true, nil
}
