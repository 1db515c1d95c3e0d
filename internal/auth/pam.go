package auth

import (
	"context"
	"fmt"

	pam "github.com/msteinert/pam/v2"
)

// PAMStore validates credentials against a local PAM service, standing in
// for the remote credential-store backend spec.md §6 describes as opaque
// (the original implementation's production backend called out to a
// Cloudflare KV namespace over HTTP; PAM is this repo's equivalent
// "opaque external store" grounded in the teacher's own auth code, which
// already wires github.com/msteinert/pam/v2 for exactly this shape of
// check). The subdomain is treated as the PAM username and the credential
// as the password; service is the PAM service name to authenticate against
// (e.g. "login" or a dedicated service configured for this purpose).
type PAMStore struct {
	Service string
}

// Valid starts a PAM authentication transaction for subdomain against
// Service, supplying credential as the password when PAM prompts for one.
func (s PAMStore) Valid(ctx context.Context, credential, subdomain string) (bool, error) {
	service := s.Service
	if service == "" {
		service = "login"
	}

	t, err := pam.StartFunc(service, subdomain, func(style pam.Style, msg string) (string, error) {
		switch style {
		case pam.PromptEchoOff:
			return credential, nil
		case pam.TextInfo:
			return "", nil
		default:
			return "", nil
		}
	})
	if err != nil {
		return false, fmt.Errorf("pam: failed to start transaction: %w", err)
	}

	if err := t.Authenticate(0); err != nil {
		return false, nil
	}
	return true, nil
}
