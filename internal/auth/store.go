package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// binding is one subdomain's stored credential hash.
type binding struct {
	Subdomain      string `json:"subdomain"`
	CredentialHash string `json:"credential_hash"`
}

// StaticStore validates credentials against a local JSON file mapping
// subdomain to a bcrypt-hashed credential. It is adapted from the teacher's
// username/password UserDB (internal/usermgmt/userdb.go in the source
// tree): the same JSON-file-plus-mutex-plus-bcrypt shape, repointed from
// "username" to "subdomain" and from login passwords to tunnel
// registration credentials. Useful for operators who want a simple
// self-hosted credential list without standing up PAM or a remote KV
// store.
type StaticStore struct {
	filePath string

	mu       sync.RWMutex
	bindings map[string]string // subdomain -> bcrypt hash
}

// NewStaticStore loads (or initializes) a StaticStore backed by filePath.
// A missing file is treated as an empty store, not an error — it is
// created on first Set.
func NewStaticStore(filePath string) (*StaticStore, error) {
	s := &StaticStore{
		filePath: filePath,
		bindings: make(map[string]string),
	}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

func (s *StaticStore) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	var list []binding
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("auth: corrupt credential store %s: %w", s.filePath, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range list {
		s.bindings[b.Subdomain] = b.CredentialHash
	}
	return nil
}

func (s *StaticStore) persist() error {
	s.mu.RLock()
	list := make([]binding, 0, len(s.bindings))
	for subdomain, hash := range s.bindings {
		list = append(list, binding{Subdomain: subdomain, CredentialHash: hash})
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath, data, 0600)
}

// Set stores credential (hashed) for subdomain, overwriting any previous
// binding, and persists the store to disk.
func (s *StaticStore) Set(subdomain, credential string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: failed to hash credential: %w", err)
	}

	s.mu.Lock()
	s.bindings[subdomain] = string(hash)
	s.mu.Unlock()

	return s.persist()
}

// Valid reports whether credential matches the stored hash for subdomain.
// An unknown subdomain is a definite "no", not a backend error.
func (s *StaticStore) Valid(ctx context.Context, credential, subdomain string) (bool, error) {
	s.mu.RLock()
	hash, ok := s.bindings[subdomain]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(credential))
	return err == nil, nil
}
