// Package credentials holds the upstream-provider credential handles
// that registry.Binding.Credential resolves against — API keys,
// rotated secrets, and OAuth token sources for every outbound provider
// call. Adapted from internal/admin/keys.go's generate/rotate/revoke
// APIKey store, retargeted from client-facing admin keys to upstream
// provider secrets.
package credentials

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Credential is a single upstream secret bound to one binding or key
// group (§6 "providers[].apiKey" / multi-key expansion).
type Credential struct {
	ID        string
	Secret    string
	CreatedAt time.Time
	RotatedAt *time.Time
	RevokedAt *time.Time
	Active    bool
}

// Store is an in-memory table of upstream credentials, generalizing
// internal/admin/keys.go's KeyStore to this package's domain.
type Store struct {
	mu  sync.RWMutex
	ids map[string]*Credential
}

// NewStore returns an empty credential store.
func NewStore() *Store {
	return &Store{ids: make(map[string]*Credential)}
}

// Put registers secret under id, overwriting any prior value.
func (s *Store) Put(id, secret string) *Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &Credential{ID: id, Secret: secret, CreatedAt: time.Now(), Active: true}
	s.ids[id] = c
	return c
}

// Get resolves id to its credential, returning false if unknown or
// revoked.
func (s *Store) Get(id string) (*Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.ids[id]
	if !ok || !c.Active {
		return nil, false
	}
	return c, true
}

// Rotate replaces id's secret with a freshly generated one, keeping the
// id stable so bindings referencing it keep resolving.
func (s *Store) Rotate(id string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.ids[id]
	if !ok {
		return nil, fmt.Errorf("credential not found: %s", id)
	}
	secret, err := randomSecret()
	if err != nil {
		return nil, err
	}
	c.Secret = secret
	now := time.Now()
	c.RotatedAt = &now
	return c, nil
}

// Revoke deactivates id; resolution then fails closed.
func (s *Store) Revoke(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.ids[id]
	if !ok {
		return fmt.Errorf("credential not found: %s", id)
	}
	now := time.Now()
	c.RevokedAt = &now
	c.Active = false
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating credential secret: %w", err)
	}
	return "rk-" + hex.EncodeToString(b), nil
}

// OAuthCredential wraps an oauth2.TokenSource for providers that
// authenticate via short-lived bearer tokens (CodeWhisperer/Q Developer
// SSO) rather than a static API key.
type OAuthCredential struct {
	source oauth2.TokenSource
}

// NewOAuthCredential wraps an existing token source (e.g. one built from
// golang.org/x/oauth2's config against the provider's token endpoint).
func NewOAuthCredential(source oauth2.TokenSource) *OAuthCredential {
	return &OAuthCredential{source: source}
}

// BearerToken returns a fresh, valid access token, refreshing it via the
// wrapped TokenSource if the cached one has expired.
func (o *OAuthCredential) BearerToken(ctx context.Context) (string, error) {
	tok, err := o.source.Token()
	if err != nil {
		return "", fmt.Errorf("refreshing oauth token: %w", err)
	}
	return tok.AccessToken, nil
}
