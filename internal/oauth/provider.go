// provider.go -- identity provider interface and shared types.
package oauth

import (
	"context"
	"strings"

	"github.com/MGallo-Code/gatehouse/internal/store"
	"golang.org/x/oauth2"
)

// Claims holds the normalized identity claims returned by a provider.
// Every field comes from a verified ID token, never from the client.
type Claims struct {
	Sub           string // provider-stable user id (Google "sub")
	Email         string // empty when the provider withheld it
	EmailVerified bool
	Name          string
}

// DisplayName returns Name, or the local part of Email when the provider sent no name.
func (c *Claims) DisplayName() string {
	if n := strings.TrimSpace(c.Name); n != "" {
		return n
	}
	local, _, _ := strings.Cut(c.Email, "@")
	return local
}

// Provider is an OAuth2 identity provider using the authorization code flow
// with PKCE (RFC 7636, S256).
type Provider interface {
	// Name is the URL segment in /oauth/{provider}.
	Name() string

	// Strategy is the auth_strategy stored for users created through this provider.
	Strategy() store.AuthStrategy

	// AuthCodeURL returns the consent URL for state, with the S256 challenge of verifier.
	AuthCodeURL(state, verifier string) string

	// Exchange trades code for verified claims. verifier must be the one given to AuthCodeURL.
	Exchange(ctx context.Context, code, verifier string) (*Claims, error)
}

// NewVerifier returns a fresh PKCE code verifier.
func NewVerifier() string { return oauth2.GenerateVerifier() }

// Registry looks providers up by name.
type Registry map[string]Provider

// NewRegistry indexes providers by Name. Nil entries are skipped.
func NewRegistry(providers ...Provider) Registry {
	r := make(Registry, len(providers))
	for _, p := range providers {
		if p != nil {
			r[p.Name()] = p
		}
	}
	return r
}

// Get returns the named provider.
func (r Registry) Get(name string) (Provider, bool) {
	p, ok := r[name]
	return p, ok
}
