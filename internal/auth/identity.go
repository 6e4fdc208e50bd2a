// identity.go -- Credentials presented at login.
package auth

import (
	"github.com/MGallo-Code/gatehouse/internal/oauth"
	"github.com/MGallo-Code/gatehouse/internal/store"
)

// Credential is proof of identity: LocalCredential or OAuthCredential.
type Credential interface {
	Strategy() store.AuthStrategy
}

// LocalCredential is an email and password pair.
type LocalCredential struct {
	Email    string
	Password string
}

// Strategy returns LOCAL.
func (LocalCredential) Strategy() store.AuthStrategy { return store.StrategyLocal }

// OAuthCredential is a provider-verified identity.
type OAuthCredential struct {
	Provider store.AuthStrategy
	Claims   *oauth.Claims
}

// Strategy returns the provider's strategy.
func (c OAuthCredential) Strategy() store.AuthStrategy { return c.Provider }
