// google.go -- Google OAuth2 + OIDC provider.
package oauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MGallo-Code/gatehouse/internal/store"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// GoogleIssuer is Google's OIDC issuer URL.
const GoogleIssuer = "https://accounts.google.com"

// ErrMissingIDToken is returned when the token response carries no id_token.
var ErrMissingIDToken = errors.New("no id_token in token response")

// GoogleProvider implements Provider with Google's OIDC discovery and code flow.
type GoogleProvider struct {
	config   *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewGoogleProvider fetches Google's discovery document and builds the provider.
// Makes an outbound request to accounts.google.com; fails if it is unreachable.
func NewGoogleProvider(ctx context.Context, clientID, clientSecret, redirectURL string) (*GoogleProvider, error) {
	p, err := oidc.NewProvider(ctx, GoogleIssuer)
	if err != nil {
		return nil, fmt.Errorf("google oidc discovery: %w", err)
	}
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     p.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}
	return newGoogleProvider(cfg, p.Verifier(&oidc.Config{ClientID: clientID})), nil
}

func newGoogleProvider(cfg *oauth2.Config, verifier *oidc.IDTokenVerifier) *GoogleProvider {
	return &GoogleProvider{config: cfg, verifier: verifier}
}

// Name returns "google".
func (p *GoogleProvider) Name() string { return "google" }

// Strategy returns GOOGLE_OAUTH.
func (p *GoogleProvider) Strategy() store.AuthStrategy { return store.StrategyGoogle }

// AuthCodeURL builds the consent page URL.
func (p *GoogleProvider) AuthCodeURL(state, verifier string) string {
	return p.config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades an authorization code for claims from the verified ID token
// (signature against Google's JWKS, aud, exp).
func (p *GoogleProvider) Exchange(ctx context.Context, code, verifier string) (*Claims, error) {
	token, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, ErrMissingIDToken
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verifying id token: %w", err)
	}

	var c struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		GivenName     string `json:"given_name"`
		FamilyName    string `json:"family_name"`
	}
	if err := idToken.Claims(&c); err != nil {
		return nil, fmt.Errorf("extracting id token claims: %w", err)
	}
	name := c.Name
	if name == "" && (c.GivenName != "" || c.FamilyName != "") {
		name = c.GivenName + " " + c.FamilyName
	}

	return &Claims{
		Sub:           idToken.Subject,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
		Name:          name,
	}, nil
}
