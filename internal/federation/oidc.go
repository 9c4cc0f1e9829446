package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/osda-portal/apiserver/types"
	"golang.org/x/oauth2"
)

// ProviderConfig describes one OpenID Connect client registration.
type ProviderConfig struct {
	Name         string
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// AuthURL overrides the discovered authorization endpoint.
	AuthURL string
}

// OIDCProvider runs the authorization code flow with PKCE against an
// OpenID Connect issuer and verifies the returned ID token. It reports
// identity facts only and never touches accounts.
type OIDCProvider struct {
	name     string
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	logger   *slog.Logger
}

// NewOIDCProvider discovers the issuer configuration and builds a provider.
func NewOIDCProvider(ctx context.Context, cfg ProviderConfig, logger *slog.Logger) (*OIDCProvider, error) {
	if cfg.Name == "" || cfg.Issuer == "" || cfg.ClientID == "" || cfg.RedirectURL == "" {
		return nil, fmt.Errorf("%s oidc config missing required fields", cfg.Name)
	}

	discovered, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("init %s oidc provider: %w", cfg.Name, err)
	}

	endpoint := discovered.Endpoint()
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	verifier := discovered.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return newProvider(cfg, endpoint, verifier, logger), nil
}

func newProvider(cfg ProviderConfig, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier, logger *slog.Logger) *OIDCProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &OIDCProvider{
		name: strings.ToLower(cfg.Name),
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: verifier,
		logger:   logger,
	}
}

func (p *OIDCProvider) Name() string {
	return p.name
}

// AuthCodeURL builds the authorization URL with the S256 PKCE challenge.
func (p *OIDCProvider) AuthCodeURL(state, codeChallenge string) string {
	return p.oauth.AuthCodeURL(
		state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Exchange redeems the code and returns the verified identity.
func (p *OIDCProvider) Exchange(ctx context.Context, code, codeVerifier string) (types.Assertion, error) {
	token, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return types.Assertion{}, fmt.Errorf("%s token exchange: %w", p.name, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return types.Assertion{}, fmt.Errorf("%s did not return id_token", p.name)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return types.Assertion{}, fmt.Errorf("%s id_token verification: %w", p.name, err)
	}

	var claims struct {
		Subject       string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		GivenName     string `json:"given_name"`
		FamilyName    string `json:"family_name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return types.Assertion{}, fmt.Errorf("%s id_token claims: %w", p.name, err)
	}
	if claims.Subject == "" || claims.Email == "" {
		return types.Assertion{}, errors.New(p.name + " id_token missing required claims")
	}

	p.logger.DebugContext(ctx, "oidc identity verified",
		slog.String("provider", p.name),
		slog.String("issuer", idToken.Issuer),
		slog.Bool("email_verified", claims.EmailVerified),
	)

	return types.Assertion{
		Provider:        p.name,
		ProviderSubject: claims.Subject,
		Email:           claims.Email,
		EmailVerified:   claims.EmailVerified,
		DisplayName:     claims.Name,
		GivenName:       claims.GivenName,
		FamilyName:      claims.FamilyName,
	}, nil
}
