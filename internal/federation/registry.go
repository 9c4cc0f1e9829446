package federation

import (
	"context"
	"log/slog"

	"github.com/osda-portal/apiserver/config"
	"github.com/osda-portal/apiserver/internal/auth"
)

const googleIssuer = "https://accounts.google.com"

// FromConfig builds every provider that has a client registration.
// Providers without a client id are skipped.
func FromConfig(ctx context.Context, cfg config.ProvidersConfig, logger *slog.Logger) ([]auth.Provider, error) {
	var providers []auth.Provider

	if cfg.GoogleClientID != "" {
		google, err := NewOIDCProvider(ctx, ProviderConfig{
			Name:         "google",
			Issuer:       googleIssuer,
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, google)
	}

	if cfg.KeycloakClientID != "" {
		keycloak, err := NewOIDCProvider(ctx, ProviderConfig{
			Name:         "keycloak",
			Issuer:       cfg.KeycloakIssuer,
			ClientID:     cfg.KeycloakClientID,
			ClientSecret: cfg.KeycloakClientSecret,
			RedirectURL:  cfg.KeycloakRedirectURL,
			AuthURL:      cfg.KeycloakPublicAuthURL,
		}, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, keycloak)
	}

	return providers, nil
}
