package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/osda-portal/apiserver/types"
)

const (
	// TokenTTL is the fixed lifetime of issued tokens.
	TokenTTL = 24 * time.Hour

	// DefaultLeeway absorbs clock skew between issuing and verifying hosts.
	DefaultLeeway = 5 * time.Second

	DefaultIssuer = "osda-portal"
)

// Claims is the payload of a portal token. Email and role are a snapshot
// taken at issuance; permissions are never embedded.
type Claims struct {
	Email string     `json:"email"`
	Role  types.Role `json:"role"`
	jwt.RegisteredClaims
}

type tokenConfig struct {
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// TokenOption configures TokenIssuer and TokenVerifier.
type TokenOption func(*tokenConfig)

func WithIssuer(issuer string) TokenOption {
	return func(c *tokenConfig) {
		if strings.TrimSpace(issuer) != "" {
			c.issuer = issuer
		}
	}
}

func WithLeeway(leeway time.Duration) TokenOption {
	return func(c *tokenConfig) {
		if leeway >= 0 {
			c.leeway = leeway
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(c *tokenConfig) {
		if now != nil {
			c.now = now
		}
	}
}

func newTokenConfig(opts []TokenOption) tokenConfig {
	cfg := tokenConfig{issuer: DefaultIssuer, leeway: DefaultLeeway, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// TokenIssuer signs HS256 tokens for authenticated accounts.
type TokenIssuer struct {
	secret []byte
	cfg    tokenConfig
}

func NewTokenIssuer(secret string, opts ...TokenOption) (*TokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is required")
	}
	return &TokenIssuer{secret: []byte(secret), cfg: newTokenConfig(opts)}, nil
}

// Issue signs a token for account. Issuing twice for the same account at
// the same second yields the same token.
func (i *TokenIssuer) Issue(account types.Account) (types.Token, error) {
	if strings.TrimSpace(account.ID) == "" {
		return types.Token{}, ErrInternal.Wrap(errors.New("issue token: account has no id"))
	}

	now := i.cfg.now().UTC().Truncate(time.Second)
	expires := now.Add(TokenTTL)
	claims := Claims{
		Email: account.Email,
		Role:  account.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			Issuer:    i.cfg.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return types.Token{}, ErrInternal.Wrap(err)
	}
	return types.Token{
		Value:     signed,
		SubjectID: account.ID,
		Email:     account.Email,
		Role:      account.Role,
		IssuedAt:  now,
		ExpiresAt: expires,
	}, nil
}

// TokenVerifier checks signature, issuer and expiry of portal tokens.
type TokenVerifier struct {
	secret []byte
	parser *jwt.Parser
	cfg    tokenConfig
}

func NewTokenVerifier(secret string, opts ...TokenOption) (*TokenVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is required")
	}
	cfg := newTokenConfig(opts)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.issuer),
		jwt.WithLeeway(cfg.leeway),
		jwt.WithTimeFunc(cfg.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	return &TokenVerifier{secret: []byte(secret), parser: parser, cfg: cfg}, nil
}

// Verify parses raw and returns its claims. Failures are ErrMissingToken,
// ErrExpiredToken or ErrMalformedToken.
func (v *TokenVerifier) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken.Wrap(err)
		}
		return nil, ErrMalformedToken.Wrap(err)
	}
	if !token.Valid {
		return nil, ErrMalformedToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrMalformedToken.Wrap(errors.New("missing subject"))
	}
	if !claims.Role.IsValid() {
		return nil, ErrMalformedToken.Wrap(errors.New("unknown role claim"))
	}
	return claims, nil
}
