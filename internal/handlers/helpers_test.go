package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/osda-portal/apiserver/internal/auth"
	"github.com/osda-portal/apiserver/internal/metrics"
	"github.com/osda-portal/apiserver/internal/pending"
	"github.com/osda-portal/apiserver/internal/services"
	"github.com/osda-portal/apiserver/internal/store"
	"github.com/osda-portal/apiserver/types"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret      = "handlers-test-secret"
	testBaseOrigin  = "https://portal.osda.test"
	testLanding     = "/app/dashboard"
	testProfilePath = "/complete-profile"
)

type fakeProvider struct {
	assertions map[string]types.Assertion
}

func (p *fakeProvider) Name() string { return "google" }

func (p *fakeProvider) AuthCodeURL(state, codeChallenge string) string {
	q := url.Values{"state": {state}, "code_challenge": {codeChallenge}}
	return "https://idp.test/authorize?" + q.Encode()
}

func (p *fakeProvider) Exchange(_ context.Context, code, _ string) (types.Assertion, error) {
	assertion, ok := p.assertions[code]
	if !ok {
		return types.Assertion{}, errors.New("invalid_grant")
	}
	return assertion, nil
}

type testEnv struct {
	router      http.Handler
	accounts    *store.MemoryAccountRepository
	hasher      *auth.PasswordHasher
	issuer      *auth.TokenIssuer
	provider    *fakeProvider
	metrics     *metrics.Metrics
	permissions *auth.Permissions
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithLimiter(t, NewRateLimiter(0, 1))
}

func newTestEnvWithLimiter(t *testing.T, limiter *RateLimiter) *testEnv {
	t.Helper()

	accounts := store.NewMemoryAccountRepository()
	hasher := auth.NewPasswordHasher(bcrypt.MinCost)
	issuer, err := auth.NewTokenIssuer(testSecret)
	require.NoError(t, err)
	verifier, err := auth.NewTokenVerifier(testSecret)
	require.NoError(t, err)
	permissions, err := auth.NewPermissions(auth.DefaultPermissionTable())
	require.NoError(t, err)
	redirects, err := auth.NewRedirectPolicy(testBaseOrigin, testLanding)
	require.NoError(t, err)

	provider := &fakeProvider{assertions: map[string]types.Assertion{}}
	bridge := auth.NewBridge(accounts, pending.NewMemoryStore(), issuer, hasher, redirects, auth.WithProvider(provider))
	resolver := auth.NewPrincipalResolver(verifier, accounts, permissions)
	m := metrics.New()
	cookies := CookieSettings{Secure: true}
	accountService := services.NewAccountService(accounts, hasher, issuer, nil)

	authMiddleware := RequireAuth(resolver, m)
	router := chi.NewRouter()
	router.Route("/auth", func(r chi.Router) {
		AuthRouter(r, NewAuthHandler(auth.NewCredentialVerifier(accounts, hasher, nil, nil), issuer, permissions, accountService, cookies, m, nil), authMiddleware, limiter)
		r.Route("/federated", func(r chi.Router) {
			FederatedRouter(r, NewFederatedHandler(bridge, redirects, testProfilePath, cookies, m, nil))
		})
	})
	router.Route("/admin", func(r chi.Router) {
		AdminRouter(r, NewAdminHandler(accountService, permissions), authMiddleware)
	})

	return &testEnv{
		router:      router,
		accounts:    accounts,
		hasher:      hasher,
		issuer:      issuer,
		provider:    provider,
		metrics:     m,
		permissions: permissions,
	}
}

func (e *testEnv) createAccount(t *testing.T, email, password string, role types.Role, status types.AccountStatus) types.Account {
	t.Helper()
	hash, err := e.hasher.Hash(password)
	require.NoError(t, err)
	account, err := e.accounts.Create(context.Background(), types.Account{
		Email:            email,
		PasswordHash:     hash,
		FirstName:        "Test",
		LastName:         "User",
		Role:             role,
		Status:           status,
		ProfileCompleted: true,
	})
	require.NoError(t, err)
	return account
}

func (e *testEnv) tokenFor(t *testing.T, account types.Account) string {
	t.Helper()
	token, err := e.issuer.Issue(account)
	require.NoError(t, err)
	return token.Value
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookies(cookies ...*http.Cookie) func(*http.Request) {
	return func(r *http.Request) {
		for _, c := range cookies {
			if c.MaxAge >= 0 && c.Value != "" {
				r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
			}
		}
	}
}

func withQuery(values url.Values) func(*http.Request) {
	return func(r *http.Request) { r.URL.RawQuery = values.Encode() }
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
