package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/osda-portal/apiserver/internal/audit"
	"github.com/osda-portal/apiserver/internal/pending"
	"github.com/osda-portal/apiserver/internal/store"
	"github.com/osda-portal/apiserver/types"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret-please-rotate"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *captureSink) Record(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event.Type)
	}
	return out
}

type fixture struct {
	clock       *clock
	accounts    *store.MemoryAccountRepository
	pending     *pending.MemoryStore
	hasher      *PasswordHasher
	issuer      *TokenIssuer
	verifier    *TokenVerifier
	permissions *Permissions
	redirects   RedirectPolicy
	sink        *captureSink
	recorder    *audit.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	c := newClock()
	issuer, err := NewTokenIssuer(testSecret, WithClock(c.Now))
	require.NoError(t, err)
	verifier, err := NewTokenVerifier(testSecret, WithClock(c.Now))
	require.NoError(t, err)
	permissions, err := NewPermissions(DefaultPermissionTable())
	require.NoError(t, err)
	redirects, err := NewRedirectPolicy("https://portal.osda.test", "/app/dashboard")
	require.NoError(t, err)

	sink := &captureSink{}
	return &fixture{
		clock:       c,
		accounts:    store.NewMemoryAccountRepository(),
		pending:     pending.NewMemoryStore(pending.WithClock(c.Now)),
		hasher:      NewPasswordHasher(bcrypt.MinCost),
		issuer:      issuer,
		verifier:    verifier,
		permissions: permissions,
		redirects:   redirects,
		sink:        sink,
		recorder:    audit.NewRecorder(nil, sink),
	}
}

func (f *fixture) createAccount(t *testing.T, email, password string, role types.Role, status types.AccountStatus) types.Account {
	t.Helper()

	account := types.Account{
		Email:            email,
		FirstName:        "Test",
		LastName:         "User",
		Role:             role,
		Status:           status,
		ProfileCompleted: true,
	}
	if password != "" {
		hash, err := f.hasher.Hash(password)
		require.NoError(t, err)
		account.PasswordHash = hash
	}
	created, err := f.accounts.Create(context.Background(), account)
	require.NoError(t, err)
	return created
}
