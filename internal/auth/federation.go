package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/osda-portal/apiserver/internal/audit"
	"github.com/osda-portal/apiserver/internal/store"
	"github.com/osda-portal/apiserver/types"
	"golang.org/x/oauth2"
)

// DefaultPendingTTL bounds how long a user has to complete their profile
// after returning from the provider.
const DefaultPendingTTL = 30 * time.Minute

// FlowState names the stages of a federated sign-in.
type FlowState string

const (
	StateUnauthenticated   FlowState = "unauthenticated"
	StateProviderRedirect  FlowState = "provider_redirect"
	StateAssertionReceived FlowState = "assertion_received"
	StateProfileIncomplete FlowState = "profile_incomplete"
	StateAuthenticated     FlowState = "authenticated"
)

// LoginOutcome is the result of handling a provider callback. It is one
// of Authenticated, NeedsProfile or Failed.
type LoginOutcome interface {
	State() FlowState
	isLoginOutcome()
}

// Authenticated means the email belonged to a completed, active account.
type Authenticated struct {
	Account  types.Account
	Token    types.Token
	Redirect string
}

// NeedsProfile means the user must complete a profile before an account
// exists. Redirect is where to go once that is done.
type NeedsProfile struct {
	Pending  types.PendingFederatedIdentity
	Redirect string
}

// Failed is terminal; the user starts over from the sign-in page.
type Failed struct {
	Err error
}

func (Authenticated) State() FlowState { return StateAuthenticated }
func (NeedsProfile) State() FlowState  { return StateProfileIncomplete }
func (Failed) State() FlowState        { return StateUnauthenticated }

func (Authenticated) isLoginOutcome() {}
func (NeedsProfile) isLoginOutcome()  {}
func (Failed) isLoginOutcome()        {}

// BeginResult carries what the caller must remember between redirecting
// to the provider and receiving the callback.
type BeginResult struct {
	AuthURL      string
	State        string
	CodeVerifier string
	Redirect     string
}

// Bridge connects external identity providers to portal accounts.
type Bridge struct {
	providers  map[string]Provider
	accounts   AccountRepository
	pending    PendingStore
	issuer     *TokenIssuer
	hasher     *PasswordHasher
	redirects  RedirectPolicy
	audit      *audit.Recorder
	logger     *slog.Logger
	pendingTTL time.Duration
	now        func() time.Time
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

func WithProvider(provider Provider) BridgeOption {
	return func(b *Bridge) {
		if provider != nil {
			b.providers[strings.ToLower(provider.Name())] = provider
		}
	}
}

func WithPendingTTL(ttl time.Duration) BridgeOption {
	return func(b *Bridge) {
		if ttl > 0 {
			b.pendingTTL = ttl
		}
	}
}

func WithAuditRecorder(recorder *audit.Recorder) BridgeOption {
	return func(b *Bridge) { b.audit = recorder }
}

func WithLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithBridgeClock(now func() time.Time) BridgeOption {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

func NewBridge(accounts AccountRepository, pending PendingStore, issuer *TokenIssuer, hasher *PasswordHasher, redirects RedirectPolicy, opts ...BridgeOption) *Bridge {
	if hasher == nil {
		hasher = NewPasswordHasher(0)
	}
	b := &Bridge{
		providers:  make(map[string]Provider),
		accounts:   accounts,
		pending:    pending,
		issuer:     issuer,
		hasher:     hasher,
		redirects:  redirects,
		logger:     slog.Default(),
		pendingTTL: DefaultPendingTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Providers lists the configured provider names.
func (b *Bridge) Providers() []string {
	names := make([]string, 0, len(b.providers))
	for name := range b.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Bridge) provider(name string) (Provider, error) {
	provider, ok := b.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return provider, nil
}

// Begin validates the post-login target and builds the provider
// authorization URL with a fresh state and PKCE verifier.
func (b *Bridge) Begin(_ context.Context, providerName, redirectTarget string) (BeginResult, error) {
	provider, err := b.provider(providerName)
	if err != nil {
		return BeginResult{}, err
	}
	redirect, err := b.redirects.Resolve(redirectTarget)
	if err != nil {
		return BeginResult{}, err
	}

	state, err := randomToken(32)
	if err != nil {
		return BeginResult{}, ErrInternal.Wrap(err)
	}
	verifier := oauth2.GenerateVerifier()
	return BeginResult{
		AuthURL:      provider.AuthCodeURL(state, oauth2.S256ChallengeFromVerifier(verifier)),
		State:        state,
		CodeVerifier: verifier,
		Redirect:     redirect,
	}, nil
}

// Callback exchanges the authorization code and handles the resulting
// assertion. The redirect target is checked again because it travelled
// through the browser.
func (b *Bridge) Callback(ctx context.Context, providerName, code, codeVerifier, redirectTarget string) LoginOutcome {
	provider, err := b.provider(providerName)
	if err != nil {
		return Failed{Err: err}
	}
	redirect, err := b.redirects.Resolve(redirectTarget)
	if err != nil {
		return Failed{Err: err}
	}
	if strings.TrimSpace(code) == "" {
		return Failed{Err: ErrProviderExchange.WithMessage("authorization code missing")}
	}

	assertion, err := provider.Exchange(ctx, code, codeVerifier)
	if err != nil {
		b.logger.WarnContext(ctx, "provider exchange failed",
			slog.String("provider", provider.Name()),
			slog.Any("error", err),
		)
		return Failed{Err: ErrProviderExchange.Wrap(err)}
	}
	if assertion.Provider == "" {
		assertion.Provider = provider.Name()
	}
	return b.HandleAssertion(ctx, assertion, redirect)
}

// HandleAssertion maps a verified assertion to an outcome. A completed,
// active account signs in directly; any other email, including an
// account whose profile was never completed, must go through profile
// completion.
func (b *Bridge) HandleAssertion(ctx context.Context, assertion types.Assertion, redirect string) LoginOutcome {
	email := strings.ToLower(strings.TrimSpace(assertion.Email))
	if email == "" || strings.TrimSpace(assertion.ProviderSubject) == "" {
		return Failed{Err: ErrProviderExchange.WithMessage("identity provider returned an incomplete identity")}
	}
	if !assertion.EmailVerified {
		b.emitAssertion(ctx, assertion, "", CodeEmailNotVerified)
		return Failed{Err: ErrEmailNotVerified}
	}

	account, err := b.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil && account.ProfileCompleted:
		if !account.CanAuthenticate() {
			b.emitAssertion(ctx, assertion, account.ID, CodeAccountNotActive)
			return Failed{Err: ErrAccountNotActive}
		}
		token, err := b.issuer.Issue(account)
		if err != nil {
			return Failed{Err: err}
		}
		b.emitAssertion(ctx, assertion, account.ID, "")
		event := audit.NewEvent(audit.EventLoginSucceeded)
		event.AccountID = account.ID
		event.Email = account.Email
		event.Fields = map[string]string{"method": "federated", "provider": assertion.Provider}
		b.audit.Emit(ctx, event)
		return Authenticated{Account: account, Token: token, Redirect: redirect}
	case err != nil && !errors.Is(err, store.ErrNotFound):
		b.logger.ErrorContext(ctx, "load account for federated login", slog.Any("error", err))
		return Failed{Err: ErrInternal.Wrap(err)}
	}

	id, err := randomToken(24)
	if err != nil {
		return Failed{Err: ErrInternal.Wrap(err)}
	}
	now := b.now().UTC()
	first, last := splitName(assertion)
	pending := types.PendingFederatedIdentity{
		ID:              id,
		Provider:        assertion.Provider,
		ProviderSubject: assertion.ProviderSubject,
		Email:           email,
		DisplayName:     strings.TrimSpace(assertion.DisplayName),
		FirstName:       first,
		LastName:        last,
		CreatedAt:       now,
		ExpiresAt:       now.Add(b.pendingTTL),
	}
	if err := b.pending.Save(ctx, pending); err != nil {
		b.logger.ErrorContext(ctx, "save pending identity", slog.Any("error", err))
		return Failed{Err: ErrInternal.Wrap(err)}
	}
	b.emitAssertion(ctx, assertion, account.ID, CodeMissingFields)
	return NeedsProfile{Pending: pending, Redirect: redirect}
}

// Pending returns the identity awaiting completion.
func (b *Bridge) Pending(ctx context.Context, pendingID string) (types.PendingFederatedIdentity, error) {
	if strings.TrimSpace(pendingID) == "" {
		return types.PendingFederatedIdentity{}, ErrPendingNotFound
	}
	pending, err := b.pending.Get(ctx, pendingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.PendingFederatedIdentity{}, ErrPendingNotFound
		}
		return types.PendingFederatedIdentity{}, ErrInternal.Wrap(err)
	}
	if !pending.ExpiresAt.IsZero() && !b.now().Before(pending.ExpiresAt) {
		return types.PendingFederatedIdentity{}, ErrPendingNotFound
	}
	return pending, nil
}

// CompleteProfile provisions the account for a pending identity. At most
// one completion per email succeeds; every other attempt, concurrent or
// later, fails with ErrDuplicateProfile.
func (b *Bridge) CompleteProfile(ctx context.Context, pendingID string, in types.ProfileInput) (types.Account, types.Token, error) {
	pending, err := b.Pending(ctx, pendingID)
	if err != nil {
		return types.Account{}, types.Token{}, err
	}

	profile, err := ValidateProfile(in)
	if err != nil {
		b.reject(ctx, pending.Email, err)
		return types.Account{}, types.Token{}, err
	}
	if profile.Email != pending.Email {
		err := ErrInvalidField.WithFields("email").WithMessage("email must match the signed-in identity")
		b.reject(ctx, pending.Email, err)
		return types.Account{}, types.Token{}, err
	}

	hash, err := b.hasher.Hash(profile.Password)
	if err != nil {
		return types.Account{}, types.Token{}, ErrInternal.Wrap(err)
	}

	account, err := b.provision(ctx, pending, profile, hash)
	if err != nil {
		b.reject(ctx, pending.Email, err)
		return types.Account{}, types.Token{}, err
	}

	if err := b.pending.Delete(ctx, pending.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		b.logger.WarnContext(ctx, "delete pending identity", slog.String("pending_id", pending.ID), slog.Any("error", err))
	}

	token, err := b.issuer.Issue(account)
	if err != nil {
		return types.Account{}, types.Token{}, err
	}

	event := audit.NewEvent(audit.EventProfileCompleted)
	event.AccountID = account.ID
	event.Email = account.Email
	event.Fields = map[string]string{"provider": pending.Provider, "role": string(account.Role)}
	b.audit.Emit(ctx, event)
	return account, token, nil
}

func (b *Bridge) provision(ctx context.Context, pending types.PendingFederatedIdentity, profile types.ProfileInput, hash string) (types.Account, error) {
	account := types.Account{
		Email:            profile.Email,
		PasswordHash:     hash,
		FirstName:        profile.FirstName,
		LastName:         profile.LastName,
		Role:             profile.Role,
		Status:           types.StatusActive,
		ProfileCompleted: true,
		OrganizationName: profile.OrganizationName,
		Phone:            profile.Phone,
		Provider:         pending.Provider,
		ProviderSubject:  pending.ProviderSubject,
	}

	existing, err := b.accounts.GetByEmail(ctx, profile.Email)
	switch {
	case err == nil && existing.ProfileCompleted:
		return types.Account{}, ErrDuplicateProfile
	case err == nil:
		account.ID = existing.ID
		completed, err := b.accounts.CompleteProfile(ctx, account)
		if errors.Is(err, store.ErrConflict) {
			return types.Account{}, ErrDuplicateProfile
		}
		if err != nil {
			return types.Account{}, ErrInternal.Wrap(err)
		}
		return completed, nil
	case !errors.Is(err, store.ErrNotFound):
		return types.Account{}, ErrInternal.Wrap(err)
	}

	created, err := b.accounts.Create(ctx, account)
	if errors.Is(err, store.ErrDuplicate) {
		return types.Account{}, ErrDuplicateProfile
	}
	if err != nil {
		return types.Account{}, ErrInternal.Wrap(err)
	}
	return created, nil
}

func (b *Bridge) emitAssertion(ctx context.Context, assertion types.Assertion, accountID, code string) {
	event := audit.NewEvent(audit.EventFederatedAssertion)
	event.AccountID = accountID
	event.Email = strings.ToLower(strings.TrimSpace(assertion.Email))
	event.Code = code
	event.Fields = map[string]string{"provider": assertion.Provider}
	b.audit.Emit(ctx, event)
}

func (b *Bridge) reject(ctx context.Context, email string, err error) {
	typed := AsError(err)
	event := audit.NewEvent(audit.EventProfileRejected)
	event.Email = email
	event.Code = typed.Code
	if len(typed.Fields) > 0 {
		event.Fields = map[string]string{"fields": strings.Join(typed.Fields, ",")}
	}
	b.audit.Emit(ctx, event)
}

func splitName(assertion types.Assertion) (string, string) {
	first := strings.TrimSpace(assertion.GivenName)
	last := strings.TrimSpace(assertion.FamilyName)
	if first != "" || last != "" {
		return first, last
	}
	parts := strings.Fields(assertion.DisplayName)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
