package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/osda-portal/apiserver/internal/audit"
	"github.com/osda-portal/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeProvider struct {
	name      string
	assertion types.Assertion
	err       error

	gotCode     string
	gotVerifier string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthCodeURL(state, challenge string) string {
	q := url.Values{"state": {state}, "code_challenge": {challenge}, "code_challenge_method": {"S256"}}
	return "https://idp.test/authorize?" + q.Encode()
}

func (p *fakeProvider) Exchange(_ context.Context, code, verifier string) (types.Assertion, error) {
	p.gotCode = code
	p.gotVerifier = verifier
	return p.assertion, p.err
}

func newBridge(f *fixture, providers ...Provider) *Bridge {
	opts := []BridgeOption{WithAuditRecorder(f.recorder), WithBridgeClock(f.clock.Now)}
	for _, p := range providers {
		opts = append(opts, WithProvider(p))
	}
	return NewBridge(f.accounts, f.pending, f.issuer, f.hasher, f.redirects, opts...)
}

func verifiedAssertion(email string) types.Assertion {
	return types.Assertion{
		Provider:        "google",
		ProviderSubject: "sub-" + email,
		Email:           email,
		EmailVerified:   true,
		DisplayName:     "Ravi Kumar Sahu",
	}
}

func completion(email string, role types.Role) types.ProfileInput {
	return types.ProfileInput{
		Email:     email,
		FirstName: "Ravi",
		LastName:  "Sahu",
		Role:      role,
		Password:  "federated-pass",
	}
}

func TestBeginBuildsPKCERequest(t *testing.T) {
	f := newFixture(t)
	provider := &fakeProvider{name: "google"}
	bridge := newBridge(f, provider)

	result, err := bridge.Begin(context.Background(), "Google", "/app/jobs")
	require.NoError(t, err)
	assert.Equal(t, "/app/jobs", result.Redirect)
	assert.NotEmpty(t, result.State)
	assert.NotEmpty(t, result.CodeVerifier)

	u, err := url.Parse(result.AuthURL)
	require.NoError(t, err)
	assert.Equal(t, result.State, u.Query().Get("state"))
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(result.CodeVerifier), u.Query().Get("code_challenge"))

	again, err := bridge.Begin(context.Background(), "google", "")
	require.NoError(t, err)
	assert.NotEqual(t, result.State, again.State)
	assert.Equal(t, "/app/dashboard", again.Redirect)
}

func TestBeginRejectsUnknownProviderAndUnsafeTarget(t *testing.T) {
	f := newFixture(t)
	bridge := newBridge(f, &fakeProvider{name: "google"})

	_, err := bridge.Begin(context.Background(), "github", "")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = bridge.Begin(context.Background(), "google", "https://evil.example/x")
	assert.ErrorIs(t, err, ErrUnsafeRedirectTarget)
}

func TestCallbackNewEmailNeedsProfile(t *testing.T) {
	f := newFixture(t)
	provider := &fakeProvider{name: "google", assertion: verifiedAssertion("new@x.test")}
	bridge := newBridge(f, provider)

	outcome := bridge.Callback(context.Background(), "google", "code-1", "verifier-1", "/app/courses")
	require.IsType(t, NeedsProfile{}, outcome)
	assert.Equal(t, StateProfileIncomplete, outcome.State())
	assert.Equal(t, "code-1", provider.gotCode)
	assert.Equal(t, "verifier-1", provider.gotVerifier)

	needs := outcome.(NeedsProfile)
	assert.Equal(t, "/app/courses", needs.Redirect)
	assert.Equal(t, "new@x.test", needs.Pending.Email)
	assert.Equal(t, "Ravi", needs.Pending.FirstName)
	assert.Equal(t, "Kumar Sahu", needs.Pending.LastName)
	assert.Equal(t, f.clock.Now().Add(DefaultPendingTTL), needs.Pending.ExpiresAt)

	_, err := f.accounts.GetByEmail(context.Background(), "new@x.test")
	assert.Error(t, err, "no account is created before profile completion")
}

func TestHandleAssertionCompletedAccountAuthenticates(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "emp@x.test", "", types.RoleEmployer, types.StatusActive)
	bridge := newBridge(f)

	outcome := bridge.HandleAssertion(context.Background(), verifiedAssertion("EMP@x.test"), "/app/dashboard")
	require.IsType(t, Authenticated{}, outcome)

	authed := outcome.(Authenticated)
	assert.Equal(t, account.ID, authed.Account.ID)
	assert.Equal(t, "/app/dashboard", authed.Redirect)

	claims, err := f.verifier.Verify(authed.Token.Value)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.Subject)
	assert.Contains(t, f.sink.types(), audit.EventLoginSucceeded)
}

func TestHandleAssertionIncompleteAccountNeedsProfile(t *testing.T) {
	f := newFixture(t)
	_, err := f.accounts.Create(context.Background(), types.Account{
		Email:  "half@x.test",
		Role:   types.RoleStudent,
		Status: types.StatusActive,
	})
	require.NoError(t, err)
	bridge := newBridge(f)

	outcome := bridge.HandleAssertion(context.Background(), verifiedAssertion("half@x.test"), "/app/dashboard")
	assert.IsType(t, NeedsProfile{}, outcome)
}

func TestHandleAssertionFailures(t *testing.T) {
	f := newFixture(t)
	f.createAccount(t, "blocked@x.test", "", types.RoleEmployer, types.StatusSuspended)
	bridge := newBridge(f)

	unverified := verifiedAssertion("someone@x.test")
	unverified.EmailVerified = false
	noEmail := verifiedAssertion("")

	tests := []struct {
		name      string
		assertion types.Assertion
		wantErr   error
	}{
		{name: "suspended", assertion: verifiedAssertion("blocked@x.test"), wantErr: ErrAccountNotActive},
		{name: "unverified email", assertion: unverified, wantErr: ErrEmailNotVerified},
		{name: "no email", assertion: noEmail, wantErr: ErrProviderExchange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := bridge.HandleAssertion(context.Background(), tt.assertion, "/app")
			require.IsType(t, Failed{}, outcome)
			assert.Equal(t, StateUnauthenticated, outcome.State())
			assert.ErrorIs(t, outcome.(Failed).Err, tt.wantErr)
		})
	}
}

func TestCallbackFailures(t *testing.T) {
	f := newFixture(t)
	broken := &fakeProvider{name: "keycloak", err: errors.New("invalid_grant")}
	bridge := newBridge(f, broken, &fakeProvider{name: "google", assertion: verifiedAssertion("a@x.test")})
	ctx := context.Background()

	outcome := bridge.Callback(ctx, "keycloak", "code", "verifier", "")
	require.IsType(t, Failed{}, outcome)
	assert.ErrorIs(t, outcome.(Failed).Err, ErrProviderExchange)

	outcome = bridge.Callback(ctx, "google", "code", "verifier", "https://evil.example/x")
	require.IsType(t, Failed{}, outcome)
	assert.ErrorIs(t, outcome.(Failed).Err, ErrUnsafeRedirectTarget)

	outcome = bridge.Callback(ctx, "google", "", "verifier", "")
	require.IsType(t, Failed{}, outcome)
	assert.ErrorIs(t, outcome.(Failed).Err, ErrProviderExchange)

	outcome = bridge.Callback(ctx, "facebook", "code", "verifier", "")
	require.IsType(t, Failed{}, outcome)
	assert.ErrorIs(t, outcome.(Failed).Err, ErrUnknownProvider)
}

func startPending(t *testing.T, bridge *Bridge, email string) types.PendingFederatedIdentity {
	t.Helper()
	outcome := bridge.HandleAssertion(context.Background(), verifiedAssertion(email), "/app/dashboard")
	require.IsType(t, NeedsProfile{}, outcome)
	return outcome.(NeedsProfile).Pending
}

func TestCompleteProfileCreatesActiveAccount(t *testing.T) {
	f := newFixture(t)
	bridge := newBridge(f)
	pending := startPending(t, bridge, "new@x.test")

	in := completion("new@x.test", types.RoleTrainingPartner)
	in.OrganizationName = "Skill Hub Pvt Ltd"
	account, token, err := bridge.CompleteProfile(context.Background(), pending.ID, in)
	require.NoError(t, err)

	assert.Equal(t, types.StatusActive, account.Status)
	assert.True(t, account.ProfileCompleted)
	assert.Equal(t, types.RoleTrainingPartner, account.Role)
	assert.Equal(t, "google", account.Provider)
	assert.True(t, f.hasher.Compare(account.PasswordHash, "federated-pass"))

	claims, err := f.verifier.Verify(token.Value)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.Subject)

	_, err = bridge.Pending(context.Background(), pending.ID)
	assert.ErrorIs(t, err, ErrPendingNotFound)
	assert.Contains(t, f.sink.types(), audit.EventProfileCompleted)
}

func TestCompleteProfileFinishesIncompleteAccount(t *testing.T) {
	f := newFixture(t)
	existing, err := f.accounts.Create(context.Background(), types.Account{
		Email:  "half@x.test",
		Role:   types.RoleStudent,
		Status: types.StatusPending,
	})
	require.NoError(t, err)
	bridge := newBridge(f)
	pending := startPending(t, bridge, "half@x.test")

	account, _, err := bridge.CompleteProfile(context.Background(), pending.ID, completion("half@x.test", types.RoleStudent))
	require.NoError(t, err)
	assert.Equal(t, existing.ID, account.ID)
	assert.Equal(t, types.StatusActive, account.Status)
	assert.True(t, account.ProfileCompleted)
}

func TestCompleteProfileRejections(t *testing.T) {
	f := newFixture(t)
	bridge := newBridge(f)
	ctx := context.Background()

	_, _, err := bridge.CompleteProfile(ctx, "missing", completion("x@x.test", types.RoleStudent))
	assert.ErrorIs(t, err, ErrPendingNotFound)

	pending := startPending(t, bridge, "new@x.test")

	in := completion("new@x.test", types.RoleStudent)
	in.FirstName = ""
	_, _, err = bridge.CompleteProfile(ctx, pending.ID, in)
	require.ErrorIs(t, err, ErrMissingFields)
	assert.Equal(t, []string{"firstName"}, AsError(err).Fields)

	_, _, err = bridge.CompleteProfile(ctx, pending.ID, completion("new@x.test", types.RoleOSDAAdmin))
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, _, err = bridge.CompleteProfile(ctx, pending.ID, completion("other@x.test", types.RoleStudent))
	assert.ErrorIs(t, err, ErrInvalidField)

	// Rejections keep the pending identity so the user can correct the form.
	_, err = bridge.Pending(ctx, pending.ID)
	assert.NoError(t, err)
	assert.Contains(t, f.sink.types(), audit.EventProfileRejected)
}

func TestCompleteProfileDuplicate(t *testing.T) {
	f := newFixture(t)
	bridge := newBridge(f)
	pending := startPending(t, bridge, "dup@x.test")

	f.createAccount(t, "dup@x.test", "already-there", types.RoleEmployer, types.StatusActive)

	_, _, err := bridge.CompleteProfile(context.Background(), pending.ID, completion("dup@x.test", types.RoleEmployer))
	assert.ErrorIs(t, err, ErrDuplicateProfile)
}

func TestCompleteProfilePendingExpires(t *testing.T) {
	f := newFixture(t)
	bridge := newBridge(f)
	pending := startPending(t, bridge, "slow@x.test")

	f.clock.Advance(DefaultPendingTTL + time.Second)
	_, _, err := bridge.CompleteProfile(context.Background(), pending.ID, completion("slow@x.test", types.RoleStudent))
	assert.ErrorIs(t, err, ErrPendingNotFound)
}

func TestCompleteProfileConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	bridge := newBridge(f)

	const attempts = 8
	ids := make([]string, attempts)
	for i := range ids {
		ids[i] = startPending(t, bridge, "race@x.test").ID
	}

	var wg sync.WaitGroup
	var succeeded, duplicated atomic.Int32
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _, err := bridge.CompleteProfile(context.Background(), id, completion("race@x.test", types.RoleStudent))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrDuplicateProfile):
				duplicated.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(ids[i])
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(attempts-1), duplicated.Load())
}

func TestLoginOutcomeStates(t *testing.T) {
	outcomes := []LoginOutcome{Authenticated{}, NeedsProfile{}, Failed{Err: ErrInternal}}
	want := []FlowState{StateAuthenticated, StateProfileIncomplete, StateUnauthenticated}
	for i, outcome := range outcomes {
		assert.Equal(t, want[i], outcome.State(), fmt.Sprintf("%T", outcome))
	}
}
