package auth

import (
	"context"
	"net/http"
	"testing"

	"github.com/osda-portal/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePrincipal(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "emp@x.test", "employer-pass", types.RoleEmployer, types.StatusActive)
	resolver := NewPrincipalResolver(f.verifier, f.accounts, f.permissions)

	token, err := f.issuer.Issue(account)
	require.NoError(t, err)

	principal, err := resolver.Resolve(context.Background(), token.Value)
	require.NoError(t, err)
	assert.Equal(t, account.ID, principal.ID)
	assert.Equal(t, types.RoleEmployer, principal.Role)
	assert.Equal(t, f.permissions.For(types.RoleEmployer), principal.Permissions)
	assert.True(t, principal.HasPermission(PermJobsPost))
}

func TestResolveUsesCurrentPermissionTable(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "s@x.test", "student-pass", types.RoleStudent, types.StatusActive)
	resolver := NewPrincipalResolver(f.verifier, f.accounts, f.permissions)
	token, err := f.issuer.Issue(account)
	require.NoError(t, err)

	table := DefaultPermissionTable()
	table.Version = "2026-10-02"
	table.Roles[types.RoleStudent] = append(table.Roles[types.RoleStudent], "certificates.download")
	require.NoError(t, f.permissions.Replace(table))

	principal, err := resolver.Resolve(context.Background(), token.Value)
	require.NoError(t, err)
	assert.True(t, principal.HasPermission("certificates.download"))
}

func TestResolveRejectsAccountsSuspendedAfterIssue(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "tp@x.test", "partner-pass", types.RoleTrainingPartner, types.StatusActive)
	resolver := NewPrincipalResolver(f.verifier, f.accounts, f.permissions)
	token, err := f.issuer.Issue(account)
	require.NoError(t, err)

	_, err = f.accounts.UpdateStatus(context.Background(), account.ID, types.StatusSuspended)
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), token.Value)
	assert.ErrorIs(t, err, ErrAccountNotActive)
	assert.Equal(t, http.StatusUnauthorized, AsError(err).Status)
}

func TestResolveUnknownSubject(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "gone@x.test", "gone-pass", types.RoleStudent, types.StatusActive)
	resolver := NewPrincipalResolver(f.verifier, f.accounts, f.permissions)
	token, err := f.issuer.Issue(account)
	require.NoError(t, err)

	require.NoError(t, f.accounts.Delete(context.Background(), account.ID))

	_, err = resolver.Resolve(context.Background(), token.Value)
	assert.ErrorIs(t, err, ErrUnknownSubject)
}

func TestResolveRejectsStaleRoleClaim(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "si@x.test", "integrator-pass", types.RoleSystemIntegrator, types.StatusActive)
	resolver := NewPrincipalResolver(f.verifier, f.accounts, f.permissions)

	forged := account
	forged.Role = types.RoleOSDAAdmin
	token, err := f.issuer.Issue(forged)
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), token.Value)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestResolveMissingToken(t *testing.T) {
	f := newFixture(t)
	resolver := NewPrincipalResolver(f.verifier, f.accounts, f.permissions)

	_, err := resolver.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingToken)
}
