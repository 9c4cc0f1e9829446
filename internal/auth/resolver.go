package auth

import (
	"context"
	"errors"

	"github.com/osda-portal/apiserver/internal/store"
	"github.com/osda-portal/apiserver/types"
)

// AccountReader is the lookup the resolver performs on every request.
type AccountReader interface {
	GetByID(ctx context.Context, id string) (types.Account, error)
}

// PrincipalResolver turns a bearer token into the principal of the current
// request. The account is re-read on every call so status changes apply
// to tokens already issued, and permissions come from the active table.
type PrincipalResolver struct {
	verifier    *TokenVerifier
	accounts    AccountReader
	permissions *Permissions
}

func NewPrincipalResolver(verifier *TokenVerifier, accounts AccountReader, permissions *Permissions) *PrincipalResolver {
	return &PrincipalResolver{verifier: verifier, accounts: accounts, permissions: permissions}
}

func (r *PrincipalResolver) Resolve(ctx context.Context, raw string) (types.Principal, error) {
	claims, err := r.verifier.Verify(raw)
	if err != nil {
		return types.Principal{}, err
	}

	account, err := r.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Principal{}, ErrUnknownSubject
		}
		return types.Principal{}, ErrInternal.Wrap(err)
	}
	if !account.CanAuthenticate() {
		return types.Principal{}, ErrInactiveSubject
	}
	// A role change after issuance invalidates the token.
	if account.Role != claims.Role {
		return types.Principal{}, ErrMalformedToken.Wrap(errors.New("role claim no longer matches account"))
	}

	return r.permissions.PrincipalFor(account), nil
}
