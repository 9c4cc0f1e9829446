package auth

import (
	"context"

	"github.com/osda-portal/apiserver/types"
)

// AccountRepository is the persistence the auth core needs. Lookups
// return store.ErrNotFound when nothing matches, Create returns
// store.ErrDuplicate when the email is taken, and CompleteProfile returns
// store.ErrConflict when the account was completed concurrently.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (types.Account, error)
	GetByEmail(ctx context.Context, email string) (types.Account, error)
	Create(ctx context.Context, account types.Account) (types.Account, error)
	CompleteProfile(ctx context.Context, account types.Account) (types.Account, error)
}

// PendingStore keeps provider assertions between callback and profile
// completion. Get returns store.ErrNotFound once an entry is gone or has
// expired.
type PendingStore interface {
	Save(ctx context.Context, pending types.PendingFederatedIdentity) error
	Get(ctx context.Context, id string) (types.PendingFederatedIdentity, error)
	Delete(ctx context.Context, id string) error
}

// Provider is an external identity provider reached through an
// authorization code flow with PKCE.
type Provider interface {
	Name() string
	AuthCodeURL(state, codeChallenge string) string
	Exchange(ctx context.Context, code, codeVerifier string) (types.Assertion, error)
}
