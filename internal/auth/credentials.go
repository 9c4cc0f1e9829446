package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/osda-portal/apiserver/internal/audit"
	"github.com/osda-portal/apiserver/internal/store"
	"github.com/osda-portal/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is enforced on every password set through the API.
const MinPasswordLength = 8

// PasswordHasher hashes and compares bcrypt credentials.
type PasswordHasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewPasswordHasher returns a hasher using cost, or bcrypt.DefaultCost when
// cost is out of range.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// Compare reports whether password matches hash.
func (h *PasswordHasher) Compare(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// burn spends the same work as a real comparison. Used when there is no
// stored hash to compare against.
func (h *PasswordHasher) burn(password string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("osda-portal-dummy-credential"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}

// CredentialVerifier checks email and password against stored accounts.
type CredentialVerifier struct {
	accounts AccountRepository
	hasher   *PasswordHasher
	audit    *audit.Recorder
	logger   *slog.Logger
}

func NewCredentialVerifier(accounts AccountRepository, hasher *PasswordHasher, recorder *audit.Recorder, logger *slog.Logger) *CredentialVerifier {
	if hasher == nil {
		hasher = NewPasswordHasher(bcrypt.DefaultCost)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialVerifier{accounts: accounts, hasher: hasher, audit: recorder, logger: logger}
}

// Verify returns the account matching email and password. Unknown emails,
// accounts without a password and wrong passwords all fail with
// ErrInvalidCredentials and cost one bcrypt comparison each. Only a correct
// password on an inactive account reveals ErrAccountNotActive.
func (v *CredentialVerifier) Verify(ctx context.Context, email, password string) (types.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return types.Account{}, ErrMissingFields.WithFields(missingCredentialFields(email, password)...)
	}

	account, err := v.accounts.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		v.hasher.burn(password)
		v.fail(ctx, email, "", "unknown_email")
		return types.Account{}, ErrInvalidCredentials
	case err != nil:
		v.logger.ErrorContext(ctx, "load account for login", slog.Any("error", err))
		return types.Account{}, ErrInternal.Wrap(err)
	}

	if account.PasswordHash == "" {
		v.hasher.burn(password)
		v.fail(ctx, email, account.ID, "no_password")
		return types.Account{}, ErrInvalidCredentials
	}
	if !v.hasher.Compare(account.PasswordHash, password) {
		v.fail(ctx, email, account.ID, "wrong_password")
		return types.Account{}, ErrInvalidCredentials
	}
	if !account.CanAuthenticate() {
		v.fail(ctx, email, account.ID, CodeAccountNotActive)
		return types.Account{}, ErrAccountNotActive
	}

	event := audit.NewEvent(audit.EventLoginSucceeded)
	event.AccountID = account.ID
	event.Email = account.Email
	event.Fields = map[string]string{"method": "password"}
	v.audit.Emit(ctx, event)
	return account, nil
}

func (v *CredentialVerifier) fail(ctx context.Context, email, accountID, reason string) {
	event := audit.NewEvent(audit.EventLoginFailed)
	event.AccountID = accountID
	event.Email = email
	event.Code = reason
	event.Fields = map[string]string{"method": "password"}
	v.audit.Emit(ctx, event)
}

func missingCredentialFields(email, password string) []string {
	var fields []string
	if email == "" {
		fields = append(fields, "email")
	}
	if password == "" {
		fields = append(fields, "password")
	}
	return fields
}
