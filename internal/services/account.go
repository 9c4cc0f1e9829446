package services

import (
	"context"
	"errors"
	"net/http"

	"github.com/osda-portal/apiserver/internal/audit"
	"github.com/osda-portal/apiserver/internal/auth"
	"github.com/osda-portal/apiserver/internal/store"
	"github.com/osda-portal/apiserver/types"
)

// AccountRepository defines persistence operations for accounts.
type AccountRepository interface {
	auth.AccountRepository
	UpdateStatus(ctx context.Context, id string, status types.AccountStatus) (types.Account, error)
}

// ErrAccountNotFound is returned when an administrative action names an
// account that does not exist.
var ErrAccountNotFound = &auth.Error{Code: "account_not_found", Message: "account not found", Status: http.StatusNotFound}

// errDuplicateRegistration reports a taken email on direct registration,
// where the caller is not yet authenticated by anyone.
var errDuplicateRegistration = &auth.Error{
	Code:    auth.CodeDuplicateProfile,
	Message: "an account for this email already exists",
	Status:  http.StatusConflict,
}

// RegisterResult is the outcome of a direct registration. Token is empty
// when the account awaits approval.
type RegisterResult struct {
	Account types.Account
	Token   *types.Token
}

// AccountService encapsulates account use-cases outside the sign-in flows.
type AccountService struct {
	repo   AccountRepository
	hasher *auth.PasswordHasher
	issuer *auth.TokenIssuer
	audit  *audit.Recorder
}

func NewAccountService(repo AccountRepository, hasher *auth.PasswordHasher, issuer *auth.TokenIssuer, recorder *audit.Recorder) *AccountService {
	return &AccountService{repo: repo, hasher: hasher, issuer: issuer, audit: recorder}
}

// Get returns the account with id.
func (s *AccountService) Get(ctx context.Context, id string) (types.Account, error) {
	account, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return types.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return types.Account{}, auth.ErrInternal.Wrap(err)
	}
	return account, nil
}

// Register creates an account with a password. Training partners start
// pending until an administrator approves them; other self-service roles
// are active at once and receive a token.
func (s *AccountService) Register(ctx context.Context, in types.ProfileInput) (RegisterResult, error) {
	profile, err := auth.ValidateProfile(in)
	if err != nil {
		return RegisterResult{}, err
	}

	hash, err := s.hasher.Hash(profile.Password)
	if err != nil {
		return RegisterResult{}, auth.ErrInternal.Wrap(err)
	}

	status := types.StatusActive
	if profile.Role == types.RoleTrainingPartner {
		status = types.StatusPending
	}

	account, err := s.repo.Create(ctx, types.Account{
		Email:            profile.Email,
		PasswordHash:     hash,
		FirstName:        profile.FirstName,
		LastName:         profile.LastName,
		Role:             profile.Role,
		Status:           status,
		ProfileCompleted: true,
		OrganizationName: profile.OrganizationName,
		Phone:            profile.Phone,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return RegisterResult{}, errDuplicateRegistration
	}
	if err != nil {
		return RegisterResult{}, auth.ErrInternal.Wrap(err)
	}

	event := audit.NewEvent(audit.EventAccountRegistered)
	event.AccountID = account.ID
	event.Email = account.Email
	event.Fields = map[string]string{"role": string(account.Role), "status": string(account.Status)}
	s.audit.Emit(ctx, event)

	result := RegisterResult{Account: account}
	if account.CanAuthenticate() {
		token, err := s.issuer.Issue(account)
		if err != nil {
			return RegisterResult{}, err
		}
		result.Token = &token
	}
	return result, nil
}

// ChangeStatus sets the status of account id. Administrators cannot change
// their own status.
func (s *AccountService) ChangeStatus(ctx context.Context, actor types.Principal, id string, status types.AccountStatus) (types.Account, error) {
	if !status.IsValid() {
		return types.Account{}, auth.ErrInvalidField.WithFields("status")
	}
	if actor.ID == id {
		return types.Account{}, auth.ErrForbidden.WithMessage("cannot change the status of your own account")
	}

	account, err := s.repo.UpdateStatus(ctx, id, status)
	if errors.Is(err, store.ErrNotFound) {
		return types.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return types.Account{}, auth.ErrInternal.Wrap(err)
	}

	event := audit.NewEvent(audit.EventStatusChanged)
	event.AccountID = account.ID
	event.Email = account.Email
	event.Fields = map[string]string{"status": string(status), "actor": actor.ID}
	s.audit.Emit(ctx, event)
	return account, nil
}
