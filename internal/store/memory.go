package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/osda-portal/apiserver/types"
)

// MemoryAccountRepository keeps accounts in process memory. It is used in
// development mode and by tests; the mutex gives the same uniqueness
// guarantee as the database index on email.
type MemoryAccountRepository struct {
	mu      sync.RWMutex
	byID    map[string]types.Account
	byEmail map[string]string
	now     func() time.Time
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		byID:    make(map[string]types.Account),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (r *MemoryAccountRepository) GetByID(_ context.Context, id string) (types.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.byID[id]
	if !ok {
		return types.Account{}, ErrNotFound
	}
	return account, nil
}

func (r *MemoryAccountRepository) GetByEmail(_ context.Context, email string) (types.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[normalizeEmail(email)]
	if !ok {
		return types.Account{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryAccountRepository) Create(_ context.Context, account types.Account) (types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account.Email = normalizeEmail(account.Email)
	if _, exists := r.byEmail[account.Email]; exists {
		return types.Account{}, ErrDuplicate
	}

	now := r.now().UTC()
	account.ID = uuid.NewString()
	account.CreatedAt = now
	account.UpdatedAt = now

	r.byID[account.ID] = account
	r.byEmail[account.Email] = account.ID
	return account, nil
}

func (r *MemoryAccountRepository) CompleteProfile(_ context.Context, account types.Account) (types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[account.ID]
	if !ok {
		return types.Account{}, ErrNotFound
	}
	if current.ProfileCompleted {
		return types.Account{}, ErrConflict
	}

	account.Email = current.Email
	account.CreatedAt = current.CreatedAt
	account.UpdatedAt = r.now().UTC()
	account.ProfileCompleted = true
	r.byID[account.ID] = account
	return account, nil
}

func (r *MemoryAccountRepository) UpdateStatus(_ context.Context, id string, status types.AccountStatus) (types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return types.Account{}, ErrNotFound
	}
	account.Status = status
	account.UpdatedAt = r.now().UTC()
	r.byID[id] = account
	return account, nil
}

// Delete removes an account. Only tests and seed tooling use it; the API
// never deletes accounts in band.
func (r *MemoryAccountRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.byEmail, account.Email)
	delete(r.byID, id)
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
