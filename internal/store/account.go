package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/osda-portal/apiserver/types"
)

const uniqueViolation = "23505"

const accountColumns = `id, email, password_hash, first_name, last_name, role, status,
		profile_completed, organization_name, phone, provider, provider_subject, created_at, updated_at`

// AccountRepository handles persistence for accounts.
type AccountRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db, now: time.Now}
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (types.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.Account{}, ErrNotFound
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (types.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE lower(email) = lower($1)`
	return r.scanOne(r.db.QueryRowContext(ctx, query, strings.TrimSpace(email)))
}

// Create inserts a new account. A second account with the same email
// fails with ErrDuplicate through the unique index on lower(email).
func (r *AccountRepository) Create(ctx context.Context, account types.Account) (types.Account, error) {
	now := r.now().UTC()
	account.ID = uuid.NewString()
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	account.CreatedAt = now
	account.UpdatedAt = now

	const query = `
		INSERT INTO accounts (id, email, password_hash, first_name, last_name, role, status,
			profile_completed, organization_name, phone, provider, provider_subject, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		account.ID,
		account.Email,
		nullString(account.PasswordHash),
		account.FirstName,
		account.LastName,
		string(account.Role),
		string(account.Status),
		account.ProfileCompleted,
		nullString(account.OrganizationName),
		nullString(account.Phone),
		nullString(account.Provider),
		nullString(account.ProviderSubject),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.Account{}, ErrDuplicate
		}
		return types.Account{}, err
	}
	return account, nil
}

// CompleteProfile fills the profile of an account that has not completed it
// yet. If another request completed it first the update matches no row and
// ErrConflict is returned.
func (r *AccountRepository) CompleteProfile(ctx context.Context, account types.Account) (types.Account, error) {
	account.UpdatedAt = r.now().UTC()
	account.ProfileCompleted = true

	const query = `
		UPDATE accounts
		SET password_hash = $1,
			first_name = $2,
			last_name = $3,
			role = $4,
			status = $5,
			profile_completed = true,
			organization_name = $6,
			phone = $7,
			provider = $8,
			provider_subject = $9,
			updated_at = $10
		WHERE id = $11 AND profile_completed = false`
	result, err := r.db.ExecContext(
		ctx,
		query,
		nullString(account.PasswordHash),
		account.FirstName,
		account.LastName,
		string(account.Role),
		string(account.Status),
		nullString(account.OrganizationName),
		nullString(account.Phone),
		nullString(account.Provider),
		nullString(account.ProviderSubject),
		account.UpdatedAt,
		account.ID,
	)
	if err != nil {
		return types.Account{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Account{}, err
	}
	if affected == 0 {
		return types.Account{}, ErrConflict
	}
	return r.GetByID(ctx, account.ID)
}

func (r *AccountRepository) UpdateStatus(ctx context.Context, id string, status types.AccountStatus) (types.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.Account{}, ErrNotFound
	}
	const query = `UPDATE accounts SET status = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, string(status), r.now().UTC(), id)
	if err != nil {
		return types.Account{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Account{}, err
	}
	if affected == 0 {
		return types.Account{}, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *AccountRepository) scanOne(row *sql.Row) (types.Account, error) {
	var account types.Account
	var role, status string
	var passwordHash, organization, phone, provider, providerSubject sql.NullString
	err := row.Scan(
		&account.ID,
		&account.Email,
		&passwordHash,
		&account.FirstName,
		&account.LastName,
		&role,
		&status,
		&account.ProfileCompleted,
		&organization,
		&phone,
		&provider,
		&providerSubject,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	account.Role = types.Role(role)
	account.Status = types.AccountStatus(status)
	account.PasswordHash = passwordHash.String
	account.OrganizationName = organization.String
	account.Phone = phone.String
	account.Provider = provider.String
	account.ProviderSubject = providerSubject.String
	return account, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
