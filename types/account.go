package types

import "time"

// Role is the closed set of portal roles. A role is assigned when the
// account is created and is never changed through self-service.
type Role string

const (
	RoleOSDAAdmin        Role = "osda_admin"
	RoleTrainingPartner  Role = "training_partner"
	RoleStudent          Role = "student"
	RoleEmployer         Role = "employer"
	RoleSystemIntegrator Role = "system_integrator"
)

// AllRoles lists every known role in a stable order.
func AllRoles() []Role {
	return []Role{
		RoleOSDAAdmin,
		RoleTrainingPartner,
		RoleStudent,
		RoleEmployer,
		RoleSystemIntegrator,
	}
}

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleOSDAAdmin, RoleTrainingPartner, RoleStudent, RoleEmployer, RoleSystemIntegrator:
		return true
	default:
		return false
	}
}

// SelfService reports whether a user may pick r for themselves during
// registration or profile completion.
func (r Role) SelfService() bool {
	switch r {
	case RoleTrainingPartner, RoleStudent, RoleEmployer:
		return true
	default:
		return false
	}
}

// AccountStatus controls whether an account may authenticate.
type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusPending   AccountStatus = "pending"
	StatusSuspended AccountStatus = "suspended"
)

// IsValid reports whether s is one of the known statuses.
func (s AccountStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusPending, StatusSuspended:
		return true
	default:
		return false
	}
}

// Account represents an identity record in the portal.
type Account struct {
	// ID is the stable identifier assigned at creation.
	ID string `json:"id" db:"id"`

	// Email is the unique, lower-cased login key.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the bcrypt hash of the credential. It is empty
	// for federated accounts that have not completed their profile.
	PasswordHash string `json:"-" db:"password_hash"`

	// FirstName and LastName are collected at registration or during
	// profile completion.
	FirstName string `json:"firstName" db:"first_name"`
	LastName  string `json:"lastName" db:"last_name"`

	// Role determines the permissions granted to the account.
	Role Role `json:"role" db:"role"`

	// Status must be active for the account to authenticate.
	Status AccountStatus `json:"status" db:"status"`

	// ProfileCompleted is false for federated accounts until the
	// completion handshake supplies the required fields.
	ProfileCompleted bool `json:"profileCompleted" db:"profile_completed"`

	// OrganizationName is optional organization context.
	OrganizationName string `json:"organizationName,omitempty" db:"organization_name"`

	// Phone is stored in E.164 form when present.
	Phone string `json:"phone,omitempty" db:"phone"`

	// Provider and ProviderSubject record the external identity the
	// account was provisioned from, if any.
	Provider        string `json:"provider,omitempty" db:"provider"`
	ProviderSubject string `json:"-" db:"provider_subject"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// CanAuthenticate reports whether the account status allows sign-in.
func (a Account) CanAuthenticate() bool {
	return a.Status == StatusActive
}

// Principal is the resolved identity attached to an authenticated request.
// Permissions are derived from the role when the principal is built.
type Principal struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Role        Role     `json:"role"`
	Permissions []string `json:"permissions"`
}

// HasPermission reports whether the principal carries perm.
func (p Principal) HasPermission(perm string) bool {
	for _, granted := range p.Permissions {
		if granted == perm {
			return true
		}
	}
	return false
}
