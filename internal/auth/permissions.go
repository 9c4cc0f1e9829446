package auth

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/osda-portal/apiserver/types"
)

const (
	PermAccountsManage          = "accounts.manage"
	PermPermissionsRead         = "permissions.read"
	PermProfileRead             = "profile.read"
	PermProfileUpdate           = "profile.update"
	PermBatchesRead             = "batches.read"
	PermBatchesManage           = "batches.manage"
	PermTrainingPartnersRead    = "training_partners.read"
	PermTrainingPartnersApprove = "training_partners.approve"
	PermStudentsRead            = "students.read"
	PermStudentsEnroll          = "students.enroll"
	PermCoursesRead             = "courses.read"
	PermJobsPost                = "jobs.post"
	PermCandidatesRead          = "candidates.read"
	PermIntegrationsManage      = "integrations.manage"
	PermFilesUpload             = "files.upload"
	PermNotificationsSend       = "notifications.send"
	PermGSTLookup               = "gst.lookup"
	PermReportsRead             = "reports.read"
)

// PermissionTable maps every role to its ordered permission set. The
// version identifies the deployed revision of the table.
type PermissionTable struct {
	Version string                  `json:"version"`
	Roles   map[types.Role][]string `json:"roles"`
}

// DefaultPermissionTable is compiled into the binary and used unless a
// table is loaded from a file or object storage.
func DefaultPermissionTable() PermissionTable {
	return PermissionTable{
		Version: "2026-10-01",
		Roles: map[types.Role][]string{
			types.RoleOSDAAdmin: {
				PermAccountsManage,
				PermPermissionsRead,
				PermProfileRead,
				PermProfileUpdate,
				PermBatchesRead,
				PermBatchesManage,
				PermTrainingPartnersRead,
				PermTrainingPartnersApprove,
				PermStudentsRead,
				PermCoursesRead,
				PermCandidatesRead,
				PermFilesUpload,
				PermNotificationsSend,
				PermGSTLookup,
				PermReportsRead,
			},
			types.RoleTrainingPartner: {
				PermProfileRead,
				PermProfileUpdate,
				PermBatchesRead,
				PermBatchesManage,
				PermStudentsRead,
				PermStudentsEnroll,
				PermCoursesRead,
				PermFilesUpload,
				PermGSTLookup,
			},
			types.RoleStudent: {
				PermProfileRead,
				PermProfileUpdate,
				PermCoursesRead,
				PermFilesUpload,
			},
			types.RoleEmployer: {
				PermProfileRead,
				PermProfileUpdate,
				PermJobsPost,
				PermCandidatesRead,
				PermGSTLookup,
			},
			types.RoleSystemIntegrator: {
				PermProfileRead,
				PermIntegrationsManage,
				PermReportsRead,
			},
		},
	}
}

// Validate checks that the table names every role, only known roles, and
// no blank permissions.
func (t PermissionTable) Validate() error {
	if strings.TrimSpace(t.Version) == "" {
		return fmt.Errorf("permission table: version is required")
	}
	for role, perms := range t.Roles {
		if !role.IsValid() {
			return fmt.Errorf("permission table %s: unknown role %q", t.Version, role)
		}
		for _, perm := range perms {
			if strings.TrimSpace(perm) == "" {
				return fmt.Errorf("permission table %s: blank permission for role %s", t.Version, role)
			}
		}
	}
	for _, role := range types.AllRoles() {
		if _, ok := t.Roles[role]; !ok {
			return fmt.Errorf("permission table %s: role %s is missing", t.Version, role)
		}
	}
	return nil
}

// For returns the permissions of role in table order without duplicates.
func (t PermissionTable) For(role types.Role) []string {
	perms := t.Roles[role]
	out := make([]string, 0, len(perms))
	seen := make(map[string]struct{}, len(perms))
	for _, perm := range perms {
		if _, dup := seen[perm]; dup {
			continue
		}
		seen[perm] = struct{}{}
		out = append(out, perm)
	}
	return out
}

// ParsePermissionTable decodes and validates a JSON table document.
func ParsePermissionTable(data []byte) (PermissionTable, error) {
	var table PermissionTable
	if err := json.Unmarshal(data, &table); err != nil {
		return PermissionTable{}, fmt.Errorf("decode permission table: %w", err)
	}
	if err := table.Validate(); err != nil {
		return PermissionTable{}, err
	}
	return table, nil
}

// Permissions holds the active table. Lookups always read the current
// table, so replacing it changes the permissions of tokens that are
// already in circulation.
type Permissions struct {
	current atomic.Pointer[PermissionTable]
}

func NewPermissions(table PermissionTable) (*Permissions, error) {
	p := &Permissions{}
	if err := p.Replace(table); err != nil {
		return nil, err
	}
	return p, nil
}

// Replace swaps in a new table after validating it.
func (p *Permissions) Replace(table PermissionTable) error {
	if err := table.Validate(); err != nil {
		return err
	}
	cp := PermissionTable{Version: table.Version, Roles: make(map[types.Role][]string, len(table.Roles))}
	for role, perms := range table.Roles {
		cp.Roles[role] = append([]string(nil), perms...)
	}
	p.current.Store(&cp)
	return nil
}

// Table returns the active table.
func (p *Permissions) Table() PermissionTable {
	return *p.current.Load()
}

// Version returns the active table version.
func (p *Permissions) Version() string {
	return p.current.Load().Version
}

// For returns the permissions currently granted to role.
func (p *Permissions) For(role types.Role) []string {
	return p.current.Load().For(role)
}

// PrincipalFor builds the principal of account from the active table.
func (p *Permissions) PrincipalFor(account types.Account) types.Principal {
	return types.Principal{
		ID:          account.ID,
		Email:       account.Email,
		Role:        account.Role,
		Permissions: p.For(account.Role),
	}
}
