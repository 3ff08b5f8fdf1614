package authz

import "time"

// Role is the coarse authority tier assigned to a user.
type Role string

const (
	RoleClient      Role = "client"
	RoleEmployee    Role = "employee"
	RoleAdmin       Role = "admin"
	RoleMasterAdmin Role = "master_admin"
)

var roleRank = map[Role]int{
	RoleClient:      0,
	RoleEmployee:    1,
	RoleAdmin:       2,
	RoleMasterAdmin: 3,
}

// Valid reports whether the role is one of the known tiers.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether the role sits at or above the given tier.
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

// AccountStatus gates whether a principal may use the system at all.
// It is orthogonal to Role: status decides access, role decides capability.
type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusInactive AccountStatus = "inactive"
)

// Principal describes the authenticated actor invoking an operation.
type Principal struct {
	ID            string
	Email         string
	Authenticated bool
}

// RoleInfo is the audit block attached when an employee or admin role is
// granted. It is flipped to inactive on revoke, never deleted.
type RoleInfo struct {
	HolderID   string    `json:"holder_id"`
	Department string    `json:"department"`
	AssignedAt time.Time `json:"assigned_at"`
	Status     string    `json:"status"`
	CreatedBy  string    `json:"created_by"`
}

// UserRoleRecord is the persisted per-user role document.
//
// Version is the compare-and-swap token: every conditional write must carry
// the version it read and the store increments it on success, so two
// concurrent mutations on the same user can never interleave field sets.
type UserRoleRecord struct {
	UserID    string
	Email     string
	Role      Role
	Status    AccountStatus
	Version   int64
	Overrides map[string]bool

	EmployeeInfo *RoleInfo
	AdminInfo    *RoleInfo

	PreviousRole          Role
	RoleUpdatedAt         time.Time
	RoleUpdatedBy         string
	RoleRevokedAt         *time.Time
	RoleRevokedBy         string
	RoleSecurityDowngrade *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewDefaultRecord returns the record implicitly created the first time a
// principal is resolved.
func NewDefaultRecord(userID, email string, now time.Time) UserRoleRecord {
	return UserRoleRecord{
		UserID:    userID,
		Email:     email,
		Role:      RoleClient,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
