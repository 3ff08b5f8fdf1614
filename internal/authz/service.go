package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lancemakesmusic/m1a-authz/internal/identity"
	"github.com/lancemakesmusic/m1a-authz/internal/shared"
)

// Role info block status values.
const (
	InfoStatusActive   = "active"
	InfoStatusInactive = "inactive"
)

// DefaultDepartment is attached when an upgrade supplies no department.
const DefaultDepartment = "General"

// casRetries bounds how often a conditional write is retried before the
// operation gives up with ErrConflict.
const casRetries = 3

// AuditRecorder records role lifecycle events.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ResetDispatcher hands credential reset delivery to the background worker.
type ResetDispatcher interface {
	DispatchCredentialReset(ctx context.Context, email string) error
}

// EmployeeAssignment carries the optional grant details for an upgrade.
type EmployeeAssignment struct {
	Department string
}

// NewAccount carries the input for provisioning an employee or admin account.
// Password is optional; when empty a temporary credential is generated and a
// credential reset is dispatched so the holder can set their own.
type NewAccount struct {
	Email      string
	Password   string
	Department string
}

// Service is the authorize-then-act surface for role state: every operation
// resolves the requester, checks its authority predicate, conditionally
// writes the target record, records an audit entry and invalidates the
// target's cached resolution.
//
// The authority predicates are deliberately uneven: upgrade, revoke and
// activation trust the protected email, while account creation and
// unconditional role updates trust the master_admin role. The asymmetry is
// inherited behavior around one trusted operator account and is kept as is.
type Service struct {
	store    RecordStore
	resolver *Resolver
	guard    *Guard
	provider identity.Provider
	audit    AuditRecorder
	resets   ResetDispatcher
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the mutation service. The reset dispatcher may be
// nil when no worker is deployed.
func NewService(store RecordStore, resolver *Resolver, guard *Guard, provider identity.Provider, audit AuditRecorder, resets ResetDispatcher, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		guard:    guard,
		provider: provider,
		audit:    audit,
		resets:   resets,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// UpgradeUser grants the employee role to an existing user. Only the
// protected admin account, while actually holding the admin role, may do
// this, and employee is the only role this path will ever grant.
func (s *Service) UpgradeUser(ctx context.Context, requester Principal, targetID string, newRole Role, assignment EmployeeAssignment) (UserRoleRecord, error) {
	requesterRecord, err := s.requireRequester(ctx, requester)
	if err != nil {
		return UserRoleRecord{}, err
	}
	if requester.Email != s.guard.ProtectedEmail() {
		return UserRoleRecord{}, fmt.Errorf("%w: upgrades require the protected admin email", ErrUnauthorized)
	}
	if requesterRecord.Role != RoleAdmin {
		return UserRoleRecord{}, fmt.Errorf("%w: upgrades require the admin role", ErrUnauthorized)
	}
	if newRole != RoleEmployee {
		return UserRoleRecord{}, fmt.Errorf("%w: this operation only grants %q", ErrInvalidRole, RoleEmployee)
	}
	department := assignment.Department
	if department == "" {
		department = DefaultDepartment
	}
	now := s.now()
	updated, err := s.mutate(ctx, targetID, func(target UserRoleRecord) (UserRoleRecord, error) {
		if target.Role == RoleMasterAdmin {
			return UserRoleRecord{}, ErrImmutable
		}
		target.PreviousRole = target.Role
		target.Role = RoleEmployee
		target.RoleUpdatedAt = now
		target.RoleUpdatedBy = requester.ID
		target.EmployeeInfo = &RoleInfo{
			HolderID:   target.UserID,
			Department: department,
			AssignedAt: now,
			Status:     InfoStatusActive,
			CreatedBy:  requester.ID,
		}
		target.AdminInfo = nil
		return target, nil
	})
	if err != nil {
		return UserRoleRecord{}, err
	}
	s.recordAudit(ctx, requester.ID, "role.upgrade", updated.UserID, map[string]any{
		"from_role":  string(updated.PreviousRole),
		"to_role":    string(updated.Role),
		"department": department,
	})
	return updated, nil
}

// CreateEmployeeAccount provisions an identity and a role record with
// role=employee. Identity creation goes first so a provider failure leaves
// no orphan role record; a record-write failure rolls the identity back.
func (s *Service) CreateEmployeeAccount(ctx context.Context, requester Principal, account NewAccount) (UserRoleRecord, error) {
	requesterRecord, err := s.requireRequester(ctx, requester)
	if err != nil {
		return UserRoleRecord{}, err
	}
	if requesterRecord.Role != RoleAdmin && requesterRecord.Role != RoleMasterAdmin {
		return UserRoleRecord{}, fmt.Errorf("%w: employee accounts require the admin or master admin role", ErrUnauthorized)
	}
	return s.provisionAccount(ctx, requester, account, RoleEmployee)
}

// CreateAdminAccount provisions an identity and a role record with
// role=admin. Strictly master_admin only. Note the granted admin role only
// survives resolution when the email is the protected one; any other email
// is downgraded by the guard on next read.
func (s *Service) CreateAdminAccount(ctx context.Context, requester Principal, account NewAccount) (UserRoleRecord, error) {
	requesterRecord, err := s.requireRequester(ctx, requester)
	if err != nil {
		return UserRoleRecord{}, err
	}
	if requesterRecord.Role != RoleMasterAdmin {
		return UserRoleRecord{}, fmt.Errorf("%w: admin accounts require the master admin role", ErrUnauthorized)
	}
	return s.provisionAccount(ctx, requester, account, RoleAdmin)
}

// RevokeUserRole returns the target to the client role. The record is kept
// for audit: previousRole survives, the revocation is stamped, and the info
// block for the revoked role is marked inactive rather than cleared.
func (s *Service) RevokeUserRole(ctx context.Context, requester Principal, targetID string) (UserRoleRecord, error) {
	if _, err := s.requireRequester(ctx, requester); err != nil {
		return UserRoleRecord{}, err
	}
	if requester.Email != s.guard.ProtectedEmail() {
		return UserRoleRecord{}, fmt.Errorf("%w: revocations require the protected admin email", ErrUnauthorized)
	}
	now := s.now()
	updated, err := s.mutate(ctx, targetID, func(target UserRoleRecord) (UserRoleRecord, error) {
		if target.Role == RoleMasterAdmin {
			return UserRoleRecord{}, ErrImmutable
		}
		if target.Email == s.guard.ProtectedEmail() {
			return UserRoleRecord{}, fmt.Errorf("%w: the protected admin role cannot be revoked", ErrProtected)
		}
		target.PreviousRole = target.Role
		target.Role = RoleClient
		target.RoleUpdatedAt = now
		target.RoleUpdatedBy = requester.ID
		target.RoleRevokedAt = &now
		target.RoleRevokedBy = requester.ID
		if target.EmployeeInfo != nil {
			target.EmployeeInfo.Status = InfoStatusInactive
		}
		if target.AdminInfo != nil {
			target.AdminInfo.Status = InfoStatusInactive
		}
		return target, nil
	})
	if err != nil {
		return UserRoleRecord{}, err
	}
	s.recordAudit(ctx, requester.ID, "role.revoke", updated.UserID, map[string]any{
		"from_role": string(updated.PreviousRole),
	})
	return updated, nil
}

// UpdateUserRole sets the target's role unconditionally. Strictly
// master_admin only. Unlike UpgradeUser it stamps the audit fields but never
// touches the info blocks; that asymmetry is inherited and kept.
func (s *Service) UpdateUserRole(ctx context.Context, requester Principal, targetID string, newRole Role) (UserRoleRecord, error) {
	requesterRecord, err := s.requireRequester(ctx, requester)
	if err != nil {
		return UserRoleRecord{}, err
	}
	if requesterRecord.Role != RoleMasterAdmin {
		return UserRoleRecord{}, fmt.Errorf("%w: role updates require the master admin role", ErrUnauthorized)
	}
	if newRole != RoleClient && newRole != RoleEmployee && newRole != RoleAdmin {
		return UserRoleRecord{}, fmt.Errorf("%w: %q is not assignable", ErrInvalidRole, newRole)
	}
	now := s.now()
	updated, err := s.mutate(ctx, targetID, func(target UserRoleRecord) (UserRoleRecord, error) {
		if target.Role == RoleMasterAdmin {
			return UserRoleRecord{}, ErrImmutable
		}
		target.PreviousRole = target.Role
		target.Role = newRole
		target.RoleUpdatedAt = now
		target.RoleUpdatedBy = requester.ID
		return target, nil
	})
	if err != nil {
		return UserRoleRecord{}, err
	}
	s.recordAudit(ctx, requester.ID, "role.update", updated.UserID, map[string]any{
		"from_role": string(updated.PreviousRole),
		"to_role":   string(updated.Role),
	})
	return updated, nil
}

// DeactivateEmployee marks the target's employee assignment inactive without
// touching the role or account status. Strictly master_admin only.
func (s *Service) DeactivateEmployee(ctx context.Context, requester Principal, employeeID string) (UserRoleRecord, error) {
	requesterRecord, err := s.requireRequester(ctx, requester)
	if err != nil {
		return UserRoleRecord{}, err
	}
	if requesterRecord.Role != RoleMasterAdmin {
		return UserRoleRecord{}, fmt.Errorf("%w: employee deactivation requires the master admin role", ErrUnauthorized)
	}
	updated, err := s.mutate(ctx, employeeID, func(target UserRoleRecord) (UserRoleRecord, error) {
		if target.EmployeeInfo == nil {
			return UserRoleRecord{}, fmt.Errorf("%w: user has no employee assignment", ErrNotFound)
		}
		target.EmployeeInfo.Status = InfoStatusInactive
		return target, nil
	})
	if err != nil {
		return UserRoleRecord{}, err
	}
	s.recordAudit(ctx, requester.ID, "employee.deactivate", updated.UserID, nil)
	return updated, nil
}

// ListUsersByRole returns every record currently holding the given role.
// Admin rank is enough: the listing backs the staff management screens.
func (s *Service) ListUsersByRole(ctx context.Context, requester Principal, role Role) ([]UserRoleRecord, error) {
	requesterRecord, err := s.requireRequester(ctx, requester)
	if err != nil {
		return nil, err
	}
	if !requesterRecord.Role.AtLeast(RoleAdmin) {
		return nil, fmt.Errorf("%w: listing users requires the admin role", ErrUnauthorized)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q is not a known role", ErrInvalidRole, role)
	}
	return s.store.ListByRole(ctx, role)
}

func (s *Service) provisionAccount(ctx context.Context, requester Principal, account NewAccount, role Role) (UserRoleRecord, error) {
	if account.Email == "" {
		return UserRoleRecord{}, fmt.Errorf("%w: email is required", ErrInvalidArgument)
	}
	if _, err := s.store.GetByEmail(ctx, account.Email); err == nil {
		return UserRoleRecord{}, fmt.Errorf("%w: %s", ErrEmailExists, account.Email)
	} else if !errors.Is(err, ErrNotFound) {
		return UserRoleRecord{}, err
	}

	password := account.Password
	generated := false
	if password == "" {
		var err error
		if password, err = identity.GenerateTemporaryPassword(identity.DefaultPasswordLength); err != nil {
			return UserRoleRecord{}, err
		}
		generated = true
	}

	providerID, err := s.provider.CreateAccount(ctx, account.Email, password)
	if err != nil {
		if errors.Is(err, identity.ErrEmailTaken) {
			return UserRoleRecord{}, fmt.Errorf("%w: %s", ErrEmailExists, account.Email)
		}
		return UserRoleRecord{}, fmt.Errorf("%w: %v", ErrIdentityProvider, err)
	}

	now := s.now()
	record := NewDefaultRecord(providerID, account.Email, now)
	record.Role = role
	record.RoleUpdatedAt = now
	record.RoleUpdatedBy = requester.ID
	info := &RoleInfo{
		HolderID:   providerID,
		Department: account.Department,
		AssignedAt: now,
		Status:     InfoStatusActive,
		CreatedBy:  requester.ID,
	}
	if info.Department == "" {
		info.Department = DefaultDepartment
	}
	switch role {
	case RoleAdmin:
		record.AdminInfo = info
	default:
		record.EmployeeInfo = info
	}

	if err := s.store.Create(ctx, record); err != nil {
		// Roll the identity back so a failed record write leaves no
		// half-provisioned account behind.
		if delErr := s.provider.DeleteAccount(ctx, providerID); delErr != nil {
			s.logger.Error("rollback identity after record write failure",
				slog.String("provider_id", providerID), slog.Any("error", delErr))
		}
		return UserRoleRecord{}, err
	}

	s.recordAudit(ctx, requester.ID, "account.create", record.UserID, map[string]any{
		"role":  string(role),
		"email": account.Email,
	})
	if generated && s.resets != nil {
		if err := s.resets.DispatchCredentialReset(ctx, account.Email); err != nil {
			s.logger.Warn("dispatch credential reset", slog.String("email", account.Email), slog.Any("error", err))
		}
	}
	return record, nil
}

// requireRequester resolves the requester's guarded record. Store failures
// surface here: a mutation must never proceed, nor silently no-op, on a
// degraded read.
func (s *Service) requireRequester(ctx context.Context, requester Principal) (UserRoleRecord, error) {
	record, err := s.resolver.ResolveRecord(ctx, requester)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound) {
			return UserRoleRecord{}, fmt.Errorf("%w: requester could not be resolved", ErrUnauthorized)
		}
		return UserRoleRecord{}, err
	}
	return record, nil
}

// mutate runs the read-check-write cycle for the target under optimistic
// concurrency: preconditions are re-evaluated against a fresh read on every
// attempt, so a revoke racing an upgrade commits exactly one full field set.
func (s *Service) mutate(ctx context.Context, targetID string, apply func(UserRoleRecord) (UserRoleRecord, error)) (UserRoleRecord, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		target, err := s.store.Get(ctx, targetID)
		if err != nil {
			return UserRoleRecord{}, err
		}
		next, err := apply(target)
		if err != nil {
			return UserRoleRecord{}, err
		}
		updated, err := s.store.Update(ctx, next)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return UserRoleRecord{}, err
		}
		s.resolver.Invalidate(ctx, targetID)
		return updated, nil
	}
	return UserRoleRecord{}, fmt.Errorf("%w: user %s", ErrConflict, targetID)
}

func (s *Service) recordAudit(ctx context.Context, actorID, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user_role_record",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Error("record audit log", slog.String("action", action), slog.Any("error", err))
	}
}
