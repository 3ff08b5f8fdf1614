package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lancemakesmusic/m1a-authz/internal/shared"
)

// ActivationService flips account status on and off. Status is orthogonal to
// role: it decides whether a principal may use the system at all, while role
// decides what an active principal may do. The authority guard is the same
// protected-email predicate the role mutations use.
type ActivationService struct {
	store    RecordStore
	resolver *Resolver
	guard    *Guard
	audit    AuditRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewActivationService constructs the activation service.
func NewActivationService(store RecordStore, resolver *Resolver, guard *Guard, audit AuditRecorder, logger *slog.Logger) *ActivationService {
	return &ActivationService{
		store:    store,
		resolver: resolver,
		guard:    guard,
		audit:    audit,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// DeactivateUser suspends the target account.
func (s *ActivationService) DeactivateUser(ctx context.Context, requester Principal, targetID string) (UserRoleRecord, error) {
	return s.setStatus(ctx, requester, targetID, StatusInactive, "account.deactivate")
}

// ReactivateUser restores the target account.
func (s *ActivationService) ReactivateUser(ctx context.Context, requester Principal, targetID string) (UserRoleRecord, error) {
	return s.setStatus(ctx, requester, targetID, StatusActive, "account.reactivate")
}

func (s *ActivationService) setStatus(ctx context.Context, requester Principal, targetID string, status AccountStatus, action string) (UserRoleRecord, error) {
	if _, err := s.resolver.ResolveRecord(ctx, requester); err != nil {
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound) {
			return UserRoleRecord{}, fmt.Errorf("%w: requester could not be resolved", ErrUnauthorized)
		}
		return UserRoleRecord{}, err
	}
	if requester.Email != s.guard.ProtectedEmail() {
		return UserRoleRecord{}, fmt.Errorf("%w: account status changes require the protected admin email", ErrUnauthorized)
	}
	var updated UserRoleRecord
	for attempt := 0; attempt < casRetries; attempt++ {
		target, err := s.store.Get(ctx, targetID)
		if err != nil {
			return UserRoleRecord{}, err
		}
		if target.Email == s.guard.ProtectedEmail() {
			return UserRoleRecord{}, fmt.Errorf("%w: the protected admin account cannot be suspended", ErrProtected)
		}
		if target.Role == RoleMasterAdmin {
			return UserRoleRecord{}, ErrImmutable
		}
		target.Status = status
		updated, err = s.store.Update(ctx, target)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return UserRoleRecord{}, err
		}
		s.resolver.Invalidate(ctx, targetID)
		if s.audit != nil {
			if auditErr := s.audit.Record(ctx, shared.AuditLog{
				ActorID:  requester.ID,
				Action:   action,
				Entity:   "user_role_record",
				EntityID: targetID,
				Meta:     map[string]any{"status": string(status)},
				At:       s.now(),
			}); auditErr != nil {
				s.logger.Error("record audit log", slog.String("action", action), slog.Any("error", auditErr))
			}
		}
		return updated, nil
	}
	return UserRoleRecord{}, fmt.Errorf("%w: user %s", ErrConflict, targetID)
}
