package authz

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// Resolver combines the record store, the security guard and the permission
// matrix into the current (Role, PermissionSet) for a principal.
//
// Resolve never returns an error: permission checks must fail closed, so any
// store failure degrades to the client default instead of crashing callers.
type Resolver struct {
	store  RecordStore
	guard  *Guard
	cache  *Cache
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewResolver constructs a Resolver. The cache may be nil, in which case
// every resolution hits the store.
func NewResolver(store RecordStore, guard *Guard, cache *Cache, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		guard:  guard,
		cache:  cache,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Resolution is the outcome of resolving a principal.
type Resolution struct {
	Role        Role
	Status      AccountStatus
	Permissions PermissionSet
}

func failClosed() Resolution {
	return Resolution{Role: RoleClient, Status: StatusActive, Permissions: Derive(RoleClient, nil)}
}

// Resolve returns the current role and permission set for the principal,
// creating the default client record on first sight. The result is cached
// per principal until a mutation invalidates it.
func (r *Resolver) Resolve(ctx context.Context, principal Principal) Resolution {
	if !principal.Authenticated || principal.ID == "" {
		return failClosed()
	}
	if cached, ok := r.cache.Get(ctx, principal.ID); ok {
		return Resolution{
			Role:        cached.Role,
			Status:      cached.Status,
			Permissions: Derive(cached.Role, cached.Overrides),
		}
	}
	record, err := r.loadRecord(ctx, principal)
	if err != nil {
		r.logger.Warn("role resolution degraded to client default",
			slog.String("user_id", principal.ID), slog.Any("error", err))
		return failClosed()
	}
	if err := r.cache.Set(ctx, principal.ID, cachedResolution{
		Role:      record.Role,
		Status:    record.Status,
		Overrides: record.Overrides,
	}); err != nil {
		r.logger.Warn("cache role resolution", slog.Any("error", err))
	}
	return Resolution{
		Role:        record.Role,
		Status:      record.Status,
		Permissions: Derive(record.Role, record.Overrides),
	}
}

// ResolveRecord returns the guarded record for the principal, creating it if
// absent. Unlike Resolve it surfaces store failures; the mutation services
// use it where a degraded default would be unsafe to act on.
func (r *Resolver) ResolveRecord(ctx context.Context, principal Principal) (UserRoleRecord, error) {
	if !principal.Authenticated || principal.ID == "" {
		return UserRoleRecord{}, ErrUnauthorized
	}
	return r.loadRecord(ctx, principal)
}

// Invalidate drops the principal's cached resolution.
func (r *Resolver) Invalidate(ctx context.Context, userID string) {
	if err := r.cache.Invalidate(ctx, userID); err != nil {
		r.logger.Warn("invalidate role resolution", slog.String("user_id", userID), slog.Any("error", err))
	}
}

// loadRecord collapses concurrent cache misses for the same principal into a
// single store round trip.
func (r *Resolver) loadRecord(ctx context.Context, principal Principal) (UserRoleRecord, error) {
	value, err, _ := r.group.Do(principal.ID, func() (any, error) {
		return r.readOrCreate(ctx, principal)
	})
	if err != nil {
		return UserRoleRecord{}, err
	}
	return value.(UserRoleRecord), nil
}

func (r *Resolver) readOrCreate(ctx context.Context, principal Principal) (UserRoleRecord, error) {
	record, err := r.store.Get(ctx, principal.ID)
	if errors.Is(err, ErrNotFound) {
		record = NewDefaultRecord(principal.ID, principal.Email, r.now())
		if createErr := r.store.Create(ctx, record); createErr != nil {
			// A concurrent first resolution may have created it already.
			record, err = r.store.Get(ctx, principal.ID)
			if err != nil {
				return UserRoleRecord{}, createErr
			}
		}
	} else if err != nil {
		return UserRoleRecord{}, err
	}
	return r.applyGuard(ctx, record), nil
}

// applyGuard corrects illegitimate admin grants. The corrective write is
// best effort: failure to persist never blocks returning the corrected
// record, and the downgrade is logged rather than reported as an error.
func (r *Resolver) applyGuard(ctx context.Context, record UserRoleRecord) UserRoleRecord {
	corrected, changed := r.guard.Check(record, r.now())
	if !changed {
		return record
	}
	r.logger.Warn("role security downgrade",
		slog.String("user_id", record.UserID),
		slog.String("email", record.Email),
		slog.String("from_role", string(record.Role)))
	persisted, err := r.store.Update(ctx, corrected)
	if err != nil {
		r.logger.Warn("persist role security downgrade", slog.Any("error", err))
		return corrected
	}
	return persisted
}
