package authz

import "time"

// Guard enforces the single-admin-email deployment invariant: only the
// protected email may hold the admin role. Externally seeded data can violate
// this, so the guard runs on every read, not only at mutation time.
type Guard struct {
	protectedEmail string
}

// NewGuard constructs a Guard for the configured protected admin email.
func NewGuard(protectedEmail string) *Guard {
	return &Guard{protectedEmail: protectedEmail}
}

// ProtectedEmail returns the single email permitted to hold role=admin.
func (g *Guard) ProtectedEmail() string {
	return g.protectedEmail
}

// Violates reports whether the record holds an illegitimate admin grant.
// Pure so the predicate can be tested without a store.
func (g *Guard) Violates(record UserRoleRecord) bool {
	return record.Role == RoleAdmin && record.Email != g.protectedEmail
}

// Check returns the record with any illegitimate admin grant corrected back
// to client, stamped with the downgrade time. The second return reports
// whether a correction was applied; persisting it is the caller's side
// effect so the correction itself stays testable in isolation.
func (g *Guard) Check(record UserRoleRecord, now time.Time) (UserRoleRecord, bool) {
	if !g.Violates(record) {
		return record, false
	}
	record.PreviousRole = record.Role
	record.Role = RoleClient
	record.RoleSecurityDowngrade = &now
	record.RoleUpdatedAt = now
	return record, true
}
