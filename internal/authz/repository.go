package authz

import "context"

// RecordStore defines persistence for user role records. Implementations
// must provide atomic single-record reads and version-conditional writes;
// the services retry conditional writes on ErrVersionConflict.
type RecordStore interface {
	// Get returns the record for the user id, or ErrNotFound.
	Get(ctx context.Context, userID string) (UserRoleRecord, error)
	// GetByEmail returns the record holding the email, or ErrNotFound.
	GetByEmail(ctx context.Context, email string) (UserRoleRecord, error)
	// ListByRole returns all records currently holding the role.
	ListByRole(ctx context.Context, role Role) ([]UserRoleRecord, error)
	// Create inserts a new record at version 1. Returns ErrEmailExists when
	// the email is already registered.
	Create(ctx context.Context, record UserRoleRecord) error
	// Update writes the record conditional on record.Version matching the
	// stored version, then increments it. Returns ErrVersionConflict when a
	// concurrent writer got there first, ErrNotFound when the record is gone.
	Update(ctx context.Context, record UserRoleRecord) (UserRoleRecord, error)
}
