package authz

import "errors"

// Sentinel errors for the role lifecycle engine. Operations wrap these with
// the specific rule that failed so an operator can correct the request.
var (
	// ErrNotFound indicates the requester or target record does not exist.
	ErrNotFound = errors.New("authz: record not found")
	// ErrUnauthorized indicates an authority predicate failed.
	ErrUnauthorized = errors.New("authz: unauthorized")
	// ErrInvalidRole indicates a role value outside what the operation accepts.
	ErrInvalidRole = errors.New("authz: invalid role")
	// ErrInvalidArgument indicates missing or malformed input fields.
	ErrInvalidArgument = errors.New("authz: invalid argument")
	// ErrEmailExists indicates the email is already registered.
	ErrEmailExists = errors.New("authz: email already registered")
	// ErrImmutable indicates the target holds master_admin, which no
	// operation may change, deactivate or revoke.
	ErrImmutable = errors.New("authz: master admin records are immutable")
	// ErrProtected indicates the target is the protected admin email.
	ErrProtected = errors.New("authz: protected account cannot be targeted")
	// ErrVersionConflict indicates a conditional write lost a concurrent race.
	ErrVersionConflict = errors.New("authz: record version conflict")
	// ErrConflict indicates a write kept losing races after retries.
	ErrConflict = errors.New("authz: concurrent modification")
	// ErrStoreUnavailable indicates the role record store failed. Surfaced on
	// every write path; the read path degrades to the client default instead.
	ErrStoreUnavailable = errors.New("authz: role record store unavailable")
	// ErrIdentityProvider indicates account provisioning failed upstream.
	ErrIdentityProvider = errors.New("authz: identity provider failure")
)
