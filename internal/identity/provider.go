// Package identity abstracts the external identity provider that owns login
// credentials. The role engine only provisions accounts and requests
// credential resets through it; authentication itself happens upstream.
package identity

import (
	"context"
	"errors"
)

var (
	// ErrEmailTaken indicates the email is already registered with the provider.
	ErrEmailTaken = errors.New("identity: email already registered")
	// ErrNotFound indicates no account exists for the email or id.
	ErrNotFound = errors.New("identity: account not found")
	// ErrUnavailable indicates the provider could not be reached.
	ErrUnavailable = errors.New("identity: provider unavailable")
)

// Provider defines the identity provider contract.
type Provider interface {
	// CreateAccount registers the email with the given credential and
	// returns the provider-side account id.
	CreateAccount(ctx context.Context, email, password string) (string, error)
	// DeleteAccount removes a provider account. Used to roll back a
	// half-completed provisioning, so implementations should treat a missing
	// account as success.
	DeleteAccount(ctx context.Context, providerID string) error
	// SendCredentialReset issues a credential reset for the email.
	SendCredentialReset(ctx context.Context, email string) error
}
