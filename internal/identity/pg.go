package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// bcryptCost balances hashing work against provisioning latency.
const bcryptCost = 12

// resetTokenTTL bounds how long an issued credential reset stays redeemable.
const resetTokenTTL = time.Hour

// PGProvider is a PostgreSQL backed Provider for self-hosted deployments.
// Production deployments point the engine at the managed identity platform
// instead; both sit behind the same Provider interface.
type PGProvider struct {
	pool *pgxpool.Pool
}

// NewPGProvider constructs a provider on the given pool.
func NewPGProvider(pool *pgxpool.Pool) *PGProvider {
	return &PGProvider{pool: pool}
}

// CreateAccount registers the email and returns the new account id.
func (p *PGProvider) CreateAccount(ctx context.Context, email, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("identity: hash credential: %w", err)
	}
	id := uuid.NewString()
	_, err = p.pool.Exec(ctx,
		`INSERT INTO identities (id, email, password_hash, created_at) VALUES ($1, $2, $3, NOW())`,
		id, email, hash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", ErrEmailTaken
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return id, nil
}

// DeleteAccount removes the account. Missing accounts are not an error.
func (p *PGProvider) DeleteAccount(ctx context.Context, providerID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM identities WHERE id = $1`, providerID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// SendCredentialReset issues a reset token for the email. Delivery is picked
// up by the background worker.
func (p *PGProvider) SendCredentialReset(ctx context.Context, email string) error {
	var identityID string
	err := p.pool.QueryRow(ctx, `SELECT id FROM identities WHERE email = $1`, email).Scan(&identityID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO credential_resets (token, identity_id, expires_at, created_at) VALUES ($1, $2, $3, NOW())`,
		uuid.NewString(), identityID, time.Now().UTC().Add(resetTokenTTL),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

var _ Provider = (*PGProvider)(nil)
