package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeactivateAndReactivateUser(t *testing.T) {
	env := newTestEnv(t)

	record, err := env.activation.DeactivateUser(context.Background(), protectedAdmin, plainUser.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, record.Status)
	assert.Equal(t, RoleClient, record.Role, "status changes never touch the role")

	record, err = env.activation.ReactivateUser(context.Background(), protectedAdmin, plainUser.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, record.Status)

	assert.Equal(t, []string{"account.deactivate", "account.reactivate"}, env.audit.actions())
}

func TestDeactivateUserPreservesRole(t *testing.T) {
	env := newTestEnv(t)
	seedEmployee(env, "emp-1", "emp@example.com")

	record, err := env.activation.DeactivateUser(context.Background(), protectedAdmin, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, record.Status)
	assert.Equal(t, RoleEmployee, record.Role)
	assert.Equal(t, InfoStatusActive, record.EmployeeInfo.Status, "a suspension is not a revocation")
}

func TestDeactivateUserRequiresProtectedEmail(t *testing.T) {
	env := newTestEnv(t)
	for _, requester := range []Principal{plainUser, masterAdmin} {
		_, err := env.activation.DeactivateUser(context.Background(), requester, plainUser.ID)
		assert.ErrorIs(t, err, ErrUnauthorized)
	}
}

func TestDeactivateUserProtectedTarget(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.activation.DeactivateUser(context.Background(), protectedAdmin, protectedAdmin.ID)
	assert.ErrorIs(t, err, ErrProtected)
}

func TestDeactivateUserMasterAdminTarget(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.activation.DeactivateUser(context.Background(), protectedAdmin, masterAdmin.ID)
	assert.ErrorIs(t, err, ErrImmutable)
}

func TestDeactivateUserMissingTarget(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.activation.DeactivateUser(context.Background(), protectedAdmin, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeactivatedUserStillResolvesRole(t *testing.T) {
	env := newTestEnv(t)
	seedEmployee(env, "emp-1", "emp@example.com")

	_, err := env.activation.DeactivateUser(context.Background(), protectedAdmin, "emp-1")
	require.NoError(t, err)

	// Status gates access upstream; the role axis is reported as is.
	resolution := env.resolver.Resolve(context.Background(), Principal{ID: "emp-1", Email: "emp@example.com", Authenticated: true})
	assert.Equal(t, RoleEmployee, resolution.Role)
	assert.Equal(t, StatusInactive, resolution.Status)
}
