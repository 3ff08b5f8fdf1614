package authz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lancemakesmusic/m1a-authz/internal/identity"
	"github.com/lancemakesmusic/m1a-authz/internal/shared"
)

// ============================================================================
// MOCKS
// ============================================================================

type mockStore struct {
	mu      sync.Mutex
	records map[string]UserRoleRecord

	// Error injection
	getErr    error
	createErr error
	updateErr error

	getCalls    int
	updateCalls int
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string]UserRoleRecord)}
}

func cloneRecord(r UserRoleRecord) UserRoleRecord {
	if r.EmployeeInfo != nil {
		info := *r.EmployeeInfo
		r.EmployeeInfo = &info
	}
	if r.AdminInfo != nil {
		info := *r.AdminInfo
		r.AdminInfo = &info
	}
	if r.RoleRevokedAt != nil {
		at := *r.RoleRevokedAt
		r.RoleRevokedAt = &at
	}
	if r.RoleSecurityDowngrade != nil {
		at := *r.RoleSecurityDowngrade
		r.RoleSecurityDowngrade = &at
	}
	if r.Overrides != nil {
		overrides := make(map[string]bool, len(r.Overrides))
		for k, v := range r.Overrides {
			overrides[k] = v
		}
		r.Overrides = overrides
	}
	return r
}

func (m *mockStore) put(r UserRoleRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Version == 0 {
		r.Version = 1
	}
	m.records[r.UserID] = cloneRecord(r)
}

func (m *mockStore) Get(ctx context.Context, userID string) (UserRoleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return UserRoleRecord{}, m.getErr
	}
	record, ok := m.records[userID]
	if !ok {
		return UserRoleRecord{}, ErrNotFound
	}
	return cloneRecord(record), nil
}

func (m *mockStore) GetByEmail(ctx context.Context, email string) (UserRoleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return UserRoleRecord{}, m.getErr
	}
	for _, record := range m.records {
		if record.Email == email {
			return cloneRecord(record), nil
		}
	}
	return UserRoleRecord{}, ErrNotFound
}

func (m *mockStore) ListByRole(ctx context.Context, role Role) ([]UserRoleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	var records []UserRoleRecord
	for _, record := range m.records {
		if record.Role == role {
			records = append(records, cloneRecord(record))
		}
	}
	return records, nil
}

func (m *mockStore) Create(ctx context.Context, record UserRoleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.records {
		if existing.Email == record.Email {
			return ErrEmailExists
		}
	}
	if _, ok := m.records[record.UserID]; ok {
		return ErrEmailExists
	}
	record.Version = 1
	m.records[record.UserID] = cloneRecord(record)
	return nil
}

func (m *mockStore) Update(ctx context.Context, record UserRoleRecord) (UserRoleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.updateErr != nil {
		return UserRoleRecord{}, m.updateErr
	}
	existing, ok := m.records[record.UserID]
	if !ok {
		return UserRoleRecord{}, ErrNotFound
	}
	if existing.Version != record.Version {
		return UserRoleRecord{}, ErrVersionConflict
	}
	record.Version++
	m.records[record.UserID] = cloneRecord(record)
	return cloneRecord(record), nil
}

type mockAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
	err  error
}

func (m *mockAudit) Record(ctx context.Context, log shared.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.logs = append(m.logs, log)
	return nil
}

func (m *mockAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]string, len(m.logs))
	for i, log := range m.logs {
		actions[i] = log.Action
	}
	return actions
}

type mockProvider struct {
	mu        sync.Mutex
	accounts  map[string]string // email -> provider id
	createErr error
	deleted   []string
	resets    []string
	nextID    int
}

func newMockProvider() *mockProvider {
	return &mockProvider{accounts: make(map[string]string)}
}

func (m *mockProvider) CreateAccount(ctx context.Context, email, password string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return "", m.createErr
	}
	if _, ok := m.accounts[email]; ok {
		return "", identity.ErrEmailTaken
	}
	m.nextID++
	id := fmt.Sprintf("provider-%d", m.nextID)
	m.accounts[email] = id
	return id, nil
}

func (m *mockProvider) DeleteAccount(ctx context.Context, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, providerID)
	for email, id := range m.accounts {
		if id == providerID {
			delete(m.accounts, email)
		}
	}
	return nil
}

func (m *mockProvider) SendCredentialReset(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, email)
	return nil
}

type mockDispatcher struct {
	mu     sync.Mutex
	emails []string
	err    error
}

func (m *mockDispatcher) DispatchCredentialReset(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.emails = append(m.emails, email)
	return nil
}

// ============================================================================
// FIXTURES
// ============================================================================

var (
	protectedAdmin = Principal{ID: "admin-1", Email: protectedEmail, Authenticated: true}
	masterAdmin    = Principal{ID: "master-1", Email: "master@m1a.local", Authenticated: true}
	plainUser      = Principal{ID: "rando-1", Email: "rando@example.com", Authenticated: true}
)

type testEnv struct {
	store      *mockStore
	provider   *mockProvider
	audit      *mockAudit
	dispatcher *mockDispatcher
	resolver   *Resolver
	service    *Service
	activation *ActivationService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMockStore()
	guard := NewGuard(protectedEmail)
	logger := discardLogger()
	resolver := NewResolver(store, guard, nil, logger)
	provider := newMockProvider()
	audit := &mockAudit{}
	dispatcher := &mockDispatcher{}
	service := NewService(store, resolver, guard, provider, audit, dispatcher, logger)
	activation := NewActivationService(store, resolver, guard, audit, logger)

	store.put(UserRoleRecord{UserID: protectedAdmin.ID, Email: protectedAdmin.Email, Role: RoleAdmin, Status: StatusActive})
	store.put(UserRoleRecord{UserID: masterAdmin.ID, Email: masterAdmin.Email, Role: RoleMasterAdmin, Status: StatusActive})
	store.put(UserRoleRecord{UserID: plainUser.ID, Email: plainUser.Email, Role: RoleClient, Status: StatusActive})

	return &testEnv{
		store:      store,
		provider:   provider,
		audit:      audit,
		dispatcher: dispatcher,
		resolver:   resolver,
		service:    service,
		activation: activation,
	}
}

// ============================================================================
// UPGRADE
// ============================================================================

func TestUpgradeUserGrantsEmployee(t *testing.T) {
	env := newTestEnv(t)
	env.store.put(UserRoleRecord{UserID: "target-1", Email: "target@example.com", Role: RoleClient, Status: StatusActive})

	record, err := env.service.UpgradeUser(context.Background(), protectedAdmin, "target-1", RoleEmployee, EmployeeAssignment{Department: "Bar Staff"})
	require.NoError(t, err)

	assert.Equal(t, RoleEmployee, record.Role)
	assert.Equal(t, RoleClient, record.PreviousRole)
	require.NotNil(t, record.EmployeeInfo)
	assert.Equal(t, "Bar Staff", record.EmployeeInfo.Department)
	assert.Equal(t, InfoStatusActive, record.EmployeeInfo.Status)
	assert.Equal(t, protectedAdmin.ID, record.EmployeeInfo.CreatedBy)
	assert.Equal(t, "target-1", record.EmployeeInfo.HolderID)
	assert.Nil(t, record.AdminInfo)
	assert.Equal(t, protectedAdmin.ID, record.RoleUpdatedBy)
	assert.Equal(t, []string{"role.upgrade"}, env.audit.actions())
}

func TestUpgradeUserDefaultsDepartment(t *testing.T) {
	env := newTestEnv(t)
	env.store.put(UserRoleRecord{UserID: "target-1", Email: "target@example.com", Role: RoleClient, Status: StatusActive})

	record, err := env.service.UpgradeUser(context.Background(), protectedAdmin, "target-1", RoleEmployee, EmployeeAssignment{})
	require.NoError(t, err)
	assert.Equal(t, DefaultDepartment, record.EmployeeInfo.Department)
}

func TestUpgradeUserNeverGrantsAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.store.put(UserRoleRecord{UserID: "target-1", Email: "target@example.com", Role: RoleClient, Status: StatusActive})

	for _, role := range []Role{RoleAdmin, RoleMasterAdmin, RoleClient, Role("superuser")} {
		_, err := env.service.UpgradeUser(context.Background(), protectedAdmin, "target-1", role, EmployeeAssignment{})
		assert.ErrorIsf(t, err, ErrInvalidRole, "role %q must be rejected", role)
	}

	record, err := env.store.Get(context.Background(), "target-1")
	require.NoError(t, err)
	assert.Equal(t, RoleClient, record.Role, "target must be unchanged")
}

func TestUpgradeUserRequiresProtectedEmailAndAdminRole(t *testing.T) {
	env := newTestEnv(t)
	env.store.put(UserRoleRecord{UserID: "target-1", Email: "target@example.com", Role: RoleClient, Status: StatusActive})

	_, err := env.service.UpgradeUser(context.Background(), plainUser, "target-1", RoleEmployee, EmployeeAssignment{})
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Master admin fails too: this path trusts the protected email, not rank.
	_, err = env.service.UpgradeUser(context.Background(), masterAdmin, "target-1", RoleEmployee, EmployeeAssignment{})
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Protected email whose stored role is not admin fails the second predicate.
	env.store.put(UserRoleRecord{UserID: protectedAdmin.ID, Email: protectedAdmin.Email, Role: RoleClient, Status: StatusActive, Version: 2})
	_, err = env.service.UpgradeUser(context.Background(), protectedAdmin, "target-1", RoleEmployee, EmployeeAssignment{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestUpgradeUserTargetMasterAdminIsImmutable(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.UpgradeUser(context.Background(), protectedAdmin, masterAdmin.ID, RoleEmployee, EmployeeAssignment{})
	assert.ErrorIs(t, err, ErrImmutable)
}

func TestUpgradeUserTargetMissing(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.UpgradeUser(context.Background(), protectedAdmin, "ghost", RoleEmployee, EmployeeAssignment{})
	assert.ErrorIs(t, err, ErrNotFound)
}

// ============================================================================
// ACCOUNT PROVISIONING
// ============================================================================

func TestCreateEmployeeAccount(t *testing.T) {
	env := newTestEnv(t)

	record, err := env.service.CreateEmployeeAccount(context.Background(), protectedAdmin, NewAccount{
		Email:      "new.hire@example.com",
		Department: "Door",
	})
	require.NoError(t, err)

	assert.Equal(t, RoleEmployee, record.Role)
	assert.Equal(t, "new.hire@example.com", record.Email)
	require.NotNil(t, record.EmployeeInfo)
	assert.Equal(t, "Door", record.EmployeeInfo.Department)
	assert.Nil(t, record.AdminInfo)

	// Generated credential means a reset gets dispatched.
	assert.Equal(t, []string{"new.hire@example.com"}, env.dispatcher.emails)

	stored, err := env.store.Get(context.Background(), record.UserID)
	require.NoError(t, err)
	assert.Equal(t, RoleEmployee, stored.Role)
}

func TestCreateEmployeeAccountSuppliedPasswordSkipsReset(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.CreateEmployeeAccount(context.Background(), protectedAdmin, NewAccount{
		Email:    "new.hire@example.com",
		Password: "chosen-by-admin-1",
	})
	require.NoError(t, err)
	assert.Empty(t, env.dispatcher.emails)
}

func TestCreateEmployeeAccountRequiresAdminRank(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.CreateEmployeeAccount(context.Background(), plainUser, NewAccount{Email: "x@example.com"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Master admin passes the rank predicate.
	_, err = env.service.CreateEmployeeAccount(context.Background(), masterAdmin, NewAccount{Email: "y@example.com"})
	assert.NoError(t, err)
}

func TestCreateEmployeeAccountDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.CreateEmployeeAccount(context.Background(), protectedAdmin, NewAccount{Email: plainUser.Email})
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestCreateEmployeeAccountProviderFailureLeavesNoRecord(t *testing.T) {
	env := newTestEnv(t)
	env.provider.createErr = identity.ErrUnavailable

	_, err := env.service.CreateEmployeeAccount(context.Background(), protectedAdmin, NewAccount{Email: "new.hire@example.com"})
	assert.ErrorIs(t, err, ErrIdentityProvider)

	_, err = env.store.GetByEmail(context.Background(), "new.hire@example.com")
	assert.ErrorIs(t, err, ErrNotFound, "identity failure must leave no orphan role record")
}

func TestCreateEmployeeAccountRecordFailureRollsBackIdentity(t *testing.T) {
	env := newTestEnv(t)
	env.store.createErr = ErrStoreUnavailable

	_, err := env.service.CreateEmployeeAccount(context.Background(), protectedAdmin, NewAccount{Email: "new.hire@example.com"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Len(t, env.provider.deleted, 1, "half-provisioned identity must be rolled back")
}

func TestCreateAdminAccountStrictlyMasterAdmin(t *testing.T) {
	env := newTestEnv(t)

	// The protected admin holds role=admin, which is not enough here.
	_, err := env.service.CreateAdminAccount(context.Background(), protectedAdmin, NewAccount{Email: "second@example.com"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	record, err := env.service.CreateAdminAccount(context.Background(), masterAdmin, NewAccount{Email: "second@example.com"})
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, record.Role)
	require.NotNil(t, record.AdminInfo)
	assert.Equal(t, InfoStatusActive, record.AdminInfo.Status)
	assert.Nil(t, record.EmployeeInfo)
}

func TestNoOperationProducesMasterAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.store.put(UserRoleRecord{UserID: "target-1", Email: "target@example.com", Role: RoleClient, Status: StatusActive})

	_, err := env.service.UpgradeUser(context.Background(), protectedAdmin, "target-1", RoleMasterAdmin, EmployeeAssignment{})
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = env.service.UpdateUserRole(context.Background(), masterAdmin, "target-1", RoleMasterAdmin)
	assert.ErrorIs(t, err, ErrInvalidRole)
}

// ============================================================================
// REVOKE
// ============================================================================

func seedEmployee(env *testEnv, userID, email string) {
	now := time.Now().UTC()
	env.store.put(UserRoleRecord{
		UserID: userID,
		Email:  email,
		Role:   RoleEmployee,
		Status: StatusActive,
		EmployeeInfo: &RoleInfo{
			HolderID:   userID,
			Department: "Bar Staff",
			AssignedAt: now,
			Status:     InfoStatusActive,
			CreatedBy:  protectedAdmin.ID,
		},
	})
}

func TestRevokeUserRole(t *testing.T) {
	env := newTestEnv(t)
	seedEmployee(env, "emp-1", "emp@example.com")

	record, err := env.service.RevokeUserRole(context.Background(), protectedAdmin, "emp-1")
	require.NoError(t, err)

	assert.Equal(t, RoleClient, record.Role)
	assert.Equal(t, RoleEmployee, record.PreviousRole)
	require.NotNil(t, record.RoleRevokedAt)
	assert.Equal(t, protectedAdmin.ID, record.RoleRevokedBy)
	require.NotNil(t, record.EmployeeInfo, "info block is retained for audit")
	assert.Equal(t, InfoStatusInactive, record.EmployeeInfo.Status)
	assert.Equal(t, "Bar Staff", record.EmployeeInfo.Department)
}

func TestRevokeUserRoleRequiresProtectedEmail(t *testing.T) {
	env := newTestEnv(t)
	seedEmployee(env, "emp-1", "emp@example.com")

	for _, requester := range []Principal{plainUser, masterAdmin} {
		_, err := env.service.RevokeUserRole(context.Background(), requester, "emp-1")
		assert.ErrorIs(t, err, ErrUnauthorized)
	}

	record, err := env.store.Get(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Equal(t, RoleEmployee, record.Role, "target must be unchanged after rejected revoke")
	assert.Equal(t, InfoStatusActive, record.EmployeeInfo.Status)
}

func TestRevokeUserRoleProtectedTarget(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.RevokeUserRole(context.Background(), protectedAdmin, protectedAdmin.ID)
	assert.ErrorIs(t, err, ErrProtected)
}

func TestRevokeUserRoleMasterAdminTarget(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.RevokeUserRole(context.Background(), protectedAdmin, masterAdmin.ID)
	assert.ErrorIs(t, err, ErrImmutable)
}

// ============================================================================
// UPDATE ROLE
// ============================================================================

func TestUpdateUserRoleDoesNotTouchInfoBlocks(t *testing.T) {
	env := newTestEnv(t)
	seedEmployee(env, "emp-1", "emp@example.com")

	record, err := env.service.UpdateUserRole(context.Background(), masterAdmin, "emp-1", RoleClient)
	require.NoError(t, err)

	assert.Equal(t, RoleClient, record.Role)
	assert.Equal(t, RoleEmployee, record.PreviousRole)
	require.NotNil(t, record.EmployeeInfo)
	assert.Equal(t, InfoStatusActive, record.EmployeeInfo.Status, "unconditional role set leaves info blocks alone")
	assert.Nil(t, record.RoleRevokedAt)
}

func TestUpdateUserRoleAuthorityAndValidation(t *testing.T) {
	env := newTestEnv(t)
	env.store.put(UserRoleRecord{UserID: "target-1", Email: "target@example.com", Role: RoleClient, Status: StatusActive})

	_, err := env.service.UpdateUserRole(context.Background(), protectedAdmin, "target-1", RoleEmployee)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = env.service.UpdateUserRole(context.Background(), masterAdmin, "target-1", Role("owner"))
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = env.service.UpdateUserRole(context.Background(), masterAdmin, masterAdmin.ID, RoleClient)
	assert.ErrorIs(t, err, ErrImmutable)

	record, err := env.service.UpdateUserRole(context.Background(), masterAdmin, "target-1", RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, record.Role)
}

// ============================================================================
// EMPLOYEE DEACTIVATION
// ============================================================================

func TestDeactivateEmployee(t *testing.T) {
	env := newTestEnv(t)
	seedEmployee(env, "emp-1", "emp@example.com")

	record, err := env.service.DeactivateEmployee(context.Background(), masterAdmin, "emp-1")
	require.NoError(t, err)

	assert.Equal(t, InfoStatusInactive, record.EmployeeInfo.Status)
	assert.Equal(t, RoleEmployee, record.Role, "role is untouched")
	assert.Equal(t, StatusActive, record.Status, "account status is untouched")
}

func TestDeactivateEmployeeRequiresAssignment(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.DeactivateEmployee(context.Background(), masterAdmin, plainUser.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeactivateEmployeeRequiresMasterAdmin(t *testing.T) {
	env := newTestEnv(t)
	seedEmployee(env, "emp-1", "emp@example.com")
	_, err := env.service.DeactivateEmployee(context.Background(), protectedAdmin, "emp-1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

// ============================================================================
// LISTING
// ============================================================================

func TestListUsersByRole(t *testing.T) {
	env := newTestEnv(t)
	seedEmployee(env, "emp-1", "emp@example.com")
	seedEmployee(env, "emp-2", "emp2@example.com")

	records, err := env.service.ListUsersByRole(context.Background(), protectedAdmin, RoleEmployee)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, RoleEmployee, record.Role)
	}

	records, err = env.service.ListUsersByRole(context.Background(), masterAdmin, RoleMasterAdmin)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestListUsersByRoleAuthorityAndValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.ListUsersByRole(context.Background(), plainUser, RoleEmployee)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = env.service.ListUsersByRole(context.Background(), protectedAdmin, Role("owner"))
	assert.ErrorIs(t, err, ErrInvalidRole)
}

// ============================================================================
// WRITE-PATH FAILURE AND CONCURRENCY
// ============================================================================

func TestMutationSurfacesStoreFailure(t *testing.T) {
	env := newTestEnv(t)
	seedEmployee(env, "emp-1", "emp@example.com")
	env.store.updateErr = ErrStoreUnavailable

	_, err := env.service.RevokeUserRole(context.Background(), protectedAdmin, "emp-1")
	assert.ErrorIs(t, err, ErrStoreUnavailable, "a role mutation must never be silently dropped")
}

func TestMutationGivesUpAfterRepeatedConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.store.put(UserRoleRecord{UserID: "target-1", Email: "target@example.com", Role: RoleClient, Status: StatusActive})
	env.store.updateErr = ErrVersionConflict

	_, err := env.service.UpdateUserRole(context.Background(), masterAdmin, "target-1", RoleEmployee)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, casRetries, env.store.updateCalls)
}

func TestConcurrentUpgradeAndRevokeCommitWholeFieldSets(t *testing.T) {
	env := newTestEnv(t)
	env.store.put(UserRoleRecord{UserID: "target-1", Email: "target@example.com", Role: RoleClient, Status: StatusActive})

	var wg sync.WaitGroup
	wg.Add(2)
	var upgradeErr, revokeErr error
	go func() {
		defer wg.Done()
		_, upgradeErr = env.service.UpgradeUser(context.Background(), protectedAdmin, "target-1", RoleEmployee, EmployeeAssignment{Department: "Bar Staff"})
	}()
	go func() {
		defer wg.Done()
		_, revokeErr = env.service.RevokeUserRole(context.Background(), protectedAdmin, "target-1")
	}()
	wg.Wait()

	require.NoError(t, upgradeErr)
	require.NoError(t, revokeErr)

	final, err := env.store.Get(context.Background(), "target-1")
	require.NoError(t, err)

	// Both writes committed, in either order, each as a whole field set.
	assert.Equal(t, int64(3), final.Version)
	switch final.Role {
	case RoleEmployee:
		// Revoke landed first, upgrade second.
		require.NotNil(t, final.EmployeeInfo)
		assert.Equal(t, InfoStatusActive, final.EmployeeInfo.Status)
	case RoleClient:
		// Upgrade landed first, revoke second.
		require.NotNil(t, final.EmployeeInfo)
		assert.Equal(t, InfoStatusInactive, final.EmployeeInfo.Status)
		require.NotNil(t, final.RoleRevokedAt)
	default:
		t.Fatalf("unexpected final role %q", final.Role)
	}
}

func TestUnauthenticatedRequesterIsRejected(t *testing.T) {
	env := newTestEnv(t)
	ghost := Principal{ID: "ghost", Email: "ghost@example.com"}
	_, err := env.service.UpgradeUser(context.Background(), ghost, plainUser.ID, RoleEmployee, EmployeeAssignment{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuditFailureDoesNotFailMutation(t *testing.T) {
	env := newTestEnv(t)
	seedEmployee(env, "emp-1", "emp@example.com")
	env.audit.err = errors.New("audit sink down")

	_, err := env.service.RevokeUserRole(context.Background(), protectedAdmin, "emp-1")
	assert.NoError(t, err)
}
