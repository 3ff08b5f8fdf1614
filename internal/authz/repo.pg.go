package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for user role records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `user_id, email, role, status, version, overrides, employee_info, admin_info,
	previous_role, role_updated_at, role_updated_by, role_revoked_at, role_revoked_by,
	role_security_downgrade, created_at, updated_at`

// Get returns the record for the user id.
func (r *Repository) Get(ctx context.Context, userID string) (UserRoleRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM user_role_records WHERE user_id = $1`, userID)
	return scanRecord(row)
}

// GetByEmail returns the record holding the email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (UserRoleRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM user_role_records WHERE email = $1`, email)
	return scanRecord(row)
}

// ListByRole returns all records currently holding the role.
func (r *Repository) ListByRole(ctx context.Context, role Role) ([]UserRoleRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM user_role_records WHERE role = $1 ORDER BY created_at`, role)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	var records []UserRoleRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return records, nil
}

// Create inserts a new record at version 1.
func (r *Repository) Create(ctx context.Context, record UserRoleRecord) error {
	overrides, employeeInfo, adminInfo, err := encodeBlocks(record)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO user_role_records (
			user_id, email, role, status, version, overrides, employee_info, admin_info,
			previous_role, role_updated_at, role_updated_by, role_revoked_at, role_revoked_by,
			role_security_downgrade, created_at, updated_at
		) VALUES ($1, $2, $3, $4, 1, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())`,
		record.UserID, record.Email, record.Role, record.Status,
		overrides, employeeInfo, adminInfo,
		nullRole(record.PreviousRole), nullTime(record.RoleUpdatedAt), record.RoleUpdatedBy,
		record.RoleRevokedAt, record.RoleRevokedBy, record.RoleSecurityDowngrade,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEmailExists
		}
		return storeErr(err)
	}
	return nil
}

// Update performs the compare-and-swap write: the row is only touched when
// the stored version still matches the version the caller read.
func (r *Repository) Update(ctx context.Context, record UserRoleRecord) (UserRoleRecord, error) {
	overrides, employeeInfo, adminInfo, err := encodeBlocks(record)
	if err != nil {
		return UserRoleRecord{}, err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_role_records SET
			email = $3, role = $4, status = $5, overrides = $6, employee_info = $7,
			admin_info = $8, previous_role = $9, role_updated_at = $10, role_updated_by = $11,
			role_revoked_at = $12, role_revoked_by = $13, role_security_downgrade = $14,
			version = version + 1, updated_at = NOW()
		WHERE user_id = $1 AND version = $2`,
		record.UserID, record.Version,
		record.Email, record.Role, record.Status, overrides, employeeInfo, adminInfo,
		nullRole(record.PreviousRole), nullTime(record.RoleUpdatedAt), record.RoleUpdatedBy,
		record.RoleRevokedAt, record.RoleRevokedBy, record.RoleSecurityDowngrade,
	)
	if err != nil {
		return UserRoleRecord{}, storeErr(err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, record.UserID); errors.Is(err, ErrNotFound) {
			return UserRoleRecord{}, ErrNotFound
		}
		return UserRoleRecord{}, ErrVersionConflict
	}
	record.Version++
	return record, nil
}

type pgRow interface {
	Scan(dest ...any) error
}

func scanRecord(row pgRow) (UserRoleRecord, error) {
	var (
		record       UserRoleRecord
		overrides    []byte
		employeeInfo []byte
		adminInfo    []byte
		previousRole *string
		updatedAt    *time.Time
	)
	err := row.Scan(
		&record.UserID, &record.Email, &record.Role, &record.Status, &record.Version,
		&overrides, &employeeInfo, &adminInfo,
		&previousRole, &updatedAt, &record.RoleUpdatedBy,
		&record.RoleRevokedAt, &record.RoleRevokedBy, &record.RoleSecurityDowngrade,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRoleRecord{}, ErrNotFound
		}
		return UserRoleRecord{}, storeErr(err)
	}
	if previousRole != nil {
		record.PreviousRole = Role(*previousRole)
	}
	if updatedAt != nil {
		record.RoleUpdatedAt = *updatedAt
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &record.Overrides); err != nil {
			return UserRoleRecord{}, fmt.Errorf("authz: decode overrides: %w", err)
		}
	}
	if len(employeeInfo) > 0 {
		record.EmployeeInfo = &RoleInfo{}
		if err := json.Unmarshal(employeeInfo, record.EmployeeInfo); err != nil {
			return UserRoleRecord{}, fmt.Errorf("authz: decode employee info: %w", err)
		}
	}
	if len(adminInfo) > 0 {
		record.AdminInfo = &RoleInfo{}
		if err := json.Unmarshal(adminInfo, record.AdminInfo); err != nil {
			return UserRoleRecord{}, fmt.Errorf("authz: decode admin info: %w", err)
		}
	}
	return record, nil
}

func encodeBlocks(record UserRoleRecord) (overrides, employeeInfo, adminInfo []byte, err error) {
	if len(record.Overrides) > 0 {
		if overrides, err = json.Marshal(record.Overrides); err != nil {
			return nil, nil, nil, fmt.Errorf("authz: encode overrides: %w", err)
		}
	}
	if record.EmployeeInfo != nil {
		if employeeInfo, err = json.Marshal(record.EmployeeInfo); err != nil {
			return nil, nil, nil, fmt.Errorf("authz: encode employee info: %w", err)
		}
	}
	if record.AdminInfo != nil {
		if adminInfo, err = json.Marshal(record.AdminInfo); err != nil {
			return nil, nil, nil, fmt.Errorf("authz: encode admin info: %w", err)
		}
	}
	return overrides, employeeInfo, adminInfo, nil
}

func nullRole(role Role) *string {
	if role == "" {
		return nil
	}
	s := string(role)
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

var _ RecordStore = (*Repository)(nil)
