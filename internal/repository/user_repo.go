package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iaprender-user-sync/internal/database"
	"github.com/iaprender-user-sync/internal/models"
)

// userRepo is the concrete implementation of UserRepository
type userRepo struct {
	db *database.DB
}

// NewUserRepo creates a new user repository
func NewUserRepo(db *database.DB) UserRepository {
	return &userRepo{db: db}
}

const upsertUserQuery = `
	INSERT INTO users (external_id, username, email, display_name, role, status, organization_id, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	ON CONFLICT (external_id) DO UPDATE SET
		username = EXCLUDED.username,
		email = EXCLUDED.email,
		display_name = EXCLUDED.display_name,
		role = EXCLUDED.role,
		status = EXCLUDED.status,
		organization_id = EXCLUDED.organization_id,
		updated_at = NOW()
	RETURNING id, (xmax = 0) AS inserted
`

// Persist upserts the users row and the matching role row in one
// transaction. A role change also removes the row of the previous role, and
// a user never keeps rows in two role tables.
func (r *userRepo) Persist(ctx context.Context, user *models.CanonicalUser) (*models.PersistResult, error) {
	if user.ExternalID == "" {
		return nil, errors.New("persist: empty external id")
	}

	result := &models.PersistResult{Role: user.Role}

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var previous sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT role FROM users WHERE external_id = $1 FOR UPDATE`, user.ExternalID,
		).Scan(&previous)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lock user: %w", err)
		}

		if previous.Valid {
			result.PreviousRole = models.RoleTag(previous.String)
			if user.PreserveRole && models.ValidRoles[result.PreviousRole] {
				result.Role = result.PreviousRole
			}
		}

		err = tx.QueryRowContext(ctx, upsertUserQuery,
			user.ExternalID, user.Username, user.Email, user.DisplayName,
			result.Role, user.Status, nullInt64(user.OrganizationID),
		).Scan(&result.UserID, &result.Created)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}

		switch {
		case result.PreviousRole != "" && result.PreviousRole != result.Role:
			result.RoleChanged = true
			if err := deleteSatellites(ctx, tx, result.PreviousRole, result.UserID); err != nil {
				return err
			}
		case !previous.Valid && !result.Created:
			// The row appeared after the lock read, written by an overlapping
			// sync whose role is unknown here. The upsert now holds the row
			// lock, so clearing every other role table is final.
			removed, err := deleteOtherSatellites(ctx, tx, result.Role, result.UserID)
			if err != nil {
				return err
			}
			result.RoleChanged = removed > 0
		}

		return upsertSatellite(ctx, tx, result.Role, result.UserID, user.OrganizationID)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

const selectUserColumns = `id, external_id, username, email, display_name, role, status, organization_id, created_at, updated_at`

// Count returns the total number of users
func (r *userRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

// CountByRole returns row counts per role
func (r *userRepo) CountByRole(ctx context.Context) (map[models.RoleTag]int, error) {
	rows, err := r.db.QueryContext(ctx, countByRoleQuery())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.RoleTag]int, len(models.ValidRoles))
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		counts[models.RoleTag(role)] = n
	}
	return counts, rows.Err()
}

// StreamAll streams all users for export (memory efficient)
func (r *userRepo) StreamAll(ctx context.Context, callback func(*models.User) error) error {
	query := `SELECT ` + selectUserColumns + ` FROM users ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return err
		}
		if err := callback(user); err != nil {
			return err
		}
	}

	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var orgID sql.NullInt64
	err := row.Scan(
		&user.ID, &user.ExternalID, &user.Username, &user.Email, &user.DisplayName,
		&user.Role, &user.Status, &orgID, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if orgID.Valid {
		user.OrganizationID = &orgID.Int64
	}
	return &user, nil
}

// helper to convert a nil pointer to NULL
func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
