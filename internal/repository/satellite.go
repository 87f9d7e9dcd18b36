package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/iaprender-user-sync/internal/database"
	"github.com/iaprender-user-sync/internal/models"
)

// satelliteTables maps each non-admin role to its table
var satelliteTables = map[models.RoleTag]string{
	models.RoleManager:  "managers",
	models.RoleDirector: "directors",
	models.RoleTeacher:  "teachers",
	models.RoleStudent:  "students",
}

// SatelliteTable returns the role table for role, or "" for admin
func SatelliteTable(role models.RoleTag) string {
	return satelliteTables[role]
}

// upsertSatellite writes the (user, organization) row of the role table.
// The unique key treats NULL organizations as equal.
func upsertSatellite(ctx context.Context, q database.Querier, role models.RoleTag, userID int64, orgID *int64) error {
	table := SatelliteTable(role)
	if table == "" {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, organization_id, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (user_id, organization_id) DO UPDATE SET
			updated_at = NOW()
	`, table)

	if _, err := q.ExecContext(ctx, query, userID, nullInt64(orgID)); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

// deleteSatellites removes every row of userID from the role table
func deleteSatellites(ctx context.Context, q database.Querier, role models.RoleTag, userID int64) error {
	table := SatelliteTable(role)
	if table == "" {
		return nil
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, table)
	if _, err := q.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("delete stale %s: %w", table, err)
	}
	return nil
}

// deleteOtherSatellites removes userID from every role table except keep's
// and reports how many rows went away
func deleteOtherSatellites(ctx context.Context, q database.Querier, keep models.RoleTag, userID int64) (int64, error) {
	var removed int64
	for _, role := range models.SatelliteRoles {
		if role == keep {
			continue
		}
		table := satelliteTables[role]
		res, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, table), userID)
		if err != nil {
			return removed, fmt.Errorf("delete stale %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += n
		}
	}
	return removed, nil
}

// countByRoleQuery counts admins in users and every other role in its table
func countByRoleQuery() string {
	parts := []string{`SELECT 'admin' AS role, COUNT(*) FROM users WHERE role = 'admin'`}
	for _, role := range models.SatelliteRoles {
		parts = append(parts, fmt.Sprintf(`SELECT '%s', COUNT(*) FROM %s`, role, satelliteTables[role]))
	}
	return strings.Join(parts, "\nUNION ALL\n")
}
