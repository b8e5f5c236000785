// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package authz

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/agora/internal/platform/database/schema"
)

// PostgresStore reads the catalog tables of the identity schema.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new catalog reader.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Roles lists every role with its parent.
func (store *PostgresStore) Roles(ctx context.Context) ([]Role, error) {
	query := fmt.Sprintf(`SELECT %s, COALESCE(%s, '') FROM %s`,
		schema.IdentityRole.ID, schema.IdentityRole.ParentID, schema.IdentityRole.Table)

	rows, err := store.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres_authz_roles_failed: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.ParentID); err != nil {
			return nil, fmt.Errorf("postgres_authz_roles_scan_failed: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// Grants lists every role-permission pair.
func (store *PostgresStore) Grants(ctx context.Context) ([]Grant, error) {
	query := fmt.Sprintf(`SELECT %s, %s FROM %s`,
		schema.IdentityRolePermission.RoleID, schema.IdentityRolePermission.PermissionID,
		schema.IdentityRolePermission.Table)

	rows, err := store.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres_authz_grants_failed: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var grant Grant
		if err := rows.Scan(&grant.RoleID, &grant.PermissionID); err != nil {
			return nil, fmt.Errorf("postgres_authz_grants_scan_failed: %w", err)
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

// UserRoles lists the extra roles of one user.
func (store *PostgresStore) UserRoles(ctx context.Context, userID string) ([]string, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`,
		schema.IdentityUserRole.RoleID, schema.IdentityUserRole.Table, schema.IdentityUserRole.UserID)

	rows, err := store.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres_authz_user_roles_failed: %w", err)
	}
	defer rows.Close()

	roles := []string{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("postgres_authz_user_roles_scan_failed: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
