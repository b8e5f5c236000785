// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/database"
	"github.com/taibuivan/agora/internal/platform/database/schema"
	"github.com/taibuivan/agora/internal/platform/dberr"
	"github.com/taibuivan/agora/pkg/uuid"
)

// PostgresStore implements [Store] over identity.account.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new Postgres credential store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// LockedUntil returns lockoutend only while it is enabled and in the future.
func (store *PostgresStore) LockedUntil(ctx context.Context, userID string, now time.Time) (*time.Time, error) {
	query := fmt.Sprintf(`
		SELECT CASE WHEN %[1]s AND %[2]s > $2 THEN %[2]s END
		FROM %[3]s
		WHERE %[4]s = $1 AND %[5]s`,
		schema.IdentityAccount.LockoutEnabled,
		schema.IdentityAccount.LockoutEnd,
		schema.IdentityAccount.Table,
		schema.IdentityAccount.ID,
		database.NotDeleted(""),
	)

	var lockedUntil *time.Time
	if err := store.pool.QueryRow(ctx, query, userID, now).Scan(&lockedUntil); err != nil {
		return nil, dberr.Wrap(err, "Account", "postgres_credential_lockout_read_failed")
	}
	return lockedUntil, nil
}

// IncrementFailure runs as one statement; the CASE arms read the pre-update row.
// $4 is now: a row locked past it keeps both its counter and its lockoutend.
func (store *PostgresStore) IncrementFailure(ctx context.Context, userID string, threshold int, now, lockUntil time.Time) (Failure, error) {
	query := fmt.Sprintf(`
		UPDATE %[1]s
		SET %[2]s = CASE
				WHEN %[3]s AND %[4]s > $4 THEN %[2]s
				WHEN %[3]s AND %[2]s + 1 >= $2 THEN 0
				ELSE %[2]s + 1 END,
			%[4]s = CASE
				WHEN %[3]s AND %[4]s > $4 THEN %[4]s
				WHEN %[3]s AND %[2]s + 1 >= $2 THEN $3
				ELSE %[4]s END
		WHERE %[5]s = $1 AND %[6]s
		RETURNING %[2]s, %[4]s`,
		schema.IdentityAccount.Table,
		schema.IdentityAccount.AccessFailedCount,
		schema.IdentityAccount.LockoutEnabled,
		schema.IdentityAccount.LockoutEnd,
		schema.IdentityAccount.ID,
		database.NotDeleted(""),
	)

	var failure Failure
	err := store.pool.QueryRow(ctx, query, userID, threshold, lockUntil, now).Scan(&failure.Count, &failure.LockedUntil)
	if err != nil {
		return Failure{}, dberr.Wrap(err, "Account", "postgres_credential_increment_failure_failed")
	}
	return failure, nil
}

// ResetFailures zeroes the counter; an active lockout is left untouched.
func (store *PostgresStore) ResetFailures(ctx context.Context, userID string, now time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %[1]s
		SET %[2]s = 0,
			%[3]s = CASE WHEN %[3]s IS NOT NULL AND %[3]s <= $2 THEN NULL ELSE %[3]s END
		WHERE %[4]s = $1`,
		schema.IdentityAccount.Table,
		schema.IdentityAccount.AccessFailedCount,
		schema.IdentityAccount.LockoutEnd,
		schema.IdentityAccount.ID,
	)

	if _, err := store.pool.Exec(ctx, query, userID, now); err != nil {
		return fmt.Errorf("postgres_credential_reset_failures_failed: %w", err)
	}
	return nil
}

// UpdatePassword stores the hash and both stamps.
func (store *PostgresStore) UpdatePassword(ctx context.Context, userID, hash, securityStamp, actor string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET %s = $2, %s = $3, %s = $4, %s = $5, %s = $6
		WHERE %s = $1 AND %s`,
		schema.IdentityAccount.Table,
		schema.IdentityAccount.PasswordHash, schema.IdentityAccount.SecurityStamp,
		schema.IdentityAccount.ConcurrencyStamp, schema.IdentityAccount.UpdatedAt,
		schema.IdentityAccount.UpdatedBy,
		schema.IdentityAccount.ID, database.NotDeleted(""),
	)

	tag, err := store.pool.Exec(ctx, query, userID, hash, securityStamp, uuid.New(), at, actor)
	if err != nil {
		return fmt.Errorf("postgres_credential_update_password_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Account")
	}
	return nil
}

// Unlock clears lockoutend and the counter.
func (store *PostgresStore) Unlock(ctx context.Context, userID string) error {
	query := fmt.Sprintf(`UPDATE %s SET %s = NULL, %s = 0 WHERE %s = $1 AND %s`,
		schema.IdentityAccount.Table,
		schema.IdentityAccount.LockoutEnd, schema.IdentityAccount.AccessFailedCount,
		schema.IdentityAccount.ID, database.NotDeleted(""),
	)

	tag, err := store.pool.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("postgres_credential_unlock_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Account")
	}
	return nil
}
