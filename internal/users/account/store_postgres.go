// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package account

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/database"
	"github.com/taibuivan/agora/internal/platform/database/schema"
	"github.com/taibuivan/agora/internal/platform/dberr"
	"github.com/taibuivan/agora/pkg/uuid"
)

// # Repository Implementation

// PostgresRepository implements [Repository] over identity.account.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new Postgres implementation for identities.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var accountColumns = strings.Join(schema.IdentityAccount.Columns(), ", ")

// scanIdentity maps one row in [schema.IdentityAccountTable.Columns] order.
func scanIdentity(row pgx.Row) (*Identity, error) {
	identity := &Identity{}
	err := row.Scan(
		&identity.ID,
		&identity.Username,
		&identity.NormalizedUsername,
		&identity.Email,
		&identity.NormalizedEmail,
		&identity.EmailConfirmed,
		&identity.PhoneNumber,
		&identity.PhoneConfirmed,
		&identity.PasswordHash,
		&identity.SecurityStamp,
		&identity.ConcurrencyStamp,
		&identity.TwoFactorType,
		&identity.TwoFactorSecret,
		&identity.Role,
		&identity.Status,
		&identity.VerificationStatus,
		&identity.LockoutEnabled,
		&identity.LockoutEnd,
		&identity.AccessFailedCount,
		&identity.DisplayName,
		&identity.CreatedAt,
		&identity.CreatedBy,
		&identity.UpdatedAt,
		&identity.UpdatedBy,
		&identity.IsDeleted,
		&identity.DeletedAt,
		&identity.DeletedBy,
	)
	if err != nil {
		return nil, err
	}
	return identity, nil
}

/*
Create inserts a new identity row.

Description: The partial unique indexes on the normalized columns are the final
arbiter of uniqueness; a concurrent registration that slips past the service
pre-check surfaces here as a Conflict.
*/
func (repository *PostgresRepository) Create(ctx context.Context, identity *Identity) error {
	placeholders := make([]string, len(schema.IdentityAccount.Columns()))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		schema.IdentityAccount.Table, accountColumns, strings.Join(placeholders, ", "))

	_, err := repository.pool.Exec(ctx, query,
		identity.ID,
		identity.Username,
		identity.NormalizedUsername,
		identity.Email,
		identity.NormalizedEmail,
		identity.EmailConfirmed,
		identity.PhoneNumber,
		identity.PhoneConfirmed,
		identity.PasswordHash,
		identity.SecurityStamp,
		identity.ConcurrencyStamp,
		identity.TwoFactorType,
		identity.TwoFactorSecret,
		identity.Role,
		identity.Status,
		identity.VerificationStatus,
		identity.LockoutEnabled,
		identity.LockoutEnd,
		identity.AccessFailedCount,
		identity.DisplayName,
		identity.CreatedAt,
		identity.CreatedBy,
		identity.UpdatedAt,
		identity.UpdatedBy,
		identity.IsDeleted,
		identity.DeletedAt,
		identity.DeletedBy,
	)
	return dberr.Wrap(err, "Account", "postgres_account_repo_create_failed")
}

// FindByID retrieves a live identity by id.
func (repository *PostgresRepository) FindByID(ctx context.Context, id string) (*Identity, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 AND %s`,
		accountColumns, schema.IdentityAccount.Table, schema.IdentityAccount.ID, database.NotDeleted(""))

	identity, err := scanIdentity(repository.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, dberr.Wrap(err, "Account", "postgres_account_repo_find_by_id_failed")
	}
	return identity, nil
}

// FindByLogin matches either normalized identifier. Emails contain '@' and
// usernames cannot, so at most one live row matches.
func (repository *PostgresRepository) FindByLogin(ctx context.Context, normalizedLogin string) (*Identity, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE (%s = $1 OR %s = $1) AND %s
		LIMIT 1`,
		accountColumns, schema.IdentityAccount.Table,
		schema.IdentityAccount.NormalizedEmail, schema.IdentityAccount.NormalizedUsername,
		database.NotDeleted(""),
	)

	identity, err := scanIdentity(repository.pool.QueryRow(ctx, query, normalizedLogin))
	if err != nil {
		return nil, dberr.Wrap(err, "Account", "postgres_account_repo_find_by_login_failed")
	}
	return identity, nil
}

// LoginTaken checks both identifiers in a single round trip.
func (repository *PostgresRepository) LoginTaken(ctx context.Context, normalizedEmail, normalizedUsername string) (bool, bool, error) {
	query := fmt.Sprintf(`
		SELECT
			EXISTS (SELECT 1 FROM %[1]s WHERE %[2]s = $1 AND %[4]s),
			EXISTS (SELECT 1 FROM %[1]s WHERE %[3]s = $2 AND %[4]s)`,
		schema.IdentityAccount.Table,
		schema.IdentityAccount.NormalizedEmail,
		schema.IdentityAccount.NormalizedUsername,
		database.NotDeleted(""),
	)

	var emailTaken, usernameTaken bool
	if err := repository.pool.QueryRow(ctx, query, normalizedEmail, normalizedUsername).Scan(&emailTaken, &usernameTaken); err != nil {
		return false, false, fmt.Errorf("postgres_account_repo_login_taken_failed: %w", err)
	}
	return emailTaken, usernameTaken, nil
}

// UpdateProfile writes the mutable profile columns.
func (repository *PostgresRepository) UpdateProfile(ctx context.Context, identity *Identity) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET %s = $2, %s = $3, %s = $4, %s = $5, %s = $6, %s = $7
		WHERE %s = $1 AND %s`,
		schema.IdentityAccount.Table,
		schema.IdentityAccount.DisplayName, schema.IdentityAccount.PhoneNumber,
		schema.IdentityAccount.PhoneConfirmed, schema.IdentityAccount.ConcurrencyStamp,
		schema.IdentityAccount.UpdatedAt, schema.IdentityAccount.UpdatedBy,
		schema.IdentityAccount.ID, database.NotDeleted(""),
	)

	tag, err := repository.pool.Exec(ctx, query,
		identity.ID,
		identity.DisplayName,
		identity.PhoneNumber,
		identity.PhoneConfirmed,
		identity.ConcurrencyStamp,
		identity.UpdatedAt,
		identity.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("postgres_account_repo_update_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Account")
	}
	return nil
}

// MarkEmailVerified confirms the email; a pending identity becomes active.
func (repository *PostgresRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %[1]s
		SET %[2]s = TRUE,
			%[3]s = CASE WHEN %[3]s = 'phone' THEN 'full' WHEN %[3]s = 'full' THEN 'full' ELSE 'email' END,
			%[4]s = CASE WHEN %[4]s = 'pending' THEN 'active' ELSE %[4]s END,
			%[5]s = $2,
			%[6]s = $3
		WHERE %[7]s = $1 AND %[8]s`,
		schema.IdentityAccount.Table,
		schema.IdentityAccount.EmailConfirmed,
		schema.IdentityAccount.VerificationStatus,
		schema.IdentityAccount.Status,
		schema.IdentityAccount.UpdatedAt,
		schema.IdentityAccount.ConcurrencyStamp,
		schema.IdentityAccount.ID,
		database.NotDeleted(""),
	)

	tag, err := repository.pool.Exec(ctx, query, id, at, uuid.New())
	if err != nil {
		return fmt.Errorf("postgres_account_repo_mark_email_verified_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Account")
	}
	return nil
}

// SetStatus changes the administrative status of a live identity.
func (repository *PostgresRepository) SetStatus(ctx context.Context, id string, status Status, actor string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET %s = $2, %s = $3, %s = $4, %s = $5
		WHERE %s = $1 AND %s`,
		schema.IdentityAccount.Table,
		schema.IdentityAccount.Status, schema.IdentityAccount.UpdatedAt,
		schema.IdentityAccount.UpdatedBy, schema.IdentityAccount.ConcurrencyStamp,
		schema.IdentityAccount.ID, database.NotDeleted(""),
	)

	tag, err := repository.pool.Exec(ctx, query, id, status, at, actor, uuid.New())
	if err != nil {
		return fmt.Errorf("postgres_account_repo_set_status_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Account")
	}
	return nil
}

// SoftDelete delegates to the shared soft-delete capability.
func (repository *PostgresRepository) SoftDelete(ctx context.Context, id, actor string, at time.Time) error {
	if err := database.SoftDelete(ctx, repository.pool, schema.IdentityAccount.Table, id, actor, at); err != nil {
		if apperr.As(err) != nil {
			return apperr.NotFound("Account")
		}
		return err
	}
	return nil
}
