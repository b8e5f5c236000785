// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package twofactor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/database"
	"github.com/taibuivan/agora/internal/platform/database/schema"
	"github.com/taibuivan/agora/internal/platform/postgres"
	"github.com/taibuivan/agora/internal/users/account"
	"github.com/taibuivan/agora/pkg/uuid"
)

// PostgresStore implements [CodeStore], [BackupStore] and [AccountStore].
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new Postgres second-factor store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// # CodeStore

// Replace expires active codes by pulling their expiry to now, then inserts code.
func (store *PostgresStore) Replace(ctx context.Context, code *Code) error {
	expire := fmt.Sprintf(`
		UPDATE %s SET %s = $3
		WHERE %s = $1 AND %s = $2 AND %s = FALSE AND %s > $3`,
		schema.IdentityOTPCode.Table, schema.IdentityOTPCode.ExpiresAt,
		schema.IdentityOTPCode.UserID, schema.IdentityOTPCode.Purpose,
		schema.IdentityOTPCode.IsUsed, schema.IdentityOTPCode.ExpiresAt,
	)

	insert := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9)`,
		schema.IdentityOTPCode.Table,
		schema.IdentityOTPCode.ID, schema.IdentityOTPCode.UserID, schema.IdentityOTPCode.Purpose,
		schema.IdentityOTPCode.DeliveryMethod, schema.IdentityOTPCode.Target, schema.IdentityOTPCode.CodeHash,
		schema.IdentityOTPCode.Attempts, schema.IdentityOTPCode.MaxAttempts,
		schema.IdentityOTPCode.ExpiresAt, schema.IdentityOTPCode.CreatedAt,
	)

	return postgres.WithTx(ctx, store.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, expire, code.UserID, code.Purpose, code.CreatedAt); err != nil {
			return fmt.Errorf("postgres_otp_expire_failed: %w", err)
		}
		if _, err := tx.Exec(ctx, insert,
			code.ID, code.UserID, code.Purpose, code.Method, code.Target, code.CodeHash,
			code.MaxAttempts, code.ExpiresAt, code.CreatedAt,
		); err != nil {
			return fmt.Errorf("postgres_otp_insert_failed: %w", err)
		}
		return nil
	})
}

// Attempt holds FOR UPDATE on the newest active code while the verdict is written.
func (store *PostgresStore) Attempt(ctx context.Context, userID string, purpose Purpose, now time.Time, judge func(Code) Verdict) (Verdict, error) {
	selectCode := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = $1 AND %s = $2 AND %s = FALSE AND %s > $3
		ORDER BY %s DESC
		LIMIT 1
		FOR UPDATE`,
		schema.IdentityOTPCode.ID, schema.IdentityOTPCode.UserID, schema.IdentityOTPCode.Purpose,
		schema.IdentityOTPCode.DeliveryMethod, schema.IdentityOTPCode.Target, schema.IdentityOTPCode.CodeHash,
		schema.IdentityOTPCode.IsUsed, schema.IdentityOTPCode.Attempts, schema.IdentityOTPCode.MaxAttempts,
		schema.IdentityOTPCode.ExpiresAt, schema.IdentityOTPCode.CreatedAt,
		schema.IdentityOTPCode.Table,
		schema.IdentityOTPCode.UserID, schema.IdentityOTPCode.Purpose,
		schema.IdentityOTPCode.IsUsed, schema.IdentityOTPCode.ExpiresAt,
		schema.IdentityOTPCode.CreatedAt,
	)

	markUsed := fmt.Sprintf(`UPDATE %s SET %s = TRUE, %s = $2 WHERE %s = $1`,
		schema.IdentityOTPCode.Table, schema.IdentityOTPCode.IsUsed, schema.IdentityOTPCode.UsedAt, schema.IdentityOTPCode.ID)

	addAttempt := fmt.Sprintf(`UPDATE %s SET %s = %s + 1 WHERE %s = $1 AND %s < %s`,
		schema.IdentityOTPCode.Table, schema.IdentityOTPCode.Attempts, schema.IdentityOTPCode.Attempts,
		schema.IdentityOTPCode.ID, schema.IdentityOTPCode.Attempts, schema.IdentityOTPCode.MaxAttempts)

	var verdict Verdict
	err := postgres.WithTx(ctx, store.pool, func(tx pgx.Tx) error {
		var code Code
		err := tx.QueryRow(ctx, selectCode, userID, purpose, now).Scan(
			&code.ID, &code.UserID, &code.Purpose, &code.Method, &code.Target, &code.CodeHash,
			&code.IsUsed, &code.Attempts, &code.MaxAttempts, &code.ExpiresAt, &code.CreatedAt,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.NotFound("Verification code")
			}
			return fmt.Errorf("postgres_otp_lock_failed: %w", err)
		}

		verdict = judge(code)

		switch verdict {
		case VerdictMatch:
			_, err = tx.Exec(ctx, markUsed, code.ID, now)
		case VerdictMismatch:
			_, err = tx.Exec(ctx, addAttempt, code.ID)
		}
		if err != nil {
			return fmt.Errorf("postgres_otp_record_attempt_failed: %w", err)
		}
		return nil
	})
	return verdict, err
}

// # BackupStore

// ReplaceBackupCodes swaps the whole set in one transaction.
func (store *PostgresStore) ReplaceBackupCodes(ctx context.Context, userID string, hashes []string, at time.Time) error {
	remove := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`,
		schema.IdentityBackupCode.Table, schema.IdentityBackupCode.UserID)

	return postgres.WithTx(ctx, store.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, remove, userID); err != nil {
			return fmt.Errorf("postgres_backup_delete_failed: %w", err)
		}

		rows := make([][]any, len(hashes))
		for i, hash := range hashes {
			rows[i] = []any{uuid.New(), userID, hash, false, at}
		}

		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"identity", "backupcode"},
			[]string{
				schema.IdentityBackupCode.ID, schema.IdentityBackupCode.UserID, schema.IdentityBackupCode.CodeHash,
				schema.IdentityBackupCode.IsUsed, schema.IdentityBackupCode.CreatedAt,
			},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("postgres_backup_insert_failed: %w", err)
		}
		return nil
	})
}

// ConsumeBackupCode flips isused with a guarded UPDATE so a code can be spent once.
func (store *PostgresStore) ConsumeBackupCode(ctx context.Context, userID, hash, ip string, at time.Time) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET %s = TRUE, %s = $3, %s = $4
		WHERE %s = $1 AND %s = $2 AND %s = FALSE`,
		schema.IdentityBackupCode.Table,
		schema.IdentityBackupCode.IsUsed, schema.IdentityBackupCode.UsedAt, schema.IdentityBackupCode.UsedFromIP,
		schema.IdentityBackupCode.UserID, schema.IdentityBackupCode.CodeHash, schema.IdentityBackupCode.IsUsed,
	)

	tag, err := store.pool.Exec(ctx, query, userID, hash, at, ip)
	if err != nil {
		return false, fmt.Errorf("postgres_backup_consume_failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RemainingBackupCodes counts unused codes.
func (store *PostgresStore) RemainingBackupCodes(ctx context.Context, userID string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = $1 AND %s = FALSE`,
		schema.IdentityBackupCode.Table, schema.IdentityBackupCode.UserID, schema.IdentityBackupCode.IsUsed)

	var remaining int
	if err := store.pool.QueryRow(ctx, query, userID).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("postgres_backup_count_failed: %w", err)
	}
	return remaining, nil
}

// DeleteBackupCodes removes every code of the identity.
func (store *PostgresStore) DeleteBackupCodes(ctx context.Context, userID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`,
		schema.IdentityBackupCode.Table, schema.IdentityBackupCode.UserID)

	if _, err := store.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("postgres_backup_delete_failed: %w", err)
	}
	return nil
}

// # AccountStore

// SetTwoFactor writes the enrolled type and secret with a new security stamp.
func (store *PostgresStore) SetTwoFactor(ctx context.Context, userID string, kind account.TwoFactorType, secret *string, stamp string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET %s = $2, %s = $3, %s = $4, %s = $5, %s = $6
		WHERE %s = $1 AND %s`,
		schema.IdentityAccount.Table,
		schema.IdentityAccount.TwoFactorType, schema.IdentityAccount.TwoFactorSecret,
		schema.IdentityAccount.SecurityStamp, schema.IdentityAccount.ConcurrencyStamp,
		schema.IdentityAccount.UpdatedAt,
		schema.IdentityAccount.ID, database.NotDeleted(""),
	)

	tag, err := store.pool.Exec(ctx, query, userID, kind, secret, stamp, uuid.New(), at)
	if err != nil {
		return fmt.Errorf("postgres_twofactor_set_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Account")
	}
	return nil
}

// ConfirmPhone sets phoneconfirmed and upgrades the verification status.
func (store *PostgresStore) ConfirmPhone(ctx context.Context, userID string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %[1]s
		SET %[2]s = TRUE,
			%[3]s = CASE WHEN %[3]s IN ('email', 'full') THEN 'full' ELSE 'phone' END,
			%[4]s = $2
		WHERE %[5]s = $1 AND %[6]s`,
		schema.IdentityAccount.Table,
		schema.IdentityAccount.PhoneConfirmed,
		schema.IdentityAccount.VerificationStatus,
		schema.IdentityAccount.UpdatedAt,
		schema.IdentityAccount.ID,
		database.NotDeleted(""),
	)

	tag, err := store.pool.Exec(ctx, query, userID, at)
	if err != nil {
		return fmt.Errorf("postgres_twofactor_confirm_phone_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Account")
	}
	return nil
}
