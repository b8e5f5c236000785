// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package ipguard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/agora/internal/platform/database/schema"
	"github.com/taibuivan/agora/internal/platform/dberr"
	"github.com/taibuivan/agora/internal/platform/postgres"
	"github.com/taibuivan/agora/pkg/uuid"
)

// PostgresStore implements [Store] over identity.blockedip.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new Postgres IP reputation store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var blockedIPColumns = strings.Join(schema.IdentityBlockedIP.Columns(), ", ")

func scanRecord(row pgx.Row) (*Record, error) {
	record := &Record{}
	err := row.Scan(
		&record.ID,
		&record.IP,
		&record.BlockType,
		&record.Reason,
		&record.FailedAttempts,
		&record.RecentFailures,
		&record.BlockCount,
		&record.LastAttemptAt,
		&record.IsPermanent,
		&record.ExpiresAt,
		&record.BlockedAt,
		&record.BlockedBy,
		&record.UnblockedAt,
		&record.UnblockedBy,
	)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Find retrieves the record of ip.
func (store *PostgresStore) Find(ctx context.Context, ip string) (*Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`,
		blockedIPColumns, schema.IdentityBlockedIP.Table, schema.IdentityBlockedIP.IPAddress)

	record, err := scanRecord(store.pool.QueryRow(ctx, query, ip))
	if err != nil {
		return nil, dberr.Wrap(err, "Blocked IP", "postgres_ipguard_find_failed")
	}
	return record, nil
}

/*
Update locks the row of ip for the duration of mutate.

Description: The row is created first with ON CONFLICT DO NOTHING so that two
first-time failures from one address still meet on the same row lock.
*/
func (store *PostgresStore) Update(ctx context.Context, ip string, mutate func(record *Record)) (*Record, error) {
	ensure := fmt.Sprintf(`
		INSERT INTO %s (%s, %s) VALUES ($1, $2)
		ON CONFLICT (%s) DO NOTHING`,
		schema.IdentityBlockedIP.Table,
		schema.IdentityBlockedIP.ID, schema.IdentityBlockedIP.IPAddress,
		schema.IdentityBlockedIP.IPAddress,
	)

	lock := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 FOR UPDATE`,
		blockedIPColumns, schema.IdentityBlockedIP.Table, schema.IdentityBlockedIP.IPAddress)

	write := fmt.Sprintf(`
		UPDATE %s
		SET %s = $2, %s = $3, %s = $4, %s = $5, %s = $6, %s = $7, %s = $8,
			%s = $9, %s = $10, %s = $11, %s = $12, %s = $13
		WHERE %s = $1`,
		schema.IdentityBlockedIP.Table,
		schema.IdentityBlockedIP.BlockType, schema.IdentityBlockedIP.Reason,
		schema.IdentityBlockedIP.FailedAttempts, schema.IdentityBlockedIP.RecentFailures,
		schema.IdentityBlockedIP.BlockCount, schema.IdentityBlockedIP.LastAttemptAt,
		schema.IdentityBlockedIP.IsPermanent, schema.IdentityBlockedIP.ExpiresAt,
		schema.IdentityBlockedIP.BlockedAt, schema.IdentityBlockedIP.BlockedBy,
		schema.IdentityBlockedIP.UnblockedAt, schema.IdentityBlockedIP.UnblockedBy,
		schema.IdentityBlockedIP.ID,
	)

	var result *Record
	err := postgres.WithTx(ctx, store.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, ensure, uuid.New(), ip); err != nil {
			return fmt.Errorf("postgres_ipguard_ensure_failed: %w", err)
		}

		record, err := scanRecord(tx.QueryRow(ctx, lock, ip))
		if err != nil {
			return fmt.Errorf("postgres_ipguard_lock_failed: %w", err)
		}

		mutate(record)

		if _, err := tx.Exec(ctx, write,
			record.ID,
			record.BlockType,
			record.Reason,
			record.FailedAttempts,
			record.RecentFailures,
			record.BlockCount,
			record.LastAttemptAt,
			record.IsPermanent,
			record.ExpiresAt,
			record.BlockedAt,
			record.BlockedBy,
			record.UnblockedAt,
			record.UnblockedBy,
		); err != nil {
			return fmt.Errorf("postgres_ipguard_write_failed: %w", err)
		}

		result = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListBlocked returns permanent blocks and temporary blocks still running at now.
func (store *PostgresStore) ListBlocked(ctx context.Context, now time.Time) ([]Record, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE %s OR (%s = 'temporary' AND %s > $1)
		ORDER BY %s DESC`,
		blockedIPColumns, schema.IdentityBlockedIP.Table,
		schema.IdentityBlockedIP.IsPermanent,
		schema.IdentityBlockedIP.BlockType, schema.IdentityBlockedIP.ExpiresAt,
		schema.IdentityBlockedIP.BlockedAt,
	)

	rows, err := store.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("postgres_ipguard_list_blocked_failed: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_ipguard_scan_failed: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}
