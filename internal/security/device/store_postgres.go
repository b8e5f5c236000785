// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/database/schema"
	"github.com/taibuivan/agora/internal/platform/dberr"
)

// PostgresRepository implements [Repository] over identity.device.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new Postgres device repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var deviceColumns = strings.Join(schema.IdentityDevice.Columns(), ", ")

func scanDevice(row pgx.Row, extra ...any) (*Device, error) {
	device := &Device{}
	targets := []any{
		&device.ID, &device.UserID, &device.DeviceID, &device.DeviceName, &device.DeviceType,
		&device.Browser, &device.OS, &device.Fingerprint, &device.IsTrusted, &device.TrustedAt,
		&device.PushToken, &device.LastIP, &device.FirstSeenAt, &device.LastSeenAt,
	}
	if err := row.Scan(append(targets, extra...)...); err != nil {
		return nil, err
	}
	return device, nil
}

/*
Upsert relies on ON CONFLICT (userid, deviceid).

Description: xmax is zero only for a tuple inserted by the current
transaction, which tells a fresh insert apart from an update.
*/
func (repository *PostgresRepository) Upsert(ctx context.Context, device *Device) (*Device, bool, error) {
	t := schema.IdentityDevice
	query := fmt.Sprintf(`
		INSERT INTO %[1]s AS d (%[2]s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, NULL, $9, $10, $11, $11)
		ON CONFLICT (%[3]s, %[4]s) DO UPDATE SET
			%[5]s = EXCLUDED.%[5]s,
			%[6]s = EXCLUDED.%[6]s,
			%[7]s = EXCLUDED.%[7]s,
			%[8]s = EXCLUDED.%[8]s,
			%[9]s = EXCLUDED.%[9]s,
			%[10]s = COALESCE(EXCLUDED.%[10]s, d.%[10]s),
			%[11]s = EXCLUDED.%[11]s,
			%[12]s = EXCLUDED.%[12]s
		RETURNING %[2]s, (xmax = 0)`,
		t.Table, deviceColumns,
		t.UserID, t.DeviceID,
		t.DeviceName, t.DeviceType, t.Browser, t.OS, t.Fingerprint,
		t.PushToken, t.LastIP, t.LastSeenAt,
	)

	var inserted bool
	stored, err := scanDevice(repository.pool.QueryRow(ctx, query,
		device.ID, device.UserID, device.DeviceID, device.DeviceName, device.DeviceType,
		device.Browser, device.OS, device.Fingerprint,
		device.PushToken, device.LastIP, device.LastSeenAt,
	), &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("postgres_device_upsert_failed: %w", err)
	}
	return stored, inserted, nil
}

// Find loads one device.
func (repository *PostgresRepository) Find(ctx context.Context, userID, deviceID string) (*Device, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 AND %s = $2`,
		deviceColumns, schema.IdentityDevice.Table, schema.IdentityDevice.UserID, schema.IdentityDevice.DeviceID)

	device, err := scanDevice(repository.pool.QueryRow(ctx, query, userID, deviceID))
	if err != nil {
		return nil, dberr.Wrap(err, "Device", "postgres_device_find_failed")
	}
	return device, nil
}

// ListByUser returns devices newest first.
func (repository *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]Device, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 ORDER BY %s DESC`,
		deviceColumns, schema.IdentityDevice.Table, schema.IdentityDevice.UserID, schema.IdentityDevice.LastSeenAt)

	rows, err := repository.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres_device_list_failed: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_device_scan_failed: %w", err)
		}
		devices = append(devices, *device)
	}
	return devices, rows.Err()
}

// SetTrusted updates the trust columns.
func (repository *PostgresRepository) SetTrusted(ctx context.Context, userID, deviceID string, at *time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET %s = $3, %s = $4 WHERE %s = $1 AND %s = $2`,
		schema.IdentityDevice.Table, schema.IdentityDevice.IsTrusted, schema.IdentityDevice.TrustedAt,
		schema.IdentityDevice.UserID, schema.IdentityDevice.DeviceID)

	tag, err := repository.pool.Exec(ctx, query, userID, deviceID, at != nil, at)
	if err != nil {
		return fmt.Errorf("postgres_device_set_trusted_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Device")
	}
	return nil
}

// Delete removes the device row.
func (repository *PostgresRepository) Delete(ctx context.Context, userID, deviceID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND %s = $2`,
		schema.IdentityDevice.Table, schema.IdentityDevice.UserID, schema.IdentityDevice.DeviceID)

	tag, err := repository.pool.Exec(ctx, query, userID, deviceID)
	if err != nil {
		return fmt.Errorf("postgres_device_delete_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Device")
	}
	return nil
}
