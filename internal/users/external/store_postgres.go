// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package external

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/database/schema"
	"github.com/taibuivan/agora/internal/platform/dberr"
)

// PostgresLinkStore implements [LinkStore] over identity.externallogin.
type PostgresLinkStore struct {
	pool *pgxpool.Pool
}

// NewPostgresLinkStore creates a new Postgres link store.
func NewPostgresLinkStore(pool *pgxpool.Pool) *PostgresLinkStore {
	return &PostgresLinkStore{pool: pool}
}

var linkColumns = strings.Join(schema.IdentityExternalLogin.Columns(), ", ")

func scanLink(row pgx.Row) (*Link, error) {
	link := &Link{}
	if err := row.Scan(
		&link.ID,
		&link.UserID,
		&link.Provider,
		&link.ProviderKey,
		&link.ProviderDisplayName,
		&link.CreatedAt,
	); err != nil {
		return nil, err
	}
	return link, nil
}

// Find retrieves the link of (provider, providerKey).
func (store *PostgresLinkStore) Find(ctx context.Context, provider, providerKey string) (*Link, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 AND %s = $2`,
		linkColumns, schema.IdentityExternalLogin.Table,
		schema.IdentityExternalLogin.Provider, schema.IdentityExternalLogin.ProviderKey)

	link, err := scanLink(store.pool.QueryRow(ctx, query, provider, providerKey))
	if err != nil {
		return nil, dberr.Wrap(err, "External login", "postgres_external_login_find_failed")
	}
	return link, nil
}

// Create inserts a link; the (provider, providerkey) unique key rejects duplicates.
func (store *PostgresLinkStore) Create(ctx context.Context, link *Link) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6)`,
		schema.IdentityExternalLogin.Table, linkColumns)

	_, err := store.pool.Exec(ctx, query,
		link.ID, link.UserID, link.Provider, link.ProviderKey, link.ProviderDisplayName, link.CreatedAt)
	return dberr.Wrap(err, "External login", "postgres_external_login_create_failed")
}

// ListByUser returns the links of one identity.
func (store *PostgresLinkStore) ListByUser(ctx context.Context, userID string) ([]Link, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 ORDER BY %s`,
		linkColumns, schema.IdentityExternalLogin.Table,
		schema.IdentityExternalLogin.UserID, schema.IdentityExternalLogin.CreatedAt)

	rows, err := store.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres_external_login_list_failed: %w", err)
	}
	defer rows.Close()

	links := []Link{}
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_external_login_scan_failed: %w", err)
		}
		links = append(links, *link)
	}
	return links, rows.Err()
}

// Delete unlinks provider from the identity.
func (store *PostgresLinkStore) Delete(ctx context.Context, userID, provider string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND %s = $2`,
		schema.IdentityExternalLogin.Table,
		schema.IdentityExternalLogin.UserID, schema.IdentityExternalLogin.Provider)

	tag, err := store.pool.Exec(ctx, query, userID, provider)
	if err != nil {
		return fmt.Errorf("postgres_external_login_delete_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("External login")
	}
	return nil
}
