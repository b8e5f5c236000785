// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package session

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
	"github.com/taibuivan/agora/internal/platform/postgres"
)

// PostgresStore implements [Store] over identity.refreshtoken and identity.session.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new Postgres session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var (
	tokenColumns   = strings.Join(schema.IdentityRefreshToken.Columns(), ", ")
	sessionColumns = strings.Join(schema.IdentitySession.Columns(), ", ")
)

func scanToken(row pgx.Row) (*RefreshToken, error) {
	token := &RefreshToken{}
	err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.JwtID,
		&token.SessionID,
		&token.DeviceID,
		&token.IsUsed,
		&token.IsRevoked,
		&token.RevokedReason,
		&token.RevokedAt,
		&token.ExpiresAt,
		&token.ReplacedByToken,
		&token.CreatedByIP,
		&token.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return token, nil
}

func scanSession(row pgx.Row) (*Session, error) {
	session := &Session{}
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.SessionTokenHash,
		&session.RefreshTokenID,
		&session.DeviceID,
		&session.DeviceName,
		&session.Browser,
		&session.OS,
		&session.IPAddress,
		&session.Country,
		&session.City,
		&session.IsCurrent,
		&session.IsActive,
		&session.StepUpRequired,
		&session.SteppedUpAt,
		&session.LastActivityAt,
		&session.ExpiresAt,
		&session.EndedAt,
		&session.EndReason,
		&session.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Atomic wraps fn in a read-committed transaction.
func (store *PostgresStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	return postgres.WithTx(ctx, store.pool, func(tx pgx.Tx) error {
		return fn(&postgresTx{tx: tx})
	})
}

// FindSession retrieves a session by id.
func (store *PostgresStore) FindSession(ctx context.Context, sessionID string) (*Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`,
		sessionColumns, schema.IdentitySession.Table, schema.IdentitySession.ID)

	session, err := scanSession(store.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		return nil, dberr.Wrap(err, "Session", "postgres_session_find_failed")
	}
	return session, nil
}

// ListActive returns live sessions, most recently used first.
func (store *PostgresStore) ListActive(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE %s = $1 AND %s AND %s > $2
		ORDER BY %s DESC`,
		sessionColumns, schema.IdentitySession.Table,
		schema.IdentitySession.UserID, schema.IdentitySession.IsActive, schema.IdentitySession.ExpiresAt,
		schema.IdentitySession.LastActivityAt,
	)

	rows, err := store.pool.Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("postgres_session_list_active_failed: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_session_scan_failed: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// TouchSession records activity on a live session.
func (store *PostgresStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET %s = $2 WHERE %s = $1 AND %s`,
		schema.IdentitySession.Table, schema.IdentitySession.LastActivityAt,
		schema.IdentitySession.ID, schema.IdentitySession.IsActive)

	if _, err := store.pool.Exec(ctx, query, sessionID, at); err != nil {
		return fmt.Errorf("postgres_session_touch_failed: %w", err)
	}
	return nil
}

// SetStepUp sets or clears the step-up flag of a live session. Clearing it
// also stamps steppedupat, which restarts the freshness window.
func (store *PostgresStore) SetStepUp(ctx context.Context, sessionID string, required bool, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET %s = $2, %s = CASE WHEN $2 THEN %s ELSE $3 END
		WHERE %s = $1 AND %s`,
		schema.IdentitySession.Table, schema.IdentitySession.StepUpRequired,
		schema.IdentitySession.SteppedUpAt, schema.IdentitySession.SteppedUpAt,
		schema.IdentitySession.ID, schema.IdentitySession.IsActive)

	tag, err := store.pool.Exec(ctx, query, sessionID, required, at)
	if err != nil {
		return fmt.Errorf("postgres_session_set_step_up_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Session")
	}
	return nil
}

// Reap removes dead rows in one transaction.
func (store *PostgresStore) Reap(ctx context.Context, cutoff time.Time) (ReapResult, error) {
	tokens := fmt.Sprintf(`
		DELETE FROM %[1]s
		WHERE %[2]s < $1 OR (%[3]s AND %[4]s < $1)`,
		schema.IdentityRefreshToken.Table,
		schema.IdentityRefreshToken.ExpiresAt,
		schema.IdentityRefreshToken.IsRevoked,
		schema.IdentityRefreshToken.RevokedAt,
	)

	sessions := fmt.Sprintf(`
		DELETE FROM %[1]s
		WHERE %[2]s < $1 OR (NOT %[3]s AND %[4]s < $1)`,
		schema.IdentitySession.Table,
		schema.IdentitySession.ExpiresAt,
		schema.IdentitySession.IsActive,
		schema.IdentitySession.EndedAt,
	)

	var result ReapResult
	err := postgres.WithTx(ctx, store.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, tokens, cutoff)
		if err != nil {
			return fmt.Errorf("postgres_session_reap_tokens_failed: %w", err)
		}
		result.Tokens = tag.RowsAffected()

		tag, err = tx.Exec(ctx, sessions, cutoff)
		if err != nil {
			return fmt.Errorf("postgres_session_reap_sessions_failed: %w", err)
		}
		result.Sessions = tag.RowsAffected()
		return nil
	})
	return result, err
}

// # Transactional Writes

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LockToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 FOR UPDATE`,
		tokenColumns, schema.IdentityRefreshToken.Table, schema.IdentityRefreshToken.TokenHash)

	token, err := scanToken(t.tx.QueryRow(ctx, query, tokenHash))
	if err != nil {
		return nil, dberr.Wrap(err, "Refresh token", "postgres_session_lock_token_failed")
	}
	return token, nil
}

func (t *postgresTx) InsertToken(ctx context.Context, token *RefreshToken) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		schema.IdentityRefreshToken.Table,
		schema.IdentityRefreshToken.ID, schema.IdentityRefreshToken.UserID,
		schema.IdentityRefreshToken.TokenHash, schema.IdentityRefreshToken.JwtID,
		schema.IdentityRefreshToken.SessionID, schema.IdentityRefreshToken.DeviceID,
		schema.IdentityRefreshToken.ExpiresAt, schema.IdentityRefreshToken.CreatedByIP,
		schema.IdentityRefreshToken.CreatedAt,
	)

	_, err := t.tx.Exec(ctx, query,
		token.ID, token.UserID, token.TokenHash, token.JwtID, token.SessionID,
		token.DeviceID, token.ExpiresAt, token.CreatedByIP, token.CreatedAt,
	)
	return dberr.Wrap(err, "Refresh token", "postgres_session_insert_token_failed")
}

func (t *postgresTx) MarkUsed(ctx context.Context, tokenID, replacedBy string) error {
	query := fmt.Sprintf(`UPDATE %s SET %s = TRUE, %s = $2 WHERE %s = $1`,
		schema.IdentityRefreshToken.Table, schema.IdentityRefreshToken.IsUsed,
		schema.IdentityRefreshToken.ReplacedByToken, schema.IdentityRefreshToken.ID)

	if _, err := t.tx.Exec(ctx, query, tokenID, replacedBy); err != nil {
		return fmt.Errorf("postgres_session_mark_used_failed: %w", err)
	}
	return nil
}

func (t *postgresTx) RevokeToken(ctx context.Context, tokenID, reason string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET %s = TRUE, %s = $2, %s = $3
		WHERE %s = $1 AND NOT %s`,
		schema.IdentityRefreshToken.Table, schema.IdentityRefreshToken.IsRevoked,
		schema.IdentityRefreshToken.RevokedReason, schema.IdentityRefreshToken.RevokedAt,
		schema.IdentityRefreshToken.ID, schema.IdentityRefreshToken.IsRevoked)

	if _, err := t.tx.Exec(ctx, query, tokenID, reason, at); err != nil {
		return fmt.Errorf("postgres_session_revoke_token_failed: %w", err)
	}
	return nil
}

func (t *postgresTx) RevokeUserTokens(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET %s = TRUE, %s = $2, %s = $3
		WHERE %s = $1 AND NOT %s`,
		schema.IdentityRefreshToken.Table, schema.IdentityRefreshToken.IsRevoked,
		schema.IdentityRefreshToken.RevokedReason, schema.IdentityRefreshToken.RevokedAt,
		schema.IdentityRefreshToken.UserID, schema.IdentityRefreshToken.IsRevoked)

	tag, err := t.tx.Exec(ctx, query, userID, reason, at)
	if err != nil {
		return 0, fmt.Errorf("postgres_session_revoke_user_tokens_failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *postgresTx) InsertSession(ctx context.Context, session *Session) error {
	demote := fmt.Sprintf(`UPDATE %s SET %s = FALSE WHERE %s = $1 AND %s = $2 AND %s`,
		schema.IdentitySession.Table, schema.IdentitySession.IsCurrent,
		schema.IdentitySession.UserID, schema.IdentitySession.DeviceID, schema.IdentitySession.IsCurrent)

	if _, err := t.tx.Exec(ctx, demote, session.UserID, session.DeviceID); err != nil {
		return fmt.Errorf("postgres_session_demote_failed: %w", err)
	}

	placeholders := make([]string, len(schema.IdentitySession.Columns()))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	insert := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		schema.IdentitySession.Table, sessionColumns, strings.Join(placeholders, ", "))

	_, err := t.tx.Exec(ctx, insert,
		session.ID,
		session.UserID,
		session.SessionTokenHash,
		session.RefreshTokenID,
		session.DeviceID,
		session.DeviceName,
		session.Browser,
		session.OS,
		session.IPAddress,
		session.Country,
		session.City,
		session.IsCurrent,
		session.IsActive,
		session.StepUpRequired,
		session.SteppedUpAt,
		session.LastActivityAt,
		session.ExpiresAt,
		session.EndedAt,
		session.EndReason,
		session.CreatedAt,
	)
	return dberr.Wrap(err, "Session", "postgres_session_insert_failed")
}

func (t *postgresTx) LockSession(ctx context.Context, sessionID string) (*Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 FOR UPDATE`,
		sessionColumns, schema.IdentitySession.Table, schema.IdentitySession.ID)

	session, err := scanSession(t.tx.QueryRow(ctx, query, sessionID))
	if err != nil {
		return nil, dberr.Wrap(err, "Session", "postgres_session_lock_failed")
	}
	return session, nil
}

func (t *postgresTx) RepointSession(ctx context.Context, sessionID, tokenID, ip string, expiresAt, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET %s = $2, %s = $3, %s = $4, %s = $5
		WHERE %s = $1`,
		schema.IdentitySession.Table,
		schema.IdentitySession.RefreshTokenID, schema.IdentitySession.IPAddress,
		schema.IdentitySession.ExpiresAt, schema.IdentitySession.LastActivityAt,
		schema.IdentitySession.ID)

	if _, err := t.tx.Exec(ctx, query, sessionID, tokenID, ip, expiresAt, at); err != nil {
		return fmt.Errorf("postgres_session_repoint_failed: %w", err)
	}
	return nil
}

func (t *postgresTx) EndSession(ctx context.Context, sessionID, reason string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET %s = FALSE, %s = FALSE, %s = $2, %s = $3
		WHERE %s = $1 AND %s`,
		schema.IdentitySession.Table,
		schema.IdentitySession.IsActive, schema.IdentitySession.IsCurrent,
		schema.IdentitySession.EndedAt, schema.IdentitySession.EndReason,
		schema.IdentitySession.ID, schema.IdentitySession.IsActive)

	if _, err := t.tx.Exec(ctx, query, sessionID, at, reason); err != nil {
		return fmt.Errorf("postgres_session_end_failed: %w", err)
	}
	return nil
}

func (t *postgresTx) EndUserSessions(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET %s = FALSE, %s = FALSE, %s = $2, %s = $3
		WHERE %s = $1 AND %s`,
		schema.IdentitySession.Table,
		schema.IdentitySession.IsActive, schema.IdentitySession.IsCurrent,
		schema.IdentitySession.EndedAt, schema.IdentitySession.EndReason,
		schema.IdentitySession.UserID, schema.IdentitySession.IsActive)

	tag, err := t.tx.Exec(ctx, query, userID, at, reason)
	if err != nil {
		return 0, fmt.Errorf("postgres_session_end_user_sessions_failed: %w", err)
	}
	return tag.RowsAffected(), nil
}
