// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/metrics"
	"github.com/taibuivan/agora/internal/platform/sec"
	"github.com/taibuivan/agora/pkg/uuid"
)

// refreshTokenBytes is the entropy of a raw refresh token.
const refreshTokenBytes = 32

// Config holds token lifetimes.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// TouchInterval throttles lastactivityat writes from [Manager.Validate].
	TouchInterval time.Duration
	// FreshFor is how long after sign-in or step-up a session may reach
	// sensitive operations. Zero disables the window.
	FreshFor time.Duration
}

// DefaultConfig issues 15 minute access tokens and 30 day refresh tokens.
var DefaultConfig = Config{
	AccessTTL:     15 * time.Minute,
	RefreshTTL:    30 * 24 * time.Hour,
	TouchInterval: time.Minute,
	FreshFor:      15 * time.Minute,
}

// Manager is the session and token service.
type Manager struct {
	store    Store
	signer   Signer
	subjects SubjectSource
	observer ReplayObserver
	config   Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager constructs a session [Manager].
func NewManager(store Store, signer Signer, subjects SubjectSource, config Config, recorder *metrics.Metrics, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		signer:   signer,
		subjects: subjects,
		config:   config,
		metrics:  recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (manager *Manager) WithClock(now func() time.Time) *Manager {
	manager.now = now
	return manager
}

// WithReplayObserver registers the observer told about refresh token reuse.
func (manager *Manager) WithReplayObserver(observer ReplayObserver) *Manager {
	manager.observer = observer
	return manager
}

// # Issue

/*
Issue opens a session for subject and returns its first token pair.

Description: The refresh token and the session are written in one
transaction. Any other session of the same (user, device) stops being the
current one but stays active.
*/
func (manager *Manager) Issue(ctx context.Context, subject Subject, origin Origin) (*TokenPair, error) {
	now := manager.now()

	raw, token, err := manager.newToken(subject.UserID, uuid.New(), origin.DeviceID, origin.IP, now)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	handle, err := sec.GenerateSecureToken(refreshTokenBytes)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	session := &Session{
		ID:               token.SessionID,
		UserID:           subject.UserID,
		SessionTokenHash: sec.HashToken(handle),
		RefreshTokenID:   token.ID,
		DeviceID:         origin.DeviceID,
		DeviceName:       origin.DeviceName,
		Browser:          origin.Browser,
		OS:               origin.OS,
		IPAddress:        origin.IP,
		Country:          origin.Country,
		City:             origin.City,
		IsCurrent:        true,
		IsActive:         true,
		LastActivityAt:   now,
		ExpiresAt:        token.ExpiresAt,
		CreatedAt:        now,
	}

	var pair *TokenPair
	err = manager.store.Atomic(ctx, func(tx Tx) error {
		if err := tx.InsertSession(ctx, session); err != nil {
			return err
		}
		if err := tx.InsertToken(ctx, token); err != nil {
			return err
		}
		signed, err := manager.pair(subject, token, raw)
		pair = signed
		return err
	})
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("session_manager_issue_failed: %w", err))
	}

	manager.logger.Info("session_issued",
		slog.String("user_id", subject.UserID),
		slog.String("session_id", session.ID),
		slog.String("device_id", origin.DeviceID),
	)
	return pair, nil
}

func (manager *Manager) newToken(userID, sessionID, deviceID, ip string, now time.Time) (string, *RefreshToken, error) {
	raw, err := sec.GenerateSecureToken(refreshTokenBytes)
	if err != nil {
		return "", nil, err
	}
	return raw, &RefreshToken{
		ID:          uuid.New(),
		UserID:      userID,
		TokenHash:   sec.HashToken(raw),
		JwtID:       uuid.New(),
		SessionID:   sessionID,
		DeviceID:    deviceID,
		ExpiresAt:   now.Add(manager.config.RefreshTTL),
		CreatedByIP: ip,
		CreatedAt:   now,
	}, nil
}

func (manager *Manager) pair(subject Subject, token *RefreshToken, raw string) (*TokenPair, error) {
	access, err := manager.signer.GenerateAccessToken(sec.AccessSubject{
		UserID:    subject.UserID,
		Username:  subject.Username,
		Role:      subject.Role,
		SessionID: token.SessionID,
		TokenID:   token.JwtID,
	}, manager.config.AccessTTL)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     raw,
		TokenType:        "Bearer",
		ExpiresIn:        int(manager.config.AccessTTL.Seconds()),
		RefreshExpiresAt: token.ExpiresAt,
		SessionID:        token.SessionID,
	}, nil
}

// # Rotate

type rotationOutcome int

const (
	outcomeRotated rotationOutcome = iota
	outcomeInvalid
	outcomeExpired
	outcomeReplay
)

/*
Rotate exchanges a refresh token for a new pair.

Description: The presented token is locked for the whole exchange, so of two
concurrent rotations one wins and the other finds the token used. A used
token means the family leaked: every token and session of its owner is
revoked and committed before TOKEN_REPLAY is returned.

Returns:
  - *TokenPair: The successor pair on success
  - error: TOKEN_INVALID, TOKEN_REPLAY, the subject's availability error, or INTERNAL_ERROR
*/
func (manager *Manager) Rotate(ctx context.Context, rawToken, ip string) (*TokenPair, error) {
	if rawToken == "" {
		return nil, apperr.TokenInvalid()
	}
	now := manager.now()

	var (
		outcome rotationOutcome
		owner   string
		tokenID string
		pair    *TokenPair
	)

	err := manager.store.Atomic(ctx, func(tx Tx) error {
		current, err := tx.LockToken(ctx, sec.HashToken(rawToken))
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				outcome = outcomeInvalid
				return nil
			}
			return err
		}
		owner, tokenID = current.UserID, current.ID

		switch {
		case current.IsUsed:
			outcome = outcomeReplay
			if _, err := tx.RevokeUserTokens(ctx, current.UserID, ReasonReplay, now); err != nil {
				return err
			}
			_, err := tx.EndUserSessions(ctx, current.UserID, ReasonReplay, now)
			return err

		case current.IsRevoked:
			outcome = outcomeInvalid
			return nil

		case !now.Before(current.ExpiresAt):
			outcome = outcomeExpired
			return tx.EndSession(ctx, current.SessionID, ReasonExpired, now)
		}

		session, err := tx.LockSession(ctx, current.SessionID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				outcome = outcomeInvalid
				return nil
			}
			return err
		}
		if !session.IsActive {
			outcome = outcomeInvalid
			return nil
		}

		subject, err := manager.subjects.Subject(ctx, current.UserID)
		if err != nil {
			return err
		}

		raw, successor, err := manager.newToken(current.UserID, current.SessionID, current.DeviceID, ip, now)
		if err != nil {
			return err
		}
		if err := tx.InsertToken(ctx, successor); err != nil {
			return err
		}
		if err := tx.MarkUsed(ctx, current.ID, successor.ID); err != nil {
			return err
		}
		if err := tx.RepointSession(ctx, session.ID, successor.ID, ip, successor.ExpiresAt, now); err != nil {
			return err
		}

		pair, err = manager.pair(subject, successor, raw)
		outcome = outcomeRotated
		return err
	})
	if err != nil {
		if appErr := apperr.As(err); appErr != nil && appErr.Code != apperr.CodeInternal {
			return nil, appErr
		}
		manager.metrics.TokenRotation("error")
		return nil, apperr.Internal(fmt.Errorf("session_manager_rotate_failed: %w", err))
	}

	switch outcome {
	case outcomeReplay:
		manager.metrics.TokenRotation("replay")
		manager.logger.Warn("refresh_token_replay_detected",
			slog.String("user_id", owner),
			slog.String("token_id", tokenID),
			slog.String("ip", ip),
		)
		if manager.observer != nil {
			manager.observer.TokenReplayed(ctx, owner, tokenID, ip)
		}
		return nil, apperr.TokenReplay()
	case outcomeExpired:
		manager.metrics.TokenRotation("expired")
		return nil, apperr.TokenInvalid()
	case outcomeInvalid:
		manager.metrics.TokenRotation("invalid")
		return nil, apperr.TokenInvalid()
	}

	manager.metrics.TokenRotation("rotated")
	return pair, nil
}

// # Revocation

// Revoke invalidates one refresh token. Unknown and already revoked tokens are a no-op.
func (manager *Manager) Revoke(ctx context.Context, rawToken, reason string) error {
	if rawToken == "" {
		return nil
	}
	now := manager.now()

	err := manager.store.Atomic(ctx, func(tx Tx) error {
		token, err := tx.LockToken(ctx, sec.HashToken(rawToken))
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return nil
			}
			return err
		}
		if token.IsRevoked {
			return nil
		}
		if err := tx.RevokeToken(ctx, token.ID, reason, now); err != nil {
			return err
		}
		if token.IsUsed {
			return nil
		}
		return tx.EndSession(ctx, token.SessionID, reason, now)
	})
	if err != nil {
		return apperr.Internal(fmt.Errorf("session_manager_revoke_failed: %w", err))
	}
	return nil
}

// RevokeAll ends every session and revokes every token of userID.
func (manager *Manager) RevokeAll(ctx context.Context, userID, reason string) error {
	now := manager.now()

	var tokens, sessions int64
	err := manager.store.Atomic(ctx, func(tx Tx) error {
		var err error
		if tokens, err = tx.RevokeUserTokens(ctx, userID, reason, now); err != nil {
			return err
		}
		sessions, err = tx.EndUserSessions(ctx, userID, reason, now)
		return err
	})
	if err != nil {
		return apperr.Internal(fmt.Errorf("session_manager_revoke_all_failed: %w", err))
	}

	manager.logger.Info("sessions_revoked",
		slog.String("user_id", userID),
		slog.String("reason", reason),
		slog.Int64("tokens", tokens),
		slog.Int64("sessions", sessions),
	)
	return nil
}

// End closes a session and revokes its refresh token. Ending twice is a no-op.
func (manager *Manager) End(ctx context.Context, sessionID, reason string) error {
	return manager.end(ctx, "", sessionID, reason)
}

// RevokeSession ends a session owned by userID. Sessions of other users are NOT_FOUND.
func (manager *Manager) RevokeSession(ctx context.Context, userID, sessionID string) error {
	return manager.end(ctx, userID, sessionID, ReasonUserRevoked)
}

func (manager *Manager) end(ctx context.Context, owner, sessionID, reason string) error {
	now := manager.now()

	err := manager.store.Atomic(ctx, func(tx Tx) error {
		session, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) && owner == "" {
				return nil
			}
			return err
		}
		if owner != "" && session.UserID != owner {
			return apperr.NotFound("Session")
		}
		if !session.IsActive {
			return nil
		}
		if err := tx.EndSession(ctx, session.ID, reason, now); err != nil {
			return err
		}
		return tx.RevokeToken(ctx, session.RefreshTokenID, reason, now)
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.NotFound("Session")
		}
		return apperr.Internal(fmt.Errorf("session_manager_end_failed: %w", err))
	}

	manager.logger.Info("session_ended", slog.String("session_id", sessionID), slog.String("reason", reason))
	return nil
}

// # Validation

/*
Validate implements the liveness check of the authentication middleware.

Description: A session past its refresh expiry is ended on the spot with
reason "expired". Activity timestamps are refreshed at most once per
TouchInterval.
*/
func (manager *Manager) Validate(ctx context.Context, userID, sessionID string) error {
	session, err := manager.active(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	now := manager.now()
	if !now.Before(session.ExpiresAt) {
		if err := manager.store.Atomic(ctx, func(tx Tx) error {
			return tx.EndSession(ctx, session.ID, ReasonExpired, now)
		}); err != nil {
			manager.logger.Warn("session_expire_failed", slog.String("session_id", session.ID), slog.Any("error", err))
		}
		return apperr.TokenInvalid()
	}

	if now.Sub(session.LastActivityAt) >= manager.config.TouchInterval {
		if err := manager.store.TouchSession(ctx, session.ID, now); err != nil {
			manager.logger.Warn("session_touch_failed", slog.String("session_id", session.ID), slog.Any("error", err))
		}
	}
	return nil
}

/*
RequireFresh gates sensitive operations.

Description: A session is fresh when it is not flagged for step-up and its
last proof of identity (sign-in or the latest step-up) is younger than
FreshFor. Rotation keeps createdat, so refreshing tokens never makes a
session fresh again.

Returns:
  - error: CHALLENGE_REQUIRED for a stale or flagged session, TOKEN_INVALID
    for a dead one
*/
func (manager *Manager) RequireFresh(ctx context.Context, userID, sessionID string) error {
	session, err := manager.active(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if session.StepUpRequired {
		return apperr.ChallengeRequired()
	}

	if manager.config.FreshFor > 0 {
		proven := session.CreatedAt
		if session.SteppedUpAt != nil && session.SteppedUpAt.After(proven) {
			proven = *session.SteppedUpAt
		}
		if manager.now().Sub(proven) >= manager.config.FreshFor {
			return apperr.ChallengeRequired()
		}
	}
	return nil
}

func (manager *Manager) active(ctx context.Context, userID, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, apperr.TokenInvalid()
	}

	session, err := manager.store.FindSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.TokenInvalid()
		}
		return nil, apperr.Internal(fmt.Errorf("session_manager_find_failed: %w", err))
	}
	if session.UserID != userID || !session.IsActive {
		return nil, apperr.TokenInvalid()
	}
	return session, nil
}

// RequireStepUp flags a session so sensitive operations demand re-verification.
func (manager *Manager) RequireStepUp(ctx context.Context, sessionID string) error {
	if err := manager.store.SetStepUp(ctx, sessionID, true, manager.now()); err != nil {
		return fmt.Errorf("session_manager_require_step_up_failed: %w", err)
	}
	manager.logger.Info("session_step_up_required", slog.String("session_id", sessionID))
	return nil
}

// ClearStepUp lifts the flag after a successful re-verification and restarts
// the freshness window.
func (manager *Manager) ClearStepUp(ctx context.Context, sessionID string) error {
	if err := manager.store.SetStepUp(ctx, sessionID, false, manager.now()); err != nil {
		return fmt.Errorf("session_manager_clear_step_up_failed: %w", err)
	}
	return nil
}

// # Queries

// Find returns a session by id.
func (manager *Manager) Find(ctx context.Context, sessionID string) (*Session, error) {
	return manager.store.FindSession(ctx, sessionID)
}

// ListActive returns the live sessions of userID, most recently used first.
func (manager *Manager) ListActive(ctx context.Context, userID string) ([]Session, error) {
	sessions, err := manager.store.ListActive(ctx, userID, manager.now())
	if err != nil {
		return nil, fmt.Errorf("session_manager_list_active_failed: %w", err)
	}
	return sessions, nil
}

// # Hygiene

// Reap deletes tokens and sessions that have been dead for longer than age.
func (manager *Manager) Reap(ctx context.Context, age time.Duration) (ReapResult, error) {
	result, err := manager.store.Reap(ctx, manager.now().Add(-age))
	if err != nil {
		return ReapResult{}, fmt.Errorf("session_manager_reap_failed: %w", err)
	}
	manager.logger.Info("sessions_reaped", slog.Int64("tokens", result.Tokens), slog.Int64("sessions", result.Sessions))
	return result, nil
}
