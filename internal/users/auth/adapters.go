// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"log/slog"

	"github.com/taibuivan/agora/internal/platform/notify"
	"github.com/taibuivan/agora/internal/security/audit"
	"github.com/taibuivan/agora/internal/security/session"
)

// # Session Adapters

// SubjectSource serves [session.SubjectSource] from the identity store.
type SubjectSource struct {
	accounts Accounts
}

// NewSubjectSource constructs a new [SubjectSource].
func NewSubjectSource(accounts Accounts) *SubjectSource {
	return &SubjectSource{accounts: accounts}
}

// Subject reloads the identity so role changes and suspensions apply on the next refresh.
func (source *SubjectSource) Subject(ctx context.Context, userID string) (session.Subject, error) {
	identity, err := source.accounts.FindByID(ctx, userID)
	if err != nil {
		return session.Subject{}, err
	}
	if err := identity.CheckAvailable(); err != nil {
		return session.Subject{}, err
	}
	return session.Subject{
		UserID:   identity.ID,
		Username: identity.Username,
		Role:     string(identity.Role),
	}, nil
}

// ReplayAlerter raises a critical alert and warns the owner when a rotated
// refresh token is presented again.
type ReplayAlerter struct {
	accounts Accounts
	auditor  Auditor
	notifier Notifier
	logger   *slog.Logger
}

// NewReplayAlerter constructs a new [ReplayAlerter]. notifier may be nil.
func NewReplayAlerter(accounts Accounts, auditor Auditor, notifier Notifier, logger *slog.Logger) *ReplayAlerter {
	return &ReplayAlerter{accounts: accounts, auditor: auditor, notifier: notifier, logger: logger}
}

// TokenReplayed implements [session.ReplayObserver].
func (alerter *ReplayAlerter) TokenReplayed(ctx context.Context, userID, tokenID, ip string) {
	alerter.auditor.RaiseAlert(ctx, audit.SecurityAlert{
		UserID:    &userID,
		AlertType: audit.AlertTokenReplay,
		Severity:  audit.SeverityCritical,
		Message:   "A revoked refresh token was reused; every session was signed out",
		Metadata:  audit.Metadata{"ip": ip, "token_id": tokenID},
	})

	if alerter.notifier == nil {
		return
	}

	identity, err := alerter.accounts.FindByID(ctx, userID)
	if err != nil {
		alerter.logger.Warn("auth_replay_notify_skipped", slog.String("user_id", userID), slog.Any("error", err))
		return
	}

	alerter.notifier.Dispatch(ctx, notify.Message{
		Channel: notify.ChannelEmail,
		To:      identity.Email,
		Subject: "We signed you out everywhere",
		Text:    "An old sign-in token of your Agora account was used again, which can mean it was stolen. Every device was signed out. Sign in again and consider changing your password.",
	})
}
