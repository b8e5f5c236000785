// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/metrics"
	"github.com/taibuivan/agora/pkg/uuid"
)

// Publisher forwards alerts to an external reporting system.
type Publisher interface {
	PublishAlert(ctx context.Context, alert SecurityAlert) error
}

// Recorder writes the audit views.
type Recorder struct {
	db        *gorm.DB
	schema    string
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

/*
NewRecorder constructs a [Recorder].

Parameters:
  - db: gorm handle sharing the application pool
  - schema: table schema ("identity" in production, "" for a flat test database)
  - publisher: optional alert fan-out, nil to disable
*/
func NewRecorder(db *gorm.DB, schema string, publisher Publisher, recorder *metrics.Metrics, logger *slog.Logger) *Recorder {
	return &Recorder{
		db:        db,
		schema:    schema,
		publisher: publisher,
		metrics:   recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (recorder *Recorder) WithClock(now func() time.Time) *Recorder {
	recorder.now = now
	return recorder
}

func (recorder *Recorder) table(ctx context.Context, name string) *gorm.DB {
	if recorder.schema != "" {
		name = recorder.schema + "." + name
	}
	return recorder.db.WithContext(ctx).Table(name)
}

// # Append-only Views

// RecordAttempt appends a credential check.
func (recorder *Recorder) RecordAttempt(ctx context.Context, attempt LoginAttempt) {
	attempt.ID = uuid.New()
	attempt.CreatedAt = recorder.now()

	if err := recorder.table(ctx, TableLoginAttempt).Create(&attempt).Error; err != nil {
		recorder.logger.Error("audit_record_attempt_failed",
			slog.String("ip", attempt.IPAddress),
			slog.Bool("success", attempt.Success),
			slog.Any("error", err),
		)
	}
}

// RecordLogin appends a completed sign-in.
func (recorder *Recorder) RecordLogin(ctx context.Context, login LoginHistory) {
	login.ID = uuid.New()
	login.CreatedAt = recorder.now()

	if err := recorder.table(ctx, TableLoginHistory).Create(&login).Error; err != nil {
		recorder.logger.Error("audit_record_login_failed",
			slog.String("user_id", login.UserID),
			slog.Any("error", err),
		)
	}
}

// RecordActivity appends an account-level event.
func (recorder *Recorder) RecordActivity(ctx context.Context, activity UserActivity) {
	activity.ID = uuid.New()
	activity.CreatedAt = recorder.now()
	if activity.Metadata == nil {
		activity.Metadata = Metadata{}
	}

	if err := recorder.table(ctx, TableUserActivity).Create(&activity).Error; err != nil {
		recorder.logger.Error("audit_record_activity_failed",
			slog.String("user_id", activity.UserID),
			slog.String("activity", activity.Activity),
			slog.Any("error", err),
		)
	}
}

/*
RaiseAlert stores alert and forwards it to the publisher.

Description: The returned alert carries its generated id. Storage and publish
failures are logged; the alert is still returned so callers can log it.
*/
func (recorder *Recorder) RaiseAlert(ctx context.Context, alert SecurityAlert) SecurityAlert {
	alert.ID = uuid.New()
	alert.CreatedAt = recorder.now()
	alert.IsRead, alert.IsResolved = false, false
	if alert.Metadata == nil {
		alert.Metadata = Metadata{}
	}

	if err := recorder.table(ctx, TableSecurityAlert).Create(&alert).Error; err != nil {
		recorder.logger.Error("audit_raise_alert_failed",
			slog.String("alert_type", alert.AlertType),
			slog.Any("error", err),
		)
	}

	recorder.metrics.AlertRaised(alert.Severity)
	recorder.logger.Warn("security_alert_raised",
		slog.String("alert_id", alert.ID),
		slog.String("alert_type", alert.AlertType),
		slog.String("severity", alert.Severity),
	)

	if recorder.publisher != nil {
		if err := recorder.publisher.PublishAlert(ctx, alert); err != nil {
			recorder.logger.Warn("audit_publish_alert_failed", slog.String("alert_id", alert.ID), slog.Any("error", err))
		}
	}
	return alert
}

// # Administration

// ResolveAlert closes an alert. Resolving twice keeps the first resolution.
func (recorder *Recorder) ResolveAlert(ctx context.Context, alertID, actor string) error {
	now := recorder.now()
	result := recorder.table(ctx, TableSecurityAlert).
		Where("id = ? AND isresolved = ?", alertID, false).
		Updates(map[string]any{"isresolved": true, "resolvedat": now, "resolvedby": actor})
	if result.Error != nil {
		return apperr.Internal(fmt.Errorf("audit_resolve_alert_failed: %w", result.Error))
	}
	if result.RowsAffected == 0 {
		return recorder.mustExist(ctx, alertID)
	}

	recorder.logger.Info("security_alert_resolved", slog.String("alert_id", alertID), slog.String("actor", actor))
	return nil
}

// MarkAlertRead flags an alert as seen.
func (recorder *Recorder) MarkAlertRead(ctx context.Context, alertID string) error {
	result := recorder.table(ctx, TableSecurityAlert).
		Where("id = ? AND isread = ?", alertID, false).
		Updates(map[string]any{"isread": true, "readat": recorder.now()})
	if result.Error != nil {
		return apperr.Internal(fmt.Errorf("audit_mark_alert_read_failed: %w", result.Error))
	}
	if result.RowsAffected == 0 {
		return recorder.mustExist(ctx, alertID)
	}
	return nil
}

func (recorder *Recorder) mustExist(ctx context.Context, alertID string) error {
	var count int64
	if err := recorder.table(ctx, TableSecurityAlert).Where("id = ?", alertID).Count(&count).Error; err != nil {
		return apperr.Internal(fmt.Errorf("audit_find_alert_failed: %w", err))
	}
	if count == 0 {
		return apperr.NotFound("Security alert")
	}
	return nil
}

// AlertFilter narrows [Recorder.ListAlerts] and [Recorder.CountAlerts].
type AlertFilter struct {
	UserID   string
	Severity string
	OnlyOpen bool
	Limit    int
	Offset   int
}

func (recorder *Recorder) alertQuery(ctx context.Context, filter AlertFilter) *gorm.DB {
	query := recorder.table(ctx, TableSecurityAlert)
	if filter.UserID != "" {
		query = query.Where("userid = ?", filter.UserID)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.OnlyOpen {
		query = query.Where("isresolved = ?", false)
	}
	return query
}

// ListAlerts returns one page of alerts, newest first.
func (recorder *Recorder) ListAlerts(ctx context.Context, filter AlertFilter) ([]SecurityAlert, error) {
	query := recorder.alertQuery(ctx, filter).Order("createdat DESC").Limit(limitOrDefault(filter.Limit))
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var alerts []SecurityAlert
	if err := query.Find(&alerts).Error; err != nil {
		return nil, apperr.Internal(fmt.Errorf("audit_list_alerts_failed: %w", err))
	}
	return alerts, nil
}

// CountAlerts returns how many alerts match filter, ignoring limit and offset.
func (recorder *Recorder) CountAlerts(ctx context.Context, filter AlertFilter) (int, error) {
	var total int64
	if err := recorder.alertQuery(ctx, filter).Count(&total).Error; err != nil {
		return 0, apperr.Internal(fmt.Errorf("audit_count_alerts_failed: %w", err))
	}
	return int(total), nil
}

// RecentAttempts returns the latest credential checks of userID.
func (recorder *Recorder) RecentAttempts(ctx context.Context, userID string, limit int) ([]LoginAttempt, error) {
	var attempts []LoginAttempt
	err := recorder.table(ctx, TableLoginAttempt).
		Where("userid = ?", userID).
		Order("createdat DESC").
		Limit(limitOrDefault(limit)).
		Find(&attempts).Error
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("audit_recent_attempts_failed: %w", err))
	}
	return attempts, nil
}

// History returns the latest completed sign-ins of userID.
func (recorder *Recorder) History(ctx context.Context, userID string, limit int) ([]LoginHistory, error) {
	var history []LoginHistory
	err := recorder.table(ctx, TableLoginHistory).
		Where("userid = ?", userID).
		Order("createdat DESC").
		Limit(limitOrDefault(limit)).
		Find(&history).Error
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("audit_history_failed: %w", err))
	}
	return history, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
