// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package audit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/security/audit"
)

type capturePublisher struct {
	mu     sync.Mutex
	alerts []audit.SecurityAlert
	err    error
}

func (p *capturePublisher) PublishAlert(_ context.Context, alert audit.SecurityAlert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, alert)
	return p.err
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "audit.db")), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	require.NoError(t, err)

	require.NoError(t, db.Table(audit.TableLoginAttempt).AutoMigrate(&audit.LoginAttempt{}))
	require.NoError(t, db.Table(audit.TableLoginHistory).AutoMigrate(&audit.LoginHistory{}))
	require.NoError(t, db.Table(audit.TableSecurityAlert).AutoMigrate(&audit.SecurityAlert{}))
	require.NoError(t, db.Table(audit.TableUserActivity).AutoMigrate(&audit.UserActivity{}))
	return db
}

func newRecorder(t *testing.T, publisher audit.Publisher) (*audit.Recorder, *gorm.DB, *time.Time) {
	t.Helper()
	db := openDB(t)
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := audit.NewRecorder(db, "", publisher, nil, logger).WithClock(func() time.Time { return now })
	return recorder, db, &now
}

func ptr(s string) *string { return &s }

func TestRecordAttempt(t *testing.T) {
	recorder, _, _ := newRecorder(t, nil)
	ctx := context.Background()

	recorder.RecordAttempt(ctx, audit.LoginAttempt{UserID: ptr("u-1"), Email: "a@example.com", Success: false, FailureReason: apperr.CodeInvalidCredentials, IPAddress: "203.0.113.1"})
	recorder.RecordAttempt(ctx, audit.LoginAttempt{UserID: ptr("u-1"), Success: true, RiskScore: 35, RiskFactors: "new_device,untrusted_device"})
	recorder.RecordAttempt(ctx, audit.LoginAttempt{Email: "ghost@example.com", Success: false})

	attempts, err := recorder.RecentAttempts(ctx, "u-1", 10)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.NotEmpty(t, attempts[0].ID)
	assert.NotEqual(t, attempts[0].ID, attempts[1].ID)
}

func TestRecordLoginAndHistory(t *testing.T) {
	recorder, _, now := newRecorder(t, nil)
	ctx := context.Background()

	recorder.RecordLogin(ctx, audit.LoginHistory{UserID: "u-1", SessionID: "s-1", Method: audit.MethodPassword})
	*now = now.Add(time.Minute)
	recorder.RecordLogin(ctx, audit.LoginHistory{UserID: "u-1", SessionID: "s-2", Method: audit.MethodTwoFactor})

	history, err := recorder.History(ctx, "u-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "s-2", history[0].SessionID)
	assert.Equal(t, audit.MethodTwoFactor, history[0].Method)
}

func TestRaiseAlert_StoresAndPublishes(t *testing.T) {
	publisher := &capturePublisher{}
	recorder, _, _ := newRecorder(t, publisher)
	ctx := context.Background()

	alert := recorder.RaiseAlert(ctx, audit.SecurityAlert{
		UserID:    ptr("u-1"),
		AlertType: audit.AlertTokenReplay,
		Severity:  audit.SeverityCritical,
		Message:   "Refresh token reuse detected",
		Metadata:  audit.Metadata{"ip": "203.0.113.9"},
	})
	require.NotEmpty(t, alert.ID)

	alerts, err := recorder.ListAlerts(ctx, audit.AlertFilter{UserID: "u-1"})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, audit.AlertTokenReplay, alerts[0].AlertType)
	assert.Equal(t, "203.0.113.9", alerts[0].Metadata["ip"])

	require.Len(t, publisher.alerts, 1)
	assert.Equal(t, alert.ID, publisher.alerts[0].ID)
}

func TestRaiseAlert_PublishFailureIsSwallowed(t *testing.T) {
	publisher := &capturePublisher{err: errors.New("broker unavailable")}
	recorder, _, _ := newRecorder(t, publisher)
	ctx := context.Background()

	recorder.RaiseAlert(ctx, audit.SecurityAlert{AlertType: audit.AlertIPBlocked, Severity: audit.SeverityMedium, Message: "blocked"})

	alerts, err := recorder.ListAlerts(ctx, audit.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestResolveAlert(t *testing.T) {
	recorder, _, _ := newRecorder(t, nil)
	ctx := context.Background()

	alert := recorder.RaiseAlert(ctx, audit.SecurityAlert{AlertType: audit.AlertSuspiciousLogin, Severity: audit.SeverityHigh, Message: "suspicious"})

	require.NoError(t, recorder.MarkAlertRead(ctx, alert.ID))
	require.NoError(t, recorder.ResolveAlert(ctx, alert.ID, "admin"))
	require.NoError(t, recorder.ResolveAlert(ctx, alert.ID, "someone-else"))

	open, err := recorder.ListAlerts(ctx, audit.AlertFilter{OnlyOpen: true})
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := recorder.ListAlerts(ctx, audit.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsRead)
	assert.True(t, all[0].IsResolved)
	require.NotNil(t, all[0].ResolvedBy)
	assert.Equal(t, "admin", *all[0].ResolvedBy)
}

func TestResolveAlert_Unknown(t *testing.T) {
	recorder, _, _ := newRecorder(t, nil)

	err := recorder.ResolveAlert(context.Background(), "missing", "admin")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRecordActivity(t *testing.T) {
	recorder, db, _ := newRecorder(t, nil)
	ctx := context.Background()

	recorder.RecordActivity(ctx, audit.UserActivity{UserID: "u-1", Activity: "password_changed", IPAddress: "192.0.2.4"})

	var activities []audit.UserActivity
	require.NoError(t, db.Table(audit.TableUserActivity).Find(&activities).Error)
	require.Len(t, activities, 1)
	assert.Equal(t, "password_changed", activities[0].Activity)
	assert.NotNil(t, activities[0].Metadata)
}

func TestWriteFailuresDoNotPanic(t *testing.T) {
	recorder, db, _ := newRecorder(t, nil)
	require.NoError(t, db.Migrator().DropTable(audit.TableLoginAttempt))

	assert.NotPanics(t, func() {
		recorder.RecordAttempt(context.Background(), audit.LoginAttempt{Email: "a@example.com"})
	})
}

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	_, err := audit.NewKafkaPublisher(nil, "identity.security-alerts")
	assert.Error(t, err)

	publisher, err := audit.NewKafkaPublisher([]string{"localhost:9092"}, "identity.security-alerts")
	require.NoError(t, err)
	assert.NoError(t, publisher.Close())
}

func TestListAlerts_Paging(t *testing.T) {
	recorder, _, _ := newRecorder(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		recorder.RaiseAlert(ctx, audit.SecurityAlert{AlertType: audit.AlertIPBlocked, Severity: audit.SeverityMedium, Message: "blocked"})
	}
	recorder.RaiseAlert(ctx, audit.SecurityAlert{AlertType: audit.AlertTokenReplay, Severity: audit.SeverityCritical, Message: "replay"})

	page, err := recorder.ListAlerts(ctx, audit.AlertFilter{Severity: audit.SeverityMedium, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	total, err := recorder.CountAlerts(ctx, audit.AlertFilter{Severity: audit.SeverityMedium, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}
