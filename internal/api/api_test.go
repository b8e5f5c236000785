// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package api_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/agora/internal/api"
	"github.com/taibuivan/agora/internal/platform/ctxutil"
	"github.com/taibuivan/agora/internal/platform/sec"
	"github.com/taibuivan/agora/internal/security/audit"
	"github.com/taibuivan/agora/internal/security/ipguard"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// # Health

func TestReadiness(t *testing.T) {
	tests := []struct {
		name   string
		redis  error
		status int
		body   string
	}{
		{"all healthy", nil, http.StatusOK, `"status":"ready"`},
		{"redis down", errors.New("connection refused"), http.StatusServiceUnavailable, `"status":"degraded"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, readiness := api.NewHealthHandlers([]api.Check{
				{Name: "postgres", Probe: func(context.Context) error { return nil }},
				{Name: "redis", Probe: func(context.Context) error { return tt.redis }},
			}, discard)

			recorder := httptest.NewRecorder()
			readiness(recorder, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.status, recorder.Code)
			assert.Contains(t, recorder.Body.String(), tt.body)
		})
	}
}

// # Admin Console

type fakeDesk struct {
	filters   []audit.AlertFilter
	resolved  []string
	blocks    []ipguard.BlockInput
	unlocked  []string
	alertList []audit.SecurityAlert
}

func (f *fakeDesk) ListAlerts(_ context.Context, filter audit.AlertFilter) ([]audit.SecurityAlert, error) {
	f.filters = append(f.filters, filter)
	return f.alertList, nil
}

func (f *fakeDesk) CountAlerts(context.Context, audit.AlertFilter) (int, error) {
	return 45, nil
}

func (f *fakeDesk) ResolveAlert(_ context.Context, alertID, _ string) error {
	f.resolved = append(f.resolved, alertID)
	return nil
}

func (f *fakeDesk) MarkAlertRead(context.Context, string) error { return nil }

func (f *fakeDesk) ListBlocked(context.Context) ([]ipguard.Record, error) { return nil, nil }

func (f *fakeDesk) Find(_ context.Context, ip string) (*ipguard.Record, error) {
	return &ipguard.Record{IP: ip}, nil
}

func (f *fakeDesk) Block(_ context.Context, ip string, input ipguard.BlockInput) (*ipguard.Record, error) {
	f.blocks = append(f.blocks, input)
	return &ipguard.Record{IP: ip, BlockType: ipguard.BlockTemporary}, nil
}

func (f *fakeDesk) Unblock(_ context.Context, ip, _ string) (*ipguard.Record, error) {
	return &ipguard.Record{IP: ip, BlockType: ipguard.BlockNone}, nil
}

func (f *fakeDesk) Unlock(_ context.Context, userID, _ string) error {
	f.unlocked = append(f.unlocked, userID)
	return nil
}

// grants is a permission table keyed by role.
type grants map[string][]string

func (g grants) HasPermission(_ context.Context, _, primary, permission string) (bool, error) {
	for _, granted := range g[primary] {
		if granted == permission {
			return true, nil
		}
	}
	return false, nil
}

var consoleGrants = grants{
	"moderator": {api.PermissionAlertsRead},
	"admin":     {api.PermissionAlertsRead, api.PermissionAlertsResolve, api.PermissionIPManage, api.PermissionUsersManage},
}

func serve(handler http.Handler, method, path, role, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if role != "" {
		request = request.WithContext(ctxutil.WithAuthUser(request.Context(), &sec.AuthClaims{UserID: "staff-1", Role: role}))
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestAdmin_PermissionMatrix(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		role   string
		want   int
	}{
		{"anonymous", http.MethodGet, "/alerts", "", http.StatusUnauthorized},
		{"member reads alerts", http.MethodGet, "/alerts", "member", http.StatusForbidden},
		{"moderator reads alerts", http.MethodGet, "/alerts", "moderator", http.StatusOK},
		{"moderator resolves", http.MethodPost, "/alerts/a-1/resolve", "moderator", http.StatusForbidden},
		{"admin resolves", http.MethodPost, "/alerts/a-1/resolve", "admin", http.StatusNoContent},
		{"moderator unblocks", http.MethodDelete, "/ips/198.51.100.9/block", "moderator", http.StatusForbidden},
		{"admin unblocks", http.MethodDelete, "/ips/198.51.100.9/block", "admin", http.StatusOK},
		{"admin unlocks", http.MethodDelete, "/lockouts/user-1", "admin", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desk := &fakeDesk{}
			handler := api.NewAdminHandler(desk, desk, desk, consoleGrants).Routes()

			recorder := serve(handler, tt.method, tt.path, tt.role, "")
			assert.Equal(t, tt.want, recorder.Code)
		})
	}
}

func TestAdmin_BlockIP(t *testing.T) {
	desk := &fakeDesk{}
	handler := api.NewAdminHandler(desk, desk, desk, consoleGrants).Routes()

	recorder := serve(handler, http.MethodPost, "/ips/198.51.100.9/block", "admin", `{"reason":"credential stuffing","minutes":30}`)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, desk.blocks, 1)
	assert.Equal(t, "credential stuffing", desk.blocks[0].Reason)
	assert.Equal(t, "staff-1", desk.blocks[0].Actor)
	assert.Equal(t, 30.0, desk.blocks[0].Duration.Minutes())

	recorder = serve(handler, http.MethodPost, "/ips/198.51.100.9/block", "admin", `{"minutes":30}`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Len(t, desk.blocks, 1)
}

func TestAdmin_ListAlertsPaged(t *testing.T) {
	desk := &fakeDesk{alertList: []audit.SecurityAlert{{ID: "a-21", AlertType: audit.AlertTokenReplay}}}
	handler := api.NewAdminHandler(desk, desk, desk, consoleGrants).Routes()

	recorder := serve(handler, http.MethodGet, "/alerts?page=3&limit=10&severity=critical&open=true", "moderator", "")
	require.Equal(t, http.StatusOK, recorder.Code)

	require.Len(t, desk.filters, 1)
	assert.Equal(t, audit.AlertFilter{Severity: "critical", OnlyOpen: true, Limit: 10, Offset: 20}, desk.filters[0])
	assert.Contains(t, recorder.Body.String(), `"total_pages":5`)
	assert.Contains(t, recorder.Body.String(), `"a-21"`)
}
