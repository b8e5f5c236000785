// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	requestutil "github.com/taibuivan/agora/internal/platform/request"
	"github.com/taibuivan/agora/internal/platform/respond"
	"github.com/taibuivan/agora/internal/platform/validate"
	"github.com/taibuivan/agora/internal/security/audit"
	"github.com/taibuivan/agora/internal/security/ipguard"
	"github.com/taibuivan/agora/internal/users/authz"
	"github.com/taibuivan/agora/pkg/pagination"
)

// # Permissions

const (
	PermissionAlertsRead    = "security.alerts.read"
	PermissionAlertsResolve = "security.alerts.resolve"
	PermissionIPManage      = "security.ip.manage"
	PermissionUsersManage   = "identity.users.manage"
)

// # Contracts

// AlertDesk is the moderation view of the security alert feed.
type AlertDesk interface {
	ListAlerts(ctx context.Context, filter audit.AlertFilter) ([]audit.SecurityAlert, error)
	CountAlerts(ctx context.Context, filter audit.AlertFilter) (int, error)
	ResolveAlert(ctx context.Context, alertID, actor string) error
	MarkAlertRead(ctx context.Context, alertID string) error
}

// IPDesk is the administrative view of the IP reputation guard.
type IPDesk interface {
	ListBlocked(ctx context.Context) ([]ipguard.Record, error)
	Find(ctx context.Context, ip string) (*ipguard.Record, error)
	Block(ctx context.Context, ip string, input ipguard.BlockInput) (*ipguard.Record, error)
	Unblock(ctx context.Context, ip, actor string) (*ipguard.Record, error)
}

// LockoutDesk lifts credential lockouts.
type LockoutDesk interface {
	Unlock(ctx context.Context, userID, actor string) error
}

// AdminHandler serves the security console endpoints.
type AdminHandler struct {
	alerts   AlertDesk
	ips      IPDesk
	lockouts LockoutDesk
	checker  authz.Checker
}

// NewAdminHandler constructs a new [AdminHandler].
func NewAdminHandler(alerts AlertDesk, ips IPDesk, lockouts LockoutDesk, checker authz.Checker) *AdminHandler {
	return &AdminHandler{alerts: alerts, ips: ips, lockouts: lockouts, checker: checker}
}

// Routes returns the console endpoints, each behind its own permission.
func (handler *AdminHandler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Group(func(r chi.Router) {
		r.Use(authz.RequirePermission(handler.checker, PermissionAlertsRead))
		r.Get("/alerts", handler.listAlerts)
		r.Post("/alerts/{id}/read", handler.markAlertRead)
	})

	router.With(authz.RequirePermission(handler.checker, PermissionAlertsResolve)).
		Post("/alerts/{id}/resolve", handler.resolveAlert)

	router.Group(func(r chi.Router) {
		r.Use(authz.RequirePermission(handler.checker, PermissionIPManage))
		r.Get("/ips", handler.listBlocked)
		r.Get("/ips/{ip}", handler.getIP)
		r.Post("/ips/{ip}/block", handler.blockIP)
		r.Delete("/ips/{ip}/block", handler.unblockIP)
	})

	router.With(authz.RequirePermission(handler.checker, PermissionUsersManage)).
		Delete("/lockouts/{id}", handler.unlockUser)

	return router
}

// # Alerts

/*
GET /api/v1/admin/alerts?severity=&open=true&user_id=&page=&limit=

Response:
  - 200: []SecurityAlert: Newest first, with page metadata
  - 403: ErrForbidden: Missing security.alerts.read
*/
func (handler *AdminHandler) listAlerts(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()
	params := pagination.FromRequest(request)

	filter := audit.AlertFilter{
		UserID:   query.Get("user_id"),
		Severity: query.Get("severity"),
		OnlyOpen: query.Get("open") == "true",
		Limit:    params.Limit,
		Offset:   params.Offset(),
	}

	alerts, err := handler.alerts.ListAlerts(request.Context(), filter)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	total, err := handler.alerts.CountAlerts(request.Context(), filter)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Paginated(writer, alerts, pagination.NewMeta(params.Page, params.Limit, total))
}

func (handler *AdminHandler) markAlertRead(writer http.ResponseWriter, request *http.Request) {
	if err := handler.alerts.MarkAlertRead(request.Context(), requestutil.ID(request, "id")); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

/*
POST /api/v1/admin/alerts/{id}/resolve

Response:
  - 204: Alert resolved
  - 404: ErrNotFound: Unknown alert
*/
func (handler *AdminHandler) resolveAlert(writer http.ResponseWriter, request *http.Request) {
	actor, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.alerts.ResolveAlert(request.Context(), requestutil.ID(request, "id"), actor); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// # IP Reputation

func (handler *AdminHandler) listBlocked(writer http.ResponseWriter, request *http.Request) {
	records, err := handler.ips.ListBlocked(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, records)
}

func (handler *AdminHandler) getIP(writer http.ResponseWriter, request *http.Request) {
	record, err := handler.ips.Find(request.Context(), requestutil.Param(request, "ip"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, record)
}

type blockRequest struct {
	Reason    string `json:"reason"`
	Permanent bool   `json:"permanent"`
	Minutes   int    `json:"minutes"`
}

/*
POST /api/v1/admin/ips/{ip}/block

Request:
  - Body: blockRequest (Reason, Permanent, Minutes)

Response:
  - 200: Record: The blocked address
  - 400: ErrInvalidJSON: Missing reason
*/
func (handler *AdminHandler) blockIP(writer http.ResponseWriter, request *http.Request) {
	actor, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input blockRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	validator := &validate.Validator{}
	validator.Required("reason", input.Reason).Range("minutes", input.Minutes, 0, 60*24*30)
	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	record, err := handler.ips.Block(request.Context(), requestutil.Param(request, "ip"), ipguard.BlockInput{
		Reason:    input.Reason,
		Permanent: input.Permanent,
		Duration:  time.Duration(input.Minutes) * time.Minute,
		Actor:     actor,
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, record)
}

func (handler *AdminHandler) unblockIP(writer http.ResponseWriter, request *http.Request) {
	actor, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	record, err := handler.ips.Unblock(request.Context(), requestutil.Param(request, "ip"), actor)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, record)
}

// # Lockouts

// unlockUser handles DELETE /api/v1/admin/lockouts/{id}.
func (handler *AdminHandler) unlockUser(writer http.ResponseWriter, request *http.Request) {
	actor, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.lockouts.Unlock(request.Context(), requestutil.ID(request, "id"), actor); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}
