// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package authz

import (
	"context"
	"fmt"
	"net/http"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/ctxutil"
	"github.com/taibuivan/agora/internal/platform/respond"
)

// Checker is the permission lookup used by [RequirePermission].
type Checker interface {
	HasPermission(ctx context.Context, userID, primary, permission string) (bool, error)
}

// RequirePermission blocks callers lacking permission. It implies authentication.
func RequirePermission(checker Checker, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			claims := ctxutil.GetAuthUser(request.Context())
			if claims == nil {
				respond.Error(writer, request, apperr.Unauthorized("Authentication required"))
				return
			}

			allowed, err := checker.HasPermission(request.Context(), claims.UserID, claims.Role, permission)
			if err != nil {
				respond.Error(writer, request, apperr.Internal(fmt.Errorf("authz_check_failed: %w", err)))
				return
			}
			if !allowed {
				respond.Error(writer, request, apperr.Forbidden("Insufficient permissions"))
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}
