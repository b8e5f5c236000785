// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package respond writes every HTTP response of the identity API.
//
// # Envelopes
//
// Success bodies are {"data": ...}, list bodies add "meta", and errors are
// {"error", "code", "details"}. Clients branch on "code" only; messages may
// change wording.
//
// # Caching
//
// Responses here routinely carry tokens, recovery codes or account state, so
// all of them are marked no-store.
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/constants"
	"github.com/taibuivan/agora/internal/platform/ctxutil"
	"github.com/taibuivan/agora/pkg/pagination"
)

// SuccessEnvelope wraps single-resource payloads.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// PaginatedEnvelope wraps one page of a list.
type PaginatedEnvelope struct {
	Data any             `json:"data"`
	Meta pagination.Meta `json:"meta"`
}

// ErrorEnvelope is the body of every non-2xx response.
type ErrorEnvelope struct {
	Error   string              `json:"error"`
	Code    string              `json:"code"`
	Details []apperr.FieldError `json:"details,omitempty"`
}

// JSON writes payload with the given status code.
func JSON(writer http.ResponseWriter, statusCode int, payload any) {
	header := writer.Header()
	header.Set("Content-Type", "application/json; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	writer.WriteHeader(statusCode)
	_ = json.NewEncoder(writer).Encode(payload)
}

func OK(writer http.ResponseWriter, data any) {
	JSON(writer, http.StatusOK, SuccessEnvelope{Data: data})
}

func Created(writer http.ResponseWriter, data any) {
	JSON(writer, http.StatusCreated, SuccessEnvelope{Data: data})
}

// Accepted is used when a flow needs another step (a login challenge).
func Accepted(writer http.ResponseWriter, data any) {
	JSON(writer, http.StatusAccepted, SuccessEnvelope{Data: data})
}

func Paginated(writer http.ResponseWriter, data any, metadata pagination.Meta) {
	JSON(writer, http.StatusOK, PaginatedEnvelope{Data: data, Meta: metadata})
}

func NoContent(writer http.ResponseWriter) {
	writer.WriteHeader(http.StatusNoContent)
}

/*
Error converts any error into the error envelope.

Description: Errors that are not an [*apperr.AppError] become INTERNAL_ERROR
with their text kept out of the body. 5xx outcomes are logged with the cause;
401s advertise the bearer scheme with the RFC 6750 error attribute, and
throttling errors set Retry-After.
*/
func Error(writer http.ResponseWriter, request *http.Request, err error) {
	var appError *apperr.AppError
	if !errors.As(err, &appError) {
		appError = apperr.Internal(err)
	}

	if appError.HTTPStatus >= http.StatusInternalServerError {
		ctx := request.Context()
		ctxutil.GetLogger(ctx).ErrorContext(ctx, "api_server_error",
			slog.String("code", appError.Code),
			slog.String("request_id", ctxutil.GetRequestID(ctx)),
			slog.Any("cause", appError.Cause),
		)
	}

	header := writer.Header()
	if appError.RetryAfter > 0 {
		header.Set(constants.HeaderRetryAfter, strconv.Itoa(appError.RetryAfter))
	}
	if appError.HTTPStatus == http.StatusUnauthorized {
		header.Set("WWW-Authenticate", bearerChallenge(appError.Code))
	}

	JSON(writer, appError.HTTPStatus, ErrorEnvelope{
		Error:   appError.Message,
		Code:    appError.Code,
		Details: appError.Details,
	})
}

func bearerChallenge(code string) string {
	switch code {
	case apperr.CodeTokenInvalid, apperr.CodeTokenReplay:
		return fmt.Sprintf(`Bearer realm=%q, error="invalid_token"`, constants.AuthIssuer)
	default:
		return fmt.Sprintf(`Bearer realm=%q`, constants.AuthIssuer)
	}
}
