// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package respond_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/respond"
)

func decodeError(t *testing.T, recorder *httptest.ResponseRecorder) respond.ErrorEnvelope {
	t.Helper()
	var envelope respond.ErrorEnvelope
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	return envelope
}

func TestError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		code       string
		retryAfter string
		challenge  string
	}{
		{"plain error hidden", errors.New("pq: relation missing"), 500, apperr.CodeInternal, "", ""},
		{"throttled", apperr.RateLimited(30), 429, apperr.CodeRateLimited, "30", ""},
		{"bad token", apperr.TokenInvalid(), 401, apperr.CodeTokenInvalid, "", `error="invalid_token"`},
		{"anonymous", apperr.Unauthorized("Authentication required"), 401, apperr.CodeUnauthorized, "", `Bearer realm=`},
		{"locked", apperr.AccountLocked(), 423, apperr.CodeAccountLocked, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respond.Error(recorder, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			assert.Equal(t, tt.status, recorder.Code)
			envelope := decodeError(t, recorder)
			assert.Equal(t, tt.code, envelope.Code)
			assert.NotContains(t, envelope.Error, "pq:")
			assert.Equal(t, tt.retryAfter, recorder.Header().Get("Retry-After"))
			if tt.challenge == "" {
				assert.Empty(t, recorder.Header().Get("WWW-Authenticate"))
			} else {
				assert.Contains(t, recorder.Header().Get("WWW-Authenticate"), tt.challenge)
			}
			assert.Equal(t, "no-store", recorder.Header().Get("Cache-Control"))
		})
	}
}

func TestError_ValidationDetails(t *testing.T) {
	recorder := httptest.NewRecorder()
	respond.Error(recorder, httptest.NewRequest(http.MethodPost, "/", nil),
		apperr.ValidationError("Validation failed", apperr.FieldError{Field: "email", Message: "Must be a valid email"}))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	envelope := decodeError(t, recorder)
	require.Len(t, envelope.Details, 1)
	assert.Equal(t, "email", envelope.Details[0].Field)
}
