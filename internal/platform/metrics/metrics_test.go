// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/taibuivan/agora/internal/platform/metrics"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.AuthOutcome("success")
		m.TokenRotation("rotated")
		m.RiskScore(42)
		m.HTTPRequest("GET", "/", "200", 0.1)
	})
}

func TestMetrics_Exposition(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	m.AuthOutcome("success")
	m.IPBlocked("temporary")

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `agora_identity_auth_outcomes_total{outcome="success"} 1`)
	assert.Contains(t, recorder.Body.String(), `agora_identity_ip_blocks_total{type="temporary"} 1`)
}
