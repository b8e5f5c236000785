// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package metrics exposes Prometheus instruments for the identity core.

All recording methods are nil-safe, so components can be constructed without
metrics in tests and tools.
*/
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agora_identity"

// Metrics groups every instrument recorded by the security components.
type Metrics struct {
	authOutcomes   *prometheus.CounterVec
	tokenRotations *prometheus.CounterVec
	otpResults     *prometheus.CounterVec
	ipBlocks       *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	riskScores     prometheus.Histogram
	httpRequests   *prometheus.CounterVec
	httpDurations  *prometheus.HistogramVec
	gatherer       prometheus.Gatherer
}

// New creates and registers the instruments on registry.
func New(registry *prometheus.Registry) *Metrics {
	metrics := &Metrics{
		authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_outcomes_total",
			Help:      "Authentication decisions by outcome code.",
		}, []string{"outcome"}),

		tokenRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_rotations_total",
			Help:      "Refresh token rotations by result.",
		}, []string{"result"}),

		otpResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_verifications_total",
			Help:      "One-time code verifications by result.",
		}, []string{"result"}),

		ipBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ip_blocks_total",
			Help:      "IP blocks applied by type.",
		}, []string{"type"}),

		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_alerts_total",
			Help:      "Security alerts raised by severity.",
		}, []string{"severity"}),

		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel and result.",
		}, []string{"channel", "result"}),

		riskScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "login_risk_score",
			Help:      "Distribution of computed login risk scores.",
			Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),

		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		gatherer: registry,
	}

	registry.MustRegister(
		metrics.authOutcomes,
		metrics.tokenRotations,
		metrics.otpResults,
		metrics.ipBlocks,
		metrics.alerts,
		metrics.notifications,
		metrics.riskScores,
		metrics.httpRequests,
		metrics.httpDurations,
	)

	return metrics
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// # Recording

// AuthOutcome counts one authentication decision ("success", "challenge", or an error code).
func (m *Metrics) AuthOutcome(outcome string) {
	if m == nil {
		return
	}
	m.authOutcomes.WithLabelValues(outcome).Inc()
}

// TokenRotation counts one rotation attempt.
func (m *Metrics) TokenRotation(result string) {
	if m == nil {
		return
	}
	m.tokenRotations.WithLabelValues(result).Inc()
}

// OTPResult counts one code verification.
func (m *Metrics) OTPResult(result string) {
	if m == nil {
		return
	}
	m.otpResults.WithLabelValues(result).Inc()
}

// IPBlocked counts one block ("temporary" or "permanent").
func (m *Metrics) IPBlocked(blockType string) {
	if m == nil {
		return
	}
	m.ipBlocks.WithLabelValues(blockType).Inc()
}

// AlertRaised counts one security alert.
func (m *Metrics) AlertRaised(severity string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(severity).Inc()
}

// Notification counts one delivery attempt outcome.
func (m *Metrics) Notification(channel, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

// RiskScore observes one computed score.
func (m *Metrics) RiskScore(score int) {
	if m == nil {
		return
	}
	m.riskScores.Observe(float64(score))
}

// HTTPRequest records one finished request.
func (m *Metrics) HTTPRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDurations.WithLabelValues(method, route).Observe(seconds)
}
