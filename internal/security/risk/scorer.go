// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/taibuivan/agora/internal/platform/metrics"
)

const maxScore = 100

// Scorer computes login risk.
type Scorer struct {
	signals    Signals
	locator    Locator
	reputation ReputationSource
	policy     Policy
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewScorer constructs a [Scorer]. locator and reputation may be nil.
func NewScorer(signals Signals, locator Locator, reputation ReputationSource, policy Policy, recorder *metrics.Metrics, logger *slog.Logger) *Scorer {
	return &Scorer{
		signals:    signals,
		locator:    locator,
		reputation: reputation,
		policy:     policy,
		metrics:    recorder,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (scorer *Scorer) WithClock(now func() time.Time) *Scorer {
	scorer.now = now
	return scorer
}

/*
Score evaluates attempt against the policy.

Description: Each factor that fires adds its weight; the sum is capped at 100.
Score never fails. A signal that cannot be read is logged and skipped.
*/
func (scorer *Scorer) Score(ctx context.Context, attempt Attempt) Assessment {
	at := attempt.At
	if at.IsZero() {
		at = scorer.now()
	}

	var assessment Assessment
	if scorer.locator != nil && attempt.IP != "" {
		assessment.Location, assessment.Located = scorer.locator.Locate(ctx, attempt.IP)
	}

	var factors []Factor
	if attempt.NewDevice {
		factors = append(factors, FactorNewDevice)
	}
	if !attempt.TrustedDevice {
		factors = append(factors, FactorUntrustedDevice)
	}
	if attempt.FingerprintChanged {
		factors = append(factors, FactorFingerprintChanged)
	}
	if scorer.impossibleTravel(ctx, attempt.UserID, assessment, at) {
		factors = append(factors, FactorImpossibleTravel)
	}
	if scorer.badReputation(ctx, attempt.IP) {
		factors = append(factors, FactorIPReputation)
	}
	if scorer.unusualHour(ctx, attempt.UserID, at) {
		factors = append(factors, FactorUnusualHour)
	}
	if scorer.failureVelocity(ctx, attempt.UserID) {
		factors = append(factors, FactorFailureVelocity)
	}

	score := 0
	for _, factor := range factors {
		score += scorer.policy.Weights.of(factor)
	}

	assessment.Score = min(score, maxScore)
	assessment.Factors = factors
	assessment.Suspicious = assessment.Score >= scorer.policy.SuspiciousAt
	assessment.Severity = SeverityFor(assessment.Score)

	scorer.metrics.RiskScore(assessment.Score)
	return assessment
}

func (scorer *Scorer) impossibleTravel(ctx context.Context, userID string, current Assessment, at time.Time) bool {
	if !current.Located || userID == "" {
		return false
	}

	last, err := scorer.signals.LastSuccess(ctx, userID)
	if err != nil {
		scorer.degraded("last_success", err)
		return false
	}
	if last == nil || !last.Located {
		return false
	}

	distance := DistanceKM(last.Location, current.Location)
	if distance < scorer.policy.Travel.MinDistanceKM {
		return false
	}

	elapsed := at.Sub(last.At).Hours()
	if elapsed <= 0 {
		return true
	}
	return distance/elapsed > scorer.policy.Travel.MaxSpeedKMH
}

func (scorer *Scorer) badReputation(ctx context.Context, ip string) bool {
	if scorer.reputation == nil || ip == "" {
		return false
	}

	reputation, err := scorer.reputation.Reputation(ctx, ip)
	if err != nil {
		scorer.degraded("ip_reputation", err)
		return false
	}
	return reputation.BlockCount > 0 || reputation.FailedAttempts >= scorer.policy.Reputation.MinFailedAttempts
}

// unusualHour fires when neither the hour of at nor its neighbours appear in
// a history of at least MinSamples logins.
func (scorer *Scorer) unusualHour(ctx context.Context, userID string, at time.Time) bool {
	if userID == "" {
		return false
	}

	histogram, err := scorer.signals.HourHistogram(ctx, userID)
	if err != nil {
		scorer.degraded("hour_histogram", err)
		return false
	}

	total := 0
	for _, count := range histogram {
		total += count
	}
	if total < scorer.policy.Hours.MinSamples {
		return false
	}

	hour := at.UTC().Hour()
	around := histogram[(hour+23)%24] + histogram[hour] + histogram[(hour+1)%24]
	return around == 0
}

func (scorer *Scorer) failureVelocity(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}

	failures, err := scorer.signals.RecentFailures(ctx, userID)
	if err != nil {
		scorer.degraded("recent_failures", err)
		return false
	}
	return failures >= scorer.policy.Velocity.Threshold
}

func (scorer *Scorer) degraded(signal string, err error) {
	scorer.logger.Warn("risk_signal_unavailable", slog.String("signal", signal), slog.Any("error", err))
}

// # Signal Updates

// RecordSuccess remembers a successful login of userID from ip.
func (scorer *Scorer) RecordSuccess(ctx context.Context, userID, ip string, location Location, located bool) {
	sighting := Sighting{IP: ip, Location: location, Located: located, At: scorer.now()}
	if err := scorer.signals.RecordSuccess(ctx, userID, sighting); err != nil {
		scorer.degraded("record_success", err)
	}
}

// RecordFailure counts a failed attempt against userID.
func (scorer *Scorer) RecordFailure(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	if err := scorer.signals.RecordFailure(ctx, userID, scorer.policy.Velocity.Window); err != nil {
		scorer.degraded("record_failure", err)
	}
}
