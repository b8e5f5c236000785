// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package risk scores login attempts.

The scorer combines weighted factors into a score between 0 and 100. It keeps
its own signals (last successful location, usual login hours, recent failures)
and never reads the audit log. Missing or slow inputs count as neutral, so a
degraded geo database or cache can lower a score but never raise one.
*/
package risk

import (
	"context"
	"time"

	"github.com/taibuivan/agora/internal/security/ipguard"
)

// Factor names one contributor to a score.
type Factor string

const (
	FactorNewDevice          Factor = "new_device"
	FactorUntrustedDevice    Factor = "untrusted_device"
	FactorFingerprintChanged Factor = "fingerprint_changed"
	FactorImpossibleTravel   Factor = "impossible_travel"
	FactorIPReputation       Factor = "ip_reputation"
	FactorUnusualHour        Factor = "unusual_hour"
	FactorFailureVelocity    Factor = "failure_velocity"
)

// Severity is the alert tier of a score.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFor maps a score to its tier.
func SeverityFor(score int) Severity {
	switch {
	case score >= 90:
		return SeverityCritical
	case score >= 70:
		return SeverityHigh
	case score >= 50:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Attempt is what the scorer knows about a login in progress.
type Attempt struct {
	UserID        string
	IP            string
	NewDevice     bool
	TrustedDevice bool
	// FingerprintChanged marks a known device id presented by a different client.
	FingerprintChanged bool
	// At defaults to the scorer clock.
	At time.Time
}

// Assessment is the outcome of [Scorer.Score].
type Assessment struct {
	Score      int
	Suspicious bool
	Severity   Severity
	Factors    []Factor
	// Location is the resolved origin of the attempt; Located is false when unknown.
	Location Location
	Located  bool
}

// Has reports whether factor contributed to the assessment.
func (assessment Assessment) Has(factor Factor) bool {
	for _, f := range assessment.Factors {
		if f == factor {
			return true
		}
	}
	return false
}

// FactorNames returns the factors as plain strings for storage.
func (assessment Assessment) FactorNames() []string {
	names := make([]string, len(assessment.Factors))
	for i, f := range assessment.Factors {
		names[i] = string(f)
	}
	return names
}

// Sighting is a successful login remembered for the next assessment.
type Sighting struct {
	IP       string
	Location Location
	Located  bool
	At       time.Time
}

// Signals stores the per-identity history the scorer relies on.
type Signals interface {
	// LastSuccess returns nil without error when the identity never logged in.
	LastSuccess(ctx context.Context, userID string) (*Sighting, error)
	// HourHistogram counts successful logins per UTC hour.
	HourHistogram(ctx context.Context, userID string) ([24]int, error)
	// RecentFailures counts failures inside the current velocity window.
	RecentFailures(ctx context.Context, userID string) (int, error)
	// RecordSuccess stores sighting, bumps its hour and clears recent failures.
	RecordSuccess(ctx context.Context, userID string, sighting Sighting) error
	// RecordFailure counts a failure that expires after window.
	RecordFailure(ctx context.Context, userID string, window time.Duration) error
}

// Locator resolves an address to a location. ok is false when unknown.
type Locator interface {
	Locate(ctx context.Context, ip string) (location Location, ok bool)
}

// ReputationSource reports the standing of an address.
type ReputationSource interface {
	Reputation(ctx context.Context, ip string) (ipguard.Reputation, error)
}
