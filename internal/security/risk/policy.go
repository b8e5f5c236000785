// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package risk

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Weights are the points each factor adds to a score.
type Weights struct {
	NewDevice          int `yaml:"new_device"`
	UntrustedDevice    int `yaml:"untrusted_device"`
	FingerprintChanged int `yaml:"fingerprint_changed"`
	ImpossibleTravel   int `yaml:"impossible_travel"`
	IPReputation       int `yaml:"ip_reputation"`
	UnusualHour        int `yaml:"unusual_hour"`
	FailureVelocity    int `yaml:"failure_velocity"`
}

func (weights Weights) of(factor Factor) int {
	switch factor {
	case FactorNewDevice:
		return weights.NewDevice
	case FactorUntrustedDevice:
		return weights.UntrustedDevice
	case FactorFingerprintChanged:
		return weights.FingerprintChanged
	case FactorImpossibleTravel:
		return weights.ImpossibleTravel
	case FactorIPReputation:
		return weights.IPReputation
	case FactorUnusualHour:
		return weights.UnusualHour
	case FactorFailureVelocity:
		return weights.FailureVelocity
	}
	return 0
}

// Policy holds the weights and the thresholds of every factor.
type Policy struct {
	Weights Weights `yaml:"weights"`

	// SuspiciousAt is the score from which an attempt is suspicious.
	SuspiciousAt int `yaml:"suspicious_at"`

	Travel struct {
		MaxSpeedKMH   float64 `yaml:"max_speed_kmh"`
		MinDistanceKM float64 `yaml:"min_distance_km"`
	} `yaml:"impossible_travel"`

	Hours struct {
		// MinSamples is the history size below which hours are not judged.
		MinSamples int `yaml:"min_samples"`
	} `yaml:"unusual_hour"`

	Velocity struct {
		Threshold int           `yaml:"threshold"`
		Window    time.Duration `yaml:"window"`
	} `yaml:"failure_velocity"`

	Reputation struct {
		MinFailedAttempts int `yaml:"min_failed_attempts"`
	} `yaml:"ip_reputation"`
}

// DefaultPolicy returns the built-in weights and thresholds.
func DefaultPolicy() Policy {
	policy := Policy{
		Weights: Weights{
			NewDevice:          25,
			UntrustedDevice:    10,
			FingerprintChanged: 30,
			ImpossibleTravel:   35,
			IPReputation:       20,
			UnusualHour:        10,
			FailureVelocity:    25,
		},
		SuspiciousAt: 50,
	}
	policy.Travel.MaxSpeedKMH = 900
	policy.Travel.MinDistanceKM = 100
	policy.Hours.MinSamples = 10
	policy.Velocity.Threshold = 3
	policy.Velocity.Window = time.Hour
	policy.Reputation.MinFailedAttempts = 5
	return policy
}

/*
LoadPolicy reads a YAML policy file over [DefaultPolicy].

Keys absent from the file keep their defaults. An empty path returns the
defaults unchanged.
*/
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("risk: failed to read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("risk: failed to parse policy file: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// Validate rejects weights and thresholds outside their ranges.
func (policy Policy) Validate() error {
	weights := []int{
		policy.Weights.NewDevice, policy.Weights.UntrustedDevice, policy.Weights.FingerprintChanged,
		policy.Weights.ImpossibleTravel, policy.Weights.IPReputation, policy.Weights.UnusualHour,
		policy.Weights.FailureVelocity,
	}
	for _, weight := range weights {
		if weight < 0 || weight > 100 {
			return fmt.Errorf("risk: weight %d out of range [0, 100]", weight)
		}
	}
	if policy.SuspiciousAt < 1 || policy.SuspiciousAt > 100 {
		return fmt.Errorf("risk: suspicious_at %d out of range [1, 100]", policy.SuspiciousAt)
	}
	if policy.Travel.MaxSpeedKMH <= 0 {
		return fmt.Errorf("risk: max_speed_kmh must be positive")
	}
	if policy.Velocity.Window <= 0 {
		return fmt.Errorf("risk: failure_velocity window must be positive")
	}
	return nil
}
