// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package risk_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/agora/internal/security/risk"
)

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "risk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadPolicy_EmptyPathIsDefault(t *testing.T) {
	policy, err := risk.LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, risk.DefaultPolicy(), policy)
}

func TestLoadPolicy_OverridesOnlyGivenKeys(t *testing.T) {
	path := writePolicy(t, `
weights:
  new_device: 40
suspicious_at: 60
failure_velocity:
  window: 30m
`)

	policy, err := risk.LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, 40, policy.Weights.NewDevice)
	assert.Equal(t, 35, policy.Weights.ImpossibleTravel)
	assert.Equal(t, 60, policy.SuspiciousAt)
	assert.Equal(t, 30*time.Minute, policy.Velocity.Window)
	assert.Equal(t, 3, policy.Velocity.Threshold)
	assert.InDelta(t, 900, policy.Travel.MaxSpeedKMH, 0.001)
}

func TestLoadPolicy_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative weight", "weights:\n  unusual_hour: -5\n"},
		{"threshold out of range", "suspicious_at: 0\n"},
		{"malformed", "weights: [1, 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := risk.LoadPolicy(writePolicy(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadPolicy_MissingFile(t *testing.T) {
	_, err := risk.LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
