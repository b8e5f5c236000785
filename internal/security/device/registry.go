// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/pkg/uuid"
)

// Registry is the device registry service.
type Registry struct {
	repository Repository
	logger     *slog.Logger
	now        func() time.Time
}

// NewRegistry constructs a device [Registry].
func NewRegistry(repository Repository, logger *slog.Logger) *Registry {
	return &Registry{repository: repository, logger: logger, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (registry *Registry) WithClock(now func() time.Time) *Registry {
	registry.now = now
	return registry
}

/*
Recognize records that userID is signing in from the device described by meta.

Description: Calling it any number of times with the same inputs leaves a
single row; only lastseenat, lastip and the user-agent derived fields move.
A new device always starts untrusted.

The device id is client supplied, so a known id arriving with a different
fingerprint is marked FingerprintChanged and loses any trust it had.

Returns:
  - *Device: The registered device
  - bool: true if this is the first time the device is seen for userID
*/
func (registry *Registry) Recognize(ctx context.Context, userID string, meta Metadata) (*Device, bool, error) {
	client := ParseUserAgent(meta.UserAgent)
	now := registry.now()

	name := meta.Name
	if name == "" {
		name = client.Label()
	}

	candidate := &Device{
		ID:          uuid.New(),
		UserID:      userID,
		DeviceID:    Identify(meta),
		DeviceName:  name,
		DeviceType:  client.Type,
		Browser:     client.Browser,
		OS:          client.OS,
		Fingerprint: Fingerprint(meta),
		LastIP:      meta.IP,
		FirstSeenAt: now,
		LastSeenAt:  now,
	}
	if meta.PushToken != "" {
		token := meta.PushToken
		candidate.PushToken = &token
	}

	prior, err := registry.repository.Find(ctx, userID, candidate.DeviceID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, false, fmt.Errorf("device_registry_recognize_failed: %w", err)
	}

	device, created, err := registry.repository.Upsert(ctx, candidate)
	if err != nil {
		return nil, false, fmt.Errorf("device_registry_recognize_failed: %w", err)
	}

	if !created && prior != nil && prior.Fingerprint != "" && prior.Fingerprint != candidate.Fingerprint {
		if err := registry.fingerprintChanged(ctx, device); err != nil {
			return nil, false, err
		}
	}

	if created {
		registry.logger.Info("device_registered",
			slog.String("user_id", userID),
			slog.String("device_id", device.DeviceID),
			slog.String("client", client.Label()),
		)
	}
	return device, created, nil
}

// fingerprintChanged flags device and drops its trust.
func (registry *Registry) fingerprintChanged(ctx context.Context, device *Device) error {
	device.FingerprintChanged = true
	registry.logger.Warn("device_fingerprint_changed",
		slog.String("user_id", device.UserID),
		slog.String("device_id", device.DeviceID),
		slog.Bool("was_trusted", device.IsTrusted),
	)
	if !device.IsTrusted {
		return nil
	}

	if err := registry.repository.SetTrusted(ctx, device.UserID, device.DeviceID, nil); err != nil {
		return fmt.Errorf("device_registry_trust_drop_failed: %w", err)
	}
	device.IsTrusted, device.TrustedAt = false, nil
	return nil
}

// Trust marks a device as trusted. Subsequent logins from it skip the second factor.
func (registry *Registry) Trust(ctx context.Context, userID, deviceID string) error {
	now := registry.now()
	if err := registry.repository.SetTrusted(ctx, userID, deviceID, &now); err != nil {
		return fmt.Errorf("device_registry_trust_failed: %w", err)
	}
	registry.logger.Info("device_trusted", slog.String("user_id", userID), slog.String("device_id", deviceID))
	return nil
}

// RevokeTrust withdraws trust from a device without forgetting it.
func (registry *Registry) RevokeTrust(ctx context.Context, userID, deviceID string) error {
	if err := registry.repository.SetTrusted(ctx, userID, deviceID, nil); err != nil {
		return fmt.Errorf("device_registry_revoke_trust_failed: %w", err)
	}
	return nil
}

// Find returns a single device of userID.
func (registry *Registry) Find(ctx context.Context, userID, deviceID string) (*Device, error) {
	device, err := registry.repository.Find(ctx, userID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("device_registry_find_failed: %w", err)
	}
	return device, nil
}

// List returns every device of userID.
func (registry *Registry) List(ctx context.Context, userID string) ([]Device, error) {
	devices, err := registry.repository.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("device_registry_list_failed: %w", err)
	}
	return devices, nil
}

// Forget deletes a device. The next login from it is treated as new.
func (registry *Registry) Forget(ctx context.Context, userID, deviceID string) error {
	if err := registry.repository.Delete(ctx, userID, deviceID); err != nil {
		return fmt.Errorf("device_registry_forget_failed: %w", err)
	}
	registry.logger.Info("device_forgotten", slog.String("user_id", userID), slog.String("device_id", deviceID))
	return nil
}
