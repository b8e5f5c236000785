// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package device keeps the registry of devices each identity has signed in from.

Recognition is an idempotent upsert keyed on (user, device id). Trust is never
inferred from repeated use; it is granted only by an explicit [Registry.Trust]
call, typically after the user completes a second-factor challenge and ticks
"trust this device".
*/
package device

import (
	"context"
	"time"
)

// Device is a client an identity has authenticated from.
type Device struct {
	ID          string     `json:"id"`
	UserID      string     `json:"-"`
	DeviceID    string     `json:"device_id"`
	DeviceName  string     `json:"device_name"`
	DeviceType  string     `json:"device_type"`
	Browser     string     `json:"browser"`
	OS          string     `json:"os"`
	Fingerprint string     `json:"-"`
	IsTrusted   bool       `json:"is_trusted"`
	TrustedAt   *time.Time `json:"trusted_at,omitempty"`
	PushToken   *string    `json:"-"`
	LastIP      string     `json:"last_ip"`
	FirstSeenAt time.Time  `json:"first_seen_at"`
	LastSeenAt  time.Time  `json:"last_seen_at"`

	// FingerprintChanged is set by [Registry.Recognize] when a known device id
	// arrived with headers that no longer match the stored fingerprint.
	FingerprintChanged bool `json:"-"`
}

// Metadata is what a login request tells us about the client.
type Metadata struct {
	// DeviceID is the client-provided stable identifier (X-Device-ID). Optional.
	DeviceID       string
	Name           string
	UserAgent      string
	AcceptLanguage string
	IP             string
	PushToken      string
}

// Repository persists devices.
type Repository interface {
	/*
		Upsert inserts device or refreshes the volatile fields of the existing
		(user, device id) row. Trust columns are never touched.

		Returns:
		  - *Device: the stored row
		  - bool: true when the row was created by this call
	*/
	Upsert(ctx context.Context, device *Device) (*Device, bool, error)

	// Find returns apperr.NotFound when the device is unknown.
	Find(ctx context.Context, userID, deviceID string) (*Device, error)

	// ListByUser returns devices ordered by last use, newest first.
	ListByUser(ctx context.Context, userID string) ([]Device, error)

	// SetTrusted grants (at != nil) or revokes (at == nil) trust.
	SetTrusted(ctx context.Context, userID, deviceID string, at *time.Time) error

	// Delete forgets a device.
	Delete(ctx context.Context, userID, deviceID string) error
}
