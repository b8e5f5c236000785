// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/security/audit"
	"github.com/taibuivan/agora/internal/security/device"
	"github.com/taibuivan/agora/internal/security/twofactor"
)

// # Second Factor Management
//
// The routes sit behind the freshness middleware. On top of that, anything
// that replaces or removes an enrolled factor, or mints backup codes, takes a
// step_up answer from the factor currently enrolled.

// EnrollTOTP starts authenticator enrollment and returns the secret to scan.
func (service *Service) EnrollTOTP(ctx context.Context, userID string) (*twofactor.Enrollment, error) {
	identity, err := service.accounts.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return service.secondFactor.EnrollTOTP(ctx, identity)
}

// ConfirmTOTP finishes enrollment and returns the first set of backup codes.
// currentCode answers the factor being replaced and is ignored when none is enrolled.
func (service *Service) ConfirmTOTP(ctx context.Context, userID, code, currentCode, ip string) ([]string, error) {
	identity, err := service.accounts.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if identity.TwoFactorEnabled() {
		if err := service.proveFactor(ctx, identity, currentCode, ip); err != nil {
			return nil, err
		}
	}

	codes, err := service.secondFactor.ConfirmTOTP(ctx, identity, code)
	if err != nil {
		return nil, err
	}

	service.twoFactorChanged(ctx, userID, ActivityTwoFactorEnabled, ip, MethodTOTP)
	return codes, nil
}

// EnableOTP switches the identity to emailed or texted codes. currentCode
// answers the factor being replaced and is ignored when none is enrolled.
func (service *Service) EnableOTP(ctx context.Context, userID string, method twofactor.Method, currentCode, ip string) ([]string, error) {
	identity, err := service.accounts.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if identity.TwoFactorEnabled() {
		if err := service.proveFactor(ctx, identity, currentCode, ip); err != nil {
			return nil, err
		}
	}

	codes, err := service.secondFactor.EnableOTPMethod(ctx, identity, method)
	if err != nil {
		return nil, err
	}

	service.twoFactorChanged(ctx, userID, ActivityTwoFactorEnabled, ip, string(method))
	return codes, nil
}

// DisableTwoFactor turns the second factor off after one last proof of it.
func (service *Service) DisableTwoFactor(ctx context.Context, userID, code, ip string) error {
	identity, err := service.accounts.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !identity.TwoFactorEnabled() {
		return apperr.Conflict("Two-factor authentication is not enabled")
	}

	if err := service.proveFactor(ctx, identity, code, ip); err != nil {
		return err
	}
	if err := service.secondFactor.Disable(ctx, identity); err != nil {
		return err
	}

	service.twoFactorChanged(ctx, userID, ActivityTwoFactorOff, ip, "none")
	return nil
}

// RegenerateBackupCodes replaces every backup code after a step_up answer
// from the enrolled factor. A remaining backup code is a valid answer.
func (service *Service) RegenerateBackupCodes(ctx context.Context, userID, code, ip string) ([]string, error) {
	identity, err := service.accounts.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !identity.TwoFactorEnabled() {
		return nil, apperr.Conflict("Two-factor authentication is not enabled")
	}
	if err := service.proveFactor(ctx, identity, code, ip); err != nil {
		return nil, err
	}

	codes, err := service.secondFactor.GenerateBackupCodes(ctx, identity)
	if err != nil {
		return nil, err
	}

	service.activity(ctx, userID, ActivityBackupCodesReset, ip, nil)
	return codes, nil
}

// RemainingBackupCodes counts unused backup codes.
func (service *Service) RemainingBackupCodes(ctx context.Context, userID string) (int, error) {
	identity, err := service.accounts.FindByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return service.secondFactor.RemainingBackupCodes(ctx, identity)
}

// RequestPhoneVerification texts a verify_phone code to the number on file.
func (service *Service) RequestPhoneVerification(ctx context.Context, userID string) (*twofactor.Issued, error) {
	identity, err := service.accounts.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return service.secondFactor.IssueOTP(ctx, identity, twofactor.PurposeVerifyPhone, twofactor.MethodSMS)
}

// ConfirmPhone marks the phone number verified.
func (service *Service) ConfirmPhone(ctx context.Context, userID, code string) error {
	identity, err := service.accounts.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	return service.secondFactor.ConfirmPhone(ctx, identity, code)
}

func (service *Service) twoFactorChanged(ctx context.Context, userID, activity, ip, method string) {
	service.activity(ctx, userID, activity, ip, audit.Metadata{"method": method})
	service.alert(ctx, userID, audit.AlertTwoFactorChange, audit.SeverityLow,
		"Two-factor settings changed", audit.Metadata{"method": method, "ip": ip})
}

// # Devices

// ListDevices returns the devices userID has signed in from.
func (service *Service) ListDevices(ctx context.Context, userID string) ([]device.Device, error) {
	return service.devices.List(ctx, userID)
}

// RevokeDeviceTrust makes the next login from deviceID ask for the second factor again.
func (service *Service) RevokeDeviceTrust(ctx context.Context, userID, deviceID string) error {
	return service.devices.RevokeTrust(ctx, userID, deviceID)
}

// ForgetDevice deletes a device record.
func (service *Service) ForgetDevice(ctx context.Context, userID, deviceID, ip string) error {
	if err := service.devices.Forget(ctx, userID, deviceID); err != nil {
		return err
	}
	service.activity(ctx, userID, ActivityDeviceForgotten, ip, audit.Metadata{"device_id": deviceID})
	return nil
}
