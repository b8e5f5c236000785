// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package audit is the append-only record of authentication decisions.

It keeps four views: every login attempt (success or failure, with its risk
assessment), the post-authentication login history, user activity, and
security alerts for administrators. Writes are synchronous but a failing write
is logged and never changes the decision it describes.
*/
package audit

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// # Vocabulary

// Alert types raised by the identity core.
const (
	AlertSuspiciousLogin = "suspicious_login"
	AlertTokenReplay     = "token_replay"
	AlertAccountLocked   = "account_locked"
	AlertIPBlocked       = "ip_blocked"
	AlertPasswordChanged = "password_changed"
	AlertTwoFactorChange = "two_factor_changed"
	AlertFactorExhausted = "factor_exhausted"
)

// Severities of a [SecurityAlert].
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Login methods recorded in [LoginHistory].
const (
	MethodPassword  = "password"
	MethodTwoFactor = "two_factor"
	MethodExternal  = "external"
)

// # Models

// Metadata is a free-form JSON object column.
type Metadata map[string]any

// Value implements [driver.Valuer].
func (metadata Metadata) Value() (driver.Value, error) {
	if metadata == nil {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to encode metadata: %w", err)
	}
	return string(data), nil
}

// Scan implements [sql.Scanner].
func (metadata *Metadata) Scan(source any) error {
	var data []byte
	switch value := source.(type) {
	case nil:
		*metadata = Metadata{}
		return nil
	case []byte:
		data = value
	case string:
		data = []byte(value)
	default:
		return fmt.Errorf("audit: cannot scan %T into metadata", source)
	}
	return json.Unmarshal(data, metadata)
}

// LoginAttempt is one credential check, successful or not.
type LoginAttempt struct {
	ID            string    `gorm:"column:id;primaryKey"       json:"id"`
	UserID        *string   `gorm:"column:userid"              json:"user_id,omitempty"`
	Email         string    `gorm:"column:email"               json:"email"`
	Success       bool      `gorm:"column:success"             json:"success"`
	FailureReason string    `gorm:"column:failurereason"       json:"failure_reason,omitempty"`
	IPAddress     string    `gorm:"column:ipaddress"           json:"ip_address"`
	DeviceID      string    `gorm:"column:deviceid"            json:"device_id"`
	UserAgent     string    `gorm:"column:useragent"           json:"user_agent"`
	Country       string    `gorm:"column:country"             json:"country,omitempty"`
	City          string    `gorm:"column:city"                json:"city,omitempty"`
	RiskScore     int       `gorm:"column:riskscore"           json:"risk_score"`
	IsSuspicious  bool      `gorm:"column:issuspicious"        json:"is_suspicious"`
	RiskFactors   string    `gorm:"column:riskfactors"         json:"risk_factors,omitempty"`
	CreatedAt     time.Time `gorm:"column:createdat;autoCreateTime:false" json:"created_at"`
}

// LoginHistory is one completed sign-in.
type LoginHistory struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	UserID    string    `gorm:"column:userid"        json:"-"`
	SessionID string    `gorm:"column:sessionid"     json:"session_id"`
	IPAddress string    `gorm:"column:ipaddress"     json:"ip_address"`
	DeviceID  string    `gorm:"column:deviceid"      json:"device_id"`
	Country   string    `gorm:"column:country"       json:"country,omitempty"`
	City      string    `gorm:"column:city"          json:"city,omitempty"`
	Method    string    `gorm:"column:method"        json:"method"`
	CreatedAt time.Time `gorm:"column:createdat;autoCreateTime:false" json:"created_at"`
}

// SecurityAlert is a notice for administrators.
type SecurityAlert struct {
	ID         string     `gorm:"column:id;primaryKey" json:"id"`
	UserID     *string    `gorm:"column:userid"        json:"user_id,omitempty"`
	AlertType  string     `gorm:"column:alerttype"     json:"alert_type"`
	Severity   string     `gorm:"column:severity"      json:"severity"`
	Message    string     `gorm:"column:message"       json:"message"`
	Metadata   Metadata   `gorm:"column:metadata"      json:"metadata"`
	IsRead     bool       `gorm:"column:isread"        json:"is_read"`
	ReadAt     *time.Time `gorm:"column:readat"        json:"read_at,omitempty"`
	IsResolved bool       `gorm:"column:isresolved"    json:"is_resolved"`
	ResolvedAt *time.Time `gorm:"column:resolvedat"    json:"resolved_at,omitempty"`
	ResolvedBy *string    `gorm:"column:resolvedby"    json:"resolved_by,omitempty"`
	CreatedAt  time.Time  `gorm:"column:createdat;autoCreateTime:false" json:"created_at"`
}

// UserActivity is an account-level event such as a password change.
type UserActivity struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	UserID      string    `gorm:"column:userid"        json:"-"`
	Activity    string    `gorm:"column:activity"      json:"activity"`
	Description string    `gorm:"column:description"   json:"description,omitempty"`
	IPAddress   string    `gorm:"column:ipaddress"     json:"ip_address,omitempty"`
	Metadata    Metadata  `gorm:"column:metadata"      json:"metadata,omitempty"`
	CreatedAt   time.Time `gorm:"column:createdat;autoCreateTime:false" json:"created_at"`
}

// Table names inside the identity schema.
const (
	TableLoginAttempt  = "loginattempt"
	TableLoginHistory  = "loginhistory"
	TableSecurityAlert = "securityalert"
	TableUserActivity  = "useractivity"
)
