// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// GenerateSecureToken returns a URL-safe random token built from length bytes.
func GenerateSecureToken(length int) (string, error) {
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("sec: failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// HashToken returns the hex SHA-256 digest of an opaque token.
//
// Refresh tokens, session tokens, one-time codes and backup codes are only
// ever persisted in this form.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// EqualHash compares two digests in constant time.
func EqualHash(left, right string) bool {
	return subtle.ConstantTimeCompare([]byte(left), []byte(right)) == 1
}

// GenerateNumericCode returns a uniformly random decimal code of the given width.
func GenerateNumericCode(digits int) (string, error) {
	var builder strings.Builder
	builder.Grow(digits)
	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("sec: failed to generate code: %w", err)
		}
		builder.WriteByte(byte('0' + n.Int64()))
	}
	return builder.String(), nil
}

// backupAlphabet omits characters that are easy to confuse when read aloud.
const backupAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

// GenerateBackupCode returns a code formatted as "xxxxx-xxxxx".
func GenerateBackupCode() (string, error) {
	raw := make([]byte, 10)
	max := big.NewInt(int64(len(backupAlphabet)))
	for i := range raw {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("sec: failed to generate backup code: %w", err)
		}
		raw[i] = backupAlphabet[n.Int64()]
	}
	return string(raw[:5]) + "-" + string(raw[5:]), nil
}

// NormalizeBackupCode strips separators and case so users can type codes loosely.
func NormalizeBackupCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, " ", "")
	code = strings.ReplaceAll(code, "-", "")
	if len(code) == 10 {
		return code[:5] + "-" + code[5:]
	}
	return code
}
