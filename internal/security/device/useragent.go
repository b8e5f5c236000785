// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package device

import (
	"strings"

	"github.com/taibuivan/agora/internal/platform/sec"
)

// Client is the coarse classification of a user agent string.
type Client struct {
	Browser string
	OS      string
	Type    string
}

// Label renders the client the way it is shown in session lists, e.g. "Chrome on Windows".
func (client Client) Label() string {
	if client.Browser == "Unknown" && client.OS == "Unknown" {
		return "Unknown device"
	}
	return client.Browser + " on " + client.OS
}

type rule struct {
	token string
	name  string
}

// Order matters: Edge and Opera embed "Chrome", Chrome embeds "Safari".
var browserRules = []rule{
	{"edg/", "Edge"},
	{"opr/", "Opera"},
	{"firefox/", "Firefox"},
	{"chrome/", "Chrome"},
	{"crios/", "Chrome"},
	{"safari/", "Safari"},
	{"okhttp", "Android App"},
	{"cfnetwork", "iOS App"},
}

var osRules = []rule{
	{"windows", "Windows"},
	{"android", "Android"},
	{"iphone", "iOS"},
	{"ipad", "iPadOS"},
	{"mac os x", "macOS"},
	{"cros", "ChromeOS"},
	{"linux", "Linux"},
}

// ParseUserAgent classifies a user agent by well-known tokens.
func ParseUserAgent(userAgent string) Client {
	ua := strings.ToLower(userAgent)

	client := Client{Browser: "Unknown", OS: "Unknown", Type: "unknown"}
	for _, r := range browserRules {
		if strings.Contains(ua, r.token) {
			client.Browser = r.name
			break
		}
	}
	for _, r := range osRules {
		if strings.Contains(ua, r.token) {
			client.OS = r.name
			break
		}
	}

	switch {
	case ua == "":
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		client.Type = "tablet"
	case strings.Contains(ua, "mobi") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		client.Type = "mobile"
	default:
		client.Type = "desktop"
	}
	return client
}

// Fingerprint hashes the request headers that stay stable across sessions of one browser.
func Fingerprint(meta Metadata) string {
	return sec.HashToken(strings.TrimSpace(meta.UserAgent) + "\x00" + strings.TrimSpace(meta.AcceptLanguage))
}

// Identify returns the device id for meta: the client-provided one when present,
// otherwise one derived from the fingerprint.
func Identify(meta Metadata) string {
	if id := strings.TrimSpace(meta.DeviceID); id != "" {
		if len(id) > 128 {
			id = id[:128]
		}
		return id
	}
	return "fp-" + Fingerprint(meta)[:32]
}
