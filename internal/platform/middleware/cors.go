// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/taibuivan/agora/internal/platform/constants"
)

// # Cross-Origin Resource Sharing

// AppConfig defines the behavior needed by the CORS middleware.
type AppConfig interface {
	IsDevelopment() bool
	OriginSuffix() string
}

var (
	corsAllowHeaders = strings.Join([]string{
		"Accept", "Content-Type", "Content-Length",
		constants.HeaderAuthorization, constants.HeaderXRequestID,
		constants.HeaderDeviceID, constants.HeaderAcceptLanguage,
	}, ", ")
	corsExposeHeaders = strings.Join([]string{
		"Content-Length", constants.HeaderXRequestID, constants.HeaderRetryAfter,
	}, ", ")
)

// CORS handles Cross-Origin Resource Sharing based on application environment.
//
// Outside development only HTTPS origins whose host is the configured suffix
// or one of its subdomains are reflected. Credentials are allowed because the
// refresh token travels in a cookie.
func CORS(cfg AppConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {

			// 1. Check the Origin header
			origin := request.Header.Get(constants.HeaderOrigin)
			if origin == "" {
				next.ServeHTTP(writer, request)
				return
			}

			// 2. Inject standard CORS headers if authorized
			header := writer.Header()
			header.Add("Vary", constants.HeaderOrigin)
			if cfg.IsDevelopment() || OriginAllowed(origin, cfg.OriginSuffix()) {
				header.Set("Access-Control-Allow-Origin", origin)
				header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				header.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				header.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				header.Set("Access-Control-Allow-Credentials", "true")
				header.Set("Access-Control-Max-Age", "300")
			}

			// 3. Handle pre-flight requests
			if request.Method == http.MethodOptions && request.Header.Get("Access-Control-Request-Method") != "" {
				writer.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}

// OriginAllowed reports whether origin is an HTTPS origin on suffix.
// "evilagora.social" does not match the suffix "agora.social".
func OriginAllowed(origin, suffix string) bool {
	suffix = strings.ToLower(strings.Trim(suffix, ". "))
	if suffix == "" {
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme != "https" {
		return false
	}

	host := strings.ToLower(parsed.Hostname())
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}
