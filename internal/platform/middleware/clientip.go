// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/taibuivan/agora/internal/platform/constants"
	"github.com/taibuivan/agora/internal/platform/ctxutil"
)

// maxDeviceIDLength bounds the client supplied device identifier.
const maxDeviceIDLength = 128

// # Caller Identification

// Client resolves the caller fingerprint once and stores it on the context.
// Everything downstream (throttling, risk scoring, audit) reads the same value.
func Client() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			ctx := ctxutil.WithClient(request.Context(), resolveClient(request))
			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// ClientFrom returns the stored fingerprint, resolving it from the request
// when [Client] did not run (handler tests, for instance).
func ClientFrom(request *http.Request) ctxutil.Client {
	if client, ok := ctxutil.GetClient(request.Context()); ok {
		return client
	}
	return resolveClient(request)
}

// RealIP is the caller address as seen by [ClientFrom].
func RealIP(request *http.Request) string {
	return ClientFrom(request).IP
}

func resolveClient(request *http.Request) ctxutil.Client {
	deviceID := strings.TrimSpace(request.Header.Get(constants.HeaderDeviceID))
	if len(deviceID) > maxDeviceIDLength {
		deviceID = ""
	}

	return ctxutil.Client{
		IP:             resolveIP(request),
		DeviceID:       deviceID,
		UserAgent:      request.UserAgent(),
		AcceptLanguage: request.Header.Get(constants.HeaderAcceptLanguage),
	}
}

/*
resolveIP extracts the client address, respecting common proxy headers.

Description: Header values are only trusted when they parse as an address;
garbage falls through to the next source so a forged header cannot smuggle
arbitrary strings into reputation keys. The result is canonical (IPv6 in its
compressed form, IPv4-mapped addresses unmapped).
*/
func resolveIP(request *http.Request) string {
	if ip := canonicalIP(request.Header.Get(constants.HeaderXRealIP)); ip != "" {
		return ip
	}

	if forwarded := request.Header.Get(constants.HeaderXForwardedFor); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := canonicalIP(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(request.RemoteAddr)
	if err != nil {
		host = request.RemoteAddr
	}
	if ip := canonicalIP(host); ip != "" {
		return ip
	}
	return host
}

func canonicalIP(raw string) string {
	parsed := net.ParseIP(strings.TrimSpace(raw))
	if parsed == nil {
		return ""
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.String()
	}
	return parsed.String()
}
