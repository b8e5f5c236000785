// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"time"

	"github.com/oschwald/geoip2-golang"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Location is a coarse geographic origin.
type Location struct {
	Country   string
	City      string
	Latitude  float64
	Longitude float64
}

// ErrUnknownLocation is returned by a [Resolver] that has no data for an address.
var ErrUnknownLocation = errors.New("risk: location unknown")

// Resolver performs the raw lookup of an address.
type Resolver interface {
	Resolve(ip net.IP) (Location, error)
}

// # MaxMind

// MaxMindResolver reads a GeoIP2/GeoLite2 City database.
type MaxMindResolver struct {
	reader *geoip2.Reader
}

// OpenMaxMind opens the database at path.
func OpenMaxMind(path string) (*MaxMindResolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("risk: failed to open geoip database: %w", err)
	}
	return &MaxMindResolver{reader: reader}, nil
}

// Resolve looks up ip in the city database.
func (resolver *MaxMindResolver) Resolve(ip net.IP) (Location, error) {
	record, err := resolver.reader.City(ip)
	if err != nil {
		return Location{}, fmt.Errorf("risk: geoip lookup failed: %w", err)
	}
	if record.Country.IsoCode == "" && record.Location.Latitude == 0 && record.Location.Longitude == 0 {
		return Location{}, ErrUnknownLocation
	}

	return Location{
		Country:   record.Country.IsoCode,
		City:      record.City.Names["en"],
		Latitude:  record.Location.Latitude,
		Longitude: record.Location.Longitude,
	}, nil
}

// Close releases the database.
func (resolver *MaxMindResolver) Close() error {
	return resolver.reader.Close()
}

// # Cached Locator

type geoEntry struct {
	location Location
	ok       bool
}

// CachedLocator puts a cache, request collapsing and a deadline in front of a [Resolver].
type CachedLocator struct {
	resolver Resolver
	cache    *gocache.Cache
	group    singleflight.Group
	timeout  time.Duration
	logger   *slog.Logger
}

// NewCachedLocator wraps resolver. Entries live for ttl; lookups give up after timeout.
func NewCachedLocator(resolver Resolver, ttl, timeout time.Duration, logger *slog.Logger) *CachedLocator {
	return &CachedLocator{
		resolver: resolver,
		cache:    gocache.New(ttl, 2*ttl),
		timeout:  timeout,
		logger:   logger,
	}
}

/*
Locate resolves ip, answering "unknown" for private addresses, resolver errors
and lookups that outlive the timeout.

Description: A lookup abandoned on timeout keeps running in the background and
fills the cache for the next attempt from the same address.
*/
func (locator *CachedLocator) Locate(ctx context.Context, ip string) (Location, bool) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() {
		return Location{}, false
	}

	if cached, found := locator.cache.Get(ip); found {
		entry := cached.(geoEntry)
		return entry.location, entry.ok
	}

	result := locator.group.DoChan(ip, func() (any, error) {
		location, err := locator.resolver.Resolve(parsed)
		if err != nil && !errors.Is(err, ErrUnknownLocation) {
			return geoEntry{}, err
		}
		entry := geoEntry{location: location, ok: err == nil}
		locator.cache.SetDefault(ip, entry)
		return entry, nil
	})

	ctx, cancel := context.WithTimeout(ctx, locator.timeout)
	defer cancel()

	select {
	case outcome := <-result:
		if outcome.Err != nil {
			locator.logger.Warn("geo_lookup_failed", slog.String("ip", ip), slog.Any("error", outcome.Err))
			return Location{}, false
		}
		entry := outcome.Val.(geoEntry)
		return entry.location, entry.ok
	case <-ctx.Done():
		locator.logger.Warn("geo_lookup_timeout", slog.String("ip", ip), slog.Duration("timeout", locator.timeout))
		return Location{}, false
	}
}

// # Distance

const earthRadiusKM = 6371.0

// DistanceKM is the great-circle distance between two locations.
func DistanceKM(from, to Location) float64 {
	lat1 := from.Latitude * math.Pi / 180
	lat2 := to.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (to.Longitude - from.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
