// Package registry matches complaint locations against the registered water
// bodies. Boundaries change rarely, so the full body list is cached in
// process and candidate bodies are prefiltered by bounding box before any
// geodesic math runs.
package registry

import (
	"context"
	"log/slog"
	"math"

	"github.com/patrickmn/go-cache"

	"github.com/aquasentinel/complaint-engine/internal/config"
	"github.com/aquasentinel/complaint-engine/internal/database"
	"github.com/aquasentinel/complaint-engine/internal/geo"
)

const cacheKey = "water_bodies"

// metersPerDegreeLat converts the search radius into box padding.
const metersPerDegreeLat = 111195.0

// Store is the slice of the water body repository the registry reads.
type Store interface {
	ListAll(ctx context.Context) ([]*database.WaterBody, error)
}

// Registry resolves complaint locations to water bodies.
type Registry struct {
	store              Store
	validator          *geo.Validator
	cache              *cache.Cache
	searchRadiusMeters float64
	logger             *slog.Logger
}

// New creates a water body registry backed by store, caching reads for the
// configured TTL.
func New(store Store, validator *geo.Validator, geoCfg config.GeoConfig, cacheCfg config.RegistryConfig, logger *slog.Logger) *Registry {
	return &Registry{
		store:              store,
		validator:          validator,
		cache:              cache.New(cacheCfg.CacheTTL, cacheCfg.CacheSweep),
		searchRadiusMeters: geoCfg.SearchRadiusMeters,
		logger:             logger,
	}
}

// All returns every registered water body, served from cache between
// reloads.
func (r *Registry) All(ctx context.Context) ([]*database.WaterBody, error) {
	if v, ok := r.cache.Get(cacheKey); ok {
		return v.([]*database.WaterBody), nil
	}

	bodies, err := r.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, wb := range bodies {
		if wb.MinLat == 0 && wb.MaxLat == 0 && wb.MinLon == 0 && wb.MaxLon == 0 {
			SetBounds(wb)
		}
	}

	r.cache.Set(cacheKey, bodies, cache.DefaultExpiration)
	r.logger.Debug("Water body registry reloaded", "count", len(bodies))
	return bodies, nil
}

// Invalidate drops the cached registry so the next read reloads it.
func (r *Registry) Invalidate() {
	r.cache.Delete(cacheKey)
}

// Match finds the water body for a complaint location. Containment wins over
// nearness; among near matches the closest boundary wins. When candidate
// bodies exist but all reject the point, Match fails with ErrOutOfBounds.
// When no registered body lies within the search radius at all, the location
// stays unclassified and geo validation is skipped.
func (r *Registry) Match(ctx context.Context, p geo.Point) (*database.WaterBody, geo.Result, error) {
	bodies, err := r.All(ctx)
	if err != nil {
		return nil, "", err
	}

	var (
		best       *database.WaterBody
		bestDist   = math.MaxFloat64
		candidates int
	)
	for _, wb := range bodies {
		if !r.withinSearchBox(p, wb) {
			continue
		}
		ring := boundaryRing(wb.Boundary)
		if len(ring) < 3 {
			continue
		}
		candidates++

		if geo.Contains(p, ring) {
			return wb, geo.ResultAccepted, nil
		}
		if d := geo.DistanceToRingMeters(p, ring); d <= r.validator.NearRadiusMeters() && d < bestDist {
			best, bestDist = wb, d
		}
	}

	if best != nil {
		return best, geo.ResultAcceptedNear, nil
	}
	if candidates > 0 {
		return nil, geo.ResultRejected, database.ErrOutOfBounds
	}
	return nil, geo.ResultUnclassified, nil
}

// SetBounds recomputes a water body's bounding box from its boundary ring.
// Imports call this before persisting; matching relies on the box to skip
// distant bodies without touching their rings.
func SetBounds(wb *database.WaterBody) {
	if len(wb.Boundary) == 0 {
		return
	}

	wb.MinLat, wb.MaxLat = wb.Boundary[0].Lat, wb.Boundary[0].Lat
	wb.MinLon, wb.MaxLon = wb.Boundary[0].Lon, wb.Boundary[0].Lon
	for _, c := range wb.Boundary[1:] {
		wb.MinLat = math.Min(wb.MinLat, c.Lat)
		wb.MaxLat = math.Max(wb.MaxLat, c.Lat)
		wb.MinLon = math.Min(wb.MinLon, c.Lon)
		wb.MaxLon = math.Max(wb.MaxLon, c.Lon)
	}
}

func (r *Registry) withinSearchBox(p geo.Point, wb *database.WaterBody) bool {
	latDelta := r.searchRadiusMeters / metersPerDegreeLat
	cosLat := math.Cos(p.Lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	lonDelta := r.searchRadiusMeters / (metersPerDegreeLat * cosLat)

	return p.Lat >= wb.MinLat-latDelta && p.Lat <= wb.MaxLat+latDelta &&
		p.Lon >= wb.MinLon-lonDelta && p.Lon <= wb.MaxLon+lonDelta
}

func boundaryRing(b database.Boundary) []geo.Point {
	ring := make([]geo.Point, len(b))
	for i, c := range b {
		ring[i] = geo.Point{Lat: c.Lat, Lon: c.Lon}
	}
	return ring
}
