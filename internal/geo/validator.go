// Package geo implements geo-fence validation of reported coordinates
// against water body boundaries. All functions are pure; inputs are WGS84
// lat/lon degrees and distances are great-circle meters.
package geo

import "math"

const earthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// Result is the outcome of validating a point against a boundary.
type Result string

const (
	// ResultAccepted means the point lies strictly inside the boundary.
	ResultAccepted Result = "accepted"
	// ResultAcceptedNear means the point lies outside but within the near
	// radius of the boundary; the report is valid, flagged near-boundary.
	ResultAcceptedNear Result = "accepted_near"
	// ResultRejected means the point fails both tests.
	ResultRejected Result = "rejected"
	// ResultUnclassified means no registered boundary was close enough to
	// test against. The validator never returns it; the registry does.
	ResultUnclassified Result = "unclassified"
)

// Validator validates points against boundary rings.
type Validator struct {
	nearRadiusMeters float64
}

// NewValidator returns a validator that accepts points within
// nearRadiusMeters of a boundary they do not strictly contain.
func NewValidator(nearRadiusMeters float64) *Validator {
	return &Validator{nearRadiusMeters: nearRadiusMeters}
}

// NearRadiusMeters returns the configured near-boundary acceptance radius.
func (v *Validator) NearRadiusMeters() float64 {
	return v.nearRadiusMeters
}

// Validate tests strict containment first, then the near-boundary distance.
// A ring with fewer than three vertices cannot contain or bound anything and
// is rejected outright.
func (v *Validator) Validate(p Point, boundary []Point) Result {
	if len(boundary) < 3 {
		return ResultRejected
	}
	if Contains(p, boundary) {
		return ResultAccepted
	}
	if DistanceToRingMeters(p, boundary) <= v.nearRadiusMeters {
		return ResultAcceptedNear
	}
	return ResultRejected
}

// Contains reports whether p lies inside the ring using the ray-casting
// (even-odd) rule. The ring is implicitly closed; winding order does not
// matter. Points exactly on an edge may land on either side.
func Contains(p Point, ring []Point) bool {
	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		vi, vj := ring[i], ring[j]
		if (vi.Lat > p.Lat) != (vj.Lat > p.Lat) &&
			p.Lon < (vj.Lon-vi.Lon)*(p.Lat-vi.Lat)/(vj.Lat-vi.Lat)+vi.Lon {
			inside = !inside
		}
		j = i
	}
	return inside
}

// DistanceMeters returns the haversine great-circle distance between two
// points.
func DistanceMeters(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// DistanceToRingMeters returns the minimum great-circle distance from p to
// any edge of the ring.
func DistanceToRingMeters(p Point, ring []Point) float64 {
	min := math.MaxFloat64
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		if d := distanceToSegment(p, ring[j], ring[i]); d < min {
			min = d
		}
		j = i
	}
	return min
}

// distanceToSegment returns the great-circle distance from p to the segment
// a-b using the cross-track formula, clamped to the nearer endpoint when the
// projection of p falls outside the segment.
func distanceToSegment(p, a, b Point) float64 {
	dAB := DistanceMeters(a, b)
	dAP := DistanceMeters(a, p)
	if dAB == 0 {
		return dAP
	}
	if dAP == 0 {
		return 0
	}

	bearingAP := bearing(a, p)
	bearingAB := bearing(a, b)

	// Projection falls behind a.
	if math.Cos(bearingAP-bearingAB) < 0 {
		return dAP
	}

	angAP := dAP / earthRadiusMeters
	crossTrack := math.Asin(clamp1(math.Sin(angAP) * math.Sin(bearingAP-bearingAB)))
	alongTrack := math.Acos(clamp1(math.Cos(angAP)/math.Cos(crossTrack))) * earthRadiusMeters

	// Projection falls past b.
	if alongTrack > dAB {
		return DistanceMeters(p, b)
	}
	return math.Abs(crossTrack) * earthRadiusMeters
}

// bearing returns the initial great-circle bearing from one point to another,
// in radians.
func bearing(from, to Point) float64 {
	lat1 := radians(from.Lat)
	lat2 := radians(to.Lat)
	dLon := radians(to.Lon - from.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return math.Atan2(y, x)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// clamp1 keeps trig arguments inside [-1, 1] against floating point drift.
func clamp1(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
