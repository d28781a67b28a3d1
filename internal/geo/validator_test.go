package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// testLake is a roughly 2.2km x 2.2km square boundary near Bengaluru.
var testLake = []Point{
	{Lat: 12.90, Lon: 77.58},
	{Lat: 12.90, Lon: 77.60},
	{Lat: 12.92, Lon: 77.60},
	{Lat: 12.92, Lon: 77.58},
}

// At latitude 12.91 one degree of longitude is ~108384m, so 200m east of the
// eastern edge is lon 77.60 + 0.0018453.
const (
	lon200mEast  = 77.6018453
	lon400mEast  = 77.6036906
	lon600mEast  = 77.6055358
	lon5kmEast   = 77.6461322
)

func TestContains(t *testing.T) {
	tests := []struct {
		name  string
		point Point
		want  bool
	}{
		{"center", Point{Lat: 12.91, Lon: 77.59}, true},
		{"near east edge inside", Point{Lat: 12.91, Lon: 77.5999}, true},
		{"west of boundary", Point{Lat: 12.91, Lon: 77.57}, false},
		{"north of boundary", Point{Lat: 12.93, Lon: 77.59}, false},
		{"far away", Point{Lat: 13.50, Lon: 78.10}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Contains(tt.point, testLake))
		})
	}
}

func TestDistanceMeters(t *testing.T) {
	t.Run("one degree of latitude", func(t *testing.T) {
		d := DistanceMeters(Point{Lat: 0, Lon: 0}, Point{Lat: 1, Lon: 0})
		assert.InDelta(t, 111194.9, d, 1.0)
	})

	t.Run("one degree of longitude at the equator", func(t *testing.T) {
		d := DistanceMeters(Point{Lat: 0, Lon: 0}, Point{Lat: 0, Lon: 1})
		assert.InDelta(t, 111194.9, d, 1.0)
	})

	t.Run("zero distance", func(t *testing.T) {
		p := Point{Lat: 12.91, Lon: 77.59}
		assert.Equal(t, 0.0, DistanceMeters(p, p))
	})

	t.Run("symmetry", func(t *testing.T) {
		a := Point{Lat: 12.90, Lon: 77.58}
		b := Point{Lat: 12.97, Lon: 77.63}
		assert.InDelta(t, DistanceMeters(a, b), DistanceMeters(b, a), 0.001)
	})
}

func TestDistanceToRingMeters(t *testing.T) {
	t.Run("200m east of the eastern edge", func(t *testing.T) {
		d := DistanceToRingMeters(Point{Lat: 12.91, Lon: lon200mEast}, testLake)
		assert.InDelta(t, 200, d, 5)
	})

	t.Run("clamps to the nearest corner", func(t *testing.T) {
		// Northeast of the northeast corner; nearest boundary point is the
		// corner itself, ~1553m away.
		d := DistanceToRingMeters(Point{Lat: 12.93, Lon: 77.61}, testLake)
		assert.InDelta(t, 1553, d, 10)
	})

	t.Run("on a vertex", func(t *testing.T) {
		d := DistanceToRingMeters(Point{Lat: 12.90, Lon: 77.58}, testLake)
		assert.InDelta(t, 0, d, 0.01)
	})
}

func TestValidator_Validate(t *testing.T) {
	v := NewValidator(500)

	tests := []struct {
		name  string
		point Point
		want  Result
	}{
		{"strictly inside", Point{Lat: 12.91, Lon: 77.59}, ResultAccepted},
		{"200m outside", Point{Lat: 12.91, Lon: lon200mEast}, ResultAcceptedNear},
		{"400m outside", Point{Lat: 12.91, Lon: lon400mEast}, ResultAcceptedNear},
		{"600m outside", Point{Lat: 12.91, Lon: lon600mEast}, ResultRejected},
		{"5km outside", Point{Lat: 12.91, Lon: lon5kmEast}, ResultRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Validate(tt.point, testLake))
		})
	}

	t.Run("degenerate boundary is rejected", func(t *testing.T) {
		short := []Point{{Lat: 12.90, Lon: 77.58}, {Lat: 12.92, Lon: 77.60}}
		assert.Equal(t, ResultRejected, v.Validate(Point{Lat: 12.91, Lon: 77.59}, short))
	})
}
