package registry

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasentinel/complaint-engine/internal/config"
	"github.com/aquasentinel/complaint-engine/internal/database"
	"github.com/aquasentinel/complaint-engine/internal/geo"
)

type fakeStore struct {
	bodies []*database.WaterBody
	calls  int
}

func (f *fakeStore) ListAll(context.Context) ([]*database.WaterBody, error) {
	f.calls++
	return f.bodies, nil
}

// squareLake is roughly a 2km x 2km square centred on (17.42, 78.47).
func squareLake() *database.WaterBody {
	return &database.WaterBody{
		ID:   "wb-1",
		Name: "Test Lake",
		Boundary: database.Boundary{
			{Lat: 17.41, Lon: 78.46},
			{Lat: 17.43, Lon: 78.46},
			{Lat: 17.43, Lon: 78.48},
			{Lat: 17.41, Lon: 78.48},
		},
		SensitivityScore: 80,
	}
}

func newTestRegistry(store *fakeStore) *Registry {
	return New(
		store,
		geo.NewValidator(500),
		config.GeoConfig{NearRadiusMeters: 500, SearchRadiusMeters: 10000},
		config.RegistryConfig{CacheTTL: time.Minute, CacheSweep: time.Minute},
		slog.Default(),
	)
}

func TestRegistry_Match(t *testing.T) {
	t.Run("point inside the boundary is accepted", func(t *testing.T) {
		store := &fakeStore{bodies: []*database.WaterBody{squareLake()}}
		r := newTestRegistry(store)

		wb, result, err := r.Match(context.Background(), geo.Point{Lat: 17.42, Lon: 78.47})
		require.NoError(t, err)
		assert.Equal(t, geo.ResultAccepted, result)
		assert.Equal(t, "wb-1", wb.ID)
	})

	t.Run("point just outside the boundary is accepted as near", func(t *testing.T) {
		store := &fakeStore{bodies: []*database.WaterBody{squareLake()}}
		r := newTestRegistry(store)

		// Roughly 220m east of the boundary at this latitude.
		wb, result, err := r.Match(context.Background(), geo.Point{Lat: 17.42, Lon: 78.482})
		require.NoError(t, err)
		assert.Equal(t, geo.ResultAcceptedNear, result)
		assert.Equal(t, "wb-1", wb.ID)
	})

	t.Run("candidate bodies that all reject the point are out of bounds", func(t *testing.T) {
		store := &fakeStore{bodies: []*database.WaterBody{squareLake()}}
		r := newTestRegistry(store)

		// Inside the search box but roughly 3km from the boundary.
		wb, result, err := r.Match(context.Background(), geo.Point{Lat: 17.42, Lon: 78.51})
		assert.ErrorIs(t, err, database.ErrOutOfBounds)
		assert.Equal(t, geo.ResultRejected, result)
		assert.Nil(t, wb)
	})

	t.Run("no body within the search radius stays unclassified", func(t *testing.T) {
		store := &fakeStore{bodies: []*database.WaterBody{squareLake()}}
		r := newTestRegistry(store)

		wb, result, err := r.Match(context.Background(), geo.Point{Lat: 18.5, Lon: 79.5})
		require.NoError(t, err)
		assert.Equal(t, geo.ResultUnclassified, result)
		assert.Nil(t, wb)
	})

	t.Run("closest near body wins when several are near", func(t *testing.T) {
		far := squareLake()
		far.ID = "wb-far"
		// Shift the far body east so the test point is near both, but
		// nearer the original.
		for i := range far.Boundary {
			far.Boundary[i].Lon += 0.025
		}
		store := &fakeStore{bodies: []*database.WaterBody{far, squareLake()}}
		r := newTestRegistry(store)

		wb, result, err := r.Match(context.Background(), geo.Point{Lat: 17.42, Lon: 78.482})
		require.NoError(t, err)
		assert.Equal(t, geo.ResultAcceptedNear, result)
		assert.Equal(t, "wb-1", wb.ID)
	})

	t.Run("degenerate boundaries are skipped", func(t *testing.T) {
		broken := &database.WaterBody{
			ID:       "wb-broken",
			Boundary: database.Boundary{{Lat: 17.42, Lon: 78.47}, {Lat: 17.43, Lon: 78.47}},
		}
		store := &fakeStore{bodies: []*database.WaterBody{broken}}
		r := newTestRegistry(store)

		_, result, err := r.Match(context.Background(), geo.Point{Lat: 17.42, Lon: 78.47})
		require.NoError(t, err)
		assert.Equal(t, geo.ResultUnclassified, result)
	})
}

func TestRegistry_Cache(t *testing.T) {
	store := &fakeStore{bodies: []*database.WaterBody{squareLake()}}
	r := newTestRegistry(store)

	_, err := r.All(context.Background())
	require.NoError(t, err)
	_, err = r.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls)

	r.Invalidate()
	_, err = r.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)
}

func TestSetBounds(t *testing.T) {
	wb := squareLake()
	SetBounds(wb)

	assert.Equal(t, 17.41, wb.MinLat)
	assert.Equal(t, 17.43, wb.MaxLat)
	assert.Equal(t, 78.46, wb.MinLon)
	assert.Equal(t, 78.48, wb.MaxLon)

	empty := &database.WaterBody{}
	SetBounds(empty)
	assert.Zero(t, empty.MinLat)
	assert.Zero(t, empty.MaxLat)
}
