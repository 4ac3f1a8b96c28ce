package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticGeocoder_Resolve(t *testing.T) {
	g := NewStaticGeocoder(nil)

	t.Run("known city", func(t *testing.T) {
		pt, err := g.Resolve("Mumbai")
		assert.NoError(t, err)
		assert.InDelta(t, 19.0760, pt.Lat, 0.001)
		assert.InDelta(t, 72.8777, pt.Lon, 0.001)
	})

	t.Run("case and whitespace insensitive", func(t *testing.T) {
		pt, err := g.Resolve("  cHeNnAi ")
		assert.NoError(t, err)
		assert.InDelta(t, 13.0827, pt.Lat, 0.001)
	})

	t.Run("unknown city", func(t *testing.T) {
		_, err := g.Resolve("Atlantis")
		assert.Error(t, err)
		assert.ErrorIs(t, err, ErrUnresolvable)
	})

	t.Run("custom table", func(t *testing.T) {
		g := NewStaticGeocoder(map[string]Point{"Lagos": {Lat: 6.5244, Lon: 3.3792}})
		pt, err := g.Resolve("lagos")
		assert.NoError(t, err)
		assert.InDelta(t, 6.5244, pt.Lat, 0.001)

		_, err = g.Resolve("Mumbai")
		assert.Error(t, err)
	})
}

func TestDistanceKm(t *testing.T) {
	chennai := Point{Lat: 13.0827, Lon: 80.2707}
	mumbai := Point{Lat: 19.0760, Lon: 72.8777}
	delhi := Point{Lat: 28.6139, Lon: 77.2090}

	t.Run("zero distance for identical points", func(t *testing.T) {
		assert.InDelta(t, 0, DistanceKm(mumbai, mumbai), 0.001)
	})

	t.Run("chennai to mumbai", func(t *testing.T) {
		// Roughly 1030 km along the great circle.
		d := DistanceKm(chennai, mumbai)
		assert.InDelta(t, 1030, d, 20)
	})

	t.Run("symmetric", func(t *testing.T) {
		assert.InDelta(t, DistanceKm(delhi, mumbai), DistanceKm(mumbai, delhi), 0.001)
	})
}
