package services

import (
	"testing"

	"github.com/sentinelpay/backend/internal/geo"
	"github.com/stretchr/testify/assert"
)

func TestGeoDriftDetector_Check(t *testing.T) {
	d := NewGeoDriftDetector(geo.NewStaticGeocoder(nil), 500)

	t.Run("no last known location", func(t *testing.T) {
		drift, km := d.Check("Mumbai", "")
		assert.False(t, drift)
		assert.Zero(t, km)
	})

	t.Run("distant cities exceed max drift", func(t *testing.T) {
		// Chennai to Mumbai is roughly 1030 km
		drift, km := d.Check("Mumbai", "Chennai")
		assert.True(t, drift)
		assert.InDelta(t, 1030, km, 30)
	})

	t.Run("same city has zero drift", func(t *testing.T) {
		drift, km := d.Check("Chennai", "Chennai")
		assert.False(t, drift)
		assert.Zero(t, km)
	})

	t.Run("nearby cities stay under threshold", func(t *testing.T) {
		// Mumbai to Pune is roughly 120 km
		drift, km := d.Check("Pune", "Mumbai")
		assert.False(t, drift)
		assert.Less(t, km, 500.0)
		assert.Greater(t, km, 50.0)
	})

	t.Run("unresolvable current location fails open", func(t *testing.T) {
		drift, km := d.Check("Atlantis", "Chennai")
		assert.False(t, drift)
		assert.Zero(t, km)
	})

	t.Run("unresolvable last location fails open", func(t *testing.T) {
		drift, _ := d.Check("Chennai", "Atlantis")
		assert.False(t, drift)
	})

	t.Run("custom threshold", func(t *testing.T) {
		tight := NewGeoDriftDetector(geo.NewStaticGeocoder(nil), 50)

		drift, _ := tight.Check("Pune", "Mumbai")
		assert.True(t, drift)
	})
}
