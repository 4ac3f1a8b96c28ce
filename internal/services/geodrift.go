package services

import (
	"errors"
	"log"

	"github.com/sentinelpay/backend/internal/geo"
)

// GeoDriftDetector flags implausible jumps between consecutive transaction
// locations.
type GeoDriftDetector struct {
	geocoder geo.Geocoder
	maxKm    float64
}

// NewGeoDriftDetector creates a detector that flags moves over maxKm.
func NewGeoDriftDetector(geocoder geo.Geocoder, maxKm float64) *GeoDriftDetector {
	if maxKm <= 0 {
		maxKm = 500
	}
	return &GeoDriftDetector{
		geocoder: geocoder,
		maxKm:    maxKm,
	}
}

// Check reports whether current is implausibly far from last, and the
// great-circle distance. No last known location (first transaction) is never
// drift. Unresolvable locations fail open: a geocoder outage must never
// silently block all transactions, so the miss is logged and the check
// passes.
func (d *GeoDriftDetector) Check(current, last string) (bool, float64) {
	if last == "" {
		return false, 0
	}

	currentPt, err := d.geocoder.Resolve(current)
	if err != nil {
		d.logMiss(current, err)
		return false, 0
	}

	lastPt, err := d.geocoder.Resolve(last)
	if err != nil {
		d.logMiss(last, err)
		return false, 0
	}

	km := geo.DistanceKm(lastPt, currentPt)
	return km > d.maxKm, km
}

func (d *GeoDriftDetector) logMiss(location string, err error) {
	if errors.Is(err, geo.ErrUnresolvable) {
		log.Printf("[GEO] Location %q unresolvable, failing open: %v", location, err)
		return
	}
	log.Printf("[GEO] Geocoder error for %q, failing open: %v", location, err)
}
