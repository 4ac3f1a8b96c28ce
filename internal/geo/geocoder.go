package geo

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// ErrUnresolvable is returned when a location cannot be mapped to
// coordinates. Callers fail open on it: an unresolvable location must never
// block a transaction on its own.
var ErrUnresolvable = errors.New("location unresolvable")

// Point is a geographic coordinate pair.
type Point struct {
	Lat float64
	Lon float64
}

// Geocoder resolves a location string to a geographic point.
type Geocoder interface {
	Resolve(location string) (Point, error)
}

// StaticGeocoder resolves city names from a fixed lookup table.
type StaticGeocoder struct {
	table map[string]Point
}

// DefaultCityTable seeds the static geocoder with the cities the scoring
// pipeline most commonly sees.
func DefaultCityTable() map[string]Point {
	return map[string]Point{
		"chennai":   {Lat: 13.0827, Lon: 80.2707},
		"mumbai":    {Lat: 19.0760, Lon: 72.8777},
		"delhi":     {Lat: 28.6139, Lon: 77.2090},
		"bangalore": {Lat: 12.9716, Lon: 77.5946},
		"kolkata":   {Lat: 22.5726, Lon: 88.3639},
		"hyderabad": {Lat: 17.3850, Lon: 78.4867},
		"pune":      {Lat: 18.5204, Lon: 73.8567},
	}
}

// NewStaticGeocoder builds a geocoder over the given city table. A nil table
// uses DefaultCityTable.
func NewStaticGeocoder(table map[string]Point) *StaticGeocoder {
	if table == nil {
		table = DefaultCityTable()
	}
	normalized := make(map[string]Point, len(table))
	for city, pt := range table {
		normalized[strings.ToLower(strings.TrimSpace(city))] = pt
	}
	return &StaticGeocoder{table: normalized}
}

// Resolve looks the city up case-insensitively.
func (g *StaticGeocoder) Resolve(location string) (Point, error) {
	pt, ok := g.table[strings.ToLower(strings.TrimSpace(location))]
	if !ok {
		return Point{}, fmt.Errorf("%w: %q", ErrUnresolvable, location)
	}
	return pt, nil
}

// GeoIPGeocoder resolves IP-shaped location strings through a MaxMind City
// database and delegates everything else to a fallback geocoder.
type GeoIPGeocoder struct {
	reader   *geoip2.Reader
	fallback Geocoder
}

// NewGeoIPGeocoder opens the MaxMind City database at dbPath.
func NewGeoIPGeocoder(dbPath string, fallback Geocoder) (*GeoIPGeocoder, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &GeoIPGeocoder{reader: reader, fallback: fallback}, nil
}

// Resolve maps an IP to city coordinates, or falls back for non-IP strings.
func (g *GeoIPGeocoder) Resolve(location string) (Point, error) {
	ip := net.ParseIP(strings.TrimSpace(location))
	if ip == nil {
		if g.fallback != nil {
			return g.fallback.Resolve(location)
		}
		return Point{}, fmt.Errorf("%w: %q", ErrUnresolvable, location)
	}

	city, err := g.reader.City(ip)
	if err != nil {
		return Point{}, fmt.Errorf("%w: %q: %v", ErrUnresolvable, location, err)
	}
	if city.Location.Latitude == 0 && city.Location.Longitude == 0 {
		return Point{}, fmt.Errorf("%w: %q: no coordinates for IP", ErrUnresolvable, location)
	}
	return Point{Lat: city.Location.Latitude, Lon: city.Location.Longitude}, nil
}

// Close releases the MaxMind reader.
func (g *GeoIPGeocoder) Close() error {
	return g.reader.Close()
}
