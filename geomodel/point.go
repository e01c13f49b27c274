package geomodel

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// EarthRadius is the mean Earth radius in meters used for angular to metric conversion.
const EarthRadius float64 = 6_371_000

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// GeoPoint is a latitude/longitude pair in decimal degrees.
type GeoPoint struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

func NewGeoPoint(lat, lon float64) (GeoPoint, error) {
	p := GeoPoint{Lat: lat, Lon: lon}
	if err := p.Validate(); err != nil {
		return GeoPoint{}, err
	}
	return p, nil
}

// Validate reports ErrInvalidCoordinate for non-finite values or values
// outside [-90,90] x [-180,180]. Coordinates are never clamped.
func (p GeoPoint) Validate() error {
	if !ValidLatitude(p.Lat) || !ValidLongitude(p.Lon) {
		return fmt.Errorf("%w: lat %v, lon %v", ErrInvalidCoordinate, p.Lat, p.Lon)
	}
	return nil
}

func ValidLatitude(lat float64) bool {
	return !math.IsNaN(lat) && lat >= -90 && lat <= 90
}

func ValidLongitude(lon float64) bool {
	return !math.IsNaN(lon) && lon >= -180 && lon <= 180
}

func (p GeoPoint) Orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

func FromOrb(p orb.Point) GeoPoint {
	return GeoPoint{Lat: p.Lat(), Lon: p.Lon()}
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lat, p.Lon)
}

// Bound returns the lat/lon bounding box of the given points.
func Bound(points []GeoPoint) orb.Bound {
	if len(points) == 0 {
		return orb.Bound{}
	}
	mp := make(orb.MultiPoint, len(points))
	for i, p := range points {
		mp[i] = p.Orb()
	}
	return mp.Bound()
}
