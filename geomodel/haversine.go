package geomodel

import "math"

func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// HaversineRad returns the central angle in radians between two points given
// in radians. cosLat1 and cosLat2 are the cosines of the latitudes, passed in
// so callers holding precomputed values avoid recomputing them.
func HaversineRad(lat1, lon1, cosLat1, lat2, lon2, cosLat2 float64) float64 {
	sinDLat := math.Sin((lat2 - lat1) / 2)
	sinDLon := math.Sin((lon2 - lon1) / 2)
	h := sinDLat*sinDLat + cosLat1*cosLat2*sinDLon*sinDLon
	if h > 1 {
		h = 1
	}
	return 2 * math.Asin(math.Sqrt(h))
}

// HaversineAngle returns the central angle in radians between a and b.
func HaversineAngle(a, b GeoPoint) float64 {
	lat1, lat2 := Radians(a.Lat), Radians(b.Lat)
	return HaversineRad(lat1, Radians(a.Lon), math.Cos(lat1), lat2, Radians(b.Lon), math.Cos(lat2))
}

// Haversine returns the great-circle distance between a and b in meters on a
// sphere of the given radius.
func Haversine(a, b GeoPoint, earthRadius float64) float64 {
	return earthRadius * HaversineAngle(a, b)
}

// Destination returns the point reached by travelling meters from p along the
// initial bearing (degrees clockwise from north).
func Destination(p GeoPoint, bearing, meters, earthRadius float64) GeoPoint {
	delta := meters / earthRadius
	theta := Radians(bearing)
	lat1 := Radians(p.Lat)
	lon1 := Radians(p.Lon)

	sinLat2 := math.Sin(lat1)*math.Cos(delta) + math.Cos(lat1)*math.Sin(delta)*math.Cos(theta)
	lat2 := math.Asin(math.Max(-1, math.Min(1, sinLat2)))
	lon2 := lon1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(lat1),
		math.Cos(delta)-math.Sin(lat1)*sinLat2,
	)

	return GeoPoint{Lat: Degrees(lat2), Lon: normalizeLon(Degrees(lon2))}
}

func normalizeLon(lon float64) float64 {
	lon = math.Mod(lon+540, 360) - 180
	if lon == -180 {
		return 180
	}
	return lon
}
