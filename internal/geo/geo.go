// Package geo contains the pure geographic computations used for matching
// and route proximity checks.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by every distance function.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether both coordinates are inside their legal ranges.
func (p Point) Valid() bool {
	return ValidLatitude(p.Lat) && ValidLongitude(p.Lng)
}

// ValidLatitude reports whether lat is within [-90, 90].
func ValidLatitude(lat float64) bool {
	return lat >= -90 && lat <= 90
}

// ValidLongitude reports whether lng is within [-180, 180].
func ValidLongitude(lng float64) bool {
	return lng >= -180 && lng <= 180
}

// Distance returns the great-circle distance between p1 and p2 in meters.
func Distance(p1, p2 Point) float64 {
	dLat := toRadians(p2.Lat - p1.Lat)
	dLng := toRadians(p2.Lng - p1.Lng)

	lat1 := toRadians(p1.Lat)
	lat2 := toRadians(p2.Lat)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// DistanceKm is Distance expressed in kilometers.
func DistanceKm(p1, p2 Point) float64 {
	return Distance(p1, p2) / 1000
}

// DistanceToSegment returns the distance in meters from p to the closest
// point of the segment a-b.
//
// The projection is computed on a local equirectangular plane centred on p,
// which is accurate for the short segments of a driving route. The result is
// the great-circle distance from p to the projected point.
func DistanceToSegment(p, a, b Point) float64 {
	cosLat := math.Cos(toRadians(p.Lat))

	ax, ay := (a.Lng-p.Lng)*cosLat, a.Lat-p.Lat
	bx, by := (b.Lng-p.Lng)*cosLat, b.Lat-p.Lat

	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return Distance(p, a)
	}

	// p sits at the origin of the local plane.
	t := -(ax*dx + ay*dy) / lenSq
	t = math.Max(0, math.Min(1, t))

	closest := Point{
		Lat: a.Lat + t*(b.Lat-a.Lat),
		Lng: a.Lng + t*(b.Lng-a.Lng),
	}
	return Distance(p, closest)
}

// Sample keeps every stride-th point of route and always its last point.
// A stride below 2 returns a copy of route.
func Sample(route []Point, stride int) []Point {
	if len(route) == 0 {
		return nil
	}
	if stride < 2 {
		out := make([]Point, len(route))
		copy(out, route)
		return out
	}

	out := make([]Point, 0, len(route)/stride+2)
	for i := 0; i < len(route); i += stride {
		out = append(out, route[i])
	}
	if (len(route)-1)%stride != 0 {
		out = append(out, route[len(route)-1])
	}
	return out
}

// MinDistanceToPath returns the smallest distance in meters between p and the
// polyline formed by path. A single-point path falls back to point distance.
// The second result is false when path is empty.
func MinDistanceToPath(p Point, path []Point) (float64, bool) {
	switch len(path) {
	case 0:
		return 0, false
	case 1:
		return Distance(p, path[0]), true
	}

	best := math.Inf(1)
	for i := 1; i < len(path); i++ {
		if d := DistanceToSegment(p, path[i-1], path[i]); d < best {
			best = d
		}
	}
	return best, true
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
