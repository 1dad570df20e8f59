// Package geo holds the coordinate math used by the simulator: great-circle
// distance, straight-line interpolation between waypoints, bearings and
// bounding boxes.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/musthaq16/vehicle-road-simulator/types"
)

// EarthRadiusMeters is the mean Earth radius used by DistanceMeters.
const EarthRadiusMeters = 6371000.0

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// DistanceMeters returns the haversine distance between a and b in meters.
func DistanceMeters(a, b types.Coordinate) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push h just outside [0,1] for identical or antipodal points
	h = math.Max(0, math.Min(1, h))
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Interpolate moves fraction of the way from a to b, treating latitude and
// longitude independently. fraction is clamped to [0,1].
func Interpolate(a, b types.Coordinate, fraction float64) types.Coordinate {
	f := math.Max(0, math.Min(1, fraction))
	if f == 0 {
		return a
	}
	if f == 1 {
		return b
	}
	return types.Coordinate{
		Lat: a.Lat + (b.Lat-a.Lat)*f,
		Lng: a.Lng + (b.Lng-a.Lng)*f,
	}
}

// Bearing returns the initial great-circle bearing from a to b in degrees [0,360).
func Bearing(a, b types.Coordinate) float64 {
	la1, la2 := radians(a.Lat), radians(b.Lat)
	dLng := radians(b.Lng - a.Lng)
	y := math.Sin(dLng) * math.Cos(la2)
	x := math.Cos(la1)*math.Sin(la2) - math.Sin(la1)*math.Cos(la2)*math.Cos(dLng)
	return math.Mod(degrees(math.Atan2(y, x))+360, 360)
}

// Valid reports whether both components of c are finite numbers.
func Valid(c types.Coordinate) bool {
	return !math.IsNaN(c.Lat) && !math.IsNaN(c.Lng) && !math.IsInf(c.Lat, 0) && !math.IsInf(c.Lng, 0)
}

// Bounds is an axis-aligned lat/lng box.
type Bounds struct {
	MinLat float64 `json:"min_lat" mapstructure:"min_lat"`
	MaxLat float64 `json:"max_lat" mapstructure:"max_lat"`
	MinLng float64 `json:"min_lng" mapstructure:"min_lng"`
	MaxLng float64 `json:"max_lng" mapstructure:"max_lng"`
}

// Contains reports whether c lies inside b, edges included.
func (b Bounds) Contains(c types.Coordinate) bool {
	return c.Lat >= b.MinLat && c.Lat <= b.MaxLat && c.Lng >= b.MinLng && c.Lng <= b.MaxLng
}

// ParseCoord parses a string like "-26.1074,28.0562" into a Coordinate.
func ParseCoord(input string) (types.Coordinate, error) {
	parts := strings.Split(input, ",")
	if len(parts) != 2 {
		return types.Coordinate{}, fmt.Errorf("invalid coordinate: %q", input)
	}

	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return types.Coordinate{}, fmt.Errorf("invalid lat/lng: %q", input)
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return types.Coordinate{}, fmt.Errorf("lat/lng out of range: %q", input)
	}

	return types.Coordinate{Lat: lat, Lng: lng}, nil
}
