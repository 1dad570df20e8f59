// Package zone maps coordinates to the human-readable area names shown next to
// each vehicle on the dashboard.
package zone

import (
	"math"

	"github.com/musthaq16/vehicle-road-simulator/types"
)

// DefaultLabel is returned only when the registry holds no zones at all.
const DefaultLabel = "Unregistered area"

// Zone is a named circle. Radius is in degrees and compared against a planar
// lat/lng distance, which is close enough at city scale.
type Zone struct {
	Name   string           `json:"name"`
	Center types.Coordinate `json:"center"`
	Radius float64          `json:"radius"`
}

// Registry is a fixed set of zones. It is never modified after construction
// and is safe for concurrent use.
type Registry struct {
	zones []Zone
}

func NewRegistry(zones []Zone) *Registry {
	return &Registry{zones: append([]Zone(nil), zones...)}
}

// Zones returns a copy of the registered zones.
func (r *Registry) Zones() []Zone {
	if r == nil {
		return nil
	}
	return append([]Zone(nil), r.zones...)
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.zones)
}

// Resolve returns the closest zone whose radius contains c. When no radius
// contains c the globally nearest zone is used instead.
func (r *Registry) Resolve(c types.Coordinate) string {
	if r == nil || len(r.zones) == 0 {
		return DefaultLabel
	}

	inside, nearest := -1, 0
	bestInside, bestAny := math.Inf(1), math.Inf(1)
	for i, z := range r.zones {
		dLat := c.Lat - z.Center.Lat
		dLng := c.Lng - z.Center.Lng
		d2 := dLat*dLat + dLng*dLng

		if d2 <= z.Radius*z.Radius && d2 < bestInside {
			inside, bestInside = i, d2
		}
		if d2 < bestAny {
			nearest, bestAny = i, d2
		}
	}
	if inside >= 0 {
		return r.zones[inside].Name
	}
	return r.zones[nearest].Name
}
