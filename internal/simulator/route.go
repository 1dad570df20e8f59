package simulator

import (
	"sort"
	"time"

	"github.com/musthaq16/vehicle-road-simulator/types"
)

// DefaultMinWaypoints is the smallest path accepted as real road geometry.
// Anything shorter is most likely a straight-line fallback from the provider.
const DefaultMinWaypoints = 10

// Route is a vehicle's closed-loop path plus its cursor on that path.
// Waypoints is a ring: the segment after the last waypoint leads back to the first.
type Route struct {
	Waypoints    []types.Coordinate
	CurrentIndex int     // first waypoint of the occupied segment
	Progress     float64 // fraction of the occupied segment already covered, 0..1
	Speed        float64 // km/h actually achieved on the last tick
	TargetSpeed  float64 // km/h the vehicle steers toward
	LastUpdate   time.Time
}

// Usable reports whether r has enough waypoints to be driven.
func (r *Route) Usable(minWaypoints int) bool {
	return r != nil && len(r.Waypoints) >= minWaypoints
}

// Table holds the routes of one simulation keyed by vehicle id.
// It is owned by a single goroutine at a time; Engine guards it with its mutex.
type Table map[string]*Route

// RouteSummary is a read-only view of a route cursor.
type RouteSummary struct {
	VehicleID    string    `json:"vehicle_id"`
	Waypoints    int       `json:"waypoints"`
	CurrentIndex int       `json:"current_index"`
	Progress     float64   `json:"progress"`
	Speed        float64   `json:"speed"`
	TargetSpeed  float64   `json:"target_speed"`
	LastUpdate   time.Time `json:"last_update"`
}

// Summaries lists every route ordered by vehicle id.
func (t Table) Summaries() []RouteSummary {
	out := make([]RouteSummary, 0, len(t))
	for id, r := range t {
		out = append(out, RouteSummary{
			VehicleID:    id,
			Waypoints:    len(r.Waypoints),
			CurrentIndex: r.CurrentIndex,
			Progress:     r.Progress,
			Speed:        r.Speed,
			TargetSpeed:  r.TargetSpeed,
			LastUpdate:   r.LastUpdate,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out
}
