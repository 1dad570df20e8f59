package simulator

import (
	"math"

	"github.com/musthaq16/vehicle-road-simulator/internal/geo"
	"github.com/musthaq16/vehicle-road-simulator/types"
)

// minSegmentMeters is both the shortest segment worth walking and the smallest
// leftover distance worth carrying into another segment.
const minSegmentMeters = 0.1

// Step is the result of walking along a waypoint ring.
type Step struct {
	Index    int
	Progress float64
	Walked   float64 // meters actually covered
	Position types.Coordinate
	Heading  float64 // bearing of the segment the walk stopped on
}

// Walk advances a cursor (index, progress) by distance meters along the ring
// of waypoints. Leftover distance is carried from one segment into the next
// and duplicate waypoints are skipped without consuming distance.
//
// The walk never covers more than twice the requested distance and gives up
// after a full lap of zero-length segments, so corrupt data cannot spin it.
// An empty ring or a non-finite waypoint yields a NaN position for the caller
// to reject.
func Walk(waypoints []types.Coordinate, index int, progress, distance float64) Step {
	n := len(waypoints)
	if n == 0 {
		return Step{Index: index, Progress: progress, Position: nowhere()}
	}

	idx := ((index % n) + n) % n
	prog := progress
	if math.IsNaN(prog) {
		prog = 0
	}
	prog = math.Max(0, math.Min(1, prog))
	if n == 1 {
		return Step{Index: 0, Progress: 0, Position: waypoints[0]}
	}

	remaining := distance
	if math.IsNaN(remaining) || remaining < 0 {
		remaining = 0
	}
	limit := 2 * remaining
	walked := 0.0
	skipped := 0

	for remaining > minSegmentMeters && walked < limit {
		a, b := waypoints[idx], waypoints[(idx+1)%n]
		segment := geo.DistanceMeters(a, b)
		if math.IsNaN(segment) {
			return Step{Index: idx, Progress: prog, Walked: walked, Position: nowhere()}
		}
		if segment < minSegmentMeters {
			idx = (idx + 1) % n
			prog = 0
			if skipped++; skipped >= n {
				break
			}
			continue
		}
		skipped = 0

		left := segment * (1 - prog)
		if remaining < left {
			prog = math.Min(1, prog+remaining/segment)
			walked += remaining
			remaining = 0
			break
		}

		remaining -= left
		walked += left
		idx = (idx + 1) % n
		prog = 0
	}

	a, b := waypoints[idx], waypoints[(idx+1)%n]
	return Step{
		Index:    idx,
		Progress: prog,
		Walked:   walked,
		Position: geo.Interpolate(a, b, prog),
		Heading:  geo.Bearing(a, b),
	}
}

func nowhere() types.Coordinate {
	return types.Coordinate{Lat: math.NaN(), Lng: math.NaN()}
}
