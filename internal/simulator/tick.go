package simulator

import (
	"log/slog"
	"math"
	"time"

	"github.com/musthaq16/vehicle-road-simulator/internal/geo"
	"github.com/musthaq16/vehicle-road-simulator/internal/zone"
	"github.com/musthaq16/vehicle-road-simulator/types"
)

// RandSource supplies uniform numbers in [0,1). *rand.Rand satisfies it.
type RandSource interface {
	Float64() float64
}

// Options tune how a tick moves vehicles.
type Options struct {
	MinWaypoints   int
	MinSpeedKmh    float64
	MaxSpeedKmh    float64
	SpeedJitterKmh float64       // max +/- variation around the target speed per tick
	MaxElapsed     time.Duration // caps catch-up after a stall; 0 disables the cap
	Bounds         geo.Bounds
}

// DefaultOptions returns the motorbike defaults for the Johannesburg area.
func DefaultOptions() Options {
	return Options{
		MinWaypoints:   DefaultMinWaypoints,
		MinSpeedKmh:    25,
		MaxSpeedKmh:    45,
		SpeedJitterKmh: 2,
		MaxElapsed:     10 * time.Second,
		Bounds:         geo.Bounds{MinLat: -26.5, MaxLat: -25.5, MinLng: 27.5, MaxLng: 28.5},
	}
}

// Mover applies one tick of road-constrained motion to a fleet.
type Mover struct {
	Zones   *zone.Registry
	Rand    RandSource
	Options Options
	Logger  *slog.Logger
}

// Tick returns the fleet as of now. The input slice is never modified; route
// cursors in routes are advanced in place.
func (m *Mover) Tick(entities []types.Entity, routes Table, now time.Time) []types.Entity {
	out := make([]types.Entity, len(entities))
	for i, e := range entities {
		out[i] = m.advance(e, routes[e.ID], now)
	}
	return out
}

func (m *Mover) advance(e types.Entity, route *Route, now time.Time) types.Entity {
	if e.Status == types.StatusOffline {
		e.Zone = m.Zones.Resolve(e.Position)
		if route != nil {
			route.LastUpdate = now
		}
		return e
	}

	if !route.Usable(m.Options.MinWaypoints) {
		e.Zone = m.Zones.Resolve(e.Position)
		return e
	}

	if e.Status == types.StatusIdle {
		if wp, ok := waypointAt(route); ok {
			e.Position = wp
		}
		e.Speed = 0
		e.Zone = m.Zones.Resolve(e.Position)
		route.Speed = 0
		route.LastUpdate = now
		return e
	}

	elapsed := now.Sub(route.LastUpdate)
	if elapsed < 0 {
		elapsed = 0
	}
	if m.Options.MaxElapsed > 0 && elapsed > m.Options.MaxElapsed {
		elapsed = m.Options.MaxElapsed
	}
	seconds := elapsed.Seconds()

	target := m.jitter(route.TargetSpeed)
	step := Walk(route.Waypoints, route.CurrentIndex, route.Progress, target/3.6*seconds)

	if !geo.Valid(step.Position) || !m.Options.Bounds.Contains(step.Position) {
		m.logger().Debug("rejected position", "vehicle_id", e.ID,
			"lat", step.Position.Lat, "lng", step.Position.Lng)
		e.Zone = m.Zones.Resolve(e.Position)
		return e
	}

	actual := 0.0
	if seconds > 0 {
		actual = step.Walked / seconds * 3.6
	}

	route.CurrentIndex = step.Index
	route.Progress = step.Progress
	route.Speed = actual
	route.LastUpdate = now

	e.Position = step.Position
	e.Speed = int(math.Round(actual))
	e.Heading = step.Heading
	e.Zone = m.Zones.Resolve(step.Position)
	return e
}

func (m *Mover) jitter(speed float64) float64 {
	if m.Rand != nil && m.Options.SpeedJitterKmh > 0 {
		speed += (m.Rand.Float64() - 0.5) * 2 * m.Options.SpeedJitterKmh
	}
	return math.Max(m.Options.MinSpeedKmh, math.Min(m.Options.MaxSpeedKmh, speed))
}

func (m *Mover) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func waypointAt(r *Route) (types.Coordinate, bool) {
	if r.CurrentIndex < 0 || r.CurrentIndex >= len(r.Waypoints) {
		return types.Coordinate{}, false
	}
	wp := r.Waypoints[r.CurrentIndex]
	return wp, geo.Valid(wp)
}
