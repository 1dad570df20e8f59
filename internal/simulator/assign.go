package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/musthaq16/vehicle-road-simulator/internal/geo"
	"github.com/musthaq16/vehicle-road-simulator/internal/routing"
	"github.com/musthaq16/vehicle-road-simulator/types"
)

var (
	// ErrRouteTooShort is returned when the provider geometry has too few
	// waypoints to be trusted as a road path.
	ErrRouteTooShort = errors.New("route too short")
	errNoLandmarks   = errors.New("at least two landmarks are required")
)

// Landmark is a named place that routes are built between.
type Landmark struct {
	Name     string           `json:"name"`
	Location types.Coordinate `json:"location"`
}

// Request asks for a route for one vehicle. Hint selects the landmark pair.
type Request struct {
	ID       string
	Position types.Coordinate
	Hint     int
}

// Assigner builds closed-loop routes between landmark pairs.
// It is not safe for concurrent use.
type Assigner struct {
	Provider     routing.Provider
	Landmarks    []Landmark
	Rand         RandSource
	MinWaypoints int
	MinSpeedKmh  float64
	MaxSpeedKmh  float64
	Stagger      time.Duration // delay per request index in AssignAll
	Now          func() time.Time
	Logger       *slog.Logger
}

// NewAssigner returns an Assigner with the default initial speed range of 30-40 km/h.
func NewAssigner(p routing.Provider, landmarks []Landmark, rnd RandSource) *Assigner {
	return &Assigner{
		Provider:     p,
		Landmarks:    landmarks,
		Rand:         rnd,
		MinWaypoints: DefaultMinWaypoints,
		MinSpeedKmh:  30,
		MaxSpeedKmh:  40,
		Stagger:      150 * time.Millisecond,
	}
}

// Assign requests origin->destination and destination->origin legs for the
// landmark pair picked by hint and joins them into a ring. The vehicle starts
// at the waypoint nearest to position.
func (a *Assigner) Assign(ctx context.Context, position types.Coordinate, hint int) (*Route, error) {
	n := len(a.Landmarks)
	if n < 2 {
		return nil, errNoLandmarks
	}
	origin := a.Landmarks[((hint%n)+n)%n]
	destination := a.Landmarks[(((hint+1)%n)+n)%n]

	var waypoints []types.Coordinate
	var errs []error
	for _, leg := range [2][2]Landmark{{origin, destination}, {destination, origin}} {
		path, err := a.Provider.Route(ctx, leg[0].Location, leg[1].Location)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			a.logger().Warn("leg unavailable", "from", leg[0].Name, "to", leg[1].Name, "err", err)
			errs = append(errs, err)
			continue
		}
		if len(path) >= 2 {
			waypoints = append(waypoints, path...)
		}
	}
	if len(errs) == 2 {
		return nil, fmt.Errorf("%s <-> %s: %w", origin.Name, destination.Name, errors.Join(errs...))
	}

	minWaypoints := a.MinWaypoints
	if minWaypoints <= 0 {
		minWaypoints = DefaultMinWaypoints
	}
	if len(waypoints) < minWaypoints {
		return nil, fmt.Errorf("%s -> %s: %d waypoints: %w", origin.Name, destination.Name, len(waypoints), ErrRouteTooShort)
	}

	speed := a.MinSpeedKmh
	if a.Rand != nil {
		speed += a.Rand.Float64() * (a.MaxSpeedKmh - a.MinSpeedKmh)
	}

	return &Route{
		Waypoints:    waypoints,
		CurrentIndex: nearestWaypoint(waypoints, position),
		Speed:        speed,
		TargetSpeed:  speed,
		LastUpdate:   a.now(),
	}, nil
}

// AssignAll assigns routes one request at a time, waiting i*Stagger before
// request i so a rate-limited provider is not hit in a burst. A failure is
// logged and skipped. It returns the number of routes installed.
func (a *Assigner) AssignAll(ctx context.Context, reqs []Request, install func(id string, r *Route)) int {
	installed := 0
	for i, req := range reqs {
		if delay := time.Duration(i) * a.Stagger; delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return installed
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return installed
		}

		r, err := a.Assign(ctx, req.Position, req.Hint)
		if err != nil {
			a.logger().Warn("route assignment failed", "vehicle_id", req.ID, "err", err)
			continue
		}
		install(req.ID, r)
		installed++
		a.logger().Info("route assigned", "vehicle_id", req.ID,
			"waypoints", len(r.Waypoints), "start_index", r.CurrentIndex, "speed_kmh", r.TargetSpeed)
	}
	return installed
}

func (a *Assigner) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *Assigner) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func nearestWaypoint(waypoints []types.Coordinate, c types.Coordinate) int {
	best, bestDist := 0, -1.0
	for i, wp := range waypoints {
		d := geo.DistanceMeters(c, wp)
		if bestDist < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
