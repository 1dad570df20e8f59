package types

// Coordinate holds lat/lng in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Status is the operational state of a tracked vehicle.
type Status string

const (
	StatusActive  Status = "active"
	StatusIdle    Status = "idle"
	StatusOffline Status = "offline"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusIdle, StatusOffline:
		return true
	}
	return false
}

// Entity is one tracked motorbike as seen by the dashboard.
//
// Entities are values: the engine never edits an Entity that has already been
// handed out in a snapshot, it builds a new slice instead.
type Entity struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Status   Status     `json:"status"`
	Position Coordinate `json:"position"`
	Speed    int        `json:"speed"`   // km/h
	Heading  float64    `json:"heading"` // degrees from north
	Zone     string     `json:"zone"`
	LastSeen string     `json:"last_seen,omitempty"`
	IMEI     string     `json:"imei,omitempty"`
}
