// Package routing fetches road-following geometry between two points from
// external directions services. The simulator only depends on Provider; the
// concrete services, snapping and caching are layered behind it.
package routing

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/musthaq16/vehicle-road-simulator/types"
)

// ErrNoRoute is returned when a service answers but has no usable path.
var ErrNoRoute = errors.New("no route")

// Provider returns an ordered road path from origin to destination.
type Provider interface {
	Route(ctx context.Context, origin, destination types.Coordinate) ([]types.Coordinate, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, origin, destination types.Coordinate) ([]types.Coordinate, error)

func (f ProviderFunc) Route(ctx context.Context, origin, destination types.Coordinate) ([]types.Coordinate, error) {
	return f(ctx, origin, destination)
}

const defaultTimeout = 10 * time.Second

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
