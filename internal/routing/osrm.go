package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/musthaq16/vehicle-road-simulator/types"
)

// OSRM fetches driving routes from an OSRM server.
type OSRM struct {
	baseURL    string
	httpClient *http.Client
}

func NewOSRM(baseURL string, timeout time.Duration) *OSRM {
	return &OSRM{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(timeout),
	}
}

// OSRM response format
type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

// Route returns the full-overview geometry of the first OSRM route.
func (o *OSRM) Route(ctx context.Context, origin, destination types.Coordinate) ([]types.Coordinate, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		o.baseURL, origin.Lng, origin.Lat, destination.Lng, destination.Lat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building osrm request: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("osrm request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("osrm returned %d", resp.StatusCode)
	}

	var parsed osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding osrm response: %w", err)
	}
	if len(parsed.Routes) == 0 {
		return nil, fmt.Errorf("osrm code %q: %w", parsed.Code, ErrNoRoute)
	}

	coords := make([]types.Coordinate, 0, len(parsed.Routes[0].Geometry.Coordinates))
	for _, pair := range parsed.Routes[0].Geometry.Coordinates {
		if len(pair) < 2 {
			continue
		}
		// GeoJSON order is lng,lat
		coords = append(coords, types.Coordinate{Lat: pair[1], Lng: pair[0]})
	}
	if len(coords) == 0 {
		return nil, fmt.Errorf("osrm geometry empty: %w", ErrNoRoute)
	}
	return coords, nil
}
