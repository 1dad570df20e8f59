package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/twpayne/go-polyline"

	"github.com/musthaq16/vehicle-road-simulator/types"
)

// DefaultDirectionsURL is the Google Directions JSON endpoint.
const DefaultDirectionsURL = "https://maps.googleapis.com/maps/api/directions/json"

// GoogleDirections fetches driving routes from the Google Directions API and
// expands every step polyline, so the path follows the road closely.
type GoogleDirections struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func NewGoogleDirections(endpoint, apiKey string, timeout time.Duration) *GoogleDirections {
	if endpoint == "" {
		endpoint = DefaultDirectionsURL
	}
	return &GoogleDirections{endpoint: endpoint, apiKey: apiKey, httpClient: newHTTPClient(timeout)}
}

type directionsResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Routes       []struct {
		Legs []struct {
			Steps []struct {
				Polyline struct {
					Points string `json:"points"`
				} `json:"polyline"`
			} `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

func (g *GoogleDirections) Route(ctx context.Context, origin, destination types.Coordinate) ([]types.Coordinate, error) {
	q := url.Values{}
	q.Set("origin", fmt.Sprintf("%.6f,%.6f", origin.Lat, origin.Lng))
	q.Set("destination", fmt.Sprintf("%.6f,%.6f", destination.Lat, destination.Lng))
	q.Set("mode", "driving")
	q.Set("key", g.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building directions request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directions request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directions returned %d", resp.StatusCode)
	}

	var parsed directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding directions response: %w", err)
	}
	if parsed.Status != "OK" || len(parsed.Routes) == 0 {
		return nil, fmt.Errorf("directions status %q %s: %w", parsed.Status, parsed.ErrorMessage, ErrNoRoute)
	}

	var points []types.Coordinate
	for _, leg := range parsed.Routes[0].Legs {
		for _, step := range leg.Steps {
			decoded, err := decodePolyline(step.Polyline.Points)
			if err != nil {
				return nil, fmt.Errorf("decoding step polyline: %w", err)
			}
			points = append(points, decoded...)
		}
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("directions route has no steps: %w", ErrNoRoute)
	}
	return points, nil
}

// decodePolyline decodes a Google encoded polyline (precision 1e5).
func decodePolyline(encoded string) ([]types.Coordinate, error) {
	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, err
	}
	out := make([]types.Coordinate, 0, len(coords))
	for _, c := range coords {
		out = append(out, types.Coordinate{Lat: c[0], Lng: c[1]})
	}
	return out, nil
}
