package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/musthaq16/vehicle-road-simulator/types"
)

// DefaultRoadsURL is the Google Roads snapToRoads endpoint.
const DefaultRoadsURL = "https://roads.googleapis.com/v1/snapToRoads"

const (
	roadsBatchSize  = 100
	roadsBatchPause = 100 * time.Millisecond
)

// RoadsSnapper snaps a path onto the road network with the Google Roads API,
// asking the service to interpolate extra points along the road.
type RoadsSnapper struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	pause      time.Duration
}

func NewRoadsSnapper(endpoint, apiKey string, timeout time.Duration) *RoadsSnapper {
	if endpoint == "" {
		endpoint = DefaultRoadsURL
	}
	return &RoadsSnapper{endpoint: endpoint, apiKey: apiKey, httpClient: newHTTPClient(timeout), pause: roadsBatchPause}
}

type snapResponse struct {
	SnappedPoints []struct {
		Location struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"location"`
		OriginalIndex *int   `json:"originalIndex"`
		PlaceID       string `json:"placeId"`
	} `json:"snappedPoints"`
}

// Snap sends path in batches of 100 points. Any failed batch fails the whole
// call; callers decide whether to fall back to the unsnapped path.
func (s *RoadsSnapper) Snap(ctx context.Context, path []types.Coordinate) ([]types.Coordinate, error) {
	if len(path) < 2 {
		return path, nil
	}

	var snapped []types.Coordinate
	for i := 0; i < len(path); i += roadsBatchSize {
		end := min(i+roadsBatchSize, len(path))
		batch, err := s.snapBatch(ctx, path[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i/roadsBatchSize, err)
		}
		snapped = append(snapped, batch...)

		if end < len(path) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.pause):
			}
		}
	}
	if len(snapped) == 0 {
		return nil, ErrNoRoute
	}
	return snapped, nil
}

func (s *RoadsSnapper) snapBatch(ctx context.Context, batch []types.Coordinate) ([]types.Coordinate, error) {
	parts := make([]string, len(batch))
	for i, p := range batch {
		parts[i] = fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
	}
	q := url.Values{}
	q.Set("path", strings.Join(parts, "|"))
	q.Set("interpolate", "true")
	q.Set("key", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building roads request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roads request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("roads returned %d", resp.StatusCode)
	}

	var parsed snapResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding roads response: %w", err)
	}
	out := make([]types.Coordinate, 0, len(parsed.SnappedPoints))
	for _, p := range parsed.SnappedPoints {
		out = append(out, types.Coordinate{Lat: p.Location.Latitude, Lng: p.Location.Longitude})
	}
	return out, nil
}

// Snapped wraps a Provider so every path it returns is snapped to roads.
// If snapping fails the inner provider's path is returned as is.
type Snapped struct {
	Provider Provider
	Snapper  *RoadsSnapper
}

func (s Snapped) Route(ctx context.Context, origin, destination types.Coordinate) ([]types.Coordinate, error) {
	path, err := s.Provider.Route(ctx, origin, destination)
	if err != nil {
		return nil, err
	}
	snapped, err := s.Snapper.Snap(ctx, path)
	if err != nil {
		slog.Warn("snap to roads failed, using unsnapped path", "points", len(path), "err", err)
		return path, nil
	}
	return snapped, nil
}
