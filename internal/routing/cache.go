package routing

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/musthaq16/vehicle-road-simulator/types"
)

// Cache memoises successful paths by origin/destination. Concurrent requests
// for the same pair share one upstream call. Failures are not cached.
type Cache struct {
	provider Provider

	mu    sync.RWMutex
	paths map[string][]types.Coordinate
	group singleflight.Group
}

func NewCache(p Provider) *Cache {
	return &Cache{provider: p, paths: make(map[string][]types.Coordinate)}
}

func cacheKey(origin, destination types.Coordinate) string {
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", origin.Lat, origin.Lng, destination.Lat, destination.Lng)
}

func (c *Cache) Route(ctx context.Context, origin, destination types.Coordinate) ([]types.Coordinate, error) {
	key := cacheKey(origin, destination)

	c.mu.RLock()
	cached, ok := c.paths[key]
	c.mu.RUnlock()
	if ok {
		return clonePath(cached), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		path, err := c.provider.Route(ctx, origin, destination)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.paths[key] = path
		c.mu.Unlock()
		return path, nil
	})
	if err != nil {
		return nil, err
	}
	return clonePath(v.([]types.Coordinate)), nil
}

// Len returns the number of cached paths.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.paths)
}

func clonePath(p []types.Coordinate) []types.Coordinate {
	return append([]types.Coordinate(nil), p...)
}
