// Package server exposes the simulation to the dashboard over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/musthaq16/vehicle-road-simulator/internal/feed"
	"github.com/musthaq16/vehicle-road-simulator/internal/geo"
	"github.com/musthaq16/vehicle-road-simulator/internal/simulator"
	"github.com/musthaq16/vehicle-road-simulator/internal/zone"
	"github.com/musthaq16/vehicle-road-simulator/types"
)

// Simulation is the engine surface the API needs. *simulator.Engine satisfies it.
type Simulation interface {
	ID() string
	Snapshot() simulator.Snapshot
	Subscribe() (<-chan simulator.Snapshot, func())
	SetStatus(id string, status types.Status) error
	SetSpeed(id string, kmh int) error
	AssignRoutes(ctx context.Context, ids ...string) int
	Routes() []simulator.RouteSummary
}

type Server struct {
	ctx      context.Context
	sim      Simulation
	zones    *zone.Registry
	validate *validator.Validate
	logger   *slog.Logger

	wg sync.WaitGroup // background route assignments
}

// New builds a server whose background work stops with ctx.
func New(ctx context.Context, sim Simulation, zones *zone.Registry) *Server {
	return &Server{
		ctx:      ctx,
		sim:      sim,
		zones:    zones,
		validate: validator.New(),
		logger:   slog.Default().With("component", "server"),
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Get("/entities", s.listEntities)
		r.Get("/entities/{id}", s.getEntity)
		r.Patch("/entities/{id}", s.patchEntity)
		r.Post("/routes/assign", s.assignRoutes)
		r.Get("/routes", s.listRoutes)
		r.Get("/zones", s.listZones)
		r.Get("/zones/resolve", s.resolveZone)
		r.Get("/feed/vehicle-positions", s.vehiclePositions)
		r.Get("/stream", s.stream)
	})
	return r
}

// ListenAndServe serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.wg.Wait()
	return err
}

type healthResponse struct {
	Status       string    `json:"status"`
	SimulationID string    `json:"simulation_id"`
	RoutesLoaded bool      `json:"routes_loaded"`
	Vehicles     int       `json:"vehicles"`
	Routes       int       `json:"routes"`
	Sequence     uint64    `json:"sequence"`
	LastUpdate   time.Time `json:"last_update"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	snap := s.sim.Snapshot()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "ok",
		SimulationID: s.sim.ID(),
		RoutesLoaded: snap.RoutesLoaded,
		Vehicles:     len(snap.Entities),
		Routes:       len(s.sim.Routes()),
		Sequence:     snap.Sequence,
		LastUpdate:   snap.Time,
	})
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	snap := s.sim.Snapshot()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]types.Entity, 0, len(snap.Entities))
		for _, e := range snap.Entities {
			if string(e.Status) == status {
				filtered = append(filtered, e)
			}
		}
		snap.Entities = filtered
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	e, ok := s.sim.Snapshot().Find(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown vehicle")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type patchRequest struct {
	Status *string `json:"status" validate:"omitempty,oneof=active idle offline"`
	Speed  *int    `json:"speed" validate:"omitempty,gte=0,lte=120"`
}

func (s *Server) patchEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Status == nil && req.Speed == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	if req.Status != nil {
		if err := s.sim.SetStatus(id, types.Status(*req.Status)); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	if req.Speed != nil {
		if err := s.sim.SetSpeed(id, *req.Speed); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	s.logger.Info("vehicle updated", "vehicle_id", id, "request_id", middleware.GetReqID(r.Context()))

	e, _ := s.sim.Snapshot().Find(id)
	writeJSON(w, http.StatusOK, e)
}

// assignRoutes starts assignment in the background; it can take a while
// because requests to the provider are staggered.
func (s *Server) assignRoutes(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["id"]
	snap := s.sim.Snapshot()
	for _, id := range ids {
		if _, ok := snap.Find(id); !ok {
			writeError(w, http.StatusNotFound, "unknown vehicle "+id)
			return
		}
	}

	requested := len(ids)
	if requested == 0 {
		requested = len(snap.Entities)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sim.AssignRoutes(s.ctx, ids...)
	}()
	writeJSON(w, http.StatusAccepted, map[string]int{"requested": requested})
}

func (s *Server) listRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.Routes())
}

func (s *Server) listZones(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.zones.Zones())
}

func (s *Server) resolveZone(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	c := types.Coordinate{Lat: lat, Lng: lng}
	if errLat != nil || errLng != nil || !geo.Valid(c) {
		writeError(w, http.StatusBadRequest, "lat and lng must be numbers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"position": c, "zone": s.zones.Resolve(c)})
}

func (s *Server) vehiclePositions(w http.ResponseWriter, r *http.Request) {
	snap := s.sim.Snapshot()
	if r.URL.Query().Get("format") == "json" {
		data, err := feed.MarshalJSON(snap)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to encode")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
		return
	}

	data, err := feed.Marshal(snap)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode")
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.Write(data)
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, simulator.ErrUnknownEntity):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, simulator.ErrInvalidStatus), errors.Is(err, simulator.ErrInvalidSpeed):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS, POST, PATCH")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
