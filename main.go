package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/musthaq16/vehicle-road-simulator/internal/config"
	"github.com/musthaq16/vehicle-road-simulator/internal/dataset"
	"github.com/musthaq16/vehicle-road-simulator/internal/logging"
	"github.com/musthaq16/vehicle-road-simulator/internal/routing"
	"github.com/musthaq16/vehicle-road-simulator/internal/server"
	"github.com/musthaq16/vehicle-road-simulator/internal/simulator"
	"github.com/musthaq16/vehicle-road-simulator/internal/telemetry"
)

// componentManager runs the long-lived parts of the process and stops all of
// them when one fails.
type componentManager struct {
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func (cm *componentManager) start(name string, run func() error) {
	cm.wg.Add(1)
	go func() {
		defer cm.wg.Done()
		err := run()
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
			slog.Info("component stopped", "component", name)
			return
		}
		slog.Error("component failed, shutting down", "component", name, "err", err)
		cm.cancel()
	}()
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file; empty runs on defaults and environment")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if _, err := logging.Init(os.Stdout, cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logging: %v", err)
	}

	ds, err := dataset.Load(cfg.Dataset.Path)
	if err != nil {
		slog.Error("failed to load dataset", "err", err)
		os.Exit(1)
	}

	seed := cfg.Simulator.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	assigner := simulator.NewAssigner(buildProvider(cfg.Routing), ds.Landmarks, rand.New(rand.NewSource(seed+1)))
	assigner.Stagger = cfg.Simulator.Stagger()
	assigner.MinWaypoints = cfg.Simulator.MinWaypoints
	assigner.MinSpeedKmh = cfg.Simulator.InitialMinSpeedKmh
	assigner.MaxSpeedKmh = cfg.Simulator.InitialMaxSpeedKmh

	zones := ds.Registry()
	engine := simulator.NewEngine(ds.Roster, simulator.Config{
		Interval: cfg.Simulator.Interval(),
		Options: simulator.Options{
			MinWaypoints:   cfg.Simulator.MinWaypoints,
			MinSpeedKmh:    cfg.Simulator.MinSpeedKmh,
			MaxSpeedKmh:    cfg.Simulator.MaxSpeedKmh,
			SpeedJitterKmh: cfg.Simulator.SpeedJitterKmh,
			MaxElapsed:     cfg.Simulator.MaxElapsed(),
			Bounds:         cfg.Simulator.Bounds,
		},
		Zones:    zones,
		Assigner: assigner,
		Rand:     rand.New(rand.NewSource(seed)),
	})
	slog.Info("simulation created", "simulation_id", engine.ID(), "vehicles", len(ds.Roster),
		"zones", zones.Len(), "landmarks", len(ds.Landmarks), "provider", cfg.Routing.Provider)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	cm := &componentManager{cancel: cancel}
	cm.start("engine", func() error { return engine.Run(ctx) })

	srv := server.New(ctx, engine, zones)
	cm.start("http", func() error { return srv.ListenAndServe(ctx, cfg.Server.Port) })

	var forwarder *telemetry.Forwarder
	if cfg.Telemetry.Enabled {
		forwarder = telemetry.NewForwarder(cfg.Telemetry.Address, engine, cfg.Telemetry.Frequency())
		cm.start("telemetry", func() error { return forwarder.Run(ctx) })
	}

	if *configPath != "" {
		err := config.Watch(func(c *config.AppConfig) {
			if err := logging.SetLevel(c.Log.Level); err != nil {
				slog.Warn("log level not applied", "err", err)
			}
			if forwarder != nil {
				forwarder.SetFrequency(c.Telemetry.Frequency())
			}
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		}
	}

	<-ctx.Done()
	slog.Info("shutting down")

	// Wait for components with timeout
	waitChan := make(chan struct{})
	go func() {
		cm.wg.Wait()
		close(waitChan)
	}()
	select {
	case <-waitChan:
		slog.Info("all components stopped")
	case <-time.After(5 * time.Second):
		slog.Warn("timeout waiting for components to stop, forcing exit")
	}
}

// buildProvider chains the configured geometry source with optional road
// snapping and caching.
func buildProvider(rc config.RoutingConfig) routing.Provider {
	var p routing.Provider
	switch rc.Provider {
	case "google":
		p = routing.NewGoogleDirections(rc.Google.DirectionsURL, rc.Google.APIKey, rc.Timeout())
	default:
		p = routing.NewOSRM(rc.OSRM.BaseUrl, rc.Timeout())
	}
	if rc.SnapToRoads {
		p = routing.Snapped{Provider: p, Snapper: routing.NewRoadsSnapper(rc.Google.RoadsURL, rc.Google.APIKey, rc.Timeout())}
	}
	if rc.Cache {
		p = routing.NewCache(p)
	}
	return p
}
