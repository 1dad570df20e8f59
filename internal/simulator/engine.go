package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/musthaq16/vehicle-road-simulator/internal/zone"
	"github.com/musthaq16/vehicle-road-simulator/types"
)

var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrInvalidStatus = errors.New("invalid status")
	ErrInvalidSpeed  = errors.New("invalid speed")
)

// Snapshot is an immutable view of the fleet after one tick.
// Entities must not be modified by readers.
type Snapshot struct {
	SimulationID string         `json:"simulation_id"`
	Sequence     uint64         `json:"sequence"`
	Time         time.Time      `json:"time"`
	RoutesLoaded bool           `json:"routes_loaded"`
	Entities     []types.Entity `json:"entities"`
}

// Find returns the entity with id.
func (s Snapshot) Find(id string) (types.Entity, bool) {
	for _, e := range s.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return types.Entity{}, false
}

// Config wires an Engine.
type Config struct {
	Interval  time.Duration
	Options   Options
	Zones     *zone.Registry
	Assigner  *Assigner // nil leaves every vehicle routeless
	Scheduler Scheduler // defaults to a TickerScheduler
	Rand      RandSource
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine owns one simulation: the fleet, its routes and the tick loop.
type Engine struct {
	id     string
	cfg    Config
	mover  Mover
	logger *slog.Logger

	mu       sync.Mutex
	entities []types.Entity
	routes   Table
	seq      uint64

	snapshot atomic.Pointer[Snapshot]

	loaded     chan struct{}
	loadedOnce sync.Once

	assignMu sync.Mutex

	subMu    sync.Mutex
	subs     map[int]chan Snapshot
	nextSub  int
	lastSent uint64
}

// NewEngine creates an engine for roster. Zones are resolved immediately.
func NewEngine(roster []types.Entity, cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewTickerScheduler()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Options.MinWaypoints <= 0 {
		cfg.Options.MinWaypoints = DefaultMinWaypoints
	}

	id := uuid.NewString()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("simulation_id", id)

	e := &Engine{
		id:     id,
		cfg:    cfg,
		logger: logger,
		mover: Mover{
			Zones:   cfg.Zones,
			Rand:    cfg.Rand,
			Options: cfg.Options,
			Logger:  logger,
		},
		entities: make([]types.Entity, len(roster)),
		routes:   make(Table),
		loaded:   make(chan struct{}),
		subs:     make(map[int]chan Snapshot),
	}
	for i, ent := range roster {
		ent.Zone = cfg.Zones.Resolve(ent.Position)
		e.entities[i] = ent
	}
	e.publishLocked(cfg.Now())
	return e
}

// ID identifies this simulation instance.
func (e *Engine) ID() string { return e.id }

// Run assigns routes to the whole fleet, then ticks until ctx is cancelled.
// Ticks do not start before assignment has finished.
func (e *Engine) Run(ctx context.Context) error {
	e.AssignRoutes(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	e.markLoaded()

	e.logger.Info("simulation started", "vehicles", len(e.Snapshot().Entities), "interval", e.cfg.Interval)
	e.cfg.Scheduler.Start(e.cfg.Interval, e.Step)
	<-ctx.Done()
	e.cfg.Scheduler.Stop()
	e.logger.Info("simulation stopped")
	return nil
}

// Step runs one tick as of now.
func (e *Engine) Step(now time.Time) {
	e.mu.Lock()
	e.entities = e.mover.Tick(e.entities, e.routes, now)
	snap := e.publishLocked(now)
	e.mu.Unlock()

	if snap.Sequence%30 == 0 {
		e.logger.Debug("tick", "sequence", snap.Sequence, "vehicles", len(snap.Entities))
	}
	e.broadcast(snap)
}

// AssignRoutes assigns routes to the given vehicles, or to every vehicle when
// ids is empty. Calls are serialized. A vehicle whose assignment fails keeps
// its previous route.
func (e *Engine) AssignRoutes(ctx context.Context, ids ...string) int {
	if e.cfg.Assigner == nil {
		return 0
	}
	e.assignMu.Lock()
	defer e.assignMu.Unlock()

	e.mu.Lock()
	reqs := make([]Request, 0, len(e.entities))
	for i, ent := range e.entities {
		if len(ids) == 0 || slices.Contains(ids, ent.ID) {
			reqs = append(reqs, Request{ID: ent.ID, Position: ent.Position, Hint: i})
		}
	}
	e.mu.Unlock()

	n := e.cfg.Assigner.AssignAll(ctx, reqs, e.install)
	e.logger.Info("routes assigned", "assigned", n, "requested", len(reqs))
	return n
}

// Reassign replaces the route of one vehicle.
func (e *Engine) Reassign(ctx context.Context, id string) error {
	if _, ok := e.Snapshot().Find(id); !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownEntity)
	}
	if e.AssignRoutes(ctx, id) == 0 {
		return fmt.Errorf("%s: no route assigned", id)
	}
	return nil
}

// install moves the vehicle onto its starting waypoint and records the route.
func (e *Engine) install(id string, r *Route) {
	e.mu.Lock()
	e.routes[id] = r
	e.entities = e.updated(id, func(ent *types.Entity) {
		if wp, ok := waypointAt(r); ok {
			ent.Position = wp
			ent.Zone = e.cfg.Zones.Resolve(wp)
		}
	})
	snap := e.publishLocked(e.cfg.Now())
	e.mu.Unlock()
	e.broadcast(snap)
}

// SetStatus changes a vehicle's status; it takes effect on the next tick.
func (e *Engine) SetStatus(id string, status types.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%q: %w", status, ErrInvalidStatus)
	}
	return e.modify(id, func(ent *types.Entity) {
		ent.Status = status
		if status != types.StatusActive {
			ent.Speed = 0
		}
	})
}

// SetSpeed sets the target speed in km/h of a routed vehicle, or the reported
// speed of a routeless one.
func (e *Engine) SetSpeed(id string, kmh int) error {
	if kmh < 0 {
		return fmt.Errorf("%d: %w", kmh, ErrInvalidSpeed)
	}
	return e.modify(id, func(ent *types.Entity) {
		if r, ok := e.routes[id]; ok {
			r.TargetSpeed = float64(kmh)
			return
		}
		ent.Speed = kmh
	})
}

func (e *Engine) modify(id string, fn func(*types.Entity)) error {
	e.mu.Lock()
	if !slices.ContainsFunc(e.entities, func(ent types.Entity) bool { return ent.ID == id }) {
		e.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrUnknownEntity)
	}
	e.entities = e.updated(id, fn)
	snap := e.publishLocked(e.cfg.Now())
	e.mu.Unlock()
	e.broadcast(snap)
	return nil
}

// updated returns a copy of the fleet with fn applied to vehicle id.
// The caller holds e.mu.
func (e *Engine) updated(id string, fn func(*types.Entity)) []types.Entity {
	next := slices.Clone(e.entities)
	for i := range next {
		if next[i].ID == id {
			fn(&next[i])
		}
	}
	return next
}

// Snapshot returns the latest published fleet state without blocking ticks.
func (e *Engine) Snapshot() Snapshot {
	return *e.snapshot.Load()
}

// Routes summarizes every assigned route.
func (e *Engine) Routes() []RouteSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.routes.Summaries()
}

// RoutesLoaded is closed once the initial assignment has finished.
func (e *Engine) RoutesLoaded() <-chan struct{} { return e.loaded }

func (e *Engine) markLoaded() {
	e.loadedOnce.Do(func() {
		close(e.loaded)
		e.mu.Lock()
		snap := e.publishLocked(e.cfg.Now())
		e.mu.Unlock()
		e.broadcast(snap)
	})
}

func (e *Engine) isLoaded() bool {
	select {
	case <-e.loaded:
		return true
	default:
		return false
	}
}

// publishLocked stores a new snapshot. The caller holds e.mu.
func (e *Engine) publishLocked(now time.Time) Snapshot {
	e.seq++
	snap := &Snapshot{
		SimulationID: e.id,
		Sequence:     e.seq,
		Time:         now,
		RoutesLoaded: e.isLoaded(),
		Entities:     e.entities,
	}
	e.snapshot.Store(snap)
	return *snap
}

// Subscribe returns a channel that receives every new snapshot. A slow reader
// only misses intermediate snapshots; the newest one is always delivered.
// The returned func unsubscribes and closes the channel.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	ch <- e.Snapshot()

	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subMu.Lock()
			delete(e.subs, id)
			e.subMu.Unlock()
			close(ch)
		})
	}
}

func (e *Engine) broadcast(snap Snapshot) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if snap.Sequence <= e.lastSent {
		return
	}
	e.lastSent = snap.Sequence
	for _, ch := range e.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
