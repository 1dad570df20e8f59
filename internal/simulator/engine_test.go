package simulator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musthaq16/vehicle-road-simulator/internal/geo"
	"github.com/musthaq16/vehicle-road-simulator/types"
)

// manualScheduler hands the tick function to the test instead of running a timer.
type manualScheduler struct {
	ticks   chan func(time.Time)
	stopped atomic.Bool
}

func (m *manualScheduler) Start(_ time.Duration, tick func(time.Time)) { m.ticks <- tick }
func (m *manualScheduler) Stop()                                        { m.stopped.Store(true) }

func testEngine(t *testing.T, sched Scheduler) *Engine {
	t.Helper()
	roster := []types.Entity{
		{ID: "D001", Name: "Thabo Molefe", Status: types.StatusActive, Position: start, Speed: 32},
		{ID: "D002", Name: "Lerato Dlamini", Status: types.StatusIdle, Position: start},
	}
	return NewEngine(roster, Config{
		Interval:  time.Second,
		Options:   DefaultOptions(),
		Zones:     testZones(),
		Assigner:  testAssigner(&recorder{points: 12}),
		Scheduler: sched,
		Rand:      fixedRand(0.5),
		Now:       func() time.Time { return t0 },
	})
}

func TestNewEngine(t *testing.T) {
	e := testEngine(t, &manualScheduler{})
	snap := e.Snapshot()

	assert.NotEmpty(t, e.ID())
	assert.Equal(t, e.ID(), snap.SimulationID)
	assert.False(t, snap.RoutesLoaded)
	require.Len(t, snap.Entities, 2)
	assert.Equal(t, "Sandton CBD", snap.Entities[0].Zone)
	assert.Empty(t, e.Routes())
}

func TestEngineRun(t *testing.T) {
	sched := &manualScheduler{ticks: make(chan func(time.Time), 1)}
	e := testEngine(t, sched)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	var tick func(time.Time)
	select {
	case tick = <-sched.ticks:
	case <-time.After(time.Second):
		t.Fatal("scheduler never started")
	}

	select {
	case <-e.RoutesLoaded():
	default:
		t.Fatal("ticks started before routes were loaded")
	}
	routes := e.Routes()
	require.Len(t, routes, 2)
	assert.Equal(t, 24, routes[0].Waypoints)
	assert.True(t, e.Snapshot().RoutesLoaded)

	tick(t0.Add(5 * time.Second))
	snap := e.Snapshot()
	moving, _ := snap.Find("D001")
	parked, _ := snap.Find("D002")
	assert.InDelta(t, 35.0/3.6*5, geo.DistanceMeters(start, moving.Position), 1e-3)
	assert.Equal(t, 35, moving.Speed)
	assert.Equal(t, start, parked.Position)
	assert.Zero(t, parked.Speed)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.True(t, sched.stopped.Load())
}

func TestEngineRunCancelledDuringAssignment(t *testing.T) {
	e := testEngine(t, &manualScheduler{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, e.Run(ctx), context.Canceled)
	select {
	case <-e.RoutesLoaded():
		t.Fatal("routes marked loaded after cancel")
	default:
	}
}

func TestEngineSetStatus(t *testing.T) {
	e := testEngine(t, &manualScheduler{})
	require.Equal(t, 2, e.AssignRoutes(context.Background()))

	assert.ErrorIs(t, e.SetStatus("D999", types.StatusIdle), ErrUnknownEntity)
	assert.ErrorIs(t, e.SetStatus("D001", "parked"), ErrInvalidStatus)

	require.NoError(t, e.SetStatus("D001", types.StatusIdle))
	e.Step(t0.Add(5 * time.Second))
	got, ok := e.Snapshot().Find("D001")
	require.True(t, ok)
	assert.Equal(t, types.StatusIdle, got.Status)
	assert.Equal(t, start, got.Position)
	assert.Zero(t, got.Speed)
}

func TestEngineSetSpeed(t *testing.T) {
	e := testEngine(t, &manualScheduler{})

	assert.ErrorIs(t, e.SetSpeed("D001", -1), ErrInvalidSpeed)
	assert.ErrorIs(t, e.SetSpeed("D999", 20), ErrUnknownEntity)

	require.NoError(t, e.SetSpeed("D001", 20))
	got, _ := e.Snapshot().Find("D001")
	assert.Equal(t, 20, got.Speed)

	require.Equal(t, 2, e.AssignRoutes(context.Background()))
	require.NoError(t, e.SetSpeed("D001", 40))
	assert.Equal(t, 40.0, e.Routes()[0].TargetSpeed)
}

func TestEngineReassign(t *testing.T) {
	e := testEngine(t, &manualScheduler{})

	assert.ErrorIs(t, e.Reassign(context.Background(), "D999"), ErrUnknownEntity)
	require.NoError(t, e.Reassign(context.Background(), "D002"))

	routes := e.Routes()
	require.Len(t, routes, 1)
	assert.Equal(t, "D002", routes[0].VehicleID)
}

func TestEngineSnapshotsAreImmutable(t *testing.T) {
	e := testEngine(t, &manualScheduler{})
	e.AssignRoutes(context.Background())

	before := e.Snapshot()
	pos := before.Entities[0].Position
	e.Step(t0.Add(5 * time.Second))

	assert.Equal(t, pos, before.Entities[0].Position)
	assert.Greater(t, e.Snapshot().Sequence, before.Sequence)
}

func TestEngineSubscribeNewestWins(t *testing.T) {
	e := testEngine(t, &manualScheduler{})
	ch, unsubscribe := e.Subscribe()

	first := <-ch
	assert.Equal(t, e.Snapshot().Sequence, first.Sequence)

	for i := 1; i <= 3; i++ {
		e.Step(t0.Add(time.Duration(i) * time.Second))
	}
	latest := <-ch
	assert.Equal(t, e.Snapshot().Sequence, latest.Sequence)

	select {
	case s := <-ch:
		t.Fatalf("unexpected stale snapshot %d", s.Sequence)
	default:
	}

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
}

func TestTickerScheduler(t *testing.T) {
	var count atomic.Int32
	s := NewTickerScheduler()
	s.Start(5*time.Millisecond, func(time.Time) { count.Add(1) })
	s.Start(5*time.Millisecond, func(time.Time) { t.Error("second Start must be ignored") })

	assert.Eventually(t, func() bool { return count.Load() >= 3 }, time.Second, time.Millisecond)
	s.Stop()
	s.Stop()

	stopped := count.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, count.Load())
}
