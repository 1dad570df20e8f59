// Package telemetry replays simulated positions to an AVL server the way a
// fleet of Teltonika trackers would: one TCP session per IMEI, an IMEI login,
// then codec 8 packets acknowledged by record count.
package telemetry

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/musthaq16/vehicle-road-simulator/internal/simulator"
	"github.com/musthaq16/vehicle-road-simulator/types"
)

var ErrLoginRejected = errors.New("login rejected")

// Source yields the latest fleet state. *simulator.Engine satisfies it.
type Source interface {
	Snapshot() simulator.Snapshot
}

// Forwarder sends every tracked vehicle's position on a fixed frequency.
type Forwarder struct {
	address   string
	source    Source
	frequency atomic.Int64
	timeout   time.Duration
	dialer    net.Dialer
	logger    *slog.Logger

	mu    sync.Mutex
	conns map[string]net.Conn // by IMEI
}

func NewForwarder(address string, source Source, frequency time.Duration) *Forwarder {
	f := &Forwarder{
		address: address,
		source:  source,
		timeout: 5 * time.Second,
		logger:  slog.Default().With("component", "telemetry"),
		conns:   make(map[string]net.Conn),
	}
	f.SetFrequency(frequency)
	return f
}

// SetFrequency changes the send interval from the next cycle on.
func (f *Forwarder) SetFrequency(d time.Duration) {
	if d <= 0 {
		d = 5 * time.Second
	}
	f.frequency.Store(int64(d))
}

// Run sends on every interval until ctx is cancelled, then closes all sessions.
func (f *Forwarder) Run(ctx context.Context) error {
	defer f.Close()

	f.logger.Info("telemetry forwarding started", "address", f.address)
	for {
		timer := time.NewTimer(time.Duration(f.frequency.Load()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			f.Send(ctx)
		}
	}
}

// Send reports the latest position of every online vehicle that has an IMEI and
// returns how many were acknowledged. A failed session is dropped and redialled
// on the next call.
func (f *Forwarder) Send(ctx context.Context) int {
	snap := f.source.Snapshot()
	sent := 0
	for _, e := range snap.Entities {
		if e.IMEI == "" || e.Status == types.StatusOffline {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		if err := f.send(ctx, e, snap.Time); err != nil {
			f.logger.Warn("position not delivered", "vehicle_id", e.ID, "imei", e.IMEI, "err", err)
			f.drop(e.IMEI)
			continue
		}
		sent++
	}
	return sent
}

func (f *Forwarder) send(ctx context.Context, e types.Entity, at time.Time) error {
	conn, err := f.session(ctx, e.IMEI)
	if err != nil {
		return err
	}

	packet := EncodeRecords(RecordFor(e, at))
	if err := conn.SetDeadline(time.Now().Add(f.timeout)); err != nil {
		return err
	}
	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}

	var ack [4]byte
	if _, err := io.ReadFull(conn, ack[:]); err != nil {
		return fmt.Errorf("read ack: %w", err)
	}
	if n := binary.BigEndian.Uint32(ack[:]); n != 1 {
		return fmt.Errorf("server acknowledged %d records, sent 1", n)
	}
	f.logger.Debug("position sent", "vehicle_id", e.ID, "lat", e.Position.Lat, "lng", e.Position.Lng)
	return nil
}

// session returns the open connection for imei, dialling and logging in first if needed.
func (f *Forwarder) session(ctx context.Context, imei string) (net.Conn, error) {
	f.mu.Lock()
	conn, ok := f.conns[imei]
	f.mu.Unlock()
	if ok {
		return conn, nil
	}

	login, err := EncodeLogin(imei)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	conn, err = f.dialer.DialContext(dialCtx, "tcp", f.address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", f.address, err)
	}

	if err := handshake(conn, login, f.timeout); err != nil {
		conn.Close()
		return nil, err
	}

	f.mu.Lock()
	f.conns[imei] = conn
	f.mu.Unlock()
	f.logger.Info("tracker logged in", "imei", imei)
	return conn, nil
}

func handshake(conn net.Conn, login []byte, timeout time.Duration) error {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	if _, err := conn.Write(login); err != nil {
		return fmt.Errorf("write login: %w", err)
	}
	var ack [1]byte
	if _, err := io.ReadFull(conn, ack[:]); err != nil {
		return fmt.Errorf("read login ack: %w", err)
	}
	if ack[0] != 0x01 {
		return ErrLoginRejected
	}
	return nil
}

func (f *Forwarder) drop(imei string) {
	f.mu.Lock()
	conn, ok := f.conns[imei]
	delete(f.conns, imei)
	f.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// Sessions reports how many tracker sessions are open.
func (f *Forwarder) Sessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// Close ends every session.
func (f *Forwarder) Close() {
	f.mu.Lock()
	conns := f.conns
	f.conns = make(map[string]net.Conn)
	f.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
