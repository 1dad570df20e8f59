package telemetry

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musthaq16/vehicle-road-simulator/internal/simulator"
	"github.com/musthaq16/vehicle-road-simulator/types"
)

func TestCRC16IBM(t *testing.T) {
	assert.Equal(t, uint16(0xBB3D), crc16IBM([]byte("123456789")))

	// sample codec 8 packet from the Teltonika protocol documentation
	packet, err := hex.DecodeString("000000000000003608010000016B40D8EA30010000000000000000000000000000000105021503010101425E0F01F10000601A014E0000000000000000010000C7CF")
	require.NoError(t, err)
	assert.Equal(t, uint16(0xC7CF), crc16IBM(packet[8:len(packet)-4]))
}

func TestEncodeLogin(t *testing.T) {
	packet, err := EncodeLogin("356307042441013")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x0F}, packet[:2])
	assert.Equal(t, "356307042441013", string(packet[2:]))

	_, err = EncodeLogin("1234")
	assert.Error(t, err)
}

func TestEncodeRecords(t *testing.T) {
	at := time.UnixMilli(1_714_550_400_000)
	r := RecordFor(types.Entity{
		Status:   types.StatusActive,
		Position: types.Coordinate{Lat: -26.107407, Lng: 28.056229},
		Speed:    36,
		Heading:  359.7,
	}, at)
	packet := EncodeRecords(r)

	assert.Equal(t, []byte{0, 0, 0, 0}, packet[:4])
	size := binary.BigEndian.Uint32(packet[4:8])
	require.Len(t, packet, 8+int(size)+4)

	data := packet[8 : 8+size]
	assert.Equal(t, byte(codec8), data[0])
	assert.Equal(t, byte(1), data[1])
	assert.Equal(t, byte(1), data[len(data)-1])
	assert.Equal(t, uint32(crc16IBM(data)), binary.BigEndian.Uint32(packet[len(packet)-4:]))

	got := decodeRecord(data[2:])
	assert.Equal(t, at.UnixMilli(), got.Time.UnixMilli())
	assert.InDelta(t, -26.107407, got.Position.Lat, 1e-7)
	assert.InDelta(t, 28.056229, got.Position.Lng, 1e-7)
	assert.Equal(t, uint16(0), got.Angle)
	assert.Equal(t, uint16(36), got.Speed)
	assert.True(t, got.Ignition)
	assert.True(t, got.Moving)
}

func TestRecordForIdle(t *testing.T) {
	r := RecordFor(types.Entity{Status: types.StatusIdle, Heading: 90}, time.Now())
	assert.True(t, r.Ignition)
	assert.False(t, r.Moving)
	assert.Equal(t, uint16(90), r.Angle)
}

// decodeRecord reads back what appendRecord wrote.
func decodeRecord(b []byte) Record {
	return Record{
		Time:       time.UnixMilli(int64(binary.BigEndian.Uint64(b[0:8]))),
		Priority:   b[8],
		Position:   types.Coordinate{Lng: float64(int32(binary.BigEndian.Uint32(b[9:13]))) / 1e7, Lat: float64(int32(binary.BigEndian.Uint32(b[13:17]))) / 1e7},
		Altitude:   int16(binary.BigEndian.Uint16(b[17:19])),
		Angle:      binary.BigEndian.Uint16(b[19:21]),
		Satellites: b[21],
		Speed:      binary.BigEndian.Uint16(b[22:24]),
		Ignition:   b[28] == 1,
		Moving:     b[30] == 1,
	}
}

type staticSource simulator.Snapshot

func (s staticSource) Snapshot() simulator.Snapshot { return simulator.Snapshot(s) }

// avlServer accepts tracker sessions and records decoded positions by IMEI.
type avlServer struct {
	ln        net.Listener
	loginByte byte

	mu        sync.Mutex
	logins    []string
	positions map[string][]Record
}

func startAVLServer(t *testing.T, loginByte byte) *avlServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &avlServer{ln: ln, loginByte: loginByte, positions: map[string][]Record{}}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s
}

func (s *avlServer) serve(conn net.Conn) {
	defer conn.Close()

	var size [2]byte
	if _, err := io.ReadFull(conn, size[:]); err != nil {
		return
	}
	imei := make([]byte, binary.BigEndian.Uint16(size[:]))
	if _, err := io.ReadFull(conn, imei); err != nil {
		return
	}
	s.mu.Lock()
	s.logins = append(s.logins, string(imei))
	s.mu.Unlock()
	if _, err := conn.Write([]byte{s.loginByte}); err != nil || s.loginByte != 0x01 {
		return
	}

	for {
		var header [8]byte
		if _, err := io.ReadFull(conn, header[:]); err != nil {
			return
		}
		body := make([]byte, binary.BigEndian.Uint32(header[4:])+4)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		data := body[:len(body)-4]
		if uint32(crc16IBM(data)) != binary.BigEndian.Uint32(body[len(body)-4:]) {
			return
		}

		s.mu.Lock()
		s.positions[string(imei)] = append(s.positions[string(imei)], decodeRecord(data[2:]))
		s.mu.Unlock()

		ack := binary.BigEndian.AppendUint32(nil, uint32(data[1]))
		if _, err := conn.Write(ack); err != nil {
			return
		}
	}
}

func (s *avlServer) received(imei string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.positions[imei]...)
}

func fleet() staticSource {
	return staticSource{
		Time: time.UnixMilli(1_714_550_400_000),
		Entities: []types.Entity{
			{ID: "D001", Status: types.StatusActive, IMEI: "356307042441001",
				Position: types.Coordinate{Lat: -26.107407, Lng: 28.056229}, Speed: 32},
			{ID: "D003", Status: types.StatusIdle, IMEI: "356307042441003",
				Position: types.Coordinate{Lat: -26.147886, Lng: 28.042421}},
			{ID: "D005", Status: types.StatusOffline, IMEI: "356307042441005"},
			{ID: "D013", Status: types.StatusActive},
		},
	}
}

func TestForwarderSend(t *testing.T) {
	srv := startAVLServer(t, 0x01)
	f := NewForwarder(srv.ln.Addr().String(), fleet(), time.Second)
	defer f.Close()

	assert.Equal(t, 2, f.Send(context.Background()))
	assert.Equal(t, 2, f.Send(context.Background()))
	assert.Equal(t, 2, f.Sessions())

	got := srv.received("356307042441001")
	require.Len(t, got, 2)
	assert.InDelta(t, -26.107407, got[0].Position.Lat, 1e-7)
	assert.Equal(t, uint16(32), got[0].Speed)
	assert.Empty(t, srv.received("356307042441005"))

	srv.mu.Lock()
	assert.Len(t, srv.logins, 2)
	srv.mu.Unlock()
}

func TestForwarderLoginRejected(t *testing.T) {
	srv := startAVLServer(t, 0x00)
	f := NewForwarder(srv.ln.Addr().String(), fleet(), time.Second)
	defer f.Close()

	assert.Zero(t, f.Send(context.Background()))
	assert.Zero(t, f.Sessions())

	login, err := EncodeLogin("356307042441001")
	require.NoError(t, err)
	conn, err := net.Dial("tcp", srv.ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	assert.ErrorIs(t, handshake(conn, login, time.Second), ErrLoginRejected)
}

func TestForwarderUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	f := NewForwarder(addr, fleet(), time.Second)
	assert.Zero(t, f.Send(context.Background()))
	assert.Zero(t, f.Sessions())
}

func TestForwarderRun(t *testing.T) {
	srv := startAVLServer(t, 0x01)
	f := NewForwarder(srv.ln.Addr().String(), fleet(), time.Hour)
	f.SetFrequency(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return len(srv.received("356307042441003")) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Zero(t, f.Sessions())
}
