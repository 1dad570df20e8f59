package telemetry

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/musthaq16/vehicle-road-simulator/types"
)

const (
	codec8 = 0x08

	ioIgnition = 239
	ioMovement = 240
)

// Record is one AVL position report.
type Record struct {
	Time       time.Time
	Priority   uint8
	Position   types.Coordinate
	Altitude   int16
	Angle      uint16 // degrees from north
	Satellites uint8
	Speed      uint16 // km/h
	Ignition   bool
	Moving     bool
}

// RecordFor builds the report a tracker fitted to e would send at t.
func RecordFor(e types.Entity, t time.Time) Record {
	active := e.Status == types.StatusActive
	return Record{
		Time:       t,
		Position:   e.Position,
		Altitude:   1750,
		Angle:      uint16(math.Mod(math.Round(e.Heading), 360)),
		Satellites: 12,
		Speed:      uint16(max(e.Speed, 0)),
		Ignition:   active || e.Status == types.StatusIdle,
		Moving:     active && e.Speed > 0,
	}
}

// EncodeLogin builds the IMEI handshake: a two byte length followed by the ASCII IMEI.
func EncodeLogin(imei string) ([]byte, error) {
	if len(imei) != 15 {
		return nil, fmt.Errorf("IMEI must be 15 digits, got %q", imei)
	}
	packet := binary.BigEndian.AppendUint16(nil, uint16(len(imei)))
	return append(packet, imei...), nil
}

// EncodeRecords builds a codec 8 AVL packet: zero preamble, data length,
// data field and a CRC-16/IBM of the data field.
func EncodeRecords(records ...Record) []byte {
	data := []byte{codec8, byte(len(records))}
	for _, r := range records {
		data = appendRecord(data, r)
	}
	data = append(data, byte(len(records)))

	packet := make([]byte, 4, 8+len(data)+4)
	packet = binary.BigEndian.AppendUint32(packet, uint32(len(data)))
	packet = append(packet, data...)
	return binary.BigEndian.AppendUint32(packet, uint32(crc16IBM(data)))
}

func appendRecord(b []byte, r Record) []byte {
	b = binary.BigEndian.AppendUint64(b, uint64(r.Time.UnixMilli()))
	b = append(b, r.Priority)

	b = binary.BigEndian.AppendUint32(b, uint32(int32(math.Round(r.Position.Lng*1e7))))
	b = binary.BigEndian.AppendUint32(b, uint32(int32(math.Round(r.Position.Lat*1e7))))
	b = binary.BigEndian.AppendUint16(b, uint16(r.Altitude))
	b = binary.BigEndian.AppendUint16(b, r.Angle)
	b = append(b, r.Satellites)
	b = binary.BigEndian.AppendUint16(b, r.Speed)

	// event id, total count, then the 1-byte group; 2, 4 and 8 byte groups are empty
	b = append(b, 0, 2, 2, ioIgnition, boolByte(r.Ignition), ioMovement, boolByte(r.Moving))
	return append(b, 0, 0, 0)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// crc16IBM is CRC-16/ARC: reflected polynomial 0x8005, zero initial value.
func crc16IBM(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
