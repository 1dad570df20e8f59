// Package feed exports engine snapshots as a GTFS-Realtime VehiclePositions feed.
package feed

import (
	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/musthaq16/vehicle-road-simulator/internal/simulator"
	"github.com/musthaq16/vehicle-road-simulator/types"
)

const Version = "2.0"

// Build converts a snapshot into a full-dataset feed. Offline vehicles are left out.
func Build(snap simulator.Snapshot) *gtfsrtpb.FeedMessage {
	ts := uint64(snap.Time.Unix())
	msg := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String(Version),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(ts),
		},
	}

	for _, e := range snap.Entities {
		if e.Status == types.StatusOffline {
			continue
		}
		msg.Entity = append(msg.Entity, &gtfsrtpb.FeedEntity{
			Id:      proto.String(e.ID),
			Vehicle: vehiclePosition(e, ts),
		})
	}
	return msg
}

func vehiclePosition(e types.Entity, ts uint64) *gtfsrtpb.VehiclePosition {
	status := gtfsrtpb.VehiclePosition_STOPPED_AT
	if e.Status == types.StatusActive {
		status = gtfsrtpb.VehiclePosition_IN_TRANSIT_TO
	}
	return &gtfsrtpb.VehiclePosition{
		Vehicle: &gtfsrtpb.VehicleDescriptor{
			Id:    proto.String(e.ID),
			Label: proto.String(e.Name),
		},
		Position: &gtfsrtpb.Position{
			Latitude:  proto.Float32(float32(e.Position.Lat)),
			Longitude: proto.Float32(float32(e.Position.Lng)),
			Bearing:   proto.Float32(float32(e.Heading)),
			Speed:     proto.Float32(float32(float64(e.Speed) / 3.6)),
		},
		CurrentStatus: status.Enum(),
		Timestamp:     proto.Uint64(ts),
	}
}

// Marshal encodes the feed in protobuf wire format.
func Marshal(snap simulator.Snapshot) ([]byte, error) {
	return proto.Marshal(Build(snap))
}

// MarshalJSON encodes the feed with the protobuf JSON mapping.
func MarshalJSON(snap simulator.Snapshot) ([]byte, error) {
	return protojson.MarshalOptions{UseProtoNames: true}.Marshal(Build(snap))
}
