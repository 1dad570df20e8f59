package feed

import (
	"encoding/json"
	"testing"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/musthaq16/vehicle-road-simulator/internal/simulator"
	"github.com/musthaq16/vehicle-road-simulator/types"
)

func testSnapshot() simulator.Snapshot {
	return simulator.Snapshot{
		SimulationID: "sim",
		Sequence:     7,
		Time:         time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		Entities: []types.Entity{
			{ID: "D001", Name: "Thabo Molefe", Status: types.StatusActive,
				Position: types.Coordinate{Lat: -26.107407, Lng: 28.056229}, Speed: 36, Heading: 90},
			{ID: "D003", Name: "Lebogang Khumalo", Status: types.StatusIdle,
				Position: types.Coordinate{Lat: -26.147886, Lng: 28.042421}},
			{ID: "D005", Name: "Tshepo Dlamini", Status: types.StatusOffline,
				Position: types.Coordinate{Lat: -26.094444, Lng: 27.981389}},
		},
	}
}

func TestMarshal(t *testing.T) {
	snap := testSnapshot()
	data, err := Marshal(snap)
	require.NoError(t, err)

	var fm gtfsrtpb.FeedMessage
	require.NoError(t, proto.Unmarshal(data, &fm))

	assert.Equal(t, Version, fm.GetHeader().GetGtfsRealtimeVersion())
	assert.Equal(t, gtfsrtpb.FeedHeader_FULL_DATASET, fm.GetHeader().GetIncrementality())
	assert.Equal(t, uint64(snap.Time.Unix()), fm.GetHeader().GetTimestamp())
	require.Len(t, fm.Entity, 2)

	active := fm.Entity[0].GetVehicle()
	assert.Equal(t, "D001", fm.Entity[0].GetId())
	assert.Equal(t, "Thabo Molefe", active.GetVehicle().GetLabel())
	assert.InDelta(t, -26.107407, active.GetPosition().GetLatitude(), 1e-5)
	assert.InDelta(t, 28.056229, active.GetPosition().GetLongitude(), 1e-5)
	assert.InDelta(t, 10, active.GetPosition().GetSpeed(), 1e-5)
	assert.InDelta(t, 90, active.GetPosition().GetBearing(), 1e-5)
	assert.Equal(t, gtfsrtpb.VehiclePosition_IN_TRANSIT_TO, active.GetCurrentStatus())

	idle := fm.Entity[1].GetVehicle()
	assert.Equal(t, gtfsrtpb.VehiclePosition_STOPPED_AT, idle.GetCurrentStatus())
	assert.Zero(t, idle.GetPosition().GetSpeed())
}

func TestMarshalJSON(t *testing.T) {
	data, err := MarshalJSON(testSnapshot())
	require.NoError(t, err)

	var doc struct {
		Header struct {
			Version string `json:"gtfs_realtime_version"`
		} `json:"header"`
		Entity []struct {
			ID string `json:"id"`
		} `json:"entity"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "2.0", doc.Header.Version)
	require.Len(t, doc.Entity, 2)
	assert.Equal(t, "D003", doc.Entity[1].ID)
}

func TestBuildEmpty(t *testing.T) {
	fm := Build(simulator.Snapshot{Time: time.Unix(0, 0)})
	assert.Empty(t, fm.Entity)
	assert.NotNil(t, fm.Header)
}
