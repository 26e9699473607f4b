package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raillive/ledrails-ltm/internal/geometry"
	"github.com/raillive/ledrails-ltm/internal/trackblock"
)

func square(latLo, latHi, lonLo, lonHi float64) []geometry.Point {
	return []geometry.Point{
		{Lat: latLo, Lon: lonLo},
		{Lat: latLo, Lon: lonHi},
		{Lat: latHi, Lon: lonHi},
		{Lat: latHi, Lon: lonLo},
	}
}

func TestAssign_SingleTrainSingleBlock(t *testing.T) {
	blockMap := trackblock.NewMap([]trackblock.TrackBlock{
		{BlockNumber: 101, Routes: []string{"EAST-201"}, Polygon: square(-36.85, -36.84, 174.76, 174.77)},
	})

	r := NewRoster()
	r.trains["v1"] = &TrainInfo{VehicleID: "v1", Lat: -36.846, Lon: 174.765, Route: "EAST-201", Timestamp: time.Now().Unix()}

	now := time.Now()
	invisible := r.Assign(now, blockMap, 300*time.Second, map[string]struct{}{})
	assert.Empty(t, invisible)

	tr := r.trains["v1"]
	require.NotNil(t, tr.CurrentBlock)
	assert.Equal(t, 101, *tr.CurrentBlock)
	require.NotNil(t, tr.PreviousBlock)
	assert.Equal(t, 0, *tr.PreviousBlock)
}

func TestAssign_TrainLeavesPolygon(t *testing.T) {
	blockMap := trackblock.NewMap([]trackblock.TrackBlock{
		{BlockNumber: 101, Routes: []string{"EAST-201"}, Polygon: square(-36.85, -36.84, 174.76, 174.77)},
	})

	r := NewRoster()
	block := 101
	r.trains["v1"] = &TrainInfo{VehicleID: "v1", Lat: -36.830, Lon: 174.765, Route: "EAST-201", Timestamp: time.Now().Unix(), CurrentBlock: &block}

	r.Assign(time.Now(), blockMap, 300*time.Second, map[string]struct{}{})

	tr := r.trains["v1"]
	assert.Nil(t, tr.CurrentBlock)
	assert.Nil(t, tr.PreviousBlock)
}

func TestAssign_StaleTrainExcluded(t *testing.T) {
	blockMap := trackblock.NewMap([]trackblock.TrackBlock{
		{BlockNumber: 101, Polygon: square(-36.85, -36.84, 174.76, 174.77)},
	})

	r := NewRoster()
	old := time.Now().Add(-1 * time.Hour).Unix()
	r.trains["v1"] = &TrainInfo{VehicleID: "v1", Lat: -36.846, Lon: 174.765, Timestamp: old}

	r.Assign(time.Now(), blockMap, 300*time.Second, map[string]struct{}{})

	tr := r.trains["v1"]
	assert.Nil(t, tr.CurrentBlock)
}

func TestAssign_ZeroZeroPositionNeverAssigned(t *testing.T) {
	blockMap := trackblock.NewMap([]trackblock.TrackBlock{
		{BlockNumber: 1, Polygon: square(-1, 1, -1, 1)},
	})

	r := NewRoster()
	r.trains["v1"] = &TrainInfo{VehicleID: "v1", Lat: 0, Lon: 0, Timestamp: time.Now().Unix()}

	r.Assign(time.Now(), blockMap, 300*time.Second, map[string]struct{}{})
	assert.Nil(t, r.trains["v1"].CurrentBlock)
}

func TestAssign_TwoTrainsSameBlockUseAltBlock(t *testing.T) {
	alt := 201
	blockMap := trackblock.NewMap([]trackblock.TrackBlock{
		{BlockNumber: 200, AltBlock: &alt, Polygon: square(-36.85, -36.84, 174.76, 174.77)},
	})

	r := NewRoster()
	now := time.Now().Unix()
	r.trains["T1"] = &TrainInfo{VehicleID: "T1", Lat: -36.846, Lon: 174.765, Route: "A", Timestamp: now}
	r.trains["T2"] = &TrainInfo{VehicleID: "T2", Lat: -36.845, Lon: 174.764, Route: "B", Timestamp: now}

	invisible := r.Assign(time.Now(), blockMap, 300*time.Second, map[string]struct{}{})
	assert.Empty(t, invisible)
	assert.Equal(t, 200, *r.trains["T1"].CurrentBlock)
	assert.Equal(t, 201, *r.trains["T2"].CurrentBlock)

	r.trains["T3"] = &TrainInfo{VehicleID: "T3", Lat: -36.844, Lon: 174.763, Route: "C", Timestamp: now}
	invisible = r.Assign(time.Now(), blockMap, 300*time.Second, map[string]struct{}{})
	_, ok := invisible["T3"]
	assert.True(t, ok, "third occupant must be marked invisible")
}

func TestAssign_OutOfServiceRouteSortsLastInAltBlockPass(t *testing.T) {
	blockMap := trackblock.NewMap([]trackblock.TrackBlock{
		{BlockNumber: 200, Polygon: square(-36.85, -36.84, 174.76, 174.77)},
	})

	r := NewRoster()
	now := time.Now().Unix()
	r.trains["OOS"] = &TrainInfo{VehicleID: "OOS", Lat: -36.846, Lon: 174.765, Route: outOfServiceRoute, Timestamp: now}
	r.trains["T1"] = &TrainInfo{VehicleID: "T1", Lat: -36.845, Lon: 174.764, Route: "NORTH", Timestamp: now}

	invisible := r.Assign(time.Now(), blockMap, 300*time.Second, map[string]struct{}{})

	require.NotNil(t, r.trains["T1"].CurrentBlock, "in-service train keeps the block")
	_, oosHidden := invisible["OOS"]
	assert.True(t, oosHidden, "out-of-service train is the one pushed aside")
}

func TestAssign_PlatformDisambiguationByStopID(t *testing.T) {
	blockMap := trackblock.NewMap([]trackblock.TrackBlock{
		{
			BlockNumber: 300,
			Polygon:     square(-36.85, -36.84, 174.76, 174.77),
			Platforms: []trackblock.Platform{
				{BlockNumber: 303, StopIDs: map[string]struct{}{"S3": {}}},
				{BlockNumber: 304, StopIDs: map[string]struct{}{"S4": {}}},
			},
		},
	})

	r := NewRoster()
	r.trains["v1"] = &TrainInfo{
		VehicleID: "v1", Lat: -36.846, Lon: 174.765, Timestamp: time.Now().Unix(),
		Stops: []StopETA{{StopID: "S4", DepartureTime: 0}},
	}

	r.Assign(time.Now(), blockMap, 300*time.Second, map[string]struct{}{})
	require.NotNil(t, r.trains["v1"].CurrentBlock)
	assert.Equal(t, 304, *r.trains["v1"].CurrentBlock)
}
