package pairdetector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raillive/ledrails-ltm/internal/gtfsrt"
)

func speedPtr(v float64) *float64   { return &v }
func bearingPtr(v float64) *float64 { return &v }

func TestDetector_DetectsCoupledPair(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := New(DefaultConfig())

	trains := map[string]gtfsrt.Entity{
		"A": {
			VehicleID: "A",
			Timestamp: now.Unix(),
			Trip:      gtfsrt.Trip{RouteID: "EAST-1"},
			Position:  &gtfsrt.Position{Lat: -36.850, Lon: 174.760, Speed: speedPtr(10), Bearing: bearingPtr(90)},
		},
		"B": {
			VehicleID: "B",
			Timestamp: now.Unix(),
			Trip:      gtfsrt.Trip{RouteID: "EAST-1"},
			Position:  &gtfsrt.Position{Lat: -36.850, Lon: 174.7604, Speed: speedPtr(10.5), Bearing: bearingPtr(92)},
		},
	}

	invisible := d.Update(now, trains)
	require.Len(t, d.Pairs(), 1)
	assert.Len(t, invisible, 1)

	pair := d.Pairs()[0]
	_, aInvisible := invisible[pair.VehicleIDs[0]]
	_, bInvisible := invisible[pair.VehicleIDs[1]]
	assert.True(t, aInvisible != bInvisible, "exactly one of the pair must be invisible")
}

func TestDetector_RejectsDifferentRoutes(t *testing.T) {
	now := time.Now()
	d := New(DefaultConfig())

	trains := map[string]gtfsrt.Entity{
		"A": {VehicleID: "A", Timestamp: now.Unix(), Trip: gtfsrt.Trip{RouteID: "EAST-1"},
			Position: &gtfsrt.Position{Lat: -36.850, Lon: 174.760, Speed: speedPtr(10), Bearing: bearingPtr(90)}},
		"B": {VehicleID: "B", Timestamp: now.Unix(), Trip: gtfsrt.Trip{RouteID: "WEST-9"},
			Position: &gtfsrt.Position{Lat: -36.850, Lon: 174.7604, Speed: speedPtr(10), Bearing: bearingPtr(90)}},
	}

	d.Update(now, trains)
	assert.Empty(t, d.Pairs())
}

func TestDetector_BreaksPairBeyondThreshold(t *testing.T) {
	now := time.Now()
	d := New(DefaultConfig())
	d.LoadPairs([]Pair{{PairKey: "A+B", VehicleIDs: [2]string{"A", "B"}}})

	trains := map[string]gtfsrt.Entity{
		"A": {VehicleID: "A", Timestamp: now.Unix(), Position: &gtfsrt.Position{Lat: 0, Lon: 0}},
		"B": {VehicleID: "B", Timestamp: now.Unix(), Position: &gtfsrt.Position{Lat: 10, Lon: 10}}, // far away
	}

	d.Update(now, trains)
	assert.Empty(t, d.Pairs())
}

func TestDetector_InvisiblePrefersEmptyRoute(t *testing.T) {
	now := time.Now()
	d := New(DefaultConfig())
	d.LoadPairs([]Pair{{PairKey: "A+B", VehicleIDs: [2]string{"A", "B"}}})

	trains := map[string]gtfsrt.Entity{
		"A": {VehicleID: "A", Trip: gtfsrt.Trip{RouteID: ""}, Position: &gtfsrt.Position{Lat: 0, Lon: 0}},
		"B": {VehicleID: "B", Trip: gtfsrt.Trip{RouteID: "EAST-1"}, Position: &gtfsrt.Position{Lat: 0, Lon: 0.0001}},
	}

	invisible := d.invisibleSet(trains)
	_, ok := invisible["A"]
	assert.True(t, ok)
}
