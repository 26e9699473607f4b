package led

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raillive/ledrails-ltm/internal/tracker"
)

func blockPtr(v int) *int { return &v }

func TestGenerate_SingleTrainSingleBlock(t *testing.T) {
	api := NewLEDRailsAPI("v1", "/v1.json", []ColorSpec{{RouteID: "EAST-201", RGB: [3]int{255, 0, 0}}}, nil, 300, 20, false)

	now := time.Now()
	trains := map[string]tracker.TrainInfo{
		"v1": {VehicleID: "v1", Route: "EAST-201", Timestamp: now.Unix(), CurrentBlock: blockPtr(101), PreviousBlock: blockPtr(0)},
	}

	api.Generate(now, trains, map[string]struct{}{})
	out := api.Output()
	require.NotNil(t, out)
	require.Len(t, out.Updates, 1)
	assert.Equal(t, [2]int{0, 101}, out.Updates[0].B)
	assert.Equal(t, 0, out.Updates[0].C)
}

func TestGenerate_UnknownRouteColorSkipped(t *testing.T) {
	api := NewLEDRailsAPI("v1", "/v1.json", []ColorSpec{{RouteID: "EAST-201", RGB: [3]int{255, 0, 0}}}, nil, 300, 20, false)

	now := time.Now()
	trains := map[string]tracker.TrainInfo{
		"v1": {VehicleID: "v1", Route: "UNMAPPED", Timestamp: now.Unix(), CurrentBlock: blockPtr(101), PreviousBlock: blockPtr(0)},
	}

	api.Generate(now, trains, map[string]struct{}{})
	assert.Empty(t, api.Output().Updates)
}

func TestGenerate_InvisibleTrainSkipped(t *testing.T) {
	api := NewLEDRailsAPI("v1", "/v1.json", []ColorSpec{{RouteID: "A", RGB: [3]int{1, 2, 3}}}, nil, 300, 20, false)

	now := time.Now()
	trains := map[string]tracker.TrainInfo{
		"v1": {VehicleID: "v1", Route: "A", Timestamp: now.Unix(), CurrentBlock: blockPtr(1), PreviousBlock: blockPtr(0)},
	}

	api.Generate(now, trains, map[string]struct{}{"v1": {}})
	assert.Empty(t, api.Output().Updates)
}

func TestGenerate_BlockRemap(t *testing.T) {
	remap := []RemapRule{{Start: 300, End: 399, Offset: -100}}
	api := NewLEDRailsAPI("v1", "/v1.json", []ColorSpec{{RouteID: "A", RGB: [3]int{1, 2, 3}}}, remap, 300, 20, false)

	now := time.Now()
	trains := map[string]tracker.TrainInfo{
		"v1": {VehicleID: "v1", Route: "A", Timestamp: now.Unix(), CurrentBlock: blockPtr(302), PreviousBlock: blockPtr(301)},
	}

	api.Generate(now, trains, map[string]struct{}{})
	out := api.Output()
	require.Len(t, out.Updates, 1)
	assert.Equal(t, [2]int{201, 202}, out.Updates[0].B)
}

func TestGenerate_ColorIDsDenseInDeclarationOrder(t *testing.T) {
	api := NewLEDRailsAPI("v1", "/v1.json", []ColorSpec{
		{RouteID: "A", RGB: [3]int{1, 0, 0}},
		{RouteID: "B", RGB: [3]int{0, 1, 0}},
		{RouteID: "C", RGB: [3]int{0, 0, 1}},
	}, nil, 300, 20, false)

	assert.Equal(t, 0, api.RouteToColorID["A"])
	assert.Equal(t, 1, api.RouteToColorID["B"])
	assert.Equal(t, 2, api.RouteToColorID["C"])
}

func TestLEDRailsAPIOutput_JSONRoundTrip(t *testing.T) {
	out := &LEDRailsAPIOutput{
		Version:   "v1",
		Timestamp: 123,
		Update:    20,
		Colors:    map[int][3]int{0: {255, 0, 0}},
		Updates:   []LEDUpdate{{B: [2]int{0, 101}, C: 0, T: 5}},
	}

	data, err := json.Marshal(out)
	require.NoError(t, err)

	var decoded LEDRailsAPIOutput
	require.NoError(t, json.Unmarshal(data, &decoded))
	if diff := cmp.Diff(*out, decoded); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}
