package entitystore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raillive/ledrails-ltm/internal/gtfsrt"
)

func TestMerge_NewestWinsWithinBatch(t *testing.T) {
	s := New()
	s.Merge([]gtfsrt.Entity{
		{ID: "1", VehicleID: "v1", Timestamp: 100},
		{ID: "2", VehicleID: "v1", Timestamp: 200},
	})

	snap := s.Snapshot()
	require.Contains(t, snap, "v1")
	assert.Equal(t, int64(200), snap["v1"].Timestamp)
}

func TestMerge_MissingVehiclesPersist(t *testing.T) {
	s := New()
	s.Merge([]gtfsrt.Entity{{ID: "1", VehicleID: "v1", Timestamp: 100}})
	s.Merge([]gtfsrt.Entity{{ID: "2", VehicleID: "v2", Timestamp: 100}})

	snap := s.Snapshot()
	assert.Len(t, snap, 2)
}

func TestEvict_DropsStaleEntries(t *testing.T) {
	s := New()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.Merge([]gtfsrt.Entity{
		{ID: "1", VehicleID: "stale", Timestamp: now.Add(-3 * time.Hour).Unix()},
		{ID: "2", VehicleID: "fresh", Timestamp: now.Add(-1 * time.Minute).Unix()},
	})

	s.Evict(now, 2) // 2 hour threshold

	snap := s.Snapshot()
	assert.NotContains(t, snap, "stale")
	assert.Contains(t, snap, "fresh")
}

func TestApply_EmptyConfigPassesThrough(t *testing.T) {
	entities := map[string]gtfsrt.Entity{
		"v1": {ID: "1", VehicleID: "v1"},
		"v2": {ID: "2", VehicleID: "v2"},
	}
	out := Apply(entities, FilterConfig{})
	assert.Len(t, out, 2)
}

func TestApply_EntityIDRange(t *testing.T) {
	entities := map[string]gtfsrt.Entity{
		"v1": {ID: "100", VehicleID: "v1"},
		"v2": {ID: "999", VehicleID: "v2"},
	}
	out := Apply(entities, FilterConfig{Range: &EntityIDRange{Start: 50, End: 150}})
	require.Len(t, out, 1)
	assert.Equal(t, "v1", out[0].VehicleID)
}

func TestApply_TripIDIncludesExcludes(t *testing.T) {
	entities := map[string]gtfsrt.Entity{
		"v1": {VehicleID: "v1", Trip: gtfsrt.Trip{TripID: "EAST-101-weekday"}},
		"v2": {VehicleID: "v2", Trip: gtfsrt.Trip{TripID: "EAST-101-weekend"}},
		"v3": {VehicleID: "v3", Trip: gtfsrt.Trip{TripID: "WEST-202-weekday"}},
	}
	out := Apply(entities, FilterConfig{TripID: &TripIDFilter{
		Includes: []string{"EAST"},
		Excludes: []string{"weekend"},
	}})
	require.Len(t, out, 1)
	assert.Equal(t, "v1", out[0].VehicleID)
}

func TestApply_TripIDExcludesOnlyKeepsEverythingElse(t *testing.T) {
	entities := map[string]gtfsrt.Entity{
		"v1": {VehicleID: "v1", Trip: gtfsrt.Trip{TripID: "EAST-101"}},
		"v2": {VehicleID: "v2", Trip: gtfsrt.Trip{TripID: "WEST-202-CANCELLED"}},
	}
	out := Apply(entities, FilterConfig{TripID: &TripIDFilter{Excludes: []string{"CANCELLED"}}})
	require.Len(t, out, 1)
	assert.Equal(t, "v1", out[0].VehicleID)
}
