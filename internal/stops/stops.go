// Package stops loads the auxiliary GTFS stop map a network may configure,
// used only to satisfy the /api/stops inspection endpoint; it plays no
// role in block assignment (that only needs the
// stop ids themselves, which arrive on the entity stream).
package stops

import (
	"encoding/json"
	"fmt"
	"os"
)

// Stop is the subset of GTFS stops.txt fields this system surfaces.
type Stop struct {
	StopID string  `json:"stop_id"`
	Name   string  `json:"name"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
}

// Map is a stopID -> Stop lookup.
type Map map[string]Stop

// Load reads a JSON document of the form {"stopId": {...}, ...} produced by
// an external GTFS-to-JSON conversion step (out of scope for this system;
// see spec.md Section 1's "KML/CSV parsing... treated as a loader returning
// parsed structures").
func Load(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("stops: failed to read %s: %w", path, err)
	}

	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("stops: failed to parse %s: %w", path, err)
	}
	return m, nil
}
