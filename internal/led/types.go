// Package led generates the compact wire payload consumed by downstream
// LED display boards from one cycle's tracked-train roster, per spec.md
// Section 4.8. The wire format itself (field names b/c/t, colors keyed by
// integer) is contract-fixed and must not change shape.
package led

import "sync"

// LEDUpdate is one block-transition entry in the wire payload.
type LEDUpdate struct {
	B [2]int `json:"b"`
	C int    `json:"c"`
	T int    `json:"t"`
}

// LEDRailsAPIOutput is the full wire payload for one board revision.
type LEDRailsAPIOutput struct {
	Version   string         `json:"version"`
	Timestamp int64          `json:"timestamp"`
	Update    int64          `json:"update"`
	Colors    map[int][3]int `json:"colors"`
	Updates   []LEDUpdate    `json:"updates"`
}

// RemapRule rewrites block numbers in [Start, End] to Start+Offset..,
// i.e. every B in range becomes B+Offset, for one board revision.
type RemapRule struct {
	Start  int
	End    int
	Offset int
}

func (r RemapRule) apply(block int) (int, bool) {
	if block >= r.Start && block <= r.End {
		return block + r.Offset, true
	}
	return block, false
}

// ColorSpec is one entry of the config's ordered `colors` map, preserved in
// declaration order so that color-id assignment stays dense and
// deterministic (spec.md Section 8's color-id testable property).
type ColorSpec struct {
	RouteID string
	RGB     [3]int
}

// LEDRailsAPI is one board revision's configuration plus its most recently
// published output, owned by a single Network (spec.md Section 9's "no
// process-global mutable state" design note).
type LEDRailsAPI struct {
	Version             string
	URLPath             string
	BlockRemap          []RemapRule
	DisplayThreshold    int64 // seconds
	UpdateInterval      int64 // seconds
	RandomizeTimeOffset bool
	RouteToColorID      map[string]int
	Colors              map[int][3]int

	mu     sync.RWMutex
	output *LEDRailsAPIOutput
}

// NewLEDRailsAPI builds a board revision, assigning color ids 0..n-1 in the
// order colors are declared.
func NewLEDRailsAPI(version, urlPath string, colors []ColorSpec, remap []RemapRule, displayThreshold, updateInterval int64, randomize bool) *LEDRailsAPI {
	routeToColorID := make(map[string]int, len(colors))
	colorTable := make(map[int][3]int, len(colors))
	for i, c := range colors {
		routeToColorID[c.RouteID] = i
		colorTable[i] = c.RGB
	}

	return &LEDRailsAPI{
		Version:             version,
		URLPath:             urlPath,
		BlockRemap:          remap,
		DisplayThreshold:    displayThreshold,
		UpdateInterval:      updateInterval,
		RandomizeTimeOffset: randomize,
		RouteToColorID:      routeToColorID,
		Colors:              colorTable,
	}
}

// Publish atomically replaces the board's output (pointer-swap semantics
// required by spec.md Section 5, since HTTP handlers read concurrently
// with tick execution).
func (a *LEDRailsAPI) Publish(out *LEDRailsAPIOutput) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.output = out
}

// Output returns the most recently published output, or nil if no cycle
// has completed yet.
func (a *LEDRailsAPI) Output() *LEDRailsAPIOutput {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.output
}

// remapBlock finds the first matching rule for block, if any.
func (a *LEDRailsAPI) remapBlock(block int) int {
	for _, r := range a.BlockRemap {
		if remapped, ok := r.apply(block); ok {
			return remapped
		}
	}
	return block
}
