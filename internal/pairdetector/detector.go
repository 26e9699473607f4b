package pairdetector

import (
	"sort"
	"sync"
	"time"

	"github.com/raillive/ledrails-ltm/internal/geometry"
	"github.com/raillive/ledrails-ltm/internal/gtfsrt"
)

// Config holds the tunable thresholds from spec.md Section 4.5.
type Config struct {
	BreakDistanceMeters float64       // default 2000
	MinSpeedMPS         float64       // default 3
	MaxSpeedMPS         float64       // default 35
	MaxSpeedDiffMPS     float64       // default 3
	MaxBearingDiffDeg   float64       // default 5
	TrainLengthMeters   float64       // subtracted twice from raw distance
	RecentWindow        time.Duration // default 30s
}

// DefaultConfig returns the thresholds spec.md names as typical defaults.
func DefaultConfig() Config {
	return Config{
		BreakDistanceMeters: 2000,
		MinSpeedMPS:         3,
		MaxSpeedMPS:         35,
		MaxSpeedDiffMPS:     3,
		MaxBearingDiffDeg:   5,
		TrainLengthMeters:   150,
		RecentWindow:        30 * time.Second,
	}
}

// Detector maintains the set of currently coupled pairs for one network.
type Detector struct {
	mu    sync.Mutex
	cfg   Config
	pairs []Pair
}

// New creates a Detector with no pairs.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Pairs returns a copy of the currently active pairs (used by the cache
// layer to persist state across restarts).
func (d *Detector) Pairs() []Pair {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Pair, len(d.pairs))
	copy(out, d.pairs)
	return out
}

// LoadPairs replaces the active pair set, used when restoring from cache.
func (d *Detector) LoadPairs(pairs []Pair) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pairs = pairs
}

// Update runs the break phase then the detect phase against the current
// filtered train set, and returns the set of vehicle ids suppressed this
// cycle ("invisible").
func (d *Detector) Update(now time.Time, trains map[string]gtfsrt.Entity) map[string]struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()

	excluded := d.pairedVehicles()
	d.breakPhase(trains)
	d.detectPhase(now, trains, excluded)
	return d.invisibleSet(trains)
}

// breakPhase removes any pair whose two vehicles are no longer within
// BreakDistanceMeters of each other. Both vehicles of every existing pair
// — whether the pair survives or breaks — are excluded from this cycle's
// new-pair detection (spec.md Section 4.5).
func (d *Detector) breakPhase(trains map[string]gtfsrt.Entity) {
	survivors := d.pairs[:0:0]
	for _, p := range d.pairs {
		a, okA := trains[p.VehicleIDs[0]]
		b, okB := trains[p.VehicleIDs[1]]

		if okA && okB && a.Position != nil && b.Position != nil {
			dist := geometry.HaversineDistance(a.Position.Lat, a.Position.Lon, b.Position.Lat, b.Position.Lon)
			if dist <= d.cfg.BreakDistanceMeters {
				survivors = append(survivors, p)
			}
			continue
		}
		// Missing or positionless vehicles: keep the pair dormant rather
		// than discard it — it may simply have dropped out of the feed
		// for one cycle. It is still excluded from re-detection below.
		survivors = append(survivors, p)
	}
	d.pairs = survivors
}

func (d *Detector) pairedVehicles() map[string]struct{} {
	excluded := make(map[string]struct{}, len(d.pairs)*2)
	for _, p := range d.pairs {
		excluded[p.VehicleIDs[0]] = struct{}{}
		excluded[p.VehicleIDs[1]] = struct{}{}
	}
	return excluded
}

// detectPhase greedily pairs up remaining candidate vehicles meeting the
// proximity/speed/bearing/route criteria of spec.md Section 4.5.
func (d *Detector) detectPhase(now time.Time, trains map[string]gtfsrt.Entity, excluded map[string]struct{}) {
	candidates := d.candidates(now, trains, excluded)

	paired := make(map[string]struct{})
	for i := 0; i < len(candidates); i++ {
		idA := candidates[i]
		if _, done := paired[idA]; done {
			continue
		}
		a := trains[idA]

		for j := i + 1; j < len(candidates); j++ {
			idB := candidates[j]
			if _, done := paired[idB]; done {
				continue
			}
			b := trains[idB]

			criteria, ok := d.evaluate(a, b)
			if !ok {
				continue
			}

			key, ids := pairKey(idA, idB)
			d.pairs = append(d.pairs, Pair{
				PairKey:    key,
				VehicleIDs: ids,
				DetectedAt: now.Unix(),
				Criteria:   criteria,
			})
			paired[idA] = struct{}{}
			paired[idB] = struct{}{}
			break
		}
	}
}

func (d *Detector) candidates(now time.Time, trains map[string]gtfsrt.Entity, excluded map[string]struct{}) []string {
	cutoff := now.Add(-d.cfg.RecentWindow).Unix()

	var ids []string
	for id, e := range trains {
		if _, skip := excluded[id]; skip {
			continue
		}
		if e.Position == nil {
			continue
		}
		if e.Position.Speed == nil || *e.Position.Speed < d.cfg.MinSpeedMPS {
			continue
		}
		if e.Timestamp < cutoff {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic greedy pairing order across cycles
	return ids
}

// evaluate applies the five rejection criteria of spec.md Section 4.5,
// returning the snapshot criteria and true if the pair is valid.
func (d *Detector) evaluate(a, b gtfsrt.Entity) (Criteria, bool) {
	dist := geometry.HaversineDistance(a.Position.Lat, a.Position.Lon, b.Position.Lat, b.Position.Lon)
	adjusted := dist - 2*d.cfg.TrainLengthMeters
	if adjusted < 0 {
		adjusted = 0
	}
	if adjusted > 2*d.cfg.TrainLengthMeters {
		return Criteria{}, false
	}

	dt := a.Timestamp - b.Timestamp
	if dt < 0 {
		dt = -dt
	}
	var impliedSpeed float64
	if dt > 0 {
		impliedSpeed = dist / float64(dt)
	}
	if impliedSpeed > d.cfg.MaxSpeedMPS {
		return Criteria{}, false
	}

	speedDiff := 0.0
	if a.Position.Speed != nil && b.Position.Speed != nil {
		speedDiff = *a.Position.Speed - *b.Position.Speed
		if speedDiff < 0 {
			speedDiff = -speedDiff
		}
	}
	if speedDiff > d.cfg.MaxSpeedDiffMPS {
		return Criteria{}, false
	}

	bearingDiff := 0.0
	if a.Position.Bearing != nil && b.Position.Bearing != nil {
		bearingDiff = geometry.BearingDifference(*a.Position.Bearing, *b.Position.Bearing)
	}
	if bearingDiff > d.cfg.MaxBearingDiffDeg {
		return Criteria{}, false
	}

	if a.Trip.RouteID != "" && b.Trip.RouteID != "" && a.Trip.RouteID != b.Trip.RouteID {
		return Criteria{}, false
	}

	return Criteria{
		DistanceMeters:  dist,
		ImpliedSpeedMPS: impliedSpeed,
		SpeedDiffMPS:    speedDiff,
		BearingDiffDeg:  bearingDiff,
	}, true
}

// invisibleSet designates one vehicle per pair as suppressed: prefer
// hiding whichever has an empty/absent route id, otherwise hide the
// second id of the sorted pair (spec.md's chosen resolution of its two
// open invisibility rules — see DESIGN.md).
func (d *Detector) invisibleSet(trains map[string]gtfsrt.Entity) map[string]struct{} {
	invisible := make(map[string]struct{}, len(d.pairs))
	for _, p := range d.pairs {
		a := trains[p.VehicleIDs[0]]
		b := trains[p.VehicleIDs[1]]

		switch {
		case a.Trip.RouteID == "" && b.Trip.RouteID != "":
			invisible[p.VehicleIDs[0]] = struct{}{}
		case b.Trip.RouteID == "" && a.Trip.RouteID != "":
			invisible[p.VehicleIDs[1]] = struct{}{}
		default:
			invisible[p.VehicleIDs[1]] = struct{}{}
		}
	}
	return invisible
}
