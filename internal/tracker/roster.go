package tracker

import (
	"time"

	"github.com/raillive/ledrails-ltm/internal/geometry"
	"github.com/raillive/ledrails-ltm/internal/gtfsrt"
)

// SyncConfig exposes the roster-sync heuristics spec.md Section 9 flags as
// open questions rather than hardcoded constants.
type SyncConfig struct {
	SmoothingFactor        float64       // default 0.95, weight given to the old position
	StationarySpeedMPS     float64       // default 0, both old and new speed must be <= this to smooth (a missing old speed counts as stationary)
	BearingGateMinMPS      float64       // default 4
	BearingGateMaxMPS      float64       // default 55
	StopPastDueWindow      time.Duration // default 10 minutes
}

// DefaultSyncConfig returns the heuristic defaults spec.md names.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		SmoothingFactor:    0.95,
		StationarySpeedMPS: 0,
		BearingGateMinMPS:  4,
		BearingGateMaxMPS:  55,
		StopPastDueWindow:  10 * time.Minute,
	}
}

// Sync updates the roster from one cycle's filtered train entities, per
// spec.md Section 4.6.
func (r *Roster) Sync(now time.Time, entities []gtfsrt.Entity, cfg SyncConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range entities {
		if e.VehicleID == "" {
			continue
		}
		existing, ok := r.trains[e.VehicleID]
		if !ok {
			r.trains[e.VehicleID] = newTrainInfo(e)
			continue
		}
		if e.Position == nil {
			continue
		}
		if e.Position.Lat == existing.Lat && e.Position.Lon == existing.Lon {
			continue
		}
		syncExisting(existing, e, now, cfg)
	}
}

func newTrainInfo(e gtfsrt.Entity) *TrainInfo {
	t := &TrainInfo{
		VehicleID: e.VehicleID,
		Timestamp: e.Timestamp,
		Route:     normalizeRoute(e.Trip.RouteID),
		TripID:    e.Trip.TripID,
		Stops:     stopsFromUpdates(e.StopTimeUpdate),
	}
	if e.Position != nil {
		t.Lat = e.Position.Lat
		t.Lon = e.Position.Lon
		t.Speed = e.Position.Speed
		t.Bearing = e.Position.Bearing
	}
	return t
}

func syncExisting(t *TrainInfo, e gtfsrt.Entity, now time.Time, cfg SyncConfig) {
	newLat, newLon := e.Position.Lat, e.Position.Lon
	oldLat, oldLon := t.Lat, t.Lon

	var speed float64
	switch {
	case e.Position.Speed != nil:
		speed = *e.Position.Speed
		oldZero := t.Speed == nil || *t.Speed <= cfg.StationarySpeedMPS
		newZero := speed <= cfg.StationarySpeedMPS
		if oldZero && newZero {
			t.Lat = cfg.SmoothingFactor*t.Lat + (1-cfg.SmoothingFactor)*newLat
			t.Lon = cfg.SmoothingFactor*t.Lon + (1-cfg.SmoothingFactor)*newLon
		} else {
			t.Lat, t.Lon = newLat, newLon
		}
	default:
		dt := e.Timestamp - t.Timestamp
		if dt > 0 {
			dist := geometry.HaversineDistance(t.Lat, t.Lon, newLat, newLon)
			speed = dist / float64(dt)
		}
		t.Lat, t.Lon = newLat, newLon
	}

	if speed > cfg.BearingGateMinMPS && speed < cfg.BearingGateMaxMPS {
		if e.Position.Bearing != nil {
			b := geometry.NormalizeBearing(*e.Position.Bearing)
			t.Bearing = &b
		} else {
			b := geometry.Bearing(oldLat, oldLon, newLat, newLon)
			t.Bearing = &b
		}
	}

	t.Speed = &speed
	t.Timestamp = e.Timestamp
	t.Route = normalizeRoute(e.Trip.RouteID)
	t.TripID = e.Trip.TripID
	t.Stops = mergeStops(t.Stops, stopsFromUpdates(e.StopTimeUpdate), now, cfg.StopPastDueWindow)
}

// normalizeRoute applies spec.md Section 3's TrainInfo.route contract: a
// missing route is reported as the OUT-OF-SERVICE sentinel, never "", so
// the alt-block pass's ascending-route ordering sorts it last instead of
// first.
func normalizeRoute(routeID string) string {
	if routeID == "" {
		return outOfServiceRoute
	}
	return routeID
}

func stopsFromUpdates(updates []gtfsrt.StopTimeUpdate) []StopETA {
	out := make([]StopETA, 0, len(updates))
	for _, u := range updates {
		out = append(out, StopETA{StopID: u.StopID, DepartureTime: u.DepartureTime})
	}
	return out
}

// mergeStops upserts by stopId keeping the latest departureTime, then drops
// stops whose departureTime is more than window in the past, except entries
// with departureTime == 0 which are always kept (spec.md Section 4.6).
func mergeStops(existing, incoming []StopETA, now time.Time, window time.Duration) []StopETA {
	merged := make(map[string]StopETA, len(existing)+len(incoming))
	for _, s := range existing {
		merged[s.StopID] = s
	}
	for _, s := range incoming {
		if cur, ok := merged[s.StopID]; !ok || s.DepartureTime > cur.DepartureTime {
			merged[s.StopID] = s
		}
	}

	cutoff := now.Add(-window).Unix()
	out := make([]StopETA, 0, len(merged))
	for _, s := range merged {
		if s.DepartureTime == 0 || s.DepartureTime >= cutoff {
			out = append(out, s)
		}
	}
	return out
}
