// Package entitystore holds the per-network, newest-wins map of vehicle id
// to GTFS-realtime Entity (spec.md Section 4.4), including stale-vehicle
// eviction.
package entitystore

import (
	"strconv"
	"sync"
	"time"

	"github.com/raillive/ledrails-ltm/internal/gtfsrt"
)

// Store is a concurrency-safe vehicleId -> Entity map. Reads (the
// inspection HTTP endpoints) may run concurrently with a tick's write at
// the end of a cycle.
type Store struct {
	mu       sync.RWMutex
	entities map[string]gtfsrt.Entity
}

// New returns an empty Store.
func New() *Store {
	return &Store{entities: make(map[string]gtfsrt.Entity)}
}

// Merge folds a freshly fetched batch into the store: within the batch,
// the entity with the latest timestamp wins per vehicle id; the result
// then overwrites the store's prior entry for that vehicle. Vehicles
// absent from this batch are left untouched — they persist in the store
// until Evict removes them (spec.md: "union with the prior cycle's store
// before deduplication").
func (s *Store) Merge(batch []gtfsrt.Entity) {
	deduped := dedupeNewestWins(batch)

	s.mu.Lock()
	defer s.mu.Unlock()
	for vehicleID, e := range deduped {
		s.entities[vehicleID] = e
	}
}

func dedupeNewestWins(batch []gtfsrt.Entity) map[string]gtfsrt.Entity {
	deduped := make(map[string]gtfsrt.Entity, len(batch))
	for _, e := range batch {
		key := e.VehicleID
		if key == "" {
			key = e.ID
		}
		if key == "" {
			continue
		}
		existing, ok := deduped[key]
		if !ok || e.Timestamp >= existing.Timestamp {
			deduped[key] = e
		}
	}
	return deduped
}

// Evict drops entries whose vehicle.timestamp is older than
// removeStaleVehiclesHours relative to now.
func (s *Store) Evict(now time.Time, removeStaleVehiclesHours float64) {
	if removeStaleVehiclesHours <= 0 {
		return
	}
	cutoffMillis := now.Add(-time.Duration(removeStaleVehiclesHours * float64(time.Hour))).UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entities {
		if e.Timestamp*1000 < cutoffMillis {
			delete(s.entities, id)
		}
	}
}

// Snapshot returns a shallow copy of the current store contents, safe to
// range over without holding the lock.
func (s *Store) Snapshot() map[string]gtfsrt.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]gtfsrt.Entity, len(s.entities))
	for k, v := range s.entities {
		out[k] = v
	}
	return out
}

// Len reports the number of tracked entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// LoadSnapshot replaces the store's contents wholesale, used by the cache
// layer to restore persisted state at startup.
func (s *Store) LoadSnapshot(entities map[string]gtfsrt.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = entities
}

// entityNumericID parses the GTFS-realtime entity.id as a number for the
// entityID.{start,end} train filter. Non-numeric ids never match a range
// filter.
func entityNumericID(id string) (int, bool) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return 0, false
	}
	return n, true
}
