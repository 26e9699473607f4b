package entitystore

import (
	"strings"

	"github.com/raillive/ledrails-ltm/internal/gtfsrt"
)

// EntityIDRange keeps entities whose numeric entity.id falls within
// [Start, End].
type EntityIDRange struct {
	Start int
	End   int
}

// TripIDFilter keeps entities by substring match against the trip id.
type TripIDFilter struct {
	Includes []string
	Excludes []string
}

// FilterConfig is a network's trainFilter block. At most one of Range or
// TripID should be set — they're mutually exclusive by config (spec.md
// Section 4.4); an empty FilterConfig passes every entity through.
type FilterConfig struct {
	Range  *EntityIDRange
	TripID *TripIDFilter
}

// Apply returns the subset of entities this config keeps as "trains".
func Apply(entities map[string]gtfsrt.Entity, cfg FilterConfig) []gtfsrt.Entity {
	out := make([]gtfsrt.Entity, 0, len(entities))
	for _, e := range entities {
		if matches(e, cfg) {
			out = append(out, e)
		}
	}
	return out
}

func matches(e gtfsrt.Entity, cfg FilterConfig) bool {
	switch {
	case cfg.Range != nil:
		n, ok := entityNumericID(e.ID)
		if !ok {
			return false
		}
		return n >= cfg.Range.Start && n <= cfg.Range.End

	case cfg.TripID != nil:
		tripID := e.Trip.TripID
		for _, excl := range cfg.TripID.Excludes {
			if excl != "" && strings.Contains(tripID, excl) {
				return false
			}
		}
		if len(cfg.TripID.Includes) == 0 {
			return true
		}
		for _, incl := range cfg.TripID.Includes {
			if incl != "" && strings.Contains(tripID, incl) {
				return true
			}
		}
		return false

	default:
		return true
	}
}
