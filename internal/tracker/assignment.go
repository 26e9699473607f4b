package tracker

import (
	"sort"
	"time"

	"github.com/raillive/ledrails-ltm/internal/geometry"
	"github.com/raillive/ledrails-ltm/internal/trackblock"
)

const outOfServiceRoute = "OUT-OF-SERVICE"

// Assign runs the four-pass block-assignment algorithm of spec.md Section
// 4.7 against the roster's current trains, given this cycle's pair-detector
// invisibility set. It returns the full invisibleTrainIds set for the
// cycle: the input set plus any excess occupants found during the
// alt-block pass.
func (r *Roster) Assign(now time.Time, blockMap *trackblock.Map, displayThreshold time.Duration, invisible map[string]struct{}) map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]struct{}, len(invisible))
	for id := range invisible {
		out[id] = struct{}{}
	}

	cutoff := now.Add(-displayThreshold).Unix()
	excluded := make(map[string]struct{})

	for id, t := range r.trains {
		if (t.Lat == 0 && t.Lon == 0) || t.Timestamp < cutoff {
			t.CurrentBlock = nil
			t.PreviousBlock = nil
			excluded[id] = struct{}{}
		}
	}

	for id, t := range r.trains {
		if _, skip := excluded[id]; skip {
			continue
		}
		if sticky(t, blockMap) {
			continue
		}
		if !search(t, blockMap) {
			t.CurrentBlock = nil
			t.PreviousBlock = nil
		}
	}

	altBlockPass(r.trains, blockMap, out)

	return out
}

// sticky reports whether t remains validly inside its existing
// currentBlock (resolved through platform/altBlock indirection), updating
// previousBlock in place if so.
func sticky(t *TrainInfo, blockMap *trackblock.Map) bool {
	if t.CurrentBlock == nil {
		return false
	}
	owner, ok := blockMap.ResolveBlock(*t.CurrentBlock)
	if !ok {
		return false
	}
	if !owner.Contains(t.Lat, t.Lon) || !owner.AllowsRoute(t.Route) {
		return false
	}
	cur := *t.CurrentBlock
	t.PreviousBlock = &cur
	return true
}

// search iterates blockMap in canonical order looking for the first block
// that contains t and permits its route, resolving platform disambiguation
// when the block defines platforms. Reports whether a block was found.
func search(t *TrainInfo, blockMap *trackblock.Map) bool {
	found := false
	var chosen int

	blockMap.Each(func(b trackblock.TrackBlock) bool {
		if !b.Contains(t.Lat, t.Lon) || !b.AllowsRoute(t.Route) {
			return true
		}

		chosen = choosePlatform(t, b)
		found = true
		return false
	})

	if !found {
		return false
	}

	prev := t.CurrentBlock
	if prev == nil {
		zero := 0
		prev = &zero
	}
	t.PreviousBlock = prev
	t.CurrentBlock = &chosen
	return true
}

// choosePlatform resolves which number within block b a train should be
// assigned, trying stop-id match, then bearing-gated default platform,
// then bearing-less default platform, falling back to the block itself.
func choosePlatform(t *TrainInfo, b trackblock.TrackBlock) int {
	if len(b.Platforms) == 0 {
		return b.BlockNumber
	}

	for _, p := range b.Platforms {
		for _, s := range t.Stops {
			if p.HasStop(s.StopID) {
				return p.BlockNumber
			}
		}
	}

	if t.Bearing != nil {
		for _, p := range b.Platforms {
			if p.IsDefault && p.Bearing != nil && geometry.BearingDifference(*p.Bearing, *t.Bearing) <= 90 {
				return p.BlockNumber
			}
		}
	}

	for _, p := range b.Platforms {
		if p.IsDefault && p.Bearing == nil {
			return p.BlockNumber
		}
	}

	return b.BlockNumber
}

// altBlockPass resolves blocks occupied by more than one non-invisible
// train: the first (by ascending route, OUT-OF-SERVICE last) keeps the
// block, the second moves to altBlock if one exists and no visible train
// already holds it, and any further trains are marked invisible without
// touching currentBlock.
func altBlockPass(trains map[string]*TrainInfo, blockMap *trackblock.Map, invisible map[string]struct{}) {
	blockMap.Each(func(b trackblock.TrackBlock) bool {
		var occupants []*TrainInfo
		for id, t := range trains {
			if _, hidden := invisible[id]; hidden {
				continue
			}
			if t.CurrentBlock != nil && *t.CurrentBlock == b.BlockNumber {
				occupants = append(occupants, t)
			}
		}
		if len(occupants) <= 1 {
			return true
		}

		sort.SliceStable(occupants, func(i, j int) bool {
			return routeLess(occupants[i].Route, occupants[j].Route)
		})

		if b.AltBlock != nil && !blockHeld(trains, *b.AltBlock, invisible) {
			alt := *b.AltBlock
			occupants[1].CurrentBlock = &alt
			occupants = occupants[2:]
		} else {
			occupants = occupants[1:]
		}
		for _, t := range occupants {
			invisible[t.VehicleID] = struct{}{}
		}
		return true
	})
}

// blockHeld reports whether a non-invisible train currently occupies block.
func blockHeld(trains map[string]*TrainInfo, block int, invisible map[string]struct{}) bool {
	for id, t := range trains {
		if _, hidden := invisible[id]; hidden {
			continue
		}
		if t.CurrentBlock != nil && *t.CurrentBlock == block {
			return true
		}
	}
	return false
}

func routeLess(a, b string) bool {
	if a == outOfServiceRoute {
		return false
	}
	if b == outOfServiceRoute {
		return true
	}
	return a < b
}
