package led

import (
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/raillive/ledrails-ltm/internal/tracker"
)

// Generate builds and publishes one cycle's output for a board revision,
// per spec.md Section 4.8. trains is a roster snapshot; invisible is the
// full invisibleTrainIds set (pair detector plus alt-block excess).
func (a *LEDRailsAPI) Generate(now time.Time, trains map[string]tracker.TrainInfo, invisible map[string]struct{}) {
	nowSeconds := int64(math.Ceil(float64(now.UnixMilli()) / 1000))
	displayCutoff := nowSeconds - a.DisplayThreshold
	updateTime := nowSeconds - a.UpdateInterval

	updates := make([]LEDUpdate, 0, len(trains))
	for id, t := range trains {
		if _, hidden := invisible[id]; hidden {
			continue
		}
		if t.Timestamp < displayCutoff {
			continue
		}
		if t.CurrentBlock == nil || t.PreviousBlock == nil {
			continue
		}

		colorID, ok := a.RouteToColorID[t.Route]
		if !ok {
			log.Printf("led: %s: no color mapping for route %q, skipping update", a.Version, t.Route)
			continue
		}

		updates = append(updates, LEDUpdate{
			B: [2]int{a.remapBlock(*t.PreviousBlock), a.remapBlock(*t.CurrentBlock)},
			C: colorID,
			T: a.timeOffset(t, updateTime),
		})
	}

	out := &LEDRailsAPIOutput{
		Version:   a.Version,
		Timestamp: nowSeconds,
		Update:    a.UpdateInterval,
		Colors:    a.Colors,
		Updates:   updates,
	}
	a.Publish(out)
}

func (a *LEDRailsAPI) timeOffset(t tracker.TrainInfo, updateTime int64) int {
	if a.RandomizeTimeOffset {
		if *t.PreviousBlock == *t.CurrentBlock {
			return 0
		}
		if a.UpdateInterval <= 1 {
			return 0
		}
		return 1 + rand.Intn(int(a.UpdateInterval)-1)
	}

	offset := t.Timestamp - updateTime
	if offset < 0 {
		offset = 0
	}
	return int(offset)
}
