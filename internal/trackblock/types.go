// Package trackblock models the physical rail map as a set of polygonal
// track blocks loaded once at startup from a KML-like placemark file. The
// tracker package assigns trains to these blocks during each cycle.
package trackblock

import (
	"strings"

	"github.com/raillive/ledrails-ltm/internal/geometry"
)

// Platform disambiguates a block into sub-positions (e.g. platforms 3/4 of
// a station) by stop id or approach bearing.
type Platform struct {
	BlockNumber int
	StopIDs     map[string]struct{}
	IsDefault   bool
	Bearing     *float64 // degrees, normalized to [0, 360), nil if unset
	Routes      []string
}

// HasStop reports whether stopID is one of the platform's stop ids.
func (p Platform) HasStop(stopID string) bool {
	if p.StopIDs == nil {
		return false
	}
	_, ok := p.StopIDs[stopID]
	return ok
}

// AllowsRoute reports whether route is permitted by the platform's route
// filter. An empty filter allows every route.
func (p Platform) AllowsRoute(route string) bool {
	return routeAllowed(p.Routes, route)
}

// TrackBlock is an immutable polygonal region of the rail map, corresponding
// to one addressable LED on the downstream display board.
type TrackBlock struct {
	BlockNumber int
	AltBlock    *int
	Name        string
	Priority    bool
	Routes      []string
	Polygon     []geometry.Point
	Platforms   []Platform
}

// AllowsRoute reports whether route is permitted by the block's route
// filter (substring match, not equality). An empty filter allows every
// route.
func (b TrackBlock) AllowsRoute(route string) bool {
	return routeAllowed(b.Routes, route)
}

// Contains reports whether (lat, lon) falls inside the block's polygon.
func (b TrackBlock) Contains(lat, lon float64) bool {
	return geometry.IsPointInPolygon(lat, lon, b.Polygon)
}

func routeAllowed(filter []string, route string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f != "" && strings.Contains(route, f) {
			return true
		}
	}
	return false
}

// Map is the ordered blockNumber -> TrackBlock mapping. Iteration order is
// a contract the block-assignment search depends on: blocks with a route
// filter before routeless blocks, then priority blocks before non-priority,
// then insertion order within each group.
type Map struct {
	order    []int
	blocks   map[int]TrackBlock
	altIdx   map[int]int // altBlock -> owning blockNumber
	platIdx  map[int]int // platform blockNumber -> owning blockNumber
}

// NewMap builds a Map from blocks in the order they should be considered
// when already canonically sorted by the loader.
func NewMap(blocks []TrackBlock) *Map {
	m := &Map{
		order:   make([]int, 0, len(blocks)),
		blocks:  make(map[int]TrackBlock, len(blocks)),
		altIdx:  make(map[int]int),
		platIdx: make(map[int]int),
	}
	for _, b := range blocks {
		m.order = append(m.order, b.BlockNumber)
		m.blocks[b.BlockNumber] = b
		if b.AltBlock != nil {
			m.altIdx[*b.AltBlock] = b.BlockNumber
		}
		for _, p := range b.Platforms {
			m.platIdx[p.BlockNumber] = b.BlockNumber
		}
	}
	return m
}

// ResolveBlock looks up the owning TrackBlock for a currentBlock value that
// may be a block's own number, one of its platform numbers, or its
// altBlock.
func (m *Map) ResolveBlock(blockNumber int) (TrackBlock, bool) {
	if b, ok := m.blocks[blockNumber]; ok {
		return b, ok
	}
	if owner, ok := m.platIdx[blockNumber]; ok {
		return m.blocks[owner], true
	}
	if owner, ok := m.altIdx[blockNumber]; ok {
		return m.blocks[owner], true
	}
	return TrackBlock{}, false
}

// Get looks up a block by its own blockNumber only; altBlock and platform
// numbers are not resolved here (see ResolveBlock).
func (m *Map) Get(blockNumber int) (TrackBlock, bool) {
	b, ok := m.blocks[blockNumber]
	return b, ok
}

// Owner returns the blockNumber whose altBlock equals blockNumber, if any.
func (m *Map) Owner(altBlock int) (int, bool) {
	owner, ok := m.altIdx[altBlock]
	return owner, ok
}

// IsKnown reports whether blockNumber is a block's own number or someone's
// altBlock.
func (m *Map) IsKnown(blockNumber int) bool {
	if _, ok := m.blocks[blockNumber]; ok {
		return true
	}
	_, ok := m.altIdx[blockNumber]
	return ok
}

// Each iterates blocks in canonical order.
func (m *Map) Each(fn func(TrackBlock) bool) {
	for _, num := range m.order {
		if !fn(m.blocks[num]) {
			return
		}
	}
}

// Len returns the number of blocks in the map.
func (m *Map) Len() int {
	return len(m.order)
}
