// Package network owns one rail network's entire pipeline state — fetcher,
// entity store, pair detector, roster, track blocks, stops, board
// revisions, and cache — and drives it through a periodic tick. No state
// is shared between Networks (spec.md Section 9's "no process-global
// mutable state" design note).
package network

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/raillive/ledrails-ltm/internal/boardlink"
	"github.com/raillive/ledrails-ltm/internal/cache"
	"github.com/raillive/ledrails-ltm/internal/config"
	"github.com/raillive/ledrails-ltm/internal/entitystore"
	"github.com/raillive/ledrails-ltm/internal/gtfsrt"
	"github.com/raillive/ledrails-ltm/internal/led"
	"github.com/raillive/ledrails-ltm/internal/pairdetector"
	"github.com/raillive/ledrails-ltm/internal/stops"
	"github.com/raillive/ledrails-ltm/internal/trackblock"
	"github.com/raillive/ledrails-ltm/internal/tracker"
)

// defaultCacheInterval is the save-timer period when a network's config.json
// omits cacheIntervalSeconds (spec.md Section 4.9).
const defaultCacheInterval = 30 * time.Second

// Board pairs a board revision's generator with its optional push-transport
// side channel.
type Board struct {
	API  *led.LEDRailsAPI
	Link *boardlink.Link // nil if no NATS/serial channel is configured
}

// Network is one railNetworks/<ID> pipeline.
type Network struct {
	ID string

	fetcher          *gtfsrt.Fetcher
	store            *entitystore.Store
	filterCfg        entitystore.FilterConfig
	pairs            *pairdetector.Detector
	roster           *tracker.Roster
	syncCfg          tracker.SyncConfig
	blockMap         *trackblock.Map
	stopsMap         stops.Map
	boards           []Board
	cacheDir         string
	cacheEnabled     bool
	cacheInterval    time.Duration
	fetchInterval    time.Duration
	displayThreshold time.Duration
	staleHours       float64
	pairTrains       bool

	ticking atomic.Bool

	mu            sync.RWMutex
	lastTickAt    time.Time
	lastSuccessAt time.Time
	lastErr       error
	startedAt     time.Time
}

// Status is the JSON shape served by GET /status (spec.md Section 6).
type Status struct {
	Status          string `json:"status"`
	Epoch           int64  `json:"epoch"`
	UptimeSeconds   int64  `json:"uptime"`
	RefreshInterval int64  `json:"refreshInterval"`
	TrackBlocks     int    `json:"trackBlocks"`
	Entities        int    `json:"entities"`
	TrackedTrains   int    `json:"trackedTrains"`
	LastError       string `json:"lastError,omitempty"`
}

// New constructs a Network from its decoded config.json and pre-loaded
// auxiliary data. apiKey is the network's GTFS-realtime credential, bound
// from an environment variable named by the network id (spec.md Section
// 4.10).
func New(id string, cfg *config.Network, apiKey string, blockMap *trackblock.Map, stopsMap stops.Map, cacheDir string) (*Network, error) {
	protocol := cfg.GTFSRealtimeAPI.Protocol
	fetcher := gtfsrt.NewFetcher(gtfsrt.Config{
		PositionURLs: cfg.GTFSRealtimeAPI.URL,
		TripURLs:     cfg.GTFSRealtimeAPI.TripsURL,
		KeyHeader:    cfg.GTFSRealtimeAPI.KeyHeader,
		APIKey:       apiKey,
		Protocol:     protocol,
		VendorFormat: cfg.GTFSRealtimeAPI.Format != "FeedMessage",
	})

	filterCfg := entitystore.FilterConfig{}
	if tf := cfg.TrainFilter.EntityID; tf != nil {
		filterCfg.Range = &entitystore.EntityIDRange{Start: tf.Start, End: tf.End}
	}
	if tf := cfg.TrainFilter.TripID; tf != nil {
		filterCfg.TripID = &entitystore.TripIDFilter{Includes: tf.Includes, Excludes: tf.Excludes}
	}

	displayThreshold := 300
	if cfg.ProcessingOptions.DisplayThreshold != nil {
		displayThreshold = *cfg.ProcessingOptions.DisplayThreshold
	}
	staleHours := 0.0
	if cfg.ProcessingOptions.RemoveStaleVehiclesHours != nil {
		staleHours = *cfg.ProcessingOptions.RemoveStaleVehiclesHours
	}

	cacheInterval := defaultCacheInterval
	if cfg.ProcessingOptions.CacheIntervalSeconds != nil {
		cacheInterval = time.Duration(*cfg.ProcessingOptions.CacheIntervalSeconds) * time.Second
	}

	boards, err := buildBoards(id, cfg, cfg.NATSURL, int64(displayThreshold))
	if err != nil {
		return nil, err
	}

	n := &Network{
		ID:               id,
		fetcher:          fetcher,
		store:            entitystore.New(),
		filterCfg:        filterCfg,
		pairs:            pairdetector.New(pairdetector.DefaultConfig()),
		roster:           tracker.NewRoster(),
		syncCfg:          tracker.DefaultSyncConfig(),
		blockMap:         blockMap,
		stopsMap:         stopsMap,
		boards:           boards,
		cacheDir:         cacheDir,
		cacheEnabled:     cfg.ProcessingOptions.CacheGTFS,
		cacheInterval:    cacheInterval,
		fetchInterval:    time.Duration(cfg.GTFSRealtimeAPI.FetchIntervalSeconds) * time.Second,
		displayThreshold: time.Duration(displayThreshold) * time.Second,
		staleHours:       staleHours,
		pairTrains:       cfg.ProcessingOptions.PairTrains,
		startedAt:        time.Now(),
	}
	return n, nil
}

func buildBoards(networkID string, cfg *config.Network, natsURL string, displayThreshold int64) ([]Board, error) {
	colors, err := cfg.LEDRailsAPI.OrderedColors()
	if err != nil {
		return nil, fmt.Errorf("network %s: %w", networkID, err)
	}
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}

	var boards []Board
	for _, v := range cfg.LEDRailsAPI.APIVersions {
		api := led.NewLEDRailsAPI(
			v.Version,
			"/"+v.Version+".json",
			colors,
			v.BlockRemap,
			displayThreshold,
			int64(cfg.GTFSRealtimeAPI.FetchIntervalSeconds),
			cfg.LEDRailsAPI.RandomizeTimeOffset,
		)

		var link *boardlink.Link
		switch {
		case v.NATSSubject != "":
			link, err = boardlink.NewNATSLink(v.Version, natsURL, v.NATSSubject)
		case v.SerialPort != "":
			baud := v.SerialBaud
			if baud == 0 {
				baud = 9600
			}
			link, err = boardlink.NewSerialLink(v.Version, v.SerialPort, baud)
		}
		if err != nil {
			log.Printf("network %s: board %s: push channel unavailable: %v", networkID, v.Version, err)
			link = nil
		}

		boards = append(boards, Board{API: api, Link: link})
	}
	return boards, nil
}

// RestoreCache loads the entity store and train-pair cache for this
// network, if present. A missing cache is not an error (spec.md Section
// 4.9).
func (n *Network) RestoreCache() error {
	var entities map[string]gtfsrt.Entity
	if err := cache.Restore(n.cacheDir, "entities", &entities); err != nil {
		return err
	}
	if entities != nil {
		n.store.LoadSnapshot(entities)
	}

	var pairs []pairdetector.Pair
	if err := cache.Restore(n.cacheDir, "trainPairs", &pairs); err != nil {
		return err
	}
	if pairs != nil {
		n.pairs.LoadPairs(pairs)
	}
	return nil
}

// SaveCache persists the entity store and train pairs to disk.
func (n *Network) SaveCache() {
	if err := cache.Save(n.cacheDir, "entities", n.store.Snapshot()); err != nil {
		log.Printf("network %s: cache save entities: %v", n.ID, err)
	}
	if err := cache.Save(n.cacheDir, "trainPairs", n.pairs.Pairs()); err != nil {
		log.Printf("network %s: cache save trainPairs: %v", n.ID, err)
	}
}

// CachePolicy reports whether this network wants periodic cache persistence
// (processingOptions.cacheGTFS) and at what interval
// (processingOptions.cacheIntervalSeconds, default 30s).
func (n *Network) CachePolicy() (enabled bool, interval time.Duration) {
	return n.cacheEnabled, n.cacheInterval
}

// Run drives the periodic tick loop until ctx is cancelled. A tick that
// overruns fetchIntervalSeconds is never re-entered (guard flag, spec.md
// Section 5); an in-flight tick is allowed to finish.
func (n *Network) Run(ctx context.Context) {
	n.Tick(ctx)

	ticker := time.NewTicker(n.fetchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !n.ticking.CompareAndSwap(false, true) {
				log.Printf("network %s: tick still running, skipping this interval", n.ID)
				continue
			}
			go func() {
				defer n.ticking.Store(false)
				n.Tick(ctx)
			}()
		}
	}
}

// Tick runs one full fetch -> filter -> pair detect -> sync -> assign ->
// generate cycle. Any panic is recovered and logged so it can never take
// down another network's loop (spec.md Section 7).
func (n *Network) Tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("network %s: tick panic recovered: %v", n.ID, r)
			n.recordResult(fmt.Errorf("panic: %v", r))
		}
	}()

	entities, err := n.fetcher.Fetch(ctx)
	if err != nil {
		log.Printf("network %s: fetch: %v", n.ID, err)
		n.recordResult(err)
		return
	}

	n.store.Merge(entities)
	if n.staleHours > 0 {
		n.store.Evict(time.Now(), n.staleHours)
	}

	filtered := entitystore.Apply(n.store.Snapshot(), n.filterCfg)

	now := time.Now()
	invisible := map[string]struct{}{}
	if n.pairTrains {
		byID := make(map[string]gtfsrt.Entity, len(filtered))
		for _, e := range filtered {
			byID[e.VehicleID] = e
		}
		invisible = n.pairs.Update(now, byID)
	}

	n.roster.Sync(now, filtered, n.syncCfg)

	if n.blockMap != nil {
		invisible = n.roster.Assign(now, n.blockMap, n.displayThreshold, invisible)
	}

	snap := n.roster.Snapshot()
	for _, b := range n.boards {
		b.API.Generate(now, snap, invisible)
		if b.Link != nil {
			b.Link.Push(b.API.Output())
		}
	}

	n.recordResult(nil)
}

func (n *Network) recordResult(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastTickAt = time.Now()
	n.lastErr = err
	if err == nil {
		n.lastSuccessAt = n.lastTickAt
	}
}

// Status reports this network's inspection summary for GET /status.
func (n *Network) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()

	s := Status{
		Status:          "ok",
		Epoch:           time.Now().Unix(),
		UptimeSeconds:   int64(time.Since(n.startedAt).Seconds()),
		RefreshInterval: int64(n.fetchInterval.Seconds()),
		Entities:        n.store.Len(),
		TrackedTrains:   n.roster.Len(),
	}
	if n.blockMap != nil {
		s.TrackBlocks = n.blockMap.Len()
	}
	if n.lastSuccessAt.IsZero() {
		s.Status = "pending"
	}
	if n.lastErr != nil {
		s.LastError = n.lastErr.Error()
	}
	return s
}

// HasSucceeded reports whether at least one tick has completed
// successfully, gating the 503 fallback of spec.md Section 7.
func (n *Network) HasSucceeded() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return !n.lastSuccessAt.IsZero()
}

// Board looks up a board revision by its version string.
func (n *Network) Board(version string) (*led.LEDRailsAPI, bool) {
	for _, b := range n.boards {
		if b.API.Version == version {
			return b.API, true
		}
	}
	return nil, false
}

// VehicleSnapshot returns the raw entity store, for GET /api/vehicles.
func (n *Network) VehicleSnapshot() map[string]gtfsrt.Entity {
	return n.store.Snapshot()
}

// FilteredTrains returns this cycle's filtered train entities, for GET
// /api/vehicles/trains.
func (n *Network) FilteredTrains() []gtfsrt.Entity {
	return entitystore.Apply(n.store.Snapshot(), n.filterCfg)
}

// RosterSnapshot returns the tracked-train roster, for GET /api/trackedtrains.
func (n *Network) RosterSnapshot() map[string]tracker.TrainInfo {
	return n.roster.Snapshot()
}

// Stops returns the loaded stops map, or nil if the network has none
// configured.
func (n *Network) Stops() stops.Map {
	return n.stopsMap
}
