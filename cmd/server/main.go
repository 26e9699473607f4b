// Command server is the live-tracking middleware process: it discovers
// every configured rail network, drives each one's fetch/filter/assign/
// generate tick loop independently, and serves their inspection HTTP
// surfaces from a single process (spec.md Sections 2, 5 and 9).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/raillive/ledrails-ltm/internal/config"
	"github.com/raillive/ledrails-ltm/internal/network"
	"github.com/raillive/ledrails-ltm/internal/server"
	"github.com/raillive/ledrails-ltm/internal/stops"
	"github.com/raillive/ledrails-ltm/internal/trackblock"
)

// build is set by the release pipeline; conf.Version surfaces it on
// --version.
var build = "develop"

func main() {
	log.Println("Starting live-tracking middleware...")

	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	cfg, err := config.ParseGlobal(build, os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ═══════════════════════════════════════════════════════
	// PHASE 1: Discover and construct every rail network
	// ═══════════════════════════════════════════════════════
	networks, err := loadNetworks(cfg)
	if err != nil {
		log.Fatalf("loading networks: %v", err)
	}
	if len(networks) == 0 {
		log.Fatalf("no rail networks found under %s", cfg.Paths.RailNetworksDir)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ═══════════════════════════════════════════════════════
	// PHASE 2: Restore cached state, then start each tick loop
	// ═══════════════════════════════════════════════════════
	for id, n := range networks {
		if err := n.RestoreCache(); err != nil {
			log.Printf("network %s: cache restore: %v", id, err)
		}
		go n.Run(ctx)

		// Independent periodic cache-save timer, decoupled from this
		// network's own fetch interval (spec.md Section 4.9), gated on
		// processingOptions.cacheGTFS.
		if enabled, interval := n.CachePolicy(); enabled {
			go cacheSaveLoop(ctx, n, interval)
		}
	}

	// ═══════════════════════════════════════════════════════
	// PHASE 3: Serve the HTTP inspection surface
	// ═══════════════════════════════════════════════════════
	handler := server.New(networks)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Web.Port),
		Handler: handler,
	}

	go func() {
		log.Printf("listening on :%d", cfg.Web.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	// ═══════════════════════════════════════════════════════
	// PHASE 4: Graceful shutdown
	// ═══════════════════════════════════════════════════════
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}

	for id, n := range networks {
		if enabled, _ := n.CachePolicy(); enabled {
			n.SaveCache()
			log.Printf("network %s: cache saved", id)
		}
	}
	log.Println("goodbye")
}

// loadNetworks discovers one subdirectory per rail network under
// railNetworksDir, each holding a config.json and optional trackBlocks/
// stops auxiliary files, and constructs a network.Network for each.
func loadNetworks(cfg *config.Global) (map[string]*network.Network, error) {
	entries, err := os.ReadDir(cfg.Paths.RailNetworksDir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", cfg.Paths.RailNetworksDir, err)
	}

	networks := make(map[string]*network.Network)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		dir := filepath.Join(cfg.Paths.RailNetworksDir, id)

		netCfg, err := config.LoadNetwork(filepath.Join(dir, "config.json"))
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", id, err)
		}

		blockMap, err := loadBlockMap(dir, netCfg)
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", id, err)
		}

		stopsMap, err := loadStops(dir, netCfg)
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", id, err)
		}

		apiKey := os.Getenv(id)

		cacheDir := filepath.Join(cfg.Paths.CacheDir, id)
		n, err := network.New(id, netCfg, apiKey, blockMap, stopsMap, cacheDir)
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", id, err)
		}

		networks[id] = n
		log.Printf("network %s: loaded (%d track blocks)", id, blockCount(blockMap))
	}
	return networks, nil
}

func loadBlockMap(dir string, cfg *config.Network) (*trackblock.Map, error) {
	if cfg.TrackBlocks.FileName == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(dir, cfg.TrackBlocks.FileName))
	if err != nil {
		return nil, fmt.Errorf("track blocks: %w", err)
	}
	blockMap, err := trackblock.Load(data)
	if err != nil {
		return nil, fmt.Errorf("track blocks: %w", err)
	}
	return blockMap, nil
}

func loadStops(dir string, cfg *config.Network) (stops.Map, error) {
	if cfg.Stops.FileName == "" {
		return nil, nil
	}
	m, err := stops.Load(filepath.Join(dir, cfg.Stops.FileName))
	if err != nil {
		return nil, fmt.Errorf("stops: %w", err)
	}
	return m, nil
}

func blockCount(m *trackblock.Map) int {
	if m == nil {
		return 0
	}
	return m.Len()
}

// cacheSaveLoop persists one network's entity store and train pairs on its
// own interval, independent of its fetch interval.
func cacheSaveLoop(ctx context.Context, n *network.Network, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.SaveCache()
		}
	}
}
