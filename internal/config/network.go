package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/raillive/ledrails-ltm/internal/led"
)

// GTFSRealtimeAPIConfig configures the Fetcher for one network.
type GTFSRealtimeAPIConfig struct {
	URL                  []string `json:"url"`
	TripsURL             []string `json:"tripsUrl"`
	KeyHeader            string   `json:"keyHeader"`
	FetchIntervalSeconds int      `json:"fetchIntervalSeconds"`
	Format               string   `json:"format"`   // "FeedMessage" or vendor-wrapped
	Protocol             string   `json:"protocol"` // "protobuf" or "json"
}

// EntityIDRangeConfig is the numeric-id-range form of the train filter.
type EntityIDRangeConfig struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// TripIDFilterConfig is the substring-match form of the train filter.
type TripIDFilterConfig struct {
	Includes []string `json:"includes"`
	Excludes []string `json:"excludes"`
}

// TrainFilterConfig selects which entities count as trains. EntityID and
// TripID are mutually exclusive per spec.md Section 4.4.
type TrainFilterConfig struct {
	EntityID *EntityIDRangeConfig `json:"entityID"`
	TripID   *TripIDFilterConfig  `json:"trip_ID"`
}

// ProcessingOptionsConfig holds the tracker/cache tunables.
type ProcessingOptionsConfig struct {
	PairTrains               bool     `json:"pairTrains"`
	CacheGTFS                bool     `json:"cacheGTFS"`
	CacheIntervalSeconds     *int     `json:"cacheIntervalSeconds"`
	DisplayThreshold         *int     `json:"displayThreshold"`
	RemoveStaleVehiclesHours *float64 `json:"removeStaleVehiclesHours"`
}

// FileNameConfig names an optional auxiliary data file (stops or track
// blocks) relative to the network's directory.
type FileNameConfig struct {
	FileName string `json:"fileName"`
}

// APIVersionConfig is one board revision: its URL version segment and
// optional block remap/push-channel settings.
type APIVersionConfig struct {
	Version     string          `json:"version"`
	BlockRemap  []led.RemapRule `json:"blockRemap"`
	NATSSubject string          `json:"natsSubject"`
	SerialPort  string          `json:"serialPort"`
	SerialBaud  int             `json:"serialBaud"`
}

// LEDRailsAPIConfig configures every board revision of one network.
type LEDRailsAPIConfig struct {
	APIVersions         []APIVersionConfig `json:"APIVersions"`
	RandomizeTimeOffset bool               `json:"randomizeTimeOffset"`
	Colors              json.RawMessage    `json:"colors"`
}

// Network is one railNetworks/<ID>/config.json document.
type Network struct {
	GTFSRealtimeAPI   GTFSRealtimeAPIConfig   `json:"GTFSRealtimeAPI"`
	TrainFilter       TrainFilterConfig       `json:"trainFilter"`
	ProcessingOptions ProcessingOptionsConfig `json:"processingOptions"`
	Stops             FileNameConfig          `json:"stops"`
	TrackBlocks       FileNameConfig          `json:"trackBlocks"`
	LEDRailsAPI       LEDRailsAPIConfig       `json:"LEDRailsAPI"`
	NATSURL           string                  `json:"natsURL"`
}

// LoadNetwork reads and decodes a network's config.json from path.
func LoadNetwork(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var n Network
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return &n, nil
}

// OrderedColors parses the config's `colors` object preserving key
// declaration order, since color-id assignment must be dense and stable
// in that order (spec.md Section 8). encoding/json decodes objects into
// Go maps, which do not preserve order, so this walks the raw token
// stream directly — no ordered-map library appears anywhere in the
// retrieved corpus to reach for instead.
func (c LEDRailsAPIConfig) OrderedColors() ([]led.ColorSpec, error) {
	if len(c.Colors) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(c.Colors))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("config: colors: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("config: colors: expected a JSON object")
	}

	var specs []led.ColorSpec
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("config: colors: reading key: %w", err)
		}
		routeID, _ := keyTok.(string)

		var rgb [3]int
		if err := dec.Decode(&rgb); err != nil {
			return nil, fmt.Errorf("config: colors[%s]: %w", routeID, err)
		}
		specs = append(specs, led.ColorSpec{RouteID: routeID, RGB: rgb})
	}
	return specs, nil
}
