package trackblock

import (
	"encoding/xml"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/raillive/ledrails-ltm/internal/geometry"
)

// kmlDocument is the subset of KML (Folder -> Placemark) this loader cares
// about: a placemark's name, an optional multiline description holding
// platform rows, and a coordinates string of space-separated lon,lat[,alt]
// triples.
type kmlDocument struct {
	XMLName xml.Name     `xml:"kml"`
	Folders []kmlFolder  `xml:"Document>Folder"`
	Marks   []kmlPlace   `xml:"Document>Placemark"`
}

type kmlFolder struct {
	XMLName xml.Name   `xml:"Folder"`
	Marks   []kmlPlace `xml:"Placemark"`
}

type kmlPlace struct {
	XMLName     xml.Name `xml:"Placemark"`
	Name        string   `xml:"name"`
	Description string   `xml:"description"`
	Coordinates string   `xml:"Polygon>outerBoundaryIs>LinearRing>coordinates"`
}

var (
	blockNumberRe = regexp.MustCompile(`\d+`)
	altBlockRe    = regexp.MustCompile(`\+(\d+)`)
	routesRe      = regexp.MustCompile(`\[([^\]]*)\]`)
	letterRunRe   = regexp.MustCompile(`[A-Za-z]{3,}`)
	bearingRe     = regexp.MustCompile(`^-?\d+(\.\d+)?deg$`)
)

// Load parses a KML-like placemark document and returns the canonically
// ordered Map the assignment algorithm relies on.
func Load(data []byte) (*Map, error) {
	var doc kmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("trackblock: failed to parse document: %w", err)
	}

	var marks []kmlPlace
	marks = append(marks, doc.Marks...)
	for _, folder := range doc.Folders {
		marks = append(marks, folder.Marks...)
	}

	var blocks []TrackBlock
	for _, mark := range marks {
		block, ok := parsePlacemark(mark)
		if !ok {
			continue
		}
		blocks = append(blocks, block)
	}

	sortCanonical(blocks)
	return NewMap(blocks), nil
}

func parsePlacemark(mark kmlPlace) (TrackBlock, bool) {
	blockNumber, ok := firstDigitRun(mark.Name)
	if !ok {
		log.Printf("trackblock: skipping placemark %q: no block number in name", mark.Name)
		return TrackBlock{}, false
	}

	block := TrackBlock{
		BlockNumber: blockNumber,
		Name:        mark.Name,
		Priority:    letterRunRe.MatchString(mark.Name),
	}

	if m := altBlockRe.FindStringSubmatch(mark.Name); m != nil {
		alt, _ := strconv.Atoi(m[1])
		block.AltBlock = &alt
	}

	if m := routesRe.FindStringSubmatch(mark.Name); m != nil {
		block.Routes = splitRoutes(m[1])
	}

	polygon, err := parseCoordinates(mark.Coordinates)
	if err != nil {
		log.Printf("trackblock: skipping placemark %q: %v", mark.Name, err)
		return TrackBlock{}, false
	}
	block.Polygon = polygon

	if strings.TrimSpace(mark.Description) != "" {
		block.Platforms = parsePlatforms(mark.Description, blockNumber)
	}

	validatePlatformBearings(block)

	return block, true
}

func firstDigitRun(name string) (int, bool) {
	m := blockNumberRe.FindString(name)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitRoutes(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseCoordinates turns a KML "lon,lat[,alt] lon,lat[,alt] ..." string into
// a polygon. Fewer than 3 vertices is not an error here — the resulting
// polygon will simply never contain a point per geometry.IsPointInPolygon.
func parseCoordinates(raw string) ([]geometry.Point, error) {
	fields := strings.Fields(raw)
	points := make([]geometry.Point, 0, len(fields))
	for _, f := range fields {
		parts := strings.Split(f, ",")
		if len(parts) < 2 {
			continue
		}
		lon, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid longitude %q: %w", parts[0], err)
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid latitude %q: %w", parts[1], err)
		}
		points = append(points, geometry.Point{Lat: lat, Lon: lon})
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("no coordinates found")
	}
	return points, nil
}

// parsePlatforms splits a placemark description into comma-separated lines,
// respecting commas nested inside [...] groups, and classifies each
// comma-separated field of a line positionally/by pattern.
func parsePlatforms(description string, blockNumber int) []Platform {
	var platforms []Platform
	for _, line := range strings.Split(description, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := splitRespectingBrackets(line)
		if len(fields) == 0 {
			continue
		}

		platform := Platform{BlockNumber: blockNumber}
		if n, ok := firstDigitRun(fields[0]); ok {
			platform.BlockNumber = n
			if n != blockNumber {
				log.Printf("trackblock: platform blockNumber %d in description does not match placemark block %d", n, blockNumber)
			}
		}

		for _, field := range fields {
			field = strings.TrimSpace(field)
			switch {
			case field == "":
				continue
			case strings.EqualFold(field, "Default"):
				platform.IsDefault = true
			case bearingRe.MatchString(field):
				numeric := strings.TrimSuffix(field, "deg")
				deg, err := strconv.ParseFloat(numeric, 64)
				if err == nil {
					norm := geometry.NormalizeBearing(deg)
					platform.Bearing = &norm
				}
			case strings.HasPrefix(field, "[") && strings.HasSuffix(field, "]"):
				platform.Routes = splitRoutes(strings.TrimSuffix(strings.TrimPrefix(field, "["), "]"))
			case looksLikeStopIDs(field):
				platform.StopIDs = parseStopIDs(field)
			}
		}

		platforms = append(platforms, platform)
	}
	return platforms
}

func looksLikeStopIDs(field string) bool {
	if field == "" {
		return false
	}
	trimmed := strings.Trim(field, `"`)
	if strings.Contains(trimmed, ";") {
		return true
	}
	return strings.HasPrefix(field, `"`) && strings.HasSuffix(field, `"`)
}

func parseStopIDs(field string) map[string]struct{} {
	trimmed := strings.Trim(field, `"`)
	ids := make(map[string]struct{})
	for _, id := range strings.Split(trimmed, ";") {
		id = strings.TrimSpace(id)
		if id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids
}

// splitRespectingBrackets splits on commas, but treats commas inside a
// [...] group as part of the field rather than a separator.
func splitRespectingBrackets(line string) []string {
	var fields []string
	depth := 0
	start := 0
	for i, r := range line {
		switch r {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				fields = append(fields, line[start:i])
				start = i + 1
			}
		}
	}
	fields = append(fields, line[start:])
	return fields
}

func validatePlatformBearings(block TrackBlock) {
	var bearings []float64
	for _, p := range block.Platforms {
		if p.Bearing != nil {
			bearings = append(bearings, *p.Bearing)
		}
	}
	for i := 0; i < len(bearings); i++ {
		for j := i + 1; j < len(bearings); j++ {
			diff := geometry.BearingDifference(bearings[i], bearings[j])
			if diff != 0 && diff != 180 {
				log.Printf("trackblock: block %d has inconsistent platform bearings %.0f and %.0f (expected equal or 180deg apart)",
					block.BlockNumber, bearings[i], bearings[j])
			}
		}
	}
}

// sortCanonical stable-sorts blocks so that (routes present) groups sort
// before (routeless), then (priority) before (non-priority), preserving
// relative order within each group. This ordering is a contract the
// assignment search depends on (Section 4.2/4.7 of the spec).
func sortCanonical(blocks []TrackBlock) {
	sort.SliceStable(blocks, func(i, j int) bool {
		ri, rj := len(blocks[i].Routes) > 0, len(blocks[j].Routes) > 0
		if ri != rj {
			return ri
		}
		if blocks[i].Priority != blocks[j].Priority {
			return blocks[i].Priority
		}
		return false
	})
}
