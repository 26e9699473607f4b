package gtfsrt

import (
	"encoding/json"
	"fmt"
	"strconv"

	"google.golang.org/protobuf/proto"

	pbgtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
)

// rawTrip accepts both GTFS-realtime JSON casings (snake_case per the wire
// spec, camelCase per several vendor feeds) the way spec.md Section 4.4
// explicitly calls out for trip_id/tripId.
type rawTrip struct {
	RouteID    string `json:"route_id"`
	RouteIDAlt string `json:"routeId"`
	TripID     string `json:"trip_id"`
	TripIDAlt  string `json:"tripId"`
}

func (t rawTrip) routeID() string {
	if t.RouteID != "" {
		return t.RouteID
	}
	return t.RouteIDAlt
}

func (t rawTrip) tripID() string {
	if t.TripID != "" {
		return t.TripID
	}
	return t.TripIDAlt
}

type rawPosition struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Speed     *float64 `json:"speed"`
	Bearing   *float64 `json:"bearing"`
}

type rawVehicleID struct {
	ID string `json:"id"`
}

type rawVehicle struct {
	Vehicle   rawVehicleID     `json:"vehicle"`
	Position  *rawPosition     `json:"position"`
	Trip      rawTrip          `json:"trip"`
	Timestamp json.RawMessage  `json:"timestamp"`
}

type rawStopTime struct {
	StopID    string `json:"stop_id"`
	StopIDAlt string `json:"stopId"`
	Arrival   *struct {
		Time json.RawMessage `json:"time"`
	} `json:"arrival"`
	Departure *struct {
		Time json.RawMessage `json:"time"`
	} `json:"departure"`
}

func (s rawStopTime) stopID() string {
	if s.StopID != "" {
		return s.StopID
	}
	return s.StopIDAlt
}

type rawTripUpdate struct {
	Trip           rawTrip       `json:"trip"`
	StopTimeUpdate []rawStopTime `json:"stop_time_update"`
	StopTimeAlt    []rawStopTime `json:"stopTimeUpdate"`
}

func (u rawTripUpdate) stopTimeUpdates() []rawStopTime {
	if len(u.StopTimeUpdate) > 0 {
		return u.StopTimeUpdate
	}
	return u.StopTimeAlt
}

type rawEntity struct {
	ID           string         `json:"id"`
	IsDeleted    bool           `json:"is_deleted"`
	IsDeletedAlt bool           `json:"isDeleted"`
	Vehicle      *rawVehicle    `json:"vehicle"`
	TripUpdate   *rawTripUpdate `json:"trip_update"`
	TripUpdAlt   *rawTripUpdate `json:"tripUpdate"`
}

func (e rawEntity) isDeleted() bool {
	return e.IsDeleted || e.IsDeletedAlt
}

func (e rawEntity) tripUpdate() *rawTripUpdate {
	if e.TripUpdate != nil {
		return e.TripUpdate
	}
	return e.TripUpdAlt
}

type rawFeedMessage struct {
	Entity []rawEntity `json:"entity"`
}

type rawVendorEnvelope struct {
	Response rawFeedMessage `json:"response"`
}

// parseNumeric coerces a JSON number that may be encoded as either a JSON
// number or a quoted string into an int64, returning 0 when absent.
func parseNumeric(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
	}
	return 0
}

// decodeJSON parses a GTFS-realtime FeedMessage JSON body, or a vendor
// envelope of the form {"response": FeedMessage} when vendorEnvelope is
// true, into normalized Entity records.
func decodeJSON(body []byte, vendorEnvelope bool) ([]Entity, error) {
	var feed rawFeedMessage
	if vendorEnvelope {
		var env rawVendorEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("gtfsrt: failed to parse vendor envelope: %w", err)
		}
		feed = env.Response
	} else {
		if err := json.Unmarshal(body, &feed); err != nil {
			return nil, fmt.Errorf("gtfsrt: failed to parse feed message: %w", err)
		}
	}

	entities := make([]Entity, 0, len(feed.Entity))
	for _, re := range feed.Entity {
		entities = append(entities, entityFromRaw(re))
	}
	return entities, nil
}

func entityFromRaw(re rawEntity) Entity {
	e := Entity{
		ID:        re.ID,
		IsDeleted: re.isDeleted(),
	}

	if re.Vehicle != nil {
		e.VehicleID = re.Vehicle.Vehicle.ID
		e.Timestamp = parseNumeric(re.Vehicle.Timestamp)
		e.Trip = Trip{RouteID: re.Vehicle.Trip.routeID(), TripID: re.Vehicle.Trip.tripID()}
		if re.Vehicle.Position != nil {
			e.Position = &Position{
				Lat:     re.Vehicle.Position.Latitude,
				Lon:     re.Vehicle.Position.Longitude,
				Speed:   re.Vehicle.Position.Speed,
				Bearing: re.Vehicle.Position.Bearing,
			}
		}
	}

	if tu := re.tripUpdate(); tu != nil {
		if e.Trip.TripID == "" {
			e.Trip.TripID = tu.Trip.tripID()
		}
		if e.Trip.RouteID == "" {
			e.Trip.RouteID = tu.Trip.routeID()
		}
		for _, stu := range tu.stopTimeUpdates() {
			var departure int64
			if stu.Departure != nil {
				departure = parseNumeric(stu.Departure.Time)
			} else if stu.Arrival != nil {
				departure = parseNumeric(stu.Arrival.Time)
			}
			e.StopTimeUpdate = append(e.StopTimeUpdate, StopTimeUpdate{
				StopID:        stu.stopID(),
				DepartureTime: departure,
			})
		}
	}

	return e
}

// decodeProtobuf parses a GTFS-realtime FeedMessage protobuf body using the
// standard gtfs-realtime-bindings schema. The bindings decode timestamps as
// integer varints, which are converted to int64 directly; no string
// coercion (parseNumeric) is applied on this path.
func decodeProtobuf(body []byte) ([]Entity, error) {
	feed := &pbgtfs.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("gtfsrt: failed to parse protobuf: %w", err)
	}

	entities := make([]Entity, 0, len(feed.Entity))
	for _, fe := range feed.Entity {
		entities = append(entities, entityFromProtobuf(fe))
	}
	return entities, nil
}

func entityFromProtobuf(fe *pbgtfs.FeedEntity) Entity {
	e := Entity{}
	if fe.Id != nil {
		e.ID = *fe.Id
	}
	if fe.IsDeleted != nil {
		e.IsDeleted = *fe.IsDeleted
	}

	if v := fe.Vehicle; v != nil {
		if v.Vehicle != nil && v.Vehicle.Id != nil {
			e.VehicleID = *v.Vehicle.Id
		}
		if v.Timestamp != nil {
			e.Timestamp = int64(*v.Timestamp)
		}
		if v.Trip != nil {
			if v.Trip.RouteId != nil {
				e.Trip.RouteID = *v.Trip.RouteId
			}
			if v.Trip.TripId != nil {
				e.Trip.TripID = *v.Trip.TripId
			}
		}
		if v.Position != nil {
			pos := &Position{
				Lat: float64(v.Position.GetLatitude()),
				Lon: float64(v.Position.GetLongitude()),
			}
			if v.Position.Speed != nil {
				s := float64(*v.Position.Speed)
				pos.Speed = &s
			}
			if v.Position.Bearing != nil {
				b := float64(*v.Position.Bearing)
				pos.Bearing = &b
			}
			e.Position = pos
		}
	}

	if tu := fe.TripUpdate; tu != nil {
		if tu.Trip != nil {
			if e.Trip.RouteID == "" && tu.Trip.RouteId != nil {
				e.Trip.RouteID = *tu.Trip.RouteId
			}
			if e.Trip.TripID == "" && tu.Trip.TripId != nil {
				e.Trip.TripID = *tu.Trip.TripId
			}
		}
		for _, stu := range tu.StopTimeUpdate {
			if stu.StopId == nil {
				continue
			}
			var departure int64
			if stu.Departure != nil && stu.Departure.Time != nil {
				departure = *stu.Departure.Time
			} else if stu.Arrival != nil && stu.Arrival.Time != nil {
				departure = *stu.Arrival.Time
			}
			e.StopTimeUpdate = append(e.StopTimeUpdate, StopTimeUpdate{
				StopID:        *stu.StopId,
				DepartureTime: departure,
			})
		}
	}

	return e
}
