// Package gtfsrt ingests GTFS-realtime vehicle-position and trip-update
// feeds (JSON or protobuf) and normalizes them into a uniform Entity
// stream, per spec.md Section 4.3 (Fetcher) and Section 9's "dynamic
// entity shape" design note: optional nested fields are validated at
// decode time and never carried forward as untyped maps.
package gtfsrt

// Position is a vehicle's last reported location.
type Position struct {
	Lat     float64
	Lon     float64
	Speed   *float64
	Bearing *float64
}

// Trip identifies the route/trip a vehicle is serving. RouteID is the
// "OUT-OF-SERVICE" sentinel is applied downstream (tracker), not here —
// this layer only reports what the feed actually said.
type Trip struct {
	RouteID string
	TripID  string
}

// StopTimeUpdate is one predicted stop visit from a trip-update feed.
type StopTimeUpdate struct {
	StopID        string
	DepartureTime int64 // unix seconds; 0 if the feed didn't provide one
}

// Entity is one GTFS-realtime vehicle/trip-update record, merged and
// normalized from whichever feed(s) produced it.
type Entity struct {
	ID             string
	IsDeleted      bool
	VehicleID      string
	Position       *Position
	Timestamp      int64 // unix seconds, vehicle.timestamp
	Trip           Trip
	StopTimeUpdate []StopTimeUpdate
}
