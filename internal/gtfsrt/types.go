// Package gtfsrt maps GTFS-Realtime feed bytes into typed records.
//
// Only the message shapes needed to answer "when does a bus reach this stop"
// and to surface service alerts are modelled. Decoding is driven by a table
// per message type (see mapper.go), so supporting a new field means adding a
// table entry rather than new control flow.
package gtfsrt

// Schedule relationship values shared by trips and stop-time updates.
const (
	ScheduleScheduled int32 = 0
	ScheduleSkipped   int32 = 1 // stop-time update: vehicle will not stop
	ScheduleNoData    int32 = 2 // stop-time update: no realtime information
	TripCanceled      int32 = 3 // trip descriptor: whole trip cancelled
)

// FeedMessage is one decoded feed snapshot. It is rebuilt on every poll.
type FeedMessage struct {
	Header   FeedHeader
	Entities []FeedEntity
}

// FeedHeader carries feed-level metadata.
type FeedHeader struct {
	Version        string
	Incrementality int32
	Timestamp      uint64
}

// FeedEntity holds exactly one of TripUpdate, Vehicle or Alert in a
// well-formed feed.
type FeedEntity struct {
	ID         string
	IsDeleted  bool
	TripUpdate *TripUpdate
	Vehicle    *VehiclePosition
	Alert      *Alert
}

type TripDescriptor struct {
	TripID               string
	StartTime            string
	StartDate            string
	ScheduleRelationship int32
	RouteID              string
	DirectionID          *uint32
}

type VehicleDescriptor struct {
	ID           string
	Label        string
	LicensePlate string
}

type Position struct {
	Latitude  float64
	Longitude float64
	Bearing   *float64
	Odometer  *float64
	Speed     *float64
}

// StopTimeEvent is a predicted arrival or departure. Delay is in seconds
// relative to the schedule; Time is absolute epoch seconds.
type StopTimeEvent struct {
	Delay       int32
	Time        int64
	Uncertainty *int32
}

// StopTimeUpdate is actionable only when Arrival or Departure is set.
type StopTimeUpdate struct {
	StopSequence         *uint32
	StopID               string
	Arrival              *StopTimeEvent
	Departure            *StopTimeEvent
	ScheduleRelationship int32
}

// Actionable reports whether the update carries any timing information.
func (u StopTimeUpdate) Actionable() bool {
	return u.Arrival != nil || u.Departure != nil
}

type TripUpdate struct {
	Trip            TripDescriptor
	Vehicle         *VehicleDescriptor
	StopTimeUpdates []StopTimeUpdate
	Timestamp       *uint64
	Delay           *int32
}

type VehiclePosition struct {
	Trip                *TripDescriptor
	Vehicle             *VehicleDescriptor
	Position            *Position
	CurrentStopSequence *uint32
	StopID              string
	CurrentStatus       int32
	Timestamp           uint64
	CongestionLevel     int32
	OccupancyStatus     int32
}

// TimeRange is an alert active period; zero bounds are open.
type TimeRange struct {
	Start uint64
	End   uint64
}

// Contains reports whether epoch falls inside the range.
func (r TimeRange) Contains(epoch uint64) bool {
	if r.Start != 0 && epoch < r.Start {
		return false
	}
	if r.End != 0 && epoch > r.End {
		return false
	}
	return true
}

type EntitySelector struct {
	AgencyID    string
	RouteID     string
	RouteType   *int32
	Trip        *TripDescriptor
	StopID      string
	DirectionID *uint32
}

type Translation struct {
	Text     string
	Language string
}

// TranslatedString exposes every translation; most consumers only need Text.
type TranslatedString struct {
	Translations []Translation
}

// Text returns the first translation, or "" when there is none.
func (s TranslatedString) Text() string {
	if len(s.Translations) == 0 {
		return ""
	}
	return s.Translations[0].Text
}

// Alert is a service alert. Cause, Effect and SeverityLevel are zero when
// the producer omitted them (the GTFS-RT enums start at 1).
type Alert struct {
	ActivePeriods    []TimeRange
	InformedEntities []EntitySelector
	Cause            int32
	Effect           int32
	URL              TranslatedString
	HeaderText       TranslatedString
	DescriptionText  TranslatedString
	SeverityLevel    int32
}

// ActiveAt reports whether the alert applies at epoch. An alert without
// active periods is always active.
func (a Alert) ActiveAt(epoch uint64) bool {
	if len(a.ActivePeriods) == 0 {
		return true
	}
	for _, p := range a.ActivePeriods {
		if p.Contains(epoch) {
			return true
		}
	}
	return false
}
