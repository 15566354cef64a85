package gtfsrt

import (
	"github.com/pkordes/stopalert/internal/wire"
)

// field decodes one field number of message type T. typ is the wire type the
// field must arrive with; fields with a different wire type are ignored.
type field[T any] struct {
	typ wire.WireType
	set func(*T, wire.RawField)
}

// table maps field numbers to decoders for message type T.
type table[T any] map[int32]field[T]

// decode applies t to every field of b. Unknown field numbers are skipped.
// The decode error, if any, is returned with the partially filled record.
func (t table[T]) decode(b []byte) (T, error) {
	var out T
	fields, err := wire.DecodeMessage(b)
	for _, f := range fields {
		if d, ok := t[f.Number]; ok && d.typ == f.Type {
			d.set(&out, f)
		}
	}
	return out, err
}

func text[T any](set func(*T, string)) field[T] {
	return field[T]{wire.LengthDelimited, func(m *T, f wire.RawField) { set(m, f.String()) }}
}

func varint[T any](set func(*T, wire.RawField)) field[T] {
	return field[T]{wire.Varint, set}
}

func float32Field[T any](set func(*T, float64)) field[T] {
	return field[T]{wire.Fixed32, func(m *T, f wire.RawField) { set(m, f.Float) }}
}

func float64Field[T any](set func(*T, float64)) field[T] {
	return field[T]{wire.Fixed64, func(m *T, f wire.RawField) { set(m, f.Float) }}
}

// message recurses into a nested message. Errors inside nested messages are
// dropped; whatever was decoded before the fault is kept.
func message[T, M any](sub table[M], set func(*T, M)) field[T] {
	return field[T]{wire.LengthDelimited, func(m *T, f wire.RawField) {
		v, _ := sub.decode(f.Bytes)
		set(m, v)
	}}
}

func ptr[V any](v V) *V { return &v }

var translationFields = table[Translation]{
	1: text(func(m *Translation, v string) { m.Text = v }),
	2: text(func(m *Translation, v string) { m.Language = v }),
}

var translatedStringFields = table[TranslatedString]{
	1: message(translationFields, func(m *TranslatedString, v Translation) {
		m.Translations = append(m.Translations, v)
	}),
}

var tripDescriptorFields = table[TripDescriptor]{
	1: text(func(m *TripDescriptor, v string) { m.TripID = v }),
	2: text(func(m *TripDescriptor, v string) { m.StartTime = v }),
	3: text(func(m *TripDescriptor, v string) { m.StartDate = v }),
	4: varint(func(m *TripDescriptor, f wire.RawField) { m.ScheduleRelationship = f.Int32() }),
	5: text(func(m *TripDescriptor, v string) { m.RouteID = v }),
	6: varint(func(m *TripDescriptor, f wire.RawField) { m.DirectionID = ptr(f.Uint32()) }),
}

var vehicleDescriptorFields = table[VehicleDescriptor]{
	1: text(func(m *VehicleDescriptor, v string) { m.ID = v }),
	2: text(func(m *VehicleDescriptor, v string) { m.Label = v }),
	3: text(func(m *VehicleDescriptor, v string) { m.LicensePlate = v }),
}

var positionFields = table[Position]{
	1: float32Field(func(m *Position, v float64) { m.Latitude = v }),
	2: float32Field(func(m *Position, v float64) { m.Longitude = v }),
	3: float32Field(func(m *Position, v float64) { m.Bearing = ptr(v) }),
	4: float64Field(func(m *Position, v float64) { m.Odometer = ptr(v) }),
	5: float32Field(func(m *Position, v float64) { m.Speed = ptr(v) }),
}

var stopTimeEventFields = table[StopTimeEvent]{
	1: varint(func(m *StopTimeEvent, f wire.RawField) { m.Delay = f.Int32() }),
	2: varint(func(m *StopTimeEvent, f wire.RawField) { m.Time = f.Int64() }),
	3: varint(func(m *StopTimeEvent, f wire.RawField) { m.Uncertainty = ptr(f.Int32()) }),
}

var stopTimeUpdateFields = table[StopTimeUpdate]{
	1: varint(func(m *StopTimeUpdate, f wire.RawField) { m.StopSequence = ptr(f.Uint32()) }),
	2: message(stopTimeEventFields, func(m *StopTimeUpdate, v StopTimeEvent) { m.Arrival = &v }),
	3: message(stopTimeEventFields, func(m *StopTimeUpdate, v StopTimeEvent) { m.Departure = &v }),
	4: text(func(m *StopTimeUpdate, v string) { m.StopID = v }),
	5: varint(func(m *StopTimeUpdate, f wire.RawField) { m.ScheduleRelationship = f.Int32() }),
}

var tripUpdateFields = table[TripUpdate]{
	1: message(tripDescriptorFields, func(m *TripUpdate, v TripDescriptor) { m.Trip = v }),
	2: message(stopTimeUpdateFields, func(m *TripUpdate, v StopTimeUpdate) {
		m.StopTimeUpdates = append(m.StopTimeUpdates, v)
	}),
	3: message(vehicleDescriptorFields, func(m *TripUpdate, v VehicleDescriptor) { m.Vehicle = &v }),
	4: varint(func(m *TripUpdate, f wire.RawField) { m.Timestamp = ptr(f.Varint) }),
	5: varint(func(m *TripUpdate, f wire.RawField) { m.Delay = ptr(f.Int32()) }),
}

var vehiclePositionFields = table[VehiclePosition]{
	1: message(tripDescriptorFields, func(m *VehiclePosition, v TripDescriptor) { m.Trip = &v }),
	2: message(positionFields, func(m *VehiclePosition, v Position) { m.Position = &v }),
	3: varint(func(m *VehiclePosition, f wire.RawField) { m.CurrentStopSequence = ptr(f.Uint32()) }),
	4: varint(func(m *VehiclePosition, f wire.RawField) { m.CurrentStatus = f.Int32() }),
	5: varint(func(m *VehiclePosition, f wire.RawField) { m.Timestamp = f.Varint }),
	6: varint(func(m *VehiclePosition, f wire.RawField) { m.CongestionLevel = f.Int32() }),
	7: text(func(m *VehiclePosition, v string) { m.StopID = v }),
	8: message(vehicleDescriptorFields, func(m *VehiclePosition, v VehicleDescriptor) { m.Vehicle = &v }),
	9: varint(func(m *VehiclePosition, f wire.RawField) { m.OccupancyStatus = f.Int32() }),
}

var timeRangeFields = table[TimeRange]{
	1: varint(func(m *TimeRange, f wire.RawField) { m.Start = f.Varint }),
	2: varint(func(m *TimeRange, f wire.RawField) { m.End = f.Varint }),
}

var entitySelectorFields = table[EntitySelector]{
	1: text(func(m *EntitySelector, v string) { m.AgencyID = v }),
	2: text(func(m *EntitySelector, v string) { m.RouteID = v }),
	3: varint(func(m *EntitySelector, f wire.RawField) { m.RouteType = ptr(f.Int32()) }),
	4: message(tripDescriptorFields, func(m *EntitySelector, v TripDescriptor) { m.Trip = &v }),
	5: text(func(m *EntitySelector, v string) { m.StopID = v }),
	6: varint(func(m *EntitySelector, f wire.RawField) { m.DirectionID = ptr(f.Uint32()) }),
}

var alertFields = table[Alert]{
	1: message(timeRangeFields, func(m *Alert, v TimeRange) { m.ActivePeriods = append(m.ActivePeriods, v) }),
	5: message(entitySelectorFields, func(m *Alert, v EntitySelector) {
		m.InformedEntities = append(m.InformedEntities, v)
	}),
	6:  varint(func(m *Alert, f wire.RawField) { m.Cause = f.Int32() }),
	7:  varint(func(m *Alert, f wire.RawField) { m.Effect = f.Int32() }),
	8:  message(translatedStringFields, func(m *Alert, v TranslatedString) { m.URL = v }),
	10: message(translatedStringFields, func(m *Alert, v TranslatedString) { m.HeaderText = v }),
	11: message(translatedStringFields, func(m *Alert, v TranslatedString) { m.DescriptionText = v }),
	14: varint(func(m *Alert, f wire.RawField) { m.SeverityLevel = f.Int32() }),
}

var feedEntityFields = table[FeedEntity]{
	1: text(func(m *FeedEntity, v string) { m.ID = v }),
	2: varint(func(m *FeedEntity, f wire.RawField) { m.IsDeleted = f.Bool() }),
	3: message(tripUpdateFields, func(m *FeedEntity, v TripUpdate) { m.TripUpdate = &v }),
	4: message(vehiclePositionFields, func(m *FeedEntity, v VehiclePosition) { m.Vehicle = &v }),
	5: message(alertFields, func(m *FeedEntity, v Alert) { m.Alert = &v }),
}

var feedHeaderFields = table[FeedHeader]{
	1: text(func(m *FeedHeader, v string) { m.Version = v }),
	2: varint(func(m *FeedHeader, f wire.RawField) { m.Incrementality = f.Int32() }),
	3: varint(func(m *FeedHeader, f wire.RawField) { m.Timestamp = f.Varint }),
}

var feedMessageFields = table[FeedMessage]{
	1: message(feedHeaderFields, func(m *FeedMessage, v FeedHeader) { m.Header = v }),
	2: message(feedEntityFields, func(m *FeedMessage, v FeedEntity) { m.Entities = append(m.Entities, v) }),
}

// MapFeed decodes a serialized GTFS-Realtime FeedMessage.
//
// If the top-level stream contains a field that cannot be decoded, the
// entities read before it are returned together with an error wrapping
// domain.ErrDecode. Callers should log that error and keep the message.
func MapFeed(b []byte) (FeedMessage, error) {
	return feedMessageFields.decode(b)
}
