package gtfsrt_test

import (
	"testing"
	"time"

	gtfspb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	refgtfs "github.com/jamespfennell/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"

	"github.com/pkordes/stopalert/internal/domain"
	"github.com/pkordes/stopalert/internal/gtfsrt"
)

// ---- fixtures ----------------------------------------------------------------

func header() *gtfspb.FeedHeader {
	return &gtfspb.FeedHeader{
		GtfsRealtimeVersion: proto.String("2.0"),
		Incrementality:      gtfspb.FeedHeader_FULL_DATASET.Enum(),
		Timestamp:           proto.Uint64(1700000000),
	}
}

func tripUpdateEntity(id, tripID, routeID string, stus ...*gtfspb.TripUpdate_StopTimeUpdate) *gtfspb.FeedEntity {
	return &gtfspb.FeedEntity{
		Id: proto.String(id),
		TripUpdate: &gtfspb.TripUpdate{
			Trip: &gtfspb.TripDescriptor{
				TripId:  proto.String(tripID),
				RouteId: proto.String(routeID),
			},
			StopTimeUpdate: stus,
		},
	}
}

func mustMarshal(t *testing.T, msg *gtfspb.FeedMessage) []byte {
	t.Helper()
	b, err := proto.Marshal(msg)
	require.NoError(t, err, "marshal fixture feed")
	return b
}

// negativeDelayFeed is the feed used by the sign fix-up tests: trip 58 on
// route 12 reaching stop 100 ninety seconds early.
func negativeDelayFeed(t *testing.T) []byte {
	return mustMarshal(t, &gtfspb.FeedMessage{
		Header: header(),
		Entity: []*gtfspb.FeedEntity{
			tripUpdateEntity("e1", "58", "12", &gtfspb.TripUpdate_StopTimeUpdate{
				StopSequence: proto.Uint32(3),
				StopId:       proto.String("100"),
				Arrival:      &gtfspb.TripUpdate_StopTimeEvent{Delay: proto.Int32(-90)},
			}),
		},
	})
}

// ---- MapFeed -----------------------------------------------------------------

func TestMapFeed_TripUpdateWithNegativeDelay(t *testing.T) {
	msg, err := gtfsrt.MapFeed(negativeDelayFeed(t))

	require.NoError(t, err)
	assert.Equal(t, "2.0", msg.Header.Version)
	assert.Equal(t, uint64(1700000000), msg.Header.Timestamp)
	require.Len(t, msg.Entities, 1)

	tu := msg.Entities[0].TripUpdate
	require.NotNil(t, tu)
	assert.Equal(t, "58", tu.Trip.TripID)
	assert.Equal(t, "12", tu.Trip.RouteID)
	require.Len(t, tu.StopTimeUpdates, 1)

	stu := tu.StopTimeUpdates[0]
	assert.Equal(t, "100", stu.StopID)
	require.NotNil(t, stu.StopSequence)
	assert.Equal(t, uint32(3), *stu.StopSequence)
	require.NotNil(t, stu.Arrival)
	assert.Equal(t, int32(-90), stu.Arrival.Delay)
	assert.Nil(t, stu.Departure)
	assert.True(t, stu.Actionable())
}

// TestMapFeed_FiveByteNegativeDelay covers producers that encode int32 delays
// as 32-bit two's complement instead of sign-extending to 64 bits.
func TestMapFeed_FiveByteNegativeDelay(t *testing.T) {
	delay := int32(-90)

	var ev []byte
	ev = protowire.AppendTag(ev, 1, protowire.VarintType)
	ev = protowire.AppendVarint(ev, uint64(uint32(delay)))

	var stu []byte
	stu = protowire.AppendTag(stu, 4, protowire.BytesType)
	stu = protowire.AppendString(stu, "100")
	stu = protowire.AppendTag(stu, 2, protowire.BytesType)
	stu = protowire.AppendBytes(stu, ev)

	var trip []byte
	trip = protowire.AppendTag(trip, 1, protowire.BytesType)
	trip = protowire.AppendString(trip, "58")

	var tu []byte
	tu = protowire.AppendTag(tu, 1, protowire.BytesType)
	tu = protowire.AppendBytes(tu, trip)
	tu = protowire.AppendTag(tu, 2, protowire.BytesType)
	tu = protowire.AppendBytes(tu, stu)
	tu = protowire.AppendTag(tu, 5, protowire.VarintType)
	tu = protowire.AppendVarint(tu, uint64(uint32(delay)))

	var entity []byte
	entity = protowire.AppendTag(entity, 1, protowire.BytesType)
	entity = protowire.AppendString(entity, "e1")
	entity = protowire.AppendTag(entity, 3, protowire.BytesType)
	entity = protowire.AppendBytes(entity, tu)

	feed := protowire.AppendTag(nil, 2, protowire.BytesType)
	feed = protowire.AppendBytes(feed, entity)

	msg, err := gtfsrt.MapFeed(feed)

	require.NoError(t, err)
	require.Len(t, msg.Entities, 1)
	got := msg.Entities[0].TripUpdate
	require.NotNil(t, got)
	assert.Equal(t, "58", got.Trip.TripID)
	assert.Equal(t, int32(-90), got.StopTimeUpdates[0].Arrival.Delay)
	require.NotNil(t, got.Delay)
	assert.Equal(t, int32(-90), *got.Delay)
}

// TestMapFeed_AgreesWithReferenceParser cross-checks the table-driven mapper
// against an independent GTFS-Realtime parser.
func TestMapFeed_AgreesWithReferenceParser(t *testing.T) {
	b := negativeDelayFeed(t)

	ref, err := refgtfs.ParseRealtime(b, &refgtfs.ParseRealtimeOptions{})
	require.NoError(t, err)
	require.Len(t, ref.Trips, 1)

	msg, err := gtfsrt.MapFeed(b)
	require.NoError(t, err)
	got := msg.Entities[0].TripUpdate

	assert.Equal(t, ref.Trips[0].ID.ID, got.Trip.TripID)
	assert.Equal(t, ref.Trips[0].ID.RouteID, got.Trip.RouteID)
	require.Len(t, ref.Trips[0].StopTimeUpdates, 1)
	refArrival := ref.Trips[0].StopTimeUpdates[0].Arrival
	require.NotNil(t, refArrival)
	require.NotNil(t, refArrival.Delay)
	assert.Equal(t, *refArrival.Delay, time.Duration(got.StopTimeUpdates[0].Arrival.Delay)*time.Second)
}

func TestMapFeed_VehiclePosition(t *testing.T) {
	b := mustMarshal(t, &gtfspb.FeedMessage{
		Header: header(),
		Entity: []*gtfspb.FeedEntity{{
			Id: proto.String("v1"),
			Vehicle: &gtfspb.VehiclePosition{
				Trip:    &gtfspb.TripDescriptor{TripId: proto.String("58"), RouteId: proto.String("12")},
				Vehicle: &gtfspb.VehicleDescriptor{Id: proto.String("bus-7"), Label: proto.String("7")},
				Position: &gtfspb.Position{
					Latitude:  proto.Float32(47.6),
					Longitude: proto.Float32(-122.3),
					Bearing:   proto.Float32(90),
					Odometer:  proto.Float64(12345.5),
				},
				CurrentStopSequence: proto.Uint32(4),
				StopId:              proto.String("100"),
				CurrentStatus:       gtfspb.VehiclePosition_STOPPED_AT.Enum(),
				Timestamp:           proto.Uint64(1700000010),
			},
		}},
	})

	msg, err := gtfsrt.MapFeed(b)

	require.NoError(t, err)
	require.Len(t, msg.Entities, 1)
	vp := msg.Entities[0].Vehicle
	require.NotNil(t, vp)
	require.NotNil(t, vp.Trip)
	assert.Equal(t, "58", vp.Trip.TripID)
	require.NotNil(t, vp.Vehicle)
	assert.Equal(t, "bus-7", vp.Vehicle.ID)
	assert.Equal(t, "7", vp.Vehicle.Label)
	require.NotNil(t, vp.Position)
	assert.InDelta(t, 47.6, vp.Position.Latitude, 1e-5)
	assert.InDelta(t, -122.3, vp.Position.Longitude, 1e-5)
	require.NotNil(t, vp.Position.Bearing)
	assert.InDelta(t, 90, *vp.Position.Bearing, 1e-6)
	require.NotNil(t, vp.Position.Odometer)
	assert.Equal(t, 12345.5, *vp.Position.Odometer)
	assert.Nil(t, vp.Position.Speed)
	assert.Equal(t, "100", vp.StopID)
	assert.Equal(t, int32(gtfspb.VehiclePosition_STOPPED_AT), vp.CurrentStatus)
	assert.Equal(t, uint64(1700000010), vp.Timestamp)
}

func TestMapFeed_Alert(t *testing.T) {
	b := mustMarshal(t, &gtfspb.FeedMessage{
		Header: header(),
		Entity: []*gtfspb.FeedEntity{{
			Id: proto.String("a1"),
			Alert: &gtfspb.Alert{
				ActivePeriod: []*gtfspb.TimeRange{{Start: proto.Uint64(100), End: proto.Uint64(200)}},
				InformedEntity: []*gtfspb.EntitySelector{
					{RouteId: proto.String("12")},
					{StopId: proto.String("100"), Trip: &gtfspb.TripDescriptor{TripId: proto.String("58")}},
				},
				Cause:  gtfspb.Alert_CONSTRUCTION.Enum(),
				Effect: gtfspb.Alert_DETOUR.Enum(),
				HeaderText: &gtfspb.TranslatedString{Translation: []*gtfspb.TranslatedString_Translation{
					{Text: proto.String("Detour on 12"), Language: proto.String("en")},
					{Text: proto.String("Desvío en 12"), Language: proto.String("es")},
				}},
				DescriptionText: &gtfspb.TranslatedString{Translation: []*gtfspb.TranslatedString_Translation{
					{Text: proto.String("Use Pine St")},
				}},
			},
		}},
	})

	msg, err := gtfsrt.MapFeed(b)

	require.NoError(t, err)
	a := msg.Entities[0].Alert
	require.NotNil(t, a)
	require.Len(t, a.ActivePeriods, 1)
	assert.Equal(t, gtfsrt.TimeRange{Start: 100, End: 200}, a.ActivePeriods[0])
	require.Len(t, a.InformedEntities, 2)
	assert.Equal(t, "12", a.InformedEntities[0].RouteID)
	assert.Equal(t, "100", a.InformedEntities[1].StopID)
	require.NotNil(t, a.InformedEntities[1].Trip)
	assert.Equal(t, "58", a.InformedEntities[1].Trip.TripID)
	assert.Equal(t, int32(gtfspb.Alert_CONSTRUCTION), a.Cause)
	assert.Equal(t, int32(gtfspb.Alert_DETOUR), a.Effect)
	assert.Equal(t, "Detour on 12", a.HeaderText.Text())
	require.Len(t, a.HeaderText.Translations, 2)
	assert.Equal(t, "es", a.HeaderText.Translations[1].Language)
	assert.Equal(t, "Use Pine St", a.DescriptionText.Text())
	assert.True(t, a.ActiveAt(150))
	assert.False(t, a.ActiveAt(250))
}

func TestMapFeed_SeverityLevel(t *testing.T) {
	var alert []byte
	alert = protowire.AppendTag(alert, 14, protowire.VarintType)
	alert = protowire.AppendVarint(alert, 4) // SEVERE

	var entity []byte
	entity = protowire.AppendTag(entity, 1, protowire.BytesType)
	entity = protowire.AppendString(entity, "a1")
	entity = protowire.AppendTag(entity, 5, protowire.BytesType)
	entity = protowire.AppendBytes(entity, alert)

	feed := protowire.AppendTag(nil, 2, protowire.BytesType)
	feed = protowire.AppendBytes(feed, entity)

	msg, err := gtfsrt.MapFeed(feed)

	require.NoError(t, err)
	require.NotNil(t, msg.Entities[0].Alert)
	assert.Equal(t, int32(4), msg.Entities[0].Alert.SeverityLevel)
}

// TestMapFeed_UnsupportedWireTypeAfterTwoEntities verifies the partial-result
// policy: the two entities before the bad field survive and the error is a
// decode error rather than a failure.
func TestMapFeed_UnsupportedWireTypeAfterTwoEntities(t *testing.T) {
	b := mustMarshal(t, &gtfspb.FeedMessage{
		Header: header(),
		Entity: []*gtfspb.FeedEntity{
			tripUpdateEntity("e1", "58", "12"),
			tripUpdateEntity("e2", "59", "12"),
		},
	})
	b = protowire.AppendTag(b, 2, protowire.StartGroupType)
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, "never read")

	msg, err := gtfsrt.MapFeed(b)

	require.ErrorIs(t, err, domain.ErrDecode)
	require.Len(t, msg.Entities, 2)
	assert.Equal(t, "e1", msg.Entities[0].ID)
	assert.Equal(t, "e2", msg.Entities[1].ID)
	assert.Equal(t, "2.0", msg.Header.Version)
}

func TestMapFeed_IgnoresUnknownFields(t *testing.T) {
	b := mustMarshal(t, &gtfspb.FeedMessage{
		Header: header(),
		Entity: []*gtfspb.FeedEntity{tripUpdateEntity("e1", "58", "12")},
	})
	// Extension-range field at the top level.
	b = protowire.AppendTag(b, 1000, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)

	msg, err := gtfsrt.MapFeed(b)

	require.NoError(t, err)
	assert.Len(t, msg.Entities, 1)
}

func TestMapFeed_IgnoresMismatchedWireType(t *testing.T) {
	// Field 1 of FeedEntity is a string; send it as a varint.
	var entity []byte
	entity = protowire.AppendTag(entity, 1, protowire.VarintType)
	entity = protowire.AppendVarint(entity, 5)
	entity = protowire.AppendTag(entity, 2, protowire.VarintType)
	entity = protowire.AppendVarint(entity, 1)

	feed := protowire.AppendTag(nil, 2, protowire.BytesType)
	feed = protowire.AppendBytes(feed, entity)

	msg, err := gtfsrt.MapFeed(feed)

	require.NoError(t, err)
	require.Len(t, msg.Entities, 1)
	assert.Empty(t, msg.Entities[0].ID)
	assert.True(t, msg.Entities[0].IsDeleted)
}
