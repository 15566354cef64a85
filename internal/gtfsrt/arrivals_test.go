package gtfsrt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/stopalert/internal/gtfsrt"
)

func stu(stopID string, arrival, departure int64, rel int32) gtfsrt.StopTimeUpdate {
	u := gtfsrt.StopTimeUpdate{StopID: stopID, ScheduleRelationship: rel}
	if arrival != 0 {
		u.Arrival = &gtfsrt.StopTimeEvent{Time: arrival}
	}
	if departure != 0 {
		u.Departure = &gtfsrt.StopTimeEvent{Time: departure}
	}
	return u
}

func entity(id, tripID, routeID string, updates ...gtfsrt.StopTimeUpdate) gtfsrt.FeedEntity {
	return gtfsrt.FeedEntity{
		ID: id,
		TripUpdate: &gtfsrt.TripUpdate{
			Trip:            gtfsrt.TripDescriptor{TripID: tripID, RouteID: routeID},
			StopTimeUpdates: updates,
		},
	}
}

func TestArrivalsAtStop(t *testing.T) {
	deleted := entity("gone", "t9", "9", stu("100", 1000, 0, gtfsrt.ScheduleScheduled))
	deleted.IsDeleted = true
	canceled := entity("c", "t8", "8", stu("100", 1000, 0, gtfsrt.ScheduleScheduled))
	canceled.TripUpdate.Trip.ScheduleRelationship = gtfsrt.TripCanceled

	msg := gtfsrt.FeedMessage{Entities: []gtfsrt.FeedEntity{
		entity("a", "t1", "12", stu("99", 900, 0, 0), stu("100", 1300, 1310, 0)),
		entity("b", "t2", "40", stu("100", 0, 1200, 0)),                      // departure only
		entity("d", "t3", "12", stu("100", 0, 0, 0)),                         // no timing
		entity("e", "t4", "12", stu("100", 1100, 0, gtfsrt.ScheduleSkipped)), // skipped
		entity("f", "t5", "12", stu("100", 1150, 0, gtfsrt.ScheduleNoData)),
		deleted,
		canceled,
		{ID: "alert-only", Alert: &gtfsrt.Alert{}},
	}}

	got := gtfsrt.ArrivalsAtStop(msg, "100")

	require.Len(t, got, 2)
	assert.Equal(t, "40", got[0].RouteID)
	assert.Equal(t, int64(1200), got[0].BestArrivalTime)
	assert.Equal(t, "t2", got[0].TripID)
	assert.Equal(t, "12", got[1].RouteID)
	assert.Equal(t, int64(1300), got[1].BestArrivalTime)
	assert.Equal(t, gtfsrt.SourceName, got[1].Source)
	assert.Equal(t, "100", got[1].StopID)
}

func TestArrivalsAtStop_NoMatches(t *testing.T) {
	msg := gtfsrt.FeedMessage{Entities: []gtfsrt.FeedEntity{
		entity("a", "t1", "12", stu("99", 900, 0, 0)),
	}}

	assert.Empty(t, gtfsrt.ArrivalsAtStop(msg, "100"))
}

func TestAlertsForStop(t *testing.T) {
	routeAlert := gtfsrt.Alert{
		InformedEntities: []gtfsrt.EntitySelector{{RouteID: "12"}},
		HeaderText:       gtfsrt.TranslatedString{Translations: []gtfsrt.Translation{{Text: "Detour"}}},
	}
	stopAlert := gtfsrt.Alert{
		ActivePeriods:    []gtfsrt.TimeRange{{Start: 100}},
		InformedEntities: []gtfsrt.EntitySelector{{StopID: "100"}},
	}
	expired := gtfsrt.Alert{
		ActivePeriods:    []gtfsrt.TimeRange{{Start: 1, End: 50}},
		InformedEntities: []gtfsrt.EntitySelector{{StopID: "100"}},
	}
	otherRoute := gtfsrt.Alert{InformedEntities: []gtfsrt.EntitySelector{{RouteID: "40"}}}

	msg := gtfsrt.FeedMessage{Entities: []gtfsrt.FeedEntity{
		{ID: "1", Alert: &routeAlert},
		{ID: "2", Alert: &stopAlert},
		{ID: "3", Alert: &expired},
		{ID: "4", Alert: &otherRoute},
	}}

	got := gtfsrt.AlertsForStop(msg, "100", []string{"12"}, 150)

	require.Len(t, got, 2)
	assert.Equal(t, "Detour", got[0].HeaderText.Text())
}

func TestTimeRange_OpenBounds(t *testing.T) {
	assert.True(t, gtfsrt.TimeRange{}.Contains(5))
	assert.True(t, gtfsrt.TimeRange{End: 10}.Contains(5))
	assert.False(t, gtfsrt.TimeRange{Start: 10}.Contains(5))
}
