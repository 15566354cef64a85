package gtfsrt

import (
	"sort"

	"github.com/pkordes/stopalert/internal/domain"
)

// SourceName identifies arrivals derived from a GTFS-Realtime feed.
const SourceName = "gtfs-rt"

// ArrivalsAtStop extracts predicted arrivals at stopID from the trip updates
// in msg, ordered by arrival time.
//
// The arrival time is taken from the arrival event, falling back to the
// departure event. Updates carrying only a delay are skipped, because turning
// a delay into a time needs the static schedule. Deleted entities, cancelled
// trips and skipped or no-data stops are ignored.
func ArrivalsAtStop(msg FeedMessage, stopID string) []domain.Arrival {
	var out []domain.Arrival
	for _, e := range msg.Entities {
		if e.IsDeleted || e.TripUpdate == nil {
			continue
		}
		tu := e.TripUpdate
		if tu.Trip.ScheduleRelationship == TripCanceled {
			continue
		}
		for _, stu := range tu.StopTimeUpdates {
			if stu.StopID != stopID || !stu.Actionable() {
				continue
			}
			if stu.ScheduleRelationship == ScheduleSkipped || stu.ScheduleRelationship == ScheduleNoData {
				continue
			}
			at := eventTime(stu.Arrival)
			if at == 0 {
				at = eventTime(stu.Departure)
			}
			if at == 0 {
				continue
			}
			out = append(out, domain.Arrival{
				StopID:          stopID,
				RouteID:         tu.Trip.RouteID,
				TripID:          tu.Trip.TripID,
				BestArrivalTime: at,
				Source:          SourceName,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BestArrivalTime < out[j].BestArrivalTime })
	return out
}

func eventTime(ev *StopTimeEvent) int64 {
	if ev == nil {
		return 0
	}
	return ev.Time
}

// AlertsForStop returns the alerts active at epoch that name stopID or any of
// routeIDs among their informed entities.
func AlertsForStop(msg FeedMessage, stopID string, routeIDs []string, epoch uint64) []Alert {
	routes := make(map[string]struct{}, len(routeIDs))
	for _, r := range routeIDs {
		routes[r] = struct{}{}
	}
	var out []Alert
	for _, e := range msg.Entities {
		if e.IsDeleted || e.Alert == nil || !e.Alert.ActiveAt(epoch) {
			continue
		}
		for _, sel := range e.Alert.InformedEntities {
			_, routeMatch := routes[sel.RouteID]
			if (sel.StopID != "" && sel.StopID == stopID) || (sel.RouteID != "" && routeMatch) {
				out = append(out, *e.Alert)
				break
			}
		}
	}
	return out
}
