package domain

import "time"

// Arrival is a single predicted arrival of a route at a stop.
type Arrival struct {
	StopID          string `json:"stopId,omitempty"`
	RouteID         string `json:"routeId"`
	RouteShortName  string `json:"routeShortName"`
	TripID          string `json:"tripId,omitempty"`
	BestArrivalTime int64  `json:"bestArrivalTime"` // epoch seconds
	Source          string `json:"source"`
}

// DisplayRoute returns the short name when known, otherwise the route ID.
func (a Arrival) DisplayRoute() string {
	if a.RouteShortName != "" {
		return a.RouteShortName
	}
	return a.RouteID
}

// SourceHealth tracks the recent reliability of one upstream source.
// It is owned by whoever polls the source and passed around explicitly.
type SourceHealth struct {
	Source              string        `json:"source"`
	LastSuccess         time.Time     `json:"lastSuccess"`
	LastFailure         time.Time     `json:"lastFailure"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	AvgResponseTime     time.Duration `json:"avgResponseTime"`
	LastError           string        `json:"lastError,omitempty"`
}
