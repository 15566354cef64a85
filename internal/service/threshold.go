package service

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/pkordes/stopalert/internal/domain"
	"github.com/pkordes/stopalert/internal/gtfsrt"
)

// alertLevels are the minutes-before-arrival boundaries, most urgent first.
var alertLevels = []int{2, 5, 10}

// minAlertLevel is the floor of every candidate set.
const minAlertLevel = 2

// CandidateThresholds returns {10,5,2} ∩ [2, max(beforeMinutes,2)] in
// ascending order.
func CandidateThresholds(beforeMinutes int) []int {
	upper := max(beforeMinutes, minAlertLevel)
	out := make([]int, 0, len(alertLevels))
	for _, t := range alertLevels {
		if t >= minAlertLevel && t <= upper {
			out = append(out, t)
		}
	}
	return out
}

// SelectThreshold returns the most urgent crossed threshold: the smallest
// candidate T with minutesUntil <= T. ok is false when the arrival is still
// beyond every candidate or already in the past.
func SelectThreshold(beforeMinutes, minutesUntil int) (threshold int, ok bool) {
	if minutesUntil < 0 {
		return 0, false
	}
	for _, t := range CandidateThresholds(beforeMinutes) {
		if minutesUntil <= t {
			return t, true
		}
	}
	return 0, false
}

// MinutesUntil is floor((arrival-now)/60) for epoch seconds.
func MinutesUntil(arrival, now int64) int {
	d := arrival - now
	if d < 0 {
		return int((d - 59) / 60)
	}
	return int(d / 60)
}

// Payload is the JSON document the service worker turns into a notification.
type Payload struct {
	Title string      `json:"title"`
	Body  string      `json:"body"`
	Tag   string      `json:"tag"`
	URL   string      `json:"url"`
	Data  PayloadData `json:"data"`
}

// PayloadData is passed through to the notification click handler.
type PayloadData struct {
	StopID  string `json:"stopId"`
	RouteID string `json:"routeId"`
	Minutes int    `json:"minutes"`
	Alert   string `json:"alert,omitempty"`
}

// BuildPayload renders the notification for one arrival. alert, when
// non-nil, is a service alert affecting the stop or route.
func BuildPayload(setting domain.NotificationSetting, arrival domain.Arrival, minutesUntil int, alert *gtfsrt.Alert) Payload {
	stop := setting.StopName
	if stop == "" {
		stop = "stop " + setting.StopID
	}

	var body string
	switch minutesUntil {
	case 0:
		body = "Arriving now at " + stop
	case 1:
		body = "1 minute away from " + stop
	default:
		body = strconv.Itoa(minutesUntil) + " minutes away from " + stop
	}

	p := Payload{
		Title: fmt.Sprintf("Route %s", arrival.DisplayRoute()),
		Body:  body,
		Tag:   "arrival-" + setting.StopID + "-" + arrival.RouteID,
		URL:   "/?stop=" + url.QueryEscape(setting.StopID),
		Data: PayloadData{
			StopID:  setting.StopID,
			RouteID: arrival.RouteID,
			Minutes: minutesUntil,
		},
	}
	if alert != nil {
		if h := alert.HeaderText.Text(); h != "" {
			p.Body += ". " + h
			p.Data.Alert = h
		}
	}
	return p
}
