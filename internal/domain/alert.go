package domain

import (
	"time"

	"github.com/google/uuid"
)

// AlertLogEntry records one delivered arrival notification. Entries are
// append-only; the dispatch loop reads them back to suppress repeats within
// the cooldown window.
type AlertLogEntry struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	StopID         string
	RouteID        string
	AlertLevel     int // threshold in minutes: 10, 5 or 2
	SentAt         time.Time
}
