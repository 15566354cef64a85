// Package arrivals fetches predicted arrivals for a stop from one or more
// upstream sources and tracks how reliable each source has been.
package arrivals

import (
	"context"

	"github.com/pkordes/stopalert/internal/domain"
)

// Source is one upstream provider of arrival predictions.
type Source interface {
	// Name identifies the source in logs and health snapshots.
	Name() string

	// Arrivals returns predictions for stopID. Failures wrap
	// domain.ErrUpstreamFetch.
	Arrivals(ctx context.Context, stopID string) ([]domain.Arrival, error)
}
