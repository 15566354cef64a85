package arrivals

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/pkordes/stopalert/internal/domain"
)

// DefaultRetryInterval is how long a failing source is kept at the back of
// the order before one request is sent to it again.
const DefaultRetryInterval = 30 * time.Second

// Selector tries its sources healthiest-first and returns the first
// successful answer.
//
// Order: a failing source whose retry interval has elapsed goes first, once,
// so it can recover; then sources without failures by average latency, with
// never-measured sources after measured ones in configuration order; then
// failing sources by consecutive failures.
type Selector struct {
	sources       []Source
	health        *HealthTracker
	retryInterval time.Duration
	log           *slog.Logger

	mu      sync.Mutex
	retried map[string]time.Time // last retry claimed per source
}

// NewSelector returns a Selector over sources, recording outcomes in health.
// Ties in health keep the order given here.
func NewSelector(health *HealthTracker, sources ...Source) *Selector {
	return &Selector{
		sources:       sources,
		health:        health,
		retryInterval: DefaultRetryInterval,
		log:           slog.With("component", "arrivals"),
		retried:       make(map[string]time.Time),
	}
}

// WithRetryInterval changes how long a failing source waits before it is
// tried again. It returns s for chaining.
func (s *Selector) WithRetryInterval(d time.Duration) *Selector {
	s.retryInterval = d
	return s
}

// Health exposes the tracker for the sources endpoint.
func (s *Selector) Health() *HealthTracker { return s.health }

// Arrivals returns predictions for stopID from the first source that
// answers. When every source fails, the combined error wraps
// domain.ErrUpstreamFetch.
func (s *Selector) Arrivals(ctx context.Context, stopID string) ([]domain.Arrival, error) {
	if len(s.sources) == 0 {
		return nil, fmt.Errorf("arrivals.Selector.Arrivals: %w: no sources configured", domain.ErrUpstreamFetch)
	}

	var errs error
	for _, src := range s.ordered() {
		start := s.health.Now()
		arr, err := src.Arrivals(ctx, stopID)
		s.health.Record(src.Name(), s.health.Now().Sub(start), err)
		if err == nil {
			return arr, nil
		}
		s.log.Debug("source failed", "source", src.Name(), "stop_id", stopID, "error", err)
		errs = multierr.Append(errs, err)
	}
	return nil, fmt.Errorf("arrivals.Selector.Arrivals: %w", errs)
}

const (
	rankRetry = iota
	rankHealthy
	rankFailing
)

func (s *Selector) ordered() []Source {
	type ranked struct {
		src      Source
		rank     int
		failures int
		latency  time.Duration
	}

	now := s.health.Now()
	rs := make([]ranked, len(s.sources))

	s.mu.Lock()
	for i, src := range s.sources {
		h, seen := s.health.Get(src.Name())
		r := ranked{src: src, rank: rankHealthy, failures: h.ConsecutiveFailures, latency: h.AvgResponseTime}
		if !seen {
			r.latency = math.MaxInt64
		}
		if h.ConsecutiveFailures > 0 {
			r.rank = rankFailing
			last := h.LastFailure
			if p := s.retried[src.Name()]; p.After(last) {
				last = p
			}
			if now.Sub(last) >= s.retryInterval {
				// Claimed here so concurrent stops do not all retry it at once.
				s.retried[src.Name()] = now
				r.rank = rankRetry
			}
		}
		rs[i] = r
	}
	s.mu.Unlock()

	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		if a.failures != b.failures {
			return a.failures < b.failures
		}
		return a.latency < b.latency
	})

	out := make([]Source, len(rs))
	for i, r := range rs {
		out[i] = r.src
	}
	return out
}
