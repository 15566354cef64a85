package arrivals

import (
	"sort"
	"sync"
	"time"

	"github.com/pkordes/stopalert/internal/domain"
)

// ewmaAlpha weights the newest latency sample in AvgResponseTime.
const ewmaAlpha = 0.2

// HealthTracker keeps a domain.SourceHealth record per source. Each
// dispatcher owns its own tracker; there is no package-level state.
type HealthTracker struct {
	mu      sync.Mutex
	sources map[string]*domain.SourceHealth
	now     func() time.Time
}

// HealthOption customises a HealthTracker.
type HealthOption func(*HealthTracker)

// WithClock replaces the wall clock used for timestamps and, through the
// Selector, for latency and retry timing.
func WithClock(now func() time.Time) HealthOption {
	return func(h *HealthTracker) { h.now = now }
}

// NewHealthTracker returns an empty tracker.
func NewHealthTracker(opts ...HealthOption) *HealthTracker {
	h := &HealthTracker{
		sources: make(map[string]*domain.SourceHealth),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Now reads the tracker's clock.
func (h *HealthTracker) Now() time.Time { return h.now() }

// Record stores the outcome of one request to source that took elapsed.
func (h *HealthTracker) Record(source string, elapsed time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, ok := h.sources[source]
	if !ok {
		rec = &domain.SourceHealth{Source: source}
		h.sources[source] = rec
	}

	if rec.AvgResponseTime == 0 {
		rec.AvgResponseTime = elapsed
	} else {
		rec.AvgResponseTime = time.Duration(ewmaAlpha*float64(elapsed) + (1-ewmaAlpha)*float64(rec.AvgResponseTime))
	}

	if err != nil {
		rec.LastFailure = h.now()
		rec.ConsecutiveFailures++
		rec.LastError = err.Error()
		return
	}
	rec.LastSuccess = h.now()
	rec.ConsecutiveFailures = 0
	rec.LastError = ""
}

// Get returns the record for source; ok is false if it was never recorded.
func (h *HealthTracker) Get(source string) (domain.SourceHealth, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.sources[source]
	if !ok {
		return domain.SourceHealth{Source: source}, false
	}
	return *rec, true
}

// Snapshot returns a copy of every record, ordered by source name.
func (h *HealthTracker) Snapshot() []domain.SourceHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]domain.SourceHealth, 0, len(h.sources))
	for _, rec := range h.sources {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
