package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/stopalert/internal/domain"
	"github.com/pkordes/stopalert/internal/gtfsrt"
	"github.com/pkordes/stopalert/internal/repo"
	"github.com/pkordes/stopalert/internal/service"
	"github.com/pkordes/stopalert/internal/webpush"
)

// mockSubscriptionRepo is a hand-written test double for repo.SubscriptionRepo.
// Each method is a function field; set only the ones your test needs.
type mockSubscriptionRepo struct {
	listWithNotifications func(ctx context.Context) ([]domain.Subscription, error)
	getByEndpoint         func(ctx context.Context, endpoint string) (domain.Subscription, error)
	upsert                func(ctx context.Context, sub domain.Subscription) (domain.Subscription, error)
	updateNotifications   func(ctx context.Context, endpoint string, settings []domain.NotificationSetting) (domain.Subscription, error)
	deleteByEndpoint      func(ctx context.Context, endpoint string) error
}

func (m *mockSubscriptionRepo) ListWithNotifications(ctx context.Context) ([]domain.Subscription, error) {
	return m.listWithNotifications(ctx)
}
func (m *mockSubscriptionRepo) GetByEndpoint(ctx context.Context, endpoint string) (domain.Subscription, error) {
	return m.getByEndpoint(ctx, endpoint)
}
func (m *mockSubscriptionRepo) Upsert(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	return m.upsert(ctx, sub)
}
func (m *mockSubscriptionRepo) UpdateNotifications(ctx context.Context, endpoint string, settings []domain.NotificationSetting) (domain.Subscription, error) {
	return m.updateNotifications(ctx, endpoint, settings)
}
func (m *mockSubscriptionRepo) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	return m.deleteByEndpoint(ctx, endpoint)
}

// memAlertLog is an in-memory repo.AlertLogRepo with the same ExistsWithin
// semantics as the Postgres query.
type memAlertLog struct {
	mu        sync.Mutex
	entries   []domain.AlertLogEntry
	appendErr error
	existsErr error
	pruneErr  error
	pruneArg  time.Time
}

func (m *memAlertLog) Append(_ context.Context, e domain.AlertLogEntry) (domain.AlertLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return domain.AlertLogEntry{}, m.appendErr
	}
	e.ID = uuid.New()
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *memAlertLog) ExistsWithin(_ context.Context, subID uuid.UUID, routeID string, maxLevel int, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsErr != nil {
		return false, m.existsErr
	}
	for _, e := range m.entries {
		if e.SubscriptionID == subID && e.RouteID == routeID && e.AlertLevel <= maxLevel && !e.SentAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memAlertLog) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneArg = cutoff
	if m.pruneErr != nil {
		return 0, m.pruneErr
	}
	var kept []domain.AlertLogEntry
	var n int64
	for _, e := range m.entries {
		if e.SentAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return n, nil
}

func (m *memAlertLog) snapshot() []domain.AlertLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AlertLogEntry(nil), m.entries...)
}

type mockArrivals struct {
	arrivals func(ctx context.Context, stopID string) ([]domain.Arrival, error)
}

func (m *mockArrivals) Arrivals(ctx context.Context, stopID string) ([]domain.Arrival, error) {
	return m.arrivals(ctx, stopID)
}

type mockAlerts struct {
	alerts func(ctx context.Context, stopID string, routeIDs []string) ([]gtfsrt.Alert, error)
}

func (m *mockAlerts) Alerts(ctx context.Context, stopID string, routeIDs []string) ([]gtfsrt.Alert, error) {
	return m.alerts(ctx, stopID, routeIDs)
}

type sentPush struct {
	endpoint string
	payload  []byte
	ttl      time.Duration
}

// recordingPusher records every Send; result decides the outcome per endpoint.
type recordingPusher struct {
	mu     sync.Mutex
	sent   []sentPush
	result func(endpoint string) error
}

func (p *recordingPusher) Send(_ context.Context, sub webpush.Subscriber, payload []byte, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sentPush{endpoint: sub.Endpoint, payload: payload, ttl: ttl})
	if p.result != nil {
		return p.result(sub.Endpoint)
	}
	return nil
}

func (p *recordingPusher) pushes() []sentPush {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentPush(nil), p.sent...)
}

// compile-time checks.
var (
	_ repo.SubscriptionRepo  = (*mockSubscriptionRepo)(nil)
	_ repo.AlertLogRepo      = (*memAlertLog)(nil)
	_ service.ArrivalFetcher = (*mockArrivals)(nil)
	_ service.AlertLookup    = (*mockAlerts)(nil)
	_ service.Pusher         = (*recordingPusher)(nil)
	_ service.Pusher         = (*webpush.Sender)(nil)
)
