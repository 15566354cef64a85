package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/pkordes/stopalert/internal/domain"
	"github.com/pkordes/stopalert/internal/gtfsrt"
	"github.com/pkordes/stopalert/internal/repo"
	"github.com/pkordes/stopalert/internal/webpush"
)

// ArrivalFetcher returns predicted arrivals for a stop.
// *arrivals.Selector satisfies it.
type ArrivalFetcher interface {
	Arrivals(ctx context.Context, stopID string) ([]domain.Arrival, error)
}

// AlertLookup returns active service alerts for a stop or its routes.
// *arrivals.FeedSource satisfies it.
type AlertLookup interface {
	Alerts(ctx context.Context, stopID string, routeIDs []string) ([]gtfsrt.Alert, error)
}

// Pusher delivers one encrypted notification. *webpush.Sender satisfies it.
type Pusher interface {
	Send(ctx context.Context, sub webpush.Subscriber, payload []byte, ttl time.Duration) error
}

// DispatchConfig holds the timing knobs of a dispatch cycle.
type DispatchConfig struct {
	Budget         time.Duration // wall-clock length of one RunCycle
	PollInterval   time.Duration // pause between iterations
	Cooldown       time.Duration // alert-log lookback for dedup
	Retention      time.Duration // alert-log entries older than this are pruned
	PushTTL        time.Duration
	MaxConcurrency int // stops evaluated in parallel
}

// DefaultDispatchConfig returns the production defaults.
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		Budget:         55 * time.Second,
		PollInterval:   15 * time.Second,
		Cooldown:       20 * time.Minute,
		Retention:      24 * time.Hour,
		PushTTL:        5 * time.Minute,
		MaxConcurrency: 8,
	}
}

// CycleReport summarises one RunCycle.
type CycleReport struct {
	Iterations int           `json:"iterations"`
	Evaluated  int           `json:"evaluated"`  // watcher x arrival pairs considered
	Sent       int           `json:"sent"`       // notifications delivered
	Suppressed int           `json:"suppressed"` // crossed a threshold but already notified
	Failed     int           `json:"failed"`     // delivery or key errors
	Removed    int           `json:"removed"`    // subscriptions deleted after 404/410
	Pruned     int64         `json:"pruned"`     // alert-log rows deleted
	Duration   time.Duration `json:"durationNs"`
}

// DispatchService evaluates every watched stop against live arrivals and
// pushes a notification when an arrival crosses one of the alert levels.
type DispatchService struct {
	subs     repo.SubscriptionRepo
	alertLog repo.AlertLogRepo
	arrivals ArrivalFetcher
	alerts   AlertLookup
	pusher   Pusher
	cfg      DispatchConfig
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)
	log      *slog.Logger
}

// DispatchOption customises a DispatchService.
type DispatchOption func(*DispatchService)

// WithAlertLookup enables service-alert text in notification bodies.
func WithAlertLookup(a AlertLookup) DispatchOption {
	return func(s *DispatchService) { s.alerts = a }
}

// WithDispatchClock replaces the wall clock and the between-iteration sleep.
func WithDispatchClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration)) DispatchOption {
	return func(s *DispatchService) {
		s.now = now
		s.sleep = sleep
	}
}

// NewDispatchService constructs a DispatchService.
func NewDispatchService(
	subs repo.SubscriptionRepo,
	alertLog repo.AlertLogRepo,
	arrivals ArrivalFetcher,
	pusher Pusher,
	cfg DispatchConfig,
	opts ...DispatchOption,
) *DispatchService {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	s := &DispatchService{
		subs:     subs,
		alertLog: alertLog,
		arrivals: arrivals,
		pusher:   pusher,
		cfg:      cfg,
		now:      time.Now,
		sleep:    sleepContext,
		log:      slog.With("component", "dispatch"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// RunCycle polls until the configured budget is spent, sleeping
// PollInterval between iterations. At least one iteration always runs.
//
// Store errors abort only the step that hit them; they are collected and
// returned together with the report.
func (s *DispatchService) RunCycle(ctx context.Context) (CycleReport, error) {
	start := s.now()
	deadline := start.Add(s.cfg.Budget)

	var (
		report CycleReport
		errs   error
	)

	if s.cfg.Retention > 0 {
		n, err := s.alertLog.PruneBefore(ctx, start.Add(-s.cfg.Retention))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("service.DispatchService.RunCycle: prune: %w: %w", domain.ErrStore, err))
		}
		report.Pruned = n
	}

	for {
		report.Iterations++
		errs = multierr.Append(errs, s.iterate(ctx, &report))

		if ctx.Err() != nil {
			break
		}
		if !s.now().Add(s.cfg.PollInterval).Before(deadline) {
			break
		}
		s.sleep(ctx, s.cfg.PollInterval)
		if ctx.Err() != nil {
			break
		}
	}

	report.Duration = s.now().Sub(start)
	s.log.Info("dispatch cycle finished",
		"iterations", report.Iterations,
		"evaluated", report.Evaluated,
		"sent", report.Sent,
		"suppressed", report.Suppressed,
		"failed", report.Failed,
		"removed", report.Removed,
		"pruned", report.Pruned,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, errs
}

// watcher is one deliverable notification setting with its subscription.
type watcher struct {
	sub     domain.Subscription
	setting domain.NotificationSetting
}

// iteration carries the state shared by the per-stop goroutines of one pass.
type iteration struct {
	mu     sync.Mutex
	report *CycleReport
	errs   error
	gone   map[string]bool // endpoints deleted during this pass
}

func (it *iteration) count(f func(r *CycleReport)) {
	it.mu.Lock()
	defer it.mu.Unlock()
	f(it.report)
}

func (it *iteration) fail(err error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.errs = multierr.Append(it.errs, err)
}

func (it *iteration) isGone(endpoint string) bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.gone[endpoint]
}

func (it *iteration) markGone(endpoint string) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.gone[endpoint] = true
}

func (s *DispatchService) iterate(ctx context.Context, report *CycleReport) error {
	subs, err := s.subs.ListWithNotifications(ctx)
	if err != nil {
		return fmt.Errorf("service.DispatchService.iterate: list subscriptions: %w: %w", domain.ErrStore, err)
	}

	byStop := groupByStop(subs)
	stops := make([]string, 0, len(byStop))
	for id := range byStop {
		stops = append(stops, id)
	}
	sort.Strings(stops)

	it := &iteration{report: report, gone: make(map[string]bool)}

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrency)
	for _, stopID := range stops {
		watchers := byStop[stopID]
		g.Go(func() error {
			s.evaluateStop(ctx, it, stopID, watchers)
			return nil
		})
	}
	_ = g.Wait()

	return it.errs
}

// groupByStop fans subscriptions out by stop ID, keeping only settings that
// are both enabled and push-eligible.
func groupByStop(subs []domain.Subscription) map[string][]watcher {
	out := make(map[string][]watcher)
	for _, sub := range subs {
		for _, setting := range sub.StopNotifications {
			if !setting.Deliverable() {
				continue
			}
			out[setting.StopID] = append(out[setting.StopID], watcher{sub: sub, setting: setting})
		}
	}
	return out
}

func (s *DispatchService) evaluateStop(ctx context.Context, it *iteration, stopID string, watchers []watcher) {
	log := s.log.With("stop_id", stopID)

	arrivals, err := s.arrivals.Arrivals(ctx, stopID)
	if err != nil {
		log.Warn("arrivals unavailable, skipping stop", "error", err)
		return
	}
	if len(arrivals) == 0 {
		return
	}

	now := s.now()
	alert := s.alertFor(ctx, stopID, arrivals)

	for _, w := range watchers {
		for _, a := range arrivals {
			if it.isGone(w.sub.Endpoint) {
				break
			}
			it.count(func(r *CycleReport) { r.Evaluated++ })

			minutes := MinutesUntil(a.BestArrivalTime, now.Unix())
			level, ok := SelectThreshold(w.setting.BeforeMinutes, minutes)
			if !ok {
				continue
			}

			dup, err := s.alertLog.ExistsWithin(ctx, w.sub.ID, a.RouteID, level, now.Add(-s.cfg.Cooldown))
			if err != nil {
				it.fail(fmt.Errorf("service.DispatchService.evaluateStop: dedup %s/%s: %w: %w", stopID, a.RouteID, domain.ErrStore, err))
				continue
			}
			if dup {
				it.count(func(r *CycleReport) { r.Suppressed++ })
				continue
			}

			s.deliver(ctx, it, w, a, level, minutes, alert(a.RouteID), now)
		}
	}
}

// alertFor returns a lazy per-route lookup of the first active service alert.
// Lookup failures only lose the alert text.
func (s *DispatchService) alertFor(ctx context.Context, stopID string, arrivals []domain.Arrival) func(routeID string) *gtfsrt.Alert {
	if s.alerts == nil {
		return func(string) *gtfsrt.Alert { return nil }
	}

	var (
		once  sync.Once
		found []gtfsrt.Alert
	)
	return func(routeID string) *gtfsrt.Alert {
		once.Do(func() {
			routes := make([]string, 0, len(arrivals))
			for _, a := range arrivals {
				routes = append(routes, a.RouteID)
			}
			alerts, err := s.alerts.Alerts(ctx, stopID, routes)
			if err != nil {
				s.log.Debug("alert lookup failed", "stop_id", stopID, "error", err)
				return
			}
			found = alerts
		})
		for i := range found {
			for _, sel := range found[i].InformedEntities {
				if (sel.StopID != "" && sel.StopID == stopID) || (sel.RouteID != "" && sel.RouteID == routeID) {
					return &found[i]
				}
			}
		}
		return nil
	}
}

func (s *DispatchService) deliver(
	ctx context.Context,
	it *iteration,
	w watcher,
	a domain.Arrival,
	level, minutes int,
	alert *gtfsrt.Alert,
	now time.Time,
) {
	log := s.log.With("stop_id", w.setting.StopID, "route_id", a.RouteID, "subscription_id", w.sub.ID, "level", level)

	target, err := webpush.SubscriberFrom(w.sub)
	if err != nil {
		log.Warn("subscription key material invalid", "error", err)
		it.count(func(r *CycleReport) { r.Failed++ })
		return
	}

	payload, err := json.Marshal(BuildPayload(w.setting, a, minutes, alert))
	if err != nil {
		log.Error("marshal payload", "error", err)
		it.count(func(r *CycleReport) { r.Failed++ })
		return
	}

	err = s.pusher.Send(ctx, target, payload, s.cfg.PushTTL)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrDeliveryGone):
		it.markGone(w.sub.Endpoint)
		log.Info("push endpoint gone, removing subscription")
		if derr := s.subs.DeleteByEndpoint(ctx, w.sub.Endpoint); derr != nil && !errors.Is(derr, domain.ErrNotFound) {
			it.fail(fmt.Errorf("service.DispatchService.deliver: delete subscription: %w: %w", domain.ErrStore, derr))
			return
		}
		it.count(func(r *CycleReport) { r.Removed++ })
		return
	default:
		log.Warn("push delivery failed", "error", err)
		it.count(func(r *CycleReport) { r.Failed++ })
		return
	}

	it.count(func(r *CycleReport) { r.Sent++ })
	log.Info("notification sent", "minutes", minutes)

	_, err = s.alertLog.Append(ctx, domain.AlertLogEntry{
		SubscriptionID: w.sub.ID,
		StopID:         w.setting.StopID,
		RouteID:        a.RouteID,
		AlertLevel:     level,
		SentAt:         now,
	})
	if err != nil {
		it.fail(fmt.Errorf("service.DispatchService.deliver: append alert log: %w: %w", domain.ErrStore, err))
	}
}
