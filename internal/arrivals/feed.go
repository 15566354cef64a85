package arrivals

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pkordes/stopalert/internal/domain"
	"github.com/pkordes/stopalert/internal/gtfsrt"
)

// maxFeedBytes caps a single feed download.
const maxFeedBytes = 32 << 20

// FeedOptions configures a FeedSource.
type FeedOptions struct {
	Name       string
	URL        string
	AuthHeader string // e.g. "x-api-key"; empty disables auth
	AuthValue  string
	Timeout    time.Duration
	CacheTTL   time.Duration // how long a decoded feed, or a failed fetch, is reused
	Client     *http.Client
}

// FeedSource derives arrivals from a GTFS-Realtime feed. The decoded feed is
// cached for CacheTTL so one poll iteration decodes it once for all stops.
// Concurrent callers share a single in-flight download, and a failed
// download is answered from memory until CacheTTL has passed, so a hung
// feed costs one Timeout per TTL rather than one per stop.
type FeedSource struct {
	opts   FeedOptions
	now    func() time.Time
	log    *slog.Logger
	flight singleflight.Group

	mu        sync.Mutex
	msg       gtfsrt.FeedMessage
	fetchedAt time.Time
	fetchErr  error
	failedAt  time.Time
}

// NewFeedSource returns a FeedSource. A zero Name defaults to
// gtfsrt.SourceName; a nil Client uses http.DefaultClient.
func NewFeedSource(opts FeedOptions) *FeedSource {
	if opts.Name == "" {
		opts.Name = gtfsrt.SourceName
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	return &FeedSource{
		opts: opts,
		now:  time.Now,
		log:  slog.With("component", "arrivals", "source", opts.Name),
	}
}

func (s *FeedSource) Name() string { return s.opts.Name }

// Arrivals implements Source.
func (s *FeedSource) Arrivals(ctx context.Context, stopID string) ([]domain.Arrival, error) {
	msg, err := s.Feed(ctx)
	if err != nil {
		return nil, err
	}
	return gtfsrt.ArrivalsAtStop(msg, stopID), nil
}

// Alerts returns the service alerts in the feed that are active now and
// apply to stopID or any of routeIDs.
func (s *FeedSource) Alerts(ctx context.Context, stopID string, routeIDs []string) ([]gtfsrt.Alert, error) {
	msg, err := s.Feed(ctx)
	if err != nil {
		return nil, err
	}
	return gtfsrt.AlertsForStop(msg, stopID, routeIDs, uint64(s.now().Unix())), nil
}

// Feed returns the cached feed, refreshing it when older than CacheTTL.
// A partially decodable feed is kept; its decode error is only logged.
func (s *FeedSource) Feed(ctx context.Context) (gtfsrt.FeedMessage, error) {
	if msg, ok, err := s.cached(); ok {
		return msg, err
	}

	ch := s.flight.DoChan("feed", func() (any, error) {
		// A flight that just finished may have filled the cache.
		if msg, ok, err := s.cached(); ok {
			return msg, err
		}
		// The download outlives any single caller; Timeout still bounds it.
		return s.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return gtfsrt.FeedMessage{}, fmt.Errorf("arrivals.FeedSource.Feed: %w: %v", domain.ErrUpstreamFetch, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return gtfsrt.FeedMessage{}, res.Err
		}
		return res.Val.(gtfsrt.FeedMessage), nil
	}
}

// cached reports the stored feed or the stored failure while either is
// younger than CacheTTL.
func (s *FeedSource) cached() (gtfsrt.FeedMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.fetchErr != nil && now.Sub(s.failedAt) < s.opts.CacheTTL {
		return gtfsrt.FeedMessage{}, true, s.fetchErr
	}
	if s.fetchErr == nil && !s.fetchedAt.IsZero() && now.Sub(s.fetchedAt) < s.opts.CacheTTL {
		return s.msg, true, nil
	}
	return gtfsrt.FeedMessage{}, false, nil
}

func (s *FeedSource) refresh(ctx context.Context) (gtfsrt.FeedMessage, error) {
	msg, err := s.download(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.fetchErr = err
		s.failedAt = s.now()
		return gtfsrt.FeedMessage{}, err
	}
	s.msg = msg
	s.fetchedAt = s.now()
	s.fetchErr = nil
	return msg, nil
}

func (s *FeedSource) download(ctx context.Context) (gtfsrt.FeedMessage, error) {
	raw, err := s.fetch(ctx)
	if err != nil {
		return gtfsrt.FeedMessage{}, err
	}

	msg, err := gtfsrt.MapFeed(raw)
	if err != nil {
		if !errors.Is(err, domain.ErrDecode) {
			return gtfsrt.FeedMessage{}, fmt.Errorf("arrivals.FeedSource.Feed: %w", err)
		}
		s.log.Warn("feed partially decoded", "error", err, "entities", len(msg.Entities))
	}
	return msg, nil
}

func (s *FeedSource) fetch(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("arrivals.FeedSource.fetch: %w: %v", domain.ErrUpstreamFetch, err)
	}
	req.Header.Set("Accept", "application/x-protobuf")
	if s.opts.AuthHeader != "" {
		req.Header.Set(s.opts.AuthHeader, s.opts.AuthValue)
	}

	resp, err := s.opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arrivals.FeedSource.fetch: %w: %v", domain.ErrUpstreamFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("arrivals.FeedSource.fetch: %w: status %s", domain.ErrUpstreamFetch, resp.Status)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("arrivals.FeedSource.fetch: %w: read body: %v", domain.ErrUpstreamFetch, err)
	}
	return b, nil
}
