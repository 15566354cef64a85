// Package app wires configuration into the services shared by the API server
// and the one-shot notify job. No business logic belongs here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sethvargo/go-retry"

	"github.com/pkordes/stopalert/internal/arrivals"
	"github.com/pkordes/stopalert/internal/config"
	"github.com/pkordes/stopalert/internal/repo"
	"github.com/pkordes/stopalert/internal/service"
	"github.com/pkordes/stopalert/internal/webpush"
	"github.com/pkordes/stopalert/migrations"
)

// App holds the long-lived dependencies built from a Config.
type App struct {
	Pool          *pgxpool.Pool
	Subscriptions *service.SubscriptionService
	Dispatch      *service.DispatchService
	Sources       *arrivals.Selector
	Sender        *webpush.Sender
}

// NewLogger returns a JSON slog.Logger at the named level, falling back to
// info for unknown names.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// New connects to the database, optionally migrates it, and builds every
// service. Call Close when done.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	sender, err := newSender(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.MigrateOnStart {
		db := stdlib.OpenDBFromPool(pool)
		err := migrations.Up(ctx, db)
		_ = db.Close()
		if err != nil {
			pool.Close()
			return nil, err
		}
	}

	subs := repo.NewSubscriptionRepo(pool)
	alertLog := repo.NewAlertLogRepo(pool)

	selector, alerts := newSources(cfg)

	opts := []service.DispatchOption{}
	if alerts != nil {
		opts = append(opts, service.WithAlertLookup(alerts))
	}
	dispatch := service.NewDispatchService(subs, alertLog, selector, sender, service.DispatchConfig{
		Budget:         cfg.CycleBudget,
		PollInterval:   cfg.PollInterval,
		Cooldown:       cfg.Cooldown,
		Retention:      cfg.AlertRetention,
		PushTTL:        cfg.PushTTL,
		MaxConcurrency: cfg.MaxConcurrency,
	}, opts...)

	return &App{
		Pool:          pool,
		Subscriptions: service.NewSubscriptionService(subs),
		Dispatch:      dispatch,
		Sources:       selector,
		Sender:        sender,
	}, nil
}

// Close releases the database pool.
func (a *App) Close() {
	a.Pool.Close()
}

func newSender(cfg config.Config) (*webpush.Sender, error) {
	key, err := webpush.LoadSigningKey(cfg.VAPIDPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("VAPID_PRIVATE_KEY: %w", err)
	}
	sender, err := webpush.NewSender(key, cfg.VAPIDSubject, cfg.PushTimeout)
	if err != nil {
		return nil, err
	}
	if cfg.VAPIDPublicKey != "" && cfg.VAPIDPublicKey != sender.PublicKey() {
		return nil, errors.New("VAPID_PUBLIC_KEY does not match VAPID_PRIVATE_KEY")
	}
	return sender, nil
}

// connect opens the pool and pings it with exponential backoff, so the
// service tolerates a database that is still starting.
func connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}

	backoff := retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			slog.Warn("database not ready", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	slog.Info("database connection established")
	return pool, nil
}

// newSources builds the arrival selector in preference order: the arrivals
// service first, then the trip-updates feed. The alerts feed, when set, is
// returned separately for notification text.
func newSources(cfg config.Config) (*arrivals.Selector, *arrivals.FeedSource) {
	var sources []arrivals.Source
	if cfg.ArrivalsURL != "" {
		sources = append(sources, arrivals.NewHTTPSource("transit-api", cfg.ArrivalsURL, cfg.FetchTimeout, nil))
	}
	if cfg.TripUpdatesURL != "" {
		sources = append(sources, arrivals.NewFeedSource(arrivals.FeedOptions{
			URL:        cfg.TripUpdatesURL,
			AuthHeader: cfg.FeedAuthHeader,
			AuthValue:  cfg.FeedAuthValue,
			Timeout:    cfg.FetchTimeout,
			CacheTTL:   cfg.FeedCacheTTL,
		}))
	}

	var alerts *arrivals.FeedSource
	if cfg.AlertsURL != "" {
		alerts = arrivals.NewFeedSource(arrivals.FeedOptions{
			Name:       "gtfs-rt-alerts",
			URL:        cfg.AlertsURL,
			AuthHeader: cfg.FeedAuthHeader,
			AuthValue:  cfg.FeedAuthValue,
			Timeout:    cfg.FetchTimeout,
			CacheTTL:   time.Minute,
		})
	}
	return arrivals.NewSelector(arrivals.NewHealthTracker(), sources...), alerts
}
