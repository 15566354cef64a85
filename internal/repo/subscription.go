package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/stopalert/internal/domain"
)

// SubscriptionRepo defines the persistence operations for push subscriptions.
// Subscriptions are keyed by their push endpoint URL.
type SubscriptionRepo interface {
	// ListWithNotifications returns every subscription with at least one
	// stop notification setting, enabled or not.
	ListWithNotifications(ctx context.Context) ([]domain.Subscription, error)

	// GetByEndpoint returns domain.ErrNotFound when no row matches.
	GetByEndpoint(ctx context.Context, endpoint string) (domain.Subscription, error)

	// Upsert inserts the subscription or, if the endpoint already exists,
	// replaces its keys and stop notifications. last_notified is preserved.
	Upsert(ctx context.Context, sub domain.Subscription) (domain.Subscription, error)

	// UpdateNotifications replaces the stop notification settings only.
	// Returns domain.ErrNotFound when no row matches.
	UpdateNotifications(ctx context.Context, endpoint string, settings []domain.NotificationSetting) (domain.Subscription, error)

	// DeleteByEndpoint removes the subscription and, by cascade, its alert
	// log. Returns domain.ErrNotFound when no row matches.
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

type pgSubscriptionRepo struct {
	db db
}

// NewSubscriptionRepo constructs a SubscriptionRepo backed by db.
func NewSubscriptionRepo(db db) SubscriptionRepo {
	return &pgSubscriptionRepo{db: db}
}

const subscriptionColumns = `id, endpoint, p256dh, auth, stop_notifications, last_notified, created_at, updated_at`

func (r *pgSubscriptionRepo) ListWithNotifications(ctx context.Context) ([]domain.Subscription, error) {
	const q = `
		SELECT ` + subscriptionColumns + `
		FROM push_subscriptions
		WHERE jsonb_array_length(stop_notifications) > 0
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("repo.SubscriptionRepo.ListWithNotifications: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.SubscriptionRepo.ListWithNotifications: scan: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.SubscriptionRepo.ListWithNotifications: rows: %w", err)
	}
	return subs, nil
}

func (r *pgSubscriptionRepo) GetByEndpoint(ctx context.Context, endpoint string) (domain.Subscription, error) {
	const q = `
		SELECT ` + subscriptionColumns + `
		FROM push_subscriptions
		WHERE endpoint = @endpoint`

	s, err := scanSubscription(r.db.QueryRow(ctx, q, pgx.NamedArgs{"endpoint": endpoint}))
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("repo.SubscriptionRepo.GetByEndpoint: %w", err)
	}
	return s, nil
}

func (r *pgSubscriptionRepo) Upsert(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	const q = `
		INSERT INTO push_subscriptions (endpoint, p256dh, auth, stop_notifications)
		VALUES (@endpoint, @p256dh, @auth, @stop_notifications)
		ON CONFLICT (endpoint) DO UPDATE
		SET p256dh             = EXCLUDED.p256dh,
		    auth               = EXCLUDED.auth,
		    stop_notifications = EXCLUDED.stop_notifications,
		    updated_at         = now()
		RETURNING ` + subscriptionColumns

	settings, err := marshalSettings(sub.StopNotifications)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("repo.SubscriptionRepo.Upsert: %w", err)
	}

	args := pgx.NamedArgs{
		"endpoint":           sub.Endpoint,
		"p256dh":             sub.P256dh,
		"auth":               sub.Auth,
		"stop_notifications": settings,
	}
	s, err := scanSubscription(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("repo.SubscriptionRepo.Upsert: %w", err)
	}
	return s, nil
}

func (r *pgSubscriptionRepo) UpdateNotifications(ctx context.Context, endpoint string, settings []domain.NotificationSetting) (domain.Subscription, error) {
	const q = `
		UPDATE push_subscriptions
		SET stop_notifications = @stop_notifications,
		    updated_at         = now()
		WHERE endpoint = @endpoint
		RETURNING ` + subscriptionColumns

	raw, err := marshalSettings(settings)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("repo.SubscriptionRepo.UpdateNotifications: %w", err)
	}

	s, err := scanSubscription(r.db.QueryRow(ctx, q, pgx.NamedArgs{
		"endpoint":           endpoint,
		"stop_notifications": raw,
	}))
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("repo.SubscriptionRepo.UpdateNotifications: %w", err)
	}
	return s, nil
}

func (r *pgSubscriptionRepo) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	const q = `DELETE FROM push_subscriptions WHERE endpoint = @endpoint`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"endpoint": endpoint})
	if err != nil {
		return fmt.Errorf("repo.SubscriptionRepo.DeleteByEndpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo.SubscriptionRepo.DeleteByEndpoint: %w", domain.ErrNotFound)
	}
	return nil
}

// marshalSettings encodes settings as a JSON array; nil becomes [].
func marshalSettings(settings []domain.NotificationSetting) (string, error) {
	if settings == nil {
		settings = []domain.NotificationSetting{}
	}
	b, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("marshal stop_notifications: %w", err)
	}
	return string(b), nil
}

func scanSubscription(s scanner) (domain.Subscription, error) {
	var (
		sub          domain.Subscription
		id           pgtype.UUID
		settingsRaw  []byte
		lastNotified []byte
	)

	err := s.Scan(&id, &sub.Endpoint, &sub.P256dh, &sub.Auth, &settingsRaw, &lastNotified, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, domain.ErrNotFound
		}
		return domain.Subscription{}, err
	}

	sub.ID = uuid.UUID(id.Bytes)
	if err := json.Unmarshal(settingsRaw, &sub.StopNotifications); err != nil {
		return domain.Subscription{}, fmt.Errorf("decode stop_notifications: %w", err)
	}
	if len(lastNotified) > 0 {
		if err := json.Unmarshal(lastNotified, &sub.LastNotified); err != nil {
			return domain.Subscription{}, fmt.Errorf("decode last_notified: %w", err)
		}
	}
	return sub, nil
}
