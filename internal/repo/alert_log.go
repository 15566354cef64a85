package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/stopalert/internal/domain"
)

// AlertLogRepo is the append-only record of delivered arrival notifications.
type AlertLogRepo interface {
	// Append records a delivered notification and returns the stored entry.
	// A zero SentAt is replaced by the database clock.
	Append(ctx context.Context, entry domain.AlertLogEntry) (domain.AlertLogEntry, error)

	// ExistsWithin reports whether subscriptionID was already notified about
	// routeID at a level of maxLevel minutes or fewer since the given time.
	ExistsWithin(ctx context.Context, subscriptionID uuid.UUID, routeID string, maxLevel int, since time.Time) (bool, error)

	// PruneBefore deletes entries sent before cutoff and returns how many.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type pgAlertLogRepo struct {
	db db
}

// NewAlertLogRepo constructs an AlertLogRepo backed by db.
func NewAlertLogRepo(db db) AlertLogRepo {
	return &pgAlertLogRepo{db: db}
}

func (r *pgAlertLogRepo) Append(ctx context.Context, entry domain.AlertLogEntry) (domain.AlertLogEntry, error) {
	const q = `
		INSERT INTO alert_log (subscription_id, stop_id, route_id, alert_level, sent_at)
		VALUES (@subscription_id, @stop_id, @route_id, @alert_level, COALESCE(@sent_at, now()))
		RETURNING id, subscription_id, stop_id, route_id, alert_level, sent_at`

	var sentAt *time.Time
	if !entry.SentAt.IsZero() {
		sentAt = &entry.SentAt
	}

	args := pgx.NamedArgs{
		"subscription_id": entry.SubscriptionID,
		"stop_id":         entry.StopID,
		"route_id":        entry.RouteID,
		"alert_level":     entry.AlertLevel,
		"sent_at":         sentAt,
	}

	var (
		out   domain.AlertLogEntry
		id    pgtype.UUID
		subID pgtype.UUID
	)
	err := r.db.QueryRow(ctx, q, args).Scan(&id, &subID, &out.StopID, &out.RouteID, &out.AlertLevel, &out.SentAt)
	if err != nil {
		return domain.AlertLogEntry{}, fmt.Errorf("repo.AlertLogRepo.Append: %w", err)
	}
	out.ID = uuid.UUID(id.Bytes)
	out.SubscriptionID = uuid.UUID(subID.Bytes)
	return out, nil
}

func (r *pgAlertLogRepo) ExistsWithin(ctx context.Context, subscriptionID uuid.UUID, routeID string, maxLevel int, since time.Time) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM alert_log
			WHERE subscription_id = @subscription_id
			  AND route_id        = @route_id
			  AND sent_at        >= @since
			  AND alert_level    <= @max_level
		)`

	var exists bool
	err := r.db.QueryRow(ctx, q, pgx.NamedArgs{
		"subscription_id": subscriptionID,
		"route_id":        routeID,
		"since":           since,
		"max_level":       maxLevel,
	}).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("repo.AlertLogRepo.ExistsWithin: %w", err)
	}
	return exists, nil
}

func (r *pgAlertLogRepo) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM alert_log WHERE sent_at < @cutoff`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"cutoff": cutoff})
	if err != nil {
		return 0, fmt.Errorf("repo.AlertLogRepo.PruneBefore: %w", err)
	}
	return tag.RowsAffected(), nil
}
