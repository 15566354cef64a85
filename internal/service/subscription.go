// Package service contains the business logic of the stop alert service.
// Services validate inputs, enforce business rules, and orchestrate repo calls.
// No SQL lives here; services depend on repo interfaces, not implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pkordes/stopalert/internal/domain"
	"github.com/pkordes/stopalert/internal/repo"
	"github.com/pkordes/stopalert/internal/webpush"
)

const (
	p256dhSize = 65
	authSize   = 16
)

// SubscriptionService manages the browser push subscriptions.
type SubscriptionService struct {
	repo     repo.SubscriptionRepo
	validate *validator.Validate
}

// NewSubscriptionService constructs a SubscriptionService backed by r.
func NewSubscriptionService(r repo.SubscriptionRepo) *SubscriptionService {
	return &SubscriptionService{repo: r, validate: newValidator()}
}

// newValidator reports field paths using their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Save validates sub and creates or replaces the subscription for its endpoint.
func (s *SubscriptionService) Save(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	if err := s.check(sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("service.SubscriptionService.Save: %w", err)
	}
	saved, err := s.repo.Upsert(ctx, sub)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("service.SubscriptionService.Save: %w", err)
	}
	return saved, nil
}

// Get returns the subscription registered for endpoint.
func (s *SubscriptionService) Get(ctx context.Context, endpoint string) (domain.Subscription, error) {
	sub, err := s.repo.GetByEndpoint(ctx, endpoint)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("service.SubscriptionService.Get: %w", err)
	}
	return sub, nil
}

// UpdateNotifications replaces the stop settings of an existing subscription.
func (s *SubscriptionService) UpdateNotifications(ctx context.Context, endpoint string, settings []domain.NotificationSetting) (domain.Subscription, error) {
	for i, n := range settings {
		if err := s.validate.Struct(n); err != nil {
			return domain.Subscription{}, fmt.Errorf("service.SubscriptionService.UpdateNotifications: %w",
				validationError(err, fmt.Sprintf("stopNotifications[%d].", i)))
		}
	}
	sub, err := s.repo.UpdateNotifications(ctx, endpoint, settings)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("service.SubscriptionService.UpdateNotifications: %w", err)
	}
	return sub, nil
}

// Delete removes the subscription registered for endpoint.
func (s *SubscriptionService) Delete(ctx context.Context, endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("service.SubscriptionService.Delete: %w: endpoint is required", domain.ErrValidation)
	}
	if err := s.repo.DeleteByEndpoint(ctx, endpoint); err != nil {
		return fmt.Errorf("service.SubscriptionService.Delete: %w", err)
	}
	return nil
}

func (s *SubscriptionService) check(sub domain.Subscription) error {
	if err := s.validate.Struct(sub); err != nil {
		return validationError(err, "")
	}

	p256dh, err := webpush.DecodeKey(sub.P256dh)
	if err != nil || len(p256dh) != p256dhSize || p256dh[0] != 0x04 {
		return fmt.Errorf("%w: keys.p256dh must be an uncompressed P-256 point", domain.ErrValidation)
	}
	auth, err := webpush.DecodeKey(sub.Auth)
	if err != nil || len(auth) != authSize {
		return fmt.Errorf("%w: keys.auth must be %d bytes", domain.ErrValidation, authSize)
	}

	seen := make(map[string]bool, len(sub.StopNotifications))
	for _, n := range sub.StopNotifications {
		if seen[n.StopID] {
			return fmt.Errorf("%w: duplicate stopId %q", domain.ErrValidation, n.StopID)
		}
		seen[n.StopID] = true
	}
	return nil
}

// validationError flattens validator output into one domain.ErrValidation.
func validationError(err error, prefix string) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		msg := prefix + field + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(msgs, "; "))
}
