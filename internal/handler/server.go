// Package handler implements the HTTP handlers for the stop alert API.
// All handlers are methods on Server. Methods are split into files by
// resource (health.go, subscription.go, internal.go) but share the Server
// struct so they can access its dependencies.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pkordes/stopalert/internal/domain"
	"github.com/pkordes/stopalert/internal/middleware"
	"github.com/pkordes/stopalert/internal/service"
)

// maxRequestBody bounds subscription payloads.
const maxRequestBody = 64 << 10

// SubscriptionServicer defines the subscription operations the handlers use.
// Defining the interface here, in the consumer package, lets handler tests
// inject a mock without touching the database or service layer.
type SubscriptionServicer interface {
	Save(ctx context.Context, sub domain.Subscription) (domain.Subscription, error)
	Get(ctx context.Context, endpoint string) (domain.Subscription, error)
	UpdateNotifications(ctx context.Context, endpoint string, settings []domain.NotificationSetting) (domain.Subscription, error)
	Delete(ctx context.Context, endpoint string) error
}

// Dispatcher runs one bounded dispatch cycle.
type Dispatcher interface {
	RunCycle(ctx context.Context) (service.CycleReport, error)
}

// HealthReporter exposes upstream source health.
type HealthReporter interface {
	Snapshot() []domain.SourceHealth
}

// Server holds the dependencies of every handler.
type Server struct {
	subs       SubscriptionServicer
	dispatcher Dispatcher
	health     HealthReporter
	vapidKey   string
	openAPI    []byte
}

// NewServer constructs the Server with all its dependencies. vapidKey is the
// base64url application server public key handed to browsers.
func NewServer(subs SubscriptionServicer, dispatcher Dispatcher, health HealthReporter, vapidKey string, openAPI []byte) *Server {
	return &Server{
		subs:       subs,
		dispatcher: dispatcher,
		health:     health,
		vapidKey:   vapidKey,
		openAPI:    openAPI,
	}
}

// Routes registers every endpoint on a new chi router. The /internal routes
// require "Authorization: Bearer <cronSecret>".
func (s *Server) Routes(cronSecret string) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", s.GetHealth)
	r.Get("/openapi.yaml", s.GetOpenAPI)

	r.Route("/push", func(r chi.Router) {
		r.Use(middleware.NewMaxBodySizeHandler(maxRequestBody))
		r.Get("/vapid-public-key", s.GetVAPIDPublicKey)
		r.Get("/subscriptions", s.GetSubscription)
		r.Put("/subscriptions", s.PutSubscription)
		r.Put("/subscriptions/notifications", s.PutNotifications)
		r.Delete("/subscriptions", s.DeleteSubscription)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(middleware.NewBearerAuth(cronSecret))
		r.Post("/dispatch", s.PostDispatch)
		r.Get("/sources", s.GetSources)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody("not_found", "no such route"))
	})
	return r
}
