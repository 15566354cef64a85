package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/pkordes/stopalert/internal/domain"
)

// VAPIDKeyResponse is the body of GET /push/vapid-public-key.
type VAPIDKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

// SubscriptionRequest mirrors PushSubscription.toJSON() in the browser plus
// the watched stops.
type SubscriptionRequest struct {
	Endpoint          string                       `json:"endpoint"`
	ExpirationTime    *int64                       `json:"expirationTime,omitempty"`
	Keys              SubscriptionKeys             `json:"keys"`
	StopNotifications []domain.NotificationSetting `json:"stopNotifications"`
}

// SubscriptionKeys are the subscriber's p256dh public key and auth secret.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// NotificationsRequest is the body of PUT /push/subscriptions/notifications.
type NotificationsRequest struct {
	Endpoint          string                       `json:"endpoint"`
	StopNotifications []domain.NotificationSetting `json:"stopNotifications"`
}

// SubscriptionResponse never echoes key material.
type SubscriptionResponse struct {
	Endpoint          string                       `json:"endpoint"`
	StopNotifications []domain.NotificationSetting `json:"stopNotifications"`
	CreatedAt         time.Time                    `json:"createdAt"`
	UpdatedAt         time.Time                    `json:"updatedAt"`
}

func subscriptionToResponse(s domain.Subscription) SubscriptionResponse {
	settings := s.StopNotifications
	if settings == nil {
		settings = []domain.NotificationSetting{}
	}
	return SubscriptionResponse{
		Endpoint:          s.Endpoint,
		StopNotifications: settings,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

// GetVAPIDPublicKey handles GET /push/vapid-public-key.
func (s *Server) GetVAPIDPublicKey(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, VAPIDKeyResponse{PublicKey: s.vapidKey})
}

// PutSubscription handles PUT /push/subscriptions.
func (s *Server) PutSubscription(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}

	saved, err := s.subs.Save(r.Context(), domain.Subscription{
		Endpoint:          req.Endpoint,
		P256dh:            req.Keys.P256dh,
		Auth:              req.Keys.Auth,
		StopNotifications: req.StopNotifications,
	})
	if err != nil {
		writeError(w, r, err, "subscription not found")
		return
	}
	writeJSON(w, http.StatusOK, subscriptionToResponse(saved))
}

// PutNotifications handles PUT /push/subscriptions/notifications.
func (s *Server) PutNotifications(w http.ResponseWriter, r *http.Request) {
	var req NotificationsRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	if req.Endpoint == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("validation_error", "endpoint is required"))
		return
	}

	updated, err := s.subs.UpdateNotifications(r.Context(), req.Endpoint, req.StopNotifications)
	if err != nil {
		writeError(w, r, err, "subscription not found")
		return
	}
	writeJSON(w, http.StatusOK, subscriptionToResponse(updated))
}

// GetSubscription handles GET /push/subscriptions?endpoint=<url>.
func (s *Server) GetSubscription(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := endpointParam(w, r)
	if !ok {
		return
	}
	sub, err := s.subs.Get(r.Context(), endpoint)
	if err != nil {
		writeError(w, r, err, "subscription not found")
		return
	}
	writeJSON(w, http.StatusOK, subscriptionToResponse(sub))
}

// DeleteSubscription handles DELETE /push/subscriptions?endpoint=<url>.
func (s *Server) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := endpointParam(w, r)
	if !ok {
		return
	}
	if err := s.subs.Delete(r.Context(), endpoint); err != nil {
		writeError(w, r, err, "subscription not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// endpointParam binds the required ?endpoint= query parameter, writing a 422
// when it is missing.
func endpointParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	var endpoint string
	if err := runtime.BindQueryParameter("form", true, true, "endpoint", r.URL.Query(), &endpoint); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("validation_error", err.Error()))
		return "", false
	}
	return endpoint, true
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusBadRequest, errorBody("bad_request", "request body must be valid JSON"))
}
