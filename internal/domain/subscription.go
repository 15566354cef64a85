// Package domain contains the core data types for the stop alert service.
// This package has no dependencies on other internal packages and is imported
// by every other internal package (repo, service, handler).
package domain

import (
	"time"

	"github.com/google/uuid"
)

// MinBeforeMinutes and MaxBeforeMinutes bound NotificationSetting.BeforeMinutes.
const (
	MinBeforeMinutes = 1
	MaxBeforeMinutes = 15
)

// Subscription is a browser push subscription together with the stops its
// owner is watching. Endpoint is the natural key.
type Subscription struct {
	ID                uuid.UUID             `json:"id"`
	Endpoint          string                `json:"endpoint" validate:"required,url"`
	P256dh            string                `json:"p256dh" validate:"required"` // base64url, uncompressed P-256 point
	Auth              string                `json:"auth" validate:"required"`   // base64url, 16 bytes
	StopNotifications []NotificationSetting `json:"stopNotifications" validate:"max=50,dive"`
	LastNotified      map[string]int64      `json:"lastNotified,omitempty"`
	CreatedAt         time.Time             `json:"createdAt"`
	UpdatedAt         time.Time             `json:"updatedAt"`
}

// NotificationSetting is one watched stop within a Subscription.
type NotificationSetting struct {
	StopID        string `json:"stopId" validate:"required"`
	StopName      string `json:"stopName"`
	Enabled       bool   `json:"enabled"`
	Push          bool   `json:"push"`
	BeforeMinutes int    `json:"beforeMinutes" validate:"min=1,max=15"`
}

// Deliverable reports whether the setting should produce push notifications.
func (s NotificationSetting) Deliverable() bool {
	return s.Enabled && s.Push && s.StopID != ""
}
