package domain

import "errors"

// ErrNotFound is returned by repo and service functions when the requested
// resource does not exist in the database.
// Handlers should map this to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned by service functions when input fails business
// rule validation (e.g. missing endpoint, beforeMinutes out of range).
// Handlers should map this to HTTP 422 Unprocessable Entity.
var ErrValidation = errors.New("validation error")

// ErrDecode marks a feed payload that could only be partially decoded.
// Callers receive the fields decoded before the fault alongside it, so it is
// never fatal on its own.
var ErrDecode = errors.New("decode error")

// ErrUpstreamFetch is returned when a feed or arrivals source is unreachable,
// times out, or answers with a non-2xx status.
var ErrUpstreamFetch = errors.New("upstream fetch failed")

// ErrKeySpec is returned when the server signing key is neither a raw 32-byte
// P-256 scalar nor a valid DER key container.
var ErrKeySpec = errors.New("invalid signing key")

// ErrSubscriberKey is returned when a subscriber's p256dh key is not a point
// on P-256 or the auth secret is malformed.
var ErrSubscriberKey = errors.New("invalid subscriber key")

// ErrDeliveryGone is returned when a push service answers 404 or 410: the
// endpoint is permanently invalid and the subscription should be removed.
var ErrDeliveryGone = errors.New("push endpoint gone")

// ErrStore wraps durable read/write failures surfaced to the dispatch cycle.
var ErrStore = errors.New("store error")
