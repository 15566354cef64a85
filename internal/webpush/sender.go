package webpush

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkordes/stopalert/internal/domain"
)

// Subscriber is the key material needed to deliver to one browser.
type Subscriber struct {
	Endpoint string
	P256dh   []byte
	Auth     []byte
}

// SubscriberFrom decodes the base64 key material stored on a subscription.
func SubscriberFrom(sub domain.Subscription) (Subscriber, error) {
	p256dh, err := DecodeKey(sub.P256dh)
	if err != nil {
		return Subscriber{}, fmt.Errorf("p256dh: %w", err)
	}
	auth, err := DecodeKey(sub.Auth)
	if err != nil {
		return Subscriber{}, fmt.Errorf("auth: %w", err)
	}
	return Subscriber{Endpoint: sub.Endpoint, P256dh: p256dh, Auth: auth}, nil
}

// Sender delivers encrypted push messages over HTTP.
type Sender struct {
	httpClient         *http.Client
	signingKey         []byte
	publicKey          string // base64url, sent as k=
	subject            string
	maxResponseBodyLen int64
	now                func() time.Time
	log                *slog.Logger
}

// SenderOption customises a Sender.
type SenderOption func(*Sender)

// WithHTTPClient replaces the default client, e.g. with an httptest client.
func WithHTTPClient(c *http.Client) SenderOption {
	return func(s *Sender) { s.httpClient = c }
}

// WithClock overrides the time source used for token expiry.
func WithClock(now func() time.Time) SenderOption {
	return func(s *Sender) { s.now = now }
}

// NewSender returns a Sender that signs with signingKey (raw scalar or DER)
// and identifies itself with subject (a mailto: or https: contact). timeout
// bounds each delivery attempt.
func NewSender(signingKey []byte, subject string, timeout time.Duration, opts ...SenderOption) (*Sender, error) {
	pub, err := PublicKey(signingKey)
	if err != nil {
		return nil, fmt.Errorf("webpush.NewSender: %w", err)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	s := &Sender{
		httpClient:         &http.Client{Transport: transport, Timeout: timeout},
		signingKey:         signingKey,
		publicKey:          base64.RawURLEncoding.EncodeToString(pub),
		subject:            subject,
		maxResponseBodyLen: 4 << 10,
		now:                time.Now,
		log:                slog.With("component", "webpush"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// PublicKey returns the base64url application server key.
func (s *Sender) PublicKey() string {
	return s.publicKey
}

// Send encrypts payload for sub and POSTs it to the subscription endpoint.
// A 2xx answer returns nil; 404 and 410 return domain.ErrDeliveryGone.
func (s *Sender) Send(ctx context.Context, sub Subscriber, payload []byte, ttl time.Duration) error {
	endpoint, err := url.Parse(sub.Endpoint)
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return fmt.Errorf("webpush.Sender.Send: invalid endpoint %q", sub.Endpoint)
	}

	msg, err := EncryptMessage(payload, sub.P256dh, sub.Auth)
	if err != nil {
		return fmt.Errorf("webpush.Sender.Send: %w", err)
	}

	audience := endpoint.Scheme + "://" + endpoint.Host
	token, err := SignAuthorizationToken(audience, s.subject, s.signingKey, s.now())
	if err != nil {
		return fmt.Errorf("webpush.Sender.Send: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(msg.Body()))
	if err != nil {
		return fmt.Errorf("webpush.Sender.Send: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Encoding", "aes128gcm")
	req.Header.Set("Authorization", "vapid t="+token+", k="+s.publicKey)
	req.Header.Set("TTL", strconv.FormatInt(int64(ttl/time.Second), 10))
	req.Header.Set("Urgency", "high")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webpush.Sender.Send: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.log.Debug("close response body", "error", closeErr)
		}
	}()

	switch {
	case resp.StatusCode/100 == 2:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("webpush.Sender.Send: %s: %w", resp.Status, domain.ErrDeliveryGone)
	default:
		snippet := s.readBodySnippet(resp.Body)
		s.log.Warn("push delivery non-2xx", "status", resp.StatusCode, "host", endpoint.Host, "body", snippet)
		return fmt.Errorf("webpush.Sender.Send: status %s: %q", resp.Status, snippet)
	}
}

func (s *Sender) readBodySnippet(r io.Reader) string {
	b, err := io.ReadAll(&io.LimitedReader{R: r, N: s.maxResponseBodyLen})
	if err != nil {
		return ""
	}
	return string(b)
}
