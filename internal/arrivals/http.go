package arrivals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkordes/stopalert/internal/domain"
)

// HTTPSource queries an arrivals service that answers
// GET <base>/arrivals?stopId=<id> with {"data":[...]}.
type HTTPSource struct {
	name    string
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPSource returns a Source backed by the arrivals service at baseURL.
// Each request is bounded by timeout. A nil client uses http.DefaultClient.
func NewHTTPSource(name, baseURL string, timeout time.Duration, client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		timeout: timeout,
	}
}

func (s *HTTPSource) Name() string { return s.name }

type arrivalsResponse struct {
	Data []domain.Arrival `json:"data"`
}

// Arrivals implements Source.
func (s *HTTPSource) Arrivals(ctx context.Context, stopID string) ([]domain.Arrival, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	u := s.baseURL + "/arrivals?" + url.Values{"stopId": {stopID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("arrivals.HTTPSource.Arrivals: %w: %v", domain.ErrUpstreamFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arrivals.HTTPSource.Arrivals: %w: %v", domain.ErrUpstreamFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("arrivals.HTTPSource.Arrivals: %w: status %s", domain.ErrUpstreamFetch, resp.Status)
	}

	var body arrivalsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("arrivals.HTTPSource.Arrivals: %w: decode: %v", domain.ErrUpstreamFetch, err)
	}

	for i := range body.Data {
		body.Data[i].StopID = stopID
		if body.Data[i].Source == "" {
			body.Data[i].Source = s.name
		}
	}
	return body.Data, nil
}
