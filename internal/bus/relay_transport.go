package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/storefront-labs/go-catalog-sync/internal/domain"
)

// RelayTransport is the cross-device tier: it publishes through the remote
// relay (POST /broadcast-sync) and polls GET /sync-events for entries not
// originating from this context. Offline failures surface as errors the bus
// logs and moves past; they never block the local tiers.
type RelayTransport struct {
	base string
	http *http.Client
}

var _ Transport = (*RelayTransport)(nil)

// NewRelayTransport points the transport at the relay's base URL.
func NewRelayTransport(baseURL string, timeout time.Duration) *RelayTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RelayTransport{base: baseURL, http: &http.Client{Timeout: timeout}}
}

// Name identifies the tier in logs and metrics.
func (r *RelayTransport) Name() string { return "relay" }

// Publish posts the event to the relay.
func (r *RelayTransport) Publish(ctx context.Context, e domain.SyncEvent) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/broadcast-sync", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("relay publish: status %d", resp.StatusCode)
	}
	return nil
}

// Poll fetches foreign events newer than since.
func (r *RelayTransport) Poll(ctx context.Context, origin string, since time.Time) ([]domain.SyncEvent, error) {
	q := url.Values{}
	q.Set("browserId", origin)
	q.Set("since", strconv.FormatInt(since.UnixMilli(), 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+"/sync-events?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("relay poll: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var body struct {
		Events []domain.SyncEvent `json:"events"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	return body.Events, nil
}
