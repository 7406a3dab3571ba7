package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/storefront-labs/go-catalog-sync/internal/domain"
)

// ClientOptions tunes the HTTP backend.
type ClientOptions struct {
	// Timeout bounds every request (default 30s). Timeouts are treated the
	// same as network failure: queue for writes, empty result for reads.
	Timeout time.Duration
	// ProbeInterval is how often health is re-checked while offline
	// (default 30s). Zero disables the prober goroutine.
	ProbeInterval time.Duration
}

// Client talks to the file-store HTTP service. Safe for concurrent use.
type Client struct {
	base   string
	http   *http.Client
	queue  offlineQueue
	online atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Compile-time contract check.
var _ Store = (*Client)(nil)

// NewClient builds a client for the file-store backend at baseURL and, when
// a probe interval is configured, starts the offline health prober.
func NewClient(baseURL string, opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	c := &Client{
		base: baseURL,
		http: &http.Client{Timeout: opts.Timeout},
	}
	c.queue.lg = log.With().Str("component", "remote.client").Logger()
	c.online.Store(true)

	if opts.ProbeInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.wg.Add(1)
		go c.probeLoop(ctx, opts.ProbeInterval)
	}
	return c
}

// Close stops the health prober.
func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
}

// Health probes GET /health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// Save posts the record, queueing it on unreachability and returning the
// input optimistically. Server-side rejection is surfaced (after queueing)
// so the caller can warn.
func (c *Client) Save(ctx context.Context, p domain.Product) (domain.Product, error) {
	var resp struct {
		Success bool           `json:"success"`
		Product domain.Product `json:"product"`
	}
	err := c.do(ctx, http.MethodPost, "/products", p, &resp)
	switch {
	case err == nil:
		return resp.Product, nil
	case isUnreachable(err):
		c.markOffline()
		c.queue.enqueue(pendingOp{kind: opSave, product: p})
		return p, nil
	default:
		c.queue.enqueue(pendingOp{kind: opSave, product: p})
		return p, err
	}
}

// SaveStrict performs the write with no offline fallback; any transport or
// server error is returned as-is.
func (c *Client) SaveStrict(ctx context.Context, p domain.Product) (domain.Product, error) {
	var resp struct {
		Success bool           `json:"success"`
		Product domain.Product `json:"product"`
	}
	if err := c.do(ctx, http.MethodPost, "/products", p, &resp); err != nil {
		return domain.Product{}, err
	}
	return resp.Product, nil
}

// GetAll fetches the full record set, empty on any failure.
func (c *Client) GetAll(ctx context.Context) []domain.Product {
	var out []domain.Product
	if err := c.do(ctx, http.MethodGet, "/products", nil, &out); err != nil {
		c.noteReadFailure(err)
		return nil
	}
	return out
}

// GetByID fetches one record; (zero, false) on failure or 404.
func (c *Client) GetByID(ctx context.Context, id string) (domain.Product, bool) {
	var p domain.Product
	if err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(id), nil, &p); err != nil {
		c.noteReadFailure(err)
		return domain.Product{}, false
	}
	return p, true
}

// Delete removes the record remotely, queueing on unreachability.
func (c *Client) Delete(ctx context.Context, id string) error {
	var resp struct {
		Success bool `json:"success"`
	}
	err := c.do(ctx, http.MethodDelete, "/products/"+url.PathEscape(id), nil, &resp)
	switch {
	case err == nil:
		return nil
	case isUnreachable(err):
		c.markOffline()
		c.queue.enqueue(pendingOp{kind: opDelete, id: id})
		return nil
	default:
		c.queue.enqueue(pendingOp{kind: opDelete, id: id})
		return err
	}
}

// UpdateViews bumps the counter server-side; (0, false) on failure.
func (c *Client) UpdateViews(ctx context.Context, id string) (int64, bool) {
	var resp struct {
		Success   bool  `json:"success"`
		PageViews int64 `json:"pageViews"`
	}
	if err := c.do(ctx, http.MethodPost, "/products/"+url.PathEscape(id)+"/views", nil, &resp); err != nil {
		c.noteReadFailure(err)
		return 0, false
	}
	return resp.PageViews, true
}

// Search runs a server-side substring search, empty on failure.
func (c *Client) Search(ctx context.Context, query string) []domain.Product {
	var out []domain.Product
	if err := c.do(ctx, http.MethodGet, "/products/search/"+url.PathEscape(query), nil, &out); err != nil {
		c.noteReadFailure(err)
		return nil
	}
	return out
}

// GetByCategory fetches exact category matches, empty on failure.
func (c *Client) GetByCategory(ctx context.Context, category string) []domain.Product {
	var out []domain.Product
	if err := c.do(ctx, http.MethodGet, "/products/category/"+url.PathEscape(category), nil, &out); err != nil {
		c.noteReadFailure(err)
		return nil
	}
	return out
}

// Sync pushes a merged record set for server-side LWW persistence.
func (c *Client) Sync(ctx context.Context, products []domain.Product) (int, error) {
	body := struct {
		Products []domain.Product `json:"products"`
	}{Products: products}
	var resp struct {
		Success bool   `json:"success"`
		Count   int    `json:"count"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/products/sync", body, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Flush replays the offline queue now.
func (c *Client) Flush(ctx context.Context) {
	c.queue.replay(ctx, c.applyOp)
}

// Pending reports the offline queue depth.
func (c *Client) Pending() int { return c.queue.depth() }

func (c *Client) applyOp(ctx context.Context, op pendingOp) error {
	switch op.kind {
	case opSave:
		var resp struct {
			Success bool           `json:"success"`
			Product domain.Product `json:"product"`
		}
		return c.do(ctx, http.MethodPost, "/products", op.product, &resp)
	case opDelete:
		var resp struct {
			Success bool `json:"success"`
		}
		return c.do(ctx, http.MethodDelete, "/products/"+url.PathEscape(op.id), nil, &resp)
	}
	return nil
}

func (c *Client) markOffline() {
	if c.online.CompareAndSwap(true, false) {
		c.queue.lg.Warn().Msg("backend unreachable, entering offline mode")
	}
}

func (c *Client) noteReadFailure(err error) {
	if isUnreachable(err) {
		c.markOffline()
	}
}

// probeLoop re-checks liveness while offline. The first successful probe
// after an offline stretch flips the client online and replays the queue
// immediately.
func (c *Client) probeLoop(ctx context.Context, interval time.Duration) {
	defer c.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if c.online.Load() && c.queue.depth() == 0 {
				continue
			}
			if _, err := c.Health(ctx); err != nil {
				continue
			}
			if c.online.CompareAndSwap(false, true) {
				c.queue.lg.Info().Msg("backend reachable again, replaying queue")
			}
			c.Flush(ctx)
		}
	}
}

// do executes one JSON request. Network errors and timeouts map to
// ErrUnreachable; non-2xx statuses and undecodable bodies map to ErrServer.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", ErrServer, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServer, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnreachable, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: malformed response: %v", ErrServer, err)
	}
	return nil
}

func isUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}
