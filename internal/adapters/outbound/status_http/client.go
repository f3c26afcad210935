package status_http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/charleschow/game-registry/internal/core/status"
	"github.com/charleschow/game-registry/internal/telemetry"
)

// ErrUnexpectedStatus is wrapped by errors for responses that are neither
// a state nor an authoritative rejection. The engine treats them as transient.
var ErrUnexpectedStatus = errors.New("status_http: unexpected response")

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

type Options struct {
	Timeout   time.Duration
	RateLimit float64 // requests per second, <= 0 disables pacing
	Burst     int
}

// Client fetches game statuses from the remote authority.
//
// Identical (game, credential) fetches that overlap collapse into one
// request. The shared request is detached from every caller's cancellation
// and bounded by the client timeout instead; a cancelled caller stops
// waiting without failing the others.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	sfGroup    singleflight.Group
}

func NewClient(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    opts.Timeout,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(limit, opts.Burst),
	}
}

// FetchStatus asks the authority for one game's status.
func (c *Client) FetchStatus(ctx context.Context, gameID, credential string) (status.Result, error) {
	key := gameID + "\x00" + credential
	ch := c.sfGroup.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.fetch(shared, gameID, credential)
	})

	select {
	case <-ctx.Done():
		return status.Result{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return status.Result{}, r.Err
		}
		return r.Val.(status.Result), nil
	}
}

func (c *Client) fetch(ctx context.Context, gameID, credential string) (status.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return status.Result{}, fmt.Errorf("rate limit wait: %w", err)
	}

	u := c.baseURL + "/api/game/" + url.PathEscape(gameID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return status.Result{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return status.Result{}, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return status.Result{}, fmt.Errorf("read response: %w", err)
	}

	telemetry.Debugf("status_http: GET game %s -> %d (%s)", gameID, resp.StatusCode, time.Since(start))

	switch resp.StatusCode {
	case http.StatusOK:
		if len(body) == 0 {
			body = []byte("{}")
		}
		if !json.Valid(body) {
			return status.Result{}, fmt.Errorf("%w: game %s returned invalid JSON", ErrUnexpectedStatus, gameID)
		}
		return status.ActiveResult(body), nil
	case http.StatusNotFound:
		return status.NotFoundResult(), nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return status.UnauthorizedResult(), nil
	default:
		return status.Result{}, fmt.Errorf("%w: game %s status=%d", ErrUnexpectedStatus, gameID, resp.StatusCode)
	}
}
