// Package polymarket provides read-only access to Polymarket's Gamma (market
// metadata) and Data (trade history) APIs.
//
// All requests go through a single Client that enforces a minimum delay between
// requests and retries transient failures a bounded number of times. Errors are
// classified as TransientError or FatalError so callers can decide whether to
// back off or give up on the current item.
package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rewired-gh/polycalib/internal/logger"
)

// ClientConfig holds configuration for the Polymarket client
type ClientConfig struct {
	MinRequestInterval  time.Duration
	MaxRetries          int
	RetryDelayBase      time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	Clock               Clock // nil means the wall clock
}

// Client provides access to Polymarket APIs
type Client struct {
	gammaAPIURL    string
	dataAPIURL     string
	httpClient     *http.Client
	limiter        *rate.Limiter
	clock          Clock
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Polymarket client
func NewClient(gammaAPIURL, dataAPIURL string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 10
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 5
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}

	limit := rate.Inf
	if cfg.MinRequestInterval > 0 {
		limit = rate.Every(cfg.MinRequestInterval)
	}

	return &Client{
		gammaAPIURL: strings.TrimRight(gammaAPIURL, "/"),
		dataAPIURL:  strings.TrimRight(dataAPIURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		limiter:        rate.NewLimiter(limit, 1),
		clock:          cfg.Clock,
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
	}
}

// GetJSON performs a rate-limited GET against baseURL+endpoint and decodes the
// JSON body into out. Transient failures are retried up to the configured
// number of attempts with a linearly growing delay; the last TransientError is
// returned once attempts run out.
func (c *Client) GetJSON(ctx context.Context, baseURL, endpoint string, params url.Values, out any) error {
	u := baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.wait(ctx); err != nil {
			return err
		}

		err := c.doRequest(ctx, u, out)
		if err == nil {
			return nil
		}

		var te *TransientError
		if !errors.As(err, &te) {
			return err
		}
		lastErr = err
		if attempt == c.maxRetries {
			break
		}

		delay := c.retryDelayBase * time.Duration(attempt)
		if te.RetryAfter > delay {
			delay = te.RetryAfter
		}
		logger.Debug("Request to %s failed (attempt %d/%d), retrying in %v: %v", u, attempt, c.maxRetries, delay, err)
		if err := c.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}

	return lastErr
}

// wait blocks until the limiter admits the next request.
func (c *Client) wait(ctx context.Context) error {
	now := c.clock.Now()
	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("rate limiter rejected request")
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return ctx.Err()
	}
	if err := c.clock.Sleep(ctx, delay); err != nil {
		r.CancelAt(c.clock.Now())
		return err
	}
	return nil
}

// doRequest performs a single HTTP round trip and classifies the outcome
func (c *Client) doRequest(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &FatalError{URL: u, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransientError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &TransientError{
			URL:        u,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.clock.Now()),
			Err:        errors.New("rate limited"),
		}
	case resp.StatusCode >= 500:
		return &TransientError{URL: u, StatusCode: resp.StatusCode, Err: fmt.Errorf("server error: %s", resp.Status)}
	case resp.StatusCode >= 400:
		return &FatalError{URL: u, StatusCode: resp.StatusCode, Err: fmt.Errorf("client error: %s", resp.Status)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return &TransientError{URL: u, StatusCode: resp.StatusCode, Err: err}
		}
		return &FatalError{URL: u, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// parseRetryAfter accepts either delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
