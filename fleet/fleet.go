// Package fleet is a client for the remote, rate-limited fleet
// management API. It acquires per-tenant OAuth2 tokens using
// credentials from the vault, enforces the API's published rate
// limits client-side, backs off on throttling responses, and walks
// paginated listings lazily.
package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/printcmd/printcmd/logkeys"
	vault "github.com/printcmd/printcmd/subsystem/vault/storage"

	"github.com/micromdm/nanolib/log"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the fleet API root.
const DefaultBaseURL = "https://api.formlabs.com/developer/v1"

const (
	// DefaultProcessRate is the documented per-IP request limit.
	DefaultProcessRate = 100 // req/s, process-wide

	// DefaultTenantHourlyLimit is the documented per-tenant request limit.
	DefaultTenantHourlyLimit = 1500 // req/hour

	// DefaultThrottleRetries bounds retries after throttling responses.
	DefaultThrottleRetries = 5

	// DefaultThrottleWait is used when a throttling response carries no
	// retry-after hint.
	DefaultThrottleWait = 5 * time.Second

	// DefaultCallTimeout is the overall timeout applied to every call.
	DefaultCallTimeout = 30 * time.Second

	// transport errors on idempotent reads are retried this many times
	// with exponential backoff before surfacing.
	readRetries      = 2
	readRetryBackoff = 250 * time.Millisecond
)

// ErrReconnectRequired indicates the tenant has no usable credential
// (missing or expired) and must log in again.
var ErrReconnectRequired = errors.New("reconnect required")

// APIError is an explicit error payload from the fleet API, passed
// through unmodified.
type APIError struct {
	StatusCode int
	Endpoint   string
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fleet API error %d at %s: %s", e.StatusCode, e.Endpoint, e.Detail)
}

// RateLimitError is surfaced once the throttle retry budget is
// exhausted. RetryAfter carries the server's last wait hint.
type RateLimitError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited at %s: retry after %v", e.Endpoint, e.RetryAfter)
}

// Client talks to the fleet API on behalf of tenants. Token cache and
// limiter state are process-wide.
type Client struct {
	baseURL string
	client  *http.Client
	logger  log.Logger
	creds   vault.ReadStore

	timeout         time.Duration
	throttleRetries int

	// procLimiter guards the per-IP limit across all tenants.
	procLimiter *rate.Limiter

	tenants *tenantCache
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClient sets the underlying HTTP client.
func WithClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithBaseURL points the client at a different API root.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithCallTimeout sets the overall per-call timeout.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithThrottleRetries sets the retry budget for throttling responses.
func WithThrottleRetries(n int) Option {
	return func(c *Client) {
		c.throttleRetries = n
	}
}

// WithRateLimits overrides the documented server limits.
func WithRateLimits(processPerSec float64, tenantPerHour int) Option {
	return func(c *Client) {
		c.procLimiter = rate.NewLimiter(rate.Limit(processPerSec), int(processPerSec))
		c.tenants.hourly = tenantPerHour
	}
}

// New creates a new fleet API client using credentials from creds.
func New(creds vault.ReadStore, opts ...Option) *Client {
	c := &Client{
		baseURL:         DefaultBaseURL,
		client:          &http.Client{},
		logger:          log.NopLogger,
		creds:           creds,
		timeout:         DefaultCallTimeout,
		throttleRetries: DefaultThrottleRetries,
		procLimiter:     rate.NewLimiter(rate.Limit(DefaultProcessRate), DefaultProcessRate),
		tenants:         newTenantCache(DefaultTenantHourlyLimit),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InvalidateTenant drops a tenant's cached token source and limiter,
// e.g. after logout or credential replacement.
func (c *Client) InvalidateTenant(tenantID string) {
	c.tenants.invalidate(tenantID)
}

// get performs an idempotent read. Transport errors are retried up to
// twice with exponential backoff inside the overall call timeout.
func (c *Client) get(ctx context.Context, tenantID, path string, query url.Values, out interface{}) error {
	return c.do(ctx, tenantID, "GET", path, query, nil, out, true)
}

// post performs a non-idempotent write. Transport errors are never
// retried; they propagate directly.
func (c *Client) post(ctx context.Context, tenantID, path string, body interface{}, out interface{}) error {
	return c.do(ctx, tenantID, "POST", path, nil, body, out, false)
}

func (c *Client) do(ctx context.Context, tenantID, method, path string, query url.Values, body interface{}, out interface{}, idempotent bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tenant, err := c.tenants.state(ctx, c, tenantID)
	if err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rawBody []byte
	if body != nil {
		if rawBody, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request for %s: %w", path, err)
		}
	}

	throttled := 0
	transportErrs := 0
	for {
		if err = c.wait(ctx, tenant); err != nil {
			return err
		}

		tok, err := tenant.tokens.Token()
		if err != nil {
			return fmt.Errorf("%w: token for tenant: %v", ErrReconnectRequired, err)
		}

		var reqBody io.Reader
		if rawBody != nil {
			reqBody = strings.NewReader(string(rawBody))
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
		if err != nil {
			return fmt.Errorf("new request for %s: %w", path, err)
		}
		tok.SetAuthHeader(req)
		if rawBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if idempotent && transportErrs < readRetries && ctx.Err() == nil {
				transportErrs++
				c.logger.Debug(
					logkeys.Message, "transport error, retrying",
					logkeys.Endpoint, path,
					logkeys.Error, err,
					"attempt", transportErrs,
				)
				if werr := sleepCtx(ctx, readRetryBackoff<<(transportErrs-1)); werr != nil {
					return werr
				}
				continue
			}
			return fmt.Errorf("%s %s: %w", method, path, err)
		}

		done, err := c.handleResponse(ctx, resp, path, &throttled, out)
		if done {
			return err
		}
	}
}

// handleResponse consumes resp. It returns done=false only for a
// throttling response that should be retried.
func (c *Client) handleResponse(ctx context.Context, resp *http.Response, path string, throttled *int, out interface{}) (bool, error) {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		hint := throttleHint(resp)
		if *throttled >= c.throttleRetries {
			return true, &RateLimitError{Endpoint: path, RetryAfter: hint}
		}
		*throttled++
		c.logger.Debug(
			logkeys.Message, "throttled, backing off",
			logkeys.Endpoint, path,
			"retry_after", hint,
			"attempt", *throttled,
		)
		io.Copy(io.Discard, resp.Body)
		// a throttled request was rejected before execution, so
		// waiting the hint and retrying is safe for writes too
		if err := sleepCtx(ctx, hint); err != nil {
			return true, err
		}
		return false, nil
	}

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return true, fmt.Errorf("%w: token rejected at %s", ErrReconnectRequired, path)
	}

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return true, &APIError{StatusCode: resp.StatusCode, Endpoint: path, Detail: string(detail)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return true, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return true, fmt.Errorf("decoding %s response: %w", path, err)
	}
	return true, nil
}

// wait blocks on both the process-wide and per-tenant limiters.
func (c *Client) wait(ctx context.Context, tenant *tenantState) error {
	if err := c.procLimiter.Wait(ctx); err != nil {
		return err
	}
	return tenant.limiter.Wait(ctx)
}

// throttleHint extracts the server-supplied wait hint in seconds.
func throttleHint(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return DefaultThrottleWait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
