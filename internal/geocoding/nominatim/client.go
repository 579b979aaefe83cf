package nominatim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"

	"github.com/gellingson/carbyr/internal/metrics"
)

const (
	// DefaultBaseURL is the public Nominatim API endpoint
	DefaultBaseURL = "https://nominatim.openstreetmap.org"
	// DefaultUserAgent follows OSM usage policy requirements
	DefaultUserAgent = "carbyr/1.0"
	// DefaultTimeout for HTTP requests
	DefaultTimeout = 5 * time.Second
	// DefaultRateLimit is 1 request per second (OSM policy)
	DefaultRateLimit = rate.Limit(1.0)
	// MaxRetries for transient errors
	MaxRetries = 2
	// RetryBaseDelay is the initial backoff delay
	RetryBaseDelay = 1 * time.Second
)

// Client handles communication with the Nominatim geocoding API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	retryDelay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRateLimit sets a custom rate limit (requests per second).
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithRetryDelay sets the first backoff delay between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// NewClient creates a new Nominatim API client. email is included in the
// User-Agent header per OSM usage policy.
func NewClient(baseURL, email string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	userAgent := DefaultUserAgent
	if email != "" {
		userAgent = fmt.Sprintf("%s (%s)", DefaultUserAgent, email)
	}
	client := &Client{
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: metrics.InstrumentTransport("nominatim", nil),
		},
		baseURL:    baseURL,
		userAgent:  userAgent,
		limiter:    rate.NewLimiter(DefaultRateLimit, 1),
		retryDelay: RetryBaseDelay,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Search performs forward geocoding. A free-form query and a structured
// postal code search are mutually exclusive in the Nominatim API, so
// opts.PostalCode replaces query when set.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	params := url.Values{}
	switch {
	case opts.PostalCode != "":
		params.Set("postalcode", opts.PostalCode)
	case query != "":
		params.Set("q", query)
	default:
		return nil, fmt.Errorf("query cannot be empty")
	}
	params.Set("format", "jsonv2")
	params.Set("addressdetails", "1")

	if opts.CountryCodes != "" {
		params.Set("countrycodes", opts.CountryCodes)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 1
	}
	if limit > 50 {
		limit = 50
	}
	params.Set("limit", strconv.Itoa(limit))

	requestURL := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())

	var results []SearchResult
	if err := c.get(ctx, requestURL, &results); err != nil {
		return nil, fmt.Errorf("search geocoding: %w", err)
	}
	return results, nil
}

// SearchPostalCode looks up a postal code in one country.
func (c *Client) SearchPostalCode(ctx context.Context, postalCode, countryCode string) ([]SearchResult, error) {
	if postalCode == "" {
		return nil, fmt.Errorf("postal code cannot be empty")
	}
	return c.Search(ctx, "", SearchOptions{PostalCode: postalCode, CountryCodes: countryCode, Limit: 1})
}

// retryableError marks responses worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// get issues a rate limited GET with exponential backoff on network errors,
// 429s and 5xx responses, and decodes the JSON body into result.
func (c *Client) get(ctx context.Context, requestURL string, result any) error {
	var lastErr error
	err := retry.Do(
		func() error {
			err := c.attempt(ctx, requestURL, result)
			lastErr = err
			return err
		},
		retry.Attempts(MaxRetries+1),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(8*c.retryDelay),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			var re *retryableError
			return errors.As(err, &re)
		}),
	)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var re *retryableError
	if errors.As(lastErr, &re) {
		return fmt.Errorf("max retries exceeded: %w", re.err)
	}
	return lastErr
}

func (c *Client) attempt(ctx context.Context, requestURL string, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{fmt.Errorf("http request: %w", err)}
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return &retryableError{fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &retryableError{fmt.Errorf("rate limited (429)")}
	case resp.StatusCode >= 500:
		return &retryableError{fmt.Errorf("server error (%d)", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	return nil
}
