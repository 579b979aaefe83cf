// Package threetaps is the HTTP client for the classified-listings change
// feed ("3taps" polling API).
package threetaps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gellingson/carbyr/internal/ingest"
	"github.com/gellingson/carbyr/internal/metrics"
)

const (
	// DefaultBaseURL is the polling endpoint.
	DefaultBaseURL = "http://polling.3taps.com"
	// Category is the feed's vehicles-for-sale category.
	Category = "VAUT"
	// LocalState restricts a local-only poll.
	LocalState = "USA-CA"
	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 512
)

// retvals is the field list requested on every poll.
var retvals = []string{
	"id", "account_id", "source", "category", "location", "external_id", "external_url",
	"heading", "body", "timestamp", "timestamp_deleted", "expires", "language", "price",
	"currency", "images", "annotations", "deleted", "flagged_status", "state", "status",
}

// Client implements ingest.Fetcher against the polling API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient returns a Client. Request deadlines come from the caller's
// context; the poll controller sets one per call.
func NewClient(baseURL, authToken string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(metrics.InstrumentTransport("threetaps", nil)),
		},
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PollURL builds the request URL for req.
func (c *Client) PollURL(req ingest.PollRequest) string {
	fields := strings.Join(retvals, ",")
	if req.IncludeHTML {
		fields += ",html"
	}

	params := url.Values{}
	params.Set("auth_token", c.authToken)
	params.Set("category", Category)
	params.Set("retvals", fields)
	params.Set("source", strings.ToUpper(req.Source))
	params.Set("anchor", req.Anchor)
	if req.LocalOnly {
		params.Set("location.state", LocalState)
	}
	return fmt.Sprintf("%s/poll/?%s", c.baseURL, params.Encode())
}

// Fetch issues one poll. It does not retry: a failed poll leaves the
// anchor where it was and the caller decides whether to try again.
func (c *Client) Fetch(ctx context.Context, req ingest.PollRequest) (*ingest.PollResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PollURL(req), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &ingest.HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out ingest.PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return &out, nil
}
