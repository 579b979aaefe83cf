package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/temoto/robotstxt"

	"github.com/gellingson/carbyr/internal/metrics"
)

const (
	fetchTimeout  = 30 * time.Second
	robotsTimeout = 10 * time.Second
	maxPageBytes  = 10 * 1024 * 1024
)

// ErrDisallowed is returned for pages robots.txt forbids.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// DetailFetcher reads one field from a vehicle's detail page. robots.txt is
// fetched once per host and cached for the fetcher's lifetime.
type DetailFetcher struct {
	client       *http.Client
	robotsClient *http.Client
	userAgent    string
	logger       zerolog.Logger

	mu     sync.Mutex
	robots map[string]*robotstxt.RobotsData
}

// NewDetailFetcher returns a fetcher that never follows redirects, so a
// listing link cannot bounce the crawler to another host.
func NewDetailFetcher(logger zerolog.Logger) *DetailFetcher {
	noRedirect := func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	transport := metrics.InstrumentTransport("dealer", nil)
	return &DetailFetcher{
		client: &http.Client{
			Timeout:       fetchTimeout,
			Transport:     transport,
			CheckRedirect: noRedirect,
		},
		robotsClient: &http.Client{
			Timeout:       robotsTimeout,
			Transport:     transport,
			CheckRedirect: noRedirect,
		},
		userAgent: defaultUserAgent,
		logger:    logger,
		robots:    make(map[string]*robotstxt.RobotsData),
	}
}

// FetchText returns the whitespace-collapsed text of the first element
// matching selector on pageURL, or "" when nothing matches.
func (f *DetailFetcher) FetchText(ctx context.Context, pageURL, selector string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", pageURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid URL %q: missing scheme or host", pageURL)
	}

	allowed, err := f.allowed(ctx, parsed)
	if err != nil {
		// An unreachable robots.txt is treated as allow-all.
		f.logger.Warn().Err(err).Str("url", pageURL).Msg("scraper: robots.txt check failed, proceeding as allowed")
		allowed = true
	}
	if !allowed {
		return "", fmt.Errorf("%w: %s", ErrDisallowed, pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("creating request for %q: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %q: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d fetching %q", resp.StatusCode, pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("parsing HTML from %q: %w", pageURL, err)
	}
	return strings.Join(strings.Fields(doc.Find(selector).First().Text()), " "), nil
}

func (f *DetailFetcher) allowed(ctx context.Context, page *url.URL) (bool, error) {
	f.mu.Lock()
	data, ok := f.robots[page.Host]
	f.mu.Unlock()

	if !ok {
		var err error
		data, err = f.fetchRobots(ctx, page)
		if err != nil {
			return false, err
		}
		f.mu.Lock()
		f.robots[page.Host] = data
		f.mu.Unlock()
	}
	return data.TestAgent(page.Path, f.userAgent), nil
}

// fetchRobots loads robots.txt for the page's host. A missing or malformed
// file allows everything.
func (f *DetailFetcher) fetchRobots(ctx context.Context, page *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := &url.URL{Scheme: page.Scheme, Host: page.Host, Path: "/robots.txt"}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("building robots.txt request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.robotsClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching robots.txt from %q: %w", robotsURL.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return allowAll(), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("reading robots.txt body: %w", err)
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return allowAll(), nil
	}
	return data, nil
}

func allowAll() *robotstxt.RobotsData {
	data, _ := robotstxt.FromBytes(nil)
	return data
}
