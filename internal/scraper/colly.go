package scraper

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog"

	"github.com/gellingson/carbyr/internal/metrics"
	"github.com/gellingson/carbyr/internal/sources"
)

const defaultUserAgent = "carbyr-inventory/1.0 (+https://carbyr.com/bot)"

// InventoryItem is one vehicle card read from a dealer's inventory list.
type InventoryItem struct {
	Title   string
	Price   string
	URL     string
	Image   string
	Mileage string
	StockNo string
	VIN     string
}

// CollyExtractor scrapes dealer inventory list pages with CSS selectors.
type CollyExtractor struct {
	userAgent string
	rateLimit time.Duration
	logger    zerolog.Logger
}

// NewCollyExtractor returns a CollyExtractor with the carbyr User-Agent and
// a 1-second per-domain rate limit.
func NewCollyExtractor(logger zerolog.Logger) *CollyExtractor {
	return &CollyExtractor{
		userAgent: defaultUserAgent,
		rateLimit: time.Second,
		logger:    logger,
	}
}

// ScrapeInventory fetches cfg.InventoryURL and follows pagination links (up
// to cfg.MaxPages), collecting every item card. robots.txt is honored. If
// ctx is cancelled the items collected so far are returned.
func (e *CollyExtractor) ScrapeInventory(ctx context.Context, cfg sources.Config) ([]InventoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	allowedDomain, err := extractDomain(cfg.InventoryURL)
	if err != nil {
		return nil, err
	}

	var (
		mu        sync.Mutex
		results   []InventoryItem
		pagesSeen int
	)

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 10
	}
	sel := cfg.Selectors

	c := colly.NewCollector(
		colly.UserAgent(e.userAgent),
		colly.AllowedDomains(allowedDomain),
	)
	c.IgnoreRobotsTxt = false
	c.WithTransport(metrics.InstrumentTransport("dealer", nil))

	if err := c.Limit(&colly.LimitRule{
		DomainGlob: "*",
		Delay:      e.rateLimit,
	}); err != nil {
		e.logger.Warn().Err(err).Msg("colly: failed to set rate limit rule")
	}

	c.OnHTML(sel.Item, func(h *colly.HTMLElement) {
		if ctx.Err() != nil {
			return
		}

		item := InventoryItem{
			Title:   childText(h, sel.Title),
			Price:   childText(h, sel.Price),
			Mileage: childText(h, sel.Mileage),
			StockNo: childText(h, sel.StockNo),
			VIN:     childText(h, sel.VIN),
		}
		if sel.URL != "" {
			if href := h.ChildAttr(sel.URL, "href"); href != "" {
				item.URL = h.Request.AbsoluteURL(href)
			}
		}
		if sel.Image != "" {
			if src := h.ChildAttr(sel.Image, "src"); src != "" {
				item.Image = h.Request.AbsoluteURL(src)
			}
		}

		// A card without a title is layout, not inventory.
		if item.Title == "" {
			return
		}

		mu.Lock()
		results = append(results, item)
		mu.Unlock()
	})

	if sel.Pagination != "" {
		c.OnHTML(sel.Pagination, func(h *colly.HTMLElement) {
			if ctx.Err() != nil {
				return
			}

			mu.Lock()
			current := pagesSeen
			mu.Unlock()
			if current >= maxPages {
				return
			}

			href := h.Attr("href")
			if href == "" {
				href = h.ChildAttr("a", "href")
			}
			if href == "" {
				return
			}
			nextURL := h.Request.AbsoluteURL(href)
			if nextURL == "" {
				return
			}
			if err := c.Visit(nextURL); err != nil {
				e.logger.Debug().Err(err).Str("url", nextURL).Msg("colly: pagination url not queued")
			}
		})
	}

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		mu.Lock()
		pagesSeen++
		reachedMax := pagesSeen > maxPages
		page := pagesSeen
		mu.Unlock()

		if reachedMax {
			r.Abort()
			return
		}
		e.logger.Debug().
			Str("url", r.URL.String()).
			Int("page", page).
			Msg("colly: visiting page")
	})

	var firstErr error
	c.OnError(func(r *colly.Response, err error) {
		if ctx.Err() != nil {
			return
		}
		e.logger.Warn().
			Str("url", r.Request.URL.String()).
			Int("status", r.StatusCode).
			Err(err).
			Msg("colly: request error")
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	})

	if err := c.Visit(cfg.InventoryURL); err != nil {
		if ctx.Err() != nil {
			return results, nil
		}
		return nil, err
	}
	c.Wait()

	// A failed first page means the inventory is unknown, not empty.
	if len(results) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

func childText(h *colly.HTMLElement, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(h.ChildText(selector)), " ")
}

// extractDomain parses rawURL and returns just the hostname (no port).
func extractDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Hostname(), nil
}
