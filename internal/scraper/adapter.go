package scraper

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gellingson/carbyr/internal/ingest"
	"github.com/gellingson/carbyr/internal/sources"
)

// InventoryScraper reads a dealer's inventory list.
type InventoryScraper interface {
	ScrapeInventory(ctx context.Context, cfg sources.Config) ([]InventoryItem, error)
}

// TextFetcher reads one field from a detail page.
type TextFetcher interface {
	FetchText(ctx context.Context, pageURL, selector string) (string, error)
}

// Adapter turns a dealer site into RawPostings for a full-inventory import.
type Adapter struct {
	scraper InventoryScraper
	details TextFetcher
	logger  zerolog.Logger
}

var _ ingest.InventoryAdapter = (*Adapter)(nil)

// NewAdapter wires a list scraper and an optional detail fetcher.
func NewAdapter(scraper InventoryScraper, details TextFetcher, logger zerolog.Logger) *Adapter {
	return &Adapter{scraper: scraper, details: details, logger: logger}
}

var mileageDigits = regexp.MustCompile(`\d[\d,]*`)

// Postings scrapes cfg's inventory. Every item found is reported for sale;
// items missing from the result are swept by the caller.
func (a *Adapter) Postings(ctx context.Context, cfg sources.Config) ([]ingest.RawPosting, error) {
	items, err := a.scraper.ScrapeInventory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("scrape %s inventory: %w", cfg.TextID, err)
	}

	postings := make([]ingest.RawPosting, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		id := itemID(item)
		if id == "" {
			a.logger.Debug().Str("source", cfg.TextID).Str("title", item.Title).Msg("skipping inventory item without id")
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		postings = append(postings, a.posting(ctx, cfg, item, id))
	}

	a.logger.Info().
		Str("source", cfg.TextID).
		Int("items", len(items)).
		Int("postings", len(postings)).
		Msg("dealer inventory scraped")
	return postings, nil
}

func (a *Adapter) posting(ctx context.Context, cfg sources.Config, item InventoryItem, id string) ingest.RawPosting {
	p := ingest.RawPosting{
		ID:          ingest.FlexString(id),
		ExternalID:  ingest.FlexString(id),
		ExternalURL: item.URL,
		Source:      cfg.Code(),
		Heading:     item.Title,
		Price:       ingest.FlexString(item.Price),
		Currency:    "USD",
		Status:      "for_sale",
		Annotations: ingest.Annotations{},
	}
	if item.Image != "" {
		p.Images = []ingest.Image{{Full: item.Image}}
	}
	if m := mileageDigits.FindString(item.Mileage); m != "" {
		p.Annotations["mileage"] = m
	}
	if item.VIN != "" {
		p.Annotations["vin"] = item.VIN
	}
	if cfg.Zip != "" {
		p.Location = &ingest.Location{Zipcode: ingest.FlexString(cfg.Zip), Country: "USA"}
	}

	if a.details != nil && cfg.Selectors.Description != "" && item.URL != "" {
		body, err := a.details.FetchText(ctx, item.URL, cfg.Selectors.Description)
		if err != nil {
			a.logger.Warn().Err(err).Str("source", cfg.TextID).Str("url", item.URL).Msg("detail page fetch failed")
		}
		p.Body = body
	}
	return p
}

// itemID prefers the dealer's stock number, then the VIN, then the last
// path segment of the detail link.
func itemID(item InventoryItem) string {
	if s := strings.TrimSpace(item.StockNo); s != "" {
		s = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(s, "Stock #"), "Stock:"))
		if s != "" {
			return s
		}
	}
	if v := strings.TrimSpace(item.VIN); v != "" {
		return strings.ToUpper(v)
	}
	if item.URL == "" {
		return ""
	}
	u, err := url.Parse(item.URL)
	if err != nil {
		return ""
	}
	base := path.Base(strings.TrimSuffix(u.Path, "/"))
	if base == "." || base == "/" {
		return ""
	}
	return base
}
