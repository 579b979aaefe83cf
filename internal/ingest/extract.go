package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/gellingson/carbyr/internal/domain/listings"
	"github.com/gellingson/carbyr/internal/sanitize"
	"github.com/gellingson/carbyr/internal/validation"
)

// Column limits of the listing store.
const (
	maxLocalIDLength      = 64
	maxStockNoLength      = 64
	maxMakeLength         = 50
	maxModelLength        = 50
	maxZipLength          = 10
	maxLocationTextLength = 64
	maxColorLength        = 20
	maxVINLength          = 20
	maxListingTextLength  = 2048
)

// extractKeyFieldsAndStatus sets the natural key, stock number and status.
func (p *Processor) extractKeyFieldsAndStatus(b *Batch, raw *RawPosting, l *listings.Listing) bool {
	l.StockNo = clip(strings.TrimSpace(raw.ID.String()), maxStockNoLength)
	l.LocalID = clip(strings.TrimSpace(raw.ExternalID.String()), maxLocalIDLength)
	if l.LocalID == "" {
		b.Counters.Inc(listings.CounterNoExternalID)
		l.LocalID = clip(l.StockNo, maxLocalIDLength)
	}
	if l.LocalID == "" {
		b.Counters.Inc(listings.CounterNoKey)
		return false
	}

	if raw.ForSale() {
		l.Status = listings.StatusForSale
	} else {
		l.Status = listings.StatusRemoved
		b.Counters.Inc(listings.CounterInactive)
	}
	return true
}

// extractYearMakeModel reconciles the annotation, heading and (optionally)
// embedded html readings of year/make/model.
func (p *Processor) extractYearMakeModel(b *Batch, raw *RawPosting, l *listings.Listing) bool {
	anno := raw.Annotations
	anYear, anMake, anModel := listings.RegularizeYearMakeModelFields(b.RefData,
		anno.First(YearKeys...), anno.First(MakeKeys...), anno.First(ModelKeys...))
	heYear, heMake, heModel := listings.RegularizeYearMakeModel(b.RefData, strings.TrimSpace(raw.Heading))

	var year, mk, model string
	annotationsComplete := anYear != "" && anMake != "" && anModel != ""
	if !annotationsComplete && b.Source.HTMLFallback && raw.HTML != "" {
		year, mk, model = p.htmlYearMakeModel(b, raw)
	}

	if year == "" {
		if listings.PlausibleYear(anYear) {
			year = anYear
		} else {
			year = heYear
		}
	}
	if mk == "" || model == "" {
		if anMake != "" && (!b.Source.DistrustsAnnotationMake(anMake) || heMake == anMake) {
			mk = anMake
			model = firstNonEmpty(anModel, heModel)
		} else {
			mk = heMake
			model = firstNonEmpty(heModel, anModel)
		}
	}

	l.ModelYear = year
	l.Make = clip(mk, maxMakeLength)
	l.Model = strings.TrimSpace(clip(model, maxModelLength))
	p.logger.Debug().
		Str("source", b.Source.TextID).
		Str("local_id", l.LocalID).
		Str("year", year).Str("make", l.Make).Str("model", l.Model).
		Str("heading", raw.Heading).
		Msg("year/make/model")
	return true
}

// htmlYearMakeModel reads the embedded page. Each attribute span is parsed
// in turn until one yields both a year and a make.
func (p *Processor) htmlYearMakeModel(b *Batch, raw *RawPosting) (year, mk, model string) {
	decoded, err := DecodeEmbeddedHTML(raw.HTML)
	if err != nil {
		b.Counters.Inc(listings.CounterBadHTML)
		p.logger.Debug().Err(err).Str("source", b.Source.TextID).Msg("failed to decode posting html")
		return "", "", ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(decoded))
	if err != nil {
		b.Counters.Inc(listings.CounterBadHTML)
		p.logger.Debug().Err(err).Str("source", b.Source.TextID).Msg("failed to parse posting html")
		return "", "", ""
	}
	doc.Find(".attrgroup span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if year != "" && mk != "" {
			return false
		}
		year, mk, model = listings.RegularizeYearMakeModel(b.RefData, strings.TrimSpace(s.Text()))
		return true
	})
	return year, mk, model
}

// TrimBase64 drops trailing bytes so the length is a multiple of four. Feeds
// cut large blobs at a fixed size, and a partial page still decodes.
func TrimBase64(blob string) string {
	return blob[:len(blob)-len(blob)%4]
}

// DecodeEmbeddedHTML decodes a possibly truncated base64 page.
func DecodeEmbeddedHTML(blob string) ([]byte, error) {
	out, err := base64.StdEncoding.DecodeString(TrimBase64(blob))
	if err != nil {
		return nil, fmt.Errorf("decode base64 html: %w", err)
	}
	return out, nil
}

// extractURLs picks the picture and the listing link.
func (p *Processor) extractURLs(b *Batch, raw *RawPosting, l *listings.Listing) bool {
	l.PicHref = ""
	for _, img := range raw.Images {
		href := strings.TrimSpace(img.Full)
		if href == "" {
			continue
		}
		href = b.Source.RewritePicture(href)
		if err := validation.ValidateURL(href, "pic_href", false); err != nil {
			continue
		}
		l.PicHref = href
		break
	}
	if l.PicHref == "" {
		l.PicHref = listings.NoPicture
		l.Penalize(listings.PenaltyNoPicture)
		b.Counters.Inc(listings.CounterNoPicture)
	}

	l.ListingHref = strings.TrimSpace(raw.ExternalURL)
	if param := b.Source.RequireListingParam; param != "" && !strings.Contains(l.ListingHref, param) {
		b.Counters.Inc(listings.CounterBadListingHref)
		p.logger.Debug().Str("source", b.Source.TextID).Str("href", l.ListingHref).Msg("listing url missing required parameter")
		return false
	}
	return true
}

// extractLocation fills coordinates, zip and "City, ST" text. Missing
// location data lowers quality but never rejects the posting.
func (p *Processor) extractLocation(ctx context.Context, b *Batch, raw *RawPosting, l *listings.Listing) bool {
	if loc := raw.Location; loc != nil {
		l.Lat = listings.RegularizeLatLon(loc.Lat.String())
		l.Lon = listings.RegularizeLatLon(loc.Long.String())

		zip := strings.TrimPrefix(strings.TrimSpace(loc.Zipcode.String()), "USA-")
		zip = clip(zip, maxZipLength)
		l.Zip = zip
		if zip != "" && p.zips != nil {
			z, err := p.zips.ResolveZip(ctx, zip)
			if err != nil {
				b.Counters.Inc(listings.CounterZipLookupFailures)
				p.logger.Debug().Err(err).Str("zip", zip).Msg("zipcode lookup failed")
			} else {
				l.LocationText = clip(z.LocationText(), maxLocationTextLength)
				if l.Lat == nil || l.Lon == nil {
					lat, lon := z.Lat, z.Lon
					l.Lat, l.Lon = &lat, &lon
				}
			}
		}
	}

	populated := 0
	for _, set := range []bool{l.Lat != nil, l.Lon != nil, l.Zip != "", l.LocationText != ""} {
		if set {
			populated++
		}
	}
	switch {
	case populated == 0:
		l.Penalize(listings.PenaltyBadLocation)
		b.Counters.Inc(listings.CounterBadLocation)
	case populated < 4:
		b.Counters.Inc(listings.CounterPartialLocation)
	}
	return true
}

// extractDescFields fills retention, geography checks, mileage, colors,
// VIN, listing text and price.
func (p *Processor) extractDescFields(b *Batch, raw *RawPosting, l *listings.Listing) bool {
	ok := true
	anno := raw.Annotations

	removal := b.Now.AddDate(0, 0, b.Source.KeepDaysFor(raw.Metro()))
	if expires, found := parsePostingTime(raw.Expires, b.Now); found && expires.Before(removal) {
		removal = expires
	}
	l.RemovalDate = &removal
	if posted, found := parsePostingTime(raw.Timestamp, b.Now); found && !posted.After(b.Now) {
		l.ListingDate = &posted
	}

	if country := raw.Country(); country != "" && country != "US" && country != "USA" {
		b.Counters.Inc(listings.CounterOutsideUSAPrefix + country)
		ok = false
	}
	if raw.Currency != "" && raw.Currency != "USD" {
		b.Counters.Inc(listings.CounterNonUSD)
		ok = false
	}

	if m, found := parseMileage(anno.First(MileageKeys...)); found {
		l.Mileage = &m
	}

	l.Color = clip(anno.First(ExteriorColorKeys...), maxColorLength)
	l.IntColor = clip(anno.First(InteriorColorKeys...), maxColorLength)
	if l.Color == "" || l.IntColor == "" {
		ext, interior := scanColors(raw.Body)
		if l.Color == "" {
			l.Color = ext
		}
		if l.IntColor == "" {
			l.IntColor = interior
		}
	}

	l.VIN = clip(strings.ToUpper(anno.First(VINKeys...)), maxVINLength)

	l.ListingText = chooseListingText(b, raw)

	l.Price = listings.RegularizePrice(raw.Price.String())
	if l.Price <= 1000 && anno.Has("price") {
		l.Price = listings.RegularizePrice(anno["price"])
	}
	listings.CheckPrice(l, b.Counters)

	return ok
}

func parseMileage(raw string) (int, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return int(f), true
	}
	return 0, false
}

// chooseListingText prefers the heading. A blank or very short heading
// falls back to the body.
func chooseListingText(b *Batch, raw *RawPosting) string {
	text := sanitize.PlainText(raw.Heading)
	if utf8.RuneCountInString(text) < b.Source.MinHeadingLength {
		if body := sanitize.PlainText(raw.Body); body != "" {
			text = body
		}
	}
	text = b.Source.StripTextPrefix(text)
	limit := b.Source.MaxListingTextLength
	if limit <= 0 || limit > maxListingTextLength {
		limit = maxListingTextLength
	}
	return sanitize.Truncate(text, limit)
}

var colorWords = map[string]struct{}{
	"black": {}, "white": {}, "silver": {}, "gray": {}, "grey": {}, "red": {},
	"blue": {}, "green": {}, "yellow": {}, "orange": {}, "brown": {}, "tan": {},
	"beige": {}, "gold": {}, "maroon": {}, "burgundy": {}, "purple": {}, "cream": {},
}

var interiorWords = map[string]struct{}{
	"interior": {}, "leather": {}, "cloth": {}, "upholstery": {}, "vinyl": {},
}

// scanColors looks for color words in free text. A color followed by an
// interior word ("tan leather") is the interior color; the first other
// color word is the exterior color.
func scanColors(body string) (exterior, interior string) {
	words := strings.FieldsFunc(strings.ToLower(body), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})
	for i, w := range words {
		if _, ok := colorWords[w]; !ok {
			continue
		}
		isInterior := false
		if i+1 < len(words) {
			_, isInterior = interiorWords[words[i+1]]
		}
		switch {
		case isInterior && interior == "":
			interior = capitalize(w)
		case !isInterior && exterior == "":
			exterior = capitalize(w)
		}
		if exterior != "" && interior != "" {
			break
		}
	}
	return exterior, interior
}

func capitalize(w string) string {
	if w == "" {
		return w
	}
	return strings.ToUpper(w[:1]) + w[1:]
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
