package geocoding

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gellingson/carbyr/internal/domain/listings"
	"github.com/gellingson/carbyr/internal/geocoding/nominatim"
	"github.com/gellingson/carbyr/internal/metrics"
	"github.com/gellingson/carbyr/internal/storage/postgres"
)

// ErrGeocodingFailed is returned when the fallback geocoder errors out.
var ErrGeocodingFailed = errors.New("geocoding failed")

// ErrNoResults is returned when neither the table nor the geocoder knows a
// zipcode. It always also matches listings.ErrNotFound.
var ErrNoResults = errors.New("no geocoding results found")

// DefaultFailureTTL is how long an unresolvable zipcode is remembered.
const DefaultFailureTTL = time.Hour

var usZip = regexp.MustCompile(`^(\d{5})(?:-\d{4})?$`)

// ZipcodeStore is the zipcode reference table.
type ZipcodeStore interface {
	GetZipcode(ctx context.Context, zip string) (listings.Zipcode, error)
	SaveZipcode(ctx context.Context, z listings.Zipcode, origin string) error
}

// PostalCodeSearcher is the fallback geocoder.
type PostalCodeSearcher interface {
	SearchPostalCode(ctx context.Context, postalCode, countryCode string) ([]nominatim.SearchResult, error)
}

// ZipcodeResolver implements listings.ZipResolver: the zipcode table first,
// then Nominatim, with fallback answers written back to the table.
type ZipcodeResolver struct {
	store      ZipcodeStore
	client     PostalCodeSearcher
	logger     zerolog.Logger
	failureTTL time.Duration
	now        func() time.Time

	mu       sync.Mutex
	failures map[string]time.Time
}

var _ listings.ZipResolver = (*ZipcodeResolver)(nil)

// NewZipcodeResolver creates a resolver. A nil client disables the
// Nominatim fallback.
func NewZipcodeResolver(store ZipcodeStore, client PostalCodeSearcher, logger zerolog.Logger) *ZipcodeResolver {
	return &ZipcodeResolver{
		store:      store,
		client:     client,
		logger:     logger,
		failureTTL: DefaultFailureTTL,
		now:        time.Now,
		failures:   make(map[string]time.Time),
	}
}

// SetFailureTTL changes how long an unresolvable zipcode is remembered.
// Non-positive values keep the default.
func (s *ZipcodeResolver) SetFailureTTL(ttl time.Duration) {
	if ttl > 0 {
		s.failureTTL = ttl
	}
}

// ResolveZip returns the place for a US zipcode. ZIP+4 codes resolve by
// their first five digits.
func (s *ZipcodeResolver) ResolveZip(ctx context.Context, zip string) (listings.Zipcode, error) {
	m := usZip.FindStringSubmatch(zip)
	if m == nil {
		metrics.ZipcodeLookupsTotal.WithLabelValues("invalid").Inc()
		return listings.Zipcode{}, notFound(zip)
	}
	key := m[1]

	z, err := s.store.GetZipcode(ctx, key)
	if err == nil {
		metrics.ZipcodeLookupsTotal.WithLabelValues("table").Inc()
		return z, nil
	}
	if !errors.Is(err, listings.ErrNotFound) {
		return listings.Zipcode{}, fmt.Errorf("lookup zipcode: %w", err)
	}

	if s.client == nil {
		metrics.ZipcodeLookupsTotal.WithLabelValues("miss").Inc()
		return listings.Zipcode{}, notFound(key)
	}
	if s.recentlyFailed(key) {
		metrics.ZipcodeLookupsTotal.WithLabelValues("failure_cache").Inc()
		return listings.Zipcode{}, notFound(key)
	}

	z, err = s.geocode(ctx, key)
	if err != nil {
		s.recordFailure(key)
		return listings.Zipcode{}, err
	}

	if err := s.store.SaveZipcode(ctx, z, postgres.ZipOriginNominatim); err != nil {
		s.logger.Warn().Err(err).Str("zip", key).Msg("failed to cache geocoded zipcode")
	}
	metrics.ZipcodeLookupsTotal.WithLabelValues("nominatim").Inc()
	return z, nil
}

func (s *ZipcodeResolver) geocode(ctx context.Context, zip string) (listings.Zipcode, error) {
	startTime := time.Now()
	results, err := s.client.SearchPostalCode(ctx, zip, "us")
	metrics.GeocodingNominatimLatency.WithLabelValues("search").Observe(time.Since(startTime).Seconds())

	if err != nil {
		metrics.GeocodingNominatimRequestsTotal.WithLabelValues("search", "error").Inc()
		s.logger.Error().
			Err(err).
			Str("zip", zip).
			Dur("latency", time.Since(startTime)).
			Msg("nominatim postal code search failed")
		return listings.Zipcode{}, fmt.Errorf("%w: %w", ErrGeocodingFailed, err)
	}
	metrics.GeocodingNominatimRequestsTotal.WithLabelValues("search", "success").Inc()

	for _, r := range results {
		z, ok := zipcodeFromResult(zip, r)
		if !ok {
			continue
		}
		s.logger.Info().
			Str("zip", zip).
			Str("location", z.LocationText()).
			Dur("latency", time.Since(startTime)).
			Msg("zipcode geocoded")
		return z, nil
	}

	s.logger.Warn().Str("zip", zip).Msg("nominatim returned no usable results")
	metrics.ZipcodeLookupsTotal.WithLabelValues("miss").Inc()
	return listings.Zipcode{}, notFound(zip)
}

func zipcodeFromResult(zip string, r nominatim.SearchResult) (listings.Zipcode, bool) {
	if r.Address == nil {
		return listings.Zipcode{}, false
	}
	city, state := r.Address.Locality(), r.Address.Subdivision()
	if city == "" || state == "" {
		return listings.Zipcode{}, false
	}
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return listings.Zipcode{}, false
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return listings.Zipcode{}, false
	}
	return listings.Zipcode{Zip: zip, City: city, StateCode: state, Lat: lat, Lon: lon}, true
}

func (s *ZipcodeResolver) recentlyFailed(zip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.failures[zip]
	if !ok {
		return false
	}
	if s.now().Sub(at) > s.failureTTL {
		delete(s.failures, zip)
		return false
	}
	return true
}

func (s *ZipcodeResolver) recordFailure(zip string) {
	s.mu.Lock()
	s.failures[zip] = s.now()
	s.mu.Unlock()
}

func notFound(zip string) error {
	return fmt.Errorf("%w: zipcode %q: %w", ErrNoResults, zip, listings.ErrNotFound)
}
