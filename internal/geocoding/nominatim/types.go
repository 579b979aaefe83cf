package nominatim

import "strings"

// SearchOptions contains optional parameters for geocoding searches.
type SearchOptions struct {
	// CountryCodes limits results to specific countries (comma-separated ISO 3166-1 alpha-2 codes, e.g. "us")
	CountryCodes string
	// Limit controls the maximum number of results (default: 1, max: 50)
	Limit int
	// PostalCode switches to a structured postal code search.
	PostalCode string
}

// SearchResult represents a single geocoding result from Nominatim search endpoint (format=jsonv2).
type SearchResult struct {
	PlaceID     int64   `json:"place_id"`
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Type        string  `json:"type"`
	Class       string  `json:"class"`
	Importance  float64 `json:"importance"`
	OSMID       int64   `json:"osm_id"`
	OSMType     string  `json:"osm_type"`
	// Address contains structured address components if included
	Address *Address `json:"address,omitempty"`
}

// Address contains structured address components from Nominatim.
type Address struct {
	City        string `json:"city,omitempty"`
	Town        string `json:"town,omitempty"`
	Village     string `json:"village,omitempty"`
	Hamlet      string `json:"hamlet,omitempty"`
	County      string `json:"county,omitempty"`
	State       string `json:"state,omitempty"`
	StateCode   string `json:"ISO3166-2-lvl4,omitempty"`
	Postcode    string `json:"postcode,omitempty"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
}

// Locality returns the most specific populated place name.
func (a Address) Locality() string {
	for _, name := range []string{a.City, a.Town, a.Village, a.Hamlet, a.County} {
		if name != "" {
			return name
		}
	}
	return ""
}

// Subdivision returns the state part of StateCode ("US-CA" -> "CA").
func (a Address) Subdivision() string {
	if i := strings.IndexByte(a.StateCode, '-'); i >= 0 {
		return a.StateCode[i+1:]
	}
	return a.StateCode
}
