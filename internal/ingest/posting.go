// Package ingest turns raw source postings into canonical listings and
// drives incremental import runs.
package ingest

import (
	"bytes"
	"encoding/json"
	"strings"
)

// FlexString accepts a JSON string, number, or boolean and keeps its text.
// Feeds are inconsistent about quoting ids, prices and coordinates.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	if data[0] == '{' || data[0] == '[' {
		// Structured values carry nothing a scalar field can use.
		*f = ""
		return nil
	}
	*f = FlexString(data)
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

// Annotations is the free-form key/value map some feeds attach to a posting.
// Values are normalized to strings.
type Annotations map[string]string

func (a *Annotations) UnmarshalJSON(data []byte) error {
	var raw map[string]FlexString
	if err := json.Unmarshal(data, &raw); err != nil {
		// A malformed annotation block is treated as absent.
		*a = Annotations{}
		return nil
	}
	out := make(Annotations, len(raw))
	for k, v := range raw {
		out[k] = string(v)
	}
	*a = out
	return nil
}

// First returns the first non-blank value among keys, trimmed.
func (a Annotations) First(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(a[k]); v != "" {
			return v
		}
	}
	return ""
}

// Has reports whether key is present, even if blank.
func (a Annotations) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Annotation key synonyms. Feeds have used several spellings for the same
// attribute over time; the first non-blank one wins.
var (
	YearKeys          = []string{"year"}
	MakeKeys          = []string{"make"}
	ModelKeys         = []string{"model"}
	PriceKeys         = []string{"price"}
	MileageKeys       = []string{"mileage", "odometer"}
	ExteriorColorKeys = []string{"exteriorColor", "exterior_color", "paint_color", "color"}
	InteriorColorKeys = []string{"interiorColor", "interior_color"}
	VINKeys           = []string{"vin", "VIN"}
)

// Location is the posting's location block.
type Location struct {
	Lat     FlexString `json:"lat"`
	Long    FlexString `json:"long"`
	Zipcode FlexString `json:"zipcode"`
	Country FlexString `json:"country"`
	State   FlexString `json:"state"`
	Metro   FlexString `json:"metro"`
	City    FlexString `json:"city"`
}

// Image is one entry of the posting's image list.
type Image struct {
	Full      string `json:"full"`
	Thumbnail string `json:"thumbnail"`
}

// RawPosting is one record as delivered by a source, before normalization.
type RawPosting struct {
	ID            FlexString  `json:"id"`
	ExternalID    FlexString  `json:"external_id"`
	ExternalURL   string      `json:"external_url"`
	Source        string      `json:"source"`
	Heading       string      `json:"heading"`
	Body          string      `json:"body"`
	Price         FlexString  `json:"price"`
	Currency      string      `json:"currency"`
	Timestamp     FlexString  `json:"timestamp"`
	Expires       FlexString  `json:"expires"`
	Status        string      `json:"status"`
	State         string      `json:"state"`
	Deleted       bool        `json:"deleted"`
	FlaggedStatus FlexString  `json:"flagged_status"`
	Location      *Location   `json:"location"`
	Images        []Image     `json:"images"`
	Annotations   Annotations `json:"annotations"`
	// HTML is the base64-encoded original page, present only when requested.
	HTML string `json:"html"`
}

// Metro returns the posting's metro code, or "" when absent.
func (p *RawPosting) Metro() string {
	if p.Location == nil {
		return ""
	}
	return strings.TrimSpace(p.Location.Metro.String())
}

// Country returns the posting's country, or "" when absent.
func (p *RawPosting) Country() string {
	if p.Location == nil {
		return ""
	}
	return strings.TrimSpace(p.Location.Country.String())
}

// ForSale reports whether the source still lists the item.
func (p *RawPosting) ForSale() bool {
	if p.Deleted || p.Status != "for_sale" {
		return false
	}
	return p.State == "" || p.State == "available"
}
