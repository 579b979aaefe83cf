package listings

import (
	"context"
	"fmt"
)

// Zipcode is one row of the postal code reference table.
type Zipcode struct {
	Zip       string
	City      string
	StateCode string
	Lat       float64
	Lon       float64
}

// LocationText renders the "City, ST" form stored on listings.
func (z Zipcode) LocationText() string {
	return fmt.Sprintf("%s, %s", z.City, z.StateCode)
}

// ZipResolver turns a postal code into a place. Implementations return an
// error wrapping ErrNotFound for unknown codes.
type ZipResolver interface {
	ResolveZip(ctx context.Context, zip string) (Zipcode, error)
}
