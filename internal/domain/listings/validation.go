package listings

import (
	"fmt"
	"strconv"
)

// Fixed static-quality penalties applied during ingestion.
const (
	PenaltyNoPicture       = 100
	PenaltyBadPrice        = 50
	PenaltyBadLocation     = 10
	PenaltyBadYear         = 20
	PenaltyImplausibleYear = 20
)

// PriceFloor is the highest price still treated as a placeholder rather
// than a real asking price.
const PriceFloor = 100

// ValidationError describes one failed plausibility check.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Rules are the per-source knobs the scorer honors.
type Rules struct {
	// Strict sources must supply make, model and a plausible year.
	Strict bool
	// AllowUnpriced keeps listings at or below PriceFloor (dealer
	// "call for price" listings) instead of rejecting them.
	AllowUnpriced bool
}

// ValidateYearMakeModel is the intermediate checkpoint run right after
// year/make/model extraction. A listing with neither year nor model is
// rejected; a non-numeric year is replaced by "1" and penalized once, so
// ValidateListing does not penalize it again as implausible.
func ValidateYearMakeModel(l *Listing, counters Counters) bool {
	if l.ModelYear == "" && l.Model == "" {
		counters.Inc(CounterBadMakeModel)
		return false
	}
	if _, err := strconv.Atoi(l.ModelYear); err != nil {
		counters.Inc(CounterBadYear)
		l.ModelYear = "1"
		l.Penalize(PenaltyBadYear)
		l.yearForced = true
	}
	return true
}

// ValidateListing is the final checkpoint. It never fails hard: it returns
// the accept decision and the problems found, and may only lower
// StaticQuality.
func ValidateListing(l *Listing, rules Rules, counters Counters) (bool, []ValidationError) {
	var problems []ValidationError

	year := yearNumber(l.ModelYear)
	if year < MinModelYear || year > MaxModelYear {
		// A forced year already paid PenaltyBadYear.
		if !l.yearForced {
			counters.Inc(CounterImplausibleYear)
			l.Penalize(PenaltyImplausibleYear)
		}
		if rules.Strict {
			problems = append(problems, ValidationError{
				Field:   "model_year",
				Message: fmt.Sprintf("%q outside %d-%d", l.ModelYear, MinModelYear, MaxModelYear),
			})
		}
	}

	if rules.Strict && (l.Make == "" || l.Model == "") {
		counters.Inc(CounterBadMakeModel)
		problems = append(problems, ValidationError{Field: "make_model", Message: "make and model are required"})
	}

	if l.Price <= PriceFloor && !rules.AllowUnpriced {
		problems = append(problems, ValidationError{
			Field:   "price",
			Message: fmt.Sprintf("%d is at or below the %d floor", l.Price, PriceFloor),
		})
	}

	return len(problems) == 0, problems
}

// CheckPrice flags a price at or below the floor: counter plus penalty.
// The rejection itself happens in ValidateListing.
func CheckPrice(l *Listing, counters Counters) bool {
	if l.Price > PriceFloor {
		return true
	}
	counters.Inc(CounterBadPrice)
	l.Penalize(PenaltyBadPrice)
	return false
}
