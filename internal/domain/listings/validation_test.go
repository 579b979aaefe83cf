package listings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateYearMakeModel(t *testing.T) {
	t.Run("no year and no model", func(t *testing.T) {
		counters := Counters{}
		l := &Listing{Make: "Ford"}

		assert.False(t, ValidateYearMakeModel(l, counters))
		assert.Equal(t, 1, counters.Get(CounterBadMakeModel))
	})

	t.Run("non numeric year is forced and penalized", func(t *testing.T) {
		counters := Counters{}
		l := &Listing{ModelYear: "sixties", Make: "Ford", Model: "Falcon", StaticQuality: 10}

		assert.True(t, ValidateYearMakeModel(l, counters))
		assert.Equal(t, "1", l.ModelYear)
		assert.Equal(t, 10-PenaltyBadYear, l.StaticQuality)
		assert.Equal(t, 1, counters.Get(CounterBadYear))
	})

	t.Run("good values pass untouched", func(t *testing.T) {
		counters := Counters{}
		l := &Listing{ModelYear: "1967", Make: "Ford", Model: "Mustang"}

		assert.True(t, ValidateYearMakeModel(l, counters))
		assert.Equal(t, "1967", l.ModelYear)
		assert.Empty(t, counters)
	})
}

func TestValidateListing_ForcedYearPenalizedOnce(t *testing.T) {
	tests := []struct {
		name   string
		rules  Rules
		wantOK bool
	}{
		{name: "lenient source", wantOK: true},
		{name: "strict source", rules: Rules{Strict: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counters := Counters{}
			l := &Listing{ModelYear: "early 70s", Make: "Datsun", Model: "240Z", Price: 18000}

			require.True(t, ValidateYearMakeModel(l, counters))
			ok, _ := ValidateListing(l, tt.rules, counters)

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, -PenaltyBadYear, l.StaticQuality)
			assert.Equal(t, 1, counters.Get(CounterBadYear))
			assert.Zero(t, counters.Get(CounterImplausibleYear))
		})
	}
}

func TestValidateListing(t *testing.T) {
	good := func() *Listing {
		return &Listing{ModelYear: "1972", Make: "Datsun", Model: "240Z", Price: 18000}
	}

	tests := []struct {
		name        string
		mutate      func(l *Listing)
		rules       Rules
		wantOK      bool
		wantField   string
		wantCounter string
		wantQuality int
	}{
		{name: "good listing", mutate: func(*Listing) {}, wantOK: true},
		{
			name:      "price at floor",
			mutate:    func(l *Listing) { l.Price = PriceFloor },
			wantField: "price",
		},
		{
			name:   "unpriced allowed",
			mutate: func(l *Listing) { l.Price = UnknownPrice },
			rules:  Rules{AllowUnpriced: true},
			wantOK: true,
		},
		{
			name:        "implausible year tolerated on lenient source",
			mutate:      func(l *Listing) { l.ModelYear = "1" },
			wantOK:      true,
			wantCounter: CounterImplausibleYear,
			wantQuality: -PenaltyImplausibleYear,
		},
		{
			name:        "implausible year rejected on strict source",
			mutate:      func(l *Listing) { l.ModelYear = "3000" },
			rules:       Rules{Strict: true},
			wantField:   "model_year",
			wantCounter: CounterImplausibleYear,
			wantQuality: -PenaltyImplausibleYear,
		},
		{
			name:        "strict source needs a model",
			mutate:      func(l *Listing) { l.Model = "" },
			rules:       Rules{Strict: true},
			wantField:   "make_model",
			wantCounter: CounterBadMakeModel,
		},
		{
			name:   "lenient source tolerates a missing model",
			mutate: func(l *Listing) { l.Model = "" },
			wantOK: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := good()
			tt.mutate(l)
			counters := Counters{}

			ok, problems := ValidateListing(l, tt.rules, counters)

			assert.Equal(t, tt.wantOK, ok)
			if tt.wantField != "" {
				require.NotEmpty(t, problems)
				assert.Equal(t, tt.wantField, problems[0].Field)
			} else {
				assert.Empty(t, problems)
			}
			if tt.wantCounter != "" {
				assert.Equal(t, 1, counters.Get(tt.wantCounter))
			}
			assert.Equal(t, tt.wantQuality, l.StaticQuality)
		})
	}
}

func TestValidateListingNeverRaisesQuality(t *testing.T) {
	l := &Listing{ModelYear: "1972", Make: "Datsun", Model: "240Z", Price: 18000, StaticQuality: -5}

	ValidateListing(l, Rules{Strict: true}, Counters{})

	assert.Equal(t, -5, l.StaticQuality)
}

func TestCheckPrice(t *testing.T) {
	counters := Counters{}
	l := &Listing{Price: 50}

	assert.False(t, CheckPrice(l, counters))
	assert.Equal(t, 1, counters.Get(CounterBadPrice))
	assert.Equal(t, -PenaltyBadPrice, l.StaticQuality)

	l = &Listing{Price: 4500}
	assert.True(t, CheckPrice(l, counters))
	assert.Equal(t, 1, counters.Get(CounterBadPrice))
	assert.Zero(t, l.StaticQuality)
}

func TestValidationErrorMessage(t *testing.T) {
	err := ValidationError{Field: "price", Message: "too low"}
	assert.Equal(t, "invalid price: too low", err.Error())
}
