package listings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegularizePrice(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"12500", 12500},
		{"$12,500", 12500},
		{"Price: $8,000", 8000},
		{"12500.75", 12500},
		{"OBO 5000", 5000},
		{"", UnknownPrice},
		{"call", UnknownPrice},
		{"$", UnknownPrice},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, RegularizePrice(tt.raw))
		})
	}
}

func TestRegularizeLatLon(t *testing.T) {
	v := RegularizeLatLon("37.5")
	require.NotNil(t, v)
	assert.InDelta(t, 37.5, *v, 0.0001)

	v = RegularizeLatLon(" -122.41 ")
	require.NotNil(t, v)
	assert.InDelta(t, -122.41, *v, 0.0001)

	for _, raw := range []string{"", "0", "0.0", "181", "-180.5", "north"} {
		assert.Nil(t, RegularizeLatLon(raw), raw)
	}
}

func TestRegularizeYearMakeModel(t *testing.T) {
	rd := NewRefData(nil, nil)

	tests := []struct {
		name      string
		text      string
		wantYear  string
		wantMake  string
		wantModel string
	}{
		{
			name:      "heading with trailing noise",
			text:      "2006 Cadillac XLR-V 31k MILES Loaded!",
			wantYear:  "2006",
			wantMake:  "Cadillac",
			wantModel: "XLR-V 31k MILES Loaded!",
		},
		{
			name:      "two digit year in the 1900s with push word",
			text:      "'67 vette stingray",
			wantYear:  "1967",
			wantMake:  "Chevrolet",
			wantModel: "Corvette stingray",
		},
		{
			name:      "two digit year in the 2000s",
			text:      "05 mazda Miata",
			wantYear:  "2005",
			wantMake:  "Mazda",
			wantModel: "Miata",
		},
		{
			name:      "consume word dropped",
			text:      "1995 mercedes benz sl500",
			wantYear:  "1995",
			wantMake:  "Mercedes-Benz",
			wantModel: "sl500",
		},
		{
			name:      "unknown make is title cased",
			text:      "1963 STUDEBAKER avanti",
			wantYear:  "1963",
			wantMake:  "Studebaker",
			wantModel: "avanti",
		},
		{
			name:      "fractional year",
			text:      "1964.5 Ford Mustang",
			wantYear:  "1964",
			wantMake:  "Ford",
			wantModel: "Mustang",
		},
		{
			name:      "year found after other words",
			text:      "Clean 1999 Honda Civic",
			wantYear:  "1999",
			wantMake:  "Honda",
			wantModel: "Civic",
		},
		{
			name:      "no year with known make",
			text:      "Mazda Miata",
			wantMake:  "Mazda",
			wantModel: "Miata",
		},
		{
			name: "no year and unknown make",
			text: "Great deal",
		},
		{
			name: "year with nothing after it",
			text: "1999",
		},
		{
			name: "implausible four digit number",
			text: "1800 Foo Bar",
		},
		{
			name: "empty",
			text: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			year, mk, model := RegularizeYearMakeModel(rd, tt.text)
			assert.Equal(t, tt.wantYear, year)
			assert.Equal(t, tt.wantMake, mk)
			assert.Equal(t, tt.wantModel, model)
		})
	}
}

func TestRegularizeYearMakeModelFields(t *testing.T) {
	rd := NewRefData(nil, nil)

	year, mk, model := RegularizeYearMakeModelFields(rd, "2006", "cadillac", "xlr")
	assert.Equal(t, "2006", year)
	assert.Equal(t, "Cadillac", mk)
	assert.Equal(t, "xlr", model)

	year, mk, model = RegularizeYearMakeModelFields(rd, "", "Nissan", "Leaf")
	assert.Equal(t, "", year)
	assert.Equal(t, "Nissan", mk)
	assert.Equal(t, "Leaf", model)
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "Mercedes-Benz", titleCase("MERCEDES-BENZ"))
	assert.Equal(t, "Alfa Romeo", titleCase("alfa romeo"))
	assert.Equal(t, "Ac", titleCase("AC"))
}
