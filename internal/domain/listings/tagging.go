package listings

import (
	"strings"
)

// Tag names produced by the classifier.
const (
	TagInteresting  = "interesting"
	TagKnownMake    = "known_make"
	TagUnknownMake  = "unknown_make"
	TagKnownModel   = "known_model"
	TagUnknownModel = "unknown_model"
	TagElectric     = "electric"
	TagRally        = "rally"
	TagRV           = "rv"
)

// TagOptions carries the per-source inputs of the classifier.
type TagOptions struct {
	// Strict sources treat unknown makes as uninteresting.
	Strict bool
	// RVPathMarkers are listing URL fragments that identify trailers and RVs.
	RVPathMarkers []string
}

type generation struct {
	maxYear int
	tags    []string
}

// Generation brackets by model year, checked in order. The last bracket
// catches every later year.
var (
	miataGenerations = []generation{
		{1994, []string{"NA6", "NA"}},
		{1997, []string{"NA8", "NA"}},
		{2005, []string{"NB"}},
		{2015, []string{"NC"}},
		{0, []string{"ND"}},
	}
	corvetteGenerations = []generation{
		{1962, []string{"C1"}},
		{1967, []string{"C2"}},
		{1983, []string{"C3"}},
		{1996, []string{"C4"}},
		{2004, []string{"C5"}},
		{2013, []string{"C6"}},
		{0, []string{"C7"}},
	}
)

func generationTags(brackets []generation, year int) []string {
	for _, g := range brackets {
		if g.maxYear == 0 || year <= g.maxYear {
			return g.tags
		}
	}
	return nil
}

// Tagify classifies the listing and adds tags to it. Existing tags are kept;
// tags that contradict the new classification are retracted. When counters
// is non-nil every tag on the listing is counted under its own name.
func Tagify(rd *RefData, l *Listing, opts TagOptions, counters Counters) {
	var add, retract []string

	if IsInteresting(rd, l, !opts.Strict) {
		add = append(add, TagInteresting)
	}

	mk, knownMake := rd.LookupMake(l.Make)
	if knownMake {
		add = append(add, TagKnownMake)
		retract = append(retract, TagUnknownMake)
	} else {
		add = append(add, TagUnknownMake)
		retract = append(retract, TagKnownMake)
	}

	if knownMake && l.Model != "" {
		modelUpper := strings.ToUpper(l.Model)
		if model, ok := matchModel(rd, mk.Canonical, l.Model); ok {
			add = append(add, TagKnownModel)
			retract = append(retract, TagUnknownModel)
			year := yearNumber(l.ModelYear)
			switch model.Canonical {
			case "Miata":
				add = append(add, generationTags(miataGenerations, year)...)
			case "Corvette":
				add = append(add, generationTags(corvetteGenerations, year)...)
			}
			if (l.Make == "Nissan" && model.Canonical == "Leaf") ||
				(l.Make == "Chevrolet" && model.Canonical == "Volt") {
				add = append(add, TagElectric)
			}
		} else {
			add = append(add, TagUnknownModel)
		}
		if isRally(l.Make, modelUpper) {
			add = append(add, TagRally)
		}
		if isElectric(l.Make, modelUpper) {
			add = append(add, TagElectric)
		}
	}

	for _, marker := range opts.RVPathMarkers {
		if marker != "" && strings.Contains(l.ListingHref, marker) {
			add = append(add, TagRV)
			break
		}
	}

	l.AddTags(add...)
	l.RetractTags(retract...)

	if counters != nil {
		for _, t := range l.Tags.Sorted() {
			counters.Inc(t)
		}
	}
}

// matchModel tries the first word of the model, then the first two words,
// against the model table for the canonical make. Trailing trim words are
// ignored.
func matchModel(rd *RefData, canonicalMake, model string) (Model, bool) {
	words := strings.Split(model, " ")
	if m, ok := rd.LookupModel(canonicalMake, words[0]); ok {
		return m, true
	}
	if len(words) >= 2 {
		return rd.LookupModel(canonicalMake, strings.Join(words[:2], " "))
	}
	return Model{}, false
}

func isRally(mk, modelUpper string) bool {
	switch {
	case mk == "Subaru" && strings.Contains(modelUpper, "WRX"):
	case mk == "Mitsubishi" && strings.Contains(modelUpper, "EVO"):
	case (mk == "Mazda" || mk == "Audi") && strings.Contains(modelUpper, "323 GTX"):
	case mk == "Ford" && strings.Contains(modelUpper, "ESCORT") && strings.Contains(modelUpper, "MK"):
	case strings.Contains(modelUpper, "RALLY"), strings.Contains(modelUpper, "WRC"):
	default:
		return false
	}
	return true
}

func isElectric(mk, modelUpper string) bool {
	switch {
	case mk == "Tesla", mk == "Fisker":
	case mk == "BMW" && strings.HasPrefix(modelUpper, "I"):
	case mk == "Volkswagen" && (strings.HasPrefix(modelUpper, "E-") || strings.HasPrefix(modelUpper, "XL1")):
	case mk == "Ford" && strings.Contains(modelUpper, "ENERGI"):
	case mk == "Mitsubishi" && strings.Contains(modelUpper, "MIEV"):
	case mk == "Chevrolet" && strings.HasPrefix(modelUpper, "SPARK EV"):
	case mk == "Fiat" && strings.Split(modelUpper, " ")[0] == "500E":
	case strings.Contains(modelUpper, "ELECTRIC"):
	default:
		return false
	}
	return true
}

// IsInteresting decides whether a listing is worth keeping in a limited
// inventory. Old cars and expensive cars always are; so is anything from a
// make outside the boring list, or a boring make with an interesting model
// or keyword.
func IsInteresting(rd *RefData, l *Listing, unknownMakeInteresting bool) bool {
	year := yearNumber(l.ModelYear)
	if year > MinModelYear && year <= 1975 {
		return true
	}
	if l.Price > 100000 {
		return true
	}
	if !unknownMakeInteresting && !rd.IsKnownMake(l.Make) {
		return false
	}
	if !rd.IsBoringMake(l.Make) {
		return true
	}
	if l.Model != "" {
		words := strings.Split(l.Model, " ")
		if rd.IsInterestingModel(words[0]) {
			return true
		}
		for _, w := range words {
			if rd.IsInterestingWord(w) {
				return true
			}
		}
	}
	for _, w := range strings.Fields(l.ListingText) {
		if rd.IsInterestingWord(w) {
			return true
		}
	}
	return false
}

// FilterOptions are the run-level inputs of ApplyPostTagFilters.
type FilterOptions struct {
	// Limited drops every uninteresting listing.
	Limited bool
	// Strict drops uninteresting listings that lack a useful year, model
	// or price.
	Strict bool
}

// ApplyPostTagFilters runs after Tagify and reports whether the listing
// survives the inventory filters.
func ApplyPostTagFilters(l *Listing, opts FilterOptions, counters Counters) bool {
	if l.HasTag(TagInteresting) {
		return true
	}
	if opts.Limited {
		counters.Inc(CounterUninteresting)
		return false
	}
	if !opts.Strict {
		return true
	}
	switch {
	case yearNumber(l.ModelYear) < MinModelYear:
		counters.Inc(CounterUselessYear)
	case l.Model == "":
		counters.Inc(CounterUselessModel)
	case l.Price < PriceFloor:
		counters.Inc(CounterUselessPrice)
	default:
		return true
	}
	return false
}
