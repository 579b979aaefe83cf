package listings

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
)

// Make maps one spelling of a manufacturer name to its canonical form.
// Consume words are dropped when they immediately follow the make (e.g. the
// "Benz" of "Mercedes Benz"); Push words are prepended to the model (e.g.
// "Vette" -> Chevrolet, push "Corvette").
type Make struct {
	ID           int64
	NonCanonical string
	Canonical    string
	Consume      []string
	Push         []string
}

// Model maps one spelling of a model name to its canonical form for a
// canonical make.
type Model struct {
	ID           int64
	MakeID       int64
	Make         string
	NonCanonical string
	Canonical    string
}

// RefData is an immutable snapshot of the lookup tables used by the
// regularizers and the tag classifier.
type RefData struct {
	makes             map[string]Make
	models            map[string][]Model
	boringMakes       map[string]struct{}
	interestingModels map[string]struct{}
	interestingWords  map[string]struct{}
}

var defaultBoringMakes = []string{
	"Dodge", "Chrysler", "Ram", "RAM", "Jeep",
	"Honda", "Acura", "Toyota", "Lexus", "Scion", "Nissan", "Infiniti",
	"Mazda", "Subaru", "Isuzu", "Mitsubishi",
	"Chevrolet", "Pontiac", "Saturn", "Cadillac", "Buick", "Oldsmobile",
	"GM", "General", "GMC",
	"Ford", "Mercury", "Lincoln",
	"BMW", "Mini", "MINI", "Mercedes", "Mercedes-Benz", "MB",
	"Volkswagen", "VW", "Audi",
	"Fiat", "Volvo", "Land Rover", "Range Rover", "Saab",
	"Hyundai", "Kia", "Suzuki",
	"Smart",
}

var defaultInterestingModels = []string{
	"VIPER",
	"NSX", "MR2", "MR-2", "SUPRA", "LFA", "300ZX", "SKYLINE", "GTR", "LEAF",
	"MX5", "MX-5", "MIATA", "MX-5 MIATA", "RX7",
	"EVOLUTION", "EVO", "I-MIEV", "I",
	"CORVETTE", "VOLT", "GRAND NATIONAL", "ELR", "CTS-V",
	"BOSS", "SHELBY", "GT", "MUSTANG", "C-MAX",
	"1M", "Z3M", "M3", "M5", "M6", "I3", "I8",
	"330", "330CI", "330I", "335", "335D", "335I", "SLS",
	"E-GOLF", "E-UP", "XL1", "R8",
	"500", "500E",
}

var defaultInterestingWords = []string{
	"ENERGI", "ELECTRIC", "AMG", "PHEV", "CLARITY", "EV",
	"STI", "WRX", "GTI", "R32", "SI", "GLH", "GLHS",
	"SWAP", "SWAPPED", "MODS", "MODDED", "JDM", "DRAG", "RACE", "RACECAR",
	"AUTOCROSS", "SCCA", "CRAPCAN", "LEMONS",
	"CUSTOM", "RESTORED", "PROJECT",
	"LS1", "LS2", "LS7",
	"TURBO", "TURBOCHARGED", "SUPERCHARGED", "SUPERCHARGER",
	"V10", "V12", "ROTARY", "12A", "13B", "20B",
}

// builtinMakes and builtinModels are always present so the classifier
// rules that name specific makes and models work against an empty store.
// Stored rows with the same spelling replace them.
var builtinMakes = []Make{
	{NonCanonical: "Chevrolet", Canonical: "Chevrolet"},
	{NonCanonical: "Chevy", Canonical: "Chevrolet"},
	{NonCanonical: "Vette", Canonical: "Chevrolet", Push: []string{"Corvette"}},
	{NonCanonical: "Mazda", Canonical: "Mazda"},
	{NonCanonical: "Nissan", Canonical: "Nissan"},
	{NonCanonical: "Tesla", Canonical: "Tesla"},
	{NonCanonical: "Mercedes", Canonical: "Mercedes-Benz", Consume: []string{"Benz"}},
	{NonCanonical: "Mercedes-Benz", Canonical: "Mercedes-Benz"},
	{NonCanonical: "VW", Canonical: "Volkswagen"},
	{NonCanonical: "Volkswagen", Canonical: "Volkswagen"},
}

var builtinModels = []Model{
	{Make: "Chevrolet", NonCanonical: "Corvette", Canonical: "Corvette"},
	{Make: "Chevrolet", NonCanonical: "Volt", Canonical: "Volt"},
	{Make: "Mazda", NonCanonical: "Miata", Canonical: "Miata"},
	{Make: "Mazda", NonCanonical: "MX-5", Canonical: "Miata"},
	{Make: "Mazda", NonCanonical: "MX-5 Miata", Canonical: "Miata"},
	{Make: "Nissan", NonCanonical: "Leaf", Canonical: "Leaf"},
}

// NewRefData builds a snapshot from make and model rows plus the built-in
// tables and interest lists. Lookups are case-insensitive.
func NewRefData(makes []Make, models []Model) *RefData {
	rd := &RefData{
		makes:             make(map[string]Make, len(builtinMakes)+len(makes)),
		models:            make(map[string][]Model, len(builtinModels)+len(models)),
		boringMakes:       toSet(defaultBoringMakes, false),
		interestingModels: toSet(defaultInterestingModels, true),
		interestingWords:  toSet(defaultInterestingWords, true),
	}
	for _, m := range append(append([]Make(nil), builtinMakes...), makes...) {
		rd.makes[strings.ToUpper(m.NonCanonical)] = m
	}
	for _, m := range append(append([]Model(nil), builtinModels...), models...) {
		rd.addModel(m)
	}
	return rd
}

// Size reports how many make and model spellings the snapshot knows.
func (r *RefData) Size() (makes, models int) {
	for _, ms := range r.models {
		models += len(ms)
	}
	return len(r.makes), models
}

func (r *RefData) addModel(m Model) {
	key := strings.ToUpper(m.NonCanonical)
	existing := r.models[key]
	for i, e := range existing {
		if strings.EqualFold(e.Make, m.Make) {
			existing[i] = m
			return
		}
	}
	r.models[key] = append(existing, m)
}

func toSet(values []string, upper bool) map[string]struct{} {
	s := make(map[string]struct{}, len(values))
	for _, v := range values {
		if upper {
			v = strings.ToUpper(v)
		}
		s[v] = struct{}{}
	}
	return s
}

// LookupMake finds a make by any of its spellings.
func (r *RefData) LookupMake(name string) (Make, bool) {
	if r == nil || name == "" {
		return Make{}, false
	}
	m, ok := r.makes[strings.ToUpper(name)]
	return m, ok
}

// IsKnownMake reports whether name is a recognized make spelling.
func (r *RefData) IsKnownMake(name string) bool {
	_, ok := r.LookupMake(name)
	return ok
}

// LookupModel finds a model spelling that belongs to the canonical make.
func (r *RefData) LookupModel(canonicalMake, name string) (Model, bool) {
	if r == nil || name == "" {
		return Model{}, false
	}
	for _, m := range r.models[strings.ToUpper(name)] {
		if strings.EqualFold(m.Make, canonicalMake) {
			return m, true
		}
	}
	return Model{}, false
}

// IsBoringMake matches the regularized (canonical, case-sensitive) make.
func (r *RefData) IsBoringMake(name string) bool {
	_, ok := r.boringMakes[name]
	return ok
}

func (r *RefData) IsInterestingModel(word string) bool {
	_, ok := r.interestingModels[strings.ToUpper(word)]
	return ok
}

func (r *RefData) IsInterestingWord(word string) bool {
	_, ok := r.interestingWords[strings.ToUpper(word)]
	return ok
}

// RefDataLoader reads reference rows from durable storage.
type RefDataLoader interface {
	LoadMakes(ctx context.Context) ([]Make, error)
	LoadModels(ctx context.Context) ([]Model, error)
}

// RefDataCache holds the current snapshot and swaps it atomically on Reload.
type RefDataCache struct {
	loader  RefDataLoader
	current atomic.Pointer[RefData]
}

// NewRefDataCache returns a cache that starts with an empty snapshot.
func NewRefDataCache(loader RefDataLoader) *RefDataCache {
	c := &RefDataCache{loader: loader}
	c.current.Store(NewRefData(nil, nil))
	return c
}

// Reload replaces the snapshot with fresh rows from the loader. On error
// the previous snapshot stays in place.
func (c *RefDataCache) Reload(ctx context.Context) error {
	makes, err := c.loader.LoadMakes(ctx)
	if err != nil {
		return fmt.Errorf("load makes: %w", err)
	}
	models, err := c.loader.LoadModels(ctx)
	if err != nil {
		return fmt.Errorf("load models: %w", err)
	}
	c.current.Store(NewRefData(makes, models))
	return nil
}

// Current returns the active snapshot.
func (c *RefDataCache) Current() *RefData {
	return c.current.Load()
}
