// Package sources loads the per-source configuration record that the
// ingestion pipeline threads through every extractor.
package sources

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/gellingson/carbyr/internal/domain/listings"
)

// ErrUnknownSource is returned when no loaded config has the requested textid.
var ErrUnknownSource = errors.New("unknown source")

// Kind values accepted in the `kind` field.
const (
	KindClassified = "classified"
	KindDealer     = "dealer"
)

// Config describes one listing source loaded from a YAML file.
type Config struct {
	ID       int64  `yaml:"id" validate:"gt=0"`
	TextID   string `yaml:"textid" validate:"required,max=32,lowercase"`
	FullName string `yaml:"full_name" validate:"required,max=50"`
	Kind     string `yaml:"kind" validate:"oneof=classified dealer"`
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule" validate:"omitempty,oneof=hourly daily manual"`

	// FeedCode is the upstream change-feed source code. Defaults to the
	// upper-cased textid.
	FeedCode string `yaml:"feed_code"`

	KeepDays        int      `yaml:"keep_days" validate:"gte=1"`
	ShortKeepDays   int      `yaml:"short_keep_days" validate:"gte=0"`
	ShortKeepMetros []string `yaml:"short_keep_metros"`

	QualityAdjustment int  `yaml:"quality_adjustment"`
	HTMLFallback      bool `yaml:"html_fallback"`
	Strict            bool `yaml:"strict"`
	AllowUnpriced     bool `yaml:"allow_unpriced"`

	// DistrustAnnotationMakes lists annotation makes this feed is known to
	// report wrongly; the heading make wins unless both agree.
	DistrustAnnotationMakes []string `yaml:"distrust_annotation_makes"`

	PictureRewrites      []PictureRewrite `yaml:"picture_rewrites" validate:"dive"`
	RequireListingParam  string           `yaml:"require_listing_param"`
	RVPathMarkers        []string         `yaml:"rv_path_markers"`
	TextPrefixPattern    string           `yaml:"text_prefix_pattern"`
	MinHeadingLength     int              `yaml:"min_heading_length" validate:"gte=0"`
	MaxListingTextLength int              `yaml:"max_listing_text_length" validate:"gte=0"`

	// Dealer sites only. Zip is the lot's location, stamped on every listing.
	Zip          string         `yaml:"zip" validate:"omitempty,numeric,len=5"`
	InventoryURL string         `yaml:"inventory_url"`
	MaxPages     int            `yaml:"max_pages" validate:"gte=0"`
	Selectors    SelectorConfig `yaml:"selectors"`

	textPrefix *regexp.Regexp
}

// PictureRewrite upgrades a thumbnail URL to its full-size form. SplitAt
// truncates the URL at the first occurrence of the marker; Replace/With
// substitutes one path fragment.
type PictureRewrite struct {
	SplitAt string `yaml:"split_at"`
	Replace string `yaml:"replace" validate:"required_with=With"`
	With    string `yaml:"with"`
}

// Apply rewrites href.
func (r PictureRewrite) Apply(href string) string {
	if r.SplitAt != "" {
		href = strings.SplitN(href, r.SplitAt, 2)[0]
	}
	if r.Replace != "" {
		href = strings.ReplaceAll(href, r.Replace, r.With)
	}
	return href
}

// SelectorConfig holds the CSS selectors used to scrape a dealer's
// inventory pages.
type SelectorConfig struct {
	Item       string `yaml:"item"`
	Title      string `yaml:"title"`
	Price      string `yaml:"price"`
	URL        string `yaml:"url"`
	Image      string `yaml:"image"`
	Mileage    string `yaml:"mileage"`
	StockNo    string `yaml:"stock_no"`
	VIN        string `yaml:"vin"`
	Pagination string `yaml:"pagination"`
	// Description is read from the listing's detail page when set.
	Description string `yaml:"description"`
}

// DefaultConfig returns a Config with sensible defaults applied.
func DefaultConfig() Config {
	return Config{
		Kind:                 KindClassified,
		Enabled:              true,
		Schedule:             "manual",
		KeepDays:             30,
		MinHeadingLength:     10,
		MaxListingTextLength: 2048,
		MaxPages:             20,
	}
}

// SourceType maps the kind onto the listing source type.
func (c Config) SourceType() listings.SourceType {
	if c.Kind == KindDealer {
		return listings.SourceDealer
	}
	return listings.SourceClassified
}

// IsDealer reports whether the source delivers its full inventory on every
// pull.
func (c Config) IsDealer() bool {
	return c.Kind == KindDealer
}

// Code is the upstream feed code for the source.
func (c Config) Code() string {
	if c.FeedCode != "" {
		return c.FeedCode
	}
	return strings.ToUpper(c.TextID)
}

// Rules returns the scorer knobs for the source.
func (c Config) Rules() listings.Rules {
	return listings.Rules{Strict: c.Strict, AllowUnpriced: c.AllowUnpriced}
}

// TagOptions returns the classifier inputs for the source.
func (c Config) TagOptions() listings.TagOptions {
	return listings.TagOptions{Strict: c.Strict, RVPathMarkers: c.RVPathMarkers}
}

// KeepDaysFor returns the retention window for a posting from metro.
func (c Config) KeepDaysFor(metro string) int {
	if c.ShortKeepDays > 0 && metro != "" {
		for _, m := range c.ShortKeepMetros {
			if strings.EqualFold(m, metro) {
				return c.ShortKeepDays
			}
		}
	}
	return c.KeepDays
}

// DistrustsAnnotationMake reports whether make is a known-bad annotation
// value for this feed.
func (c Config) DistrustsAnnotationMake(name string) bool {
	for _, m := range c.DistrustAnnotationMakes {
		if strings.EqualFold(m, name) {
			return true
		}
	}
	return false
}

// RewritePicture applies every picture rewrite in order.
func (c Config) RewritePicture(href string) string {
	for _, r := range c.PictureRewrites {
		href = r.Apply(href)
	}
	return href
}

// StripTextPrefix removes the configured site prefix from listing text.
func (c Config) StripTextPrefix(text string) string {
	re := c.textPrefix
	if re == nil && c.TextPrefixPattern != "" {
		re = regexp.MustCompile(c.TextPrefixPattern)
	}
	if re == nil {
		return text
	}
	if loc := re.FindStringIndex(text); loc != nil && loc[0] == 0 {
		return text[loc[1]:]
	}
	return text
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// ValidateConfig validates a Config and returns an error describing all
// problems found, or nil if the config is valid.
func ValidateConfig(cfg Config) error {
	var errs []string

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, describeFieldError(fe))
		}
	}

	if cfg.TextPrefixPattern != "" {
		if _, err := regexp.Compile(cfg.TextPrefixPattern); err != nil {
			errs = append(errs, fmt.Sprintf("text_prefix_pattern: %v", err))
		}
	}

	if cfg.Kind == KindDealer {
		if strings.TrimSpace(cfg.InventoryURL) == "" {
			errs = append(errs, "inventory_url: required for dealer sources")
		}
		if strings.TrimSpace(cfg.Selectors.Item) == "" {
			errs = append(errs, "selectors.item: required for dealer sources")
		}
		if cfg.HTMLFallback {
			errs = append(errs, "html_fallback: only supported for classified feeds")
		}
	}

	if cfg.InventoryURL != "" {
		u, err := url.Parse(cfg.InventoryURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("inventory_url: must be a valid http/https URL, got %q", cfg.InventoryURL))
		}
	}

	if len(cfg.ShortKeepMetros) > 0 && cfg.ShortKeepDays == 0 {
		errs = append(errs, "short_keep_days: required with short_keep_metros")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required", "required_if", "required_with":
		return field + ": required"
	case "oneof":
		return fmt.Sprintf("%s: must be one of %s, got %q", field, fe.Param(), fmt.Sprint(fe.Value()))
	case "gt":
		return fmt.Sprintf("%s: must be > %s, got %v", field, fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("%s: must be >= %s, got %v", field, fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("%s: must be at most %s characters", field, fe.Param())
	case "lowercase":
		return field + ": must be lowercase"
	case "numeric", "len":
		return fmt.Sprintf("%s: must be a 5 digit zipcode, got %q", field, fmt.Sprint(fe.Value()))
	}
	return fmt.Sprintf("%s: failed %s", field, fe.Tag())
}

// LoadConfigs reads all *.yaml files from dir (skipping files starting with
// "_"), parses each into a Config with defaults applied, validates each
// config, and returns the valid configs sorted by textid. Duplicate textids
// or ids are errors. A non-existent directory returns an empty slice with
// no error.
func LoadConfigs(dir string) ([]Config, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []Config{}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading source config dir %s: %w", dir, err)
	}

	var configs []Config
	var validationErrors []string
	seenText := map[string]string{}
	seenID := map[int64]string{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "_") {
			continue
		}
		if ext := filepath.Ext(name); ext != ".yaml" && ext != ".yml" {
			continue
		}

		filePath := filepath.Join(dir, name)
		cfg, err := loadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", filePath, err)
		}

		if err := ValidateConfig(cfg); err != nil {
			validationErrors = append(validationErrors, fmt.Sprintf("%s: %s", filePath, err.Error()))
			continue
		}
		if prev, ok := seenText[cfg.TextID]; ok {
			validationErrors = append(validationErrors, fmt.Sprintf("%s: textid %q already defined in %s", filePath, cfg.TextID, prev))
			continue
		}
		if prev, ok := seenID[cfg.ID]; ok {
			validationErrors = append(validationErrors, fmt.Sprintf("%s: id %d already defined in %s", filePath, cfg.ID, prev))
			continue
		}
		seenText[cfg.TextID] = filePath
		seenID[cfg.ID] = filePath
		if err := cfg.compile(); err != nil {
			return nil, fmt.Errorf("loading %s: %w", filePath, err)
		}
		configs = append(configs, cfg)
	}

	sort.Slice(configs, func(i, j int) bool { return configs[i].TextID < configs[j].TextID })

	if len(validationErrors) > 0 {
		return configs, fmt.Errorf("invalid source configs:\n  %s", strings.Join(validationErrors, "\n  "))
	}
	return configs, nil
}

// LoadConfig reads a single YAML source config file, applies defaults, and
// validates it.
func LoadConfig(path string) (Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("loading %s: %w", path, err)
	}
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.compile(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing YAML: %w", err)
	}

	if cfg.KeepDays == 0 {
		cfg.KeepDays = 30
	}
	if cfg.Kind == "" {
		cfg.Kind = KindClassified
	}
	return cfg, nil
}

func (c *Config) compile() error {
	if c.TextPrefixPattern == "" {
		return nil
	}
	re, err := regexp.Compile(c.TextPrefixPattern)
	if err != nil {
		return fmt.Errorf("text_prefix_pattern: %w", err)
	}
	c.textPrefix = re
	return nil
}

// Set is an immutable collection of loaded configs indexed by textid.
type Set struct {
	byText map[string]Config
	order  []string
}

// NewSet indexes configs by textid.
func NewSet(configs []Config) *Set {
	s := &Set{byText: make(map[string]Config, len(configs))}
	for _, c := range configs {
		if _, dup := s.byText[c.TextID]; !dup {
			s.order = append(s.order, c.TextID)
		}
		s.byText[c.TextID] = c
	}
	return s
}

// Get returns the config for textid.
func (s *Set) Get(textID string) (Config, error) {
	c, ok := s.byText[strings.ToLower(textID)]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrUnknownSource, textID)
	}
	return c, nil
}

// Enabled returns the enabled configs in load order, optionally restricted
// to one kind ("" for all).
func (s *Set) Enabled(kind string) []Config {
	var out []Config
	for _, id := range s.order {
		c := s.byText[id]
		if c.Enabled && (kind == "" || c.Kind == kind) {
			out = append(out, c)
		}
	}
	return out
}

// All returns every config in load order.
func (s *Set) All() []Config {
	out := make([]Config, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byText[id])
	}
	return out
}
