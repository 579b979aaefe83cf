package listings

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// MinModelYear and MaxModelYear bound a plausible model year. The upper
// bound follows the calendar so next year's models are accepted.
const MinModelYear = 1800

var MaxModelYear = time.Now().Year() + 1

// junkChars are stripped from make and model words.
const junkChars = "'` *~_\"\t"

var (
	priceLetters = regexp.MustCompile(`[a-zA-Z]`)
	priceMoney   = regexp.MustCompile(`[$,]`)
)

// RegularizePrice turns messy price text ("Price: $12,500", "12500.00")
// into whole dollars, or UnknownPrice when nothing parses.
func RegularizePrice(raw string) int {
	s := strings.TrimSpace(raw)
	if s == "" {
		return UnknownPrice
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	s = priceLetters.ReplaceAllString(s, "")
	s = strings.TrimSpace(priceMoney.ReplaceAllString(s, ""))
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return UnknownPrice
}

// RegularizeLatLon parses a coordinate. Exactly zero and anything outside
// +/-180 are treated as missing.
func RegularizeLatLon(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v == 0 || v > 180 || v < -180 {
		return nil
	}
	return &v
}

// RegularizeYearMakeModelFields joins separately supplied fields and runs
// them through RegularizeYearMakeModel, so sources that split the fields
// differently still come out the same way.
func RegularizeYearMakeModelFields(rd *RefData, year, mk, model string) (string, string, string) {
	return RegularizeYearMakeModel(rd, strings.Join(nonEmpty(year, mk, model), " "))
}

func nonEmpty(fields ...string) []string {
	var out []string
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// RegularizeYearMakeModel splits text like "'67 chevy vette stingray" into
// year, make and model. The first numeric word (other than the last word)
// that reads as a year wins; two-digit years 20-99 are 19xx and smaller
// numbers are 20xx. The word after the year is the make, looked up in rd and
// title-cased when unknown; the rest is the model. Without a year only a
// known make in the first word is recognized. Unknown parts come back empty.
func RegularizeYearMakeModel(rd *RefData, text string) (year, mk, model string) {
	if text == "" {
		return "", "", ""
	}
	words := strings.Split(text, " ")

	var rest []string
	for i := 0; i < len(words)-1; i++ {
		s := strings.Trim(words[i], "'`\"")
		s = strings.SplitN(s, ".", 2)[0]
		num, err := strconv.Atoi(s)
		if err != nil || num < 0 {
			continue
		}
		y := 0
		switch {
		case num > 1900 && num <= MaxModelYear:
			y = num
		case num >= 20 && num <= 99:
			y = 1900 + num
		case num < 20:
			y = 2000 + num
		}
		if y != 0 {
			year = strconv.Itoa(y)
			rest = words[i+1:]
			break
		}
	}

	if year == "" {
		if len(words) < 2 {
			return "", "", ""
		}
		m, ok := rd.LookupMake(strings.Trim(words[0], junkChars))
		if !ok {
			return "", "", ""
		}
		return "", m.Canonical, strings.Trim(strings.Join(applyMakeWords(m, words[1:]), " "), junkChars)
	}

	first := strings.Trim(rest[0], junkChars)
	var modelWords []string
	if m, ok := rd.LookupMake(first); ok {
		mk = m.Canonical
		modelWords = applyMakeWords(m, rest[1:])
	} else {
		mk = strings.Trim(titleCase(first), junkChars)
		modelWords = rest[1:]
	}
	model = strings.Trim(strings.Join(modelWords, " "), junkChars)
	return year, mk, model
}

func applyMakeWords(m Make, words []string) []string {
	out := append([]string(nil), words...)
	if len(out) > 0 && containsFold(m.Consume, out[0]) {
		out = out[1:]
	}
	if len(m.Push) > 0 {
		out = append(append([]string(nil), m.Push...), out...)
	}
	return out
}

func containsFold(list []string, word string) bool {
	for _, w := range list {
		if strings.EqualFold(w, word) {
			return true
		}
	}
	return false
}

// titleCase upper-cases the first letter of every run of letters and
// lower-cases the rest ("MERCEDES-BENZ" -> "Mercedes-Benz").
func titleCase(s string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}

// PlausibleYear reports whether year is a number strictly above MinModelYear
// and no later than MaxModelYear.
func PlausibleYear(year string) bool {
	n := yearNumber(year)
	return n > MinModelYear && n <= MaxModelYear
}

// yearNumber parses a model year, returning 0 when it is not numeric.
func yearNumber(year string) int {
	n, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil {
		return 0
	}
	return n
}
