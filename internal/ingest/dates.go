package ingest

import (
	"strconv"
	"strings"
	"time"

	dps "github.com/markusmobius/go-dateparser"
)

// parsePostingTime reads a feed timestamp. Feeds send unix seconds (as a
// number or a numeric string) or, from some scraped sources, free-form
// dates such as "Expires 3/14/2026" or "in 2 weeks".
func parsePostingTime(raw FlexString, now time.Time) (time.Time, bool) {
	s := strings.TrimSpace(raw.String())
	if s == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs <= 0 {
			return time.Time{}, false
		}
		return time.Unix(int64(secs), 0).UTC(), true
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "Expires"), "expires")
	dt, err := dps.Parse(&dps.Configuration{CurrentTime: now}, strings.TrimSpace(s))
	if err != nil || dt.Time.IsZero() {
		return time.Time{}, false
	}
	return dt.Time, true
}
