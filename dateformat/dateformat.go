// Package dateformat renders post dates for display.
package dateformat

import (
	"fmt"
	"strings"
	"time"
)

// Invalid is returned for dates that cannot be parsed.
const Invalid = "Invalid date"

// Manila is the display time zone. The Philippines does not observe daylight saving.
var Manila = time.FixedZone("PHT", 8*60*60)

var layouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700", // Graph API created_time
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Parse reads an ISO-8601 timestamp in any of the forms the site stores.
func Parse(iso string) (time.Time, error) {
	iso = strings.TrimSpace(iso)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, iso); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", iso)
}

// Long formats a date as "January 20, 2026".
func Long(iso string) string {
	t, err := Parse(iso)
	if err != nil {
		return Invalid
	}
	return t.In(Manila).Format("January 2, 2006")
}

// Short formats a date as "Jan 20, 2026".
func Short(iso string) string {
	t, err := Parse(iso)
	if err != nil {
		return Invalid
	}
	return t.In(Manila).Format("Jan 2, 2006")
}

// Relative describes how long before now the date was, in whole days:
// "Today", "Yesterday", "3 days ago", "2 weeks ago", "5 months ago", "1 year ago".
// Future dates read as "Today".
func Relative(iso string, now time.Time) string {
	t, err := Parse(iso)
	if err != nil {
		return Invalid
	}

	days := int(now.Sub(t).Hours() / 24)
	switch {
	case days <= 0:
		return "Today"
	case days == 1:
		return "Yesterday"
	case days < 7:
		return fmt.Sprintf("%d days ago", days)
	case days < 30:
		return plural(days/7, "week")
	case days < 365:
		return plural(days/30, "month")
	default:
		return plural(days/365, "year")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
