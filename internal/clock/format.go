package clock

import (
	"fmt"
	"time"
)

// ShortLayout is the compact date-time layout used on note cards.
const ShortLayout = "01/02/06 15:04"

// FormatShort renders t in loc (time.Local when nil) using ShortLayout.
func FormatShort(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(ShortLayout)
}

// FormatRelative renders t relative to now at minute resolution, e.g.
// "just now", "5 minutes ago", "in 2 hours", "yesterday". Beyond a week it
// falls back to FormatShort in now's location.
func FormatRelative(t, now time.Time) string {
	d := now.Sub(t)
	future := d < 0
	if future {
		d = -d
	}

	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return relative(int(d/time.Minute), "minute", future)
	case d < 24*time.Hour:
		return relative(int(d/time.Hour), "hour", future)
	case d < 48*time.Hour:
		if future {
			return "tomorrow"
		}
		return "yesterday"
	case d < 7*24*time.Hour:
		return relative(int(d/(24*time.Hour)), "day", future)
	default:
		return FormatShort(t, now.Location())
	}
}

func relative(n int, unit string, future bool) string {
	if n != 1 {
		unit += "s"
	}
	if future {
		return fmt.Sprintf("in %d %s", n, unit)
	}
	return fmt.Sprintf("%d %s ago", n, unit)
}
