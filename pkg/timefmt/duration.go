package timefmt

import (
	"fmt"
	"strings"
)

// Options controls how FormatSeconds renders a duration
type Options struct {
	OnlyFirst bool // Stop after the largest non-zero period
	Round     bool // Round up to the largest non-zero period
}

type period struct {
	name    string
	seconds int64
}

var periods = []period{
	{"year", 60 * 60 * 24 * 365},
	{"month", 60 * 60 * 24 * 30},
	{"day", 60 * 60 * 24},
	{"hour", 60 * 60},
	{"minute", 60},
	{"second", 1},
}

// FormatSeconds renders a number of seconds as a human readable string.
//
//	FormatSeconds(61, Options{})            == "1 minute, 1 second"
//	FormatSeconds(61, Options{Round: true}) == "2 minutes"
func FormatSeconds(seconds int64, opts Options) string {
	if seconds < 0 {
		seconds = 0
	}

	parts := make([]string, 0, len(periods))

	for _, p := range periods {
		var value int64

		if opts.Round {
			value, seconds = seconds/p.seconds, seconds%p.seconds
			if value == 0 {
				continue
			}
			if seconds > 0 {
				value++
			}
			seconds = 0
		} else {
			if seconds < p.seconds {
				continue
			}
			value, seconds = seconds/p.seconds, seconds%p.seconds
		}

		suffix := ""
		if value > 1 {
			suffix = "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s%s", value, p.name, suffix))

		if opts.OnlyFirst || seconds == 0 {
			break
		}
	}

	if len(parts) == 0 {
		return "0 second"
	}

	return strings.Join(parts, ", ")
}
