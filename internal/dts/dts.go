// Package dts substitutes dynamic text fields into operator-authored
// notification templates.
package dts

import (
	"fmt"
	"strings"
	"time"
)

// Replace substitutes <key> tokens in one template from a payload.
// Params: template text and string-keyed substitution payload.
// Returns: rendered text; unknown tokens stay verbatim and substituted
// values are never rescanned. Keys never span a `<`, so a literal `<`
// in template text cannot swallow a later real token.
func Replace(template string, payload map[string]string) string {
	var out strings.Builder
	out.Grow(len(template))
	rest := template
	for {
		open := strings.IndexByte(rest, '<')
		if open < 0 {
			out.WriteString(rest)
			return out.String()
		}
		out.WriteString(rest[:open])
		rest = rest[open:]
		stop := strings.IndexAny(rest[1:], "<>")
		if stop < 0 {
			out.WriteString(rest)
			return out.String()
		}
		stop++
		if rest[stop] == '<' {
			// Literal `<` text; the next `<` starts a fresh candidate.
			out.WriteString(rest[:stop])
			rest = rest[stop:]
			continue
		}
		key := rest[1:stop]
		if value, ok := payload[key]; ok {
			out.WriteString(value)
		} else {
			out.WriteString(rest[:stop+1])
		}
		rest = rest[stop+1:]
	}
}

// FormatDistance renders one distance in the manager's unit system.
// Params: distance in meters and imperial toggle.
// Returns: meters/kilometers text, or yards/miles when imperial.
func FormatDistance(meters float64, imperial bool) string {
	if imperial {
		yards := meters * 1.0936133
		if yards < 1760 {
			return fmt.Sprintf("%.0fyd", yards)
		}
		return fmt.Sprintf("%.1fmi", yards/1760)
	}
	if meters < 1000 {
		return fmt.Sprintf("%.0fm", meters)
	}
	return fmt.Sprintf("%.1fkm", meters/1000)
}

// FormatDuration renders one countdown as compact text.
// Params: remaining duration.
// Returns: "1h 02m 03s" style text, clamped at zero when already past.
func FormatDuration(remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	total := int64(remaining.Round(time.Second).Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %02dm %02ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %02ds", minutes, seconds)
}

// FormatClock12 renders one wall time as 12-hour text.
// Params: timestamp and display timezone.
// Returns: "03:04:05 PM" style text.
func FormatClock12(at time.Time, tz *time.Location) string {
	return at.In(tz).Format("03:04:05 PM")
}

// FormatClock24 renders one wall time as 24-hour text.
// Params: timestamp and display timezone.
// Returns: "15:04:05" style text.
func FormatClock24(at time.Time, tz *time.Location) string {
	return at.In(tz).Format("15:04:05")
}
