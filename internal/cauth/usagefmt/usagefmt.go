// Package usagefmt renders usage-limit windows and token TTLs into the
// fixed "<percent>% (<reset>)" / "<duration>" text every printed cauth
// surface shares, grounded on original_source/main.rs's
// format_usage_window/format_duration helpers.
package usagefmt

import (
	"fmt"
	"time"
)

// Window is one usage-limit window: percent used (nil when unknown) and
// the time it resets (nil when unknown).
type Window struct {
	Percent *int
	ResetAt *time.Time
}

// Summary is the pair of rolling usage windows Claude reports: a 5-hour
// window and a 7-day window.
type Summary struct {
	FiveHour Window
	SevenDay Window
}

// FormatWindow renders "<percent>% (<reset>)", substituting "--" for
// either half that is unknown.
func FormatWindow(w Window) string {
	percentText := "--"
	if w.Percent != nil {
		percentText = fmt.Sprintf("%d%%", *w.Percent)
	}
	resetText := "--"
	if w.ResetAt != nil {
		resetText = FormatRemaining(*w.ResetAt)
	}
	return fmt.Sprintf("%s (%s)", percentText, resetText)
}

// FormatRemaining renders the time remaining until at, or "expired" once
// it has passed.
func FormatRemaining(at time.Time) string {
	remaining := time.Until(at)
	if remaining <= 0 {
		return "expired"
	}
	return FormatDuration(remaining)
}

// FormatDuration renders d as "<days>d <hours>h <minutes>m", dropping the
// days component when it is zero.
func FormatDuration(d time.Duration) string {
	seconds := int64(d.Seconds())
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
