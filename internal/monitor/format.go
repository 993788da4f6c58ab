package monitor

import (
	"fmt"
	"time"

	"github.com/samber/lo"
)

// FormatRemaining renders d as HH:MM:SS. Non-positive durations render as 00:00:00.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "00:00:00"
	}
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// Dispatched keeps only the events that crossed the threshold.
func Dispatched(events []ChangeEvent) []ChangeEvent {
	return lo.Filter(events, func(ev ChangeEvent, _ int) bool {
		return ev.Dispatch
	})
}
