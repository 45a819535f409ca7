package campaign

import (
	"fmt"
	"time"
)

// EstimateDuration is total times the mean interval.
func EstimateDuration(total, minSeconds, maxSeconds int) time.Duration {
	if total <= 0 {
		return 0
	}
	ms := int64(total) * int64(minSeconds+maxSeconds) * 1000 / 2
	return time.Duration(ms) * time.Millisecond
}

// FormatEstimate renders d as "1h 5m", "12m" or "less than 1m".
func FormatEstimate(d time.Duration) string {
	if d < time.Minute {
		return "less than 1m"
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
