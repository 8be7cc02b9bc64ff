package utils

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// ConvertBytesToHumanReadable formats a byte count using binary units (e.g. "4.0 MiB")
func ConvertBytesToHumanReadable(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// FormatSpeed formats bytes per second
func FormatSpeed(bps float64) string {
	if bps <= 0 {
		return "0 B/s"
	}
	return ConvertBytesToHumanReadable(int64(bps)) + "/s"
}

// FormatDuration rounds d for display
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}
