// Package format renders byte counts, transfer speeds, and durations as the
// short human-readable strings the CLI and event log print.
package format

import (
	"fmt"
	"time"
)

// Size renders a byte count as e.g. "3.0 MB", matching the decimal (1000-based)
// convention used throughout the transfer summaries.
func Size(bytes int64) string {
	const unit = 1000.0
	b := float64(bytes)
	if b < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	units := []string{"KB", "MB", "GB", "TB"}
	div, exp := unit, 0
	for n := b / unit; n >= unit && exp < len(units)-1; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %s", b/div, units[exp])
}

// Speed renders a bytes/sec rate as e.g. "1.2 MB/s".
func Speed(bytesPerSec float64) string {
	return Size(int64(bytesPerSec)) + "/s"
}

// ETA renders the estimated remaining duration given bytes left and a speed.
func ETA(bytesRemaining int64, bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "unknown"
	}
	remaining := time.Duration(float64(bytesRemaining)/bytesPerSec) * time.Second
	return remaining.Round(time.Second).String()
}
