/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"time"
)

const spunAtLayout = "2006-01-02 15:04:05"

// humanReadableSize formats a byte count with SI units.
func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "kMGTPE"[exp])
}

// spunAt renders a history timestamp in local time.
func spunAt(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(spunAtLayout)
}
