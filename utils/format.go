package utils

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// FormatNumber renders v with thousands separators and the given decimals
func FormatNumber(v float64, decimals int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	pattern := "#,###."
	if decimals > 0 {
		pattern += strings.Repeat("#", decimals)
	}
	return humanize.FormatFloat(pattern, v)
}

// FormatCurrency renders v as a Brazilian real amount with two decimals
func FormatCurrency(v float64) string {
	return "R$ " + FormatNumber(v, 2)
}

// FormatPercent renders v (already in percent units) with one decimal
func FormatPercent(v float64) string {
	return FormatNumber(v, 1) + "%"
}

// FormatDelta renders a signed percentage change, e.g. "+12.5%"
func FormatDelta(pct float64) string {
	if pct > 0 {
		return "+" + FormatPercent(pct)
	}
	return FormatPercent(pct)
}

// FormatFileSize formats file size in human-readable format
func FormatFileSize(size int64) string {
	if size < 0 {
		return fmt.Sprintf("%d B", size)
	}
	return humanize.Bytes(uint64(size))
}
