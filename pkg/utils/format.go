// Package utils provides small helpers shared by the arvscout packages:
// address normalization, quota period arithmetic and number formatting.
package utils

import (
	"fmt"
	"math"
	"strings"
)

// FormatUSD formats an amount as US dollars with thousands separators,
// e.g. 308333.333 → "$308,333.33".
func FormatUSD(amount float64) string {
	negative := amount < 0
	cents := int64(math.Round(math.Abs(amount) * 100))

	formatted := groupThousands(cents/100) + fmt.Sprintf(".%02d", cents%100)
	if negative && cents != 0 {
		return "-$" + formatted
	}
	return "$" + formatted
}

// FormatUSDCompact formats an amount in compact notation,
// e.g. 1250000 → "$1.25M", 375000 → "$375K".
func FormatUSDCompact(amount float64) string {
	prefix := "$"
	if amount < 0 {
		prefix = "-$"
		amount = math.Abs(amount)
	}

	switch {
	case amount >= 1e9:
		return prefix + trimDecimals(amount/1e9) + "B"
	case amount >= 1e6:
		return prefix + trimDecimals(amount/1e6) + "M"
	case amount >= 1e3:
		return prefix + trimDecimals(amount/1e3) + "K"
	default:
		return fmt.Sprintf("%s%.2f", prefix, amount)
	}
}

// FormatPct formats a ratio as a signed percentage, e.g. 0.0245 → "+2.45%".
func FormatPct(ratio float64) string {
	pct := ratio * 100
	if pct >= 0 {
		return fmt.Sprintf("+%.2f%%", pct)
	}
	return fmt.Sprintf("%.2f%%", pct)
}

// groupThousands formats a non-negative integer with comma grouping.
func groupThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// trimDecimals formats with up to 2 decimals, removing trailing zeros.
func trimDecimals(n float64) string {
	s := fmt.Sprintf("%.2f", n)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
