package helpers

import (
	"fmt"
	"math"
)

// FormatPrice formats an amount with thousand separators and two decimals,
// e.g. FormatPrice(4250.5, "KES") == "KES 4,250.50".
func FormatPrice(amount float64, currency string) string {
	negative := amount < 0
	amount = math.Abs(amount)

	// Round once on cents so 999.999 does not print as "999.100"
	cents := int64(math.Round(amount * 100))
	whole := cents / 100
	frac := cents % 100

	str := fmt.Sprintf("%d", whole)
	length := len(str)

	var result string
	for i, digit := range str {
		if i > 0 && (length-i)%3 == 0 {
			result += ","
		}
		result += string(digit)
	}

	sign := ""
	if negative && cents != 0 {
		sign = "-"
	}
	if currency == "" {
		return fmt.Sprintf("%s%s.%02d", sign, result, frac)
	}
	return fmt.Sprintf("%s %s%s.%02d", currency, sign, result, frac)
}

// FormatDelta formats a signed change, always showing the sign.
func FormatDelta(delta float64, currency string) string {
	if delta >= 0 {
		return "+" + FormatPrice(delta, currency)
	}
	return FormatPrice(delta, currency)
}
