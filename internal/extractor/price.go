package extractor

import (
	"strings"

	"github.com/kennygrant/sanitize"
	"github.com/shopspring/decimal"
)

// ParsePrice reads a price out of scraped text. Source sites mix currency
// symbols, thousands separators, and decimal commas; everything but the
// numeric value is discarded. Returns nil when no number is present.
func ParsePrice(raw string) *decimal.Decimal {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return nil
	}

	var b strings.Builder
	for _, r := range cleaned {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == ',':
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		return nil
	}

	// A trailing comma with at most two digits after it is a decimal comma;
	// every other comma is a thousands separator.
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	if lastComma > lastDot && len(s)-lastComma-1 <= 2 {
		intPart := strings.ReplaceAll(s[:lastComma], ".", "")
		intPart = strings.ReplaceAll(intPart, ",", "")
		s = intPart + "." + s[lastComma+1:]
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

// Discount computes round(100 * (1 - sale/original), 2). Returns nil when
// the pair does not describe a real markdown.
func Discount(sale, original decimal.Decimal) *decimal.Decimal {
	if original.IsZero() || original.IsNegative() || sale.GreaterThanOrEqual(original) {
		return nil
	}
	one := decimal.NewFromInt(1)
	hundred := decimal.NewFromInt(100)
	d := hundred.Mul(one.Sub(sale.DivRound(original, 8))).Round(2)
	return &d
}

// Slugify derives a URL-safe slug from a label such as a colour name.
func Slugify(label string) string {
	return strings.ToLower(strings.Trim(sanitize.BaseName(strings.TrimSpace(label)), "-"))
}
