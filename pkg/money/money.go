// Package money converts between Brazilian-formatted strings and decimal amounts.
//
// The Brazilian format uses "." as the thousands separator and "," as the
// decimal separator ("1.234,56"). Values are never routed through float64.
package money

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Symbol is the currency prefix printed by FormatBRL.
const Symbol = "R$"

// ErrEmpty is returned when there is nothing to parse.
var ErrEmpty = errors.New("empty amount")

var brNumber = regexp.MustCompile(`^-?(\d{1,3}(\.\d{3})+|\d+)(,\d+)?$`)

// Parse converts a Brazilian-formatted number ("1.234,56", "0,384", "59") into a decimal.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrEmpty
	}
	if !brNumber.MatchString(s) {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}

	normalized := strings.ReplaceAll(s, ".", "")
	normalized = strings.Replace(normalized, ",", ".", 1)

	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// ParseInput converts a masked UI value ("R$ 1.234,56") into a decimal.
// This is the single place where a display string becomes an amount.
func ParseInput(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, Symbol)
	s = strings.ReplaceAll(s, " ", "")
	return Parse(s)
}

// IsCents reports whether d has no digits beyond the second decimal place.
// Trailing zeros do not count ("1,500" is whole cents).
func IsCents(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(2))
}

// Format renders d with two decimal places in Brazilian format ("1.234,56").
// Halves are rounded away from zero.
func Format(d decimal.Decimal) string {
	fixed := d.Round(2).StringFixed(2)

	negative := strings.HasPrefix(fixed, "-")
	fixed = strings.TrimPrefix(fixed, "-")

	intPart, fracPart, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if negative {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	b.WriteByte(',')
	b.WriteString(fracPart)
	return b.String()
}

// FormatBRL renders d with the currency symbol ("R$ 1.234,56").
func FormatBRL(d decimal.Decimal) string {
	return Symbol + " " + Format(d)
}

// Ptr parses s and returns a pointer to the result, or nil when s does not parse.
// Used by best-effort extractors where a missing value is not an error.
func Ptr(s string) *decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		return nil
	}
	return &d
}
