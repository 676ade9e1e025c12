// Package util provides common helpers for broker money amounts.
package util

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when a broker money field cannot be parsed.
var ErrInvalidAmount = errors.New("invalid amount")

// ParseMoney parses a broker money field such as "$1,234.56", "-$0.66" or "($12.00)".
// Empty fields parse as zero.
func ParseMoney(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = strings.TrimPrefix(s, "-")
	}
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = strings.TrimPrefix(s, "-")
	}

	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if negative {
		v = v.Neg()
	}
	return v, nil
}

// RoundCents rounds a money amount to whole cents.
func RoundCents(x decimal.Decimal) decimal.Decimal {
	return x.Round(2)
}
