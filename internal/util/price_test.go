package util

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
		wantErr  bool
	}{
		{name: "plain", in: "5.00", expected: "5"},
		{name: "dollar sign", in: "$1.25", expected: "1.25"},
		{name: "thousands separator", in: "$1,234.56", expected: "1234.56"},
		{name: "negative before dollar", in: "-$0.66", expected: "-0.66"},
		{name: "negative after dollar", in: "$-0.66", expected: "-0.66"},
		{name: "parenthesized", in: "($12.00)", expected: "-12"},
		{name: "empty is zero", in: "", expected: "0"},
		{name: "whitespace is zero", in: "   ", expected: "0"},
		{name: "garbage", in: "N/A", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMoney(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Fatalf("Expected ErrInvalidAmount, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("ParseMoney(%q) = %s, want %s", tt.in, got, tt.expected)
			}
		})
	}
}

func TestRoundCents(t *testing.T) {
	got := RoundCents(decimal.RequireFromString("849.175"))
	if !got.Equal(decimal.RequireFromString("849.18")) {
		t.Errorf("RoundCents = %s, want 849.18", got)
	}
}
