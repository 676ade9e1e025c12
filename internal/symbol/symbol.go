// Package symbol extracts option contracts from broker symbol and description text.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/shopspring/decimal"
)

// ErrUnparseable is returned when text matches no known option format.
var ErrUnparseable = errors.New("unparseable option identifier")

// Contract identifies a single option series.
type Contract struct {
	Ticker     string
	Strike     decimal.Decimal
	Expiration models.Date
	Side       models.TradeSide
}

// String renders the contract in broker symbol form, e.g. "CRWV 2025-11-07 143 C".
func (c Contract) String() string {
	right := "P"
	if c.Side == models.SideSellCall {
		right = "C"
	}
	return fmt.Sprintf("%s %s %s %s", c.Ticker, c.Expiration, c.Strike, right)
}

// Symbol format: TICKER mm/dd/yyyy STRIKE C|P, e.g. "CRWV 11/07/2025 143.00 C"
var symbolPattern = regexp.MustCompile(`\b([A-Z]{1,5})\s+(\d{1,2}/\d{1,2}/\d{4})\s+(\d+(?:\.\d+)?)\s+([CP])\b`)

// Description format: PUT|CALL NAME $STRIKE EXP mm/dd/yy, e.g. "PUT TESLA INC $250 EXP 01/17/25"
var descriptionPattern = regexp.MustCompile(`\b(PUT|CALL)\s+(.+?)\s+\$?(\d+(?:\.\d+)?)\s+EXP\s+(\d{1,2}/\d{1,2}/\d{2})\b`)

// ParseOptionSymbol parses the symbol format.
func ParseOptionSymbol(s string) (Contract, error) {
	m := symbolPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Contract{}, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}

	exp, err := time.Parse("1/2/2006", m[2])
	if err != nil {
		return Contract{}, fmt.Errorf("%w: bad expiration in %q: %v", ErrUnparseable, s, err)
	}
	strike, err := decimal.NewFromString(m[3])
	if err != nil || !strike.IsPositive() {
		return Contract{}, fmt.Errorf("%w: bad strike in %q", ErrUnparseable, s)
	}

	side := models.SideSellPut
	if m[4] == "C" {
		side = models.SideSellCall
	}
	return Contract{
		Ticker:     m[1],
		Strike:     strike,
		Expiration: models.DateOf(exp),
		Side:       side,
	}, nil
}

// ParseDescription parses the description format, resolving the ticker against vocab.
func ParseDescription(s string, vocab *Vocabulary) (Contract, error) {
	m := descriptionPattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil {
		return Contract{}, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}

	ticker, ok := vocab.Resolve(m[2])
	if !ok {
		return Contract{}, fmt.Errorf("%w: no ticker found in %q", ErrUnparseable, m[2])
	}
	exp, err := time.Parse("1/2/06", m[4])
	if err != nil {
		return Contract{}, fmt.Errorf("%w: bad expiration in %q: %v", ErrUnparseable, s, err)
	}
	strike, err := decimal.NewFromString(m[3])
	if err != nil || !strike.IsPositive() {
		return Contract{}, fmt.Errorf("%w: bad strike in %q", ErrUnparseable, s)
	}

	side := models.SideSellPut
	if m[1] == "CALL" {
		side = models.SideSellCall
	}
	return Contract{
		Ticker:     ticker,
		Strike:     strike,
		Expiration: models.DateOf(exp),
		Side:       side,
	}, nil
}

// Parser tries every known format against a transaction's symbol and description fields.
type Parser struct {
	vocab *Vocabulary
}

// NewParser creates a parser bound to a pre-scanned vocabulary
func NewParser(vocab *Vocabulary) *Parser {
	if vocab == nil {
		vocab = NewVocabulary()
	}
	return &Parser{vocab: vocab}
}

// Vocabulary returns the parser's ticker vocabulary
func (p *Parser) Vocabulary() *Vocabulary {
	return p.vocab
}

// Parse returns the first contract found: symbol format in the symbol field,
// then description format in the description, then description format in the symbol field.
func (p *Parser) Parse(symbolField, description string) (Contract, error) {
	if c, err := ParseOptionSymbol(symbolField); err == nil {
		return c, nil
	}
	if c, err := ParseDescription(description, p.vocab); err == nil {
		return c, nil
	}
	if c, err := ParseDescription(symbolField, p.vocab); err == nil {
		return c, nil
	}
	return Contract{}, fmt.Errorf("%w: symbol %q, description %q", ErrUnparseable, symbolField, description)
}
