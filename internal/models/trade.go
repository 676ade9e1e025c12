package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SharesPerContract is the number of underlying shares covered by one option contract.
const SharesPerContract = 100

var sharesPerContract = decimal.NewFromInt(SharesPerContract)

// TradeSide is the option written by a trade.
type TradeSide string

const (
	// SideSellPut is a cash-secured put
	SideSellPut TradeSide = "Sell Put"
	// SideSellCall is a covered call
	SideSellCall TradeSide = "Sell Call"
)

// Valid returns true if the TradeSide is one of the defined constants
func (s TradeSide) Valid() bool {
	switch s {
	case SideSellPut, SideSellCall:
		return true
	default:
		return false
	}
}

// ErrInvalidTrade is returned when trade fields fail validation.
var ErrInvalidTrade = errors.New("invalid trade")

// Trade is a single written option and its financial outcome.
type Trade struct {
	ID                 string              `json:"id"`
	Ticker             string              `json:"underlying_ticker"`
	Side               TradeSide           `json:"trade_type"`
	Status             TradeStatus         `json:"status"`
	RolledFromID       string              `json:"rolled_from_id,omitempty"`
	ExpirationDate     Date                `json:"expiration_date"`
	TransactionDate    Date                `json:"transaction_date"`
	BuyBackDate        Date                `json:"buy_back_date"`
	Strike             decimal.Decimal     `json:"strike_price"`
	PremiumReceived    decimal.Decimal     `json:"premium_received"`
	Fees               decimal.Decimal     `json:"fees"`
	ClosingFees        decimal.Decimal     `json:"closing_fees"`
	BuyBackPrice       decimal.NullDecimal `json:"buy_back_price"`
	NetPremiumReceived decimal.NullDecimal `json:"net_premium_received"`
	Contracts          int                 `json:"number_of_contracts"`
	Assigned           bool                `json:"assigned"`
}

// NewTrade creates an Open trade after validating its opening fields.
func NewTrade(ticker string, side TradeSide, strike decimal.Decimal, expiration Date,
	premium decimal.Decimal, contracts int, transactionDate Date, fees decimal.Decimal) (*Trade, error) {
	t := &Trade{
		Ticker:          strings.ToUpper(strings.TrimSpace(ticker)),
		Side:            side,
		Status:          StatusOpen,
		Strike:          strike,
		ExpirationDate:  expiration,
		PremiumReceived: premium,
		Contracts:       contracts,
		TransactionDate: transactionDate,
		Fees:            fees,
	}
	if err := t.ValidateState(); err != nil {
		return nil, err
	}
	return t, nil
}

// IsValidTicker reports whether s is an uppercase equity symbol of 1-5 letters.
func IsValidTicker(s string) bool {
	if len(s) == 0 || len(s) > 5 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Shares returns the number of underlying shares covered by the trade.
func (t *Trade) Shares() decimal.Decimal {
	return decimal.NewFromInt(int64(t.Contracts)).Mul(sharesPerContract)
}

// GrossPremium returns the total opening credit net of opening fees.
func (t *Trade) GrossPremium() decimal.Decimal {
	return t.PremiumReceived.Mul(t.Shares()).Sub(t.Fees)
}

// IsOpen returns true while the trade has not left Open.
func (t *Trade) IsOpen() bool {
	return t.Status == StatusOpen
}

// transition validates and applies a status change
func (t *Trade) transition(to TradeStatus, condition string) error {
	if err := ValidateTransition(t.Status, to, condition); err != nil {
		return fmt.Errorf("trade %s: %w", t.ID, err)
	}
	t.Status = to
	return nil
}

// Close records a buy-to-close.
// net = (premium - buyBack) * shares - fees - closingFees
func (t *Trade) Close(buyBack decimal.Decimal, date Date, closingFees decimal.Decimal) error {
	if buyBack.IsNegative() || closingFees.IsNegative() {
		return fmt.Errorf("%w: buy back price and closing fees must be >= 0", ErrInvalidTrade)
	}
	if err := t.transition(StatusClosed, ConditionBuyToClose); err != nil {
		return err
	}
	t.BuyBackPrice = decimal.NewNullDecimal(buyBack)
	t.BuyBackDate = date
	t.ClosingFees = closingFees
	t.NetPremiumReceived = decimal.NewNullDecimal(
		t.PremiumReceived.Sub(buyBack).Mul(t.Shares()).Sub(t.Fees).Sub(closingFees))
	return nil
}

// Expire records an option expiring worthless on its expiration date.
// net = premium * shares - fees
func (t *Trade) Expire() error {
	if err := t.transition(StatusExpired, ConditionExpired); err != nil {
		return err
	}
	t.BuyBackPrice = decimal.NewNullDecimal(decimal.Zero)
	t.BuyBackDate = t.ExpirationDate
	t.NetPremiumReceived = decimal.NewNullDecimal(t.GrossPremium())
	return nil
}

// Assign records exercise against the writer. A put's outcome is carried by the
// cost basis of the shares it delivered, so its net premium stays unset. A call
// has its shares called away at expiration, which is booked as a closure at a
// buy back of zero.
func (t *Trade) Assign() error {
	if err := t.transition(StatusAssigned, ConditionAssigned); err != nil {
		return err
	}
	t.Assigned = true
	if t.Side == SideSellCall {
		t.BuyBackPrice = decimal.NewNullDecimal(decimal.Zero)
		t.BuyBackDate = t.ExpirationDate
		t.NetPremiumReceived = decimal.NewNullDecimal(t.GrossPremium().Sub(t.ClosingFees))
	}
	return nil
}

// RollTerms describes the replacement leg of a roll.
type RollTerms struct {
	NewExpiration Date
	NewStrike     decimal.Decimal
	NewPremium    decimal.Decimal
	NewFees       decimal.Decimal
	ClosingFees   decimal.Decimal
	RollDate      Date
}

// Roll closes the trade as Rolled and returns its Open successor. The roll's
// economics are carried by the successor's premium, so the closed leg is
// booked at a buy back of zero: net = premium * shares - fees - closingFees.
// The successor keeps the predecessor's transaction date so the whole chain
// stays inside a cost basis window anchored on it. The receiver is left
// unchanged when the successor is invalid.
func (t *Trade) Roll(terms RollTerms) (*Trade, error) {
	if terms.ClosingFees.IsNegative() {
		return nil, fmt.Errorf("%w: closing fees must be >= 0", ErrInvalidTrade)
	}
	if err := ValidateTransition(t.Status, StatusRolled, ConditionRolled); err != nil {
		return nil, fmt.Errorf("trade %s: %w", t.ID, err)
	}
	successor, err := NewTrade(t.Ticker, t.Side, terms.NewStrike, terms.NewExpiration,
		terms.NewPremium, t.Contracts, t.TransactionDate, terms.NewFees)
	if err != nil {
		return nil, fmt.Errorf("rolling trade %s: %w", t.ID, err)
	}
	successor.RolledFromID = t.ID

	if err := t.transition(StatusRolled, ConditionRolled); err != nil {
		return nil, err
	}
	t.BuyBackPrice = decimal.NewNullDecimal(decimal.Zero)
	t.BuyBackDate = terms.RollDate
	t.ClosingFees = terms.ClosingFees
	t.NetPremiumReceived = decimal.NewNullDecimal(t.GrossPremium().Sub(terms.ClosingFees))
	return successor, nil
}

// IsCalledAway reports whether this is a covered call whose shares were
// delivered: closed or assigned at a buy back of zero.
func (t *Trade) IsCalledAway() bool {
	if t.Side != SideSellCall || !t.BuyBackPrice.Valid || !t.BuyBackPrice.Decimal.IsZero() {
		return false
	}
	return t.Status == StatusClosed || t.Status == StatusAssigned
}

// Copy returns a copy of the trade that shares no mutable state.
func (t *Trade) Copy() *Trade {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// ValidateState ensures the trade's fields are consistent with its status
func (t *Trade) ValidateState() error {
	if !IsValidTicker(t.Ticker) {
		return fmt.Errorf("%w: ticker %q must be 1-5 uppercase letters", ErrInvalidTrade, t.Ticker)
	}
	if !t.Side.Valid() {
		return fmt.Errorf("%w: unknown trade type %q", ErrInvalidTrade, t.Side)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTrade, t.Status)
	}
	if !t.Strike.IsPositive() {
		return fmt.Errorf("%w: strike must be positive (current: %s)", ErrInvalidTrade, t.Strike)
	}
	if t.Contracts <= 0 {
		return fmt.Errorf("%w: number of contracts must be > 0 (current: %d)", ErrInvalidTrade, t.Contracts)
	}
	if t.PremiumReceived.IsNegative() {
		return fmt.Errorf("%w: premium cannot be negative (current: %s)", ErrInvalidTrade, t.PremiumReceived)
	}
	if t.Fees.IsNegative() {
		return fmt.Errorf("%w: fees cannot be negative (current: %s)", ErrInvalidTrade, t.Fees)
	}
	if t.ExpirationDate.IsZero() || t.TransactionDate.IsZero() {
		return fmt.Errorf("%w: expiration and transaction dates are required", ErrInvalidTrade)
	}

	if t.Status == StatusOpen {
		if t.NetPremiumReceived.Valid {
			return fmt.Errorf("%w: trade %s in status %s: net premium must be unset", ErrInvalidTrade, t.ID, t.Status)
		}
		if t.BuyBackPrice.Valid || !t.BuyBackDate.IsZero() {
			return fmt.Errorf("%w: trade %s in status %s: buy back must be unset", ErrInvalidTrade, t.ID, t.Status)
		}
	}
	if t.RolledFromID != "" && t.RolledFromID == t.ID {
		return fmt.Errorf("%w: trade %s cannot be rolled from itself", ErrInvalidTrade, t.ID)
	}
	return nil
}

// StockSale records shares of a wheel being sold, either called away or liquidated.
type StockSale struct {
	ID     string          `json:"id"`
	Ticker string          `json:"ticker"`
	Date   Date            `json:"sell_date"`
	Price  decimal.Decimal `json:"sell_price"`
	Fees   decimal.Decimal `json:"fees"`
	Shares int             `json:"shares"`
}

// Proceeds returns price * shares - fees.
func (s *StockSale) Proceeds() decimal.Decimal {
	return s.Price.Mul(decimal.NewFromInt(int64(s.Shares))).Sub(s.Fees)
}
