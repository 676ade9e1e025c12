// Package wheel runs trade lifecycle commands and derives wheel cost basis and P&L.
package wheel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/eddiefleurent/wheel_tracker/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrInvalidRequest is returned when a command's fields fail validation.
var ErrInvalidRequest = errors.New("invalid request")

// OpenRequest opens a new short option.
type OpenRequest struct {
	Ticker          string           `json:"underlying_ticker"`
	Side            models.TradeSide `json:"trade_type"`
	Strike          decimal.Decimal  `json:"strike_price"`
	Expiration      models.Date      `json:"expiration_date"`
	Premium         decimal.Decimal  `json:"premium_received"`
	Contracts       int              `json:"number_of_contracts"`
	TransactionDate models.Date      `json:"transaction_date"`
	Fees            decimal.Decimal  `json:"fees"`
}

// CloseRequest buys an option back.
type CloseRequest struct {
	BuyBackPrice decimal.Decimal `json:"buy_back_price"`
	BuyBackDate  models.Date     `json:"buy_back_date"`
	ClosingFees  decimal.Decimal `json:"closing_fees"`
}

// RollRequest closes an option and opens its replacement.
type RollRequest struct {
	NewExpiration models.Date     `json:"new_expiration_date"`
	NewStrike     decimal.Decimal `json:"strike_price"`
	NewPremium    decimal.Decimal `json:"premium_received"`
	NewFees       decimal.Decimal `json:"fees"`
	ClosingFees   decimal.Decimal `json:"closing_fees"`
	RollDate      models.Date     `json:"roll_date"`
}

// StockSaleRequest records shares being sold. Zero shares means the
// shares delivered by the ticker's wheel anchor.
type StockSaleRequest struct {
	Ticker string          `json:"ticker"`
	Price  decimal.Decimal `json:"sell_price"`
	Date   models.Date     `json:"sell_date"`
	Fees   decimal.Decimal `json:"fees"`
	Shares int             `json:"shares"`
}

// ListOptions pages and filters Trades. A zero Limit returns everything.
type ListOptions struct {
	Ticker string
	Status models.TradeStatus
	Skip   int
	Limit  int
}

// Engine executes lifecycle commands against a trade store.
type Engine struct {
	store  storage.Interface
	logger *logrus.Logger
	runMu  sync.Mutex
}

// NewEngine creates an engine over store
func NewEngine(store storage.Interface, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{store: store, logger: logger}
}

// Store returns the engine's trade store
func (e *Engine) Store() storage.Interface {
	return e.store
}

// Exclusive runs fn while holding the engine's run lock. Reconciliation runs
// and other bulk writers use it so they never interleave.
func (e *Engine) Exclusive(fn func() error) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return fn()
}

// Open creates a new Open trade.
func (e *Engine) Open(ctx context.Context, req OpenRequest) (*models.Trade, error) {
	trade, err := models.NewTrade(req.Ticker, req.Side, req.Strike, req.Expiration,
		req.Premium, req.Contracts, req.TransactionDate, req.Fees)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if _, err := e.store.CreateTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("creating trade: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"trade_id":   trade.ID,
		"ticker":     trade.Ticker,
		"side":       trade.Side,
		"strike":     trade.Strike.String(),
		"expiration": trade.ExpirationDate.String(),
	}).Debug("Opened trade")
	return trade, nil
}

// Close records a buy-to-close of an Open trade.
func (e *Engine) Close(ctx context.Context, id string, req CloseRequest) (*models.Trade, error) {
	if req.BuyBackDate.IsZero() {
		return nil, fmt.Errorf("%w: buy_back_date is required", ErrInvalidRequest)
	}
	if req.BuyBackPrice.IsNegative() || req.ClosingFees.IsNegative() {
		return nil, fmt.Errorf("%w: buy_back_price and closing_fees must be >= 0", ErrInvalidRequest)
	}
	return e.transition(ctx, id, "close", func(t *models.Trade) error {
		return t.Close(req.BuyBackPrice, req.BuyBackDate, req.ClosingFees)
	})
}

// Expire records an Open trade expiring worthless.
func (e *Engine) Expire(ctx context.Context, id string) (*models.Trade, error) {
	return e.transition(ctx, id, "expire", (*models.Trade).Expire)
}

// Assign records an Open trade being exercised.
func (e *Engine) Assign(ctx context.Context, id string) (*models.Trade, error) {
	return e.transition(ctx, id, "assign", (*models.Trade).Assign)
}

func (e *Engine) transition(ctx context.Context, id, action string, apply func(*models.Trade) error) (*models.Trade, error) {
	trade, err := e.store.GetTrade(ctx, id)
	if err != nil {
		return nil, err
	}
	from := trade.Status
	if err := apply(trade); err != nil {
		return nil, err
	}
	if err := e.store.UpdateTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("saving %s of trade %s: %w", action, id, err)
	}

	e.logger.WithFields(logrus.Fields{
		"trade_id": id,
		"ticker":   trade.Ticker,
		"from":     from,
		"to":       trade.Status,
	}).Debug(models.DescribeTransition(from, trade.Status))
	return trade, nil
}

// Roll closes an Open trade as Rolled and returns its new Open successor.
func (e *Engine) Roll(ctx context.Context, id string, req RollRequest) (*models.Trade, error) {
	if req.RollDate.IsZero() {
		return nil, fmt.Errorf("%w: roll_date is required", ErrInvalidRequest)
	}
	if req.NewFees.IsNegative() || req.ClosingFees.IsNegative() {
		return nil, fmt.Errorf("%w: fees must be >= 0", ErrInvalidRequest)
	}

	trade, err := e.store.GetTrade(ctx, id)
	if err != nil {
		return nil, err
	}
	successor, err := trade.Roll(models.RollTerms{
		NewExpiration: req.NewExpiration,
		NewStrike:     req.NewStrike,
		NewPremium:    req.NewPremium,
		NewFees:       req.NewFees,
		ClosingFees:   req.ClosingFees,
		RollDate:      req.RollDate,
	})
	if errors.Is(err, models.ErrInvalidTrade) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err != nil {
		return nil, err
	}
	if _, err := e.store.SaveRoll(ctx, trade, successor); err != nil {
		return nil, fmt.Errorf("saving roll of trade %s: %w", id, err)
	}

	e.logger.WithFields(logrus.Fields{
		"trade_id":     id,
		"successor_id": successor.ID,
		"ticker":       trade.Ticker,
		"new_strike":   successor.Strike.String(),
		"new_exp":      successor.ExpirationDate.String(),
	}).Debug("Rolled trade")
	return successor, nil
}

// SellStock records a sale of a ticker's shares.
func (e *Engine) SellStock(ctx context.Context, req StockSaleRequest) (*models.StockSale, error) {
	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	switch {
	case !models.IsValidTicker(ticker):
		return nil, fmt.Errorf("%w: ticker %q must be 1-5 letters", ErrInvalidRequest, req.Ticker)
	case req.Date.IsZero():
		return nil, fmt.Errorf("%w: sell_date is required", ErrInvalidRequest)
	case !req.Price.IsPositive():
		return nil, fmt.Errorf("%w: sell_price must be positive", ErrInvalidRequest)
	case req.Fees.IsNegative():
		return nil, fmt.Errorf("%w: fees must be >= 0", ErrInvalidRequest)
	case req.Shares < 0:
		return nil, fmt.Errorf("%w: shares must be >= 0", ErrInvalidRequest)
	}

	shares := req.Shares
	if shares == 0 {
		shares = models.SharesPerContract
		trades, err := e.store.TradesForTicker(ctx, ticker)
		if err != nil {
			return nil, err
		}
		if anchor, ok := FindAnchor(trades); ok {
			shares = int(anchor.Shares().IntPart())
		}
	}

	sale := &models.StockSale{
		Ticker: ticker,
		Date:   req.Date,
		Price:  req.Price,
		Fees:   req.Fees,
		Shares: shares,
	}
	if _, err := e.store.AddStockSale(ctx, sale); err != nil {
		return nil, fmt.Errorf("recording stock sale: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"sale_id": sale.ID,
		"ticker":  ticker,
		"price":   sale.Price.String(),
		"shares":  shares,
	}).Debug("Recorded stock sale")
	return sale, nil
}

// Trade returns one trade by ID
func (e *Engine) Trade(ctx context.Context, id string) (*models.Trade, error) {
	return e.store.GetTrade(ctx, id)
}

// Trades lists trades in creation order, filtered and paged by opts.
func (e *Engine) Trades(ctx context.Context, opts ListOptions) ([]*models.Trade, error) {
	var (
		trades []*models.Trade
		err    error
	)
	if opts.Ticker != "" {
		trades, err = e.store.TradesForTicker(ctx, strings.ToUpper(opts.Ticker))
	} else {
		trades, err = e.store.ListTrades(ctx)
	}
	if err != nil {
		return nil, err
	}

	if opts.Status != "" {
		filtered := trades[:0]
		for _, t := range trades {
			if t.Status == opts.Status {
				filtered = append(filtered, t)
			}
		}
		trades = filtered
	}

	if opts.Skip > 0 {
		if opts.Skip >= len(trades) {
			return []*models.Trade{}, nil
		}
		trades = trades[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < len(trades) {
		trades = trades[:opts.Limit]
	}
	return trades, nil
}

// CostBasis returns the ticker's current cost basis or ErrMissingAnchor.
func (e *Engine) CostBasis(ctx context.Context, ticker string) (*CostBasis, error) {
	ticker = strings.ToUpper(ticker)
	trades, err := e.store.TradesForTicker(ctx, ticker)
	if err != nil {
		return nil, err
	}
	return ComputeCostBasis(ticker, trades)
}

// CumulativePnL returns the realized result of the ticker's current wheel.
func (e *Engine) CumulativePnL(ctx context.Context, ticker string) (*CumulativePnL, error) {
	ticker = strings.ToUpper(ticker)
	trades, err := e.store.TradesForTicker(ctx, ticker)
	if err != nil {
		return nil, err
	}
	sales, err := e.store.StockSales(ctx, ticker)
	if err != nil {
		return nil, err
	}
	return ComputeCumulativePnL(ticker, trades, sales), nil
}

// DashboardSummary aggregates premium, P&L and win rate across all trades.
func (e *Engine) DashboardSummary(ctx context.Context) (*Summary, error) {
	trades, err := e.store.ListTrades(ctx)
	if err != nil {
		return nil, err
	}
	return Summarize(trades), nil
}
