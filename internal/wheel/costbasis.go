package wheel

import (
	"errors"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/shopspring/decimal"
)

// ErrMissingAnchor is returned when a ticker has no assigned put to anchor its wheel.
var ErrMissingAnchor = errors.New("no assigned put anchors this wheel")

// CostBasis is the running cost basis of shares acquired through a put assignment.
type CostBasis struct {
	Ticker                 string          `json:"ticker"`
	AnchorTradeID          string          `json:"anchor_trade_id"`
	WindowStart            models.Date     `json:"window_start"`
	OriginalCostBasis      decimal.Decimal `json:"original_cost_basis"`
	CumulativePremium      decimal.Decimal `json:"cumulative_premium"`
	CumulativeFeesPerShare decimal.Decimal `json:"cumulative_fees_per_share"`
	AdjustedCostBasis      decimal.Decimal `json:"adjusted_cost_basis"`
}

// CumulativePnL is the realized result of a whole wheel cycle.
type CumulativePnL struct {
	Ticker        string          `json:"ticker"`
	CumulativePnL decimal.Decimal `json:"cumulative_pnl"`
	OptionPnL     decimal.Decimal `json:"option_pnl"`
	StockPnL      decimal.Decimal `json:"stock_pnl"`
	// CalledAwayTradeID is the covered call whose assignment ended the wheel, if any.
	CalledAwayTradeID string `json:"called_away_trade_id,omitempty"`
	// StockSaleID is the share sale that ended the wheel when no call was assigned.
	StockSaleID string `json:"stock_sale_id,omitempty"`
}

// FindAnchor returns the most recent assigned put among trades. Trades must
// be in creation order; on equal transaction dates the later one wins.
func FindAnchor(trades []*models.Trade) (*models.Trade, bool) {
	var anchor *models.Trade
	for _, t := range trades {
		if t.Side != models.SideSellPut || t.Status != models.StatusAssigned {
			continue
		}
		if anchor == nil || !t.TransactionDate.Before(anchor.TransactionDate) {
			anchor = t
		}
	}
	return anchor, anchor != nil
}

// wheelWindow returns the trades opened on or after the anchor's transaction date.
func wheelWindow(trades []*models.Trade, anchor *models.Trade) []*models.Trade {
	out := make([]*models.Trade, 0, len(trades))
	for _, t := range trades {
		if !t.TransactionDate.Before(anchor.TransactionDate) {
			out = append(out, t)
		}
	}
	return out
}

// ComputeCostBasis derives the adjusted cost basis of a ticker's current wheel.
//
//	adjusted = anchor strike - Σ premium + Σ(fees + closing fees) / Σ shares
func ComputeCostBasis(ticker string, trades []*models.Trade) (*CostBasis, error) {
	anchor, ok := FindAnchor(trades)
	if !ok {
		return nil, ErrMissingAnchor
	}
	return costBasisFrom(ticker, anchor, wheelWindow(trades, anchor)), nil
}

func costBasisFrom(ticker string, anchor *models.Trade, window []*models.Trade) *CostBasis {
	premium := decimal.Zero
	fees := decimal.Zero
	shares := decimal.Zero
	for _, t := range window {
		premium = premium.Add(t.PremiumReceived)
		fees = fees.Add(t.Fees).Add(t.ClosingFees)
		shares = shares.Add(t.Shares())
	}

	feesPerShare := decimal.Zero
	if shares.IsPositive() {
		feesPerShare = fees.Div(shares)
	}

	return &CostBasis{
		Ticker:                 ticker,
		AnchorTradeID:          anchor.ID,
		WindowStart:            anchor.TransactionDate,
		OriginalCostBasis:      anchor.Strike,
		CumulativePremium:      premium,
		CumulativeFeesPerShare: feesPerShare,
		AdjustedCostBasis:      anchor.Strike.Sub(premium).Add(feesPerShare),
	}
}

// ComputeCumulativePnL sums the realized option results of a ticker's wheel
// plus the stock result when the shares have left. Shares leave through the
// earliest called-away covered call in the window, or failing that the
// earliest stock sale dated on or after the anchor. A ticker without an
// anchor has zero cumulative P&L.
func ComputeCumulativePnL(ticker string, trades []*models.Trade, sales []*models.StockSale) *CumulativePnL {
	result := &CumulativePnL{
		Ticker:        ticker,
		CumulativePnL: decimal.Zero,
		OptionPnL:     decimal.Zero,
		StockPnL:      decimal.Zero,
	}

	anchor, ok := FindAnchor(trades)
	if !ok {
		return result
	}
	window := wheelWindow(trades, anchor)
	basis := costBasisFrom(ticker, anchor, window)

	var calledAway *models.Trade
	for _, t := range window {
		if t.NetPremiumReceived.Valid {
			result.OptionPnL = result.OptionPnL.Add(t.NetPremiumReceived.Decimal)
		}
		if t.IsCalledAway() && (calledAway == nil || t.TransactionDate.Before(calledAway.TransactionDate)) {
			calledAway = t
		}
	}

	switch {
	case calledAway != nil:
		result.CalledAwayTradeID = calledAway.ID
		result.StockPnL = calledAway.Strike.Sub(basis.AdjustedCostBasis).Mul(calledAway.Shares())
	default:
		if sale := firstSaleSince(sales, anchor.TransactionDate); sale != nil {
			result.StockSaleID = sale.ID
			result.StockPnL = sale.Price.Sub(basis.AdjustedCostBasis).
				Mul(decimal.NewFromInt(int64(sale.Shares))).Sub(sale.Fees)
		}
	}

	result.CumulativePnL = result.OptionPnL.Add(result.StockPnL)
	return result
}

func firstSaleSince(sales []*models.StockSale, since models.Date) *models.StockSale {
	var first *models.StockSale
	for _, s := range sales {
		if s.Date.Before(since) {
			continue
		}
		if first == nil || s.Date.Before(first.Date) {
			first = s
		}
	}
	return first
}

// Summary aggregates results across every trade. WinRate is a percentage.
type Summary struct {
	TotalPremiumCollected decimal.Decimal `json:"total_premium_collected"`
	TotalPnL              decimal.Decimal `json:"total_pnl"`
	WinRate               float64         `json:"win_rate"`
	ClosedTrades          int             `json:"closed_trades"`
	WinningTrades         int             `json:"winning_trades"`
	LosingTrades          int             `json:"losing_trades"`
	AverageWin            decimal.Decimal `json:"average_win"`
	AverageLoss           decimal.Decimal `json:"average_loss"`
	OpenTrades            int             `json:"open_trades"`
	TotalTrades           int             `json:"total_trades"`
}

// Summarize computes the dashboard aggregates. Premium collected counts every
// trade; P&L and win rate count Closed and Rolled trades.
func Summarize(trades []*models.Trade) *Summary {
	s := &Summary{
		TotalPremiumCollected: decimal.Zero,
		TotalPnL:              decimal.Zero,
		AverageWin:            decimal.Zero,
		AverageLoss:           decimal.Zero,
		TotalTrades:           len(trades),
	}

	wins := decimal.Zero
	losses := decimal.Zero
	for _, t := range trades {
		s.TotalPremiumCollected = s.TotalPremiumCollected.Add(t.GrossPremium())
		if t.IsOpen() {
			s.OpenTrades++
		}
		if t.Status != models.StatusClosed && t.Status != models.StatusRolled {
			continue
		}

		s.ClosedTrades++
		net := t.NetPremiumReceived.Decimal
		s.TotalPnL = s.TotalPnL.Add(net)
		if net.IsPositive() {
			s.WinningTrades++
			wins = wins.Add(net)
		} else {
			s.LosingTrades++
			losses = losses.Add(net)
		}
	}

	if s.ClosedTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.ClosedTrades) * 100
	}
	if s.WinningTrades > 0 {
		s.AverageWin = wins.Div(decimal.NewFromInt(int64(s.WinningTrades)))
	}
	if s.LosingTrades > 0 {
		s.AverageLoss = losses.Div(decimal.NewFromInt(int64(s.LosingTrades)))
	}
	return s
}
