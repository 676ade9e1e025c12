// Package broker reads transaction history exported by the brokerage.
package broker

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/eddiefleurent/wheel_tracker/internal/util"
	"github.com/shopspring/decimal"
)

// Action is the brokerage's label for what a transaction did.
type Action string

// Actions the wheel tracker acts on. Everything else (dividends, journals,
// interest) is ignored.
const (
	ActionSellToOpen Action = "Sell to Open"
	ActionBuyToClose Action = "Buy to Close"
	ActionExpired    Action = "Expired"
	ActionAssigned   Action = "Assigned"
	ActionSell       Action = "Sell"
	ActionBuy        Action = "Buy"
)

// Relevant reports whether the action can affect a wheel.
func (a Action) Relevant() bool {
	switch a {
	case ActionSellToOpen, ActionBuyToClose, ActionExpired, ActionAssigned, ActionSell, ActionBuy:
		return true
	default:
		return false
	}
}

// Row is one raw line of the brokerage CSV export.
type Row struct {
	Date        string `csv:"Date"`
	Action      string `csv:"Action"`
	Symbol      string `csv:"Symbol"`
	Description string `csv:"Description"`
	Quantity    string `csv:"Quantity"`
	Price       string `csv:"Price"`
	Fees        string `csv:"Fees & Comm"`
	Amount      string `csv:"Amount"`
}

// Transaction is a typed export row. Err is set when a field failed to
// convert; the remaining fields are best effort in that case.
type Transaction struct {
	Line        int
	Date        models.Date
	Action      Action
	Symbol      string
	Description string
	Quantity    int
	Price       decimal.Decimal
	Fees        decimal.Decimal
	Amount      decimal.Decimal
	Err         error
}

// TransactionSource yields transactions in export order (newest first).
type TransactionSource interface {
	Transactions(ctx context.Context) ([]Transaction, error)
}

// toTransaction converts a raw row. line is the 1-based line in the export.
func (r Row) toTransaction(line int) Transaction {
	tx := Transaction{
		Line:        line,
		Action:      Action(strings.TrimSpace(r.Action)),
		Symbol:      strings.TrimSpace(r.Symbol),
		Description: strings.TrimSpace(r.Description),
	}

	var errs []string
	date, err := models.ParseBrokerDate(r.Date)
	if err != nil {
		errs = append(errs, err.Error())
	}
	tx.Date = date

	if q := strings.ReplaceAll(strings.TrimSpace(r.Quantity), ",", ""); q != "" {
		qty, err := strconv.ParseFloat(q, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("quantity %q: %v", r.Quantity, err))
		} else if qty != math.Trunc(qty) {
			errs = append(errs, fmt.Sprintf("quantity %q must be a whole number", r.Quantity))
		} else {
			if qty < 0 {
				qty = -qty
			}
			tx.Quantity = int(qty)
		}
	}

	money := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"price", r.Price, &tx.Price},
		{"fees", r.Fees, &tx.Fees},
		{"amount", r.Amount, &tx.Amount},
	}
	for _, m := range money {
		v, err := util.ParseMoney(m.raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", m.name, err))
			continue
		}
		*m.dst = v
	}

	if len(errs) > 0 {
		tx.Err = fmt.Errorf("%w: line %d: %s", ErrMalformedRow, line, strings.Join(errs, "; "))
	}
	return tx
}
