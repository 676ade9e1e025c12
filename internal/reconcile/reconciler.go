// Package reconcile turns a brokerage transaction log into trade lifecycle events.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eddiefleurent/wheel_tracker/internal/broker"
	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/eddiefleurent/wheel_tracker/internal/storage"
	"github.com/eddiefleurent/wheel_tracker/internal/symbol"
	"github.com/eddiefleurent/wheel_tracker/internal/wheel"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNoOpenTrade is recorded when no open trade matches a closing row.
var ErrNoOpenTrade = errors.New("no open trade matches")

// Lifecycle is the command surface the reconciler drives.
type Lifecycle interface {
	Open(ctx context.Context, req wheel.OpenRequest) (*models.Trade, error)
	Close(ctx context.Context, id string, req wheel.CloseRequest) (*models.Trade, error)
	Expire(ctx context.Context, id string) (*models.Trade, error)
	Assign(ctx context.Context, id string) (*models.Trade, error)
	Roll(ctx context.Context, id string, req wheel.RollRequest) (*models.Trade, error)
	SellStock(ctx context.Context, req wheel.StockSaleRequest) (*models.StockSale, error)
}

// Ensure the engine satisfies Lifecycle at compile time.
var _ Lifecycle = (*wheel.Engine)(nil)

// Reconciler replays transaction logs through a Lifecycle.
type Reconciler struct {
	lifecycle Lifecycle
	logger    *logrus.Logger
	newRunID  func() string
}

// NewReconciler creates a reconciler driving lifecycle
func NewReconciler(lifecycle Lifecycle, logger *logrus.Logger) *Reconciler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reconciler{
		lifecycle: lifecycle,
		logger:    logger,
		newRunID:  uuid.NewString,
	}
}

// run holds the state of one reconciliation pass.
type run struct {
	*Reconciler
	index  *OpenPositionIndex
	vocab  *symbol.Vocabulary
	report *Report
	log    *logrus.Entry
}

// Run reconciles txs, given newest first as exported. Row-level problems are
// recorded in the report and never stop the run. A store failure or a
// cancelled ctx stops the run and returns the partial report with the error.
func (r *Reconciler) Run(ctx context.Context, txs []broker.Transaction) (*Report, error) {
	vocab := buildVocabulary(txs)
	steps := plan(txs, symbol.NewParser(vocab))

	st := &run{
		Reconciler: r,
		index:      NewOpenPositionIndex(r.logger),
		vocab:      vocab,
		report:     newReport(r.newRunID(), len(txs)),
	}
	st.report.StepsPlanned = len(steps)
	st.log = r.logger.WithField("run_id", st.report.RunID)
	st.log.WithFields(logrus.Fields{
		"rows":    len(txs),
		"steps":   len(steps),
		"tickers": vocab.Len(),
	}).Info("Starting reconciliation")

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return st.finish(false), err
		}
		var err error
		if s.isRoll() {
			err = st.applyRoll(ctx, s.row, *s.next)
		} else {
			err = st.applyRow(ctx, s.row)
		}
		if err != nil {
			st.log.WithError(err).Error("Reconciliation stopped by store failure")
			return st.finish(false), err
		}
	}

	report := st.finish(true)
	st.log.Info(report.Summary())
	return report, nil
}

func (st *run) finish(complete bool) *Report {
	st.report.OpenPositions = st.index.Open()
	st.report.FinishedAt = time.Now().UTC()
	st.report.Complete = complete
	return st.report
}

func (st *run) rowLog(rw row) *logrus.Entry {
	return st.log.WithFields(logrus.Fields{
		"line":   rw.tx.Line,
		"date":   rw.tx.Date.String(),
		"action": rw.tx.Action,
		"symbol": rw.tx.Symbol,
	})
}

// skip records a row-level diagnostic
func (st *run) skip(rw row, kind SkipKind, reason string) {
	st.rowLog(rw).WithField("kind", kind).Warn("Skipping row: " + reason)
	st.report.skip(rw, kind, reason)
}

// rejected decides whether err is a row-level rejection (recorded, run
// continues) or a store failure (run stops).
func (st *run) rejected(rw row, err error) (bool, error) {
	if isRowError(err) {
		st.skip(rw, SkipTransition, err.Error())
		return true, nil
	}
	return false, fmt.Errorf("line %d (%s %s): %w", rw.tx.Line, rw.tx.Action, rw.tx.Symbol, err)
}

func isRowError(err error) bool {
	for _, target := range []error{
		models.ErrInvalidTransition, models.ErrInvalidTrade, wheel.ErrInvalidRequest,
		storage.ErrTradeNotFound, storage.ErrImmutableField, storage.ErrRollChain, storage.ErrDuplicateID,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (st *run) applyRow(ctx context.Context, rw row) error {
	if !rw.parsed() {
		return st.applyUnparsed(ctx, rw)
	}

	switch rw.tx.Action {
	case broker.ActionSellToOpen:
		return st.open(ctx, rw)
	case broker.ActionBuyToClose, broker.ActionExpired, broker.ActionAssigned:
		return st.settle(ctx, rw)
	default:
		st.skip(rw, SkipUnsupported, fmt.Sprintf("%s of an option is not part of the wheel", rw.tx.Action))
		return nil
	}
}

// applyUnparsed handles rows without an option contract. A plain Sell of a
// known ticker is a stock sale that closes out that ticker's wheel.
func (st *run) applyUnparsed(ctx context.Context, rw row) error {
	if errors.Is(rw.parseErr, broker.ErrMalformedRow) {
		st.skip(rw, SkipParse, rw.parseErr.Error())
		return nil
	}
	if rw.tx.Action != broker.ActionSell || !st.vocab.Contains(rw.tx.Symbol) {
		st.skip(rw, SkipParse, "not an option or relevant stock trade: "+rw.parseErr.Error())
		return nil
	}

	sale, err := st.lifecycle.SellStock(ctx, wheel.StockSaleRequest{
		Ticker: rw.tx.Symbol,
		Price:  rw.tx.Price,
		Date:   rw.tx.Date,
		Fees:   rw.tx.Fees,
		Shares: rw.tx.Quantity,
	})
	if err != nil {
		_, err = st.rejected(rw, err)
		return err
	}

	cleared := st.index.RemoveAllForTicker(sale.Ticker)
	st.report.StockSales = append(st.report.StockSales, StockSaleEvent{
		Line:           rw.tx.Line,
		Ticker:         sale.Ticker,
		SaleID:         sale.ID,
		ClearedEntries: cleared,
	})
	st.rowLog(rw).WithFields(logrus.Fields{
		"sale_id": sale.ID,
		"cleared": cleared,
	}).Info("Processed stock sale")
	return nil
}

func (st *run) open(ctx context.Context, rw row) error {
	c := rw.contract
	trade, err := st.lifecycle.Open(ctx, wheel.OpenRequest{
		Ticker:          c.Ticker,
		Side:            c.Side,
		Strike:          c.Strike,
		Expiration:      c.Expiration,
		Premium:         rw.tx.Price,
		Contracts:       rw.tx.Quantity,
		TransactionDate: rw.tx.Date,
		Fees:            rw.tx.Fees,
	})
	if err != nil {
		_, err = st.rejected(rw, err)
		return err
	}

	st.index.Insert(KeyOf(c), trade.ID)
	st.report.TradesCreated++
	st.rowLog(rw).WithField("trade_id", trade.ID).Debug("Opened trade")
	return nil
}

// lookup finds the open trade a closing row refers to.
func (st *run) lookup(rw row) (string, PositionKey, bool) {
	want := KeyOf(rw.contract)
	id, key, ok := st.index.LookupWheelAware(want)
	if !ok {
		st.skip(rw, SkipLookup, fmt.Sprintf("%v for %s %s", ErrNoOpenTrade, rw.tx.Action, want))
		return "", PositionKey{}, false
	}
	if key != want {
		st.report.Fallbacks++
	}
	return id, key, true
}

// settle applies a buy-to-close, expiration or assignment.
func (st *run) settle(ctx context.Context, rw row) error {
	id, key, ok := st.lookup(rw)
	if !ok {
		return nil
	}

	var err error
	switch rw.tx.Action {
	case broker.ActionBuyToClose:
		_, err = st.lifecycle.Close(ctx, id, wheel.CloseRequest{
			BuyBackPrice: rw.tx.Price,
			BuyBackDate:  rw.tx.Date,
			ClosingFees:  rw.tx.Fees,
		})
	case broker.ActionExpired:
		_, err = st.lifecycle.Expire(ctx, id)
	case broker.ActionAssigned:
		_, err = st.lifecycle.Assign(ctx, id)
	}
	if err != nil {
		_, err = st.rejected(rw, err)
		return err
	}

	// An assigned put stays indexed as the root of its wheel.
	if rw.tx.Action != broker.ActionAssigned {
		st.index.Remove(key)
	}
	st.report.TradesUpdated++
	st.rowLog(rw).WithField("trade_id", id).Debug("Settled trade")
	return nil
}

// applyRoll closes the trade named by closing and opens its successor on the
// terms of opening. When the closed leg cannot be found the opening row is
// applied on its own.
func (st *run) applyRoll(ctx context.Context, closing, opening row) error {
	id, key, ok := st.lookup(closing)
	if !ok {
		st.rowLog(closing).Error("Could not find open trade to roll; applying the sell-to-open alone")
		return st.applyRow(ctx, opening)
	}

	successor, err := st.lifecycle.Roll(ctx, id, wheel.RollRequest{
		NewExpiration: opening.contract.Expiration,
		NewStrike:     opening.contract.Strike,
		NewPremium:    opening.tx.Price,
		NewFees:       opening.tx.Fees,
		ClosingFees:   closing.tx.Fees,
		RollDate:      closing.tx.Date,
	})
	if err != nil {
		handled, err := st.rejected(closing, err)
		if handled {
			st.skip(opening, SkipTransition, "second leg of a rejected roll")
		}
		return err
	}

	st.index.Remove(key)
	st.index.Insert(KeyOfTrade(successor), successor.ID)
	st.report.TradesUpdated++
	st.report.TradesCreated++
	st.report.Rolls++
	st.rowLog(closing).WithFields(logrus.Fields{
		"trade_id":     id,
		"successor_id": successor.ID,
	}).Info("Rolled trade")
	return nil
}
