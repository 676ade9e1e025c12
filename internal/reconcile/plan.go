package reconcile

import (
	"github.com/eddiefleurent/wheel_tracker/internal/broker"
	"github.com/eddiefleurent/wheel_tracker/internal/symbol"
)

// row is a transaction with its parse result. Irrelevant rows are never parsed.
type row struct {
	tx       broker.Transaction
	contract symbol.Contract
	parseErr error
}

func (r row) parsed() bool {
	return r.parseErr == nil
}

// step is one unit of work: a single row, or a buy-to-close and sell-to-open
// pair merged into a roll.
type step struct {
	row  row
	next *row
}

func (s step) isRoll() bool {
	return s.next != nil
}

// buildVocabulary scans every transaction, relevant or not, for tickers.
func buildVocabulary(txs []broker.Transaction) *symbol.Vocabulary {
	vocab := symbol.NewVocabulary()
	for _, tx := range txs {
		vocab.Scan(tx.Symbol, tx.Description)
	}
	return vocab
}

// plan turns a newest-first export into chronological steps. A parsed
// buy-to-close followed directly by a parsed sell-to-open of the same ticker
// and side becomes one roll step. Adjacency is judged on the raw export, so
// any row in between, relevant or not, keeps the legs apart. Irrelevant
// actions are dropped afterwards.
func plan(txs []broker.Transaction, parser *symbol.Parser) []step {
	rows := make([]row, 0, len(txs))
	for i := len(txs) - 1; i >= 0; i-- {
		tx := txs[i]
		r := row{tx: tx, parseErr: tx.Err}
		if r.parseErr == nil && tx.Action.Relevant() {
			r.contract, r.parseErr = parser.Parse(tx.Symbol, tx.Description)
		}
		rows = append(rows, r)
	}

	steps := make([]step, 0, len(rows))
	for i := 0; i < len(rows); i++ {
		cur := rows[i]
		if !cur.tx.Action.Relevant() {
			continue
		}
		if i+1 < len(rows) && isRollPair(cur, rows[i+1]) {
			next := rows[i+1]
			steps = append(steps, step{row: cur, next: &next})
			i++
			continue
		}
		steps = append(steps, step{row: cur})
	}
	return steps
}

func isRollPair(cur, next row) bool {
	return cur.tx.Action == broker.ActionBuyToClose &&
		next.tx.Action == broker.ActionSellToOpen &&
		cur.parsed() && next.parsed() &&
		cur.contract.Ticker == next.contract.Ticker &&
		cur.contract.Side == next.contract.Side
}
