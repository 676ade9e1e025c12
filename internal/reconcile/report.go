package reconcile

import (
	"fmt"
	"time"
)

// SkipKind classifies why a row had no effect.
type SkipKind string

// Skip kinds
const (
	SkipParse       SkipKind = "parse"
	SkipLookup      SkipKind = "lookup"
	SkipTransition  SkipKind = "transition"
	SkipUnsupported SkipKind = "unsupported"
)

// SkippedRow is a diagnostic for a row the run could not apply.
type SkippedRow struct {
	Line   int      `json:"line"`
	Date   string   `json:"date"`
	Action string   `json:"action"`
	Symbol string   `json:"symbol"`
	Kind   SkipKind `json:"kind"`
	Reason string   `json:"reason"`
}

// StockSaleEvent records a stock sale that closed out a ticker's wheel.
type StockSaleEvent struct {
	Line           int    `json:"line"`
	Ticker         string `json:"ticker"`
	SaleID         string `json:"sale_id"`
	ClearedEntries int    `json:"cleared_entries"`
}

// Report summarizes one reconciliation run. A report with Complete unset
// belongs to a run that stopped early and should not be trusted.
type Report struct {
	RunID         string           `json:"run_id"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	RowsRead      int              `json:"rows_read"`
	StepsPlanned  int              `json:"steps_planned"`
	TradesCreated int              `json:"trades_created"`
	TradesUpdated int              `json:"trades_updated"`
	Rolls         int              `json:"rolls"`
	Fallbacks     int              `json:"wheel_aware_fallbacks"`
	Skipped       []SkippedRow     `json:"skipped"`
	StockSales    []StockSaleEvent `json:"stock_sales"`
	OpenPositions []OpenPosition   `json:"open_positions"`
	Complete      bool             `json:"complete"`
}

func newReport(runID string, rowsRead int) *Report {
	return &Report{
		RunID:         runID,
		StartedAt:     time.Now().UTC(),
		RowsRead:      rowsRead,
		Skipped:       []SkippedRow{},
		StockSales:    []StockSaleEvent{},
		OpenPositions: []OpenPosition{},
	}
}

func (r *Report) skip(rw row, kind SkipKind, reason string) {
	r.Skipped = append(r.Skipped, SkippedRow{
		Line:   rw.tx.Line,
		Date:   rw.tx.Date.String(),
		Action: string(rw.tx.Action),
		Symbol: rw.tx.Symbol,
		Kind:   kind,
		Reason: reason,
	})
}

// SkippedByKind returns the skipped rows of one kind
func (r *Report) SkippedByKind(kind SkipKind) []SkippedRow {
	var out []SkippedRow
	for _, s := range r.Skipped {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// Summary renders the report as a one-line log message.
func (r *Report) Summary() string {
	status := "complete"
	if !r.Complete {
		status = "incomplete"
	}
	return fmt.Sprintf("run %s %s: %d rows, %d steps, %d created, %d updated, %d rolls, %d stock sales, %d skipped, %d still open",
		r.RunID, status, r.RowsRead, r.StepsPlanned, r.TradesCreated, r.TradesUpdated, r.Rolls,
		len(r.StockSales), len(r.Skipped), len(r.OpenPositions))
}
