package wheel

import (
	"errors"
	"fmt"
	"testing"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkTrade(t *testing.T, id string, side models.TradeSide, strike, premium, fees, opened string) *models.Trade {
	t.Helper()
	trade, err := models.NewTrade("F", side, d(strike), date("2025-12-19"), d(premium), 1, date(opened), d(fees))
	require.NoError(t, err)
	trade.ID = id
	return trade
}

func assignedPut(t *testing.T, id, strike, opened string) *models.Trade {
	t.Helper()
	put := mkTrade(t, id, models.SideSellPut, strike, "0.50", "0.66", opened)
	require.NoError(t, put.Assign())
	return put
}

func TestFindAnchor_PicksMostRecentAssignedPut(t *testing.T) {
	older := assignedPut(t, "old", "7", "2024-06-03")
	newer := assignedPut(t, "new", "8", "2025-01-02")
	sameDay := assignedPut(t, "same", "8.5", "2025-01-02")
	openPut := mkTrade(t, "open", models.SideSellPut, "9", "0.5", "0", "2025-03-03")

	anchor, ok := FindAnchor([]*models.Trade{older, newer, openPut})
	require.True(t, ok)
	assert.Equal(t, "new", anchor.ID)

	anchor, ok = FindAnchor([]*models.Trade{newer, sameDay, older})
	require.True(t, ok)
	assert.Equal(t, "same", anchor.ID)

	_, ok = FindAnchor([]*models.Trade{openPut})
	assert.False(t, ok)
}

func TestComputeCostBasis_WindowStartsAtAnchor(t *testing.T) {
	earlier := mkTrade(t, "earlier", models.SideSellPut, "9", "2.00", "0.66", "2024-11-01")
	require.NoError(t, earlier.Expire())
	put := assignedPut(t, "put", "8", "2025-01-02")

	basis, err := ComputeCostBasis("F", []*models.Trade{earlier, put})
	require.NoError(t, err)
	assert.Equal(t, "2025-01-02", basis.WindowStart.String())
	assertDecimal(t, "0.50", basis.CumulativePremium)
	assertDecimal(t, "0.0066", basis.CumulativeFeesPerShare)
	assertDecimal(t, "7.5066", basis.AdjustedCostBasis)

	_, err = ComputeCostBasis("F", []*models.Trade{earlier})
	assert.True(t, errors.Is(err, ErrMissingAnchor))
}

// Writing more calls only moves the basis by their premium and fees, and
// no call bought back above zero counts as the shares leaving.
func TestCostBasis_InvariantToUnassignedCalls(t *testing.T) {
	put := assignedPut(t, "put", "8", "2025-01-02")
	trades := []*models.Trade{put}

	for n := 1; n <= 5; n++ {
		call := mkTrade(t, fmt.Sprintf("call-%d", n), models.SideSellCall, "9", "0.40", "0.66", fmt.Sprintf("2025-%02d-06", n+1))
		require.NoError(t, call.Close(d("0.10"), date(fmt.Sprintf("2025-%02d-20", n+1)), d("0.66")))
		trades = append(trades, call)

		basis, err := ComputeCostBasis("F", trades)
		require.NoError(t, err)

		premium := d("0.50").Add(d("0.40").Mul(d(fmt.Sprint(n))))
		fees := d("0.66").Add(d("1.32").Mul(d(fmt.Sprint(n))))
		shares := d(fmt.Sprint(100 * (n + 1)))
		want := d("8").Sub(premium).Add(fees.Div(shares))
		assert.Truef(t, want.Equal(basis.AdjustedCostBasis), "n=%d want %s got %s", n, want, basis.AdjustedCostBasis)

		pnl := ComputeCumulativePnL("F", trades, nil)
		assert.Empty(t, pnl.CalledAwayTradeID)
		assert.True(t, pnl.StockPnL.IsZero())
	}
}

func TestComputeCumulativePnL_EarliestCalledAwayWins(t *testing.T) {
	put := assignedPut(t, "put", "8", "2025-01-02")
	first := mkTrade(t, "first", models.SideSellCall, "9", "0.50", "0", "2025-01-21")
	require.NoError(t, first.Close(d("0"), date("2025-02-21"), d("0")))
	second := mkTrade(t, "second", models.SideSellCall, "10", "0.50", "0", "2025-02-24")
	require.NoError(t, second.Close(d("0"), date("2025-03-21"), d("0")))

	pnl := ComputeCumulativePnL("F", []*models.Trade{put, second, first}, nil)
	assert.Equal(t, "first", pnl.CalledAwayTradeID)
}

func TestComputeCumulativePnL_RolledAndExpiredCallsAreNotCalledAway(t *testing.T) {
	put := assignedPut(t, "put", "8", "2025-01-02")
	expired := mkTrade(t, "expired", models.SideSellCall, "9", "0.50", "0", "2025-01-21")
	require.NoError(t, expired.Expire())
	rolled := mkTrade(t, "rolled", models.SideSellCall, "9", "0.50", "0", "2025-02-24")
	successor, err := rolled.Roll(models.RollTerms{NewExpiration: date("2025-04-17"), NewStrike: d("9.5"),
		NewPremium: d("0.30"), RollDate: date("2025-03-20")})
	require.NoError(t, err)
	successor.ID = "successor"

	pnl := ComputeCumulativePnL("F", []*models.Trade{put, expired, rolled, successor}, nil)
	assert.Empty(t, pnl.CalledAwayTradeID)
	assertDecimal(t, "100", pnl.CumulativePnL)
}

func TestComputeCumulativePnL_IgnoresSalesBeforeAnchor(t *testing.T) {
	put := assignedPut(t, "put", "8", "2025-01-02")
	sales := []*models.StockSale{
		{ID: "old", Ticker: "F", Date: date("2024-12-01"), Price: d("12"), Shares: 100},
	}
	pnl := ComputeCumulativePnL("F", []*models.Trade{put}, sales)
	assert.Empty(t, pnl.StockSaleID)
	assert.True(t, pnl.CumulativePnL.IsZero())

	sales = append(sales,
		&models.StockSale{ID: "late", Ticker: "F", Date: date("2025-03-01"), Price: d("9"), Shares: 100},
		&models.StockSale{ID: "early", Ticker: "F", Date: date("2025-02-01"), Price: d("10"), Shares: 100},
	)
	pnl = ComputeCumulativePnL("F", []*models.Trade{put}, sales)
	assert.Equal(t, "early", pnl.StockSaleID)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.True(t, s.TotalPremiumCollected.IsZero())
	assert.True(t, s.TotalPnL.IsZero())
	assert.Zero(t, s.WinRate)
	assert.Zero(t, s.TotalTrades)
}
