package broker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleExport = `"Transactions  for account ...123 as of 10/21/2025 08:00:00 ET"
"Date","Action","Symbol","Description","Quantity","Price","Fees & Comm","Amount"
"10/20/2025 as of 10/17/2025","Expired","CRWV 10/17/2025 120.00 P","PUT COREWEAVE INC $120 EXP 10/17/25","1","","",""
"10/15/2025","Sell to Open","CRWV 11/07/2025 143.00 C","CALL COREWEAVE INC $143 EXP 11/07/25","1","$4.10","$0.66","$409.34"
"10/14/2025","Qualified Dividend","SPY","SPDR S&P 500","","","","$12.01"
"10/13/2025","Sell","F","FORD MTR CO","100","$12.50","$0.01","$1,249.99"
"Transactions Total","","","","","","","-$1,234.56"
`

func TestCSVSource_Transactions(t *testing.T) {
	src := NewCSVReader(strings.NewReader(sampleExport), nil)

	txs, err := src.Transactions(context.Background())
	require.NoError(t, err)
	require.Len(t, txs, 4)

	expired := txs[0]
	assert.Equal(t, ActionExpired, expired.Action)
	assert.Equal(t, "2025-10-17", expired.Date.String())
	assert.Equal(t, "CRWV 10/17/2025 120.00 P", expired.Symbol)
	assert.True(t, expired.Price.IsZero())
	assert.NoError(t, expired.Err)
	assert.Equal(t, 3, expired.Line)

	open := txs[1]
	assert.Equal(t, ActionSellToOpen, open.Action)
	assert.Equal(t, 1, open.Quantity)
	assert.Equal(t, "4.1", open.Price.String())
	assert.Equal(t, "0.66", open.Fees.String())
	assert.Equal(t, "409.34", open.Amount.String())

	assert.False(t, txs[2].Action.Relevant())

	sale := txs[3]
	assert.Equal(t, ActionSell, sale.Action)
	assert.Equal(t, 100, sale.Quantity)
	assert.Equal(t, "1249.99", sale.Amount.String())
}

func TestCSVSource_MalformedRowIsReportedNotFatal(t *testing.T) {
	logger, hook := test.NewNullLogger()
	export := "Date,Action,Symbol,Description,Quantity,Price,Fees & Comm,Amount\n" +
		"13/45/2025,Sell to Open,SPY 12/19/2025 600.00 P,,1,$5.00,$0.66,$499.34\n" +
		"10/01/2025,Sell to Open,SPY 12/19/2025 590.00 P,,1,abc,$0.66,$499.34\n"

	txs, err := NewCSVReader(strings.NewReader(export), logger).Transactions(context.Background())
	require.NoError(t, err)
	require.Len(t, txs, 2)

	for _, tx := range txs {
		require.Error(t, tx.Err)
		assert.True(t, errors.Is(tx.Err, ErrMalformedRow))
	}
	assert.Contains(t, txs[1].Err.Error(), "price")

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)
}

func TestCSVSource_CRLFAndFile(t *testing.T) {
	export := "Date,Action,Symbol,Description,Quantity,Price,Fees & Comm,Amount\r\n" +
		"01/02/2025,Buy to Close,TQQQ 01/17/2025 50.00 P,,1,$0.25,$0.66,-$25.66\r\n"
	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, os.WriteFile(path, []byte(export), 0o600))

	txs, err := NewCSVFile(path, nil).Transactions(context.Background())
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ActionBuyToClose, txs[0].Action)
	assert.Equal(t, "-25.66", txs[0].Amount.String())
	assert.NoError(t, txs[0].Err)
}

func TestCSVSource_Errors(t *testing.T) {
	_, err := NewCSVReader(strings.NewReader("just,some,text\n"), nil).Transactions(context.Background())
	assert.True(t, errors.Is(err, ErrNoHeader))

	_, err = NewCSVFile(filepath.Join(t.TempDir(), "missing.csv"), nil).Transactions(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewCSVReader(strings.NewReader(sampleExport), nil).Transactions(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestAction_Relevant(t *testing.T) {
	for _, a := range []Action{ActionSellToOpen, ActionBuyToClose, ActionExpired, ActionAssigned, ActionSell, ActionBuy} {
		assert.True(t, a.Relevant(), a)
	}
	assert.False(t, Action("Journal").Relevant())
	assert.False(t, Action("").Relevant())
}

func TestCSVSource_Quantity(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{name: "whole", raw: "100", want: 100},
		{name: "negative", raw: "-2", want: 2},
		{name: "thousands separator", raw: "1,000", want: 1000},
		{name: "whole with decimals", raw: "100.00", want: 100},
		{name: "fractional share", raw: "0.5", wantErr: true},
		{name: "fractional sale", raw: "-100.25", wantErr: true},
		{name: "not a number", raw: "abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			export := "Date,Action,Symbol,Description,Quantity,Price,Fees & Comm,Amount\n" +
				`03/24/2025,Sell,F,FORD MTR CO,"` + tt.raw + `",$9.00,$0.02,$899.98` + "\n"

			txs, err := NewCSVReader(strings.NewReader(export), nil).Transactions(context.Background())
			require.NoError(t, err)
			require.Len(t, txs, 1)

			if tt.wantErr {
				require.Error(t, txs[0].Err)
				assert.True(t, errors.Is(txs[0].Err, ErrMalformedRow))
				assert.Contains(t, txs[0].Err.Error(), "quantity")
				return
			}
			assert.NoError(t, txs[0].Err)
			assert.Equal(t, tt.want, txs[0].Quantity)
		})
	}
}
