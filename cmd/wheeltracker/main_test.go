package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eddiefleurent/wheel_tracker/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fordExport is a brokerage export of one complete wheel, newest row first.
const fordExport = `"Transactions  for account XXXX-1234 as of 03/25/2025"
"Date","Action","Symbol","Description","Quantity","Price","Fees & Comm","Amount"
"03/24/2025","Sell","F","FORD MTR CO","100","$9.00","$0.02","$899.98"
"03/24/2025 as of 03/21/2025","Assigned","F 03/21/2025 9.00 C","CALL FORD MTR CO $9 EXP 03/21/25","1","","",""
"02/24/2025","Sell to Open","F 03/21/2025 9.00 C","CALL FORD MTR CO $9 EXP 03/21/25","1","$0.80","$0.66","$79.34"
"02/24/2025 as of 02/21/2025","Expired","F 02/21/2025 9.00 C","CALL FORD MTR CO $9 EXP 02/21/25","1","","",""
"01/21/2025","Sell to Open","F 02/21/2025 9.00 C","CALL FORD MTR CO $9 EXP 02/21/25","1","$0.50","$0.66","$49.34"
"01/21/2025","Qualified Dividend","F","FORD MTR CO","","","","$15.00"
"01/21/2025 as of 01/17/2025","Assigned","F 01/17/2025 8.00 P","PUT FORD MTR CO $8 EXP 01/17/25","1","","",""
"01/02/2025","Sell to Open","F 01/17/2025 8.00 P","PUT FORD MTR CO $8 EXP 01/17/25","1","$0.50","$0.66","$49.34"
"Transactions Total","","","","","","","$1093.34"
`

type fixture struct {
	dir        string
	configPath string
	csvPath    string
}

func newFixture(t *testing.T, backend string) fixture {
	t.Helper()
	dir := t.TempDir()
	storePath := filepath.Join(dir, "trades."+backend)
	configPath := filepath.Join(dir, "config.yaml")
	csvPath := filepath.Join(dir, "export.csv")

	cfg := "environment:\n  log_level: debug\nstorage:\n  backend: " + backend + "\n  path: " + storePath +
		"\nimport:\n  csv_path: " + csvPath + "\n  reset_before_import: true\n"
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o600))
	require.NoError(t, os.WriteFile(csvPath, []byte(fordExport), 0o600))
	return fixture{dir: dir, configPath: configPath, csvPath: csvPath}
}

func (f fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--config", f.configPath))
	err := cmd.Execute()
	return out.String(), err
}

func TestImportThenQuery(t *testing.T) {
	for _, backend := range []string{"json", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			f := newFixture(t, backend)

			out, err := f.run(t, "import")
			require.NoError(t, err)
			assert.Contains(t, out, "complete: 8 rows, 7 steps, 3 created, 3 updated, 0 rolls, 1 stock sales, 0 skipped, 0 still open")

			out, err = f.run(t, "basis", "f")
			require.NoError(t, err)
			// 8 - (0.50 + 0.50 + 0.80) + 1.98 / 300
			assert.Contains(t, out, "Adjusted cost basis:  6.2066")
			assert.Contains(t, out, "Cumulative premium:   1.80")

			out, err = f.run(t, "pnl", "F")
			require.NoError(t, err)
			// options 49.34 + 79.34, stock (9 - 6.2066) * 100
			assert.Contains(t, out, "Cumulative P&L for F: 408.02")
			assert.Contains(t, out, "Stock:   279.34")

			out, err = f.run(t, "summary")
			require.NoError(t, err)
			assert.Contains(t, out, "Trades:            3 (0 open)")
			assert.Contains(t, out, "Premium collected: 178.02")
		})
	}
}

func TestImportIsRepeatableWithReset(t *testing.T) {
	f := newFixture(t, "json")

	_, err := f.run(t, "import")
	require.NoError(t, err)
	_, err = f.run(t, "import", f.csvPath)
	require.NoError(t, err)

	out, err := f.run(t, "trades", "--json")
	require.NoError(t, err)
	var trades []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &trades))
	assert.Len(t, trades, 3)
}

func TestImportJSONReport(t *testing.T) {
	f := newFixture(t, "json")

	out, err := f.run(t, "import", "--json")
	require.NoError(t, err)
	var report reconcile.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Complete)
	assert.Equal(t, 3, report.TradesCreated)
	require.Len(t, report.StockSales, 1)
	assert.Equal(t, 2, report.StockSales[0].ClearedEntries)
}

func TestBasisWithoutAnchor(t *testing.T) {
	f := newFixture(t, "json")

	_, err := f.run(t, "basis", "AAPL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no assigned put")
}

func TestTradesRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t, "json")

	_, err := f.run(t, "trades", "--status", "Pending")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "Pending"))
}

func TestImportMissingFile(t *testing.T) {
	f := newFixture(t, "json")

	_, err := f.run(t, "import", filepath.Join(f.dir, "missing.csv"))
	require.Error(t, err)
}

func TestServeReturnsWhenCanceledBeforeListening(t *testing.T) {
	f := newFixture(t, "memory")
	a, err := newApp(&rootOptions{configPath: f.configPath}, io.Discard)
	require.NoError(t, err)
	defer a.Close()
	a.cfg.Dashboard.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- runServe(ctx, a) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after its context was canceled")
	}
}
