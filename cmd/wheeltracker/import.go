package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/eddiefleurent/wheel_tracker/internal/broker"
	"github.com/eddiefleurent/wheel_tracker/internal/reconcile"
	"github.com/spf13/cobra"
)

func newImportCmd(opts *rootOptions) *cobra.Command {
	var reset, keep bool
	cmd := &cobra.Command{
		Use:   "import [csv]",
		Short: "Reconcile a brokerage transaction export into the trade store",
		Long: `Reads a brokerage CSV export (newest row first), replays it in
chronological order and reports rows that could not be applied.

The export path defaults to import.csv_path from the configuration.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				path := a.cfg.Import.CSVPath
				if len(args) == 1 {
					path = args[0]
				}
				if path == "" {
					return errors.New("no export given and import.csv_path is not set")
				}
				doReset := a.cfg.Import.ResetBeforeImport
				if cmd.Flags().Changed("reset") {
					doReset = reset
				}
				if keep {
					doReset = false
				}
				return runImport(cmd, a, path, doReset, opts.jsonMode)
			})
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "Clear the store before importing (overrides import.reset_before_import)")
	cmd.Flags().BoolVar(&keep, "keep", false, "Never clear the store before importing")
	return cmd
}

func runImport(cmd *cobra.Command, a *app, path string, reset, jsonMode bool) error {
	ctx := cmd.Context()
	txs, err := broker.NewCSVFile(path, a.logger).Transactions(ctx)
	if err != nil {
		return err
	}

	rec := reconcile.NewReconciler(a.engine, a.logger)
	var report *reconcile.Report
	runErr := a.engine.Exclusive(func() error {
		if reset {
			if err := a.store.Reset(ctx); err != nil {
				return fmt.Errorf("resetting store: %w", err)
			}
			a.logger.Info("Cleared trade store before import")
		}
		var err error
		report, err = rec.Run(ctx, txs)
		return err
	})

	if report != nil {
		if err := writeReport(cmd.OutOrStdout(), report, jsonMode); err != nil {
			return err
		}
	}
	return runErr
}

func writeReport(w io.Writer, report *reconcile.Report, jsonMode bool) error {
	if jsonMode {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	_, _ = fmt.Fprintln(w, report.Summary())
	if len(report.Skipped) > 0 {
		_, _ = fmt.Fprintf(w, "\nSkipped rows:\n")
		for _, s := range report.Skipped {
			_, _ = fmt.Fprintf(w, "  line %-4d %-10s %-12s %-12s %-28s %s\n",
				s.Line, s.Date, s.Kind, s.Action, s.Symbol, s.Reason)
		}
	}
	if len(report.StockSales) > 0 {
		_, _ = fmt.Fprintf(w, "\nStock sales:\n")
		for _, s := range report.StockSales {
			_, _ = fmt.Fprintf(w, "  line %-4d %-6s cleared %d open entries\n", s.Line, s.Ticker, s.ClearedEntries)
		}
	}
	if len(report.OpenPositions) > 0 {
		_, _ = fmt.Fprintf(w, "\nStill open:\n")
		for _, p := range report.OpenPositions {
			_, _ = fmt.Fprintf(w, "  %-40s %s\n", p.Key, shortID(p.TradeID))
		}
	}
	return nil
}
