package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/eddiefleurent/wheel_tracker/internal/util"
	"github.com/eddiefleurent/wheel_tracker/internal/wheel"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func money(d decimal.Decimal) string {
	return util.RoundCents(d).StringFixed(2)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newBasisCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "basis TICKER",
		Short: "Show the adjusted cost basis of a ticker's current wheel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				basis, err := a.engine.CostBasis(cmd.Context(), args[0])
				if errors.Is(err, wheel.ErrMissingAnchor) {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonMode {
					return writeJSON(out, basis)
				}
				_, _ = fmt.Fprintf(out, "Cost basis for %s (anchor %s, since %s)\n", basis.Ticker, basis.AnchorTradeID, basis.WindowStart)
				_, _ = fmt.Fprintf(out, "  Original cost basis:  %s\n", money(basis.OriginalCostBasis))
				_, _ = fmt.Fprintf(out, "  Cumulative premium:   %s\n", money(basis.CumulativePremium))
				_, _ = fmt.Fprintf(out, "  Fees per share:       %s\n", basis.CumulativeFeesPerShare.StringFixed(4))
				_, _ = fmt.Fprintf(out, "  Adjusted cost basis:  %s\n", basis.AdjustedCostBasis.StringFixed(4))
				return nil
			})
		},
	}
}

func newPnLCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pnl TICKER",
		Short: "Show the realized P&L of a ticker's current wheel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				pnl, err := a.engine.CumulativePnL(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonMode {
					return writeJSON(out, pnl)
				}
				_, _ = fmt.Fprintf(out, "Cumulative P&L for %s: %s\n", pnl.Ticker, money(pnl.CumulativePnL))
				_, _ = fmt.Fprintf(out, "  Options: %s\n", money(pnl.OptionPnL))
				_, _ = fmt.Fprintf(out, "  Stock:   %s\n", money(pnl.StockPnL))
				return nil
			})
		},
	}
}

func newSummaryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show premium, P&L and win rate across all trades",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				s, err := a.engine.DashboardSummary(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonMode {
					return writeJSON(out, s)
				}
				_, _ = fmt.Fprintf(out, "Trades:            %d (%d open)\n", s.TotalTrades, s.OpenTrades)
				_, _ = fmt.Fprintf(out, "Premium collected: %s\n", money(s.TotalPremiumCollected))
				_, _ = fmt.Fprintf(out, "Realized P&L:      %s\n", money(s.TotalPnL))
				_, _ = fmt.Fprintf(out, "Win rate:          %.2f%% (%d/%d)\n", s.WinRate, s.WinningTrades, s.ClosedTrades)
				_, _ = fmt.Fprintf(out, "Average win/loss:  %s / %s\n", money(s.AverageWin), money(s.AverageLoss))
				return nil
			})
		},
	}
}

func newTradesCmd(opts *rootOptions) *cobra.Command {
	var list wheel.ListOptions
	var status string
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List stored trades",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list.Status = models.TradeStatus(status)
			if list.Status != "" && !list.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			return withApp(cmd, opts, func(a *app) error {
				trades, err := a.engine.Trades(cmd.Context(), list)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonMode {
					return writeJSON(out, trades)
				}
				for _, t := range trades {
					net := "-"
					if t.NetPremiumReceived.Valid {
						net = money(t.NetPremiumReceived.Decimal)
					}
					_, _ = fmt.Fprintf(out, "%-8s %-5s %-9s %8s %s %-8s %10s\n",
						shortID(t.ID), t.Ticker, t.Side, t.Strike.String(), t.ExpirationDate, t.Status, net)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&list.Ticker, "ticker", "", "Only trades on this ticker")
	cmd.Flags().StringVar(&status, "status", "", "Only trades in this status")
	cmd.Flags().IntVar(&list.Skip, "skip", 0, "Skip this many trades")
	cmd.Flags().IntVar(&list.Limit, "limit", 0, "Show at most this many trades")
	return cmd
}
