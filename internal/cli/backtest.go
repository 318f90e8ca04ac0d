package cli

import (
	"github.com/spf13/cobra"

	"oi-trader/internal/errors"
	"oi-trader/internal/feed"
	"oi-trader/internal/models"
	"oi-trader/internal/report"
	"oi-trader/internal/strategy"
	"oi-trader/internal/trading"
	"oi-trader/pkg/utils"
)

func newBacktestCmd(app *App) *cobra.Command {
	var barsPath, spotPath, csvOut, htmlOut string

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay the strategy over recorded candles",
		Long: `Replays the strategy candle by candle over recorded option and spot
bars. Each trading day in the data runs as its own session: direction
is re-selected, VWAP and OI baselines start fresh, and any open
position is force closed on the day's last candle.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if barsPath == "" {
				barsPath = app.Config.Data.BarsCSV
			}
			if spotPath == "" {
				spotPath = app.Config.Data.SpotCSV
			}
			if barsPath == "" || spotPath == "" {
				output.Error("bar and spot CSV paths are required (flags or [data] config)")
				return errors.NewConfigError("data", "", "bars_csv and spot_csv must be set")
			}

			bars, err := feed.LoadBarsCSV(barsPath)
			if err != nil {
				return err
			}
			spot, err := feed.LoadSpotCSV(spotPath)
			if err != nil {
				return err
			}

			params, err := strategy.ParamsFromConfig(app.Config)
			if err != nil {
				return err
			}

			f := feed.NewMemoryFeed(bars, spot, expiryKind(app.Config.Strategy.Expiry), app.Config.Strategy.AvoidMondayTuesday)
			engine := trading.NewBacktestEngine(params, f, app.Logger)

			output.Info("Replaying %d option bars over %d days...", len(bars), len(f.Dates()))
			res, err := engine.Run(cmd.Context())
			if err != nil {
				return err
			}

			if csvOut != "" {
				if err := report.WriteTradesCSV(csvOut, res.Trades); err != nil {
					return err
				}
				output.Dim("Trade log written to %s", csvOut)
			}
			if htmlOut != "" {
				if err := report.WriteHTMLReport(htmlOut, report.BuildSummary("Backtest", res)); err != nil {
					return err
				}
				output.Dim("Report written to %s", htmlOut)
			}

			if output.IsJSON() {
				return output.JSON(res)
			}
			renderResult(output, res)
			return nil
		},
	}

	cmd.Flags().StringVar(&barsPath, "bars", "", "option bars CSV path")
	cmd.Flags().StringVar(&spotPath, "spot", "", "spot bars CSV path")
	cmd.Flags().StringVar(&csvOut, "csv-out", "", "write the trade log CSV here")
	cmd.Flags().StringVar(&htmlOut, "html-out", "", "write an HTML report here")
	return cmd
}

func expiryKind(s string) models.ExpiryKind {
	if s == "monthly" {
		return models.ExpiryMonthly
	}
	return models.ExpiryWeekly
}

func renderResult(output *Output, res *trading.BacktestResult) {
	output.Println()
	output.Bold("Backtest %s to %s (%d days)",
		res.StartDate.Format("02-Jan-2006"), res.EndDate.Format("02-Jan-2006"), res.Days)
	output.Println()

	output.Printf("  Total PnL:     %s\n", output.PnL(utils.FormatPnL(res.TotalPnL), res.TotalPnL))
	output.Printf("  Trades:        %d (%d W / %d L)\n", res.TotalTrades, res.Wins, res.Losses)
	output.Printf("  Win rate:      %s\n", utils.FormatPercent(res.WinRate))
	output.Printf("  Avg win:       %s\n", utils.FormatIndianCurrency(res.AvgWin))
	output.Printf("  Avg loss:      %s\n", utils.FormatIndianCurrency(res.AvgLoss))
	output.Printf("  Max drawdown:  %s\n", utils.FormatIndianCurrency(res.MaxDrawdown))
	output.Printf("  Final cash:    %s\n", utils.FormatIndianCurrency(res.FinalCash))
	if res.SkippedCycles > 0 {
		output.Dim("  Skipped cycles: %d", res.SkippedCycles)
	}
	output.Println()

	if len(res.Trades) == 0 {
		output.Dim("No trades taken.")
		return
	}

	table := NewTable(output, "ENTRY", "EXIT", "CONTRACT", "IN", "OUT", "QTY", "PNL", "REASON")
	for _, t := range res.Trades {
		key := models.OptionKey{Strike: t.Strike, Type: t.Type, Expiry: t.Expiry}
		table.AddRow(
			t.EntryTime.Format("02-Jan 15:04"),
			t.ExitTime.Format("15:04"),
			key.String(),
			utils.FormatIndianCurrency(t.EntryPrice),
			utils.FormatIndianCurrency(t.ExitPrice),
			utils.FormatQuantity(int64(t.Size)),
			output.PnL(utils.FormatPnL(t.PnL), t.PnL),
			string(t.ExitReason),
		)
	}
	table.Render()
}
