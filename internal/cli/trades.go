package cli

import (
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"oi-trader/internal/errors"
	"oi-trader/internal/models"
	"oi-trader/internal/report"
	"oi-trader/internal/store"
	"oi-trader/pkg/utils"
)

func newTradesCmd(app *App) *cobra.Command {
	var fromStr, toStr, reason, csvOut string
	var limit int

	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Show the recorded trade history",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if app.Store == nil {
				output.Error("the data store is unavailable")
				return errors.ErrDatabaseError
			}

			filter := store.TradeFilter{ExitReason: reason, Limit: limit}
			var err error
			if fromStr != "" {
				if filter.StartDate, err = time.Parse("2006-01-02", fromStr); err != nil {
					return errors.NewConfigError("from", fromStr, "expected YYYY-MM-DD")
				}
			}
			if toStr != "" {
				if filter.EndDate, err = time.Parse("2006-01-02", toStr); err != nil {
					return errors.NewConfigError("to", toStr, "expected YYYY-MM-DD")
				}
			}

			trades, err := app.Store.GetTrades(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if csvOut != "" {
				if err := report.WriteTradesCSV(csvOut, trades); err != nil {
					return err
				}
				output.Dim("Trade log written to %s", csvOut)
			}

			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Dim("No trades recorded.")
				return nil
			}

			color.Cyan("📒 Trade History")
			output.Println()

			var total float64
			wins := 0
			table := NewTable(output, "ENTRY", "EXIT", "CONTRACT", "IN", "OUT", "QTY", "PNL", "REASON")
			for _, t := range trades {
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
				total += t.PnL
				if t.PnL > 0 {
					wins++
				}
			}
			table.Render()

			output.Println()
			output.Printf("%d trades, %d wins, net %s\n",
				len(trades), wins, output.PnL(utils.FormatPnL(total), total))
			return nil
		},
	}

	cmd.Flags().StringVar(&fromStr, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toStr, "to", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&reason, "reason", "", "filter by exit reason")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	cmd.Flags().StringVar(&csvOut, "csv-out", "", "write the result as CSV here")
	return cmd
}
