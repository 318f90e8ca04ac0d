package cli

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"oi-trader/internal/broker"
	"oi-trader/internal/errors"
	"oi-trader/internal/strategy"
	"oi-trader/internal/stream"
	"oi-trader/internal/trading"
	"oi-trader/pkg/utils"
)

func newPaperCmd(app *App) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "paper",
		Short: "Run a live paper trading session",
		Long: `Runs the strategy live against broker market data without placing
orders. The strategy loop runs on the candle interval and a faster
monitor watches exits in between. Fills settle against a simulated
cash ledger; state is snapshotted so a restart resumes mid-session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if app.Store == nil {
				output.Error("the data store is required for paper trading")
				return errors.ErrDatabaseError
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			brk := app.newBroker()
			defer brk.Close()

			output.Info("Connecting to %s...", app.Config.Trading.Broker)
			if err := brk.Connect(ctx); err != nil {
				var berr *errors.BrokerError
				if errors.As(err, &berr) && berr.Code == "AUTH_REQUIRED" {
					output.Warning("Manual login required")
					output.Println(berr.Message)
					return errors.ErrNotAuthenticated
				}
				return err
			}
			output.Success("✓ Authenticated")

			// Repeated quote failures back off instead of hammering the API.
			brk = broker.WithCircuitBreaker(brk, broker.DefaultBreakerConfig())

			params, err := strategy.ParamsFromConfig(app.Config)
			if err != nil {
				return err
			}

			var extra []strategy.Recorder
			if listenAddr != "" {
				hub := stream.NewHub(app.Logger)
				hub.Start(ctx)
				defer hub.Stop()

				mux := http.NewServeMux()
				mux.HandleFunc("/ws", hub.ServeWS)
				srv := &http.Server{Addr: listenAddr, Handler: mux}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						app.Logger.Error().Err(err).Msg("stream server failed")
					}
				}()
				defer srv.Shutdown(context.Background())

				extra = append(extra, hub)
				output.Dim("Streaming events on ws://%s/ws", listenAddr)
			}

			session, err := trading.NewPaperSession(ctx, trading.PaperConfig{
				Symbol:           app.Config.Trading.Symbol,
				StrategyInterval: app.Config.Strategy.StrategyInterval,
				MonitorInterval:  app.Config.Strategy.MonitorInterval,
			}, params, brk, app.Store,
				expiryKind(app.Config.Strategy.Expiry),
				app.Config.Strategy.AvoidMondayTuesday,
				app.Logger, extra...)
			if err != nil {
				return err
			}

			output.Bold("Paper session on %s, capital %s",
				app.Config.Trading.Symbol, utils.FormatIndianCurrency(app.Config.Trading.Capital))
			output.Dim("Press Ctrl-C to stop.")

			err = session.Run(ctx)
			if err == context.Canceled {
				err = nil
			}

			stats := session.Ledger().Stats()
			output.Println()
			output.Bold("Session summary")
			output.Printf("  Trades:   %d (%d W / %d L)\n", stats.TotalTrades, stats.Wins, stats.Losses)
			output.Printf("  PnL:      %s\n", output.PnL(utils.FormatPnL(stats.TotalPnL), stats.TotalPnL))
			output.Printf("  Cash:     %s\n", utils.FormatIndianCurrency(stats.Cash))
			return err
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "serve live session events over WebSocket on this address (e.g. localhost:8632)")
	return cmd
}
