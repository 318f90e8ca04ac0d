package cli

import (
	"context"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"oi-trader/internal/broker"
	"oi-trader/internal/errors"
)

func newAuthCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Broker authentication",
		Long:  "Log in to the configured broker and check session state.",
	}
	cmd.AddCommand(newAuthLoginCmd(app))
	cmd.AddCommand(newAuthStatusCmd(app))
	return cmd
}

func newAuthLoginCmd(app *App) *cobra.Command {
	var requestToken string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the configured broker",
		Long: `Authenticates with the configured broker. With a TOTP secret in the
credentials file the login completes automatically; otherwise the Kite
login URL is printed and the flow finishes with --request-token.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 90*time.Second)
			defer cancel()

			brk := app.newBroker()
			defer brk.Close()

			if requestToken != "" {
				zb, ok := brk.(*broker.ZerodhaBroker)
				if !ok {
					output.Error("--request-token only applies to the zerodha broker")
					return errors.ErrConfigInvalid
				}
				if err := zb.CompleteLogin(requestToken); err != nil {
					output.Error("Login failed: %v", err)
					return err
				}
				output.Success("✓ Session established")
				return nil
			}

			err := brk.Connect(ctx)
			if err == nil {
				output.Success("✓ Authenticated with %s", app.Config.Trading.Broker)
				return nil
			}

			var berr *errors.BrokerError
			if errors.As(err, &berr) && berr.Code == "AUTH_REQUIRED" {
				output.Warning("Manual login required")
				output.Println(berr.Message)
				output.Dim("Complete with: oitrader auth login --request-token <token>")
				return nil
			}

			output.Error("Login failed: %v", err)
			return err
		},
	}

	cmd.Flags().StringVar(&requestToken, "request-token", "", "request token from the manual Kite login flow")
	return cmd
}

func newAuthStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show broker session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			brk := app.newBroker()
			defer brk.Close()

			authenticated := brk.IsAuthenticated()
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"broker":        app.Config.Trading.Broker,
					"authenticated": authenticated,
					"market_open":   brk.IsMarketOpen(),
				})
			}

			color.Cyan("🔐 Broker Session")
			output.Printf("Broker: %s\n", app.Config.Trading.Broker)
			if authenticated {
				output.Success("✓ Session active")
			} else {
				output.Warning("No active session, run: oitrader auth login")
			}
			if brk.IsMarketOpen() {
				output.Println("Market:", output.Green("OPEN"))
			} else {
				output.Println("Market:", output.Red("CLOSED"))
			}
			return nil
		},
	}
}
