// Package cli provides the command-line interface for the trading application.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"oi-trader/internal/broker"
	"oi-trader/internal/config"
	"oi-trader/internal/logging"
	"oi-trader/internal/store"
	"oi-trader/pkg/utils"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Store  store.DataStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	dbPath := cfg.Data.DatabasePath
	if dbPath == "" {
		dbPath = config.DefaultConfigDir() + "/oitrader.db"
	}
	dataStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Warn().Err(err).Msg("store unavailable, history and recovery disabled")
	} else {
		app.Store = dataStore
	}

	rootCmd := &cobra.Command{
		Use:   "oitrader",
		Short: "Intraday NIFTY options trader on OI unwinding",
		Long: `oitrader trades index option momentum driven by open interest
unwinding. A single daily direction is picked from the option chain's
crowded strikes; entries require OI unwinding with price above VWAP,
and exits run through layered stops down to the forced EOD close.

It supports candle-by-candle backtests over recorded data and live
paper sessions against Zerodha or AngelOne market data.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/oi-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newAuthCmd(app))
	rootCmd.AddCommand(newBacktestCmd(app))
	rootCmd.AddCommand(newPaperCmd(app))
	rootCmd.AddCommand(newTradesCmd(app))

	return rootCmd
}

// newBroker builds the configured broker from credentials.
func (app *App) newBroker() broker.Broker {
	if app.Config.Trading.Broker == "angelone" {
		creds := app.Config.Credentials.AngelOne
		return broker.NewAngelOneBroker(broker.AngelOneConfig{
			APIKey:     creds.APIKey,
			ClientCode: creds.ClientCode,
			PIN:        creds.PIN,
			TOTPSecret: creds.TOTPSecret,
			Symbol:     app.Config.Trading.Symbol,
		})
	}
	creds := app.Config.Credentials.Zerodha
	return broker.NewZerodhaBroker(broker.ZerodhaConfig{
		APIKey:     creds.APIKey,
		APISecret:  creds.APISecret,
		UserID:     creds.UserID,
		Password:   creds.Password,
		TOTPSecret: creds.TOTPSecret,
		TokenPath:  config.DefaultConfigDir() + "/session.json",
		Symbol:     app.Config.Trading.Symbol,
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"version": Version})
			} else {
				output.Printf("oitrader v%s\n", Version)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config.Redacted())
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Trading")
	output.Printf("  Mode:       %s\n", cfg.Trading.Mode)
	output.Printf("  Broker:     %s\n", cfg.Trading.Broker)
	output.Printf("  Symbol:     %s\n", cfg.Trading.Symbol)
	output.Printf("  Capital:    %s\n", utils.FormatIndianCurrency(cfg.Trading.Capital))
	output.Println()

	s := cfg.Strategy
	output.Bold("Strategy")
	output.Printf("  Entry window:    %s - %s\n", s.EntryWindowStart, s.EntryWindowEnd)
	output.Printf("  Exit window:     %s - %s\n", s.ExitWindowStart, s.ExitWindowEnd)
	output.Printf("  Strike step:     %.0f\n", s.StrikeStep)
	output.Printf("  Initial stop:    %.0f%%\n", s.InitialStopLossPct*100)
	output.Printf("  VWAP stop:       %.0f%%\n", s.VWAPStopPct*100)
	output.Printf("  OI stop:         %.0f%%\n", s.OIIncreaseStopPct)
	output.Printf("  Trailing:        %.0f%% after %.0f%% profit\n", s.TrailingStopPct*100, s.ProfitThresholdPct*100)
	output.Printf("  Size:            %d x %d lot\n", s.Lots, s.LotSize)
	output.Printf("  Trades per day:  %d\n", s.MaxTradesPerDay)
	output.Printf("  Strict exits:    %v\n", s.StrictExits)
	output.Printf("  Expiry:          %s\n", s.Expiry)
	output.Println()

	output.Bold("Data")
	output.Printf("  Database:   %s\n", cfg.Data.DatabasePath)
	output.Printf("  Bars CSV:   %s\n", cfg.Data.BarsCSV)
	output.Printf("  Spot CSV:   %s\n", cfg.Data.SpotCSV)
}
